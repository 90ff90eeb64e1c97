package component

import (
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/c360/eventflow/errors"
)

// SourceFactory builds a source from its raw configuration node.
type SourceFactory func(options *yaml.Node, deps Dependencies) (Source, error)

// TransformFactory builds a transform from its raw configuration node.
type TransformFactory func(options *yaml.Node, deps Dependencies) (Transform, error)

// SinkFactory builds a sink from its raw configuration node.
type SinkFactory func(options *yaml.Node, deps Dependencies) (Sink, error)

// Registry maps configuration type tags to component factories.
type Registry struct {
	mu         sync.RWMutex
	sources    map[string]SourceFactory
	transforms map[string]TransformFactory
	sinks      map[string]SinkFactory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sources:    make(map[string]SourceFactory),
		transforms: make(map[string]TransformFactory),
		sinks:      make(map[string]SinkFactory),
	}
}

// RegisterSource registers a source factory under its type tag.
func (r *Registry) RegisterSource(typeTag string, factory SourceFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sources[typeTag]; exists {
		return duplicateFactory(KindSource, typeTag)
	}
	r.sources[typeTag] = factory
	return nil
}

// RegisterTransform registers a transform factory under its type tag.
func (r *Registry) RegisterTransform(typeTag string, factory TransformFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.transforms[typeTag]; exists {
		return duplicateFactory(KindTransform, typeTag)
	}
	r.transforms[typeTag] = factory
	return nil
}

// RegisterSink registers a sink factory under its type tag.
func (r *Registry) RegisterSink(typeTag string, factory SinkFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sinks[typeTag]; exists {
		return duplicateFactory(KindSink, typeTag)
	}
	r.sinks[typeTag] = factory
	return nil
}

// NewSource instantiates a source of the given type.
func (r *Registry) NewSource(typeTag string, options *yaml.Node, deps Dependencies) (Source, error) {
	r.mu.RLock()
	factory, ok := r.sources[typeTag]
	r.mu.RUnlock()
	if !ok {
		return nil, unknownFactory(KindSource, typeTag)
	}
	return factory(options, deps)
}

// NewTransform instantiates a transform of the given type.
func (r *Registry) NewTransform(typeTag string, options *yaml.Node, deps Dependencies) (Transform, error) {
	r.mu.RLock()
	factory, ok := r.transforms[typeTag]
	r.mu.RUnlock()
	if !ok {
		return nil, unknownFactory(KindTransform, typeTag)
	}
	return factory(options, deps)
}

// NewSink instantiates a sink of the given type.
func (r *Registry) NewSink(typeTag string, options *yaml.Node, deps Dependencies) (Sink, error) {
	r.mu.RLock()
	factory, ok := r.sinks[typeTag]
	r.mu.RUnlock()
	if !ok {
		return nil, unknownFactory(KindSink, typeTag)
	}
	return factory(options, deps)
}

func duplicateFactory(kind Kind, typeTag string) error {
	return errors.WrapConfiguration(errors.ErrInvalidConfig, "Registry", "Register",
		fmt.Sprintf("%s type %q already registered", kind, typeTag))
}

func unknownFactory(kind Kind, typeTag string) error {
	return errors.WrapConfiguration(errors.ErrUnknownComponent, "Registry", "New",
		fmt.Sprintf("no %s registered for type %q", kind, typeTag))
}

// DefaultRegistry is where concrete components register themselves at init
// time.
var DefaultRegistry = NewRegistry()

// MustRegisterSource registers with DefaultRegistry and panics on
// collision. For init-time use.
func MustRegisterSource(typeTag string, factory SourceFactory) {
	if err := DefaultRegistry.RegisterSource(typeTag, factory); err != nil {
		panic(err)
	}
}

// MustRegisterTransform registers with DefaultRegistry and panics on
// collision. For init-time use.
func MustRegisterTransform(typeTag string, factory TransformFactory) {
	if err := DefaultRegistry.RegisterTransform(typeTag, factory); err != nil {
		panic(err)
	}
}

// MustRegisterSink registers with DefaultRegistry and panics on collision.
// For init-time use.
func MustRegisterSink(typeTag string, factory SinkFactory) {
	if err := DefaultRegistry.RegisterSink(typeTag, factory); err != nil {
		panic(err)
	}
}
