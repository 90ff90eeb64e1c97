// Package filter provides a predicate transform: log events that fail the
// configured condition are dropped.
package filter

import (
	"gopkg.in/yaml.v3"

	"github.com/c360/eventflow/component"
	"github.com/c360/eventflow/errors"
	"github.com/c360/eventflow/event"
	"github.com/c360/eventflow/event/path"
)

func init() {
	component.MustRegisterTransform("filter", New)
}

// Config holds the filter condition. The condition holds when the field
// exists and, if equals is set, its string value matches. Non-log events
// never match.
type Config struct {
	// Field is the path tested for presence.
	Field string `yaml:"field"`
	// Equals additionally requires the field's string value to match.
	Equals string `yaml:"equals"`
	// Invert keeps the events that fail the condition instead.
	Invert bool `yaml:"invert"`
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Field == "" {
		return errors.WrapConfiguration(errors.ErrMissingConfig, "filter", "Validate",
			"field is required")
	}
	return nil
}

// Filter passes events matching its condition and drops the rest.
type Filter struct {
	field  path.Path
	equals string
	exact  bool
	invert bool
}

// New builds a filter from its configuration node.
func New(options *yaml.Node, _ component.Dependencies) (component.Transform, error) {
	var cfg Config
	if options != nil && options.Kind != 0 {
		if err := options.Decode(&cfg); err != nil {
			return nil, errors.WrapConfiguration(err, "filter", "New", "decoding options")
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	field, err := path.Parse(cfg.Field)
	if err != nil {
		return nil, errors.WrapConfiguration(err, "filter", "New", "parsing field path")
	}
	return &Filter{
		field:  field,
		equals: cfg.Equals,
		exact:  cfg.Equals != "",
		invert: cfg.Invert,
	}, nil
}

// Outputs implements component.Transform.
func (f *Filter) Outputs() []string { return nil }

// Transform implements component.Function. A discarded event is appended
// to nothing; the pipeline resolves it as dropped.
func (f *Filter) Transform(e event.Event, out *[]event.Event) error {
	if f.matches(e) != f.invert {
		*out = append(*out, e)
	}
	return nil
}

func (f *Filter) matches(e event.Event) bool {
	log, ok := e.AsLog()
	if !ok {
		return false
	}
	v, ok := log.Get(f.field)
	if !ok {
		return false
	}
	if !f.exact {
		return true
	}
	s, ok := v.AsString()
	return ok && s == f.equals
}
