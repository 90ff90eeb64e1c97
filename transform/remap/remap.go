// Package remap provides a field-rewriting transform for log events. It
// applies renames, then sets, then deletes. It also exposes Wrap for
// embedding an arbitrary event function as a transform.
package remap

import (
	"gopkg.in/yaml.v3"

	"github.com/c360/eventflow/component"
	"github.com/c360/eventflow/errors"
	"github.com/c360/eventflow/event"
	"github.com/c360/eventflow/event/path"
)

func init() {
	component.MustRegisterTransform("remap", New)
}

// Config holds the rewrite rules, keyed by path expressions.
type Config struct {
	// Rename moves a field from one path to another.
	Rename map[string]string `yaml:"rename"`
	// Set writes a string value at a path, creating it if absent.
	Set map[string]string `yaml:"set"`
	// Delete removes fields.
	Delete []string `yaml:"delete"`
}

type renameRule struct {
	from path.Path
	to   path.Path
}

type setRule struct {
	at    path.Path
	value event.Value
}

// Remap rewrites log events in place. Non-log events pass through
// unchanged.
type Remap struct {
	renames []renameRule
	sets    []setRule
	deletes []path.Path
}

// New builds a remap from its configuration node.
func New(options *yaml.Node, _ component.Dependencies) (component.Transform, error) {
	var cfg Config
	if options != nil && options.Kind != 0 {
		if err := options.Decode(&cfg); err != nil {
			return nil, errors.WrapConfiguration(err, "remap", "New", "decoding options")
		}
	}
	r := &Remap{}
	for from, to := range cfg.Rename {
		fromPath, err := path.Parse(from)
		if err != nil {
			return nil, badPath(from, err)
		}
		toPath, err := path.Parse(to)
		if err != nil {
			return nil, badPath(to, err)
		}
		r.renames = append(r.renames, renameRule{from: fromPath, to: toPath})
	}
	for at, value := range cfg.Set {
		atPath, err := path.Parse(at)
		if err != nil {
			return nil, badPath(at, err)
		}
		r.sets = append(r.sets, setRule{at: atPath, value: event.String(value)})
	}
	for _, del := range cfg.Delete {
		delPath, err := path.Parse(del)
		if err != nil {
			return nil, badPath(del, err)
		}
		r.deletes = append(r.deletes, delPath)
	}
	return r, nil
}

func badPath(expr string, err error) error {
	return errors.WrapConfiguration(err, "remap", "New", "parsing path "+expr)
}

// Outputs implements component.Transform.
func (r *Remap) Outputs() []string { return nil }

// Transform implements component.Function.
func (r *Remap) Transform(e event.Event, out *[]event.Event) error {
	log, ok := e.AsLog()
	if !ok {
		*out = append(*out, e)
		return nil
	}
	for _, rule := range r.renames {
		if v, found := log.Remove(rule.from); found {
			if err := log.Insert(rule.to, v); err != nil {
				return err
			}
		}
	}
	for _, rule := range r.sets {
		if err := log.Insert(rule.at, rule.value); err != nil {
			return err
		}
	}
	for _, del := range r.deletes {
		log.Remove(del)
	}
	*out = append(*out, e)
	return nil
}

// Func rewrites one event into another. Returning an error rejects the
// event; returning a zero event drops it.
type Func func(event.Event) (event.Event, error)

// Wrapped adapts a Func to the transform contract, for programmatic
// pipelines.
type Wrapped struct {
	fn Func
}

// Wrap builds a transform around fn.
func Wrap(fn Func) *Wrapped {
	return &Wrapped{fn: fn}
}

// Outputs implements component.Transform.
func (w *Wrapped) Outputs() []string { return nil }

// Transform implements component.Function.
func (w *Wrapped) Transform(e event.Event, out *[]event.Event) error {
	mapped, err := w.fn(e)
	if err != nil {
		return err
	}
	if mapped.IsZero() {
		return nil
	}
	*out = append(*out, mapped)
	return nil
}
