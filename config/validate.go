package config

import (
	"fmt"

	"github.com/c360/eventflow/errors"
)

// Validate checks structural coherence: component references resolve, the
// transform graph is acyclic, buffer settings are usable, and disk buffers
// have a data_dir to live in. Component-specific options are validated by
// their factories at build time.
func (c *Config) Validate() error {
	if len(c.Sources) == 0 {
		return invalid("at least one source is required")
	}
	if len(c.Sinks) == 0 {
		return invalid("at least one sink is required")
	}

	if _, err := c.Location(); err != nil {
		return err
	}

	needsDataDir := false
	for id, tc := range c.Transforms {
		if tc.Type == "" {
			return invalid(fmt.Sprintf("transform %q has no type", id))
		}
		if len(tc.Inputs) == 0 {
			return invalid(fmt.Sprintf("transform %q has no inputs", id))
		}
		if err := c.checkInputs(id, tc.Inputs); err != nil {
			return err
		}
		if err := tc.Buffer.validate(id); err != nil {
			return err
		}
		needsDataDir = needsDataDir || tc.Buffer.usesDisk()
	}
	for id, sc := range c.Sinks {
		if sc.Type == "" {
			return invalid(fmt.Sprintf("sink %q has no type", id))
		}
		if len(sc.Inputs) == 0 {
			return invalid(fmt.Sprintf("sink %q has no inputs", id))
		}
		if err := c.checkInputs(id, sc.Inputs); err != nil {
			return err
		}
		if err := sc.Buffer.validate(id); err != nil {
			return err
		}
		needsDataDir = needsDataDir || sc.Buffer.usesDisk()
	}
	for id, sc := range c.Sources {
		if sc.Type == "" {
			return invalid(fmt.Sprintf("source %q has no type", id))
		}
	}

	if needsDataDir && c.DataDir == "" {
		return invalid("data_dir is required when a disk buffer is configured")
	}

	return c.checkAcyclic()
}

func (c *Config) checkInputs(id string, inputs []string) error {
	for _, input := range inputs {
		ref, err := ParseInputRef(input)
		if err != nil {
			return err
		}
		if ref.Component == id {
			return invalid(fmt.Sprintf("component %q reads from itself", id))
		}
		if _, ok := c.Sinks[ref.Component]; ok {
			return invalid(fmt.Sprintf("component %q reads from sink %q", id, ref.Component))
		}
		if !c.componentExists(ref.Component) {
			return invalid(fmt.Sprintf("component %q reads from unknown component %q", id, ref.Component))
		}
	}
	return nil
}

// checkAcyclic walks the transform graph depth-first looking for cycles.
func (c *Config) checkAcyclic() error {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(c.Transforms))

	var visit func(id string) error
	visit = func(id string) error {
		switch state[id] {
		case visiting:
			return errors.WrapConfiguration(errors.ErrCycleDetected,
				"Config", "Validate", fmt.Sprintf("transform %q participates in a cycle", id))
		case done:
			return nil
		}
		state[id] = visiting
		for _, input := range c.Transforms[id].Inputs {
			ref, err := ParseInputRef(input)
			if err != nil {
				return err
			}
			if _, ok := c.Transforms[ref.Component]; ok {
				if err := visit(ref.Component); err != nil {
					return err
				}
			}
		}
		state[id] = done
		return nil
	}

	for id := range c.Transforms {
		if err := visit(id); err != nil {
			return err
		}
	}
	return nil
}

func (b *BufferConfig) usesDisk() bool {
	return b.Type == BufferTypeDisk || b.WhenFull == WhenFullOverflow
}

func (b *BufferConfig) validate(component string) error {
	switch b.Type {
	case "", BufferTypeMemory:
		if b.WhenFull == WhenFullOverflow && b.MaxSize == 0 {
			return invalid(fmt.Sprintf("component %q: overflow requires max_size for the disk secondary", component))
		}
		if b.MaxSize != 0 && b.WhenFull != WhenFullOverflow {
			return invalid(fmt.Sprintf("component %q: max_size applies to disk buffers only", component))
		}
	case BufferTypeDisk:
		if b.MaxSize == 0 {
			return invalid(fmt.Sprintf("component %q: disk buffer requires max_size", component))
		}
		if b.MaxEvents != 0 {
			return invalid(fmt.Sprintf("component %q: max_events applies to memory buffers only", component))
		}
		if b.WhenFull == WhenFullOverflow {
			return invalid(fmt.Sprintf("component %q: a disk buffer cannot overflow further", component))
		}
	default:
		return invalid(fmt.Sprintf("component %q: unknown buffer type %q", component, b.Type))
	}

	switch b.WhenFull {
	case "", WhenFullBlock, WhenFullDropNewest, WhenFullOverflow:
	default:
		return invalid(fmt.Sprintf("component %q: unknown when_full policy %q", component, b.WhenFull))
	}
	return nil
}

func invalid(msg string) error {
	return errors.WrapConfiguration(errors.ErrInvalidConfig, "Config", "Validate", msg)
}
