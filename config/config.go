// Package config loads and validates the pipeline configuration. A
// configuration document has three component tables (sources, transforms,
// sinks) plus a handful of globals; component-specific options stay as raw
// YAML and are decoded by the component factory that owns them.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/eventflow/errors"
)

// Buffer types and overflow policies accepted in configuration.
const (
	BufferTypeMemory = "memory"
	BufferTypeDisk   = "disk"

	WhenFullBlock      = "block"
	WhenFullDropNewest = "drop_newest"
	WhenFullOverflow   = "overflow"
)

// DefaultBufferMaxEvents is the memory buffer capacity when unspecified.
const DefaultBufferMaxEvents = 500

// Config is the complete pipeline configuration.
type Config struct {
	DataDir   string    `yaml:"data_dir"`
	Timezone  string    `yaml:"timezone"`
	LogSchema LogSchema `yaml:"log_schema"`

	Sources    map[string]*SourceConfig    `yaml:"sources"`
	Transforms map[string]*TransformConfig `yaml:"transforms"`
	Sinks      map[string]*SinkConfig      `yaml:"sinks"`
}

// AckConfig toggles end-to-end acknowledgements for a component.
type AckConfig struct {
	Enabled bool `yaml:"enabled"`
}

// BufferConfig selects the buffer variant placed in front of a component.
type BufferConfig struct {
	Type      string `yaml:"type"`
	MaxEvents int    `yaml:"max_events"`
	MaxSize   uint64 `yaml:"max_size"`
	WhenFull  string `yaml:"when_full"`
}

// SourceConfig configures one source. Options retains the full YAML node so
// the source factory can decode its own fields.
type SourceConfig struct {
	Type             string    `yaml:"type"`
	Acknowledgements AckConfig `yaml:"acknowledgements"`
	Options          yaml.Node `yaml:"-"`
}

// UnmarshalYAML decodes the common fields and keeps the raw node.
func (c *SourceConfig) UnmarshalYAML(node *yaml.Node) error {
	type plain SourceConfig
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*c = SourceConfig(p)
	c.Options = *node
	return nil
}

// TransformConfig configures one transform.
type TransformConfig struct {
	Type    string       `yaml:"type"`
	Inputs  []string     `yaml:"inputs"`
	Buffer  BufferConfig `yaml:"buffer"`
	Options yaml.Node    `yaml:"-"`
}

// UnmarshalYAML decodes the common fields and keeps the raw node.
func (c *TransformConfig) UnmarshalYAML(node *yaml.Node) error {
	type plain TransformConfig
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*c = TransformConfig(p)
	c.Options = *node
	return nil
}

// SinkConfig configures one sink.
type SinkConfig struct {
	Type             string       `yaml:"type"`
	Inputs           []string     `yaml:"inputs"`
	Buffer           BufferConfig `yaml:"buffer"`
	Acknowledgements AckConfig    `yaml:"acknowledgements"`
	Options          yaml.Node    `yaml:"-"`
}

// UnmarshalYAML decodes the common fields and keeps the raw node.
func (c *SinkConfig) UnmarshalYAML(node *yaml.Node) error {
	type plain SinkConfig
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*c = SinkConfig(p)
	c.Options = *node
	return nil
}

// InputRef identifies one producer output: a bare component id addresses
// its primary output, "component.name" a named one.
type InputRef struct {
	Component string
	Output    string
}

// ParseInputRef splits an input reference into component and output name.
func ParseInputRef(s string) (InputRef, error) {
	if s == "" {
		return InputRef{}, errors.WrapConfiguration(errors.ErrInvalidConfig,
			"Config", "ParseInputRef", "empty input reference")
	}
	component, output, found := strings.Cut(s, ".")
	if component == "" || (found && output == "") {
		return InputRef{}, errors.WrapConfiguration(errors.ErrInvalidConfig,
			"Config", "ParseInputRef", fmt.Sprintf("malformed input reference %q", s))
	}
	return InputRef{Component: component, Output: output}, nil
}

// String formats the reference back into its configuration form.
func (r InputRef) String() string {
	if r.Output == "" {
		return r.Component
	}
	return r.Component + "." + r.Output
}

// Load reads and merges one or more configuration files in order. Component
// tables are unioned; colliding component ids are an error. Scalar globals
// are last-writer-wins.
func Load(paths ...string) (*Config, error) {
	if len(paths) == 0 {
		return nil, errors.WrapConfiguration(errors.ErrMissingConfig,
			"Config", "Load", "no configuration files given")
	}

	merged := &Config{
		Sources:    make(map[string]*SourceConfig),
		Transforms: make(map[string]*TransformConfig),
		Sinks:      make(map[string]*SinkConfig),
	}
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.WrapConfiguration(err, "Config", "Load", "read configuration file")
		}
		var c Config
		if err := yaml.Unmarshal(data, &c); err != nil {
			return nil, errors.WrapConfiguration(err, "Config", "Load",
				fmt.Sprintf("parse %s", path))
		}
		if err := merged.merge(&c); err != nil {
			return nil, err
		}
	}

	if err := merged.Validate(); err != nil {
		return nil, err
	}
	return merged, nil
}

func (c *Config) merge(other *Config) error {
	if other.DataDir != "" {
		c.DataDir = other.DataDir
	}
	if other.Timezone != "" {
		c.Timezone = other.Timezone
	}
	c.LogSchema.merge(other.LogSchema)

	for id, sc := range other.Sources {
		if c.componentExists(id) {
			return duplicateComponent(id)
		}
		c.Sources[id] = sc
	}
	for id, tc := range other.Transforms {
		if c.componentExists(id) {
			return duplicateComponent(id)
		}
		c.Transforms[id] = tc
	}
	for id, sc := range other.Sinks {
		if c.componentExists(id) {
			return duplicateComponent(id)
		}
		c.Sinks[id] = sc
	}
	return nil
}

func (c *Config) componentExists(id string) bool {
	if _, ok := c.Sources[id]; ok {
		return true
	}
	if _, ok := c.Transforms[id]; ok {
		return true
	}
	_, ok := c.Sinks[id]
	return ok
}

func duplicateComponent(id string) error {
	return errors.WrapConfiguration(errors.ErrInvalidConfig,
		"Config", "merge", fmt.Sprintf("component id %q defined more than once", id))
}

// Location resolves the configured timezone, defaulting to UTC.
func (c *Config) Location() (*time.Location, error) {
	switch c.Timezone {
	case "":
		return time.UTC, nil
	case "local":
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, errors.WrapConfiguration(err, "Config", "Location", "resolve timezone")
	}
	return loc, nil
}
