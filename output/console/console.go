// Package console provides a sink that writes events to stdout or stderr,
// one per line.
package console

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/c360/eventflow/component"
	"github.com/c360/eventflow/errors"
	"github.com/c360/eventflow/event"
)

func init() {
	component.MustRegisterSink("console", New)
}

// Output encodings.
const (
	FormatJSON = "json"
	FormatText = "text"
)

// Config holds the console sink settings.
type Config struct {
	// Format selects json (one document per line) or text (Event.String).
	Format string `yaml:"format"`
	// Target selects stdout or stderr.
	Target string `yaml:"target"`
}

// DefaultConfig returns the console defaults.
func DefaultConfig() Config {
	return Config{Format: FormatJSON, Target: "stdout"}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.Format {
	case FormatJSON, FormatText:
	default:
		return errors.WrapConfiguration(errors.ErrInvalidConfig, "console", "Validate",
			"format must be json or text")
	}
	switch c.Target {
	case "stdout", "stderr":
	default:
		return errors.WrapConfiguration(errors.ErrInvalidConfig, "console", "Validate",
			"target must be stdout or stderr")
	}
	return nil
}

// Sink writes each event to the configured stream and finalizes it.
type Sink struct {
	cfg Config
	w   io.Writer
}

// New builds a console sink from its configuration node.
func New(options *yaml.Node, _ component.Dependencies) (component.Sink, error) {
	cfg := DefaultConfig()
	if options != nil && options.Kind != 0 {
		if err := options.Decode(&cfg); err != nil {
			return nil, errors.WrapConfiguration(err, "console", "New", "decoding options")
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	w := io.Writer(os.Stdout)
	if cfg.Target == "stderr" {
		w = os.Stderr
	}
	return &Sink{cfg: cfg, w: w}, nil
}

// Run implements component.Sink.
func (s *Sink) Run(ctx context.Context, in <-chan event.Event) error {
	bw := bufio.NewWriter(s.w)
	defer bw.Flush()

	for {
		select {
		case e, ok := <-in:
			if !ok {
				return nil
			}
			if err := s.write(bw, e); err != nil {
				e.Finalize(event.StatusErrored)
				return errors.WrapEncode(err, "console", "Run", "writing event")
			}
			e.Finalize(event.StatusDelivered)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Sink) write(bw *bufio.Writer, e event.Event) error {
	var line []byte
	if s.cfg.Format == FormatText {
		line = []byte(e.String())
	} else {
		var err error
		line, err = json.Marshal(e)
		if err != nil {
			return err
		}
	}
	if _, err := bw.Write(line); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	return bw.Flush()
}

// Healthcheck implements component.Sink. The local stream is always
// writable.
func (s *Sink) Healthcheck(context.Context) error {
	return nil
}
