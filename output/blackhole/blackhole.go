// Package blackhole provides a sink that acknowledges and discards every
// event, optionally reporting throughput.
package blackhole

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/eventflow/component"
	"github.com/c360/eventflow/errors"
	"github.com/c360/eventflow/event"
)

func init() {
	component.MustRegisterSink("blackhole", New)
}

// Config holds the blackhole settings.
type Config struct {
	// PrintIntervalSecs logs the running total this often; zero disables
	// reporting.
	PrintIntervalSecs int `yaml:"print_interval_secs"`
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.PrintIntervalSecs < 0 {
		return errors.WrapConfiguration(errors.ErrInvalidConfig, "blackhole", "Validate",
			"print_interval_secs cannot be negative")
	}
	return nil
}

// Sink discards events, driving their finalizers to delivered.
type Sink struct {
	cfg    Config
	logger *slog.Logger
	total  atomic.Uint64
}

// New builds a blackhole sink from its configuration node.
func New(options *yaml.Node, deps component.Dependencies) (component.Sink, error) {
	var cfg Config
	if options != nil && options.Kind != 0 {
		if err := options.Decode(&cfg); err != nil {
			return nil, errors.WrapConfiguration(err, "blackhole", "New", "decoding options")
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{cfg: cfg, logger: logger}, nil
}

// Total returns the number of events discarded so far.
func (s *Sink) Total() uint64 {
	return s.total.Load()
}

// Run implements component.Sink.
func (s *Sink) Run(ctx context.Context, in <-chan event.Event) error {
	var report <-chan time.Time
	if s.cfg.PrintIntervalSecs > 0 {
		ticker := time.NewTicker(time.Duration(s.cfg.PrintIntervalSecs) * time.Second)
		defer ticker.Stop()
		report = ticker.C
	}

	for {
		select {
		case e, ok := <-in:
			if !ok {
				return nil
			}
			e.Finalize(event.StatusDelivered)
			s.total.Add(1)
		case <-report:
			s.logger.Info("blackhole throughput", "total", s.total.Load())
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Healthcheck implements component.Sink.
func (s *Sink) Healthcheck(context.Context) error {
	return nil
}
