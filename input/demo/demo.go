// Package demo provides a self-contained source that fabricates log or
// metric events at a fixed rate, for exercising a pipeline without an
// external transport.
package demo

import (
	"context"
	"os"
	"time"

	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/c360/eventflow/component"
	"github.com/c360/eventflow/config"
	"github.com/c360/eventflow/errors"
	"github.com/c360/eventflow/event"
)

func init() {
	component.MustRegisterSource("demo", New)
}

// Event formats the generator can produce.
const (
	FormatLog    = "log"
	FormatMetric = "metric"
)

// Config holds the generator settings.
type Config struct {
	// Rate is the emission rate in events per second.
	Rate float64 `yaml:"rate"`
	// Count caps the number of events produced; zero means unlimited.
	Count int `yaml:"count"`
	// Format selects log or metric events.
	Format string `yaml:"format"`
	// Message is the log message body for log events.
	Message string `yaml:"message"`
}

// DefaultConfig returns the generator defaults.
func DefaultConfig() Config {
	return Config{
		Rate:    10,
		Format:  FormatLog,
		Message: "demo event",
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Rate <= 0 {
		return errors.WrapConfiguration(errors.ErrInvalidConfig, "demo", "Validate",
			"rate must be positive")
	}
	if c.Count < 0 {
		return errors.WrapConfiguration(errors.ErrInvalidConfig, "demo", "Validate",
			"count cannot be negative")
	}
	switch c.Format {
	case FormatLog, FormatMetric:
	default:
		return errors.WrapConfiguration(errors.ErrInvalidConfig, "demo", "Validate",
			"format must be log or metric")
	}
	return nil
}

// Source emits fabricated events until its count is exhausted, shutdown is
// requested, or the context is cancelled.
type Source struct {
	cfg     Config
	schema  config.ResolvedSchema
	host    string
	limiter *rate.Limiter
}

// New builds a demo source from its configuration node.
func New(options *yaml.Node, deps component.Dependencies) (component.Source, error) {
	cfg := DefaultConfig()
	if options != nil && options.Kind != 0 {
		if err := options.Decode(&cfg); err != nil {
			return nil, errors.WrapConfiguration(err, "demo", "New", "decoding options")
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	host, _ := os.Hostname()
	return &Source{
		cfg:     cfg,
		schema:  deps.Schema,
		host:    host,
		limiter: rate.NewLimiter(rate.Limit(cfg.Rate), 1),
	}, nil
}

// Run implements component.Source.
func (s *Source) Run(ctx context.Context, out *component.SourceSender, shutdown *component.ShutdownSignal) error {
	for n := 0; s.cfg.Count == 0 || n < s.cfg.Count; n++ {
		select {
		case <-shutdown.Requested():
			return nil
		default:
		}
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
		if err := out.Send(ctx, s.next(n)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Source) next(n int) event.Event {
	var e event.Event
	if s.cfg.Format == FormatMetric {
		m := event.NewMetric("events_generated", event.KindIncremental, event.Counter{Value: 1}).
			WithNamespace("demo").
			WithTag("host", s.host).
			WithTimestamp(time.Now())
		e = event.FromMetric(m)
	} else {
		log := event.NewLogEvent()
		fields := log.Fields()
		fields.Set(s.schema.MessageKey(), event.String(s.cfg.Message))
		fields.Set(s.schema.HostKey(), event.String(s.host))
		fields.Set(s.schema.TimestampKey(), event.Timestamp(time.Now().UTC()))
		fields.Set(s.schema.SourceTypeKey(), event.String("demo"))
		fields.Set("sequence", event.Int(int64(n)))
		e = event.FromLog(log)
	}
	e.Metadata().SetSourceID("demo")
	return e
}
