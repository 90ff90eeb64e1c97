// Package aggregate provides a stateful transform that merges incremental
// metrics per series over a flush interval. Absolute metrics and non-metric
// events pass through untouched.
package aggregate

import (
	"context"
	"log/slog"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/eventflow/component"
	"github.com/c360/eventflow/errors"
	"github.com/c360/eventflow/event"
)

func init() {
	component.MustRegisterTransform("aggregate", New)
}

// DefaultInterval is the flush interval when unconfigured.
const DefaultInterval = 10 * time.Second

// Config holds the aggregation settings.
type Config struct {
	// IntervalMS is the flush interval in milliseconds.
	IntervalMS int `yaml:"interval_ms"`
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.IntervalMS < 0 {
		return errors.WrapConfiguration(errors.ErrInvalidConfig, "aggregate", "Validate",
			"interval_ms cannot be negative")
	}
	return nil
}

// Aggregate accumulates incremental metrics by series key and emits one
// merged metric per series on each flush. Merging unions the inputs'
// finalizers, so every upstream acknowledgement follows the merged event.
type Aggregate struct {
	interval time.Duration
	logger   *slog.Logger
}

// New builds an aggregate transform from its configuration node.
func New(options *yaml.Node, deps component.Dependencies) (component.Transform, error) {
	var cfg Config
	if options != nil && options.Kind != 0 {
		if err := options.Decode(&cfg); err != nil {
			return nil, errors.WrapConfiguration(err, "aggregate", "New", "decoding options")
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	interval := DefaultInterval
	if cfg.IntervalMS > 0 {
		interval = time.Duration(cfg.IntervalMS) * time.Millisecond
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregate{interval: interval, logger: logger}, nil
}

// Outputs implements component.Transform.
func (a *Aggregate) Outputs() []string { return nil }

// RunTask implements component.Task. It drains in, emits on interval ticks,
// and flushes the remainder when the input closes.
func (a *Aggregate) RunTask(ctx context.Context, in <-chan event.Event, out chan<- event.Event) error {
	defer close(out)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	acc := make(map[string]*event.Metric)
	var order []string

	flush := func() error {
		for _, key := range order {
			if err := send(ctx, out, event.FromMetric(acc[key])); err != nil {
				return err
			}
			delete(acc, key)
		}
		order = order[:0]
		return nil
	}
	abandon := func() {
		for _, key := range order {
			event.FromMetric(acc[key]).Finalize(event.StatusErrored)
		}
	}

	for {
		select {
		case e, ok := <-in:
			if !ok {
				return flush()
			}
			if a.absorb(acc, &order, e) {
				if err := send(ctx, out, e); err != nil {
					abandon()
					return err
				}
			}
		case <-ticker.C:
			if err := flush(); err != nil {
				abandon()
				return err
			}
		case <-ctx.Done():
			abandon()
			return ctx.Err()
		}
	}
}

// absorb folds an incremental metric into the accumulator. It reports true
// when the event should pass through instead.
func (a *Aggregate) absorb(acc map[string]*event.Metric, order *[]string, e event.Event) bool {
	m, isMetric := e.AsMetric()
	if !isMetric || m.Data.Kind != event.KindIncremental {
		return true
	}
	key := m.SeriesKey()
	existing, ok := acc[key]
	if !ok {
		m.WithInterval(a.interval)
		acc[key] = m
		*order = append(*order, key)
		return false
	}
	if err := existing.Add(m); err != nil {
		// Same series key but a different value variant. Let the
		// newcomer through rather than lose it.
		a.logger.Warn("unmergeable metric, passing through",
			"series", m.Series.Name, "error", err)
		return true
	}
	return false
}

func send(ctx context.Context, out chan<- event.Event, e event.Event) error {
	select {
	case out <- e:
		return nil
	case <-ctx.Done():
		e.Finalize(event.StatusErrored)
		return ctx.Err()
	}
}
