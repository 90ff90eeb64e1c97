// Package component defines the three contracts the pipeline exposes to
// collaborators: sources produce events, transforms reshape them, sinks
// deliver them. Concrete implementations register factories here and are
// instantiated by the topology from configuration.
package component

import (
	"context"
	"log/slog"
	"time"

	"github.com/c360/eventflow/config"
	"github.com/c360/eventflow/event"
	"github.com/c360/eventflow/metric"
)

// Kind distinguishes the three component roles.
type Kind int

const (
	// KindSource produces events from an external transport.
	KindSource Kind = iota
	// KindTransform consumes and emits events inside the pipeline.
	KindTransform
	// KindSink delivers events to an external endpoint.
	KindSink
)

// String returns the configuration-facing name of the kind.
func (k Kind) String() string {
	switch k {
	case KindSource:
		return "source"
	case KindTransform:
		return "transform"
	case KindSink:
		return "sink"
	default:
		return "unknown"
	}
}

// Dependencies carries the ambient services a factory may need. All fields
// are set by the topology before any factory runs.
type Dependencies struct {
	Logger           *slog.Logger
	Metrics          *metric.Registry
	Schema           config.ResolvedSchema
	Timezone         *time.Location
	DataDir          string
	Acknowledgements bool
}

// Source reads from a transport and feeds the pipeline. Run blocks until
// the shutdown signal is requested (graceful, drain first) or the context
// is cancelled (hard abort).
type Source interface {
	Run(ctx context.Context, out *SourceSender, shutdown *ShutdownSignal) error
}

// Function is the stateless transform shape: one event in, zero or more
// events appended to out. It may run concurrently across a worker pool.
type Function interface {
	Transform(e event.Event, out *[]event.Event) error
}

// Synchronous is the routing transform shape: like Function, but it can
// write to the named outputs declared in configuration.
type Synchronous interface {
	TransformSync(e event.Event, out *OutputsBuf) error
}

// Task is the stateful transform shape: it owns its input stream and may
// buffer, batch, or aggregate across time. Run must drain in and close out
// before returning.
type Task interface {
	RunTask(ctx context.Context, in <-chan event.Event, out chan<- event.Event) error
}

// Transform is implemented by every transform and reports the extra named
// outputs it can route to; the driver picks behavior from whichever of
// Function, Synchronous, or Task the value also implements.
type Transform interface {
	Outputs() []string
}

// Sink consumes events from its input channel and delivers them to an
// external endpoint, driving each event's finalizers to a terminal status.
// Retrying is the sink's own business; it must not re-enter the pipeline.
type Sink interface {
	Run(ctx context.Context, in <-chan event.Event) error

	// Healthcheck probes the external endpoint. It is called once before
	// the sink starts.
	Healthcheck(ctx context.Context) error
}
