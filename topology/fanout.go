package topology

import (
	"context"
	stderrors "errors"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/c360/eventflow/component"
	"github.com/c360/eventflow/errors"
	"github.com/c360/eventflow/event"
	"github.com/c360/eventflow/metric"
)

// Fanout multiplexes one producer output to any number of named consumers.
// Reconfiguration takes effect at item boundaries: every dispatch works
// against a copy-on-write snapshot of the consumer set taken at the top of
// Send, so adding or removing a consumer can never tear a partially
// delivered item.
//
// There is deliberately no queue inside the fanout. When a consumer's
// buffer blocks, Send blocks, and the back-pressure reaches the producer
// so it can stop reading from its transport.
type Fanout struct {
	output  string
	logger  *slog.Logger
	metrics *fanoutMetrics

	mu        sync.Mutex // serializes control operations; Send only reads the snapshot
	consumers atomic.Pointer[[]*consumer]
}

type consumer struct {
	name   string
	sender component.EventSender
	paused atomic.Bool

	// removed is cancelled when the consumer is deregistered so that an
	// in-flight blocked Send to it unwinds immediately.
	removed context.Context
	cancel  context.CancelFunc
}

// FanoutOption configures a fanout.
type FanoutOption func(*Fanout)

// WithFanoutLogger sets the logger used for delivery diagnostics.
func WithFanoutLogger(logger *slog.Logger) FanoutOption {
	return func(f *Fanout) { f.logger = logger }
}

// WithFanoutMetrics registers dispatch metrics for this fanout.
func WithFanoutMetrics(registry *metric.Registry) FanoutOption {
	return func(f *Fanout) {
		m, err := newFanoutMetrics(registry, f.output)
		if err != nil {
			f.logger.Warn("fanout metrics disabled", "output", f.output, "error", err)
			return
		}
		f.metrics = m
	}
}

// NewFanout creates a fanout for the named producer output.
func NewFanout(output string, opts ...FanoutOption) *Fanout {
	f := &Fanout{
		output: output,
		logger: slog.Default(),
	}
	empty := make([]*consumer, 0)
	f.consumers.Store(&empty)
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Output returns the producer output this fanout dispatches for.
func (f *Fanout) Output() string {
	return f.output
}

// Add registers a consumer under a unique name. The consumer observes
// every Send that starts after Add returns.
func (f *Fanout) Add(name string, sender component.EventSender) {
	f.mu.Lock()
	defer f.mu.Unlock()

	removed, cancel := context.WithCancel(context.Background())
	next := append(slices.Clone(*f.consumers.Load()), &consumer{
		name:    name,
		sender:  sender,
		removed: removed,
		cancel:  cancel,
	})
	f.consumers.Store(&next)
	f.metrics.setConsumers(len(next))
}

// Remove deregisters a consumer. Items already accepted by the consumer's
// buffer are not revoked; an in-flight blocked delivery to it is abandoned
// so the producer unblocks. Reports whether the name was registered.
func (f *Fanout) Remove(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	current := *f.consumers.Load()
	idx := slices.IndexFunc(current, func(c *consumer) bool { return c.name == name })
	if idx < 0 {
		return false
	}
	current[idx].cancel()
	next := slices.Clone(current)
	next = slices.Delete(next, idx, idx+1)
	f.consumers.Store(&next)
	f.metrics.setConsumers(len(next))
	return true
}

// Pause skips the named consumer on subsequent dispatches until Resume.
// Used during reload to keep a slow consumer from head-of-line blocking
// the rest of the graph.
func (f *Fanout) Pause(name string) bool {
	return f.setPaused(name, true)
}

// Resume undoes Pause.
func (f *Fanout) Resume(name string) bool {
	return f.setPaused(name, false)
}

func (f *Fanout) setPaused(name string, paused bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range *f.consumers.Load() {
		if c.name == name {
			c.paused.Store(paused)
			return true
		}
	}
	return false
}

// ConsumerNames returns the registered consumer names.
func (f *Fanout) ConsumerNames() []string {
	names := make([]string, 0)
	for _, c := range *f.consumers.Load() {
		names = append(names, c.name)
	}
	return names
}

// Send delivers the event to every registered, non-paused consumer,
// cloning it once per additional consumer. With no consumers the event is
// finalized Dropped so its notifiers still resolve.
func (f *Fanout) Send(ctx context.Context, e event.Event) error {
	snapshot := *f.consumers.Load()
	active := make([]*consumer, 0, len(snapshot))
	for _, c := range snapshot {
		if !c.paused.Load() && c.removed.Err() == nil {
			active = append(active, c)
		}
	}
	if len(active) == 0 {
		e.Finalize(event.StatusDropped)
		f.metrics.recordDrop(1)
		return nil
	}

	// Clone up front: delivery may resolve the original's finalizers.
	items := make([]event.Event, len(active))
	items[0] = e
	for i := 1; i < len(active); i++ {
		items[i] = e.Clone()
	}

	for i, c := range active {
		if err := f.deliver(ctx, c, items[i]); err != nil {
			for _, rest := range items[i+1:] {
				rest.Finalize(event.StatusDropped)
			}
			return err
		}
	}
	f.metrics.recordSend(1)
	return nil
}

// deliver sends one item to one consumer, unwinding early if the consumer
// is removed while the send is blocked. A removal or closed buffer is not
// an error for the producer; the abandoned copy is finalized Dropped.
func (f *Fanout) deliver(ctx context.Context, c *consumer, e event.Event) error {
	sendCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.removed, cancel)
	defer stop()

	err := c.sender.Send(sendCtx, e)
	switch {
	case err == nil:
		return nil
	case c.removed.Err() != nil && ctx.Err() == nil:
		e.Finalize(event.StatusDropped)
		f.metrics.recordDrop(1)
		return nil
	case stderrors.Is(err, errors.ErrBufferClosed):
		e.Finalize(event.StatusDropped)
		f.metrics.recordDrop(1)
		f.logger.Warn("fanout consumer buffer closed",
			"output", f.output, "consumer", c.name)
		return nil
	default:
		return err
	}
}
