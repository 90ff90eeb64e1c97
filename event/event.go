package event

import "fmt"

// Event is the unit of data flowing through the pipeline: a log, a metric,
// or a trace.
type Event struct {
	log    *LogEvent
	metric *Metric
	trace  *TraceEvent
}

// FromLog wraps a log event.
func FromLog(l *LogEvent) Event {
	return Event{log: l}
}

// FromMetric wraps a metric.
func FromMetric(m *Metric) Event {
	return Event{metric: m}
}

// FromTrace wraps a trace event.
func FromTrace(t *TraceEvent) Event {
	return Event{trace: t}
}

// IsZero reports whether the event holds no variant.
func (e Event) IsZero() bool {
	return e.log == nil && e.metric == nil && e.trace == nil
}

// AsLog returns the log variant.
func (e Event) AsLog() (*LogEvent, bool) {
	return e.log, e.log != nil
}

// AsMetric returns the metric variant.
func (e Event) AsMetric() (*Metric, bool) {
	return e.metric, e.metric != nil
}

// AsTrace returns the trace variant.
func (e Event) AsTrace() (*TraceEvent, bool) {
	return e.trace, e.trace != nil
}

// VariantName returns "log", "metric", or "trace".
func (e Event) VariantName() string {
	switch {
	case e.log != nil:
		return "log"
	case e.metric != nil:
		return "metric"
	case e.trace != nil:
		return "trace"
	default:
		return "none"
	}
}

// Metadata returns the variant's metadata. Panics on a zero event; events
// without a variant must never enter the pipeline.
func (e Event) Metadata() *Metadata {
	switch {
	case e.log != nil:
		return e.log.Metadata()
	case e.metric != nil:
		return e.metric.Metadata()
	case e.trace != nil:
		return e.trace.Metadata()
	default:
		panic("event: Metadata on zero event")
	}
}

// AddBatchNotifier attaches a finalizer referencing the notifier.
func (e Event) AddBatchNotifier(n *BatchNotifier) {
	e.Metadata().AddBatchNotifier(n)
}

// Finalize updates every attached finalizer with status and finishes them.
// Call exactly once at the event's terminal point.
func (e Event) Finalize(s EventStatus) {
	fs := e.Metadata().TakeFinalizers()
	fs.Update(s)
	fs.Done()
}

// Clone deep-copies the event. Finalizers on the clone reference the same
// batch notifiers.
func (e Event) Clone() Event {
	switch {
	case e.log != nil:
		return Event{log: e.log.Clone()}
	case e.metric != nil:
		return Event{metric: e.metric.Clone()}
	case e.trace != nil:
		return Event{trace: e.trace.Clone()}
	default:
		return Event{}
	}
}

// Equal reports payload equality. Metadata is not compared.
func (e Event) Equal(other Event) bool {
	switch {
	case e.log != nil:
		return other.log != nil && e.log.Equal(other.log)
	case e.metric != nil:
		return other.metric != nil && e.metric.Equal(other.metric)
	case e.trace != nil:
		return other.trace != nil && e.trace.LogEvent.Equal(&other.trace.LogEvent)
	default:
		return other.IsZero()
	}
}

// EventCount implements the buffer item contract; a single event counts one.
func (e Event) EventCount() int {
	return 1
}

// EncodedSize returns the native-encoding size of the event.
func (e Event) EncodedSize() (int, bool) {
	b, err := e.Encode()
	if err != nil {
		return 0, false
	}
	return len(b), true
}

// String implements fmt.Stringer for diagnostics.
func (e Event) String() string {
	switch {
	case e.log != nil:
		return fmt.Sprintf("log%s", e.log.Fields().String())
	case e.metric != nil:
		return fmt.Sprintf("metric{%s %s}", e.metric.Series.Name, e.metric.Data.Kind)
	case e.trace != nil:
		return fmt.Sprintf("trace%s", e.trace.Fields().String())
	default:
		return "event{}"
	}
}

// Batch is an ordered collection of events moving through a buffer together.
type Batch []Event

// EventCount implements the buffer item contract.
func (b Batch) EventCount() int {
	return len(b)
}

// EncodedSize sums the encoded sizes of the batch's events.
func (b Batch) EncodedSize() (int, bool) {
	total := 0
	for _, e := range b {
		n, ok := e.EncodedSize()
		if !ok {
			return 0, false
		}
		total += n
	}
	return total, true
}

// AddBatchNotifier attaches a finalizer referencing the notifier to every
// event in the batch.
func (b Batch) AddBatchNotifier(n *BatchNotifier) {
	for _, e := range b {
		e.AddBatchNotifier(n)
	}
}

// Finalize finalizes every event in the batch with status.
func (b Batch) Finalize(s EventStatus) {
	for _, e := range b {
		e.Finalize(s)
	}
}

// Clone deep-copies the batch.
func (b Batch) Clone() Batch {
	out := make(Batch, len(b))
	for i, e := range b {
		out[i] = e.Clone()
	}
	return out
}
