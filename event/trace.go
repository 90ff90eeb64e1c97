package event

import (
	"github.com/c360/eventflow/event/path"
)

// TraceEvent is a span record. It shares the log event representation; the
// field names below are the span semantics layered on top.
type TraceEvent struct {
	LogEvent
}

// Standard span field paths.
var (
	SpanNamePath     = path.MustParse(".name")
	SpanTraceIDPath  = path.MustParse(".trace_id")
	SpanSpanIDPath   = path.MustParse(".span_id")
	SpanParentIDPath = path.MustParse(".parent_id")
	SpanStartPath    = path.MustParse(".start")
	SpanEndPath      = path.MustParse(".end")
)

// NewTraceEvent creates an empty trace event.
func NewTraceEvent() *TraceEvent {
	return &TraceEvent{LogEvent: *NewLogEvent()}
}

// TraceFromObject creates a trace event with the given root object.
func TraceFromObject(o *Object) *TraceEvent {
	return &TraceEvent{LogEvent: *LogFromObject(o)}
}

// Clone deep-copies the trace event.
func (t *TraceEvent) Clone() *TraceEvent {
	return &TraceEvent{LogEvent: *t.LogEvent.Clone()}
}
