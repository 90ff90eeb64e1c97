package component

import (
	"context"
	"fmt"

	"github.com/c360/eventflow/errors"
	"github.com/c360/eventflow/event"
)

// PrimaryOutput is the implicit output every component has; configuration
// addresses it with the bare component id.
const PrimaryOutput = ""

// EventSender is one downstream destination. The topology's fanout
// satisfies it.
type EventSender interface {
	Send(ctx context.Context, e event.Event) error
}

// SourceSender is the write side handed to a running source. Sends
// back-pressure on the downstream buffers.
type SourceSender struct {
	outputs map[string]EventSender
}

// NewSourceSender wires a sender over named destinations. The map must
// contain PrimaryOutput.
func NewSourceSender(outputs map[string]EventSender) *SourceSender {
	return &SourceSender{outputs: outputs}
}

// Send delivers one event to the primary output.
func (s *SourceSender) Send(ctx context.Context, e event.Event) error {
	return s.SendTo(ctx, PrimaryOutput, e)
}

// SendTo delivers one event to a named output.
func (s *SourceSender) SendTo(ctx context.Context, output string, e event.Event) error {
	dest, ok := s.outputs[output]
	if !ok {
		return errors.Wrap(errors.ErrUnknownOutput, "SourceSender", "SendTo",
			fmt.Sprintf("output %q is not declared", output))
	}
	return dest.Send(ctx, e)
}

// SendBatch delivers a batch to the primary output, stopping at the first
// failure.
func (s *SourceSender) SendBatch(ctx context.Context, batch event.Batch) error {
	for _, e := range batch {
		if err := s.Send(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// OutputsBuf collects the events a Synchronous transform emits, keyed by
// output name. Writing to an undeclared output is a programming error and
// is reported as such.
type OutputsBuf struct {
	declared map[string]struct{}
	events   map[string][]event.Event
}

// NewOutputsBuf creates a buffer accepting the primary output plus the
// given named outputs.
func NewOutputsBuf(named ...string) *OutputsBuf {
	declared := make(map[string]struct{}, len(named)+1)
	declared[PrimaryOutput] = struct{}{}
	for _, name := range named {
		declared[name] = struct{}{}
	}
	return &OutputsBuf{
		declared: declared,
		events:   make(map[string][]event.Event),
	}
}

// Push appends an event to the primary output.
func (b *OutputsBuf) Push(e event.Event) {
	b.events[PrimaryOutput] = append(b.events[PrimaryOutput], e)
}

// PushTo appends an event to a named output.
func (b *OutputsBuf) PushTo(output string, e event.Event) error {
	if _, ok := b.declared[output]; !ok {
		return errors.WrapInternal(errors.ErrUnknownOutput, "OutputsBuf", "PushTo",
			fmt.Sprintf("output %q is not declared", output))
	}
	b.events[output] = append(b.events[output], e)
	return nil
}

// Len returns the total number of buffered events.
func (b *OutputsBuf) Len() int {
	n := 0
	for _, events := range b.events {
		n += len(events)
	}
	return n
}

// Drain empties the buffer, invoking fn per output. Used by the transform
// driver after each call.
func (b *OutputsBuf) Drain(fn func(output string, events []event.Event) error) error {
	for output, events := range b.events {
		if len(events) == 0 {
			continue
		}
		if err := fn(output, events); err != nil {
			return err
		}
		delete(b.events, output)
	}
	return nil
}
