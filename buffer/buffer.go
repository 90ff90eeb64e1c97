// Package buffer provides the bounded queues that sit between pipeline
// stages. Two variants share one interface: an in-memory channel-backed
// queue bounded by event count, and a crash-safe on-disk log bounded by
// bytes (package buffer/disk). An overflow chain composes the two.
//
// Buffers transport finalizers, they do not resolve them. The only
// exceptions are the DropNewest overflow policy, which marks refused items
// Dropped, and disk decode failures, which mark items Rejected.
package buffer

import (
	"context"

	"github.com/c360/eventflow/event"
)

// Item is the contract for anything a buffer can transport.
type Item interface {
	// EventCount returns the number of events the item represents.
	EventCount() int
	// EncodedSize returns the native-encoding size, if computable.
	EncodedSize() (int, bool)
	// AddBatchNotifier attaches a finalizer referencing the notifier to the
	// item. Buffers use this to track their own acknowledgement frontier.
	AddBatchNotifier(*event.BatchNotifier)
	// Finalize resolves all attached finalizers with the status.
	Finalize(event.EventStatus)
}

// OverflowPolicy defines how a buffer behaves when it reaches capacity.
type OverflowPolicy int

const (
	// Block suspends the producer until space is available.
	Block OverflowPolicy = iota
	// DropNewest discards the incoming item, marks its finalizers Dropped,
	// and bumps the drop counter.
	DropNewest
	// Overflow hands the incoming item to a secondary buffer, typically disk
	// behind memory.
	Overflow
)

// String returns a human-readable representation of the overflow policy.
func (p OverflowPolicy) String() string {
	switch p {
	case Block:
		return "block"
	case DropNewest:
		return "drop_newest"
	case Overflow:
		return "overflow"
	default:
		return "unknown"
	}
}

// Buffer is the single public interface shared by all variants.
type Buffer[T Item] interface {
	// Send enqueues an item, honoring the overflow policy. Block policy
	// suspends until space or context cancellation.
	Send(ctx context.Context, item T) error

	// TrySend enqueues without blocking; a full Block-policy buffer returns
	// ErrBufferFull.
	TrySend(item T) error

	// Recv dequeues the next item, blocking until one is available, the
	// context is cancelled, or the buffer is closed and drained.
	Recv(ctx context.Context) (T, error)

	// TryRecv dequeues without blocking.
	TryRecv() (T, bool)

	// Len returns the current queue depth in items.
	Len() int

	// Stats returns buffer statistics, always collected for observability.
	Stats() *Statistics

	// Close shuts down the buffer. Items already enqueued remain readable.
	Close() error
}
