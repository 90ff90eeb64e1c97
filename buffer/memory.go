package buffer

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/c360/eventflow/errors"
	"github.com/c360/eventflow/event"
	"github.com/c360/eventflow/metric"
)

// Memory is a channel-backed buffer bounded by item count. It supports the
// Block and DropNewest policies; the Overflow policy is provided by Chain,
// which composes a Memory primary with a secondary buffer.
type Memory[T Item] struct {
	ch      chan T
	policy  OverflowPolicy
	stats   *Statistics
	metrics *bufferMetrics

	closed    atomic.Bool
	closeCh   chan struct{}
	closeOnce sync.Once
}

// MemoryOption configures a Memory buffer.
type MemoryOption[T Item] func(*Memory[T]) error

// WithPolicy sets the overflow policy. The default is Block.
func WithPolicy[T Item](policy OverflowPolicy) MemoryOption[T] {
	return func(b *Memory[T]) error {
		if policy == Overflow {
			return errors.WrapConfiguration(errors.ErrInvalidConfig,
				"Memory", "WithPolicy", "overflow policy requires a Chain")
		}
		b.policy = policy
		return nil
	}
}

// WithMetrics registers Prometheus metrics for the buffer under the
// component name.
func WithMetrics[T Item](registry *metric.Registry, component string) MemoryOption[T] {
	return func(b *Memory[T]) error {
		m, err := newBufferMetrics(registry, component)
		if err != nil {
			return err
		}
		b.metrics = m
		return nil
	}
}

// NewMemory creates a memory buffer holding at most maxEvents items.
func NewMemory[T Item](maxEvents int, opts ...MemoryOption[T]) (*Memory[T], error) {
	if maxEvents <= 0 {
		return nil, errors.WrapConfiguration(errors.ErrInvalidConfig,
			"Memory", "NewMemory", "max events must be positive")
	}
	b := &Memory[T]{
		ch:      make(chan T, maxEvents),
		policy:  Block,
		stats:   NewStatistics(),
		closeCh: make(chan struct{}),
	}
	for _, opt := range opts {
		if err := opt(b); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// Send enqueues an item. With the Block policy it suspends until space is
// available, the context is cancelled, or the buffer is closed. With
// DropNewest a full buffer discards the incoming item, resolving its
// finalizers as Dropped.
func (b *Memory[T]) Send(ctx context.Context, item T) error {
	if b.closed.Load() {
		return errors.ErrBufferClosed
	}
	n := item.EventCount()

	// Fast path regardless of policy.
	select {
	case b.ch <- item:
		b.recordSend(n)
		return nil
	default:
	}

	if b.policy == DropNewest {
		item.Finalize(event.StatusDropped)
		b.stats.RecordDrop(n)
		b.metrics.recordDrop(n)
		return nil
	}

	select {
	case b.ch <- item:
		b.recordSend(n)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-b.closeCh:
		return errors.ErrBufferClosed
	}
}

// TrySend enqueues without blocking. A full Block-policy buffer returns
// ErrBufferFull; a full DropNewest buffer discards the item.
func (b *Memory[T]) TrySend(item T) error {
	if b.closed.Load() {
		return errors.ErrBufferClosed
	}
	n := item.EventCount()

	select {
	case b.ch <- item:
		b.recordSend(n)
		return nil
	default:
	}

	if b.policy == DropNewest {
		item.Finalize(event.StatusDropped)
		b.stats.RecordDrop(n)
		b.metrics.recordDrop(n)
		return nil
	}
	return errors.ErrBufferFull
}

// Recv dequeues the next item, blocking until one is available. After Close,
// items already enqueued remain readable; once drained, Recv returns
// ErrBufferClosed.
func (b *Memory[T]) Recv(ctx context.Context) (T, error) {
	var zero T

	select {
	case item := <-b.ch:
		b.recordRecv(item.EventCount())
		return item, nil
	default:
	}

	select {
	case item := <-b.ch:
		b.recordRecv(item.EventCount())
		return item, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-b.closeCh:
		// Drain whatever was enqueued before the close.
		select {
		case item := <-b.ch:
			b.recordRecv(item.EventCount())
			return item, nil
		default:
			return zero, errors.ErrBufferClosed
		}
	}
}

// TryRecv dequeues without blocking.
func (b *Memory[T]) TryRecv() (T, bool) {
	select {
	case item := <-b.ch:
		b.recordRecv(item.EventCount())
		return item, true
	default:
		var zero T
		return zero, false
	}
}

// Len returns the current queue depth in items.
func (b *Memory[T]) Len() int {
	return len(b.ch)
}

// Stats returns the buffer statistics.
func (b *Memory[T]) Stats() *Statistics {
	return b.stats
}

// Close shuts down the buffer. Pending Sends and Recvs are released; items
// already enqueued remain readable through Recv and TryRecv.
func (b *Memory[T]) Close() error {
	b.closeOnce.Do(func() {
		b.closed.Store(true)
		close(b.closeCh)
	})
	return nil
}

func (b *Memory[T]) recordSend(n int) {
	b.stats.RecordSend(n)
	b.metrics.recordSend(n)
}

func (b *Memory[T]) recordRecv(n int) {
	b.stats.RecordRecv(n)
	b.metrics.recordRecv(n)
}
