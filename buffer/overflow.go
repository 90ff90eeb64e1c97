package buffer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"

	"github.com/c360/eventflow/errors"
	"github.com/c360/eventflow/metric"
)

// chainPollInterval bounds how long a blocked Chain.Recv waits before
// re-checking both buffers.
const chainPollInterval = 5 * time.Millisecond

// Chain implements the Overflow policy by composing a primary buffer with a
// secondary. Sends attempt the primary first; a full primary spills the item
// into the secondary. Receives drain the primary first and pull from the
// secondary only when the primary is empty, so FIFO ordering holds within
// each buffer but not across the two once spilling has begun.
type Chain[T Item] struct {
	primary   Buffer[T]
	secondary Buffer[T]
	stats     *Statistics
	metrics   *bufferMetrics

	closed    atomic.Bool
	closeCh   chan struct{}
	closeOnce sync.Once
}

// ChainOption configures a Chain.
type ChainOption[T Item] func(*Chain[T]) error

// WithChainMetrics registers Prometheus metrics for the chain under the
// component name.
func WithChainMetrics[T Item](registry *metric.Registry, component string) ChainOption[T] {
	return func(c *Chain[T]) error {
		m, err := newBufferMetrics(registry, component)
		if err != nil {
			return err
		}
		c.metrics = m
		return nil
	}
}

// NewChain composes primary and secondary into an overflow chain. The
// primary is used non-blockingly, so its own policy never engages.
func NewChain[T Item](primary, secondary Buffer[T], opts ...ChainOption[T]) (*Chain[T], error) {
	if primary == nil || secondary == nil {
		return nil, errors.WrapConfiguration(errors.ErrInvalidConfig,
			"Chain", "NewChain", "both primary and secondary are required")
	}
	c := &Chain[T]{
		primary:   primary,
		secondary: secondary,
		stats:     NewStatistics(),
		closeCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Send attempts the primary without blocking and spills to the secondary
// when the primary is full. The secondary's own policy governs what happens
// when it too is full.
func (c *Chain[T]) Send(ctx context.Context, item T) error {
	if c.closed.Load() {
		return errors.ErrBufferClosed
	}
	n := item.EventCount()

	err := c.primary.TrySend(item)
	if err == nil {
		c.recordSend(n)
		return nil
	}
	if !errors.IsKind(err, errors.KindBufferFull) {
		return err
	}

	c.stats.RecordOverflow(n)
	c.metrics.recordOverflow(n)
	if err := c.secondary.Send(ctx, item); err != nil {
		return err
	}
	c.recordSend(n)
	return nil
}

// TrySend attempts the primary, then the secondary, without blocking.
func (c *Chain[T]) TrySend(item T) error {
	if c.closed.Load() {
		return errors.ErrBufferClosed
	}
	n := item.EventCount()

	err := c.primary.TrySend(item)
	if err == nil {
		c.recordSend(n)
		return nil
	}
	if !errors.IsKind(err, errors.KindBufferFull) {
		return err
	}

	c.stats.RecordOverflow(n)
	c.metrics.recordOverflow(n)
	if err := c.secondary.TrySend(item); err != nil {
		return err
	}
	c.recordSend(n)
	return nil
}

// Recv drains the primary first, then the secondary. It blocks by polling
// both buffers because a single channel select cannot span two independent
// queue implementations.
func (c *Chain[T]) Recv(ctx context.Context) (T, error) {
	var zero T
	timer := time.NewTimer(chainPollInterval)
	defer timer.Stop()

	for {
		if item, ok := c.TryRecv(); ok {
			return item, nil
		}
		if c.closed.Load() {
			// One more pass in case an item landed between the check
			// and the close.
			if item, ok := c.TryRecv(); ok {
				return item, nil
			}
			return zero, errors.ErrBufferClosed
		}

		timer.Reset(chainPollInterval)
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-c.closeCh:
		case <-timer.C:
		}
	}
}

// TryRecv pulls from the primary if it holds anything, otherwise from the
// secondary.
func (c *Chain[T]) TryRecv() (T, bool) {
	if item, ok := c.primary.TryRecv(); ok {
		c.recordRecv(item.EventCount())
		return item, true
	}
	if item, ok := c.secondary.TryRecv(); ok {
		c.recordRecv(item.EventCount())
		return item, true
	}
	var zero T
	return zero, false
}

// Len returns the combined depth of both buffers.
func (c *Chain[T]) Len() int {
	return c.primary.Len() + c.secondary.Len()
}

// Stats returns the chain-level statistics. Per-buffer statistics remain
// available on the composed buffers.
func (c *Chain[T]) Stats() *Statistics {
	return c.stats
}

// Close shuts down both buffers. Items already enqueued remain readable.
func (c *Chain[T]) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.closeCh)
		err = multierr.Combine(c.primary.Close(), c.secondary.Close())
	})
	return err
}

func (c *Chain[T]) recordSend(n int) {
	c.stats.RecordSend(n)
	c.metrics.recordSend(n)
}

func (c *Chain[T]) recordRecv(n int) {
	c.stats.RecordRecv(n)
	c.metrics.recordRecv(n)
}
