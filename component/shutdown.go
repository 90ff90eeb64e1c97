package component

import (
	"context"
	"sync"
	"time"
)

// ShutdownSignal coordinates graceful shutdown between the topology and one
// component. The topology calls Signal; the component observes Requested,
// drains, and calls Complete.
type ShutdownSignal struct {
	requested chan struct{}
	completed chan struct{}

	signalOnce   sync.Once
	completeOnce sync.Once
}

// NewShutdownSignal creates an untriggered signal.
func NewShutdownSignal() *ShutdownSignal {
	return &ShutdownSignal{
		requested: make(chan struct{}),
		completed: make(chan struct{}),
	}
}

// Requested is closed when shutdown has been requested.
func (s *ShutdownSignal) Requested() <-chan struct{} {
	return s.requested
}

// Signal requests shutdown. Idempotent.
func (s *ShutdownSignal) Signal() {
	s.signalOnce.Do(func() { close(s.requested) })
}

// Complete announces that the component has drained and returned.
// Idempotent.
func (s *ShutdownSignal) Complete() {
	s.completeOnce.Do(func() { close(s.completed) })
}

// AwaitCompletion waits for Complete up to the timeout. It reports false if
// the component did not finish in time.
func (s *ShutdownSignal) AwaitCompletion(ctx context.Context, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-s.completed:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}
