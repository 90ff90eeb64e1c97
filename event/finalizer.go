package event

import (
	"context"
	"sync"
	"sync/atomic"
)

// EventStatus is the delivery status of an event or batch.
//
// Statuses merge worst-wins: Dropped is the identity (nothing has claimed the
// event yet), and among terminal statuses Rejected is worse than Errored,
// which is worse than Delivered. Merging Delivered with Rejected yields
// Rejected.
type EventStatus uint32

const (
	// StatusDropped means no component has reported a terminal status. It is
	// the initial status and also the explicit status for intentional drops.
	StatusDropped EventStatus = iota
	// StatusDelivered means the event was accepted by its destination.
	StatusDelivered
	// StatusErrored means delivery failed in a way that may succeed on
	// redelivery.
	StatusErrored
	// StatusRejected means the destination permanently refused the event.
	StatusRejected
)

// String returns the status name.
func (s EventStatus) String() string {
	switch s {
	case StatusDropped:
		return "dropped"
	case StatusDelivered:
		return "delivered"
	case StatusErrored:
		return "errored"
	case StatusRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// severity orders terminal statuses for worst-wins merging. Dropped is not a
// terminal status and acts as the merge identity.
func (s EventStatus) severity() int {
	switch s {
	case StatusDelivered:
		return 1
	case StatusErrored:
		return 2
	case StatusRejected:
		return 3
	default:
		return 0
	}
}

// Update merges another status into this one, worst wins.
func (s EventStatus) Update(other EventStatus) EventStatus {
	if s == StatusDropped {
		return other
	}
	if other == StatusDropped {
		return s
	}
	if other.severity() > s.severity() {
		return other
	}
	return s
}

// BatchNotifier aggregates the delivery statuses of all events derived from
// one upstream read. It holds the send half of a one-shot channel; the
// receive half is retained by the source. The notifier resolves the one-shot
// with the accumulated worst status when its last reference is released.
//
// The notifier starts with one reference owned by its creator. Attaching a
// finalizer to an event takes a reference; cloning a finalizer (event fanout)
// takes another. The creator releases its own reference with Close once the
// batch is fully decoded, so the channel cannot resolve while events are
// still being attached.
type BatchNotifier struct {
	refs   atomic.Int64
	status atomic.Uint32
	once   sync.Once
	ch     chan EventStatus
}

// BatchStatusReceiver is the receive half of a batch notifier's one-shot.
type BatchStatusReceiver struct {
	ch <-chan EventStatus
}

// NewBatchNotifier creates a notifier and its status receiver.
func NewBatchNotifier() (*BatchNotifier, BatchStatusReceiver) {
	n := &BatchNotifier{ch: make(chan EventStatus, 1)}
	n.refs.Store(1)
	return n, BatchStatusReceiver{ch: n.ch}
}

// UpdateStatus merges a status into the batch, worst wins.
func (n *BatchNotifier) UpdateStatus(s EventStatus) {
	for {
		cur := EventStatus(n.status.Load())
		next := cur.Update(s)
		if next == cur {
			return
		}
		if n.status.CompareAndSwap(uint32(cur), uint32(next)) {
			return
		}
	}
}

// Close releases the creator's reference. Must be called exactly once, after
// every event in the batch has had its finalizer attached.
func (n *BatchNotifier) Close() {
	n.release()
}

func (n *BatchNotifier) acquire() {
	n.refs.Add(1)
}

func (n *BatchNotifier) release() {
	if n.refs.Add(-1) == 0 {
		n.once.Do(func() {
			n.ch <- EventStatus(n.status.Load())
			close(n.ch)
		})
	}
}

// Await blocks until the batch resolves or the context is cancelled.
func (r BatchStatusReceiver) Await(ctx context.Context) (EventStatus, error) {
	select {
	case s := <-r.ch:
		return s, nil
	case <-ctx.Done():
		return StatusDropped, ctx.Err()
	}
}

// TryRecv returns the resolved status without blocking.
func (r BatchStatusReceiver) TryRecv() (EventStatus, bool) {
	select {
	case s := <-r.ch:
		return s, true
	default:
		return StatusDropped, false
	}
}

// Finalizer reports the terminal delivery status of one event to a batch
// notifier. It holds a reference on the notifier from creation until Done.
type Finalizer struct {
	notifier *BatchNotifier
	status   EventStatus
	mu       sync.Mutex
	done     bool
}

// NewFinalizer creates a finalizer referencing the notifier.
func NewFinalizer(n *BatchNotifier) *Finalizer {
	n.acquire()
	return &Finalizer{notifier: n}
}

// Update merges a status into the finalizer, worst wins. The status is not
// reported to the notifier until Done.
func (f *Finalizer) Update(s EventStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.done {
		return
	}
	f.status = f.status.Update(s)
}

// Done reports the accumulated status to the notifier and releases the
// reference. Idempotent.
func (f *Finalizer) Done() {
	f.mu.Lock()
	if f.done {
		f.mu.Unlock()
		return
	}
	f.done = true
	s := f.status
	f.mu.Unlock()

	f.notifier.UpdateStatus(s)
	f.notifier.release()
}

// Clone creates an independent finalizer referencing the same notifier. Used
// when an event is copied for fanout: each copy finalizes separately and the
// batch resolves only when all copies have.
func (f *Finalizer) Clone() *Finalizer {
	return NewFinalizer(f.notifier)
}

// Finalizers is the set of finalizers attached to an event.
type Finalizers []*Finalizer

// Update merges a status into every finalizer.
func (fs Finalizers) Update(s EventStatus) {
	for _, f := range fs {
		f.Update(s)
	}
}

// Done finishes every finalizer.
func (fs Finalizers) Done() {
	for _, f := range fs {
		f.Done()
	}
}

// Clone clones every finalizer, incrementing the outstanding count of each
// referenced notifier.
func (fs Finalizers) Clone() Finalizers {
	if len(fs) == 0 {
		return nil
	}
	out := make(Finalizers, len(fs))
	for i, f := range fs {
		out[i] = f.Clone()
	}
	return out
}

// Merge appends the other set. Used when two events are merged by an
// aggregating transform.
func (fs Finalizers) Merge(other Finalizers) Finalizers {
	return append(fs, other...)
}
