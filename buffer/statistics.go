package buffer

import (
	"sync/atomic"
	"time"
)

// Statistics tracks buffer activity. All counters are in events, not items,
// so that the steady-state invariant
//
//	EventsIn() - EventsOut() - Depth() == 0
//
// holds for every variant.
type Statistics struct {
	eventsIn  atomic.Int64
	eventsOut atomic.Int64
	dropped   atomic.Int64
	overflows atomic.Int64
	depth     atomic.Int64
	maxDepth  atomic.Int64
	startTime time.Time
}

// NewStatistics creates a statistics tracker.
func NewStatistics() *Statistics {
	return &Statistics{startTime: time.Now()}
}

// RecordSend records n events entering the buffer.
func (s *Statistics) RecordSend(n int) {
	s.eventsIn.Add(int64(n))
	depth := s.depth.Add(int64(n))
	for {
		max := s.maxDepth.Load()
		if depth <= max || s.maxDepth.CompareAndSwap(max, depth) {
			return
		}
	}
}

// RecordRecv records n events leaving the buffer.
func (s *Statistics) RecordRecv(n int) {
	s.eventsOut.Add(int64(n))
	s.depth.Add(int64(-n))
}

// RecordDrop records n events discarded by the overflow policy.
func (s *Statistics) RecordDrop(n int) {
	s.dropped.Add(int64(n))
}

// RecordOverflow records n events handed to a secondary buffer.
func (s *Statistics) RecordOverflow(n int) {
	s.overflows.Add(int64(n))
}

// EventsIn returns the total events enqueued.
func (s *Statistics) EventsIn() int64 { return s.eventsIn.Load() }

// EventsOut returns the total events dequeued.
func (s *Statistics) EventsOut() int64 { return s.eventsOut.Load() }

// Dropped returns the total events discarded.
func (s *Statistics) Dropped() int64 { return s.dropped.Load() }

// Overflows returns the total events spilled to a secondary buffer.
func (s *Statistics) Overflows() int64 { return s.overflows.Load() }

// Depth returns the current queue depth in events.
func (s *Statistics) Depth() int64 { return s.depth.Load() }

// MaxDepth returns the high-water mark in events.
func (s *Statistics) MaxDepth() int64 { return s.maxDepth.Load() }

// Uptime returns the time since the buffer was created.
func (s *Statistics) Uptime() time.Duration { return time.Since(s.startTime) }
