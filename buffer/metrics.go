package buffer

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/eventflow/metric"
)

// bufferMetrics exposes buffer statistics as Prometheus metrics. Stats are
// always collected; metrics are opt-in via WithMetrics.
type bufferMetrics struct {
	eventsIn  prometheus.Counter
	eventsOut prometheus.Counter
	dropped   prometheus.Counter
	overflows prometheus.Counter
	depth     prometheus.Gauge
}

func newBufferMetrics(registry *metric.Registry, component string) (*bufferMetrics, error) {
	if registry == nil {
		return nil, nil
	}
	m := &bufferMetrics{
		eventsIn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "eventflow",
			Subsystem:   "buffer",
			Name:        "events_in_total",
			Help:        "Total events enqueued into the buffer",
			ConstLabels: prometheus.Labels{"component": component},
		}),
		eventsOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "eventflow",
			Subsystem:   "buffer",
			Name:        "events_out_total",
			Help:        "Total events dequeued from the buffer",
			ConstLabels: prometheus.Labels{"component": component},
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "eventflow",
			Subsystem:   "buffer",
			Name:        "events_dropped_total",
			Help:        "Total events discarded by the overflow policy",
			ConstLabels: prometheus.Labels{"component": component},
		}),
		overflows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "eventflow",
			Subsystem:   "buffer",
			Name:        "events_overflowed_total",
			Help:        "Total events handed to the secondary buffer",
			ConstLabels: prometheus.Labels{"component": component},
		}),
		depth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "eventflow",
			Subsystem:   "buffer",
			Name:        "depth_events",
			Help:        "Current queue depth in events",
			ConstLabels: prometheus.Labels{"component": component},
		}),
	}

	for name, c := range map[string]prometheus.Collector{
		"events_in_total":         m.eventsIn,
		"events_out_total":        m.eventsOut,
		"events_dropped_total":    m.dropped,
		"events_overflowed_total": m.overflows,
		"depth_events":            m.depth,
	} {
		if err := registry.Register("buffer_"+component, name, c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *bufferMetrics) recordSend(n int) {
	if m == nil {
		return
	}
	m.eventsIn.Add(float64(n))
	m.depth.Add(float64(n))
}

func (m *bufferMetrics) recordRecv(n int) {
	if m == nil {
		return
	}
	m.eventsOut.Add(float64(n))
	m.depth.Sub(float64(n))
}

func (m *bufferMetrics) recordDrop(n int) {
	if m == nil {
		return
	}
	m.dropped.Add(float64(n))
}

func (m *bufferMetrics) recordOverflow(n int) {
	if m == nil {
		return
	}
	m.overflows.Add(float64(n))
}
