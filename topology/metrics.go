package topology

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/eventflow/metric"
)

// fanoutMetrics tracks dispatch activity for one producer output. All
// recording methods are nil-receiver safe so fanouts work without a
// registry.
type fanoutMetrics struct {
	sent      prometheus.Counter
	dropped   prometheus.Counter
	consumers prometheus.Gauge
}

func newFanoutMetrics(registry *metric.Registry, output string) (*fanoutMetrics, error) {
	if registry == nil {
		return nil, nil
	}

	labels := prometheus.Labels{"output": output}
	m := &fanoutMetrics{
		sent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "eventflow",
			Subsystem:   "fanout",
			Name:        "events_sent_total",
			Help:        "Events dispatched to all consumers of this output",
			ConstLabels: labels,
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "eventflow",
			Subsystem:   "fanout",
			Name:        "events_dropped_total",
			Help:        "Event copies abandoned because a consumer was removed or absent",
			ConstLabels: labels,
		}),
		consumers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "eventflow",
			Subsystem:   "fanout",
			Name:        "consumers",
			Help:        "Currently registered consumers",
			ConstLabels: labels,
		}),
	}

	component := "fanout_" + output
	for name, c := range map[string]prometheus.Collector{
		"events_sent_total":    m.sent,
		"events_dropped_total": m.dropped,
		"consumers":            m.consumers,
	} {
		if err := registry.Register(component, name, c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *fanoutMetrics) recordSend(n int) {
	if m == nil {
		return
	}
	m.sent.Add(float64(n))
}

func (m *fanoutMetrics) recordDrop(n int) {
	if m == nil {
		return
	}
	m.dropped.Add(float64(n))
}

func (m *fanoutMetrics) setConsumers(n int) {
	if m == nil {
		return
	}
	m.consumers.Set(float64(n))
}

// topologyMetrics tracks lifecycle activity of the running graph.
type topologyMetrics struct {
	components *prometheus.GaugeVec
	reloads    prometheus.Counter
	restarts   *prometheus.CounterVec
}

func newTopologyMetrics(registry *metric.Registry) (*topologyMetrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &topologyMetrics{
		components: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "eventflow",
			Subsystem: "topology",
			Name:      "components",
			Help:      "Running components by kind",
		}, []string{"kind"}),
		reloads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "eventflow",
			Subsystem: "topology",
			Name:      "reloads_total",
			Help:      "Configuration reloads applied",
		}),
		restarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eventflow",
			Subsystem: "topology",
			Name:      "component_restarts_total",
			Help:      "Component driver restarts after failure",
		}, []string{"component"}),
	}

	for name, c := range map[string]prometheus.Collector{
		"components":               m.components,
		"reloads_total":            m.reloads,
		"component_restarts_total": m.restarts,
	} {
		if err := registry.Register("topology", name, c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *topologyMetrics) setComponents(kind string, n int) {
	if m == nil {
		return
	}
	m.components.WithLabelValues(kind).Set(float64(n))
}

func (m *topologyMetrics) recordReload() {
	if m == nil {
		return
	}
	m.reloads.Inc()
}

func (m *topologyMetrics) recordRestart(component string) {
	if m == nil {
		return
	}
	m.restarts.WithLabelValues(component).Inc()
}
