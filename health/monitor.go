package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"
)

// DefaultProbeInterval is how often registered probes run.
const DefaultProbeInterval = 30 * time.Second

// ProbeFunc checks one component, typically a sink's healthcheck.
type ProbeFunc func(ctx context.Context) error

// Monitor tracks per-component health and periodically re-probes
// components that registered a probe.
type Monitor struct {
	logger *slog.Logger

	mu       sync.RWMutex
	statuses map[string]Status
	probes   map[string]ProbeFunc
}

// NewMonitor creates an empty monitor.
func NewMonitor(logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		logger:   logger,
		statuses: make(map[string]Status),
		probes:   make(map[string]ProbeFunc),
	}
}

// Update records the status for a named component.
func (m *Monitor) Update(name string, status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	status.Component = name
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}
	m.statuses[name] = status
}

// UpdateHealthy marks a component healthy.
func (m *Monitor) UpdateHealthy(name, message string) {
	m.Update(name, NewHealthy(name, message))
}

// UpdateUnhealthy marks a component unhealthy.
func (m *Monitor) UpdateUnhealthy(name, message string) {
	m.Update(name, NewUnhealthy(name, message))
}

// Register installs a probe for a component and records its first result
// immediately.
func (m *Monitor) Register(ctx context.Context, name string, probe ProbeFunc) {
	m.mu.Lock()
	m.probes[name] = probe
	m.mu.Unlock()
	m.runProbe(ctx, name, probe)
}

// Remove forgets a component's status and probe.
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.statuses, name)
	delete(m.probes, name)
}

// Get retrieves the status for a named component.
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status, ok := m.statuses[name]
	return status, ok
}

// Overall returns the aggregate of everything monitored, sub-statuses
// sorted by component name.
func (m *Monitor) Overall() Status {
	m.mu.RLock()
	subs := make([]Status, 0, len(m.statuses))
	for _, status := range m.statuses {
		subs = append(subs, status)
	}
	m.mu.RUnlock()

	sort.Slice(subs, func(i, j int) bool { return subs[i].Component < subs[j].Component })
	return Aggregate("pipeline", subs)
}

// Run re-executes all registered probes on the interval until the context
// is cancelled. A non-positive interval uses the default.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.runProbes(ctx)
		}
	}
}

func (m *Monitor) runProbes(ctx context.Context) {
	m.mu.RLock()
	probes := make(map[string]ProbeFunc, len(m.probes))
	for name, probe := range m.probes {
		probes[name] = probe
	}
	m.mu.RUnlock()

	for name, probe := range probes {
		m.runProbe(ctx, name, probe)
	}
}

func (m *Monitor) runProbe(ctx context.Context, name string, probe ProbeFunc) {
	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := probe(probeCtx); err != nil {
		m.logger.Warn("healthcheck failed", "component", name, "error", err)
		m.UpdateUnhealthy(name, err.Error())
		return
	}
	m.UpdateHealthy(name, "healthcheck passed")
}

// Handler serves the aggregate as JSON: 200 when healthy or degraded,
// 503 when unhealthy.
func (m *Monitor) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		overall := m.Overall()
		w.Header().Set("Content-Type", "application/json")
		if overall.IsUnhealthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		if err := json.NewEncoder(w).Encode(overall); err != nil {
			m.logger.Warn("encoding health response", "error", err)
		}
	})
}
