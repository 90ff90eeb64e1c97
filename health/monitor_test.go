package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitorUpdateAndGet(t *testing.T) {
	m := NewMonitor(nil)

	m.UpdateHealthy("console", "connected")
	status, ok := m.Get("console")
	require.True(t, ok)
	assert.True(t, status.IsHealthy())
	assert.Equal(t, "console", status.Component)
	assert.False(t, status.Timestamp.IsZero())

	_, ok = m.Get("missing")
	assert.False(t, ok)
}

func TestMonitorOverallAggregation(t *testing.T) {
	m := NewMonitor(nil)

	m.UpdateHealthy("a", "ok")
	assert.True(t, m.Overall().IsHealthy())

	m.UpdateUnhealthy("b", "connection refused")
	overall := m.Overall()
	assert.True(t, overall.IsUnhealthy())
	require.Len(t, overall.SubStatuses, 2)
	assert.Equal(t, "a", overall.SubStatuses[0].Component)
	assert.Equal(t, "b", overall.SubStatuses[1].Component)

	m.Remove("b")
	assert.True(t, m.Overall().IsHealthy())
}

func TestMonitorRegisterRunsProbeImmediately(t *testing.T) {
	m := NewMonitor(nil)

	m.Register(context.Background(), "up", func(context.Context) error { return nil })
	m.Register(context.Background(), "down", func(context.Context) error {
		return errors.New("endpoint unreachable")
	})

	status, ok := m.Get("up")
	require.True(t, ok)
	assert.True(t, status.IsHealthy())

	status, ok = m.Get("down")
	require.True(t, ok)
	assert.True(t, status.IsUnhealthy())
	assert.Equal(t, "endpoint unreachable", status.Message)
}

func TestMonitorHandler(t *testing.T) {
	m := NewMonitor(nil)
	m.UpdateHealthy("sink", "ok")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var overall Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &overall))
	assert.True(t, overall.Healthy)

	m.UpdateUnhealthy("sink", "gone")
	rec = httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAggregateRules(t *testing.T) {
	tests := []struct {
		name string
		subs []Status
		want string
	}{
		{"empty", nil, "healthy"},
		{"all healthy", []Status{NewHealthy("a", ""), NewHealthy("b", "")}, "healthy"},
		{"one degraded", []Status{NewHealthy("a", ""), NewDegraded("b", "")}, "degraded"},
		{"unhealthy wins", []Status{NewDegraded("a", ""), NewUnhealthy("b", "")}, "unhealthy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Aggregate("pipeline", tt.subs)
			assert.Equal(t, tt.want, got.Status)
		})
	}
}
