package demo

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/c360/eventflow/component"
	"github.com/c360/eventflow/config"
	"github.com/c360/eventflow/event"
	"github.com/c360/eventflow/event/path"
)

type collectingSender struct {
	mu     sync.Mutex
	events []event.Event
}

func (c *collectingSender) Send(_ context.Context, e event.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return nil
}

func optionsNode(t *testing.T, doc string) *yaml.Node {
	t.Helper()
	var node yaml.Node
	require.NoError(t, yaml.Unmarshal([]byte(doc), &node))
	return node.Content[0]
}

func testDeps() component.Dependencies {
	return component.Dependencies{
		Schema: config.LogSchema{}.Resolve(),
	}
}

func TestDemoEmitsConfiguredCount(t *testing.T) {
	src, err := New(optionsNode(t, "rate: 1000\ncount: 3\n"), testDeps())
	require.NoError(t, err)

	collector := &collectingSender{}
	out := component.NewSourceSender(map[string]component.EventSender{
		component.PrimaryOutput: collector,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, src.Run(ctx, out, component.NewShutdownSignal()))
	require.Len(t, collector.events, 3)

	log, ok := collector.events[0].AsLog()
	require.True(t, ok)
	msg, ok := log.GetString(path.MustParse(".message"))
	require.True(t, ok)
	assert.Equal(t, "demo event", msg)
	assert.Equal(t, "demo", collector.events[0].Metadata().SourceID())
}

func TestDemoMetricFormat(t *testing.T) {
	src, err := New(optionsNode(t, "rate: 1000\ncount: 2\nformat: metric\n"), testDeps())
	require.NoError(t, err)

	collector := &collectingSender{}
	out := component.NewSourceSender(map[string]component.EventSender{
		component.PrimaryOutput: collector,
	})
	require.NoError(t, src.Run(context.Background(), out, component.NewShutdownSignal()))
	require.Len(t, collector.events, 2)

	m, ok := collector.events[0].AsMetric()
	require.True(t, ok)
	assert.Equal(t, "events_generated", m.Series.Name)
	assert.Equal(t, event.KindIncremental, m.Data.Kind)
}

func TestDemoStopsOnShutdown(t *testing.T) {
	src, err := New(optionsNode(t, "rate: 1000\n"), testDeps())
	require.NoError(t, err)

	shutdown := component.NewShutdownSignal()
	collector := &collectingSender{}
	out := component.NewSourceSender(map[string]component.EventSender{
		component.PrimaryOutput: collector,
	})

	done := make(chan error, 1)
	go func() { done <- src.Run(context.Background(), out, shutdown) }()
	time.Sleep(20 * time.Millisecond)
	shutdown.Signal()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("source did not stop on shutdown")
	}
}

func TestDemoConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"zero rate", "rate: 0\n"},
		{"negative count", "count: -1\n"},
		{"bad format", "format: trace\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(optionsNode(t, tt.doc), testDeps())
			require.Error(t, err)
		})
	}
}
