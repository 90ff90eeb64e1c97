package component

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/c360/eventflow/errors"
	"github.com/c360/eventflow/event"
)

type nopSource struct{}

func (nopSource) Run(context.Context, *SourceSender, *ShutdownSignal) error { return nil }

type nopSink struct{}

func (nopSink) Run(context.Context, <-chan event.Event) error { return nil }
func (nopSink) Healthcheck(context.Context) error             { return nil }

func TestRegistryRoundTrip(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.RegisterSource("demo", func(*yaml.Node, Dependencies) (Source, error) {
		return nopSource{}, nil
	}))
	require.NoError(t, reg.RegisterSink("console", func(*yaml.Node, Dependencies) (Sink, error) {
		return nopSink{}, nil
	}))

	src, err := reg.NewSource("demo", nil, Dependencies{})
	require.NoError(t, err)
	assert.NotNil(t, src)

	sink, err := reg.NewSink("console", nil, Dependencies{})
	require.NoError(t, err)
	assert.NotNil(t, sink)
}

func TestRegistryDuplicate(t *testing.T) {
	reg := NewRegistry()
	factory := func(*yaml.Node, Dependencies) (Source, error) { return nopSource{}, nil }
	require.NoError(t, reg.RegisterSource("demo", factory))
	err := reg.RegisterSource("demo", factory)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindConfiguration))
}

func TestRegistryUnknownType(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.NewTransform("nope", nil, Dependencies{})
	require.ErrorIs(t, err, errors.ErrUnknownComponent)
}
