package natspub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/c360/eventflow/component"
	"github.com/c360/eventflow/event"
	"github.com/c360/eventflow/event/path"
)

func optionsNode(t *testing.T, doc string) *yaml.Node {
	t.Helper()
	var node yaml.Node
	require.NoError(t, yaml.Unmarshal([]byte(doc), &node))
	return node.Content[0]
}

func TestNatspubConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr bool
	}{
		{"minimal", "subject: events.out\n", false},
		{"missing subject", "url: nats://localhost:4222\n", true},
		{"bad encoding", "subject: events.out\nencoding: protobuf\n", true},
		{"binary encoding", "subject: events.out\nencoding: binary\n", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(optionsNode(t, tt.doc), component.Dependencies{})
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestNatspubEncodings(t *testing.T) {
	log := event.NewLogEvent()
	require.NoError(t, log.Insert(path.MustParse(".message"), event.String("payload")))
	e := event.FromLog(log)

	s, err := New(optionsNode(t, "subject: events.out\n"), component.Dependencies{})
	require.NoError(t, err)
	jsonPayload, err := s.(*Sink).encode(e)
	require.NoError(t, err)
	assert.Contains(t, string(jsonPayload), "payload")

	s, err = New(optionsNode(t, "subject: events.out\nencoding: binary\n"), component.Dependencies{})
	require.NoError(t, err)
	binPayload, err := s.(*Sink).encode(e)
	require.NoError(t, err)

	decoded, err := event.Decode(binPayload)
	require.NoError(t, err)
	assert.True(t, e.Equal(decoded))
}
