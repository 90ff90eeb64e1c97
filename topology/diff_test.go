package topology

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeDiff(t *testing.T) {
	oldCfg := writeConfig(t, `
sources:
  in:
    type: feed
transforms:
  scrub:
    type: identity
    inputs: [in]
sinks:
  out:
    type: collect
    inputs: [scrub]
`)
	newCfg := writeConfig(t, `
sources:
  in:
    type: feed
transforms:
  scrub:
    type: identity
    inputs: [in]
    buffer:
      max_events: 64
sinks:
  archive:
    type: collect
    inputs: [scrub]
`)

	d := ComputeDiff(oldCfg, newCfg)
	assert.Equal(t, []string{"archive"}, d.Added)
	assert.Equal(t, []string{"out"}, d.Removed)
	assert.Equal(t, []string{"scrub"}, d.Changed)
	assert.False(t, d.Empty())
}

func TestComputeDiffIdentical(t *testing.T) {
	doc := `
sources:
  in:
    type: feed
sinks:
  out:
    type: collect
    inputs: [in]
`
	oldCfg := writeConfig(t, doc)
	newCfg := writeConfig(t, doc)

	d := ComputeDiff(oldCfg, newCfg)
	require.True(t, d.Empty(), "diff %+v", d)
}

func TestComputeDiffKindChange(t *testing.T) {
	oldCfg := writeConfig(t, `
sources:
  in:
    type: feed
sinks:
  edge:
    type: collect
    inputs: [in]
`)
	newCfg := writeConfig(t, `
sources:
  in:
    type: feed
transforms:
  edge:
    type: identity
    inputs: [in]
sinks:
  out:
    type: collect
    inputs: [edge]
`)

	d := ComputeDiff(oldCfg, newCfg)
	assert.Contains(t, d.Changed, "edge")
	assert.Equal(t, []string{"out"}, d.Added)
	assert.Empty(t, d.Removed)
}
