package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/eventflow/errors"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const basicConfig = `
sources:
  in:
    type: demo
    interval: 10ms
transforms:
  sample:
    type: filter
    inputs: [in]
sinks:
  out:
    type: console
    inputs: [sample]
`

func TestLoadBasic(t *testing.T) {
	cfg, err := Load(writeConfig(t, basicConfig))
	require.NoError(t, err)

	require.Contains(t, cfg.Sources, "in")
	assert.Equal(t, "demo", cfg.Sources["in"].Type)
	require.Contains(t, cfg.Transforms, "sample")
	assert.Equal(t, []string{"in"}, cfg.Transforms["sample"].Inputs)
	require.Contains(t, cfg.Sinks, "out")
	assert.Equal(t, []string{"sample"}, cfg.Sinks["out"].Inputs)
}

func TestLoadKeepsComponentOptions(t *testing.T) {
	cfg, err := Load(writeConfig(t, basicConfig))
	require.NoError(t, err)

	var opts struct {
		Interval string `yaml:"interval"`
	}
	require.NoError(t, cfg.Sources["in"].Options.Decode(&opts))
	assert.Equal(t, "10ms", opts.Interval)
}

func TestLoadMergesFiles(t *testing.T) {
	first := writeConfig(t, `
sources:
  in:
    type: demo
sinks:
  out:
    type: console
    inputs: [in]
`)
	second := writeConfig(t, `
data_dir: /tmp/buffers
sinks:
  blackhole:
    type: blackhole
    inputs: [in]
`)
	cfg, err := Load(first, second)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/buffers", cfg.DataDir)
	assert.Len(t, cfg.Sinks, 2)
}

func TestLoadRejectsDuplicateIDs(t *testing.T) {
	first := writeConfig(t, basicConfig)
	second := writeConfig(t, `
sources:
  in:
    type: demo
`)
	_, err := Load(first, second)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindConfiguration))
}

func TestValidateUnknownInput(t *testing.T) {
	_, err := Load(writeConfig(t, `
sources:
  in:
    type: demo
sinks:
  out:
    type: console
    inputs: [missing]
`))
	require.Error(t, err)
}

func TestValidateRejectsCycle(t *testing.T) {
	_, err := Load(writeConfig(t, `
sources:
  in:
    type: demo
transforms:
  a:
    type: filter
    inputs: [b]
  b:
    type: filter
    inputs: [a]
sinks:
  out:
    type: console
    inputs: [a]
`))
	require.ErrorIs(t, err, errors.ErrCycleDetected)
}

func TestValidateDiskBufferNeedsDataDir(t *testing.T) {
	_, err := Load(writeConfig(t, `
sources:
  in:
    type: demo
sinks:
  out:
    type: console
    inputs: [in]
    buffer:
      type: disk
      max_size: 1048576
`))
	require.Error(t, err)

	_, err = Load(writeConfig(t, `
data_dir: /tmp/buffers
sources:
  in:
    type: demo
sinks:
  out:
    type: console
    inputs: [in]
    buffer:
      type: disk
      max_size: 1048576
`))
	require.NoError(t, err)
}

func TestValidateBufferSettings(t *testing.T) {
	cases := []struct {
		name   string
		buffer string
		ok     bool
	}{
		{"memory default", "", true},
		{"memory sized", "buffer: {type: memory, max_events: 100}", true},
		{"memory with max_size", "buffer: {type: memory, max_size: 100}", false},
		{"overflow with secondary size", "buffer: {type: memory, when_full: overflow, max_size: 1024}", true},
		{"overflow without size", "buffer: {when_full: overflow}", false},
		{"disk without size", "buffer: {type: disk}", false},
		{"disk with max_events", "buffer: {type: disk, max_size: 1024, max_events: 5}", false},
		{"disk overflowing", "buffer: {type: disk, max_size: 1024, when_full: overflow}", false},
		{"unknown policy", "buffer: {when_full: banana}", false},
		{"unknown type", "buffer: {type: tape}", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, `
data_dir: /tmp/buffers
sources:
  in:
    type: demo
sinks:
  out:
    type: console
    inputs: [in]
    `+tc.buffer+`
`))
			if tc.ok {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
			}
		})
	}
}

func TestParseInputRef(t *testing.T) {
	ref, err := ParseInputRef("router.errors")
	require.NoError(t, err)
	assert.Equal(t, InputRef{Component: "router", Output: "errors"}, ref)
	assert.Equal(t, "router.errors", ref.String())

	ref, err = ParseInputRef("router")
	require.NoError(t, err)
	assert.Equal(t, InputRef{Component: "router"}, ref)

	_, err = ParseInputRef("")
	require.Error(t, err)
	_, err = ParseInputRef("router.")
	require.Error(t, err)
}

func TestLogSchemaResolve(t *testing.T) {
	schema := LogSchema{}.Resolve()
	assert.Equal(t, "host", schema.HostKey())
	assert.Equal(t, "message", schema.MessageKey())
	assert.Equal(t, "timestamp", schema.TimestampKey())
	assert.Equal(t, "source_type", schema.SourceTypeKey())

	schema = LogSchema{MessageKey: "msg"}.Resolve()
	assert.Equal(t, "msg", schema.MessageKey())
	assert.Equal(t, "host", schema.HostKey())
}

func TestTimezone(t *testing.T) {
	cfg := &Config{}
	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "UTC", loc.String())

	cfg.Timezone = "America/New_York"
	loc, err = cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "America/New_York", loc.String())

	cfg.Timezone = "Not/AZone"
	_, err = cfg.Location()
	require.Error(t, err)
}
