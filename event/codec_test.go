package event

import (
	"math"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleLog() *LogEvent {
	inner := NewObject()
	inner.Set("nested", String("deep"))

	o := NewObject()
	o.Set("message", String("hello"))
	o.Set("host", String("h1"))
	o.Set("count", Int(-12))
	o.Set("ratio", MustFloat(0.25))
	o.Set("ok", Bool(true))
	o.Set("none", Null())
	o.Set("when", Timestamp(time.Date(2024, 5, 1, 8, 30, 0, 123456789, time.UTC)))
	o.Set("pattern", Regex(regexp.MustCompile(`\d+`)))
	o.Set("list", Array([]Value{Int(1), String("two"), MustFloat(3.5)}))
	o.Set("obj", ObjectValue(inner))
	return LogFromObject(o)
}

func TestLogRoundTrip(t *testing.T) {
	original := FromLog(sampleLog())

	raw, err := original.Encode()
	require.NoError(t, err)

	decoded, err := Decode(raw)
	require.NoError(t, err)

	assert.True(t, original.Equal(decoded), "decoded event differs: %s vs %s", original, decoded)
}

func TestTraceRoundTrip(t *testing.T) {
	tr := NewTraceEvent()
	require.NoError(t, tr.Insert(SpanNamePath, String("query")))
	require.NoError(t, tr.Insert(SpanTraceIDPath, String("abc123")))
	original := FromTrace(tr)

	raw, err := original.Encode()
	require.NoError(t, err)
	decoded, err := Decode(raw)
	require.NoError(t, err)
	assert.True(t, original.Equal(decoded))
}

func TestMetricRoundTrip(t *testing.T) {
	ts := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		metric *Metric
	}{
		{
			"counter",
			NewMetric("requests", KindIncremental, Counter{Value: 42}).
				WithNamespace("app").WithTag("region", "eu").WithTag("az", "eu-1").
				WithTimestamp(ts),
		},
		{
			"gauge",
			NewMetric("temp", KindAbsolute, Gauge{Value: 21.5}),
		},
		{
			"set",
			NewMetric("users", KindIncremental, Set{Values: []string{"a", "b"}}),
		},
		{
			"distribution",
			NewMetric("latency", KindIncremental, Distribution{
				Samples:   []Sample{{Value: 1.5, Rate: 1}, {Value: 2.25, Rate: 3}},
				Statistic: StatisticHistogram,
			}),
		},
		{
			"aggregated histogram",
			NewMetric("sizes", KindAbsolute, AggregatedHistogram{
				Buckets: []HistogramBucket{{UpperLimit: 1, Count: 10}, {UpperLimit: 5, Count: 3}},
				Count:   13,
				Sum:     27.5,
			}),
		},
		{
			"aggregated summary",
			NewMetric("quantiles", KindAbsolute, AggregatedSummary{
				Quantiles: []SummaryQuantile{{Quantile: 0.5, Value: 2}, {Quantile: 0.99, Value: 10}},
				Count:     100,
				Sum:       250,
			}),
		},
		{
			"sketch",
			NewMetric("sketchy", KindIncremental, Sketch{
				Count: 4, Min: 0.5, Max: 9, Sum: 15, Avg: 3.75,
				Keys: []int16{-1, 4}, Counts: []uint16{2, 2},
			}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			original := FromMetric(tt.metric)
			raw, err := original.Encode()
			require.NoError(t, err)
			decoded, err := Decode(raw)
			require.NoError(t, err)
			assert.True(t, original.Equal(decoded))
		})
	}
}

func TestRoundTripNormalizesNegativeZero(t *testing.T) {
	o := NewObject()
	o.Set("zero", Value{kind: KindFloat, float: math.Copysign(0, -1)})
	original := FromLog(LogFromObject(o))

	raw, err := original.Encode()
	require.NoError(t, err)
	decoded, err := Decode(raw)
	require.NoError(t, err)

	log, _ := decoded.AsLog()
	v, ok := log.Fields().Get("zero")
	require.True(t, ok)
	f, _ := v.AsFloat()
	assert.False(t, math.Signbit(f))
}

func TestDecodeTruncated(t *testing.T) {
	raw, err := FromLog(sampleLog()).Encode()
	require.NoError(t, err)

	for _, cut := range []int{1, 2, len(raw) / 2, len(raw) - 1} {
		_, err := Decode(raw[:cut])
		require.Error(t, err, "truncation at %d must fail", cut)
	}
}

func TestDecodeBadVersion(t *testing.T) {
	raw, err := FromLog(sampleLog()).Encode()
	require.NoError(t, err)
	raw[0] = 0xFF
	_, err = Decode(raw)
	require.Error(t, err)
}
