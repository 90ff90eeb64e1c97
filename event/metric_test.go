package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricAddCounters(t *testing.T) {
	a := NewMetric("c", KindIncremental, Counter{Value: 42})
	b := NewMetric("c", KindIncremental, Counter{Value: 43})

	require.NoError(t, a.Add(b))
	assert.True(t, a.Data.Value.EqualValue(Counter{Value: 85}))
}

func TestMetricAddRejectsAbsolute(t *testing.T) {
	a := NewMetric("c", KindAbsolute, Counter{Value: 1})
	b := NewMetric("c", KindIncremental, Counter{Value: 2})

	require.Error(t, a.Add(b))
	require.Error(t, b.Add(a))
}

func TestMetricAddRejectsCrossVariant(t *testing.T) {
	a := NewMetric("x", KindIncremental, Counter{Value: 1})
	b := NewMetric("x", KindIncremental, Gauge{Value: 2})

	err := a.Add(b)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot add")
}

func TestMetricAddMergesFinalizers(t *testing.T) {
	n1, r1 := NewBatchNotifier()
	n2, r2 := NewBatchNotifier()

	a := NewMetric("c", KindIncremental, Counter{Value: 1})
	a.Metadata().AddBatchNotifier(n1)
	n1.Close()
	b := NewMetric("c", KindIncremental, Counter{Value: 2})
	b.Metadata().AddBatchNotifier(n2)
	n2.Close()

	require.NoError(t, a.Add(b))
	require.Len(t, a.Metadata().Finalizers(), 2)

	FromMetric(a).Finalize(StatusDelivered)
	for _, r := range []BatchStatusReceiver{r1, r2} {
		status, resolved := r.TryRecv()
		require.True(t, resolved)
		assert.Equal(t, StatusDelivered, status)
	}
}

func TestSetAddUnions(t *testing.T) {
	a := Set{Values: []string{"a", "b"}}
	b := Set{Values: []string{"b", "c"}}

	sum, err := a.Add(b)
	require.NoError(t, err)
	assert.True(t, sum.EqualValue(Set{Values: []string{"a", "b", "c"}}))
}

func TestDistributionAddConcatenates(t *testing.T) {
	a := Distribution{Samples: []Sample{{Value: 1, Rate: 1}}, Statistic: StatisticHistogram}
	b := Distribution{Samples: []Sample{{Value: 2, Rate: 2}}, Statistic: StatisticHistogram}

	sum, err := a.Add(b)
	require.NoError(t, err)
	d := sum.(Distribution)
	require.Len(t, d.Samples, 2)

	mismatched := Distribution{Statistic: StatisticSummary}
	_, err = a.Add(mismatched)
	require.Error(t, err)
}

func TestHistogramAddRequiresSameBuckets(t *testing.T) {
	a := AggregatedHistogram{
		Buckets: []HistogramBucket{{UpperLimit: 1, Count: 1}, {UpperLimit: 2, Count: 2}},
		Count:   3, Sum: 4,
	}
	b := AggregatedHistogram{
		Buckets: []HistogramBucket{{UpperLimit: 1, Count: 5}, {UpperLimit: 2, Count: 5}},
		Count:   10, Sum: 11,
	}

	sum, err := a.Add(b)
	require.NoError(t, err)
	h := sum.(AggregatedHistogram)
	assert.Equal(t, uint64(13), h.Count)
	assert.Equal(t, uint64(6), h.Buckets[0].Count)

	different := AggregatedHistogram{Buckets: []HistogramBucket{{UpperLimit: 9, Count: 1}, {UpperLimit: 10, Count: 1}}}
	_, err = a.Add(different)
	require.Error(t, err)
}

func TestSummaryAddFails(t *testing.T) {
	a := AggregatedSummary{Count: 1}
	b := AggregatedSummary{Count: 2}
	_, err := a.Add(b)
	require.Error(t, err)
}

func TestSketchAddMergesBins(t *testing.T) {
	a := Sketch{Count: 2, Min: 1, Max: 4, Sum: 5, Avg: 2.5, Keys: []int16{1, 2}, Counts: []uint16{1, 1}}
	b := Sketch{Count: 2, Min: 0.5, Max: 9, Sum: 10, Avg: 5, Keys: []int16{2, 3}, Counts: []uint16{1, 1}}

	sum, err := a.Add(b)
	require.NoError(t, err)
	s := sum.(Sketch)
	assert.Equal(t, uint32(4), s.Count)
	assert.Equal(t, 0.5, s.Min)
	assert.Equal(t, 9.0, s.Max)
	assert.Equal(t, []int16{1, 2, 3}, s.Keys)
	assert.Equal(t, []uint16{1, 2, 1}, s.Counts)
}

func TestSeriesKeyDistinguishesTags(t *testing.T) {
	a := NewMetric("m", KindIncremental, Counter{Value: 1}).WithTag("k", "v1")
	b := NewMetric("m", KindIncremental, Counter{Value: 1}).WithTag("k", "v2")
	c := NewMetric("m", KindIncremental, Counter{Value: 1}).WithTag("k", "v1")

	assert.NotEqual(t, a.SeriesKey(), b.SeriesKey())
	assert.Equal(t, a.SeriesKey(), c.SeriesKey())
}

func TestMetricKindPreservedOnClone(t *testing.T) {
	ts := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	m := NewMetric("m", KindIncremental, Counter{Value: 3}).
		WithTimestamp(ts).WithInterval(time.Second).WithTag("a", "b")

	clone := m.Clone()
	assert.True(t, m.Equal(clone))

	clone.Series.Tags.Set("a", "changed")
	v, _ := m.Series.Tags.Get("a")
	assert.Equal(t, "b", v, "clone must not share tag storage")
}
