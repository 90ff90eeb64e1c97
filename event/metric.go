package event

import (
	"fmt"
	"time"
)

// MetricKind distinguishes absolute measurements from incremental deltas.
// The kind is preserved end-to-end; it is never inferred or coerced.
type MetricKind int

const (
	// KindAbsolute is a point-in-time measurement.
	KindAbsolute MetricKind = iota
	// KindIncremental is a delta to be accumulated.
	KindIncremental
)

// String returns the kind name.
func (k MetricKind) String() string {
	if k == KindAbsolute {
		return "absolute"
	}
	return "incremental"
}

// MetricSeries identifies a metric: name, optional namespace, and ordered
// tags. Tag order is preserved for serialization determinism.
type MetricSeries struct {
	Name      string
	Namespace string
	Tags      *Tags
}

// Tags is an ordered mapping from tag name to tag value.
type Tags struct {
	keys   []string
	values map[string]string
}

// NewTags creates an empty tag set.
func NewTags() *Tags {
	return &Tags{values: make(map[string]string)}
}

// Set inserts or replaces a tag, preserving the position of existing tags.
func (t *Tags) Set(key, value string) {
	if _, exists := t.values[key]; !exists {
		t.keys = append(t.keys, key)
	}
	t.values[key] = value
}

// Get returns a tag value.
func (t *Tags) Get(key string) (string, bool) {
	v, ok := t.values[key]
	return v, ok
}

// Len returns the number of tags.
func (t *Tags) Len() int {
	if t == nil {
		return 0
	}
	return len(t.keys)
}

// Range calls fn for each tag in insertion order.
func (t *Tags) Range(fn func(key, value string) bool) {
	if t == nil {
		return
	}
	for _, k := range t.keys {
		if !fn(k, t.values[k]) {
			return
		}
	}
}

// Clone copies the tag set.
func (t *Tags) Clone() *Tags {
	if t == nil {
		return nil
	}
	out := &Tags{
		keys:   make([]string, len(t.keys)),
		values: make(map[string]string, len(t.values)),
	}
	copy(out.keys, t.keys)
	for k, v := range t.values {
		out.values[k] = v
	}
	return out
}

// Equal reports equality including tag order.
func (t *Tags) Equal(other *Tags) bool {
	if t.Len() != other.Len() {
		return false
	}
	if t == nil {
		return true
	}
	for i, k := range t.keys {
		if other.keys[i] != k || other.values[k] != t.values[k] {
			return false
		}
	}
	return true
}

// MetricData is the time and value of a metric observation.
type MetricData struct {
	Kind      MetricKind
	Timestamp *time.Time
	Interval  time.Duration
	Value     MetricValue
}

// MetricValue is the sum of metric value variants. Adding values is additive
// within a variant and fails loudly across variants.
type MetricValue interface {
	// ValueKind returns the variant tag used in serialization and errors.
	ValueKind() string
	// Add merges another value of the same variant into a new value.
	Add(other MetricValue) (MetricValue, error)
	// CloneValue deep-copies the value.
	CloneValue() MetricValue
	// EqualValue reports deep equality with another value.
	EqualValue(other MetricValue) bool
}

func addMismatch(a, b MetricValue) error {
	return fmt.Errorf("cannot add metric value %s to %s", b.ValueKind(), a.ValueKind())
}

// Counter is a monotonically accumulated count.
type Counter struct {
	Value float64
}

// ValueKind implements MetricValue.
func (c Counter) ValueKind() string { return "counter" }

// Add implements MetricValue.
func (c Counter) Add(other MetricValue) (MetricValue, error) {
	o, ok := other.(Counter)
	if !ok {
		return nil, addMismatch(c, other)
	}
	return Counter{Value: c.Value + o.Value}, nil
}

// CloneValue implements MetricValue.
func (c Counter) CloneValue() MetricValue { return c }

// EqualValue implements MetricValue.
func (c Counter) EqualValue(other MetricValue) bool {
	o, ok := other.(Counter)
	return ok && c.Value == o.Value
}

// Gauge is an arbitrary point-in-time value.
type Gauge struct {
	Value float64
}

// ValueKind implements MetricValue.
func (g Gauge) ValueKind() string { return "gauge" }

// Add implements MetricValue. Incremental gauges accumulate offsets.
func (g Gauge) Add(other MetricValue) (MetricValue, error) {
	o, ok := other.(Gauge)
	if !ok {
		return nil, addMismatch(g, other)
	}
	return Gauge{Value: g.Value + o.Value}, nil
}

// CloneValue implements MetricValue.
func (g Gauge) CloneValue() MetricValue { return g }

// EqualValue implements MetricValue.
func (g Gauge) EqualValue(other MetricValue) bool {
	o, ok := other.(Gauge)
	return ok && g.Value == o.Value
}

// Set counts unique string members.
type Set struct {
	Values []string
}

// ValueKind implements MetricValue.
func (s Set) ValueKind() string { return "set" }

// Add implements MetricValue. The union preserves first-seen order.
func (s Set) Add(other MetricValue) (MetricValue, error) {
	o, ok := other.(Set)
	if !ok {
		return nil, addMismatch(s, other)
	}
	seen := make(map[string]struct{}, len(s.Values))
	out := make([]string, 0, len(s.Values)+len(o.Values))
	for _, v := range s.Values {
		if _, dup := seen[v]; !dup {
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	for _, v := range o.Values {
		if _, dup := seen[v]; !dup {
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return Set{Values: out}, nil
}

// CloneValue implements MetricValue.
func (s Set) CloneValue() MetricValue {
	out := make([]string, len(s.Values))
	copy(out, s.Values)
	return Set{Values: out}
}

// EqualValue implements MetricValue.
func (s Set) EqualValue(other MetricValue) bool {
	o, ok := other.(Set)
	if !ok || len(s.Values) != len(o.Values) {
		return false
	}
	for i := range s.Values {
		if s.Values[i] != o.Values[i] {
			return false
		}
	}
	return true
}

// Sample is one observation in a distribution.
type Sample struct {
	Value float64
	Rate  uint32
}

// StatisticKind selects how a distribution is summarized downstream.
type StatisticKind int

const (
	// StatisticHistogram summarizes into histogram buckets.
	StatisticHistogram StatisticKind = iota
	// StatisticSummary summarizes into quantiles.
	StatisticSummary
)

// Distribution is a set of raw samples.
type Distribution struct {
	Samples   []Sample
	Statistic StatisticKind
}

// ValueKind implements MetricValue.
func (d Distribution) ValueKind() string { return "distribution" }

// Add implements MetricValue. Sample sets concatenate; the statistic kinds
// must match.
func (d Distribution) Add(other MetricValue) (MetricValue, error) {
	o, ok := other.(Distribution)
	if !ok {
		return nil, addMismatch(d, other)
	}
	if d.Statistic != o.Statistic {
		return nil, fmt.Errorf("cannot add distributions with different statistics")
	}
	samples := make([]Sample, 0, len(d.Samples)+len(o.Samples))
	samples = append(samples, d.Samples...)
	samples = append(samples, o.Samples...)
	return Distribution{Samples: samples, Statistic: d.Statistic}, nil
}

// CloneValue implements MetricValue.
func (d Distribution) CloneValue() MetricValue {
	samples := make([]Sample, len(d.Samples))
	copy(samples, d.Samples)
	return Distribution{Samples: samples, Statistic: d.Statistic}
}

// EqualValue implements MetricValue.
func (d Distribution) EqualValue(other MetricValue) bool {
	o, ok := other.(Distribution)
	if !ok || d.Statistic != o.Statistic || len(d.Samples) != len(o.Samples) {
		return false
	}
	for i := range d.Samples {
		if d.Samples[i] != o.Samples[i] {
			return false
		}
	}
	return true
}

// HistogramBucket is one bucket of an aggregated histogram.
type HistogramBucket struct {
	UpperLimit float64
	Count      uint64
}

// AggregatedHistogram is a pre-bucketed histogram.
type AggregatedHistogram struct {
	Buckets []HistogramBucket
	Count   uint64
	Sum     float64
}

// ValueKind implements MetricValue.
func (h AggregatedHistogram) ValueKind() string { return "aggregated_histogram" }

// Add implements MetricValue. Bucket layouts must match exactly.
func (h AggregatedHistogram) Add(other MetricValue) (MetricValue, error) {
	o, ok := other.(AggregatedHistogram)
	if !ok {
		return nil, addMismatch(h, other)
	}
	if len(h.Buckets) != len(o.Buckets) {
		return nil, fmt.Errorf("cannot add histograms with different bucket layouts")
	}
	buckets := make([]HistogramBucket, len(h.Buckets))
	for i := range h.Buckets {
		if h.Buckets[i].UpperLimit != o.Buckets[i].UpperLimit {
			return nil, fmt.Errorf("cannot add histograms with different bucket layouts")
		}
		buckets[i] = HistogramBucket{
			UpperLimit: h.Buckets[i].UpperLimit,
			Count:      h.Buckets[i].Count + o.Buckets[i].Count,
		}
	}
	return AggregatedHistogram{
		Buckets: buckets,
		Count:   h.Count + o.Count,
		Sum:     h.Sum + o.Sum,
	}, nil
}

// CloneValue implements MetricValue.
func (h AggregatedHistogram) CloneValue() MetricValue {
	buckets := make([]HistogramBucket, len(h.Buckets))
	copy(buckets, h.Buckets)
	return AggregatedHistogram{Buckets: buckets, Count: h.Count, Sum: h.Sum}
}

// EqualValue implements MetricValue.
func (h AggregatedHistogram) EqualValue(other MetricValue) bool {
	o, ok := other.(AggregatedHistogram)
	if !ok || h.Count != o.Count || h.Sum != o.Sum || len(h.Buckets) != len(o.Buckets) {
		return false
	}
	for i := range h.Buckets {
		if h.Buckets[i] != o.Buckets[i] {
			return false
		}
	}
	return true
}

// SummaryQuantile is one quantile of an aggregated summary.
type SummaryQuantile struct {
	Quantile float64
	Value    float64
}

// AggregatedSummary is a pre-computed quantile summary. Summaries cannot be
// meaningfully re-aggregated, so Add always fails.
type AggregatedSummary struct {
	Quantiles []SummaryQuantile
	Count     uint64
	Sum       float64
}

// ValueKind implements MetricValue.
func (s AggregatedSummary) ValueKind() string { return "aggregated_summary" }

// Add implements MetricValue.
func (s AggregatedSummary) Add(other MetricValue) (MetricValue, error) {
	if _, ok := other.(AggregatedSummary); !ok {
		return nil, addMismatch(s, other)
	}
	return nil, fmt.Errorf("aggregated summaries cannot be added")
}

// CloneValue implements MetricValue.
func (s AggregatedSummary) CloneValue() MetricValue {
	qs := make([]SummaryQuantile, len(s.Quantiles))
	copy(qs, s.Quantiles)
	return AggregatedSummary{Quantiles: qs, Count: s.Count, Sum: s.Sum}
}

// EqualValue implements MetricValue.
func (s AggregatedSummary) EqualValue(other MetricValue) bool {
	o, ok := other.(AggregatedSummary)
	if !ok || s.Count != o.Count || s.Sum != o.Sum || len(s.Quantiles) != len(o.Quantiles) {
		return false
	}
	for i := range s.Quantiles {
		if s.Quantiles[i] != o.Quantiles[i] {
			return false
		}
	}
	return true
}

// Sketch is a quantile sketch with fixed-size summary statistics and
// key-indexed bins.
type Sketch struct {
	Count  uint32
	Min    float64
	Max    float64
	Sum    float64
	Avg    float64
	Keys   []int16
	Counts []uint16
}

// ValueKind implements MetricValue.
func (s Sketch) ValueKind() string { return "sketch" }

// Add implements MetricValue. Bins merge by key.
func (s Sketch) Add(other MetricValue) (MetricValue, error) {
	o, ok := other.(Sketch)
	if !ok {
		return nil, addMismatch(s, other)
	}
	merged := make(map[int16]uint32, len(s.Keys)+len(o.Keys))
	order := make([]int16, 0, len(s.Keys)+len(o.Keys))
	addBins := func(keys []int16, counts []uint16) error {
		if len(keys) != len(counts) {
			return fmt.Errorf("sketch bins malformed: %d keys, %d counts", len(keys), len(counts))
		}
		for i, k := range keys {
			if _, exists := merged[k]; !exists {
				order = append(order, k)
			}
			merged[k] += uint32(counts[i])
		}
		return nil
	}
	if err := addBins(s.Keys, s.Counts); err != nil {
		return nil, err
	}
	if err := addBins(o.Keys, o.Counts); err != nil {
		return nil, err
	}

	out := Sketch{
		Count: s.Count + o.Count,
		Min:   s.Min,
		Max:   s.Max,
		Sum:   s.Sum + o.Sum,
	}
	if o.Min < out.Min {
		out.Min = o.Min
	}
	if o.Max > out.Max {
		out.Max = o.Max
	}
	if out.Count > 0 {
		out.Avg = out.Sum / float64(out.Count)
	}
	out.Keys = make([]int16, len(order))
	out.Counts = make([]uint16, len(order))
	for i, k := range order {
		c := merged[k]
		if c > 0xFFFF {
			c = 0xFFFF
		}
		out.Keys[i] = k
		out.Counts[i] = uint16(c)
	}
	return out, nil
}

// CloneValue implements MetricValue.
func (s Sketch) CloneValue() MetricValue {
	keys := make([]int16, len(s.Keys))
	copy(keys, s.Keys)
	counts := make([]uint16, len(s.Counts))
	copy(counts, s.Counts)
	out := s
	out.Keys = keys
	out.Counts = counts
	return out
}

// EqualValue implements MetricValue.
func (s Sketch) EqualValue(other MetricValue) bool {
	o, ok := other.(Sketch)
	if !ok || s.Count != o.Count || s.Min != o.Min || s.Max != o.Max ||
		s.Sum != o.Sum || s.Avg != o.Avg ||
		len(s.Keys) != len(o.Keys) || len(s.Counts) != len(o.Counts) {
		return false
	}
	for i := range s.Keys {
		if s.Keys[i] != o.Keys[i] || s.Counts[i] != o.Counts[i] {
			return false
		}
	}
	return true
}

// Metric is a (series, data, metadata) triple.
type Metric struct {
	Series MetricSeries
	Data   MetricData
	meta   *Metadata
}

// NewMetric creates a metric with empty metadata.
func NewMetric(name string, kind MetricKind, value MetricValue) *Metric {
	return &Metric{
		Series: MetricSeries{Name: name, Tags: NewTags()},
		Data:   MetricData{Kind: kind, Value: value},
		meta:   NewMetadata(),
	}
}

// Metadata returns the metric's metadata.
func (m *Metric) Metadata() *Metadata {
	return m.meta
}

// WithNamespace sets the namespace and returns the metric for chaining.
func (m *Metric) WithNamespace(ns string) *Metric {
	m.Series.Namespace = ns
	return m
}

// WithTag adds a tag and returns the metric for chaining.
func (m *Metric) WithTag(key, value string) *Metric {
	if m.Series.Tags == nil {
		m.Series.Tags = NewTags()
	}
	m.Series.Tags.Set(key, value)
	return m
}

// WithTimestamp sets the observation time and returns the metric.
func (m *Metric) WithTimestamp(t time.Time) *Metric {
	utc := t.UTC()
	m.Data.Timestamp = &utc
	return m
}

// WithInterval sets the aggregation interval and returns the metric.
func (m *Metric) WithInterval(d time.Duration) *Metric {
	m.Data.Interval = d
	return m
}

// SeriesKey returns a deterministic identity key for the series, used for
// aggregation grouping.
func (m *Metric) SeriesKey() string {
	key := m.Series.Namespace + "\x00" + m.Series.Name
	m.Series.Tags.Range(func(k, v string) bool {
		key += "\x00" + k + "\x01" + v
		return true
	})
	return key
}

// Add accumulates another metric's value into this one. Both must be
// incremental and carry the same value variant; anything else is an error.
// The other metric's finalizers are merged in.
func (m *Metric) Add(other *Metric) error {
	if m.Data.Kind != KindIncremental || other.Data.Kind != KindIncremental {
		return fmt.Errorf("can only add incremental metrics, got %s + %s",
			m.Data.Kind, other.Data.Kind)
	}
	sum, err := m.Data.Value.Add(other.Data.Value)
	if err != nil {
		return err
	}
	m.Data.Value = sum
	if other.Data.Timestamp != nil {
		m.Data.Timestamp = other.Data.Timestamp
	}
	m.meta.Merge(other.meta)
	return nil
}

// Clone deep-copies the metric, cloning finalizer references.
func (m *Metric) Clone() *Metric {
	out := &Metric{
		Series: MetricSeries{
			Name:      m.Series.Name,
			Namespace: m.Series.Namespace,
			Tags:      m.Series.Tags.Clone(),
		},
		Data: MetricData{
			Kind:     m.Data.Kind,
			Interval: m.Data.Interval,
			Value:    m.Data.Value.CloneValue(),
		},
		meta: m.meta.Clone(),
	}
	if m.Data.Timestamp != nil {
		ts := *m.Data.Timestamp
		out.Data.Timestamp = &ts
	}
	return out
}

// Equal reports equality of series and data. Metadata is not compared.
func (m *Metric) Equal(other *Metric) bool {
	if m.Series.Name != other.Series.Name ||
		m.Series.Namespace != other.Series.Namespace ||
		!m.Series.Tags.Equal(other.Series.Tags) {
		return false
	}
	if m.Data.Kind != other.Data.Kind || m.Data.Interval != other.Data.Interval {
		return false
	}
	if (m.Data.Timestamp == nil) != (other.Data.Timestamp == nil) {
		return false
	}
	if m.Data.Timestamp != nil && !m.Data.Timestamp.Equal(*other.Data.Timestamp) {
		return false
	}
	return m.Data.Value.EqualValue(other.Data.Value)
}
