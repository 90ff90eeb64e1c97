package event

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"regexp"
	"time"
)

// Native serialization. The encoding is little-endian and deterministic:
// object fields and tags serialize in insertion order, and floats are
// normalized (-0.0 encodes as 0.0). Encode/decode of any event through this
// codec is the identity on all observable fields. The disk buffer stores
// records in this encoding.

const (
	codecVersion = 1

	variantLog    = 0
	variantMetric = 1
	variantTrace  = 2
)

// Encode serializes the event into the native encoding.
func (e Event) Encode() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(codecVersion)
	switch {
	case e.log != nil:
		buf.WriteByte(variantLog)
		if err := encodeObject(&buf, e.log.fields); err != nil {
			return nil, err
		}
	case e.metric != nil:
		buf.WriteByte(variantMetric)
		if err := encodeMetric(&buf, e.metric); err != nil {
			return nil, err
		}
	case e.trace != nil:
		buf.WriteByte(variantTrace)
		if err := encodeObject(&buf, e.trace.fields); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("cannot encode zero event")
	}
	return buf.Bytes(), nil
}

// Decode deserializes an event from the native encoding.
func Decode(data []byte) (Event, error) {
	r := bytes.NewReader(data)
	version, err := r.ReadByte()
	if err != nil {
		return Event{}, fmt.Errorf("read codec version: %w", err)
	}
	if version != codecVersion {
		return Event{}, fmt.Errorf("unsupported codec version %d", version)
	}
	variant, err := r.ReadByte()
	if err != nil {
		return Event{}, fmt.Errorf("read event variant: %w", err)
	}
	switch variant {
	case variantLog:
		obj, err := decodeObject(r)
		if err != nil {
			return Event{}, err
		}
		return FromLog(LogFromObject(obj)), nil
	case variantMetric:
		m, err := decodeMetric(r)
		if err != nil {
			return Event{}, err
		}
		return FromMetric(m), nil
	case variantTrace:
		obj, err := decodeObject(r)
		if err != nil {
			return Event{}, err
		}
		return FromTrace(TraceFromObject(obj)), nil
	default:
		return Event{}, fmt.Errorf("unknown event variant %d", variant)
	}
}

func writeUint16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeFloat(buf *bytes.Buffer, f float64) {
	writeUint64(buf, math.Float64bits(normalizeFloat(f)))
}

func writeString(buf *bytes.Buffer, s string) {
	writeUint32(buf, uint32(len(s)))
	buf.WriteString(s)
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	writeUint32(buf, uint32(len(b)))
	buf.Write(b)
}

func readUint16(r *bytes.Reader) (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b[:]), nil
}

func readUint32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func readUint64(r *bytes.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

func readFloat(r *bytes.Reader) (float64, error) {
	bits, err := readUint64(r)
	if err != nil {
		return 0, err
	}
	f := math.Float64frombits(bits)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("decoded non-finite float")
	}
	return f, nil
}

func readString(r *bytes.Reader) (string, error) {
	b, err := readByteSlice(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func readByteSlice(r *bytes.Reader) ([]byte, error) {
	length, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	if int(length) > r.Len() {
		return nil, fmt.Errorf("declared length %d exceeds remaining %d", length, r.Len())
	}
	b := make([]byte, length)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func encodeValue(buf *bytes.Buffer, v Value) error {
	buf.WriteByte(byte(v.kind))
	switch v.kind {
	case KindNull:
	case KindBoolean:
		if v.boolean {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case KindInteger:
		writeUint64(buf, uint64(v.integer))
	case KindFloat:
		writeFloat(buf, v.float)
	case KindBytes:
		writeBytes(buf, v.bytes)
	case KindTimestamp:
		writeUint64(buf, uint64(v.ts.UnixNano()))
	case KindRegex:
		writeString(buf, v.re.String())
	case KindArray:
		writeUint32(buf, uint32(len(v.arr)))
		for _, el := range v.arr {
			if err := encodeValue(buf, el); err != nil {
				return err
			}
		}
	case KindObject:
		return encodeObject(buf, v.obj)
	default:
		return fmt.Errorf("cannot encode value kind %d", v.kind)
	}
	return nil
}

func encodeObject(buf *bytes.Buffer, o *Object) error {
	writeUint32(buf, uint32(o.Len()))
	for _, k := range o.keys {
		writeString(buf, k)
		if err := encodeValue(buf, o.values[k]); err != nil {
			return err
		}
	}
	return nil
}

func decodeValue(r *bytes.Reader) (Value, error) {
	kindByte, err := r.ReadByte()
	if err != nil {
		return Value{}, err
	}
	kind := ValueKind(kindByte)
	switch kind {
	case KindNull:
		return Null(), nil
	case KindBoolean:
		b, err := r.ReadByte()
		if err != nil {
			return Value{}, err
		}
		return Bool(b != 0), nil
	case KindInteger:
		u, err := readUint64(r)
		if err != nil {
			return Value{}, err
		}
		return Int(int64(u)), nil
	case KindFloat:
		f, err := readFloat(r)
		if err != nil {
			return Value{}, err
		}
		return Value{kind: KindFloat, float: normalizeFloat(f)}, nil
	case KindBytes:
		b, err := readByteSlice(r)
		if err != nil {
			return Value{}, err
		}
		return Bytes(b), nil
	case KindTimestamp:
		nanos, err := readUint64(r)
		if err != nil {
			return Value{}, err
		}
		return Timestamp(time.Unix(0, int64(nanos)).UTC()), nil
	case KindRegex:
		pattern, err := readString(r)
		if err != nil {
			return Value{}, err
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return Value{}, fmt.Errorf("decode regex: %w", err)
		}
		return Regex(re), nil
	case KindArray:
		count, err := readUint32(r)
		if err != nil {
			return Value{}, err
		}
		arr := make([]Value, 0, count)
		for i := uint32(0); i < count; i++ {
			el, err := decodeValue(r)
			if err != nil {
				return Value{}, err
			}
			arr = append(arr, el)
		}
		return Array(arr), nil
	case KindObject:
		obj, err := decodeObject(r)
		if err != nil {
			return Value{}, err
		}
		return ObjectValue(obj), nil
	default:
		return Value{}, fmt.Errorf("unknown value kind %d", kind)
	}
}

func decodeObject(r *bytes.Reader) (*Object, error) {
	count, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	obj := NewObject()
	for i := uint32(0); i < count; i++ {
		key, err := readString(r)
		if err != nil {
			return nil, err
		}
		v, err := decodeValue(r)
		if err != nil {
			return nil, err
		}
		obj.Set(key, v)
	}
	return obj, nil
}

const (
	mvCounter             = 0
	mvGauge               = 1
	mvSet                 = 2
	mvDistribution        = 3
	mvAggregatedHistogram = 4
	mvAggregatedSummary   = 5
	mvSketch              = 6
)

func encodeMetric(buf *bytes.Buffer, m *Metric) error {
	writeString(buf, m.Series.Name)
	writeString(buf, m.Series.Namespace)
	writeUint32(buf, uint32(m.Series.Tags.Len()))
	m.Series.Tags.Range(func(k, v string) bool {
		writeString(buf, k)
		writeString(buf, v)
		return true
	})
	buf.WriteByte(byte(m.Data.Kind))
	if m.Data.Timestamp != nil {
		buf.WriteByte(1)
		writeUint64(buf, uint64(m.Data.Timestamp.UnixNano()))
	} else {
		buf.WriteByte(0)
	}
	writeUint64(buf, uint64(m.Data.Interval))
	return encodeMetricValue(buf, m.Data.Value)
}

func encodeMetricValue(buf *bytes.Buffer, v MetricValue) error {
	switch mv := v.(type) {
	case Counter:
		buf.WriteByte(mvCounter)
		writeFloat(buf, mv.Value)
	case Gauge:
		buf.WriteByte(mvGauge)
		writeFloat(buf, mv.Value)
	case Set:
		buf.WriteByte(mvSet)
		writeUint32(buf, uint32(len(mv.Values)))
		for _, s := range mv.Values {
			writeString(buf, s)
		}
	case Distribution:
		buf.WriteByte(mvDistribution)
		buf.WriteByte(byte(mv.Statistic))
		writeUint32(buf, uint32(len(mv.Samples)))
		for _, s := range mv.Samples {
			writeFloat(buf, s.Value)
			writeUint32(buf, s.Rate)
		}
	case AggregatedHistogram:
		buf.WriteByte(mvAggregatedHistogram)
		writeUint32(buf, uint32(len(mv.Buckets)))
		for _, b := range mv.Buckets {
			writeFloat(buf, b.UpperLimit)
			writeUint64(buf, b.Count)
		}
		writeUint64(buf, mv.Count)
		writeFloat(buf, mv.Sum)
	case AggregatedSummary:
		buf.WriteByte(mvAggregatedSummary)
		writeUint32(buf, uint32(len(mv.Quantiles)))
		for _, q := range mv.Quantiles {
			writeFloat(buf, q.Quantile)
			writeFloat(buf, q.Value)
		}
		writeUint64(buf, mv.Count)
		writeFloat(buf, mv.Sum)
	case Sketch:
		buf.WriteByte(mvSketch)
		writeUint32(buf, mv.Count)
		writeFloat(buf, mv.Min)
		writeFloat(buf, mv.Max)
		writeFloat(buf, mv.Sum)
		writeFloat(buf, mv.Avg)
		writeUint32(buf, uint32(len(mv.Keys)))
		for i := range mv.Keys {
			writeUint16(buf, uint16(mv.Keys[i]))
			writeUint16(buf, mv.Counts[i])
		}
	default:
		return fmt.Errorf("cannot encode metric value %s", v.ValueKind())
	}
	return nil
}

func decodeMetric(r *bytes.Reader) (*Metric, error) {
	name, err := readString(r)
	if err != nil {
		return nil, err
	}
	namespace, err := readString(r)
	if err != nil {
		return nil, err
	}
	tagCount, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	tags := NewTags()
	for i := uint32(0); i < tagCount; i++ {
		k, err := readString(r)
		if err != nil {
			return nil, err
		}
		v, err := readString(r)
		if err != nil {
			return nil, err
		}
		tags.Set(k, v)
	}
	kindByte, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	hasTS, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	var ts *time.Time
	if hasTS == 1 {
		nanos, err := readUint64(r)
		if err != nil {
			return nil, err
		}
		t := time.Unix(0, int64(nanos)).UTC()
		ts = &t
	}
	interval, err := readUint64(r)
	if err != nil {
		return nil, err
	}
	value, err := decodeMetricValue(r)
	if err != nil {
		return nil, err
	}
	return &Metric{
		Series: MetricSeries{Name: name, Namespace: namespace, Tags: tags},
		Data: MetricData{
			Kind:      MetricKind(kindByte),
			Timestamp: ts,
			Interval:  time.Duration(interval),
			Value:     value,
		},
		meta: NewMetadata(),
	}, nil
}

func decodeMetricValue(r *bytes.Reader) (MetricValue, error) {
	tag, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	switch tag {
	case mvCounter:
		v, err := readFloat(r)
		if err != nil {
			return nil, err
		}
		return Counter{Value: v}, nil
	case mvGauge:
		v, err := readFloat(r)
		if err != nil {
			return nil, err
		}
		return Gauge{Value: v}, nil
	case mvSet:
		count, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		values := make([]string, 0, count)
		for i := uint32(0); i < count; i++ {
			s, err := readString(r)
			if err != nil {
				return nil, err
			}
			values = append(values, s)
		}
		return Set{Values: values}, nil
	case mvDistribution:
		statByte, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		count, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		samples := make([]Sample, 0, count)
		for i := uint32(0); i < count; i++ {
			v, err := readFloat(r)
			if err != nil {
				return nil, err
			}
			rate, err := readUint32(r)
			if err != nil {
				return nil, err
			}
			samples = append(samples, Sample{Value: v, Rate: rate})
		}
		return Distribution{Samples: samples, Statistic: StatisticKind(statByte)}, nil
	case mvAggregatedHistogram:
		count, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		buckets := make([]HistogramBucket, 0, count)
		for i := uint32(0); i < count; i++ {
			limit, err := readFloat(r)
			if err != nil {
				return nil, err
			}
			n, err := readUint64(r)
			if err != nil {
				return nil, err
			}
			buckets = append(buckets, HistogramBucket{UpperLimit: limit, Count: n})
		}
		total, err := readUint64(r)
		if err != nil {
			return nil, err
		}
		sum, err := readFloat(r)
		if err != nil {
			return nil, err
		}
		return AggregatedHistogram{Buckets: buckets, Count: total, Sum: sum}, nil
	case mvAggregatedSummary:
		count, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		quantiles := make([]SummaryQuantile, 0, count)
		for i := uint32(0); i < count; i++ {
			q, err := readFloat(r)
			if err != nil {
				return nil, err
			}
			v, err := readFloat(r)
			if err != nil {
				return nil, err
			}
			quantiles = append(quantiles, SummaryQuantile{Quantile: q, Value: v})
		}
		total, err := readUint64(r)
		if err != nil {
			return nil, err
		}
		sum, err := readFloat(r)
		if err != nil {
			return nil, err
		}
		return AggregatedSummary{Quantiles: quantiles, Count: total, Sum: sum}, nil
	case mvSketch:
		var s Sketch
		if s.Count, err = readUint32(r); err != nil {
			return nil, err
		}
		if s.Min, err = readFloat(r); err != nil {
			return nil, err
		}
		if s.Max, err = readFloat(r); err != nil {
			return nil, err
		}
		if s.Sum, err = readFloat(r); err != nil {
			return nil, err
		}
		if s.Avg, err = readFloat(r); err != nil {
			return nil, err
		}
		binCount, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		s.Keys = make([]int16, 0, binCount)
		s.Counts = make([]uint16, 0, binCount)
		for i := uint32(0); i < binCount; i++ {
			k, err := readUint16(r)
			if err != nil {
				return nil, err
			}
			c, err := readUint16(r)
			if err != nil {
				return nil, err
			}
			s.Keys = append(s.Keys, int16(k))
			s.Counts = append(s.Counts, c)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown metric value tag %d", tag)
	}
}
