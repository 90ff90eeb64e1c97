package event

import (
	"bytes"
	"encoding/json"
	"time"
)

// JSON rendering for operator-facing surfaces (console sink, tap streaming).
// This is a lossy projection: bytes render as strings, timestamps as RFC3339,
// regexes as their pattern. The lossless format is the native codec.

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindBoolean:
		return json.Marshal(v.boolean)
	case KindInteger:
		return json.Marshal(v.integer)
	case KindFloat:
		return json.Marshal(v.float)
	case KindBytes:
		return json.Marshal(string(v.bytes))
	case KindTimestamp:
		return json.Marshal(v.ts.Format(time.RFC3339Nano))
	case KindRegex:
		return json.Marshal(v.re.String())
	case KindArray:
		return json.Marshal(v.arr)
	case KindObject:
		return v.obj.MarshalJSON()
	default:
		return []byte("null"), nil
	}
}

// MarshalJSON implements json.Marshaler, preserving key order.
func (o *Object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range o.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyJSON, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(keyJSON)
		buf.WriteByte(':')
		valJSON, err := json.Marshal(o.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(valJSON)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MarshalJSON implements json.Marshaler.
func (l *LogEvent) MarshalJSON() ([]byte, error) {
	return l.fields.MarshalJSON()
}

// MarshalJSON implements json.Marshaler.
func (m *Metric) MarshalJSON() ([]byte, error) {
	out := struct {
		Name      string            `json:"name"`
		Namespace string            `json:"namespace,omitempty"`
		Tags      map[string]string `json:"tags,omitempty"`
		Kind      string            `json:"kind"`
		Type      string            `json:"type"`
		Timestamp *time.Time        `json:"timestamp,omitempty"`
	}{
		Name:      m.Series.Name,
		Namespace: m.Series.Namespace,
		Kind:      m.Data.Kind.String(),
		Type:      m.Data.Value.ValueKind(),
		Timestamp: m.Data.Timestamp,
	}
	if m.Series.Tags.Len() > 0 {
		out.Tags = make(map[string]string, m.Series.Tags.Len())
		m.Series.Tags.Range(func(k, v string) bool {
			out.Tags[k] = v
			return true
		})
	}
	return json.Marshal(out)
}

// MarshalJSON implements json.Marshaler, tagging the variant.
func (e Event) MarshalJSON() ([]byte, error) {
	switch {
	case e.log != nil:
		return json.Marshal(struct {
			Log *LogEvent `json:"log"`
		}{e.log})
	case e.metric != nil:
		return json.Marshal(struct {
			Metric *Metric `json:"metric"`
		}{e.metric})
	case e.trace != nil:
		return json.Marshal(struct {
			Trace *LogEvent `json:"trace"`
		}{&e.trace.LogEvent})
	default:
		return []byte("null"), nil
	}
}
