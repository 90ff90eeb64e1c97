// Package event defines the in-memory representation of the data flowing
// through the pipeline: logs, metrics, and traces, together with the
// finalization machinery that threads end-to-end delivery status from sinks
// back to sources.
package event

import (
	"fmt"
	"math"
	"regexp"
	"time"
)

// ValueKind identifies the variant held by a Value.
type ValueKind int

const (
	// KindNull is the null value.
	KindNull ValueKind = iota
	// KindBoolean holds a bool.
	KindBoolean
	// KindInteger holds an int64.
	KindInteger
	// KindFloat holds a finite float64. NaN is rejected at construction.
	KindFloat
	// KindBytes holds a byte string.
	KindBytes
	// KindTimestamp holds a UTC timestamp.
	KindTimestamp
	// KindRegex holds a compiled regular expression.
	KindRegex
	// KindArray holds a sequence of values.
	KindArray
	// KindObject holds an ordered mapping from string to Value.
	KindObject
)

// String returns the kind name used in diagnostics and type errors.
func (k ValueKind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBoolean:
		return "boolean"
	case KindInteger:
		return "integer"
	case KindFloat:
		return "float"
	case KindBytes:
		return "bytes"
	case KindTimestamp:
		return "timestamp"
	case KindRegex:
		return "regex"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

// Value is the recursive sum type for log event fields.
//
// The zero Value is Null. Values are compared and serialized
// deterministically; object fields preserve insertion order.
type Value struct {
	kind    ValueKind
	boolean bool
	integer int64
	float   float64
	bytes   []byte
	ts      time.Time
	re      *regexp.Regexp
	arr     []Value
	obj     *Object
}

// Null returns the null value.
func Null() Value {
	return Value{kind: KindNull}
}

// Bool returns a boolean value.
func Bool(b bool) Value {
	return Value{kind: KindBoolean, boolean: b}
}

// Int returns an integer value.
func Int(i int64) Value {
	return Value{kind: KindInteger, integer: i}
}

// Float returns a float value. NaN and infinities violate the event model
// invariant and are rejected.
func Float(f float64) (Value, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Value{}, fmt.Errorf("float value must be finite, got %v", f)
	}
	return Value{kind: KindFloat, float: normalizeFloat(f)}, nil
}

// MustFloat returns a float value and panics on a non-finite input. Use only
// with literals and values already known to be finite.
func MustFloat(f float64) Value {
	v, err := Float(f)
	if err != nil {
		panic(err)
	}
	return v
}

// Bytes returns a byte-string value. The slice is not copied.
func Bytes(b []byte) Value {
	return Value{kind: KindBytes, bytes: b}
}

// String returns a byte-string value from a Go string.
func String(s string) Value {
	return Value{kind: KindBytes, bytes: []byte(s)}
}

// Timestamp returns a timestamp value, normalized to UTC.
func Timestamp(t time.Time) Value {
	return Value{kind: KindTimestamp, ts: t.UTC()}
}

// Regex returns a regular expression value.
func Regex(re *regexp.Regexp) Value {
	return Value{kind: KindRegex, re: re}
}

// Array returns an array value. The slice is not copied.
func Array(vs []Value) Value {
	return Value{kind: KindArray, arr: vs}
}

// ObjectValue returns an object value backed by the given ordered map.
func ObjectValue(o *Object) Value {
	if o == nil {
		o = NewObject()
	}
	return Value{kind: KindObject, obj: o}
}

// normalizeFloat maps -0.0 to 0.0 so that encoding is deterministic.
func normalizeFloat(f float64) float64 {
	if f == 0 {
		return 0
	}
	return f
}

// Kind returns the variant held by the value.
func (v Value) Kind() ValueKind {
	return v.kind
}

// IsNull reports whether the value is null.
func (v Value) IsNull() bool {
	return v.kind == KindNull
}

// AsBool returns the boolean payload.
func (v Value) AsBool() (bool, bool) {
	return v.boolean, v.kind == KindBoolean
}

// AsInt returns the integer payload.
func (v Value) AsInt() (int64, bool) {
	return v.integer, v.kind == KindInteger
}

// AsFloat returns the float payload.
func (v Value) AsFloat() (float64, bool) {
	return v.float, v.kind == KindFloat
}

// AsBytes returns the byte-string payload.
func (v Value) AsBytes() ([]byte, bool) {
	return v.bytes, v.kind == KindBytes
}

// AsString returns the byte-string payload as a Go string.
func (v Value) AsString() (string, bool) {
	if v.kind != KindBytes {
		return "", false
	}
	return string(v.bytes), true
}

// AsTimestamp returns the timestamp payload.
func (v Value) AsTimestamp() (time.Time, bool) {
	return v.ts, v.kind == KindTimestamp
}

// AsRegex returns the regular expression payload.
func (v Value) AsRegex() (*regexp.Regexp, bool) {
	return v.re, v.kind == KindRegex
}

// AsArray returns the array payload. Mutating the returned slice mutates the
// value.
func (v Value) AsArray() ([]Value, bool) {
	return v.arr, v.kind == KindArray
}

// AsObject returns the object payload. Mutating the returned object mutates
// the value.
func (v Value) AsObject() (*Object, bool) {
	return v.obj, v.kind == KindObject
}

// Clone returns a deep copy of the value. Regexes are shared; they are
// immutable once compiled.
func (v Value) Clone() Value {
	switch v.kind {
	case KindBytes:
		b := make([]byte, len(v.bytes))
		copy(b, v.bytes)
		return Value{kind: KindBytes, bytes: b}
	case KindArray:
		arr := make([]Value, len(v.arr))
		for i, el := range v.arr {
			arr[i] = el.Clone()
		}
		return Value{kind: KindArray, arr: arr}
	case KindObject:
		return Value{kind: KindObject, obj: v.obj.Clone()}
	default:
		return v
	}
}

// Equal reports deep equality of two values. Regexes compare by pattern.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBoolean:
		return v.boolean == other.boolean
	case KindInteger:
		return v.integer == other.integer
	case KindFloat:
		return v.float == other.float
	case KindBytes:
		return string(v.bytes) == string(other.bytes)
	case KindTimestamp:
		return v.ts.Equal(other.ts)
	case KindRegex:
		return v.re.String() == other.re.String()
	case KindArray:
		if len(v.arr) != len(other.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(other.arr[i]) {
				return false
			}
		}
		return true
	case KindObject:
		return v.obj.Equal(other.obj)
	default:
		return false
	}
}

// String implements fmt.Stringer for diagnostics.
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindBoolean:
		return fmt.Sprintf("%t", v.boolean)
	case KindInteger:
		return fmt.Sprintf("%d", v.integer)
	case KindFloat:
		return fmt.Sprintf("%g", v.float)
	case KindBytes:
		return string(v.bytes)
	case KindTimestamp:
		return v.ts.Format(time.RFC3339Nano)
	case KindRegex:
		return v.re.String()
	case KindArray:
		return fmt.Sprintf("%v", v.arr)
	case KindObject:
		return v.obj.String()
	default:
		return "unknown"
	}
}

// Object is an ordered mapping from string keys to values. Insertion order
// is preserved for serialization determinism; updating an existing key keeps
// its original position.
type Object struct {
	keys   []string
	values map[string]Value
}

// NewObject creates an empty ordered object.
func NewObject() *Object {
	return &Object{values: make(map[string]Value)}
}

// Set inserts or replaces the value for key.
func (o *Object) Set(key string, v Value) {
	if _, exists := o.values[key]; !exists {
		o.keys = append(o.keys, key)
	}
	o.values[key] = v
}

// Get returns the value for key.
func (o *Object) Get(key string) (Value, bool) {
	v, ok := o.values[key]
	return v, ok
}

// Delete removes key and returns its previous value.
func (o *Object) Delete(key string) (Value, bool) {
	v, ok := o.values[key]
	if !ok {
		return Value{}, false
	}
	delete(o.values, key)
	for i, k := range o.keys {
		if k == key {
			o.keys = append(o.keys[:i], o.keys[i+1:]...)
			break
		}
	}
	return v, true
}

// Len returns the number of entries.
func (o *Object) Len() int {
	return len(o.keys)
}

// Keys returns the keys in insertion order. The slice must not be mutated.
func (o *Object) Keys() []string {
	return o.keys
}

// Range calls fn for each entry in insertion order, stopping if fn returns
// false.
func (o *Object) Range(fn func(key string, v Value) bool) {
	for _, k := range o.keys {
		if !fn(k, o.values[k]) {
			return
		}
	}
}

// Clone returns a deep copy of the object.
func (o *Object) Clone() *Object {
	out := &Object{
		keys:   make([]string, len(o.keys)),
		values: make(map[string]Value, len(o.values)),
	}
	copy(out.keys, o.keys)
	for k, v := range o.values {
		out.values[k] = v.Clone()
	}
	return out
}

// Equal reports deep equality, including key order.
func (o *Object) Equal(other *Object) bool {
	if o.Len() != other.Len() {
		return false
	}
	for i, k := range o.keys {
		if other.keys[i] != k {
			return false
		}
		if !o.values[k].Equal(other.values[k]) {
			return false
		}
	}
	return true
}

// String implements fmt.Stringer for diagnostics.
func (o *Object) String() string {
	s := "{"
	for i, k := range o.keys {
		if i > 0 {
			s += ", "
		}
		s += fmt.Sprintf("%q: %s", k, o.values[k].String())
	}
	return s + "}"
}
