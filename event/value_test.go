package event

import (
	"math"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFloatRejectsNonFinite(t *testing.T) {
	for _, f := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := Float(f)
		require.Error(t, err, "expected %v to be rejected", f)
	}

	v, err := Float(3.14)
	require.NoError(t, err)
	got, ok := v.AsFloat()
	require.True(t, ok)
	assert.Equal(t, 3.14, got)
}

func TestFloatNormalizesNegativeZero(t *testing.T) {
	v := MustFloat(math.Copysign(0, -1))
	f, ok := v.AsFloat()
	require.True(t, ok)
	assert.False(t, math.Signbit(f), "-0.0 must normalize to 0.0")
}

func TestObjectPreservesInsertionOrder(t *testing.T) {
	o := NewObject()
	o.Set("zulu", Int(1))
	o.Set("alpha", Int(2))
	o.Set("mike", Int(3))

	assert.Equal(t, []string{"zulu", "alpha", "mike"}, o.Keys())

	// Updating a key keeps its position.
	o.Set("alpha", Int(99))
	assert.Equal(t, []string{"zulu", "alpha", "mike"}, o.Keys())

	v, ok := o.Get("alpha")
	require.True(t, ok)
	i, _ := v.AsInt()
	assert.Equal(t, int64(99), i)
}

func TestObjectDelete(t *testing.T) {
	o := NewObject()
	o.Set("a", Int(1))
	o.Set("b", Int(2))

	old, ok := o.Delete("a")
	require.True(t, ok)
	i, _ := old.AsInt()
	assert.Equal(t, int64(1), i)
	assert.Equal(t, []string{"b"}, o.Keys())

	_, ok = o.Delete("missing")
	assert.False(t, ok)
}

func TestValueCloneIsDeep(t *testing.T) {
	inner := NewObject()
	inner.Set("n", Int(1))
	o := NewObject()
	o.Set("nested", ObjectValue(inner))
	o.Set("list", Array([]Value{String("x")}))

	v := ObjectValue(o)
	clone := v.Clone()

	// Mutate the original; the clone must not change.
	inner.Set("n", Int(42))
	arr, _ := v.AsArray()
	_ = arr

	cloneObj, _ := clone.AsObject()
	nested, _ := cloneObj.Get("nested")
	nestedObj, _ := nested.AsObject()
	n, _ := nestedObj.Get("n")
	i, _ := n.AsInt()
	assert.Equal(t, int64(1), i)
}

func TestValueEqual(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	re := regexp.MustCompile(`^foo`)

	tests := []struct {
		name string
		a, b Value
		want bool
	}{
		{"null equal", Null(), Null(), true},
		{"bool equal", Bool(true), Bool(true), true},
		{"bool unequal", Bool(true), Bool(false), false},
		{"int equal", Int(7), Int(7), true},
		{"kind mismatch", Int(7), MustFloat(7), false},
		{"bytes equal", String("abc"), Bytes([]byte("abc")), true},
		{"timestamp equal", Timestamp(ts), Timestamp(ts), true},
		{"regex by pattern", Regex(re), Regex(regexp.MustCompile(`^foo`)), true},
		{"array equal", Array([]Value{Int(1), Int(2)}), Array([]Value{Int(1), Int(2)}), true},
		{"array length mismatch", Array([]Value{Int(1)}), Array([]Value{Int(1), Int(2)}), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Equal(tt.b))
		})
	}
}

func TestObjectEqualConsidersOrder(t *testing.T) {
	a := NewObject()
	a.Set("x", Int(1))
	a.Set("y", Int(2))

	b := NewObject()
	b.Set("y", Int(2))
	b.Set("x", Int(1))

	assert.False(t, a.Equal(b), "objects with different key order are not equal")
}
