package event

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b Value
		want bool
	}{
		{"int int", Int(1), Int(1), true},
		{"int float", Int(2), Float(2), true},
		{"float mismatch", Float(2.5), Int(2), false},
		{"string", String("a"), String("a"), true},
		{"string mismatch", String("a"), String("b"), false},
		{"bool", Bool(true), Bool(true), true},
		{"kind mismatch", String("1"), Int(1), false},
		{"null never equal", Null(), Null(), false},
		{"zero value is null", Value{}, Int(0), false},
		{"int float at 2^53", Int(1 << 53), Float(1 << 53), true},
		{"int above 2^53 is not rounded", Int(1<<53 + 1), Float(1 << 53), false},
		{"int float at int64 min", Int(math.MinInt64), Float(math.MinInt64), true},
		{"float beyond int64", Int(math.MaxInt64), Float(1 << 63), false},
		{"nan", Float(math.NaN()), Float(math.NaN()), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Equal(tt.b))
		})
	}
}

func TestValueCompare(t *testing.T) {
	c, ok := Int(1).Compare(Float(1.5))
	require.True(t, ok)
	assert.Equal(t, -1, c)

	c, ok = String("b").Compare(String("a"))
	require.True(t, ok)
	assert.Equal(t, 1, c)

	_, ok = String("b").Compare(Int(1))
	assert.False(t, ok)

	_, ok = Null().Compare(Int(1))
	assert.False(t, ok)

	c, ok = Int(1<<53 + 1).Compare(Float(1 << 53))
	require.True(t, ok)
	assert.Equal(t, 1, c)

	c, ok = Float(1 << 53).Compare(Int(1<<53 + 1))
	require.True(t, ok)
	assert.Equal(t, -1, c)

	c, ok = Int(-2).Compare(Float(-1.5))
	require.True(t, ok)
	assert.Equal(t, -1, c)

	c, ok = Int(math.MaxInt64).Compare(Float(math.Inf(1)))
	require.True(t, ok)
	assert.Equal(t, -1, c)

	_, ok = Int(1).Compare(Float(math.NaN()))
	assert.False(t, ok)
}

func TestValueKey(t *testing.T) {
	assert.Equal(t, Int(3).Key(), Float(3).Key())
	assert.NotEqual(t, Float(3.5).Key(), Int(3).Key())
	assert.NotEqual(t, String("1").Key(), Int(1).Key())
	assert.Equal(t, "null", Null().Key())

	// Keys agree with Equal across the float64 precision boundary.
	assert.Equal(t, Int(1<<53).Key(), Float(1<<53).Key())
	assert.NotEqual(t, Int(1<<53+1).Key(), Float(1<<53).Key())
	assert.Equal(t, Int(math.MinInt64).Key(), Float(math.MinInt64).Key())
	assert.Equal(t, Float(0).Key(), Float(math.Copysign(0, -1)).Key())
	assert.NotEqual(t, Float(1<<63).Key(), Int(math.MaxInt64).Key())
}

func TestValueJSONLossless(t *testing.T) {
	values := []Value{
		Null(),
		Int(-42),
		Float(0),
		Float(math.Copysign(0, -1)),
		Float(math.NaN()),
		Float(math.Inf(1)),
		Float(math.Inf(-1)),
		Float(0.1),
		String(""),
		String("héllo"),
		String("\xff\xfe"),
		Bool(true),
	}
	for _, want := range values {
		t.Run(want.String(), func(t *testing.T) {
			data, err := json.Marshal(want)
			require.NoError(t, err)

			var got Value
			require.NoError(t, json.Unmarshal(data, &got))
			assert.Equal(t, want.Kind, got.Kind)
			assert.Equal(t, want.I64, got.I64)
			assert.Equal(t, math.Float64bits(want.F64), math.Float64bits(got.F64))
			assert.Equal(t, want.S, got.S)
			assert.Equal(t, want.B, got.B)
		})
	}
}

func TestValueJSONAcceptsPlainFloat(t *testing.T) {
	var v Value
	require.NoError(t, json.Unmarshal([]byte(`{"k":3,"f":2.5}`), &v))
	assert.Equal(t, Float(2.5), v)
}

func TestSchema(t *testing.T) {
	s, err := NewSchema("accounts",
		Attribute{Name: "id", Type: TypeInt},
		Attribute{Name: "name", Type: TypeString},
		Attribute{Name: "balance", Type: TypeFloat},
	)
	require.NoError(t, err)

	pos, ok := s.Position("balance")
	require.True(t, ok)
	assert.Equal(t, 2, pos)

	_, ok = s.Position("missing")
	assert.False(t, ok)

	require.NoError(t, s.Validate(NewRow(0, Int(1), String("a"), Int(10))))
	require.NoError(t, s.Validate(NewRow(0, Int(1), Null(), Float(1.5))))
	assert.ErrorIs(t, s.Validate(NewRow(0, Int(1))), ErrSchemaMismatch)
	assert.ErrorIs(t, s.Validate(NewRow(0, String("x"), String("a"), Int(10))), ErrSchemaMismatch)

	_, err = NewSchema("dup", Attribute{Name: "a"}, Attribute{Name: "a"})
	assert.Error(t, err)
}

func TestSchemaFingerprint(t *testing.T) {
	a := MustSchema("a", Attribute{Name: "id", Type: TypeInt})
	b := MustSchema("b", Attribute{Name: "id", Type: TypeInt})
	c := MustSchema("c", Attribute{Name: "id", Type: TypeString})

	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())
}

func TestRowClone(t *testing.T) {
	r := NewRow(7, Int(1), String("a"))
	c := DefaultCloner.Clone(r)

	c.Values[0] = Int(99)
	assert.Equal(t, Int(1), r.Values[0])
	assert.Equal(t, int64(7), c.Timestamp)
	assert.Equal(t, `(1, "a")`, r.String())
}

func TestStateEventCopy(t *testing.T) {
	r := NewRow(0, Int(1))
	ev := NewStateEvent(2)
	ev.Set(0, r)

	cp := ev.Copy()
	cp.Set(1, NewRow(0, Int(2)))

	assert.Nil(t, ev.At(1))
	assert.Same(t, r, cp.At(0))
	assert.Equal(t, 2, cp.Width())
	assert.Nil(t, ev.At(5))
}
