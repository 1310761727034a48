package expression

import (
	"testing"

	"github.com/hupe1980/eventtable/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	streamSchema = event.MustSchema("in",
		event.Attribute{Name: "id", Type: event.TypeInt},
		event.Attribute{Name: "delta", Type: event.TypeInt},
	)
	tableSchema = event.MustSchema("accounts",
		event.Attribute{Name: "id", Type: event.TypeInt},
		event.Attribute{Name: "name", Type: event.TypeString},
		event.Attribute{Name: "balance", Type: event.TypeInt},
	)
)

func matchingEvent(in, stored *event.Row) *event.StateEvent {
	ev := event.NewStateEvent(2)
	ev.Set(0, in)
	ev.Set(1, stored)
	return ev
}

func TestCompileCondition(t *testing.T) {
	meta := NewMeta(1, streamSchema, tableSchema)
	in := event.NewRow(0, event.Int(1), event.Int(5))

	tests := []struct {
		name   string
		expr   Expression
		stored *event.Row
		want   bool
	}{
		{
			name:   "join equality match",
			expr:   Eq(Var(1, "id"), Var(0, "id")),
			stored: event.NewRow(0, event.Int(1), event.String("a"), event.Int(10)),
			want:   true,
		},
		{
			name:   "join equality no match",
			expr:   Eq(Var(1, "id"), Var(0, "id")),
			stored: event.NewRow(0, event.Int(2), event.String("b"), event.Int(10)),
			want:   false,
		},
		{
			name:   "and with range",
			expr:   And(Eq(Var(1, "id"), Const(event.Int(1))), Gte(Var(1, "balance"), Const(event.Int(10)))),
			stored: event.NewRow(0, event.Int(1), event.String("a"), event.Int(10)),
			want:   true,
		},
		{
			name:   "or",
			expr:   Or(Eq(Var(1, "name"), Const(event.String("x"))), Lt(Var(1, "balance"), Const(event.Int(20)))),
			stored: event.NewRow(0, event.Int(1), event.String("a"), event.Int(10)),
			want:   true,
		},
		{
			name:   "not",
			expr:   Not(Eq(Var(1, "name"), Const(event.String("a")))),
			stored: event.NewRow(0, event.Int(1), event.String("a"), event.Int(10)),
			want:   false,
		},
		{
			name:   "null compares false",
			expr:   Eq(Var(1, "name"), Const(event.String("a"))),
			stored: event.NewRow(0, event.Int(1), event.Null(), event.Int(10)),
			want:   false,
		},
		{
			name:   "is null",
			expr:   IsNull(Var(1, "name")),
			stored: event.NewRow(0, event.Int(1), event.Null(), event.Int(10)),
			want:   true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec, err := CompileCondition(tt.expr, meta)
			require.NoError(t, err)

			got, err := Matches(exec, matchingEvent(in, tt.stored))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompileArithmetic(t *testing.T) {
	meta := NewMeta(1, streamSchema, tableSchema)
	ev := matchingEvent(
		event.NewRow(0, event.Int(1), event.Int(5)),
		event.NewRow(0, event.Int(1), event.String("a"), event.Int(10)),
	)

	exec, err := Compile(Add(Var(1, "balance"), Var(0, "delta")), meta)
	require.NoError(t, err)
	assert.Equal(t, event.TypeInt, exec.ReturnType())

	v, err := exec.Execute(ev)
	require.NoError(t, err)
	assert.Equal(t, event.Int(15), v)

	exec, err = Compile(Div(Var(1, "balance"), Const(event.Float(4))), meta)
	require.NoError(t, err)
	v, err = exec.Execute(ev)
	require.NoError(t, err)
	assert.Equal(t, event.Float(2.5), v)

	exec, err = Compile(Div(Var(1, "balance"), Const(event.Int(0))), meta)
	require.NoError(t, err)
	_, err = exec.Execute(ev)
	assert.ErrorIs(t, err, ErrDivisionByZero)
}

func TestCompileErrors(t *testing.T) {
	meta := NewMeta(1, streamSchema, tableSchema)

	_, err := Compile(Var(1, "missing"), meta)
	assert.ErrorIs(t, err, ErrUnknownAttribute)

	_, err = Compile(Var(3, "id"), meta)
	assert.ErrorIs(t, err, ErrUnknownStream)

	_, err = Compile(Add(Var(1, "name"), Const(event.Int(1))), meta)
	assert.ErrorIs(t, err, ErrTypeMismatch)

	_, err = CompileCondition(Var(1, "balance"), meta)
	assert.ErrorIs(t, err, ErrTypeMismatch)

	_, err = Compile(Eq(Var(1, "name"), Const(event.Int(1))), meta)
	assert.ErrorIs(t, err, ErrTypeMismatch)
}

func TestReferencesAndConjuncts(t *testing.T) {
	e := And(
		Eq(Var(1, "id"), Var(0, "id")),
		And(Gt(Var(1, "balance"), Const(event.Int(0))), Neq(Var(0, "delta"), Const(event.Int(0)))),
	)

	terms := Conjuncts(e)
	require.Len(t, terms, 3)
	assert.True(t, References(terms[0], 1))
	assert.True(t, References(terms[0], 0))
	assert.False(t, References(terms[2], 1))
	assert.Equal(t, OpGreaterThan, OpLessThan.Mirror())
}
