package expression

import (
	"errors"
	"fmt"
	"math"

	"github.com/hupe1980/eventtable/event"
)

var (
	// ErrUnknownStream is returned when a variable names a stream position outside the layout.
	ErrUnknownStream = errors.New("unknown stream position")

	// ErrUnknownAttribute is returned when a variable names an attribute the stream does not have.
	ErrUnknownAttribute = errors.New("unknown attribute")

	// ErrTypeMismatch is returned when operand types cannot be combined.
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrDivisionByZero is returned when an integer division or modulo has a zero divisor.
	ErrDivisionByZero = errors.New("division by zero")
)

// Executor evaluates a compiled expression against a matching context.
// Executors are immutable and safe for concurrent use.
type Executor interface {
	Execute(ev *event.StateEvent) (event.Value, error)
	ReturnType() event.Type
}

type executor struct {
	fn  func(ev *event.StateEvent) (event.Value, error)
	typ event.Type
}

func (e *executor) Execute(ev *event.StateEvent) (event.Value, error) { return e.fn(ev) }
func (e *executor) ReturnType() event.Type                            { return e.typ }

// Compile resolves e against meta and returns an executor.
func Compile(e Expression, meta *Meta) (Executor, error) {
	if e == nil {
		return nil, errors.New("expression: nil expression")
	}
	switch n := e.(type) {
	case *Variable:
		return compileVariable(n, meta)
	case *Constant:
		v := n.Value
		return &executor{
			fn:  func(*event.StateEvent) (event.Value, error) { return v, nil },
			typ: typeOf(v.Kind),
		}, nil
	case *Comparison:
		return compileComparison(n, meta)
	case *Conjunction:
		return compileLogical(n.Terms, meta, true)
	case *Disjunction:
		return compileLogical(n.Terms, meta, false)
	case *Negation:
		inner, err := compileCondition(n.Expr, meta)
		if err != nil {
			return nil, err
		}
		return &executor{
			fn: func(ev *event.StateEvent) (event.Value, error) {
				v, err := inner.Execute(ev)
				if err != nil {
					return event.Null(), err
				}
				return event.Bool(!truthy(v)), nil
			},
			typ: event.TypeBool,
		}, nil
	case *Arithmetic:
		return compileArithmetic(n, meta)
	case *NullCheck:
		inner, err := Compile(n.Expr, meta)
		if err != nil {
			return nil, err
		}
		return &executor{
			fn: func(ev *event.StateEvent) (event.Value, error) {
				v, err := inner.Execute(ev)
				if err != nil {
					return event.Null(), err
				}
				return event.Bool(v.IsNull()), nil
			},
			typ: event.TypeBool,
		}, nil
	default:
		return nil, fmt.Errorf("expression: unsupported node %T", e)
	}
}

// CompileCondition compiles e and checks that it yields a boolean.
func CompileCondition(e Expression, meta *Meta) (Executor, error) {
	return compileCondition(e, meta)
}

// Matches runs a boolean executor; errors propagate, null counts as false.
func Matches(exec Executor, ev *event.StateEvent) (bool, error) {
	v, err := exec.Execute(ev)
	if err != nil {
		return false, err
	}
	return truthy(v), nil
}

func compileCondition(e Expression, meta *Meta) (Executor, error) {
	exec, err := Compile(e, meta)
	if err != nil {
		return nil, err
	}
	if t := exec.ReturnType(); t != event.TypeBool && t != event.TypeAny {
		return nil, fmt.Errorf("%w: condition %s yields %s", ErrTypeMismatch, e, t)
	}
	return exec, nil
}

func compileVariable(v *Variable, meta *Meta) (Executor, error) {
	pos, typ, err := meta.Resolve(v)
	if err != nil {
		return nil, err
	}
	stream := v.Stream
	return &executor{
		fn: func(ev *event.StateEvent) (event.Value, error) {
			return ev.At(stream).Get(pos), nil
		},
		typ: typ,
	}, nil
}

func compileComparison(c *Comparison, meta *Meta) (Executor, error) {
	left, err := Compile(c.Left, meta)
	if err != nil {
		return nil, err
	}
	right, err := Compile(c.Right, meta)
	if err != nil {
		return nil, err
	}
	if !canCompare(left.ReturnType(), right.ReturnType()) {
		return nil, fmt.Errorf("%w: cannot compare %s with %s in %s", ErrTypeMismatch, left.ReturnType(), right.ReturnType(), c)
	}
	op := c.Op
	return &executor{
		fn: func(ev *event.StateEvent) (event.Value, error) {
			l, err := left.Execute(ev)
			if err != nil {
				return event.Null(), err
			}
			r, err := right.Execute(ev)
			if err != nil {
				return event.Null(), err
			}
			return event.Bool(Evaluate(op, l, r)), nil
		},
		typ: event.TypeBool,
	}, nil
}

// Evaluate applies a comparison operator to two values.
// Comparisons involving null, or values of incomparable kinds, are false.
func Evaluate(op CompareOp, l, r event.Value) bool {
	switch op {
	case OpEqual:
		return l.Equal(r)
	case OpNotEqual:
		if l.IsNull() || r.IsNull() {
			return false
		}
		return !l.Equal(r)
	}
	c, ok := l.Compare(r)
	if !ok {
		return false
	}
	switch op {
	case OpLessThan:
		return c < 0
	case OpLessEqual:
		return c <= 0
	case OpGreaterThan:
		return c > 0
	case OpGreaterEqual:
		return c >= 0
	}
	return false
}

func compileLogical(terms []Expression, meta *Meta, and bool) (Executor, error) {
	execs := make([]Executor, 0, len(terms))
	for _, t := range terms {
		exec, err := compileCondition(t, meta)
		if err != nil {
			return nil, err
		}
		execs = append(execs, exec)
	}
	return &executor{
		fn: func(ev *event.StateEvent) (event.Value, error) {
			for _, exec := range execs {
				v, err := exec.Execute(ev)
				if err != nil {
					return event.Null(), err
				}
				if truthy(v) != and {
					return event.Bool(!and), nil
				}
			}
			return event.Bool(and), nil
		},
		typ: event.TypeBool,
	}, nil
}

func compileArithmetic(a *Arithmetic, meta *Meta) (Executor, error) {
	left, err := Compile(a.Left, meta)
	if err != nil {
		return nil, err
	}
	right, err := Compile(a.Right, meta)
	if err != nil {
		return nil, err
	}
	lt, rt := left.ReturnType(), right.ReturnType()
	if !numeric(lt) || !numeric(rt) {
		return nil, fmt.Errorf("%w: %s requires numeric operands, got %s and %s", ErrTypeMismatch, a, lt, rt)
	}
	typ := event.TypeFloat
	switch {
	case lt == event.TypeInt && rt == event.TypeInt:
		typ = event.TypeInt
	case lt == event.TypeAny || rt == event.TypeAny:
		typ = event.TypeAny
	}
	op := a.Op
	return &executor{
		fn: func(ev *event.StateEvent) (event.Value, error) {
			l, err := left.Execute(ev)
			if err != nil {
				return event.Null(), err
			}
			r, err := right.Execute(ev)
			if err != nil {
				return event.Null(), err
			}
			return applyMath(op, l, r)
		},
		typ: typ,
	}, nil
}

func applyMath(op MathOp, l, r event.Value) (event.Value, error) {
	if l.IsNull() || r.IsNull() {
		return event.Null(), nil
	}
	if !l.IsNumber() || !r.IsNumber() {
		return event.Null(), fmt.Errorf("%w: %s %s %s", ErrTypeMismatch, l, op, r)
	}
	if l.Kind == event.KindInt && r.Kind == event.KindInt {
		a, b := l.I64, r.I64
		switch op {
		case OpAdd:
			return event.Int(a + b), nil
		case OpSubtract:
			return event.Int(a - b), nil
		case OpMultiply:
			return event.Int(a * b), nil
		case OpDivide:
			if b == 0 {
				return event.Null(), ErrDivisionByZero
			}
			return event.Int(a / b), nil
		case OpModulo:
			if b == 0 {
				return event.Null(), ErrDivisionByZero
			}
			return event.Int(a % b), nil
		}
	}
	a, _ := l.AsFloat64()
	b, _ := r.AsFloat64()
	switch op {
	case OpAdd:
		return event.Float(a + b), nil
	case OpSubtract:
		return event.Float(a - b), nil
	case OpMultiply:
		return event.Float(a * b), nil
	case OpDivide:
		return event.Float(a / b), nil
	case OpModulo:
		return event.Float(math.Mod(a, b)), nil
	}
	return event.Null(), fmt.Errorf("expression: unknown operator %d", op)
}

func truthy(v event.Value) bool {
	b, ok := v.AsBool()
	return ok && b
}

func typeOf(k event.Kind) event.Type {
	switch k {
	case event.KindInt:
		return event.TypeInt
	case event.KindFloat:
		return event.TypeFloat
	case event.KindString:
		return event.TypeString
	case event.KindBool:
		return event.TypeBool
	default:
		return event.TypeAny
	}
}

func numeric(t event.Type) bool {
	return t == event.TypeInt || t == event.TypeFloat || t == event.TypeAny
}

func canCompare(a, b event.Type) bool {
	if a == event.TypeAny || b == event.TypeAny {
		return true
	}
	if numeric(a) && numeric(b) {
		return true
	}
	return a == b
}
