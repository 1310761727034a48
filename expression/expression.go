// Package expression provides the predicate and assignment expressions that
// tables compile into executors.
//
// Expressions are plain syntax trees. Compile resolves every attribute
// reference against a Meta (the layout of the matching context) once, and
// returns an Executor that evaluates against event.StateEvent values without
// further lookups.
//
//	meta := expression.NewMeta(1, incoming, table) // table row at position 1
//	cond := expression.Eq(expression.Var(1, "id"), expression.Var(0, "id"))
//	exec, err := expression.Compile(cond, meta)
package expression

import (
	"fmt"
	"strings"

	"github.com/hupe1980/eventtable/event"
)

// Expression is a node of an expression tree.
type Expression interface {
	String() string
	children() []Expression
}

// CompareOp is a comparison operator.
type CompareOp uint8

const (
	OpEqual CompareOp = iota
	OpNotEqual
	OpLessThan
	OpLessEqual
	OpGreaterThan
	OpGreaterEqual
)

// String returns the operator symbol.
func (o CompareOp) String() string {
	switch o {
	case OpEqual:
		return "=="
	case OpNotEqual:
		return "!="
	case OpLessThan:
		return "<"
	case OpLessEqual:
		return "<="
	case OpGreaterThan:
		return ">"
	case OpGreaterEqual:
		return ">="
	default:
		return "?"
	}
}

// Mirror returns the operator with its operands swapped (a < b ⇔ b > a).
func (o CompareOp) Mirror() CompareOp {
	switch o {
	case OpLessThan:
		return OpGreaterThan
	case OpLessEqual:
		return OpGreaterEqual
	case OpGreaterThan:
		return OpLessThan
	case OpGreaterEqual:
		return OpLessEqual
	default:
		return o
	}
}

// MathOp is an arithmetic operator.
type MathOp uint8

const (
	OpAdd MathOp = iota
	OpSubtract
	OpMultiply
	OpDivide
	OpModulo
)

// String returns the operator symbol.
func (o MathOp) String() string {
	switch o {
	case OpAdd:
		return "+"
	case OpSubtract:
		return "-"
	case OpMultiply:
		return "*"
	case OpDivide:
		return "/"
	case OpModulo:
		return "%"
	default:
		return "?"
	}
}

// Variable references an attribute of the row at a stream position.
type Variable struct {
	Stream    int
	Attribute string
}

// Constant is a literal value.
type Constant struct {
	Value event.Value
}

// Comparison compares two operands.
type Comparison struct {
	Op          CompareOp
	Left, Right Expression
}

// Conjunction is a logical AND of all terms.
type Conjunction struct {
	Terms []Expression
}

// Disjunction is a logical OR of all terms.
type Disjunction struct {
	Terms []Expression
}

// Negation is a logical NOT.
type Negation struct {
	Expr Expression
}

// Arithmetic combines two numeric operands.
type Arithmetic struct {
	Op          MathOp
	Left, Right Expression
}

// NullCheck tests whether the operand is null.
type NullCheck struct {
	Expr Expression
}

func (v *Variable) String() string { return fmt.Sprintf("s%d.%s", v.Stream, v.Attribute) }
func (c *Constant) String() string { return c.Value.String() }
func (c *Comparison) String() string {
	return "(" + c.Left.String() + " " + c.Op.String() + " " + c.Right.String() + ")"
}
func (c *Conjunction) String() string { return joinTerms(c.Terms, " and ") }
func (d *Disjunction) String() string { return joinTerms(d.Terms, " or ") }
func (n *Negation) String() string    { return "not " + n.Expr.String() }
func (a *Arithmetic) String() string {
	return "(" + a.Left.String() + " " + a.Op.String() + " " + a.Right.String() + ")"
}
func (n *NullCheck) String() string { return "(" + n.Expr.String() + " is null)" }

func joinTerms(terms []Expression, sep string) string {
	parts := make([]string, len(terms))
	for i, t := range terms {
		parts[i] = t.String()
	}
	return "(" + strings.Join(parts, sep) + ")"
}

func (*Variable) children() []Expression      { return nil }
func (*Constant) children() []Expression      { return nil }
func (c *Comparison) children() []Expression  { return []Expression{c.Left, c.Right} }
func (c *Conjunction) children() []Expression { return c.Terms }
func (d *Disjunction) children() []Expression { return d.Terms }
func (n *Negation) children() []Expression    { return []Expression{n.Expr} }
func (a *Arithmetic) children() []Expression  { return []Expression{a.Left, a.Right} }
func (n *NullCheck) children() []Expression   { return []Expression{n.Expr} }

// Var references attribute of the row at stream position.
func Var(stream int, attribute string) *Variable {
	return &Variable{Stream: stream, Attribute: attribute}
}

// Const wraps a literal value.
func Const(v event.Value) *Constant { return &Constant{Value: v} }

// Eq builds left == right.
func Eq(left, right Expression) *Comparison { return &Comparison{Op: OpEqual, Left: left, Right: right} }

// Neq builds left != right.
func Neq(left, right Expression) *Comparison {
	return &Comparison{Op: OpNotEqual, Left: left, Right: right}
}

// Lt builds left < right.
func Lt(left, right Expression) *Comparison {
	return &Comparison{Op: OpLessThan, Left: left, Right: right}
}

// Lte builds left <= right.
func Lte(left, right Expression) *Comparison {
	return &Comparison{Op: OpLessEqual, Left: left, Right: right}
}

// Gt builds left > right.
func Gt(left, right Expression) *Comparison {
	return &Comparison{Op: OpGreaterThan, Left: left, Right: right}
}

// Gte builds left >= right.
func Gte(left, right Expression) *Comparison {
	return &Comparison{Op: OpGreaterEqual, Left: left, Right: right}
}

// And builds a conjunction. Nested conjunctions are flattened.
func And(terms ...Expression) *Conjunction {
	c := &Conjunction{}
	for _, t := range terms {
		if inner, ok := t.(*Conjunction); ok {
			c.Terms = append(c.Terms, inner.Terms...)
			continue
		}
		c.Terms = append(c.Terms, t)
	}
	return c
}

// Or builds a disjunction.
func Or(terms ...Expression) *Disjunction { return &Disjunction{Terms: terms} }

// Not negates e.
func Not(e Expression) *Negation { return &Negation{Expr: e} }

// Add builds left + right.
func Add(left, right Expression) *Arithmetic { return &Arithmetic{Op: OpAdd, Left: left, Right: right} }

// Sub builds left - right.
func Sub(left, right Expression) *Arithmetic {
	return &Arithmetic{Op: OpSubtract, Left: left, Right: right}
}

// Mul builds left * right.
func Mul(left, right Expression) *Arithmetic {
	return &Arithmetic{Op: OpMultiply, Left: left, Right: right}
}

// Div builds left / right.
func Div(left, right Expression) *Arithmetic {
	return &Arithmetic{Op: OpDivide, Left: left, Right: right}
}

// Mod builds left % right.
func Mod(left, right Expression) *Arithmetic {
	return &Arithmetic{Op: OpModulo, Left: left, Right: right}
}

// IsNull builds a null check.
func IsNull(e Expression) *NullCheck { return &NullCheck{Expr: e} }

// References reports whether e reads any attribute of the given stream position.
func References(e Expression, stream int) bool {
	if v, ok := e.(*Variable); ok {
		return v.Stream == stream
	}
	for _, c := range e.children() {
		if References(c, stream) {
			return true
		}
	}
	return false
}

// Conjuncts returns the top-level terms of e if it is a conjunction, or e itself.
func Conjuncts(e Expression) []Expression {
	if c, ok := e.(*Conjunction); ok {
		var out []Expression
		for _, t := range c.Terms {
			out = append(out, Conjuncts(t)...)
		}
		return out
	}
	return []Expression{e}
}
