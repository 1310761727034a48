package operator

import (
	"errors"
	"fmt"

	"github.com/hupe1980/eventtable/event"
	"github.com/hupe1980/eventtable/expression"
)

// Assignment sets one table column to the value of an expression.
type Assignment struct {
	Column string
	Value  expression.Expression
}

// Set builds an assignment.
func Set(column string, value expression.Expression) Assignment {
	return Assignment{Column: column, Value: value}
}

type assignment struct {
	pos  int
	exec expression.Executor
}

// UpdateSet is a compiled list of column assignments bound to one table schema.
// It is immutable and safe for concurrent use.
type UpdateSet struct {
	tableID     string
	fingerprint uint32
	schema      *event.Schema
	assignments []assignment
}

// CompileUpdateSet compiles assignments against meta. Every column must exist
// in schema and be assigned at most once. If meta has a store position it
// must hold schema.
func CompileUpdateSet(assignments []Assignment, meta *expression.Meta, schema *event.Schema) (*UpdateSet, error) {
	if len(assignments) == 0 {
		return nil, errors.New("operator: update set has no assignments")
	}
	if store, ok := meta.Store(); ok && store.Fingerprint() != schema.Fingerprint() {
		return nil, fmt.Errorf("%w: %s at position %d, table is %s", ErrStoreMismatch, store.ID, meta.StoreIndex, schema.ID)
	}

	u := &UpdateSet{
		tableID:     schema.ID,
		fingerprint: schema.Fingerprint(),
		schema:      schema,
		assignments: make([]assignment, 0, len(assignments)),
	}
	seen := make(map[int]struct{}, len(assignments))
	for _, a := range assignments {
		pos, ok := schema.Position(a.Column)
		if !ok {
			return nil, fmt.Errorf("%w: %s.%s", expression.ErrUnknownAttribute, schema.ID, a.Column)
		}
		if _, dup := seen[pos]; dup {
			return nil, fmt.Errorf("operator: column %q assigned twice", a.Column)
		}
		seen[pos] = struct{}{}

		exec, err := expression.Compile(a.Value, meta)
		if err != nil {
			return nil, fmt.Errorf("assignment to %s: %w", a.Column, err)
		}
		if !assignable(schema.Attributes[pos].Type, exec.ReturnType()) {
			return nil, fmt.Errorf("%w: cannot assign %s to %s column %s", expression.ErrTypeMismatch, exec.ReturnType(), schema.Attributes[pos].Type, a.Column)
		}
		u.assignments = append(u.assignments, assignment{pos: pos, exec: exec})
	}
	return u, nil
}

// DefaultUpdateSet assigns every table column from the same-named attribute
// of the row at stream position stream.
func DefaultUpdateSet(meta *expression.Meta, schema *event.Schema, stream int) (*UpdateSet, error) {
	assignments := make([]Assignment, len(schema.Attributes))
	for i, attr := range schema.Attributes {
		assignments[i] = Set(attr.Name, expression.Var(stream, attr.Name))
	}
	return CompileUpdateSet(assignments, meta, schema)
}

// TableID returns the ID of the table the update set was compiled for.
func (u *UpdateSet) TableID() string { return u.tableID }

// Fingerprint returns the schema fingerprint the update set was compiled for.
func (u *UpdateSet) Fingerprint() uint32 { return u.fingerprint }

// Columns returns the assigned column positions in assignment order.
func (u *UpdateSet) Columns() []int {
	out := make([]int, len(u.assignments))
	for i, a := range u.assignments {
		out[i] = a.pos
	}
	return out
}

// Apply evaluates every assignment against ev and then writes all values into
// row. If any evaluation fails row is left untouched.
func (u *UpdateSet) Apply(row *event.Row, ev *event.StateEvent) error {
	if len(row.Values) != len(u.schema.Attributes) {
		return fmt.Errorf("%w: %s expects %d values, got %d", event.ErrSchemaMismatch, u.schema.ID, len(u.schema.Attributes), len(row.Values))
	}
	values := make([]event.Value, len(u.assignments))
	for i, a := range u.assignments {
		v, err := a.exec.Execute(ev)
		if err != nil {
			return fmt.Errorf("assignment to %s: %w", u.schema.Attributes[a.pos].Name, err)
		}
		attr := u.schema.Attributes[a.pos]
		if !attr.Type.Accepts(v.Kind) {
			return fmt.Errorf("%w: %s.%s has type %s, got %s", event.ErrSchemaMismatch, u.schema.ID, attr.Name, attr.Type, v.Kind)
		}
		values[i] = v
	}
	for i, a := range u.assignments {
		row.Values[a.pos] = values[i]
	}
	return nil
}

func assignable(column, value event.Type) bool {
	switch {
	case column == event.TypeAny || value == event.TypeAny:
		return true
	case column == event.TypeFloat && value == event.TypeInt:
		return true
	default:
		return column == value
	}
}
