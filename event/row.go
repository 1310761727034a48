package event

import (
	"strings"
)

// Row is one stored tuple conforming to a table's schema.
type Row struct {
	Timestamp int64   `json:"ts"`
	Values    []Value `json:"v"`
}

// NewRow creates a row from values.
func NewRow(ts int64, values ...Value) *Row {
	return &Row{Timestamp: ts, Values: values}
}

// Clone returns a copy of the row that shares no mutable state with r.
func (r *Row) Clone() *Row {
	if r == nil {
		return nil
	}
	values := make([]Value, len(r.Values))
	copy(values, r.Values)
	return &Row{Timestamp: r.Timestamp, Values: values}
}

// Get returns the value at position pos, or null if out of range.
func (r *Row) Get(pos int) Value {
	if r == nil || pos < 0 || pos >= len(r.Values) {
		return Null()
	}
	return r.Values[pos]
}

// String implements fmt.Stringer.
func (r *Row) String() string {
	if r == nil {
		return "<nil>"
	}
	parts := make([]string, len(r.Values))
	for i, v := range r.Values {
		parts[i] = v.String()
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// Cloner copies rows handed out to callers.
type Cloner interface {
	Clone(*Row) *Row
}

// ClonerFunc adapts a function to the Cloner interface.
type ClonerFunc func(*Row) *Row

// Clone implements Cloner.
func (f ClonerFunc) Clone(r *Row) *Row { return f(r) }

// DefaultCloner performs a deep copy via Row.Clone.
var DefaultCloner Cloner = ClonerFunc((*Row).Clone)

// StateEvent is a matching context: one row per stream position.
//
// A StateEvent is not safe for concurrent mutation; operators work on their
// own copy.
type StateEvent struct {
	Rows []*Row
}

// NewStateEvent creates a matching context with n stream positions.
func NewStateEvent(n int) *StateEvent {
	return &StateEvent{Rows: make([]*Row, n)}
}

// Single wraps a single row into a one-position matching context.
func Single(r *Row) *StateEvent {
	return &StateEvent{Rows: []*Row{r}}
}

// Set stores row r at position pos.
func (e *StateEvent) Set(pos int, r *Row) {
	e.Rows[pos] = r
}

// At returns the row at position pos, or nil.
func (e *StateEvent) At(pos int) *Row {
	if e == nil || pos < 0 || pos >= len(e.Rows) {
		return nil
	}
	return e.Rows[pos]
}

// Width returns the number of stream positions.
func (e *StateEvent) Width() int {
	if e == nil {
		return 0
	}
	return len(e.Rows)
}

// Copy returns a shallow copy: a new position slice referencing the same rows.
func (e *StateEvent) Copy() *StateEvent {
	if e == nil {
		return nil
	}
	rows := make([]*Row, len(e.Rows))
	copy(rows, e.Rows)
	return &StateEvent{Rows: rows}
}
