package event

import (
	"errors"
	"fmt"
	"hash/crc32"
)

// Type defines the declared data type of a column.
type Type uint8

const (
	TypeAny Type = iota
	TypeInt
	TypeFloat
	TypeString
	TypeBool
)

// String returns the string representation of the Type.
func (t Type) String() string {
	switch t {
	case TypeAny:
		return "Any"
	case TypeInt:
		return "Int"
	case TypeFloat:
		return "Float"
	case TypeString:
		return "String"
	case TypeBool:
		return "Bool"
	default:
		return "Unknown"
	}
}

// Accepts reports whether a value of kind k may be stored in a column of type t.
// Null is accepted everywhere; Int is accepted by Float columns.
func (t Type) Accepts(k Kind) bool {
	if k == KindNull {
		return true
	}
	switch t {
	case TypeAny:
		return k != KindInvalid
	case TypeInt:
		return k == KindInt
	case TypeFloat:
		return k == KindFloat || k == KindInt
	case TypeString:
		return k == KindString
	case TypeBool:
		return k == KindBool
	}
	return false
}

// Attribute is a named, typed column.
type Attribute struct {
	Name string `json:"name"`
	Type Type   `json:"type"`
}

// ErrSchemaMismatch is returned when a row does not conform to a schema.
var ErrSchemaMismatch = errors.New("row does not match schema")

// Schema is an ordered sequence of named, typed columns.
//
// A Schema must not be modified after a table has been created from it.
type Schema struct {
	ID         string
	Attributes []Attribute

	positions map[string]int
}

// NewSchema creates a schema. Attribute names must be unique.
func NewSchema(id string, attrs ...Attribute) (*Schema, error) {
	s := &Schema{
		ID:         id,
		Attributes: attrs,
		positions:  make(map[string]int, len(attrs)),
	}
	for i, a := range attrs {
		if a.Name == "" {
			return nil, fmt.Errorf("schema %q: attribute %d has no name", id, i)
		}
		if _, dup := s.positions[a.Name]; dup {
			return nil, fmt.Errorf("schema %q: duplicate attribute %q", id, a.Name)
		}
		s.positions[a.Name] = i
	}
	return s, nil
}

// MustSchema is like NewSchema but panics on error.
// Intended for tests and static definitions.
func MustSchema(id string, attrs ...Attribute) *Schema {
	s, err := NewSchema(id, attrs...)
	if err != nil {
		panic(err)
	}
	return s
}

// Len returns the number of columns.
func (s *Schema) Len() int { return len(s.Attributes) }

// Position returns the position of the named attribute.
func (s *Schema) Position(name string) (int, bool) {
	p, ok := s.positions[name]
	return p, ok
}

// Fingerprint returns a CRC32 over the column names and types.
// Two schemas with the same fingerprint have the same row shape.
func (s *Schema) Fingerprint() uint32 {
	h := crc32.NewIEEE()
	for _, a := range s.Attributes {
		_, _ = h.Write([]byte(a.Name))
		_, _ = h.Write([]byte{0, byte(a.Type)})
	}
	return h.Sum32()
}

// Validate checks that row has the schema's arity and that every value is
// accepted by its column type.
func (s *Schema) Validate(row *Row) error {
	if row == nil {
		return fmt.Errorf("%w: nil row", ErrSchemaMismatch)
	}
	if len(row.Values) != len(s.Attributes) {
		return fmt.Errorf("%w: %s expects %d values, got %d", ErrSchemaMismatch, s.ID, len(s.Attributes), len(row.Values))
	}
	for i, v := range row.Values {
		if !s.Attributes[i].Type.Accepts(v.Kind) {
			return fmt.Errorf("%w: %s.%s has type %s, got %s", ErrSchemaMismatch, s.ID, s.Attributes[i].Name, s.Attributes[i].Type, v.Kind)
		}
	}
	return nil
}
