package expression

import (
	"fmt"

	"github.com/hupe1980/eventtable/event"
)

// Meta describes the layout of a matching context: one schema per stream
// position, plus which position holds the table's own row.
//
// A Meta is immutable once built and is shared between compiled artifacts.
type Meta struct {
	Streams    []*event.Schema
	StoreIndex int
}

// NewMeta creates a layout. storeIndex names the position of the table row;
// use -1 when no table row participates.
func NewMeta(storeIndex int, streams ...*event.Schema) *Meta {
	return &Meta{Streams: streams, StoreIndex: storeIndex}
}

// Width returns the number of stream positions.
func (m *Meta) Width() int { return len(m.Streams) }

// Store returns the schema at the store position.
func (m *Meta) Store() (*event.Schema, bool) {
	if m.StoreIndex < 0 || m.StoreIndex >= len(m.Streams) {
		return nil, false
	}
	return m.Streams[m.StoreIndex], true
}

// Resolve returns the column position and declared type of a variable.
func (m *Meta) Resolve(v *Variable) (int, event.Type, error) {
	if v.Stream < 0 || v.Stream >= len(m.Streams) || m.Streams[v.Stream] == nil {
		return 0, event.TypeAny, fmt.Errorf("%w: %d", ErrUnknownStream, v.Stream)
	}
	s := m.Streams[v.Stream]
	pos, ok := s.Position(v.Attribute)
	if !ok {
		return 0, event.TypeAny, fmt.Errorf("%w: %s.%s", ErrUnknownAttribute, s.ID, v.Attribute)
	}
	return pos, s.Attributes[pos].Type, nil
}
