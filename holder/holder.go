package holder

import (
	"errors"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hupe1980/eventtable/codec"
	"github.com/hupe1980/eventtable/event"
)

var (
	// ErrDuplicatePrimaryKey is returned when a write would store two rows with the same primary key.
	ErrDuplicatePrimaryKey = errors.New("duplicate primary key")

	// ErrIncompatibleSnapshot is returned when a snapshot was produced for a different row shape or format.
	ErrIncompatibleSnapshot = errors.New("incompatible snapshot")

	// ErrCorruptSnapshot is returned when a snapshot fails structural or checksum validation.
	ErrCorruptSnapshot = errors.New("corrupt snapshot")

	// ErrCapacityExceeded is returned when the slot space of a holder is exhausted.
	ErrCapacityExceeded = errors.New("holder capacity exceeded")

	// ErrSlotNotFound is returned when a slot does not hold a row.
	ErrSlotNotFound = errors.New("slot not found")

	// ErrSlotOccupied is returned when a row is reinserted into a slot that already holds one.
	ErrSlotOccupied = errors.New("slot occupied")
)

// Shape describes the access paths a holder maintains.
// It is fixed when the holder is created.
type Shape struct {
	// PrimaryKey lists the column positions of the primary key, in key order.
	PrimaryKey []int
	// Indexed lists the column positions with a secondary index.
	Indexed []int
}

// HasPrimaryKey reports whether the holder enforces a primary key.
func (s Shape) HasPrimaryKey() bool { return len(s.PrimaryKey) > 0 }

// IsIndexed reports whether pos has a secondary index.
func (s Shape) IsIndexed(pos int) bool {
	for _, p := range s.Indexed {
		if p == pos {
			return true
		}
	}
	return false
}

// KeyPosition returns the index of pos inside the primary key, or -1.
func (s Shape) KeyPosition(pos int) int {
	for i, p := range s.PrimaryKey {
		if p == pos {
			return i
		}
	}
	return -1
}

// EventHolder stores the rows of one partition.
type EventHolder interface {
	// Schema returns the row schema.
	Schema() *event.Schema

	// Shape returns the immutable access paths of the holder.
	Shape() Shape

	// Add validates all rows, then stores them in order. Rows whose primary key
	// already exists (in the holder or earlier in the batch) are not stored and
	// are returned as dropped. If any row fails validation nothing is stored.
	Add(rows []*event.Row) (slots []uint32, dropped []*event.Row, err error)

	// Get returns the row in slot.
	Get(slot uint32) (*event.Row, bool)

	// Replace swaps the row in slot for row and updates all indexes.
	Replace(slot uint32, row *event.Row) error

	// Remove deletes the row in slot and returns it.
	Remove(slot uint32) (*event.Row, bool)

	// Reinsert stores row in a specific free slot. It is used to roll back a Remove.
	Reinsert(slot uint32, row *event.Row) error

	// Len returns the number of stored rows.
	Len() int

	// Scan calls fn for every row in ascending slot order until fn returns false.
	// fn must not modify the holder.
	Scan(fn func(slot uint32, row *event.Row) bool)

	// Snapshot serializes all rows.
	Snapshot() ([]byte, error)

	// Restore replaces all content with the rows of a snapshot.
	// On error the existing content is left untouched.
	Restore(data []byte) error
}

// Indexed is an EventHolder with primary-key and secondary-index lookups.
type Indexed interface {
	EventHolder

	// LookupPrimaryKey returns the slot of the row whose primary key equals values.
	LookupPrimaryKey(values []event.Value) (uint32, bool)

	// LookupIndex returns the slots whose indexed column pos equals v.
	LookupIndex(pos int, v event.Value) *roaring.Bitmap

	// LookupRange returns the slots whose indexed column pos lies between lo and hi.
	LookupRange(pos int, lo, hi *event.Value, incLo, incHi bool) *roaring.Bitmap
}

var _ Indexed = (*IndexHolder)(nil)

// Definition declares the schema and access paths of a holder.
type Definition struct {
	Schema     *event.Schema
	PrimaryKey []string
	Indexes    []string
}

// Parse validates def and returns an IndexHolder if it declares a primary key
// or indexes, otherwise a ListHolder.
func Parse(def Definition, optFns ...Option) (EventHolder, error) {
	if def.Schema == nil {
		return nil, errors.New("holder: definition has no schema")
	}
	shape, err := resolveShape(def)
	if err != nil {
		return nil, err
	}
	if !shape.HasPrimaryKey() && len(shape.Indexed) == 0 {
		return NewListHolder(def.Schema, optFns...), nil
	}
	return NewIndexHolder(def.Schema, shape, optFns...)
}

func resolveShape(def Definition) (Shape, error) {
	var shape Shape
	resolve := func(kind string, names []string) ([]int, error) {
		seen := make(map[int]struct{}, len(names))
		out := make([]int, 0, len(names))
		for _, name := range names {
			pos, ok := def.Schema.Position(name)
			if !ok {
				return nil, fmt.Errorf("holder: %s column %q not in schema %s", kind, name, def.Schema.ID)
			}
			if _, dup := seen[pos]; dup {
				return nil, fmt.Errorf("holder: %s column %q declared twice", kind, name)
			}
			seen[pos] = struct{}{}
			out = append(out, pos)
		}
		return out, nil
	}

	var err error
	if shape.PrimaryKey, err = resolve("primary key", def.PrimaryKey); err != nil {
		return Shape{}, err
	}
	if shape.Indexed, err = resolve("index", def.Indexes); err != nil {
		return Shape{}, err
	}
	return shape, nil
}

// Option configures a holder.
type Option func(*options)

type options struct {
	codec codec.Codec
}

// WithCodec sets the codec used to encode snapshot payloads.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c != nil {
			o.codec = c
		}
	}
}

func applyOptions(optFns []Option) options {
	o := options{codec: codec.Default}
	for _, fn := range optFns {
		fn(&o)
	}
	return o
}

func validateRows(schema *event.Schema, rows []*event.Row) error {
	for i, r := range rows {
		if err := schema.Validate(r); err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
	}
	return nil
}
