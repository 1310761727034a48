package holder

import (
	"fmt"

	"github.com/hupe1980/eventtable/codec"
	"github.com/hupe1980/eventtable/event"
)

// ListHolder stores rows in insertion order without any index.
type ListHolder struct {
	schema *event.Schema
	codec  codec.Codec
	slots  *slotTable
}

// NewListHolder creates an empty list holder.
func NewListHolder(schema *event.Schema, optFns ...Option) *ListHolder {
	o := applyOptions(optFns)
	return &ListHolder{
		schema: schema,
		codec:  o.codec,
		slots:  newSlotTable(false),
	}
}

// Schema implements EventHolder.
func (h *ListHolder) Schema() *event.Schema { return h.schema }

// Shape implements EventHolder. A list holder has no access paths.
func (h *ListHolder) Shape() Shape { return Shape{} }

// Add implements EventHolder. A list holder never drops rows.
func (h *ListHolder) Add(rows []*event.Row) ([]uint32, []*event.Row, error) {
	if err := validateRows(h.schema, rows); err != nil {
		return nil, nil, err
	}
	if uint64(len(rows)) > h.slots.available() {
		return nil, nil, fmt.Errorf("%w: %d rows requested", ErrCapacityExceeded, len(rows))
	}
	slots := make([]uint32, len(rows))
	for i, r := range rows {
		slots[i] = h.slots.alloc(r)
	}
	return slots, nil, nil
}

// Get implements EventHolder.
func (h *ListHolder) Get(slot uint32) (*event.Row, bool) { return h.slots.get(slot) }

// Replace implements EventHolder.
func (h *ListHolder) Replace(slot uint32, row *event.Row) error {
	if _, ok := h.slots.get(slot); !ok {
		return fmt.Errorf("%w: %d", ErrSlotNotFound, slot)
	}
	if err := h.schema.Validate(row); err != nil {
		return err
	}
	h.slots.set(slot, row)
	return nil
}

// Remove implements EventHolder.
func (h *ListHolder) Remove(slot uint32) (*event.Row, bool) { return h.slots.release(slot) }

// Reinsert implements EventHolder.
func (h *ListHolder) Reinsert(slot uint32, row *event.Row) error {
	if !h.slots.put(slot, row) {
		return fmt.Errorf("%w: %d", ErrSlotOccupied, slot)
	}
	return nil
}

// Len implements EventHolder.
func (h *ListHolder) Len() int { return h.slots.len() }

// Scan implements EventHolder.
func (h *ListHolder) Scan(fn func(slot uint32, row *event.Row) bool) { h.slots.scan(fn) }

// Snapshot implements EventHolder.
func (h *ListHolder) Snapshot() ([]byte, error) {
	return encodeSnapshot(h.codec, h.schema, h.slots.rowsInOrder())
}

// Restore implements EventHolder.
func (h *ListHolder) Restore(data []byte) error {
	rows, err := decodeSnapshot(data, h.schema)
	if err != nil {
		return err
	}
	slots := newSlotTable(false)
	for _, r := range rows {
		slots.alloc(r)
	}
	h.slots = slots
	return nil
}
