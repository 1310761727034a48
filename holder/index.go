package holder

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hupe1980/eventtable/codec"
	"github.com/hupe1980/eventtable/event"
)

// IndexHolder stores rows with a unique primary key and secondary indexes.
//
// Secondary indexes map each distinct non-null value to a roaring bitmap of
// slots and keep the distinct values sorted for range lookups. Null and NaN
// values are not indexed; no comparison can match them.
//
// Rows with a null primary-key column are stored but never conflict and can
// not be found through the primary key.
type IndexHolder struct {
	schema *event.Schema
	shape  Shape
	codec  codec.Codec

	slots   *slotTable
	pk      map[string]uint32
	indexes map[int]*columnIndex
}

// NewIndexHolder creates an empty index holder. Every position in shape must
// be a column of schema.
func NewIndexHolder(schema *event.Schema, shape Shape, optFns ...Option) (*IndexHolder, error) {
	for _, pos := range append(append([]int(nil), shape.PrimaryKey...), shape.Indexed...) {
		if pos < 0 || pos >= schema.Len() {
			return nil, fmt.Errorf("holder: column position %d out of range for schema %s", pos, schema.ID)
		}
	}
	o := applyOptions(optFns)
	h := &IndexHolder{
		schema: schema,
		shape:  shape,
		codec:  o.codec,
	}
	h.reset()
	return h, nil
}

func (h *IndexHolder) reset() {
	h.slots = newSlotTable(true)
	h.pk = make(map[string]uint32)
	h.indexes = make(map[int]*columnIndex, len(h.shape.Indexed))
	for _, pos := range h.shape.Indexed {
		h.indexes[pos] = newColumnIndex()
	}
}

// Schema implements EventHolder.
func (h *IndexHolder) Schema() *event.Schema { return h.schema }

// Shape implements EventHolder.
func (h *IndexHolder) Shape() Shape { return h.shape }

// Add implements EventHolder.
func (h *IndexHolder) Add(rows []*event.Row) ([]uint32, []*event.Row, error) {
	if err := validateRows(h.schema, rows); err != nil {
		return nil, nil, err
	}
	if uint64(len(rows)) > h.slots.available() {
		return nil, nil, fmt.Errorf("%w: %d rows requested", ErrCapacityExceeded, len(rows))
	}

	var (
		slots   = make([]uint32, 0, len(rows))
		dropped []*event.Row
	)
	for _, r := range rows {
		key, hasKey := h.primaryKey(r)
		if hasKey {
			if _, exists := h.pk[key]; exists {
				dropped = append(dropped, r)
				continue
			}
		}
		slot := h.slots.alloc(r)
		if hasKey {
			h.pk[key] = slot
		}
		h.indexRow(slot, r)
		slots = append(slots, slot)
	}
	return slots, dropped, nil
}

// Get implements EventHolder.
func (h *IndexHolder) Get(slot uint32) (*event.Row, bool) { return h.slots.get(slot) }

// Replace implements EventHolder.
func (h *IndexHolder) Replace(slot uint32, row *event.Row) error {
	old, ok := h.slots.get(slot)
	if !ok {
		return fmt.Errorf("%w: %d", ErrSlotNotFound, slot)
	}
	if err := h.schema.Validate(row); err != nil {
		return err
	}

	oldKey, oldHasKey := h.primaryKey(old)
	newKey, newHasKey := h.primaryKey(row)
	if newHasKey {
		if owner, exists := h.pk[newKey]; exists && owner != slot {
			return fmt.Errorf("%w: %s", ErrDuplicatePrimaryKey, h.describeKey(row))
		}
	}
	if oldHasKey {
		delete(h.pk, oldKey)
	}
	if newHasKey {
		h.pk[newKey] = slot
	}
	h.unindexRow(slot, old)
	h.slots.set(slot, row)
	h.indexRow(slot, row)
	return nil
}

// Remove implements EventHolder.
func (h *IndexHolder) Remove(slot uint32) (*event.Row, bool) {
	r, ok := h.slots.release(slot)
	if !ok {
		return nil, false
	}
	if key, hasKey := h.primaryKey(r); hasKey {
		delete(h.pk, key)
	}
	h.unindexRow(slot, r)
	return r, true
}

// Reinsert implements EventHolder.
func (h *IndexHolder) Reinsert(slot uint32, row *event.Row) error {
	key, hasKey := h.primaryKey(row)
	if hasKey {
		if _, exists := h.pk[key]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicatePrimaryKey, h.describeKey(row))
		}
	}
	if !h.slots.put(slot, row) {
		return fmt.Errorf("%w: %d", ErrSlotOccupied, slot)
	}
	if hasKey {
		h.pk[key] = slot
	}
	h.indexRow(slot, row)
	return nil
}

// Len implements EventHolder.
func (h *IndexHolder) Len() int { return h.slots.len() }

// Scan implements EventHolder.
func (h *IndexHolder) Scan(fn func(slot uint32, row *event.Row) bool) { h.slots.scan(fn) }

// LookupPrimaryKey returns the slot of the row whose primary key equals
// values, given in primary-key order.
func (h *IndexHolder) LookupPrimaryKey(values []event.Value) (uint32, bool) {
	if len(values) != len(h.shape.PrimaryKey) {
		return 0, false
	}
	key, ok := compositeKey(values)
	if !ok {
		return 0, false
	}
	slot, found := h.pk[key]
	return slot, found
}

// LookupIndex returns the slots whose indexed column pos equals v.
// The result is owned by the caller.
func (h *IndexHolder) LookupIndex(pos int, v event.Value) *roaring.Bitmap {
	ci, ok := h.indexes[pos]
	if !ok || !indexable(v) {
		return roaring.New()
	}
	if b, ok := ci.postings[v.Key()]; ok {
		return b.Clone()
	}
	return roaring.New()
}

// LookupRange returns the slots whose indexed column pos lies between lo and
// hi. A nil bound is open. The result is owned by the caller.
func (h *IndexHolder) LookupRange(pos int, lo, hi *event.Value, incLo, incHi bool) *roaring.Bitmap {
	ci, ok := h.indexes[pos]
	if !ok {
		return roaring.New()
	}
	return ci.lookupRange(lo, hi, incLo, incHi)
}

// Snapshot implements EventHolder.
func (h *IndexHolder) Snapshot() ([]byte, error) {
	return encodeSnapshot(h.codec, h.schema, h.slots.rowsInOrder())
}

// Restore implements EventHolder.
func (h *IndexHolder) Restore(data []byte) error {
	rows, err := decodeSnapshot(data, h.schema)
	if err != nil {
		return err
	}

	fresh := &IndexHolder{schema: h.schema, shape: h.shape, codec: h.codec}
	fresh.reset()
	_, dropped, err := fresh.Add(rows)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIncompatibleSnapshot, err)
	}
	if len(dropped) > 0 {
		return fmt.Errorf("%w: %d rows with duplicate primary key", ErrCorruptSnapshot, len(dropped))
	}

	h.slots, h.pk, h.indexes = fresh.slots, fresh.pk, fresh.indexes
	return nil
}

func (h *IndexHolder) primaryKey(r *event.Row) (string, bool) {
	if !h.shape.HasPrimaryKey() {
		return "", false
	}
	values := make([]event.Value, len(h.shape.PrimaryKey))
	for i, pos := range h.shape.PrimaryKey {
		values[i] = r.Get(pos)
	}
	return compositeKey(values)
}

func (h *IndexHolder) describeKey(r *event.Row) string {
	parts := make([]string, len(h.shape.PrimaryKey))
	for i, pos := range h.shape.PrimaryKey {
		parts[i] = h.schema.Attributes[pos].Name + "=" + r.Get(pos).String()
	}
	return strings.Join(parts, ", ")
}

func (h *IndexHolder) indexRow(slot uint32, r *event.Row) {
	for pos, ci := range h.indexes {
		ci.add(r.Get(pos), slot)
	}
}

func (h *IndexHolder) unindexRow(slot uint32, r *event.Row) {
	for pos, ci := range h.indexes {
		ci.remove(r.Get(pos), slot)
	}
}

// compositeKey joins the value keys of a primary key. It returns false if any
// value is null.
func compositeKey(values []event.Value) (string, bool) {
	if len(values) == 1 {
		if values[0].IsNull() {
			return "", false
		}
		return values[0].Key(), true
	}
	var sb strings.Builder
	for i, v := range values {
		if v.IsNull() {
			return "", false
		}
		if i > 0 {
			sb.WriteByte(0)
		}
		k := v.Key()
		// Length prefix keeps string keys containing the separator unambiguous.
		sb.WriteString(strconv.Itoa(len(k)))
		sb.WriteByte(':')
		sb.WriteString(k)
	}
	return sb.String(), true
}

func indexable(v event.Value) bool {
	if v.IsNull() {
		return false
	}
	if v.Kind == event.KindFloat && math.IsNaN(v.F64) {
		return false
	}
	return true
}

type columnIndex struct {
	postings map[string]*roaring.Bitmap
	// sorted holds one representative value per posting key, ordered by valueOrder.
	sorted []event.Value
}

func newColumnIndex() *columnIndex {
	return &columnIndex{postings: make(map[string]*roaring.Bitmap)}
}

func (ci *columnIndex) add(v event.Value, slot uint32) {
	if !indexable(v) {
		return
	}
	key := v.Key()
	b, ok := ci.postings[key]
	if !ok {
		b = roaring.New()
		ci.postings[key] = b
		i := sort.Search(len(ci.sorted), func(i int) bool { return valueOrder(ci.sorted[i], v) >= 0 })
		ci.sorted = append(ci.sorted, event.Value{})
		copy(ci.sorted[i+1:], ci.sorted[i:])
		ci.sorted[i] = v
	}
	b.Add(slot)
}

func (ci *columnIndex) remove(v event.Value, slot uint32) {
	if !indexable(v) {
		return
	}
	key := v.Key()
	b, ok := ci.postings[key]
	if !ok {
		return
	}
	b.Remove(slot)
	if !b.IsEmpty() {
		return
	}
	delete(ci.postings, key)
	i := sort.Search(len(ci.sorted), func(i int) bool { return valueOrder(ci.sorted[i], v) >= 0 })
	if i < len(ci.sorted) && ci.sorted[i].Key() == key {
		ci.sorted = append(ci.sorted[:i], ci.sorted[i+1:]...)
	}
}

func (ci *columnIndex) lookupRange(lo, hi *event.Value, incLo, incHi bool) *roaring.Bitmap {
	out := roaring.New()
	if (lo != nil && !indexable(*lo)) || (hi != nil && !indexable(*hi)) {
		return out
	}
	if lo == nil && hi == nil {
		for _, b := range ci.postings {
			out.Or(b)
		}
		return out
	}

	var start int
	if lo != nil {
		start = sort.Search(len(ci.sorted), func(i int) bool { return valueOrder(ci.sorted[i], *lo) >= 0 })
	} else {
		g := kindGroup(*hi)
		start = sort.Search(len(ci.sorted), func(i int) bool { return kindGroup(ci.sorted[i]) >= g })
	}

	for _, v := range ci.sorted[start:] {
		if lo != nil {
			c, ok := v.Compare(*lo)
			if !ok {
				break
			}
			if c == 0 && !incLo {
				continue
			}
		}
		if hi != nil {
			c, ok := v.Compare(*hi)
			if !ok || c > 0 || (c == 0 && !incHi) {
				break
			}
		}
		out.Or(ci.postings[v.Key()])
	}
	return out
}

// kindGroup orders kinds so that mutually comparable values are contiguous.
func kindGroup(v event.Value) int {
	switch v.Kind {
	case event.KindInt, event.KindFloat:
		return 0
	case event.KindString:
		return 1
	case event.KindBool:
		return 2
	default:
		return 3
	}
}

// valueOrder is a total order over indexable values.
func valueOrder(a, b event.Value) int {
	if ga, gb := kindGroup(a), kindGroup(b); ga != gb {
		return ga - gb
	}
	c, _ := a.Compare(b)
	return c
}
