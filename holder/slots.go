package holder

import (
	"math"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hupe1980/eventtable/event"
)

// slotTable maps slot numbers to rows.
//
// live holds the occupied slots, so iterating it yields ascending slot order.
// When free is non-nil, released slots below next are reused lowest first.
type slotTable struct {
	rows map[uint32]*event.Row
	live *roaring.Bitmap
	free *roaring.Bitmap
	next uint32
}

func newSlotTable(reuse bool) *slotTable {
	t := &slotTable{
		rows: make(map[uint32]*event.Row),
		live: roaring.New(),
	}
	if reuse {
		t.free = roaring.New()
	}
	return t
}

func (t *slotTable) len() int { return len(t.rows) }

func (t *slotTable) get(slot uint32) (*event.Row, bool) {
	r, ok := t.rows[slot]
	return r, ok
}

// available returns how many more slots can be allocated.
func (t *slotTable) available() uint64 {
	n := uint64(math.MaxUint32 - t.next)
	if t.free != nil {
		n += t.free.GetCardinality()
	}
	return n
}

func (t *slotTable) alloc(row *event.Row) uint32 {
	var slot uint32
	if t.free != nil && !t.free.IsEmpty() {
		slot = t.free.Minimum()
		t.free.Remove(slot)
	} else {
		slot = t.next
		t.next++
	}
	t.rows[slot] = row
	t.live.Add(slot)
	return slot
}

func (t *slotTable) set(slot uint32, row *event.Row) {
	t.rows[slot] = row
}

// put stores row in a specific slot. The slot must be free.
func (t *slotTable) put(slot uint32, row *event.Row) bool {
	if _, ok := t.rows[slot]; ok {
		return false
	}
	if slot >= t.next {
		if t.free != nil && slot > t.next {
			t.free.AddRange(uint64(t.next), uint64(slot))
		}
		t.next = slot + 1
	} else if t.free != nil {
		t.free.Remove(slot)
	}
	t.rows[slot] = row
	t.live.Add(slot)
	return true
}

func (t *slotTable) release(slot uint32) (*event.Row, bool) {
	r, ok := t.rows[slot]
	if !ok {
		return nil, false
	}
	delete(t.rows, slot)
	t.live.Remove(slot)
	if len(t.rows) == 0 {
		t.next = 0
		if t.free != nil {
			t.free.Clear()
		}
		return r, true
	}
	if t.free != nil {
		t.free.Add(slot)
	}
	return r, true
}

func (t *slotTable) scan(fn func(slot uint32, row *event.Row) bool) {
	it := t.live.Iterator()
	for it.HasNext() {
		slot := it.Next()
		if !fn(slot, t.rows[slot]) {
			return
		}
	}
}

// rowsInOrder returns all rows in ascending slot order.
func (t *slotTable) rowsInOrder() []*event.Row {
	out := make([]*event.Row, 0, len(t.rows))
	t.scan(func(_ uint32, r *event.Row) bool {
		out = append(out, r)
		return true
	})
	return out
}
