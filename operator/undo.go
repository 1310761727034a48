package operator

import (
	"errors"
	"fmt"

	"github.com/hupe1980/eventtable/event"
	"github.com/hupe1980/eventtable/holder"
)

type undoKind uint8

const (
	undoAdd undoKind = iota
	undoRemove
	undoReplace
)

type undoEntry struct {
	kind undoKind
	slot uint32
	row  *event.Row // previous row for undoRemove and undoReplace
}

// undoLog records holder mutations so a failed batch can be reverted.
type undoLog struct {
	h       holder.EventHolder
	entries []undoEntry
}

func newUndoLog(h holder.EventHolder) *undoLog {
	return &undoLog{h: h}
}

func (u *undoLog) remove(slot uint32) (*event.Row, bool) {
	row, ok := u.h.Remove(slot)
	if ok {
		u.entries = append(u.entries, undoEntry{kind: undoRemove, slot: slot, row: row})
	}
	return row, ok
}

func (u *undoLog) replace(slot uint32, old, row *event.Row) error {
	if err := u.h.Replace(slot, row); err != nil {
		return err
	}
	u.entries = append(u.entries, undoEntry{kind: undoReplace, slot: slot, row: old})
	return nil
}

func (u *undoLog) add(rows []*event.Row) ([]uint32, []*event.Row, error) {
	slots, dropped, err := u.h.Add(rows)
	if err != nil {
		return nil, nil, err
	}
	for _, slot := range slots {
		u.entries = append(u.entries, undoEntry{kind: undoAdd, slot: slot})
	}
	return slots, dropped, nil
}

// rollback reverts all recorded mutations, newest first.
func (u *undoLog) rollback() error {
	var errs []error
	for i := len(u.entries) - 1; i >= 0; i-- {
		e := u.entries[i]
		switch e.kind {
		case undoAdd:
			if _, ok := u.h.Remove(e.slot); !ok {
				errs = append(errs, fmt.Errorf("undo add: %w: %d", holder.ErrSlotNotFound, e.slot))
			}
		case undoRemove:
			if err := u.h.Reinsert(e.slot, e.row); err != nil {
				errs = append(errs, fmt.Errorf("undo remove: %w", err))
			}
		case undoReplace:
			if err := u.h.Replace(e.slot, e.row); err != nil {
				errs = append(errs, fmt.Errorf("undo replace: %w", err))
			}
		}
	}
	u.entries = nil
	return errors.Join(errs...)
}

// fail rolls back and returns err, joined with any rollback failure.
func (u *undoLog) fail(err error) error {
	if rbErr := u.rollback(); rbErr != nil {
		return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
	}
	return err
}
