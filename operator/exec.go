package operator

import (
	"fmt"

	"github.com/hupe1980/eventtable/event"
	"github.com/hupe1980/eventtable/holder"
)

// Find returns a copy of the matching row with the lowest slot, or nil if no
// row matches. A nil cloner uses event.DefaultCloner.
func (o *Operator) Find(h holder.EventHolder, ev *event.StateEvent, cloner event.Cloner) (*event.Row, error) {
	ms, _, err := o.matches(h, ev, 1)
	if err != nil || len(ms) == 0 {
		return nil, err
	}
	if cloner == nil {
		cloner = event.DefaultCloner
	}
	return cloner.Clone(ms[0].row), nil
}

// FindAll returns copies of all matching rows in ascending slot order.
func (o *Operator) FindAll(h holder.EventHolder, ev *event.StateEvent, cloner event.Cloner) ([]*event.Row, error) {
	ms, _, err := o.matches(h, ev, 0)
	if err != nil {
		return nil, err
	}
	if cloner == nil {
		cloner = event.DefaultCloner
	}
	out := make([]*event.Row, len(ms))
	for i, m := range ms {
		out[i] = cloner.Clone(m.row)
	}
	return out, nil
}

// Contains reports whether any stored row matches ev.
func (o *Operator) Contains(h holder.EventHolder, ev *event.StateEvent) (bool, error) {
	ms, _, err := o.matches(h, ev, 1)
	if err != nil {
		return false, err
	}
	return len(ms) > 0, nil
}

// Delete removes, for every incoming context in batch, all stored rows that
// match it. It returns the number of removed rows.
func (o *Operator) Delete(h holder.EventHolder, batch []*event.StateEvent) (int, error) {
	log := newUndoLog(h)
	deleted := 0
	for _, ev := range batch {
		ms, _, err := o.matches(h, ev, 0)
		if err != nil {
			return 0, log.fail(err)
		}
		for _, m := range ms {
			if _, ok := log.remove(m.slot); ok {
				deleted++
			}
		}
	}
	return deleted, nil
}

// Update applies set to every stored row matching each incoming context.
// Incoming contexts without a match are skipped. It returns the number of
// rows written.
func (o *Operator) Update(h holder.EventHolder, batch []*event.StateEvent, set *UpdateSet) (int, error) {
	log := newUndoLog(h)
	updated := 0
	for _, ev := range batch {
		ms, ctx, err := o.matches(h, ev, 0)
		if err != nil {
			return 0, log.fail(err)
		}
		n, err := o.applyStored(log, ms, ctx, set)
		if err != nil {
			return 0, log.fail(err)
		}
		updated += n
	}
	return updated, nil
}

// TryUpdate works like Update and additionally converts every incoming context
// that matched nothing into a row via ex. A later incoming context that
// matches an already converted row updates that row instead of being
// converted itself. The converted rows are returned, not stored.
func (o *Operator) TryUpdate(h holder.EventHolder, batch []*event.StateEvent, set *UpdateSet, ex Extractor) ([]*event.Row, error) {
	log := newUndoLog(h)
	pending, _, err := o.tryUpdate(log, batch, set, ex)
	if err != nil {
		return nil, log.fail(err)
	}
	return pending, nil
}

// UpdateOrAdd runs TryUpdate and stores the converted rows. Every incoming
// context either updates at least one row or contributes exactly one inserted
// row. On any failure, including a converted row whose primary key collides
// with a stored row, the holder is rolled back.
func (o *Operator) UpdateOrAdd(h holder.EventHolder, batch []*event.StateEvent, set *UpdateSet, ex Extractor) (updated, inserted int, err error) {
	log := newUndoLog(h)
	pending, updated, err := o.tryUpdate(log, batch, set, ex)
	if err != nil {
		return 0, 0, log.fail(err)
	}
	if len(pending) == 0 {
		return updated, 0, nil
	}
	_, dropped, err := log.add(pending)
	if err != nil {
		return 0, 0, log.fail(err)
	}
	if len(dropped) > 0 {
		return 0, 0, log.fail(fmt.Errorf("%w: %d converted rows collide with stored rows", holder.ErrDuplicatePrimaryKey, len(dropped)))
	}
	return updated, len(pending), nil
}

// tryUpdate returns the converted rows and the number of incoming contexts
// that updated at least one row.
func (o *Operator) tryUpdate(log *undoLog, batch []*event.StateEvent, set *UpdateSet, ex Extractor) ([]*event.Row, int, error) {
	var (
		pending []*event.Row
		updated int
	)
	for i, ev := range batch {
		ms, ctx, err := o.matches(log.h, ev, 0)
		if err != nil {
			return nil, 0, err
		}
		n, err := o.applyStored(log, ms, ctx, set)
		if err != nil {
			return nil, 0, err
		}
		p, err := o.applyPending(pending, ctx, set)
		if err != nil {
			return nil, 0, err
		}
		if n+p > 0 {
			updated++
			continue
		}

		row, err := ex.Extract(ev)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: incoming row %d: %v", ErrExtractorFailed, i, err)
		}
		if row == nil {
			return nil, 0, fmt.Errorf("%w: incoming row %d: no row", ErrExtractorFailed, i)
		}
		row = row.Clone()
		if err := o.schema.Validate(row); err != nil {
			return nil, 0, fmt.Errorf("%w: incoming row %d: %v", ErrExtractorFailed, i, err)
		}
		pending = append(pending, row)
	}
	return pending, updated, nil
}

func (o *Operator) applyStored(log *undoLog, ms []match, ctx *event.StateEvent, set *UpdateSet) (int, error) {
	for _, m := range ms {
		ctx.Set(o.store, m.row)
		row := m.row.Clone()
		if err := set.Apply(row, ctx); err != nil {
			return 0, err
		}
		if err := log.replace(m.slot, m.row, row); err != nil {
			return 0, err
		}
	}
	ctx.Set(o.store, nil)
	return len(ms), nil
}

func (o *Operator) applyPending(pending []*event.Row, ctx *event.StateEvent, set *UpdateSet) (int, error) {
	n := 0
	for _, row := range pending {
		ctx.Set(o.store, row)
		ok, err := o.evaluate(ctx)
		if err != nil {
			return 0, err
		}
		if !ok {
			continue
		}
		if err := set.Apply(row, ctx); err != nil {
			return 0, err
		}
		n++
	}
	ctx.Set(o.store, nil)
	return n, nil
}
