package operator

import (
	"errors"
	"fmt"
	"iter"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hupe1980/eventtable/event"
	"github.com/hupe1980/eventtable/expression"
	"github.com/hupe1980/eventtable/holder"
)

// ErrStoreMismatch is returned when a matching layout does not place the
// table's own schema at its store position.
var ErrStoreMismatch = errors.New("store position does not hold the table schema")

// PlanKind identifies how an operator locates candidate rows.
type PlanKind uint8

const (
	// PlanScan visits every stored row.
	PlanScan PlanKind = iota
	// PlanPrimaryKey probes the primary-key map.
	PlanPrimaryKey
	// PlanIndex intersects secondary-index posting lists.
	PlanIndex
)

// String returns the name of the plan kind.
func (k PlanKind) String() string {
	switch k {
	case PlanScan:
		return "scan"
	case PlanPrimaryKey:
		return "primary-key"
	case PlanIndex:
		return "index"
	default:
		return "unknown"
	}
}

type keyTerm struct {
	column int
	probe  expression.Executor
}

type rangeTerm struct {
	column int
	op     expression.CompareOp
	probe  expression.Executor
}

// Plan is the access path chosen at compile time.
type Plan struct {
	Kind PlanKind
	// KeyColumns are the table columns probed by equality, in probe order.
	KeyColumns []int
	// RangeColumns are the table columns probed by range.
	RangeColumns []int

	keys   []keyTerm
	ranges []rangeTerm
}

// Operator is a compiled condition bound to one table schema.
// It is immutable and safe for concurrent use; the holder it runs against is not.
type Operator struct {
	tableID     string
	fingerprint uint32
	schema      *event.Schema
	meta        *expression.Meta
	store       int
	condition   expression.Executor
	expr        expression.Expression
	plan        Plan
}

// Compile builds an operator for expr. meta describes the matching context and
// must hold schema at its store position. shape is the holder's access paths.
//
// Compile reads only schema and shape, never row content.
func Compile(expr expression.Expression, meta *expression.Meta, schema *event.Schema, shape holder.Shape) (*Operator, error) {
	store, ok := meta.Store()
	if !ok {
		return nil, fmt.Errorf("%w: layout has no store position", ErrStoreMismatch)
	}
	if store.Fingerprint() != schema.Fingerprint() {
		return nil, fmt.Errorf("%w: %s at position %d, table is %s", ErrStoreMismatch, store.ID, meta.StoreIndex, schema.ID)
	}

	cond, err := expression.CompileCondition(expr, meta)
	if err != nil {
		return nil, err
	}

	plan, err := buildPlan(expr, meta, shape)
	if err != nil {
		return nil, err
	}

	return &Operator{
		tableID:     schema.ID,
		fingerprint: schema.Fingerprint(),
		schema:      schema,
		meta:        meta,
		store:       meta.StoreIndex,
		condition:   cond,
		expr:        expr,
		plan:        plan,
	}, nil
}

// TableID returns the ID of the table the operator was compiled for.
func (o *Operator) TableID() string { return o.tableID }

// Fingerprint returns the schema fingerprint the operator was compiled for.
func (o *Operator) Fingerprint() uint32 { return o.fingerprint }

// StoreIndex returns the stream position of the table row.
func (o *Operator) StoreIndex() int { return o.store }

// Width returns the number of stream positions of the matching context.
func (o *Operator) Width() int { return o.meta.Width() }

// Plan returns the compiled access path.
func (o *Operator) Plan() Plan { return o.plan }

// String describes the operator for logs.
func (o *Operator) String() string {
	return fmt.Sprintf("%s[%s] %s", o.tableID, o.plan.Kind, o.expr)
}

func buildPlan(expr expression.Expression, meta *expression.Meta, shape holder.Shape) (Plan, error) {
	var (
		keys   []keyTerm
		ranges []rangeTerm
	)
	for _, term := range expression.Conjuncts(expr) {
		cmp, ok := term.(*expression.Comparison)
		if !ok {
			continue
		}
		col, other, op, ok := splitStoreComparison(cmp, meta)
		if !ok {
			continue
		}
		switch op {
		case expression.OpEqual:
			probe, err := expression.Compile(other, meta)
			if err != nil {
				return Plan{}, err
			}
			keys = append(keys, keyTerm{column: col, probe: probe})
		case expression.OpLessThan, expression.OpLessEqual, expression.OpGreaterThan, expression.OpGreaterEqual:
			if !shape.IsIndexed(col) {
				continue
			}
			probe, err := expression.Compile(other, meta)
			if err != nil {
				return Plan{}, err
			}
			ranges = append(ranges, rangeTerm{column: col, op: op, probe: probe})
		}
	}

	if shape.HasPrimaryKey() {
		pk := make([]keyTerm, 0, len(shape.PrimaryKey))
		for _, col := range shape.PrimaryKey {
			for _, k := range keys {
				if k.column == col {
					pk = append(pk, k)
					break
				}
			}
		}
		if len(pk) == len(shape.PrimaryKey) {
			return Plan{Kind: PlanPrimaryKey, KeyColumns: append([]int(nil), shape.PrimaryKey...), keys: pk}, nil
		}
	}

	plan := Plan{Kind: PlanIndex}
	for _, k := range keys {
		if shape.IsIndexed(k.column) {
			plan.keys = append(plan.keys, k)
			plan.KeyColumns = append(plan.KeyColumns, k.column)
		}
	}
	for _, r := range ranges {
		plan.ranges = append(plan.ranges, r)
		plan.RangeColumns = append(plan.RangeColumns, r.column)
	}
	if len(plan.keys) == 0 && len(plan.ranges) == 0 {
		return Plan{Kind: PlanScan}, nil
	}
	return plan, nil
}

// splitStoreComparison normalizes "store.col op e" and "e op store.col" where e
// does not read the store row. It returns the column position, e and the
// operator as seen from the store column.
func splitStoreComparison(c *expression.Comparison, meta *expression.Meta) (int, expression.Expression, expression.CompareOp, bool) {
	store := meta.StoreIndex
	if v, ok := c.Left.(*expression.Variable); ok && v.Stream == store && !expression.References(c.Right, store) {
		if pos, _, err := meta.Resolve(v); err == nil {
			return pos, c.Right, c.Op, true
		}
	}
	if v, ok := c.Right.(*expression.Variable); ok && v.Stream == store && !expression.References(c.Left, store) {
		if pos, _, err := meta.Resolve(v); err == nil {
			return pos, c.Left, c.Op.Mirror(), true
		}
	}
	return 0, nil, 0, false
}

// bind returns a private matching context of the operator's width holding the
// incoming rows of ev.
func (o *Operator) bind(ev *event.StateEvent) *event.StateEvent {
	ctx := event.NewStateEvent(o.meta.Width())
	for i := 0; i < ctx.Width() && i < ev.Width(); i++ {
		ctx.Set(i, ev.At(i))
	}
	ctx.Set(o.store, nil)
	return ctx
}

// candidates returns the rows the plan selects for ctx, in ascending slot order.
func (o *Operator) candidates(h holder.EventHolder, ctx *event.StateEvent) (iter.Seq2[uint32, *event.Row], error) {
	idx, indexed := h.(holder.Indexed)
	if o.plan.Kind == PlanScan || !indexed {
		return scanAll(h), nil
	}

	switch o.plan.Kind {
	case PlanPrimaryKey:
		values := make([]event.Value, len(o.plan.keys))
		for i, k := range o.plan.keys {
			v, err := k.probe.Execute(ctx)
			if err != nil {
				return nil, err
			}
			values[i] = v
		}
		return func(yield func(uint32, *event.Row) bool) {
			slot, ok := idx.LookupPrimaryKey(values)
			if !ok {
				return
			}
			if row, ok := idx.Get(slot); ok {
				yield(slot, row)
			}
		}, nil

	case PlanIndex:
		var slots *roaring.Bitmap
		narrow := func(b *roaring.Bitmap) {
			if slots == nil {
				slots = b
				return
			}
			slots.And(b)
		}
		for _, k := range o.plan.keys {
			v, err := k.probe.Execute(ctx)
			if err != nil {
				return nil, err
			}
			narrow(idx.LookupIndex(k.column, v))
		}
		for _, r := range o.plan.ranges {
			v, err := r.probe.Execute(ctx)
			if err != nil {
				return nil, err
			}
			switch r.op {
			case expression.OpLessThan, expression.OpLessEqual:
				narrow(idx.LookupRange(r.column, nil, &v, false, r.op == expression.OpLessEqual))
			default:
				narrow(idx.LookupRange(r.column, &v, nil, r.op == expression.OpGreaterEqual, false))
			}
		}
		return func(yield func(uint32, *event.Row) bool) {
			it := slots.Iterator()
			for it.HasNext() {
				slot := it.Next()
				row, ok := idx.Get(slot)
				if !ok {
					continue
				}
				if !yield(slot, row) {
					return
				}
			}
		}, nil
	}
	return scanAll(h), nil
}

func scanAll(h holder.EventHolder) iter.Seq2[uint32, *event.Row] {
	return func(yield func(uint32, *event.Row) bool) {
		h.Scan(yield)
	}
}

type match struct {
	slot uint32
	row  *event.Row
}

// matches evaluates the condition for ev and returns up to limit matching
// rows (limit <= 0 means all). The returned context has its store position
// cleared.
func (o *Operator) matches(h holder.EventHolder, ev *event.StateEvent, limit int) ([]match, *event.StateEvent, error) {
	ctx := o.bind(ev)
	seq, err := o.candidates(h, ctx)
	if err != nil {
		return nil, nil, err
	}

	var (
		out      []match
		matchErr error
	)
	for slot, row := range seq {
		ctx.Set(o.store, row)
		ok, err := o.evaluate(ctx)
		if err != nil {
			matchErr = err
			break
		}
		if ok {
			out = append(out, match{slot: slot, row: row})
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	ctx.Set(o.store, nil)
	if matchErr != nil {
		return nil, nil, matchErr
	}
	return out, ctx, nil
}

func (o *Operator) evaluate(ctx *event.StateEvent) (bool, error) {
	ok, err := expression.Matches(o.condition, ctx)
	if err != nil {
		return false, fmt.Errorf("evaluate %s: %w", o.expr, err)
	}
	return ok, nil
}
