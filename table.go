package eventtable

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/hupe1980/eventtable/event"
	"github.com/hupe1980/eventtable/expression"
	"github.com/hupe1980/eventtable/operator"
	"github.com/hupe1980/eventtable/state"
)

var _ Snapshotter = (*Table)(nil)

// Table is the handle the query engine holds for one table. It dispatches to
// an Operations backend and adds logging, metrics and lifecycle state.
type Table struct {
	def       Definition
	ops       Operations
	metrics   MetricsCollector
	logger    *Logger
	destroyed atomic.Bool
}

// Open initializes a backend for def and returns a handle for it.
// Without WithOperations the backend is an InMemoryTable.
func Open(def Definition, optFns ...Option) (*Table, error) {
	if err := def.validate(); err != nil {
		return nil, err
	}
	o := applyOptions(optFns)

	ops := o.backend
	if ops == nil {
		ops = NewInMemoryTable(optFns...)
	}
	if err := ops.Init(def, o.cloner); err != nil {
		return nil, err
	}

	t := &Table{
		def:     def,
		ops:     ops,
		metrics: o.metricsCollector,
		logger:  o.logger.WithTable(def.ID()),
	}
	t.logger.DebugContext(context.Background(), "table opened",
		"columns", def.Schema.Len(),
		"primary_key", def.PrimaryKey,
		"indexes", def.Indexes,
	)
	return t, nil
}

// ID returns the table ID.
func (t *Table) ID() string { return t.def.ID() }

// Definition returns the table definition.
func (t *Table) Definition() Definition { return t.def }

// Backend returns the backend the table dispatches to.
func (t *Table) Backend() Operations { return t.ops }

// Add stores rows.
func (t *Table) Add(ctx context.Context, rows []*event.Row) (err error) {
	if err := t.alive(); err != nil {
		return err
	}
	start := time.Now()
	defer func() {
		t.metrics.RecordAdd(len(rows), time.Since(start), err)
		t.logger.LogAdd(ctx, len(rows), err)
	}()

	return t.ops.Add(ctx, rows)
}

// Delete removes the rows matching cond for each incoming context.
func (t *Table) Delete(ctx context.Context, batch []*event.StateEvent, cond CompiledCondition) (err error) {
	if err := t.alive(); err != nil {
		return err
	}
	start := time.Now()
	defer func() {
		t.metrics.RecordDelete(len(batch), time.Since(start), err)
		t.logger.LogMutation(ctx, "delete", len(batch), err)
	}()

	return t.ops.Delete(ctx, batch, cond)
}

// Update modifies the rows matching cond for each incoming context.
func (t *Table) Update(ctx context.Context, batch []*event.StateEvent, cond CompiledCondition, set CompiledUpdateSet) (err error) {
	if err := t.alive(); err != nil {
		return err
	}
	start := time.Now()
	defer func() {
		t.metrics.RecordUpdate(len(batch), time.Since(start), err)
		t.logger.LogMutation(ctx, "update", len(batch), err)
	}()

	return t.ops.Update(ctx, batch, cond, set)
}

// UpdateOrAdd modifies matching rows and inserts a row for every incoming
// context that matches nothing.
func (t *Table) UpdateOrAdd(ctx context.Context, batch []*event.StateEvent, cond CompiledCondition, set CompiledUpdateSet, ex operator.Extractor) (err error) {
	if err := t.alive(); err != nil {
		return err
	}
	start := time.Now()
	defer func() {
		t.metrics.RecordUpdate(len(batch), time.Since(start), err)
		t.logger.LogMutation(ctx, "update or add", len(batch), err)
	}()

	return t.ops.UpdateOrAdd(ctx, batch, cond, set, ex)
}

// Contains reports whether any row matches cond for ev.
func (t *Table) Contains(ctx context.Context, ev *event.StateEvent, cond CompiledCondition) (found bool, err error) {
	if err := t.alive(); err != nil {
		return false, err
	}
	start := time.Now()
	defer func() {
		n := 0
		if found {
			n = 1
		}
		t.metrics.RecordRead(time.Since(start), err)
		t.logger.LogRead(ctx, "contains", n, err)
	}()

	return t.ops.Contains(ctx, ev, cond)
}

// Find returns a copy of one row matching cond for ev, or nil.
func (t *Table) Find(ctx context.Context, cond CompiledCondition, ev *event.StateEvent) (row *event.Row, err error) {
	if err := t.alive(); err != nil {
		return nil, err
	}
	start := time.Now()
	defer func() {
		n := 0
		if row != nil {
			n = 1
		}
		t.metrics.RecordRead(time.Since(start), err)
		t.logger.LogRead(ctx, "find", n, err)
	}()

	return t.ops.Find(ctx, cond, ev)
}

// FindAll returns copies of all rows matching cond for ev.
func (t *Table) FindAll(ctx context.Context, cond CompiledCondition, ev *event.StateEvent) (rows []*event.Row, err error) {
	if err := t.alive(); err != nil {
		return nil, err
	}
	start := time.Now()
	defer func() {
		t.metrics.RecordRead(time.Since(start), err)
		t.logger.LogRead(ctx, "find all", len(rows), err)
	}()

	return t.ops.FindAll(ctx, cond, ev)
}

// CompileCondition compiles expr for the matching layout meta.
func (t *Table) CompileCondition(ctx context.Context, expr expression.Expression, meta *expression.Meta) (CompiledCondition, error) {
	if err := t.alive(); err != nil {
		return nil, err
	}
	cond, err := t.ops.CompileCondition(ctx, expr, meta)
	plan := ""
	if op, ok := cond.(*operator.Operator); ok {
		plan = op.String()
	}
	t.logger.LogCompile(ctx, "condition", plan, err)
	return cond, err
}

// CompileUpdateSet compiles assignments for the matching layout meta.
func (t *Table) CompileUpdateSet(ctx context.Context, assignments []operator.Assignment, meta *expression.Meta) (CompiledUpdateSet, error) {
	if err := t.alive(); err != nil {
		return nil, err
	}
	set, err := t.ops.CompileUpdateSet(ctx, assignments, meta)
	t.logger.LogCompile(ctx, "update set", "", err)
	return set, err
}

// Connect calls the backend connect hook.
func (t *Table) Connect(ctx context.Context) error {
	if err := t.alive(); err != nil {
		return err
	}
	err := t.ops.Connect(ctx)
	t.logger.LogLifecycle(ctx, "connect", err)
	return err
}

// Disconnect calls the backend disconnect hook.
func (t *Table) Disconnect(ctx context.Context) error {
	if err := t.alive(); err != nil {
		return err
	}
	err := t.ops.Disconnect(ctx)
	t.logger.LogLifecycle(ctx, "disconnect", err)
	return err
}

// Destroy calls the backend destroy hook. Afterwards every call returns
// ErrTableDestroyed. Destroy is idempotent.
func (t *Table) Destroy(ctx context.Context) error {
	if !t.destroyed.CompareAndSwap(false, true) {
		return nil
	}
	err := t.ops.Destroy(ctx)
	t.logger.LogLifecycle(ctx, "destroy", err)
	return err
}

// Snapshot serializes all partitions of the table.
func (t *Table) Snapshot(ctx context.Context) (snap state.Snapshot, err error) {
	if err := t.alive(); err != nil {
		return nil, err
	}
	s, ok := t.ops.(Snapshotter)
	if !ok {
		return nil, ErrSnapshotUnsupported
	}
	start := time.Now()
	defer func() {
		t.metrics.RecordSnapshot(time.Since(start), err)
		t.logger.LogSnapshot(ctx, len(snap), err)
	}()

	return s.Snapshot(ctx)
}

// Restore loads snap into the table.
func (t *Table) Restore(ctx context.Context, snap state.Snapshot) (err error) {
	if err := t.alive(); err != nil {
		return err
	}
	s, ok := t.ops.(Snapshotter)
	if !ok {
		return ErrSnapshotUnsupported
	}
	start := time.Now()
	defer func() {
		t.metrics.RecordSnapshot(time.Since(start), err)
		t.logger.LogRestore(ctx, len(snap), err)
	}()

	return s.Restore(ctx, snap)
}

// PrepareRestore decodes snap without changing the table and returns the
// commit that installs it. Backends that cannot stage a restore get a commit
// that runs a plain Restore.
func (t *Table) PrepareRestore(ctx context.Context, snap state.Snapshot) (commit func() error, err error) {
	if err := t.alive(); err != nil {
		return nil, err
	}
	if _, ok := t.ops.(Snapshotter); !ok {
		return nil, ErrSnapshotUnsupported
	}
	p, ok := t.ops.(RestorePreparer)
	if !ok {
		return func() error { return t.Restore(ctx, snap) }, nil
	}

	start := time.Now()
	apply, err := p.PrepareRestore(ctx, snap)
	if err != nil {
		t.metrics.RecordSnapshot(time.Since(start), err)
		t.logger.LogRestore(ctx, len(snap), err)
		return nil, err
	}
	return func() (err error) {
		defer func() {
			t.metrics.RecordSnapshot(time.Since(start), err)
			t.logger.LogRestore(ctx, len(snap), err)
		}()
		return apply()
	}, nil
}

// Len returns the number of rows in the partition selected by ctx, if the
// backend can count them.
func (t *Table) Len(ctx context.Context) (int, error) {
	if err := t.alive(); err != nil {
		return 0, err
	}
	c, ok := t.ops.(interface {
		Len(ctx context.Context) (int, error)
	})
	if !ok {
		return 0, ErrUnsupported
	}
	return c.Len(ctx)
}

func (t *Table) alive() error {
	if t.destroyed.Load() {
		return ErrTableDestroyed
	}
	return nil
}
