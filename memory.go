package eventtable

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hupe1980/eventtable/codec"
	"github.com/hupe1980/eventtable/event"
	"github.com/hupe1980/eventtable/expression"
	"github.com/hupe1980/eventtable/holder"
	"github.com/hupe1980/eventtable/operator"
	"github.com/hupe1980/eventtable/state"
)

// EventHolderComponent is the component name of the row storage inside a
// partition snapshot.
const EventHolderComponent = "EventHolder"

var (
	_ Operations  = (*InMemoryTable)(nil)
	_ Snapshotter     = (*InMemoryTable)(nil)
	_ RestorePreparer = (*InMemoryTable)(nil)
)

// InMemoryTable is the memory-resident table backend.
//
// One read/write gate serializes all partitions of the table. Partition
// storage is created on first use and lives as long as the table.
type InMemoryTable struct {
	gate sync.RWMutex

	def         Definition
	fingerprint uint32
	cloner      event.Cloner
	codec       codec.Codec
	logger      *Logger
	shape       holder.Shape
	states      *state.Holder[*tableState]
}

// tableState is the per-partition state of an InMemoryTable.
type tableState struct {
	holder holder.EventHolder
	parse  func() (holder.EventHolder, error)
}

// CanDestroy implements state.State. Table content is never evicted.
func (*tableState) CanDestroy() bool { return false }

// Snapshot implements state.State.
func (s *tableState) Snapshot() (map[string][]byte, error) {
	b, err := s.holder.Snapshot()
	if err != nil {
		return nil, err
	}
	return map[string][]byte{EventHolderComponent: b}, nil
}

// Prepare implements state.State. The snapshot is decoded into a new holder
// that replaces the current one on commit.
func (s *tableState) Prepare(components map[string][]byte) (func(), error) {
	b, ok := components[EventHolderComponent]
	if !ok {
		return nil, fmt.Errorf("%w: missing %s component", holder.ErrIncompatibleSnapshot, EventHolderComponent)
	}
	h, err := s.parse()
	if err != nil {
		return nil, err
	}
	if err := h.Restore(b); err != nil {
		return nil, err
	}
	return func() { s.holder = h }, nil
}

// NewInMemoryTable creates an uninitialized in-memory backend. Codec and
// logger options apply; call Init before use.
func NewInMemoryTable(optFns ...Option) *InMemoryTable {
	o := applyOptions(optFns)
	return &InMemoryTable{
		codec:  o.codec,
		cloner: o.cloner,
		logger: o.logger,
	}
}

// OpenInMemory creates and initializes an in-memory backend.
func OpenInMemory(def Definition, optFns ...Option) (*InMemoryTable, error) {
	o := applyOptions(optFns)
	t := NewInMemoryTable(optFns...)
	if err := t.Init(def, o.cloner); err != nil {
		return nil, err
	}
	return t, nil
}

// Init implements Operations. It must be called once, before any other call.
func (t *InMemoryTable) Init(def Definition, cloner event.Cloner) error {
	if err := def.validate(); err != nil {
		return err
	}
	hdef := def.holderDefinition()
	hopts := []holder.Option{holder.WithCodec(t.codec)}
	parse := func() (holder.EventHolder, error) { return holder.Parse(hdef, hopts...) }
	first, err := parse()
	if err != nil {
		return err
	}
	if cloner == nil {
		cloner = event.DefaultCloner
	}

	t.def = def
	t.fingerprint = def.Schema.Fingerprint()
	t.shape = first.Shape()
	t.cloner = cloner
	t.logger = t.logger.WithTable(def.ID())
	t.states = state.NewHolder(func() *tableState {
		h, err := parse()
		if err != nil {
			// Unreachable: Parse is deterministic and accepted hdef above.
			panic(fmt.Sprintf("eventtable: definition of %s became invalid: %v", def.ID(), err))
		}
		return &tableState{holder: h, parse: parse}
	})
	return nil
}

// Definition returns the table definition.
func (t *InMemoryTable) Definition() Definition { return t.def }

// Add implements Operations.
func (t *InMemoryTable) Add(ctx context.Context, rows []*event.Row) error {
	if err := t.ready(); err != nil {
		return err
	}
	copies := make([]*event.Row, len(rows))
	for i, r := range rows {
		copies[i] = t.cloner.Clone(r)
	}

	t.gate.Lock()
	defer t.gate.Unlock()

	return state.Scope(ctx, t.states, func(s *tableState) error {
		_, dropped, err := s.holder.Add(copies)
		if err != nil {
			return err
		}
		if len(dropped) > 0 {
			t.logger.LogDroppedDuplicates(ctx, state.PartitionKey(ctx), len(dropped))
		}
		return nil
	})
}

// Delete implements Operations.
func (t *InMemoryTable) Delete(ctx context.Context, batch []*event.StateEvent, cond CompiledCondition) error {
	op, err := t.operator(cond)
	if err != nil {
		return err
	}

	t.gate.Lock()
	defer t.gate.Unlock()

	return state.Scope(ctx, t.states, func(s *tableState) error {
		_, err := op.Delete(s.holder, batch)
		return err
	})
}

// Update implements Operations.
func (t *InMemoryTable) Update(ctx context.Context, batch []*event.StateEvent, cond CompiledCondition, set CompiledUpdateSet) error {
	op, err := t.operator(cond)
	if err != nil {
		return err
	}
	us, err := t.updateSet(set)
	if err != nil {
		return err
	}

	t.gate.Lock()
	defer t.gate.Unlock()

	return state.Scope(ctx, t.states, func(s *tableState) error {
		_, err := op.Update(s.holder, batch, us)
		return err
	})
}

// UpdateOrAdd implements Operations. Either every incoming context is applied
// or, on error, the partition is left as it was.
func (t *InMemoryTable) UpdateOrAdd(ctx context.Context, batch []*event.StateEvent, cond CompiledCondition, set CompiledUpdateSet, ex operator.Extractor) error {
	op, err := t.operator(cond)
	if err != nil {
		return err
	}
	us, err := t.updateSet(set)
	if err != nil {
		return err
	}
	if ex == nil {
		stream, err := incomingStream(op.StoreIndex(), op.Width())
		if err != nil {
			return err
		}
		ex = operator.StreamExtractor(stream)
	}

	t.gate.Lock()
	defer t.gate.Unlock()

	return state.Scope(ctx, t.states, func(s *tableState) error {
		_, _, err := op.UpdateOrAdd(s.holder, batch, us, ex)
		return err
	})
}

// Contains implements Operations.
func (t *InMemoryTable) Contains(ctx context.Context, ev *event.StateEvent, cond CompiledCondition) (bool, error) {
	op, err := t.operator(cond)
	if err != nil {
		return false, err
	}

	t.gate.RLock()
	defer t.gate.RUnlock()

	var found bool
	err = state.Scope(ctx, t.states, func(s *tableState) error {
		var err error
		found, err = op.Contains(s.holder, ev)
		return err
	})
	return found, err
}

// Find implements Operations. Among several matches it returns the one stored
// in the lowest slot.
func (t *InMemoryTable) Find(ctx context.Context, cond CompiledCondition, ev *event.StateEvent) (*event.Row, error) {
	op, err := t.operator(cond)
	if err != nil {
		return nil, err
	}

	t.gate.RLock()
	defer t.gate.RUnlock()

	var row *event.Row
	err = state.Scope(ctx, t.states, func(s *tableState) error {
		var err error
		row, err = op.Find(s.holder, ev, t.cloner)
		return err
	})
	return row, err
}

// FindAll implements Operations.
func (t *InMemoryTable) FindAll(ctx context.Context, cond CompiledCondition, ev *event.StateEvent) ([]*event.Row, error) {
	op, err := t.operator(cond)
	if err != nil {
		return nil, err
	}

	t.gate.RLock()
	defer t.gate.RUnlock()

	var rows []*event.Row
	err = state.Scope(ctx, t.states, func(s *tableState) error {
		var err error
		rows, err = op.FindAll(s.holder, ev, t.cloner)
		return err
	})
	return rows, err
}

// CompileCondition implements Operations. It does not take the gate; it only
// reads the storage shape fixed at Init, which every partition shares.
func (t *InMemoryTable) CompileCondition(_ context.Context, expr expression.Expression, meta *expression.Meta) (CompiledCondition, error) {
	if err := t.ready(); err != nil {
		return nil, err
	}
	op, err := operator.Compile(expr, meta, t.def.Schema, t.shape)
	if err != nil {
		return nil, err
	}
	return op, nil
}

// CompileUpdateSet implements Operations. It does not take the gate.
func (t *InMemoryTable) CompileUpdateSet(_ context.Context, assignments []operator.Assignment, meta *expression.Meta) (CompiledUpdateSet, error) {
	if err := t.ready(); err != nil {
		return nil, err
	}
	var (
		us  *operator.UpdateSet
		err error
	)
	if len(assignments) == 0 {
		stream, serr := incomingStream(meta.StoreIndex, meta.Width())
		if serr != nil {
			return nil, serr
		}
		us, err = operator.DefaultUpdateSet(meta, t.def.Schema, stream)
	} else {
		us, err = operator.CompileUpdateSet(assignments, meta, t.def.Schema)
	}
	if err != nil {
		return nil, err
	}
	return us, nil
}

// Connect implements Operations. It is a no-op.
func (t *InMemoryTable) Connect(context.Context) error { return nil }

// Disconnect implements Operations. It is a no-op.
func (t *InMemoryTable) Disconnect(context.Context) error { return nil }

// Destroy implements Operations. It is a no-op; content lives as long as the table.
func (t *InMemoryTable) Destroy(context.Context) error { return nil }

// Snapshot serializes every partition. It holds the write gate.
func (t *InMemoryTable) Snapshot(context.Context) (state.Snapshot, error) {
	if err := t.ready(); err != nil {
		return nil, err
	}
	t.gate.Lock()
	defer t.gate.Unlock()

	return t.states.Snapshot()
}

// Restore replaces the content of every partition present in snap. It holds
// the write gate. On error no partition is changed.
func (t *InMemoryTable) Restore(_ context.Context, snap state.Snapshot) error {
	if err := t.ready(); err != nil {
		return err
	}
	t.gate.Lock()
	defer t.gate.Unlock()

	return t.states.Restore(snap)
}

// PrepareRestore decodes snap without changing the table. The returned
// commit takes the write gate and installs the decoded partitions; it never
// fails.
func (t *InMemoryTable) PrepareRestore(_ context.Context, snap state.Snapshot) (func() error, error) {
	if err := t.ready(); err != nil {
		return nil, err
	}
	commit, err := t.states.Prepare(snap)
	if err != nil {
		return nil, err
	}
	return func() error {
		t.gate.Lock()
		defer t.gate.Unlock()

		commit()
		return nil
	}, nil
}

// Partitions returns the keys of all partitions created so far.
func (t *InMemoryTable) Partitions() []string {
	if t.states == nil {
		return nil
	}
	return t.states.Partitions()
}

// Len returns the number of rows in the partition selected by ctx.
func (t *InMemoryTable) Len(ctx context.Context) (int, error) {
	if err := t.ready(); err != nil {
		return 0, err
	}
	t.gate.RLock()
	defer t.gate.RUnlock()

	var n int
	err := state.Scope(ctx, t.states, func(s *tableState) error {
		n = s.holder.Len()
		return nil
	})
	return n, err
}

func (t *InMemoryTable) ready() error {
	if t.states == nil {
		return ErrNotInitialized
	}
	return nil
}

// operator resolves a compiled condition to this backend's plan type.
func (t *InMemoryTable) operator(cond CompiledCondition) (*operator.Operator, error) {
	if err := t.ready(); err != nil {
		return nil, err
	}
	switch c := cond.(type) {
	case *operator.Operator:
		if c == nil {
			return nil, fmt.Errorf("%w: nil operator", ErrIncompatibleCondition)
		}
		if c.TableID() != t.def.ID() || c.Fingerprint() != t.fingerprint {
			return nil, fmt.Errorf("%w: compiled for %s, table is %s", ErrIncompatibleCondition, c.TableID(), t.def.ID())
		}
		return c, nil
	default:
		return nil, fmt.Errorf("%w: unsupported type %T", ErrIncompatibleCondition, cond)
	}
}

func (t *InMemoryTable) updateSet(set CompiledUpdateSet) (*operator.UpdateSet, error) {
	switch s := set.(type) {
	case *operator.UpdateSet:
		if s == nil {
			return nil, fmt.Errorf("%w: nil update set", ErrIncompatibleUpdateSet)
		}
		if s.TableID() != t.def.ID() || s.Fingerprint() != t.fingerprint {
			return nil, fmt.Errorf("%w: compiled for %s, table is %s", ErrIncompatibleUpdateSet, s.TableID(), t.def.ID())
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: unsupported type %T", ErrIncompatibleUpdateSet, set)
	}
}

// incomingStream returns the first stream position that is not the store.
func incomingStream(store, width int) (int, error) {
	for i := 0; i < width; i++ {
		if i != store {
			return i, nil
		}
	}
	return 0, errors.New("eventtable: matching layout has no incoming stream")
}
