package eventtable

import (
	"context"
	"errors"

	"github.com/hupe1980/eventtable/event"
	"github.com/hupe1980/eventtable/expression"
	"github.com/hupe1980/eventtable/holder"
	"github.com/hupe1980/eventtable/operator"
	"github.com/hupe1980/eventtable/state"
)

// Definition declares a table: its schema and the access paths its storage maintains.
// The table ID is the schema ID.
type Definition struct {
	Schema *event.Schema
	// PrimaryKey names the columns of a unique key. Rows with an existing key are dropped on add.
	PrimaryKey []string
	// Indexes names columns with a secondary index for equality and range predicates.
	Indexes []string
}

// ID returns the table ID.
func (d Definition) ID() string {
	if d.Schema == nil {
		return ""
	}
	return d.Schema.ID
}

func (d Definition) validate() error {
	if d.Schema == nil {
		return errors.New("eventtable: definition has no schema")
	}
	if d.Schema.ID == "" {
		return errors.New("eventtable: schema has no id")
	}
	return nil
}

func (d Definition) holderDefinition() holder.Definition {
	return holder.Definition{
		Schema:     d.Schema,
		PrimaryKey: d.PrimaryKey,
		Indexes:    d.Indexes,
	}
}

// CompiledCondition is an opaque condition produced by CompileCondition of
// the table it is used with.
type CompiledCondition interface {
	TableID() string
}

// CompiledUpdateSet is an opaque update set produced by CompileUpdateSet of
// the table it is used with.
type CompiledUpdateSet interface {
	TableID() string
}

// Operations is the contract between the query engine and a table backend.
//
// Writes (Add, Delete, Update, UpdateOrAdd) are mutually exclusive with every
// other data operation of the same table; reads (Contains, Find, FindAll) may
// run concurrently with each other. Compile calls depend only on the schema
// and storage shape and may run at any time. The partition a call works on is
// taken from ctx (see state.WithPartitionKey). All calls block until they
// complete; ctx cancellation does not abort lock acquisition.
type Operations interface {
	// Init prepares the backend for def. cloner copies rows on the way in and out.
	Init(def Definition, cloner event.Cloner) error

	// Add stores rows. All rows become visible to readers at once.
	Add(ctx context.Context, rows []*event.Row) error

	// Delete removes, for each incoming context, every stored row matching cond.
	Delete(ctx context.Context, batch []*event.StateEvent, cond CompiledCondition) error

	// Update applies set to every stored row matching cond, per incoming context.
	// Incoming contexts without a match are skipped.
	Update(ctx context.Context, batch []*event.StateEvent, cond CompiledCondition, set CompiledUpdateSet) error

	// UpdateOrAdd works like Update and inserts one row, produced by ex, for
	// every incoming context that matches nothing. A nil ex takes the incoming
	// row as is.
	UpdateOrAdd(ctx context.Context, batch []*event.StateEvent, cond CompiledCondition, set CompiledUpdateSet, ex operator.Extractor) error

	// Contains reports whether any stored row matches cond for ev.
	Contains(ctx context.Context, ev *event.StateEvent, cond CompiledCondition) (bool, error)

	// Find returns a copy of one matching row, or nil.
	Find(ctx context.Context, cond CompiledCondition, ev *event.StateEvent) (*event.Row, error)

	// FindAll returns copies of all matching rows.
	FindAll(ctx context.Context, cond CompiledCondition, ev *event.StateEvent) ([]*event.Row, error)

	// CompileCondition compiles expr for the matching layout meta.
	CompileCondition(ctx context.Context, expr expression.Expression, meta *expression.Meta) (CompiledCondition, error)

	// CompileUpdateSet compiles assignments for the matching layout meta. With
	// no assignments, every column is set from the same-named attribute of the
	// first incoming stream.
	CompileUpdateSet(ctx context.Context, assignments []operator.Assignment, meta *expression.Meta) (CompiledUpdateSet, error)

	// Connect, Disconnect and Destroy are lifecycle hooks.
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Destroy(ctx context.Context) error
}

// Snapshotter is implemented by backends that take part in checkpoints.
type Snapshotter interface {
	Snapshot(ctx context.Context) (state.Snapshot, error)
	Restore(ctx context.Context, snap state.Snapshot) error
}

// RestorePreparer is implemented by backends that can decode a snapshot
// ahead of installing it. The commit returned by PrepareRestore applies the
// decoded content; a failed PrepareRestore leaves the backend unchanged.
type RestorePreparer interface {
	PrepareRestore(ctx context.Context, snap state.Snapshot) (commit func() error, err error)
}
