package eventtable_test

import (
	"bytes"
	"context"
	"log/slog"
	"sort"
	"testing"

	"github.com/hupe1980/eventtable"
	"github.com/hupe1980/eventtable/event"
	"github.com/hupe1980/eventtable/expression"
	"github.com/hupe1980/eventtable/holder"
	"github.com/hupe1980/eventtable/operator"
	"github.com/hupe1980/eventtable/state"
	"github.com/hupe1980/eventtable/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

const (
	in    = 0
	table = 1
)

func accountsDefinition() eventtable.Definition {
	return eventtable.Definition{
		Schema:     testutil.AccountsSchema(),
		PrimaryKey: []string{"id"},
	}
}

func deltaMeta() *expression.Meta {
	return expression.NewMeta(table, testutil.DeltaSchema(), testutil.AccountsSchema())
}

func deltas(pairs ...int64) []*event.StateEvent {
	out := make([]*event.StateEvent, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		ev := event.NewStateEvent(2)
		ev.Set(in, testutil.Delta(pairs[i], pairs[i+1]))
		out = append(out, ev)
	}
	return out
}

func idMatch() expression.Expression {
	return expression.Eq(expression.Var(table, "id"), expression.Var(in, "id"))
}

func addDelta() []operator.Assignment {
	return []operator.Assignment{
		operator.Set("balance", expression.Add(expression.Var(table, "balance"), expression.Var(in, "delta"))),
	}
}

// newAccount converts an unmatched delta into an account holding the delta.
var newAccount = operator.ExtractorFunc(func(ev *event.StateEvent) (*event.Row, error) {
	d := ev.At(in)
	id, _ := d.Get(0).AsInt64()
	delta, _ := d.Get(1).AsInt64()
	return testutil.Account(id, "new", delta), nil
})

func balances(t *testing.T, tbl *eventtable.Table, ctx context.Context) map[int64]int64 {
	t.Helper()
	meta := expression.NewMeta(0, testutil.AccountsSchema())
	cond, err := tbl.CompileCondition(ctx, expression.Not(expression.IsNull(expression.Var(0, "id"))), meta)
	require.NoError(t, err)

	rows, err := tbl.FindAll(ctx, cond, event.NewStateEvent(1))
	require.NoError(t, err)

	out := make(map[int64]int64, len(rows))
	for _, r := range rows {
		id, _ := r.Get(0).AsInt64()
		bal, _ := r.Get(2).AsInt64()
		out[id] = bal
	}
	return out
}

func TestTableAccounts(t *testing.T) {
	ctx := context.Background()
	tbl, err := eventtable.Open(accountsDefinition())
	require.NoError(t, err)

	require.NoError(t, tbl.Add(ctx, testutil.Accounts(3)))

	meta := deltaMeta()
	cond, err := tbl.CompileCondition(ctx, idMatch(), meta)
	require.NoError(t, err)
	set, err := tbl.CompileUpdateSet(ctx, addDelta(), meta)
	require.NoError(t, err)

	t.Run("Update", func(t *testing.T) {
		require.NoError(t, tbl.Update(ctx, deltas(1, 5, 3, -30, 9, 100), cond, set))
		assert.Equal(t, map[int64]int64{1: 15, 2: 20, 3: 0}, balances(t, tbl, ctx))
	})

	t.Run("ContainsAndFind", func(t *testing.T) {
		ok, err := tbl.Contains(ctx, deltas(2, 0)[0], cond)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = tbl.Contains(ctx, deltas(42, 0)[0], cond)
		require.NoError(t, err)
		assert.False(t, ok)

		row, err := tbl.Find(ctx, cond, deltas(2, 0)[0])
		require.NoError(t, err)
		require.NotNil(t, row)
		assert.Equal(t, event.String("user-2"), row.Get(1))

		row, err = tbl.Find(ctx, cond, deltas(42, 0)[0])
		require.NoError(t, err)
		assert.Nil(t, row)
	})

	t.Run("UpdateOrAdd", func(t *testing.T) {
		require.NoError(t, tbl.UpdateOrAdd(ctx, deltas(1, 1, 7, 70, 7, 5), cond, set, newAccount))
		assert.Equal(t, map[int64]int64{1: 16, 2: 20, 3: 0, 7: 75}, balances(t, tbl, ctx))
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, tbl.Delete(ctx, deltas(2, 0, 7, 0, 99, 0), cond))
		assert.Equal(t, map[int64]int64{1: 16, 3: 0}, balances(t, tbl, ctx))
	})
}

func TestTableDuplicatePrimaryKeyIsLogged(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	logger := eventtable.NewLogger(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	tbl, err := eventtable.Open(accountsDefinition(), eventtable.WithLogger(logger))
	require.NoError(t, err)

	require.NoError(t, tbl.Add(ctx, []*event.Row{
		testutil.Account(1, "a", 1),
		testutil.Account(1, "b", 2),
	}))

	n, err := tbl.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Contains(t, buf.String(), "duplicate primary key")
	assert.Contains(t, buf.String(), "table=accounts")
}

func TestTableAddCopiesRows(t *testing.T) {
	ctx := context.Background()
	tbl, err := eventtable.Open(accountsDefinition())
	require.NoError(t, err)

	rows := testutil.Accounts(1)
	require.NoError(t, tbl.Add(ctx, rows))
	rows[0].Values[2] = event.Int(-1)

	assert.Equal(t, map[int64]int64{1: 10}, balances(t, tbl, ctx))
}

func TestTableReadersNeverSeePartialBatches(t *testing.T) {
	const (
		rows    = 500
		readers = 8
		reads   = 50
	)
	ctx := context.Background()
	tbl, err := eventtable.Open(eventtable.Definition{Schema: testutil.AccountsSchema()})
	require.NoError(t, err)

	meta := expression.NewMeta(0, testutil.AccountsSchema())
	cond, err := tbl.CompileCondition(ctx, expression.Gte(expression.Var(0, "balance"), expression.Const(event.Int(0))), meta)
	require.NoError(t, err)

	var g errgroup.Group
	for range readers {
		g.Go(func() error {
			for range reads {
				found, err := tbl.FindAll(ctx, cond, event.NewStateEvent(1))
				if err != nil {
					return err
				}
				if n := len(found); n != 0 && n != rows {
					t.Errorf("observed %d rows, want 0 or %d", n, rows)
				}
			}
			return nil
		})
	}
	g.Go(func() error { return tbl.Add(ctx, testutil.Accounts(rows)) })
	require.NoError(t, g.Wait())

	n, err := tbl.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, rows, n)
}

func TestTableDefaultUpdateSet(t *testing.T) {
	ctx := context.Background()
	tbl, err := eventtable.Open(accountsDefinition())
	require.NoError(t, err)
	require.NoError(t, tbl.Add(ctx, testutil.Accounts(2)))

	// The incoming stream has the table's columns, so every column is copied.
	meta := expression.NewMeta(table, testutil.AccountsSchema(), testutil.AccountsSchema())
	cond, err := tbl.CompileCondition(ctx, idMatch(), meta)
	require.NoError(t, err)
	set, err := tbl.CompileUpdateSet(ctx, nil, meta)
	require.NoError(t, err)

	ev := event.NewStateEvent(2)
	ev.Set(in, testutil.Account(2, "renamed", 99))
	require.NoError(t, tbl.Update(ctx, []*event.StateEvent{ev}, cond, set))

	row, err := tbl.Find(ctx, cond, ev)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, event.String("renamed"), row.Get(1))
	assert.Equal(t, event.Int(99), row.Get(2))

	// Without an extractor the incoming row is inserted as is.
	ev = event.NewStateEvent(2)
	ev.Set(in, testutil.Account(5, "five", 50))
	require.NoError(t, tbl.UpdateOrAdd(ctx, []*event.StateEvent{ev}, cond, set, nil))
	assert.Equal(t, map[int64]int64{1: 10, 2: 99, 5: 50}, balances(t, tbl, ctx))
}

func TestTableIncompatibleArtifacts(t *testing.T) {
	ctx := context.Background()
	accounts, err := eventtable.Open(accountsDefinition())
	require.NoError(t, err)

	ledgerSchema := event.MustSchema("ledger", testutil.AccountsSchema().Attributes...)
	ledger, err := eventtable.Open(eventtable.Definition{Schema: ledgerSchema})
	require.NoError(t, err)

	meta := deltaMeta()
	cond, err := accounts.CompileCondition(ctx, idMatch(), meta)
	require.NoError(t, err)
	set, err := accounts.CompileUpdateSet(ctx, addDelta(), meta)
	require.NoError(t, err)

	ledgerMeta := expression.NewMeta(table, testutil.DeltaSchema(), ledgerSchema)
	ledgerCond, err := ledger.CompileCondition(ctx, idMatch(), ledgerMeta)
	require.NoError(t, err)

	_, err = ledger.Find(ctx, cond, deltas(1, 0)[0])
	assert.ErrorIs(t, err, eventtable.ErrIncompatibleCondition)

	err = ledger.Update(ctx, deltas(1, 0), ledgerCond, set)
	assert.ErrorIs(t, err, eventtable.ErrIncompatibleUpdateSet)

	err = accounts.Delete(ctx, deltas(1, 0), foreignCondition{})
	assert.ErrorIs(t, err, eventtable.ErrIncompatibleCondition)

	// A layout whose store position holds another shape does not compile.
	_, err = accounts.CompileCondition(ctx, idMatch(), expression.NewMeta(table, testutil.DeltaSchema(), testutil.DeltaSchema()))
	assert.ErrorIs(t, err, operator.ErrStoreMismatch)
}

type foreignCondition struct{}

func (foreignCondition) TableID() string { return "accounts" }

func TestTableUpdateOrAddRollsBack(t *testing.T) {
	ctx := context.Background()
	tbl, err := eventtable.Open(accountsDefinition())
	require.NoError(t, err)
	require.NoError(t, tbl.Add(ctx, testutil.Accounts(2)))

	meta := deltaMeta()
	cond, err := tbl.CompileCondition(ctx, idMatch(), meta)
	require.NoError(t, err)
	set, err := tbl.CompileUpdateSet(ctx, addDelta(), meta)
	require.NoError(t, err)

	failing := operator.ExtractorFunc(func(*event.StateEvent) (*event.Row, error) {
		return nil, assert.AnError
	})
	err = tbl.UpdateOrAdd(ctx, deltas(1, 5, 9, 9), cond, set, failing)
	require.ErrorIs(t, err, operator.ErrExtractorFailed)

	assert.Equal(t, map[int64]int64{1: 10, 2: 20}, balances(t, tbl, ctx))
}

func TestTablePartitions(t *testing.T) {
	tbl, err := eventtable.Open(accountsDefinition())
	require.NoError(t, err)

	eu := state.WithPartitionKey(context.Background(), "eu")
	us := state.WithPartitionKey(context.Background(), "us")

	require.NoError(t, tbl.Add(eu, testutil.Accounts(2)))
	require.NoError(t, tbl.Add(us, testutil.Accounts(3)))
	// Same key in another partition is not a duplicate.
	require.NoError(t, tbl.Add(us, []*event.Row{testutil.Account(9, "x", 1)}))

	assert.Len(t, balances(t, tbl, eu), 2)
	assert.Len(t, balances(t, tbl, us), 4)

	mem, ok := tbl.Backend().(*eventtable.InMemoryTable)
	require.True(t, ok)
	assert.Equal(t, []string{"eu", "us"}, mem.Partitions())
}

func TestTableSnapshotRestore(t *testing.T) {
	ctx := context.Background()
	eu := state.WithPartitionKey(ctx, "eu")

	src, err := eventtable.Open(accountsDefinition())
	require.NoError(t, err)
	require.NoError(t, src.Add(ctx, testutil.Accounts(3)))
	require.NoError(t, src.Add(eu, []*event.Row{testutil.Account(7, "x", 70)}))

	snap, err := src.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap, 2)
	require.Contains(t, snap[state.DefaultPartition], eventtable.EventHolderComponent)

	dst, err := eventtable.Open(accountsDefinition(), eventtable.WithCodec(nil))
	require.NoError(t, err)
	require.NoError(t, dst.Add(ctx, []*event.Row{testutil.Account(100, "gone", 0)}))
	require.NoError(t, dst.Restore(ctx, snap))

	assert.Equal(t, balances(t, src, ctx), balances(t, dst, ctx))
	assert.Equal(t, map[int64]int64{7: 70}, balances(t, dst, eu))

	// The primary key index is rebuilt: re-adding a restored key is dropped.
	require.NoError(t, dst.Add(ctx, []*event.Row{testutil.Account(1, "dup", 0)}))
	n, err := dst.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestTableRestoreRejectsForeignSnapshot(t *testing.T) {
	ctx := context.Background()
	src, err := eventtable.Open(eventtable.Definition{Schema: testutil.DeltaSchema()})
	require.NoError(t, err)
	require.NoError(t, src.Add(ctx, []*event.Row{testutil.Delta(1, 1)}))
	snap, err := src.Snapshot(ctx)
	require.NoError(t, err)

	dst, err := eventtable.Open(accountsDefinition())
	require.NoError(t, err)
	require.NoError(t, dst.Add(ctx, testutil.Accounts(1)))

	err = dst.Restore(ctx, snap)
	require.ErrorIs(t, err, holder.ErrIncompatibleSnapshot)
	assert.Equal(t, map[int64]int64{1: 10}, balances(t, dst, ctx))

	err = dst.Restore(ctx, state.Snapshot{"": {"Other": []byte("x")}})
	assert.ErrorIs(t, err, holder.ErrIncompatibleSnapshot)
}

func TestTableRestoreIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	eu := state.WithPartitionKey(ctx, "eu")

	accounts, err := eventtable.Open(accountsDefinition())
	require.NoError(t, err)
	require.NoError(t, accounts.Add(eu, []*event.Row{testutil.Account(7, "x", 70)}))
	good, err := accounts.Snapshot(ctx)
	require.NoError(t, err)

	foreign, err := eventtable.Open(eventtable.Definition{Schema: testutil.DeltaSchema()})
	require.NoError(t, err)
	require.NoError(t, foreign.Add(ctx, []*event.Row{testutil.Delta(1, 1)}))
	bad, err := foreign.Snapshot(ctx)
	require.NoError(t, err)

	dst, err := eventtable.Open(accountsDefinition())
	require.NoError(t, err)
	require.NoError(t, dst.Add(eu, testutil.Accounts(1)))

	// "eu" decodes and sorts before the broken "us" partition.
	err = dst.Restore(ctx, state.Snapshot{
		"eu": good["eu"],
		"us": bad[state.DefaultPartition],
	})
	require.ErrorIs(t, err, holder.ErrIncompatibleSnapshot)
	assert.Equal(t, map[int64]int64{1: 10}, balances(t, dst, eu))

	mem, ok := dst.Backend().(*eventtable.InMemoryTable)
	require.True(t, ok)
	assert.Equal(t, []string{"eu"}, mem.Partitions())
}

func TestTablePrepareRestore(t *testing.T) {
	ctx := context.Background()
	src, err := eventtable.Open(accountsDefinition())
	require.NoError(t, err)
	require.NoError(t, src.Add(ctx, testutil.Accounts(3)))
	snap, err := src.Snapshot(ctx)
	require.NoError(t, err)

	dst, err := eventtable.Open(accountsDefinition())
	require.NoError(t, err)
	require.NoError(t, dst.Add(ctx, []*event.Row{testutil.Account(100, "gone", 0)}))

	commit, err := dst.PrepareRestore(ctx, snap)
	require.NoError(t, err)
	assert.Equal(t, map[int64]int64{100: 0}, balances(t, dst, ctx), "nothing visible before commit")

	require.NoError(t, commit())
	assert.Equal(t, balances(t, src, ctx), balances(t, dst, ctx))

	_, err = dst.PrepareRestore(ctx, state.Snapshot{"": {"Other": nil}})
	assert.ErrorIs(t, err, holder.ErrIncompatibleSnapshot)
}

func TestTableCompileDuringWrites(t *testing.T) {
	const rounds = 100
	ctx := context.Background()
	def := accountsDefinition()
	def.Indexes = []string{"balance"}
	tbl, err := eventtable.Open(def)
	require.NoError(t, err)
	require.NoError(t, tbl.Add(ctx, testutil.Accounts(10)))
	snap, err := tbl.Snapshot(ctx)
	require.NoError(t, err)

	cond, err := tbl.CompileCondition(ctx, idMatch(), deltaMeta())
	require.NoError(t, err)
	set, err := tbl.CompileUpdateSet(ctx, addDelta(), deltaMeta())
	require.NoError(t, err)

	var g errgroup.Group
	g.Go(func() error {
		for i := range rounds {
			if _, err := tbl.CompileCondition(ctx, idMatch(), deltaMeta()); err != nil {
				return err
			}
			byBalance := expression.Gte(expression.Var(table, "balance"), expression.Const(event.Int(int64(i))))
			if _, err := tbl.CompileCondition(ctx, byBalance, deltaMeta()); err != nil {
				return err
			}
			if _, err := tbl.CompileUpdateSet(ctx, addDelta(), deltaMeta()); err != nil {
				return err
			}
		}
		return nil
	})
	g.Go(func() error {
		for i := range rounds {
			if err := tbl.Add(ctx, []*event.Row{testutil.Account(int64(1000+i), "added", 1)}); err != nil {
				return err
			}
		}
		return nil
	})
	g.Go(func() error {
		for range rounds / 10 {
			if err := tbl.Restore(ctx, snap); err != nil {
				return err
			}
		}
		return nil
	})
	g.Go(func() error {
		for i := range rounds {
			if err := tbl.UpdateOrAdd(ctx, deltas(int64(i%20+1), 1), cond, set, newAccount); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, g.Wait())

	n, err := tbl.Len(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 10)
	assert.Len(t, balances(t, tbl, ctx), n)
}

func TestTableDestroy(t *testing.T) {
	ctx := context.Background()
	tbl, err := eventtable.Open(accountsDefinition())
	require.NoError(t, err)

	require.NoError(t, tbl.Connect(ctx))
	require.NoError(t, tbl.Disconnect(ctx))
	require.NoError(t, tbl.Destroy(ctx))
	require.NoError(t, tbl.Destroy(ctx))

	assert.ErrorIs(t, tbl.Add(ctx, testutil.Accounts(1)), eventtable.ErrTableDestroyed)
	_, err = tbl.CompileCondition(ctx, idMatch(), deltaMeta())
	assert.ErrorIs(t, err, eventtable.ErrTableDestroyed)
	_, err = tbl.Snapshot(ctx)
	assert.ErrorIs(t, err, eventtable.ErrTableDestroyed)
}

func TestTableMetrics(t *testing.T) {
	ctx := context.Background()
	metrics := &eventtable.BasicMetricsCollector{}
	tbl, err := eventtable.Open(accountsDefinition(), eventtable.WithMetricsCollector(metrics))
	require.NoError(t, err)

	require.NoError(t, tbl.Add(ctx, testutil.Accounts(4)))
	cond, err := tbl.CompileCondition(ctx, idMatch(), deltaMeta())
	require.NoError(t, err)
	_, err = tbl.Find(ctx, cond, deltas(1, 0)[0])
	require.NoError(t, err)
	require.NoError(t, tbl.Delete(ctx, deltas(1, 0), cond))
	_, err = tbl.Find(ctx, foreignCondition{}, deltas(1, 0)[0])
	require.Error(t, err)
	_, err = tbl.Snapshot(ctx)
	require.NoError(t, err)

	stats := metrics.GetStats()
	assert.Equal(t, int64(1), stats.AddCount)
	assert.Equal(t, int64(4), stats.AddRows)
	assert.Equal(t, int64(2), stats.ReadCount)
	assert.Equal(t, int64(1), stats.ReadErrors)
	assert.Equal(t, int64(1), stats.DeleteCount)
	assert.Equal(t, int64(1), stats.SnapshotCount)
}

func TestOpenRejectsInvalidDefinition(t *testing.T) {
	_, err := eventtable.Open(eventtable.Definition{})
	assert.Error(t, err)

	_, err = eventtable.Open(eventtable.Definition{
		Schema:     testutil.AccountsSchema(),
		PrimaryKey: []string{"missing"},
	})
	assert.Error(t, err)
}

func TestOpenWithCustomBackend(t *testing.T) {
	ctx := context.Background()
	backend := eventtable.NewInMemoryTable()
	tbl, err := eventtable.Open(accountsDefinition(), eventtable.WithOperations(backend))
	require.NoError(t, err)

	require.NoError(t, tbl.Add(ctx, testutil.Accounts(2)))
	n, err := backend.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	ids := make([]int64, 0, 2)
	for id := range balances(t, tbl, ctx) {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	assert.Equal(t, []int64{1, 2}, ids)
}
