// Package eventtable provides in-memory event tables for stream processing.
//
// A table stores rows of a fixed schema and is queried and mutated by a
// stream engine through compiled conditions: expressions over a matching
// context in which one position holds the candidate table row and the others
// hold incoming stream rows.
//
// # Quick Start
//
//	accounts := event.MustSchema("accounts",
//	    event.Attribute{Name: "id", Type: event.TypeInt},
//	    event.Attribute{Name: "balance", Type: event.TypeInt},
//	)
//	t, err := eventtable.Open(eventtable.Definition{
//	    Schema:     accounts,
//	    PrimaryKey: []string{"id"},
//	})
//
// Compile once, execute per batch:
//
//	meta := expression.NewMeta(1, deltas, accounts) // table row at position 1
//	cond, _ := t.CompileCondition(ctx, expression.Eq(
//	    expression.Var(1, "id"), expression.Var(0, "id"),
//	), meta)
//	set, _ := t.CompileUpdateSet(ctx, []operator.Assignment{
//	    operator.Set("balance", expression.Add(expression.Var(1, "balance"), expression.Var(0, "delta"))),
//	}, meta)
//	err = t.Update(ctx, batch, cond, set)
//
// # Concurrency
//
// Writes are mutually exclusive with all other data operations of a table;
// reads run concurrently. A write batch is either applied in full or not at
// all, and readers never see part of a batch.
//
// # Partitions
//
// The partition key is carried in the context (state.WithPartitionKey). Each
// partition has its own rows, created on first use and kept for the life of
// the table. Snapshot and Restore cover all partitions; see the checkpoint
// package for persisting them to a blob store.
package eventtable
