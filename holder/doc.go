// Package holder stores the rows of one table partition.
//
// Two EventHolder implementations exist:
//
//   - ListHolder keeps rows in insertion order and only supports full scans.
//   - IndexHolder additionally maintains a primary-key map and roaring-bitmap
//     posting lists for secondary-indexed columns, so compiled predicates can
//     narrow their candidate set before evaluating the full expression.
//
// Parse picks the implementation from a Definition.
//
// Holders are not safe for concurrent use. The table that owns a holder
// serializes access with its read/write gate.
//
// Every row lives in a numbered slot. Scan visits slots in ascending order.
// ListHolder never reuses a slot while it holds rows; IndexHolder reuses the
// lowest free slot.
//
// Snapshot produces a self-describing, checksummed blob that Restore accepts
// on a fresh holder of the same schema.
package holder
