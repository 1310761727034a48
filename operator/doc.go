// Package operator compiles table conditions into plans and executes them
// against a holder.EventHolder.
//
// Compile decides once how rows are located:
//
//   - PlanPrimaryKey: the condition pins every primary-key column with an
//     equality against the incoming side; at most one candidate row.
//   - PlanIndex: the condition constrains at least one secondary-indexed
//     column by equality or range; candidates are the intersection of the
//     matching posting lists.
//   - PlanScan: every stored row is a candidate.
//
// Candidates are always re-checked against the full condition, so the plan
// only affects cost, never results. Candidates are visited in ascending slot
// order, which makes Find deterministic: it returns the matching row with the
// lowest slot.
//
// Mutating operations (Delete, Update, TryUpdate, UpdateOrAdd) record an undo
// log and roll the holder back completely when they fail.
package operator
