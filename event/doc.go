// Package event defines the row model shared by every table component.
//
// # Values
//
// A Value is a small typed scalar:
//
//   - Null: event.Null()
//   - Int: event.Int(42)
//   - Float: event.Float(3.14)
//   - String: event.String("abc")
//   - Bool: event.Bool(true)
//
// # Rows and matching contexts
//
// A Row is an ordered tuple of values that conforms to a Schema. Column
// identity is positional.
//
// A StateEvent is the context a compiled predicate is evaluated against. It
// holds one row per stream position of a (possibly joined) match. While a
// predicate is evaluated against stored rows, the table's own row occupies the
// store position:
//
//	ev := event.NewStateEvent(2)
//	ev.Set(0, incoming) // matching stream
//	// position 1 is filled with candidate table rows by the operator
package event
