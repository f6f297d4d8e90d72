// Package store provides durable SQLite-backed storage for a managed root.
//
// One database file (.januskey/januskey.db) holds five concerns:
//
//   - operations: the append-only operation history
//   - undo_marks: tombstone-style records toggling the undone flag
//   - transactions: transaction lifecycle records plus the active pointer
//   - obliterations: the append-only obliteration audit log
//   - blobs: the content-store index, whose stored flag doubles as the
//     obliteration tombstone
//
// Append-only tables are never updated in place: marking an operation
// undone appends a referencing row, and audit records are immutable after
// insertion.
package store
