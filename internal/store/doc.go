// Package store provides SQLite-backed local state for marketadmin.
//
// Nothing in here is authoritative; the backend owns every collection.
// The store keeps:
//   - Sessions: the bearer token from the last login (single row)
//   - Snapshots: the last fetched copy of each scope, replaced whole
//   - Actions: the journal of user actions and their state transitions
//
// # Ordering
//
// Journal queries order by seq ASC, id ASC COLLATE BINARY. seq is the
// manager's logical clock, resumed from MaxActionSeq on startup, so history
// reads identically regardless of wall time.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
