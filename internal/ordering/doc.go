// Package ordering provides the ordered-collection types and the reorder planner.
//
// This package is pure: it performs no I/O and imports nothing internal
// except apperr. Every other marketadmin package builds on it.
//
// Key constraints:
//   - Functions never mutate their input slices; they return fresh copies
//   - Order values of a collection form a contiguous sequence starting at the
//     scope base once a plan is applied
//   - Plans always carry the full assignment for the collection, never a
//     partial one, so the backend can apply it atomically
//   - Snapshots are immutable and replaced as a whole
package ordering
