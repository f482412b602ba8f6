package manager

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// Clock is the monotonic logical clock stamping action seqs and snapshot
// versions. Ordering uses seq, never wall time.
//
// Safe for concurrent use.
type Clock struct {
	seq atomic.Int64
}

// NewClockAt creates a clock resuming after start, typically the store's
// ResumeSeq so a new process never reuses a seq.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number. Each call returns a unique,
// increasing value.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}

// IDGenerator produces action ids.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable action ids.
type UUIDv7Generator struct{}

func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}
