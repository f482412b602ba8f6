package testutil

import (
	"sync"
	"time"
)

// DeterministicClock is a logical clock for tests that can be reset, so the
// same scenario run twice stamps identical action seqs and snapshot versions.
//
// It satisfies the Next() int64 sequencer used by the syncer and manager.
// All methods are safe for concurrent use.
type DeterministicClock struct {
	mu  sync.Mutex
	seq int64
}

// NewDeterministicClock returns a clock whose first Next() is 1.
func NewDeterministicClock() *DeterministicClock {
	return &DeterministicClock{}
}

func (c *DeterministicClock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return c.seq
}

func (c *DeterministicClock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Reset rewinds the clock so the next call to Next() returns 1.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq = 0
}

// FrozenTime returns a wall clock that always reads t.
func FrozenTime(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// SteppingTime returns a wall clock that starts at start and advances by
// step on every read. Safe for concurrent use.
func SteppingTime(start time.Time, step time.Duration) func() time.Time {
	var (
		mu  sync.Mutex
		cur = start
	)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := cur
		cur = cur.Add(step)
		return t
	}
}
