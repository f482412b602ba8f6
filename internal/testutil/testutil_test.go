package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDeterministicClock_NextAndReset(t *testing.T) {
	clock := NewDeterministicClock()
	assert.Equal(t, int64(0), clock.Current())

	assert.Equal(t, int64(1), clock.Next())
	assert.Equal(t, int64(2), clock.Next())
	assert.Equal(t, int64(2), clock.Current())

	clock.Reset()
	assert.Equal(t, int64(1), clock.Next())
}

func TestDeterministicClock_ThreadSafe(t *testing.T) {
	clock := NewDeterministicClock()
	const goroutines, calls = 50, 100

	var (
		mu   sync.Mutex
		seen = map[int64]bool{}
		wg   sync.WaitGroup
	)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < calls; j++ {
				seq := clock.Next()
				mu.Lock()
				seen[seq] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, goroutines*calls)
	assert.Equal(t, int64(goroutines*calls), clock.Current())
}

func TestFrozenTime(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	now := FrozenTime(at)
	assert.Equal(t, at, now())
	assert.Equal(t, at, now())
}

func TestSteppingTime(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := SteppingTime(start, time.Second)
	assert.Equal(t, start, now())
	assert.Equal(t, start.Add(time.Second), now())
	assert.Equal(t, start.Add(2*time.Second), now())
}

func TestSequentialIDs(t *testing.T) {
	g := NewSequentialIDs("act")
	assert.Equal(t, "act-0001", g.Generate())
	assert.Equal(t, "act-0002", g.Generate())

	assert.Equal(t, "id-0001", NewSequentialIDs("").Generate())
}
