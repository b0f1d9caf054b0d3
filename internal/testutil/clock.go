// Package testutil provides deterministic clocks and id generators
// shared by tests and the scenario harness.
package testutil

import (
	"fmt"
	"sync"
	"time"
)

// DefaultBase is the epoch deterministic clocks start from. Golden
// files assume it; changing it invalidates them.
var DefaultBase = time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

// TickingClock returns a clock function that advances by step on
// every call, starting one step after base. Wiring the same function
// into the store and the recorder gives a single global ordering of
// timestamps across both.
//
// Thread-safety: safe for concurrent use via internal mutex.
func TickingClock(base time.Time, step time.Duration) func() time.Time {
	var mu sync.Mutex
	tick := 0
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		tick++
		return base.Add(time.Duration(tick) * step)
	}
}

// SequentialIDs returns an id generator that mints "p-0001", "p-0002",
// and so on for prefix p. Unlike a fixed list it never exhausts, so
// scenarios do not need to predeclare how many ids they consume.
type SequentialIDs struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequentialIDs creates a generator with the given prefix.
func NewSequentialIDs(prefix string) *SequentialIDs {
	return &SequentialIDs{prefix: prefix}
}

// Generate returns the next id in sequence. Padding widens past 9999
// instead of wrapping, so long scenarios never collide.
func (g *SequentialIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%04d", g.prefix, g.n)
}
