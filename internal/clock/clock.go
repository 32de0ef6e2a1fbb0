// Package clock implements the process-wide Lamport logical clock.
//
// Three operations are exposed: reading the current value, ticking
// it for a locally-originated event, and merging in an observed
// remote value. This mirrors a mutex-guarded counter with
// get/increment/merge operations, the standard shape of a Lamport
// clock implementation.
package clock

import "sync"

// Clock is a monotonically increasing Lamport logical timestamp,
// safe for concurrent use by any number of goroutines.
type Clock struct {
	mu    sync.Mutex
	value uint64
}

// New returns a Clock starting at zero, matching dlmd.c's
// `event_counter = 0` initialization in main().
func New() *Clock {
	return &Clock{}
}

// Get returns the current value without advancing it.
func (c *Clock) Get() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Tick atomically increments the counter and returns the new value.
// Call before originating any event (a lock request or an unlock).
func (c *Clock) Tick() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value++
	return c.value
}

// Observe merges an incoming timestamp: set the counter to
// max(local, incoming) then increment, per the Lamport merge rule.
// Call immediately upon receiving any peer-originated event.
func (c *Clock) Observe(incoming uint64) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if incoming > c.value {
		c.value = incoming
	}
	c.value++
	return c.value
}
