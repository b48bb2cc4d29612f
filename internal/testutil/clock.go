package testutil

import (
	"sync"
	"time"
)

// DefaultEpoch is the first instant a FixedClock reports unless told
// otherwise.
var DefaultEpoch = time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)

// FixedClock is a deterministic wall clock for tests.
//
// Every call to Now returns the current instant and then advances it by Step,
// so consecutive timestamps are strictly increasing and reproducible across
// runs. A zero Step freezes time.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type FixedClock struct {
	mu    sync.Mutex
	start time.Time
	now   time.Time
	step  time.Duration
}

// NewFixedClock creates a clock starting at start that advances by step per
// reading. A zero start uses DefaultEpoch.
func NewFixedClock(start time.Time, step time.Duration) *FixedClock {
	if start.IsZero() {
		start = DefaultEpoch
	}
	start = start.UTC()
	return &FixedClock{start: start, now: start, step: step}
}

// Now returns the current instant and advances the clock.
func (c *FixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

// Peek returns the instant the next Now call will report.
func (c *FixedClock) Peek() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d without consuming a reading.
func (c *FixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set jumps the clock to t. Moving backwards is allowed so tests can
// simulate a skewed host clock.
func (c *FixedClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t.UTC()
}

// Reset rewinds the clock to its start instant.
func (c *FixedClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.start
}
