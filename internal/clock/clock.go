// Package clock abstracts wall-clock time so window arithmetic and period
// keys can be tested deterministically without sleeps.
package clock

import (
	"sync"
	"time"
)

// Clock provides the current instant for admission decisions.
type Clock interface {
	Now() time.Time
}

// System reads the real wall clock.
type System struct{}

// NewSystem creates a system clock. The returned clock is stateless and safe
// to share across goroutines.
func NewSystem() *System {
	return &System{}
}

// Now returns the current wall-clock time.
func (c *System) Now() time.Time {
	return time.Now()
}

// Manual is a test clock whose time only moves when told to.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual creates a manual clock starting at the given instant.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

// Now returns the manual clock's current instant.
func (c *Manual) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Manual) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set moves the clock to an absolute instant.
func (c *Manual) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Millis converts an instant to unix milliseconds, the unit rate-limit
// records are stored in.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}
