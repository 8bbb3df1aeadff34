// Package clock abstracts time for components that schedule work, so tests
// can drive heartbeat and cleanup timers without real sleeps.
package clock

import "time"

// Clock provides time operations that can be mocked for testing.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// Real implements Clock using the system clock.
type Real struct{}

// New creates a new Real clock.
func New() *Real {
	return &Real{}
}

// Now returns the current time.
func (c *Real) Now() time.Time {
	return time.Now()
}

// After waits for the duration to elapse and then sends the current time
// on the returned channel.
func (c *Real) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}
