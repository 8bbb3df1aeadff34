package clock

import (
	"sync"
	"time"
)

// Manual is a Clock advanced explicitly by tests. Timers created through
// After fire when Advance moves the clock to or past their deadline.
type Manual struct {
	mu      sync.Mutex
	cond    *sync.Cond
	now     time.Time
	waiters []*waiter
}

type waiter struct {
	at time.Time
	ch chan time.Time
}

var _ Clock = (*Manual)(nil)

// NewManual creates a Manual clock set to the given time.
func NewManual(t time.Time) *Manual {
	m := &Manual{now: t}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Now returns the mocked current time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// After registers a timer that fires once Advance reaches its deadline.
// A non-positive duration fires immediately.
func (m *Manual) After(d time.Duration) <-chan time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- m.now
		return ch
	}
	m.waiters = append(m.waiters, &waiter{at: m.now.Add(d), ch: ch})
	m.cond.Broadcast()
	return ch
}

// Advance moves the clock forward and fires every timer whose deadline has
// been reached.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
	kept := m.waiters[:0]
	for _, w := range m.waiters {
		if w.at.After(m.now) {
			kept = append(kept, w)
			continue
		}
		w.ch <- m.now
	}
	m.waiters = kept
}

// Set sets the clock to the given time without firing timers.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}

// BlockUntil waits until at least n timers are pending. Tests use it to
// rendezvous with goroutines that schedule via After before advancing.
func (m *Manual) BlockUntil(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for len(m.waiters) < n {
		m.cond.Wait()
	}
}
