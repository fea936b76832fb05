// Package clock provides a mockable time source.
//
// The watchdog deadline and the confirmation deadline both run off a Clock,
// so tests drive the apply/confirm/rollback protocol without sleeping.
package clock

import (
	"sort"
	"sync"
	"time"
)

// Clock is the subset of the time package the deadline code needs.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
	Until(t time.Time) time.Duration
	After(d time.Duration) <-chan time.Time
}

// RealClock reads the system clock.
type RealClock struct{}

func (*RealClock) Now() time.Time                         { return time.Now() }
func (*RealClock) Since(t time.Time) time.Duration        { return time.Since(t) }
func (*RealClock) Until(t time.Time) time.Duration        { return time.Until(t) }
func (*RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Default is used wherever a nil Clock is passed.
var Default Clock = &RealClock{}

// Or returns c, or Default when c is nil.
func Or(c Clock) Clock {
	if c == nil {
		return Default
	}
	return c
}

// Now reads Default.
func Now() time.Time { return Default.Now() }

type timer struct {
	at time.Time
	ch chan time.Time
}

// MockClock only moves when told to. Channels returned by After fire, in
// deadline order, once Advance or Set carries the clock past them.
type MockClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []timer
}

func NewMockClock(t time.Time) *MockClock {
	return &MockClock{now: t}
}

func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *MockClock) Since(t time.Time) time.Duration { return c.Now().Sub(t) }
func (c *MockClock) Until(t time.Time) time.Duration { return t.Sub(c.Now()) }

// After is relative to the mock time at the moment of the call.
// A non-positive d fires immediately.
func (c *MockClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)

	c.mu.Lock()
	defer c.mu.Unlock()
	if d <= 0 {
		ch <- c.now
		return ch
	}
	c.timers = append(c.timers, timer{at: c.now.Add(d), ch: ch})
	return ch
}

func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
	c.expireLocked()
}

func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.expireLocked()
}

// Waiters reports how many After channels have not fired yet.
func (c *MockClock) Waiters() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// BlockUntilWaiters polls in real time until n timers are pending. Call it
// before Advance so the goroutine under test has armed its deadline.
func (c *MockClock) BlockUntilWaiters(n int, timeout time.Duration) bool {
	for end := time.Now().Add(timeout); time.Now().Before(end); time.Sleep(time.Millisecond) {
		if c.Waiters() >= n {
			return true
		}
	}
	return c.Waiters() >= n
}

func (c *MockClock) expireLocked() {
	sort.SliceStable(c.timers, func(i, j int) bool { return c.timers[i].at.Before(c.timers[j].at) })
	n := 0
	for n < len(c.timers) && !c.timers[n].at.After(c.now) {
		c.timers[n].ch <- c.now
		n++
	}
	c.timers = append(c.timers[:0], c.timers[n:]...)
}
