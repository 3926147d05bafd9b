package engine

import (
	"sync"
	"time"
)

// fakeClock is a manually driven Clock. After advances time by d and fires
// immediately so blocking waits complete without sleeping.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.Advance(d)
	ch := make(chan time.Time, 1)
	ch <- c.Now()
	return ch
}

// stalledClock never fires After, for cancellation tests.
type stalledClock struct {
	*fakeClock
}

func (c stalledClock) After(time.Duration) <-chan time.Time {
	return make(chan time.Time)
}
