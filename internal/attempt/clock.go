package attempt

import (
	"context"
	"sync"
	"time"
)

// Clock is the per-attempt countdown. It decrements once per second and
// fires onExpire exactly once when the remaining time reaches zero. There is
// no pause or extend.
type Clock struct {
	mu        sync.Mutex
	remaining int
	expired   bool
	stopped   bool
	onExpire  func()
}

// NewClock creates a countdown with the given number of seconds.
func NewClock(seconds int, onExpire func()) *Clock {
	if seconds < 0 {
		seconds = 0
	}
	return &Clock{remaining: seconds, onExpire: onExpire}
}

// Remaining returns the seconds left.
func (c *Clock) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

// Run ticks the countdown once per second until it expires, the context is
// cancelled, or Stop is called. Call in a goroutine.
func (c *Clock) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if done := c.tick(); done {
				return
			}
		}
	}
}

// Stop halts the countdown without firing expiry. Used when the attempt is
// finalized early by the participant.
func (c *Clock) Stop() {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()
}

// tick decrements the countdown by one second. Returns true once the clock
// has no more work to do. Expiry fires outside the lock so the callback can
// call back into the clock.
func (c *Clock) tick() bool {
	c.mu.Lock()
	if c.stopped || c.expired {
		c.mu.Unlock()
		return true
	}

	if c.remaining > 0 {
		c.remaining--
	}
	if c.remaining > 0 {
		c.mu.Unlock()
		return false
	}

	c.expired = true
	fire := c.onExpire
	c.mu.Unlock()

	if fire != nil {
		fire()
	}
	return true
}
