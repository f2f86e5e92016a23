package testfixtures

import (
	"sync"
	"time"
)

// Clock drives the time seen by the appointment and calendar sync services.
// Sync leases are taken and expired against its readings, so a test moves
// past a stalled claim by advancing the clock instead of sleeping.
type Clock struct {
	mu      sync.Mutex
	current time.Time
	step    time.Duration
}

// NewClock starts a clock at start, or at ReferenceTime when start is zero.
func NewClock(start time.Time) *Clock {
	if start.IsZero() {
		start = ReferenceTime()
	}
	return &Clock{current: start}
}

// Now returns the clock reading. When a step is set the clock moves forward
// by it after every reading, so consecutive sync attempts record distinct
// timestamps.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.current
	c.current = c.current.Add(c.step)
	return now
}

// NowFunc returns Now, or time.Now for a nil clock.
func (c *Clock) NowFunc() func() time.Time {
	if c == nil {
		return time.Now
	}
	return c.Now
}

// Step sets how far each reading advances the clock. Zero freezes it again.
func (c *Clock) Step(d time.Duration) {
	c.mu.Lock()
	c.step = d
	c.mu.Unlock()
}

// Set jumps the clock to t.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.current = t
	c.mu.Unlock()
}

// Advance moves the clock forward by d and returns the new reading.
func (c *Clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
	return c.current
}

// ExpireLease moves the clock to the instant a sync lease of length lease,
// claimed at claimedAt, stops holding. It never moves the clock backwards.
func (c *Clock) ExpireLease(claimedAt time.Time, lease time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if until := claimedAt.Add(lease); until.After(c.current) {
		c.current = until
	}
	return c.current
}
