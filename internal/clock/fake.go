package clock

import "time"

// FakeClock is a manually driven Clock for tests. It only moves when
// Advance is called, so threshold and cadence logic can be exercised
// without sleeping.
type FakeClock struct {
	now time.Time
}

// NewFakeClock starts a fake clock frozen at t (normalized to UTC).
func NewFakeClock(t time.Time) *FakeClock {
	return &FakeClock{now: t.UTC()}
}

func (c *FakeClock) Now() time.Time {
	return c.now
}

// Advance moves the clock forward by d and returns the new time.
func (c *FakeClock) Advance(d time.Duration) time.Time {
	c.now = c.now.Add(d)
	return c.now
}
