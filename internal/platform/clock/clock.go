// Package clock abstracts wall-clock time so expiry logic can be tested.
package clock

import (
	"sync"
	"time"
)

// Clock reports the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

// New returns a Clock backed by time.Now in UTC.
func New() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// ManagedClock is a hand-driven clock for tests. It is safe for concurrent use.
type ManagedClock struct {
	mu        sync.Mutex
	startTime time.Time
	offset    time.Duration
}

// NewManaged returns a ManagedClock frozen at startTime.
func NewManaged(startTime time.Time) *ManagedClock {
	return &ManagedClock{startTime: startTime}
}

func (c *ManagedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startTime.Add(c.offset)
}

// WarpForward advances the clock by offset and returns the new time.
func (c *ManagedClock) WarpForward(offset time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset += offset
	return c.startTime.Add(c.offset)
}
