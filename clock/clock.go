// Package clock provides the time source used for every expiry, window, and
// cooldown comparison in goRotate.
//
// Production wiring uses [System]. Tests use [Manual] so expiry boundaries and
// limiter windows can be stepped deterministically.
package clock

import (
	"sync"
	"time"
)

// Clock returns the current instant. Implementations must be safe for
// concurrent use.
type Clock interface {
	Now() time.Time
}

// System reads the wall clock.
type System struct{}

// Now returns time.Now().
func (System) Now() time.Time { return time.Now() }

// Manual is a settable clock for deterministic tests and load simulations.
type Manual struct {
	mu  sync.RWMutex
	now time.Time
}

// NewManual returns a [Manual] clock positioned at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

// Now returns the manually controlled instant.
func (m *Manual) Now() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.now
}

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

// Set positions the clock at t.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}
