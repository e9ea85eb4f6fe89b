// Package clock provides the shared tick counter that gates schedule execution.
package clock

import "sync/atomic"

// Clock reports the current tick. Ticks never decrease.
type Clock interface {
	Now() uint64
}

// Manual is a Clock advanced by an external driver (the keeper's cron job or a test).
type Manual struct {
	tick atomic.Uint64
}

// NewManual creates a Manual clock starting at start.
func NewManual(start uint64) *Manual {
	m := &Manual{}
	m.tick.Store(start)
	return m
}

func (m *Manual) Now() uint64 { return m.tick.Load() }

// Set moves the clock to t. Attempts to move backwards are ignored. Returns the resulting tick.
func (m *Manual) Set(t uint64) uint64 {
	for {
		cur := m.tick.Load()
		if t <= cur {
			return cur
		}
		if m.tick.CompareAndSwap(cur, t) {
			return t
		}
	}
}

// Advance moves the clock forward by n ticks and returns the new tick.
func (m *Manual) Advance(n uint64) uint64 {
	return m.tick.Add(n)
}
