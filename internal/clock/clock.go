// Package clock provides the transport time source shared by all decks.
package clock

import "sync"

// Clock reports monotonically increasing time in seconds. Readings are only
// meaningful relative to each other. *audio.Engine implements it.
type Clock interface {
	Now() float64
}

// Manual is a clock advanced explicitly by its owner.
type Manual struct {
	mu  sync.Mutex
	now float64
}

// NewManual returns a manual clock reading start.
func NewManual(start float64) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Now() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Set moves the clock to t. Moving backwards is ignored.
func (m *Manual) Set(t float64) {
	m.mu.Lock()
	if t > m.now {
		m.now = t
	}
	m.mu.Unlock()
}

// Advance moves the clock forward by d seconds.
func (m *Manual) Advance(d float64) {
	if d <= 0 {
		return
	}
	m.mu.Lock()
	m.now += d
	m.mu.Unlock()
}
