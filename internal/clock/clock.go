package clock

import (
	"sync"
	"time"
)

// Clock supplies the engine's notion of now. Production code uses System;
// tests substitute Manual.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// System returns the wall clock.
func System() Clock { return systemClock{} }

// Manual is a hand-driven clock for tests.
type Manual struct {
	mu sync.Mutex
	t  time.Time
}

func NewManual(start time.Time) *Manual {
	return &Manual{t: start}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t
}

func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.t = t
}

func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.t = m.t.Add(d)
}
