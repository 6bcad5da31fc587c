// Package clock tracks simulated time for the environment.
package clock

import "sync"

// DefaultStepDuration is the simulated duration of one step, in seconds.
const DefaultStepDuration = 1.0

// Manager advances simulated time by a fixed duration per step. Readers may
// call it from any goroutine; only the environment coordinator increments it.
type Manager struct {
	mu       sync.RWMutex
	step     uint64
	now      float64
	duration float64
	last     float64
}

// NewManager returns a clock at time zero. A negative duration is treated as
// zero (time stands still and derived speeds are zero).
func NewManager(stepDuration float64) *Manager {
	if stepDuration < 0 {
		stepDuration = 0
	}
	return &Manager{duration: stepDuration, last: stepDuration}
}

// Restore sets the clock to a previously observed position.
func (m *Manager) Restore(step uint64, now float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.step = step
	m.now = now
}

// Increment advances the clock by one step and returns the new time.
func (m *Manager) Increment() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.step++
	m.now += m.duration
	m.last = m.duration
	return m.now
}

func (m *Manager) Now() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.now
}

func (m *Manager) Step() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.step
}

// LastStepDuration is the duration of the most recent step, which is also the
// duration the step being resolved will last.
func (m *Manager) LastStepDuration() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

// Reading is a consistent view of the clock.
type Reading struct {
	Step             uint64  `json:"step"`
	Now              float64 `json:"now"`
	LastStepDuration float64 `json:"last_step_duration"`
}

func (m *Manager) Read() Reading {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Reading{Step: m.step, Now: m.now, LastStepDuration: m.last}
}
