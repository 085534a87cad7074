package fetch

import (
	"sync"
	"time"
)

// Clock supplies the timestamps used to measure segment transfers.
type Clock interface {
	Now() time.Time
}

// SystemClock reads time.Now, which carries a monotonic reading.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now()
}

// ManualClock only moves when told to. Tests use it to script transfer times.
type ManualClock struct {
	mu      sync.Mutex
	current time.Time
}

// NewManualClock starts a manual clock at t, or at a fixed epoch when t is zero.
func NewManualClock(t time.Time) *ManualClock {
	if t.IsZero() {
		t = time.Unix(1000000000, 0)
	}
	return &ManualClock{current: t}
}

func (m *ManualClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Advance moves the clock forward. Negative durations panic.
func (m *ManualClock) Advance(d time.Duration) {
	if d < 0 {
		panic("ManualClock.Advance: negative duration")
	}
	m.mu.Lock()
	m.current = m.current.Add(d)
	m.mu.Unlock()
}
