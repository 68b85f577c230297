package filter

import (
	"sync"
	"time"
)

type sample struct {
	at time.Time
	n  int
}

// Meter measures bytes per second over a sliding window.
type Meter struct {
	mu      sync.Mutex
	window  time.Duration
	samples []sample
	total   int
}

func NewMeter(window time.Duration) *Meter {
	if window <= 0 {
		window = time.Second
	}
	return &Meter{window: window}
}

// Add records n bytes transferred at now.
func (m *Meter) Add(now time.Time, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = append(m.samples, sample{now, n})
	m.total += n
	m.prune(now)
}

// Rate returns the average bytes/s over the window ending at now.
func (m *Meter) Rate(now time.Time) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prune(now)
	return float64(m.total) / m.window.Seconds()
}

func (m *Meter) prune(now time.Time) {
	cut := now.Add(-m.window)
	i := 0
	for i < len(m.samples) && !m.samples[i].at.After(cut) {
		m.total -= m.samples[i].n
		i++
	}
	if i > 0 {
		m.samples = append(m.samples[:0], m.samples[i:]...)
	}
}
