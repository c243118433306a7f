package simulation

import (
	"sync"
	"time"
)

// TickMetricsSnapshot summarises observed physics frame durations.
type TickMetricsSnapshot struct {
	Samples  int
	Average  time.Duration
	Max      time.Duration
	Last     time.Duration
	Overruns int
}

// AverageFPS derives the frames-per-second the loop could sustain at the average cost.
func (s TickMetricsSnapshot) AverageFPS() float64 {
	if s.Average <= 0 {
		return 0
	}
	return float64(time.Second) / float64(s.Average)
}

// TickMonitor accumulates timing statistics for the physics loop.
type TickMonitor struct {
	mu       sync.Mutex
	budget   time.Duration
	samples  int
	total    time.Duration
	max      time.Duration
	last     time.Duration
	overruns int
}

// NewTickMonitor constructs a monitor. Frames slower than budget count as overruns; zero disables that.
func NewTickMonitor(budget time.Duration) *TickMonitor {
	return &TickMonitor{budget: budget}
}

// Observe records the duration of a completed frame.
func (m *TickMonitor) Observe(duration time.Duration) {
	if m == nil || duration <= 0 {
		return
	}
	m.mu.Lock()
	m.samples++
	m.total += duration
	if duration > m.max {
		m.max = duration
	}
	m.last = duration
	//1.- A frame that eats its whole period delays the next snapshot the synth sees.
	if m.budget > 0 && duration > m.budget {
		m.overruns++
	}
	m.mu.Unlock()
}

// Snapshot returns a copy of the aggregated statistics.
func (m *TickMonitor) Snapshot() TickMetricsSnapshot {
	if m == nil {
		return TickMetricsSnapshot{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := TickMetricsSnapshot{
		Samples:  m.samples,
		Max:      m.max,
		Last:     m.last,
		Overruns: m.overruns,
	}
	if m.samples > 0 {
		snapshot.Average = m.total / time.Duration(m.samples)
	}
	return snapshot
}

// Reset clears the accumulated statistics, e.g. when the engine restarts.
func (m *TickMonitor) Reset() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.samples, m.total, m.max, m.last, m.overruns = 0, 0, 0, 0, 0
	m.mu.Unlock()
}
