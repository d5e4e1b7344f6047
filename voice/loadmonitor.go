package voice

import (
	"fmt"
	"math"
)

// Action is the load-governance decision after one load sample.
type Action int

const (
	// ActionNone keeps the current ceiling and tier.
	ActionNone Action = iota
	// ActionReduce shrinks the ceiling and drops one quality tier.
	ActionReduce
	// ActionRestore raises the ceiling and quality back one step.
	ActionRestore
)

// LoadMonitor keeps a ring of recent per-buffer load ratios (processing
// time divided by the buffer deadline) and applies two-threshold
// hysteresis with a dwell requirement: a trailing average above the
// high threshold requests a reduction; the average must then stay below
// the low threshold for the full dwell time before each restore step.
type LoadMonitor struct {
	samples []float64
	idx     int
	filled  int
	sum     float64

	high         float64
	low          float64
	dwellSeconds float64

	belowActive bool
	belowSince  float64

	missCount uint64
	lastAvg   float64
}

// NewLoadMonitor returns a monitor over a ring of window samples.
// low must be below high or the hysteresis band would be empty.
func NewLoadMonitor(window int, high, low, dwellSeconds float64) (*LoadMonitor, error) {
	if window <= 0 {
		return nil, fmt.Errorf("load window must be > 0: %d", window)
	}
	if high <= 0 || high > 2 || math.IsNaN(high) {
		return nil, fmt.Errorf("high load threshold must be in (0, 2]: %f", high)
	}
	if low <= 0 || low >= high || math.IsNaN(low) {
		return nil, fmt.Errorf("low load threshold must be in (0, high): %f", low)
	}
	if dwellSeconds <= 0 || math.IsNaN(dwellSeconds) {
		return nil, fmt.Errorf("dwell time must be > 0: %f", dwellSeconds)
	}

	return &LoadMonitor{
		samples:      make([]float64, window),
		high:         high,
		low:          low,
		dwellSeconds: dwellSeconds,
	}, nil
}

// Add records one load ratio sampled at time now (seconds on the render
// clock) and returns the resulting action. Ratios above 1 count as
// deadline misses.
func (m *LoadMonitor) Add(ratio, now float64) Action {
	if ratio < 0 || math.IsNaN(ratio) {
		ratio = 0
	}
	if ratio > 1 {
		m.missCount++
	}

	m.sum += ratio - m.samples[m.idx]
	m.samples[m.idx] = ratio
	m.idx++
	if m.idx >= len(m.samples) {
		m.idx = 0
	}
	if m.filled < len(m.samples) {
		m.filled++
	}

	avg := m.sum / float64(m.filled)
	m.lastAvg = avg

	// Act only on a full window. Together with the ring reset after a
	// reduction this spaces successive reductions at least one window
	// apart instead of shrinking on every overloaded buffer.
	if m.filled < len(m.samples) {
		return ActionNone
	}

	if avg > m.high {
		m.belowActive = false
		m.resetRing()
		return ActionReduce
	}

	if avg < m.low {
		if !m.belowActive {
			m.belowActive = true
			m.belowSince = now
			return ActionNone
		}
		if now-m.belowSince >= m.dwellSeconds {
			// One restore step per completed dwell period.
			m.belowSince = now
			return ActionRestore
		}
		return ActionNone
	}

	// Inside the hysteresis band: neither direction, and the dwell
	// clock starts over.
	m.belowActive = false
	return ActionNone
}

// SetThresholds replaces the hysteresis parameters. The dwell clock is
// restarted so a pending restore cannot fire against the old band.
func (m *LoadMonitor) SetThresholds(high, low, dwellSeconds float64) error {
	if high <= 0 || high > 2 || math.IsNaN(high) {
		return fmt.Errorf("high load threshold must be in (0, 2]: %f", high)
	}
	if low <= 0 || low >= high || math.IsNaN(low) {
		return fmt.Errorf("low load threshold must be in (0, high): %f", low)
	}
	if dwellSeconds <= 0 || math.IsNaN(dwellSeconds) {
		return fmt.Errorf("dwell time must be > 0: %f", dwellSeconds)
	}

	m.high = high
	m.low = low
	m.dwellSeconds = dwellSeconds
	m.belowActive = false
	return nil
}

// Average returns the trailing average of the last Add call.
func (m *LoadMonitor) Average() float64 {
	return m.lastAvg
}

// DeadlineMisses returns how many sampled ratios exceeded 1.
func (m *LoadMonitor) DeadlineMisses() uint64 {
	return m.missCount
}

// Reset clears the sample history and dwell state. Miss counts are
// kept; they are cumulative telemetry.
func (m *LoadMonitor) Reset() {
	m.resetRing()
	m.belowActive = false
	m.lastAvg = 0
}

func (m *LoadMonitor) resetRing() {
	for i := range m.samples {
		m.samples[i] = 0
	}
	m.idx = 0
	m.filled = 0
	m.sum = 0
}
