// Package fpsmeter implements a sliding-window frame-rate estimator used by
// every per-camera stage (capture, motion, detection) to report its current
// throughput and by the decoder supervisor to detect a runaway decode rate.
package fpsmeter

import (
	"sync"
	"time"
)

// DefaultMaxEvents bounds the timestamp buffer so a stalled expire pass
// cannot grow it unboundedly.
const DefaultMaxEvents = 1000

// DefaultWindow is the sliding window used for the rate calculation.
const DefaultWindow = 10 * time.Second

// Meter tracks event timestamps over a trailing window and reports the
// resulting rate. Safe for concurrent use.
type Meter struct {
	mu         sync.Mutex
	maxEvents  int
	window     time.Duration
	started    time.Time
	timestamps []time.Time
}

// Option configures a Meter.
type Option func(*Meter)

// WithMaxEvents overrides the default timestamp buffer cap.
func WithMaxEvents(n int) Option {
	return func(m *Meter) { m.maxEvents = n }
}

// WithWindow overrides the default sliding window.
func WithWindow(d time.Duration) Option {
	return func(m *Meter) { m.window = d }
}

// New creates a Meter with the given options.
func New(opts ...Option) *Meter {
	m := &Meter{
		maxEvents: DefaultMaxEvents,
		window:    DefaultWindow,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start records the reference time the rate is measured from. Update calls
// this implicitly on first use, so calling Start explicitly is only needed
// to mark the beginning of a run before the first event arrives.
func (m *Meter) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = time.Now()
}

// Update records one event (e.g. one decoded frame) at the current time.
func (m *Meter) Update() {
	m.mu.Lock()
	defer m.mu.Unlock()

	curr := time.Now()
	if m.started.IsZero() {
		m.started = curr
	}
	m.timestamps = append(m.timestamps, curr)
	if len(m.timestamps) > m.maxEvents+100 {
		m.timestamps = m.timestamps[len(m.timestamps)-m.maxEvents:]
	}
	m.expireLocked(curr)
}

// FPS returns the current rate: the number of events seen within the
// trailing window, divided by the narrower of (elapsed-since-start, window).
func (m *Meter) FPS() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	curr := time.Now()
	if m.started.IsZero() {
		m.started = curr
	}
	m.expireLocked(curr)

	seconds := curr.Sub(m.started).Seconds()
	windowSeconds := m.window.Seconds()
	if seconds > windowSeconds {
		seconds = windowSeconds
	}
	if seconds <= 0 {
		seconds = 1
	}
	return float64(len(m.timestamps)) / seconds
}

// Count returns the number of events currently within the trailing window.
func (m *Meter) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked(time.Now())
	return len(m.timestamps)
}

func (m *Meter) expireLocked(curr time.Time) {
	threshold := curr.Add(-m.window)
	i := 0
	for i < len(m.timestamps) && m.timestamps[i].Before(threshold) {
		i++
	}
	if i > 0 {
		m.timestamps = m.timestamps[i:]
	}
}
