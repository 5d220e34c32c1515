// Package backoff implements exponential backoff for subprocess restart
// policies shared by the decoder and object-detection supervisors.
package backoff

import (
	"context"
	"sync"
	"time"
)

// Backoff implements exponential backoff with a success-threshold reset.
//
// Provides:
//   - Exponential delay increase on failures (delay *= 2)
//   - Configurable maximum delay cap
//   - Reset on successful runs (run time > threshold)
//   - Attempt counting and limits
//   - Thread-safe operations
type Backoff struct {
	mu                  sync.RWMutex
	initialDelay        time.Duration
	maxDelay            time.Duration
	successThreshold    time.Duration // run time threshold to consider success
	maxAttempts         int
	currentDelay        time.Duration
	attempts            int
	consecutiveFailures int
}

// DefaultSuccessThreshold is the run time threshold to reset backoff.
const DefaultSuccessThreshold = 300 * time.Second

// New creates a new exponential backoff instance.
func New(initialDelay, maxDelay time.Duration, maxAttempts int) *Backoff {
	return &Backoff{
		initialDelay:     initialDelay,
		maxDelay:         maxDelay,
		successThreshold: DefaultSuccessThreshold,
		maxAttempts:      maxAttempts,
		currentDelay:     initialDelay,
	}
}

// NewWithThreshold creates a backoff with a custom success threshold.
func NewWithThreshold(initialDelay, maxDelay, successThreshold time.Duration, maxAttempts int) *Backoff {
	return &Backoff{
		initialDelay:     initialDelay,
		maxDelay:         maxDelay,
		successThreshold: successThreshold,
		maxAttempts:      maxAttempts,
		currentDelay:     initialDelay,
	}
}

// RecordFailure records a failed attempt and doubles the delay, capped at
// maxDelay. No-op if the receiver is nil.
func (b *Backoff) RecordFailure() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.attempts++
	b.consecutiveFailures++
	b.currentDelay *= 2
	if b.currentDelay > b.maxDelay {
		b.currentDelay = b.maxDelay
	}
	if b.currentDelay <= 0 {
		b.currentDelay = b.initialDelay
	}
}

// RecordSuccess records a completed run. If runTime exceeds the success
// threshold the delay resets to initialDelay; otherwise the run is treated
// as a failure. No-op if the receiver is nil.
func (b *Backoff) RecordSuccess(runTime time.Duration) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.attempts++

	if runTime > b.successThreshold {
		b.currentDelay = b.initialDelay
		b.consecutiveFailures = 0
		return
	}

	b.consecutiveFailures++
	b.currentDelay *= 2
	if b.currentDelay > b.maxDelay {
		b.currentDelay = b.maxDelay
	}
	if b.currentDelay <= 0 {
		b.currentDelay = b.initialDelay
	}
}

// CurrentDelay returns the current backoff delay. Returns 0 if nil.
func (b *Backoff) CurrentDelay() time.Duration {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.currentDelay
}

// SuccessThreshold returns the configured success threshold.
func (b *Backoff) SuccessThreshold() time.Duration {
	if b == nil {
		return DefaultSuccessThreshold
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.successThreshold
}

// Attempts returns the total number of attempts. Returns 0 if nil.
func (b *Backoff) Attempts() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.attempts
}

// MaxAttempts returns the maximum number of attempts allowed. Returns 0 if nil.
func (b *Backoff) MaxAttempts() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.maxAttempts
}

// ConsecutiveFailures returns the number of consecutive failures. Returns 0 if nil.
func (b *Backoff) ConsecutiveFailures() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.consecutiveFailures
}

// ShouldStop reports whether max attempts has been reached. Returns true if nil.
func (b *Backoff) ShouldStop() bool {
	if b == nil {
		return true
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.attempts >= b.maxAttempts
}

// Reset restores the backoff to its initial state. No-op if nil.
func (b *Backoff) Reset() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.currentDelay = b.initialDelay
	b.attempts = 0
	b.consecutiveFailures = 0
}

// Wait blocks for the current backoff delay. Returns immediately if nil.
func (b *Backoff) Wait() {
	if b == nil {
		return
	}
	time.Sleep(b.CurrentDelay())
}

// WaitContext blocks for the current backoff delay or until ctx is done.
func (b *Backoff) WaitContext(ctx context.Context) error {
	if b == nil {
		return nil
	}
	select {
	case <-time.After(b.CurrentDelay()):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
