package rabbitcore

import (
	"sync"
	"time"
)

// circuitBreaker guards Connect against hammering a cluster that is
// entirely unreachable (spec §4.3). It tracks consecutive connect
// failures; once FailureThreshold is reached it opens and rejects
// Connect calls immediately with ErrCodeCircuitBreakerOpen. Once
// ResetTimeout has passed since the last recorded failure, Allow lets
// connect attempts through again: a failed attempt restarts that wait,
// and a successful connect closes the breaker (see DESIGN.md).
//
// Grounded on the teacher's CircuitBreaker/resetCircuitBreakerState.
type circuitBreaker struct {
	mu sync.Mutex

	cfg CircuitBreakerConfig

	failures    int
	open        bool
	lastFailure time.Time
	lastOpened  time.Time
}

func newCircuitBreaker(cfg CircuitBreakerConfig) *circuitBreaker {
	return &circuitBreaker{cfg: cfg}
}

// Allow reports whether a new connect attempt may proceed: always while
// the breaker is closed, and while it is open only once ResetTimeout has
// elapsed since the last recorded failure.
func (b *circuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.open || time.Since(b.lastFailure) >= b.cfg.ResetTimeout
}

// RecordFailure increments the consecutive-failure count and opens the
// breaker once FailureThreshold is reached. It is called once per outer
// Connect() call that exhausts every candidate URL, not once per URL
// tried within that call.
func (b *circuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	b.lastFailure = time.Now()
	if b.failures >= b.cfg.FailureThreshold && !b.open {
		b.open = true
		b.lastOpened = time.Now()
	}
}

// RecordSuccess resets the breaker to its closed, zero-failure state.
func (b *circuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.open = false
}

// IsOpen reports the breaker's current state.
func (b *circuitBreaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}

// Failures reports the current consecutive-failure count.
func (b *circuitBreaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Reset forcibly returns the breaker to its closed, zero-failure state.
// No Client method calls it.
func (b *circuitBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.open = false
}
