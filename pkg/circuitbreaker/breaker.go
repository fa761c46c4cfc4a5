package circuitbreaker

import (
	"sync"
	"time"
)

// SimpleBreaker trips after a run of failures and closes again once a
// cooldown has passed since the last one.
type SimpleBreaker struct {
	mu              sync.Mutex
	failures        int
	lastFailureTime time.Time
	open            bool

	threshold int
	cooldown  time.Duration
}

// New creates a new circuit breaker
func New(threshold int, cooldown time.Duration) *SimpleBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}

	return &SimpleBreaker{
		threshold: threshold,
		cooldown:  cooldown,
	}
}

// IsOpen reports whether calls should be skipped. An open breaker
// closes itself once the cooldown has elapsed.
func (b *SimpleBreaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.open {
		return false
	}

	if time.Since(b.lastFailureTime) > b.cooldown {
		b.open = false
		b.failures = 0
		return false
	}

	return true
}

// RecordSuccess closes the breaker and clears the failure run.
func (b *SimpleBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.open = false
}

// RecordFailure counts one failure and opens the breaker at the
// threshold.
func (b *SimpleBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailureTime = time.Now()

	if b.failures >= b.threshold {
		b.open = true
	}
}

// Reset manually closes the breaker.
func (b *SimpleBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.open = false
}

// State returns the current state for monitoring.
func (b *SimpleBreaker) State() (open bool, failures int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.open, b.failures
}
