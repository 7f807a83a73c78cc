package mpesa

import (
	"sync"
	"time"
)

// breaker stops calls to the gateway after a run of consecutive failures and
// keeps them short-circuited until the cool-down passes.
type breaker struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration

	failures  int
	openUntil time.Time
}

func newBreaker(threshold int, cooldown time.Duration) *breaker {
	return &breaker{threshold: threshold, cooldown: cooldown}
}

// Allow reports whether a call may proceed. Once the cool-down passes the
// breaker lets the next call through as a probe.
func (b *breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return time.Now().After(b.openUntil)
}

func (b *breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.openUntil = time.Time{}
}

func (b *breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.failures >= b.threshold {
		b.openUntil = time.Now().Add(b.cooldown)
	}
}
