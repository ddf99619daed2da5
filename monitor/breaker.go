package monitor

import (
	"sync"
	"time"
)

// Breaker stops the monitor from hammering a failing price source. After
// threshold consecutive failures it opens for cooldown; the first check
// after the cooldown closes it and clears the count.
type Breaker struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration
	failures  int
	openUntil time.Time
}

func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	return &Breaker{threshold: max(threshold, 1), cooldown: cooldown}
}

// Allow reports whether a tick may run at now. closed is true when this
// call ended a cooldown.
func (b *Breaker) Allow(now time.Time) (ok, closed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.openUntil.IsZero() {
		return true, false
	}
	if now.Before(b.openUntil) {
		return false, false
	}
	b.openUntil = time.Time{}
	b.failures = 0
	return true, true
}

// Failure counts one failure and reports whether it opened the breaker.
func (b *Breaker) Failure(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.openUntil.IsZero() {
		return false
	}
	b.failures++
	if b.failures < b.threshold {
		return false
	}
	b.openUntil = now.Add(b.cooldown)
	return true
}

func (b *Breaker) Success() {
	b.mu.Lock()
	b.failures = 0
	b.mu.Unlock()
}

func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// OpenUntil is the end of the current cooldown, or the zero time.
func (b *Breaker) OpenUntil() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.openUntil
}
