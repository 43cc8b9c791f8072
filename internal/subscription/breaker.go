package subscription

import "time"

const (
	DefaultBreakerThreshold = 5
	DefaultCooldown         = 30 * time.Second
)

// CircuitBreaker tracks consecutive subscription failures and refuses new
// attempts while the cooldown window after sustained failure is still open.
// It is plain state driven by its caller and is not safe for concurrent use.
type CircuitBreaker struct {
	threshold int
	cooldown  time.Duration

	failures      int
	lastFailureAt time.Time
}

func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		threshold: threshold,
		cooldown:  cooldown,
	}
}

// Allow reports whether a new attempt may proceed at now. It returns false
// only while the consecutive-failure count has reached the threshold and the
// cooldown since the last failure has not yet elapsed.
func (b *CircuitBreaker) Allow(now time.Time) bool {
	if b.failures < b.threshold {
		return true
	}

	return now.Sub(b.lastFailureAt) >= b.cooldown
}

// Remaining reports how long until Allow turns true again, zero when
// attempts are currently allowed.
func (b *CircuitBreaker) Remaining(now time.Time) time.Duration {
	if b.Allow(now) {
		return 0
	}

	return b.cooldown - now.Sub(b.lastFailureAt)
}

func (b *CircuitBreaker) RecordFailure(now time.Time) {
	b.failures++
	b.lastFailureAt = now
}

func (b *CircuitBreaker) RecordSuccess() {
	b.failures = 0
	b.lastFailureAt = time.Time{}
}

func (b *CircuitBreaker) Failures() int {
	return b.failures
}
