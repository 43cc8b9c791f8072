package subscription

import "time"

const (
	DefaultBaseDelay = 100 * time.Millisecond
	DefaultMaxDelay  = 8 * time.Second
)

// BackoffPolicy computes the delay before a retry attempt: the base delay
// doubled per attempt, capped at the maximum. Delay is a pure function of the
// attempt number.
type BackoffPolicy struct {
	Base time.Duration
	Max  time.Duration
}

func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		Base: DefaultBaseDelay,
		Max:  DefaultMaxDelay,
	}
}

// Delay returns the wait before retry number attempt, counted from 0 for the
// first retry.
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	// Past 32 doublings the shift would overflow long before reaching any
	// realistic cap.
	if attempt >= 32 {
		return p.Max
	}

	delay := p.Base << uint(attempt)
	if delay > p.Max || delay <= 0 {
		return p.Max
	}

	return delay
}
