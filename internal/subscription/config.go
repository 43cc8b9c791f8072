package subscription

import "time"

const (
	DefaultMaxRetries  = 5
	DefaultResetDelay  = 5 * time.Second
	DefaultDedupWindow = 100 * time.Millisecond
)

// Config carries the tunables of a Controller. The zero value of any field is
// replaced with its default, so callers only set what they want to override.
type Config struct {
	// MaxRetries bounds the backoff retry sequence before the circuit opens.
	MaxRetries int

	// Backoff maps a retry attempt number to its delay.
	Backoff BackoffPolicy

	// BreakerThreshold is the consecutive-failure count at which the
	// force-reset delay switches from ResetDelay to Cooldown.
	BreakerThreshold int

	// Cooldown is the long force-reset delay after sustained failure.
	Cooldown time.Duration

	// ResetDelay is the short force-reset delay while the breaker threshold
	// has not been crossed yet.
	ResetDelay time.Duration

	// DedupWindow coalesces failure reports for the same underlying fault:
	// a failure arriving within this window of the previous one does not
	// schedule a second retry.
	DedupWindow time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxRetries:       DefaultMaxRetries,
		Backoff:          DefaultBackoffPolicy(),
		BreakerThreshold: DefaultBreakerThreshold,
		Cooldown:         DefaultCooldown,
		ResetDelay:       DefaultResetDelay,
		DedupWindow:      DefaultDedupWindow,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()

	if c.MaxRetries == 0 {
		c.MaxRetries = defaults.MaxRetries
	}
	if c.Backoff.Base == 0 {
		c.Backoff.Base = defaults.Backoff.Base
	}
	if c.Backoff.Max == 0 {
		c.Backoff.Max = defaults.Backoff.Max
	}
	if c.BreakerThreshold == 0 {
		c.BreakerThreshold = defaults.BreakerThreshold
	}
	if c.Cooldown == 0 {
		c.Cooldown = defaults.Cooldown
	}
	if c.ResetDelay == 0 {
		c.ResetDelay = defaults.ResetDelay
	}
	if c.DedupWindow == 0 {
		c.DedupWindow = defaults.DedupWindow
	}

	return c
}
