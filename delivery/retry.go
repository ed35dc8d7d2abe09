package delivery

import (
	"math/rand/v2"
	"time"
)

// RetryConfig configures the backoff schedule
type RetryConfig struct {
	MaxAttempts int           `json:"max_attempts"`
	BackoffBase time.Duration `json:"backoff_base"`
	MaxDelay    time.Duration `json:"max_delay"`
	Jitter      time.Duration `json:"jitter"`
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 5,
		BackoffBase: 30 * time.Second,
		MaxDelay:    1 * time.Hour,
		Jitter:      10 * time.Second,
	}
}

/* RetryPolicy implements exponential backoff with jitter.
 * The jitter spreads retries out so a subscriber recovering from an
 * outage is not hit by every scheduled delivery at the same instant.
 */
type RetryPolicy struct {
	config RetryConfig
}

// NewRetryPolicy creates a retry policy, filling in defaults for
// missing or nonsensical values.
func NewRetryPolicy(config RetryConfig) *RetryPolicy {
	defaults := DefaultRetryConfig()
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.BackoffBase <= 0 {
		config.BackoffBase = defaults.BackoffBase
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = defaults.MaxDelay
	}
	if config.Jitter < 0 {
		config.Jitter = defaults.Jitter
	}

	return &RetryPolicy{config: config}
}

// MaxAttempts returns the attempt ceiling
func (p *RetryPolicy) MaxAttempts() int {
	return p.config.MaxAttempts
}

// NextDelay computes the delay before the next attempt given the
// number of attempts already made: base * 2^attempts, capped at
// MaxDelay, plus random jitter. Ignoring jitter the delay is
// monotonically non-decreasing in attempts.
func (p *RetryPolicy) NextDelay(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}

	delay := p.config.BackoffBase
	for i := 0; i < attempts; i++ {
		delay *= 2
		if delay >= p.config.MaxDelay {
			delay = p.config.MaxDelay
			break
		}
	}

	if p.config.Jitter > 0 {
		delay += time.Duration(rand.Int64N(int64(p.config.Jitter)))
	}

	return delay
}

// NextAttemptTime computes when the next attempt should run
func (p *RetryPolicy) NextAttemptTime(attempts int) time.Time {
	return time.Now().Add(p.NextDelay(attempts))
}
