package queue

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy computes next-eligible-run delays for retrying jobs
type RetryPolicy struct {
	base        time.Duration
	ceiling     time.Duration
	maxAttempts int
}

// NewRetryPolicy creates a policy from the queue configuration
func NewRetryPolicy(config Config) RetryPolicy {
	return RetryPolicy{
		base:        config.BaseBackoff,
		ceiling:     config.MaxBackoff,
		maxAttempts: config.MaxAttempts,
	}
}

// TransientDelay is base * 2^(attempts-1), capped at the ceiling. attempts counts executions so far.
func (p RetryPolicy) TransientDelay(attempts int) time.Duration {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.base,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         p.ceiling,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()

	delay := p.base
	for i := 0; i < attempts; i++ {
		delay = b.NextBackOff()
	}
	return p.capped(delay)
}

// RateLimitDelay honours the platform's retry-after hint up to the ceiling, never less than a second
func (p RetryPolicy) RateLimitDelay(retryAfter time.Duration) time.Duration {
	if retryAfter < time.Second {
		retryAfter = time.Second
	}
	return p.capped(retryAfter)
}

// Exhausted reports whether a job that has run attempts times must be dead-lettered
func (p RetryPolicy) Exhausted(attempts int) bool {
	return attempts >= p.maxAttempts
}

func (p RetryPolicy) capped(d time.Duration) time.Duration {
	if p.ceiling > 0 && d > p.ceiling {
		return p.ceiling
	}
	if d <= 0 {
		return time.Second
	}
	return d
}
