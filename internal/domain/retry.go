// Retry policy for LLM calls: exponential backoff with additive jitter.
package domain

import (
	"errors"
	"math/rand/v2"
	"time"
)

// RetryPolicy defines how transient LLM failures are retried.
// Delay before attempt n (0-based, n >= 1) is Base*Factor^(n-1) plus a
// uniform jitter drawn from [0, JitterFraction*Base).
type RetryPolicy struct {
	// MaxAttempts counts the first call plus retries.
	MaxAttempts int
	// Base is the delay before the first retry.
	Base time.Duration
	// Factor multiplies the delay per subsequent retry.
	Factor float64
	// JitterFraction scales Base into the additive jitter bound.
	JitterFraction float64
	// AttemptTimeout bounds each individual call.
	AttemptTimeout time.Duration
}

// DefaultRetryPolicy matches the documented schedule: base=1s, factor=2,
// attempts=3, jitter in [0, 0.25s), 60s per attempt.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		Base:           time.Second,
		Factor:         2,
		JitterFraction: 0.25,
		AttemptTimeout: 60 * time.Second,
	}
}

// Delay returns the backoff before the given retry (1 = first retry).
func (p RetryPolicy) Delay(retry int) time.Duration {
	if retry < 1 {
		return 0
	}
	d := float64(p.Base)
	for i := 1; i < retry; i++ {
		d *= p.Factor
	}
	jitter := rand.Float64() * p.JitterFraction * float64(p.Base)
	return time.Duration(d + jitter)
}

// IsTransient reports whether an error is worth retrying. Adapters wrap
// network failures and provider 5xx/429 responses in the upstream sentinels;
// everything else (schema violations, cancellation) is resolved by fallback
// or abort, never by retry.
func IsTransient(err error) bool {
	return errors.Is(err, ErrUpstreamTimeout) ||
		errors.Is(err, ErrUpstreamRateLimit) ||
		errors.Is(err, ErrRateLimited)
}
