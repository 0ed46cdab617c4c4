package crawler

import (
	"context"
	"time"
)

// Retry defaults: three attempts separated by a fixed two second pause.
const (
	DefaultMaxAttempts = 3
	DefaultBackoff     = 2 * time.Second
)

// FixedRetryPolicy implements RetryPolicy with a constant delay between attempts.
type FixedRetryPolicy struct {
	maxAttempts int
	delay       time.Duration
}

// NewFixedRetryPolicy builds a policy; non-positive arguments fall back to defaults.
func NewFixedRetryPolicy(maxAttempts int, delay time.Duration) *FixedRetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if delay < 0 {
		delay = DefaultBackoff
	}
	return &FixedRetryPolicy{maxAttempts: maxAttempts, delay: delay}
}

// MaxAttempts reports the attempt ceiling.
func (p *FixedRetryPolicy) MaxAttempts() int {
	return p.maxAttempts
}

// ShouldRetry decides whether another attempt is allowed. Any failure is retryable,
// including a per-attempt timeout, unless the caller's context is already done.
func (p *FixedRetryPolicy) ShouldRetry(ctx context.Context, err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= p.maxAttempts {
		return false
	}
	return ctx.Err() == nil
}

// Backoff returns the wait duration before the next attempt.
func (p *FixedRetryPolicy) Backoff(int) time.Duration {
	return p.delay
}
