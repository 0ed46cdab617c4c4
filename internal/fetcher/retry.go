// Package fetcher wraps single network attempts with the bounded retry loop
// shared by page fetches and artifact downloads.
package fetcher

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/paper-harvester/internal/crawler"
	"github.com/JakeFAU/paper-harvester/internal/metrics"
)

// Waiter throttles requests per host.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Attempt performs one network operation and reports how many bytes it moved.
type Attempt func(ctx context.Context) (int64, error)

// RetrierConfig configures a Retrier.
type RetrierConfig struct {
	// Kind labels metrics and logs, e.g. "page" or "artifact".
	Kind    string
	Timeout time.Duration
	Policy  crawler.RetryPolicy
	Limiter Waiter
	Logger  *zap.Logger
}

// Retrier runs an Attempt up to the policy's attempt ceiling. Each attempt gets
// its own timeout and is detached from caller cancellation so that an attempt
// already on the wire finishes cleanly; cancellation stops further attempts.
type Retrier struct {
	kind    string
	timeout time.Duration
	policy  crawler.RetryPolicy
	limiter Waiter
	logger  *zap.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewRetrier builds a Retrier with defaults for unset fields.
func NewRetrier(cfg RetrierConfig) *Retrier {
	if cfg.Kind == "" {
		cfg.Kind = "page"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Policy == nil {
		cfg.Policy = crawler.NewFixedRetryPolicy(crawler.DefaultMaxAttempts, crawler.DefaultBackoff)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Retrier{
		kind:    cfg.Kind,
		timeout: cfg.Timeout,
		policy:  cfg.Policy,
		limiter: cfg.Limiter,
		logger:  cfg.Logger,
		sleep:   sleepContext,
	}
}

// Do runs op against rawURL until it succeeds or retries are exhausted, in which
// case a *crawler.FetchError wrapping the last failure is returned.
func (r *Retrier) Do(ctx context.Context, rawURL string, op Attempt) error {
	var lastErr error
	attempt := 0
	for {
		attempt++
		if err := ctx.Err(); err != nil {
			return r.exhausted(rawURL, attempt-1, lastErr, err)
		}
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx, rawURL); err != nil {
				return r.exhausted(rawURL, attempt-1, lastErr, err)
			}
		}

		r.logger.Debug("fetch attempt",
			zap.String("kind", r.kind),
			zap.String("url", rawURL),
			zap.Int("attempt", attempt),
		)
		start := time.Now()
		n, err := r.runAttempt(ctx, op)
		elapsed := time.Since(start)
		if err == nil {
			metrics.ObserveFetchAttempt(rawURL, r.kind, "success", n, elapsed)
			return nil
		}
		lastErr = err

		if !r.policy.ShouldRetry(ctx, err, attempt) {
			metrics.ObserveFetchAttempt(rawURL, r.kind, "failure", n, elapsed)
			r.logger.Warn("fetch attempt failed; giving up",
				zap.String("kind", r.kind),
				zap.String("url", rawURL),
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", r.policy.MaxAttempts()),
				zap.Error(err),
			)
			return &crawler.FetchError{URL: rawURL, Attempts: attempt, Cause: err}
		}

		backoff := r.policy.Backoff(attempt)
		metrics.ObserveFetchAttempt(rawURL, r.kind, "retry", n, elapsed)
		r.logger.Warn("fetch attempt failed; retrying",
			zap.String("kind", r.kind),
			zap.String("url", rawURL),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", r.policy.MaxAttempts()),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		if err := r.sleep(ctx, backoff); err != nil {
			return r.exhausted(rawURL, attempt, lastErr, err)
		}
	}
}

func (r *Retrier) runAttempt(ctx context.Context, op Attempt) (int64, error) {
	attemptCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()
	return op(attemptCtx)
}

func (r *Retrier) exhausted(rawURL string, attempts int, lastErr, ctxErr error) error {
	cause := ctxErr
	if lastErr != nil {
		cause = errors.Join(lastErr, ctxErr)
	}
	return &crawler.FetchError{URL: rawURL, Attempts: attempts, Cause: cause}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
