package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/powerpulse/powerpulse/internal/domain"
)

// RetryingAnalyzer wraps a provider with the documented retry schedule.
// Only transport-level failures (upstream timeouts and rate limits) are
// retried; schema problems are already resolved to fallback records inside
// the provider and cancellation aborts immediately.
type RetryingAnalyzer struct {
	next   domain.Analyzer
	policy domain.RetryPolicy
}

func NewRetryingAnalyzer(next domain.Analyzer, policy domain.RetryPolicy) *RetryingAnalyzer {
	if policy.MaxAttempts < 1 {
		policy = domain.DefaultRetryPolicy()
	}
	return &RetryingAnalyzer{next: next, policy: policy}
}

func (a *RetryingAnalyzer) Name() string { return a.next.Name() }

func (a *RetryingAnalyzer) AnalyzeDailyBatch(ctx context.Context, units []domain.AnalysisUnit) ([]domain.AnalysisRecord, *domain.TokenUsage, error) {
	var (
		records []domain.AnalysisRecord
		usage   *domain.TokenUsage
		attempt int
	)
	op := func() error {
		attempt++
		attemptCtx := ctx
		cancel := context.CancelFunc(func() {})
		if a.policy.AttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, a.policy.AttemptTimeout)
		}
		recs, u, err := a.next.AnalyzeDailyBatch(attemptCtx, units)
		cancel()
		if err == nil {
			records, usage = recs, u
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			// The per-attempt deadline fired while the upload as a whole is
			// still live.
			err = fmt.Errorf("%w: attempt %d exceeded %s", domain.ErrUpstreamTimeout, attempt, a.policy.AttemptTimeout)
		}
		if !domain.IsTransient(err) {
			return backoff.Permanent(err)
		}
		slog.Warn("model call failed, will retry",
			slog.String("provider", a.next.Name()),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", a.policy.MaxAttempts),
			slog.Any("error", err))
		return err
	}
	bo := backoff.WithContext(&policyBackOff{policy: a.policy}, ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return nil, nil, fmt.Errorf("op=ai.RetryingAnalyzer.AnalyzeDailyBatch: %w", err)
	}
	return records, usage, nil
}

// policyBackOff adapts a domain.RetryPolicy to the backoff interface so the
// documented schedule, additive jitter included, drives the retry loop.
type policyBackOff struct {
	policy domain.RetryPolicy
	retry  int
}

func (b *policyBackOff) NextBackOff() time.Duration {
	b.retry++
	if b.retry >= b.policy.MaxAttempts {
		return backoff.Stop
	}
	return b.policy.Delay(b.retry)
}

func (b *policyBackOff) Reset() { b.retry = 0 }
