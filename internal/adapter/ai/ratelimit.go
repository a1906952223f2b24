package ai

import (
	"context"
	"log/slog"
	"time"

	"github.com/powerpulse/powerpulse/internal/domain"
)

// CallLimiter gates outbound provider calls against a shared budget.
// ratelimiter.RedisLimiter satisfies it.
type CallLimiter interface {
	Allow(ctx context.Context, key string, cost int64) (allowed bool, retryAfter time.Duration, err error)
}

// RateLimitedAnalyzer holds provider calls until the shared call budget has a
// token for them. Limiter errors let the call through; a stalled budget is
// bounded by the per-attempt timeout of the retry layer above.
type RateLimitedAnalyzer struct {
	next    domain.Analyzer
	limiter CallLimiter
	key     string
}

func NewRateLimitedAnalyzer(next domain.Analyzer, limiter CallLimiter) *RateLimitedAnalyzer {
	return &RateLimitedAnalyzer{
		next:    next,
		limiter: limiter,
		key:     "ai:" + next.Name(),
	}
}

func (a *RateLimitedAnalyzer) Name() string { return a.next.Name() }

func (a *RateLimitedAnalyzer) AnalyzeDailyBatch(ctx domain.Context, units []domain.AnalysisUnit) ([]domain.AnalysisRecord, *domain.TokenUsage, error) {
	for {
		allowed, retryAfter, err := a.limiter.Allow(ctx, a.key, 1)
		if err != nil || allowed {
			break
		}
		if retryAfter <= 0 {
			retryAfter = time.Second
		}
		slog.Debug("model call waiting for rate budget",
			slog.String("provider", a.next.Name()),
			slog.Duration("wait", retryAfter))
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-time.After(retryAfter):
		}
	}
	return a.next.AnalyzeDailyBatch(ctx, units)
}
