package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/powerpulse/powerpulse/internal/adapter/ai/tokencount"
	"github.com/powerpulse/powerpulse/internal/adapter/observability"
	"github.com/powerpulse/powerpulse/internal/domain"
)

const analyzeOp = "analyze_daily_batch"

// ObservableAnalyzer wraps a provider with structured logs, Prometheus
// metrics, token accounting and a circuit breaker. When the provider omits
// usage metadata the decorator estimates it with tiktoken so downstream
// accounting never sees a gap. Place it under the retry layer so every
// attempt is metered and the breaker sees each one.
type ObservableAnalyzer struct {
	next    domain.Analyzer
	model   string
	breaker *CircuitBreaker
	counter *tokencount.Counter
	drift   *observability.ScoreDriftMonitor
}

// NewObservableAnalyzer decorates next. breaker and drift are optional.
func NewObservableAnalyzer(next domain.Analyzer, model string, breaker *CircuitBreaker, drift *observability.ScoreDriftMonitor) *ObservableAnalyzer {
	return &ObservableAnalyzer{
		next:    next,
		model:   model,
		breaker: breaker,
		counter: tokencount.NewCounter(),
		drift:   drift,
	}
}

// Name reports the wrapped provider's name.
func (o *ObservableAnalyzer) Name() string { return o.next.Name() }

// AnalyzeDailyBatch meters one provider call. While the circuit is open it
// fails fast with a rate-limit error instead of reaching the provider.
func (o *ObservableAnalyzer) AnalyzeDailyBatch(ctx domain.Context, units []domain.AnalysisUnit) ([]domain.AnalysisRecord, *domain.TokenUsage, error) {
	provider := o.next.Name()
	observability.AIRequestsTotal.WithLabelValues(provider, analyzeOp).Inc()

	if o.breaker != nil && !o.breaker.ShouldAttempt() {
		observability.AIFailuresTotal.WithLabelValues(provider, "circuit_open").Inc()
		return nil, nil, fmt.Errorf("op=ai.ObservableAnalyzer: circuit open for %s: %w", provider, domain.ErrUpstreamRateLimit)
	}

	start := time.Now()
	records, usage, err := o.next.AnalyzeDailyBatch(ctx, units)
	duration := time.Since(start)
	observability.AIRequestDuration.WithLabelValues(provider, analyzeOp).Observe(duration.Seconds())

	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, domain.ErrCancelled) {
			// Cancellation says nothing about provider health.
			slog.Debug("model call cancelled",
				slog.String("provider", provider),
				slog.Int("units", len(units)),
				slog.Duration("duration", duration))
			return nil, nil, err
		}
		if o.breaker != nil {
			o.breaker.RecordFailure()
		}
		observability.AIFailuresTotal.WithLabelValues(provider, failureReason(err)).Inc()
		slog.Error("model call failed",
			slog.String("provider", provider),
			slog.String("model", o.model),
			slog.Int("units", len(units)),
			slog.Duration("duration", duration),
			slog.Any("error", err))
		return nil, nil, err
	}

	if o.breaker != nil {
		o.breaker.RecordSuccess()
	}
	if usage == nil {
		usage = o.estimateUsage(units, records)
	}
	if usage != nil {
		observability.AddAITokens(provider, usage.PromptTokens, usage.CompletionTokens)
	}
	if o.drift != nil {
		o.drift.ObserveRecords(records)
	}

	fallbacks := 0
	for _, r := range records {
		if r.Error != "" {
			fallbacks++
		}
	}
	if fallbacks == len(records) && len(records) > 0 {
		observability.AIFailuresTotal.WithLabelValues(provider, "unparsable").Inc()
	}
	totalTokens := 0
	if usage != nil {
		totalTokens = usage.TotalTokens
	}
	if fallbacks > 0 {
		slog.Warn("model call completed with fallback units",
			slog.String("provider", provider),
			slog.String("model", o.model),
			slog.Int("units", len(units)),
			slog.Int("fallback_units", fallbacks),
			slog.Duration("duration", duration),
			slog.Int("total_tokens", totalTokens))
	} else {
		slog.Info("model call completed",
			slog.String("provider", provider),
			slog.String("model", o.model),
			slog.Int("units", len(units)),
			slog.Duration("duration", duration),
			slog.Int("total_tokens", totalTokens))
	}
	return records, usage, nil
}

// estimateUsage reconstructs the prompt and serializes the records to count
// what the provider would have reported.
func (o *ObservableAnalyzer) estimateUsage(units []domain.AnalysisUnit, records []domain.AnalysisRecord) *domain.TokenUsage {
	completion, err := json.Marshal(records)
	if err != nil {
		completion = nil
	}
	u, err := o.counter.CalculateUsage("", BuildBatchPrompt(units), string(completion), o.model)
	if err != nil {
		slog.Warn("token usage estimation failed",
			slog.String("model", o.model),
			slog.Any("error", err))
		return nil
	}
	return u
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrUpstreamRateLimit), errors.Is(err, domain.ErrRateLimited):
		return "rate_limit"
	case errors.Is(err, domain.ErrUpstreamTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, domain.ErrInvalidArgument), errors.Is(err, domain.ErrSchemaInvalid):
		return "invalid_request"
	default:
		return "other"
	}
}
