package usecase

import (
	"time"

	"github.com/powerpulse/powerpulse/internal/domain"
)

// Metric cache row names. Dashboards key on these.
const (
	MetricOverallCSI            = "overall_csi_score"
	MetricAvgEffectiveness      = "avg_effectiveness_score"
	MetricAvgEfficiency         = "avg_efficiency_score"
	MetricAvgEffort             = "avg_effort_score"
	MetricAvgEmpathy            = "avg_empathy_score"
	MetricAvgSentiment          = "avg_sentiment_score"
	MetricTotalConversations    = "total_conversations"
	MetricConversationsAnalyzed = "total_conversations_analyzed"
	MetricTotalMessages         = "total_messages_processed"
	MetricDaysAnalyzed          = "total_days_analyzed"
	MetricFallbackDays          = "fallback_days"
	MetricAvgFirstResponseSec   = "avg_first_response_time_seconds"
	MetricAvgResponseSec        = "avg_response_time_seconds"
	MetricAvgHandlingMin        = "avg_handling_time_minutes"
	MetricLastUpdated           = "last_updated"
)

// MetricsService maintains the aggregate cache rewritten after every upload.
type MetricsService struct {
	Analyses domain.AnalysisStore
	Metrics  domain.MetricStore
}

// NewMetricsService constructs a MetricsService with its stores.
func NewMetricsService(a domain.AnalysisStore, m domain.MetricStore) MetricsService {
	return MetricsService{Analyses: a, Metrics: m}
}

// Recalculate recomputes the aggregate snapshot and rewrites the cache
// wholesale, returning the fresh rows.
func (s MetricsService) Recalculate(ctx domain.Context) ([]domain.Metric, error) {
	snap, err := s.Analyses.Aggregates(ctx)
	if err != nil {
		return nil, err
	}
	rows := MetricRows(snap, time.Now().UTC())
	if err := s.Metrics.Replace(ctx, rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// Cached returns the cache contents, computing them first when empty.
func (s MetricsService) Cached(ctx domain.Context) ([]domain.Metric, error) {
	rows, err := s.Metrics.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return s.Recalculate(ctx)
	}
	return rows, nil
}

// MetricRows flattens a snapshot into cache rows. Missing averages store 0
// so the dashboard always finds every key.
func MetricRows(snap domain.AggregateSnapshot, now time.Time) []domain.Metric {
	value := func(p *float64) float64 {
		if p == nil {
			return 0
		}
		return round2(*p)
	}
	return []domain.Metric{
		{Name: MetricOverallCSI, Value: value(snap.AvgCSI), CalculatedAt: now},
		{Name: MetricAvgEffectiveness, Value: value(snap.AvgEffectiveness), CalculatedAt: now},
		{Name: MetricAvgEfficiency, Value: value(snap.AvgEfficiency), CalculatedAt: now},
		{Name: MetricAvgEffort, Value: value(snap.AvgEffort), CalculatedAt: now},
		{Name: MetricAvgEmpathy, Value: value(snap.AvgEmpathy), CalculatedAt: now},
		{Name: MetricAvgSentiment, Value: value(snap.AvgSentiment), CalculatedAt: now},
		{Name: MetricTotalConversations, Value: float64(snap.TotalConversations), CalculatedAt: now},
		{Name: MetricConversationsAnalyzed, Value: float64(snap.AnalyzedConversations), CalculatedAt: now},
		{Name: MetricTotalMessages, Value: float64(snap.TotalMessages), CalculatedAt: now},
		{Name: MetricDaysAnalyzed, Value: float64(snap.AnalyzedDays), CalculatedAt: now},
		{Name: MetricFallbackDays, Value: float64(snap.FallbackDays), CalculatedAt: now},
		{Name: MetricAvgFirstResponseSec, Value: value(snap.AvgFirstResponseSec), CalculatedAt: now},
		{Name: MetricAvgResponseSec, Value: value(snap.AvgResponseSec), CalculatedAt: now},
		{Name: MetricAvgHandlingMin, Value: value(snap.AvgHandlingMin), CalculatedAt: now},
		{Name: MetricLastUpdated, Value: 0, Metadata: map[string]any{"timestamp": now.Format(time.RFC3339)}, CalculatedAt: now},
	}
}
