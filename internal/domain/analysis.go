package domain

import (
	"fmt"
	"time"
)

// Error markers stored on DailyAnalysis rows and job results.
const (
	AnalysisFailedMarker = "analysis_failed"
	CancelledMarker      = "cancelled"
)

// DayGroup is one UTC calendar day of a chat, messages ordered by
// SocialCreateTime ascending with input order breaking ties.
type DayGroup struct {
	Date     time.Time
	Messages []Message
}

// GroupedChat is the validator/grouper output for one chat id.
type GroupedChat struct {
	ChatID           string
	TotalMessages    int
	CustomerMessages int
	AgentMessages    int
	FirstMessageTime time.Time
	LastMessageTime  time.Time
	Days             []DayGroup
}

// AnalysisUnit is one (chat, day) work unit flowing through batching and the
// LLM call. DailyAnalysisID is filled at ingest; TokenEstimate at batching.
type AnalysisUnit struct {
	DailyAnalysisID string
	ChatID          string
	Date            time.Time
	Messages        []Message
	TokenEstimate   int
}

// AnalysisRecord carries the five AI-derived micro-metrics for one unit.
// Error is empty for genuine model output and AnalysisFailedMarker for
// fallback substitutions.
type AnalysisRecord struct {
	SentimentScore     float64 `json:"sentiment_score"`
	SentimentShift     float64 `json:"sentiment_shift"`
	ResolutionAchieved float64 `json:"resolution_achieved"`
	FCRScore           float64 `json:"fcr_score"`
	CES                float64 `json:"ces"`
	Error              string  `json:"error,omitempty"`
}

// FallbackAnalysisRecord is the neutral record substituted when the model
// response cannot be used.
func FallbackAnalysisRecord() AnalysisRecord {
	return AnalysisRecord{
		SentimentScore:     5,
		SentimentShift:     0,
		ResolutionAchieved: 5,
		FCRScore:           5,
		CES:                4,
		Error:              AnalysisFailedMarker,
	}
}

// Validate checks the documented ranges for each micro-metric.
func (r AnalysisRecord) Validate() error {
	check := func(name string, v, lo, hi float64) error {
		if v < lo || v > hi {
			return fmt.Errorf("%s=%v outside [%v,%v]: %w", name, v, lo, hi, ErrSchemaInvalid)
		}
		return nil
	}
	if err := check("sentiment_score", r.SentimentScore, 0, 10); err != nil {
		return err
	}
	if err := check("sentiment_shift", r.SentimentShift, -5, 5); err != nil {
		return err
	}
	if err := check("resolution_achieved", r.ResolutionAchieved, 0, 10); err != nil {
		return err
	}
	if err := check("fcr_score", r.FCRScore, 0, 10); err != nil {
		return err
	}
	return check("ces", r.CES, 1, 7)
}

// TokenUsage is provider-reported token accounting for one call.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// ScoreUpdate is the full write for one DailyAnalysis at job completion.
// Micro-metrics are always set (genuine or fallback); time metrics and
// pillars stay nil where undefined.
type ScoreUpdate struct {
	ID string

	SentimentScore     float64
	SentimentShift     float64
	ResolutionAchieved float64
	FCRScore           float64
	CES                float64

	FirstResponseTime *float64
	AvgResponseTime   *float64
	TotalHandlingTime *float64

	EffectivenessScore *float64
	EffortScore        *float64
	EfficiencyScore    *float64
	EmpathyScore       *float64
	CSIScore           *float64

	AnalysisError string
}

// DerivedScores rewrites only the derived columns, used by offline
// recalculation after threshold changes.
type DerivedScores struct {
	EffectivenessScore *float64
	EffortScore        *float64
	EfficiencyScore    *float64
	EmpathyScore       *float64
	CSIScore           *float64
}

// AggregateSnapshot feeds the Metric cache. Averages are nil when no scored
// rows exist.
type AggregateSnapshot struct {
	TotalConversations    int
	AnalyzedConversations int
	TotalMessages         int
	AnalyzedDays          int
	FallbackDays          int

	AvgCSI           *float64
	AvgEffectiveness *float64
	AvgEffort        *float64
	AvgEfficiency    *float64
	AvgEmpathy       *float64
	AvgSentiment     *float64

	AvgFirstResponseSec *float64
	AvgResponseSec      *float64
	AvgHandlingMin      *float64
}

// TrendPoint is one day of the chart endpoints.
type TrendPoint struct {
	Date         time.Time
	Days         int
	AvgCSI       *float64
	AvgSentiment *float64
}
