// Package observability provides logging, metrics, and tracing.
//
// It integrates with OpenTelemetry for traces, Prometheus for metrics, and
// slog for structured logs.
package observability

import (
	"log/slog"
	"sync"

	"github.com/powerpulse/powerpulse/internal/domain"
)

// ScoreDriftMonitor watches the rolling mean of each AI micro-metric and
// flags drift against a baseline. The baseline seeds itself from the first
// full window, so a provider or model change that shifts scoring mid-run
// shows up without any configured corpus.
type ScoreDriftMonitor struct {
	baselineScores map[string]float64
	recentScores   map[string][]float64
	windowSize     int
	driftThreshold float64
	mu             sync.RWMutex
}

// NewScoreDriftMonitor creates a drift monitor. A windowSize or threshold of
// zero falls back to 50 samples and 1.0 score points.
func NewScoreDriftMonitor(windowSize int, driftThreshold float64) *ScoreDriftMonitor {
	if windowSize <= 0 {
		windowSize = 50
	}
	if driftThreshold <= 0 {
		driftThreshold = 1.0
	}
	return &ScoreDriftMonitor{
		baselineScores: make(map[string]float64),
		recentScores:   make(map[string][]float64),
		windowSize:     windowSize,
		driftThreshold: driftThreshold,
	}
}

// ObserveRecords feeds the micro-metrics of genuine analysis records into the
// monitor. Fallback records are skipped so failure substitutions do not drag
// the rolling means toward neutral.
func (sdm *ScoreDriftMonitor) ObserveRecords(records []domain.AnalysisRecord) {
	for _, rec := range records {
		if rec.Error != "" {
			continue
		}
		sdm.RecordScore("sentiment_score", rec.SentimentScore)
		sdm.RecordScore("sentiment_shift", rec.SentimentShift)
		sdm.RecordScore("resolution_achieved", rec.ResolutionAchieved)
		sdm.RecordScore("fcr_score", rec.FCRScore)
		sdm.RecordScore("ces", rec.CES)
	}
}

// RecordScore records a new score and checks for drift once the window is
// full. The first full window becomes the baseline.
func (sdm *ScoreDriftMonitor) RecordScore(metricType string, score float64) {
	sdm.mu.Lock()
	defer sdm.mu.Unlock()

	if sdm.recentScores[metricType] == nil {
		sdm.recentScores[metricType] = make([]float64, 0, sdm.windowSize)
	}

	sdm.recentScores[metricType] = append(sdm.recentScores[metricType], score)

	// Maintain window size
	if len(sdm.recentScores[metricType]) > sdm.windowSize {
		sdm.recentScores[metricType] = sdm.recentScores[metricType][1:]
	}

	if len(sdm.recentScores[metricType]) < sdm.windowSize {
		return
	}

	if _, ok := sdm.baselineScores[metricType]; !ok {
		sdm.baselineScores[metricType] = sdm.windowMean(metricType)
		slog.Info("seeded score drift baseline",
			slog.String("metric_type", metricType),
			slog.Float64("baseline", sdm.baselineScores[metricType]),
			slog.Int("window", sdm.windowSize))
		return
	}

	drift := sdm.calculateDrift(metricType)
	RecordScoreDrift(metricType, drift)
	if drift > sdm.driftThreshold {
		slog.Warn("score drift detected",
			slog.String("metric_type", metricType),
			slog.Float64("drift", drift),
			slog.Float64("threshold", sdm.driftThreshold))
	}
}

// UpdateBaseline overrides the baseline for a metric type.
func (sdm *ScoreDriftMonitor) UpdateBaseline(metricType string, score float64) {
	sdm.mu.Lock()
	defer sdm.mu.Unlock()

	sdm.baselineScores[metricType] = score
	slog.Info("updated baseline score",
		slog.String("metric_type", metricType),
		slog.Float64("score", score))
}

// calculateDrift calculates the drift from baseline. Callers hold the lock.
func (sdm *ScoreDriftMonitor) calculateDrift(metricType string) float64 {
	baseline, exists := sdm.baselineScores[metricType]
	if !exists {
		return 0.0
	}
	if len(sdm.recentScores[metricType]) == 0 {
		return 0.0
	}

	drift := sdm.windowMean(metricType) - baseline
	if drift < 0 {
		drift = -drift
	}
	return drift
}

func (sdm *ScoreDriftMonitor) windowMean(metricType string) float64 {
	scores := sdm.recentScores[metricType]
	sum := 0.0
	for _, s := range scores {
		sum += s
	}
	return sum / float64(len(scores))
}

// GetDrift returns the current drift for a metric type.
func (sdm *ScoreDriftMonitor) GetDrift(metricType string) float64 {
	sdm.mu.RLock()
	defer sdm.mu.RUnlock()

	return sdm.calculateDrift(metricType)
}

// GetBaseline returns the baseline score for a metric type.
func (sdm *ScoreDriftMonitor) GetBaseline(metricType string) (float64, bool) {
	sdm.mu.RLock()
	defer sdm.mu.RUnlock()

	score, exists := sdm.baselineScores[metricType]
	return score, exists
}

// GetRecentScores returns a copy of the current window for a metric type.
func (sdm *ScoreDriftMonitor) GetRecentScores(metricType string) []float64 {
	sdm.mu.RLock()
	defer sdm.mu.RUnlock()

	scores := make([]float64, len(sdm.recentScores[metricType]))
	copy(scores, sdm.recentScores[metricType])
	return scores
}

// Reset clears baselines and windows.
func (sdm *ScoreDriftMonitor) Reset() {
	sdm.mu.Lock()
	defer sdm.mu.Unlock()

	sdm.baselineScores = make(map[string]float64)
	sdm.recentScores = make(map[string][]float64)
}
