package usecase

import (
	"math"

	"github.com/powerpulse/powerpulse/internal/domain"
)

// Calculator derives pillar scores and the CSI from micro-metrics. It is
// pure: identical inputs produce identical outputs.
type Calculator struct {
	params domain.ScoringParams
}

// NewCalculator constructs a Calculator over the given parameters.
func NewCalculator(p domain.ScoringParams) Calculator { return Calculator{params: p} }

// Params returns the calculator's parameters.
func (c Calculator) Params() domain.ScoringParams { return c.params }

// Derive computes the four pillars and the CSI for one conversation-day.
// Effectiveness, Effort and Empathy always resolve; Efficiency is nil when
// all three time metrics are nil, and the CSI renormalizes the remaining
// weights in that case.
func (c Calculator) Derive(rec domain.AnalysisRecord, tm TimeMetrics) domain.DerivedScores {
	effectiveness := round2((rec.ResolutionAchieved + rec.FCRScore) / 2)
	effort := round2(clip10((7 - rec.CES) / 6 * 10))
	empathy := round2(clip10(0.4*rec.SentimentScore + 0.6*((rec.SentimentShift+5)/10*10)))

	var efficiency *float64
	var timeScores []float64
	if tm.FirstResponseSec != nil {
		timeScores = append(timeScores, c.params.FirstResponseRamp.Score(*tm.FirstResponseSec))
	}
	if tm.AvgResponseSec != nil {
		timeScores = append(timeScores, c.params.AvgResponseRamp.Score(*tm.AvgResponseSec))
	}
	if tm.HandlingMin != nil {
		timeScores = append(timeScores, c.params.HandlingRamp.Score(*tm.HandlingMin))
	}
	if len(timeScores) > 0 {
		sum := 0.0
		for _, s := range timeScores {
			sum += s
		}
		v := round2(sum / float64(len(timeScores)))
		efficiency = &v
	}

	d := domain.DerivedScores{
		EffectivenessScore: &effectiveness,
		EffortScore:        &effort,
		EmpathyScore:       &empathy,
		EfficiencyScore:    efficiency,
	}
	d.CSIScore = c.csi(d)
	return d
}

// csi composes the weighted 0-100 index, dropping nil pillars and
// renormalizing the remaining weights to sum to 1.
func (c Calculator) csi(d domain.DerivedScores) *float64 {
	type part struct {
		score  *float64
		weight float64
	}
	parts := []part{
		{d.EffectivenessScore, c.params.Weights.Effectiveness},
		{d.EffortScore, c.params.Weights.Effort},
		{d.EfficiencyScore, c.params.Weights.Efficiency},
		{d.EmpathyScore, c.params.Weights.Empathy},
	}
	weighted, total := 0.0, 0.0
	for _, p := range parts {
		if p.score == nil {
			continue
		}
		weighted += *p.score * p.weight
		total += p.weight
	}
	if total == 0 {
		return nil
	}
	v := round2(10 * weighted / total)
	return &v
}

func clip10(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 10 {
		return 10
	}
	return v
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
