package domain

import "fmt"

// Ramp maps a raw time value onto the 0-10 goodness scale: 10 at or below
// BestAt, linear down to 0 at or above WorstAt.
type Ramp struct {
	BestAt  float64
	WorstAt float64
}

// Score applies the ramp to a raw value.
func (r Ramp) Score(v float64) float64 {
	if v <= r.BestAt {
		return 10
	}
	if v >= r.WorstAt {
		return 0
	}
	return 10 * (r.WorstAt - v) / (r.WorstAt - r.BestAt)
}

// PillarWeights are the CSI composition weights. They must sum to 1 when all
// pillars are present; null pillars renormalize the remainder.
type PillarWeights struct {
	Effectiveness float64
	Effort        float64
	Efficiency    float64
	Empathy       float64
}

// ScoringParams parameterize the pillar/CSI calculator. Ramp units follow
// the stored metrics: response times in seconds, handling time in minutes.
type ScoringParams struct {
	Weights           PillarWeights
	FirstResponseRamp Ramp
	AvgResponseRamp   Ramp
	HandlingRamp      Ramp
}

// DefaultScoringParams returns the documented defaults.
func DefaultScoringParams() ScoringParams {
	return ScoringParams{
		Weights: PillarWeights{
			Effectiveness: 0.40,
			Effort:        0.25,
			Efficiency:    0.15,
			Empathy:       0.20,
		},
		FirstResponseRamp: Ramp{BestAt: 60, WorstAt: 1800},
		AvgResponseRamp:   Ramp{BestAt: 120, WorstAt: 3600},
		HandlingRamp:      Ramp{BestAt: 5, WorstAt: 60},
	}
}

// Validate rejects weights that are not positive and ramps that do not slope
// downward.
func (p ScoringParams) Validate() error {
	for name, w := range map[string]float64{
		"effectiveness": p.Weights.Effectiveness,
		"effort":        p.Weights.Effort,
		"efficiency":    p.Weights.Efficiency,
		"empathy":       p.Weights.Empathy,
	} {
		if w <= 0 {
			return fmt.Errorf("weight %s=%v must be positive: %w", name, w, ErrInvalidArgument)
		}
	}
	for name, r := range map[string]Ramp{
		"first_response": p.FirstResponseRamp,
		"avg_response":   p.AvgResponseRamp,
		"handling":       p.HandlingRamp,
	} {
		if r.BestAt < 0 || r.WorstAt <= r.BestAt {
			return fmt.Errorf("ramp %s best=%v worst=%v invalid: %w", name, r.BestAt, r.WorstAt, ErrInvalidArgument)
		}
	}
	return nil
}
