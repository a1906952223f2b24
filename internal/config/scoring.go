// Scoring parameter loading: optional YAML override of ramps and weights.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/powerpulse/powerpulse/internal/domain"
)

type scoringYAML struct {
	Weights struct {
		Effectiveness *float64 `yaml:"effectiveness"`
		Effort        *float64 `yaml:"effort"`
		Efficiency    *float64 `yaml:"efficiency"`
		Empathy       *float64 `yaml:"empathy"`
	} `yaml:"weights"`
	Ramps struct {
		FirstResponseSeconds *rampYAML `yaml:"first_response_seconds"`
		AvgResponseSeconds   *rampYAML `yaml:"avg_response_seconds"`
		HandlingMinutes      *rampYAML `yaml:"handling_minutes"`
	} `yaml:"ramps"`
}

type rampYAML struct {
	Best  float64 `yaml:"best"`
	Worst float64 `yaml:"worst"`
}

// LoadScoringParams returns the default scoring parameters, overridden by the
// YAML file at path when one is configured. Partial files override only the
// keys they name.
func LoadScoringParams(path string) (domain.ScoringParams, error) {
	params := domain.DefaultScoringParams()
	if path == "" {
		return params, nil
	}

	// #nosec G304 -- path comes from operator configuration
	content, err := os.ReadFile(path)
	if err != nil {
		return domain.ScoringParams{}, fmt.Errorf("op=config.LoadScoringParams: read %s: %w", path, err)
	}
	var file scoringYAML
	if err := yaml.Unmarshal(content, &file); err != nil {
		return domain.ScoringParams{}, fmt.Errorf("op=config.LoadScoringParams: parse %s: %w", path, err)
	}

	if v := file.Weights.Effectiveness; v != nil {
		params.Weights.Effectiveness = *v
	}
	if v := file.Weights.Effort; v != nil {
		params.Weights.Effort = *v
	}
	if v := file.Weights.Efficiency; v != nil {
		params.Weights.Efficiency = *v
	}
	if v := file.Weights.Empathy; v != nil {
		params.Weights.Empathy = *v
	}
	if r := file.Ramps.FirstResponseSeconds; r != nil {
		params.FirstResponseRamp = domain.Ramp{BestAt: r.Best, WorstAt: r.Worst}
	}
	if r := file.Ramps.AvgResponseSeconds; r != nil {
		params.AvgResponseRamp = domain.Ramp{BestAt: r.Best, WorstAt: r.Worst}
	}
	if r := file.Ramps.HandlingMinutes; r != nil {
		params.HandlingRamp = domain.Ramp{BestAt: r.Best, WorstAt: r.Worst}
	}

	if err := params.Validate(); err != nil {
		return domain.ScoringParams{}, fmt.Errorf("op=config.LoadScoringParams: %s: %w", path, err)
	}
	return params, nil
}
