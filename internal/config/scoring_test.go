package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/powerpulse/powerpulse/internal/domain"
)

func Test_LoadScoringParams_NoPath(t *testing.T) {
	params, err := LoadScoringParams("")
	require.NoError(t, err)
	require.Equal(t, domain.DefaultScoringParams(), params)
}

func Test_LoadScoringParams_PartialOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scoring.yaml")
	content := []byte(`
weights:
  effort: 0.30
  efficiency: 0.10
ramps:
  first_response_seconds:
    best: 30
    worst: 900
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	params, err := LoadScoringParams(path)
	require.NoError(t, err)

	require.Equal(t, 0.30, params.Weights.Effort)
	require.Equal(t, 0.10, params.Weights.Efficiency)
	// Untouched keys keep their defaults.
	require.Equal(t, 0.40, params.Weights.Effectiveness)
	require.Equal(t, domain.Ramp{BestAt: 30, WorstAt: 900}, params.FirstResponseRamp)
	require.Equal(t, domain.DefaultScoringParams().AvgResponseRamp, params.AvgResponseRamp)
}

func Test_LoadScoringParams_InvalidValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scoring.yaml")
	content := []byte(`
weights:
  empathy: -1
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	_, err := LoadScoringParams(path)
	require.Error(t, err)
}

func Test_LoadScoringParams_MissingFile(t *testing.T) {
	_, err := LoadScoringParams(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func Test_LoadScoringParams_BadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scoring.yaml")
	require.NoError(t, os.WriteFile(path, []byte("weights: ["), 0o600))

	_, err := LoadScoringParams(path)
	require.Error(t, err)
}
