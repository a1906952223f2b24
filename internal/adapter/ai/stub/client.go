// Package stub provides a deterministic analyzer for local development and
// tests. No network, no API key, stable output for a given input.
package stub

import (
	"hash/fnv"

	"github.com/powerpulse/powerpulse/internal/domain"
)

// Client derives plausible in-range scores from a hash of each unit's chat id
// and day, so repeated runs over the same upload produce identical analyses.
type Client struct{}

// New returns the stub analyzer.
func New() *Client { return &Client{} }

// Name identifies the stub in logs and metrics.
func (c *Client) Name() string { return "stub" }

// Model returns the pseudo-model id.
func (c *Client) Model() string { return "stub-v1" }

// AnalyzeDailyBatch scores every unit deterministically. It never fails and
// reports no token usage, leaving accounting to the caller's estimator.
func (c *Client) AnalyzeDailyBatch(_ domain.Context, units []domain.AnalysisUnit) ([]domain.AnalysisRecord, *domain.TokenUsage, error) {
	records := make([]domain.AnalysisRecord, len(units))
	for i, u := range units {
		records[i] = scoreUnit(u)
	}
	return records, nil, nil
}

func scoreUnit(u domain.AnalysisUnit) domain.AnalysisRecord {
	h := fnv.New64a()
	h.Write([]byte(u.ChatID))
	h.Write([]byte(u.Date.Format("2006-01-02")))
	v := h.Sum64()

	// Spread hash bits across the metric ranges, keeping away from the
	// extremes so derived pillar scores stay unremarkable.
	return domain.AnalysisRecord{
		SentimentScore:     3 + float64(v%60)/10,       // 3.0 .. 8.9
		SentimentShift:     -2 + float64((v>>8)%40)/10, // -2.0 .. 1.9
		ResolutionAchieved: 4 + float64((v>>16)%60)/10, // 4.0 .. 9.9
		FCRScore:           4 + float64((v>>24)%60)/10, // 4.0 .. 9.9
		CES:                2 + float64((v>>32)%40)/10, // 2.0 .. 5.9
	}
}
