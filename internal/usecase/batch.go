package usecase

import (
	"unicode/utf8"

	"github.com/powerpulse/powerpulse/internal/domain"
)

// EstimateUnitTokens approximates the prompt cost of one work unit as
// ceil(characters / 4) over the concatenation of its message contents.
func EstimateUnitTokens(msgs []domain.Message) int {
	chars := 0
	for _, m := range msgs {
		chars += utf8.RuneCountInString(m.Content)
	}
	return (chars + 3) / 4
}

// BuildBatches packs units into jobs by first fit, walking units in grouper
// order. Each batch keeps the sum of estimates within maxTokens and its unit
// count within batchSize. A unit whose own estimate exceeds maxTokens
// travels alone; the model may still reject it, which is reported, not fatal.
func BuildBatches(units []domain.AnalysisUnit, maxTokens, batchSize int) [][]domain.AnalysisUnit {
	var batches [][]domain.AnalysisUnit
	var totals []int
	for _, u := range units {
		if u.TokenEstimate > maxTokens {
			batches = append(batches, []domain.AnalysisUnit{u})
			totals = append(totals, u.TokenEstimate)
			continue
		}
		placed := false
		for i := range batches {
			if len(batches[i]) < batchSize && totals[i]+u.TokenEstimate <= maxTokens {
				batches[i] = append(batches[i], u)
				totals[i] += u.TokenEstimate
				placed = true
				break
			}
		}
		if !placed {
			batches = append(batches, []domain.AnalysisUnit{u})
			totals = append(totals, u.TokenEstimate)
		}
	}
	return batches
}

// BatchTokens sums the unit estimates of one batch.
func BatchTokens(batch []domain.AnalysisUnit) int {
	n := 0
	for _, u := range batch {
		n += u.TokenEstimate
	}
	return n
}
