package ai

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/powerpulse/powerpulse/internal/domain"
)

var (
	recordKeys = []string{"sentiment_score", "sentiment_shift", "resolution_achieved", "fcr_score", "ces"}

	trailingCommaRe = regexp.MustCompile(`,(\s*[}\]])`)
)

// CleanResponse strips markdown fences and surrounding chatter from a model
// response, leaving the JSON array it was asked for.
func CleanResponse(raw string) string {
	cleaned := strings.TrimSpace(raw)
	if strings.HasPrefix(cleaned, "```json") {
		cleaned = strings.TrimPrefix(cleaned, "```json")
	} else if strings.HasPrefix(cleaned, "```") {
		cleaned = strings.TrimPrefix(cleaned, "```")
	}
	cleaned = strings.TrimSuffix(strings.TrimSpace(cleaned), "```")
	cleaned = extractArray(strings.TrimSpace(cleaned))
	return trailingCommaRe.ReplaceAllString(cleaned, "$1")
}

// extractArray returns the first balanced top-level JSON array in s, or s
// unchanged when none is found. Models sometimes prefix the array with prose
// even when told not to.
func extractArray(s string) string {
	start := strings.Index(s, "[")
	if start < 0 {
		return s
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '[':
			depth++
		case c == ']':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return s
}

// ParseBatchRecords decodes a model response into exactly n analysis records.
// A response that is not a JSON array of length n yields n fallback records
// and ok=false. Within a well-formed array, an element missing any metric key
// or carrying an out-of-range value falls back individually.
func ParseBatchRecords(raw string, n int) ([]domain.AnalysisRecord, bool) {
	var elems []json.RawMessage
	if err := json.Unmarshal([]byte(CleanResponse(raw)), &elems); err != nil {
		return fallbackRecords(n), false
	}
	if len(elems) != n {
		return fallbackRecords(n), false
	}
	out := make([]domain.AnalysisRecord, n)
	for i, e := range elems {
		rec, err := parseRecord(e)
		if err != nil {
			out[i] = domain.FallbackAnalysisRecord()
			continue
		}
		out[i] = rec
	}
	return out, true
}

func parseRecord(e json.RawMessage) (domain.AnalysisRecord, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(e, &fields); err != nil {
		return domain.AnalysisRecord{}, fmt.Errorf("op=ai.parseRecord: %w", err)
	}
	for _, key := range recordKeys {
		if _, ok := fields[key]; !ok {
			return domain.AnalysisRecord{}, fmt.Errorf("op=ai.parseRecord: missing key %q: %w", key, domain.ErrSchemaInvalid)
		}
	}
	var rec domain.AnalysisRecord
	if err := json.Unmarshal(e, &rec); err != nil {
		return domain.AnalysisRecord{}, fmt.Errorf("op=ai.parseRecord: %w", err)
	}
	// Only fallback substitution may set the error marker.
	rec.Error = ""
	if err := rec.Validate(); err != nil {
		return domain.AnalysisRecord{}, err
	}
	return rec, nil
}

func fallbackRecords(n int) []domain.AnalysisRecord {
	out := make([]domain.AnalysisRecord, n)
	for i := range out {
		out[i] = domain.FallbackAnalysisRecord()
	}
	return out
}
