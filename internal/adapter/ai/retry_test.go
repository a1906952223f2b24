package ai

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/powerpulse/powerpulse/internal/domain"
)

// scriptedAnalyzer fails with errs[i] on call i and succeeds once the script
// runs out, returning the configured records and usage.
type scriptedAnalyzer struct {
	mu      sync.Mutex
	errs    []error
	calls   int
	records []domain.AnalysisRecord
	usage   *domain.TokenUsage
}

func (s *scriptedAnalyzer) Name() string { return "scripted" }

func (s *scriptedAnalyzer) AnalyzeDailyBatch(_ domain.Context, _ []domain.AnalysisUnit) ([]domain.AnalysisRecord, *domain.TokenUsage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.calls
	s.calls++
	if idx < len(s.errs) && s.errs[idx] != nil {
		return nil, nil, s.errs[idx]
	}
	return s.records, s.usage, nil
}

func (s *scriptedAnalyzer) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func genuineRecord() domain.AnalysisRecord {
	return domain.AnalysisRecord{
		SentimentScore:     7,
		SentimentShift:     1,
		ResolutionAchieved: 8,
		FCRScore:           9,
		CES:                2,
	}
}

func fastPolicy() domain.RetryPolicy {
	return domain.RetryPolicy{
		MaxAttempts:    3,
		Base:           time.Millisecond,
		Factor:         1,
		JitterFraction: 0,
		AttemptTimeout: time.Second,
	}
}

func TestNewRetryingAnalyzer_DefaultsEmptyPolicy(t *testing.T) {
	t.Parallel()

	a := NewRetryingAnalyzer(&scriptedAnalyzer{}, domain.RetryPolicy{})
	assert.Equal(t, domain.DefaultRetryPolicy().MaxAttempts, a.policy.MaxAttempts)
	assert.Equal(t, "scripted", a.Name())
}

func TestRetryingAnalyzer_SucceedsFirstTry(t *testing.T) {
	t.Parallel()

	recs := []domain.AnalysisRecord{genuineRecord()}
	usage := &domain.TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}
	fake := &scriptedAnalyzer{records: recs, usage: usage}
	a := NewRetryingAnalyzer(fake, fastPolicy())

	got, gotUsage, err := a.AnalyzeDailyBatch(context.Background(), testUnits(1))

	require.NoError(t, err)
	assert.Equal(t, recs, got)
	assert.Equal(t, usage, gotUsage)
	assert.Equal(t, 1, fake.callCount())
}

func TestRetryingAnalyzer_RetriesTransientErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
	}{
		{name: "upstream timeout", err: domain.ErrUpstreamTimeout},
		{name: "upstream rate limit", err: domain.ErrUpstreamRateLimit},
		{name: "per attempt deadline", err: context.DeadlineExceeded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			recs := []domain.AnalysisRecord{genuineRecord()}
			fake := &scriptedAnalyzer{errs: []error{tt.err}, records: recs}
			a := NewRetryingAnalyzer(fake, fastPolicy())

			got, _, err := a.AnalyzeDailyBatch(context.Background(), testUnits(1))

			require.NoError(t, err)
			assert.Equal(t, recs, got)
			assert.Equal(t, 2, fake.callCount())
		})
	}
}

func TestRetryingAnalyzer_PermanentErrorNotRetried(t *testing.T) {
	t.Parallel()

	fake := &scriptedAnalyzer{errs: []error{domain.ErrInvalidArgument}}
	a := NewRetryingAnalyzer(fake, fastPolicy())

	_, _, err := a.AnalyzeDailyBatch(context.Background(), testUnits(1))

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	assert.Equal(t, 1, fake.callCount())
}

func TestRetryingAnalyzer_ExhaustsAttempts(t *testing.T) {
	t.Parallel()

	fake := &scriptedAnalyzer{errs: []error{
		domain.ErrUpstreamTimeout,
		domain.ErrUpstreamTimeout,
		domain.ErrUpstreamTimeout,
	}}
	a := NewRetryingAnalyzer(fake, fastPolicy())

	_, _, err := a.AnalyzeDailyBatch(context.Background(), testUnits(1))

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUpstreamTimeout)
	assert.Equal(t, 3, fake.callCount())
}

func TestRetryingAnalyzer_CancelledContextAborts(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fake := &scriptedAnalyzer{errs: []error{context.Canceled, context.Canceled, context.Canceled}}
	a := NewRetryingAnalyzer(fake, fastPolicy())

	_, _, err := a.AnalyzeDailyBatch(ctx, testUnits(1))

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, fake.callCount())
}
