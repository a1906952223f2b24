package observability

import (
	"sync"
	"time"

	"github.com/powerpulse/powerpulse/internal/domain"
)

// JobStoreMetrics decorates a JobStore with job lifecycle metrics: batch
// sizes at creation, the in-flight gauge, terminal counts by status, and the
// CSI distribution written at completion.
type JobStoreMetrics struct {
	next domain.JobStore

	mu      sync.Mutex
	running map[string]struct{}
}

// NewJobStoreMetrics decorates next.
func NewJobStoreMetrics(next domain.JobStore) *JobStoreMetrics {
	return &JobStoreMetrics{next: next, running: make(map[string]struct{})}
}

func (m *JobStoreMetrics) Create(ctx domain.Context, uploadID string, analysisIDs []string, tokenEstimate int) (domain.Job, error) {
	job, err := m.next.Create(ctx, uploadID, analysisIDs, tokenEstimate)
	if err == nil {
		ObserveBatch(len(analysisIDs))
	}
	return job, err
}

func (m *JobStoreMetrics) MarkInProgress(ctx domain.Context, id string) error {
	if err := m.next.MarkInProgress(ctx, id); err != nil {
		return err
	}
	m.mu.Lock()
	m.running[id] = struct{}{}
	m.mu.Unlock()
	JobsInFlight.Inc()
	return nil
}

// CompleteJob decrements the in-flight gauge only for jobs this process
// started, so aborts recorded before the job ran cannot drive it negative.
func (m *JobStoreMetrics) CompleteJob(ctx domain.Context, id string, status domain.JobStatus, updates []domain.ScoreUpdate, result domain.JobResult) error {
	if err := m.next.CompleteJob(ctx, id, status, updates, result); err != nil {
		return err
	}
	m.mu.Lock()
	_, wasRunning := m.running[id]
	if wasRunning {
		delete(m.running, id)
	}
	m.mu.Unlock()
	if wasRunning {
		JobsInFlight.Dec()
	}
	JobsTotal.WithLabelValues(string(status)).Inc()
	for _, u := range updates {
		if u.CSIScore != nil {
			ObserveCSI(*u.CSIScore)
		}
	}
	return nil
}

func (m *JobStoreMetrics) Get(ctx domain.Context, id string) (domain.Job, error) {
	return m.next.Get(ctx, id)
}

func (m *JobStoreMetrics) ListByUpload(ctx domain.Context, uploadID string) ([]domain.Job, error) {
	return m.next.ListByUpload(ctx, uploadID)
}

// FailStale cannot name the swept ids, so the in-flight gauge is left alone.
func (m *JobStoreMetrics) FailStale(ctx domain.Context, cutoff time.Time) (int, error) {
	n, err := m.next.FailStale(ctx, cutoff)
	if err == nil && n > 0 {
		JobsTotal.WithLabelValues(string(domain.JobFailed)).Add(float64(n))
	}
	return n, err
}
