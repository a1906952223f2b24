package observability

import (
	"sync"
	"time"

	"github.com/powerpulse/powerpulse/internal/domain"
)

// ProgressMetrics decorates a ProgressReporter with upload-level Prometheus
// metrics: the active-upload gauge, terminal counts by status, and per-stage
// durations. Everything else passes through untouched.
type ProgressMetrics struct {
	next domain.ProgressReporter

	mu     sync.Mutex
	stages map[string]stageMark
}

type stageMark struct {
	stage domain.ProcessingStage
	since time.Time
}

// NewProgressMetrics decorates next.
func NewProgressMetrics(next domain.ProgressReporter) *ProgressMetrics {
	return &ProgressMetrics{next: next, stages: make(map[string]stageMark)}
}

// Begin marks the upload active and starts the stage clock at receiving.
func (m *ProgressMetrics) Begin(uploadID string, totalConversations int) {
	m.next.Begin(uploadID, totalConversations)
	StartUpload()
	m.mu.Lock()
	m.stages[uploadID] = stageMark{stage: domain.StageReceiving, since: time.Now()}
	m.mu.Unlock()
}

// SetStage closes the previous stage's duration and restarts the clock.
func (m *ProgressMetrics) SetStage(uploadID string, stage domain.ProcessingStage, details string) {
	m.next.SetStage(uploadID, stage, details)
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.stages[uploadID]; ok && prev.stage != stage {
		ObserveStage(string(prev.stage), time.Since(prev.since))
		m.stages[uploadID] = stageMark{stage: stage, since: time.Now()}
	}
}

// Finish closes the final stage and records the terminal status. An upload
// this decorator never saw Begin for leaves the gauges alone.
func (m *ProgressMetrics) Finish(uploadID string, status domain.ProcessingStatus) {
	m.next.Finish(uploadID, status)
	m.mu.Lock()
	prev, ok := m.stages[uploadID]
	if ok {
		delete(m.stages, uploadID)
	}
	m.mu.Unlock()
	if ok {
		ObserveStage(string(prev.stage), time.Since(prev.since))
		FinishUpload(string(status))
	}
}

func (m *ProgressMetrics) SetJobTotals(uploadID string, totalJobs int) {
	m.next.SetJobTotals(uploadID, totalJobs)
}

func (m *ProgressMetrics) JobDone(uploadID string, failed bool) {
	m.next.JobDone(uploadID, failed)
}

func (m *ProgressMetrics) ChatsProcessed(uploadID string, chatIDs ...string) {
	m.next.ChatsProcessed(uploadID, chatIDs...)
}

func (m *ProgressMetrics) AddFiltered(uploadID string, autoresponses, invalid int) {
	m.next.AddFiltered(uploadID, autoresponses, invalid)
}

func (m *ProgressMetrics) AddSkipped(uploadID string, chats int) {
	m.next.AddSkipped(uploadID, chats)
}

func (m *ProgressMetrics) AddAICall(uploadID string, failed bool, tokens int) {
	m.next.AddAICall(uploadID, failed, tokens)
}

func (m *ProgressMetrics) RecordError(uploadID string, msg string) {
	m.next.RecordError(uploadID, msg)
}
