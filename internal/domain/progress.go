package domain

import "time"

// ProcessingStatus is the lifecycle state of one upload.
type ProcessingStatus string

const (
	StatusPending              ProcessingStatus = "pending"
	StatusProcessing           ProcessingStatus = "processing"
	StatusCompleted            ProcessingStatus = "completed"
	StatusCompletedWithFilters ProcessingStatus = "completed_with_filters"
	StatusFailed               ProcessingStatus = "failed"
	StatusCancelled            ProcessingStatus = "cancelled"
)

// Terminal reports whether the status is final.
func (s ProcessingStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCompletedWithFilters, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// ProcessingStage is the pipeline step an upload is currently in.
type ProcessingStage string

const (
	StageReceiving              ProcessingStage = "receiving"
	StageValidating             ProcessingStage = "validating"
	StageFilteringConversations ProcessingStage = "filtering_conversations"
	StagePersisting             ProcessingStage = "persisting"
	StageBatching               ProcessingStage = "batching"
	StageAIAnalysis             ProcessingStage = "ai_analysis"
	StageFinalizing             ProcessingStage = "finalizing"
)

// UploadStatistics are the per-upload counters exposed to pollers.
type UploadStatistics struct {
	FilteredAutoresponses int `json:"filtered_autoresponses"`
	FilteredInvalid       int `json:"filtered_invalid"`
	SkippedChats          int `json:"skipped_chats"`
	AICallsMade           int `json:"ai_calls_made"`
	AIFailures            int `json:"ai_failures"`
	TokensUsed            int `json:"tokens_used"`
}

// UploadError is one recorded failure with its observation time.
type UploadError struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"error"`
}

// UploadProgress is the C-side snapshot of one upload's state. CompletedJobs
// and TotalJobs drive the derived percentage during analysis.
type UploadProgress struct {
	UploadID               string
	Status                 ProcessingStatus
	Stage                  ProcessingStage
	Details                string
	TotalConversations     int
	ProcessedConversations int
	TotalJobs              int
	CompletedJobs          int
	FailedJobs             int
	StartTime              time.Time
	LastUpdate             time.Time
	EndTime                *time.Time
	Statistics             UploadStatistics
	Errors                 []UploadError
}

// Percentage derives the progress percentage. Completion reports 100 only
// when at least one analysis row was written or the upload had no chats at
// all; a fully filtered upload stays at the job-derived value.
func (p UploadProgress) Percentage() float64 {
	switch p.Status {
	case StatusCompleted:
		return 100
	case StatusCompletedWithFilters:
		if p.TotalConversations == 0 {
			return 100
		}
	}
	if p.TotalJobs == 0 {
		return 0
	}
	return float64(p.CompletedJobs+p.FailedJobs) / float64(p.TotalJobs) * 100
}

// Duration is the wall time from start to EndTime, or to LastUpdate while
// the upload is still running.
func (p UploadProgress) Duration() time.Duration {
	if p.EndTime != nil {
		return p.EndTime.Sub(p.StartTime)
	}
	return p.LastUpdate.Sub(p.StartTime)
}

// ProgressReporter (port) receives upload lifecycle updates from the
// pipeline. Implementations must be safe for concurrent use.
type ProgressReporter interface {
	Begin(uploadID string, totalConversations int)
	SetStage(uploadID string, stage ProcessingStage, details string)
	SetJobTotals(uploadID string, totalJobs int)
	JobDone(uploadID string, failed bool)
	ChatsProcessed(uploadID string, chatIDs ...string)
	AddFiltered(uploadID string, autoresponses, invalid int)
	AddSkipped(uploadID string, chats int)
	AddAICall(uploadID string, failed bool, tokens int)
	RecordError(uploadID string, msg string)
	Finish(uploadID string, status ProcessingStatus)
}

// Scheduler (port) dispatches submitted closures in FIFO order with bounded
// concurrency. The returned channel receives exactly one value: the closure's
// error, or the context error when the task was dropped before running.
type Scheduler interface {
	Submit(ctx Context, run func(Context) error) <-chan error
}
