package domain

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrTooLarge          = errors.New("payload too large")
	ErrRateLimited       = errors.New("rate limited")
	ErrUpstreamTimeout   = errors.New("upstream timeout")
	ErrUpstreamRateLimit = errors.New("upstream rate limit")
	ErrSchemaInvalid     = errors.New("schema invalid")
	ErrCancelled         = errors.New("cancelled")
	ErrInternal          = errors.New("internal error")
)

// Direction of a chat message relative to the company.
type Direction string

const (
	DirectionToCompany Direction = "to_company" // customer wrote to the company
	DirectionToClient  Direction = "to_client"  // agent replied to the customer
)

// Conversation is unique by ChatID. Created on first ingest; counters and
// first/last message times are recomputed by ingest only.
type Conversation struct {
	ID               string
	ChatID           string
	CustomerName     string
	TotalMessages    int
	CustomerMessages int
	AgentMessages    int
	FirstMessageTime time.Time
	LastMessageTime  time.Time
	CommonTopics     []string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Message is append-only under its Conversation. Ordering within a day is by
// SocialCreateTime ascending, ties broken by insertion order.
type Message struct {
	ID               string
	ConversationID   string
	ChatID           string
	Content          string
	Direction        Direction
	SocialCreateTime time.Time
	AgentUsername    *string
	AgentEmail       *string
	CreatedAt        time.Time
}

// DailyAnalysis is the unit of scoring: one row per (Conversation, UTC date).
// Micro-metric and pillar columns stay nil until a job completes; a job that
// had to fall back stores the fallback values plus AnalysisError.
type DailyAnalysis struct {
	ID             string
	ConversationID string
	ChatID         string
	AnalysisDate   time.Time // UTC midnight

	SentimentScore     *float64 // [0,10]
	SentimentShift     *float64 // [-5,+5]
	ResolutionAchieved *float64 // [0,10]
	FCRScore           *float64 // [0,10]
	CES                *float64 // [1,7], lower is better

	FirstResponseTime *float64 // seconds
	AvgResponseTime   *float64 // seconds
	TotalHandlingTime *float64 // minutes

	EffectivenessScore *float64 // [0,10]
	EffortScore        *float64 // [0,10]
	EfficiencyScore    *float64 // [0,10]
	EmpathyScore       *float64 // [0,10]
	CSIScore           *float64 // [0,100]

	AnalysisError string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobInProgress JobStatus = "in_progress"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Job is one batched unit of LLM work covering one or more DailyAnalysis
// rows. The association is a weak many-to-many: deleting a Job never deletes
// analyses.
type Job struct {
	ID            string
	UploadID      string
	Status        JobStatus
	TokenEstimate int
	Result        JobResult
	CreatedAt     time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time
}

// JobResult is persisted as JSON on the job row.
type JobResult struct {
	Units     []JobUnitOutcome `json:"units,omitempty"`
	Error     string           `json:"error,omitempty"`
	Traceback string           `json:"traceback,omitempty"`
}

// JobUnitOutcome records the per-unit disposition, positionally aligned with
// the job's analysis rows.
type JobUnitOutcome struct {
	DailyAnalysisID string `json:"daily_analysis_id"`
	Fallback        bool   `json:"fallback,omitempty"`
	Error           string `json:"error,omitempty"`
}

// ProcessedChat marks a chat id as fully analyzed; uploads skip such chats
// unless force-reprocess is requested.
type ProcessedChat struct {
	ChatID       string
	ProcessedAt  time.Time
	MessageCount int
}

// Metric is one row of the aggregate cache, rewritten wholesale after every
// successful upload. Non-numeric facts ride in Metadata with a zero Value.
type Metric struct {
	ID           string
	Name         string
	Value        float64
	Metadata     map[string]any
	CalculatedAt time.Time
}

// Repositories (ports)

// ConversationStore persists the Conversation aggregate (conversation rows
// plus their append-only messages) and seeds DailyAnalysis rows. Ingest of
// one upload's raw data runs in a single transaction.
type ConversationStore interface {
	IngestChats(ctx Context, chats []GroupedChat) ([]AnalysisUnit, error)
	GetByChatID(ctx Context, chatID string) (Conversation, error)
	MessagesByConversation(ctx Context, conversationID string) ([]Message, error)
	List(ctx Context, q ConversationQuery) ([]ConversationSummary, int, error)
}

// AnalysisStore reads DailyAnalysis rows for the read side and for offline
// recalculation. Score writes go through JobStore so each job's result update
// is its own transaction.
type AnalysisStore interface {
	ListByConversation(ctx Context, conversationID string) ([]DailyAnalysis, error)
	ListScored(ctx Context, since time.Time) ([]DailyAnalysis, error)
	UpdateDerived(ctx Context, id string, d DerivedScores) error
	Aggregates(ctx Context) (AggregateSnapshot, error)
	DailyTrend(ctx Context, days int) ([]TrendPoint, error)
}

// JobStore owns the job lifecycle. CompleteJob applies the job's score
// updates and its terminal row in one transaction.
type JobStore interface {
	Create(ctx Context, uploadID string, analysisIDs []string, tokenEstimate int) (Job, error)
	MarkInProgress(ctx Context, id string) error
	CompleteJob(ctx Context, id string, status JobStatus, updates []ScoreUpdate, result JobResult) error
	Get(ctx Context, id string) (Job, error)
	ListByUpload(ctx Context, uploadID string) ([]Job, error)
	FailStale(ctx Context, cutoff time.Time) (int, error)
}

// ProcessedChatStore tracks chats already analyzed end to end.
type ProcessedChatStore interface {
	IsProcessed(ctx Context, chatID string) (bool, error)
	MarkProcessed(ctx Context, chats []ProcessedChat) error
}

// MetricStore is the aggregate cache.
type MetricStore interface {
	Replace(ctx Context, metrics []Metric) error
	List(ctx Context) ([]Metric, error)
}

// Analyzer (port) scores a batch of conversation-days with one LLM call.
// Results map positionally to units; usage is nil when the provider does not
// report token counts.
type Analyzer interface {
	AnalyzeDailyBatch(ctx Context, units []AnalysisUnit) ([]AnalysisRecord, *TokenUsage, error)
	Name() string
}

// CompletionPublisher (port) emits a record per terminal upload. Implementations
// must never block the pipeline; a no-op implementation is valid.
type CompletionPublisher interface {
	PublishUploadCompleted(ctx Context, c UploadCompletion) error
}

// UploadCompletion is the event payload for a terminal upload.
type UploadCompletion struct {
	UploadID               string    `json:"upload_id"`
	Status                 string    `json:"status"`
	ConversationsProcessed int       `json:"conversations_processed"`
	AnalysesScored         int       `json:"analyses_scored"`
	JobsCompleted          int       `json:"jobs_completed"`
	JobsFailed             int       `json:"jobs_failed"`
	Duration               float64   `json:"duration_seconds"`
	FinishedAt             time.Time `json:"finished_at"`
}

// ConversationQuery filters the conversation list endpoint.
type ConversationQuery struct {
	Search string
	Limit  int
	Offset int
}

// ConversationSummary is the list-side projection: the conversation plus the
// mean CSI over its analyzed days.
type ConversationSummary struct {
	Conversation
	AnalyzedDays int
	AvgCSI       *float64
}

// Context is an alias to allow decoupling from std context in domain.
// Adapters and usecases pass context.Context through.
type Context = context.Context
