// Package usecase contains the application services behind the transport
// layer: the upload pipeline, per-job analysis, and the read-side reports.
package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/powerpulse/powerpulse/internal/domain"
)

// UploadConfig are the orchestrator knobs, bound from configuration.
type UploadConfig struct {
	MaxFileSize     int64
	MaxTokensPerJob int
	BatchSize       int
	UploadTimeout   time.Duration
}

// UploadService owns the upload lifecycle: synchronous acceptance, the
// background pipeline, and per-upload cancellation.
type UploadService struct {
	Conversations domain.ConversationStore
	Jobs          domain.JobStore
	Processed     domain.ProcessedChatStore
	Runner        JobRunner
	Metrics       MetricsService
	Progress      domain.ProgressReporter
	Scheduler     domain.Scheduler
	Publisher     domain.CompletionPublisher
	Filter        MessageFilter
	Cfg           UploadConfig

	mu     sync.Mutex
	active map[string]context.CancelCauseFunc
}

// NewUploadService constructs an UploadService with its collaborators.
// Publisher may be nil when no event sink is configured.
func NewUploadService(
	conversations domain.ConversationStore,
	jobs domain.JobStore,
	processed domain.ProcessedChatStore,
	runner JobRunner,
	metrics MetricsService,
	progress domain.ProgressReporter,
	scheduler domain.Scheduler,
	publisher domain.CompletionPublisher,
	filter MessageFilter,
	cfg UploadConfig,
) *UploadService {
	return &UploadService{
		Conversations: conversations,
		Jobs:          jobs,
		Processed:     processed,
		Runner:        runner,
		Metrics:       metrics,
		Progress:      progress,
		Scheduler:     scheduler,
		Publisher:     publisher,
		Filter:        filter,
		Cfg:           cfg,
		active:        map[string]context.CancelCauseFunc{},
	}
}

// Accept validates the payload synchronously, registers the upload and
// launches the background pipeline. Size and shape violations fail here
// with no upload registered; everything after the returned id is async.
func (s *UploadService) Accept(_ domain.Context, payload []byte, forceReprocess bool) (string, error) {
	if s.Cfg.MaxFileSize > 0 && int64(len(payload)) > s.Cfg.MaxFileSize {
		return "", fmt.Errorf("%w: file exceeds %d bytes", domain.ErrTooLarge, s.Cfg.MaxFileSize)
	}
	transcript, err := ParseTranscript(bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	uploadID := uuid.NewString()
	s.Progress.Begin(uploadID, len(transcript.Chats))
	go s.run(uploadID, transcript, forceReprocess)
	return uploadID, nil
}

// Cancel aborts a running upload. It reports false when the id is unknown
// or the upload already finished.
func (s *UploadService) Cancel(uploadID string) bool {
	s.mu.Lock()
	cancel, ok := s.active[uploadID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	cancel(domain.ErrCancelled)
	return true
}

// ActiveUploads returns the ids currently registered for cancellation.
func (s *UploadService) ActiveUploads() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.active))
	for id := range s.active {
		ids = append(ids, id)
	}
	return ids
}

func (s *UploadService) register(uploadID string, cancel context.CancelCauseFunc) {
	s.mu.Lock()
	s.active[uploadID] = cancel
	s.mu.Unlock()
}

func (s *UploadService) unregister(uploadID string) {
	s.mu.Lock()
	delete(s.active, uploadID)
	s.mu.Unlock()
}

// run executes the background pipeline under the upload timeout and records
// the terminal status whatever happens.
func (s *UploadService) run(uploadID string, t Transcript, force bool) {
	start := time.Now().UTC()
	base, cancelCause := context.WithCancelCause(context.Background())
	defer cancelCause(nil)
	ctx, cancelTimeout := context.WithTimeout(base, s.Cfg.UploadTimeout)
	defer cancelTimeout()
	s.register(uploadID, cancelCause)
	defer s.unregister(uploadID)

	status, conversations := s.pipeline(ctx, uploadID, t, force)
	s.Progress.Finish(uploadID, status)
	s.publish(uploadID, status, conversations, start)
	slog.Info("upload finished",
		slog.String("upload_id", uploadID),
		slog.String("status", string(status)),
		slog.Int("conversations", conversations),
		slog.Duration("took", time.Since(start)))
}

func (s *UploadService) pipeline(ctx domain.Context, uploadID string, t Transcript, force bool) (domain.ProcessingStatus, int) {
	s.Progress.SetStage(uploadID, domain.StageFilteringConversations, "Filtering already processed chats...")
	pending := make([]TranscriptChat, 0, len(t.Chats))
	skipped := 0
	for _, chat := range t.Chats {
		if ctx.Err() != nil {
			return s.statusFor(ctx), 0
		}
		if !force {
			done, err := s.Processed.IsProcessed(ctx, chat.ChatID)
			if err != nil {
				s.Progress.RecordError(uploadID, fmt.Sprintf("chat %s: processed lookup: %v", chat.ChatID, err))
			} else if done {
				slog.Info("skipping already processed chat", slog.String("upload_id", uploadID), slog.String("chat_id", chat.ChatID))
				skipped++
				continue
			}
		}
		pending = append(pending, chat)
	}
	if skipped > 0 {
		s.Progress.AddSkipped(uploadID, skipped)
	}

	s.Progress.SetStage(uploadID, domain.StageValidating, "Validating messages...")
	var totals FilterStats
	groups := make([]domain.GroupedChat, 0, len(pending))
	for _, chat := range pending {
		msgs, stats := s.Filter.Validate(chat.ChatID, chat.Raw)
		totals.Add(stats)
		if g, ok := GroupMessages(chat.ChatID, msgs); ok {
			groups = append(groups, g)
		}
	}
	s.Progress.AddFiltered(uploadID, totals.Autoresponses, totals.Invalid)

	if len(groups) == 0 {
		s.refreshMetrics(ctx, uploadID)
		return domain.StatusCompletedWithFilters, 0
	}

	s.Progress.SetStage(uploadID, domain.StagePersisting, "Persisting conversations...")
	units, err := s.Conversations.IngestChats(ctx, groups)
	if err != nil {
		if ctx.Err() != nil {
			return s.statusFor(ctx), 0
		}
		s.Progress.RecordError(uploadID, fmt.Sprintf("persisting upload: %v", err))
		return domain.StatusFailed, 0
	}
	for i := range units {
		units[i].TokenEstimate = EstimateUnitTokens(units[i].Messages)
	}

	s.Progress.SetStage(uploadID, domain.StageBatching, "Creating analysis jobs...")
	type dispatched struct {
		jobID string
		units []domain.AnalysisUnit
	}
	batches := BuildBatches(units, s.Cfg.MaxTokensPerJob, s.Cfg.BatchSize)
	jobs := make([]dispatched, 0, len(batches))
	for _, batch := range batches {
		ids := make([]string, len(batch))
		for i, u := range batch {
			ids[i] = u.DailyAnalysisID
		}
		job, err := s.Jobs.Create(ctx, uploadID, ids, BatchTokens(batch))
		if err != nil {
			if ctx.Err() != nil {
				return s.statusFor(ctx), len(groups)
			}
			s.Progress.RecordError(uploadID, fmt.Sprintf("creating job: %v", err))
			return domain.StatusFailed, len(groups)
		}
		jobs = append(jobs, dispatched{jobID: job.ID, units: batch})
	}
	s.Progress.SetJobTotals(uploadID, len(jobs))

	s.Progress.SetStage(uploadID, domain.StageAIAnalysis, fmt.Sprintf("Processing %d analysis jobs...", len(jobs)))
	waits := make([]<-chan error, 0, len(jobs))
	for _, d := range jobs {
		run := d
		waits = append(waits, s.Scheduler.Submit(ctx, func(c domain.Context) error {
			return s.Runner.Process(c, uploadID, run.jobID, run.units)
		}))
	}
	scoredJobs := 0
	for _, w := range waits {
		if err := <-w; err == nil {
			scoredJobs++
		}
	}

	s.Progress.SetStage(uploadID, domain.StageFinalizing, "Finalizing upload...")
	if ctx.Err() != nil {
		return s.statusFor(ctx), len(groups)
	}

	now := time.Now().UTC()
	marks := make([]domain.ProcessedChat, len(groups))
	for i, g := range groups {
		marks[i] = domain.ProcessedChat{ChatID: g.ChatID, ProcessedAt: now, MessageCount: g.TotalMessages}
	}
	if err := s.Processed.MarkProcessed(ctx, marks); err != nil {
		s.Progress.RecordError(uploadID, fmt.Sprintf("marking chats processed: %v", err))
	}
	s.refreshMetrics(ctx, uploadID)

	if scoredJobs == 0 {
		return domain.StatusCompletedWithFilters, len(groups)
	}
	return domain.StatusCompleted, len(groups)
}

func (s *UploadService) refreshMetrics(ctx domain.Context, uploadID string) {
	if _, err := s.Metrics.Recalculate(ctx); err != nil {
		s.Progress.RecordError(uploadID, fmt.Sprintf("refreshing metrics: %v", err))
	}
}

func (s *UploadService) statusFor(ctx domain.Context) domain.ProcessingStatus {
	if errors.Is(context.Cause(ctx), domain.ErrCancelled) {
		return domain.StatusCancelled
	}
	return domain.StatusFailed
}

// publish emits the completion event best-effort, detached from the upload
// context so a timed-out upload still reports its fate.
func (s *UploadService) publish(uploadID string, status domain.ProcessingStatus, conversations int, start time.Time) {
	if s.Publisher == nil {
		return
	}
	dctx, cancel := context.WithTimeout(context.Background(), terminalWriteTimeout)
	defer cancel()
	var done, failed, scored int
	if jobs, err := s.Jobs.ListByUpload(dctx, uploadID); err == nil {
		for _, j := range jobs {
			switch j.Status {
			case domain.JobCompleted:
				done++
			case domain.JobFailed:
				failed++
			}
			scored += len(j.Result.Units)
		}
	} else {
		slog.Warn("listing jobs for completion event failed", slog.String("upload_id", uploadID), slog.Any("error", err))
	}
	finished := time.Now().UTC()
	ev := domain.UploadCompletion{
		UploadID:               uploadID,
		Status:                 string(status),
		ConversationsProcessed: conversations,
		AnalysesScored:         scored,
		JobsCompleted:          done,
		JobsFailed:             failed,
		Duration:               finished.Sub(start).Seconds(),
		FinishedAt:             finished,
	}
	if err := s.Publisher.PublishUploadCompleted(dctx, ev); err != nil {
		slog.Warn("publishing completion event failed", slog.String("upload_id", uploadID), slog.Any("error", err))
	}
}
