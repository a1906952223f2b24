package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/powerpulse/powerpulse/internal/domain"
)

// terminalWriteTimeout bounds the detached writes that record a job's fate
// after its upload context is gone.
const terminalWriteTimeout = 15 * time.Second

// JobRunner executes one analysis job end to end: the model call, local time
// metrics, pillar scores, and the terminal write. A failing job resolves its
// own units with fallback values and never stops peers.
type JobRunner struct {
	Jobs     domain.JobStore
	Analyzer domain.Analyzer
	Progress domain.ProgressReporter
	Calc     Calculator
}

// NewJobRunner constructs a JobRunner with its collaborators.
func NewJobRunner(j domain.JobStore, a domain.Analyzer, p domain.ProgressReporter, c Calculator) JobRunner {
	return JobRunner{Jobs: j, Analyzer: a, Progress: p, Calc: c}
}

// Process drives one job under the upload's context. Cancellation observed
// at any suspension point marks the job failed/cancelled without touching
// its analysis rows; any other failure resolves the units with fallback
// values so the upload can still complete.
func (r JobRunner) Process(ctx domain.Context, uploadID, jobID string, units []domain.AnalysisUnit) error {
	if err := ctx.Err(); err != nil {
		return r.abort(uploadID, jobID, err)
	}
	if err := r.Jobs.MarkInProgress(ctx, jobID); err != nil {
		if ctx.Err() != nil {
			return r.abort(uploadID, jobID, ctx.Err())
		}
		r.Progress.RecordError(uploadID, fmt.Sprintf("job %s: %v", jobID, err))
		r.Progress.JobDone(uploadID, true)
		return fmt.Errorf("op=usecase.ProcessJob mark in progress: %w", err)
	}

	records, usage, callErr := r.Analyzer.AnalyzeDailyBatch(ctx, units)
	if callErr != nil && ctx.Err() != nil {
		return r.abort(uploadID, jobID, callErr)
	}
	if callErr != nil {
		// Retries are exhausted; the fallback is the resolution.
		records = make([]domain.AnalysisRecord, len(units))
		for i := range records {
			records[i] = domain.FallbackAnalysisRecord()
		}
	}
	tokens := 0
	if usage != nil {
		tokens = usage.TotalTokens
	}

	failed := callErr != nil
	updates := make([]domain.ScoreUpdate, 0, len(units))
	outcomes := make([]domain.JobUnitOutcome, 0, len(units))
	for i, u := range units {
		rec := records[i]
		if rec.Error != "" {
			failed = true
		}
		tm := ComputeTimeMetrics(u.Messages)
		d := r.Calc.Derive(rec, tm)
		updates = append(updates, domain.ScoreUpdate{
			ID:                 u.DailyAnalysisID,
			SentimentScore:     rec.SentimentScore,
			SentimentShift:     rec.SentimentShift,
			ResolutionAchieved: rec.ResolutionAchieved,
			FCRScore:           rec.FCRScore,
			CES:                rec.CES,
			FirstResponseTime:  tm.FirstResponseSec,
			AvgResponseTime:    tm.AvgResponseSec,
			TotalHandlingTime:  tm.HandlingMin,
			EffectivenessScore: d.EffectivenessScore,
			EffortScore:        d.EffortScore,
			EfficiencyScore:    d.EfficiencyScore,
			EmpathyScore:       d.EmpathyScore,
			CSIScore:           d.CSIScore,
			AnalysisError:      rec.Error,
		})
		outcomes = append(outcomes, domain.JobUnitOutcome{
			DailyAnalysisID: u.DailyAnalysisID,
			Fallback:        rec.Error != "",
			Error:           rec.Error,
		})
	}
	r.Progress.AddAICall(uploadID, failed, tokens)

	status := domain.JobCompleted
	result := domain.JobResult{Units: outcomes}
	if failed {
		status = domain.JobFailed
		result.Error = domain.AnalysisFailedMarker
		if callErr != nil {
			result.Traceback = callErr.Error()
		}
	}
	if err := r.complete(ctx, jobID, status, updates, result); err != nil {
		if ctx.Err() != nil {
			return r.abort(uploadID, jobID, err)
		}
		r.Progress.RecordError(uploadID, fmt.Sprintf("job %s: persisting result: %v", jobID, err))
		r.Progress.JobDone(uploadID, true)
		return fmt.Errorf("op=usecase.ProcessJob complete: %w", err)
	}

	r.Progress.ChatsProcessed(uploadID, chatIDs(units)...)
	r.Progress.JobDone(uploadID, failed)
	slog.Info("job finished",
		slog.String("upload_id", uploadID),
		slog.String("job_id", jobID),
		slog.String("status", string(status)),
		slog.Int("units", len(units)),
		slog.Int("tokens", tokens))
	return nil
}

// complete writes the job's terminal row and score updates, retrying once on
// a write failure. The retry runs detached from cancellation so a result
// computed before a late cancel still lands.
func (r JobRunner) complete(ctx domain.Context, jobID string, status domain.JobStatus, updates []domain.ScoreUpdate, result domain.JobResult) error {
	err := r.Jobs.CompleteJob(ctx, jobID, status, updates, result)
	if err == nil {
		return nil
	}
	slog.Warn("job result write failed, retrying once", slog.String("job_id", jobID), slog.Any("error", err))
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), terminalWriteTimeout)
	defer cancel()
	return r.Jobs.CompleteJob(dctx, jobID, status, updates, result)
}

// abort records a job's cancelled fate without touching its analysis rows;
// peer results already persisted remain.
func (r JobRunner) abort(uploadID, jobID string, cause error) error {
	dctx, cancel := context.WithTimeout(context.Background(), terminalWriteTimeout)
	defer cancel()
	result := domain.JobResult{Error: domain.CancelledMarker}
	if cause != nil {
		result.Traceback = cause.Error()
	}
	if err := r.Jobs.CompleteJob(dctx, jobID, domain.JobFailed, nil, result); err != nil {
		slog.Error("recording cancelled job failed", slog.String("job_id", jobID), slog.Any("error", err))
	}
	r.Progress.JobDone(uploadID, true)
	return fmt.Errorf("op=usecase.ProcessJob: %w", domain.ErrCancelled)
}

func chatIDs(units []domain.AnalysisUnit) []string {
	seen := make(map[string]struct{}, len(units))
	ids := make([]string, 0, len(units))
	for _, u := range units {
		if _, ok := seen[u.ChatID]; ok {
			continue
		}
		seen[u.ChatID] = struct{}{}
		ids = append(ids, u.ChatID)
	}
	return ids
}
