package app

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/powerpulse/powerpulse/internal/domain"
)

// StuckJobSweeper fails jobs stuck in progress past a maximum age. A job
// strands when its process dies between MarkInProgress and the terminal
// write; without the sweeper such rows stay in_progress forever.
type StuckJobSweeper struct {
	jobs       domain.JobStore
	staleAfter time.Duration
	interval   time.Duration
}

// NewStuckJobSweeper builds a sweeper over the job store. Non-positive
// durations fall back to 45m/5m. Returns nil when jobs is nil.
func NewStuckJobSweeper(jobs domain.JobStore, staleAfter, interval time.Duration) *StuckJobSweeper {
	if jobs == nil {
		return nil
	}
	if staleAfter <= 0 {
		staleAfter = 45 * time.Minute
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &StuckJobSweeper{jobs: jobs, staleAfter: staleAfter, interval: interval}
}

// Run sweeps once immediately and then on every tick until ctx ends. Safe to
// call on a nil sweeper.
func (s *StuckJobSweeper) Run(ctx context.Context) {
	if s == nil || s.jobs == nil {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweepOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			slog.Info("stuck job sweeper stopping")
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *StuckJobSweeper) sweepOnce(ctx context.Context) {
	tracer := otel.Tracer("jobs.sweeper")
	ctx, span := tracer.Start(ctx, "StuckJobSweeper.sweepOnce")
	defer span.End()

	cutoff := time.Now().UTC().Add(-s.staleAfter)
	span.SetAttributes(attribute.Float64("jobs.stale_after_seconds", s.staleAfter.Seconds()))

	n, err := s.jobs.FailStale(ctx, cutoff)
	if err != nil {
		span.RecordError(err)
		slog.Error("stuck job sweep failed", slog.Any("error", err))
		return
	}
	span.SetAttributes(attribute.Int("jobs.marked_failed", n))
	if n > 0 {
		slog.Warn("failed stale jobs",
			slog.Int("count", n),
			slog.Duration("stale_after", s.staleAfter))
	}
}

// progressSweeps is the tracker surface the progress sweeper needs.
type progressSweeps interface {
	Sweep(maxAge time.Duration) int
}

// ProgressSweeper drops terminal upload progress entries after the retention
// window so the in-memory tracker cannot grow without bound.
type ProgressSweeper struct {
	tracker   progressSweeps
	retention time.Duration
	interval  time.Duration
}

// NewProgressSweeper builds a sweeper over the progress tracker. Non-positive
// durations fall back to 24h/1h. Returns nil when tracker is nil.
func NewProgressSweeper(tracker progressSweeps, retention, interval time.Duration) *ProgressSweeper {
	if tracker == nil {
		return nil
	}
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &ProgressSweeper{tracker: tracker, retention: retention, interval: interval}
}

// Run sweeps on every tick until ctx ends. Safe to call on a nil sweeper.
func (s *ProgressSweeper) Run(ctx context.Context) {
	if s == nil || s.tracker == nil {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("progress sweeper stopping")
			return
		case <-ticker.C:
			if n := s.tracker.Sweep(s.retention); n > 0 {
				slog.Debug("progress entries swept", slog.Int("removed", n))
			}
		}
	}
}
