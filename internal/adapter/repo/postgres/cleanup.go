package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
)

// Tx is the minimal transaction surface CleanupService needs.
type Tx interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Beginner starts transactions for CleanupService without tying it to a
// concrete pool type.
type Beginner interface {
	Begin(ctx context.Context) (Tx, error)
}

// CleanupService prunes operational records past the retention window. The
// analytical record (conversations, messages, daily analyses) is kept; only
// terminal jobs and stale processed-chat marks age out.
type CleanupService struct {
	DB            Beginner
	RetentionDays int
}

// NewCleanupService creates a cleanup service with the given retention.
func NewCleanupService(db Beginner, retentionDays int) *CleanupService {
	if retentionDays <= 0 {
		retentionDays = 90
	}
	return &CleanupService{DB: db, RetentionDays: retentionDays}
}

// CleanupOldData removes operational rows older than the retention period.
// Job deletions cascade to job_daily_analyses; expired processed-chat marks
// mean a future upload of that chat is scored again.
func (s *CleanupService) CleanupOldData(ctx context.Context) error {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.RetentionDays)

	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return fmt.Errorf("op=cleanup.begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var deletedJobs int64
	err = tx.QueryRow(ctx, `
		WITH del AS (
			DELETE FROM jobs
			WHERE status IN ('completed','failed') AND created_at < $1
			RETURNING 1
		)
		SELECT COUNT(*) FROM del
	`, cutoff).Scan(&deletedJobs)
	if err != nil {
		return fmt.Errorf("op=cleanup.jobs: %w", err)
	}

	var deletedMarks int64
	err = tx.QueryRow(ctx, `
		WITH del AS (
			DELETE FROM processed_chats
			WHERE processed_at < $1
			RETURNING 1
		)
		SELECT COUNT(*) FROM del
	`, cutoff).Scan(&deletedMarks)
	if err != nil {
		return fmt.Errorf("op=cleanup.processed_chats: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=cleanup.commit: %w", err)
	}

	slog.Info("data cleanup completed",
		slog.Int64("deleted_jobs", deletedJobs),
		slog.Int64("deleted_processed_marks", deletedMarks),
		slog.Time("cutoff", cutoff),
	)
	return nil
}

// RunPeriodic starts a periodic cleanup loop until the context is cancelled.
func (s *CleanupService) RunPeriodic(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := s.CleanupOldData(ctx); err != nil {
		slog.Error("initial cleanup failed", slog.Any("error", err))
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("cleanup service stopping")
			return
		case <-ticker.C:
			if err := s.CleanupOldData(ctx); err != nil {
				slog.Error("periodic cleanup failed", slog.Any("error", err))
			}
		}
	}
}
