package postgres

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/powerpulse/powerpulse/internal/domain"
)

// JobRepo persists and loads analysis jobs using a minimal pgx pool. The
// job_daily_analyses join table keeps the positional mapping between a job and
// its daily analysis rows.
type JobRepo struct{ Pool PgxPool }

// NewJobRepo constructs a JobRepo with the given pool.
func NewJobRepo(p PgxPool) *JobRepo { return &JobRepo{Pool: p} }

// Create inserts a pending job and its analysis associations in one
// transaction, preserving batch order via the position column.
func (r *JobRepo) Create(ctx domain.Context, uploadID string, analysisIDs []string, tokenEstimate int) (domain.Job, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Create")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "jobs"),
		attribute.Int("units", len(analysisIDs)),
	)

	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Job{}, fmt.Errorf("op=job.create_begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()
	job := domain.Job{
		ID:            uuid.New().String(),
		UploadID:      uploadID,
		Status:        domain.JobPending,
		TokenEstimate: tokenEstimate,
		CreatedAt:     now,
	}
	jobQ := `INSERT INTO jobs (id, upload_id, status, token_estimate, created_at) VALUES ($1,$2,$3,$4,$5)`
	if _, err := tx.Exec(ctx, jobQ, job.ID, job.UploadID, job.Status, job.TokenEstimate, now); err != nil {
		return domain.Job{}, fmt.Errorf("op=job.create: %w", err)
	}
	linkQ := `INSERT INTO job_daily_analyses (job_id, daily_analysis_id, position) VALUES ($1,$2,$3)`
	for i, id := range analysisIDs {
		if _, err := tx.Exec(ctx, linkQ, job.ID, id, i); err != nil {
			return domain.Job{}, fmt.Errorf("op=job.create_links: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Job{}, fmt.Errorf("op=job.create_commit: %w", err)
	}
	return job, nil
}

// MarkInProgress transitions a pending job to in_progress and stamps
// started_at. A job that is missing or no longer pending yields ErrConflict so
// the scheduler drops it instead of double-running.
func (r *JobRepo) MarkInProgress(ctx domain.Context, id string) error {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.MarkInProgress")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "jobs"),
	)
	q := `UPDATE jobs SET status=$2, started_at=$3 WHERE id=$1 AND status=$4`
	tag, err := r.Pool.Exec(ctx, q, id, domain.JobInProgress, time.Now().UTC(), domain.JobPending)
	if err != nil {
		return fmt.Errorf("op=job.mark_in_progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=job.mark_in_progress id=%s: %w", id, domain.ErrConflict)
	}
	return nil
}

// CompleteJob applies the job's score updates and its terminal row in one
// transaction: either the daily rows and the job flip together or neither does.
func (r *JobRepo) CompleteJob(ctx domain.Context, id string, status domain.JobStatus, updates []domain.ScoreUpdate, result domain.JobResult) error {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.CompleteJob")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "jobs"),
		attribute.String("job.status", string(status)),
		attribute.Int("updates", len(updates)),
	)

	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("op=job.complete_marshal: %w", err)
	}

	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("op=job.complete_begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()
	jobQ := `UPDATE jobs SET status=$2, result=$3, completed_at=$4 WHERE id=$1`
	tag, err := tx.Exec(ctx, jobQ, id, status, resultJSON, now)
	if err != nil {
		return fmt.Errorf("op=job.complete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=job.complete id=%s: %w", id, domain.ErrNotFound)
	}

	scoreQ := `UPDATE daily_analyses SET
		sentiment_score=$2, sentiment_shift=$3, resolution_achieved=$4, fcr_score=$5, ces=$6,
		first_response_time=$7, avg_response_time=$8, total_handling_time=$9,
		effectiveness_score=$10, effort_score=$11, efficiency_score=$12, empathy_score=$13, csi_score=$14,
		analysis_error=$15, updated_at=$16
	WHERE id=$1`
	for _, u := range updates {
		if _, err := tx.Exec(ctx, scoreQ, u.ID,
			u.SentimentScore, u.SentimentShift, u.ResolutionAchieved, u.FCRScore, u.CES,
			u.FirstResponseTime, u.AvgResponseTime, u.TotalHandlingTime,
			u.EffectivenessScore, u.EffortScore, u.EfficiencyScore, u.EmpathyScore, u.CSIScore,
			u.AnalysisError, now); err != nil {
			return fmt.Errorf("op=job.complete_scores analysis_id=%s: %w", u.ID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=job.complete_commit: %w", err)
	}
	return nil
}

// Get loads a job by id.
func (r *JobRepo) Get(ctx domain.Context, id string) (domain.Job, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Get")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "jobs"),
	)
	q := `SELECT id, upload_id, status, token_estimate, result, created_at, started_at, completed_at FROM jobs WHERE id=$1`
	row := r.Pool.QueryRow(ctx, q, id)
	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Job{}, fmt.Errorf("op=job.get id=%s: %w", id, domain.ErrNotFound)
		}
		return domain.Job{}, fmt.Errorf("op=job.get: %w", err)
	}
	return j, nil
}

// ListByUpload returns an upload's jobs in creation (dispatch) order.
func (r *JobRepo) ListByUpload(ctx domain.Context, uploadID string) ([]domain.Job, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.ListByUpload")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "jobs"),
	)
	q := `SELECT id, upload_id, status, token_estimate, result, created_at, started_at, completed_at
	FROM jobs WHERE upload_id=$1 ORDER BY created_at ASC, id ASC`
	rows, err := r.Pool.Query(ctx, q, uploadID)
	if err != nil {
		return nil, fmt.Errorf("op=job.list_by_upload: %w", err)
	}
	defer rows.Close()
	var out []domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("op=job.list_by_upload_scan: %w", err)
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=job.list_by_upload_rows: %w", err)
	}
	return out, nil
}

// FailStale marks jobs stuck in_progress since before the cutoff as failed and
// returns how many were flipped. Their daily rows keep whatever state the job
// left behind.
func (r *JobRepo) FailStale(ctx domain.Context, cutoff time.Time) (int, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.FailStale")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "jobs"),
	)
	q := `UPDATE jobs SET status=$1, completed_at=$2,
		result = COALESCE(result, '{}'::jsonb) || jsonb_build_object('error', 'stale: in_progress past deadline')
	WHERE status=$3 AND started_at < $4`
	tag, err := r.Pool.Exec(ctx, q, domain.JobFailed, time.Now().UTC(), domain.JobInProgress, cutoff)
	if err != nil {
		return 0, fmt.Errorf("op=job.fail_stale: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func scanJob(row pgx.Row) (domain.Job, error) {
	var j domain.Job
	var resultJSON []byte
	if err := row.Scan(&j.ID, &j.UploadID, &j.Status, &j.TokenEstimate, &resultJSON,
		&j.CreatedAt, &j.StartedAt, &j.CompletedAt); err != nil {
		return domain.Job{}, err
	}
	if len(resultJSON) > 0 {
		if err := json.Unmarshal(resultJSON, &j.Result); err != nil {
			return domain.Job{}, fmt.Errorf("result json: %w", err)
		}
	}
	return j, nil
}
