package postgres

import (
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/powerpulse/powerpulse/internal/domain"
)

// AnalysisRepo reads daily analysis rows for the API and for offline
// recalculation. Score writes from jobs go through JobRepo.CompleteJob so the
// terminal job row and its score updates commit together.
type AnalysisRepo struct{ Pool PgxPool }

// NewAnalysisRepo constructs an AnalysisRepo with the given pool.
func NewAnalysisRepo(p PgxPool) *AnalysisRepo { return &AnalysisRepo{Pool: p} }

const dailyAnalysisColumns = `id, conversation_id, chat_id, analysis_date,
	sentiment_score, sentiment_shift, resolution_achieved, fcr_score, ces,
	first_response_time, avg_response_time, total_handling_time,
	effectiveness_score, effort_score, efficiency_score, empathy_score, csi_score,
	analysis_error, created_at, updated_at`

func scanDailyAnalysis(row pgx.Row) (domain.DailyAnalysis, error) {
	var d domain.DailyAnalysis
	err := row.Scan(&d.ID, &d.ConversationID, &d.ChatID, &d.AnalysisDate,
		&d.SentimentScore, &d.SentimentShift, &d.ResolutionAchieved, &d.FCRScore, &d.CES,
		&d.FirstResponseTime, &d.AvgResponseTime, &d.TotalHandlingTime,
		&d.EffectivenessScore, &d.EffortScore, &d.EfficiencyScore, &d.EmpathyScore, &d.CSIScore,
		&d.AnalysisError, &d.CreatedAt, &d.UpdatedAt)
	return d, err
}

// ListByConversation returns a conversation's daily rows, oldest day first.
func (r *AnalysisRepo) ListByConversation(ctx domain.Context, conversationID string) ([]domain.DailyAnalysis, error) {
	tracer := otel.Tracer("repo.analyses")
	ctx, span := tracer.Start(ctx, "analyses.ListByConversation")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "daily_analyses"),
	)
	q := `SELECT ` + dailyAnalysisColumns + ` FROM daily_analyses WHERE conversation_id=$1 ORDER BY analysis_date ASC`
	rows, err := r.Pool.Query(ctx, q, conversationID)
	if err != nil {
		return nil, fmt.Errorf("op=analysis.list_by_conversation: %w", err)
	}
	defer rows.Close()
	var out []domain.DailyAnalysis
	for rows.Next() {
		d, err := scanDailyAnalysis(rows)
		if err != nil {
			return nil, fmt.Errorf("op=analysis.list_by_conversation_scan: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=analysis.list_by_conversation_rows: %w", err)
	}
	return out, nil
}

// ListScored returns rows holding model output (fallback included) with an
// analysis date at or after since. A zero since returns every scored row.
func (r *AnalysisRepo) ListScored(ctx domain.Context, since time.Time) ([]domain.DailyAnalysis, error) {
	tracer := otel.Tracer("repo.analyses")
	ctx, span := tracer.Start(ctx, "analyses.ListScored")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "daily_analyses"),
	)
	q := `SELECT ` + dailyAnalysisColumns + ` FROM daily_analyses
	WHERE sentiment_score IS NOT NULL AND analysis_date >= $1
	ORDER BY analysis_date ASC, chat_id ASC`
	rows, err := r.Pool.Query(ctx, q, since)
	if err != nil {
		return nil, fmt.Errorf("op=analysis.list_scored: %w", err)
	}
	defer rows.Close()
	var out []domain.DailyAnalysis
	for rows.Next() {
		d, err := scanDailyAnalysis(rows)
		if err != nil {
			return nil, fmt.Errorf("op=analysis.list_scored_scan: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=analysis.list_scored_rows: %w", err)
	}
	return out, nil
}

// UpdateDerived rewrites only the pillar and CSI columns of one row, used by
// recalculation after a scoring threshold change.
func (r *AnalysisRepo) UpdateDerived(ctx domain.Context, id string, d domain.DerivedScores) error {
	tracer := otel.Tracer("repo.analyses")
	ctx, span := tracer.Start(ctx, "analyses.UpdateDerived")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "daily_analyses"),
	)
	q := `UPDATE daily_analyses SET
		effectiveness_score=$2, effort_score=$3, efficiency_score=$4, empathy_score=$5, csi_score=$6, updated_at=$7
	WHERE id=$1`
	tag, err := r.Pool.Exec(ctx, q, id, d.EffectivenessScore, d.EffortScore, d.EfficiencyScore, d.EmpathyScore, d.CSIScore, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=analysis.update_derived: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=analysis.update_derived id=%s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// Aggregates computes the system-wide snapshot feeding the metric cache.
// Averages are nil when no scored rows exist.
func (r *AnalysisRepo) Aggregates(ctx domain.Context) (domain.AggregateSnapshot, error) {
	tracer := otel.Tracer("repo.analyses")
	ctx, span := tracer.Start(ctx, "analyses.Aggregates")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "daily_analyses"),
	)
	q := `SELECT
		(SELECT COUNT(*) FROM conversations),
		(SELECT COUNT(DISTINCT conversation_id) FROM daily_analyses WHERE sentiment_score IS NOT NULL),
		(SELECT COUNT(*) FROM messages),
		(SELECT COUNT(*) FROM daily_analyses WHERE sentiment_score IS NOT NULL),
		(SELECT COUNT(*) FROM daily_analyses WHERE analysis_error <> ''),
		AVG(csi_score), AVG(effectiveness_score), AVG(effort_score), AVG(efficiency_score), AVG(empathy_score), AVG(sentiment_score),
		AVG(first_response_time), AVG(avg_response_time), AVG(total_handling_time)
	FROM daily_analyses`
	row := r.Pool.QueryRow(ctx, q)
	var snap domain.AggregateSnapshot
	if err := row.Scan(&snap.TotalConversations, &snap.AnalyzedConversations, &snap.TotalMessages,
		&snap.AnalyzedDays, &snap.FallbackDays,
		&snap.AvgCSI, &snap.AvgEffectiveness, &snap.AvgEffort, &snap.AvgEfficiency, &snap.AvgEmpathy, &snap.AvgSentiment,
		&snap.AvgFirstResponseSec, &snap.AvgResponseSec, &snap.AvgHandlingMin); err != nil {
		return domain.AggregateSnapshot{}, fmt.Errorf("op=analysis.aggregates: %w", err)
	}
	return snap, nil
}

// DailyTrend returns per-day averages over the trailing window, oldest first.
// Days without analyses are absent from the result.
func (r *AnalysisRepo) DailyTrend(ctx domain.Context, days int) ([]domain.TrendPoint, error) {
	tracer := otel.Tracer("repo.analyses")
	ctx, span := tracer.Start(ctx, "analyses.DailyTrend")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "daily_analyses"),
	)
	q := `SELECT analysis_date, COUNT(*), AVG(csi_score), AVG(sentiment_score)
	FROM daily_analyses
	WHERE analysis_date >= (CURRENT_DATE - $1::int)
	GROUP BY analysis_date
	ORDER BY analysis_date ASC`
	rows, err := r.Pool.Query(ctx, q, days)
	if err != nil {
		return nil, fmt.Errorf("op=analysis.trend: %w", err)
	}
	defer rows.Close()
	var out []domain.TrendPoint
	for rows.Next() {
		var p domain.TrendPoint
		if err := rows.Scan(&p.Date, &p.Days, &p.AvgCSI, &p.AvgSentiment); err != nil {
			return nil, fmt.Errorf("op=analysis.trend_scan: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=analysis.trend_rows: %w", err)
	}
	return out, nil
}
