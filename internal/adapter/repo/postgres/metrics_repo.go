package postgres

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/powerpulse/powerpulse/internal/domain"
)

// MetricRepo is the aggregate cache, rewritten wholesale after every
// successful upload and on demand via the recalculate endpoint.
type MetricRepo struct{ Pool PgxPool }

// NewMetricRepo constructs a MetricRepo with the given pool.
func NewMetricRepo(p PgxPool) *MetricRepo { return &MetricRepo{Pool: p} }

// Replace swaps the whole cache for the given rows in one transaction.
func (r *MetricRepo) Replace(ctx domain.Context, metrics []domain.Metric) error {
	tracer := otel.Tracer("repo.metrics")
	ctx, span := tracer.Start(ctx, "metrics.Replace")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "metrics"),
		attribute.Int("rows", len(metrics)),
	)
	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("op=metric.replace_begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if _, err := tx.Exec(ctx, `DELETE FROM metrics`); err != nil {
		return fmt.Errorf("op=metric.replace_clear: %w", err)
	}
	q := `INSERT INTO metrics (id, metric_name, metric_value, metric_metadata, calculated_at) VALUES ($1,$2,$3,$4,$5)`
	for _, m := range metrics {
		id := m.ID
		if id == "" {
			id = uuid.New().String()
		}
		var meta []byte
		if m.Metadata != nil {
			meta, err = json.Marshal(m.Metadata)
			if err != nil {
				return fmt.Errorf("op=metric.replace_marshal name=%s: %w", m.Name, err)
			}
		}
		if _, err := tx.Exec(ctx, q, id, m.Name, m.Value, meta, m.CalculatedAt); err != nil {
			return fmt.Errorf("op=metric.replace name=%s: %w", m.Name, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=metric.replace_commit: %w", err)
	}
	return nil
}

// List returns the cache contents ordered by metric name.
func (r *MetricRepo) List(ctx domain.Context) ([]domain.Metric, error) {
	tracer := otel.Tracer("repo.metrics")
	ctx, span := tracer.Start(ctx, "metrics.List")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "metrics"),
	)
	q := `SELECT id, metric_name, metric_value, metric_metadata, calculated_at FROM metrics ORDER BY metric_name ASC`
	rows, err := r.Pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("op=metric.list: %w", err)
	}
	defer rows.Close()
	var out []domain.Metric
	for rows.Next() {
		var m domain.Metric
		var meta []byte
		if err := rows.Scan(&m.ID, &m.Name, &m.Value, &meta, &m.CalculatedAt); err != nil {
			return nil, fmt.Errorf("op=metric.list_scan: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &m.Metadata); err != nil {
				return nil, fmt.Errorf("op=metric.list_meta name=%s: %w", m.Name, err)
			}
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=metric.list_rows: %w", err)
	}
	return out, nil
}
