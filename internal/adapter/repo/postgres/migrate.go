package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// migrationLockKey serializes concurrent instances running Migrate against
// the same database.
const migrationLockKey = int64(77_977_001)

// migration is one additive schema step. Versions are applied in slice order
// and recorded in schema_migrations; never renumber or edit an applied step.
type migration struct {
	version int
	name    string
	stmts   []string
}

var migrations = []migration{
	{
		version: 1,
		name:    "base schema",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS conversations (
				id uuid PRIMARY KEY,
				chat_id text NOT NULL UNIQUE,
				customer_name text,
				total_messages int NOT NULL DEFAULT 0,
				customer_messages int NOT NULL DEFAULT 0,
				agent_messages int NOT NULL DEFAULT 0,
				first_message_time timestamptz NOT NULL,
				last_message_time timestamptz NOT NULL,
				common_topics text[] NOT NULL DEFAULT '{}',
				created_at timestamptz NOT NULL DEFAULT now(),
				updated_at timestamptz NOT NULL DEFAULT now()
			)`,
			`CREATE TABLE IF NOT EXISTS messages (
				id uuid PRIMARY KEY,
				conversation_id uuid NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
				chat_id text NOT NULL,
				message_content text NOT NULL DEFAULT '',
				direction text NOT NULL CHECK (direction IN ('to_company','to_client')),
				social_create_time timestamptz NOT NULL,
				agent_username text,
				agent_email text,
				seq bigserial,
				created_at timestamptz NOT NULL DEFAULT now()
			)`,
			`CREATE INDEX IF NOT EXISTS idx_messages_conversation_time ON messages (conversation_id, social_create_time, seq)`,
			`CREATE TABLE IF NOT EXISTS daily_analyses (
				id uuid PRIMARY KEY,
				conversation_id uuid NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
				chat_id text NOT NULL,
				analysis_date date NOT NULL,
				sentiment_score float8,
				sentiment_shift float8,
				resolution_achieved float8,
				fcr_score float8,
				ces float8,
				first_response_time float8,
				avg_response_time float8,
				total_handling_time float8,
				effectiveness_score float8,
				effort_score float8,
				efficiency_score float8,
				empathy_score float8,
				csi_score float8,
				analysis_error text NOT NULL DEFAULT '',
				created_at timestamptz NOT NULL DEFAULT now(),
				updated_at timestamptz NOT NULL DEFAULT now(),
				UNIQUE (conversation_id, analysis_date)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_daily_analyses_date ON daily_analyses (analysis_date)`,
			`CREATE INDEX IF NOT EXISTS idx_daily_analyses_chat ON daily_analyses (chat_id)`,
			`CREATE TABLE IF NOT EXISTS jobs (
				id uuid PRIMARY KEY,
				upload_id text NOT NULL,
				status text NOT NULL CHECK (status IN ('pending','in_progress','completed','failed')),
				token_estimate int NOT NULL DEFAULT 0,
				result jsonb,
				created_at timestamptz NOT NULL DEFAULT now(),
				started_at timestamptz,
				completed_at timestamptz
			)`,
			`CREATE INDEX IF NOT EXISTS idx_jobs_upload ON jobs (upload_id, created_at)`,
			`CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs (status)`,
			`CREATE TABLE IF NOT EXISTS job_daily_analyses (
				job_id uuid NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
				daily_analysis_id uuid NOT NULL REFERENCES daily_analyses(id) ON DELETE CASCADE,
				position int NOT NULL,
				PRIMARY KEY (job_id, daily_analysis_id)
			)`,
			`CREATE TABLE IF NOT EXISTS processed_chats (
				chat_id text PRIMARY KEY,
				processed_at timestamptz NOT NULL,
				message_count int NOT NULL DEFAULT 0
			)`,
			`CREATE TABLE IF NOT EXISTS metrics (
				id uuid PRIMARY KEY,
				metric_name text NOT NULL UNIQUE,
				metric_value float8 NOT NULL DEFAULT 0,
				metric_metadata jsonb,
				calculated_at timestamptz NOT NULL
			)`,
		},
	},
}

// Migrate applies pending schema migrations under a session advisory lock so
// concurrent instances do not race each other at startup.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("op=postgres.Migrate acquire: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, migrationLockKey); err != nil {
		return fmt.Errorf("op=postgres.Migrate lock: %w", err)
	}
	defer func() {
		_, _ = conn.Exec(ctx, `SELECT pg_advisory_unlock($1)`, migrationLockKey)
	}()

	if _, err := conn.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version int PRIMARY KEY,
		name text NOT NULL,
		applied_at timestamptz NOT NULL DEFAULT now()
	)`); err != nil {
		return fmt.Errorf("op=postgres.Migrate bootstrap: %w", err)
	}

	for _, m := range migrations {
		var applied bool
		if err := conn.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version=$1)`, m.version).Scan(&applied); err != nil {
			return fmt.Errorf("op=postgres.Migrate check v%d: %w", m.version, err)
		}
		if applied {
			continue
		}
		tx, err := conn.Begin(ctx)
		if err != nil {
			return fmt.Errorf("op=postgres.Migrate begin v%d: %w", m.version, err)
		}
		for _, stmt := range m.stmts {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				_ = tx.Rollback(ctx)
				return fmt.Errorf("op=postgres.Migrate apply v%d (%s): %w", m.version, m.name, err)
			}
		}
		if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version, name) VALUES ($1,$2)`, m.version, m.name); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("op=postgres.Migrate record v%d: %w", m.version, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("op=postgres.Migrate commit v%d: %w", m.version, err)
		}
		slog.Info("schema migration applied", slog.Int("version", m.version), slog.String("name", m.name))
	}
	return nil
}
