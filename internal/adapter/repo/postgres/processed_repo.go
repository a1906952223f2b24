package postgres

import (
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/powerpulse/powerpulse/internal/domain"
)

// ProcessedChatRepo tracks chats already analyzed end to end so repeat uploads
// skip them unless force-reprocess is requested.
type ProcessedChatRepo struct{ Pool PgxPool }

// NewProcessedChatRepo constructs a ProcessedChatRepo with the given pool.
func NewProcessedChatRepo(p PgxPool) *ProcessedChatRepo { return &ProcessedChatRepo{Pool: p} }

// IsProcessed reports whether the chat id was marked processed before.
func (r *ProcessedChatRepo) IsProcessed(ctx domain.Context, chatID string) (bool, error) {
	tracer := otel.Tracer("repo.processed_chats")
	ctx, span := tracer.Start(ctx, "processed_chats.IsProcessed")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "processed_chats"),
	)
	q := `SELECT EXISTS (SELECT 1 FROM processed_chats WHERE chat_id=$1)`
	var ok bool
	if err := r.Pool.QueryRow(ctx, q, chatID).Scan(&ok); err != nil {
		return false, fmt.Errorf("op=processed.is_processed: %w", err)
	}
	return ok, nil
}

// MarkProcessed upserts the given chats in one transaction. Re-marking a chat
// refreshes its processed_at and message count.
func (r *ProcessedChatRepo) MarkProcessed(ctx domain.Context, chats []domain.ProcessedChat) error {
	if len(chats) == 0 {
		return nil
	}
	tracer := otel.Tracer("repo.processed_chats")
	ctx, span := tracer.Start(ctx, "processed_chats.MarkProcessed")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "processed_chats"),
		attribute.Int("chats", len(chats)),
	)
	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("op=processed.mark_begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()
	q := `INSERT INTO processed_chats (chat_id, processed_at, message_count) VALUES ($1,$2,$3)
	ON CONFLICT (chat_id) DO UPDATE SET processed_at=EXCLUDED.processed_at, message_count=EXCLUDED.message_count`
	for _, c := range chats {
		if _, err := tx.Exec(ctx, q, c.ChatID, c.ProcessedAt, c.MessageCount); err != nil {
			return fmt.Errorf("op=processed.mark chat_id=%s: %w", c.ChatID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=processed.mark_commit: %w", err)
	}
	return nil
}
