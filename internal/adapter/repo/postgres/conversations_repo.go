// Package postgres provides PostgreSQL database adapters.
//
// It implements the domain store interfaces for data persistence.
// The package provides type-safe database operations with
// connection pooling and transaction support.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/powerpulse/powerpulse/internal/domain"
)

// ConversationRepo persists conversations, their append-only messages and the
// daily analysis rows seeded at ingest, using a minimal pgx pool.
type ConversationRepo struct{ Pool PgxPool }

// PgxPool is a minimal subset of pgxpool used by the repos for easy testing.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// NewConversationRepo constructs a ConversationRepo with the given pool.
func NewConversationRepo(p PgxPool) *ConversationRepo { return &ConversationRepo{Pool: p} }

// IngestChats stores one upload's raw data in a single transaction: it upserts
// each conversation (counters and first/last message times are recomputed),
// appends the messages, and seeds one daily_analyses row per (chat, day). A
// day seen before keeps its existing row and id. The returned units carry the
// daily analysis ids in grouper order.
func (r *ConversationRepo) IngestChats(ctx domain.Context, chats []domain.GroupedChat) ([]domain.AnalysisUnit, error) {
	tracer := otel.Tracer("repo.conversations")
	ctx, span := tracer.Start(ctx, "conversations.IngestChats")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "conversations"),
		attribute.Int("chats", len(chats)),
	)

	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("op=conversation.ingest_begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()
	units := make([]domain.AnalysisUnit, 0, len(chats))
	for _, chat := range chats {
		convQ := `INSERT INTO conversations (id, chat_id, total_messages, customer_messages, agent_messages, first_message_time, last_message_time, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$8)
		ON CONFLICT (chat_id) DO UPDATE SET
			total_messages=EXCLUDED.total_messages,
			customer_messages=EXCLUDED.customer_messages,
			agent_messages=EXCLUDED.agent_messages,
			first_message_time=EXCLUDED.first_message_time,
			last_message_time=EXCLUDED.last_message_time,
			updated_at=EXCLUDED.updated_at
		RETURNING id`
		var convID string
		if err := tx.QueryRow(ctx, convQ, uuid.New().String(), chat.ChatID,
			chat.TotalMessages, chat.CustomerMessages, chat.AgentMessages,
			chat.FirstMessageTime, chat.LastMessageTime, now).Scan(&convID); err != nil {
			return nil, fmt.Errorf("op=conversation.ingest_upsert chat_id=%s: %w", chat.ChatID, err)
		}

		msgQ := `INSERT INTO messages (id, conversation_id, chat_id, message_content, direction, social_create_time, agent_username, agent_email, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`
		dayQ := `INSERT INTO daily_analyses (id, conversation_id, chat_id, analysis_date, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$5)
		ON CONFLICT (conversation_id, analysis_date) DO UPDATE SET updated_at=EXCLUDED.updated_at
		RETURNING id`
		for _, day := range chat.Days {
			for _, m := range day.Messages {
				if _, err := tx.Exec(ctx, msgQ, uuid.New().String(), convID, chat.ChatID,
					m.Content, m.Direction, m.SocialCreateTime, m.AgentUsername, m.AgentEmail, now); err != nil {
					return nil, fmt.Errorf("op=conversation.ingest_messages chat_id=%s: %w", chat.ChatID, err)
				}
			}
			var dailyID string
			if err := tx.QueryRow(ctx, dayQ, uuid.New().String(), convID, chat.ChatID, day.Date, now).Scan(&dailyID); err != nil {
				return nil, fmt.Errorf("op=conversation.ingest_daily chat_id=%s: %w", chat.ChatID, err)
			}
			units = append(units, domain.AnalysisUnit{
				DailyAnalysisID: dailyID,
				ChatID:          chat.ChatID,
				Date:            day.Date,
				Messages:        day.Messages,
			})
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("op=conversation.ingest_commit: %w", err)
	}
	return units, nil
}

// GetByChatID loads a conversation by its external chat id.
func (r *ConversationRepo) GetByChatID(ctx domain.Context, chatID string) (domain.Conversation, error) {
	tracer := otel.Tracer("repo.conversations")
	ctx, span := tracer.Start(ctx, "conversations.GetByChatID")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "conversations"),
	)
	q := `SELECT id, chat_id, COALESCE(customer_name,''), total_messages, customer_messages, agent_messages, first_message_time, last_message_time, common_topics, created_at, updated_at
	FROM conversations WHERE chat_id=$1`
	row := r.Pool.QueryRow(ctx, q, chatID)
	var c domain.Conversation
	if err := row.Scan(&c.ID, &c.ChatID, &c.CustomerName, &c.TotalMessages, &c.CustomerMessages, &c.AgentMessages,
		&c.FirstMessageTime, &c.LastMessageTime, &c.CommonTopics, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Conversation{}, fmt.Errorf("op=conversation.get chat_id=%s: %w", chatID, domain.ErrNotFound)
		}
		return domain.Conversation{}, fmt.Errorf("op=conversation.get: %w", err)
	}
	return c, nil
}

// MessagesByConversation returns a conversation's messages in timestamp order
// with insertion order breaking ties.
func (r *ConversationRepo) MessagesByConversation(ctx domain.Context, conversationID string) ([]domain.Message, error) {
	tracer := otel.Tracer("repo.conversations")
	ctx, span := tracer.Start(ctx, "conversations.MessagesByConversation")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "messages"),
	)
	q := `SELECT id, conversation_id, chat_id, message_content, direction, social_create_time, agent_username, agent_email, created_at
	FROM messages WHERE conversation_id=$1 ORDER BY social_create_time ASC, seq ASC`
	rows, err := r.Pool.Query(ctx, q, conversationID)
	if err != nil {
		return nil, fmt.Errorf("op=conversation.messages: %w", err)
	}
	defer rows.Close()
	var out []domain.Message
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.ChatID, &m.Content, &m.Direction,
			&m.SocialCreateTime, &m.AgentUsername, &m.AgentEmail, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("op=conversation.messages_scan: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=conversation.messages_rows: %w", err)
	}
	return out, nil
}

// List returns a page of conversations newest-activity first, each with the
// count of scored days and the mean CSI over them, plus the unpaged total.
// Search matches chat_id or customer_name as a substring.
func (r *ConversationRepo) List(ctx domain.Context, q domain.ConversationQuery) ([]domain.ConversationSummary, int, error) {
	tracer := otel.Tracer("repo.conversations")
	ctx, span := tracer.Start(ctx, "conversations.List")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "conversations"),
	)

	countQ := `SELECT COUNT(*) FROM conversations
	WHERE ($1 = '' OR chat_id ILIKE '%'||$1||'%' OR COALESCE(customer_name,'') ILIKE '%'||$1||'%')`
	var total int
	if err := r.Pool.QueryRow(ctx, countQ, q.Search).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("op=conversation.list_count: %w", err)
	}

	pageQ := `SELECT c.id, c.chat_id, COALESCE(c.customer_name,''), c.total_messages, c.customer_messages, c.agent_messages,
		c.first_message_time, c.last_message_time, c.common_topics, c.created_at, c.updated_at,
		COUNT(da.id) FILTER (WHERE da.csi_score IS NOT NULL), AVG(da.csi_score)
	FROM conversations c
	LEFT JOIN daily_analyses da ON da.conversation_id = c.id
	WHERE ($1 = '' OR c.chat_id ILIKE '%'||$1||'%' OR COALESCE(c.customer_name,'') ILIKE '%'||$1||'%')
	GROUP BY c.id
	ORDER BY c.last_message_time DESC, c.chat_id ASC
	LIMIT $2 OFFSET $3`
	rows, err := r.Pool.Query(ctx, pageQ, q.Search, q.Limit, q.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("op=conversation.list: %w", err)
	}
	defer rows.Close()
	out := make([]domain.ConversationSummary, 0, q.Limit)
	for rows.Next() {
		var s domain.ConversationSummary
		if err := rows.Scan(&s.ID, &s.ChatID, &s.CustomerName, &s.TotalMessages, &s.CustomerMessages, &s.AgentMessages,
			&s.FirstMessageTime, &s.LastMessageTime, &s.CommonTopics, &s.CreatedAt, &s.UpdatedAt,
			&s.AnalyzedDays, &s.AvgCSI); err != nil {
			return nil, 0, fmt.Errorf("op=conversation.list_scan: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("op=conversation.list_rows: %w", err)
	}
	return out, total, nil
}
