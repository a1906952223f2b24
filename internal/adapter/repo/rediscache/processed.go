// Package rediscache layers Redis caching over the Postgres repositories for
// the hot lookups of the ingest path.
package rediscache

import (
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/powerpulse/powerpulse/internal/domain"
)

const processedKeyPrefix = "processed:"

// ProcessedChatCache is a read-through cache over a ProcessedChatStore.
// Repeat uploads probe every chat id, which makes IsProcessed the hottest
// query of the ingest path. Only positive answers are cached: a processed
// mark never reverts, while a negative would go stale the moment another
// instance finishes the chat.
type ProcessedChatCache struct {
	next domain.ProcessedChatStore
	rdb  *redis.Client
	ttl  time.Duration
}

// NewProcessedChatCache wraps next. TTL falls back to 24h when zero.
func NewProcessedChatCache(next domain.ProcessedChatStore, rdb *redis.Client, ttl time.Duration) *ProcessedChatCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &ProcessedChatCache{next: next, rdb: rdb, ttl: ttl}
}

// IsProcessed serves from Redis when possible and falls back to the
// underlying store. Cache failures degrade to the store, never to an error.
func (c *ProcessedChatCache) IsProcessed(ctx domain.Context, chatID string) (bool, error) {
	key := processedKeyPrefix + chatID
	val, err := c.rdb.Get(ctx, key).Result()
	switch {
	case err == nil:
		return val == "1", nil
	case !errors.Is(err, redis.Nil):
		slog.Debug("processed-chat cache read failed",
			slog.String("chat_id", chatID),
			slog.Any("error", err))
	}

	ok, err := c.next.IsProcessed(ctx, chatID)
	if err != nil {
		return false, err
	}
	if ok {
		if err := c.rdb.Set(ctx, key, "1", c.ttl).Err(); err != nil {
			slog.Debug("processed-chat cache write failed",
				slog.String("chat_id", chatID),
				slog.Any("error", err))
		}
	}
	return ok, nil
}

// MarkProcessed writes through: the store first, then the cache keys, so a
// cache failure can only cost an extra DB probe later.
func (c *ProcessedChatCache) MarkProcessed(ctx domain.Context, chats []domain.ProcessedChat) error {
	if err := c.next.MarkProcessed(ctx, chats); err != nil {
		return err
	}
	if len(chats) == 0 {
		return nil
	}
	pipe := c.rdb.Pipeline()
	for _, chat := range chats {
		pipe.Set(ctx, processedKeyPrefix+chat.ChatID, "1", c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Debug("processed-chat cache fill failed",
			slog.Int("chats", len(chats)),
			slog.Any("error", err))
	}
	return nil
}
