// Package history keeps the recent conversation of each user in Redis.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL is how long an idle conversation is kept.
const DefaultTTL = 24 * time.Hour

// Entry is one turn of a conversation.
type Entry struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Store manages per-user conversation history in Redis lists.
type Store struct {
	client  redis.Cmdable
	maxMsgs int
	ttl     time.Duration
}

// NewStore creates a history store that keeps at most maxMsgs entries per
// user. A non-positive maxMsgs disables history.
func NewStore(client redis.Cmdable, maxMsgs int, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{client: client, maxMsgs: maxMsgs, ttl: ttl}
}

func historyKey(userJID string) string {
	return "history:" + userJID
}

// Recent returns the stored entries for userJID, oldest first.
func (s *Store) Recent(ctx context.Context, userJID string) ([]Entry, error) {
	if s.maxMsgs <= 0 {
		return nil, nil
	}
	key := historyKey(userJID)

	vals, err := s.client.LRange(ctx, key, int64(-s.maxMsgs), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange %s: %w", key, err)
	}

	entries := make([]Entry, 0, len(vals))
	for _, v := range vals {
		var entry Entry
		if err := json.Unmarshal([]byte(v), &entry); err != nil {
			slog.Warn("history: skipping malformed entry", "key", key, "error", err)
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Append adds entries in order, trims the list and refreshes its TTL.
func (s *Store) Append(ctx context.Context, userJID string, entries ...Entry) error {
	if s.maxMsgs <= 0 || len(entries) == 0 {
		return nil
	}
	key := historyKey(userJID)

	values := make([]any, 0, len(entries))
	for _, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshaling entry: %w", err)
		}
		values = append(values, string(data))
	}

	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, values...)
	pipe.LTrim(ctx, key, int64(-s.maxMsgs), -1)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("pipeline exec for %s: %w", key, err)
	}
	return nil
}

// Clear deletes the user's history.
func (s *Store) Clear(ctx context.Context, userJID string) error {
	if err := s.client.Del(ctx, historyKey(userJID)).Err(); err != nil {
		return fmt.Errorf("clearing history: %w", err)
	}
	return nil
}
