package quota

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by UsageStore.Get when the user has no record.
var ErrNotFound = errors.New("usage record not found")

// Keys used in the ConfigStore.
const (
	KeyUsedTokens = "used_tokens"
	KeyNextMonth  = "next_month"
)

// ConfigStore is a small durable key/value store for process-wide counters.
// Get reports ok=false for a missing key.
type ConfigStore interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
}

// UsageStore persists per-user usage records. Increment must be atomic per
// user: concurrent increments for the same user never lose an update.
type UsageStore interface {
	Get(ctx context.Context, userID string) (*UsageRecord, error)
	// Increment adds tokens and one query to the user's record, creating it
	// (or restarting one that expired before now) with the given endsAt.
	Increment(ctx context.Context, userID string, tokens int64, now, endsAt time.Time) (*UsageRecord, error)
	Delete(ctx context.Context, userID string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	Ping(ctx context.Context) error
}
