package quota

import "time"

// UsageRecord matches the usage table schema.
type UsageRecord struct {
	UserID  string    `json:"user_id"`
	Tokens  int64     `json:"tokens"`
	Queries int64     `json:"queries"`
	EndsAt  time.Time `json:"ends_at"`
}

// Expired reports whether the record's window has closed at now.
func (r *UsageRecord) Expired(now time.Time) bool {
	return !r.EndsAt.After(now)
}

// Limits are the configured ceilings. Zero disables a dimension.
type Limits struct {
	GlobalMonthlyTokens int64
	UserHourlyTokens    int64
	UserHourlyQueries   int64
}

// UserStatus is the API/command view of a user's current window.
type UserStatus struct {
	UserID       string     `json:"user_id"`
	Tokens       int64      `json:"tokens"`
	TokensLimit  int64      `json:"tokens_limit"`
	Queries      int64      `json:"queries"`
	QueriesLimit int64      `json:"queries_limit"`
	EndsAt       *time.Time `json:"ends_at,omitempty"`
	Exceeded     bool       `json:"exceeded"`
}

// GlobalStatus is the API view of the process-wide counters.
type GlobalStatus struct {
	UsedTokens       int64      `json:"used_tokens"`
	MonthlyQuota     int64      `json:"monthly_quota"`
	NextReset        *time.Time `json:"next_reset,omitempty"`
	RateLimited      bool       `json:"rate_limited"`
	RateLimitedUntil *time.Time `json:"rate_limited_until,omitempty"`
}
