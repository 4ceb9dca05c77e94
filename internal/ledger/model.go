package ledger

import (
	"time"

	"github.com/google/uuid"
)

// Entry matches the usage_events table schema.
type Entry struct {
	ID        uuid.UUID `json:"id"`
	RequestID string    `json:"request_id"`
	UserID    string    `json:"user_id"`
	Model     string    `json:"model"`
	Tokens    int64     `json:"tokens"`
	CreatedAt time.Time `json:"created_at"`
}

// Summary aggregates a user's ledger entries since a point in time.
type Summary struct {
	UserID  string    `json:"user_id"`
	Since   time.Time `json:"since"`
	Tokens  int64     `json:"tokens"`
	Queries int64     `json:"queries"`
}
