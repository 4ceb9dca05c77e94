package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository handles usage_events PostgreSQL operations.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new ledger Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert persists a single entry. A redelivered event with a known request
// ID is ignored.
func (r *Repository) Insert(ctx context.Context, e *Entry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO usage_events (id, request_id, user_id, model, tokens, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (request_id) DO NOTHING`,
		e.ID, e.RequestID, e.UserID, e.Model, e.Tokens, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting usage event: %w", err)
	}
	return nil
}

// Summarize totals the user's entries created at or after since.
func (r *Repository) Summarize(ctx context.Context, userID string, since time.Time) (*Summary, error) {
	s := &Summary{UserID: userID, Since: since}
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(tokens), 0), COUNT(*)
		 FROM usage_events WHERE user_id = $1 AND created_at >= $2`,
		userID, since,
	).Scan(&s.Tokens, &s.Queries)
	if err != nil {
		return nil, fmt.Errorf("summarizing usage events: %w", err)
	}
	return s, nil
}
