package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresUsageStore keeps usage records in the usage table.
type PostgresUsageStore struct {
	pool *pgxpool.Pool
}

// NewPostgresUsageStore creates a new PostgresUsageStore.
func NewPostgresUsageStore(pool *pgxpool.Pool) *PostgresUsageStore {
	return &PostgresUsageStore{pool: pool}
}

func (s *PostgresUsageStore) Get(ctx context.Context, userID string) (*UsageRecord, error) {
	var (
		rec        UsageRecord
		endsAtUnix int64
	)
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, tokens, queries, ends_at FROM usage WHERE user_id = $1`, userID,
	).Scan(&rec.UserID, &rec.Tokens, &rec.Queries, &endsAtUnix)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching usage: %w", err)
	}
	rec.EndsAt = time.Unix(endsAtUnix, 0)
	return &rec, nil
}

// Increment upserts the user's row inside a transaction. The row lock taken by
// ON CONFLICT serialises concurrent increments for the same user; a row whose
// window already closed is restarted instead of incremented.
func (s *PostgresUsageStore) Increment(ctx context.Context, userID string, tokens int64, now, endsAt time.Time) (*UsageRecord, error) {
	var (
		rec        UsageRecord
		endsAtUnix int64
	)
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx,
			`INSERT INTO usage AS u (user_id, tokens, queries, ends_at)
			 VALUES ($1, $2, 1, $4)
			 ON CONFLICT (user_id) DO UPDATE
			 SET tokens  = CASE WHEN u.ends_at <= $3 THEN EXCLUDED.tokens  ELSE u.tokens + EXCLUDED.tokens END,
			     queries = CASE WHEN u.ends_at <= $3 THEN 1                ELSE u.queries + 1 END,
			     ends_at = CASE WHEN u.ends_at <= $3 THEN EXCLUDED.ends_at ELSE u.ends_at END
			 RETURNING user_id, tokens, queries, ends_at`,
			userID, tokens, now.Unix(), endsAt.Unix(),
		).Scan(&rec.UserID, &rec.Tokens, &rec.Queries, &endsAtUnix)
	})
	if err != nil {
		return nil, fmt.Errorf("incrementing usage: %w", err)
	}
	rec.EndsAt = time.Unix(endsAtUnix, 0)
	return &rec, nil
}

func (s *PostgresUsageStore) Delete(ctx context.Context, userID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM usage WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("deleting usage: %w", err)
	}
	return nil
}

// DeleteExpired removes every record whose window closed at or before now.
func (s *PostgresUsageStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM usage WHERE ends_at <= $1`, now.Unix())
	if err != nil {
		return 0, fmt.Errorf("purging expired usage: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresUsageStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
