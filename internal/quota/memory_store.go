package quota

import (
	"context"
	"sync"
	"time"
)

// MemoryUsageStore is an in-process UsageStore. It is used when the bot runs
// without Postgres and in tests.
type MemoryUsageStore struct {
	mu      sync.Mutex
	records map[string]UsageRecord
}

func NewMemoryUsageStore() *MemoryUsageStore {
	return &MemoryUsageStore{records: make(map[string]UsageRecord)}
}

func (s *MemoryUsageStore) Get(_ context.Context, userID string) (*UsageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (s *MemoryUsageStore) Increment(_ context.Context, userID string, tokens int64, now, endsAt time.Time) (*UsageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[userID]
	if !ok || rec.Expired(now) {
		rec = UsageRecord{UserID: userID, EndsAt: endsAt}
	}
	rec.Tokens += tokens
	rec.Queries++
	s.records[userID] = rec
	return &rec, nil
}

func (s *MemoryUsageStore) Delete(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, userID)
	return nil
}

func (s *MemoryUsageStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, rec := range s.records {
		if rec.Expired(now) {
			delete(s.records, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryUsageStore) Ping(context.Context) error { return nil }

// Len returns the number of stored records, expired ones included.
func (s *MemoryUsageStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
