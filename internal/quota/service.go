package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aiox-platform/chatbot/internal/config"
	"github.com/aiox-platform/chatbot/internal/metrics"
)

// Manager tracks global and per-user usage and decides request admission.
// It is shared by the message handlers and the cooldown loop.
type Manager struct {
	limits       Limits
	pollInterval time.Duration
	config       ConfigStore
	usage        UsageStore
	logger       *slog.Logger
	now          func() time.Time

	// mu serialises every read-modify-write of used_tokens, including the
	// monthly reset.
	mu sync.Mutex

	// rateLimitUntil is a unix-milli deadline, 0 when not rate limited.
	rateLimitUntil atomic.Int64
}

// NewManager creates a new quota Manager.
func NewManager(cfg config.QuotaConfig, configStore ConfigStore, usage UsageStore) *Manager {
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 5 * time.Second
	}
	return &Manager{
		limits: Limits{
			GlobalMonthlyTokens: cfg.GlobalMonthlyTokens,
			UserHourlyTokens:    cfg.UserHourlyTokens,
			UserHourlyQueries:   cfg.UserHourlyQueries,
		},
		pollInterval: poll,
		config:       configStore,
		usage:        usage,
		logger:       slog.Default().With("component", "quota"),
		now:          time.Now,
	}
}

// Limits returns the configured ceilings.
func (m *Manager) Limits() Limits {
	return m.limits
}

// Now returns the manager's current time.
func (m *Manager) Now() time.Time {
	return m.now()
}

// QuotaExceeded returns the end of the user's window if either enabled
// per-user quota is used up, or the zero time when the request may proceed.
// An expired record counts as absent even if the sweep has not removed it.
func (m *Manager) QuotaExceeded(ctx context.Context, userID string) (time.Time, error) {
	rec, err := m.usage.Get(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("checking user quota: %w", err)
	}
	if rec.Expired(m.now()) {
		return time.Time{}, nil
	}
	if m.exceeds(rec) {
		return rec.EndsAt, nil
	}
	return time.Time{}, nil
}

func (m *Manager) exceeds(rec *UsageRecord) bool {
	if m.limits.UserHourlyTokens > 0 && rec.Tokens >= m.limits.UserHourlyTokens {
		return true
	}
	return m.limits.UserHourlyQueries > 0 && rec.Queries >= m.limits.UserHourlyQueries
}

// GlobalQuotaExceeded reports whether this month's global token quota is spent.
func (m *Manager) GlobalQuotaExceeded(ctx context.Context) (bool, error) {
	if m.limits.GlobalMonthlyTokens <= 0 {
		return false, nil
	}
	used, err := m.readInt(ctx, KeyUsedTokens)
	if err != nil {
		return false, fmt.Errorf("checking global quota: %w", err)
	}
	return used >= m.limits.GlobalMonthlyTokens, nil
}

// GlobalCooldown returns the next monthly reset, or the zero time if unset.
func (m *Manager) GlobalCooldown(ctx context.Context) (time.Time, error) {
	next, err := m.readInt(ctx, KeyNextMonth)
	if err != nil {
		return time.Time{}, fmt.Errorf("reading global cooldown: %w", err)
	}
	if next == 0 {
		return time.Time{}, nil
	}
	return time.Unix(next, 0), nil
}

// IncreaseUsage charges tokens to the global counter and to the user's
// window. Both updates must succeed for a nil error. The two updates are not
// atomic together: if the per-user increment fails, the global charge stays.
func (m *Manager) IncreaseUsage(ctx context.Context, userID string, tokens int64) (*UsageRecord, error) {
	if tokens < 0 {
		return nil, fmt.Errorf("negative token count %d", tokens)
	}

	if err := m.addGlobalTokens(ctx, tokens); err != nil {
		metrics.QuotaErrorsTotal.WithLabelValues("increase_global").Inc()
		return nil, err
	}

	now := m.now()
	rec, err := m.usage.Increment(ctx, userID, tokens, now, NextHour(now))
	if err != nil {
		metrics.QuotaErrorsTotal.WithLabelValues("increase_user").Inc()
		return nil, fmt.Errorf("increasing usage for %s: %w", userID, err)
	}

	metrics.TokensConsumedTotal.Add(float64(tokens))
	metrics.QueriesTotal.Inc()
	return rec, nil
}

func (m *Manager) addGlobalTokens(ctx context.Context, tokens int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	used, err := m.readInt(ctx, KeyUsedTokens)
	if err != nil {
		return fmt.Errorf("reading global usage: %w", err)
	}
	used += tokens
	if err := m.config.Set(ctx, KeyUsedTokens, strconv.FormatInt(used, 10)); err != nil {
		return fmt.Errorf("writing global usage: %w", err)
	}
	metrics.GlobalUsedTokens.Set(float64(used))
	return nil
}

// IsRateLimited reports whether a backend rate-limit window is active.
func (m *Manager) IsRateLimited() bool {
	return m.rateLimitUntil.Load() > m.now().UnixMilli()
}

// RateLimitedUntil returns the end of the active rate-limit window, or the
// zero time.
func (m *Manager) RateLimitedUntil() time.Time {
	until := m.rateLimitUntil.Load()
	if until == 0 {
		return time.Time{}
	}
	return time.UnixMilli(until)
}

// SetRateLimit starts a fresh rate-limit window of length d, replacing any
// active one.
func (m *Manager) SetRateLimit(d time.Duration) {
	m.rateLimitUntil.Store(m.now().Add(d).UnixMilli())
	metrics.RateLimitActivationsTotal.Inc()
	m.logger.Warn("rate limit set", "duration", d)
}

// ResetUser drops the user's current window.
func (m *Manager) ResetUser(ctx context.Context, userID string) error {
	if err := m.usage.Delete(ctx, userID); err != nil {
		return fmt.Errorf("resetting user usage: %w", err)
	}
	return nil
}

// UserStatus returns the user's live window. Expired records read as empty.
func (m *Manager) UserStatus(ctx context.Context, userID string) (*UserStatus, error) {
	status := &UserStatus{
		UserID:       userID,
		TokensLimit:  m.limits.UserHourlyTokens,
		QueriesLimit: m.limits.UserHourlyQueries,
	}

	rec, err := m.usage.Get(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return status, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting user status: %w", err)
	}
	if rec.Expired(m.now()) {
		return status, nil
	}

	endsAt := rec.EndsAt
	status.Tokens = rec.Tokens
	status.Queries = rec.Queries
	status.EndsAt = &endsAt
	status.Exceeded = m.exceeds(rec)
	return status, nil
}

// GlobalStatus returns the process-wide counters.
func (m *Manager) GlobalStatus(ctx context.Context) (*GlobalStatus, error) {
	used, err := m.readInt(ctx, KeyUsedTokens)
	if err != nil {
		return nil, fmt.Errorf("getting global status: %w", err)
	}
	next, err := m.GlobalCooldown(ctx)
	if err != nil {
		return nil, err
	}

	status := &GlobalStatus{
		UsedTokens:   used,
		MonthlyQuota: m.limits.GlobalMonthlyTokens,
		RateLimited:  m.IsRateLimited(),
	}
	if !next.IsZero() {
		status.NextReset = &next
	}
	if status.RateLimited {
		until := m.RateLimitedUntil()
		status.RateLimitedUntil = &until
	}
	return status, nil
}

// Ping checks both stores.
func (m *Manager) Ping(ctx context.Context) error {
	if _, _, err := m.config.Get(ctx, KeyNextMonth); err != nil {
		return err
	}
	return m.usage.Ping(ctx)
}

func (m *Manager) readInt(ctx context.Context, key string) (int64, error) {
	val, ok, err := m.config.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	if !ok || val == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q: %w", key, val, err)
	}
	return n, nil
}
