package quota

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aiox-platform/chatbot/internal/metrics"
)

// Run sweeps every poll interval until ctx is cancelled. A failed sweep is
// logged and does not stop the loop.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	m.logger.Info("cooldown loop started", "interval", m.pollInterval)

	for {
		if err := m.Sweep(ctx); err != nil && ctx.Err() == nil {
			m.logger.Warn("cooldown sweep failed", "error", err)
		}

		select {
		case <-ctx.Done():
			m.logger.Info("cooldown loop stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Sweep runs one cooldown pass: it clears an expired rate limit, rolls the
// global counter over at the month boundary and purges expired user records.
// Each step commits on its own; errors from all steps are joined.
func (m *Manager) Sweep(ctx context.Context) error {
	start := time.Now()
	defer func() {
		metrics.SweepDuration.Observe(time.Since(start).Seconds())
	}()

	now := m.now()
	var errs []error

	m.clearExpiredRateLimit(now)

	if err := m.rollover(ctx, now); err != nil {
		metrics.QuotaErrorsTotal.WithLabelValues("rollover").Inc()
		errs = append(errs, err)
	}

	purged, err := m.usage.DeleteExpired(ctx, now)
	if err != nil {
		metrics.QuotaErrorsTotal.WithLabelValues("purge").Inc()
		errs = append(errs, err)
	} else if purged > 0 {
		metrics.ExpiredRecordsPurgedTotal.Add(float64(purged))
		m.logger.Debug("purged expired usage records", "count", purged)
	}

	return errors.Join(errs...)
}

func (m *Manager) clearExpiredRateLimit(now time.Time) {
	until := m.rateLimitUntil.Load()
	if until != 0 && until <= now.UnixMilli() {
		// A concurrent SetRateLimit wins over the clear.
		if m.rateLimitUntil.CompareAndSwap(until, 0) {
			m.logger.Info("rate limit cleared")
		}
	}
}

// rollover zeroes used_tokens once next_month has passed (or was never set)
// and schedules the following reset.
func (m *Manager) rollover(ctx context.Context, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next, err := m.readInt(ctx, KeyNextMonth)
	if err != nil {
		return fmt.Errorf("reading next reset: %w", err)
	}
	if next > now.Unix() {
		return nil
	}

	if err := m.config.Set(ctx, KeyUsedTokens, "0"); err != nil {
		return fmt.Errorf("resetting global usage: %w", err)
	}
	metrics.GlobalUsedTokens.Set(0)

	following := NextMonthStart(now)
	if err := m.config.Set(ctx, KeyNextMonth, strconv.FormatInt(following.Unix(), 10)); err != nil {
		return fmt.Errorf("scheduling next reset: %w", err)
	}

	m.logger.Info("global usage reset", "next_reset", following)
	return nil
}
