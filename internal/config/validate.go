package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Validate checks Config for production-critical problems.
// It collects all errors into a single joined error.
func (c *Config) Validate() error {
	var errs []string

	// Quotas: 0 means unlimited, negatives are a typo
	if c.Quota.GlobalMonthlyTokens < 0 {
		errs = append(errs, "QUOTA_GLOBAL_MONTHLY must not be negative")
	}
	if c.Quota.UserHourlyTokens < 0 {
		errs = append(errs, "QUOTA_USER_HOURLY_TOKENS must not be negative")
	}
	if c.Quota.UserHourlyQueries < 0 {
		errs = append(errs, "QUOTA_USER_HOURLY_QUERIES must not be negative")
	}
	if c.Quota.PollInterval <= 0 {
		errs = append(errs, "QUOTA_POLL_INTERVAL must be positive")
	}
	if c.Quota.RateLimitCooldown <= 0 {
		errs = append(errs, "QUOTA_RATE_LIMIT_COOLDOWN must be positive")
	}

	// Admin rate limit: Load defaults zeros, so anything left non-positive is wrong
	if c.Admin.RateLimitRequests <= 0 {
		errs = append(errs, fmt.Sprintf("ADMIN_RATELIMIT_REQUESTS must be positive, got %d", c.Admin.RateLimitRequests))
	}
	if c.Admin.RateLimitWindowSec <= 0 {
		errs = append(errs, fmt.Sprintf("ADMIN_RATELIMIT_WINDOW must be positive, got %d", c.Admin.RateLimitWindowSec))
	}

	switch c.Quota.Store {
	case StorePostgres:
		if c.DB.Password == "" {
			errs = append(errs, "DB_PASSWORD is required")
		}
		if c.DB.Port < 1 || c.DB.Port > 65535 {
			errs = append(errs, fmt.Sprintf("DB_PORT must be 1–65535, got %d", c.DB.Port))
		}
	case StoreMemory:
		slog.Warn("QUOTA_STORE=memory, per-user usage is lost on restart")
	default:
		errs = append(errs, fmt.Sprintf("QUOTA_STORE must be postgres or memory, got %q", c.Quota.Store))
	}

	// Required secrets
	if c.XMPP.ComponentSecret == "" {
		errs = append(errs, "XMPP_COMPONENT_SECRET is required")
	}
	if c.LLM.APIKey == "" {
		errs = append(errs, "LLM_API_KEY is required")
	}

	if c.LLM.MaxTokens < 0 {
		errs = append(errs, "LLM_MAX_TOKENS must not be negative")
	}
	if c.LLM.History < 0 {
		errs = append(errs, "LLM_HISTORY must not be negative")
	}

	// Port ranges
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT must be 1–65535, got %d", c.Server.Port))
	}
	if c.Redis.Port < 1 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Sprintf("REDIS_PORT must be 1–65535, got %d", c.Redis.Port))
	}
	if c.XMPP.ComponentPort < 1 || c.XMPP.ComponentPort > 65535 {
		errs = append(errs, fmt.Sprintf("XMPP_COMPONENT_PORT must be 1–65535, got %d", c.XMPP.ComponentPort))
	}

	// Admin API key: warn only
	if c.Admin.APIKey == "" {
		slog.Warn("ADMIN_API_KEY is empty, admin API is disabled")
	}

	if len(errs) > 0 {
		return errors.New("config validation failed:\n  " + strings.Join(errs, "\n  "))
	}
	return nil
}
