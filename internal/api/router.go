package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	mw "github.com/aiox-platform/chatbot/internal/middleware"
)

// HandlerSet holds handler functions injected from main.go to avoid import cycles.
type HandlerSet struct {
	// Quota admin handlers
	GetGlobalQuota http.HandlerFunc
	GetUserQuota   http.HandlerFunc
	ResetUserQuota http.HandlerFunc
	SetRateLimit   http.HandlerFunc

	// Ledger summary, nil when no ledger is configured
	GetUserUsage http.HandlerFunc

	// Admin middleware (API key)
	AdminMiddleware func(http.Handler) http.Handler
}

const readinessTimeout = 2 * time.Second

// HealthCheck pings one dependency for the readiness endpoint.
type HealthCheck func(ctx context.Context) error

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	CORSAllowedOrigins []string
	AdminRateLimiter   func(http.Handler) http.Handler
	// Checks are keyed by dependency name ("database", "redis", "nats").
	Checks map[string]HealthCheck
}

func NewRouter(cfg RouterConfig, h HandlerSet) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(mw.SecurityHeaders)
	r.Use(mw.Logging)
	r.Use(chimw.Recoverer)
	r.Use(mw.Metrics)
	r.Use(cors.Handler(mw.CORS(cfg.CORSAllowedOrigins)))

	// Liveness, no dependency checks
	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		JSON(w, http.StatusOK, map[string]string{"status": "alive"})
	})

	// Readiness: every dependency is pinged with a short deadline
	readinessHandler := func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		health := map[string]string{"status": "healthy"}
		status := http.StatusOK
		for name, check := range cfg.Checks {
			if err := check(ctx); err != nil {
				slog.Warn("readiness check failed", "dependency", name, "error", err)
				health[name] = "unhealthy"
				health["status"] = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			health[name] = "healthy"
		}
		JSON(w, status, health)
	}

	r.Get("/health/ready", readinessHandler)
	r.Get("/health", readinessHandler)

	// Prometheus metrics
	r.Handle("/metrics", promhttp.Handler())

	// Admin API v1, only mounted when an API key is configured
	if h.AdminMiddleware != nil {
		r.Route("/api/v1", func(r chi.Router) {
			if cfg.AdminRateLimiter != nil {
				r.Use(cfg.AdminRateLimiter)
			}
			r.Use(h.AdminMiddleware)

			r.Route("/quota", func(r chi.Router) {
				r.Get("/global", h.GetGlobalQuota)
				r.Post("/rate-limit", h.SetRateLimit)
				r.Get("/users/{userID}", h.GetUserQuota)
				r.Delete("/users/{userID}", h.ResetUserQuota)
			})

			if h.GetUserUsage != nil {
				r.Get("/usage/users/{userID}", h.GetUserUsage)
			}
		})
	}

	return r
}
