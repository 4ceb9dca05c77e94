package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aiox-platform/chatbot/internal/api"
	"github.com/aiox-platform/chatbot/internal/bot"
	"github.com/aiox-platform/chatbot/internal/config"
	"github.com/aiox-platform/chatbot/internal/database"
	"github.com/aiox-platform/chatbot/internal/history"
	"github.com/aiox-platform/chatbot/internal/ledger"
	"github.com/aiox-platform/chatbot/internal/llm"
	mw "github.com/aiox-platform/chatbot/internal/middleware"
	inats "github.com/aiox-platform/chatbot/internal/nats"
	"github.com/aiox-platform/chatbot/internal/quota"
	iredis "github.com/aiox-platform/chatbot/internal/redis"
	"github.com/aiox-platform/chatbot/internal/server"
	"github.com/aiox-platform/chatbot/internal/supervisor"
	ixmpp "github.com/aiox-platform/chatbot/internal/xmpp"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.Log)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("bot stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("bot stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	checks := map[string]api.HealthCheck{}

	// Redis: global counters and chat history
	redisClient, err := iredis.NewClient(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer redisClient.Close()
	checks["redis"] = iredis.HealthCheck(redisClient)

	// Per-user usage store; the ledger needs Postgres too
	var (
		usageStore quota.UsageStore
		ledgerRepo *ledger.Repository
	)
	switch cfg.Quota.Store {
	case config.StoreMemory:
		usageStore = quota.NewMemoryUsageStore()
	default:
		if err := database.RunMigrations(cfg.DB.DSN(), cfg.DB.MigrationsPath); err != nil {
			return err
		}
		pool, err := database.NewPostgresPool(ctx, cfg.DB)
		if err != nil {
			return err
		}
		defer pool.Close()
		usageStore = quota.NewPostgresUsageStore(pool)
		ledgerRepo = ledger.NewRepository(pool)
	}

	quotaMgr := quota.NewManager(cfg.Quota, quota.NewRedisConfigStore(redisClient), usageStore)
	quotaHandler := quota.NewHandler(quotaMgr)
	checks["quota"] = quotaMgr.Ping

	// NATS
	natsClient, err := inats.NewClient(ctx, cfg.NATS)
	if err != nil {
		return err
	}
	defer natsClient.Close()
	checks["nats"] = natsClient.Ping

	publisher := inats.NewPublisher(natsClient.JetStream())
	consumerMgr := inats.NewConsumerManager(natsClient.JetStream())

	// XMPP
	xmppHandler := ixmpp.NewHandler(publisher)
	component, err := ixmpp.NewComponent(cfg.XMPP, xmppHandler)
	if err != nil {
		return err
	}
	checks["xmpp"] = component.Ready
	relay := ixmpp.NewOutboundRelay(xmppHandler, component.Sender(), consumerMgr)

	// Bot: each exchange is two history entries
	botSvc := bot.NewService(
		quotaMgr,
		llm.NewClient(cfg.LLM),
		history.NewStore(redisClient, 2*cfg.LLM.History, history.DefaultTTL),
		publisher,
		consumerMgr,
		bot.Options{
			SystemPrompt:      cfg.LLM.SystemPrompt,
			RateLimitCooldown: cfg.Quota.RateLimitCooldown,
			FailOpen:          cfg.Quota.FailOpen,
			Dedupe:            bot.NewRedisDeduper(redisClient, bot.DefaultDedupeTTL),
		},
	)

	// Admin HTTP API
	handlers := api.HandlerSet{
		GetGlobalQuota: quotaHandler.GetGlobal,
		GetUserQuota:   quotaHandler.GetUser,
		ResetUserQuota: quotaHandler.ResetUser,
		SetRateLimit:   quotaHandler.SetRateLimit,
	}
	if cfg.Admin.APIKey != "" {
		handlers.AdminMiddleware = mw.APIKey(cfg.Admin.APIKey)
	}
	if ledgerRepo != nil {
		handlers.GetUserUsage = ledger.NewHandler(ledgerRepo).GetUserSummary
	}
	rateLimiter := mw.NewRateLimiter(redisClient, cfg.Admin.RateLimitRequests, time.Duration(cfg.Admin.RateLimitWindowSec)*time.Second)
	router := api.NewRouter(api.RouterConfig{
		CORSAllowedOrigins: cfg.Admin.CORSAllowedOrigins,
		AdminRateLimiter:   rateLimiter.Middleware,
		Checks:             checks,
	}, handlers)
	srv := server.New(cfg.Server, router)

	policy := supervisor.DefaultPolicy()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return supervisor.Run(gctx, "cooldown", quotaMgr.Run, policy) })
	g.Go(func() error { return supervisor.Run(gctx, "bot", botSvc.Start, policy) })
	g.Go(func() error { return supervisor.Run(gctx, "outbound-relay", relay.Start, policy) })
	if ledgerRepo != nil {
		ledgerConsumer := ledger.NewConsumer(ledgerRepo, consumerMgr)
		g.Go(func() error { return supervisor.Run(gctx, "usage-ledger", ledgerConsumer.Start, policy) })
	}
	g.Go(func() error { return component.Start(gctx) })
	g.Go(func() error { return srv.Start(gctx) })

	slog.Info("bot running",
		"component", cfg.XMPP.ComponentName,
		"model", cfg.LLM.Model,
		"usage_store", cfg.Quota.Store,
	)
	return g.Wait()
}

func setupLogger(cfg config.LogConfig) {
	var handler slog.Handler

	opts := &slog.HandlerOptions{}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "info":
		opts.Level = slog.LevelInfo
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	default:
		opts.Level = slog.LevelInfo
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
