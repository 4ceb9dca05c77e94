package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/dotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server ServerConfig
	DB     DBConfig
	Redis  RedisConfig
	NATS   NATSConfig
	XMPP   XMPPConfig
	LLM    LLMConfig
	Quota  QuotaConfig
	Admin  AdminConfig
	Log    LogConfig
}

type ServerConfig struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
}

type DBConfig struct {
	Host           string
	Port           int
	User           string
	Password       string
	Name           string
	SSLMode        string
	MaxConns       int32
	MigrationsPath string
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type NATSConfig struct {
	URL string
}

// XMPPConfig describes the XEP-0114 component connection.
type XMPPConfig struct {
	ComponentHost   string
	ComponentPort   int
	ComponentName   string
	ComponentSecret string
}

func (c XMPPConfig) ComponentAddr() string {
	return fmt.Sprintf("%s:%d", c.ComponentHost, c.ComponentPort)
}

// LLMConfig points at an OpenAI-compatible chat completions endpoint.
type LLMConfig struct {
	BaseURL      string
	APIKey       string
	Model        string
	MaxTokens    int
	Temperature  float64
	SystemPrompt string
	History      int
	Timeout      time.Duration
}

// Usage store backends.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// QuotaConfig holds the usage ceilings. A zero quota means unlimited.
type QuotaConfig struct {
	// Store selects the per-user usage backend: "postgres" or "memory".
	Store               string
	GlobalMonthlyTokens int64
	UserHourlyTokens    int64
	UserHourlyQueries   int64
	PollInterval        time.Duration
	RateLimitCooldown   time.Duration
	FailOpen            bool
}

type AdminConfig struct {
	APIKey             string
	CORSAllowedOrigins []string
	RateLimitRequests  int
	RateLimitWindowSec int
}

type LogConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	k := koanf.New(".")

	// Load .env file if it exists (ignore error if missing)
	_ = k.Load(file.Provider(".env"), dotenv.Parser())

	// Load environment variables (override .env)
	err := k.Load(env.Provider("", ".", func(s string) string {
		return strings.ToLower(strings.ReplaceAll(s, "_", "."))
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: k.String("server.host"),
			Port: k.Int("server.port"),
		},
		DB: DBConfig{
			Host:           k.String("db.host"),
			Port:           k.Int("db.port"),
			User:           k.String("db.user"),
			Password:       k.String("db.password"),
			Name:           k.String("db.name"),
			SSLMode:        k.String("db.sslmode"),
			MaxConns:       int32(k.Int("db.max.conns")),
			MigrationsPath: k.String("db.migrations.path"),
		},
		Redis: RedisConfig{
			Host:     k.String("redis.host"),
			Port:     k.Int("redis.port"),
			Password: k.String("redis.password"),
			DB:       k.Int("redis.db"),
		},
		NATS: NATSConfig{
			URL: k.String("nats.url"),
		},
		XMPP: XMPPConfig{
			ComponentHost:   k.String("xmpp.component.host"),
			ComponentPort:   k.Int("xmpp.component.port"),
			ComponentName:   k.String("xmpp.component.name"),
			ComponentSecret: k.String("xmpp.component.secret"),
		},
		LLM: LLMConfig{
			BaseURL:      k.String("llm.base.url"),
			APIKey:       k.String("llm.api.key"),
			Model:        k.String("llm.model"),
			MaxTokens:    k.Int("llm.max.tokens"),
			Temperature:  k.Float64("llm.temperature"),
			SystemPrompt: k.String("llm.system.prompt"),
			History:      k.Int("llm.history"),
		},
		Quota: QuotaConfig{
			GlobalMonthlyTokens: k.Int64("quota.global.monthly"),
			UserHourlyTokens:    k.Int64("quota.user.hourly.tokens"),
			UserHourlyQueries:   k.Int64("quota.user.hourly.queries"),
			Store:               strings.ToLower(k.String("quota.store")),
			FailOpen:            true,
		},
		Admin: AdminConfig{
			APIKey:             k.String("admin.api.key"),
			RateLimitRequests:  k.Int("admin.ratelimit.requests"),
			RateLimitWindowSec: k.Int("admin.ratelimit.window"),
		},
		Log: LogConfig{
			Level:  k.String("log.level"),
			Format: k.String("log.format"),
		},
	}

	if k.Exists("quota.fail.open") {
		cfg.Quota.FailOpen = k.Bool("quota.fail.open")
	}
	if origins := k.String("admin.cors.origins"); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.Admin.CORSAllowedOrigins = append(cfg.Admin.CORSAllowedOrigins, o)
			}
		}
	}

	// Apply defaults
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.DB.Host == "" {
		cfg.DB.Host = "localhost"
	}
	if cfg.DB.Port == 0 {
		cfg.DB.Port = 5432
	}
	if cfg.DB.User == "" {
		cfg.DB.User = "chatbot"
	}
	if cfg.DB.Name == "" {
		cfg.DB.Name = "chatbot"
	}
	if cfg.DB.SSLMode == "" {
		cfg.DB.SSLMode = "disable"
	}
	if cfg.DB.MaxConns == 0 {
		cfg.DB.MaxConns = 10
	}
	if cfg.DB.MigrationsPath == "" {
		cfg.DB.MigrationsPath = "migrations"
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.NATS.URL == "" {
		cfg.NATS.URL = "nats://localhost:4222"
	}
	if cfg.XMPP.ComponentHost == "" {
		cfg.XMPP.ComponentHost = "localhost"
	}
	if cfg.XMPP.ComponentPort == 0 {
		cfg.XMPP.ComponentPort = 5347
	}
	if cfg.XMPP.ComponentName == "" {
		cfg.XMPP.ComponentName = "bot.localhost"
	}
	if cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "gpt-4o-mini"
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 500
	}
	if !k.Exists("llm.temperature") {
		cfg.LLM.Temperature = 0.5
	}
	if !k.Exists("llm.history") {
		cfg.LLM.History = 20
	}
	if cfg.Quota.Store == "" {
		cfg.Quota.Store = StorePostgres
	}
	if cfg.Admin.RateLimitRequests == 0 {
		cfg.Admin.RateLimitRequests = 60
	}
	if cfg.Admin.RateLimitWindowSec == 0 {
		cfg.Admin.RateLimitWindowSec = 60
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}

	// Parse durations
	cfg.LLM.Timeout, err = parseDuration(k, "llm.timeout", "120s")
	if err != nil {
		return nil, err
	}
	cfg.Quota.PollInterval, err = parseDuration(k, "quota.poll.interval", "5s")
	if err != nil {
		return nil, err
	}
	cfg.Quota.RateLimitCooldown, err = parseDuration(k, "quota.rate.limit.cooldown", "60s")
	if err != nil {
		return nil, err
	}
	cfg.Server.ShutdownTimeout, err = parseDuration(k, "server.shutdown.timeout", "15s")
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

func parseDuration(k *koanf.Koanf, key, fallback string) (time.Duration, error) {
	s := k.String(key)
	if s == "" {
		s = fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return d, nil
}
