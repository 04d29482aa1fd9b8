package main

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	goGuard "github.com/MrEthical07/goGuard"
	"github.com/MrEthical07/goGuard/events"
	"github.com/MrEthical07/goGuard/internal/jobs"
)

// serverConfig is read from the environment. A .env file in the working
// directory is loaded first; variables already set win.
type serverConfig struct {
	Addr            string        `env:"GOGUARD_ADDR" envDefault:":8080"`
	LogLevel        string        `env:"GOGUARD_LOG_LEVEL" envDefault:"info"`
	LogFormat       string        `env:"GOGUARD_LOG_FORMAT" envDefault:"json"`
	ShutdownTimeout time.Duration `env:"GOGUARD_SHUTDOWN_TIMEOUT" envDefault:"15s"`
	AdminToken      string        `env:"GOGUARD_ADMIN_TOKEN"`
	TrustProxy      bool          `env:"GOGUARD_TRUST_PROXY" envDefault:"false"`
	RequestsPerSec  float64       `env:"GOGUARD_HTTP_RPS" envDefault:"20"`
	RequestBurst    int           `env:"GOGUARD_HTTP_BURST" envDefault:"40"`
	Metrics         bool          `env:"GOGUARD_METRICS" envDefault:"true"`
	LatencyBuckets  bool          `env:"GOGUARD_LATENCY_HISTOGRAMS" envDefault:"false"`

	SupabaseURL  string `env:"SUPABASE_URL"`
	SupabaseKey  string `env:"SUPABASE_ANON_KEY"`
	DatabaseURL  string `env:"DATABASE_URL"`
	AutoMigrate  bool   `env:"GOGUARD_AUTO_MIGRATE" envDefault:"true"`
	SiteURL      string `env:"SITE_URL" envDefault:"http://localhost:3000"`
	SigningKey   string `env:"GOGUARD_SIGNING_KEY"`
	RedisAddr    string `env:"REDIS_ADDR"`
	RedisPass    string `env:"REDIS_PASSWORD"`
	RedisDB      int    `env:"REDIS_DB" envDefault:"0"`
	PermCheckURL string `env:"PERMISSION_CHECK_URL"`

	AlertWebhookURL    string `env:"ALERT_WEBHOOK_URL"`
	AlertWebhookToken  string `env:"ALERT_WEBHOOK_TOKEN"`
	NotifyWebhookURL   string `env:"NOTIFY_WEBHOOK_URL"`
	NotifyWebhookToken string `env:"NOTIFY_WEBHOOK_TOKEN"`
	EventWorkers       int    `env:"GOGUARD_EVENT_WORKERS" envDefault:"1"`
	EventRetries       int    `env:"GOGUARD_EVENT_RETRIES" envDefault:"2"`
	SMTPHost           string `env:"SMTP_HOST"`
	SMTPPort           int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUser           string `env:"SMTP_USERNAME"`
	SMTPPass           string `env:"SMTP_PASSWORD"`
	SMTPFrom           string `env:"SMTP_FROM"`

	CleanupSchedule    string        `env:"GOGUARD_CLEANUP_SCHEDULE" envDefault:"@hourly"`
	MonitorSchedule    string        `env:"GOGUARD_MONITOR_SCHEDULE" envDefault:"@every 5m"`
	RateLimitRetention time.Duration `env:"GOGUARD_RATE_LIMIT_RETENTION" envDefault:"24h"`
}

func loadConfig() (serverConfig, error) {
	// A missing .env is the normal production case.
	_ = godotenv.Load()

	var cfg serverConfig
	if err := env.Parse(&cfg); err != nil {
		return serverConfig{}, fmt.Errorf("config: parse environment: %w", err)
	}
	return cfg, nil
}

// engineConfig overlays the environment onto goGuard.DefaultConfig.
func (c serverConfig) engineConfig() goGuard.Config {
	cfg := goGuard.DefaultConfig()
	cfg.Backend.URL = c.SupabaseURL
	cfg.Backend.AnonKey = c.SupabaseKey
	cfg.Backend.DatabaseURL = c.DatabaseURL
	cfg.Backend.AutoMigrate = c.AutoMigrate
	cfg.Backend.SiteURL = c.SiteURL
	if c.SigningKey != "" {
		cfg.Backend.SigningKey = []byte(c.SigningKey)
	}
	cfg.Redis.Addr = c.RedisAddr
	cfg.Redis.Password = c.RedisPass
	cfg.Redis.DB = c.RedisDB
	cfg.Resolver.PermissionCheckURL = c.PermCheckURL
	cfg.Guard.TrustProxyHeaders = c.TrustProxy
	cfg.Metrics.Enabled = c.Metrics
	cfg.Metrics.EnableLatencyHistograms = c.LatencyBuckets
	cfg.RateLimit.Retention = c.RateLimitRetention

	cfg.Events.AlertWebhookURL = c.AlertWebhookURL
	cfg.Events.AlertWebhookToken = c.AlertWebhookToken
	cfg.Events.NotifyWebhookURL = c.NotifyWebhookURL
	cfg.Events.NotifyWebhookToken = c.NotifyWebhookToken
	cfg.Events.SinkWorkers = c.EventWorkers
	cfg.Events.SinkRetries = c.EventRetries
	cfg.Events.SMTP = events.SMTPConfig{
		Host:     c.SMTPHost,
		Port:     c.SMTPPort,
		Username: c.SMTPUser,
		Password: c.SMTPPass,
		From:     c.SMTPFrom,
	}
	return cfg
}

func (c serverConfig) jobsConfig() jobs.Config {
	return jobs.Config{
		CleanupSpec: c.CleanupSchedule,
		MonitorSpec: c.MonitorSchedule,
		Retention:   c.RateLimitRetention,
	}
}

func (c serverConfig) logger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.LogFormat, "text") {
		return slog.New(slog.NewTextHandler(stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(stderr, opts))
}
