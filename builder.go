package goGuard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrEthical07/goGuard/backend"
	"github.com/MrEthical07/goGuard/events"
	"github.com/MrEthical07/goGuard/internal/loginpattern"
	"github.com/MrEthical07/goGuard/internal/rate"
	"github.com/MrEthical07/goGuard/mfa"
	"github.com/MrEthical07/goGuard/permission"
	"github.com/MrEthical07/goGuard/resolver"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an Engine. Configure it during initialization, call
// Build once, and discard it.
type Builder struct {
	config Config
	logger *slog.Logger
	now    func() time.Time

	backend  *backend.Backend
	redis    redis.UniversalClient
	alerter  events.Alerter
	notifier events.Notifier
	sink     events.Sink

	built bool
}

// New starts from DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithBackend supplies the collaborators instead of opening them from
// Config.Backend. The Engine does not close a supplied backend.
func (b *Builder) WithBackend(bk backend.Backend) *Builder {
	b.backend = &bk
	return b
}

// WithRedis backs the rate limiter and MFA login challenges with client.
// The Engine does not close a supplied client.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithAlerter replaces the CRITICAL event alerter.
func (b *Builder) WithAlerter(a events.Alerter) *Builder {
	b.alerter = a
	return b
}

// WithNotifier replaces the alert monitor's delivery channel.
func (b *Builder) WithNotifier(n events.Notifier) *Builder {
	b.notifier = n
	return b
}

// WithEventSink adds a sink next to the row store.
func (b *Builder) WithEventSink(s events.Sink) *Builder {
	b.sink = s
	return b
}

func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires every component. Resources
// opened here are released by Engine.Close.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	now := b.now
	if now == nil {
		now = time.Now
	}

	e := &Engine{
		config:  cfg,
		logger:  logger,
		now:     now,
		metrics: NewMetrics(cfg.Metrics),
	}

	// -------- BACKEND --------
	var dbRateStore rate.Store
	if b.backend != nil {
		if b.backend.Credentials == nil || b.backend.Rows == nil {
			return nil, errors.New("backend requires credentials and rows")
		}
		e.backend = *b.backend
	} else {
		opened, err := openBackend(context.Background(), cfg.Backend, cfg.Password.Hashing, logger)
		if err != nil {
			return nil, err
		}
		e.backend = opened.Backend
		dbRateStore = opened.rateStore
		e.closers = append(e.closers, func() error { return closeBackend(opened.Backend) })
	}

	// -------- REDIS --------
	client := b.redis
	if client == nil && cfg.Redis.Addr != "" {
		rc := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Backend.Timeout)
		err := rc.Ping(ctx).Err()
		cancel()
		if err != nil {
			_ = rc.Close()
			e.closeResources()
			return nil, fmt.Errorf("redis ping %s: %w", cfg.Redis.Addr, err)
		}
		client = rc
		e.closers = append(e.closers, rc.Close)
	}
	e.redis = client

	// -------- RATE LIMITER --------
	var store rate.Store
	switch {
	case client != nil:
		store = rate.NewRedisStore(client, cfg.RateLimit.RedisPrefix)
	case dbRateStore != nil:
		store = dbRateStore
	default:
		store = rate.NewMemoryStore()
	}
	e.limiter = rate.New(store, rate.WithClock(now))

	// -------- SECURITY EVENTS --------
	sinks := events.MultiSink{events.NewStoreSink(e.backend.Rows)}
	if e.backend.Mock {
		sinks = append(sinks, events.NewSlogSink(logger))
	}
	if b.sink != nil {
		sinks = append(sinks, b.sink)
	}
	alerter := b.alerter
	if alerter == nil {
		if cfg.Events.AlertWebhookURL != "" {
			alerter = events.NewWebhookAlerter(cfg.Events.AlertWebhookURL, cfg.Events.AlertWebhookToken)
		} else {
			alerter = events.SlogAlerter{Logger: logger}
		}
	}
	e.events = events.NewLogger(events.Config{
		RecentCapacity: cfg.Events.RecentCapacity,
		HighCapacity:   cfg.Events.HighCapacity,
		BufferSize:     cfg.Events.BufferSize,
		DropIfFull:     cfg.Events.DropIfFull,
		AlertTimeout:   cfg.Events.AlertTimeout,
		SinkWorkers:    cfg.Events.SinkWorkers,
		SinkRetries:    cfg.Events.SinkRetries,
	},
		events.WithSink(sinks),
		events.WithStore(e.backend.Rows),
		events.WithAlerter(alerter),
		events.WithSlog(logger),
		events.WithClock(now),
	)

	notifier := b.notifier
	if notifier == nil {
		switch {
		case cfg.Events.SMTP.Host != "":
			notifier = events.NewSMTPNotifier(cfg.Events.SMTP)
		case cfg.Events.NotifyWebhookURL != "":
			notifier = &events.WebhookNotifier{URL: cfg.Events.NotifyWebhookURL, Token: cfg.Events.NotifyWebhookToken}
		default:
			notifier = events.SlogNotifier{Alerter: events.SlogAlerter{Logger: logger}}
		}
	}
	monitor, err := events.NewMonitor(e.backend.Rows, e.backend.Rows, notifier, logger, cfg.Events.MonitorBatchSize)
	if err != nil {
		e.closeResources()
		return nil, err
	}
	e.monitor = monitor

	// -------- MFA --------
	e.mfa = mfa.NewEngine(mfa.Config{
		TOTP: mfa.TOTPConfig{
			Issuer: cfg.MFA.Issuer,
			Digits: cfg.MFA.Digits,
			Period: cfg.MFA.PeriodSeconds,
			Skew:   cfg.MFA.Skew,
		},
		RecoveryCodeCount:  cfg.MFA.RecoveryCodeCount,
		RecoveryCodeLength: cfg.MFA.RecoveryCodeLength,
	}, e.backend.Rows, e.backend.Rows, e.events, mfa.WithClock(now))

	if client != nil {
		e.challenges = newRedisChallengeStore(client, cfg.Redis.KeyPrefix, now)
	} else {
		e.challenges = newMemoryChallengeStore(now)
	}

	// -------- LOGIN PATTERNS --------
	if cfg.LoginPatterns.Enabled {
		loc := time.UTC
		if cfg.LoginPatterns.TimeZone != "" {
			// Validate already loaded it once.
			loc, _ = time.LoadLocation(cfg.LoginPatterns.TimeZone)
		}
		e.patterns = loginpattern.NewDetector(e.backend.Rows, loginpattern.Thresholds{}, loc)
	}

	// -------- PERMISSIONS --------
	e.policy = permission.NewServerPolicy()
	e.matrix = permission.NewMatrix()
	e.cache = permission.NewCache(permission.CacheConfig{
		TTL:        cfg.PermissionCache.TTL,
		MaxEntries: cfg.PermissionCache.MaxEntries,
	})
	e.cache.SetClock(now)
	if cfg.Resolver.PermissionCheckURL != "" {
		e.remote = permission.NewRemoteChecker(cfg.Resolver.PermissionCheckURL)
	}

	e.loader = resolver.NewLoader(e.backend.Credentials, e.backend.Rows, logger)

	var bgCtx context.Context
	bgCtx, e.cancel = context.WithCancel(context.Background())
	if cfg.PermissionCache.SweepInterval > 0 {
		e.cache.StartSweeper(bgCtx, cfg.PermissionCache.SweepInterval)
	}

	b.built = true

	logger.Info("engine_built",
		slog.Bool("mock_backend", e.backend.Mock),
		slog.Bool("redis", client != nil),
		slog.Bool("login_patterns", e.patterns != nil),
	)
	return e, nil
}
