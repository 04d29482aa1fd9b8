package goGuard

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/goGuard/backend"
	"github.com/MrEthical07/goGuard/events"
	"github.com/MrEthical07/goGuard/internal/loginpattern"
	"github.com/MrEthical07/goGuard/internal/rate"
	"github.com/MrEthical07/goGuard/mfa"
	"github.com/MrEthical07/goGuard/middleware"
	"github.com/MrEthical07/goGuard/permission"
	"github.com/MrEthical07/goGuard/resolver"
	"github.com/redis/go-redis/v9"
)

// asyncTimeout bounds bookkeeping that runs after a response is decided.
const asyncTimeout = 5 * time.Second

// Engine is the composition root of the pipeline. It is safe for
// concurrent use once built and until Close.
type Engine struct {
	config Config
	logger *slog.Logger
	now    func() time.Time

	backend    backend.Backend
	redis      redis.UniversalClient
	limiter    *rate.Limiter
	events     *events.Logger
	monitor    *events.Monitor
	mfa        *mfa.Engine
	challenges mfaChallengeStore
	patterns   *loginpattern.Detector
	policy     *permission.ServerPolicy
	matrix     *permission.Matrix
	cache      *permission.Cache
	remote     *permission.RemoteChecker
	loader     *resolver.Loader
	metrics    *Metrics

	cancel  context.CancelFunc
	closers []func() error
	async   sync.WaitGroup
	closed  atomic.Bool
}

var _ resolver.Authenticator = (*Engine)(nil)

func (e *Engine) ready() error {
	if e == nil || e.closed.Load() {
		return ErrEngineNotReady
	}
	return nil
}

// Close stops background work, drains pending bookkeeping and event
// persistence, and releases what Build opened. It is idempotent.
func (e *Engine) Close() error {
	if e == nil || !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	if e.cancel != nil {
		e.cancel()
	}
	e.async.Wait()
	e.events.Close()
	return e.closeResources()
}

func (e *Engine) closeResources() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	e.closers = nil
	return errors.Join(errs...)
}

// Config returns a copy of the active configuration.
func (e *Engine) Config() Config { return cloneConfig(e.config) }

func (e *Engine) Backend() backend.Backend { return e.backend }

// Events exposes the security event logger for queries and extra logging.
func (e *Engine) Events() *events.Logger { return e.events }

func (e *Engine) MFA() *mfa.Engine { return e.mfa }

func (e *Engine) PermissionCache() *permission.Cache { return e.cache }

// Loader resolves bearer tokens for stateless request handling.
func (e *Engine) Loader() *resolver.Loader { return e.loader }

func (e *Engine) Metrics() *Metrics { return e.metrics }

// MetricsSnapshot is read by the metrics exporters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot { return e.metrics.Snapshot() }

// EventsDropped counts security events that could not be queued for
// persistence.
func (e *Engine) EventsDropped() uint64 { return e.events.Dropped() }

// NewResolver returns a session resolver whose Login and Logout go through
// the Engine. The caller closes it.
func (e *Engine) NewResolver() *resolver.Resolver {
	deps := resolver.Deps{
		Credentials: e.backend.Credentials,
		Rows:        e.backend.Rows,
		Auth:        e,
		Matrix:      e.matrix,
		Cache:       e.cache,
		Logger:      e.logger,
		Now:         e.now,
	}
	if e.remote != nil {
		deps.Remote = e.remote
	}
	return resolver.New(deps, resolver.Config{
		LoadTimeout: e.config.Resolver.LoadTimeout,
		Mock:        e.remote == nil,
	})
}

// NewGuard returns a route guard resolving viewers from bearer tokens.
func (e *Engine) NewGuard(req middleware.Requirement) *middleware.Guard {
	g := middleware.New(middleware.BearerSource{Loader: e.loader}, req)
	g.Grace = e.config.Guard.Grace
	g.LoginPath = e.config.Guard.LoginPath
	g.UnauthorizedPath = e.config.Guard.UnauthorizedPath
	g.Logger = e.logger
	return g
}

// ClientContext is middleware.ClientContext honoring GuardConfig.
func (e *Engine) ClientContext() func(http.Handler) http.Handler {
	return middleware.ClientContext(e.config.Guard.TrustProxyHeaders)
}

// goAsync runs fn detached from the caller's cancellation. Close waits
// for it.
func (e *Engine) goAsync(ctx context.Context, fn func(ctx context.Context)) {
	e.async.Add(1)
	go func() {
		defer e.async.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), asyncTimeout)
		defer cancel()
		fn(ctx)
	}()
}

// allow applies p to identifier, logging limitedEvent at sev when the
// budget is spent. A limiter store failure is logged and admits the
// request.
func (e *Engine) allow(ctx context.Context, p RatePolicy, identifier, limitedEvent string, sev events.Severity, details map[string]any) error {
	res, err := e.limiter.Allow(ctx, rate.Policy{
		Action:      p.Action,
		MaxAttempts: p.MaxAttempts,
		Window:      p.Window,
	}, identifier)
	if err != nil {
		if errors.Is(err, rate.ErrStoreUnavailable) {
			e.metrics.Inc(MetricRateLimitStoreUnavailable)
			e.events.Log(ctx, EventRateLimitStoreUnavailable, events.Medium, map[string]any{
				"action": p.Action,
				"error":  err.Error(),
			})
			return nil
		}
		return err
	}
	if !res.Limited {
		return nil
	}

	e.metrics.Inc(MetricRateLimitHit)
	if details == nil {
		details = map[string]any{}
	}
	details["action"] = p.Action
	details["reset_time"] = res.ResetTime
	e.events.Log(ctx, limitedEvent, sev, details)
	return &RateLimitError{
		Action:     p.Action,
		RetryAfter: res.RetryAfter(e.now()),
		ResetTime:  res.ResetTime,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
