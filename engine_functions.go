package goGuard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MrEthical07/goGuard/backend"
	"github.com/MrEthical07/goGuard/events"
	"github.com/MrEthical07/goGuard/identity"
	"github.com/MrEthical07/goGuard/internal/rate"
	"github.com/MrEthical07/goGuard/permission"
)

// RateLimitResult is the outcome of Engine.RateLimit.
type RateLimitResult = rate.Result

// AlertReport summarizes one alert monitor run.
type AlertReport = events.Report

// CheckPermission is the authoritative decision for the bearer of
// accessToken. Roles are read from the row store, never from the token,
// and a role lookup failure is an error rather than a guess. Every
// decision is appended to the permission log.
func (e *Engine) CheckPermission(ctx context.Context, accessToken, resource, action string) (permission.Decision, error) {
	if err := e.ready(); err != nil {
		return permission.Decision{}, err
	}
	resource = strings.TrimSpace(resource)
	action = strings.TrimSpace(action)
	if resource == "" || action == "" {
		return permission.Decision{}, fmt.Errorf("%w: resource and action are required", ErrInvalidInput)
	}
	user, ctx, err := e.authenticate(ctx, accessToken)
	if err != nil {
		return permission.Decision{}, err
	}

	roles, err := e.backend.Rows.UserRoles(ctx, user.ID)
	if err != nil {
		return permission.Decision{}, fmt.Errorf("%w: load roles: %v", ErrUnavailable, err)
	}

	var tier string
	profile, err := e.backend.Rows.Profile(ctx, user.ID)
	switch {
	case err == nil:
		tier = profile.SubscriptionTier
	case !errors.Is(err, backend.ErrNotFound):
		// Tiers only add grants, so deciding without one is safe.
		e.logger.Warn("goguard: profile lookup failed, deciding without tier",
			slog.String("user_id", user.ID), slog.Any("error", err))
	}

	d := e.policy.Decide(roles, tier, resource, action)
	if err := e.backend.Rows.LogPermissionDecision(ctx, identity.PermissionDecision{
		UserID:    user.ID,
		Resource:  resource,
		Action:    action,
		Granted:   d.Granted,
		Role:      identity.EffectiveRole(roles...),
		Reason:    d.Reason,
		CheckedAt: e.now(),
	}); err != nil {
		e.logger.Warn("goguard: permission log write failed", slog.String("user_id", user.ID), slog.Any("error", err))
	}

	if d.Granted {
		e.metrics.Inc(MetricPermissionGranted)
		e.cache.Add(user.ID, identity.Permission{Resource: resource, Action: action})
		return d, nil
	}

	e.metrics.Inc(MetricPermissionDenied)
	sev := events.Medium
	if permission.IsSensitive(resource) {
		sev = events.High
	}
	e.events.Log(ctx, EventPermissionDenied, sev, map[string]any{
		"resource": resource,
		"action":   action,
		"roles":    roleNames(roles),
	})
	return d, nil
}

// adHocActionPrefix keeps caller-chosen actions apart from the engine's own
// policies, so a public caller cannot spend a login or MFA budget.
const adHocActionPrefix = "fn:"

// RateLimit applies an ad hoc policy. A limiter store failure admits the
// request.
func (e *Engine) RateLimit(ctx context.Context, identifier, action string, maxAttempts int, window time.Duration) (RateLimitResult, error) {
	if err := e.ready(); err != nil {
		return RateLimitResult{}, err
	}
	if strings.TrimSpace(action) == "" {
		return RateLimitResult{}, fmt.Errorf("%w: action is required", ErrInvalidInput)
	}
	res, err := e.limiter.Check(ctx, identifier, adHocActionPrefix+action, maxAttempts, window)
	switch {
	case errors.Is(err, rate.ErrInvalidPolicy):
		return RateLimitResult{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	case errors.Is(err, rate.ErrStoreUnavailable):
		e.metrics.Inc(MetricRateLimitStoreUnavailable)
		e.events.Log(ctx, EventRateLimitStoreUnavailable, events.Medium, map[string]any{
			"action": action,
			"error":  err.Error(),
		})
		return res, nil
	case err != nil:
		return RateLimitResult{}, err
	}
	if res.Limited {
		e.metrics.Inc(MetricRateLimitHit)
	}
	return res, nil
}

// CleanupRateLimits deletes attempt records older than retention, or
// RateLimitConfig.Retention when retention is not positive.
func (e *Engine) CleanupRateLimits(ctx context.Context, retention time.Duration) (int64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	if retention <= 0 {
		retention = e.config.RateLimit.Retention
	}
	n, err := e.limiter.Prune(ctx, retention)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if n > 0 {
		e.metrics.Add(MetricRateLimitPruned, uint64(n))
	}
	e.events.Log(ctx, EventRateLimitCleanup, events.Low, map[string]any{
		"deleted":         n,
		"retention_hours": retention.Hours(),
	})
	return n, nil
}

// RunAlertMonitor notifies subscribers about one batch of unprocessed HIGH
// and CRITICAL events.
func (e *Engine) RunAlertMonitor(ctx context.Context) (AlertReport, error) {
	if err := e.ready(); err != nil {
		return AlertReport{}, err
	}
	report, err := e.monitor.Run(ctx)
	if err != nil {
		return report, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if report.Notified > 0 {
		e.metrics.Add(MetricAlertsNotified, uint64(report.Notified))
	}
	return report, nil
}

func roleNames(roles []identity.Role) []string {
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = string(r)
	}
	return out
}
