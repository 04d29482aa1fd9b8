package rate

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Policy names an action and its attempt budget.
type Policy struct {
	Action      string
	MaxAttempts int
	Window      time.Duration
}

// Validate checks that the policy can be enforced.
func (p Policy) Validate() error {
	if strings.TrimSpace(p.Action) == "" || p.MaxAttempts <= 0 || p.Window <= 0 {
		return fmt.Errorf("%w: action=%q max=%d window=%s", ErrInvalidPolicy, p.Action, p.MaxAttempts, p.Window)
	}
	return nil
}

// Result is the outcome of a single Check.
type Result struct {
	Limited   bool      `json:"limited"`
	Remaining int       `json:"remainingAttempts"`
	ResetTime time.Time `json:"resetTime"`
	Total     int       `json:"totalAttempts"`
}

// RetryAfter returns how long until the oldest counted attempt leaves the
// window, or zero when not limited.
func (r Result) RetryAfter(now time.Time) time.Duration {
	if !r.Limited || !r.ResetTime.After(now) {
		return 0
	}
	return r.ResetTime.Sub(now)
}

// Window is what a Store observed for one key.
type Window struct {
	// Count is the number of attempts in the window before this call.
	Count int
	// Oldest is the earliest attempt in the window; zero when Count is 0.
	Oldest time.Time
	// Admitted reports whether this call recorded a new attempt.
	Admitted bool
}

// Store records attempts. Admit must count and conditionally record
// atomically with respect to other Admit calls on the same key.
type Store interface {
	Admit(ctx context.Context, key string, now time.Time, window time.Duration, max int) (Window, error)
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// Limiter applies sliding-window policies on top of a Store.
type Limiter struct {
	store Store
	now   func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now; used by tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// New creates a Limiter backed by store.
func New(store Store, opts ...Option) *Limiter {
	l := &Limiter{store: store, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Check counts attempts for (identifier, action) within the trailing window
// and records this attempt only when below maxAttempts.
func (l *Limiter) Check(ctx context.Context, identifier, action string, maxAttempts int, window time.Duration) (Result, error) {
	return l.Allow(ctx, Policy{Action: action, MaxAttempts: maxAttempts, Window: window}, identifier)
}

// Allow is Check with a named policy.
func (l *Limiter) Allow(ctx context.Context, p Policy, identifier string) (Result, error) {
	if err := p.Validate(); err != nil {
		return Result{}, err
	}
	if strings.TrimSpace(identifier) == "" {
		return Result{}, fmt.Errorf("%w: empty identifier", ErrInvalidPolicy)
	}

	now := l.now()
	w, err := l.store.Admit(ctx, Key(p.Action, identifier), now, p.Window, p.MaxAttempts)
	if err != nil {
		return Result{Remaining: p.MaxAttempts, ResetTime: now}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	res := Result{
		Limited:   w.Count >= p.MaxAttempts,
		Remaining: max(0, p.MaxAttempts-w.Count),
		ResetTime: now,
		Total:     w.Count,
	}
	if w.Count > 0 && !w.Oldest.IsZero() {
		res.ResetTime = w.Oldest.Add(p.Window)
	}
	return res, nil
}

// Prune deletes attempts older than retention. It returns the number of
// records removed.
func (l *Limiter) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, fmt.Errorf("%w: retention must be positive", ErrInvalidPolicy)
	}
	n, err := l.store.Prune(ctx, l.now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n, nil
}

// Key builds the storage key for an (action, identifier) pair.
func Key(action, identifier string) string {
	return "rl:" + action + ":" + identifier
}
