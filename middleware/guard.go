package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/MrEthical07/goGuard/backend"
	"github.com/MrEthical07/goGuard/events"
	"github.com/MrEthical07/goGuard/identity"
	"github.com/MrEthical07/goGuard/resolver"
)

// DecisionKind is the outcome of a guard evaluation.
type DecisionKind int

const (
	Admit DecisionKind = iota
	Loading
	RedirectLogin
	RedirectUnauthorized
)

func (k DecisionKind) String() string {
	switch k {
	case Admit:
		return "admit"
	case Loading:
		return "loading"
	case RedirectLogin:
		return "redirect_login"
	case RedirectUnauthorized:
		return "redirect_unauthorized"
	default:
		return "unknown"
	}
}

// Decision carries the kind and, for RedirectLogin, the path to return to.
type Decision struct {
	Kind DecisionKind
	From string
}

// Requirement describes who may enter a route. An empty Roles list means the
// dashboard roles: merchant, admin and super_admin.
type Requirement struct {
	Roles             []identity.Role
	RequireAdmin      bool
	RequireSuperAdmin bool
}

var defaultRoles = []identity.Role{identity.RoleMerchant, identity.RoleAdmin, identity.RoleSuperAdmin}

func (q Requirement) roles() []identity.Role {
	if len(q.Roles) == 0 {
		return defaultRoles
	}
	return q.Roles
}

// Decide maps a resolver snapshot to a decision.
func Decide(st resolver.State, req Requirement, path string) Decision {
	if !st.Settled() {
		return Decision{Kind: Loading}
	}
	if !st.Authenticated() {
		return Decision{Kind: RedirectLogin, From: path}
	}
	if req.RequireSuperAdmin && !st.HasSuperAdminRole() {
		return Decision{Kind: RedirectUnauthorized}
	}
	if req.RequireAdmin && !st.HasAdminRole() {
		return Decision{Kind: RedirectUnauthorized}
	}
	if !slices.ContainsFunc(req.roles(), func(r identity.Role) bool { return satisfies(st, r) }) {
		return Decision{Kind: RedirectUnauthorized}
	}
	return Decision{Kind: Admit}
}

// satisfies treats super_admin as holding admin.
func satisfies(st resolver.State, r identity.Role) bool {
	if r == identity.RoleAdmin {
		return st.HasAdminRole()
	}
	return st.HasRole(r)
}

// Viewer is a source of resolver snapshots. *resolver.Resolver is one.
type Viewer interface {
	State() resolver.State
	Wait(ctx context.Context, pred func(resolver.State) bool) (resolver.State, error)
}

// Snapshot is a Viewer for a state that will not change.
type Snapshot resolver.State

func (s Snapshot) State() resolver.State { return resolver.State(s) }

func (s Snapshot) Wait(ctx context.Context, pred func(resolver.State) bool) (resolver.State, error) {
	return resolver.State(s), nil
}

// ViewerSource resolves the viewer of a request.
type ViewerSource interface {
	Viewer(r *http.Request) (Viewer, error)
}

// BearerSource loads the viewer from the Authorization header. Requests
// without a token are anonymous.
type BearerSource struct {
	Loader *resolver.Loader
}

func (b BearerSource) Viewer(r *http.Request) (Viewer, error) {
	token, ok := BearerToken(r.Header.Get("Authorization"))
	if !ok {
		return Snapshot(resolver.State{Status: resolver.StatusAnonymous}), nil
	}
	st, err := b.Loader.Load(r.Context(), token)
	if err != nil {
		return Snapshot(resolver.State{Status: resolver.StatusAnonymous}), err
	}
	return Snapshot(st), nil
}

// Guard applies a Requirement to requests.
type Guard struct {
	Requirement Requirement
	Source      ViewerSource

	// Grace bounds how long Evaluate waits for a loading viewer.
	Grace            time.Duration
	LoginPath        string
	UnauthorizedPath string
	Logger           *slog.Logger
}

const (
	DefaultGrace            = 500 * time.Millisecond
	DefaultLoginPath        = "/login"
	DefaultUnauthorizedPath = "/"
)

// New returns a guard with default paths and grace.
func New(source ViewerSource, req Requirement) *Guard {
	return &Guard{Requirement: req, Source: source}
}

func (g *Guard) grace() time.Duration {
	if g.Grace <= 0 {
		return DefaultGrace
	}
	return g.Grace
}

func (g *Guard) logger() *slog.Logger {
	if g.Logger == nil {
		return slog.Default()
	}
	return g.Logger
}

// Evaluate decides for v, waiting up to the grace period while it is still
// loading.
func (g *Guard) Evaluate(ctx context.Context, v Viewer, path string) Decision {
	d, _ := g.evaluate(ctx, v, path)
	return d
}

func (g *Guard) evaluate(ctx context.Context, v Viewer, path string) (Decision, resolver.State) {
	st := v.State()
	if !st.Settled() {
		waitCtx, cancel := context.WithTimeout(ctx, g.grace())
		st, _ = v.Wait(waitCtx, resolver.State.Settled)
		cancel()
	}
	return Decide(st, g.Requirement, path), st
}

// Handler wraps next with the guard.
func (g *Guard) Handler(next http.Handler) http.Handler {
	loginPath := g.LoginPath
	if loginPath == "" {
		loginPath = DefaultLoginPath
	}
	unauthorizedPath := g.UnauthorizedPath
	if unauthorizedPath == "" {
		unauthorizedPath = DefaultUnauthorizedPath
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.Source == nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		v, err := g.Source.Viewer(r)
		if err != nil && !errors.Is(err, backend.ErrUnauthorized) {
			g.logger().Warn("goguard: viewer resolution failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		}

		d, st := g.evaluate(r.Context(), v, r.URL.RequestURI())
		switch d.Kind {
		case Admit:
			ctx := withView(r.Context(), viewOf(st))
			ctx = events.WithActor(ctx, events.Actor{UserID: st.User.ID})
			next.ServeHTTP(w, r.WithContext(ctx))
		case Loading:
			w.Header().Set("Retry-After", "1")
			http.Error(w, "loading", http.StatusServiceUnavailable)
		case RedirectLogin:
			http.Redirect(w, r, loginPath+"?from="+url.QueryEscape(d.From), http.StatusSeeOther)
		default:
			http.Redirect(w, r, unauthorizedPath, http.StatusSeeOther)
		}
	})
}

// BearerToken extracts the token of an "Authorization: Bearer" header.
func BearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
