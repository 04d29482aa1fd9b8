package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrEthical07/goGuard/backend/memory"
	"github.com/MrEthical07/goGuard/events"
	"github.com/MrEthical07/goGuard/identity"
	"github.com/MrEthical07/goGuard/password"
	"github.com/MrEthical07/goGuard/permission"
	"github.com/MrEthical07/goGuard/resolver"
)

func authed(roles ...identity.Role) resolver.State {
	return resolver.State{
		Status: resolver.StatusAuthenticated,
		User:   identity.User{ID: "u1", Email: "u1@example.com", Role: identity.EffectiveRole(roles...)},
		Role:   identity.EffectiveRole(roles...),
		Roles:  roles,
	}
}

func TestDecide(t *testing.T) {
	cases := []struct {
		name string
		st   resolver.State
		req  Requirement
		want DecisionKind
	}{
		{"idle waits", resolver.State{Status: resolver.StatusIdle}, Requirement{}, Loading},
		{"loading waits", resolver.State{Status: resolver.StatusLoading}, Requirement{}, Loading},
		{"anonymous to login", resolver.State{Status: resolver.StatusAnonymous}, Requirement{}, RedirectLogin},
		{"customer refused by default", authed(identity.RoleCustomer), Requirement{}, RedirectUnauthorized},
		{"merchant admitted by default", authed(identity.RoleMerchant), Requirement{}, Admit},
		{"merchant refused admin", authed(identity.RoleMerchant), Requirement{RequireAdmin: true}, RedirectUnauthorized},
		{"admin admitted admin", authed(identity.RoleAdmin), Requirement{RequireAdmin: true}, Admit},
		{"super admin admitted admin", authed(identity.RoleSuperAdmin), Requirement{RequireAdmin: true}, Admit},
		{"admin refused super admin", authed(identity.RoleAdmin), Requirement{RequireSuperAdmin: true}, RedirectUnauthorized},
		{"super admin admitted super admin", authed(identity.RoleSuperAdmin), Requirement{RequireSuperAdmin: true}, Admit},
		{"explicit admin role list", authed(identity.RoleSuperAdmin), Requirement{Roles: []identity.Role{identity.RoleAdmin}}, Admit},
		{"explicit customer role list", authed(identity.RoleCustomer), Requirement{Roles: []identity.Role{identity.RoleCustomer}}, Admit},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := Decide(tc.st, tc.req, "/campaigns")
			if d.Kind != tc.want {
				t.Fatalf("Decide = %v, want %v", d.Kind, tc.want)
			}
			if d.Kind == RedirectLogin && d.From != "/campaigns" {
				t.Fatalf("From = %q", d.From)
			}
		})
	}
}

// slowViewer reports loading until settleAfter has elapsed.
type slowViewer struct {
	final       resolver.State
	settleAfter time.Duration
}

func (slowViewer) State() resolver.State { return resolver.State{Status: resolver.StatusLoading} }

func (s slowViewer) Wait(ctx context.Context, pred func(resolver.State) bool) (resolver.State, error) {
	select {
	case <-time.After(s.settleAfter):
		return s.final, nil
	case <-ctx.Done():
		return s.State(), ctx.Err()
	}
}

func TestEvaluateGracePeriod(t *testing.T) {
	g := &Guard{Grace: 200 * time.Millisecond}

	d := g.Evaluate(context.Background(), slowViewer{final: authed(identity.RoleMerchant), settleAfter: 10 * time.Millisecond}, "/")
	if d.Kind != Admit {
		t.Fatalf("viewer settling within grace: %v", d.Kind)
	}

	start := time.Now()
	d = g.Evaluate(context.Background(), slowViewer{final: authed(identity.RoleMerchant), settleAfter: time.Hour}, "/")
	if d.Kind != Loading {
		t.Fatalf("viewer never settling: %v", d.Kind)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Evaluate waited %v", elapsed)
	}
}

func TestEvaluateWaitsForResolver(t *testing.T) {
	creds, err := memory.NewCredentials(memory.Config{
		Password:      password.Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32},
		SigningKey:    []byte("guard-test-key-guard-test-key-guard"),
		SeedMockUsers: true,
	})
	if err != nil {
		t.Fatalf("NewCredentials: %v", err)
	}
	rows := memory.NewRows()
	rows.SeedMockRows(time.Now())
	r := resolver.New(resolver.Deps{Credentials: creds, Rows: rows}, resolver.Config{IgnoreAuthChanges: true})
	defer r.Close()

	g := &Guard{Requirement: Requirement{RequireAdmin: true}, Grace: 2 * time.Second}
	go func() {
		_ = r.Login(context.Background(), memory.MockAdminEmail, memory.MockPassword)
	}()
	if d := g.Evaluate(context.Background(), r, "/admin"); d.Kind != Admit {
		t.Fatalf("Evaluate = %v", d.Kind)
	}
}

type staticSource struct {
	st resolver.State
}

func (s staticSource) Viewer(*http.Request) (Viewer, error) { return Snapshot(s.st), nil }

func TestHandlerRedirects(t *testing.T) {
	var seen View
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = ViewFromContext(r.Context())
		if events.ActorFromContext(r.Context()).UserID != "u1" {
			t.Errorf("actor user not attached")
		}
		w.WriteHeader(http.StatusNoContent)
	})

	anon := &Guard{Source: staticSource{resolver.State{Status: resolver.StatusAnonymous}}}
	rec := httptest.NewRecorder()
	anon.Handler(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/campaigns?tab=active", nil))
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/login?from=%2Fcampaigns%3Ftab%3Dactive" {
		t.Fatalf("anonymous: %d %q", rec.Code, rec.Header().Get("Location"))
	}

	merchant := &Guard{
		Source:           staticSource{authed(identity.RoleMerchant)},
		Requirement:      Requirement{RequireAdmin: true},
		UnauthorizedPath: "/dashboard",
	}
	rec = httptest.NewRecorder()
	merchant.Handler(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/users", nil))
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/dashboard" {
		t.Fatalf("unauthorized: %d %q", rec.Code, rec.Header().Get("Location"))
	}

	admin := &Guard{Source: staticSource{authed(identity.RoleSuperAdmin, identity.RoleMerchant)}, Requirement: Requirement{RequireAdmin: true}}
	rec = httptest.NewRecorder()
	admin.Handler(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/users", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("admit: %d", rec.Code)
	}
	if seen.User == nil || seen.User.ID != "u1" || !seen.HasAdminRole || !seen.HasSuperAdminRole || !seen.HasMerchantRole || seen.Loading {
		t.Fatalf("view = %+v", seen)
	}
	if len(seen.Resources) != len(permission.Resources) {
		t.Fatalf("super admin nav = %v", seen.Resources)
	}

	loading := &Guard{Source: staticSource{resolver.State{Status: resolver.StatusLoading}}, Grace: 10 * time.Millisecond}
	rec = httptest.NewRecorder()
	loading.Handler(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusServiceUnavailable || rec.Header().Get("Retry-After") == "" {
		t.Fatalf("loading: %d", rec.Code)
	}
}

func TestBearerSourceLoadsViewer(t *testing.T) {
	creds, err := memory.NewCredentials(memory.Config{
		Password:      password.Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32},
		SigningKey:    []byte("guard-test-key-guard-test-key-guard"),
		SeedMockUsers: true,
	})
	if err != nil {
		t.Fatalf("NewCredentials: %v", err)
	}
	rows := memory.NewRows()
	rows.SeedMockRows(time.Now())
	sess, err := creds.SignIn(context.Background(), memory.MockMerchantEmail, memory.MockPassword)
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}

	g := New(BearerSource{Loader: resolver.NewLoader(creds, rows, nil)}, Requirement{})
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		v, ok := ViewFromContext(r.Context())
		if !ok || v.User == nil || v.User.ID != memory.MockMerchantID {
			t.Errorf("view = %+v", v)
		}
	})

	req := httptest.NewRequest(http.MethodGet, "/outlets", nil)
	req.Header.Set("Authorization", "Bearer "+sess.AccessToken)
	rec := httptest.NewRecorder()
	g.Handler(next).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("with token: %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/outlets", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec = httptest.NewRecorder()
	g.Handler(next).ServeHTTP(rec, req)
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("bad token: %d", rec.Code)
	}
}

func TestBearerToken(t *testing.T) {
	for in, want := range map[string]string{
		"Bearer abc":   "abc",
		"bearer abc ":  "abc",
		"Bearer ":      "",
		"Basic abc":    "",
		"":             "",
		"Bearerabc123": "",
	} {
		got, ok := BearerToken(in)
		if got != want || ok != (want != "") {
			t.Fatalf("BearerToken(%q) = %q, %v", in, got, ok)
		}
	}
}

func TestClientContext(t *testing.T) {
	var actor events.Actor
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor = events.ActorFromContext(r.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.5:4321"
	req.Header.Set("User-Agent", "test-agent")
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")

	ClientContext(false)(next).ServeHTTP(httptest.NewRecorder(), req)
	if actor.IPAddress != "10.0.0.5" || actor.UserAgent != "test-agent" {
		t.Fatalf("untrusted actor = %+v", actor)
	}
	ClientContext(true)(next).ServeHTTP(httptest.NewRecorder(), req)
	if actor.IPAddress != "203.0.113.9" {
		t.Fatalf("trusted actor = %+v", actor)
	}
}
