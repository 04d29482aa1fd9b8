package goGuard

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goGuard/backend/memory"
	"github.com/MrEthical07/goGuard/events"
	"github.com/MrEthical07/goGuard/identity"
	"github.com/MrEthical07/goGuard/mfa"
	"github.com/MrEthical07/goGuard/password"
	"github.com/MrEthical07/goGuard/permission"
	"github.com/MrEthical07/goGuard/resolver"
)

const strongPassword = "Harbor!Lantern7x"

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Password.Hashing = password.Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
	cfg.Backend.SigningKey = []byte("engine-test-key-engine-test-key-32")
	cfg.PermissionCache.SweepInterval = 0
	cfg.Metrics.EnableLatencyHistograms = true
	// Odd-hour detection depends on the wall clock.
	cfg.LoginPatterns.Enabled = false
	return cfg
}

func newTestEngine(t *testing.T, mutate func(*Config), opts ...func(*Builder)) *Engine {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	b := New().WithConfig(cfg).WithLogger(slog.New(slog.DiscardHandler))
	for _, opt := range opts {
		opt(b)
	}
	e, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func rowsOf(t *testing.T, e *Engine) *memory.Rows {
	t.Helper()
	rows, ok := e.Backend().Rows.(*memory.Rows)
	if !ok {
		t.Fatalf("rows = %T", e.Backend().Rows)
	}
	return rows
}

func findEvent(list []events.Event, eventType string) (events.Event, bool) {
	for _, ev := range list {
		if ev.Type == eventType {
			return ev, true
		}
	}
	return events.Event{}, false
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met")
}

func clientCtx(ip, ua string) context.Context {
	return WithUserAgent(WithClientIP(context.Background(), ip), ua)
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := clientCtx("198.51.100.7", "test-agent")

	_, errUnknown := e.Login(ctx, "nobody@vuebie.com", "whatever-pass")
	_, errWrong := e.Login(ctx, memory.MockMerchantEmail, "wrong-password")

	if !errors.Is(errUnknown, ErrInvalidCredentials) || !errors.Is(errWrong, ErrInvalidCredentials) {
		t.Fatalf("errors = %v / %v", errUnknown, errWrong)
	}
	if errUnknown.Error() != errWrong.Error() || errWrong.Error() != "Invalid login credentials" {
		t.Fatalf("messages differ: %q vs %q", errUnknown, errWrong)
	}

	failed := 0
	for _, ev := range e.Events().Recent(0) {
		if ev.Type == EventLoginFailed {
			failed++
			if ev.Severity != events.Medium {
				t.Fatalf("LOGIN_FAILED severity = %s", ev.Severity)
			}
			if ev.UserID != "" {
				t.Fatalf("failed login attributed to %q", ev.UserID)
			}
		}
	}
	if failed != 2 {
		t.Fatalf("LOGIN_FAILED events = %d", failed)
	}

	// Bookkeeping for the known account runs off the request path.
	rows := rowsOf(t, e)
	waitFor(t, func() bool {
		p, err := rows.Profile(context.Background(), memory.MockMerchantID)
		return err == nil && p.FailedLoginAttempts == 1
	})
	h, err := rows.LoginHistory(context.Background(), memory.MockMerchantID, 10, false)
	if err != nil || len(h) != 1 || h[0].Success {
		t.Fatalf("history = %+v, %v", h, err)
	}
	if got := e.Metrics().Value(MetricLoginFailure); got != 2 {
		t.Fatalf("login failure metric = %d", got)
	}
}

func TestLoginSuccessRecordsHistory(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := clientCtx("198.51.100.7", "test-agent")

	sess, err := e.Login(ctx, " Merchant@Vuebie.com ", memory.MockPassword)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if sess.User.ID != memory.MockMerchantID || sess.AccessToken == "" {
		t.Fatalf("session = %+v", sess)
	}

	rows := rowsOf(t, e)
	h, err := rows.LoginHistory(context.Background(), memory.MockMerchantID, 10, true)
	if err != nil || len(h) != 1 || h[0].IPAddress != "198.51.100.7" || h[0].UserAgent != "test-agent" {
		t.Fatalf("history = %+v, %v", h, err)
	}
	profile, _ := rows.Profile(context.Background(), memory.MockMerchantID)
	if profile.LastLoginAt == nil {
		t.Fatalf("last_login_at not set")
	}

	ev, ok := findEvent(e.Events().Recent(0), EventLoginSuccessful)
	if !ok || ev.Severity != events.Low || ev.UserID != memory.MockMerchantID || ev.IPAddress != "198.51.100.7" {
		t.Fatalf("LOGIN_SUCCESSFUL = %+v, %v", ev, ok)
	}
	if e.Metrics().Value(MetricLoginSuccess) != 1 {
		t.Fatalf("login success metric not counted")
	}
	if hist := e.MetricsSnapshot().Histograms[MetricLoginLatency]; len(hist) != len(HistogramBounds) {
		t.Fatalf("latency histogram = %v", hist)
	}
}

func TestLoginRateLimited(t *testing.T) {
	e := newTestEngine(t, func(c *Config) {
		c.RateLimit.Login.MaxAttempts = 2
	})
	ctx := clientCtx("203.0.113.1", "")

	for i := 0; i < 2; i++ {
		if _, err := e.Login(ctx, memory.MockMerchantEmail, "nope-nope"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}
	_, err := e.Login(ctx, memory.MockMerchantEmail, memory.MockPassword)
	var rl *RateLimitError
	if !errors.As(err, &rl) || !errors.Is(err, ErrRateLimited) {
		t.Fatalf("third attempt: %v", err)
	}
	if rl.RetryAfter <= 0 || rl.Action != "login_attempt" {
		t.Fatalf("rate limit error = %+v", rl)
	}
	if !strings.HasPrefix(rl.Error(), "Too many attempts.") {
		t.Fatalf("message = %q", rl.Error())
	}
	if ev, ok := findEvent(e.Events().Recent(0), EventLoginRateLimited); !ok || ev.Severity != events.Medium {
		t.Fatalf("LOGIN_RATE_LIMITED = %+v, %v", ev, ok)
	}

	// The key includes the client IP.
	if _, err := e.Login(clientCtx("203.0.113.2", ""), memory.MockMerchantEmail, memory.MockPassword); err != nil {
		t.Fatalf("other ip: %v", err)
	}
}

// enrollMFA signs in as email and enrolls a fresh TOTP secret.
func enrollMFA(t *testing.T, e *Engine, email string) (secret string, codes []string) {
	t.Helper()
	ctx := context.Background()
	sess, err := e.Login(ctx, email, memory.MockPassword)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	setup, err := e.SetupMFA(ctx, sess.AccessToken)
	if err != nil {
		t.Fatalf("SetupMFA: %v", err)
	}
	if !strings.HasPrefix(setup.URI, "otpauth://totp/") {
		t.Fatalf("uri = %q", setup.URI)
	}
	codes, err = e.ConfirmMFA(ctx, sess.AccessToken, setup.Secret, totpNow(t, setup.Secret))
	if err != nil {
		t.Fatalf("ConfirmMFA: %v", err)
	}
	return setup.Secret, codes
}

func totpNow(t *testing.T, secret string) string {
	t.Helper()
	raw, err := mfa.DecodeSecret(secret)
	if err != nil {
		t.Fatalf("DecodeSecret: %v", err)
	}
	code, err := mfa.GenerateCode(mfa.DefaultTOTPConfig(), raw, time.Now())
	if err != nil {
		t.Fatalf("GenerateCode: %v", err)
	}
	return code
}

func wrongCode(code string) string {
	last := code[len(code)-1]
	return code[:len(code)-1] + string('0'+(last-'0'+5)%10)
}

func mfaChallenge(t *testing.T, e *Engine, ctx context.Context, email string) string {
	t.Helper()
	_, err := e.Login(ctx, email, memory.MockPassword)
	var required *MFARequiredError
	if !errors.As(err, &required) || !errors.Is(err, ErrMFARequired) {
		t.Fatalf("Login with MFA: %v", err)
	}
	if required.ChallengeID == "" || !required.ExpiresAt.After(time.Now()) {
		t.Fatalf("challenge = %+v", required)
	}
	return required.ChallengeID
}

func TestMFALoginFlow(t *testing.T) {
	e := newTestEngine(t, nil)
	secret, _ := enrollMFA(t, e, memory.MockMerchantEmail)

	ctx := clientCtx("198.51.100.7", "browser-a")
	id := mfaChallenge(t, e, ctx, memory.MockMerchantEmail)

	if _, err := e.VerifyMFALogin(clientCtx("198.51.100.7", "browser-b"), id, totpNow(t, secret)); !errors.Is(err, ErrMFAChallengeInvalid) {
		t.Fatalf("other client: %v", err)
	}
	if _, err := e.VerifyMFALogin(ctx, id, wrongCode(totpNow(t, secret))); !errors.Is(err, ErrMFACodeInvalid) {
		t.Fatalf("wrong code: %v", err)
	}
	sess, err := e.VerifyMFALogin(ctx, id, totpNow(t, secret))
	if err != nil {
		t.Fatalf("VerifyMFALogin: %v", err)
	}
	if sess.User.ID != memory.MockMerchantID {
		t.Fatalf("session user = %q", sess.User.ID)
	}
	if _, err := e.VerifyMFALogin(ctx, id, totpNow(t, secret)); !errors.Is(err, ErrMFAChallengeInvalid) {
		t.Fatalf("challenge reuse: %v", err)
	}
	if _, err := e.VerifyMFALogin(ctx, "not-a-challenge", "123456"); !errors.Is(err, ErrMFAChallengeInvalid) {
		t.Fatalf("garbage id: %v", err)
	}

	if _, ok := findEvent(e.Events().Recent(0), EventLoginMFAChallenged); !ok {
		t.Fatalf("LOGIN_MFA_CHALLENGED not logged")
	}
	if e.Metrics().Value(MetricMFALoginSuccess) != 1 || e.Metrics().Value(MetricMFALoginFailure) != 1 {
		t.Fatalf("mfa metrics = %d / %d", e.Metrics().Value(MetricMFALoginSuccess), e.Metrics().Value(MetricMFALoginFailure))
	}
}

func TestMFARecoveryCodeIsSingleUse(t *testing.T) {
	e := newTestEngine(t, nil)
	_, codes := enrollMFA(t, e, memory.MockMerchantEmail)
	if len(codes) != 10 {
		t.Fatalf("recovery codes = %d", len(codes))
	}
	ctx := context.Background()

	id := mfaChallenge(t, e, ctx, memory.MockMerchantEmail)
	if _, err := e.VerifyMFALoginRecovery(ctx, id, codes[0]); err != nil {
		t.Fatalf("first use: %v", err)
	}
	id = mfaChallenge(t, e, ctx, memory.MockMerchantEmail)
	if _, err := e.VerifyMFALoginRecovery(ctx, id, codes[0]); !errors.Is(err, ErrMFACodeInvalid) {
		t.Fatalf("second use: %v", err)
	}
	if _, err := e.VerifyMFALoginRecovery(ctx, id, codes[1]); err != nil {
		t.Fatalf("other code: %v", err)
	}
}

func TestMFAChallengeBurnsAfterMaxAttempts(t *testing.T) {
	e := newTestEngine(t, func(c *Config) {
		c.MFA.ChallengeMaxAttempts = 2
	})
	secret, _ := enrollMFA(t, e, memory.MockMerchantEmail)
	ctx := context.Background()
	id := mfaChallenge(t, e, ctx, memory.MockMerchantEmail)

	if _, err := e.VerifyMFALogin(ctx, id, wrongCode(totpNow(t, secret))); !errors.Is(err, ErrMFACodeInvalid) {
		t.Fatalf("first wrong code: %v", err)
	}
	if _, err := e.VerifyMFALogin(ctx, id, wrongCode(totpNow(t, secret))); !errors.Is(err, ErrMFAChallengeInvalid) {
		t.Fatalf("second wrong code: %v", err)
	}
	if _, err := e.VerifyMFALogin(ctx, id, totpNow(t, secret)); !errors.Is(err, ErrMFAChallengeInvalid) {
		t.Fatalf("burned challenge accepted: %v", err)
	}
	ev, ok := findEvent(e.Events().HighSeverity(), EventMFAAttemptsExceeded)
	if !ok || ev.Severity != events.Critical {
		t.Fatalf("MFA_ATTEMPTS_EXCEEDED = %+v, %v", ev, ok)
	}
}

func TestMFAVerifyPolicyExceeded(t *testing.T) {
	e := newTestEngine(t, func(c *Config) {
		c.RateLimit.MFAVerify.MaxAttempts = 1
		c.MFA.ChallengeMaxAttempts = 10
	})
	secret, _ := enrollMFA(t, e, memory.MockMerchantEmail)
	ctx := context.Background()
	id := mfaChallenge(t, e, ctx, memory.MockMerchantEmail)

	if _, err := e.VerifyMFALogin(ctx, id, wrongCode(totpNow(t, secret))); !errors.Is(err, ErrMFACodeInvalid) {
		t.Fatalf("first attempt: %v", err)
	}
	if _, err := e.VerifyMFALogin(ctx, id, totpNow(t, secret)); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("over budget: %v", err)
	}
	ev, ok := findEvent(e.Events().HighSeverity(), EventMFAAttemptsExceeded)
	if !ok || ev.Severity != events.Critical {
		t.Fatalf("MFA_ATTEMPTS_EXCEEDED = %+v, %v", ev, ok)
	}
}

func TestAdminCannotDisableMFA(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	sess, err := e.Login(ctx, memory.MockAdminEmail, memory.MockPassword)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := e.DisableMFA(ctx, sess.AccessToken); !errors.Is(err, ErrMFARequired) {
		t.Fatalf("admin disable: %v", err)
	}
	ev, ok := findEvent(e.Events().HighSeverity(), EventMFADisableBlocked)
	if !ok || ev.Severity != events.High || ev.UserID != memory.MockAdminID {
		t.Fatalf("MFA_DISABLE_BLOCKED = %+v, %v", ev, ok)
	}
	status, err := e.MFAStatus(ctx, sess.AccessToken)
	if err != nil || !status.Required {
		t.Fatalf("admin status = %+v, %v", status, err)
	}
}

func TestMerchantMFALifecycle(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()
	secret, first := enrollMFA(t, e, memory.MockMerchantEmail)

	id := mfaChallenge(t, e, ctx, memory.MockMerchantEmail)
	sess, err := e.VerifyMFALogin(ctx, id, totpNow(t, secret))
	if err != nil {
		t.Fatalf("VerifyMFALogin: %v", err)
	}

	status, err := e.MFAStatus(ctx, sess.AccessToken)
	if err != nil || !status.Enabled || status.Required || status.State != mfa.StateEnrolled {
		t.Fatalf("status = %+v, %v", status, err)
	}

	fresh, err := e.RegenerateRecoveryCodes(ctx, sess.AccessToken)
	if err != nil || len(fresh) != len(first) || slices.Equal(fresh, first) {
		t.Fatalf("RegenerateRecoveryCodes = %v, %v", fresh, err)
	}

	if err := e.DisableMFA(ctx, sess.AccessToken); err != nil {
		t.Fatalf("DisableMFA: %v", err)
	}
	if _, err := e.Login(ctx, memory.MockMerchantEmail, memory.MockPassword); err != nil {
		t.Fatalf("Login after disable: %v", err)
	}
	if _, err := e.RegenerateRecoveryCodes(ctx, sess.AccessToken); !errors.Is(err, mfa.ErrNotEnrolled) {
		t.Fatalf("regenerate after disable: %v", err)
	}
}

func TestSignUp(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := clientCtx("192.0.2.10", "")

	_, err := e.SignUp(ctx, SignUpRequest{Email: "new@shop.test", Password: "password"})
	var pe *password.PolicyError
	if !errors.As(err, &pe) || pe.Category != password.CategoryBreach {
		t.Fatalf("breached password: %v", err)
	}

	res, err := e.SignUp(ctx, SignUpRequest{
		Email:        "New@Shop.test",
		Password:     strongPassword,
		FirstName:    "Ada",
		LastName:     "Lovelace",
		BusinessName: "Analytical Bakery",
	})
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	if res.User.Email != "new@shop.test" || res.Session == nil || res.Profile == nil {
		t.Fatalf("result = %+v", res)
	}
	if res.Profile.ContactName != "Ada Lovelace" || res.Profile.MFAEnabled || res.Profile.FailedLoginAttempts != 0 {
		t.Fatalf("profile = %+v", res.Profile)
	}

	rows := rowsOf(t, e)
	roles, _ := rows.UserRoles(ctx, res.User.ID)
	if !slices.Contains(roles, identity.RoleMerchant) {
		t.Fatalf("roles = %v", roles)
	}
	for _, want := range []string{EventSignupSuccessful, EventProfileCreated, EventPasswordPolicyRejected} {
		if _, ok := findEvent(e.Events().Recent(0), want); !ok {
			t.Fatalf("%s not logged", want)
		}
	}

	if _, err := e.SignUp(ctx, SignUpRequest{Email: "new@shop.test", Password: strongPassword}); !errors.Is(err, ErrAccountExists) {
		t.Fatalf("duplicate: %v", err)
	}
	if _, err := e.Login(ctx, "new@shop.test", strongPassword); err != nil {
		t.Fatalf("Login new account: %v", err)
	}
}

func TestSignUpRateLimitedByIP(t *testing.T) {
	e := newTestEngine(t, func(c *Config) {
		c.RateLimit.Signup.MaxAttempts = 1
	})
	ctx := clientCtx("192.0.2.11", "")

	if _, err := e.SignUp(ctx, SignUpRequest{Email: "a@shop.test", Password: strongPassword}); err != nil {
		t.Fatalf("first signup: %v", err)
	}
	if _, err := e.SignUp(ctx, SignUpRequest{Email: "b@shop.test", Password: strongPassword}); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("second signup: %v", err)
	}
	if _, ok := findEvent(e.Events().Recent(0), EventSignupRateLimited); !ok {
		t.Fatalf("SIGNUP_RATE_LIMITED not logged")
	}
}

func TestPasswordResetAndUpdate(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := e.RequestPasswordReset(ctx, memory.MockMerchantEmail, ""); err != nil {
			t.Fatalf("reset %d: %v", i, err)
		}
	}
	if err := e.RequestPasswordReset(ctx, memory.MockMerchantEmail, ""); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("fourth reset: %v", err)
	}
	if ev, ok := findEvent(e.Events().Recent(0), EventPasswordResetRequested); !ok || ev.Severity != events.Medium {
		t.Fatalf("PASSWORD_RESET_REQUESTED = %+v, %v", ev, ok)
	}

	sess, err := e.Login(ctx, memory.MockMerchantEmail, memory.MockPassword)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := e.UpdatePassword(ctx, sess.AccessToken, "short"); !errors.Is(err, password.ErrPolicyViolation) {
		t.Fatalf("weak update: %v", err)
	}
	if err := e.UpdatePassword(ctx, "bogus", strongPassword); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("bad token: %v", err)
	}
	if err := e.UpdatePassword(ctx, sess.AccessToken, strongPassword); err != nil {
		t.Fatalf("UpdatePassword: %v", err)
	}
	if _, err := e.Login(ctx, memory.MockMerchantEmail, strongPassword); err != nil {
		t.Fatalf("Login with new password: %v", err)
	}
	if ev, ok := findEvent(e.Events().Recent(0), EventPasswordUpdated); !ok || ev.UserID != memory.MockMerchantID {
		t.Fatalf("PASSWORD_UPDATED = %+v, %v", ev, ok)
	}
}

func TestCheckPermission(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()
	sess, err := e.Login(ctx, memory.MockMerchantEmail, memory.MockPassword)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	d, err := e.CheckPermission(ctx, sess.AccessToken, permission.ResourceOutlets, "read")
	if err != nil || !d.Granted {
		t.Fatalf("outlets = %+v, %v", d, err)
	}
	if !e.PermissionCache().Has(memory.MockMerchantID, identity.Permission{Resource: permission.ResourceOutlets, Action: "read"}) {
		t.Fatalf("grant not cached")
	}

	d, err = e.CheckPermission(ctx, sess.AccessToken, permission.ResourceSystemSettings, "write")
	if err != nil || d.Granted {
		t.Fatalf("system_settings = %+v, %v", d, err)
	}
	ev, ok := findEvent(e.Events().HighSeverity(), EventPermissionDenied)
	if !ok || ev.Severity != events.High {
		t.Fatalf("sensitive denial = %+v, %v", ev, ok)
	}

	if _, err := e.CheckPermission(ctx, sess.AccessToken, permission.ResourceUsers, "read"); err != nil {
		t.Fatalf("users: %v", err)
	}
	ev, _ = findEvent(e.Events().Recent(1), EventPermissionDenied)
	if ev.Severity != events.Medium {
		t.Fatalf("ordinary denial severity = %s", ev.Severity)
	}

	if got := len(rowsOf(t, e).PermissionDecisions()); got != 3 {
		t.Fatalf("permission log = %d", got)
	}
	if _, err := e.CheckPermission(ctx, "bogus", permission.ResourceOutlets, "read"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("bad token: %v", err)
	}
	if _, err := e.CheckPermission(ctx, sess.AccessToken, "", "read"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty resource: %v", err)
	}
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestRateLimitAndCleanup(t *testing.T) {
	clock := &testClock{t: time.Now()}
	e := newTestEngine(t, nil, func(b *Builder) { b.WithClock(clock.Now) })
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := e.RateLimit(ctx, "192.0.2.1", "api_call", 2, time.Minute)
		if err != nil || res.Limited {
			t.Fatalf("attempt %d = %+v, %v", i, res, err)
		}
	}
	res, err := e.RateLimit(ctx, "192.0.2.1", "api_call", 2, time.Minute)
	if err != nil || !res.Limited || res.Remaining != 0 || res.Total != 2 {
		t.Fatalf("third attempt = %+v, %v", res, err)
	}
	if _, err := e.RateLimit(ctx, "", "api_call", 2, time.Minute); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty identifier: %v", err)
	}

	clock.Advance(25 * time.Hour)
	n, err := e.CleanupRateLimits(ctx, 0)
	if err != nil || n != 2 {
		t.Fatalf("CleanupRateLimits = %d, %v", n, err)
	}
	if ev, ok := findEvent(e.Events().Recent(0), EventRateLimitCleanup); !ok || ev.Severity != events.Low {
		t.Fatalf("RATE_LIMIT_CLEANUP = %+v, %v", ev, ok)
	}
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls [][]string
}

func (n *recordingNotifier) Notify(_ context.Context, recipients []string, _ events.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, recipients)
	return nil
}

func TestRateLimitCannotSpendEngineBudgets(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if _, err := e.RateLimit(ctx, memory.MockMerchantEmail+"|unknown", "login_attempt", 1000, time.Hour); err != nil {
			t.Fatalf("RateLimit %d: %v", i, err)
		}
		if _, err := e.RateLimit(ctx, memory.MockMerchantID, "mfa_verify", 1000, time.Hour); err != nil {
			t.Fatalf("RateLimit %d: %v", i, err)
		}
	}
	if _, err := e.Login(ctx, memory.MockMerchantEmail, memory.MockPassword); err != nil {
		t.Fatalf("Login after ad hoc calls: %v", err)
	}
	if _, err := e.RateLimit(ctx, "192.0.2.1", " ", 2, time.Minute); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("blank action: %v", err)
	}
}

func TestRunAlertMonitor(t *testing.T) {
	notifier := &recordingNotifier{}
	e := newTestEngine(t, nil, func(b *Builder) { b.WithNotifier(notifier) })
	ctx := context.Background()
	rows := rowsOf(t, e)
	rows.AddNotificationSetting(events.NotificationSetting{
		Email:          "secops@vuebie.com",
		NotifySeverity: []events.Severity{events.High, events.Critical},
		Enabled:        true,
	})

	sess, err := e.Login(ctx, memory.MockAdminEmail, memory.MockPassword)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := e.DisableMFA(ctx, sess.AccessToken); !errors.Is(err, ErrMFARequired) {
		t.Fatalf("DisableMFA: %v", err)
	}
	waitFor(t, func() bool {
		pending, _ := rows.UnprocessedEvents(ctx, []events.Severity{events.High}, 10)
		return len(pending) > 0
	})

	report, err := e.RunAlertMonitor(ctx)
	if err != nil {
		t.Fatalf("RunAlertMonitor: %v", err)
	}
	if report.Notified != 1 || len(notifier.calls) != 1 || notifier.calls[0][0] != "secops@vuebie.com" {
		t.Fatalf("report = %+v, calls = %v", report, notifier.calls)
	}
	if e.Metrics().Value(MetricAlertsNotified) != 1 {
		t.Fatalf("alerts metric not counted")
	}
}

func TestLogout(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()
	sess, err := e.Login(ctx, memory.MockMerchantEmail, memory.MockPassword)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := e.Logout(ctx, sess); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := e.Backend().Credentials.User(ctx, sess.AccessToken); err == nil {
		t.Fatalf("token still valid after logout")
	}
	if ev, ok := findEvent(e.Events().Recent(0), EventUserSignedOut); !ok || ev.UserID != memory.MockMerchantID {
		t.Fatalf("USER_SIGNED_OUT = %+v, %v", ev, ok)
	}
	// A second logout of the same session is a no-op.
	if err := e.Logout(ctx, sess); err != nil {
		t.Fatalf("second Logout: %v", err)
	}
}

func TestResolverThroughEngine(t *testing.T) {
	e := newTestEngine(t, nil)
	secret, _ := enrollMFA(t, e, memory.MockMerchantEmail)
	ctx := context.Background()

	r := e.NewResolver()
	defer r.Close()

	if err := r.Login(ctx, memory.MockAdminEmail, memory.MockPassword); err != nil {
		t.Fatalf("resolver Login: %v", err)
	}
	st := r.State()
	if !st.Authenticated() || !st.HasAdminRole() {
		t.Fatalf("state = %+v", st)
	}
	if err := r.Logout(ctx); err != nil {
		t.Fatalf("resolver Logout: %v", err)
	}

	err := r.Login(ctx, memory.MockMerchantEmail, memory.MockPassword)
	var required *MFARequiredError
	if !errors.As(err, &required) {
		t.Fatalf("resolver Login with MFA: %v", err)
	}
	if r.State().Status != resolver.StatusAnonymous {
		t.Fatalf("state after challenge = %v", r.State().Status)
	}
	sess, err := e.VerifyMFALogin(ctx, required.ChallengeID, totpNow(t, secret))
	if err != nil {
		t.Fatalf("VerifyMFALogin: %v", err)
	}
	if err := r.Adopt(ctx, sess); err != nil {
		t.Fatalf("Adopt: %v", err)
	}
	if st := r.State(); !st.Authenticated() || st.User.ID != memory.MockMerchantID {
		t.Fatalf("adopted state = %+v", st)
	}
	if !r.CheckPermission(ctx, permission.ResourceOutlets, "read") {
		t.Fatalf("merchant denied outlets")
	}
}

func TestResolversDoNotShareSessions(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	alice := e.NewResolver()
	defer alice.Close()
	bob := e.NewResolver()
	defer bob.Close()

	if err := bob.Login(ctx, memory.MockMerchantEmail, memory.MockPassword); err != nil {
		t.Fatalf("bob Login: %v", err)
	}
	wctx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	st, err := alice.Wait(wctx, func(s resolver.State) bool { return s.Status != resolver.StatusIdle })
	if err == nil || st.User.ID != "" {
		t.Fatalf("alice picked up bob's session: %+v", st)
	}

	if err := bob.Logout(ctx); err != nil {
		t.Fatalf("bob Logout: %v", err)
	}
	if st := alice.State(); st.Status != resolver.StatusIdle {
		t.Fatalf("alice changed on bob's logout: %+v", st)
	}
}

func TestBuilderRejectsInvalidConfigAndReuse(t *testing.T) {
	cfg := testConfig()
	cfg.MFA.Digits = 4
	if _, err := New().WithConfig(cfg).Build(); err == nil {
		t.Fatalf("invalid config accepted")
	}

	b := New().WithConfig(testConfig()).WithLogger(slog.New(slog.DiscardHandler))
	e, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer e.Close()
	if _, err := b.Build(); err == nil {
		t.Fatalf("builder reused")
	}
}

func TestClosedEngineRefuses(t *testing.T) {
	e := newTestEngine(t, nil)
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := e.Login(context.Background(), memory.MockMerchantEmail, memory.MockPassword); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("Login after Close: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
