package gotrue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrEthical07/goGuard/backend"
	"github.com/MrEthical07/goGuard/identity"
)

var _ backend.CredentialStore = (*Client)(nil)

// Config locates the project. AnonKey is sent as the apikey header on every
// request.
type Config struct {
	URL     string
	AnonKey string
	Timeout time.Duration
	Client  *http.Client
	Now     func() time.Time
}

// Client talks to {URL}/auth/v1.
type Client struct {
	base      string
	key       string
	http      *http.Client
	now       func() time.Time
	listeners backend.Listeners
}

func New(cfg Config) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(cfg.URL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("gotrue: invalid url %q", cfg.URL)
	}
	if strings.TrimSpace(cfg.AnonKey) == "" {
		return nil, errors.New("gotrue: anon key is required")
	}
	hc := cfg.Client
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Client{base: u.String() + "/auth/v1", key: cfg.AnonKey, http: hc, now: now}, nil
}

type wireUser struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	CreatedAt    time.Time      `json:"created_at"`
	AppMetadata  map[string]any `json:"app_metadata"`
	UserMetadata map[string]any `json:"user_metadata"`
}

func (w wireUser) user() identity.User {
	u := identity.User{ID: w.ID, Email: w.Email, CreatedAt: w.CreatedAt, Role: identity.RoleCustomer}
	if len(w.UserMetadata) > 0 {
		u.Metadata = make(map[string]string, len(w.UserMetadata))
		for k, v := range w.UserMetadata {
			if s, ok := v.(string); ok {
				u.Metadata[k] = s
			}
		}
	}
	// app_metadata is server controlled and wins over user_metadata.
	for _, md := range []map[string]any{w.AppMetadata, w.UserMetadata} {
		if name, ok := md["role"].(string); ok {
			if r, known := identity.ParseRole(name); known {
				u.Role = r
				break
			}
		}
	}
	return u
}

type wireSession struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresIn    int64     `json:"expires_in"`
	ExpiresAt    int64     `json:"expires_at"`
	User         *wireUser `json:"user"`
}

func (c *Client) session(w wireSession) (*identity.Session, error) {
	if w.AccessToken == "" || w.User == nil {
		return nil, fmt.Errorf("%w: incomplete session", backend.ErrUnavailable)
	}
	s := &identity.Session{AccessToken: w.AccessToken, RefreshToken: w.RefreshToken, User: w.User.user()}
	switch {
	case w.ExpiresAt > 0:
		s.ExpiresAt = time.Unix(w.ExpiresAt, 0)
	case w.ExpiresIn > 0:
		s.ExpiresAt = c.now().Add(time.Duration(w.ExpiresIn) * time.Second)
	}
	return s, nil
}

// apiError is the provider's error envelope; field names vary by version.
type apiError struct {
	Code        any    `json:"code"`
	ErrorCode   string `json:"error_code"`
	Error       string `json:"error"`
	Description string `json:"error_description"`
	Msg         string `json:"msg"`
	Message     string `json:"message"`
}

func (e apiError) text() string {
	for _, s := range []string{e.Msg, e.Message, e.Description, e.Error, e.ErrorCode} {
		if s != "" {
			return s
		}
	}
	return "unknown error"
}

// classify maps an HTTP failure onto backend sentinels.
func classify(status int, body apiError, path string) error {
	msg := body.text()
	switch {
	case status == http.StatusBadRequest && strings.HasPrefix(path, "/token"):
		return fmt.Errorf("%w: %s", backend.ErrInvalidCredentials, msg)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: %s", backend.ErrUnauthorized, msg)
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %s", backend.ErrNotFound, msg)
	case status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "already registered"),
		body.ErrorCode == "user_already_exists", body.ErrorCode == "email_exists":
		return fmt.Errorf("%w: %s", backend.ErrConflict, msg)
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", backend.ErrInvalidCredentials, msg)
	default:
		return fmt.Errorf("%w: status %d: %s", backend.ErrUnavailable, status, msg)
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, bearer string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	target := c.base + path
	if len(query) > 0 {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		target += sep + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return err
	}
	req.Header.Set("apikey", c.key)
	if bearer == "" {
		bearer = c.key
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %v", backend.ErrUnavailable, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", backend.ErrUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e apiError
		_ = json.Unmarshal(raw, &e)
		return classify(resp.StatusCode, e, path)
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", backend.ErrUnavailable, path, err)
	}
	return nil
}

func (c *Client) SignIn(ctx context.Context, email, password string) (*identity.Session, error) {
	var w wireSession
	err := c.do(ctx, http.MethodPost, "/token?grant_type=password", nil, "",
		map[string]string{"email": email, "password": password}, &w)
	if err != nil {
		return nil, err
	}
	sess, err := c.session(w)
	if err != nil {
		return nil, err
	}
	c.listeners.Notify(identity.AuthChange{Kind: identity.SignedIn, Session: sess, UserID: sess.User.ID})
	return sess, nil
}

// SignUp returns a nil session when the project requires email confirmation.
func (c *Client) SignUp(ctx context.Context, req backend.SignUpRequest) (identity.User, *identity.Session, error) {
	var q url.Values
	if req.RedirectTo != "" {
		q = url.Values{"redirect_to": {req.RedirectTo}}
	}
	payload := map[string]any{"email": req.Email, "password": req.Password}
	if len(req.Metadata) > 0 {
		payload["data"] = req.Metadata
	}

	// The response is a session when auto-confirm is on and a bare user
	// otherwise.
	var raw struct {
		wireSession
		wireUser
	}
	if err := c.do(ctx, http.MethodPost, "/signup", q, "", payload, &raw); err != nil {
		return identity.User{}, nil, err
	}
	if raw.AccessToken != "" && raw.wireSession.User != nil {
		sess, err := c.session(raw.wireSession)
		if err != nil {
			return identity.User{}, nil, err
		}
		c.listeners.Notify(identity.AuthChange{Kind: identity.SignedIn, Session: sess, UserID: sess.User.ID})
		return sess.User, sess, nil
	}
	if raw.wireUser.ID == "" {
		return identity.User{}, nil, fmt.Errorf("%w: signup returned no user", backend.ErrUnavailable)
	}
	return raw.wireUser.user(), nil, nil
}

func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	err := c.do(ctx, http.MethodPost, "/logout", nil, accessToken, nil, nil)
	// An already invalid token is signed out as far as the caller cares.
	if err != nil && !errors.Is(err, backend.ErrUnauthorized) && !errors.Is(err, backend.ErrNotFound) {
		return err
	}
	c.listeners.Notify(identity.AuthChange{Kind: identity.SignedOut, AccessToken: accessToken})
	return nil
}

func (c *Client) User(ctx context.Context, accessToken string) (identity.User, error) {
	if accessToken == "" {
		return identity.User{}, fmt.Errorf("%w: missing access token", backend.ErrUnauthorized)
	}
	var w wireUser
	if err := c.do(ctx, http.MethodGet, "/user", nil, accessToken, nil, &w); err != nil {
		return identity.User{}, err
	}
	return w.user(), nil
}

func (c *Client) Refresh(ctx context.Context, refreshToken string) (*identity.Session, error) {
	var w wireSession
	err := c.do(ctx, http.MethodPost, "/token?grant_type=refresh_token", nil, "",
		map[string]string{"refresh_token": refreshToken}, &w)
	if err != nil {
		if errors.Is(err, backend.ErrInvalidCredentials) {
			return nil, fmt.Errorf("%w: refresh token rejected", backend.ErrUnauthorized)
		}
		return nil, err
	}
	sess, err := c.session(w)
	if err != nil {
		return nil, err
	}
	c.listeners.Notify(identity.AuthChange{Kind: identity.TokenRefreshed, Session: sess, UserID: sess.User.ID, RefreshToken: refreshToken})
	return sess, nil
}

func (c *Client) UpdatePassword(ctx context.Context, accessToken, newPassword string) error {
	if err := c.do(ctx, http.MethodPut, "/user", nil, accessToken, map[string]string{"password": newPassword}, nil); err != nil {
		return err
	}
	c.listeners.Notify(identity.AuthChange{Kind: identity.UserUpdated, AccessToken: accessToken})
	return nil
}

func (c *Client) ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error {
	var q url.Values
	if redirectTo != "" {
		q = url.Values{"redirect_to": {redirectTo}}
	}
	return c.do(ctx, http.MethodPost, "/recover", q, "", map[string]string{"email": email}, nil)
}

// OAuthURL builds the browser redirect that starts a provider sign-in.
func (c *Client) OAuthURL(provider, redirectTo string) (string, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return "", fmt.Errorf("%w: empty oauth provider", backend.ErrUnsupported)
	}
	q := url.Values{"provider": {provider}}
	if redirectTo != "" {
		q.Set("redirect_to", redirectTo)
	}
	return c.base + "/authorize?" + q.Encode(), nil
}

func (c *Client) Subscribe(fn func(identity.AuthChange)) func() {
	return c.listeners.Subscribe(fn)
}
