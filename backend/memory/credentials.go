package memory

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrEthical07/goGuard/backend"
	"github.com/MrEthical07/goGuard/identity"
	"github.com/MrEthical07/goGuard/internal"
	"github.com/MrEthical07/goGuard/jwt"
	"github.com/MrEthical07/goGuard/password"
)

// Mock accounts seeded by Config.SeedMockUsers.
const (
	MockPassword = "123456"

	MockSuperAdminEmail = "superadmin@vuebie.com"
	MockAdminEmail      = "admin@vuebie.com"
	MockMerchantEmail   = "merchant@vuebie.com"

	MockSuperAdminID = "mock-super-admin-id"
	MockAdminID      = "mock-admin-id"
	MockMerchantID   = "mock-merchant-id"
)

type mockAccount struct {
	id, email, name string
	role            identity.Role
}

var mockAccounts = []mockAccount{
	{MockSuperAdminID, MockSuperAdminEmail, "Super Admin User", identity.RoleSuperAdmin},
	{MockAdminID, MockAdminEmail, "Admin User", identity.RoleAdmin},
	{MockMerchantID, MockMerchantEmail, "Merchant User", identity.RoleMerchant},
}

// Config tunes the stand-in. Zero values select development defaults.
type Config struct {
	Password   password.Config
	SigningKey []byte
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	ResetTTL   time.Duration
	// SiteURL prefixes OAuth and reset links.
	SiteURL       string
	SeedMockUsers bool
	// OnReset receives every issued reset link. When nil the link is
	// logged at Debug.
	OnReset func(email, link string)
	Now     func() time.Time
	Logger  *slog.Logger
}

func (c Config) normalized() (Config, error) {
	if c.Password == (password.Config{}) {
		c.Password = password.DefaultConfig()
	}
	if len(c.SigningKey) == 0 {
		tok, err := internal.NewOpaqueToken()
		if err != nil {
			return c, err
		}
		c.SigningKey = tok.Secret[:]
	}
	if c.Issuer == "" {
		c.Issuer = "goguard-mock"
	}
	if c.AccessTTL <= 0 {
		c.AccessTTL = time.Hour
	}
	if c.RefreshTTL <= 0 {
		c.RefreshTTL = 7 * 24 * time.Hour
	}
	if c.ResetTTL <= 0 {
		c.ResetTTL = time.Hour
	}
	if c.SiteURL == "" {
		c.SiteURL = "http://localhost:3000"
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c, nil
}

type account struct {
	user identity.User
	hash string
}

type grant struct {
	userID    string
	hash      [32]byte
	expiresAt time.Time
}

// Credentials implements backend.CredentialStore. Access tokens are HS256
// JWTs; refresh and reset tokens are opaque and stored as hashes.
type Credentials struct {
	cfg    Config
	hasher *password.Hasher
	tokens *jwt.Manager
	// dummyHash keeps unknown-email sign-ins as slow as wrong passwords.
	dummyHash string

	mu       sync.RWMutex
	byEmail  map[string]*account
	byID     map[string]*account
	refresh  map[internal.SessionID]grant
	resets   map[internal.SessionID]grant
	sessions map[string]string // sid -> user id

	listeners backend.Listeners
}

// NewCredentials builds an empty store, seeding the mock accounts when
// configured.
func NewCredentials(cfg Config) (*Credentials, error) {
	cfg, err := cfg.normalized()
	if err != nil {
		return nil, err
	}
	hasher, err := password.NewHasher(cfg.Password)
	if err != nil {
		return nil, err
	}
	tokens, err := jwt.NewManager(jwt.Config{
		Secret:        cfg.SigningKey,
		AccessTTL:     cfg.AccessTTL,
		PrivilegedTTL: cfg.AccessTTL,
		Issuer:        cfg.Issuer,
		Leeway:        5 * time.Second,
		Now:           cfg.Now,
	})
	if err != nil {
		return nil, err
	}
	dummy, err := hasher.Hash(uuid.NewString())
	if err != nil {
		return nil, err
	}

	c := &Credentials{
		cfg:       cfg,
		hasher:    hasher,
		tokens:    tokens,
		dummyHash: dummy,
		byEmail:   make(map[string]*account),
		byID:      make(map[string]*account),
		refresh:   make(map[internal.SessionID]grant),
		resets:    make(map[internal.SessionID]grant),
		sessions:  make(map[string]string),
	}
	if cfg.SeedMockUsers {
		hash, err := hasher.Hash(MockPassword)
		if err != nil {
			return nil, err
		}
		for _, m := range mockAccounts {
			c.put(&account{
				user: identity.User{
					ID:        m.id,
					Email:     m.email,
					Role:      m.role,
					Metadata:  map[string]string{"full_name": m.name, "role": string(m.role)},
					CreatedAt: cfg.Now(),
				},
				hash: hash,
			})
		}
	}
	return c, nil
}

func (c *Credentials) put(a *account) {
	c.byEmail[normalizeEmail(a.user.Email)] = a
	c.byID[a.user.ID] = a
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SignIn answers ErrInvalidCredentials for unknown emails and wrong
// passwords alike.
func (c *Credentials) SignIn(ctx context.Context, email, pw string) (*identity.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	acct, ok := c.byEmail[normalizeEmail(email)]
	var hash string
	var user identity.User
	if ok {
		hash, user = acct.hash, acct.user
	}
	c.mu.RUnlock()

	if !ok {
		_, _ = c.hasher.Verify(pw, c.dummyHash)
		return nil, backend.ErrInvalidCredentials
	}
	match, err := c.hasher.Verify(pw, hash)
	if err != nil || !match {
		return nil, backend.ErrInvalidCredentials
	}

	sess, err := c.issue(user)
	if err != nil {
		return nil, err
	}
	c.listeners.Notify(identity.AuthChange{Kind: identity.SignedIn, Session: sess, UserID: user.ID})
	return sess, nil
}

// SignUp creates a merchant account and signs it in. The stand-in never
// requires email confirmation.
func (c *Credentials) SignUp(ctx context.Context, req backend.SignUpRequest) (identity.User, *identity.Session, error) {
	if err := ctx.Err(); err != nil {
		return identity.User{}, nil, err
	}
	addr, err := mail.ParseAddress(strings.TrimSpace(req.Email))
	if err != nil {
		return identity.User{}, nil, fmt.Errorf("%w: invalid email", backend.ErrInvalidCredentials)
	}
	email := normalizeEmail(addr.Address)
	hash, err := c.hasher.Hash(req.Password)
	if err != nil {
		return identity.User{}, nil, fmt.Errorf("%w: %v", backend.ErrInvalidCredentials, err)
	}

	meta := make(map[string]string, len(req.Metadata)+1)
	for k, v := range req.Metadata {
		meta[k] = v
	}
	meta["role"] = string(identity.RoleMerchant)
	user := identity.User{
		ID:        uuid.NewString(),
		Email:     email,
		Role:      identity.RoleMerchant,
		Metadata:  meta,
		CreatedAt: c.cfg.Now(),
	}

	c.mu.Lock()
	if _, exists := c.byEmail[email]; exists {
		c.mu.Unlock()
		return identity.User{}, nil, fmt.Errorf("%w: email already registered", backend.ErrConflict)
	}
	c.put(&account{user: user, hash: hash})
	c.mu.Unlock()

	sess, err := c.issue(user)
	if err != nil {
		return user, nil, err
	}
	c.listeners.Notify(identity.AuthChange{Kind: identity.SignedIn, Session: sess, UserID: user.ID})
	return user, sess, nil
}

func (c *Credentials) issue(user identity.User) (*identity.Session, error) {
	tok, err := internal.NewOpaqueToken()
	if err != nil {
		return nil, err
	}
	sid := tok.ID.String()
	access, exp, err := c.tokens.Mint(jwt.Subject{
		UserID:     user.ID,
		Email:      user.Email,
		Role:       string(user.Role),
		SessionID:  sid,
		Privileged: user.Role.IsPrivileged(),
	})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.refresh[tok.ID] = grant{userID: user.ID, hash: tok.Hash(), expiresAt: c.cfg.Now().Add(c.cfg.RefreshTTL)}
	c.sessions[sid] = user.ID
	c.mu.Unlock()

	return &identity.Session{
		AccessToken:  access,
		RefreshToken: tok.Encode(),
		ExpiresAt:    exp,
		User:         cloneUser(user),
	}, nil
}

// authorize resolves an access token to its live session.
func (c *Credentials) authorize(accessToken string) (string, *account, error) {
	claims, err := c.tokens.Parse(accessToken)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", backend.ErrUnauthorized, err)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if uid, ok := c.sessions[claims.SessionID]; !ok || uid != claims.Subject {
		return "", nil, fmt.Errorf("%w: session revoked", backend.ErrUnauthorized)
	}
	acct, ok := c.byID[claims.Subject]
	if !ok {
		return "", nil, fmt.Errorf("%w: unknown user", backend.ErrUnauthorized)
	}
	return claims.SessionID, acct, nil
}

// SignOut revokes the session behind accessToken. Signing out an already
// revoked session is not an error.
func (c *Credentials) SignOut(ctx context.Context, accessToken string) error {
	claims, err := c.tokens.Parse(accessToken)
	if err != nil {
		return fmt.Errorf("%w: %v", backend.ErrUnauthorized, err)
	}
	c.mu.Lock()
	delete(c.sessions, claims.SessionID)
	if sid, err := internal.ParseSessionID(claims.SessionID); err == nil {
		delete(c.refresh, sid)
	}
	c.mu.Unlock()

	c.listeners.Notify(identity.AuthChange{Kind: identity.SignedOut, UserID: claims.Subject, AccessToken: accessToken})
	return nil
}

func (c *Credentials) User(ctx context.Context, accessToken string) (identity.User, error) {
	if err := ctx.Err(); err != nil {
		return identity.User{}, err
	}
	_, acct, err := c.authorize(accessToken)
	if err != nil {
		return identity.User{}, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cloneUser(acct.user), nil
}

// Refresh rotates the refresh token; the old one stops working.
func (c *Credentials) Refresh(ctx context.Context, refreshToken string) (*identity.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tok, err := internal.DecodeOpaqueToken(refreshToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", backend.ErrUnauthorized, err)
	}

	c.mu.Lock()
	g, ok := c.refresh[tok.ID]
	if !ok || !tok.Matches(g.hash) || !c.cfg.Now().Before(g.expiresAt) {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: refresh token rejected", backend.ErrUnauthorized)
	}
	delete(c.refresh, tok.ID)
	delete(c.sessions, tok.ID.String())
	acct, ok := c.byID[g.userID]
	var user identity.User
	if ok {
		user = acct.user
	}
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown user", backend.ErrUnauthorized)
	}

	sess, err := c.issue(user)
	if err != nil {
		return nil, err
	}
	c.listeners.Notify(identity.AuthChange{Kind: identity.TokenRefreshed, Session: sess, UserID: user.ID, RefreshToken: refreshToken})
	return sess, nil
}

func (c *Credentials) UpdatePassword(ctx context.Context, accessToken, newPassword string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, acct, err := c.authorize(accessToken)
	if err != nil {
		return err
	}
	hash, err := c.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("%w: %v", backend.ErrInvalidCredentials, err)
	}
	c.mu.Lock()
	acct.hash = hash
	uid := acct.user.ID
	c.mu.Unlock()

	c.listeners.Notify(identity.AuthChange{Kind: identity.UserUpdated, UserID: uid, AccessToken: accessToken})
	return nil
}

// ResetPasswordForEmail issues a reset link for known emails and silently
// succeeds for unknown ones.
func (c *Credentials) ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	email = normalizeEmail(email)
	c.mu.RLock()
	acct, ok := c.byEmail[email]
	c.mu.RUnlock()
	if !ok {
		return nil
	}

	tok, err := internal.NewOpaqueToken()
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.resets[tok.ID] = grant{userID: acct.user.ID, hash: tok.Hash(), expiresAt: c.cfg.Now().Add(c.cfg.ResetTTL)}
	c.mu.Unlock()

	if redirectTo == "" {
		redirectTo = c.cfg.SiteURL + "/reset-password"
	}
	link := redirectTo + "?" + url.Values{"token": {tok.Encode()}}.Encode()
	if c.cfg.OnReset != nil {
		c.cfg.OnReset(email, link)
	} else {
		c.cfg.Logger.Debug("mock password reset issued", slog.String("email", email), slog.String("link", link))
	}
	return nil
}

// CompleteReset sets a new password using a token issued by
// ResetPasswordForEmail. Tokens are single use.
func (c *Credentials) CompleteReset(ctx context.Context, resetToken, newPassword string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tok, err := internal.DecodeOpaqueToken(resetToken)
	if err != nil {
		return fmt.Errorf("%w: %v", backend.ErrUnauthorized, err)
	}
	hash, err := c.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("%w: %v", backend.ErrInvalidCredentials, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.resets[tok.ID]
	if !ok || !tok.Matches(g.hash) {
		return fmt.Errorf("%w: reset token rejected", backend.ErrUnauthorized)
	}
	delete(c.resets, tok.ID)
	if !c.cfg.Now().Before(g.expiresAt) {
		return fmt.Errorf("%w: reset token expired", backend.ErrUnauthorized)
	}
	acct, ok := c.byID[g.userID]
	if !ok {
		return backend.ErrNotFound
	}
	acct.hash = hash
	return nil
}

var oauthProviders = map[string]struct{}{
	"google": {}, "github": {}, "apple": {}, "azure": {}, "facebook": {},
}

// OAuthURL returns a local callback URL; the stand-in has no real provider.
func (c *Credentials) OAuthURL(provider, redirectTo string) (string, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if _, ok := oauthProviders[provider]; !ok {
		return "", fmt.Errorf("%w: oauth provider %q", backend.ErrUnsupported, provider)
	}
	q := url.Values{"provider": {provider}}
	if redirectTo != "" {
		q.Set("redirect_to", redirectTo)
	}
	return c.cfg.SiteURL + "/auth/callback?" + q.Encode(), nil
}

// UserIDByEmail returns ErrNotFound for unknown emails.
func (c *Credentials) UserIDByEmail(ctx context.Context, email string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	acct, ok := c.byEmail[normalizeEmail(email)]
	if !ok {
		return "", backend.ErrNotFound
	}
	return acct.user.ID, nil
}

func (c *Credentials) Subscribe(fn func(identity.AuthChange)) func() {
	return c.listeners.Subscribe(fn)
}

func cloneUser(u identity.User) identity.User {
	if u.Metadata != nil {
		meta := make(map[string]string, len(u.Metadata))
		for k, v := range u.Metadata {
			meta[k] = v
		}
		u.Metadata = meta
	}
	return u
}
