package jwt

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Assurance levels carried in the aal claim.
const (
	AAL1 = "aal1"
	AAL2 = "aal2"
)

// DefaultAudience and RoleAuthenticated match provider-issued tokens.
const (
	DefaultAudience   = "authenticated"
	RoleAuthenticated = "authenticated"
)

var (
	ErrInvalidToken = errors.New("invalid access token")
	ErrNoSubject    = errors.New("token has no subject")
	ErrNoSession    = errors.New("token has no session_id")
)

// Config is fixed at construction.
type Config struct {
	// Secret signs new tokens and is tried first on verification.
	Secret []byte
	// PreviousSecrets still verify tokens minted before a rotation.
	PreviousSecrets [][]byte
	AccessTTL       time.Duration
	// PrivilegedTTL caps tokens minted for admin and super_admin. Zero
	// means AccessTTL.
	PrivilegedTTL time.Duration
	Issuer        string
	// Audience defaults to DefaultAudience.
	Audience string
	Leeway   time.Duration
	Now      func() time.Time
}

// AppMetadata is the provider-controlled metadata block. Role here is the
// dashboard role, not the database role in Claims.Role.
type AppMetadata struct {
	Role string `json:"role,omitempty"`
}

// Claims are the claims of an access token. The subject is the user ID.
type Claims struct {
	Email       string      `json:"email,omitempty"`
	Role        string      `json:"role,omitempty"`
	SessionID   string      `json:"session_id"`
	AAL         string      `json:"aal,omitempty"`
	AppMetadata AppMetadata `json:"app_metadata"`
	jwt.RegisteredClaims
}

// UserID returns the subject.
func (c *Claims) UserID() string { return c.Subject }

// Subject is who a token is minted for.
type Subject struct {
	UserID    string
	Email     string
	Role      string
	SessionID string
	// Privileged caps the lifetime at PrivilegedTTL.
	Privileged bool
	// MFA marks a session that passed a second factor (aal2).
	MFA bool
}

// Manager is safe for concurrent use.
type Manager struct {
	cfg    Config
	parser *jwt.Parser
}

// NewManager validates cfg.
func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.Secret) < 32 {
		return nil, errors.New("jwt: secret must be at least 32 bytes")
	}
	for i, s := range cfg.PreviousSecrets {
		if len(s) < 32 {
			return nil, fmt.Errorf("jwt: previous secret %d shorter than 32 bytes", i)
		}
	}
	if cfg.AccessTTL <= 0 {
		return nil, errors.New("jwt: AccessTTL must be > 0")
	}
	if cfg.PrivilegedTTL < 0 {
		return nil, errors.New("jwt: PrivilegedTTL must not be negative")
	}
	if cfg.PrivilegedTTL == 0 || cfg.PrivilegedTTL > cfg.AccessTTL {
		cfg.PrivilegedTTL = cfg.AccessTTL
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("jwt: leeway must be within [0, 2m]")
	}
	cfg.Audience = strings.TrimSpace(cfg.Audience)
	if cfg.Audience == "" {
		cfg.Audience = DefaultAudience
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(cfg.Now),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithAudience(cfg.Audience),
	}
	if cfg.Leeway > 0 {
		opts = append(opts, jwt.WithLeeway(cfg.Leeway))
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	return &Manager{cfg: cfg, parser: jwt.NewParser(opts...)}, nil
}

// Mint signs a token for s and returns it with its expiry.
func (m *Manager) Mint(s Subject) (string, time.Time, error) {
	if s.UserID == "" {
		return "", time.Time{}, ErrNoSubject
	}
	if s.SessionID == "" {
		return "", time.Time{}, ErrNoSession
	}
	ttl := m.cfg.AccessTTL
	if s.Privileged {
		ttl = m.cfg.PrivilegedTTL
	}
	aal := AAL1
	if s.MFA {
		aal = AAL2
	}

	now := m.cfg.Now()
	exp := now.Add(ttl)
	claims := Claims{
		Email:       s.Email,
		Role:        RoleAuthenticated,
		SessionID:   s.SessionID,
		AAL:         aal,
		AppMetadata: AppMetadata{Role: s.Role},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.UserID,
			Issuer:    m.cfg.Issuer,
			Audience:  jwt.ClaimStrings{m.cfg.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.cfg.Secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Parse verifies token against the current and previous secrets. Errors
// other than a bad signature stop the search: an expired token is expired
// under every secret.
func (m *Manager) Parse(token string) (*Claims, error) {
	var lastErr error
	for _, secret := range m.secrets() {
		claims := &Claims{}
		_, err := m.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
			return secret, nil
		})
		if err == nil {
			return validate(claims)
		}
		lastErr = err
		if !errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			break
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrInvalidToken, lastErr)
}

func (m *Manager) secrets() [][]byte {
	out := make([][]byte, 0, 1+len(m.cfg.PreviousSecrets))
	out = append(out, m.cfg.Secret)
	return append(out, m.cfg.PreviousSecrets...)
}

func validate(c *Claims) (*Claims, error) {
	if c.Subject == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, ErrNoSubject)
	}
	if c.SessionID == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, ErrNoSession)
	}
	return c, nil
}
