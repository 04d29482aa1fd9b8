package goGuard

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/goGuard/events"
	"github.com/MrEthical07/goGuard/password"
)

// Config is the complete Engine configuration. Start from DefaultConfig and
// override fields; zero values are not defaults.
type Config struct {
	RateLimit       RateLimitConfig
	Password        PasswordConfig
	MFA             MFAConfig
	Events          EventsConfig
	LoginPatterns   LoginPatternConfig
	PermissionCache PermissionCacheConfig
	Resolver        ResolverConfig
	Guard           GuardConfig
	Metrics         MetricsConfig
	Backend         BackendConfig
	Redis           RedisConfig
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RatePolicy is one named sliding-window budget.
type RatePolicy struct {
	Action      string
	MaxAttempts int
	Window      time.Duration
}

// RateLimitConfig holds the policies the Engine applies. Login is keyed by
// "email|ip", Signup by ip, PasswordReset by email and MFAVerify by user id.
type RateLimitConfig struct {
	Login         RatePolicy
	Signup        RatePolicy
	PasswordReset RatePolicy
	MFAVerify     RatePolicy
	// Retention is how long attempt records are kept before cleanup.
	Retention time.Duration
	// RedisPrefix namespaces limiter keys when Redis backs the limiter.
	RedisPrefix string
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig controls the policy check and, for the in-memory backend
// only, the Argon2id parameters.
type PasswordConfig struct {
	EnforcePolicy bool
	Hashing       password.Config
}

/*
====================================
MFA CONFIG
====================================
*/

// MFAConfig shapes codes and the login challenge.
type MFAConfig struct {
	Issuer             string
	Digits             int
	PeriodSeconds      int
	Skew               int
	RecoveryCodeCount  int
	RecoveryCodeLength int
	// ChallengeTTL bounds the time between password and second factor.
	ChallengeTTL time.Duration
	// ChallengeMaxAttempts wrong codes burn the challenge.
	ChallengeMaxAttempts int
}

/*
====================================
EVENTS CONFIG
====================================
*/

// EventsConfig sizes the security event logger and selects delivery.
type EventsConfig struct {
	RecentCapacity int
	HighCapacity   int
	BufferSize     int
	DropIfFull     bool
	AlertTimeout   time.Duration
	// SinkWorkers persist events concurrently; SinkRetries repeats a
	// failed write.
	SinkWorkers int
	SinkRetries int

	// AlertWebhookURL receives CRITICAL events as they happen. Empty logs
	// alerts through slog only.
	AlertWebhookURL   string
	AlertWebhookToken string

	// MonitorBatchSize bounds one alert monitor run.
	MonitorBatchSize int
	SMTP             events.SMTPConfig
	// NotifyWebhookURL is used by the alert monitor when SMTP is not set.
	NotifyWebhookURL   string
	NotifyWebhookToken string
}

/*
====================================
LOGIN PATTERN CONFIG
====================================
*/

// LoginPatternConfig controls suspicious-login detection. TimeZone names
// the zone used for the odd-hours check.
type LoginPatternConfig struct {
	Enabled  bool
	TimeZone string
}

/*
====================================
PERMISSION CACHE CONFIG
====================================
*/

type PermissionCacheConfig struct {
	TTL           time.Duration
	MaxEntries    int
	SweepInterval time.Duration
}

/*
====================================
RESOLVER CONFIG
====================================
*/

// ResolverConfig configures resolvers built with Engine.NewResolver.
type ResolverConfig struct {
	LoadTimeout time.Duration
	// PermissionCheckURL is the authoritative permission-check function.
	// Empty answers CheckPermission from the local matrix.
	PermissionCheckURL string
}

/*
====================================
GUARD CONFIG
====================================
*/

type GuardConfig struct {
	Grace             time.Duration
	LoginPath         string
	UnauthorizedPath  string
	TrustProxyHeaders bool
}

/*
====================================
METRICS CONFIG
====================================
*/

type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
BACKEND CONFIG
====================================
*/

// BackendConfig selects the collaborators. The hosted provider and Postgres
// are used when URL, AnonKey and DatabaseURL are all set; otherwise the
// in-memory stand-in with mock accounts is used.
type BackendConfig struct {
	URL         string
	AnonKey     string
	DatabaseURL string
	// AutoMigrate applies the embedded schema on open.
	AutoMigrate bool
	Timeout     time.Duration
	// SiteURL is the default redirect for password reset links.
	SiteURL string
	// SigningKey signs in-memory access tokens. Empty picks a random key.
	SigningKey []byte
}

// Hosted reports whether the remote collaborators are configured.
func (c BackendConfig) Hosted() bool {
	return strings.TrimSpace(c.URL) != "" && strings.TrimSpace(c.AnonKey) != "" && strings.TrimSpace(c.DatabaseURL) != ""
}

/*
====================================
REDIS CONFIG
====================================
*/

// RedisConfig is used when the Builder is not handed a client. An empty
// Addr keeps limiter and challenge state in process.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// KeyPrefix namespaces MFA login challenges.
	KeyPrefix string
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig mirrors the production dashboard.
func DefaultConfig() Config {
	return Config{
		RateLimit: RateLimitConfig{
			Login:         RatePolicy{Action: "login_attempt", MaxAttempts: 5, Window: 300 * time.Second},
			Signup:        RatePolicy{Action: "signup_attempt", MaxAttempts: 3, Window: time.Hour},
			PasswordReset: RatePolicy{Action: "password_reset", MaxAttempts: 3, Window: time.Hour},
			MFAVerify:     RatePolicy{Action: "mfa_verify", MaxAttempts: 5, Window: 300 * time.Second},
			Retention:     24 * time.Hour,
			RedisPrefix:   "goguard",
		},
		Password: PasswordConfig{
			EnforcePolicy: true,
			Hashing:       password.DefaultConfig(),
		},
		MFA: MFAConfig{
			Issuer:               "Vuebie",
			Digits:               6,
			PeriodSeconds:        30,
			Skew:                 3,
			RecoveryCodeCount:    10,
			RecoveryCodeLength:   10,
			ChallengeTTL:         5 * time.Minute,
			ChallengeMaxAttempts: 5,
		},
		Events: EventsConfig{
			RecentCapacity:   100,
			HighCapacity:     50,
			BufferSize:       1024,
			DropIfFull:       true,
			AlertTimeout:     10 * time.Second,
			SinkWorkers:      1,
			SinkRetries:      2,
			MonitorBatchSize: 100,
		},
		LoginPatterns: LoginPatternConfig{
			Enabled:  true,
			TimeZone: "UTC",
		},
		PermissionCache: PermissionCacheConfig{
			TTL:           5 * time.Minute,
			MaxEntries:    10000,
			SweepInterval: time.Minute,
		},
		Resolver: ResolverConfig{
			LoadTimeout: 10 * time.Second,
		},
		Guard: GuardConfig{
			Grace:            500 * time.Millisecond,
			LoginPath:        "/login",
			UnauthorizedPath: "/",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Backend: BackendConfig{
			Timeout: 10 * time.Second,
			SiteURL: "http://localhost:3000",
		},
		Redis: RedisConfig{
			KeyPrefix: "goguard",
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Backend.SigningKey = cloneBytes(cfg.Backend.SigningKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	// Rate limits
	for name, p := range map[string]RatePolicy{
		"Login":         c.RateLimit.Login,
		"Signup":        c.RateLimit.Signup,
		"PasswordReset": c.RateLimit.PasswordReset,
		"MFAVerify":     c.RateLimit.MFAVerify,
	} {
		if strings.TrimSpace(p.Action) == "" {
			return fmt.Errorf("RateLimit %s Action must be set", name)
		}
		if p.MaxAttempts <= 0 {
			return fmt.Errorf("RateLimit %s MaxAttempts must be > 0", name)
		}
		if p.Window <= 0 {
			return fmt.Errorf("RateLimit %s Window must be > 0", name)
		}
	}
	if c.RateLimit.Retention <= 0 {
		return errors.New("RateLimit Retention must be > 0")
	}

	// MFA
	if c.MFA.Digits < 6 || c.MFA.Digits > 8 {
		return errors.New("MFA Digits must be between 6 and 8")
	}
	if c.MFA.PeriodSeconds <= 0 {
		return errors.New("MFA PeriodSeconds must be > 0")
	}
	if c.MFA.Skew < 0 || c.MFA.Skew > 10 {
		return errors.New("MFA Skew must be between 0 and 10")
	}
	if c.MFA.RecoveryCodeCount <= 0 {
		return errors.New("MFA RecoveryCodeCount must be > 0")
	}
	if c.MFA.RecoveryCodeLength < 8 {
		return errors.New("MFA RecoveryCodeLength must be >= 8")
	}
	if c.MFA.ChallengeTTL <= 0 {
		return errors.New("MFA ChallengeTTL must be > 0")
	}
	if c.MFA.ChallengeMaxAttempts <= 0 {
		return errors.New("MFA ChallengeMaxAttempts must be > 0")
	}

	// Events
	if c.Events.RecentCapacity <= 0 || c.Events.HighCapacity <= 0 {
		return errors.New("Events ring capacities must be > 0")
	}
	if c.Events.BufferSize <= 0 {
		return errors.New("Events BufferSize must be > 0")
	}
	if c.Events.AlertTimeout <= 0 {
		return errors.New("Events AlertTimeout must be > 0")
	}
	if c.Events.SinkWorkers <= 0 || c.Events.SinkRetries < 0 {
		return errors.New("Events SinkWorkers must be > 0 and SinkRetries >= 0")
	}

	// Login patterns
	if c.LoginPatterns.Enabled && c.LoginPatterns.TimeZone != "" {
		if _, err := time.LoadLocation(c.LoginPatterns.TimeZone); err != nil {
			return fmt.Errorf("LoginPatterns TimeZone: %w", err)
		}
	}

	// Permission cache
	if c.PermissionCache.TTL <= 0 {
		return errors.New("PermissionCache TTL must be > 0")
	}
	if c.PermissionCache.MaxEntries <= 0 {
		return errors.New("PermissionCache MaxEntries must be > 0")
	}
	if c.PermissionCache.SweepInterval < 0 {
		return errors.New("PermissionCache SweepInterval must be >= 0")
	}

	// Resolver and guard
	if c.Resolver.LoadTimeout <= 0 {
		return errors.New("Resolver LoadTimeout must be > 0")
	}
	if c.Guard.Grace < 0 {
		return errors.New("Guard Grace must be >= 0")
	}
	if c.Guard.LoginPath != "" && !strings.HasPrefix(c.Guard.LoginPath, "/") {
		return errors.New("Guard LoginPath must be an absolute path")
	}

	// Metrics
	if c.Metrics.EnableLatencyHistograms && !c.Metrics.Enabled {
		return errors.New("Metrics EnableLatencyHistograms requires Metrics Enabled")
	}

	// Backend
	hasAny := c.Backend.URL != "" || c.Backend.AnonKey != "" || c.Backend.DatabaseURL != ""
	if hasAny && !c.Backend.Hosted() {
		return errors.New("Backend URL, AnonKey and DatabaseURL must be set together")
	}
	if c.Backend.Timeout <= 0 {
		return errors.New("Backend Timeout must be > 0")
	}
	if !c.Backend.Hosted() {
		if n := len(c.Backend.SigningKey); n > 0 && n < 32 {
			return errors.New("Backend SigningKey must be at least 32 bytes")
		}
		if err := validateHashing(c.Password.Hashing); err != nil {
			return err
		}
	}

	// Redis
	if c.Redis.DB < 0 {
		return errors.New("Redis DB must be >= 0")
	}

	return nil
}

func validateHashing(h password.Config) error {
	if h.Memory < 8*1024 {
		return errors.New("Password Hashing Memory must be >= 8192 KB")
	}
	if h.Time < 1 {
		return errors.New("Password Hashing Time must be >= 1")
	}
	if h.Parallelism < 1 {
		return errors.New("Password Hashing Parallelism must be >= 1")
	}
	if h.SaltLength < 16 {
		return errors.New("Password Hashing SaltLength must be >= 16")
	}
	if h.KeyLength < 16 {
		return errors.New("Password Hashing KeyLength must be >= 16")
	}
	return nil
}
