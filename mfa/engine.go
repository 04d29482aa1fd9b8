package mfa

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/MrEthical07/goGuard/backend"
	"github.com/MrEthical07/goGuard/events"
	"github.com/MrEthical07/goGuard/identity"
)

// Security event types recorded by the engine.
const (
	EventSecretGenerationFailed    = "MFA_SECRET_GENERATION_FAILED"
	EventEnrolled                  = "MFA_ENROLLED"
	EventEnrollmentFailed          = "MFA_ENROLLMENT_FAILED"
	EventVerificationSucceeded     = "MFA_VERIFICATION_SUCCEEDED"
	EventVerificationFailed        = "MFA_VERIFICATION_FAILED"
	EventVerificationError         = "MFA_VERIFICATION_ERROR"
	EventRecoveryCodeUsed          = "MFA_RECOVERY_CODE_USED"
	EventRecoveryCodeFailed        = "MFA_RECOVERY_CODE_FAILED"
	EventRecoveryVerificationError = "MFA_RECOVERY_VERIFICATION_ERROR"
	EventDisabled                  = "MFA_DISABLED"
	EventDisableFailed             = "MFA_DISABLE_FAILED"
	EventRecoveryCodesRegenerated  = "MFA_RECOVERY_CODES_REGENERATED"
	EventRecoveryCodesRegenFailed  = "MFA_RECOVERY_CODES_REGENERATION_FAILED"
)

// State is the enrollment lifecycle position of a user.
type State string

const (
	StateUnenrolled          State = "unenrolled"
	StatePendingVerification State = "pending_verification"
	StateEnrolled            State = "enrolled"
	StateDisabled            State = "disabled"
)

// StateOf derives the lifecycle state from a stored enrollment.
func StateOf(e identity.MFAEnrollment) State {
	switch {
	case e.Enabled:
		return StateEnrolled
	case e.Secret != "":
		return StatePendingVerification
	case !e.DisabledAt.IsZero():
		return StateDisabled
	default:
		return StateUnenrolled
	}
}

// EventLogger is the subset of events.Logger the engine uses.
type EventLogger interface {
	LogUser(ctx context.Context, userID, eventType string, severity events.Severity, details map[string]any)
}

// Config controls code shape.
type Config struct {
	TOTP               TOTPConfig
	RecoveryCodeCount  int
	RecoveryCodeLength int
}

// DefaultConfig issues ten 10-character recovery codes.
func DefaultConfig() Config {
	return Config{
		TOTP:               DefaultTOTPConfig(),
		RecoveryCodeCount:  10,
		RecoveryCodeLength: 10,
	}
}

// Setup is a freshly generated, not yet persisted secret.
type Setup struct {
	Secret string `json:"secret"`
	URI    string `json:"uri"`
}

// Engine is safe for concurrent use when its store is.
type Engine struct {
	cfg    Config
	store  backend.MFAStore
	roles  backend.RoleStore
	events EventLogger

	now     func() time.Time
	entropy io.Reader
}

// Option configures an Engine.
type Option func(*Engine)

// WithEntropy replaces crypto/rand as the source of recovery codes.
func WithEntropy(r io.Reader) Option {
	return func(e *Engine) {
		if r != nil {
			e.entropy = r
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine builds an engine. log may be nil.
func NewEngine(cfg Config, store backend.MFAStore, roles backend.RoleStore, log EventLogger, opts ...Option) *Engine {
	cfg.TOTP = cfg.TOTP.normalized()
	def := DefaultConfig()
	if cfg.RecoveryCodeCount <= 0 {
		cfg.RecoveryCodeCount = def.RecoveryCodeCount
	}
	if cfg.RecoveryCodeLength <= 0 {
		cfg.RecoveryCodeLength = def.RecoveryCodeLength
	}
	e := &Engine{
		cfg:     cfg,
		store:   store,
		roles:   roles,
		events:  log,
		now:     time.Now,
		entropy: rand.Reader,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) record(ctx context.Context, userID, eventType string, sev events.Severity, details map[string]any) {
	if e.events == nil {
		return
	}
	e.events.LogUser(ctx, userID, eventType, sev, details)
}

func (e *Engine) ready() error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}
	return nil
}

// GenerateSecret creates a secret and its provisioning URI. Nothing is
// stored until Enroll.
func (e *Engine) GenerateSecret(ctx context.Context, userID, accountName string) (Setup, error) {
	if e == nil {
		return Setup{}, ErrEngineNotReady
	}
	_, encoded, err := newSecret()
	if err != nil {
		e.record(ctx, userID, EventSecretGenerationFailed, events.High, map[string]any{"error": err.Error()})
		return Setup{}, fmt.Errorf("generate totp secret: %w", err)
	}
	if accountName == "" {
		accountName = userID
	}
	return Setup{
		Secret: encoded,
		URI:    ProvisionURI(e.cfg.TOTP, encoded, accountName),
	}, nil
}

// Enroll stores secret with a fresh set of recovery codes and enables MFA.
// The plaintext codes are returned exactly once.
func (e *Engine) Enroll(ctx context.Context, userID, secret string) ([]string, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if _, err := DecodeSecret(secret); err != nil {
		e.record(ctx, userID, EventEnrollmentFailed, events.High, map[string]any{"reason": "invalid_secret"})
		return nil, err
	}

	batch, err := newRecoveryBatch(e.entropy, userID, e.cfg.RecoveryCodeCount, e.cfg.RecoveryCodeLength)
	if err != nil {
		e.record(ctx, userID, EventEnrollmentFailed, events.High, map[string]any{"error": err.Error()})
		return nil, fmt.Errorf("generate recovery codes: %w", err)
	}

	enrollment := identity.MFAEnrollment{
		Secret:             canonicalSecret(secret),
		RecoveryCodeHashes: batch.hashes,
		Enabled:            true,
		EnrolledAt:         e.now(),
	}
	if err := e.store.SaveMFAEnrollment(ctx, userID, enrollment); err != nil {
		e.record(ctx, userID, EventEnrollmentFailed, events.High, map[string]any{"error": err.Error()})
		return nil, fmt.Errorf("save mfa enrollment: %w", err)
	}

	e.record(ctx, userID, EventEnrolled, events.Medium, map[string]any{"recovery_codes": len(batch.codes)})
	return batch.codes, nil
}

// ConfirmEnrollment enrolls only if code is valid for the candidate secret,
// proving the authenticator app was set up.
func (e *Engine) ConfirmEnrollment(ctx context.Context, userID, secret, code string) ([]string, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	raw, err := DecodeSecret(secret)
	if err != nil {
		e.record(ctx, userID, EventEnrollmentFailed, events.High, map[string]any{"reason": "invalid_secret"})
		return nil, err
	}
	ok, _, err := VerifyCode(e.cfg.TOTP, raw, code, e.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		e.record(ctx, userID, EventEnrollmentFailed, events.High, map[string]any{"reason": "invalid_code"})
		return nil, ErrInvalidCode
	}
	return e.Enroll(ctx, userID, secret)
}

// VerifyTOTP reports whether code is valid for the user's enrolled secret.
// Users without an enabled enrollment never verify. Only storage failures
// return an error.
func (e *Engine) VerifyTOTP(ctx context.Context, userID, code string) (bool, error) {
	if err := e.ready(); err != nil {
		return false, err
	}
	enrollment, err := e.store.MFAEnrollment(ctx, userID)
	if errors.Is(err, backend.ErrNotFound) {
		e.record(ctx, userID, EventVerificationFailed, events.High, map[string]any{"reason": "not_enrolled"})
		return false, nil
	}
	if err != nil {
		e.record(ctx, userID, EventVerificationError, events.High, map[string]any{"error": err.Error()})
		return false, fmt.Errorf("load mfa enrollment: %w", err)
	}
	if !enrollment.Enabled || enrollment.Secret == "" {
		e.record(ctx, userID, EventVerificationFailed, events.High, map[string]any{"reason": "not_enrolled"})
		return false, nil
	}

	raw, err := DecodeSecret(enrollment.Secret)
	if err != nil {
		e.record(ctx, userID, EventVerificationError, events.High, map[string]any{"error": "stored secret is corrupt"})
		return false, err
	}
	ok, _, err := VerifyCode(e.cfg.TOTP, raw, code, e.now())
	if err != nil {
		e.record(ctx, userID, EventVerificationError, events.High, map[string]any{"error": err.Error()})
		return false, err
	}
	if !ok {
		e.record(ctx, userID, EventVerificationFailed, events.High, map[string]any{"reason": "code_mismatch"})
		return false, nil
	}
	e.record(ctx, userID, EventVerificationSucceeded, events.Low, nil)
	return true, nil
}

// VerifyRecovery consumes code if it is one of the user's unused recovery
// codes. A code verifies at most once.
func (e *Engine) VerifyRecovery(ctx context.Context, userID, code string) (bool, error) {
	if err := e.ready(); err != nil {
		return false, err
	}
	canonical := CanonicalizeRecoveryCode(code)
	if canonical == "" {
		e.record(ctx, userID, EventRecoveryCodeFailed, events.High, map[string]any{"reason": "empty_code"})
		return false, nil
	}

	ok, err := e.store.ConsumeRecoveryCode(ctx, userID, HashRecoveryCode(userID, canonical))
	if err != nil {
		e.record(ctx, userID, EventRecoveryVerificationError, events.High, map[string]any{"error": err.Error()})
		return false, fmt.Errorf("consume recovery code: %w", err)
	}
	if !ok {
		e.record(ctx, userID, EventRecoveryCodeFailed, events.High, map[string]any{"reason": "code_mismatch"})
		return false, nil
	}
	e.record(ctx, userID, EventRecoveryCodeUsed, events.Medium, nil)
	return true, nil
}

// Disable clears the secret and all recovery codes. It does not apply the
// privileged-role policy.
func (e *Engine) Disable(ctx context.Context, userID string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.store.ClearMFAEnrollment(ctx, userID, e.now()); err != nil {
		e.record(ctx, userID, EventDisableFailed, events.High, map[string]any{"error": err.Error()})
		return fmt.Errorf("clear mfa enrollment: %w", err)
	}
	e.record(ctx, userID, EventDisabled, events.Medium, nil)
	return nil
}

// RegenerateRecoveryCodes replaces every recovery code of an enrolled user.
func (e *Engine) RegenerateRecoveryCodes(ctx context.Context, userID string) ([]string, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	enrollment, err := e.store.MFAEnrollment(ctx, userID)
	if errors.Is(err, backend.ErrNotFound) || (err == nil && !enrollment.Enabled) {
		return nil, ErrNotEnrolled
	}
	if err != nil {
		e.record(ctx, userID, EventRecoveryCodesRegenFailed, events.High, map[string]any{"error": err.Error()})
		return nil, fmt.Errorf("load mfa enrollment: %w", err)
	}

	batch, err := newRecoveryBatch(e.entropy, userID, e.cfg.RecoveryCodeCount, e.cfg.RecoveryCodeLength)
	if err != nil {
		e.record(ctx, userID, EventRecoveryCodesRegenFailed, events.High, map[string]any{"error": err.Error()})
		return nil, fmt.Errorf("generate recovery codes: %w", err)
	}
	enrollment.RecoveryCodeHashes = batch.hashes
	if err := e.store.SaveMFAEnrollment(ctx, userID, enrollment); err != nil {
		e.record(ctx, userID, EventRecoveryCodesRegenFailed, events.High, map[string]any{"error": err.Error()})
		return nil, fmt.Errorf("save mfa enrollment: %w", err)
	}
	e.record(ctx, userID, EventRecoveryCodesRegenerated, events.Medium, map[string]any{"recovery_codes": len(batch.codes)})
	return batch.codes, nil
}

// State returns the user's lifecycle state.
func (e *Engine) State(ctx context.Context, userID string) (State, error) {
	if err := e.ready(); err != nil {
		return "", err
	}
	enrollment, err := e.store.MFAEnrollment(ctx, userID)
	if errors.Is(err, backend.ErrNotFound) {
		return StateUnenrolled, nil
	}
	if err != nil {
		return "", fmt.Errorf("load mfa enrollment: %w", err)
	}
	return StateOf(enrollment), nil
}

// IsEnabled reports whether the user must pass a second factor at login.
func (e *Engine) IsEnabled(ctx context.Context, userID string) (bool, error) {
	st, err := e.State(ctx, userID)
	if err != nil {
		return false, err
	}
	return st == StateEnrolled, nil
}

// IsRequired reports whether the user's effective role mandates MFA. Role
// lookup failures are returned so callers can refuse rather than guess.
func (e *Engine) IsRequired(ctx context.Context, userID string) (bool, error) {
	if e == nil || e.roles == nil {
		return false, ErrEngineNotReady
	}
	roles, err := e.roles.UserRoles(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("load roles: %w", err)
	}
	return identity.EffectiveRole(roles...).IsPrivileged(), nil
}

func canonicalSecret(secret string) string {
	raw, err := DecodeSecret(secret)
	if err != nil {
		return secret
	}
	return secretEncoding.EncodeToString(raw)
}
