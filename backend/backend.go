package backend

import (
	"context"
	"time"

	"github.com/MrEthical07/goGuard/events"
	"github.com/MrEthical07/goGuard/identity"
)

// SignUpRequest carries a new account. Metadata is stored with the identity.
type SignUpRequest struct {
	Email      string
	Password   string
	Metadata   map[string]string
	RedirectTo string
}

// CredentialStore is the identity provider. It owns sessions.
type CredentialStore interface {
	SignIn(ctx context.Context, email, password string) (*identity.Session, error)
	// SignUp returns a nil session when the provider requires email
	// confirmation before the first sign-in.
	SignUp(ctx context.Context, req SignUpRequest) (identity.User, *identity.Session, error)
	SignOut(ctx context.Context, accessToken string) error
	User(ctx context.Context, accessToken string) (identity.User, error)
	Refresh(ctx context.Context, refreshToken string) (*identity.Session, error)
	UpdatePassword(ctx context.Context, accessToken, newPassword string) error
	ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error
	OAuthURL(provider, redirectTo string) (string, error)
	// Subscribe registers fn for every session change made through this
	// store. The returned func removes the subscription.
	Subscribe(fn func(identity.AuthChange)) (unsubscribe func())
}

// RoleStore holds authoritative role assignments.
type RoleStore interface {
	UserRoles(ctx context.Context, userID string) ([]identity.Role, error)
	AssignRole(ctx context.Context, userID string, role identity.Role) error
}

// ProfileStore holds merchant profiles. Profile returns ErrNotFound when the
// user has none.
type ProfileStore interface {
	Profile(ctx context.Context, userID string) (identity.MerchantProfile, error)
	CreateProfile(ctx context.Context, p identity.MerchantProfile) error
	// TouchLogin updates last_login_at on success and the consecutive failure
	// counter otherwise.
	TouchLogin(ctx context.Context, userID string, success bool, at time.Time) error
}

// MFAStore persists second-factor enrollments. MFAEnrollment returns
// ErrNotFound for users that never enrolled.
type MFAStore interface {
	MFAEnrollment(ctx context.Context, userID string) (identity.MFAEnrollment, error)
	SaveMFAEnrollment(ctx context.Context, userID string, e identity.MFAEnrollment) error
	// ConsumeRecoveryCode atomically removes hash from the user's set and
	// reports whether it was present.
	ConsumeRecoveryCode(ctx context.Context, userID, hash string) (bool, error)
	ClearMFAEnrollment(ctx context.Context, userID string, at time.Time) error
}

// LoginHistoryStore records every login attempt.
type LoginHistoryStore interface {
	RecordLoginAttempt(ctx context.Context, rec identity.LoginRecord) error
	// LoginHistory returns up to limit records for userID, newest first.
	// successOnly restricts the result to successful logins.
	LoginHistory(ctx context.Context, userID string, limit int, successOnly bool) ([]identity.LoginRecord, error)
}

// PermissionLogStore appends authoritative permission decisions.
type PermissionLogStore interface {
	LogPermissionDecision(ctx context.Context, d identity.PermissionDecision) error
}

// RowStore is everything the pipeline persists outside the identity
// provider.
type RowStore interface {
	RoleStore
	ProfileStore
	MFAStore
	LoginHistoryStore
	PermissionLogStore
	events.Store
	events.NotificationStore
}

// Backend pairs a credential store with a row store.
type Backend struct {
	Credentials CredentialStore
	Rows        RowStore
	// Mock is true for the in-process stand-in.
	Mock  bool
	Close func() error
}

// UserDirectory is implemented by credential stores that can resolve an
// email without a password. The Engine uses it to attribute failed
// sign-ins to known accounts.
type UserDirectory interface {
	UserIDByEmail(ctx context.Context, email string) (string, error)
}
