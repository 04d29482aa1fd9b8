package identity

import "time"

// User is the identity resolved from the credential store. Role is the role
// embedded by the identity provider and is a fallback only; authoritative
// assignments live in the role store.
type User struct {
	ID        string            `json:"id"`
	Email     string            `json:"email"`
	Role      Role              `json:"role,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at,omitempty"`
}

// Session is the credential store's proof of authentication. A session is
// either valid and unexpired or absent; callers use Valid rather than
// inspecting fields.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         User      `json:"user"`
}

// Valid reports whether the session carries a token and has not expired at now.
func (s *Session) Valid(now time.Time) bool {
	if s == nil || s.AccessToken == "" || s.User.ID == "" {
		return false
	}
	return s.ExpiresAt.IsZero() || now.Before(s.ExpiresAt)
}

// Subscription tiers unlock additional merchant resources.
const (
	TierBasic   = "basic"
	TierPremium = "premium"
	TierPro     = "pro"
)

// Profile status values. Profiles are never hard-deleted.
const (
	ProfileActive    = "active"
	ProfileSuspended = "suspended"
	ProfileArchived  = "archived"
)

// MerchantProfile is the business metadata keyed 1:1 by user id.
type MerchantProfile struct {
	ID                  string     `json:"id"`
	UserID              string     `json:"user_id"`
	BusinessName        string     `json:"business_name"`
	ContactName         string     `json:"contact_name"`
	Role                Role       `json:"role"`
	SubscriptionTier    string     `json:"subscription_tier,omitempty"`
	Status              string     `json:"status"`
	MFAEnabled          bool       `json:"mfa_enabled"`
	LastLoginAt         *time.Time `json:"last_login_at,omitempty"`
	FailedLoginAttempts int        `json:"failed_login_attempts"`
	CreatedAt           time.Time  `json:"created_at"`

	// Synthesized marks a minimal profile built locally because the row
	// store could not supply one.
	Synthesized bool `json:"-"`
}

// MinimalProfile builds the degraded profile used when the profile lookup
// fails or finds nothing.
func MinimalProfile(u User, role Role, now time.Time) MerchantProfile {
	return MerchantProfile{
		ID:           u.ID,
		UserID:       u.ID,
		BusinessName: u.Email,
		ContactName:  u.Email,
		Role:         role,
		Status:       ProfileActive,
		CreatedAt:    now,
		Synthesized:  true,
	}
}

// MFAEnrollment is the stored second-factor state of a profile. Recovery
// codes are held only as hex SHA-256 hashes.
type MFAEnrollment struct {
	Secret             string    `json:"secret"`
	RecoveryCodeHashes []string  `json:"recovery_code_hashes"`
	Enabled            bool      `json:"enabled"`
	EnrolledAt         time.Time `json:"enrolled_at,omitempty"`
	DisabledAt         time.Time `json:"disabled_at,omitempty"`
}

// Cleared returns the enrollment as it is stored after MFA is turned off.
func (e MFAEnrollment) Cleared(at time.Time) MFAEnrollment {
	return MFAEnrollment{EnrolledAt: e.EnrolledAt, DisabledAt: at}
}

// PermissionDecision is one logged outcome of the authoritative permission
// check.
type PermissionDecision struct {
	UserID    string    `json:"user_id"`
	Resource  string    `json:"resource"`
	Action    string    `json:"action"`
	Granted   bool      `json:"granted"`
	Role      Role      `json:"role"`
	Reason    string    `json:"reason,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Permission is a single (resource, action) grant.
type Permission struct {
	Resource string `json:"resource"`
	Action   string `json:"action"`
}

// LoginRecord is one entry of a user's login history.
type LoginRecord struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	Success   bool      `json:"success"`
	IPAddress string    `json:"ip_address,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	Location  string    `json:"location,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// AuthChangeKind enumerates upstream authentication state notifications.
type AuthChangeKind string

const (
	SignedIn       AuthChangeKind = "SIGNED_IN"
	SignedOut      AuthChangeKind = "SIGNED_OUT"
	TokenRefreshed AuthChangeKind = "TOKEN_REFRESHED"
	UserUpdated    AuthChangeKind = "USER_UPDATED"
)

// AuthChange is emitted by a credential store whenever its session changes.
// Session is nil for SignedOut and UserUpdated. UserID and AccessToken name
// the affected user and the token the change was made with, when known.
// RefreshToken is the token a TokenRefreshed change consumed.
type AuthChange struct {
	Kind         AuthChangeKind
	Session      *Session
	UserID       string
	AccessToken  string
	RefreshToken string
}
