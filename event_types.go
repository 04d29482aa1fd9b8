package goGuard

// Security event types logged by the Engine. The MFA engine logs its own
// MFA_* events; see the mfa package.
const (
	EventLoginSuccessful    = "LOGIN_SUCCESSFUL"
	EventLoginFailed        = "LOGIN_FAILED"
	EventLoginRateLimited   = "LOGIN_RATE_LIMITED"
	EventLoginMFAChallenged = "LOGIN_MFA_CHALLENGED"
	EventSuspiciousLogin    = "SUSPICIOUS_LOGIN"
	EventUserSignedOut      = "USER_SIGNED_OUT"
	EventSignoutFailed      = "SIGNOUT_FAILED"

	EventMFAAttemptsExceeded = "MFA_ATTEMPTS_EXCEEDED"
	EventMFADisableBlocked   = "MFA_DISABLE_BLOCKED"

	EventSignupSuccessful      = "SIGNUP_SUCCESSFUL"
	EventSignupFailed          = "SIGNUP_FAILED"
	EventSignupRateLimited     = "SIGNUP_RATE_LIMITED"
	EventProfileCreated        = "PROFILE_CREATED"
	EventProfileCreationFailed = "PROFILE_CREATION_FAILED"

	EventPasswordPolicyRejected   = "PASSWORD_POLICY_REJECTED"
	EventPasswordResetRequested   = "PASSWORD_RESET_REQUESTED"
	EventPasswordResetFailed      = "PASSWORD_RESET_FAILED"
	EventPasswordResetRateLimited = "PASSWORD_RESET_RATE_LIMITED"
	EventPasswordUpdated          = "PASSWORD_UPDATED"
	EventPasswordUpdateFailed     = "PASSWORD_UPDATE_FAILED"

	EventPermissionDenied = "PERMISSION_DENIED"

	EventRateLimitStoreUnavailable = "RATE_LIMIT_STORE_UNAVAILABLE"
	EventRateLimitCleanup          = "RATE_LIMIT_CLEANUP"
)
