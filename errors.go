package goGuard

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidCredentials is the only error a failed sign-in reports. Its
	// text is shown to users unchanged.
	ErrInvalidCredentials = errors.New("Invalid login credentials")
	// ErrRateLimited matches every *RateLimitError.
	ErrRateLimited = errors.New("too many attempts")
	// ErrMFARequired is returned by Login when the account has a second
	// factor, and by DisableMFA when the account's role requires one.
	ErrMFARequired = errors.New("multi-factor authentication required")
	// ErrMFAChallengeInvalid covers unknown, expired and exhausted login
	// challenges.
	ErrMFAChallengeInvalid = errors.New("mfa challenge invalid or expired")
	// ErrMFACodeInvalid is returned for a wrong code on a live challenge.
	ErrMFACodeInvalid = errors.New("invalid verification code")
	// ErrUnauthenticated is returned when an operation needs a session.
	ErrUnauthenticated = errors.New("no authenticated user")
	// ErrEngineNotReady is returned by a nil or closed Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrInvalidInput covers empty or malformed request fields.
	ErrInvalidInput = errors.New("invalid input")
	// ErrAccountExists is returned by SignUp for a registered email.
	ErrAccountExists = errors.New("an account with this email already exists")
	// ErrUnavailable wraps collaborator failures the Engine cannot degrade
	// around.
	ErrUnavailable = errors.New("authentication service temporarily unavailable")
)

// RateLimitError reports which policy refused the request and when it can
// be retried.
type RateLimitError struct {
	Action     string
	RetryAfter time.Duration
	ResetTime  time.Time
}

func (e *RateLimitError) Error() string {
	mins := int(e.RetryAfter.Round(time.Minute) / time.Minute)
	if mins < 1 {
		return "Too many attempts. Please try again later."
	}
	return fmt.Sprintf("Too many attempts. Please try again after %d minutes.", mins)
}

func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }

// MFARequiredError carries the challenge a caller completes with
// VerifyMFALogin.
type MFARequiredError struct {
	ChallengeID string
	ExpiresAt   time.Time
}

func (e *MFARequiredError) Error() string { return ErrMFARequired.Error() }

func (e *MFARequiredError) Is(target error) bool { return target == ErrMFARequired }
