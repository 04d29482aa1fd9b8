package backend

import "errors"

var (
	// ErrInvalidCredentials is returned by SignIn for both unknown emails and
	// wrong passwords.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUnauthorized is returned when an access or refresh token is missing,
	// malformed, revoked or expired.
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("already exists")
	// ErrUnavailable wraps transport or storage failures.
	ErrUnavailable = errors.New("backend unavailable")
	ErrUnsupported = errors.New("operation not supported by backend")
)
