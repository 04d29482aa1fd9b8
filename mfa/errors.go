package mfa

import "errors"

var (
	ErrInvalidSecret  = errors.New("invalid totp secret")
	ErrInvalidCode    = errors.New("invalid mfa code")
	ErrNotEnrolled    = errors.New("mfa not enrolled")
	ErrEngineNotReady = errors.New("mfa engine not initialized")
)
