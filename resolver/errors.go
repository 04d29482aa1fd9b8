package resolver

import "errors"

var (
	// ErrClosed is returned by operations on a closed Resolver.
	ErrClosed = errors.New("resolver closed")
	// ErrNoSession is returned when a reload is requested without a session.
	ErrNoSession = errors.New("no active session")
	// ErrSuperseded is returned by a load whose result was discarded because
	// a newer load or a logout settled the state first.
	ErrSuperseded = errors.New("load superseded")

	errAuthPending = errors.New("login in progress")
)
