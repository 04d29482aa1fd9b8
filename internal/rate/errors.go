package rate

import "errors"

var (
	// ErrStoreUnavailable wraps any failure of the backing attempt store.
	// The limiter fails open when it is returned.
	ErrStoreUnavailable = errors.New("rate limit store unavailable")
	// ErrInvalidPolicy is returned for empty identifiers/actions or
	// non-positive limits.
	ErrInvalidPolicy = errors.New("invalid rate limit policy")
)
