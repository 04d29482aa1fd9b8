// Package rate implements the sliding-window attempt limiter used for
// login, signup, password-reset, and MFA throttling.
//
// # Window semantics
//
// For a (identifier, action) pair the limiter counts attempts recorded at or
// after now-window. Fewer than max: the attempt is recorded and admitted.
// Otherwise it is rejected and nothing is recorded, so an attacker cannot
// grow the set past max entries. The window slides with every call; there
// are no bucket boundaries.
//
// # Stores
//
//   - [RedisStore]: one ZSET per pair (key rl:<action>:<identifier>),
//     updated by a single Lua script so count-and-record is atomic.
//   - [MemoryStore]: process-local, for the in-memory backend and tests.
//
// # Failure policy
//
// A store error fails open: the result reports Limited=false and the error
// is returned wrapped in [ErrStoreUnavailable] so callers can log it.
//
// # What this package must NOT do
//
//   - Log security events (callers own that).
//   - Be imported outside the goGuard module.
package rate
