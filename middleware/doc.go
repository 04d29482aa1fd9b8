// Package middleware gates routes on a resolved viewer.
//
// # Decisions
//
// [Decide] is a pure function of a resolver snapshot, a [Requirement] and the
// requested path. It admits, asks the caller to wait while the identity is
// still loading, redirects anonymous viewers to the login page carrying the
// original path, or redirects authenticated viewers that lack the required
// role to the unauthorized path.
//
// # HTTP
//
// [Guard.Handler] resolves a viewer per request through a [ViewerSource]
// (by default the bearer token handed to a resolver.Loader), applies the
// decision and exposes a [View] to the wrapped handler. [ClientContext]
// attaches the caller's address and user agent for rate limiting and
// security events.
//
// # What this package must NOT do
//
//   - Authenticate credentials or mint tokens.
//   - Treat the synchronous role matrix as authoritative; the guard checks
//     roles only.
package middleware
