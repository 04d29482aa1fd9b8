// Package goGuard is the authentication, session and permission pipeline of
// the merchant dashboard. It sits in front of a hosted identity provider and
// a row store (see package backend) and sequences the components that guard
// every sign-in: rate limiting, password policy, credential exchange,
// security event logging, the second factor, role resolution and permission
// caching.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// goGuard is the composition root. It exposes [Engine], [Builder], [Config]
// and the typed errors callers branch on. The components live in their own
// packages (password, mfa, events, permission, resolver, middleware) and
// never import this one.
//
// # Failure policy
//
// Authentication failures are reported with one generic error regardless of
// cause. Every other collaborator failure degrades: the limiter fails open,
// the resolver synthesizes a profile, security events are dropped rather
// than returned.
//
// # What this package must NOT do
//
//   - Hash or store provider passwords (the identity provider owns them).
//   - Surface upstream error text from a failed sign-in.
//   - Import any sub-package that re-imports goGuard (no import cycles).
package goGuard
