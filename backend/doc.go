// Package backend defines the collaborator contracts the pipeline runs
// against: a credential store (the hosted identity provider) and a row store
// (roles, profiles, MFA enrollments, security events, login history,
// notifications and permission decisions).
//
// # Implementations
//
//   - backend/memory: process-local stand-in seeded with development users.
//   - backend/gotrue: REST client for a hosted GoTrue-compatible provider.
//   - backend/postgres: database/sql row store over the pgx driver.
//
// Implementations translate their native failures into the sentinel errors
// declared here so callers can branch with errors.Is regardless of backend.
//
// # What this package must NOT do
//
//   - Make authorization decisions or apply rate limits.
//   - Import goGuard or any sibling package other than identity and events.
package backend
