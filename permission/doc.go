// Package permission decides and caches resource access for the dashboard.
//
// # Deciders
//
//   - [Matrix]: the fast client-side heuristic keyed only by the effective
//     role. Used for UI gating and in mock mode.
//   - [ServerPolicy]: the authoritative decision, combining every held role
//     with the merchant subscription tier.
//   - [RemoteChecker]: client for the HTTP permission-check function that
//     serves ServerPolicy.
//
// Both deciders compile a list of [Grant] values against a [ResourceSet]
// into a [RuleSet]: one bitmask [Rule] per role or tier.
//
// [Cache] holds per-user grants with absolute expiry. Invalidation is the
// caller's job.
//
// # What this package must NOT do
//
//   - Import goGuard, backend or resolver.
//   - Log security events; callers record decisions.
package permission
