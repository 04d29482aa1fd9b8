// Package internal contains helpers private to goGuard: opaque token and
// session ID generation, and user agent fingerprints.
//
// # Sub-packages
//
//   - jobs: cron schedules for rate limit cleanup and the alert monitor
//   - loginpattern: suspicious-login analysis over login history
//   - rate: sliding-window attempt counting (memory, Redis, Postgres stores)
//
// # What this package must NOT do
//
//   - Export types that appear in the public goGuard API.
//   - Be imported by any package outside the goGuard module.
package internal
