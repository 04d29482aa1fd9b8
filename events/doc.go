// Package events records security events for the authentication pipeline.
//
// # Components
//
//   - [Logger]: sanitizes details, keeps in-memory rings of recent and
//     high-severity events, persists asynchronously and raises alerts for
//     CRITICAL events.
//   - [Sink] and [Dispatcher]: buffered async delivery to a store, slog,
//     a JSON writer or a channel.
//   - [Alerter]: out-of-band notification for CRITICAL events.
//   - [Monitor]: batch job that notifies recipients about unprocessed
//     HIGH/CRITICAL events and marks them processed.
//
// Logging never fails the caller. Persistence and alert errors are reported
// through slog and nowhere else.
//
// # What this package must NOT do
//
//   - Import goGuard or backend.
//   - Store details that have not passed through [Sanitize].
package events
