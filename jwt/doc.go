// Package jwt mints and verifies HS256 access tokens in the shape the hosted
// identity provider issues: sub, email, role, session_id, aal and
// app_metadata.role. The in-memory credential store uses it so local tokens
// look like production ones; a Manager built with the project's JWT secret
// also verifies provider-issued tokens.
//
// Verification tries the current secret first, then each previous secret,
// so a secret can be rotated without signing everybody out.
package jwt
