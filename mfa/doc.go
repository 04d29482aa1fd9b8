// Package mfa implements TOTP second-factor enrollment and verification with
// single-use recovery codes.
//
// Secrets are RFC 6238 (HMAC-SHA1, 6 digits, 30 second step) encoded as
// unpadded base32. Recovery codes are returned once in plaintext and stored
// only as hex SHA-256 hashes bound to the user id.
//
// The engine records its own security events but makes no policy decisions
// beyond IsRequired; refusing to disable MFA for privileged roles is the
// caller's job.
package mfa
