// Package httpapi serves the Engine over HTTP with a chi router.
//
// Function routes mirror the hosted edge functions:
//
//	POST /functions/check-permission        bearer token required
//	POST /functions/rate-limit
//	POST /functions/cleanup-rate-limits     admin token when configured
//	POST /functions/security-alert-monitor  admin token when configured
//
// Auth routes (/auth/...) wrap login, the MFA challenge, signup, password
// reset, OAuth initiation and logout. Every request passes a per-IP token
// bucket before it reaches a handler.
package httpapi
