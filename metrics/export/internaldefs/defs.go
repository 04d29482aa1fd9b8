package internaldefs

import (
	"strconv"

	goGuard "github.com/MrEthical07/goGuard"
)

// CounterDef maps an engine counter to its exported name.
type CounterDef struct {
	ID   goGuard.MetricID
	Name string
	Help string
}

// HistogramDef maps an engine histogram to its exported name.
type HistogramDef struct {
	ID   goGuard.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: goGuard.MetricLoginSuccess, Name: "goguard_login_success_total", Help: "Logins that released a session."},
	{ID: goGuard.MetricLoginFailure, Name: "goguard_login_failure_total", Help: "Logins rejected for invalid credentials."},
	{ID: goGuard.MetricLoginRateLimited, Name: "goguard_login_rate_limited_total", Help: "Logins refused by the login_attempt policy."},
	{ID: goGuard.MetricLoginMFAChallenged, Name: "goguard_login_mfa_challenged_total", Help: "Logins that stopped at a second-factor challenge."},
	{ID: goGuard.MetricSuspiciousLogin, Name: "goguard_suspicious_login_total", Help: "Logins flagged by pattern analysis."},
	{ID: goGuard.MetricMFALoginSuccess, Name: "goguard_mfa_login_success_total", Help: "Completed second-factor challenges."},
	{ID: goGuard.MetricMFALoginFailure, Name: "goguard_mfa_login_failure_total", Help: "Wrong codes presented to a challenge."},
	{ID: goGuard.MetricMFAAttemptsExceeded, Name: "goguard_mfa_attempts_exceeded_total", Help: "Challenges burned after too many wrong codes."},
	{ID: goGuard.MetricMFAEnrolled, Name: "goguard_mfa_enrolled_total", Help: "Confirmed MFA enrollments."},
	{ID: goGuard.MetricMFADisabled, Name: "goguard_mfa_disabled_total", Help: "MFA disable operations."},
	{ID: goGuard.MetricMFADisableBlocked, Name: "goguard_mfa_disable_blocked_total", Help: "MFA disables refused by role policy."},
	{ID: goGuard.MetricRecoveryCodeUsed, Name: "goguard_recovery_code_used_total", Help: "Logins completed with a recovery code."},
	{ID: goGuard.MetricRecoveryCodesRegenerated, Name: "goguard_recovery_codes_regenerated_total", Help: "Recovery code regenerations."},
	{ID: goGuard.MetricLogout, Name: "goguard_logout_total", Help: "Sign-outs."},
	{ID: goGuard.MetricSignupSuccess, Name: "goguard_signup_success_total", Help: "Created merchant accounts."},
	{ID: goGuard.MetricSignupFailure, Name: "goguard_signup_failure_total", Help: "Signups rejected by the credential store."},
	{ID: goGuard.MetricSignupRateLimited, Name: "goguard_signup_rate_limited_total", Help: "Signups refused by the signup_attempt policy."},
	{ID: goGuard.MetricPasswordPolicyRejected, Name: "goguard_password_policy_rejected_total", Help: "Passwords rejected by the strength policy."},
	{ID: goGuard.MetricPasswordResetRequested, Name: "goguard_password_reset_requested_total", Help: "Password reset links sent."},
	{ID: goGuard.MetricPasswordResetRateLimited, Name: "goguard_password_reset_rate_limited_total", Help: "Reset requests refused by the password_reset policy."},
	{ID: goGuard.MetricPasswordUpdated, Name: "goguard_password_updated_total", Help: "Password changes."},
	{ID: goGuard.MetricPermissionGranted, Name: "goguard_permission_granted_total", Help: "Authoritative permission grants."},
	{ID: goGuard.MetricPermissionDenied, Name: "goguard_permission_denied_total", Help: "Authoritative permission denials."},
	{ID: goGuard.MetricRateLimitHit, Name: "goguard_rate_limit_hit_total", Help: "Limiter checks that refused a request."},
	{ID: goGuard.MetricRateLimitStoreUnavailable, Name: "goguard_rate_limit_store_unavailable_total", Help: "Limiter checks admitted because the store failed."},
	{ID: goGuard.MetricRateLimitPruned, Name: "goguard_rate_limit_pruned_total", Help: "Attempt records deleted by cleanup."},
	{ID: goGuard.MetricAlertsNotified, Name: "goguard_alerts_notified_total", Help: "Security events delivered by the alert monitor."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: goGuard.MetricLoginLatency, Name: "goguard_login_latency_seconds", Help: "Login latency."},
	{ID: goGuard.MetricMFAVerifyLatency, Name: "goguard_mfa_verify_latency_seconds", Help: "Second-factor verification latency."},
}

// EventsDroppedName is the counter for events the dispatcher shed.
const (
	EventsDroppedName = "goguard_events_dropped_total"
	EventsDroppedHelp = "Security events dropped by dispatcher backpressure."
)

// BucketCount is the number of histogram buckets, the open one included.
const BucketCount = len(goGuard.HistogramBounds)

// UpperBounds returns the finite bucket edges in seconds.
func UpperBounds() []float64 {
	out := make([]float64, 0, BucketCount-1)
	for _, d := range goGuard.HistogramBounds[:BucketCount-1] {
		out = append(out, d.Seconds())
	}
	return out
}

// BoundLabels returns the "le" label of every bucket, "+Inf" last.
func BoundLabels() []string {
	out := make([]string, 0, BucketCount)
	for _, b := range UpperBounds() {
		out = append(out, strconv.FormatFloat(b, 'f', -1, 64))
	}
	return append(out, "+Inf")
}

// NormalizeBuckets pads or truncates raw to BucketCount entries.
func NormalizeBuckets(raw []uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts to running totals.
func CumulativeBuckets(raw [BucketCount]uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
