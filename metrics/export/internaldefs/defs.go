package internaldefs

import (
	"github.com/MrEthical07/clinicguard"
)

// CounterDef names one engine counter for exporters.
type CounterDef struct {
	ID   clinicguard.MetricID
	Name string
	Help string
}

// HistogramDef names one engine latency histogram for exporters.
type HistogramDef struct {
	ID   clinicguard.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: clinicguard.MetricTokenValidated, Name: "clinicguard_token_validated_total", Help: "Bearer tokens that passed validation."},
	{ID: clinicguard.MetricTokenRejected, Name: "clinicguard_token_rejected_total", Help: "Bearer tokens rejected by a validation check."},
	{ID: clinicguard.MetricTokenRateLimited, Name: "clinicguard_token_rate_limited_total", Help: "Validation attempts denied by the burst guard."},
	{ID: clinicguard.MetricTokenRevoked, Name: "clinicguard_token_revoked_total", Help: "Tokens rejected because they were revoked."},
	{ID: clinicguard.MetricRevocationAdded, Name: "clinicguard_revocation_added_total", Help: "Revocation entries recorded."},
	{ID: clinicguard.MetricSessionCreated, Name: "clinicguard_session_created_total", Help: "Sessions created."},
	{ID: clinicguard.MetricSessionValidated, Name: "clinicguard_session_validated_total", Help: "Sessions validated successfully."},
	{ID: clinicguard.MetricSessionExpired, Name: "clinicguard_session_expired_total", Help: "Sessions rejected after idle or absolute expiry."},
	{ID: clinicguard.MetricSessionAnomaly, Name: "clinicguard_session_anomaly_total", Help: "Sessions presented from an unexpected origin or agent."},
	{ID: clinicguard.MetricSessionStepUp, Name: "clinicguard_session_step_up_total", Help: "Sessions that required re-authentication."},
	{ID: clinicguard.MetricSessionRegenerated, Name: "clinicguard_session_regenerated_total", Help: "Session identifiers regenerated."},
	{ID: clinicguard.MetricSessionRemoved, Name: "clinicguard_session_removed_total", Help: "Sessions removed explicitly."},
	{ID: clinicguard.MetricSessionCapRejected, Name: "clinicguard_session_cap_rejected_total", Help: "Session creations rejected by the per-principal cap."},
	{ID: clinicguard.MetricLogoutEverywhere, Name: "clinicguard_logout_everywhere_total", Help: "Logout-everywhere operations."},
	{ID: clinicguard.MetricRateLimitAllowed, Name: "clinicguard_rate_limit_allowed_total", Help: "Class rate-limit checks that allowed the request."},
	{ID: clinicguard.MetricRateLimitDenied, Name: "clinicguard_rate_limit_denied_total", Help: "Class rate-limit checks that denied the request."},
	{ID: clinicguard.MetricLoginSuccess, Name: "clinicguard_login_success_total", Help: "Successful login attempts."},
	{ID: clinicguard.MetricLoginFailure, Name: "clinicguard_login_failure_total", Help: "Failed login attempts."},
	{ID: clinicguard.MetricLoginBlocked, Name: "clinicguard_login_blocked_total", Help: "Login keys blocked after too many failures."},
	{ID: clinicguard.MetricAuthzGranted, Name: "clinicguard_authz_granted_total", Help: "Authorization decisions that granted access."},
	{ID: clinicguard.MetricAuthzDenied, Name: "clinicguard_authz_denied_total", Help: "Authorization decisions that denied access."},
	{ID: clinicguard.MetricConsentRequired, Name: "clinicguard_consent_required_total", Help: "Denials caused by missing consent."},
	{ID: clinicguard.MetricUpstreamDegraded, Name: "clinicguard_upstream_degraded_total", Help: "Operations failed closed because a backend was unavailable."},
	{ID: clinicguard.MetricSweepRemoved, Name: "clinicguard_sweep_removed_total", Help: "Expired entries removed by cleanup passes."},
}

// HistogramDefs lists the latency histograms.
var HistogramDefs = []HistogramDef{
	{ID: clinicguard.MetricValidateLatency, Name: "clinicguard_validate_latency_seconds", Help: "Token validation latency."},
	{ID: clinicguard.MetricAuthorizeLatency, Name: "clinicguard_authorize_latency_seconds", Help: "Authorization decision latency."},
}

// AuditDroppedName and AuditDroppedHelp describe the dispatcher drop counter.
const (
	AuditDroppedName = "clinicguard_audit_dropped_total"
	AuditDroppedHelp = "Audit events dropped because the dispatcher queue was full."
)

// HistogramBounds are the upper bounds in seconds of every finite bucket.
// The engine keeps one more bucket for everything above the last bound.
var HistogramBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// HistogramBoundSuffix names each bucket, +Inf included. The otel exporter
// uses these as "le" attribute values.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed array, zero filling short input.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
