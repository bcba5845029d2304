package internaldefs

import (
	goRotate "github.com/MrEthical07/goRotate"
)

// CounterDef names one engine counter for export.
type CounterDef struct {
	ID   goRotate.MetricID
	Name string
	Help string
}

// HistogramDef names one engine latency histogram for export.
type HistogramDef struct {
	ID   goRotate.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: goRotate.MetricLoginIssued, Name: "gorotate_login_issued_total", Help: "Credential pairs issued at login."},
	{ID: goRotate.MetricLoginRejected, Name: "gorotate_login_rejected_total", Help: "Login issuances that failed or hit the session limit."},
	{ID: goRotate.MetricLoginRateLimited, Name: "gorotate_login_rate_limited_total", Help: "Login attempts denied by the limiter."},
	{ID: goRotate.MetricRefreshSuccess, Name: "gorotate_refresh_success_total", Help: "Successful rotations."},
	{ID: goRotate.MetricRefreshFailure, Name: "gorotate_refresh_failure_total", Help: "Rejected or failed rotations."},
	{ID: goRotate.MetricRefreshUnknownToken, Name: "gorotate_refresh_unknown_token_total", Help: "Rotations presenting an unknown token."},
	{ID: goRotate.MetricRefreshExpired, Name: "gorotate_refresh_expired_total", Help: "Rotations presenting an expired token."},
	{ID: goRotate.MetricRefreshReuseDetected, Name: "gorotate_refresh_reuse_detected_total", Help: "Detected refresh token reuses."},
	{ID: goRotate.MetricRefreshConsumeRace, Name: "gorotate_refresh_consume_race_total", Help: "Rotations that lost the consumption race."},
	{ID: goRotate.MetricFamilyRevoked, Name: "gorotate_family_revoked_total", Help: "Token families revoked."},
	{ID: goRotate.MetricSessionCreated, Name: "gorotate_session_created_total", Help: "Sessions registered."},
	{ID: goRotate.MetricSessionEvicted, Name: "gorotate_session_evicted_total", Help: "Sessions evicted by the per-principal cap."},
	{ID: goRotate.MetricSessionRevoked, Name: "gorotate_session_revoked_total", Help: "Single-session logouts."},
	{ID: goRotate.MetricLogoutAll, Name: "gorotate_logout_all_total", Help: "Logout-all operations."},
	{ID: goRotate.MetricAccessValidated, Name: "gorotate_access_validated_total", Help: "Access tokens accepted."},
	{ID: goRotate.MetricAccessRejected, Name: "gorotate_access_rejected_total", Help: "Access tokens rejected."},
	{ID: goRotate.MetricIssuanceFailed, Name: "gorotate_issuance_failed_total", Help: "Issuance failures from signer or store."},
	{ID: goRotate.MetricSweepRecordsDeleted, Name: "gorotate_sweep_records_deleted_total", Help: "Expired records removed by sweeps."},
	{ID: goRotate.MetricSweepFailure, Name: "gorotate_sweep_failure_total", Help: "Sweeps that reported an error."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: goRotate.MetricRotateLatency, Name: "gorotate_rotate_latency_seconds", Help: "Rotate latency histogram."},
}

// HistogramBounds are the upper bounds, in seconds, of the engine's eight latency buckets.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix spells each bound for metric names that cannot carry dots.
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

// NormalizeBuckets copies up to eight raw bucket counts, zero-filling the rest.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	copy(out[:], raw)
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
