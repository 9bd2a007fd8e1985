package internaldefs

import (
	goSession "github.com/MrEthical07/goSession"
)

type CounterDef struct {
	ID   goSession.MetricID
	Name string
	Help string
}

type HistogramDef struct {
	ID   goSession.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: goSession.MetricLoginSuccess, Name: "gosession_login_success_total", Help: "Successful logins."},
	{ID: goSession.MetricLoginFailure, Name: "gosession_login_failure_total", Help: "Failed logins."},
	{ID: goSession.MetricRegisterSuccess, Name: "gosession_register_success_total", Help: "Successful registrations."},
	{ID: goSession.MetricRegisterFailure, Name: "gosession_register_failure_total", Help: "Failed registrations."},
	{ID: goSession.MetricLogout, Name: "gosession_logout_total", Help: "Logouts."},
	{ID: goSession.MetricRefreshSuccess, Name: "gosession_refresh_success_total", Help: "Successful token refreshes."},
	{ID: goSession.MetricRefreshFailure, Name: "gosession_refresh_failure_total", Help: "Failed token refreshes."},
	{ID: goSession.MetricRefreshQueued, Name: "gosession_refresh_queued_total", Help: "Requests and callers that waited on an in-flight refresh."},
	{ID: goSession.MetricRequestRetried, Name: "gosession_request_retried_total", Help: "Requests replayed after a refresh."},
	{ID: goSession.MetricRetryCeiling, Name: "gosession_retry_ceiling_total", Help: "Replayed requests rejected again with 401."},
	{ID: goSession.MetricSessionExpired, Name: "gosession_session_expired_total", Help: "Sessions torn down after a failed refresh."},
	{ID: goSession.MetricReconcileSuccess, Name: "gosession_reconcile_success_total", Help: "Successful user reconciliations."},
	{ID: goSession.MetricReconcileFailure, Name: "gosession_reconcile_failure_total", Help: "Failed user reconciliations."},
	{ID: goSession.MetricNavigationAllowed, Name: "gosession_navigation_allowed_total", Help: "Navigations allowed by the guard."},
	{ID: goSession.MetricNavigationRedirected, Name: "gosession_navigation_redirected_total", Help: "Navigations redirected by the guard."},
}

var HistogramDefs = []HistogramDef{
	{ID: goSession.MetricRefreshLatency, Name: "gosession_refresh_latency_seconds", Help: "Token refresh latency."},
}

const AuditDroppedName = "gosession_audit_dropped_total"

const AuditDroppedHelp = "Dropped audit events due to dispatcher backpressure."

// HistogramUpperBounds are the finite bucket bounds in seconds. The last
// snapshot bucket is +Inf.
var HistogramUpperBounds = []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}

var HistogramBoundSuffix = []string{
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"1",
	"2_5",
	"inf",
}

// NormalizeBuckets pads or truncates raw to the fixed bucket count.
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
