// Package metrics emits service metrics through the global telemetry system.
// Every function is a no-op until observability.InitMetrics has run.
package metrics

import (
	"strconv"
	"time"

	"github.com/pcroast/pcroast/internal/observability"
)

// Metric names
const (
	GateRequestsTotal    = "gate_requests_total"
	GateRequestDuration  = "gate_request_duration_ms"
	AdmissionsTotal      = "ratelimit_admissions_total"
	RateLimitSweptTotal  = "ratelimit_swept_total"
	UpstreamFailures     = "upstream_failures_total"
	AuditAppendsTotal    = "audit_appends_total"
	ErrorsTotalName      = "errors_total"
	PanicsTotalName      = "panics_total"
	ErrorsByEndpointName = "errors_by_endpoint"
	ServerStartTime      = "app_server_start_time_seconds"
)

// Gate outcomes. Each gate response falls into exactly one.
const (
	OutcomeSuccess         = "success"
	OutcomeRateLimited     = "rate_limited"
	OutcomeUpstreamFailure = "upstream_failure"
	OutcomeAuditFailure    = "audit_failure"
)

// Admission decisions.
const (
	AdmissionAllowed  = "allowed"
	AdmissionRejected = "rejected"
	AdmissionError    = "store_error"
)

func counter(name string, labels map[string]string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(name, 1, labels)
	}
}

// RecordGateOutcome counts one gate response and its latency.
func RecordGateOutcome(gate, outcome string, duration time.Duration) {
	labels := map[string]string{"gate": gate, "outcome": outcome}
	counter(GateRequestsTotal, labels)
	if observability.TelemetrySystem != nil && duration > 0 {
		_ = observability.TelemetrySystem.Histogram(GateRequestDuration, duration, labels)
	}
}

// RecordAdmission counts one rate limiter decision.
func RecordAdmission(decision string) {
	counter(AdmissionsTotal, map[string]string{"decision": decision})
}

// RecordSweep records how many expired windows a sweep removed.
func RecordSweep(removed int64) {
	if observability.TelemetrySystem != nil && removed > 0 {
		_ = observability.TelemetrySystem.Counter(RateLimitSweptTotal, float64(removed), nil)
	}
}

// RecordUpstreamFailure counts a failed generation by classified code.
func RecordUpstreamFailure(gate, provider, code string) {
	counter(UpstreamFailures, map[string]string{"gate": gate, "provider": provider, "code": code})
}

// RecordAuditAppend counts audit writes by result.
func RecordAuditAppend(ok bool) {
	status := "success"
	if !ok {
		status = "failure"
	}
	counter(AuditAppendsTotal, map[string]string{"status": status})
}

// RecordError records an error response with code and status
func RecordError(errorCode string, httpStatus int) {
	counter(ErrorsTotalName, map[string]string{
		"error_code":  errorCode,
		"http_status": strconv.Itoa(httpStatus),
	})
}

// RecordErrorByEndpoint records an error by endpoint
func RecordErrorByEndpoint(endpoint string, errorCode string) {
	counter(ErrorsByEndpointName, map[string]string{
		"endpoint":   endpoint,
		"error_code": errorCode,
	})
}

// RecordPanic records a panic recovery
func RecordPanic() {
	counter(PanicsTotalName, nil)
}

// SetServerStartTime records the server start time (Unix timestamp)
func SetServerStartTime(t time.Time) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(ServerStartTime, float64(t.Unix()), nil)
	}
}
