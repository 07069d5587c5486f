package metrics

import (
	"testing"
	"time"

	"github.com/fulmenhq/gofulmen/telemetry"
	telemetrytesting "github.com/fulmenhq/gofulmen/telemetry/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pcroast/pcroast/internal/observability"
)

func setupTelemetry(t *testing.T) *telemetrytesting.FakeCollector {
	t.Helper()

	collector := telemetrytesting.NewFakeCollector()
	sys, err := telemetry.NewSystem(&telemetry.Config{Enabled: true, Emitter: collector})
	require.NoError(t, err)

	original := observability.TelemetrySystem
	observability.TelemetrySystem = sys
	t.Cleanup(func() { observability.TelemetrySystem = original })

	return collector
}

func TestRecordersEmit(t *testing.T) {
	collector := setupTelemetry(t)

	RecordGateOutcome("gate1", OutcomeSuccess, 15*time.Millisecond)
	RecordGateOutcome("gate2", OutcomeRateLimited, 0)
	RecordAdmission(AdmissionRejected)
	RecordSweep(3)
	RecordUpstreamFailure("gate3", "gemini", "AILINK_PROVIDER_RATE_LIMIT")
	RecordAuditAppend(false)
	RecordError("NOT_FOUND", 404)
	RecordErrorByEndpoint("/unknown", "NOT_FOUND")
	RecordPanic()
	SetServerStartTime(time.Now())

	assert.Greater(t, collector.CountMetricsByName(GateRequestsTotal), 0)
	assert.Greater(t, collector.CountMetricsByName(GateRequestDuration), 0)
	assert.Greater(t, collector.CountMetricsByName(AdmissionsTotal), 0)
	assert.Greater(t, collector.CountMetricsByName(RateLimitSweptTotal), 0)
	assert.Greater(t, collector.CountMetricsByName(UpstreamFailures), 0)
	assert.Greater(t, collector.CountMetricsByName(AuditAppendsTotal), 0)
	assert.Greater(t, collector.CountMetricsByName(ErrorsTotalName), 0)
	assert.Greater(t, collector.CountMetricsByName(ErrorsByEndpointName), 0)
	assert.Greater(t, collector.CountMetricsByName(PanicsTotalName), 0)
	assert.Greater(t, collector.CountMetricsByName(ServerStartTime), 0)
}

func TestRecordersNoopWithoutTelemetry(t *testing.T) {
	original := observability.TelemetrySystem
	observability.TelemetrySystem = nil
	t.Cleanup(func() { observability.TelemetrySystem = original })

	assert.NotPanics(t, func() {
		RecordGateOutcome("gate1", OutcomeAuditFailure, time.Second)
		RecordAdmission(AdmissionAllowed)
		RecordSweep(1)
		RecordPanic()
	})
}
