package metrics

import (
	"testing"
	"time"

	"github.com/fulmenhq/gofulmen/telemetry"
	telemetrytesting "github.com/fulmenhq/gofulmen/telemetry/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillpress/quillpress/internal/observability"
)

func setupTelemetry(t *testing.T) *telemetrytesting.FakeCollector {
	t.Helper()

	collector := telemetrytesting.NewFakeCollector()
	sys, err := telemetry.NewSystem(&telemetry.Config{
		Enabled: true,
		Emitter: collector,
	})
	require.NoError(t, err)

	original := observability.TelemetrySystem
	observability.TelemetrySystem = sys
	t.Cleanup(func() {
		observability.TelemetrySystem = original
	})

	return collector
}

func TestRecordRateLimitDecision(t *testing.T) {
	collector := setupTelemetry(t)

	RecordRateLimitDecision("login", OutcomeAllowed, time.Millisecond)
	RecordRateLimitDecision("login", OutcomeFailOpen, time.Millisecond)

	assert.Positive(t, collector.CountMetricsByName(RateLimitDecisionsTotal))
	assert.Positive(t, collector.CountMetricsByName(RateLimitEvalDuration))
	assert.Positive(t, collector.CountMetricsByName(RateLimitFailOpenTotal))
}

func TestRecordAlert(t *testing.T) {
	collector := setupTelemetry(t)

	RecordAlert("ratelimit", "RATE_LIMIT_BLOCKED", "warn")

	assert.Positive(t, collector.CountMetricsByName(AlertsTotal))

	RecordAlertDropped("RATE_LIMIT_BLOCKED")
	assert.Positive(t, collector.CountMetricsByName(AlertsDroppedTotal))
}

func TestRecordWithoutTelemetry(t *testing.T) {
	original := observability.TelemetrySystem
	observability.TelemetrySystem = nil
	t.Cleanup(func() {
		observability.TelemetrySystem = original
	})

	assert.NotPanics(t, func() {
		RecordRateLimitDecision("login", OutcomeBlocked, 0)
		RecordAlert("ratelimit", "X", "error")
	})
}

func TestLifecycleMetrics(t *testing.T) {
	collector := setupTelemetry(t)

	RecordHealthCheck("rate_limit_store", false, time.Millisecond)
	SetServerStartTime(1_735_732_800)
	SetServingConfig("redis", 3)

	assert.Positive(t, collector.CountMetricsByName(HealthCheckTotal))
	assert.Positive(t, collector.CountMetricsByName(ServerStartTime))
	assert.Positive(t, collector.CountMetricsByName(StoreInfo))
	assert.Positive(t, collector.CountMetricsByName(PoliciesConfigured))
}
