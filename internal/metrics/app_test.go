package metrics

import (
	"testing"
	"time"

	"github.com/fulmenhq/gofulmen/telemetry"
	telemetrytesting "github.com/fulmenhq/gofulmen/telemetry/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadgate/threadgate/internal/observability"
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

func TestAdmissionMetrics(t *testing.T) {
	collector := setupTelemetry(t)

	RecordAdmission("generation", true)
	RecordAdmission("generation", false)
	RecordQuotaDecision("", "coin")
	RecordQuotaDecision("daily_cost_cap", "")
	RecordLimiterStoreError("api")

	assert.Equal(t, 2, collector.CountMetricsByName(AdmissionDecisionsTotal))
	assert.Equal(t, 2, collector.CountMetricsByName(QuotaDecisionsTotal))
	assert.Equal(t, 1, collector.CountMetricsByName(LimiterStoreErrorsTotal))
}

func TestCostAndSweepMetrics(t *testing.T) {
	collector := setupTelemetry(t)

	RecordCost("pro", 1500, 0.003)
	SetSweptBuckets(4)

	assert.Equal(t, 1, collector.CountMetricsByName(RecordedCostTotal))
	assert.Equal(t, 1, collector.CountMetricsByName(RecordedTokens))
	assert.Equal(t, 1, collector.CountMetricsByName(LimiterSweptBuckets))
}

func TestMetricsWithoutTelemetry(t *testing.T) {
	original := observability.TelemetrySystem
	observability.TelemetrySystem = nil
	t.Cleanup(func() { observability.TelemetrySystem = original })

	assert.NotPanics(t, func() {
		RecordAdmission("auth", false)
		RecordQuotaDecision("monthly_cost_cap", "")
		RecordCost("free", 10, 0.1)
		RecordError("RATE_LIMITED", 429)
	})
}

func TestErrorAndHealthMetrics(t *testing.T) {
	collector := setupTelemetry(t)

	RecordError("QUOTA_EXCEEDED", 403)
	RecordPanic()
	RecordHealthCheck("account_store", false, 3*time.Millisecond)

	assert.Equal(t, 1, collector.CountMetricsByName(ErrorsTotal))
	assert.Equal(t, 1, collector.CountMetricsByName(PanicsTotal))
	assert.Equal(t, 1, collector.CountMetricsByName(HealthCheckTotal))
	assert.Equal(t, 1, collector.CountMetricsByName(HealthCheckDuration))
}
