// Package metrics emits threadgate's counters and gauges through the
// process telemetry system. Every emitter is a no-op until observability has
// installed one.
package metrics

import (
	"strconv"
	"time"

	"github.com/threadgate/threadgate/internal/observability"
)

const (
	AdmissionDecisionsTotal = "admission_decisions_total"
	QuotaDecisionsTotal     = "quota_decisions_total"
	LimiterStoreErrorsTotal = "limiter_store_errors_total"
	LimiterSweptBuckets     = "limiter_swept_buckets"

	RecordedCostTotal = "quota_recorded_cost_total"
	RecordedTokens    = "quota_recorded_tokens"

	ErrorsTotal = "errors_total"
	PanicsTotal = "panics_total"

	HealthCheckTotal    = "health_check_total"
	HealthCheckDuration = "health_check_duration_ms"

	ServerStartTime = "server_start_time_seconds"
	ServerUptime    = "server_uptime_seconds"
)

func counter(name string, value float64, labels map[string]string) {
	if sys := observability.TelemetrySystem; sys != nil {
		_ = sys.Counter(name, value, labels)
	}
}

func gauge(name string, value float64, labels map[string]string) {
	if sys := observability.TelemetrySystem; sys != nil {
		_ = sys.Gauge(name, value, labels)
	}
}

func orNone(v string) string {
	if v == "" {
		return "none"
	}
	return v
}

// RecordAdmission counts one limiter outcome for an endpoint class.
func RecordAdmission(class string, admitted bool) {
	outcome := "rejected"
	if admitted {
		outcome = "admitted"
	}
	counter(AdmissionDecisionsTotal, 1, map[string]string{"class": class, "outcome": outcome})
}

// RecordQuotaDecision counts which rule admitted or which ceiling rejected.
func RecordQuotaDecision(reason, mechanism string) {
	counter(QuotaDecisionsTotal, 1, map[string]string{
		"reason":    orNone(reason),
		"mechanism": orNone(mechanism),
	})
}

// RecordLimiterStoreError counts counter-store failures that were failed open.
func RecordLimiterStoreError(class string) {
	counter(LimiterStoreErrorsTotal, 1, map[string]string{"class": class})
}

// SetSweptBuckets records how many expired buckets the last sweep removed.
func SetSweptBuckets(n int) {
	gauge(LimiterSweptBuckets, float64(n), nil)
}

// RecordCost adds a completed operation's cost and notes its token count.
func RecordCost(tier string, tokens int64, cost float64) {
	labels := map[string]string{"tier": orNone(tier)}
	counter(RecordedCostTotal, cost, labels)
	gauge(RecordedTokens, float64(tokens), labels)
}

// RecordError counts an error response by envelope code and HTTP status.
func RecordError(code string, status int) {
	counter(ErrorsTotal, 1, map[string]string{"error_code": code, "http_status": strconv.Itoa(status)})
}

// RecordPanic counts a recovered handler panic.
func RecordPanic() {
	counter(PanicsTotal, 1, nil)
}

func RecordHealthCheck(check string, healthy bool, took time.Duration) {
	status := "unhealthy"
	if healthy {
		status = "healthy"
	}
	counter(HealthCheckTotal, 1, map[string]string{"check": check, "status": status})
	if sys := observability.TelemetrySystem; sys != nil {
		_ = sys.Histogram(HealthCheckDuration, took, map[string]string{"check": check})
	}
}

func SetServerStartTime(unix int64) {
	gauge(ServerStartTime, float64(unix), nil)
}

func SetServerUptime(seconds int64) {
	gauge(ServerUptime, float64(seconds), nil)
}
