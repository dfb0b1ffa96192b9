package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fulmenhq/gofulmen/telemetry"
	telemetrytesting "github.com/fulmenhq/gofulmen/telemetry/testing"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadgate/threadgate/internal/observability"
)

func installCollector(t *testing.T) *telemetrytesting.FakeCollector {
	t.Helper()
	collector := telemetrytesting.NewFakeCollector()
	sys, err := telemetry.NewSystem(&telemetry.Config{Enabled: true, Emitter: collector})
	require.NoError(t, err)

	original := observability.TelemetrySystem
	observability.TelemetrySystem = sys
	t.Cleanup(func() { observability.TelemetrySystem = original })
	return collector
}

func instrumentedRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(Instrument)
	r.Get("/v1/limits/{class}", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"limit":10}`))
	})
	r.Post("/v1/admission", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	r.Get("/boom", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	return r
}

func TestInstrumentCountsRequests(t *testing.T) {
	collector := installCollector(t)

	rec := httptest.NewRecorder()
	instrumentedRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/limits/api", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, collector.CountMetricsByName("http_requests_total"))
	assert.Greater(t, collector.CountMetricsByName("http_request_duration_ms"), 0)
	assert.Equal(t, 1, collector.CountMetricsByName("http_response_size_bytes"))
	assert.Zero(t, collector.CountMetricsByName("http_errors_total"))
}

func TestInstrumentCountsErrors(t *testing.T) {
	collector := installCollector(t)
	router := instrumentedRouter()

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodPost, "/v1/admission", nil),
		httptest.NewRequest(http.MethodGet, "/boom", nil),
		httptest.NewRequest(http.MethodGet, "/nope", nil),
	} {
		router.ServeHTTP(httptest.NewRecorder(), req)
	}

	assert.Equal(t, 3, collector.CountMetricsByName("http_requests_total"))
	assert.Equal(t, 3, collector.CountMetricsByName("http_errors_total"))
}

func TestInstrumentWithoutTelemetry(t *testing.T) {
	original := observability.TelemetrySystem
	observability.TelemetrySystem = nil
	t.Cleanup(func() { observability.TelemetrySystem = original })

	rec := httptest.NewRecorder()
	instrumentedRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/limits/auth", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"limit":10}`, rec.Body.String())
}

func TestRouteLabel(t *testing.T) {
	var seen string
	r := chi.NewRouter()
	r.Get("/v1/accounts/{id}/quota", func(w http.ResponseWriter, req *http.Request) {
		seen = routeLabel(req)
	})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/accounts/acct-9/quota", nil))
	assert.Equal(t, "/v1/accounts/{id}/quota", seen)

	assert.Equal(t, unmatchedRoute, routeLabel(httptest.NewRequest(http.MethodGet, "/anything", nil)))
}

func TestStatusFamily(t *testing.T) {
	assert.Equal(t, "2xx", statusFamily(http.StatusNoContent))
	assert.Equal(t, "3xx", statusFamily(http.StatusFound))
	assert.Equal(t, "4xx", statusFamily(http.StatusForbidden))
	assert.Equal(t, "5xx", statusFamily(http.StatusBadGateway))
}
