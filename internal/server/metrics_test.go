package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fulmenhq/gofulmen/telemetry/exporters"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/threadgate/threadgate/internal/errors"
	"github.com/threadgate/threadgate/internal/observability"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func withExporter(t *testing.T) {
	t.Helper()
	original := observability.PrometheusExporter
	observability.PrometheusExporter = exporters.NewPrometheusExporter("test", ":9090")
	t.Cleanup(func() { observability.PrometheusExporter = original })
}

func TestMetricsProxyForwardsExporterOutput(t *testing.T) {
	withExporter(t)

	var target string
	proxy := newMetricsProxy()
	proxy.fallbackPort = 9464
	proxy.client = &http.Client{
		Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			target = req.URL.String()
			resp := &http.Response{
				StatusCode: http.StatusOK,
				Body:       io.NopCloser(strings.NewReader("admission_decisions_total{class=\"generation\"} 3\n")),
				Header:     make(http.Header),
			}
			resp.Header.Set("Connection", "close")
			return resp, nil
		}),
	}

	rec := httptest.NewRecorder()
	proxy.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	assert.Empty(t, rec.Header().Get("Connection"))
	assert.Contains(t, rec.Body.String(), "admission_decisions_total")
	if observability.GetMetricsPort() == 0 {
		assert.Equal(t, "http://127.0.0.1:9464/metrics", target)
	}
}

func TestMetricsProxyExporterUnreachable(t *testing.T) {
	withExporter(t)

	proxy := newMetricsProxy()
	proxy.client = &http.Client{
		Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
			return nil, errors.New("connection refused")
		}),
	}

	rec := httptest.NewRecorder()
	proxy.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestMetricsProxyWithoutExporter(t *testing.T) {
	original := observability.PrometheusExporter
	observability.PrometheusExporter = nil
	t.Cleanup(func() { observability.PrometheusExporter = original })

	rec := httptest.NewRecorder()
	newMetricsProxy().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "SERVICE_UNAVAILABLE", body.Error.Code)
}
