package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/threadgate/threadgate/internal/errors"
)

func pingOK(context.Context) error { return nil }

func TestHealthReportsEachCheck(t *testing.T) {
	manager := NewHealthManager("1.2.3")
	manager.RegisterChecker("account_store", CheckerFunc(pingOK))
	manager.RegisterChecker("redis", CheckerFunc(pingOK))

	rec := httptest.NewRecorder()
	manager.HealthHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Equal(t, "1.2.3", resp.Version)
	assert.Equal(t, map[string]string{"account_store": StatusHealthy, "redis": StatusHealthy}, resp.Checks)
}

func TestHealthUnhealthyStoreIs503(t *testing.T) {
	manager := NewHealthManager("1.2.3")
	manager.RegisterChecker("account_store", CheckerFunc(func(context.Context) error {
		return errors.New("database is locked")
	}))
	manager.RegisterChecker("redis", CheckerFunc(pingOK))

	rec := httptest.NewRecorder()
	manager.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "SERVICE_UNAVAILABLE", resp.Error.Code)
	assert.Equal(t, "ready", resp.Error.Details["probe"])
	checks, ok := resp.Error.Details["checks"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, StatusUnhealthy, checks["account_store"])
	assert.Equal(t, StatusHealthy, checks["redis"])
}

func TestHealthSlowCheckIsDegraded(t *testing.T) {
	saved := probeTimeouts["live"]
	probeTimeouts["live"] = 10 * time.Millisecond
	t.Cleanup(func() { probeTimeouts["live"] = saved })

	manager := NewHealthManager("dev")
	manager.RegisterChecker("redis", CheckerFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	rec := httptest.NewRecorder()
	manager.LivenessHandler(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ProbeResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, StatusDegraded, resp.Status)
	assert.Equal(t, "live", resp.Probe)
}

func TestOverallStatus(t *testing.T) {
	manager := NewHealthManager("dev")
	assert.Equal(t, StatusHealthy, manager.determineOverallStatus(nil))
	assert.Equal(t, StatusDegraded, manager.determineOverallStatus(map[string]string{"a": StatusHealthy, "b": StatusTimeout}))
	assert.Equal(t, StatusUnhealthy, manager.determineOverallStatus(map[string]string{"a": StatusTimeout, "b": StatusUnhealthy}))
}

func TestStartupProbe(t *testing.T) {
	manager := NewHealthManager("dev")
	rec := httptest.NewRecorder()
	manager.StartupHandler(rec, httptest.NewRequest(http.MethodGet, "/health/startup", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGlobalProbesWithoutManager(t *testing.T) {
	previous := globalHealthManager
	globalHealthManager = nil
	t.Cleanup(func() { globalHealthManager = previous })

	rec := httptest.NewRecorder()
	ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	InitHealthManager("dev")
	assert.NotNil(t, GetHealthManager())
	rec = httptest.NewRecorder()
	HealthHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
