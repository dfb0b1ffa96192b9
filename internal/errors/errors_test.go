package errors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadgate/threadgate/internal/server/middleware"
)

func TestHTTPStatusFromCode(t *testing.T) {
	cases := map[string]int{
		"INVALID_INPUT":     http.StatusBadRequest,
		"VALIDATION_FAILED": http.StatusBadRequest,
		"NOT_FOUND":         http.StatusNotFound,
		"CONFLICT":          http.StatusConflict,
		CodeRateLimited:     http.StatusTooManyRequests,
		CodeQuotaExceeded:   http.StatusForbidden,
		"SOMETHING_ELSE":    http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, HTTPStatusFromCode(code), code)
	}
}

func TestRespondWithRateLimited(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/v1/admission", nil)
	rec := httptest.NewRecorder()

	RespondWithEnvelope(rec, req, NewRateLimitedError("generation", 10, 42))

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "42", rec.Header().Get("Retry-After"))

	var body HTTPErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, CodeRateLimited, body.Error.Code)
	assert.Equal(t, float64(42), body.Error.Details["retry_after"])
	assert.Equal(t, "generation", body.Error.Details["class"])
	assert.NotEmpty(t, body.Error.RequestID)
}

func TestRespondWithQuotaExceeded(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/v1/admission", nil)
	rec := httptest.NewRecorder()

	RespondWithEnvelope(rec, req, NewQuotaExceededError("daily_cost_cap"))

	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, rec.Header().Get("Retry-After"))

	var body HTTPErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, CodeQuotaExceeded, body.Error.Code)
	assert.Equal(t, "daily_cost_cap", body.Error.Details["reason"])
}

func TestEnsureEnvelopeWrapsPlainErrors(t *testing.T) {
	env := EnsureEnvelope(fmt.Errorf("boom"))
	assert.Equal(t, "INTERNAL_ERROR", env.Code)
	assert.Equal(t, "boom", env.Context["wrapped_error"])

	limited := NewRateLimitedError("api", 100, 3)
	assert.Same(t, limited, EnsureEnvelope(limited))
}

func TestWrapCarriesRequestID(t *testing.T) {
	ctx := middleware.WithRequestID(context.Background(), "req-42")

	env := WrapDatabaseError(ctx, fmt.Errorf("disk full"), "account store unavailable")
	assert.Equal(t, CodeDatabase, env.Code)
	assert.Equal(t, "req-42", env.CorrelationID)
	assert.Equal(t, "disk full", env.Context["wrapped_error"])
	assert.Equal(t, http.StatusInternalServerError, HTTPStatusFromEnvelope(env))

	minted := WrapTimeout(context.Background(), nil, "slow")
	assert.NotEmpty(t, minted.CorrelationID)
	assert.Equal(t, http.StatusGatewayTimeout, HTTPStatusFromCode(minted.Code))
}
