package middleware

import (
	"encoding/json"
	"net/http"
	"runtime/debug"

	"github.com/fulmenhq/gofulmen/errors"
	"go.uber.org/zap"

	"github.com/threadgate/threadgate/internal/metrics"
	"github.com/threadgate/threadgate/internal/observability"
)

// Recovery turns a handler panic into a 500 INTERNAL_ERROR envelope. The
// stack goes to the log, never to the client.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			recovered := recover()
			if recovered == nil {
				return
			}
			if recovered == http.ErrAbortHandler {
				panic(recovered)
			}

			requestID := GetRequestID(r.Context())
			metrics.RecordPanic()
			observability.Logger().Error("Handler panicked",
				zap.String("request_id", requestID),
				zap.String("path", r.URL.Path),
				zap.Any("panic", recovered),
				zap.ByteString("stack", debug.Stack()))

			envelope := errors.NewErrorEnvelope("INTERNAL_ERROR", "internal server error").
				WithCorrelationID(requestID)
			envelope, _ = envelope.WithSeverity(errors.SeverityCritical)
			writeErrorResponse(w, envelope, http.StatusInternalServerError)
		}()

		next.ServeHTTP(w, r)
	})
}

type errorBody struct {
	Error errorFields `json:"error"`
}

type errorFields struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

// writeErrorResponse mirrors the internal/errors response shape. That package
// imports this one, so middleware writes its own.
func writeErrorResponse(w http.ResponseWriter, envelope *errors.ErrorEnvelope, status int) {
	details := envelope.Details
	if len(details) == 0 {
		details = envelope.Context
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(errorBody{Error: errorFields{
		Code:      envelope.Code,
		Message:   envelope.Message,
		Details:   details,
		RequestID: envelope.CorrelationID,
	}}); err != nil {
		observability.Logger().Debug("Error response not written", zap.Error(err))
	}
}
