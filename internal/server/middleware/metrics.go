package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/threadgate/threadgate/internal/observability"
)

// unmatchedRoute labels requests no route claimed, so 404 scans cannot grow
// the label set.
const unmatchedRoute = "unmatched"

// statusRecorder remembers the status and body size written through it.
type statusRecorder struct {
	http.ResponseWriter
	status  int
	written int64
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	n, err := s.ResponseWriter.Write(b)
	s.written += int64(n)
	return n, err
}

// routeLabel is the chi pattern that served r, e.g. /v1/limits/{class}.
func routeLabel(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return unmatchedRoute
}

func statusFamily(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

// Instrument emits per-route request metrics and a completion log line.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		elapsed := time.Since(start)
		route := routeLabel(r)

		if sys := observability.TelemetrySystem; sys != nil {
			labels := map[string]string{
				"method": r.Method,
				"route":  route,
				"status": strconv.Itoa(rec.status),
			}
			_ = sys.Counter("http_requests_total", 1, labels)
			_ = sys.Histogram("http_request_duration_ms", elapsed, labels)
			_ = sys.Gauge("http_response_size_bytes", float64(rec.written), map[string]string{
				"method": r.Method,
				"route":  route,
			})
			if rec.status >= http.StatusBadRequest {
				_ = sys.Counter("http_errors_total", 1, map[string]string{
					"method": r.Method,
					"route":  route,
					"family": statusFamily(rec.status),
				})
			}
		}

		if observability.ServerLogger == nil {
			return
		}
		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", rec.status),
			zap.Duration("duration", elapsed),
			zap.Int64("bytes", rec.written),
			zap.String("request_id", GetRequestID(r.Context())),
		}
		if rec.status >= http.StatusInternalServerError {
			observability.ServerLogger.Warn("Request failed", fields...)
			return
		}
		observability.ServerLogger.Debug("Request served", fields...)
	})
}
