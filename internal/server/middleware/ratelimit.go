package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/errors"
	"go.uber.org/zap"

	"github.com/threadgate/threadgate/internal/core"
	"github.com/threadgate/threadgate/internal/metrics"
	"github.com/threadgate/threadgate/internal/observability"
)

// Rate limit response headers
const (
	RateLimitLimitHeader     = "X-RateLimit-Limit"
	RateLimitRemainingHeader = "X-RateLimit-Remaining"
	RateLimitResetHeader     = "X-RateLimit-Reset"
	RetryAfterHeader         = "Retry-After"
)

// RateChecker counts one request for identity under class.
type RateChecker interface {
	Check(ctx context.Context, identity string, class core.EndpointClass) (core.Decision, error)
}

// RateLimit throttles the wrapped routes under class, keyed by client IP.
// Store failures let the request through.
func RateLimit(checker RateChecker, class core.EndpointClass) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if checker == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := ClientIdentity(r)
			decision, err := checker.Check(r.Context(), identity, class)
			if err != nil {
				metrics.RecordLimiterStoreError(string(class))
				observability.Logger().Warn("Rate limit store unavailable, admitting request",
					zap.String("class", string(class)),
					zap.Error(err))
			}

			SetRateLimitHeaders(w, decision)
			if decision.Admitted {
				next.ServeHTTP(w, r)
				return
			}

			retryAfter := max(decision.RetryAfter(time.Now()), 1)
			w.Header().Set(RetryAfterHeader, strconv.Itoa(retryAfter))

			envelope := errors.NewErrorEnvelope("RATE_LIMITED", fmt.Sprintf("rate limit exceeded for %s", class)).
				WithCorrelationID(GetRequestID(r.Context())).
				WithDetails(map[string]interface{}{
					"class":       string(class),
					"limit":       decision.Limit,
					"retry_after": retryAfter,
				})
			metrics.RecordError(envelope.Code, http.StatusTooManyRequests)
			writeErrorResponse(w, envelope, http.StatusTooManyRequests)
		})
	}
}

// SetRateLimitHeaders writes the X-RateLimit-* headers for decision. Nothing is
// written when the decision carries no limit.
func SetRateLimitHeaders(w http.ResponseWriter, decision core.Decision) {
	if decision.Limit <= 0 {
		return
	}
	h := w.Header()
	h.Set(RateLimitLimitHeader, strconv.Itoa(decision.Limit))
	h.Set(RateLimitRemainingHeader, strconv.Itoa(max(decision.Remaining, 0)))
	if !decision.ResetAt.IsZero() {
		h.Set(RateLimitResetHeader, strconv.FormatInt(decision.ResetAt.Unix(), 10))
	}
}

// ClientIdentity returns the caller's IP. chi's RealIP has already replaced
// RemoteAddr when a proxy header was present.
func ClientIdentity(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
