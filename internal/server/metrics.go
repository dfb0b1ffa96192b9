package server

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/errors"
	"go.uber.org/zap"

	apperrors "github.com/threadgate/threadgate/internal/errors"
	"github.com/threadgate/threadgate/internal/observability"
)

const defaultMetricsPort = 9090

// hopHeaders are not copied from the exporter response.
var hopHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

// metricsProxy serves the exporter's /metrics on the main port so one scrape
// target covers admission and HTTP metrics.
type metricsProxy struct {
	client *http.Client
	// fallbackPort is used when the exporter has not reported its bound port.
	fallbackPort int
}

func newMetricsProxy() *metricsProxy {
	return &metricsProxy{
		client:       &http.Client{Timeout: 5 * time.Second},
		fallbackPort: defaultMetricsPort,
	}
}

func (p *metricsProxy) port() int {
	if port := observability.GetMetricsPort(); port != 0 {
		return port
	}
	if p.fallbackPort != 0 {
		return p.fallbackPort
	}
	return defaultMetricsPort
}

func (p *metricsProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if observability.PrometheusExporter == nil {
		apperrors.RespondWithError(w, r, errors.NewErrorEnvelope("SERVICE_UNAVAILABLE", "metrics exporter not initialized"))
		return
	}

	url := fmt.Sprintf("http://127.0.0.1:%d/metrics", p.port())
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, url, nil)
	if err != nil {
		apperrors.RespondWithError(w, r, apperrors.WrapInternal(r.Context(), err, "unable to build metrics request"))
		return
	}
	if accept := r.Header.Get("Accept"); accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		apperrors.RespondWithError(w, r, apperrors.WrapExternalService(r.Context(), err, "prometheus exporter unavailable"))
		return
	}
	defer func() { _ = resp.Body.Close() }()

	for key, values := range resp.Header {
		if hopHeaders[http.CanonicalHeaderKey(key)] {
			continue
		}
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	}

	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		observability.Logger().Warn("Failed to write metrics response", zap.Error(err))
	}
}
