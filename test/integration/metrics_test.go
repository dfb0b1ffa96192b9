package integration

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/threadgate/threadgate/internal/core"
	"github.com/threadgate/threadgate/internal/core/engine"
	"github.com/threadgate/threadgate/internal/core/limiter"
	"github.com/threadgate/threadgate/internal/core/quota"
	"github.com/threadgate/threadgate/internal/observability"
	"github.com/threadgate/threadgate/internal/server"
	"github.com/threadgate/threadgate/internal/server/handlers"
)

// sandboxDenied reports socket errors that mean the environment forbids
// loopback listeners.
func sandboxDenied(err error) bool {
	if errors.Is(err, os.ErrPermission) || errors.Is(err, syscall.EACCES) || errors.Is(err, syscall.EPERM) {
		return true
	}
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "not permitted")
}

func initLogging() {
	observability.InitCLILogger("test", false)
	observability.InitServerLogger("test", observability.ServerLogOptions{Level: "warn"})
	handlers.InitHealthManager("test")
}

// startExporter starts a Prometheus exporter under the "test" namespace and
// tears it down with the test.
func startExporter(t *testing.T) {
	t.Helper()
	if err := observability.InitMetrics("test", 0); err != nil {
		if sandboxDenied(err) {
			t.Skipf("exporter cannot bind: %v", err)
		}
		require.NoError(t, err)
	}
	t.Cleanup(func() {
		if observability.PrometheusExporter != nil {
			_ = observability.PrometheusExporter.Stop()
		}
		observability.PrometheusExporter = nil
		observability.TelemetrySystem = nil
	})
}

func serve(t *testing.T, deps server.Dependencies) string {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		if sandboxDenied(err) {
			t.Skipf("listener denied: %v", err)
		}
		require.NoError(t, err)
	}
	ts := &httptest.Server{Listener: ln, Config: &http.Server{Handler: server.New("127.0.0.1", 0, deps).Handler()}}
	ts.Start()
	t.Cleanup(ts.Close)
	return ts.URL
}

// gateDeps allows five generation calls per identity per minute against one
// free account with a generous plan.
func gateDeps() server.Dependencies {
	lim := &limiter.Limiter{
		Store: limiter.NewMemoryStore(),
		Presets: map[core.EndpointClass]core.WindowConfig{
			core.ClassGeneration: {Window: time.Minute, MaxRequests: 5},
			core.ClassAPI:        {Window: time.Minute, MaxRequests: 100},
			core.ClassAdmin:      {Window: time.Minute, MaxRequests: 100},
		},
	}
	ledger := &quota.Ledger{
		Accounts: quota.NewMemoryAccountStore(core.Account{ID: "acct-1", Tier: "free"}),
		Plans:    quota.Plans{"free": {DailyOperationCap: 1000, DailySpendCap: -1, MonthlySpendCap: -1}},
		Cost:     quota.PerThousandTokens(0.002),
	}
	return server.Dependencies{
		Gate:    &engine.Gate{Limiter: lim, Ledger: ledger},
		Quotas:  ledger,
		Limiter: lim,
	}
}

func scrape(t *testing.T, baseURL string) (string, string) {
	t.Helper()
	resp, err := http.Get(baseURL + "/metrics")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body), resp.Header.Get("Content-Type")
}

func TestConcurrentAdmissionsAreCountedAndExported(t *testing.T) {
	initLogging()
	startExporter(t)
	baseURL := serve(t, gateDeps())

	const identities, perIdentity = 5, 10

	var (
		mu       sync.Mutex
		statuses = map[int]int{}
		g        errgroup.Group
	)
	g.SetLimit(8)
	for i := 0; i < identities*perIdentity; i++ {
		body := fmt.Sprintf(`{"identity":"user-%d","class":"generation","account_id":"acct-1"}`, i%identities)
		g.Go(func() error {
			resp, err := http.Post(baseURL+"/v1/admission", "application/json", strings.NewReader(body))
			if err != nil {
				return err
			}
			_ = resp.Body.Close()
			mu.Lock()
			statuses[resp.StatusCode]++
			mu.Unlock()
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, identities*5, statuses[http.StatusOK])
	assert.Equal(t, identities*5, statuses[http.StatusTooManyRequests])

	resp, err := http.Post(baseURL+"/v1/usage", "application/json", strings.NewReader(`{"account_id":"acct-1","tokens":1500}`))
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	text, contentType := scrape(t, baseURL)
	assert.True(t, strings.HasPrefix(contentType, "text/plain"), contentType)
	for _, name := range []string{
		"test_http_requests_total",
		"test_http_request_duration_ms",
		"test_admission_decisions_total",
		"test_quota_recorded_cost_total",
	} {
		assert.Contains(t, text, name)
	}
}

func TestExportedLinesAreWellFormed(t *testing.T) {
	initLogging()
	startExporter(t)
	baseURL := serve(t, server.Dependencies{})

	resp, err := http.Get(baseURL + "/version")
	require.NoError(t, err)
	_ = resp.Body.Close()

	text, _ := scrape(t, baseURL)
	samples := 0
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		assert.GreaterOrEqual(t, len(strings.Fields(line)), 2, line)
		samples++
	}
	assert.Positive(t, samples)
}

func TestMetricsUnavailableWithoutExporter(t *testing.T) {
	initLogging()
	savedExporter, savedSystem := observability.PrometheusExporter, observability.TelemetrySystem
	observability.PrometheusExporter, observability.TelemetrySystem = nil, nil
	t.Cleanup(func() {
		observability.PrometheusExporter, observability.TelemetrySystem = savedExporter, savedSystem
	})

	baseURL := serve(t, server.Dependencies{})

	resp, err := http.Get(baseURL + "/metrics")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
