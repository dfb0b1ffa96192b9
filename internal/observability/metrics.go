package observability

import (
	"fmt"
	"net"
	"strconv"

	"github.com/fulmenhq/gofulmen/telemetry"
	"github.com/fulmenhq/gofulmen/telemetry/exporters"
)

// defaultExporterPort is reported when the exporter was asked for :0 and its
// bound address cannot be read back.
const defaultExporterPort = 9090

var (
	// TelemetrySystem receives every counter, gauge and histogram. It is never
	// nil after InitMetrics or InitDisabledMetrics.
	TelemetrySystem *telemetry.System

	// PrometheusExporter serves the scrape endpoint when metrics are enabled.
	PrometheusExporter *exporters.PrometheusExporter

	metricsPort int
)

// InitMetrics starts a Prometheus exporter on port (0 picks a free one) and
// routes telemetry through it. Metric names are prefixed with namespace.
func InitMetrics(namespace string, port int) error {
	if port < 0 {
		port = 0
	}

	exporter := exporters.NewPrometheusExporter(namespace, fmt.Sprintf(":%d", port))
	if err := exporter.Start(); err != nil {
		return fmt.Errorf("start prometheus exporter: %w", err)
	}

	sys, err := telemetry.NewSystem(&telemetry.Config{Enabled: true, Emitter: exporter})
	if err != nil {
		return fmt.Errorf("telemetry system: %w", err)
	}

	PrometheusExporter = exporter
	TelemetrySystem = sys
	metricsPort = boundPort(exporter.GetAddr(), port)
	return nil
}

// InitDisabledMetrics installs a telemetry system that records nothing so
// metric helpers stay safe to call.
func InitDisabledMetrics() error {
	sys, err := telemetry.NewSystem(&telemetry.Config{Enabled: false})
	if err != nil {
		return err
	}
	TelemetrySystem = sys
	PrometheusExporter = nil
	metricsPort = 0
	return nil
}

// GetMetricsPort is the exporter's listening port, or 0 when disabled.
func GetMetricsPort() int {
	return metricsPort
}

func boundPort(addr string, requested int) int {
	if port, err := resolvePort(addr); err == nil {
		return port
	}
	if requested == 0 {
		return defaultExporterPort
	}
	return requested
}

func resolvePort(addr string) (int, error) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(portStr)
}
