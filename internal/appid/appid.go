// Package appid resolves the application identity shared by the CLI, the
// server and the telemetry namespace.
package appid

import (
	"context"
	"strings"

	"github.com/fulmenhq/gofulmen/appidentity"

	appidentityassets "github.com/threadgate/threadgate/internal/assets/appidentity"
)

func init() {
	// FULMEN_APP_IDENTITY_PATH and a discovered .fulmen/app.yaml still win;
	// the embedded copy only covers standalone binaries.
	_ = appidentity.RegisterEmbeddedIdentityYAML(appidentityassets.YAML)
}

func Get(ctx context.Context) (*appidentity.Identity, error) {
	return appidentity.Get(ctx)
}

// TelemetryNamespace returns a metric-safe namespace for identity.
func TelemetryNamespace(identity *appidentity.Identity) string {
	if identity == nil {
		return "app"
	}
	ns := identity.TelemetryNamespace()
	if ns == "" {
		return "app"
	}
	return strings.ReplaceAll(strings.ToLower(ns), "-", "_")
}

// ViperEnvPrefix returns EnvPrefix without the trailing underscore, the form
// viper.SetEnvPrefix expects.
func ViperEnvPrefix(identity *appidentity.Identity) string {
	if identity == nil {
		return ""
	}
	return strings.TrimSuffix(identity.EnvPrefix, "_")
}
