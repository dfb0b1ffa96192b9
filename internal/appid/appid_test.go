package appid

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/fulmenhq/gofulmen/appidentity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appidentityassets "github.com/threadgate/threadgate/internal/assets/appidentity"
)

func TestGetResolvesThreadgateIdentity(t *testing.T) {
	identity, err := Get(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "threadgate", identity.BinaryName)
	assert.Equal(t, "THREADGATE_", identity.EnvPrefix)
	assert.Equal(t, "threadgate", identity.ConfigName)
}

func TestEmbeddedIdentityMatchesRepositoryCopy(t *testing.T) {
	onDisk, err := os.ReadFile(filepath.Join("..", "..", ".fulmen", "app.yaml"))
	require.NoError(t, err)
	assert.True(t, bytes.Equal(onDisk, appidentityassets.YAML), "internal/assets/appidentity/app.yaml is out of sync with .fulmen/app.yaml")
}

func TestTelemetryNamespace(t *testing.T) {
	identity := appidentity.NewFixture(func(id *appidentity.Identity) {
		id.BinaryName = "thread-gate"
	})
	assert.Equal(t, "thread_gate", TelemetryNamespace(identity))

	identity.Metadata.TelemetryNamespace = "Gate"
	assert.Equal(t, "gate", TelemetryNamespace(identity))

	assert.Equal(t, "app", TelemetryNamespace(nil))
}

func TestViperEnvPrefix(t *testing.T) {
	identity := appidentity.NewFixture(func(id *appidentity.Identity) {
		id.EnvPrefix = "THREADGATE_"
	})
	assert.Equal(t, "THREADGATE", ViperEnvPrefix(identity))
	assert.Equal(t, "", ViperEnvPrefix(nil))
}
