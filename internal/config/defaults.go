package config

import (
	"fmt"
	"path"

	layoutassets "github.com/threadgate/threadgate/internal/assets/layout"
)

// DefaultConfigYAML returns the built-in defaults document. It is a valid
// user config as-is.
func DefaultConfigYAML() ([]byte, error) {
	data, err := layoutassets.FS.ReadFile(path.Join("config", configCategory, configVersion, defaultsFile))
	if err != nil {
		return nil, fmt.Errorf("read default config: %w", err)
	}
	return data, nil
}
