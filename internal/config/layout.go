package config

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/fulmenhq/gofulmen/pathfinder"

	layoutassets "github.com/threadgate/threadgate/internal/assets/layout"
)

// Layout locates the defaults tree and the schema catalog root.
type Layout struct {
	ConfigRoot string
	SchemaRoot string
}

// DefaultsPath is the defaults file inside ConfigRoot.
func (l Layout) DefaultsPath() string {
	return filepath.Join(l.ConfigRoot, configCategory, configVersion, defaultsFile)
}

// SchemaPath is the config schema inside SchemaRoot.
func (l Layout) SchemaPath() string {
	return filepath.Join(l.SchemaRoot, configCategory, configVersion, "config.schema.json")
}

func (l Layout) complete() bool {
	for _, path := range []string{l.DefaultsPath(), l.SchemaPath()} {
		if info, err := os.Stat(path); err != nil || info.IsDir() {
			return false
		}
	}
	return true
}

// ResolveLayout prefers the checkout's config/ and schemas/ trees, so edits
// there apply without a rebuild. Outside a checkout the embedded copies are
// written under the app cache dir, or the temp dir if that is unwritable.
func ResolveLayout() (Layout, error) {
	if root, err := findProjectRoot(); err == nil {
		layout := Layout{
			ConfigRoot: filepath.Join(root, "config"),
			SchemaRoot: filepath.Join(root, "schemas"),
		}
		if layout.complete() {
			return layout, nil
		}
	}

	configName, _ := appNamesForPaths()
	var dirs []string
	if cache := gfconfig.GetAppCacheDir(configName); strings.TrimSpace(cache) != "" {
		dirs = append(dirs, filepath.Join(cache, "layout", configVersion))
	}
	dirs = append(dirs, filepath.Join(os.TempDir(), configName+"-layout", configVersion))

	var lastErr error
	for _, dir := range dirs {
		layout, err := MaterializeLayout(dir)
		if err == nil {
			return layout, nil
		}
		lastErr = err
	}
	return Layout{}, lastErr
}

// MaterializeLayout writes the embedded defaults and schema under dir.
// Files already holding the embedded bytes are left alone.
func MaterializeLayout(dir string) (Layout, error) {
	err := fs.WalkDir(layoutassets.FS, ".", func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		target := filepath.Join(dir, filepath.FromSlash(path))
		if d.IsDir() {
			return os.MkdirAll(target, 0o750)
		}
		data, err := layoutassets.FS.ReadFile(path)
		if err != nil {
			return err
		}
		// #nosec G304 -- target is built from embedded asset names
		if existing, err := os.ReadFile(target); err == nil && bytes.Equal(existing, data) {
			return nil
		}
		return os.WriteFile(target, data, 0o600)
	})
	if err != nil {
		return Layout{}, fmt.Errorf("write embedded config layout to %s: %w", dir, err)
	}

	return Layout{
		ConfigRoot: filepath.Join(dir, "config"),
		SchemaRoot: filepath.Join(dir, "schemas"),
	}, nil
}

// findProjectRoot walks up from the working directory to the nearest
// go.mod or .git, bounded by pathfinder's home-directory ceiling.
func findProjectRoot() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current directory: %w", err)
	}

	root, err := pathfinder.FindRepositoryRoot(cwd, []string{"go.mod", ".git"}, pathfinder.WithMaxDepth(10))
	if err != nil {
		return "", fmt.Errorf("project root not found: %w", err)
	}
	return root, nil
}
