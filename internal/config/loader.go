// Package config provides centralized configuration management for threadgate.
// It implements the three-layer config pattern using gofulmen/config:
// Layer 1: defaults (config/threadgate/v0/threadgate-defaults.yaml)
// Layer 2: user overrides (--config, or discovered via app identity)
// Layer 3: environment variables and runtime overrides
//
// The merged document is validated against schemas/threadgate/v0/config.schema.json
// before it is decoded with mapstructure.
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fulmenhq/gofulmen/appidentity"
	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/fulmenhq/gofulmen/schema"
	"github.com/go-viper/mapstructure/v2"

	"github.com/threadgate/threadgate/internal/appid"
)

const (
	configCategory = "threadgate"
	configVersion  = "v0"
	defaultsFile   = "threadgate-defaults.yaml"
	configSchemaID = "threadgate/v0/config"
)

var (
	// appConfig holds the current application configuration
	appConfig   *Config
	configMu    sync.RWMutex
	appIdentity *appidentity.Identity

	// userConfigFile is the file chosen by --config or viper discovery.
	userConfigFile string
)

// EnvVarSpec defines environment variable mappings for config fields
// following the pattern: {PREFIX}{NAME} maps to config path
type EnvVarSpec = gfconfig.EnvVarSpec

// Environment variable types
const (
	EnvString = gfconfig.EnvString
	EnvInt    = gfconfig.EnvInt
	EnvFloat  = gfconfig.EnvFloat
	EnvBool   = gfconfig.EnvBool
)

// SchemaError reports schema violations in the merged configuration.
type SchemaError struct {
	Diagnostics []schema.Diagnostic
}

func (e *SchemaError) Error() string {
	parts := make([]string, 0, len(e.Diagnostics))
	for _, diag := range e.Diagnostics {
		if diag.Pointer == "" {
			parts = append(parts, diag.Message)
			continue
		}
		parts = append(parts, diag.Pointer+": "+diag.Message)
	}
	return "config does not match schema: " + strings.Join(parts, "; ")
}

// SetUserConfigFile pins the user layer to path. An empty path restores XDG
// discovery.
func SetUserConfigFile(path string) {
	configMu.Lock()
	defer configMu.Unlock()
	userConfigFile = strings.TrimSpace(path)
}

// Load loads configuration using the three-layer pattern and validates it.
//
// This function is safe to call multiple times (e.g., for config reload)
func Load(ctx context.Context, runtimeOverrides ...map[string]any) (*Config, error) {
	if err := ensureIdentity(ctx); err != nil {
		return nil, err
	}

	layout, err := ResolveLayout()
	if err != nil {
		return nil, fmt.Errorf("failed to locate config defaults: %w", err)
	}
	return LoadWithLayout(ctx, layout, runtimeOverrides...)
}

// LoadWithLayout is Load against an explicit defaults and schema layout.
func LoadWithLayout(ctx context.Context, layout Layout, runtimeOverrides ...map[string]any) (*Config, error) {
	if err := ensureIdentity(ctx); err != nil {
		return nil, err
	}

	userPaths, err := getUserConfigPaths()
	if err != nil {
		return nil, err
	}

	opts := gfconfig.LayeredConfigOptions{
		Category:     configCategory,
		Version:      configVersion,
		DefaultsFile: defaultsFile,
		SchemaID:     configSchemaID,
		UserPaths:    userPaths,
		Catalog:      schema.NewCatalog(layout.SchemaRoot),
		DefaultsRoot: layout.ConfigRoot,
	}

	specs := append(getEnvSpecs(), dynamicEnvSpecs(envPrefix(), os.Environ())...)
	envOverrides, err := gfconfig.LoadEnvOverrides(specs)
	if err != nil {
		return nil, fmt.Errorf("failed to load environment overrides: %w", err)
	}

	allOverrides := []map[string]any{envOverrides}
	allOverrides = append(allOverrides, runtimeOverrides...)

	merged, diagnostics, err := gfconfig.LoadLayeredConfig(opts, allOverrides...)
	if err != nil {
		return nil, fmt.Errorf("failed to load layered config: %w", err)
	}
	// A violation here is a bad cap or window; failing beats running with it.
	if len(diagnostics) > 0 {
		return nil, &SchemaError{Diagnostics: diagnostics}
	}

	cfg := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			mapstructure.StringToFloat64HookFunc(),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(merged); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	normalize(cfg)

	if path := strings.TrimSpace(cfg.Quota.PlansFile); path != "" {
		plans, err := LoadPlansFile(path)
		if err != nil {
			return nil, err
		}
		if cfg.Quota.Plans == nil {
			cfg.Quota.Plans = map[string]PlanSpec{}
		}
		for tier, spec := range plans {
			cfg.Quota.Plans[tier] = spec
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	setConfig(cfg)
	return cfg, nil
}

// GetConfig returns the current application configuration (thread-safe)
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// setConfig updates the current configuration (thread-safe)
func setConfig(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()
	appConfig = cfg
}

func ensureIdentity(ctx context.Context) error {
	if appIdentity != nil {
		return nil
	}
	identity, err := appid.Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to load app identity: %w", err)
	}
	appIdentity = identity
	return nil
}

func normalize(cfg *Config) {
	cfg.Store.Backend = strings.ToLower(strings.TrimSpace(cfg.Store.Backend))
	cfg.Limiter.Backend = strings.ToLower(strings.TrimSpace(cfg.Limiter.Backend))
	if strings.TrimSpace(cfg.Store.URL) == "" && strings.TrimSpace(cfg.Store.Path) == "" {
		cfg.Store.Path = DefaultStorePath()
	}

	if len(cfg.Quota.Plans) > 0 {
		plans := make(map[string]PlanSpec, len(cfg.Quota.Plans))
		for tier, spec := range cfg.Quota.Plans {
			plans[strings.ToLower(strings.TrimSpace(tier))] = spec
		}
		cfg.Quota.Plans = plans
	}
}

// getUserConfigPaths returns the user layer candidates. An explicit file must
// exist; discovered XDG paths are optional.
func getUserConfigPaths() ([]string, error) {
	configMu.RLock()
	explicit := userConfigFile
	configMu.RUnlock()

	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return nil, fmt.Errorf("config file %s: %w", explicit, err)
		}
		return []string{explicit}, nil
	}

	configName, binaryName := appNamesForPaths()
	var legacyNames []string
	if binaryName != configName {
		legacyNames = append(legacyNames, binaryName)
	}
	return gfconfig.GetAppConfigPaths(configName, legacyNames...), nil
}

// envPrefix returns the identity's env prefix with its trailing underscore.
func envPrefix() string {
	prefix := "THREADGATE_"
	if appIdentity != nil && strings.TrimSpace(appIdentity.EnvPrefix) != "" {
		prefix = appIdentity.EnvPrefix
	}
	if !strings.HasSuffix(prefix, "_") {
		prefix += "_"
	}
	return prefix
}

// getEnvSpecs returns environment variable specifications for config mapping
// Maps {PREFIX}{NAME} environment variables to config paths
func getEnvSpecs() []EnvVarSpec {
	prefix := envPrefix()

	return []EnvVarSpec{
		// Server config
		{Name: prefix + "HOST", Path: []string{"server", "host"}, Type: EnvString},
		{Name: prefix + "PORT", Path: []string{"server", "port"}, Type: EnvInt},
		// Duration fields are parsed as strings and converted by mapstructure decode hook
		{Name: prefix + "READ_TIMEOUT", Path: []string{"server", "read_timeout"}, Type: EnvString},
		{Name: prefix + "WRITE_TIMEOUT", Path: []string{"server", "write_timeout"}, Type: EnvString},
		{Name: prefix + "IDLE_TIMEOUT", Path: []string{"server", "idle_timeout"}, Type: EnvString},
		{Name: prefix + "SHUTDOWN_TIMEOUT", Path: []string{"server", "shutdown_timeout"}, Type: EnvString},

		{Name: prefix + "LOG_LEVEL", Path: []string{"logging", "level"}, Type: EnvString},
		{Name: prefix + "LOG_PROFILE", Path: []string{"logging", "profile"}, Type: EnvString},

		// Account store
		{Name: prefix + "DB_BACKEND", Path: []string{"store", "backend"}, Type: EnvString},
		{Name: prefix + "DB_DRIVER", Path: []string{"store", "driver"}, Type: EnvString},
		{Name: prefix + "DB_PATH", Path: []string{"store", "path"}, Type: EnvString},
		{Name: prefix + "DB_URL", Path: []string{"store", "url"}, Type: EnvString},
		{Name: prefix + "DB_AUTH_TOKEN", Path: []string{"store", "auth_token"}, Type: EnvString},

		// Shared counter store; addrs is comma-separated
		{Name: prefix + "REDIS_URL", Path: []string{"redis", "url"}, Type: EnvString},
		{Name: prefix + "REDIS_ADDRS", Path: []string{"redis", "addrs"}, Type: EnvString},
		{Name: prefix + "REDIS_MASTER_NAME", Path: []string{"redis", "master_name"}, Type: EnvString},
		{Name: prefix + "REDIS_USERNAME", Path: []string{"redis", "username"}, Type: EnvString},
		{Name: prefix + "REDIS_PASSWORD", Path: []string{"redis", "password"}, Type: EnvString},
		{Name: prefix + "REDIS_DB", Path: []string{"redis", "db"}, Type: EnvInt},
		{Name: prefix + "REDIS_DIAL_TIMEOUT", Path: []string{"redis", "dial_timeout"}, Type: EnvString},

		{Name: prefix + "LIMITER_BACKEND", Path: []string{"limiter", "backend"}, Type: EnvString},
		{Name: prefix + "LIMITER_KEY_PREFIX", Path: []string{"limiter", "key_prefix"}, Type: EnvString},
		{Name: prefix + "LIMITER_SWEEP_INTERVAL", Path: []string{"limiter", "sweep_interval"}, Type: EnvString},
		{Name: prefix + "RATE_LIMIT_MARGIN", Path: []string{"limiter", "safety_margin"}, Type: EnvFloat},

		{Name: prefix + "QUOTA_TIMEZONE", Path: []string{"quota", "timezone"}, Type: EnvString},
		{Name: prefix + "QUOTA_PLANS_FILE", Path: []string{"quota", "plans_file"}, Type: EnvString},
		{Name: prefix + "QUOTA_METERED_OPERATIONS", Path: []string{"quota", "metered_operations"}, Type: EnvString},
		{Name: prefix + "COST_PER_1K_TOKENS", Path: []string{"quota", "cost_per_1k_tokens"}, Type: EnvFloat},

		{Name: prefix + "METRICS_ENABLED", Path: []string{"metrics", "enabled"}, Type: EnvBool},
		{Name: prefix + "METRICS_PORT", Path: []string{"metrics", "port"}, Type: EnvInt},
		{Name: prefix + "HEALTH_ENABLED", Path: []string{"health", "enabled"}, Type: EnvBool},
		{Name: prefix + "DEBUG_ENABLED", Path: []string{"debug", "enabled"}, Type: EnvBool},
	}
}

type dynamicField struct {
	suffix string
	key    string
	kind   gfconfig.EnvVarType
}

// dynamicEnvSpecs covers keyed sections the static list cannot enumerate:
//
//	{PREFIX}LIMITER_CLASSES_<CLASS>_{WINDOW,MAX_REQUESTS}
//	{PREFIX}QUOTA_PLANS_<TIER>_{DAILY_OPERATIONS,DAILY_SPEND,MONTHLY_SPEND}
func dynamicEnvSpecs(prefix string, environ []string) []EnvVarSpec {
	sections := []struct {
		marker string
		path   []string
		fields []dynamicField
	}{
		{
			marker: prefix + "LIMITER_CLASSES_",
			path:   []string{"limiter", "classes"},
			fields: []dynamicField{
				{suffix: "_MAX_REQUESTS", key: "max_requests", kind: EnvInt},
				{suffix: "_WINDOW", key: "window", kind: EnvString},
			},
		},
		{
			marker: prefix + "QUOTA_PLANS_",
			path:   []string{"quota", "plans"},
			fields: []dynamicField{
				{suffix: "_DAILY_OPERATIONS", key: "daily_operations", kind: EnvInt},
				{suffix: "_DAILY_SPEND", key: "daily_spend", kind: EnvFloat},
				{suffix: "_MONTHLY_SPEND", key: "monthly_spend", kind: EnvFloat},
			},
		},
	}

	var specs []EnvVarSpec
	for _, item := range environ {
		key, value, ok := strings.Cut(item, "=")
		if !ok || strings.TrimSpace(value) == "" {
			continue
		}
		for _, section := range sections {
			rest, found := strings.CutPrefix(key, section.marker)
			if !found {
				continue
			}
			for _, field := range section.fields {
				name, matched := strings.CutSuffix(rest, field.suffix)
				if !matched || name == "" {
					continue
				}
				path := append(append([]string{}, section.path...), strings.ToLower(name), field.key)
				specs = append(specs, EnvVarSpec{Name: key, Path: path, Type: field.kind})
				break
			}
		}
	}
	return specs
}

// appNamesForPaths returns the config name and binary name from app identity,
// falling back to "threadgate" if not set.
func appNamesForPaths() (configName string, binaryName string) {
	configName = "threadgate"
	binaryName = "threadgate"
	if appIdentity == nil {
		if identity, err := appid.Get(context.Background()); err == nil {
			appIdentity = identity
		}
	}
	if appIdentity == nil {
		return configName, binaryName
	}

	if strings.TrimSpace(appIdentity.ConfigName) != "" {
		configName = appIdentity.ConfigName
	}
	if strings.TrimSpace(appIdentity.BinaryName) != "" {
		binaryName = appIdentity.BinaryName
	}
	return configName, binaryName
}

// DefaultConfigPath returns the XDG-compliant path to the user config file.
func DefaultConfigPath() string {
	configName, _ := appNamesForPaths()
	configDir := gfconfig.GetAppConfigDir(configName)
	if strings.TrimSpace(configDir) == "" {
		return ""
	}
	return filepath.Join(configDir, "config.yaml")
}

// DefaultStorePath returns the XDG-compliant path to the database file.
func DefaultStorePath() string {
	configName, binaryName := appNamesForPaths()
	dataDir := gfconfig.GetAppDataDir(configName)
	if strings.TrimSpace(dataDir) == "" {
		return "./" + binaryName + ".db"
	}
	return filepath.Join(dataDir, binaryName+".db")
}
