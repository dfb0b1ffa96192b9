package config

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	layoutassets "github.com/threadgate/threadgate/internal/assets/layout"
	"github.com/threadgate/threadgate/internal/core"
)

// isolate points every XDG lookup at empty temp dirs so a developer's own
// config cannot leak into the run.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	t.Setenv("XDG_CACHE_HOME", t.TempDir())
	SetUserConfigFile("")
	t.Cleanup(func() { SetUserConfigFile("") })
}

func TestLoad(t *testing.T) {
	ctx := context.Background()

	t.Run("LoadDefaults", func(t *testing.T) {
		isolate(t)

		cfg, err := Load(ctx)
		require.NoError(t, err)
		require.NotNil(t, cfg)

		// Verify server defaults
		assert.Equal(t, "localhost", cfg.Server.Host)
		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
		assert.Equal(t, 120*time.Second, cfg.Server.IdleTimeout)
		assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)

		// Verify store defaults
		assert.Equal(t, BackendLibsql, cfg.Store.Backend)
		assert.Equal(t, "libsql", cfg.Store.Driver)
		expectedStorePath := filepath.Join(gfconfig.GetAppDataDir("threadgate"), "threadgate.db")
		assert.Equal(t, expectedStorePath, cfg.Store.Path)

		// Verify limiter defaults
		assert.Equal(t, BackendMemory, cfg.Limiter.Backend)
		assert.Equal(t, time.Minute, cfg.Limiter.SweepInterval)
		assert.Equal(t, 1.0, cfg.Limiter.SafetyMargin)
		assert.Equal(t, 5*time.Second, cfg.Redis.DialTimeout)
		windows := cfg.Limiter.WindowConfigs()
		assert.Equal(t, core.WindowConfig{Window: time.Minute, MaxRequests: 10}, windows["generation"])
		assert.Equal(t, core.WindowConfig{Window: 15 * time.Minute, MaxRequests: 5}, windows["auth"])

		// Verify quota defaults
		assert.Equal(t, 0.002, cfg.Quota.CostPer1KTokens)
		assert.Equal(t, []string{"thread"}, cfg.Quota.MeteredOperations)
		plans := cfg.Quota.PlanLimits()
		require.Contains(t, plans, "free")
		assert.Equal(t, core.PlanLimits{Tier: "free", DailyOperationCap: 3, DailySpendCap: 0.5, MonthlySpendCap: 5}, plans["free"])

		loc, err := cfg.Quota.Location()
		require.NoError(t, err)
		assert.Equal(t, time.UTC, loc)

		assert.True(t, cfg.Metrics.Enabled)
		assert.Equal(t, 9090, cfg.Metrics.Port)
		assert.Same(t, cfg, GetConfig())
	})

	t.Run("EnvironmentOverrides", func(t *testing.T) {
		isolate(t)
		t.Setenv("THREADGATE_PORT", "9999")
		t.Setenv("THREADGATE_LOG_LEVEL", "debug")
		t.Setenv("THREADGATE_RATE_LIMIT_MARGIN", "0.5")
		t.Setenv("THREADGATE_LIMITER_BACKEND", "redis")
		t.Setenv("THREADGATE_REDIS_ADDRS", "10.0.0.1:6379,10.0.0.2:6379")
		t.Setenv("THREADGATE_QUOTA_TIMEZONE", "Europe/Berlin")
		t.Setenv("THREADGATE_QUOTA_METERED_OPERATIONS", "thread,hook")
		t.Setenv("THREADGATE_LIMITER_CLASSES_GENERATION_MAX_REQUESTS", "25")
		t.Setenv("THREADGATE_QUOTA_PLANS_TEAM_DAILY_OPERATIONS", "40")
		t.Setenv("THREADGATE_QUOTA_PLANS_TEAM_MONTHLY_SPEND", "-1")

		cfg, err := Load(ctx)
		require.NoError(t, err)

		assert.Equal(t, 9999, cfg.Server.Port)
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Equal(t, 0.5, cfg.Limiter.SafetyMargin)
		assert.Equal(t, BackendRedis, cfg.Limiter.Backend)
		assert.Equal(t, []string{"10.0.0.1:6379", "10.0.0.2:6379"}, cfg.Redis.Addrs)
		assert.Equal(t, []string{"thread", "hook"}, cfg.Quota.MeteredOperations)
		assert.Equal(t, 25, cfg.Limiter.Classes["generation"].MaxRequests)
		assert.Equal(t, time.Minute, cfg.Limiter.Classes["generation"].Window)
		assert.Equal(t, PlanSpec{DailyOperations: 40, MonthlySpend: -1}, cfg.Quota.Plans["team"])

		loc, err := cfg.Quota.Location()
		require.NoError(t, err)
		assert.Equal(t, "Europe/Berlin", loc.String())
	})

	t.Run("UnparseableEnvironmentValue", func(t *testing.T) {
		isolate(t)
		t.Setenv("THREADGATE_PORT", "eighty")

		_, err := Load(ctx)
		require.Error(t, err)
	})

	t.Run("RuntimeOverrides", func(t *testing.T) {
		isolate(t)

		cfg, err := Load(ctx, map[string]any{
			"server": map[string]any{"port": 7070},
			"quota": map[string]any{
				"plans": map[string]any{
					"Enterprise": map[string]any{"daily_operations": -1, "daily_spend": -1, "monthly_spend": 1000},
				},
			},
		})
		require.NoError(t, err)

		assert.Equal(t, 7070, cfg.Server.Port)
		assert.Equal(t, "localhost", cfg.Server.Host)
		require.Contains(t, cfg.Quota.Plans, "enterprise")
		require.Contains(t, cfg.Quota.Plans, "free")
		assert.Equal(t, -1, cfg.Quota.Plans["enterprise"].DailyOperations)
	})

	t.Run("ExplicitUserConfigFile", func(t *testing.T) {
		isolate(t)
		path := filepath.Join(t.TempDir(), "gate.yaml")
		require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 6060\nlimiter:\n  classes:\n    auth:\n      window: 5m\n      max_requests: 2\n"), 0o600))
		SetUserConfigFile(path)

		cfg, err := Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, 6060, cfg.Server.Port)
		assert.Equal(t, core.WindowConfig{Window: 5 * time.Minute, MaxRequests: 2}, cfg.Limiter.WindowConfigs()["auth"])
		assert.Equal(t, 100, cfg.Limiter.Classes["api"].MaxRequests)

		SetUserConfigFile(filepath.Join(t.TempDir(), "missing.yaml"))
		_, err = Load(ctx)
		require.Error(t, err)
	})

	t.Run("DiscoveredUserConfig", func(t *testing.T) {
		isolate(t)
		dir := gfconfig.GetAppConfigDir("threadgate")
		require.NoError(t, os.MkdirAll(dir, 0o750))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("quota:\n  cost_per_1k_tokens: 0.01\n"), 0o600))

		cfg, err := Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0.01, cfg.Quota.CostPer1KTokens)
	})

	t.Run("PlansFile", func(t *testing.T) {
		isolate(t)
		path := filepath.Join(t.TempDir(), "plans.yaml")
		require.NoError(t, os.WriteFile(path, []byte("plans:\n  free:\n    daily_operations: 7\n    daily_spend: 1\n    monthly_spend: 9\n  team:\n    daily_operations: 100\n    daily_spend: 10\n    monthly_spend: 100\n"), 0o600))

		cfg, err := Load(ctx, map[string]any{"quota": map[string]any{"plans_file": path}})
		require.NoError(t, err)

		assert.Equal(t, 7, cfg.Quota.Plans["free"].DailyOperations)
		assert.Equal(t, 100, cfg.Quota.Plans["team"].DailyOperations)
		assert.Equal(t, 50, cfg.Quota.Plans["pro"].DailyOperations)
	})

	t.Run("InvalidConfig", func(t *testing.T) {
		cases := map[string]map[string]any{
			"store backend":      {"store": map[string]any{"backend": "postgres"}},
			"redis addresses":    {"limiter": map[string]any{"backend": "redis"}},
			"margin":             {"limiter": map[string]any{"safety_margin": 1.5}},
			"timezone":           {"quota": map[string]any{"timezone": "Mars/Olympus"}},
			"cost":               {"quota": map[string]any{"cost_per_1k_tokens": -1}},
			"plan cap":           {"quota": map[string]any{"plans": map[string]any{"free": map[string]any{"daily_operations": -5}}}},
			"fractional cap":     {"quota": map[string]any{"plans": map[string]any{"free": map[string]any{"daily_spend": -0.5}}}},
			"class window":       {"limiter": map[string]any{"classes": map[string]any{"api": map[string]any{"window": "0s"}}}},
			"unknown class":      {"limiter": map[string]any{"classes": map[string]any{"reports": map[string]any{"window": "1m", "max_requests": 5}}}},
			"unknown section":    {"ailink": map[string]any{"enabled": true}},
			"malformed duration": {"server": map[string]any{"read_timeout": "soon"}},
			"missing file":       {"quota": map[string]any{"plans_file": filepath.Join(t.TempDir(), "missing.yaml")}},
		}
		for name, overrides := range cases {
			t.Run(name, func(t *testing.T) {
				isolate(t)
				_, err := Load(ctx, overrides)
				require.Error(t, err)
			})
		}
	})

	t.Run("SchemaViolationCarriesDiagnostics", func(t *testing.T) {
		isolate(t)

		_, err := Load(ctx, map[string]any{
			"quota": map[string]any{"plans": map[string]any{"pro": map[string]any{"monthly_spend": -0.25}}},
		})
		var schemaErr *SchemaError
		require.ErrorAs(t, err, &schemaErr)
		require.NotEmpty(t, schemaErr.Diagnostics)
		assert.Contains(t, schemaErr.Error(), "/quota/plans/pro/monthly_spend")
	})
}

func TestValidateRejectsFractionalNegativeCaps(t *testing.T) {
	cfg := validConfig()
	cfg.Quota.Plans["free"] = PlanSpec{DailyOperations: 3, DailySpend: -0.5, MonthlySpend: 5}
	require.ErrorContains(t, cfg.Validate(), "quota.plans.free")

	cfg.Quota.Plans["free"] = PlanSpec{DailyOperations: -1, DailySpend: -1, MonthlySpend: 0}
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsUnknownEndpointClass(t *testing.T) {
	cfg := validConfig()
	cfg.Limiter.Classes["reports"] = WindowSpec{Window: time.Minute, MaxRequests: 5}
	require.ErrorContains(t, cfg.Validate(), "limiter.classes.reports")

	delete(cfg.Limiter.Classes, "reports")
	require.NoError(t, cfg.Validate())
}

func validConfig() *Config {
	return &Config{
		Store:   StoreConfig{Backend: BackendMemory},
		Limiter: LimiterConfig{Backend: BackendMemory, SafetyMargin: 1, Classes: map[string]WindowSpec{"generation": {Window: time.Minute, MaxRequests: 10}}},
		Quota:   QuotaConfig{Plans: map[string]PlanSpec{"free": {DailyOperations: 3, DailySpend: 0.5, MonthlySpend: 5}}},
	}
}

func TestDynamicEnvSpecs(t *testing.T) {
	specs := dynamicEnvSpecs("THREADGATE_", []string{
		"THREADGATE_LIMITER_CLASSES_AUTH_WINDOW=10m",
		"THREADGATE_LIMITER_CLASSES_AUTH_MAX_REQUESTS=3",
		"THREADGATE_QUOTA_PLANS_BIG_TEAM_DAILY_SPEND=12.5",
		"THREADGATE_QUOTA_PLANS__DAILY_SPEND=1",
		"THREADGATE_LIMITER_CLASSES_API_WINDOW=",
		"OTHER_LIMITER_CLASSES_API_WINDOW=1m",
	})

	assert.ElementsMatch(t, []EnvVarSpec{
		{Name: "THREADGATE_LIMITER_CLASSES_AUTH_WINDOW", Path: []string{"limiter", "classes", "auth", "window"}, Type: EnvString},
		{Name: "THREADGATE_LIMITER_CLASSES_AUTH_MAX_REQUESTS", Path: []string{"limiter", "classes", "auth", "max_requests"}, Type: EnvInt},
		{Name: "THREADGATE_QUOTA_PLANS_BIG_TEAM_DAILY_SPEND", Path: []string{"quota", "plans", "big_team", "daily_spend"}, Type: EnvFloat},
	}, specs)
}

func TestMaterializedLayoutLoads(t *testing.T) {
	isolate(t)
	layout, err := MaterializeLayout(t.TempDir())
	require.NoError(t, err)
	require.True(t, layout.complete())

	// A second pass over identical files is a no-op.
	_, err = MaterializeLayout(filepath.Dir(layout.ConfigRoot))
	require.NoError(t, err)

	cfg, err := LoadWithLayout(context.Background(), layout)
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Limiter.Classes["generation"].MaxRequests)
}

func TestEmbeddedLayoutMatchesRepository(t *testing.T) {
	root, err := findProjectRoot()
	require.NoError(t, err)

	err = fs.WalkDir(layoutassets.FS, ".", func(path string, d fs.DirEntry, walkErr error) error {
		require.NoError(t, walkErr)
		if d.IsDir() {
			return nil
		}
		embedded, err := layoutassets.FS.ReadFile(path)
		require.NoError(t, err)
		onDisk, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(path)))
		require.NoError(t, err)
		assert.Equal(t, string(onDisk), string(embedded), "internal/assets/layout/%s is out of sync", path)
		return nil
	})
	require.NoError(t, err)
}

func TestMeteredKinds(t *testing.T) {
	assert.Nil(t, QuotaConfig{}.MeteredKinds())

	kinds := QuotaConfig{MeteredOperations: []string{" Thread ", "hook", ""}}.MeteredKinds()
	assert.Equal(t, map[core.OperationKind]bool{core.OperationThread: true, core.OperationHook: true}, kinds)
}

func TestParsePlans(t *testing.T) {
	plans, err := ParsePlans([]byte("plans:\n  Pro:\n    daily_operations: 10\n    daily_spend: 2.5\n    monthly_spend: 20\n"))
	require.NoError(t, err)
	assert.Equal(t, PlanSpec{DailyOperations: 10, DailySpend: 2.5, MonthlySpend: 20}, plans["pro"])

	_, err = ParsePlans([]byte("plans:\n  pro:\n    daily_ops: 10\n"))
	require.Error(t, err)

	_, err = ParsePlans([]byte("plans: {}\n"))
	require.Error(t, err)

	out, err := MarshalPlans(plans)
	require.NoError(t, err)
	roundTrip, err := ParsePlans(out)
	require.NoError(t, err)
	assert.Equal(t, plans, roundTrip)
}

func TestDefaultConfigYAMLIsAValidUserConfig(t *testing.T) {
	isolate(t)

	data, err := DefaultConfigYAML()
	require.NoError(t, err)
	assert.Contains(t, string(data), "cost_per_1k_tokens")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	SetUserConfigFile(path)

	cfg, err := Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, time.Minute, cfg.Limiter.Classes["generation"].Window)
	assert.Equal(t, 3, cfg.Quota.Plans["free"].DailyOperations)
}
