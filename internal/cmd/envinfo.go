package cmd

import (
	"fmt"
	"runtime"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/threadgate/threadgate/internal/config"
	"github.com/threadgate/threadgate/internal/observability"
)

var envInfoCmd = &cobra.Command{
	Use:   "envinfo",
	Short: "Display environment information",
	Long:  "Display environment, backend, limiter and quota configuration with version information.",
	Run: func(cmd *cobra.Command, args []string) {
		log := observability.CLILogger
		version := crucible.GetVersion()

		log.Info("=== Threadgate Environment Information ===")
		log.Info("")

		name := "threadgate"
		if identity := GetAppIdentity(); identity != nil {
			name = identity.BinaryName
		}
		log.Info("Application:")
		log.Info("  Name:       " + name)
		log.Info("  Version:    " + versionInfo.Version)
		log.Info("  Commit:     " + versionInfo.Commit)
		log.Info("  Built:      " + versionInfo.BuildDate)
		log.Info("")

		log.Info("SSOT:")
		log.Info("  Gofulmen:   "+version.Gofulmen, zap.String("gofulmen_version", version.Gofulmen))
		log.Info("  Crucible:   "+version.Crucible, zap.String("crucible_version", version.Crucible))
		log.Info("")

		log.Info("Runtime:")
		log.Info("  Go Version: "+runtime.Version(), zap.String("go_version", runtime.Version()))
		log.Info("  GOOS:       "+runtime.GOOS, zap.String("goos", runtime.GOOS))
		log.Info("  GOARCH:     "+runtime.GOARCH, zap.String("goarch", runtime.GOARCH))
		log.Info(fmt.Sprintf("  NumCPU:     %d", runtime.NumCPU()), zap.Int("num_cpu", runtime.NumCPU()))
		log.Info("")

		cfg, err := config.Load(cmd.Context())
		if err != nil {
			log.Warn("Config load failed", zap.Error(err))
			return
		}

		log.Info("Configuration:")
		log.Info("  Server:         "+fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port), zap.String("host", cfg.Server.Host), zap.Int("port", cfg.Server.Port))
		log.Info("  Log Level:      "+cfg.Logging.Level, zap.String("log_level", cfg.Logging.Level))
		log.Info("  Log Profile:    "+cfg.Logging.Profile, zap.String("log_profile", cfg.Logging.Profile))
		log.Info(fmt.Sprintf("  Metrics:        %t (port %d)", cfg.Metrics.Enabled, cfg.Metrics.Port), zap.Bool("metrics_enabled", cfg.Metrics.Enabled))
		log.Info("  Config File:    "+config.DefaultConfigPath(), zap.String("config_file", config.DefaultConfigPath()))
		log.Info("")

		log.Info("Account Store:")
		log.Info("  Backend:        "+cfg.Store.Backend, zap.String("store_backend", cfg.Store.Backend))
		if cfg.Store.Backend == config.BackendLibsql {
			if strings.TrimSpace(cfg.Store.URL) != "" {
				log.Info("  URL:            " + redactURL(cfg.Store.URL))
			} else {
				log.Info("  Path:           "+cfg.Store.Path, zap.String("db_path", cfg.Store.Path))
			}
		}
		log.Info("")

		log.Info("Limiter:")
		log.Info("  Backend:        "+cfg.Limiter.Backend, zap.String("limiter_backend", cfg.Limiter.Backend))
		if cfg.Limiter.Backend == config.BackendRedis {
			if strings.TrimSpace(cfg.Redis.URL) != "" {
				log.Info("  Redis URL:      " + redactURL(cfg.Redis.URL))
			} else {
				log.Info(fmt.Sprintf("  Redis Addrs:    %v", cfg.Redis.Addrs))
			}
		}
		log.Info(fmt.Sprintf("  Safety Margin:  %.2f", cfg.Limiter.SafetyMargin))
		log.Info("  Sweep Interval: " + cfg.Limiter.SweepInterval.String())
		for _, class := range sortedKeys(cfg.Limiter.Classes) {
			spec := cfg.Limiter.Classes[class]
			log.Info(fmt.Sprintf("  %s: %d per %s", class, spec.MaxRequests, spec.Window))
		}
		log.Info("")

		log.Info("Quota:")
		tz := cfg.Quota.Timezone
		if strings.TrimSpace(tz) == "" {
			tz = "UTC"
		}
		log.Info("  Timezone:       "+tz, zap.String("timezone", tz))
		log.Info(fmt.Sprintf("  Cost / 1K tok:  %.4f", cfg.Quota.CostPer1KTokens))
		if len(cfg.Quota.MeteredOperations) > 0 {
			log.Info("  Metered:        " + strings.Join(cfg.Quota.MeteredOperations, ", "))
		}
		for _, tier := range sortedKeys(cfg.Quota.Plans) {
			spec := cfg.Quota.Plans[tier]
			log.Info(fmt.Sprintf("  %s: ops/day=%d spend/day=%.2f spend/month=%.2f", tier, spec.DailyOperations, spec.DailySpend, spec.MonthlySpend))
		}
		log.Info("")

		log.Info("=== End Environment Information ===")
	},
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// redactURL drops credentials and query parameters such as authToken.
func redactURL(raw string) string {
	if i := strings.Index(raw, "?"); i >= 0 {
		raw = raw[:i]
	}
	if scheme := strings.Index(raw, "://"); scheme >= 0 {
		if at := strings.LastIndex(raw, "@"); at > scheme {
			raw = raw[:scheme+3] + "***@" + raw[at+1:]
		}
	}
	return raw
}

func init() {
	rootCmd.AddCommand(envInfoCmd)
}
