package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/threadgate/threadgate/internal/config"
	"github.com/threadgate/threadgate/internal/core"
	"github.com/threadgate/threadgate/internal/observability"
)

// doctorProbeIdentity is read but never counted.
const doctorProbeIdentity = "threadgate-doctor"

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long:  "Run diagnostic checks on config, the account store and the limiter backend.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log := observability.CLILogger
		identity := GetAppIdentity()
		bannerName := "doctor"
		if identity != nil && identity.BinaryName != "" {
			bannerName = identity.BinaryName + " doctor"
		}
		log.Info("=== " + bannerName + " ===")
		log.Info("")

		const totalChecks = 6
		healthy := true
		step := func(n int, label string) string {
			return fmt.Sprintf("[%d/%d] Checking %s...", n, totalChecks, label)
		}

		// 1: runtime and SSOT
		version := crucible.GetVersion()
		log.Info(fmt.Sprintf("%s ✅ %s %s/%s, gofulmen v%s", step(1, "runtime"), runtime.Version(), runtime.GOOS, runtime.GOARCH, version.Gofulmen),
			zap.String("go_version", runtime.Version()),
			zap.String("gofulmen_version", version.Gofulmen))

		// 2: config file
		configPath := config.DefaultConfigPath()
		switch {
		case configPath == "":
			log.Warn(step(2, "config file") + " ⚠️  config directory not resolved")
		case fileExists(configPath):
			log.Info(step(2, "config file")+" ✅ "+configPath, zap.String("config_file", configPath))
		default:
			log.Info(step(2, "config file")+" ✅ defaults (run 'doctor init' to write "+configPath+")", zap.String("config_file", configPath))
		}

		// 3: config validity
		cfg, err := config.Load(ctx)
		if err != nil {
			log.Error(step(3, "config")+" ❌ invalid", zap.Error(err))
			log.Warn("⚠️  Remaining checks skipped.")
			return err
		}
		log.Info(step(3, "config") + " ✅ valid")

		rt, err := buildServices(ctx, cfg, true)
		if err != nil {
			log.Error(step(4, "account store")+" ❌ cannot open", zap.Error(err))
			return err
		}
		defer func() { _ = rt.Close() }()

		// 4: account store
		if err := checkAccountStore(ctx, rt); err != nil {
			log.Error(step(4, "account store")+" ❌ "+rt.storeBackend(), zap.Error(err))
			healthy = false
		} else {
			log.Info(step(4, "account store") + " ✅ " + describeStore(cfg.Store))
		}

		// 5: limiter backend
		if _, err := rt.limiter.Status(ctx, doctorProbeIdentity, core.ClassAPI); err != nil {
			log.Error(step(5, "limiter backend")+" ❌ "+rt.limiterBackend(), zap.Error(err))
			healthy = false
		} else if rt.limiterBackend() == config.BackendMemory {
			log.Info(step(5, "limiter backend") + " ✅ memory (windows are per process)")
		} else {
			log.Info(step(5, "limiter backend") + " ✅ " + rt.limiterBackend())
		}

		// 6: quota plans
		loc, _ := cfg.Quota.Location()
		log.Info(fmt.Sprintf("%s ✅ %d plans, boundaries in %s", step(6, "quota plans"), len(cfg.Quota.Plans), loc),
			zap.Int("plans", len(cfg.Quota.Plans)))

		log.Info("")
		if !healthy {
			log.Warn("⚠️  Some checks failed. Review the output above for details.")
			return fmt.Errorf("doctor: one or more checks failed")
		}
		log.Info("✅ All checks passed.")
		return nil
	},
}

func checkAccountStore(ctx context.Context, rt *services) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if rt.db != nil {
		return rt.db.Ping(ctx)
	}
	_, err := rt.accounts.ListAccounts(ctx)
	return err
}

func describeStore(cfg config.StoreConfig) string {
	if cfg.Backend == config.BackendMemory {
		return "memory (accounts are lost on exit)"
	}
	if strings.TrimSpace(cfg.URL) != "" {
		return redactURL(cfg.URL) + " (remote)"
	}
	absPath, _ := filepath.Abs(cfg.Path)
	if info, err := os.Stat(absPath); err == nil {
		return fmt.Sprintf("%s (%s)", absPath, formatFileSize(info.Size()))
	}
	return absPath
}

var doctorInitForce bool

var doctorInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the built-in defaults to the user config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := config.DefaultConfigPath()
		if configPath == "" {
			return fmt.Errorf("config path not resolved")
		}
		if fileExists(configPath) && !doctorInitForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", configPath)
		}

		data, err := config.DefaultConfigYAML()
		if err != nil {
			return err
		}
		// #nosec G301 -- config directories use 0755 like the data directory
		if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
		if err := os.WriteFile(configPath, data, 0o600); err != nil {
			return fmt.Errorf("write config file: %w", err)
		}

		observability.CLILogger.Info("Config initialized", zap.String("path", configPath))
		return nil
	},
}

var doctorValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := config.Load(cmd.Context()); err != nil {
			return err
		}
		observability.CLILogger.Info("Config is valid", zap.String("path", config.DefaultConfigPath()))
		return nil
	},
}

var doctorResetDataYes bool

var doctorResetDataCmd = &cobra.Command{
	Use:   "reset-data",
	Short: "Remove the local account database",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cmd.Context())
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if cfg.Store.Backend != config.BackendLibsql || strings.TrimSpace(cfg.Store.URL) != "" {
			return fmt.Errorf("only a local libsql database can be removed")
		}
		if !doctorResetDataYes {
			return fmt.Errorf("removing %s deletes every account; pass --yes to confirm", cfg.Store.Path)
		}

		absPath, _ := filepath.Abs(cfg.Store.Path)
		for _, path := range []string{absPath, absPath + "-wal", absPath + "-shm"} {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("remove database: %w", err)
			}
		}
		observability.CLILogger.Info("Database removed", zap.String("path", absPath))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.AddCommand(doctorInitCmd, doctorValidateCmd, doctorResetDataCmd)

	doctorInitCmd.Flags().BoolVar(&doctorInitForce, "force", false, "overwrite existing config file")
	doctorResetDataCmd.Flags().BoolVar(&doctorResetDataYes, "yes", false, "confirm database removal")
}

func fileExists(path string) bool {
	if strings.TrimSpace(path) == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

// formatFileSize returns a human-readable file size
func formatFileSize(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)
	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d bytes", bytes)
	}
}
