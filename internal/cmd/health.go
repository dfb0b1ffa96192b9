package cmd

import (
	"context"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/threadgate/threadgate/internal/config"
	errwrap "github.com/threadgate/threadgate/internal/errors"
	"github.com/threadgate/threadgate/internal/observability"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Run self-health check",
	Long: `Verify that the configuration is valid and that the account store and
limiter backend are reachable.`,
	Run: func(cmd *cobra.Command, args []string) {
		logger := observability.CLILogger
		logger.Info("Running health check...")

		if versionInfo.Version == "" {
			ExitWithCode(logger, foundry.ExitConfigInvalid, "Version information missing", errwrap.NewConfigInvalidError("Version information missing"))
			return
		}
		logger.Debug("Version check passed", zap.String("version", versionInfo.Version))

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		cfg, err := config.Load(ctx)
		if err != nil {
			ExitWithCode(logger, foundry.ExitConfigInvalid, "Configuration invalid", err)
			return
		}
		logger.Info("✅ Configuration valid",
			zap.Int("plans", len(cfg.Quota.Plans)),
			zap.String("timezone", cfg.Quota.Timezone))

		rt, err := buildServices(ctx, cfg, true)
		if err != nil {
			ExitWithCode(logger, foundry.ExitExternalServiceUnavailable, "Admission backends unavailable", err)
			return
		}
		defer func() { _ = rt.Close() }()

		if rt.db != nil {
			if err := rt.db.Ping(ctx); err != nil {
				ExitWithCode(logger, foundry.ExitExternalServiceUnavailable, "Account store unreachable", err)
				return
			}
		}
		logger.Info("✅ Account store ready", zap.String("backend", rt.storeBackend()))
		logger.Info("✅ Limiter ready", zap.String("backend", rt.limiterBackend()))

		logger.Info("✅ All health checks passed")
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
