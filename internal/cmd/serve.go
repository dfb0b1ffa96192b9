package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/threadgate/threadgate/internal/appid"
	"github.com/threadgate/threadgate/internal/config"
	errwrap "github.com/threadgate/threadgate/internal/errors"
	"github.com/threadgate/threadgate/internal/metrics"
	"github.com/threadgate/threadgate/internal/observability"
	"github.com/threadgate/threadgate/internal/server"
	"github.com/threadgate/threadgate/internal/server/handlers"
)

var (
	serverPort int
	serverHost string
)

// telemetryHealthChecker ensures telemetry system and exporter are available
type telemetryHealthChecker struct {
	enabled bool
}

func (t telemetryHealthChecker) CheckHealth(ctx context.Context) error {
	if observability.TelemetrySystem == nil {
		return errwrap.NewInternalError("telemetry system not initialized")
	}
	if t.enabled && observability.PrometheusExporter == nil {
		return errwrap.NewInternalError("prometheus exporter not initialized")
	}
	return nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the admission HTTP server",
	Long: `Start the admission API with graceful shutdown support.

Routes:
  POST /v1/admission            limiter, spend ceilings, operation allowance
  POST /v1/usage                record the cost of a completed operation
  GET  /v1/accounts/{id}/quota  rolled-over quota snapshot
  GET  /v1/limits/{class}       current window for a caller

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Re-validate configuration (limits and plans apply on restart)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		identity := GetAppIdentity()
		namespace := appid.TelemetryNamespace(identity)

		cfg, err := config.Load(ctx, serveFlagOverrides(cmd))
		if err != nil {
			return errwrap.WrapConfigInvalid(ctx, err, "configuration invalid")
		}

		observability.InitServerLogger(identity.BinaryName, observability.ServerLogOptions{
			Level:     cfg.Logging.Level,
			Profile:   cfg.Logging.Profile,
			Namespace: namespace,
		})
		logger := observability.ServerLogger

		if cfg.Metrics.Enabled {
			if err := observability.InitMetrics(namespace, cfg.Metrics.Port); err != nil {
				logger.Error("Failed to initialize metrics", zap.Error(err))
				return errwrap.WrapInternal(ctx, err, "metrics initialization failed")
			}
		} else if err := observability.InitDisabledMetrics(); err != nil {
			return errwrap.WrapInternal(ctx, err, "metrics initialization failed")
		}

		rt, err := buildServices(ctx, cfg, true)
		if err != nil {
			logger.Error("Failed to build admission runtime", zap.Error(err))
			return errwrap.WrapDatabaseError(ctx, err, "admission runtime unavailable")
		}
		defer func() {
			if err := rt.Close(); err != nil {
				logger.Warn("Failed to close runtime", zap.Error(err))
			}
		}()

		rt.limiter.Start(ctx, cfg.Limiter.SweepInterval)

		logger.Info("Initializing server",
			zap.String("service", identity.BinaryName),
			zap.String("namespace", namespace),
			zap.String("version", versionInfo.Version),
			zap.String("host", cfg.Server.Host),
			zap.Int("port", cfg.Server.Port),
			zap.String("store_backend", rt.storeBackend()),
			zap.String("limiter_backend", rt.limiterBackend()),
			zap.Int("plans", len(cfg.Quota.Plans)),
			zap.Int("metrics_port", observability.GetMetricsPort()))

		hm := handlers.InitHealthManager(versionInfo.Version)
		hm.RegisterChecker("telemetry", telemetryHealthChecker{enabled: cfg.Metrics.Enabled})
		if rt.db != nil {
			hm.RegisterChecker("account_store", handlers.CheckerFunc(rt.db.Ping))
		}
		if rt.redis != nil {
			hm.RegisterChecker("redis", handlers.CheckerFunc(func(ctx context.Context) error {
				return rt.redis.Ping(ctx).Err()
			}))
		}

		handlers.SetAppIdentity(identity)
		handlers.SetServiceInfo(handlers.ServiceInfo{
			LimiterBackend: rt.limiterBackend(),
			StoreBackend:   rt.storeBackend(),
			Timezone:       rt.ledger.Location.String(),
		})

		srv := server.New(cfg.Server.Host, cfg.Server.Port, server.Dependencies{
			Gate:    rt.gate,
			Quotas:  rt.ledger,
			Limiter: rt.limiter,
		})
		srv.SetTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.IdleTimeout)
		srv.SetMetricsPort(cfg.Metrics.Port)
		metrics.SetServerStartTime(time.Now().Unix())

		shutdownTimeout := cfg.Server.ShutdownTimeout
		if shutdownTimeout == 0 {
			shutdownTimeout = 10 * time.Second
		}

		// Shutdown handlers run LIFO: server, then sweeper, then logger flush.
		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Flushing logger...")
			if err := logger.Sync(); err != nil {
				logger.Warn("Logger sync returned error (may be benign)", zap.Error(err))
			}
			return nil
		})
		signals.OnShutdown(func(ctx context.Context) error {
			rt.limiter.Stop()
			return nil
		})
		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Shutting down HTTP server...")
			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				return errwrap.WrapInternal(ctx, err, "server shutdown failed")
			}
			logger.Info("HTTP server stopped gracefully")
			return nil
		})

		signals.OnReload(func(ctx context.Context) error {
			logger.Info("Received SIGHUP: re-validating configuration")
			if err := viper.ReadInConfig(); err != nil {
				if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
					logger.Error("Failed to reload config file",
						zap.String("file", viper.ConfigFileUsed()),
						zap.Error(err))
					return errwrap.WrapConfigInvalid(ctx, err, "config reload failed")
				}
			}
			if _, err := config.Load(ctx, serveFlagOverrides(cmd)); err != nil {
				logger.Error("Reloaded configuration is invalid", zap.Error(err))
				return errwrap.WrapConfigInvalid(ctx, err, "config reload failed")
			}
			logger.Info("Configuration valid; limiter presets and plans take effect on restart",
				zap.String("file", viper.ConfigFileUsed()))
			return nil
		})

		if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
			Window:  2 * time.Second,
			Message: "Press Ctrl+C again within 2 seconds to force quit",
		}); err != nil {
			logger.Warn("Failed to enable double-tap force quit", zap.Error(err))
		}

		g, gctx := errgroup.WithContext(ctx)
		listenCtx, stopListening := context.WithCancel(gctx)
		defer stopListening()
		g.Go(func() error {
			defer stopListening()
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			if err := signals.Listen(listenCtx); err != nil && listenCtx.Err() == nil {
				logger.Error("Signal handler error", zap.Error(err))
				return err
			}
			return nil
		})

		if err := g.Wait(); err != nil {
			return errwrap.WrapInternal(ctx, err, "server error")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverHost, "host", "localhost", "server host")
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 8080, "server port")
}

// serveFlagOverrides returns the flags the user actually set, as the top
// config layer. Unset flags leave file and environment values alone.
func serveFlagOverrides(cmd *cobra.Command) map[string]any {
	server := map[string]any{}
	if cmd.Flags().Changed("host") {
		server["host"] = serverHost
	}
	if cmd.Flags().Changed("port") {
		server["port"] = serverPort
	}
	if len(server) == 0 {
		return nil
	}
	return map[string]any{"server": server}
}
