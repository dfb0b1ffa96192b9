package cmd

import (
	"context"
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/threadgate/threadgate/internal/config"
	"github.com/threadgate/threadgate/internal/core"
	"github.com/threadgate/threadgate/internal/core/engine"
	"github.com/threadgate/threadgate/internal/core/limiter"
	"github.com/threadgate/threadgate/internal/core/quota"
	"github.com/threadgate/threadgate/internal/core/store"
	"github.com/threadgate/threadgate/internal/metrics"
	"github.com/threadgate/threadgate/internal/observability"
)

// services holds the admission components built from configuration.
type services struct {
	cfg      *config.Config
	db       *store.Store
	accounts quota.AccountRegistry
	redis    goredis.UniversalClient
	limiter  *limiter.Limiter
	ledger   *quota.Ledger
	gate     *engine.Gate
}

// loadServices loads config and opens the account store. withLimiter also
// connects the limiter backend.
func loadServices(ctx context.Context, withLimiter bool) (*services, error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return buildServices(ctx, cfg, withLimiter)
}

func buildServices(ctx context.Context, cfg *config.Config, withLimiter bool) (*services, error) {
	rt := &services{cfg: cfg}

	switch cfg.Store.Backend {
	case config.BackendMemory:
		rt.accounts = quota.NewMemoryAccountStore()
	default:
		db, err := openStore(ctx, cfg.Store)
		if err != nil {
			return nil, err
		}
		rt.db = db
		rt.accounts = db
	}

	loc, err := cfg.Quota.Location()
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	rt.ledger = &quota.Ledger{
		Accounts: rt.accounts,
		Plans:    quota.Plans(cfg.Quota.PlanLimits()),
		Cost:     quota.PerThousandTokens(cfg.Quota.CostPer1KTokens),
		Rules:    quota.DefaultRules(),
		Location: loc,
		Metered:  cfg.Quota.MeteredKinds(),
	}

	if withLimiter {
		if err := rt.buildLimiter(ctx); err != nil {
			_ = rt.Close()
			return nil, err
		}
	}

	rt.gate = &engine.Gate{
		Ledger: rt.ledger,
		OnLimiterError: func(class core.EndpointClass, err error) {
			metrics.RecordLimiterStoreError(string(class))
			observability.Logger().Warn("Rate limit store unavailable, admitting request",
				zap.String("class", string(class)),
				zap.Error(err))
		},
	}
	if rt.limiter != nil {
		rt.gate.Limiter = rt.limiter
	}
	return rt, nil
}

func (rt *services) buildLimiter(ctx context.Context) error {
	var counters limiter.Store
	switch rt.cfg.Limiter.Backend {
	case config.BackendRedis:
		client, err := store.OpenRedis(ctx, rt.cfg.Redis)
		if err != nil {
			return err
		}
		rt.redis = client
		counters = limiter.NewRedisStore(client, rt.cfg.Limiter.KeyPrefix)
	default:
		counters = limiter.NewMemoryStore()
	}

	lim := limiter.New(counters)
	lim.ApplyOverrides(rt.cfg.Limiter.WindowConfigs())
	lim.ApplySafetyMargin(rt.cfg.Limiter.SafetyMargin)
	lim.OnSweep = func(removed int, err error) {
		if err != nil {
			observability.Logger().Warn("Limiter sweep failed", zap.Error(err))
			return
		}
		metrics.SetSweptBuckets(removed)
	}
	rt.limiter = lim
	return nil
}

// storeBackend names the account backend for logs and /version.
func (rt *services) storeBackend() string {
	if rt.db != nil {
		return rt.db.Driver()
	}
	return config.BackendMemory
}

func (rt *services) limiterBackend() string {
	if rt.redis != nil {
		return config.BackendRedis
	}
	return config.BackendMemory
}

// Close stops the sweeper and releases connections.
func (rt *services) Close() error {
	if rt == nil {
		return nil
	}
	if rt.limiter != nil {
		rt.limiter.Stop()
	}
	var errs []string
	if rt.redis != nil {
		if err := rt.redis.Close(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if rt.db != nil {
		if err := rt.db.Close(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close services: %s", strings.Join(errs, "; "))
	}
	return nil
}

func openStore(ctx context.Context, cfg config.StoreConfig) (*store.Store, error) {
	db, err := store.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}
