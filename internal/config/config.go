package config

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata" // quota.timezone must resolve on hosts without zoneinfo

	"github.com/threadgate/threadgate/internal/core"
)

// Backend names shared by the store and limiter sections.
const (
	BackendMemory = "memory"
	BackendLibsql = "libsql"
	BackendRedis  = "redis"
)

// Config represents the complete application configuration. Values come from
// the defaults file, then the user config file, then THREADGATE_* environment
// variables, then runtime overrides.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Store   StoreConfig   `mapstructure:"store"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Limiter LimiterConfig `mapstructure:"limiter"`
	Quota   QuotaConfig   `mapstructure:"quota"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Health  HealthConfig  `mapstructure:"health"`
	Debug   DebugConfig   `mapstructure:"debug"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StoreConfig selects where accounts live. The libsql fields are ignored for
// the memory backend.
type StoreConfig struct {
	Backend   string `mapstructure:"backend"`
	Driver    string `mapstructure:"driver"`
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`
}

// RedisConfig describes the shared counter store. URL wins over Addrs.
type RedisConfig struct {
	URL         string        `mapstructure:"url"`
	Addrs       []string      `mapstructure:"addrs"`
	MasterName  string        `mapstructure:"master_name"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// LimiterConfig configures the request limiter.
type LimiterConfig struct {
	Backend       string                `mapstructure:"backend"`
	KeyPrefix     string                `mapstructure:"key_prefix"`
	SweepInterval time.Duration         `mapstructure:"sweep_interval"`
	SafetyMargin  float64               `mapstructure:"safety_margin"`
	Classes       map[string]WindowSpec `mapstructure:"classes"`
}

// WindowSpec is one endpoint class policy.
type WindowSpec struct {
	Window      time.Duration `mapstructure:"window" yaml:"window"`
	MaxRequests int           `mapstructure:"max_requests" yaml:"max_requests"`
}

// QuotaConfig configures the quota ledger.
type QuotaConfig struct {
	// Timezone anchors calendar day and month boundaries.
	Timezone          string              `mapstructure:"timezone"`
	CostPer1KTokens   float64             `mapstructure:"cost_per_1k_tokens"`
	MeteredOperations []string            `mapstructure:"metered_operations"`
	Plans             map[string]PlanSpec `mapstructure:"plans"`
	PlansFile         string              `mapstructure:"plans_file"`
}

// PlanSpec holds one tier's caps. Use -1 for no cap.
type PlanSpec struct {
	DailyOperations int     `mapstructure:"daily_operations" yaml:"daily_operations"`
	DailySpend      float64 `mapstructure:"daily_spend" yaml:"daily_spend"`
	MonthlySpend    float64 `mapstructure:"monthly_spend" yaml:"monthly_spend"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level"`

	// Profile selects the logging complexity level
	// Valid values: SIMPLE, STRUCTURED, ENTERPRISE
	Profile string `mapstructure:"profile"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Port is the dedicated Prometheus exporter port. Metrics are also
	// proxied at /metrics on the main HTTP port.
	Port int `mapstructure:"port"`
}

// HealthConfig contains health check configuration
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// DebugConfig contains debug configuration
type DebugConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// WindowConfigs converts the configured classes for the limiter.
func (c LimiterConfig) WindowConfigs() map[string]core.WindowConfig {
	out := make(map[string]core.WindowConfig, len(c.Classes))
	for name, spec := range c.Classes {
		out[name] = core.WindowConfig{Window: spec.Window, MaxRequests: spec.MaxRequests}
	}
	return out
}

// PlanLimits converts the configured plans, keyed by lower-case tier name.
func (q QuotaConfig) PlanLimits() map[string]core.PlanLimits {
	out := make(map[string]core.PlanLimits, len(q.Plans))
	for name, spec := range q.Plans {
		tier := strings.ToLower(strings.TrimSpace(name))
		out[tier] = core.PlanLimits{
			Tier:              tier,
			DailyOperationCap: spec.DailyOperations,
			DailySpendCap:     spec.DailySpend,
			MonthlySpendCap:   spec.MonthlySpend,
		}
	}
	return out
}

// Location resolves Timezone; empty means UTC.
func (q QuotaConfig) Location() (*time.Location, error) {
	name := strings.TrimSpace(q.Timezone)
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid quota timezone %q: %w", name, err)
	}
	return loc, nil
}

// MeteredKinds returns the operation kinds that consume the daily allowance.
func (q QuotaConfig) MeteredKinds() map[core.OperationKind]bool {
	if len(q.MeteredOperations) == 0 {
		return nil
	}
	out := make(map[core.OperationKind]bool, len(q.MeteredOperations))
	for _, op := range q.MeteredOperations {
		op = strings.ToLower(strings.TrimSpace(op))
		if op != "" {
			out[core.OperationKind(op)] = true
		}
	}
	return out
}

// Validate reports the first problem the schema cannot express: cross-field
// requirements, timezone lookup, and plans merged in from plans_file.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendLibsql, BackendMemory:
	default:
		return fmt.Errorf("store.backend must be %q or %q, got %q", BackendLibsql, BackendMemory, c.Store.Backend)
	}

	switch c.Limiter.Backend {
	case BackendMemory:
	case BackendRedis:
		if strings.TrimSpace(c.Redis.URL) == "" && len(c.Redis.Addrs) == 0 {
			return fmt.Errorf("limiter.backend %q requires redis.url or redis.addrs", BackendRedis)
		}
	default:
		return fmt.Errorf("limiter.backend must be %q or %q, got %q", BackendMemory, BackendRedis, c.Limiter.Backend)
	}

	if c.Limiter.SafetyMargin < 0 || c.Limiter.SafetyMargin > 1 {
		return fmt.Errorf("limiter.safety_margin must be within [0, 1], got %v", c.Limiter.SafetyMargin)
	}
	for name, spec := range c.Limiter.Classes {
		if !core.EndpointClass(name).Valid() {
			return fmt.Errorf("limiter.classes.%s is not an endpoint class (want one of %v)", name, core.EndpointClasses)
		}
		if spec.Window <= 0 || spec.MaxRequests <= 0 {
			return fmt.Errorf("limiter.classes.%s needs a positive window and max_requests", name)
		}
	}

	if _, err := c.Quota.Location(); err != nil {
		return err
	}
	if c.Quota.CostPer1KTokens < 0 {
		return fmt.Errorf("quota.cost_per_1k_tokens must not be negative")
	}
	if len(c.Quota.Plans) == 0 {
		return fmt.Errorf("quota.plans must define at least one tier")
	}
	for name, spec := range c.Quota.Plans {
		if !validCap(float64(spec.DailyOperations)) || !validCap(spec.DailySpend) || !validCap(spec.MonthlySpend) {
			return fmt.Errorf("quota.plans.%s caps must be -1 (unlimited) or non-negative", name)
		}
	}
	return nil
}

// validCap accepts exactly -1 or a non-negative ceiling.
func validCap(v float64) bool {
	return v == -1 || v >= 0
}
