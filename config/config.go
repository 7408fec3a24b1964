// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/artpar/speechquota/domain/period"
	"github.com/artpar/speechquota/domain/plan"
	"github.com/artpar/speechquota/domain/quota"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// Config is the root configuration structure.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
	Quota    QuotaConfig    `yaml:"quota"`
	Plans    []PlanConfig   `yaml:"plans"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`   // Must exceed the longest plan wait
	RequestTimeout time.Duration `yaml:"request_timeout"` // Per-request deadline on /v1
}

// StorageConfig selects the usage ledger backend.
type StorageConfig struct {
	Driver string `yaml:"driver"` // "memory", "sqlite", "postgres" or "redis"
	DSN    string `yaml:"dsn"`    // File path for sqlite, connection string for postgres
}

// RedisConfig configures the redis ledger.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password,omitempty"`
	DB        int    `yaml:"db"`
	PoolSize  int    `yaml:"pool_size"`
	KeyPrefix string `yaml:"key_prefix"`
}

// PostgresConfig tunes the postgres connection pool.
type PostgresConfig struct {
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// QuotaConfig configures admission control.
type QuotaConfig struct {
	Enforcement  string  `yaml:"enforcement"`    // "soft" or "strict"
	DefaultPlan  string  `yaml:"default_plan"`   // Plan for accounts without a subscription
	NearLimitPct float64 `yaml:"near_limit_pct"` // Summary warning threshold, percent
}

// PlanConfig configures a subscription plan.
type PlanConfig struct {
	ID                 string   `yaml:"id"`
	Name               string   `yaml:"name"`
	Period             string   `yaml:"period"` // "daily" or "monthly"
	PeriodCharacterCap int64    `yaml:"period_character_cap"`
	PerRequestCap      int64    `yaml:"per_request_cap"`
	CommercialUse      bool     `yaml:"commercial_use"`
	WaitSeconds        int      `yaml:"wait_seconds"`
	AudioFormats       []string `yaml:"audio_formats"`
	Priority           string   `yaml:"priority"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "console"
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	return Parse(data)
}

// Parse builds configuration from YAML bytes.
// Environment variables are expanded and SPEECHQUOTA_* overrides applied.
func Parse(data []byte) (*Config, error) {
	data = []byte(os.ExpandEnv(string(data)))

	cfg := Config{Metrics: MetricsConfig{Enabled: true}}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return finish(&cfg)
}

// LoadFromEnv creates configuration entirely from environment variables,
// using the built-in plan catalog.
//
// Environment variables:
//
//	SPEECHQUOTA_SERVER_HOST          - Server host (default: 0.0.0.0)
//	SPEECHQUOTA_SERVER_PORT          - Server port (default: 8080)
//	SPEECHQUOTA_STORAGE_DRIVER       - memory, sqlite, postgres or redis (default: sqlite)
//	SPEECHQUOTA_STORAGE_DSN          - Database path or connection string (default: speechquota.db)
//	SPEECHQUOTA_REDIS_ADDR           - Redis address (default: localhost:6379)
//	SPEECHQUOTA_REDIS_PASSWORD       - Redis password
//	SPEECHQUOTA_QUOTA_ENFORCEMENT    - soft or strict (default: soft)
//	SPEECHQUOTA_QUOTA_DEFAULT_PLAN   - Fallback plan id (default: free)
//	SPEECHQUOTA_LOG_LEVEL            - debug, info, warn, error (default: info)
//	SPEECHQUOTA_LOG_FORMAT           - json or console (default: json)
//	SPEECHQUOTA_METRICS_ENABLED      - Enable /metrics (default: true)
func LoadFromEnv() (*Config, error) {
	return finish(&Config{Metrics: MetricsConfig{Enabled: true}})
}

// LoadWithFallback loads path when it exists, otherwise configuration from
// the environment.
func LoadWithFallback(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return LoadFromEnv()
}

func finish(cfg *Config) (*Config, error) {
	applyEnvOverrides(cfg)
	setDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies SPEECHQUOTA_* environment variables to the config.
// Environment variables always override file-based configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SPEECHQUOTA_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("SPEECHQUOTA_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("SPEECHQUOTA_SERVER_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.WriteTimeout = d
		}
	}

	if v := os.Getenv("SPEECHQUOTA_STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv("SPEECHQUOTA_STORAGE_DSN"); v != "" {
		cfg.Storage.DSN = v
	}

	if v := os.Getenv("SPEECHQUOTA_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("SPEECHQUOTA_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("SPEECHQUOTA_REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = n
		}
	}

	if v := os.Getenv("SPEECHQUOTA_QUOTA_ENFORCEMENT"); v != "" {
		cfg.Quota.Enforcement = v
	}
	if v := os.Getenv("SPEECHQUOTA_QUOTA_DEFAULT_PLAN"); v != "" {
		cfg.Quota.DefaultPlan = v
	}

	if v := os.Getenv("SPEECHQUOTA_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SPEECHQUOTA_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	if v := os.Getenv("SPEECHQUOTA_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
}

// parseBool parses a boolean from common string values.
func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 90 * time.Second
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 60 * time.Second
	}

	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = DriverSQLite
	}
	if cfg.Storage.DSN == "" && cfg.Storage.Driver == DriverSQLite {
		cfg.Storage.DSN = "speechquota.db"
	}

	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Redis.PoolSize == 0 {
		cfg.Redis.PoolSize = 10
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = "speechquota:"
	}

	if cfg.Postgres.MaxOpenConns == 0 {
		cfg.Postgres.MaxOpenConns = 25
	}
	if cfg.Postgres.MaxIdleConns == 0 {
		cfg.Postgres.MaxIdleConns = 5
	}
	if cfg.Postgres.ConnMaxLifetime == 0 {
		cfg.Postgres.ConnMaxLifetime = 5 * time.Minute
	}
	if cfg.Postgres.ConnMaxIdleTime == 0 {
		cfg.Postgres.ConnMaxIdleTime = time.Minute
	}

	if cfg.Quota.Enforcement == "" {
		cfg.Quota.Enforcement = string(quota.EnforceSoft)
	}
	if cfg.Quota.DefaultPlan == "" {
		cfg.Quota.DefaultPlan = "free"
	}
	if cfg.Quota.NearLimitPct == 0 {
		cfg.Quota.NearLimitPct = 80
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	// Built-in tiers if none configured
	if len(cfg.Plans) == 0 {
		for _, p := range plan.DefaultPlans() {
			cfg.Plans = append(cfg.Plans, PlanConfigFrom(p))
		}
	}
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 0 and 65535, got %d", cfg.Server.Port)
	}

	switch cfg.Storage.Driver {
	case DriverMemory, DriverRedis:
	case DriverSQLite, DriverPostgres:
		if cfg.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for driver %q", cfg.Storage.Driver)
		}
	default:
		return fmt.Errorf("storage.driver must be one of: memory, sqlite, postgres, redis, got %q", cfg.Storage.Driver)
	}

	if _, err := quota.ParseEnforceMode(cfg.Quota.Enforcement); err != nil {
		return fmt.Errorf("quota.enforcement: %w", err)
	}
	if cfg.Quota.NearLimitPct < 0 || cfg.Quota.NearLimitPct > 100 {
		return fmt.Errorf("quota.near_limit_pct must be between 0 and 100, got %v", cfg.Quota.NearLimitPct)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" && cfg.Logging.Format != "console" {
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", cfg.Logging.Format)
	}

	if _, err := cfg.BuildCatalog(); err != nil {
		return err
	}

	// Waits are served inside the request, so they must finish before the
	// server gives up on it.
	for i, pc := range cfg.Plans {
		wait := time.Duration(pc.WaitSeconds) * time.Second
		if wait >= cfg.Server.RequestTimeout {
			return fmt.Errorf("plans[%d]: wait_seconds %d must be shorter than server.request_timeout %s",
				i, pc.WaitSeconds, cfg.Server.RequestTimeout)
		}
		if cfg.Server.WriteTimeout > 0 && wait >= cfg.Server.WriteTimeout {
			return fmt.Errorf("plans[%d]: wait_seconds %d must be shorter than server.write_timeout %s",
				i, pc.WaitSeconds, cfg.Server.WriteTimeout)
		}
	}
	return nil
}

// BuildCatalog converts the plans section into a validated plan catalog.
func (c *Config) BuildCatalog() (*plan.Catalog, error) {
	plans := make([]plan.Plan, 0, len(c.Plans))
	for i, pc := range c.Plans {
		p, err := pc.toPlan()
		if err != nil {
			return nil, fmt.Errorf("plans[%d]: %w", i, err)
		}
		plans = append(plans, p)
	}

	catalog, err := plan.NewCatalog(plans, c.Quota.DefaultPlan)
	if err != nil {
		return nil, fmt.Errorf("plans: %w", err)
	}
	return catalog, nil
}

// EnforceMode returns the parsed enforcement mode. Load has already validated it.
func (c *Config) EnforceMode() quota.EnforceMode {
	m, err := quota.ParseEnforceMode(c.Quota.Enforcement)
	if err != nil {
		return quota.EnforceSoft
	}
	return m
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (pc PlanConfig) toPlan() (plan.Plan, error) {
	kind, err := period.ParseKind(strings.ToLower(pc.Period))
	if err != nil {
		return plan.Plan{}, err
	}

	formats := make([]plan.Format, 0, len(pc.AudioFormats))
	for _, f := range pc.AudioFormats {
		formats = append(formats, plan.Format(strings.ToLower(f)))
	}

	name := pc.Name
	if name == "" {
		name = pc.ID
	}

	return plan.Plan{
		ID:   pc.ID,
		Name: name,
		Limits: plan.Limits{
			PeriodKind:         kind,
			PeriodCharacterCap: pc.PeriodCharacterCap,
			PerRequestCap:      pc.PerRequestCap,
			CommercialUse:      pc.CommercialUse,
			WaitSeconds:        pc.WaitSeconds,
			AudioFormats:       formats,
			Priority:           plan.Priority(strings.ToLower(pc.Priority)),
		},
	}, nil
}

// PlanConfigFrom renders a plan in configuration form.
func PlanConfigFrom(p plan.Plan) PlanConfig {
	formats := make([]string, 0, len(p.Limits.AudioFormats))
	for _, f := range p.Limits.AudioFormats {
		formats = append(formats, string(f))
	}
	return PlanConfig{
		ID:                 p.ID,
		Name:               p.Name,
		Period:             string(p.Limits.PeriodKind),
		PeriodCharacterCap: p.Limits.PeriodCharacterCap,
		PerRequestCap:      p.Limits.PerRequestCap,
		CommercialUse:      p.Limits.CommercialUse,
		WaitSeconds:        p.Limits.WaitSeconds,
		AudioFormats:       formats,
		Priority:           string(p.Limits.Priority),
	}
}
