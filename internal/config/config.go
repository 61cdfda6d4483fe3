// Package config assembles process configuration for insights-core:
// provider endpoints, judge defaults, credential-vault key material,
// storage/cache connection settings, pipeline stage weights, and the
// initial Model Catalog seed — then keeps the catalog seed fresh via an
// optional file watch. Shaped after the teacher's pkg/config umbrella
// Config (one struct, read-mostly sub-registries)
// and loaded with Viper the way turtacn-KeyIP-Intelligence's
// internal/config/loader.go loads its own Config: YAML file plus env
// override, defaults applied, then validated.
package config

import (
	"fmt"
	"time"

	"github.com/opencircle/insights-core/internal/catalog"
	"github.com/opencircle/insights-core/internal/storage"
)

// ProviderSettings configures one upstream model provider, matching
// spec §6's "{provider}_base_url, {provider}_request_timeout_ms,
// {provider}_max_retries" environment contract.
type ProviderSettings struct {
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
}

// JudgeSettings holds the judge engine's defaults (spec §6
// judge_default_model / judge_default_temperature).
type JudgeSettings struct {
	DefaultModel       string  `mapstructure:"default_model"`
	DefaultTemperature float64 `mapstructure:"default_temperature"`
}

// VaultSettings configures the Credential Vault's master key material
// (spec §6 credential_encryption_key).
type VaultSettings struct {
	EncryptionKey string `mapstructure:"encryption_key"`
}

// RedisSettings configures the optional Redis-backed duplicate guard.
// A zero-value Addr means the comparison service falls back to the
// Postgres advisory-lock guard per spec §4.7.
type RedisSettings struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
}

// MetricsSettings configures the Prometheus namespace/subsystem used to
// build the process's internal/metrics.Collector.
type MetricsSettings struct {
	Namespace string `mapstructure:"namespace"`
	Subsystem string `mapstructure:"subsystem"`
	ListenAddr string `mapstructure:"listen_addr"`
}

// StageWeights is the three-element (facts, insights, summary) stage
// weighting from spec §6 pipeline_stage_weights, defaulting to
// (0.30, 0.35, 0.35). This package only loads, defaults and validates
// it; internal/judge aggregates with its own fixed weights.
type StageWeights [3]float64

// Validate checks the weights sum to 1.0 within a small epsilon and
// that none is negative.
func (w StageWeights) Validate() error {
	sum := w[0] + w[1] + w[2]
	if sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("config: pipeline_stage_weights must sum to 1.0, got %.4f", sum)
	}
	for i, v := range w {
		if v < 0 {
			return fmt.Errorf("config: pipeline_stage_weights[%d] must be non-negative, got %f", i, v)
		}
	}
	return nil
}

// DefaultStageWeights matches spec §6's literal default.
func DefaultStageWeights() StageWeights { return StageWeights{0.30, 0.35, 0.35} }

// Config is the fully-resolved, validated process configuration. It is
// immutable after Load returns except for the Catalog field, whose
// entries may be refreshed in place by Watch (the catalog itself is
// concurrency-safe; Config never hands out a pointer to anything else
// mutable).
type Config struct {
	Providers    map[string]ProviderSettings `mapstructure:"providers"`
	Judge        JudgeSettings               `mapstructure:"judge"`
	Vault        VaultSettings               `mapstructure:"vault"`
	Storage      storage.Config              `mapstructure:"-"`
	Redis        RedisSettings               `mapstructure:"redis"`
	StageWeights StageWeights                `mapstructure:"-"`
	Catalog      map[string]catalog.Entry    `mapstructure:"-"`
	Metrics      MetricsSettings             `mapstructure:"metrics"`
	LogLevel     string                      `mapstructure:"log_level"`

	// ConfigFile is the path Load read from, empty when Load was called
	// with no file and relied entirely on env vars and defaults. Kept so
	// Watch can be called without the caller re-threading the path.
	ConfigFile string `mapstructure:"-"`
}

// ProviderOrDefault returns the settings for name, or a zero-value
// ProviderSettings (empty BaseURL, 0 timeout/retries) if unconfigured —
// callers apply their own library defaults in that case.
func (c *Config) ProviderOrDefault(name string) ProviderSettings {
	if c == nil {
		return ProviderSettings{}
	}
	if s, ok := c.Providers[name]; ok {
		return s
	}
	return ProviderSettings{}
}

// Validate checks cross-field invariants the YAML/env unmarshal step
// cannot express on its own.
func (c *Config) Validate() error {
	if c.Vault.EncryptionKey == "" {
		return fmt.Errorf("config: credential_encryption_key is required")
	}
	if err := c.StageWeights.Validate(); err != nil {
		return err
	}
	if c.Judge.DefaultTemperature < 0 || c.Judge.DefaultTemperature > 2 {
		return fmt.Errorf("config: judge_default_temperature out of range: %f", c.Judge.DefaultTemperature)
	}
	for name, p := range c.Providers {
		if p.MaxRetries < 0 {
			return fmt.Errorf("config: provider %q max_retries must be non-negative", name)
		}
	}
	return nil
}

// UsesRedisGuard reports whether the duplicate guard should use the
// Redis backend per spec §4.7 ("a Redis SET NX PX lock when Redis is
// configured, falling back to a Postgres advisory lock otherwise").
func (c *Config) UsesRedisGuard() bool {
	return c.Redis.Addr != ""
}
