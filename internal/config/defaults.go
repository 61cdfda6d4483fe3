package config

import (
	"time"

	"github.com/opencircle/insights-core/internal/catalog"
)

// defaultProviderTimeout and defaultProviderMaxRetries are applied to
// any provider named in the config that doesn't set its own values —
// spec §6 fixes the retry default at 2; the timeout default tracks the
// DTA pipeline's own per-stage default (spec §4.5, "120s per stage").
const (
	defaultProviderTimeout    = 120 * time.Second
	defaultProviderMaxRetries = 2
)

// ApplyDefaults fills in every unset field with the spec's literal
// defaults. Mirrors the teacher's defaults.go: a single pass mutating
// the already-unmarshalled struct rather than baking defaults into the
// struct tags, so the same defaults apply whether the value came from
// YAML, env, or was simply absent.
func ApplyDefaults(cfg *Config) {
	if cfg.Providers == nil {
		cfg.Providers = make(map[string]ProviderSettings)
	}
	for name, p := range cfg.Providers {
		if p.RequestTimeout == 0 {
			p.RequestTimeout = defaultProviderTimeout
		}
		if p.MaxRetries == 0 {
			p.MaxRetries = defaultProviderMaxRetries
		}
		cfg.Providers[name] = p
	}

	if cfg.Judge.DefaultModel == "" {
		cfg.Judge.DefaultModel = "gpt-4o"
	}
	// DefaultTemperature's zero value (0.0) IS the spec default, so
	// there is nothing to backfill there.

	if cfg.StageWeights == (StageWeights{}) {
		cfg.StageWeights = DefaultStageWeights()
	}

	if cfg.Redis.LockTTL == 0 {
		cfg.Redis.LockTTL = 30 * time.Second
	}

	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = "insights_core"
	}
	if cfg.Metrics.ListenAddr == "" {
		cfg.Metrics.ListenAddr = ":9090"
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	if cfg.Catalog == nil {
		cfg.Catalog = make(map[string]catalog.Entry)
	}
}
