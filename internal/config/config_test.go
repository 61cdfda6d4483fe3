package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/opencircle/insights-core/internal/config"
)

func validConfig() *config.Config {
	cfg := &config.Config{
		Vault:        config.VaultSettings{EncryptionKey: "k"},
		StageWeights: config.DefaultStageWeights(),
		Judge:        config.JudgeSettings{DefaultModel: "gpt-4o", DefaultTemperature: 0.0},
	}
	return cfg
}

func TestConfig_Validate_AcceptsWellFormedConfig(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestConfig_Validate_RejectsMissingEncryptionKey(t *testing.T) {
	cfg := validConfig()
	cfg.Vault.EncryptionKey = ""
	assert.Error(t, cfg.Validate())
}

func TestConfig_Validate_RejectsStageWeightsNotSummingToOne(t *testing.T) {
	cfg := validConfig()
	cfg.StageWeights = config.StageWeights{0.5, 0.5, 0.5}
	assert.Error(t, cfg.Validate())
}

func TestConfig_Validate_RejectsOutOfRangeJudgeTemperature(t *testing.T) {
	cfg := validConfig()
	cfg.Judge.DefaultTemperature = 3.0
	assert.Error(t, cfg.Validate())
}

func TestConfig_Validate_RejectsNegativeProviderMaxRetries(t *testing.T) {
	cfg := validConfig()
	cfg.Providers = map[string]config.ProviderSettings{"openai": {MaxRetries: -1}}
	assert.Error(t, cfg.Validate())
}

func TestConfig_ProviderOrDefault_UnconfiguredProviderReturnsZeroValue(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, config.ProviderSettings{}, cfg.ProviderOrDefault("anthropic"))
}

func TestConfig_ProviderOrDefault_NilConfigIsSafe(t *testing.T) {
	var cfg *config.Config
	assert.Equal(t, config.ProviderSettings{}, cfg.ProviderOrDefault("anthropic"))
}

func TestConfig_UsesRedisGuard_TrueOnlyWhenAddrSet(t *testing.T) {
	cfg := validConfig()
	assert.False(t, cfg.UsesRedisGuard())
	cfg.Redis.Addr = "localhost:6379"
	assert.True(t, cfg.UsesRedisGuard())
}

func TestStageWeights_Validate_RejectsNegativeWeight(t *testing.T) {
	w := config.StageWeights{-0.1, 0.6, 0.5}
	assert.Error(t, w.Validate())
}

func TestDefaultStageWeights_MatchesSpecDefault(t *testing.T) {
	assert.Equal(t, config.StageWeights{0.30, 0.35, 0.35}, config.DefaultStageWeights())
}
