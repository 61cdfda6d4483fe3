package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencircle/insights-core/internal/config"
)

const validYAML = `
providers:
  openai:
    base_url: https://api.openai.com/v1
  anthropic:
    base_url: https://api.anthropic.com

judge:
  default_model: gpt-4o

catalog:
  - model_name: gpt-4o
    model_version: gpt-4o-2024-08-06
    provider: openai
    family: P2_newer_chat
    input_price_per_million: 2.5
    output_price_per_million: 10
    context_input: 128000
    context_output: 16384
    active: true
  - model_name: o1
    model_version: o1-2024-12-17
    provider: openai
    family: P3_reasoning
    input_price_per_million: 15
    output_price_per_million: 60
    context_input: 200000
    context_output: 100000
    active: true
`

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "insights-core.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func setRequiredStorageEnv(t *testing.T) {
	t.Helper()
	t.Setenv("INSIGHTS_DB_PASSWORD", "test-password")
}

func TestLoad_ValidFileAndEnv_PopulatesCatalogAndProviders(t *testing.T) {
	setRequiredStorageEnv(t)
	t.Setenv("credential_encryption_key", "0123456789abcdef0123456789abcdef")
	path := writeConfigFile(t, validYAML)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o", cfg.Judge.DefaultModel)
	assert.Len(t, cfg.Catalog, 2)
	assert.Equal(t, "openai", cfg.Catalog["gpt-4o"].Provider)
	assert.Equal(t, "max_completion_tokens", cfg.Catalog["o1"].Profile.MaxTokensName)
	assert.Equal(t, config.DefaultStageWeights(), cfg.StageWeights)
}

func TestLoad_ProviderEnvOverridesWinOverYAML(t *testing.T) {
	setRequiredStorageEnv(t)
	t.Setenv("credential_encryption_key", "0123456789abcdef0123456789abcdef")
	t.Setenv("OPENAI_BASE_URL", "https://override.example.com/v1")
	t.Setenv("OPENAI_MAX_RETRIES", "5")
	path := writeConfigFile(t, validYAML)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://override.example.com/v1", cfg.Providers["openai"].BaseURL)
	assert.Equal(t, 5, cfg.Providers["openai"].MaxRetries)
}

func TestLoad_PipelineStageWeightsEnvOverride(t *testing.T) {
	setRequiredStorageEnv(t)
	t.Setenv("credential_encryption_key", "0123456789abcdef0123456789abcdef")
	t.Setenv("pipeline_stage_weights", "(0.20,0.40,0.40)")
	path := writeConfigFile(t, validYAML)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.StageWeights{0.20, 0.40, 0.40}, cfg.StageWeights)
}

func TestLoad_MissingEncryptionKeyFailsValidation(t *testing.T) {
	setRequiredStorageEnv(t)
	path := writeConfigFile(t, validYAML)

	_, err := config.Load(path)
	require.Error(t, err)
	assert.Equal(t, config.ExitConfigInvalid, config.ExitCodeFor(err))
}

func TestLoad_UnknownParameterProfileFamilyFails(t *testing.T) {
	setRequiredStorageEnv(t)
	t.Setenv("credential_encryption_key", "0123456789abcdef0123456789abcdef")
	path := writeConfigFile(t, `
catalog:
  - model_name: mystery-model
    provider: acme
    family: not-a-real-family
    active: true
`)

	_, err := config.Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not-a-real-family")
}

func TestLoad_MissingConfigFileReadError(t *testing.T) {
	setRequiredStorageEnv(t)
	t.Setenv("credential_encryption_key", "0123456789abcdef0123456789abcdef")

	_, err := config.Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.Error(t, err)
	assert.Equal(t, config.ExitConfigInvalid, config.ExitCodeFor(err))
}

func TestLoad_EmptyConfigFileReliesOnEnvAndDefaults(t *testing.T) {
	setRequiredStorageEnv(t)
	t.Setenv("credential_encryption_key", "0123456789abcdef0123456789abcdef")
	t.Setenv("judge_default_model", "claude-3-7-sonnet")

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, "claude-3-7-sonnet", cfg.Judge.DefaultModel)
	assert.Empty(t, cfg.Catalog)
}
