package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noEnv(string) (string, bool) { return "", false }

func loadFrom(t *testing.T, yaml string, opts ...Option) Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "autoloom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	cfg, err := Load(append([]Option{WithFile(path), WithDotenv(""), WithEnvLookup(noEnv)}, opts...)...)
	require.NoError(t, err)
	return cfg
}

func TestLoadDefaults(t *testing.T) {
	cfg := loadFrom(t, "{}\n")

	assert.Equal(t, DefaultGenerationModel, cfg.Generation.Model)
	assert.Equal(t, 100, cfg.Generation.MaxTokens)
	assert.Equal(t, 0.7, cfg.Generation.Temperature)
	assert.Equal(t, 0.9, cfg.Generation.TopP)
	assert.Equal(t, 5, cfg.Generation.N)
	assert.Equal(t, ErrorTextDrop, cfg.Generation.ErrorTextPolicy)
	assert.Equal(t, DefaultClassifierModel, cfg.Classifier.Model)
	assert.Equal(t, 500*time.Millisecond, cfg.Classifier.Stagger)
	assert.Equal(t, DefaultWaitTime, cfg.Session.WaitTime)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 32*time.Second, cfg.Retry.MaxDelay)
	assert.Len(t, cfg.Models, 2)
	assert.Equal(t, DefaultOutputFile, cfg.Tuner.Output)
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	t.Setenv("AUTOLOOM_SESSION_WAIT_TIME", "3")
	cfg := loadFrom(t, `
generation:
  model: gpt-3.5-turbo-instruct
  n: 8
  error_text_policy: retry
classifier:
  concurrency: 2
`)

	assert.Equal(t, "gpt-3.5-turbo-instruct", cfg.Generation.Model)
	assert.Equal(t, 8, cfg.Generation.N)
	assert.Equal(t, ErrorTextRetry, cfg.Generation.ErrorTextPolicy)
	assert.Equal(t, 2, cfg.Classifier.Concurrency)
	assert.Equal(t, 3, cfg.Session.WaitTime)
}

func TestLoadBoundViperWins(t *testing.T) {
	v := viper.New()
	v.Set("generation.n", 2)
	cfg := loadFrom(t, "generation:\n  n: 7\n", WithViper(v))
	assert.Equal(t, 2, cfg.Generation.N)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autoloom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("generation:\n  n: 0\n  error_text_policy: ignore\n"), 0o600))

	_, err := Load(WithFile(path), WithDotenv(""), WithEnvLookup(noEnv))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "generation.n")
	assert.Contains(t, err.Error(), "error_text_policy")
}

func TestCredentialsFromEnvAndDotenv(t *testing.T) {
	dir := t.TempDir()
	dotenv := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(dotenv, []byte("HYPERBOLIC_API_KEY=from-dotenv\nOPENAI_API_KEY=dotenv-openai\n"), 0o600))
	cfgPath := filepath.Join(dir, "autoloom.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("{}\n"), 0o600))

	env := map[string]string{"OPENAI_API_KEY": "from-env"}
	cfg, err := Load(WithFile(cfgPath), WithDotenv(dotenv), WithEnvLookup(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}))
	require.NoError(t, err)

	assert.Equal(t, "from-dotenv", cfg.Credentials.HyperbolicAPIKey)
	assert.Equal(t, "from-env", cfg.Credentials.OpenAIAPIKey)
	assert.NoError(t, cfg.RequireCredentials(cfg.Generation.Model, cfg.Classifier.Model))
}

func TestRequireCredentialsReportsMissingKeys(t *testing.T) {
	cfg := loadFrom(t, "{}\n")
	err := cfg.RequireCredentials(cfg.Generation.Model, cfg.Classifier.Model, "gemini-2.0-flash")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingCredential))
	assert.Contains(t, err.Error(), "HYPERBOLIC_API_KEY")
	assert.Contains(t, err.Error(), "OPENAI_API_KEY")
	assert.Contains(t, err.Error(), "GEMINI_API_KEY")
}

func TestProviderFor(t *testing.T) {
	assert.Equal(t, ProviderHyperbolic, ProviderFor("meta-llama/Meta-Llama-3.1-405B-FP8"))
	assert.Equal(t, ProviderOpenAI, ProviderFor("davinci-002"))
	assert.Equal(t, ProviderGemini, ProviderFor("gemini-2.0-flash"))
}

func TestProfileForSlowModels(t *testing.T) {
	cfg := loadFrom(t, "{}\n")

	slow := cfg.ProfileFor("meta-llama/Meta-Llama-3.1-405B-FP8")
	assert.Equal(t, 8, slow.MaxAttempts)
	assert.Equal(t, 120*time.Second, slow.MaxDelay)
	assert.Equal(t, 120*time.Second, slow.Timeout)
	assert.Equal(t, time.Second, slow.BaseDelay)

	fast := cfg.ProfileFor("gpt-3.5-turbo-instruct")
	assert.Equal(t, 5, fast.MaxAttempts)
	assert.Equal(t, 32*time.Second, fast.MaxDelay)
	assert.Equal(t, DefaultHTTPTimeout, fast.Timeout)
}
