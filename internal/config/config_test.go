package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/loomrun/agentcore/internal/config"
)

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		old, had := os.LookupEnv(k)
		os.Unsetenv(k)
		t.Cleanup(func() {
			if had {
				os.Setenv(k, old)
			}
		})
	}
}

func TestLoadAppliesDefaultsWithNoFileOrEnv(t *testing.T) {
	clearEnv(t, "LLM_API_KEY", "ADMISSION_TIMEOUT_SECONDS", "CONTEXT_THRESHOLD_RATIO")

	cfg, err := config.Load("")
	require.NoError(t, err)
	require.Equal(t, 60, cfg.AdmissionTimeoutSeconds)
	require.Equal(t, 0.75, cfg.ContextThresholdRatio)
	require.Equal(t, 0.40, cfg.ContextTargetRatio)
}

func TestLoadEnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: debug\nadmission_timeout_seconds: 10\n"), 0o644))

	clearEnv(t, "ADMISSION_TIMEOUT_SECONDS")
	os.Setenv("ADMISSION_TIMEOUT_SECONDS", "45")
	t.Cleanup(func() { os.Unsetenv("ADMISSION_TIMEOUT_SECONDS") })

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.LogLevel)    // from YAML, no env override
	require.Equal(t, 45, cfg.AdmissionTimeoutSeconds) // env wins over YAML's 10
}

func TestLoadMissingYAMLFileIsNotAnError(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	require.Equal(t, config.Default().LogLevel, cfg.LogLevel)
}

func TestValidateRejectsBadRatios(t *testing.T) {
	cfg := config.Default()
	cfg.ContextTargetRatio = cfg.ContextThresholdRatio
	require.Error(t, cfg.Validate())

	cfg = config.Default()
	cfg.ContextThresholdRatio = 0
	require.Error(t, cfg.Validate())
}

func TestParseTokenBudgetsEnv(t *testing.T) {
	clearEnv(t, "LLM_TOKEN_BUDGETS")
	os.Setenv("LLM_TOKEN_BUDGETS", "gpt-4=8000, gpt-4o=16000")
	t.Cleanup(func() { os.Unsetenv("LLM_TOKEN_BUDGETS") })

	cfg, err := config.Load("")
	require.NoError(t, err)
	require.Equal(t, 8000, cfg.LLMTokenBudgets["gpt-4"])
	require.Equal(t, 16000, cfg.LLMTokenBudgets["gpt-4o"])
}
