package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSettings() RuntimeSettings {
	return RuntimeSettings{
		LLMModel:       "gpt-4o-mini",
		TargetLanguage: "es",
		BatchSize:      50,
		Parallel:       3,
		PruneCronExpr:  "*/5 * * * *",
	}
}

func TestRuntimeSettings_Validate(t *testing.T) {
	valid := validSettings()
	require.NoError(t, valid.Validate())

	every := valid
	every.PruneCronExpr = "@every 10m"
	require.NoError(t, every.Validate())

	invalid := valid
	invalid.PruneCronExpr = "bad cron"
	require.Error(t, invalid.Validate())

	invalidLang := valid
	invalidLang.TargetLanguage = ""
	require.Error(t, invalidLang.Validate())

	invalidBatch := valid
	invalidBatch.BatchSize = 0
	require.Error(t, invalidBatch.Validate())
}

func TestRuntimeSettingsFile_RoundTrip(t *testing.T) {
	tmp := t.TempDir()
	filePath := filepath.Join(tmp, "settings", "runtime.json")
	input := validSettings()

	require.NoError(t, WriteRuntimeSettingsFile(filePath, input))

	got, err := LoadRuntimeSettingsFile(filePath)
	require.NoError(t, err)
	assert.Equal(t, input, got)

	info, err := os.Stat(filePath)
	require.NoError(t, err)
	assert.False(t, info.IsDir())
}

func TestWithRuntimeSettings_OverridesConfig(t *testing.T) {
	t.Setenv("LLM_API_KEY", "env-key")
	t.Setenv("LLM_MODEL", "env-model")
	t.Setenv("BATCH_SIZE", "10")

	override := RuntimeSettings{
		LLMModel:       "file-model",
		TargetLanguage: "ja",
		BatchSize:      25,
		Parallel:       5,
		PruneCronExpr:  "*/30 * * * *",
	}

	cfg, err := NewFromEnv(WithRuntimeSettings(override))
	require.NoError(t, err)
	assert.Equal(t, "file-model", cfg.LLM.Model)
	assert.Equal(t, "ja", cfg.Translate.TargetLanguage.String())
	assert.Equal(t, 25, cfg.Translate.BatchSize)
	assert.Equal(t, 5, cfg.Translate.Parallel)
	assert.Equal(t, "*/30 * * * *", cfg.Jobs.PruneCronExpr)
	assert.Equal(t, override, cfg.RuntimeSettings())
}

func TestRuntimeSettingsStore_UpdatePersistsFile(t *testing.T) {
	tmp := t.TempDir()
	filePath := filepath.Join(tmp, "runtime-settings.json")

	store, err := NewRuntimeSettingsStore(filePath, validSettings())
	require.NoError(t, err)

	next := validSettings()
	next.LLMModel = "gpt-4o"
	next.TargetLanguage = "de"
	got, err := store.UpdateRuntimeSettings(next)
	require.NoError(t, err)
	assert.Equal(t, next, got)

	loaded, err := LoadRuntimeSettingsFile(filePath)
	require.NoError(t, err)
	assert.Equal(t, next, loaded)

	bad := next
	bad.Parallel = -1
	_, err = store.UpdateRuntimeSettings(bad)
	require.Error(t, err)
	current, _ := store.GetRuntimeSettings()
	assert.Equal(t, next, current)
}
