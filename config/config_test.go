package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bazelment/cursorbridge/storage"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, "cursor-agent", cfg.CLIPath)
	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	assert.Equal(t, time.Second, cfg.Retry.BaseDelay)
	assert.Equal(t, 30*time.Second, cfg.Retry.MaxDelay)
	assert.Equal(t, 30, cfg.Sessions.RetentionDays)
	assert.Equal(t, storage.KindFile, cfg.Sessions.Store)
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, "config.yaml", `
cli_path: /opt/cursor-agent
model: gpt-5
extra_args: ["--force"]
retry:
  max_retries: 5
  base_delay: 500ms
sessions:
  store: sqlite
  dir: /var/lib/cursorbridge
turn:
  kill_grace: 2s
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/opt/cursor-agent", cfg.CLIPath)
	assert.Equal(t, "gpt-5", cfg.Model)
	assert.Equal(t, []string{"--force"}, cfg.ExtraArgs)
	assert.Equal(t, 5, cfg.Retry.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.Retry.BaseDelay)
	// Unset keys keep their defaults.
	assert.Equal(t, 30*time.Second, cfg.Retry.MaxDelay)
	assert.Equal(t, storage.KindSQLite, cfg.Sessions.Store)
	assert.Equal(t, 30, cfg.Sessions.RetentionDays)
	assert.Equal(t, 2*time.Second, cfg.Turn.KillGrace)
	assert.Equal(t, 200*time.Millisecond, cfg.Turn.CloseGrace)

	p := cfg.RetryPolicy()
	assert.Equal(t, 5, p.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, p.BaseDelay)
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeFile(t, "config.yaml", "model: from-file\n")
	t.Setenv(EnvModel, "from-env")
	t.Setenv(EnvCLIPath, "/bin/agent")
	t.Setenv(EnvStore, "memory")
	t.Setenv(EnvStoreDir, "/tmp/s")
	t.Setenv(EnvRetentionDays, "7")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Model)
	assert.Equal(t, "/bin/agent", cfg.CLIPath)
	assert.Equal(t, storage.KindMemory, cfg.Sessions.Store)
	assert.Equal(t, "/tmp/s", cfg.Sessions.Dir)
	assert.Equal(t, 7, cfg.Sessions.RetentionDays)
}

func TestLoadRejectsBadRetention(t *testing.T) {
	t.Setenv(EnvRetentionDays, "soon")
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, EnvRetentionDays)
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"bad yaml", "retry: [", "parsing"},
		{"bad duration", "retry:\n  base_delay: soon\n", "parsing"},
		{"unknown store", "sessions:\n  store: redis\n", "unknown backend"},
		{"negative retries", "retry:\n  max_retries: -1\n", "max_retries"},
		{"zero retention", "sessions:\n  retention_days: 0\n", "retention_days"},
		{"empty cli path", "cli_path: \"\"\n", "cli_path"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, "config.yaml", tt.content))
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	const key = "CURSORBRIDGE_TEST_DOTENV"
	const kept = "CURSORBRIDGE_TEST_DOTENV_KEPT"
	t.Setenv(kept, "original")
	t.Cleanup(func() { os.Unsetenv(key) })

	path := writeFile(t, ".env", key+"=loaded\n"+kept+"=replaced\n")
	require.NoError(t, LoadDotEnv(path, filepath.Join(t.TempDir(), "missing.env")))

	assert.Equal(t, "loaded", os.Getenv(key))
	assert.Equal(t, "original", os.Getenv(kept))
}

func TestMarshalRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Model = "gpt-5"
	data, err := cfg.Marshal()
	require.NoError(t, err)

	path := writeFile(t, "config.yaml", string(data))
	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestSchema(t *testing.T) {
	data, err := Schema()
	require.NoError(t, err)

	var s map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &s))
	props := s["properties"].(map[string]interface{})
	for _, key := range []string{"cli_path", "model", "retry", "sessions", "turn"} {
		assert.Contains(t, props, key)
	}

	retryProps := props["retry"].(map[string]interface{})["properties"].(map[string]interface{})
	assert.Equal(t, "string", retryProps["base_delay"].(map[string]interface{})["type"])
}
