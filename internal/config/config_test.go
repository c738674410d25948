package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Equal(t, defaultPort, cfg.Port)
	assert.Equal(t, "goja", cfg.Engine.Backend)
	assert.Equal(t, 128, cfg.Engine.MemoryLimitMB)
	assert.Equal(t, 30, cfg.Engine.CallTimeoutSeconds)
	assert.NotEmpty(t, cfg.DBPath)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"port": 9000,
		"engine": { "backend": "wazero", "wasm_interpreter_path": "/opt/js.wasm" }
	}`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "wazero", cfg.Engine.Backend)
	assert.Equal(t, "/opt/js.wasm", cfg.Engine.WASMInterpreterPath)
	// Unset numbers still fall back.
	assert.Equal(t, 128, cfg.Engine.MemoryLimitMB)
}

func TestLoad_MalformedFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"port": 9000}`), 0644))

	t.Setenv("WERKZEUG_PORT", "9100")
	t.Setenv("WERKZEUG_ENGINE", "wazero")
	t.Setenv("WERKZEUG_WATCH_DIR", "/tmp/scripts")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, "wazero", cfg.Engine.Backend)
	assert.True(t, cfg.Watch.Enabled)
	assert.Equal(t, "/tmp/scripts", cfg.Watch.Dir)
}

func TestLoad_DataDirEnvMovesDBAndLog(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("WERKZEUG_DATA_DIR", dir)

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "werkzeug.db"), cfg.DBPath)
	assert.Equal(t, filepath.Join(dir, "werkzeug.log"), cfg.LogPath)
}

func TestSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.json")

	cfg := Default()
	cfg.Port = 9222
	cfg.Engine.MemoryLimitMB = 64
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9222, loaded.Port)
	assert.Equal(t, 64, loaded.Engine.MemoryLimitMB)
}
