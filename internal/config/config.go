package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// EngineConfig selects and tunes the script engine backend.
type EngineConfig struct {
	// Backend is "goja" (pure-Go JS engine) or "wazero" (WASM interpreter).
	Backend string `json:"backend"`
	// WASMInterpreterPath points at a JS interpreter compiled to WASI.
	// Required when Backend is "wazero".
	WASMInterpreterPath string `json:"wasm_interpreter_path,omitempty"`
	MemoryLimitMB       int    `json:"memory_limit_mb"`
	LoadTimeoutSeconds  int    `json:"load_timeout_seconds"`
	CallTimeoutSeconds  int    `json:"call_timeout_seconds"`
}

// WatchConfig controls hot-reloading of provider source files from disk.
type WatchConfig struct {
	Enabled bool   `json:"enabled"`
	Dir     string `json:"dir,omitempty"`
}

// Config represents application configuration
type Config struct {
	Port     int          `json:"port"`
	DataDir  string       `json:"data_dir"`
	DBPath   string       `json:"-"`
	LogLevel string       `json:"log_level"` // debug, info, warn, error, none
	LogPath  string       `json:"-"`
	Engine   EngineConfig `json:"engine"`
	Watch    WatchConfig  `json:"watch"`
}

const defaultPort = 8941

func defaultConfigDir() string {
	switch runtime.GOOS {
	case "windows":
		if appData := strings.TrimSpace(os.Getenv("APPDATA")); appData != "" {
			return filepath.Join(appData, "werkzeug")
		}
	case "darwin":
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "Library", "Application Support", "werkzeug")
	}
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".config", "werkzeug")
}

// DefaultConfigPath returns the platform-specific config file location.
func DefaultConfigPath() string {
	return filepath.Join(defaultConfigDir(), "config.json")
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	dir := defaultConfigDir()
	return &Config{
		Port:     defaultPort,
		DataDir:  dir,
		DBPath:   filepath.Join(dir, "werkzeug.db"),
		LogLevel: "info",
		LogPath:  filepath.Join(dir, "werkzeug.log"),
		Engine: EngineConfig{
			Backend:            "goja",
			MemoryLimitMB:      128,
			LoadTimeoutSeconds: 30,
			CallTimeoutSeconds: 30,
		},
	}
}

// Load reads a config file, falling back to defaults for a missing file.
// Environment variables override file values.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = DefaultConfigPath()
	}
	data, err := os.ReadFile(path)
	if err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if cfg.DataDir == "" {
		cfg.DataDir = defaultConfigDir()
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.DataDir, "werkzeug.db")
	}
	if cfg.LogPath == "" {
		cfg.LogPath = filepath.Join(cfg.DataDir, "werkzeug.log")
	}
	if cfg.Engine.Backend == "" {
		cfg.Engine.Backend = "goja"
	}
	if cfg.Engine.MemoryLimitMB <= 0 {
		cfg.Engine.MemoryLimitMB = 128
	}
	if cfg.Engine.LoadTimeoutSeconds <= 0 {
		cfg.Engine.LoadTimeoutSeconds = 30
	}
	if cfg.Engine.CallTimeoutSeconds <= 0 {
		cfg.Engine.CallTimeoutSeconds = 30
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("WERKZEUG_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil && port > 0 {
			cfg.Port = port
		}
	}
	if v := os.Getenv("WERKZEUG_DATA_DIR"); v != "" {
		cfg.DataDir = v
		cfg.DBPath = filepath.Join(v, "werkzeug.db")
		cfg.LogPath = filepath.Join(v, "werkzeug.log")
	}
	if v := os.Getenv("WERKZEUG_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("WERKZEUG_ENGINE"); v != "" {
		cfg.Engine.Backend = v
	}
	if v := os.Getenv("WERKZEUG_WASM_INTERPRETER"); v != "" {
		cfg.Engine.WASMInterpreterPath = v
	}
	if v := os.Getenv("WERKZEUG_WATCH_DIR"); v != "" {
		cfg.Watch.Enabled = true
		cfg.Watch.Dir = v
	}
}

// Save writes the configuration to path as indented JSON.
func (c *Config) Save(path string) error {
	if path == "" {
		path = DefaultConfigPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
