// Package config loads application settings with the precedence
// CLI flags > environment variables > config file > defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dl-alexandre/cloudsync/internal/types"
)

const (
	// ConfigFileName is the name of the config file
	ConfigFileName = "config.json"
	// ConfigDirName is the directory where state is stored
	ConfigDirName = ".cloudsync"
	// EnvPrefix is the prefix for environment variables
	EnvPrefix = "CLOUDSYNC_"
)

// Config holds application configuration
type Config struct {
	// DataDir is where configs, credentials, and history live
	DataDir string `json:"dataDir"`

	// DefaultOutputFormat is the default output format (json, table)
	DefaultOutputFormat types.OutputFormat `json:"defaultOutputFormat"`

	// HistoryLimit bounds the stored sync history
	HistoryLimit int `json:"historyLimit"`

	// SchedulerTick is the background loop wait in seconds
	SchedulerTick int `json:"schedulerTick"`

	// UseKeyring prefers the system keyring for credential envelopes
	UseKeyring bool `json:"useKeyring"`

	// LogLevel sets the logging verbosity (quiet, normal, verbose, debug)
	LogLevel string `json:"logLevel"`

	// ColorOutput enables color output for table format
	ColorOutput bool `json:"colorOutput"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		DataDir:             defaultDataDir(),
		DefaultOutputFormat: types.OutputFormatJSON,
		HistoryLimit:        100,
		SchedulerTick:       60,
		UseKeyring:          false,
		LogLevel:            "normal",
		ColorOutput:         true,
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ConfigDirName
	}
	return filepath.Join(home, ConfigDirName)
}

// Load loads configuration from the default location
func Load() (*Config, error) {
	return LoadFrom("")
}

// LoadFrom loads configuration, optionally from an explicit file path
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = filepath.Join(cfg.DataDir, ConfigFileName)
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("invalid config file %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	applyEnv(cfg)

	if cfg.DefaultOutputFormat != types.OutputFormatJSON && cfg.DefaultOutputFormat != types.OutputFormatTable {
		return nil, fmt.Errorf("invalid output format %q", cfg.DefaultOutputFormat)
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 100
	}
	if cfg.SchedulerTick <= 0 {
		cfg.SchedulerTick = 60
	}
	return cfg, nil
}

// Save writes the configuration to its file in DataDir
func (c *Config) Save() error {
	if err := os.MkdirAll(c.DataDir, 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(c.DataDir, ConfigFileName), data, 0o600)
}

// SyncConfigPath is the persisted sync config document location
func (c *Config) SyncConfigPath() string {
	return filepath.Join(c.DataDir, "sync_configs.json")
}

// HistoryPath is the sync history database location
func (c *Config) HistoryPath() string {
	return filepath.Join(c.DataDir, "history.db")
}

// RootSecret returns the credential-encryption root secret. It is
// injected through the environment, never stored in the config file.
func (c *Config) RootSecret() string {
	if secret := os.Getenv(EnvPrefix + "ROOT_SECRET"); secret != "" {
		return secret
	}
	// A host-stable fallback keeps first-run usable; operators should
	// set the environment variable.
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	return "cloudsync-" + host
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvPrefix + "DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv(EnvPrefix + "OUTPUT_FORMAT"); v != "" {
		cfg.DefaultOutputFormat = types.OutputFormat(strings.ToLower(v))
	}
	if v := os.Getenv(EnvPrefix + "HISTORY_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.HistoryLimit = n
		}
	}
	if v := os.Getenv(EnvPrefix + "SCHEDULER_TICK"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SchedulerTick = n
		}
	}
	if v := os.Getenv(EnvPrefix + "USE_KEYRING"); v != "" {
		cfg.UseKeyring = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv(EnvPrefix + "LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
}
