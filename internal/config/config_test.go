package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dl-alexandre/cloudsync/internal/types"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.DefaultOutputFormat != types.OutputFormatJSON {
		t.Errorf("DefaultOutputFormat = %q, want json", cfg.DefaultOutputFormat)
	}
	if cfg.HistoryLimit != 100 {
		t.Errorf("HistoryLimit = %d, want 100", cfg.HistoryLimit)
	}
	if cfg.SchedulerTick != 60 {
		t.Errorf("SchedulerTick = %d, want 60", cfg.SchedulerTick)
	}
	if cfg.DataDir == "" {
		t.Error("DataDir must have a default")
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ConfigFileName)
	content := `{
  "dataDir": "` + dir + `",
  "defaultOutputFormat": "table",
  "historyLimit": 25,
  "schedulerTick": 15,
  "useKeyring": true
}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom() error: %v", err)
	}
	if cfg.DefaultOutputFormat != types.OutputFormatTable {
		t.Errorf("DefaultOutputFormat = %q, want table", cfg.DefaultOutputFormat)
	}
	if cfg.HistoryLimit != 25 || cfg.SchedulerTick != 15 {
		t.Errorf("limits = %d/%d, want 25/15", cfg.HistoryLimit, cfg.SchedulerTick)
	}
	if !cfg.UseKeyring {
		t.Error("UseKeyring = false, want true")
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("LoadFrom() error: %v", err)
	}
	if cfg.HistoryLimit != 100 {
		t.Errorf("HistoryLimit = %d, want default 100", cfg.HistoryLimit)
	}
}

func TestLoadInvalidFormatRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ConfigFileName)
	if err := os.WriteFile(path, []byte(`{"defaultOutputFormat": "yaml"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFrom(path); err == nil {
		t.Error("expected invalid output format to be rejected")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvPrefix+"OUTPUT_FORMAT", "table")
	t.Setenv(EnvPrefix+"HISTORY_LIMIT", "7")
	t.Setenv(EnvPrefix+"USE_KEYRING", "true")

	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DefaultOutputFormat != types.OutputFormatTable {
		t.Errorf("DefaultOutputFormat = %q, want table", cfg.DefaultOutputFormat)
	}
	if cfg.HistoryLimit != 7 {
		t.Errorf("HistoryLimit = %d, want 7", cfg.HistoryLimit)
	}
	if !cfg.UseKeyring {
		t.Error("UseKeyring = false, want true")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.DataDir = dir
	cfg.HistoryLimit = 42
	if err := cfg.Save(); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	loaded, err := LoadFrom(filepath.Join(dir, ConfigFileName))
	if err != nil {
		t.Fatal(err)
	}
	if loaded.HistoryLimit != 42 {
		t.Errorf("HistoryLimit = %d, want 42", loaded.HistoryLimit)
	}
}

func TestRootSecretFromEnv(t *testing.T) {
	t.Setenv(EnvPrefix+"ROOT_SECRET", "injected-secret")
	cfg := DefaultConfig()
	if got := cfg.RootSecret(); got != "injected-secret" {
		t.Errorf("RootSecret() = %q, want injected-secret", got)
	}
}

func TestPaths(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = "/tmp/cs"
	if got := cfg.SyncConfigPath(); got != "/tmp/cs/sync_configs.json" {
		t.Errorf("SyncConfigPath() = %q", got)
	}
	if got := cfg.HistoryPath(); got != "/tmp/cs/history.db" {
		t.Errorf("HistoryPath() = %q", got)
	}
}
