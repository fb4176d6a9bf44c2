package syncer

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// loadConfigs reads the persisted config document. A missing file is an
// empty config set, not an error.
func loadConfigs(path string) (map[string]*SyncConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return make(map[string]*SyncConfig), nil
		}
		return nil, err
	}

	configs := make(map[string]*SyncConfig)
	if len(data) == 0 {
		return configs, nil
	}
	if err := json.Unmarshal(data, &configs); err != nil {
		return nil, err
	}
	for name, cfg := range configs {
		if cfg.Provider == "" {
			cfg.Provider = name
		}
		cfg.normalize()
	}
	return configs, nil
}

// saveConfigs overwrites the full config document in one write. The
// document stays human-readable.
func saveConfigs(path string, configs map[string]*SyncConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(configs, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
