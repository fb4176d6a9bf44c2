package credstore

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/zalando/go-keyring"
)

// Backend defines raw persistence for credential envelopes
type Backend interface {
	Save(connectorID string, data []byte) error
	Load(connectorID string) ([]byte, error)
	Delete(connectorID string) error
	Name() string
}

// FileBackend stores envelopes as per-connector files with owner-only access
type FileBackend struct {
	baseDir string
}

// NewFileBackend creates a file-based backend rooted at baseDir
func NewFileBackend(baseDir string) *FileBackend {
	return &FileBackend{baseDir: baseDir}
}

func (b *FileBackend) Save(connectorID string, data []byte) error {
	path := b.filePath(connectorID)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

func (b *FileBackend) Load(connectorID string) ([]byte, error) {
	data, err := os.ReadFile(b.filePath(connectorID))
	if err != nil {
		return nil, fmt.Errorf("credentials not found for connector '%s'", connectorID)
	}
	return data, nil
}

func (b *FileBackend) Delete(connectorID string) error {
	err := os.Remove(b.filePath(connectorID))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (b *FileBackend) Name() string {
	return "encrypted-file"
}

func (b *FileBackend) filePath(connectorID string) string {
	return filepath.Join(b.baseDir, "connectors", connectorID+"_credentials.json")
}

// KeyringBackend stores envelopes in the system keyring
type KeyringBackend struct {
	serviceName string
}

// NewKeyringBackend creates a keyring-based backend
func NewKeyringBackend(serviceName string) *KeyringBackend {
	return &KeyringBackend{serviceName: serviceName}
}

func (b *KeyringBackend) Save(connectorID string, data []byte) error {
	return keyring.Set(b.serviceName, connectorID, string(data))
}

func (b *KeyringBackend) Load(connectorID string) ([]byte, error) {
	data, err := keyring.Get(b.serviceName, connectorID)
	if err != nil {
		return nil, err
	}
	return []byte(data), nil
}

func (b *KeyringBackend) Delete(connectorID string) error {
	err := keyring.Delete(b.serviceName, connectorID)
	if err == keyring.ErrNotFound {
		return nil
	}
	return err
}

func (b *KeyringBackend) Name() string {
	return "system-keyring"
}

// KeyringAvailable tests whether the system keyring can be used
func KeyringAvailable(serviceName string) bool {
	const probe = "cloudsync-keyring-probe"
	if err := keyring.Set(serviceName, probe, "probe"); err != nil {
		return false
	}
	_ = keyring.Delete(serviceName, probe)
	return true
}
