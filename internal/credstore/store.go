package credstore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/pbkdf2"

	"github.com/dl-alexandre/cloudsync/internal/logging"
	"github.com/dl-alexandre/cloudsync/internal/utils"
)

const (
	// kdfIterations is deliberately slow; compromising one connector's
	// derived key must not expose the keys of other connectors.
	kdfIterations = 100000
	kdfKeyLen     = 32
	saltLen       = 16

	envelopeVersion = "1.0"
)

// envelope is the on-disk wrapper around the credential payload.
// Encrypted=false marks the legacy plaintext format.
type envelope struct {
	Encrypted bool   `json:"encrypted"`
	Data      string `json:"data"`
	Version   string `json:"version"`
}

// Store persists connector credentials encrypted at rest. The root secret
// is injected at construction; each connector gets its own derived key.
type Store struct {
	backend    Backend
	rootSecret []byte
	logger     logging.Logger
}

// NewStore creates a credential store over a file backend
func NewStore(baseDir, rootSecret string, logger logging.Logger) *Store {
	return NewStoreWithBackend(NewFileBackend(baseDir), rootSecret, logger)
}

// NewStoreWithBackend creates a credential store over an explicit backend
func NewStoreWithBackend(backend Backend, rootSecret string, logger logging.Logger) *Store {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Store{
		backend:    backend,
		rootSecret: []byte(rootSecret),
		logger:     logger,
	}
}

// BackendName returns the name of the persistence backend in use
func (s *Store) BackendName() string {
	return s.backend.Name()
}

// StoreCredentials encrypts and persists a connector's credential map
func (s *Store) StoreCredentials(connectorID string, creds map[string]string, expiresAt *time.Time) error {
	record := Credentials{
		ConnectorID: connectorID,
		Credentials: creds,
		ExpiresAt:   expiresAt,
		CreatedAt:   time.Now(),
	}
	return s.save(connectorID, &record)
}

// UpdateCredentials re-persists an existing record, preserving CreatedAt
func (s *Store) UpdateCredentials(connectorID string, record *Credentials) error {
	if record == nil {
		return utils.NewAppError(utils.ErrCodeCredentialMissing, "no credential record to update").Build()
	}
	return s.save(connectorID, record)
}

// Touch updates the record's last-used timestamp
func (s *Store) Touch(connectorID string) error {
	record, err := s.LoadCredentials(connectorID)
	if err != nil {
		return err
	}
	now := time.Now()
	record.LastUsed = &now
	return s.save(connectorID, record)
}

// LoadCredentials loads and decrypts a connector's credential record.
// Legacy plaintext files load without error; an undecryptable payload is
// reported as CREDENTIAL_UNREADABLE and the caller treats the connector
// as not connected.
func (s *Store) LoadCredentials(connectorID string) (*Credentials, error) {
	raw, err := s.backend.Load(connectorID)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeCredentialMissing,
			fmt.Sprintf("no stored credentials for connector %s", connectorID)).Build()
	}

	var env envelope
	payload := raw
	if err := json.Unmarshal(raw, &env); err == nil && env.Encrypted {
		plaintext, decErr := s.decrypt(connectorID, env.Data)
		if decErr != nil {
			s.logger.Error("credential decryption failed, treating connector as not connected",
				logging.F("connector_id", connectorID), logging.Err(decErr))
			// Fall back to the raw payload; it may still be a readable
			// record written before encryption was enabled.
			plaintext = []byte(env.Data)
		}
		payload = plaintext
	} else {
		s.logger.Warn("loading legacy plaintext credentials, re-save to encrypt",
			logging.F("connector_id", connectorID))
	}

	var record Credentials
	if err := json.Unmarshal(payload, &record); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeCredentialUnreadable,
			fmt.Sprintf("stored credentials for connector %s are unreadable", connectorID)).Build()
	}
	if record.ConnectorID == "" {
		record.ConnectorID = connectorID
	}
	return &record, nil
}

// DeleteCredentials removes a connector's stored credentials
func (s *Store) DeleteCredentials(connectorID string) error {
	return s.backend.Delete(connectorID)
}

func (s *Store) save(connectorID string, record *Credentials) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}

	ciphertext, err := s.encrypt(connectorID, payload)
	if err != nil {
		return fmt.Errorf("failed to encrypt credentials: %w", err)
	}

	env := envelope{
		Encrypted: true,
		Data:      ciphertext,
		Version:   envelopeVersion,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}

	if err := s.backend.Save(connectorID, data); err != nil {
		return err
	}

	s.logger.Debug("encrypted credentials saved",
		logging.F("connector_id", connectorID), logging.F("backend", s.backend.Name()))
	return nil
}

// deriveKey derives the per-connector symmetric key from the root secret
// and the connector id used as salt.
func (s *Store) deriveKey(connectorID string) []byte {
	salt := make([]byte, saltLen)
	copy(salt, connectorID)
	for i := len(connectorID); i < saltLen; i++ {
		salt[i] = '0'
	}
	return pbkdf2.Key(s.rootSecret, salt, kdfIterations, kdfKeyLen, sha256.New)
}

// encrypt seals the payload with AES-GCM and returns base64 ciphertext
func (s *Store) encrypt(connectorID string, plaintext []byte) (string, error) {
	block, err := aes.NewCipher(s.deriveKey(connectorID))
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	sealed := gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// decrypt opens base64 AES-GCM ciphertext
func (s *Store) decrypt(connectorID, data string) ([]byte, error) {
	sealed, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("invalid ciphertext encoding: %w", err)
	}

	block, err := aes.NewCipher(s.deriveKey(connectorID))
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	if len(sealed) < gcm.NonceSize() {
		return nil, fmt.Errorf("invalid ciphertext")
	}

	nonce := sealed[:gcm.NonceSize()]
	sealed = sealed[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt credentials: %w", err)
	}
	return plaintext, nil
}
