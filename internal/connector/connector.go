// Package connector defines the contract every storage provider adapter
// implements, plus the concrete provider implementations registered in
// the static provider table.
package connector

import (
	"context"
	"fmt"
	"time"
)

// Status of a connector connection. NOT_CONNECTED, EXPIRED and CONNECTED
// are derived from stored credentials; SYNCING and ERROR are transient
// values a caller may overlay during an active pass.
type Status string

const (
	StatusNotConnected Status = "not_connected"
	StatusConnected    Status = "connected"
	StatusSyncing      Status = "syncing"
	StatusError        Status = "error"
	StatusExpired      Status = "expired"
)

// Error is the error type raised by connector operations. The message is
// safe to log; secrets never go into it.
type Error struct {
	Connector string
	Message   string
	Cause     error
}

func (e *Error) Error() string {
	if e.Connector == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Connector, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a connector error
func NewError(connector, message string) *Error {
	return &Error{Connector: connector, Message: message}
}

// WrapError creates a connector error wrapping a cause
func WrapError(connector, message string, cause error) *Error {
	return &Error{Connector: connector, Message: message, Cause: cause}
}

// SyncResult describes one provider sync pass. Immutable once produced;
// the orchestrator appends it to the bounded history.
type SyncResult struct {
	Success         bool      `json:"success"`
	Provider        string    `json:"provider,omitempty"`
	ItemsProcessed  int       `json:"items_processed"`
	ItemsAdded      int       `json:"items_added"`
	ItemsUpdated    int       `json:"items_updated"`
	ItemsSucceeded  int       `json:"items_succeeded"`
	ItemsFailed     int       `json:"items_failed"`
	Errors          []string  `json:"errors,omitempty"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	DurationSeconds float64   `json:"duration_seconds"`
	SyncTimestamp   time.Time `json:"sync_timestamp"`
	CollectionName  string    `json:"collection_name,omitempty"`
}

// Finish computes the derived result fields. Success means strictly fewer
// failures than items processed; an empty pass with no failures succeeds.
func (r *SyncResult) Finish(start time.Time) {
	r.DurationSeconds = time.Since(start).Seconds()
	r.SyncTimestamp = time.Now()
	if r.ErrorMessage == "" {
		r.Success = r.ItemsFailed < r.ItemsProcessed || (r.ItemsProcessed == 0 && r.ItemsFailed == 0)
	}
}

// RemoteInfo describes a remote file for conflict checks
type RemoteInfo struct {
	Path    string
	Size    int64
	ModTime time.Time
	Exists  bool
}

// Connector is the capability set every provider variant implements
type Connector interface {
	ID() string
	DisplayName() string
	Description() string
	RequiredCredentials() []string
	DefaultCollectionName() string

	// Connect validates the credential fields, performs one lightweight
	// remote call to verify them, and persists them on success.
	Connect(ctx context.Context, creds map[string]string) error

	// TestConnection is an idempotent, side-effect-free verification.
	// On an unauthorized response it attempts exactly one token refresh
	// before retrying once.
	TestConnection(ctx context.Context) bool

	// Sync enumerates the provider's reachable items and forwards content
	// to the ingestion sink. A single item's failure never stops
	// enumeration.
	Sync(ctx context.Context) SyncResult

	// Status derives the connection state from stored credentials.
	Status() Status

	Close() error
}

// FileTransfer is the set of per-item transfer primitives the sync
// orchestrator drives. Providers that are not file stores (Notion) do
// not implement it.
type FileTransfer interface {
	Upload(ctx context.Context, localPath, remotePath string) error
	// Download fetches the remote file into a temporary file and returns
	// its path. The caller owns cleanup.
	Download(ctx context.Context, remotePath string) (string, error)
	Stat(ctx context.Context, remotePath string) (*RemoteInfo, error)
}

// textFileExtensions lists the file types connectors forward to the
// ingestion sink during enumeration.
var textFileExtensions = []string{".md", ".txt", ".markdown", ".rst"}

// validateRequired checks that every required credential field is present
// and non-empty.
func validateRequired(connectorID string, creds map[string]string, required []string) error {
	for _, field := range required {
		if creds[field] == "" {
			return NewError(connectorID, fmt.Sprintf("missing required credential field %q", field))
		}
	}
	return nil
}
