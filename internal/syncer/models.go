// Package syncer implements the synchronization engine: tracked item
// state, the persisted per-provider configuration document, change
// detection, conflict resolution, and the bounded sync history.
package syncer

import (
	"fmt"
	"time"

	"github.com/dl-alexandre/cloudsync/internal/utils"
)

// SyncStatus is the lifecycle state of one tracked item
type SyncStatus string

const (
	StatusPending    SyncStatus = "PENDING"
	StatusInProgress SyncStatus = "IN_PROGRESS"
	StatusCompleted  SyncStatus = "COMPLETED"
	StatusFailed     SyncStatus = "FAILED"
	StatusConflict   SyncStatus = "CONFLICT"
)

// SyncDirection selects which side drives a transfer
type SyncDirection string

const (
	DirectionUpload        SyncDirection = "UPLOAD"
	DirectionDownload      SyncDirection = "DOWNLOAD"
	DirectionBidirectional SyncDirection = "BIDIRECTIONAL"
)

// ConflictPolicy decides the winner when both sides changed since the
// last successful sync.
type ConflictPolicy string

const (
	PolicyNewerWins  ConflictPolicy = "newer_wins"
	PolicyLocalWins  ConflictPolicy = "local_wins"
	PolicyRemoteWins ConflictPolicy = "remote_wins"
	PolicyManual     ConflictPolicy = "manual"
)

// SyncItem is one tracked binding between a local path and a remote path
// under a provider. FileHash and LastSynced change only on a successful
// transfer; a failed transfer leaves them untouched so the item is
// retried on the next pass.
type SyncItem struct {
	LocalPath  string            `json:"local_path"`
	RemotePath string            `json:"remote_path"`
	Provider   string            `json:"provider"`
	LastSynced *time.Time        `json:"last_synced,omitempty"`
	FileHash   string            `json:"file_hash,omitempty"`
	Size       int64             `json:"size"`
	Status     SyncStatus        `json:"status"`
	Direction  SyncDirection     `json:"direction"`
	Error      string            `json:"error,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Key identifies an item within one provider's config
func (i *SyncItem) Key() string {
	return i.Provider + "|" + i.LocalPath
}

// SyncConfig is one provider's synchronization settings. There is one
// config per provider name; every mutation is re-persisted synchronously.
type SyncConfig struct {
	Provider           string            `json:"provider"`
	Credentials        map[string]string `json:"credentials,omitempty"`
	SyncItems          []SyncItem        `json:"sync_items"`
	AutoSync           bool              `json:"auto_sync"`
	SyncInterval       int               `json:"sync_interval"`
	MaxFileSize        int64             `json:"max_file_size"`
	EncryptionEnabled  bool              `json:"encryption_enabled"`
	CompressionEnabled bool              `json:"compression_enabled"`
	ConflictResolution ConflictPolicy    `json:"conflict_resolution"`
}

// Validate checks structural invariants before a config is accepted
func (c *SyncConfig) Validate() error {
	if c.Provider == "" {
		return utils.NewAppError(utils.ErrCodeConfigInvalid, "provider name is required").Build()
	}
	switch c.ConflictResolution {
	case "", PolicyNewerWins, PolicyLocalWins, PolicyRemoteWins, PolicyManual:
	default:
		return utils.NewAppError(utils.ErrCodeConfigInvalid,
			fmt.Sprintf("unknown conflict policy %q", c.ConflictResolution)).
			WithContext("provider", c.Provider).Build()
	}

	seen := make(map[string]struct{}, len(c.SyncItems))
	for idx := range c.SyncItems {
		item := &c.SyncItems[idx]
		if item.LocalPath == "" {
			return utils.NewAppError(utils.ErrCodeConfigInvalid, "sync item requires a local path").
				WithContext("provider", c.Provider).Build()
		}
		switch item.Direction {
		case DirectionUpload, DirectionDownload, DirectionBidirectional:
		default:
			return utils.NewAppError(utils.ErrCodeConfigInvalid,
				fmt.Sprintf("unknown sync direction %q", item.Direction)).
				WithContext("local_path", item.LocalPath).Build()
		}
		if item.Provider == "" {
			item.Provider = c.Provider
		}
		key := item.Key()
		if _, dup := seen[key]; dup {
			return utils.NewAppError(utils.ErrCodeConfigInvalid,
				fmt.Sprintf("duplicate sync item for %q", item.LocalPath)).
				WithContext("provider", c.Provider).Build()
		}
		seen[key] = struct{}{}
	}
	return nil
}

// normalize fills defaults on an accepted config
func (c *SyncConfig) normalize() {
	if c.ConflictResolution == "" {
		c.ConflictResolution = PolicyNewerWins
	}
	if c.SyncInterval <= 0 {
		c.SyncInterval = 300
	}
	for idx := range c.SyncItems {
		if c.SyncItems[idx].Status == "" {
			c.SyncItems[idx].Status = StatusPending
		}
	}
}
