package syncer

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dl-alexandre/cloudsync/internal/connector"
	"github.com/dl-alexandre/cloudsync/internal/logging"
	"github.com/dl-alexandre/cloudsync/internal/transform"
	"github.com/dl-alexandre/cloudsync/internal/utils"
)

// Orchestrator owns the config set, the provider registry, and the sync
// history. All public operations funnel through one process-wide mutex:
// at most one sync pass (across all providers) is in flight at a time,
// and the persisted config document never sees interleaved writes.
type Orchestrator struct {
	mu         sync.Mutex
	configPath string
	configs    map[string]*SyncConfig
	registry   *connector.Registry
	history    *HistoryStore
	rootSecret string
	lastPass   map[string]time.Time
	logger     logging.Logger
}

// Options configures an Orchestrator. The root secret is injected here;
// the engine never reads ambient process state for key material.
type Options struct {
	ConfigPath   string
	HistoryPath  string
	HistoryLimit int
	Registry     *connector.Registry
	RootSecret   string
	Logger       logging.Logger
}

// New creates an orchestrator, loading any persisted configs
func New(opts Options) (*Orchestrator, error) {
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}
	if opts.Registry == nil {
		return nil, utils.NewAppError(utils.ErrCodeConfigInvalid, "a provider registry is required").Build()
	}

	configs, err := loadConfigs(opts.ConfigPath)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeConfigInvalid,
			fmt.Sprintf("failed to load sync configs: %v", err)).Build()
	}
	history, err := OpenHistory(opts.HistoryPath, opts.HistoryLimit)
	if err != nil {
		return nil, err
	}

	return &Orchestrator{
		configPath: opts.ConfigPath,
		configs:    configs,
		registry:   opts.Registry,
		history:    history,
		rootSecret: opts.RootSecret,
		lastPass:   make(map[string]time.Time),
		logger:     opts.Logger,
	}, nil
}

// Close releases the history database. Provider connections are owned by
// the registry and closed separately during shutdown.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.history.Close()
}

// Registry exposes the provider registry for lifecycle management
func (o *Orchestrator) Registry() *connector.Registry {
	return o.registry
}

// AddSyncConfig validates, stores, and persists one provider's config,
// then lazily instantiates its connector. When credentials are supplied
// the connector is connected immediately.
func (o *Orchestrator) AddSyncConfig(ctx context.Context, cfg *SyncConfig) error {
	if cfg == nil {
		return utils.NewAppError(utils.ErrCodeConfigInvalid, "nil sync config").Build()
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if !o.registry.Known(cfg.Provider) {
		return utils.NewAppError(utils.ErrCodeProviderUnknown,
			fmt.Sprintf("unknown provider %q", cfg.Provider)).Build()
	}
	cfg.normalize()

	o.mu.Lock()
	defer o.mu.Unlock()

	o.configs[cfg.Provider] = cfg
	if err := saveConfigs(o.configPath, o.configs); err != nil {
		delete(o.configs, cfg.Provider)
		return utils.NewAppError(utils.ErrCodeConfigInvalid,
			fmt.Sprintf("failed to persist sync configs: %v", err)).Build()
	}

	conn, err := o.registry.Get(cfg.Provider)
	if err != nil {
		return err
	}
	if len(cfg.Credentials) > 0 {
		if err := conn.Connect(ctx, cfg.Credentials); err != nil {
			o.logger.Warn("provider connect failed; config kept for retry",
				logging.F("provider", cfg.Provider), logging.Err(err))
			return err
		}
		// Credentials now live in the encrypted store; keep them out of
		// the plaintext config document.
		cfg.Credentials = nil
		if err := saveConfigs(o.configPath, o.configs); err != nil {
			return err
		}
	}
	return nil
}

// RemoveSyncConfig deletes a provider's config and drops its connector
func (o *Orchestrator) RemoveSyncConfig(provider string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, ok := o.configs[provider]; !ok {
		return utils.NewAppError(utils.ErrCodeProviderUnknown,
			fmt.Sprintf("no sync config for provider %q", provider)).Build()
	}
	delete(o.configs, provider)
	if err := saveConfigs(o.configPath, o.configs); err != nil {
		return err
	}
	o.registry.Drop(provider)
	return nil
}

// GetConfig returns a copy of one provider's config
func (o *Orchestrator) GetConfig(provider string) (SyncConfig, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	cfg, ok := o.configs[provider]
	if !ok {
		return SyncConfig{}, false
	}
	copied := *cfg
	copied.SyncItems = append([]SyncItem(nil), cfg.SyncItems...)
	return copied, true
}

// ConfiguredProviders returns the sorted provider names with a config
func (o *Orchestrator) ConfiguredProviders() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.providerNamesLocked()
}

func (o *Orchestrator) providerNamesLocked() []string {
	names := make([]string, 0, len(o.configs))
	for name := range o.configs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SyncNow runs a sync pass for one provider, or for every configured
// provider sequentially when provider is empty. The whole call holds the
// global sync lock. Errors never escape; each provider's outcome is its
// SyncResult.
func (o *Orchestrator) SyncNow(ctx context.Context, provider string, items []string) map[string]connector.SyncResult {
	o.mu.Lock()
	defer o.mu.Unlock()

	passID := uuid.NewString()
	results := make(map[string]connector.SyncResult)

	var providers []string
	if provider != "" {
		if _, ok := o.configs[provider]; !ok {
			result := connector.SyncResult{
				Provider:     provider,
				ErrorMessage: fmt.Sprintf("no sync config for provider %q", provider),
			}
			result.Finish(time.Now())
			results[provider] = result
			return results
		}
		providers = []string{provider}
	} else {
		providers = o.providerNamesLocked()
	}

	for _, name := range providers {
		o.logger.Info("starting sync pass",
			logging.F("pass_id", passID), logging.F("provider", name))
		result := o.syncProvider(ctx, o.configs[name], items)
		o.lastPass[name] = time.Now()
		results[name] = result
		if err := o.history.Append(ctx, result); err != nil {
			o.logger.Error("failed to record sync history",
				logging.F("provider", name), logging.Err(err))
		}
		o.logger.Info("sync pass finished",
			logging.F("pass_id", passID), logging.F("provider", name),
			logging.F("processed", result.ItemsProcessed),
			logging.F("failed", result.ItemsFailed),
			logging.F("success", result.Success))
	}

	if err := saveConfigs(o.configPath, o.configs); err != nil {
		o.logger.Error("failed to persist item state after pass", logging.Err(err))
	}
	return results
}

// syncProvider runs one provider's pass. A panic anywhere in the pass is
// converted into a failed result so nothing crosses the public boundary.
func (o *Orchestrator) syncProvider(ctx context.Context, cfg *SyncConfig, only []string) (result connector.SyncResult) {
	start := time.Now()
	result = connector.SyncResult{Provider: cfg.Provider}
	defer func() {
		if r := recover(); r != nil {
			result.ErrorMessage = fmt.Sprintf("sync pass panicked: %v", r)
			o.logger.Error("sync pass panicked",
				logging.F("provider", cfg.Provider), logging.F("panic", fmt.Sprint(r)))
		}
		result.Finish(start)
	}()

	conn, err := o.registry.Get(cfg.Provider)
	if err != nil {
		result.ErrorMessage = err.Error()
		return result
	}
	if conn.Status() == connector.StatusNotConnected {
		result.ErrorMessage = fmt.Sprintf("provider %q is not connected", cfg.Provider)
		return result
	}

	pipeline, err := transform.New(transform.Options{
		Compress: cfg.CompressionEnabled,
		Encrypt:  cfg.EncryptionEnabled,
		Secret:   o.rootSecret,
	}, o.logger)
	if err != nil {
		result.ErrorMessage = err.Error()
		return result
	}

	var filter map[string]bool
	if len(only) > 0 {
		filter = make(map[string]bool, len(only))
		for _, path := range only {
			filter[path] = true
		}
	}

	// Items run in config list order; a single item's failure never stops
	// the pass.
	for idx := range cfg.SyncItems {
		item := &cfg.SyncItems[idx]
		if filter != nil && !filter[item.LocalPath] {
			continue
		}
		result.ItemsProcessed++
		item.Status = StatusInProgress

		outcome, itemErr := o.processItem(ctx, conn, pipeline, cfg, item)
		switch outcome {
		case outcomeSkipped:
			result.ItemsSucceeded++
		case outcomeAdded:
			result.ItemsAdded++
			result.ItemsSucceeded++
		case outcomeUpdated:
			result.ItemsUpdated++
			result.ItemsSucceeded++
		case outcomeConflict:
			o.logger.Warn("item in conflict; awaiting manual resolution",
				logging.F("provider", cfg.Provider), logging.F("local_path", item.LocalPath))
		case outcomeFailed:
			item.Status = StatusFailed
			item.Error = itemErr.Error()
			result.ItemsFailed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", item.LocalPath, itemErr))
			o.logger.Error("item sync failed",
				logging.F("provider", cfg.Provider),
				logging.F("local_path", item.LocalPath), logging.Err(itemErr))
		}
	}
	return result
}

type itemOutcome int

const (
	outcomeSkipped itemOutcome = iota
	outcomeAdded
	outcomeUpdated
	outcomeConflict
	outcomeFailed
)

// processItem runs change detection and one transfer for a single item.
// FileHash and LastSynced are mutated only on success.
func (o *Orchestrator) processItem(ctx context.Context, conn connector.Connector, pipeline *transform.Pipeline, cfg *SyncConfig, item *SyncItem) (itemOutcome, error) {
	ft, ok := conn.(connector.FileTransfer)
	if !ok {
		return outcomeFailed, utils.NewAppError(utils.ErrCodeProviderUnavailable,
			fmt.Sprintf("provider %q does not support file transfer", cfg.Provider)).Build()
	}

	firstSync := item.LastSynced == nil
	digest, size, statErr := fileDigest(item.LocalPath)
	localExists := statErr == nil

	// Dirty check: unchanged content with a recorded sync means nothing
	// to do.
	if localExists && item.LastSynced != nil && digest == item.FileHash {
		item.Status = StatusCompleted
		return outcomeSkipped, nil
	}

	direction := item.Direction
	if direction == DirectionBidirectional {
		resolved, outcome, err := o.resolveBidirectional(ctx, ft, cfg, item, localExists, digest)
		if err != nil || outcome == outcomeConflict {
			return outcome, err
		}
		direction = resolved
	}

	switch direction {
	case DirectionUpload:
		if !localExists {
			return outcomeFailed, utils.NewAppError(utils.ErrCodeIntegrityMismatch,
				fmt.Sprintf("local file unreadable: %v", statErr)).Build()
		}
		if cfg.MaxFileSize > 0 && size > cfg.MaxFileSize {
			return outcomeFailed, utils.NewAppError(utils.ErrCodeSizeLimit,
				fmt.Sprintf("file size %d exceeds limit %d", size, cfg.MaxFileSize)).
				WithContext("local_path", item.LocalPath).Build()
		}
		staged, cleanup, err := pipeline.Outbound(item.LocalPath)
		if err != nil {
			return outcomeFailed, err
		}
		defer cleanup()
		if err := ft.Upload(ctx, staged, item.RemotePath); err != nil {
			return outcomeFailed, err
		}
		markSynced(item, digest, size)

	case DirectionDownload:
		staged, err := ft.Download(ctx, item.RemotePath)
		if err != nil {
			return outcomeFailed, err
		}
		defer os.Remove(staged)
		restored, cleanup, err := pipeline.Inbound(staged)
		if err != nil {
			return outcomeFailed, err
		}
		defer cleanup()
		if err := moveFile(restored, item.LocalPath); err != nil {
			return outcomeFailed, err
		}
		newDigest, newSize, err := fileDigest(item.LocalPath)
		if err != nil {
			return outcomeFailed, err
		}
		markSynced(item, newDigest, newSize)

	default:
		return outcomeFailed, utils.NewAppError(utils.ErrCodeConfigInvalid,
			fmt.Sprintf("unknown sync direction %q", direction)).Build()
	}

	if firstSync {
		return outcomeAdded, nil
	}
	return outcomeUpdated, nil
}

// resolveBidirectional picks a concrete transfer direction, consulting
// the conflict policy only when both sides changed since the last
// successful sync.
func (o *Orchestrator) resolveBidirectional(ctx context.Context, ft connector.FileTransfer, cfg *SyncConfig, item *SyncItem, localExists bool, digest string) (SyncDirection, itemOutcome, error) {
	remote, err := ft.Stat(ctx, item.RemotePath)
	if err != nil {
		return "", outcomeFailed, err
	}

	localChanged := localExists && digest != item.FileHash
	remoteChanged := remote.Exists &&
		(item.LastSynced == nil || remote.ModTime.After(*item.LastSynced))

	switch {
	case localChanged && remoteChanged:
		switch cfg.ConflictResolution {
		case PolicyLocalWins:
			return DirectionUpload, outcomeUpdated, nil
		case PolicyRemoteWins:
			return DirectionDownload, outcomeUpdated, nil
		case PolicyManual:
			item.Status = StatusConflict
			item.Error = "both sides changed; manual resolution required"
			return "", outcomeConflict, nil
		default: // newer_wins
			info, statErr := os.Stat(item.LocalPath)
			if statErr != nil {
				return "", outcomeFailed, statErr
			}
			if info.ModTime().After(remote.ModTime) {
				return DirectionUpload, outcomeUpdated, nil
			}
			return DirectionDownload, outcomeUpdated, nil
		}
	case remoteChanged:
		return DirectionDownload, outcomeUpdated, nil
	case localExists:
		return DirectionUpload, outcomeUpdated, nil
	case remote.Exists:
		return DirectionDownload, outcomeUpdated, nil
	default:
		return "", outcomeFailed, utils.NewAppError(utils.ErrCodeIntegrityMismatch,
			"neither local nor remote file exists").
			WithContext("local_path", item.LocalPath).Build()
	}
}

func markSynced(item *SyncItem, digest string, size int64) {
	now := time.Now()
	item.FileHash = digest
	item.Size = size
	item.LastSynced = &now
	item.Status = StatusCompleted
	item.Error = ""
}

// ResolveConflict forces a transfer for an item previously parked in
// CONFLICT by the manual policy. Winner is "local" or "remote".
func (o *Orchestrator) ResolveConflict(ctx context.Context, provider, localPath, winner string) error {
	var direction SyncDirection
	switch winner {
	case "local":
		direction = DirectionUpload
	case "remote":
		direction = DirectionDownload
	default:
		return utils.NewAppError(utils.ErrCodeConfigInvalid,
			fmt.Sprintf("winner must be \"local\" or \"remote\", got %q", winner)).Build()
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	cfg, ok := o.configs[provider]
	if !ok {
		return utils.NewAppError(utils.ErrCodeProviderUnknown,
			fmt.Sprintf("no sync config for provider %q", provider)).Build()
	}
	var item *SyncItem
	for idx := range cfg.SyncItems {
		if cfg.SyncItems[idx].LocalPath == localPath {
			item = &cfg.SyncItems[idx]
			break
		}
	}
	if item == nil {
		return utils.NewAppError(utils.ErrCodeConfigInvalid,
			fmt.Sprintf("no sync item for %q", localPath)).Build()
	}
	if item.Status != StatusConflict {
		return utils.NewAppError(utils.ErrCodeConflict,
			fmt.Sprintf("item %q is not in conflict", localPath)).Build()
	}

	conn, err := o.registry.Get(provider)
	if err != nil {
		return err
	}
	pipeline, err := transform.New(transform.Options{
		Compress: cfg.CompressionEnabled,
		Encrypt:  cfg.EncryptionEnabled,
		Secret:   o.rootSecret,
	}, o.logger)
	if err != nil {
		return err
	}

	saved := item.Direction
	item.Direction = direction
	outcome, transferErr := o.processItem(ctx, conn, pipeline, cfg, item)
	item.Direction = saved

	if outcome == outcomeFailed {
		item.Status = StatusFailed
		item.Error = transferErr.Error()
		_ = saveConfigs(o.configPath, o.configs)
		return transferErr
	}
	return saveConfigs(o.configPath, o.configs)
}

// ProviderStatus is the caller-facing view of one provider's sync state
type ProviderStatus struct {
	Provider      string             `json:"provider"`
	Connection    connector.Status   `json:"connection"`
	AutoSync      bool               `json:"auto_sync"`
	SyncInterval  int                `json:"sync_interval"`
	TotalItems    int                `json:"total_items"`
	ItemsByStatus map[SyncStatus]int `json:"items_by_status,omitempty"`
	LastPass      *time.Time         `json:"last_pass,omitempty"`
	Conflicts     []string           `json:"conflicts,omitempty"`
}

// GetSyncStatus reports the state of one provider, or of every
// configured provider when provider is empty.
func (o *Orchestrator) GetSyncStatus(provider string) map[string]ProviderStatus {
	o.mu.Lock()
	defer o.mu.Unlock()

	statuses := make(map[string]ProviderStatus)
	var names []string
	if provider != "" {
		names = []string{provider}
	} else {
		names = o.providerNamesLocked()
	}

	for _, name := range names {
		cfg, ok := o.configs[name]
		if !ok {
			continue
		}
		status := ProviderStatus{
			Provider:      name,
			Connection:    connector.StatusNotConnected,
			AutoSync:      cfg.AutoSync,
			SyncInterval:  cfg.SyncInterval,
			TotalItems:    len(cfg.SyncItems),
			ItemsByStatus: make(map[SyncStatus]int),
		}
		if conn, err := o.registry.Get(name); err == nil {
			status.Connection = conn.Status()
		}
		if last, ok := o.lastPass[name]; ok {
			lastCopy := last
			status.LastPass = &lastCopy
		}
		for idx := range cfg.SyncItems {
			item := &cfg.SyncItems[idx]
			status.ItemsByStatus[item.Status]++
			if item.Status == StatusConflict {
				status.Conflicts = append(status.Conflicts, item.LocalPath)
			}
		}
		statuses[name] = status
	}
	return statuses
}

// GetSyncHistory returns up to limit results, newest first
func (o *Orchestrator) GetSyncHistory(ctx context.Context, limit int) ([]connector.SyncResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.history.List(ctx, limit)
}

// ClearSyncHistory removes all recorded results
func (o *Orchestrator) ClearSyncHistory(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.history.Clear(ctx)
}

// AutoSyncDue returns providers whose auto-sync interval has elapsed
func (o *Orchestrator) AutoSyncDue(now time.Time) []string {
	o.mu.Lock()
	defer o.mu.Unlock()

	var due []string
	for _, name := range o.providerNamesLocked() {
		cfg := o.configs[name]
		if !cfg.AutoSync {
			continue
		}
		last, ok := o.lastPass[name]
		if !ok || now.Sub(last) >= time.Duration(cfg.SyncInterval)*time.Second {
			due = append(due, name)
		}
	}
	return due
}

// moveFile renames src to dst, falling back to copy+remove across
// filesystems.
func moveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o700); err != nil {
		return err
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
