package syncer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dl-alexandre/cloudsync/internal/connector"
	"github.com/dl-alexandre/cloudsync/internal/logging"
)

// fakeConnector is an in-memory provider used to exercise the engine
// without network calls.
type fakeConnector struct {
	id         string
	status     connector.Status
	remote     map[string][]byte
	remoteMod  map[string]time.Time
	uploads    int
	downloads  int
	failUpload map[string]bool
}

func newFakeConnector(id string) *fakeConnector {
	return &fakeConnector{
		id:         id,
		status:     connector.StatusConnected,
		remote:     make(map[string][]byte),
		remoteMod:  make(map[string]time.Time),
		failUpload: make(map[string]bool),
	}
}

func (f *fakeConnector) ID() string                    { return f.id }
func (f *fakeConnector) DisplayName() string           { return "Fake" }
func (f *fakeConnector) Description() string           { return "in-memory test provider" }
func (f *fakeConnector) RequiredCredentials() []string { return []string{"token"} }
func (f *fakeConnector) DefaultCollectionName() string { return "fake_items" }
func (f *fakeConnector) Status() connector.Status      { return f.status }
func (f *fakeConnector) Close() error                  { return nil }

func (f *fakeConnector) Connect(ctx context.Context, creds map[string]string) error {
	f.status = connector.StatusConnected
	return nil
}

func (f *fakeConnector) TestConnection(ctx context.Context) bool { return true }

func (f *fakeConnector) Sync(ctx context.Context) connector.SyncResult {
	result := connector.SyncResult{Provider: f.id}
	result.Finish(time.Now())
	return result
}

func (f *fakeConnector) Upload(ctx context.Context, localPath, remotePath string) error {
	if f.failUpload[remotePath] {
		return fmt.Errorf("simulated upload failure")
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	f.remote[remotePath] = data
	f.remoteMod[remotePath] = time.Now()
	f.uploads++
	return nil
}

func (f *fakeConnector) Download(ctx context.Context, remotePath string) (string, error) {
	data, ok := f.remote[remotePath]
	if !ok {
		return "", fmt.Errorf("remote file %q not found", remotePath)
	}
	tmp, err := os.CreateTemp("", "fake-download-*")
	if err != nil {
		return "", err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	f.downloads++
	return tmp.Name(), nil
}

func (f *fakeConnector) Stat(ctx context.Context, remotePath string) (*connector.RemoteInfo, error) {
	data, ok := f.remote[remotePath]
	if !ok {
		return &connector.RemoteInfo{Path: remotePath, Exists: false}, nil
	}
	return &connector.RemoteInfo{
		Path:    remotePath,
		Size:    int64(len(data)),
		ModTime: f.remoteMod[remotePath],
		Exists:  true,
	}, nil
}

func newTestOrchestrator(t *testing.T, historyLimit int) (*Orchestrator, *fakeConnector) {
	t.Helper()
	fake := newFakeConnector("fake")
	registry := connector.NewRegistry(connector.Deps{Logger: logging.NewNopLogger()})
	registry.Register("fake", func(connector.Deps) connector.Connector { return fake })

	dir := t.TempDir()
	o, err := New(Options{
		ConfigPath:   filepath.Join(dir, "sync_configs.json"),
		HistoryPath:  filepath.Join(dir, "history.db"),
		HistoryLimit: historyLimit,
		Registry:     registry,
		RootSecret:   "test-secret",
		Logger:       logging.NewNopLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { o.Close() })
	return o, fake
}

func writeLocal(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func uploadConfig(local string) *SyncConfig {
	return &SyncConfig{
		Provider: "fake",
		SyncItems: []SyncItem{{
			LocalPath:  local,
			RemotePath: "/notes.txt",
			Direction:  DirectionUpload,
		}},
	}
}

func TestAddSyncConfigValidation(t *testing.T) {
	o, _ := newTestOrchestrator(t, 10)
	ctx := context.Background()

	if err := o.AddSyncConfig(ctx, &SyncConfig{Provider: "ftp"}); err == nil {
		t.Error("expected unknown provider to be rejected")
	}
	if err := o.AddSyncConfig(ctx, &SyncConfig{
		Provider:  "fake",
		SyncItems: []SyncItem{{LocalPath: "/a", Direction: "SIDEWAYS"}},
	}); err == nil {
		t.Error("expected unknown direction to be rejected")
	}
	if err := o.AddSyncConfig(ctx, &SyncConfig{
		Provider: "fake",
		SyncItems: []SyncItem{
			{LocalPath: "/a", Direction: DirectionUpload},
			{LocalPath: "/a", Direction: DirectionUpload},
		},
	}); err == nil {
		t.Error("expected duplicate item to be rejected")
	}
}

func TestAddSyncConfigPersistsAcrossRestart(t *testing.T) {
	fake := newFakeConnector("fake")
	registry := connector.NewRegistry(connector.Deps{})
	registry.Register("fake", func(connector.Deps) connector.Connector { return fake })

	dir := t.TempDir()
	opts := Options{
		ConfigPath:  filepath.Join(dir, "sync_configs.json"),
		HistoryPath: filepath.Join(dir, "history.db"),
		Registry:    registry,
		RootSecret:  "s",
	}

	o, err := New(opts)
	if err != nil {
		t.Fatal(err)
	}
	local := writeLocal(t, dir, "notes.txt", "hello")
	if err := o.AddSyncConfig(context.Background(), uploadConfig(local)); err != nil {
		t.Fatalf("AddSyncConfig() error: %v", err)
	}
	o.Close()

	reloaded, err := New(opts)
	if err != nil {
		t.Fatal(err)
	}
	defer reloaded.Close()
	cfg, ok := reloaded.GetConfig("fake")
	if !ok {
		t.Fatal("expected config to survive restart")
	}
	if len(cfg.SyncItems) != 1 || cfg.SyncItems[0].LocalPath != local {
		t.Errorf("restored config = %+v", cfg)
	}
	if cfg.ConflictResolution != PolicyNewerWins {
		t.Errorf("expected default conflict policy, got %q", cfg.ConflictResolution)
	}
}

func TestSyncNowUploadEndToEnd(t *testing.T) {
	o, fake := newTestOrchestrator(t, 10)
	ctx := context.Background()
	dir := t.TempDir()
	local := writeLocal(t, dir, "notes.txt", "version one")

	if err := o.AddSyncConfig(ctx, uploadConfig(local)); err != nil {
		t.Fatal(err)
	}

	before := time.Now()
	results := o.SyncNow(ctx, "fake", nil)
	result := results["fake"]
	if !result.Success {
		t.Fatalf("pass failed: %s %v", result.ErrorMessage, result.Errors)
	}
	if result.ItemsProcessed != 1 || result.ItemsSucceeded != 1 || result.ItemsFailed != 0 {
		t.Errorf("processed/succeeded/failed = %d/%d/%d, want 1/1/0",
			result.ItemsProcessed, result.ItemsSucceeded, result.ItemsFailed)
	}
	if string(fake.remote["/notes.txt"]) != "version one" {
		t.Errorf("remote content = %q", fake.remote["/notes.txt"])
	}

	cfg, _ := o.GetConfig("fake")
	item := cfg.SyncItems[0]
	if item.FileHash == "" {
		t.Error("expected file hash to be recorded")
	}
	if item.LastSynced == nil || item.LastSynced.Before(before) {
		t.Errorf("last_synced = %v, want at/after %v", item.LastSynced, before)
	}
	if item.Status != StatusCompleted {
		t.Errorf("status = %q, want COMPLETED", item.Status)
	}
}

func TestSyncNowIdempotent(t *testing.T) {
	o, fake := newTestOrchestrator(t, 10)
	ctx := context.Background()
	local := writeLocal(t, t.TempDir(), "notes.txt", "stable")

	if err := o.AddSyncConfig(ctx, uploadConfig(local)); err != nil {
		t.Fatal(err)
	}
	o.SyncNow(ctx, "fake", nil)
	if fake.uploads != 1 {
		t.Fatalf("uploads = %d after first pass, want 1", fake.uploads)
	}

	second := o.SyncNow(ctx, "fake", nil)["fake"]
	if second.ItemsFailed != 0 || second.ItemsSucceeded != 1 {
		t.Errorf("second pass failed/succeeded = %d/%d, want 0/1",
			second.ItemsFailed, second.ItemsSucceeded)
	}
	if fake.uploads != 1 {
		t.Errorf("uploads = %d after second pass, want 1 (item skipped)", fake.uploads)
	}
}

func TestChangeDetectionRetransfers(t *testing.T) {
	o, fake := newTestOrchestrator(t, 10)
	ctx := context.Background()
	dir := t.TempDir()
	local := writeLocal(t, dir, "notes.txt", "first")

	if err := o.AddSyncConfig(ctx, uploadConfig(local)); err != nil {
		t.Fatal(err)
	}
	o.SyncNow(ctx, "fake", nil)

	writeLocal(t, dir, "notes.txt", "second")
	result := o.SyncNow(ctx, "fake", nil)["fake"]
	if result.ItemsUpdated != 1 {
		t.Errorf("ItemsUpdated = %d, want 1", result.ItemsUpdated)
	}
	if fake.uploads != 2 {
		t.Errorf("uploads = %d, want 2", fake.uploads)
	}
	if string(fake.remote["/notes.txt"]) != "second" {
		t.Errorf("remote content = %q, want %q", fake.remote["/notes.txt"], "second")
	}
}

func TestSizeRejectionNeverReachesUpload(t *testing.T) {
	o, fake := newTestOrchestrator(t, 10)
	ctx := context.Background()
	local := writeLocal(t, t.TempDir(), "big.txt", "this file is larger than the limit")

	cfg := uploadConfig(local)
	cfg.MaxFileSize = 10
	if err := o.AddSyncConfig(ctx, cfg); err != nil {
		t.Fatal(err)
	}

	result := o.SyncNow(ctx, "fake", nil)["fake"]
	if result.ItemsFailed != 1 {
		t.Errorf("ItemsFailed = %d, want 1", result.ItemsFailed)
	}
	if fake.uploads != 0 {
		t.Errorf("uploads = %d, want 0 (oversized file must not reach the connector)", fake.uploads)
	}

	stored, _ := o.GetConfig("fake")
	if stored.SyncItems[0].FileHash != "" || stored.SyncItems[0].LastSynced != nil {
		t.Error("failed item must not record hash or last_synced")
	}
}

func TestDownloadDirection(t *testing.T) {
	o, fake := newTestOrchestrator(t, 10)
	ctx := context.Background()
	local := filepath.Join(t.TempDir(), "fetched.txt")
	fake.remote["/notes.txt"] = []byte("remote payload")
	fake.remoteMod["/notes.txt"] = time.Now()

	cfg := &SyncConfig{
		Provider: "fake",
		SyncItems: []SyncItem{{
			LocalPath:  local,
			RemotePath: "/notes.txt",
			Direction:  DirectionDownload,
		}},
	}
	if err := o.AddSyncConfig(ctx, cfg); err != nil {
		t.Fatal(err)
	}

	result := o.SyncNow(ctx, "fake", nil)["fake"]
	if !result.Success || result.ItemsSucceeded != 1 {
		t.Fatalf("pass = %+v", result)
	}
	data, err := os.ReadFile(local)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "remote payload" {
		t.Errorf("local content = %q", data)
	}
	stored, _ := o.GetConfig("fake")
	if stored.SyncItems[0].FileHash == "" {
		t.Error("expected hash recorded after download")
	}
}

func TestNewerWinsLocalNewer(t *testing.T) {
	o, fake := newTestOrchestrator(t, 10)
	ctx := context.Background()
	dir := t.TempDir()
	local := writeLocal(t, dir, "doc.txt", "base")

	cfg := &SyncConfig{
		Provider:           "fake",
		ConflictResolution: PolicyNewerWins,
		SyncItems: []SyncItem{{
			LocalPath:  local,
			RemotePath: "/doc.txt",
			Direction:  DirectionBidirectional,
		}},
	}
	if err := o.AddSyncConfig(ctx, cfg); err != nil {
		t.Fatal(err)
	}
	o.SyncNow(ctx, "fake", nil)

	// Both sides change; the local edit is 10 minutes newer.
	base := time.Now()
	fake.remote["/doc.txt"] = []byte("remote edit")
	fake.remoteMod["/doc.txt"] = base.Add(5 * time.Minute)
	writeLocal(t, dir, "doc.txt", "local edit")
	if err := os.Chtimes(local, base.Add(10*time.Minute), base.Add(10*time.Minute)); err != nil {
		t.Fatal(err)
	}

	result := o.SyncNow(ctx, "fake", nil)["fake"]
	if result.ItemsFailed != 0 {
		t.Fatalf("pass failed: %v", result.Errors)
	}
	if string(fake.remote["/doc.txt"]) != "local edit" {
		t.Errorf("remote content = %q, want local edit to win", fake.remote["/doc.txt"])
	}
}

func TestNewerWinsRemoteNewer(t *testing.T) {
	o, fake := newTestOrchestrator(t, 10)
	ctx := context.Background()
	dir := t.TempDir()
	local := writeLocal(t, dir, "doc.txt", "base")

	cfg := &SyncConfig{
		Provider:           "fake",
		ConflictResolution: PolicyNewerWins,
		SyncItems: []SyncItem{{
			LocalPath:  local,
			RemotePath: "/doc.txt",
			Direction:  DirectionBidirectional,
		}},
	}
	if err := o.AddSyncConfig(ctx, cfg); err != nil {
		t.Fatal(err)
	}
	o.SyncNow(ctx, "fake", nil)

	base := time.Now()
	fake.remote["/doc.txt"] = []byte("remote edit")
	fake.remoteMod["/doc.txt"] = base.Add(10 * time.Minute)
	writeLocal(t, dir, "doc.txt", "local edit")
	if err := os.Chtimes(local, base.Add(5*time.Minute), base.Add(5*time.Minute)); err != nil {
		t.Fatal(err)
	}

	result := o.SyncNow(ctx, "fake", nil)["fake"]
	if result.ItemsFailed != 0 {
		t.Fatalf("pass failed: %v", result.Errors)
	}
	data, err := os.ReadFile(local)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "remote edit" {
		t.Errorf("local content = %q, want remote edit to win", data)
	}
}

func TestManualConflictAndResolve(t *testing.T) {
	o, fake := newTestOrchestrator(t, 10)
	ctx := context.Background()
	dir := t.TempDir()
	local := writeLocal(t, dir, "doc.txt", "base")

	cfg := &SyncConfig{
		Provider:           "fake",
		ConflictResolution: PolicyManual,
		SyncItems: []SyncItem{{
			LocalPath:  local,
			RemotePath: "/doc.txt",
			Direction:  DirectionBidirectional,
		}},
	}
	if err := o.AddSyncConfig(ctx, cfg); err != nil {
		t.Fatal(err)
	}
	o.SyncNow(ctx, "fake", nil)

	uploadsAfterFirst := fake.uploads
	fake.remote["/doc.txt"] = []byte("remote edit")
	fake.remoteMod["/doc.txt"] = time.Now().Add(time.Minute)
	writeLocal(t, dir, "doc.txt", "local edit")

	result := o.SyncNow(ctx, "fake", nil)["fake"]
	if result.ItemsFailed != 0 {
		t.Fatalf("conflict must not count as failure: %v", result.Errors)
	}
	if fake.uploads != uploadsAfterFirst {
		t.Error("manual conflict must skip the transfer")
	}

	status := o.GetSyncStatus("fake")["fake"]
	if len(status.Conflicts) != 1 || status.Conflicts[0] != local {
		t.Fatalf("Conflicts = %v, want [%s]", status.Conflicts, local)
	}

	if err := o.ResolveConflict(ctx, "fake", local, "sideways"); err == nil {
		t.Error("expected invalid winner to be rejected")
	}
	if err := o.ResolveConflict(ctx, "fake", local, "local"); err != nil {
		t.Fatalf("ResolveConflict() error: %v", err)
	}
	if string(fake.remote["/doc.txt"]) != "local edit" {
		t.Errorf("remote content = %q after resolution", fake.remote["/doc.txt"])
	}

	stored, _ := o.GetConfig("fake")
	if stored.SyncItems[0].Status != StatusCompleted {
		t.Errorf("status = %q after resolution, want COMPLETED", stored.SyncItems[0].Status)
	}
	if err := o.ResolveConflict(ctx, "fake", local, "local"); err == nil {
		t.Error("expected resolving a non-conflicted item to fail")
	}
}

func TestPerItemFailureIsolation(t *testing.T) {
	o, fake := newTestOrchestrator(t, 10)
	ctx := context.Background()
	dir := t.TempDir()
	bad := writeLocal(t, dir, "bad.txt", "fails")
	good := writeLocal(t, dir, "good.txt", "works")
	fake.failUpload["/bad.txt"] = true

	cfg := &SyncConfig{
		Provider: "fake",
		SyncItems: []SyncItem{
			{LocalPath: bad, RemotePath: "/bad.txt", Direction: DirectionUpload},
			{LocalPath: good, RemotePath: "/good.txt", Direction: DirectionUpload},
		},
	}
	if err := o.AddSyncConfig(ctx, cfg); err != nil {
		t.Fatal(err)
	}

	result := o.SyncNow(ctx, "fake", nil)["fake"]
	if result.ItemsProcessed != 2 || result.ItemsFailed != 1 || result.ItemsSucceeded != 1 {
		t.Errorf("processed/failed/succeeded = %d/%d/%d, want 2/1/1",
			result.ItemsProcessed, result.ItemsFailed, result.ItemsSucceeded)
	}
	if !result.Success {
		t.Error("partial failure should still be a successful pass")
	}
	if string(fake.remote["/good.txt"]) != "works" {
		t.Error("the good item must still transfer")
	}

	stored, _ := o.GetConfig("fake")
	if stored.SyncItems[0].Status != StatusFailed || stored.SyncItems[0].Error == "" {
		t.Errorf("failed item state = %+v", stored.SyncItems[0])
	}
}

func TestSyncNowUnknownProviderReturnsResult(t *testing.T) {
	o, _ := newTestOrchestrator(t, 10)

	results := o.SyncNow(context.Background(), "missing", nil)
	result, ok := results["missing"]
	if !ok {
		t.Fatal("expected a result entry for the unknown provider")
	}
	if result.Success || result.ErrorMessage == "" {
		t.Errorf("result = %+v, want failure with message", result)
	}
}

func TestSyncNowItemFilter(t *testing.T) {
	o, fake := newTestOrchestrator(t, 10)
	ctx := context.Background()
	dir := t.TempDir()
	one := writeLocal(t, dir, "one.txt", "one")
	two := writeLocal(t, dir, "two.txt", "two")

	cfg := &SyncConfig{
		Provider: "fake",
		SyncItems: []SyncItem{
			{LocalPath: one, RemotePath: "/one.txt", Direction: DirectionUpload},
			{LocalPath: two, RemotePath: "/two.txt", Direction: DirectionUpload},
		},
	}
	if err := o.AddSyncConfig(ctx, cfg); err != nil {
		t.Fatal(err)
	}

	result := o.SyncNow(ctx, "fake", []string{one})["fake"]
	if result.ItemsProcessed != 1 {
		t.Errorf("ItemsProcessed = %d, want 1", result.ItemsProcessed)
	}
	if _, ok := fake.remote["/two.txt"]; ok {
		t.Error("filtered-out item must not transfer")
	}
}

func TestTransformedUploadRoundTrip(t *testing.T) {
	o, fake := newTestOrchestrator(t, 10)
	ctx := context.Background()
	dir := t.TempDir()
	local := writeLocal(t, dir, "secret.txt", "confidential payload")

	cfg := uploadConfig(local)
	cfg.EncryptionEnabled = true
	cfg.CompressionEnabled = true
	if err := o.AddSyncConfig(ctx, cfg); err != nil {
		t.Fatal(err)
	}

	result := o.SyncNow(ctx, "fake", nil)["fake"]
	if result.ItemsFailed != 0 {
		t.Fatalf("pass failed: %v", result.Errors)
	}
	if string(fake.remote["/notes.txt"]) == "confidential payload" {
		t.Error("remote copy must not hold plaintext when the pipeline is on")
	}

	// Pull the transformed remote copy back down elsewhere.
	restoredPath := filepath.Join(dir, "restored.txt")
	cfg2 := &SyncConfig{
		Provider:           "fake",
		EncryptionEnabled:  true,
		CompressionEnabled: true,
		SyncItems: []SyncItem{{
			LocalPath:  restoredPath,
			RemotePath: "/notes.txt",
			Direction:  DirectionDownload,
		}},
	}
	if err := o.AddSyncConfig(ctx, cfg2); err != nil {
		t.Fatal(err)
	}
	result = o.SyncNow(ctx, "fake", []string{restoredPath})["fake"]
	if result.ItemsFailed != 0 {
		t.Fatalf("download pass failed: %v", result.Errors)
	}
	data, err := os.ReadFile(restoredPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "confidential payload" {
		t.Errorf("restored content = %q", data)
	}
}

func TestHistoryBoundedNewestFirst(t *testing.T) {
	o, _ := newTestOrchestrator(t, 3)
	ctx := context.Background()
	local := writeLocal(t, t.TempDir(), "notes.txt", "content")

	if err := o.AddSyncConfig(ctx, uploadConfig(local)); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 4; i++ {
		o.SyncNow(ctx, "fake", nil)
	}

	history, err := o.GetSyncHistory(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 3 {
		t.Fatalf("history length = %d, want 3 (bounded)", len(history))
	}
	for i := 1; i < len(history); i++ {
		if history[i].SyncTimestamp.After(history[i-1].SyncTimestamp) {
			t.Error("history must be newest first")
		}
	}

	limited, err := o.GetSyncHistory(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 2 {
		t.Errorf("limited history length = %d, want 2", len(limited))
	}

	if err := o.ClearSyncHistory(ctx); err != nil {
		t.Fatal(err)
	}
	cleared, err := o.GetSyncHistory(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(cleared) != 0 {
		t.Errorf("history length after clear = %d, want 0", len(cleared))
	}
}

func TestAutoSyncDue(t *testing.T) {
	o, _ := newTestOrchestrator(t, 10)
	ctx := context.Background()
	local := writeLocal(t, t.TempDir(), "notes.txt", "content")

	cfg := uploadConfig(local)
	cfg.AutoSync = true
	cfg.SyncInterval = 60
	if err := o.AddSyncConfig(ctx, cfg); err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	if due := o.AutoSyncDue(now); len(due) != 1 || due[0] != "fake" {
		t.Errorf("AutoSyncDue before first pass = %v, want [fake]", due)
	}

	o.SyncNow(ctx, "fake", nil)
	if due := o.AutoSyncDue(time.Now()); len(due) != 0 {
		t.Errorf("AutoSyncDue right after a pass = %v, want none", due)
	}
	if due := o.AutoSyncDue(time.Now().Add(2 * time.Minute)); len(due) != 1 {
		t.Errorf("AutoSyncDue after interval = %v, want [fake]", due)
	}
}

func TestRemoveSyncConfig(t *testing.T) {
	o, _ := newTestOrchestrator(t, 10)
	ctx := context.Background()
	local := writeLocal(t, t.TempDir(), "notes.txt", "content")

	if err := o.AddSyncConfig(ctx, uploadConfig(local)); err != nil {
		t.Fatal(err)
	}
	if err := o.RemoveSyncConfig("fake"); err != nil {
		t.Fatalf("RemoveSyncConfig() error: %v", err)
	}
	if _, ok := o.GetConfig("fake"); ok {
		t.Error("expected config to be removed")
	}
	if err := o.RemoveSyncConfig("fake"); err == nil {
		t.Error("expected removing a missing config to fail")
	}
}
