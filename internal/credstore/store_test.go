package credstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	tmpDir := t.TempDir()
	return NewStore(tmpDir, "test-root-secret", nil), tmpDir
}

func TestStoreCredentials_RoundTrip(t *testing.T) {
	store, _ := newTestStore(t)

	expires := time.Now().Add(1 * time.Hour).Truncate(time.Second)
	creds := map[string]string{
		"token":      "ghp_testtoken123",
		"repository": "owner/repo",
	}

	if err := store.StoreCredentials("github", creds, &expires); err != nil {
		t.Fatalf("StoreCredentials failed: %v", err)
	}

	loaded, err := store.LoadCredentials("github")
	if err != nil {
		t.Fatalf("LoadCredentials failed: %v", err)
	}

	if loaded.ConnectorID != "github" {
		t.Errorf("ConnectorID = %q, want %q", loaded.ConnectorID, "github")
	}
	if loaded.Get("token") != "ghp_testtoken123" {
		t.Errorf("token = %q, want %q", loaded.Get("token"), "ghp_testtoken123")
	}
	if loaded.Get("repository") != "owner/repo" {
		t.Errorf("repository = %q, want %q", loaded.Get("repository"), "owner/repo")
	}
	if loaded.ExpiresAt == nil || !loaded.ExpiresAt.Equal(expires) {
		t.Errorf("ExpiresAt = %v, want %v", loaded.ExpiresAt, expires)
	}
	if loaded.IsExpired() {
		t.Error("credentials with future expiry reported expired")
	}
}

func TestStoreCredentials_FileIsEncryptedEnvelope(t *testing.T) {
	store, tmpDir := newTestStore(t)

	creds := map[string]string{"token": "super-secret-token"}
	if err := store.StoreCredentials("dropbox", creds, nil); err != nil {
		t.Fatalf("StoreCredentials failed: %v", err)
	}

	path := filepath.Join(tmpDir, "connectors", "dropbox_credentials.json")
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read credential file: %v", err)
	}

	if strings.Contains(string(raw), "super-secret-token") {
		t.Error("credential file contains plaintext secret")
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("credential file is not a JSON envelope: %v", err)
	}
	if !env.Encrypted {
		t.Error("envelope not marked encrypted")
	}
	if env.Version != envelopeVersion {
		t.Errorf("envelope version = %q, want %q", env.Version, envelopeVersion)
	}
	if env.Data == "" {
		t.Error("envelope has no ciphertext")
	}

	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		if err != nil {
			t.Fatal(err)
		}
		if perm := info.Mode().Perm(); perm != 0600 {
			t.Errorf("credential file mode = %o, want 0600", perm)
		}
	}
}

func TestLoadCredentials_LegacyPlaintext(t *testing.T) {
	store, tmpDir := newTestStore(t)

	// A record written before encryption existed: plain JSON, no envelope.
	legacy := Credentials{
		ConnectorID: "notion",
		Credentials: map[string]string{"token": "secret_legacy"},
		CreatedAt:   time.Now(),
	}
	data, err := json.Marshal(legacy)
	if err != nil {
		t.Fatal(err)
	}
	dir := filepath.Join(tmpDir, "connectors")
	if err := os.MkdirAll(dir, 0700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notion_credentials.json"), data, 0600); err != nil {
		t.Fatal(err)
	}

	loaded, err := store.LoadCredentials("notion")
	if err != nil {
		t.Fatalf("LoadCredentials failed on legacy format: %v", err)
	}
	if loaded.Get("token") != "secret_legacy" {
		t.Errorf("token = %q, want %q", loaded.Get("token"), "secret_legacy")
	}

	// Re-saving encrypts the record.
	if err := store.UpdateCredentials("notion", loaded); err != nil {
		t.Fatalf("UpdateCredentials failed: %v", err)
	}
	raw, err := os.ReadFile(filepath.Join(dir, "notion_credentials.json"))
	if err != nil {
		t.Fatal(err)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil || !env.Encrypted {
		t.Error("legacy record was not re-saved encrypted")
	}
}

func TestLoadCredentials_CorruptCiphertext(t *testing.T) {
	store, tmpDir := newTestStore(t)

	env := envelope{Encrypted: true, Data: "not-valid-ciphertext", Version: envelopeVersion}
	data, err := json.Marshal(env)
	if err != nil {
		t.Fatal(err)
	}
	dir := filepath.Join(tmpDir, "connectors")
	if err := os.MkdirAll(dir, 0700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "gdrive_credentials.json"), data, 0600); err != nil {
		t.Fatal(err)
	}

	if _, err := store.LoadCredentials("gdrive"); err == nil {
		t.Error("expected error for corrupt ciphertext, got nil")
	}
}

func TestLoadCredentials_Missing(t *testing.T) {
	store, _ := newTestStore(t)

	if _, err := store.LoadCredentials("absent"); err == nil {
		t.Error("expected error for missing credentials, got nil")
	}
}

func TestDeleteCredentials(t *testing.T) {
	store, _ := newTestStore(t)

	if err := store.StoreCredentials("github", map[string]string{"token": "x"}, nil); err != nil {
		t.Fatal(err)
	}
	if err := store.DeleteCredentials("github"); err != nil {
		t.Fatalf("DeleteCredentials failed: %v", err)
	}
	if _, err := store.LoadCredentials("github"); err == nil {
		t.Error("credentials still loadable after delete")
	}

	// Deleting again is a no-op.
	if err := store.DeleteCredentials("github"); err != nil {
		t.Errorf("second delete returned error: %v", err)
	}
}

func TestStore_PerConnectorKeys(t *testing.T) {
	store, tmpDir := newTestStore(t)

	if err := store.StoreCredentials("github", map[string]string{"token": "a"}, nil); err != nil {
		t.Fatal(err)
	}

	// Move github's envelope under dropbox's name; the dropbox-derived key
	// must not open it.
	src := filepath.Join(tmpDir, "connectors", "github_credentials.json")
	dst := filepath.Join(tmpDir, "connectors", "dropbox_credentials.json")
	data, err := os.ReadFile(src)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dst, data, 0600); err != nil {
		t.Fatal(err)
	}

	if _, err := store.LoadCredentials("dropbox"); err == nil {
		t.Error("envelope decrypted with wrong per-connector key")
	}
}

func TestTouch(t *testing.T) {
	store, _ := newTestStore(t)

	if err := store.StoreCredentials("github", map[string]string{"token": "x"}, nil); err != nil {
		t.Fatal(err)
	}
	if err := store.Touch("github"); err != nil {
		t.Fatalf("Touch failed: %v", err)
	}

	loaded, err := store.LoadCredentials("github")
	if err != nil {
		t.Fatal(err)
	}
	if loaded.LastUsed == nil {
		t.Error("LastUsed not set after Touch")
	}
}

func TestCredentials_IsExpired(t *testing.T) {
	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Minute)

	tests := []struct {
		name  string
		creds Credentials
		want  bool
	}{
		{"no expiry", Credentials{}, false},
		{"future expiry", Credentials{ExpiresAt: &future}, false},
		{"past expiry", Credentials{ExpiresAt: &past}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.creds.IsExpired(); got != tt.want {
				t.Errorf("IsExpired() = %v, want %v", got, tt.want)
			}
		})
	}
}
