package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dl-alexandre/cloudsync/internal/logging"
)

const (
	dropboxAPIBase     = "https://api.dropboxapi.com"
	dropboxContentBase = "https://content.dropboxapi.com"
)

// Dropbox syncs files through the Dropbox HTTP API using an access token.
type Dropbox struct {
	base
	apiBase     string
	contentBase string
}

// NewDropbox creates the Dropbox connector
func NewDropbox(deps Deps) *Dropbox {
	return &Dropbox{
		base:        newBase("dropbox", deps),
		apiBase:     dropboxAPIBase,
		contentBase: dropboxContentBase,
	}
}

func (d *Dropbox) DisplayName() string { return "Dropbox" }

func (d *Dropbox) Description() string {
	return "Sync files with a Dropbox account"
}

func (d *Dropbox) RequiredCredentials() []string {
	return []string{"access_token"}
}

func (d *Dropbox) DefaultCollectionName() string { return "dropbox_files" }

// Connect verifies the access token with a current-account lookup
func (d *Dropbox) Connect(ctx context.Context, creds map[string]string) error {
	if err := validateRequired(d.id, creds, d.RequiredCredentials()); err != nil {
		return err
	}

	status, _, err := d.rpc(ctx, creds["access_token"], "/2/users/get_current_account", nil)
	if err != nil {
		return WrapError(d.id, "network error contacting Dropbox", err)
	}
	if status == http.StatusUnauthorized {
		return NewError(d.id, "invalid Dropbox access token")
	}
	if status != http.StatusOK {
		return NewError(d.id, fmt.Sprintf("Dropbox API error: %d", status))
	}

	if err := d.storeCredentials(map[string]string{"access_token": creds["access_token"]}, nil); err != nil {
		return WrapError(d.id, "failed to store credentials", err)
	}
	d.logger.Info("connected to Dropbox")
	return nil
}

// TestConnection verifies the stored token. Dropbox long-lived access
// tokens have no refresh grant here; unauthorized is final.
func (d *Dropbox) TestConnection(ctx context.Context) bool {
	if d.creds == nil {
		return false
	}
	token := d.creds.Get("access_token")
	if token == "" {
		return false
	}
	status, _, err := d.rpc(ctx, token, "/2/users/get_current_account", nil)
	if err != nil {
		return false
	}
	d.touchLastUsed()
	return status == http.StatusOK
}

type dropboxEntry struct {
	Tag            string    `json:".tag"`
	Name           string    `json:"name"`
	PathLower      string    `json:"path_lower"`
	Size           int64     `json:"size"`
	ServerModified time.Time `json:"server_modified"`
}

// Sync enumerates files recursively and ingests text content
func (d *Dropbox) Sync(ctx context.Context) (result SyncResult) {
	start := time.Now()
	result = SyncResult{Provider: d.id, CollectionName: d.DefaultCollectionName()}
	defer result.Finish(start)

	if d.creds == nil {
		result.ErrorMessage = "no Dropbox credentials available"
		return result
	}
	token := d.creds.Get("access_token")

	var listing struct {
		Entries []dropboxEntry `json:"entries"`
	}
	status, body, err := d.rpc(ctx, token, "/2/files/list_folder",
		map[string]interface{}{"path": "", "recursive": true})
	if err != nil {
		result.ErrorMessage = err.Error()
		return result
	}
	if status != http.StatusOK {
		result.ErrorMessage = fmt.Sprintf("list_folder returned %d", status)
		return result
	}
	if err := json.Unmarshal(body, &listing); err != nil {
		result.ErrorMessage = err.Error()
		return result
	}

	for _, entry := range listing.Entries {
		if entry.Tag != "file" || !isTextName(entry.Name) {
			continue
		}
		result.ItemsProcessed++
		content, err := d.fetchContent(ctx, token, entry.PathLower)
		if err != nil {
			d.logger.Error("failed to fetch file", logging.F("path", entry.PathLower), logging.Err(err))
			result.ItemsFailed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", entry.PathLower, err))
			continue
		}
		itemID := "dropbox_" + strings.ReplaceAll(strings.TrimPrefix(entry.PathLower, "/"), "/", "_")
		if err := d.ingestContent(d.DefaultCollectionName(), itemID, content); err != nil {
			result.ItemsFailed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", entry.PathLower, err))
			continue
		}
		result.ItemsAdded++
		result.ItemsSucceeded++
	}

	d.touchLastUsed()
	return result
}

func (d *Dropbox) Close() error { return nil }

// Upload writes a local file to Dropbox, overwriting any existing file
func (d *Dropbox) Upload(ctx context.Context, localPath, remotePath string) error {
	if d.creds == nil {
		return NewError(d.id, "not connected")
	}
	token := d.creds.Get("access_token")

	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	arg, err := json.Marshal(map[string]interface{}{
		"path": normalizeDropboxPath(remotePath),
		"mode": "overwrite",
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.contentBase+"/2/files/upload", f)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Dropbox-API-Arg", string(arg))

	resp, err := d.client.Do(req)
	if err != nil {
		return WrapError(d.id, "upload failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return NewError(d.id, fmt.Sprintf("upload returned %d", resp.StatusCode))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Download fetches a Dropbox file into a temporary file
func (d *Dropbox) Download(ctx context.Context, remotePath string) (string, error) {
	if d.creds == nil {
		return "", NewError(d.id, "not connected")
	}
	token := d.creds.Get("access_token")

	arg, err := json.Marshal(map[string]string{"path": normalizeDropboxPath(remotePath)})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.contentBase+"/2/files/download", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Dropbox-API-Arg", string(arg))

	resp, err := d.client.Do(req)
	if err != nil {
		return "", WrapError(d.id, "download failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", NewError(d.id, fmt.Sprintf("download returned %d", resp.StatusCode))
	}

	tmp, err := os.CreateTemp("", "cloudsync-dropbox-*")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

// Stat reports the remote file's size and server modification time
func (d *Dropbox) Stat(ctx context.Context, remotePath string) (*RemoteInfo, error) {
	if d.creds == nil {
		return nil, NewError(d.id, "not connected")
	}
	token := d.creds.Get("access_token")

	status, body, err := d.rpc(ctx, token, "/2/files/get_metadata",
		map[string]string{"path": normalizeDropboxPath(remotePath)})
	if err != nil {
		return nil, WrapError(d.id, "stat failed", err)
	}
	if status == http.StatusConflict {
		// Dropbox reports a missing path as a conflict error.
		return &RemoteInfo{Path: remotePath, Exists: false}, nil
	}
	if status != http.StatusOK {
		return nil, NewError(d.id, fmt.Sprintf("stat returned %d", status))
	}

	var entry dropboxEntry
	if err := json.Unmarshal(body, &entry); err != nil {
		return nil, err
	}
	return &RemoteInfo{
		Path:    remotePath,
		Size:    entry.Size,
		ModTime: entry.ServerModified,
		Exists:  true,
	}, nil
}

// fetchContent downloads a file's content into memory for ingestion
func (d *Dropbox) fetchContent(ctx context.Context, token, path string) (string, error) {
	arg, err := json.Marshal(map[string]string{"path": path})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.contentBase+"/2/files/download", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Dropbox-API-Arg", string(arg))

	resp, err := d.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download returned %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// rpc issues a JSON RPC-style POST against the Dropbox API host
func (d *Dropbox) rpc(ctx context.Context, token, path string, arg interface{}) (int, []byte, error) {
	var body io.Reader
	if arg != nil {
		payload, err := json.Marshal(arg)
		if err != nil {
			return 0, nil, err
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.apiBase+path, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if arg != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, data, nil
}

func normalizeDropboxPath(p string) string {
	if !strings.HasPrefix(p, "/") {
		return "/" + p
	}
	return p
}

func isTextName(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range textFileExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}
