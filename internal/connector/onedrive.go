package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/dl-alexandre/cloudsync/internal/logging"
)

const (
	onedriveGraphBase = "https://graph.microsoft.com/v1.0"
	onedriveLoginBase = "https://login.microsoftonline.com"
)

// OneDrive syncs files through the Microsoft Graph API. Credentials are
// an OAuth client plus refresh token; access tokens are cached in the
// credential record and refreshed on demand.
type OneDrive struct {
	base
	graphBase string
	loginBase string
}

// NewOneDrive creates the OneDrive connector
func NewOneDrive(deps Deps) *OneDrive {
	return &OneDrive{
		base:      newBase("onedrive", deps),
		graphBase: onedriveGraphBase,
		loginBase: onedriveLoginBase,
	}
}

func (o *OneDrive) DisplayName() string { return "OneDrive" }

func (o *OneDrive) Description() string {
	return "Sync files with a Microsoft OneDrive account"
}

func (o *OneDrive) RequiredCredentials() []string {
	return []string{"client_id", "client_secret", "refresh_token"}
}

func (o *OneDrive) DefaultCollectionName() string { return "onedrive_files" }

// Connect exchanges the refresh token for an access token and verifies
// it with a drive lookup.
func (o *OneDrive) Connect(ctx context.Context, creds map[string]string) error {
	if err := validateRequired(o.id, creds, o.RequiredCredentials()); err != nil {
		return err
	}

	accessToken, expiresIn, err := o.exchangeRefreshToken(ctx,
		creds["client_id"], creds["client_secret"], creds["refresh_token"])
	if err != nil {
		return WrapError(o.id, "failed to obtain OneDrive access token", err)
	}

	status, _, err := o.graphGet(ctx, accessToken, "/me/drive")
	if err != nil {
		return WrapError(o.id, "network error contacting Microsoft Graph", err)
	}
	if status == http.StatusUnauthorized {
		return NewError(o.id, "OneDrive access token rejected")
	}
	if status != http.StatusOK {
		return NewError(o.id, fmt.Sprintf("Microsoft Graph API error: %d", status))
	}

	stored := map[string]string{
		"client_id":     creds["client_id"],
		"client_secret": creds["client_secret"],
		"refresh_token": creds["refresh_token"],
		"access_token":  accessToken,
	}
	var expiresAt *time.Time
	if expiresIn > 0 {
		expiry := time.Now().Add(time.Duration(expiresIn) * time.Second)
		expiresAt = &expiry
	}
	if err := o.storeCredentials(stored, expiresAt); err != nil {
		return WrapError(o.id, "failed to store credentials", err)
	}

	o.logger.Info("connected to OneDrive")
	return nil
}

// TestConnection verifies the cached access token, refreshing it exactly
// once when it is absent or rejected.
func (o *OneDrive) TestConnection(ctx context.Context) bool {
	if o.creds == nil {
		return false
	}

	accessToken := o.creds.Get("access_token")
	if accessToken != "" {
		status, _, err := o.graphGet(ctx, accessToken, "/me/drive")
		if err == nil && status == http.StatusOK {
			o.touchLastUsed()
			return true
		}
		if err == nil && status != http.StatusUnauthorized {
			return false
		}
	}

	refreshed, err := o.refreshAccessToken(ctx)
	if err != nil {
		return false
	}
	status, _, err := o.graphGet(ctx, refreshed, "/me/drive")
	if err != nil || status != http.StatusOK {
		return false
	}
	o.touchLastUsed()
	return true
}

type onedriveItem struct {
	ID                   string    `json:"id"`
	Name                 string    `json:"name"`
	Size                 int64     `json:"size"`
	LastModifiedDateTime time.Time `json:"lastModifiedDateTime"`
	File                 *struct {
		MimeType string `json:"mimeType"`
	} `json:"file"`
}

// Sync enumerates drive root files and ingests text content
func (o *OneDrive) Sync(ctx context.Context) (result SyncResult) {
	start := time.Now()
	result = SyncResult{Provider: o.id, CollectionName: o.DefaultCollectionName()}
	defer result.Finish(start)

	accessToken, err := o.currentAccessToken(ctx)
	if err != nil {
		result.ErrorMessage = err.Error()
		return result
	}

	status, body, err := o.graphGet(ctx, accessToken, "/me/drive/root/children")
	if err != nil {
		result.ErrorMessage = err.Error()
		return result
	}
	if status != http.StatusOK {
		result.ErrorMessage = fmt.Sprintf("drive listing returned %d", status)
		return result
	}

	var listing struct {
		Value []onedriveItem `json:"value"`
	}
	if err := json.Unmarshal(body, &listing); err != nil {
		result.ErrorMessage = err.Error()
		return result
	}

	for _, item := range listing.Value {
		if item.File == nil || !isTextName(item.Name) {
			continue
		}
		result.ItemsProcessed++
		content, err := o.fetchContent(ctx, accessToken, item.Name)
		if err != nil {
			o.logger.Error("failed to fetch file", logging.F("name", item.Name), logging.Err(err))
			result.ItemsFailed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", item.Name, err))
			continue
		}
		if err := o.ingestContent(o.DefaultCollectionName(), "onedrive_"+item.ID, content); err != nil {
			result.ItemsFailed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", item.Name, err))
			continue
		}
		result.ItemsAdded++
		result.ItemsSucceeded++
	}

	o.touchLastUsed()
	return result
}

func (o *OneDrive) Close() error { return nil }

// Upload writes a local file to OneDrive, replacing any existing file
func (o *OneDrive) Upload(ctx context.Context, localPath, remotePath string) error {
	accessToken, err := o.currentAccessToken(ctx)
	if err != nil {
		return err
	}

	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		o.graphBase+o.itemPath(remotePath)+":/content", f)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := o.client.Do(req)
	if err != nil {
		return WrapError(o.id, "upload failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return NewError(o.id, fmt.Sprintf("upload returned %d", resp.StatusCode))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Download fetches a OneDrive file into a temporary file
func (o *OneDrive) Download(ctx context.Context, remotePath string) (string, error) {
	accessToken, err := o.currentAccessToken(ctx)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		o.graphBase+o.itemPath(remotePath)+":/content", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := o.client.Do(req)
	if err != nil {
		return "", WrapError(o.id, "download failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", NewError(o.id, fmt.Sprintf("download returned %d", resp.StatusCode))
	}

	tmp, err := os.CreateTemp("", "cloudsync-onedrive-*")
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

// Stat reports the remote file's size and modification time
func (o *OneDrive) Stat(ctx context.Context, remotePath string) (*RemoteInfo, error) {
	accessToken, err := o.currentAccessToken(ctx)
	if err != nil {
		return nil, err
	}

	status, body, err := o.graphGet(ctx, accessToken, o.itemPath(remotePath))
	if err != nil {
		return nil, WrapError(o.id, "stat failed", err)
	}
	if status == http.StatusNotFound {
		return &RemoteInfo{Path: remotePath, Exists: false}, nil
	}
	if status != http.StatusOK {
		return nil, NewError(o.id, fmt.Sprintf("stat returned %d", status))
	}

	var item onedriveItem
	if err := json.Unmarshal(body, &item); err != nil {
		return nil, err
	}
	return &RemoteInfo{
		Path:    remotePath,
		Size:    item.Size,
		ModTime: item.LastModifiedDateTime,
		Exists:  true,
	}, nil
}

// currentAccessToken returns a usable access token, refreshing when the
// cached one is absent or expired.
func (o *OneDrive) currentAccessToken(ctx context.Context) (string, error) {
	if o.creds == nil {
		return "", NewError(o.id, "no OneDrive credentials available")
	}
	accessToken := o.creds.Get("access_token")
	if accessToken == "" || o.creds.IsExpired() {
		refreshed, err := o.refreshAccessToken(ctx)
		if err != nil {
			return "", WrapError(o.id, "token refresh failed", err)
		}
		accessToken = refreshed
	}
	return accessToken, nil
}

// refreshAccessToken runs one refresh-token grant and persists the new
// access token.
func (o *OneDrive) refreshAccessToken(ctx context.Context) (string, error) {
	if o.creds == nil {
		return "", NewError(o.id, "not connected")
	}
	accessToken, expiresIn, err := o.exchangeRefreshToken(ctx,
		o.creds.Get("client_id"), o.creds.Get("client_secret"), o.creds.Get("refresh_token"))
	if err != nil {
		return "", err
	}
	o.updateCredentialField("access_token", accessToken)
	if expiresIn > 0 {
		expiry := time.Now().Add(time.Duration(expiresIn) * time.Second)
		o.creds.ExpiresAt = &expiry
		if o.store != nil {
			_ = o.store.UpdateCredentials(o.id, o.creds)
		}
	}
	return accessToken, nil
}

func (o *OneDrive) exchangeRefreshToken(ctx context.Context, clientID, clientSecret, refreshToken string) (string, int, error) {
	if clientID == "" || refreshToken == "" {
		return "", 0, NewError(o.id, "missing client_id or refresh_token")
	}

	form := url.Values{}
	form.Set("client_id", clientID)
	form.Set("client_secret", clientSecret)
	form.Set("refresh_token", refreshToken)
	form.Set("grant_type", "refresh_token")
	form.Set("scope", "Files.ReadWrite offline_access")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		o.loginBase+"/common/oauth2/v2.0/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, err
	}
	if resp.StatusCode != http.StatusOK {
		return "", 0, NewError(o.id, fmt.Sprintf("token endpoint returned %d", resp.StatusCode))
	}

	var token struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &token); err != nil {
		return "", 0, err
	}
	if token.AccessToken == "" {
		return "", 0, NewError(o.id, "token endpoint returned no access token")
	}
	return token.AccessToken, token.ExpiresIn, nil
}

func (o *OneDrive) graphGet(ctx context.Context, accessToken, path string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.graphBase+path, nil)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := o.client.Do(req)
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

// fetchContent downloads a file's content into memory for ingestion
func (o *OneDrive) fetchContent(ctx context.Context, accessToken, name string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		o.graphBase+o.itemPath(name)+":/content", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := o.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("content fetch returned %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (o *OneDrive) itemPath(remotePath string) string {
	return "/me/drive/root:/" + strings.TrimPrefix(remotePath, "/")
}
