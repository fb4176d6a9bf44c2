package connector

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	drive "google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/dl-alexandre/cloudsync/internal/logging"
)

// GoogleDrive syncs files through the Drive v3 API. Credentials are an
// OAuth client plus refresh token; access tokens are cached in the
// credential record and refreshed on demand.
type GoogleDrive struct {
	base
}

// NewGoogleDrive creates the Google Drive connector
func NewGoogleDrive(deps Deps) *GoogleDrive {
	return &GoogleDrive{base: newBase("gdrive", deps)}
}

func (g *GoogleDrive) DisplayName() string { return "Google Drive" }

func (g *GoogleDrive) Description() string {
	return "Sync files with a Google Drive account"
}

func (g *GoogleDrive) RequiredCredentials() []string {
	return []string{"client_id", "client_secret", "refresh_token"}
}

func (g *GoogleDrive) DefaultCollectionName() string { return "gdrive_files" }

// Connect exchanges the refresh token for an access token and verifies
// it with an about call.
func (g *GoogleDrive) Connect(ctx context.Context, creds map[string]string) error {
	if err := validateRequired(g.id, creds, g.RequiredCredentials()); err != nil {
		return err
	}

	token, err := g.exchangeRefreshToken(ctx, creds["client_id"], creds["client_secret"], creds["refresh_token"])
	if err != nil {
		return WrapError(g.id, "failed to obtain Google Drive access token", err)
	}

	svc, err := g.service(ctx, token.AccessToken)
	if err != nil {
		return WrapError(g.id, "failed to create Drive service", err)
	}
	if _, err := svc.About.Get().Fields("user").Context(ctx).Do(); err != nil {
		return WrapError(g.id, "Google Drive verification call failed", err)
	}

	stored := map[string]string{
		"client_id":     creds["client_id"],
		"client_secret": creds["client_secret"],
		"refresh_token": creds["refresh_token"],
		"access_token":  token.AccessToken,
	}
	var expiresAt *time.Time
	if !token.Expiry.IsZero() {
		expiry := token.Expiry
		expiresAt = &expiry
	}
	if err := g.storeCredentials(stored, expiresAt); err != nil {
		return WrapError(g.id, "failed to store credentials", err)
	}

	g.logger.Info("connected to Google Drive")
	return nil
}

// TestConnection verifies the cached access token, refreshing it exactly
// once when it is absent or rejected.
func (g *GoogleDrive) TestConnection(ctx context.Context) bool {
	if g.creds == nil {
		return false
	}

	accessToken := g.creds.Get("access_token")
	if accessToken == "" {
		refreshed, err := g.refreshAccessToken(ctx)
		if err != nil {
			return false
		}
		accessToken = refreshed
	}

	if g.verify(ctx, accessToken) {
		g.touchLastUsed()
		return true
	}

	refreshed, err := g.refreshAccessToken(ctx)
	if err != nil {
		return false
	}
	if g.verify(ctx, refreshed) {
		g.touchLastUsed()
		return true
	}
	return false
}

// Sync enumerates text files in Drive and ingests their content
func (g *GoogleDrive) Sync(ctx context.Context) (result SyncResult) {
	start := time.Now()
	result = SyncResult{Provider: g.id, CollectionName: g.DefaultCollectionName()}
	defer result.Finish(start)

	svc, err := g.connectedService(ctx)
	if err != nil {
		result.ErrorMessage = err.Error()
		return result
	}

	query := "trashed = false and (mimeType = 'text/plain' or mimeType = 'text/markdown')"
	var files []*drive.File
	call := svc.Files.List().Q(query).Fields("nextPageToken, files(id, name, size, modifiedTime)").PageSize(100)
	if err := call.Pages(ctx, func(page *drive.FileList) error {
		files = append(files, page.Files...)
		return nil
	}); err != nil {
		result.ErrorMessage = fmt.Sprintf("file listing failed: %v", err)
		return result
	}

	result.ItemsProcessed = len(files)
	for _, file := range files {
		content, err := g.fetchFileContent(ctx, svc, file.Id)
		if err != nil {
			g.logger.Error("failed to fetch file", logging.F("file_id", file.Id), logging.Err(err))
			result.ItemsFailed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", file.Name, err))
			continue
		}
		if err := g.ingestContent(g.DefaultCollectionName(), "gdrive_"+file.Id, content); err != nil {
			result.ItemsFailed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", file.Name, err))
			continue
		}
		result.ItemsAdded++
		result.ItemsSucceeded++
	}

	g.touchLastUsed()
	return result
}

func (g *GoogleDrive) Close() error { return nil }

// Upload writes a local file to Drive, updating in place when the remote
// name already exists.
func (g *GoogleDrive) Upload(ctx context.Context, localPath, remotePath string) error {
	svc, err := g.connectedService(ctx)
	if err != nil {
		return err
	}

	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	name := remoteName(remotePath)
	existing, err := g.findByName(ctx, svc, name)
	if err != nil {
		return err
	}

	if existing != nil {
		_, err = svc.Files.Update(existing.Id, &drive.File{}).Media(f).Context(ctx).Do()
	} else {
		_, err = svc.Files.Create(&drive.File{Name: name}).Media(f).Context(ctx).Do()
	}
	if err != nil {
		return WrapError(g.id, "upload failed", err)
	}
	return nil
}

// Download fetches a Drive file into a temporary file
func (g *GoogleDrive) Download(ctx context.Context, remotePath string) (string, error) {
	svc, err := g.connectedService(ctx)
	if err != nil {
		return "", err
	}

	existing, err := g.findByName(ctx, svc, remoteName(remotePath))
	if err != nil {
		return "", err
	}
	if existing == nil {
		return "", NewError(g.id, fmt.Sprintf("remote file %q not found", remotePath))
	}

	resp, err := svc.Files.Get(existing.Id).Context(ctx).Download()
	if err != nil {
		return "", WrapError(g.id, "download failed", err)
	}
	defer resp.Body.Close()

	tmp, err := os.CreateTemp("", "cloudsync-gdrive-*")
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
func (g *GoogleDrive) Stat(ctx context.Context, remotePath string) (*RemoteInfo, error) {
	svc, err := g.connectedService(ctx)
	if err != nil {
		return nil, err
	}

	existing, err := g.findByName(ctx, svc, remoteName(remotePath))
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return &RemoteInfo{Path: remotePath, Exists: false}, nil
	}

	info := &RemoteInfo{Path: remotePath, Size: existing.Size, Exists: true}
	if existing.ModifiedTime != "" {
		if t, err := time.Parse(time.RFC3339, existing.ModifiedTime); err == nil {
			info.ModTime = t
		}
	}
	return info, nil
}

func (g *GoogleDrive) connectedService(ctx context.Context) (*drive.Service, error) {
	if g.creds == nil {
		return nil, NewError(g.id, "no Google Drive credentials available")
	}
	accessToken := g.creds.Get("access_token")
	if accessToken == "" || g.creds.IsExpired() {
		refreshed, err := g.refreshAccessToken(ctx)
		if err != nil {
			return nil, WrapError(g.id, "token refresh failed", err)
		}
		accessToken = refreshed
	}
	return g.service(ctx, accessToken)
}

func (g *GoogleDrive) service(ctx context.Context, accessToken string) (*drive.Service, error) {
	source := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})
	return drive.NewService(ctx,
		option.WithTokenSource(source),
		option.WithHTTPClient(oauth2.NewClient(ctx, source)))
}

func (g *GoogleDrive) verify(ctx context.Context, accessToken string) bool {
	svc, err := g.service(ctx, accessToken)
	if err != nil {
		return false
	}
	_, err = svc.About.Get().Fields("user").Context(ctx).Do()
	return err == nil
}

// refreshAccessToken runs one refresh-token grant and persists the new
// access token.
func (g *GoogleDrive) refreshAccessToken(ctx context.Context) (string, error) {
	if g.creds == nil {
		return "", NewError(g.id, "not connected")
	}
	token, err := g.exchangeRefreshToken(ctx,
		g.creds.Get("client_id"), g.creds.Get("client_secret"), g.creds.Get("refresh_token"))
	if err != nil {
		return "", err
	}
	g.updateCredentialField("access_token", token.AccessToken)
	if !token.Expiry.IsZero() {
		expiry := token.Expiry
		g.creds.ExpiresAt = &expiry
		if g.store != nil {
			_ = g.store.UpdateCredentials(g.id, g.creds)
		}
	}
	return token.AccessToken, nil
}

func (g *GoogleDrive) exchangeRefreshToken(ctx context.Context, clientID, clientSecret, refreshToken string) (*oauth2.Token, error) {
	if clientID == "" || clientSecret == "" || refreshToken == "" {
		return nil, NewError(g.id, "missing client_id, client_secret or refresh_token")
	}
	cfg := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{drive.DriveScope},
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, g.client)
	return cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
}

// fetchFileContent downloads a file's media content into memory
func (g *GoogleDrive) fetchFileContent(ctx context.Context, svc *drive.Service, fileID string) (string, error) {
	resp, err := svc.Files.Get(fileID).Context(ctx).Download()
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (g *GoogleDrive) findByName(ctx context.Context, svc *drive.Service, name string) (*drive.File, error) {
	query := fmt.Sprintf("name = '%s' and trashed = false", strings.ReplaceAll(name, "'", "\\'"))
	list, err := svc.Files.List().Q(query).
		Fields("files(id, name, size, modifiedTime)").PageSize(1).Context(ctx).Do()
	if err != nil {
		return nil, WrapError(g.id, "file lookup failed", err)
	}
	if len(list.Files) == 0 {
		return nil, nil
	}
	return list.Files[0], nil
}

func remoteName(remotePath string) string {
	trimmed := strings.TrimPrefix(remotePath, "/")
	if idx := strings.LastIndex(trimmed, "/"); idx >= 0 {
		return trimmed[idx+1:]
	}
	return trimmed
}
