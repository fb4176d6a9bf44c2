package connector

import (
	"bytes"
	"context"
	"encoding/base64"
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

const githubAPIBase = "https://api.github.com"

// GitHub syncs files from a repository using a personal access token.
type GitHub struct {
	base
	apiBase string
}

// NewGitHub creates the GitHub connector
func NewGitHub(deps Deps) *GitHub {
	return &GitHub{
		base:    newBase("github", deps),
		apiBase: githubAPIBase,
	}
}

func (g *GitHub) DisplayName() string { return "GitHub" }

func (g *GitHub) Description() string {
	return "Sync markdown and text files from GitHub repositories"
}

func (g *GitHub) RequiredCredentials() []string {
	return []string{"token", "repository"}
}

func (g *GitHub) DefaultCollectionName() string { return "github_docs" }

// Connect verifies the token against the repository and stores the
// credentials along with repository metadata.
func (g *GitHub) Connect(ctx context.Context, creds map[string]string) error {
	if err := validateRequired(g.id, creds, g.RequiredCredentials()); err != nil {
		return err
	}

	repository := creds["repository"]
	var repo struct {
		Name          string `json:"name"`
		Description   string `json:"description"`
		DefaultBranch string `json:"default_branch"`
	}
	status, err := g.getJSON(ctx, creds["token"], "/repos/"+repository, &repo)
	if err != nil {
		return WrapError(g.id, "network error contacting GitHub", err)
	}
	switch {
	case status == http.StatusOK:
	case status == http.StatusNotFound:
		return NewError(g.id, "repository not found or not accessible")
	case status == http.StatusUnauthorized:
		return NewError(g.id, "invalid GitHub token")
	default:
		return NewError(g.id, fmt.Sprintf("GitHub API error: %d", status))
	}

	stored := map[string]string{
		"token":          creds["token"],
		"repository":     repository,
		"repo_name":      repo.Name,
		"default_branch": repo.DefaultBranch,
	}
	if stored["default_branch"] == "" {
		stored["default_branch"] = "main"
	}
	if err := g.storeCredentials(stored, nil); err != nil {
		return WrapError(g.id, "failed to store credentials", err)
	}

	g.logger.Info("connected to GitHub repository", logging.F("repository", repository))
	return nil
}

// TestConnection verifies the stored token is still usable. Personal
// access tokens cannot be refreshed; an unauthorized response is final.
func (g *GitHub) TestConnection(ctx context.Context) bool {
	if g.creds == nil {
		return false
	}
	token := g.creds.Get("token")
	repository := g.creds.Get("repository")
	if token == "" || repository == "" {
		return false
	}

	status, err := g.getJSON(ctx, token, "/repos/"+repository, nil)
	if err != nil {
		return false
	}
	g.touchLastUsed()
	return status == http.StatusOK
}

// Sync enumerates text files in the repository tree and forwards their
// content to the ingestion sink.
func (g *GitHub) Sync(ctx context.Context) (result SyncResult) {
	start := time.Now()
	result = SyncResult{Provider: g.id, CollectionName: g.DefaultCollectionName()}
	defer result.Finish(start)

	if g.creds == nil {
		result.ErrorMessage = "no GitHub credentials available"
		return result
	}
	token := g.creds.Get("token")
	repository := g.creds.Get("repository")
	branch := g.creds.Get("default_branch")
	if branch == "" {
		branch = "main"
	}
	if token == "" || repository == "" {
		result.ErrorMessage = "missing GitHub token or repository in credentials"
		return result
	}

	files, err := g.listTree(ctx, token, repository, branch)
	if err != nil {
		result.ErrorMessage = err.Error()
		return result
	}

	result.ItemsProcessed = len(files)
	for _, file := range files {
		if err := g.processFile(ctx, token, repository, file); err != nil {
			g.logger.Error("failed to process file",
				logging.F("path", file.Path), logging.Err(err))
			result.ItemsFailed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", file.Path, err))
			continue
		}
		result.ItemsAdded++
		result.ItemsSucceeded++
	}

	g.touchLastUsed()
	return result
}

func (g *GitHub) Close() error { return nil }

type githubTreeEntry struct {
	Path string `json:"path"`
	Type string `json:"type"`
	SHA  string `json:"sha"`
}

func (g *GitHub) listTree(ctx context.Context, token, repository, branch string) ([]githubTreeEntry, error) {
	var tree struct {
		Tree []githubTreeEntry `json:"tree"`
	}
	path := fmt.Sprintf("/repos/%s/git/trees/%s?recursive=1", repository, branch)
	status, err := g.getJSON(ctx, token, path, &tree)
	if err != nil {
		return nil, WrapError(g.id, "failed to get repository tree", err)
	}
	if status != http.StatusOK {
		return nil, NewError(g.id, fmt.Sprintf("failed to get repository tree: %d", status))
	}

	var files []githubTreeEntry
	for _, entry := range tree.Tree {
		if entry.Type != "blob" {
			continue
		}
		lower := strings.ToLower(entry.Path)
		for _, ext := range textFileExtensions {
			if strings.HasSuffix(lower, ext) {
				files = append(files, entry)
				break
			}
		}
	}
	g.logger.Info("found text files in repository",
		logging.F("repository", repository), logging.F("count", len(files)))
	return files, nil
}

func (g *GitHub) processFile(ctx context.Context, token, repository string, file githubTreeEntry) error {
	var blob struct {
		Content  string `json:"content"`
		Encoding string `json:"encoding"`
	}
	status, err := g.getJSON(ctx, token, fmt.Sprintf("/repos/%s/git/blobs/%s", repository, file.SHA), &blob)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("blob fetch returned %d", status)
	}

	content := blob.Content
	if blob.Encoding == "base64" {
		decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(blob.Content, "\n", ""))
		if err != nil {
			return fmt.Errorf("invalid blob encoding: %w", err)
		}
		content = string(decoded)
	}
	if strings.TrimSpace(content) == "" {
		return nil
	}

	itemID := fmt.Sprintf("github_%s_%s",
		strings.ReplaceAll(repository, "/", "_"),
		strings.ReplaceAll(file.Path, "/", "_"))
	return g.ingestContent(g.DefaultCollectionName(), itemID, content)
}

// Upload writes a local file to the repository via the contents API
func (g *GitHub) Upload(ctx context.Context, localPath, remotePath string) error {
	if g.creds == nil {
		return NewError(g.id, "not connected")
	}
	token := g.creds.Get("token")
	repository := g.creds.Get("repository")

	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}

	// The contents API needs the current blob SHA to update an existing
	// file.
	sha := ""
	var existing struct {
		SHA string `json:"sha"`
	}
	status, err := g.getJSON(ctx, token, g.contentsPath(repository, remotePath), &existing)
	if err == nil && status == http.StatusOK {
		sha = existing.SHA
	}

	body := map[string]string{
		"message": fmt.Sprintf("cloudsync: update %s", remotePath),
		"content": base64.StdEncoding.EncodeToString(data),
	}
	if sha != "" {
		body["sha"] = sha
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := g.newRequest(ctx, http.MethodPut, g.contentsPath(repository, remotePath), token, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return WrapError(g.id, "upload failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return NewError(g.id, fmt.Sprintf("upload returned %d", resp.StatusCode))
	}
	return nil
}

// Download fetches a repository file into a temporary file
func (g *GitHub) Download(ctx context.Context, remotePath string) (string, error) {
	if g.creds == nil {
		return "", NewError(g.id, "not connected")
	}
	token := g.creds.Get("token")
	repository := g.creds.Get("repository")

	var file struct {
		Content  string `json:"content"`
		Encoding string `json:"encoding"`
	}
	status, err := g.getJSON(ctx, token, g.contentsPath(repository, remotePath), &file)
	if err != nil {
		return "", WrapError(g.id, "download failed", err)
	}
	if status != http.StatusOK {
		return "", NewError(g.id, fmt.Sprintf("download returned %d", status))
	}

	data := []byte(file.Content)
	if file.Encoding == "base64" {
		data, err = base64.StdEncoding.DecodeString(strings.ReplaceAll(file.Content, "\n", ""))
		if err != nil {
			return "", fmt.Errorf("invalid content encoding: %w", err)
		}
	}

	tmp, err := os.CreateTemp("", "cloudsync-github-*")
	if err != nil {
		return "", err
	}
	if _, err := tmp.Write(data); err != nil {
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

// Stat reports the remote file's size and last commit time
func (g *GitHub) Stat(ctx context.Context, remotePath string) (*RemoteInfo, error) {
	if g.creds == nil {
		return nil, NewError(g.id, "not connected")
	}
	token := g.creds.Get("token")
	repository := g.creds.Get("repository")

	var file struct {
		Size int64 `json:"size"`
	}
	status, err := g.getJSON(ctx, token, g.contentsPath(repository, remotePath), &file)
	if err != nil {
		return nil, WrapError(g.id, "stat failed", err)
	}
	if status == http.StatusNotFound {
		return &RemoteInfo{Path: remotePath, Exists: false}, nil
	}
	if status != http.StatusOK {
		return nil, NewError(g.id, fmt.Sprintf("stat returned %d", status))
	}

	info := &RemoteInfo{Path: remotePath, Size: file.Size, Exists: true}

	var commits []struct {
		Commit struct {
			Committer struct {
				Date time.Time `json:"date"`
			} `json:"committer"`
		} `json:"commit"`
	}
	commitsPath := fmt.Sprintf("/repos/%s/commits?path=%s&per_page=1", repository, url.QueryEscape(strings.TrimPrefix(remotePath, "/")))
	if status, err := g.getJSON(ctx, token, commitsPath, &commits); err == nil && status == http.StatusOK && len(commits) > 0 {
		info.ModTime = commits[0].Commit.Committer.Date
	}
	return info, nil
}

func (g *GitHub) contentsPath(repository, remotePath string) string {
	return fmt.Sprintf("/repos/%s/contents/%s", repository, strings.TrimPrefix(remotePath, "/"))
}

func (g *GitHub) newRequest(ctx context.Context, method, path, token string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, g.apiBase+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", "cloudsync")
	return req, nil
}

// getJSON issues an authenticated GET and decodes the response body into
// out when it is non-nil. The HTTP status is always returned.
func (g *GitHub) getJSON(ctx context.Context, token, path string, out interface{}) (int, error) {
	req, err := g.newRequest(ctx, http.MethodGet, path, token, nil)
	if err != nil {
		return 0, err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}
	return resp.StatusCode, nil
}
