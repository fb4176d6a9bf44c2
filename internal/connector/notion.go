package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dl-alexandre/cloudsync/internal/logging"
)

const (
	notionAPIBase = "https://api.notion.com"
	notionVersion = "2022-06-28"
)

// Notion ingests workspace pages. It is not a file store, so it carries
// no upload/download primitives; only connector-level sync applies.
type Notion struct {
	base
	apiBase string
}

// NewNotion creates the Notion connector
func NewNotion(deps Deps) *Notion {
	return &Notion{
		base:    newBase("notion", deps),
		apiBase: notionAPIBase,
	}
}

func (n *Notion) DisplayName() string { return "Notion" }

func (n *Notion) Description() string {
	return "Sync pages from a Notion workspace"
}

func (n *Notion) RequiredCredentials() []string {
	return []string{"token"}
}

func (n *Notion) DefaultCollectionName() string { return "notion_pages" }

// Connect verifies the integration token with a users/me lookup
func (n *Notion) Connect(ctx context.Context, creds map[string]string) error {
	if err := validateRequired(n.id, creds, n.RequiredCredentials()); err != nil {
		return err
	}

	status, _, err := n.call(ctx, creds["token"], http.MethodGet, "/v1/users/me", nil)
	if err != nil {
		return WrapError(n.id, "network error contacting Notion", err)
	}
	if status == http.StatusUnauthorized {
		return NewError(n.id, "invalid Notion integration token")
	}
	if status != http.StatusOK {
		return NewError(n.id, fmt.Sprintf("Notion API error: %d", status))
	}

	if err := n.storeCredentials(map[string]string{"token": creds["token"]}, nil); err != nil {
		return WrapError(n.id, "failed to store credentials", err)
	}
	n.logger.Info("connected to Notion workspace")
	return nil
}

// TestConnection verifies the stored token. Integration tokens have no
// refresh grant; unauthorized is final.
func (n *Notion) TestConnection(ctx context.Context) bool {
	if n.creds == nil {
		return false
	}
	token := n.creds.Get("token")
	if token == "" {
		return false
	}
	status, _, err := n.call(ctx, token, http.MethodGet, "/v1/users/me", nil)
	if err != nil {
		return false
	}
	n.touchLastUsed()
	return status == http.StatusOK
}

// Sync enumerates accessible pages and ingests their text content
func (n *Notion) Sync(ctx context.Context) (result SyncResult) {
	start := time.Now()
	result = SyncResult{Provider: n.id, CollectionName: n.DefaultCollectionName()}
	defer result.Finish(start)

	if n.creds == nil {
		result.ErrorMessage = "no Notion credentials available"
		return result
	}
	token := n.creds.Get("token")

	pages, err := n.searchPages(ctx, token)
	if err != nil {
		result.ErrorMessage = err.Error()
		return result
	}

	result.ItemsProcessed = len(pages)
	for _, page := range pages {
		content, err := n.pageText(ctx, token, page.ID)
		if err != nil {
			n.logger.Error("failed to read page", logging.F("page_id", page.ID), logging.Err(err))
			result.ItemsFailed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", page.ID, err))
			continue
		}
		if strings.TrimSpace(content) == "" {
			result.ItemsSucceeded++
			continue
		}
		if err := n.ingestContent(n.DefaultCollectionName(), "notion_"+page.ID, content); err != nil {
			result.ItemsFailed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", page.ID, err))
			continue
		}
		result.ItemsAdded++
		result.ItemsSucceeded++
	}

	n.touchLastUsed()
	return result
}

func (n *Notion) Close() error { return nil }

type notionPage struct {
	ID string `json:"id"`
}

func (n *Notion) searchPages(ctx context.Context, token string) ([]notionPage, error) {
	arg := map[string]interface{}{
		"filter": map[string]string{"property": "object", "value": "page"},
	}
	status, body, err := n.call(ctx, token, http.MethodPost, "/v1/search", arg)
	if err != nil {
		return nil, WrapError(n.id, "page search failed", err)
	}
	if status != http.StatusOK {
		return nil, NewError(n.id, fmt.Sprintf("page search returned %d", status))
	}

	var parsed struct {
		Results []notionPage `json:"results"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, err
	}
	n.logger.Info("found Notion pages", logging.F("count", len(parsed.Results)))
	return parsed.Results, nil
}

// pageText flattens a page's block children into plain text
func (n *Notion) pageText(ctx context.Context, token, pageID string) (string, error) {
	status, body, err := n.call(ctx, token, http.MethodGet, "/v1/blocks/"+pageID+"/children?page_size=100", nil)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("block fetch returned %d", status)
	}

	var parsed struct {
		Results []map[string]json.RawMessage `json:"results"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, block := range parsed.Results {
		blockType := ""
		if raw, ok := block["type"]; ok {
			_ = json.Unmarshal(raw, &blockType)
		}
		raw, ok := block[blockType]
		if !ok {
			continue
		}
		var payload struct {
			RichText []struct {
				PlainText string `json:"plain_text"`
			} `json:"rich_text"`
		}
		if err := json.Unmarshal(raw, &payload); err != nil {
			continue
		}
		for _, rt := range payload.RichText {
			sb.WriteString(rt.PlainText)
		}
		if len(payload.RichText) > 0 {
			sb.WriteString("\n")
		}
	}
	return sb.String(), nil
}

func (n *Notion) call(ctx context.Context, token, method, path string, arg interface{}) (int, []byte, error) {
	var body io.Reader
	if arg != nil {
		payload, err := json.Marshal(arg)
		if err != nil {
			return 0, nil, err
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, n.apiBase+path, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Notion-Version", notionVersion)
	if arg != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := n.client.Do(req)
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
