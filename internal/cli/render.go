package cli

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dl-alexandre/cloudsync/internal/config"
	"github.com/dl-alexandre/cloudsync/internal/connector"
	"github.com/dl-alexandre/cloudsync/internal/syncer"
	"github.com/dl-alexandre/cloudsync/internal/types"
)

// providerRow is one provider in the providers listing
type providerRow struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Description string `json:"description"`
	Status      string `json:"status"`
}

type providerList []providerRow

func (l providerList) AsTableRenderer() types.TableRenderer {
	rows := make([][]string, 0, len(l))
	for _, p := range l {
		rows = append(rows, []string{p.ID, p.DisplayName, p.Status, p.Description})
	}
	return types.Table{
		Header: []string{"ID", "Name", "Status", "Description"},
		Body:   rows,
		Empty:  "No providers registered.",
	}
}

// statusList renders provider sync status, one row per tracked item
// summary.
type statusList []syncer.ProviderStatus

func (l statusList) AsTableRenderer() types.TableRenderer {
	rows := make([][]string, 0, len(l))
	for _, s := range l {
		lastPass := "never"
		if s.LastPass != nil {
			lastPass = s.LastPass.Format(time.RFC3339)
		}
		auto := "off"
		if s.AutoSync {
			auto = fmt.Sprintf("every %ds", s.SyncInterval)
		}
		rows = append(rows, []string{
			s.Provider,
			string(s.Connection),
			fmt.Sprint(s.TotalItems),
			summarizeStatuses(s.ItemsByStatus),
			auto,
			lastPass,
		})
	}
	return types.Table{
		Header: []string{"Provider", "Connection", "Items", "Breakdown", "Auto-Sync", "Last Pass"},
		Body:   rows,
		Empty:  "No sync configurations. Add one with 'cloudsync sync add'.",
	}
}

func summarizeStatuses(byStatus map[syncer.SyncStatus]int) string {
	if len(byStatus) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(byStatus))
	for status := range byStatus {
		keys = append(keys, string(status))
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", strings.ToLower(key), byStatus[syncer.SyncStatus(key)]))
	}
	return strings.Join(parts, " ")
}

// resultList renders the outcome of a sync pass, sorted by provider
type resultList map[string]connector.SyncResult

func (l resultList) AsTableRenderer() types.TableRenderer {
	providers := make([]string, 0, len(l))
	for provider := range l {
		providers = append(providers, provider)
	}
	sort.Strings(providers)

	rows := make([][]string, 0, len(providers))
	for _, provider := range providers {
		rows = append(rows, resultRow(provider, l[provider]))
	}
	return types.Table{
		Header: []string{"Provider", "Result", "Processed", "Added", "Updated", "Failed", "Duration", "Error"},
		Body:   rows,
		Empty:  "Nothing to sync.",
	}
}

// historyList renders stored sync history, newest first
type historyList []connector.SyncResult

func (l historyList) AsTableRenderer() types.TableRenderer {
	rows := make([][]string, 0, len(l))
	for _, r := range l {
		row := resultRow(r.Provider, r)
		row = append([]string{r.SyncTimestamp.Format(time.RFC3339)}, row...)
		rows = append(rows, row)
	}
	return types.Table{
		Header: []string{"Timestamp", "Provider", "Result", "Processed", "Added", "Updated", "Failed", "Duration", "Error"},
		Body:   rows,
		Empty:  "No sync history recorded.",
	}
}

func resultRow(provider string, r connector.SyncResult) []string {
	outcome := "ok"
	if !r.Success {
		outcome = "failed"
	}
	return []string{
		provider,
		outcome,
		fmt.Sprint(r.ItemsProcessed),
		fmt.Sprint(r.ItemsAdded),
		fmt.Sprint(r.ItemsUpdated),
		fmt.Sprint(r.ItemsFailed),
		fmt.Sprintf("%.2fs", r.DurationSeconds),
		config.TruncateString(r.ErrorMessage, 48),
	}
}
