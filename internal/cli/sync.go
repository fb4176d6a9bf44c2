package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dl-alexandre/cloudsync/internal/syncer"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Manage sync configurations and run sync passes",
}

var (
	addItems      []string
	addCreds      []string
	addDirection  string
	addPolicy     string
	addAutoSync   bool
	addInterval   int
	addMaxSize    int64
	addEncrypt    bool
	addCompress   bool
)

var syncAddCmd = &cobra.Command{
	Use:   "add <provider>",
	Short: "Configure synchronization for a provider",
	Long: `Add registers a sync configuration for a provider. Items are given
as local=remote path pairs. If --cred flags are supplied the provider
is connected in the same step; credentials never land in the plaintext
configuration file.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.Close()

		items, err := parseItemFlags(args[0], addItems)
		if err != nil {
			return app.writeAppError("sync add", err)
		}
		cfg := &syncer.SyncConfig{
			Provider:           args[0],
			SyncItems:          items,
			AutoSync:           addAutoSync,
			SyncInterval:       addInterval,
			MaxFileSize:        addMaxSize,
			EncryptionEnabled:  addEncrypt,
			CompressionEnabled: addCompress,
			ConflictResolution: syncer.ConflictPolicy(addPolicy),
		}
		if len(addCreds) > 0 {
			creds, err := parseCredFlags(addCreds)
			if err != nil {
				return app.writeAppError("sync add", err)
			}
			cfg.Credentials = creds
		}
		if err := app.orchestrator.AddSyncConfig(cmd.Context(), cfg); err != nil {
			return app.writeAppError("sync add", err)
		}
		return app.out.WriteSuccess("sync add", map[string]interface{}{
			"provider":    args[0],
			"items":       len(items),
			"auto_sync":   cfg.AutoSync,
			"resolution":  string(cfg.ConflictResolution),
			"encryption":  cfg.EncryptionEnabled,
			"compression": cfg.CompressionEnabled,
		})
	},
}

var syncRemoveCmd = &cobra.Command{
	Use:   "remove <provider>",
	Short: "Remove a provider's sync configuration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.Close()

		if err := app.orchestrator.RemoveSyncConfig(args[0]); err != nil {
			return app.writeAppError("sync remove", err)
		}
		return app.out.WriteSuccess("sync remove", map[string]interface{}{
			"provider": args[0],
			"removed":  true,
		})
	},
}

var syncNowItems []string

var syncNowCmd = &cobra.Command{
	Use:   "now [provider]",
	Short: "Run a sync pass immediately",
	Long: `Now runs a blocking sync pass for one provider, or for every
configured provider when no argument is given. Use --item to restrict
the pass to specific local paths.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.Close()

		provider := ""
		if len(args) > 0 {
			provider = args[0]
		}
		results := app.orchestrator.SyncNow(cmd.Context(), provider, syncNowItems)
		return app.out.WriteSuccess("sync now", resultList(results))
	},
}

var syncStatusCmd = &cobra.Command{
	Use:   "status [provider]",
	Short: "Show sync state per provider",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.Close()

		provider := ""
		if len(args) > 0 {
			provider = args[0]
		}
		statuses := app.orchestrator.GetSyncStatus(provider)

		names := make([]string, 0, len(statuses))
		for name := range statuses {
			names = append(names, name)
		}
		sort.Strings(names)
		list := make(statusList, 0, len(names))
		for _, name := range names {
			list = append(list, statuses[name])
		}
		return app.out.WriteSuccess("sync status", list)
	},
}

var historyLimit int

var syncHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent sync passes, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.Close()

		results, err := app.orchestrator.GetSyncHistory(cmd.Context(), historyLimit)
		if err != nil {
			return app.writeAppError("sync history", err)
		}
		return app.out.WriteSuccess("sync history", historyList(results))
	},
}

var syncClearHistoryCmd = &cobra.Command{
	Use:   "clear-history",
	Short: "Delete all recorded sync history",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.Close()

		if err := app.orchestrator.ClearSyncHistory(cmd.Context()); err != nil {
			return app.writeAppError("sync clear-history", err)
		}
		return app.out.WriteSuccess("sync clear-history", map[string]interface{}{
			"cleared": true,
		})
	},
}

var resolveWinner string

var syncResolveCmd = &cobra.Command{
	Use:   "resolve <provider> <local-path>",
	Short: "Resolve a conflicted item",
	Long: `Resolve settles an item left in CONFLICT by a manual-resolution
policy. --winner local pushes the local file to the remote; --winner
remote overwrites the local file with the remote copy.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.Close()

		if err := app.orchestrator.ResolveConflict(cmd.Context(), args[0], args[1], resolveWinner); err != nil {
			return app.writeAppError("sync resolve", err)
		}
		return app.out.WriteSuccess("sync resolve", map[string]interface{}{
			"provider":   args[0],
			"local_path": args[1],
			"winner":     resolveWinner,
		})
	},
}

// parseItemFlags turns repeated local=remote pairs into sync items. A
// bare path maps to a remote path of the same name.
func parseItemFlags(provider string, flags []string) ([]syncer.SyncItem, error) {
	items := make([]syncer.SyncItem, 0, len(flags))
	for _, flag := range flags {
		local, remote, found := strings.Cut(flag, "=")
		if !found {
			remote = local
		}
		if local == "" || remote == "" {
			return nil, fmt.Errorf("invalid item %q, expected local=remote", flag)
		}
		items = append(items, syncer.SyncItem{
			LocalPath:  local,
			RemotePath: remote,
			Provider:   provider,
			Direction:  syncer.SyncDirection(strings.ToUpper(addDirection)),
		})
	}
	return items, nil
}

func init() {
	syncAddCmd.Flags().StringArrayVar(&addItems, "item", nil, "Tracked item as local=remote (repeatable)")
	syncAddCmd.Flags().StringArrayVar(&addCreds, "cred", nil, "Credential field as key=value (repeatable)")
	syncAddCmd.Flags().StringVar(&addDirection, "direction", "bidirectional", "Sync direction (upload, download, bidirectional)")
	syncAddCmd.Flags().StringVar(&addPolicy, "resolution", "newer_wins", "Conflict policy (newer_wins, local_wins, remote_wins, manual)")
	syncAddCmd.Flags().BoolVar(&addAutoSync, "auto", false, "Enable background auto-sync")
	syncAddCmd.Flags().IntVar(&addInterval, "interval", 300, "Auto-sync interval in seconds")
	syncAddCmd.Flags().Int64Var(&addMaxSize, "max-size", 0, "Maximum file size in bytes (0 = unlimited)")
	syncAddCmd.Flags().BoolVar(&addEncrypt, "encrypt", false, "Encrypt file content before upload")
	syncAddCmd.Flags().BoolVar(&addCompress, "compress", false, "Compress file content before upload")

	syncNowCmd.Flags().StringArrayVar(&syncNowItems, "item", nil, "Restrict the pass to these local paths (repeatable)")
	syncHistoryCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum entries to show")
	syncResolveCmd.Flags().StringVar(&resolveWinner, "winner", "", "Conflict winner (local or remote)")
	_ = syncResolveCmd.MarkFlagRequired("winner")

	syncCmd.AddCommand(syncAddCmd)
	syncCmd.AddCommand(syncRemoveCmd)
	syncCmd.AddCommand(syncNowCmd)
	syncCmd.AddCommand(syncStatusCmd)
	syncCmd.AddCommand(syncHistoryCmd)
	syncCmd.AddCommand(syncClearHistoryCmd)
	syncCmd.AddCommand(syncResolveCmd)
	rootCmd.AddCommand(syncCmd)
}
