package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dl-alexandre/cloudsync/internal/connector"
)

var connectCreds []string

var connectCmd = &cobra.Command{
	Use:   "connect <provider>",
	Short: "Connect a storage provider",
	Long: `Connect verifies the supplied credentials against the provider and
stores them encrypted at rest. Credential fields are passed with
repeated --cred key=value flags; run without --cred to list the fields
a provider requires.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.Close()

		provider := args[0]
		conn, err := app.registry.Get(provider)
		if err != nil {
			return app.writeAppError("connect", err)
		}

		if len(connectCreds) == 0 {
			return app.out.WriteSuccess("connect", map[string]interface{}{
				"provider":             provider,
				"display_name":         conn.DisplayName(),
				"required_credentials": strings.Join(conn.RequiredCredentials(), ", "),
			})
		}

		creds, err := parseCredFlags(connectCreds)
		if err != nil {
			return app.writeAppError("connect", err)
		}
		if err := conn.Connect(cmd.Context(), creds); err != nil {
			return app.writeAppError("connect", err)
		}
		return app.out.WriteSuccess("connect", map[string]interface{}{
			"provider": provider,
			"status":   string(conn.Status()),
		})
	},
}

var disconnectCmd = &cobra.Command{
	Use:   "disconnect <provider>",
	Short: "Remove a provider's stored credentials",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.Close()

		provider := args[0]
		if !app.registry.Known(provider) {
			return app.writeAppError("disconnect",
				connector.NewError(provider, "unknown provider"))
		}
		if err := app.store.DeleteCredentials(provider); err != nil {
			return app.writeAppError("disconnect", err)
		}
		app.registry.Drop(provider)
		return app.out.WriteSuccess("disconnect", map[string]interface{}{
			"provider": provider,
			"status":   string(connector.StatusNotConnected),
		})
	},
}

var testCmd = &cobra.Command{
	Use:   "test <provider>",
	Short: "Verify a provider connection",
	Long: `Test performs an idempotent verification call. On an unauthorized
response the connector attempts exactly one token refresh before
retrying.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.Close()

		conn, err := app.registry.Get(args[0])
		if err != nil {
			return app.writeAppError("test", err)
		}
		ok := conn.TestConnection(cmd.Context())
		return app.out.WriteSuccess("test", map[string]interface{}{
			"provider":  args[0],
			"reachable": ok,
			"status":    string(conn.Status()),
		})
	},
}

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List available storage providers",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.Close()

		var rows []providerRow
		for _, id := range app.registry.Providers() {
			conn, err := app.registry.Get(id)
			if err != nil {
				continue
			}
			rows = append(rows, providerRow{
				ID:          id,
				DisplayName: conn.DisplayName(),
				Description: conn.Description(),
				Status:      string(conn.Status()),
			})
		}
		return app.out.WriteSuccess("providers", providerList(rows))
	},
}

func parseCredFlags(flags []string) (map[string]string, error) {
	creds := make(map[string]string, len(flags))
	for _, flag := range flags {
		key, value, found := strings.Cut(flag, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("invalid credential %q, expected key=value", flag)
		}
		creds[key] = value
	}
	return creds, nil
}

func init() {
	connectCmd.Flags().StringArrayVar(&connectCreds, "cred", nil, "Credential field as key=value (repeatable)")

	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(disconnectCmd)
	rootCmd.AddCommand(testCmd)
	rootCmd.AddCommand(providersCmd)
}
