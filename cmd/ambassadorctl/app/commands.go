// Package app provides the entry point for ambassadorctl, a thin
// administration CLI that talks to a running ambassadord's admin HTTP API.
package app

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mcpambassador/server/internal/ambassadorlog"
)

var rootCmd = &cobra.Command{
	Use:               "ambassadorctl",
	DisableAutoGenTag: true,
	Short:             "Administer a running MCP Ambassador daemon",
	Long: `ambassadorctl is a local operator tool for a running ambassadord
instance: inspecting backend health, restarting a misbehaving backend,
terminating a client's session, querying the audit log, and triggering a
catalog reload.`,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		ambassadorlog.Initialize()
	},
}

// NewRootCmd creates the root command for the ambassadorctl CLI.
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().String("server", "http://127.0.0.1:8080", "ambassadord admin API base URL")
	rootCmd.PersistentFlags().String("admin-key", "", "admin key (amb_ak_...), overrides AMBASSADORCTL_ADMIN_KEY")
	_ = viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))
	_ = viper.BindPFlag("admin_key", rootCmd.PersistentFlags().Lookup("admin-key"))
	viper.SetEnvPrefix("ambassadorctl")
	viper.AutomaticEnv()

	rootCmd.AddCommand(newHealthCmd())
	rootCmd.AddCommand(newRestartCmd())
	rootCmd.AddCommand(newTerminateCmd())
	rootCmd.AddCommand(newAuditCmd())
	rootCmd.AddCommand(newReloadCmd())

	rootCmd.SilenceUsage = true
	return rootCmd
}

func clientFromFlags() *adminClient {
	return newAdminClient(viper.GetString("server"), viper.GetString("admin_key"))
}

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "List the health of every shared backend connection",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var out []map[string]any
			if err := clientFromFlags().get(cmd.Context(), "/v1/admin/health/mcps", nil, &out); err != nil {
				return err
			}
			for _, s := range out {
				fmt.Printf("%-24s %-12s healthy=%v tools=%v\n", s["name"], s["state"], s["healthy"], s["tool_count"])
			}
			return nil
		},
	}
}

func newRestartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restart <backend-name>",
		Short: "Restart a shared backend connection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out map[string]any
			path := fmt.Sprintf("/v1/admin/health/mcps/%s/restart", url.PathEscape(args[0]))
			if err := clientFromFlags().post(cmd.Context(), path, &out); err != nil {
				return err
			}
			fmt.Printf("%s: %s\n", out["name"], out["status"])
			return nil
		},
	}
}

func newTerminateCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "terminate <client-id>",
		Short: "Revoke a client and tear down its per-user backend instances",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out map[string]any
			path := fmt.Sprintf("/v1/admin/clients/%s/terminate", url.PathEscape(args[0]))
			if userID != "" {
				path += "?" + (url.Values{"user_id": {userID}}).Encode()
			}
			if err := clientFromFlags().post(cmd.Context(), path, &out); err != nil {
				return err
			}
			fmt.Printf("%s: %s\n", out["client_id"], out["status"])
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user-id", "", "also terminate this user's per-user backend instances")
	return cmd
}

func newAuditCmd() *cobra.Command {
	var clientID, userID, eventType, severity string
	var limit int
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query the audit log",
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := url.Values{}
			if clientID != "" {
				q.Set("client_id", clientID)
			}
			if userID != "" {
				q.Set("user_id", userID)
			}
			if eventType != "" {
				q.Set("event_type", eventType)
			}
			if severity != "" {
				q.Set("severity", severity)
			}
			if limit > 0 {
				q.Set("limit", fmt.Sprintf("%d", limit))
			}

			var events []map[string]any
			if err := clientFromFlags().get(cmd.Context(), "/v1/audit/events", q, &events); err != nil {
				return err
			}
			for _, e := range events {
				fmt.Printf("%v %-20s %-10s client=%v tool=%v\n", e["timestamp"], e["event_type"], e["severity"], e["client_id"], e["tool_name"])
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&clientID, "client-id", "", "filter by client ID")
	cmd.Flags().StringVar(&userID, "user-id", "", "filter by user ID")
	cmd.Flags().StringVar(&eventType, "event-type", "", "filter by event type")
	cmd.Flags().StringVar(&severity, "severity", "", "filter by severity")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum number of events to return")
	return cmd
}

func newReloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Trigger an immediate catalog reload",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var out map[string]any
			if err := clientFromFlags().post(cmd.Context(), "/v1/admin/catalog/reload", &out); err != nil {
				return err
			}
			fmt.Printf("reload complete: %+v\n", out)
			return nil
		},
	}
}
