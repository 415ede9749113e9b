// Package app provides the entry point for the mcp-ambassadord daemon.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mcpambassador/server/internal/ambassadorlog"
)

var rootCmd = &cobra.Command{
	Use:               "ambassadord",
	DisableAutoGenTag: true,
	Short:             "MCP Ambassador - a multi-tenant proxy in front of MCP backend servers",
	Long: `MCP Ambassador sits between many MCP host tools and a catalog of backend MCP
servers. It authenticates clients, resolves each client's effective tool
set from profiles and subscriptions, authorizes individual tool calls
with a deny-wins glob policy, and routes invocations to either a shared
or per-user backend connection.`,
	Run: func(cmd *cobra.Command, _ []string) {
		if err := cmd.Help(); err != nil {
			ambassadorlog.Errorf("error displaying help: %v", err)
		}
	},
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		ambassadorlog.Initialize()
	},
}

// NewRootCmd creates the root command for the ambassadord CLI.
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		ambassadorlog.Errorf("error binding debug flag: %v", err)
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to ambassador configuration file")
	if err := viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config")); err != nil {
		ambassadorlog.Errorf("error binding config flag: %v", err)
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())

	rootCmd.SilenceUsage = true
	return rootCmd
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP Ambassador daemon",
		Long: `Start the MCP Ambassador daemon. It loads backend and policy
configuration, starts every published shared backend, and begins
serving the HTTP surface until SIGINT/SIGTERM triggers a graceful
shutdown: stop accepting new requests, drain pending invocations, flush
the audit buffer, and stop all backend connections.`,
		RunE: runServe,
	}
	cmd.Flags().String("backends", "", "Path to the backend definitions YAML file")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(_ *cobra.Command, _ []string) {
			ambassadorlog.Infof("mcp-ambassadord version: %s", version)
		},
	}
}

// version is overridden at build time via -ldflags.
var version = "dev"

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	configPath := viper.GetString("config")
	srv, err := buildServer(ctx, configPath)
	if err != nil {
		return fmt.Errorf("failed to build ambassador server: %w", err)
	}

	backendsPath, _ := cmd.Flags().GetString("backends")
	if backendsPath != "" {
		if err := srv.seedCatalog(ctx, backendsPath); err != nil {
			return fmt.Errorf("failed to seed catalog: %w", err)
		}
	}

	if err := srv.startShared(ctx); err != nil {
		return fmt.Errorf("failed to start shared backends: %w", err)
	}

	go srv.auditor.Run(ctx, srv.cfg.Audit.FlushInterval)
	srv.perUser.StartReaper(ctx, time.Minute)
	srv.startReloadLoop(ctx, srv.cfg.Catalog.ReloadInterval)

	httpServer := &http.Server{Addr: srv.cfg.ListenAddr, Handler: srv.handler}

	errCh := make(chan error, 1)
	go func() {
		ambassadorlog.Infof("mcp-ambassadord listening on %s", srv.cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		ambassadorlog.Info("shutdown signal received, draining")
	case err := <-errCh:
		return fmt.Errorf("http server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		ambassadorlog.Errorf("error during http shutdown: %v", err)
	}

	srv.auditor.Close()
	srv.perUser.Close(shutdownCtx)
	srv.shared.Close(shutdownCtx)

	ambassadorlog.Info("mcp-ambassadord stopped cleanly")
	return nil
}
