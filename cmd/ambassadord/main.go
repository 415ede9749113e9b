// Package main is the entry point for the MCP Ambassador daemon.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/mcpambassador/server/cmd/ambassadord/app"
	"github.com/mcpambassador/server/internal/ambassadorlog"
)

func main() {
	ambassadorlog.Initialize()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := app.NewRootCmd().ExecuteContext(ctx); err != nil {
		ambassadorlog.Errorf("error executing command: %v", err)
		os.Exit(1)
	}
}
