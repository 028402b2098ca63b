package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/butterflyhq/butterfly/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP and WebSocket service",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := server.LoadRuntime(ctx, configPath)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Logger.Sync() }()

	return server.Run(ctx, rt)
}
