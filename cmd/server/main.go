// Command server runs the butterfly HTTP service.
//
// Configuration is read from butterfly.yaml (or the file named by
// BUTTERFLY_CONFIG), then BUTTERFLY_* environment variables. A .env file in
// the working directory is loaded first when present.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/butterflyhq/butterfly/internal/server"
)

func main() {
	_ = godotenv.Load()

	configPath := os.Getenv("BUTTERFLY_CONFIG")
	if configPath == "" {
		configPath = "butterfly.yaml"
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := server.LoadRuntime(ctx, configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = rt.Logger.Sync() }()

	if err := server.Run(ctx, rt); err != nil {
		rt.Logger.Error("server exited with error", zap.Error(err))
		os.Exit(1)
	}
}
