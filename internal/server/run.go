package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/butterflyhq/butterfly/internal/config"
	"github.com/butterflyhq/butterfly/internal/logging"
)

// Runtime is the loaded configuration plus the logger built from it.
type Runtime struct {
	Config config.ConfigManager
	Logger *zap.Logger
	Level  zap.AtomicLevel
}

// LoadRuntime loads and validates configuration from configPath (which may
// not exist) and the environment, then builds the logger.
func LoadRuntime(ctx context.Context, configPath string) (*Runtime, error) {
	mgr, err := config.NewConfigManager(configPath)
	if err != nil {
		return nil, err
	}
	if err := mgr.Load(ctx); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := mgr.Validate(ctx); err != nil {
		return nil, err
	}

	cfg := mgr.Get(ctx)
	logger, level, err := logging.New(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   cfg.Logging.File,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return &Runtime{Config: mgr, Logger: logger, Level: level}, nil
}

// Run starts the server and blocks until ctx is done. Configuration file
// changes are applied as they arrive; SIGHUP forces a reload from all sources.
func Run(ctx context.Context, rt *Runtime) error {
	cfg := rt.Config.Get(ctx)
	srv, err := NewServer(cfg, WithLogger(rt.Logger), WithLogLevel(rt.Level))
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	if err := srv.Start(); err != nil {
		_ = srv.Close()
		return fmt.Errorf("failed to start server: %w", err)
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	updates := rt.Config.Watch(ctx)
	for {
		select {
		case next := <-updates:
			srv.ApplyConfig(&next)
		case <-hup:
			_ = srv.ReloadConfig(ctx, rt.Config)
		case <-ctx.Done():
			rt.Logger.Info("shutdown signal received")
			return srv.Stop()
		}
	}
}

// RequestTimeout is the per-analysis deadline configured for cfg.
func RequestTimeout(cfg *config.Config) time.Duration {
	return seconds(cfg.Server.RequestTimeoutSeconds)
}
