// Package app provides the top-level application lifecycle for the margincall
// bot. It wires together all dependencies (chain client, wallet allocator,
// stores, caches, blob storage, and notifications) and runs the scan,
// liquidation, and arbitrage loops until shutdown.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"margincall/internal/config"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run is the main entry point. It wires all dependencies, starts the bot's
// goroutines, and blocks until the context is cancelled. On return it runs
// all registered cleanup functions.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("network", a.cfg.Network),
		slog.String("log_level", a.cfg.LogLevel),
		slog.Bool("arbitrage", a.cfg.Arbitrage.Enabled),
	)

	deps, cleanup, err := Wire(ctx, a.cfg)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	return a.run(ctx, deps)
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
