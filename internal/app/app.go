// Package app owns the engine's lifecycle: it wires stores, caches, blob
// archiving and notifications, then runs the goroutines for the configured
// mode until the context ends.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/pollmarket/internal/config"
)

// modeFunc runs one operating mode against wired dependencies.
type modeFunc func(ctx context.Context, deps *Dependencies) error

// App holds the configuration and the resources acquired by Run.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	closeOnce sync.Once
	cleanup   func()
}

// New creates an App. Nothing is connected until Run.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "app")),
		cleanup: func() {},
	}
}

func (a *App) modes() map[string]modeFunc {
	return map[string]modeFunc{
		config.ModeServe:       a.ServeMode,
		config.ModeSnapshot:    a.SnapshotMode,
		config.ModeLeaderboard: a.LeaderboardMode,
		config.ModeFull:        a.FullMode,
	}
}

// Run wires dependencies and blocks in the configured mode until ctx is
// cancelled or the mode returns. Call Close afterwards to release resources.
func (a *App) Run(ctx context.Context) error {
	run, ok := a.modes()[a.cfg.Mode]
	if !ok {
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}

	start := time.Now()
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("store", a.cfg.Store.Driver),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.cleanup = cleanup
	a.logger.InfoContext(ctx, "dependencies ready", slog.Duration("took", time.Since(start)))

	return run(ctx, deps)
}

// Close releases everything Run acquired. Only the first call has effect.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		a.logger.Info("shutting down application")
		a.cleanup()
	})
}
