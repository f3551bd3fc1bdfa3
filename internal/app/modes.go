package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/pollmarket/internal/domain"
	"github.com/alanyoungcy/pollmarket/internal/report"
	"github.com/alanyoungcy/pollmarket/internal/server"
	"github.com/alanyoungcy/pollmarket/internal/server/handler"
	"github.com/alanyoungcy/pollmarket/internal/server/ws"
	"github.com/alanyoungcy/pollmarket/internal/service"
)

// services groups the engine services built from one set of dependencies.
type services struct {
	market      *service.MarketService
	predictions *service.PredictionService
	resolutions *service.ResolutionService
	leaderboard *service.LeaderboardService
	snapshots   *service.SnapshotService
}

func (a *App) buildServices(deps *Dependencies) *services {
	params := a.cfg.Market.Params()

	marketSvc := service.NewMarketService(
		deps.Store, deps.Store, deps.OddsCache, deps.SignalBus, params, deps.Metrics, a.logger,
	)

	// Keep nil pointers out of the interface fields so the service can tell
	// an absent archive from a present one.
	var archiver domain.SettlementArchiver
	if deps.Archiver != nil {
		archiver = deps.Archiver
	}
	var notifier service.SettlementNotifier
	if deps.Notifier.Enabled() {
		notifier = deps.Notifier
	}

	return &services{
		market:      marketSvc,
		predictions: service.NewPredictionService(deps.Store, marketSvc, params, deps.Metrics, a.logger),
		resolutions: service.NewResolutionService(
			deps.Store, deps.Store, marketSvc, deps.SignalBus, notifier, archiver,
			params, deps.Metrics, a.logger,
		),
		leaderboard: service.NewLeaderboardService(deps.Store, deps.Metrics, a.logger),
		snapshots: service.NewSnapshotService(
			deps.Store, deps.Store, marketSvc, a.cfg.Snapshot.Interval.Duration, deps.Metrics, a.logger,
		),
	}
}

// ServeMode starts the HTTP API and the WebSocket hub.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, a.buildServices(deps))
	return g.Wait()
}

// SnapshotMode snapshots every open poll immediately and then on the
// configured interval.
func (a *App) SnapshotMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting snapshot mode",
		slog.Duration("interval", a.cfg.Snapshot.Interval.Duration),
	)

	svcs := a.buildServices(deps)
	if _, err := svcs.snapshots.SnapshotOnce(ctx); err != nil {
		return fmt.Errorf("app: initial snapshot: %w", err)
	}
	return svcs.snapshots.Run(ctx)
}

// LeaderboardMode prints the configured leaderboard to stdout and returns.
func (a *App) LeaderboardMode(ctx context.Context, deps *Dependencies) error {
	timeframe, err := domain.ParseTimeframe(a.cfg.Board.Timeframe)
	if err != nil {
		return fmt.Errorf("app: leaderboard: %w", err)
	}

	svcs := a.buildServices(deps)
	entries, err := svcs.leaderboard.GetLeaderboard(ctx, timeframe, a.cfg.Board.Limit)
	if err != nil {
		return fmt.Errorf("app: leaderboard: %w", err)
	}
	return report.Leaderboard(os.Stdout, timeframe, entries, time.Now())
}

// FullMode runs the HTTP API together with the snapshot loop.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	svcs := a.buildServices(deps)

	a.startHTTPServer(ctx, g, deps, svcs)

	g.Go(func() error {
		if _, err := svcs.snapshots.SnapshotOnce(ctx); err != nil {
			a.logger.WarnContext(ctx, "initial snapshot failed",
				slog.String("error", err.Error()),
			)
		}
		return svcs.snapshots.Run(ctx)
	})

	return g.Wait()
}

// startHTTPServer registers the API server and its WebSocket hub on g. The
// server shuts down when ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svcs *services) {
	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:           a.cfg.Mode,
		StartedAt:      time.Now().UTC(),
		AllowedOrigins: a.cfg.Server.CORSOrigins,
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	srv := server.NewServer(
		server.Config{
			Port:        a.cfg.Server.Port,
			CORSOrigins: a.cfg.Server.CORSOrigins,
			APIKey:      a.cfg.Server.APIKey,
			RateLimit:   a.cfg.Server.RateLimit,
			RateWindow:  a.cfg.Server.RateWindow.Duration,
		},
		server.Handlers{
			Health:      handler.NewHealthHandler(deps.Health, a.logger),
			Markets:     handler.NewMarketHandler(svcs.market, a.logger),
			Predictions: handler.NewPredictionHandler(svcs.predictions, a.logger),
			Resolutions: handler.NewResolutionHandler(svcs.resolutions, a.logger),
			Leaderboard: handler.NewLeaderboardHandler(svcs.leaderboard, a.logger),
			Audit:       handler.NewAuditHandler(deps.Store, a.logger),
			Metrics:     deps.Metrics.Handler(),
		},
		server.Deps{
			Limiter:  deps.RateLimiter,
			Observer: deps.Metrics,
			Hub:      hub,
		},
		a.logger,
	)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", a.cfg.Server.Port)),
		)
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
