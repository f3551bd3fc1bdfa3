package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/pollmarket/internal/domain"
	"github.com/alanyoungcy/pollmarket/internal/server/handler"
	"github.com/alanyoungcy/pollmarket/internal/server/middleware"
	"github.com/alanyoungcy/pollmarket/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// RateLimit requests per RateWindow per client IP; zero disables it.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health      *handler.HealthHandler
	Markets     *handler.MarketHandler
	Predictions *handler.PredictionHandler
	Resolutions *handler.ResolutionHandler
	Leaderboard *handler.LeaderboardHandler
	Audit       *handler.AuditHandler

	// Metrics serves the Prometheus scrape endpoint when set.
	Metrics http.Handler
}

// Deps are the optional cross-cutting dependencies of the server.
type Deps struct {
	Limiter  domain.RateLimiter
	Observer middleware.HTTPObserver
	Hub      *ws.Hub
}

// Server is the HTTP + WebSocket API of the market engine.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// Writes that move points (resolution) and the audit log sit behind the API
// key; reads and prediction submission are public and rate limited.
func NewServer(cfg Config, handlers Handlers, deps Deps, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	auth := middleware.RequireAPIKey(cfg.APIKey, logger)

	// Health check.
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Market endpoints.
	mux.HandleFunc("GET /api/polls/{id}/odds", handlers.Markets.GetOdds)
	mux.HandleFunc("GET /api/polls/{id}/analytics", handlers.Markets.GetAnalytics)

	// Prediction endpoints.
	mux.HandleFunc("POST /api/polls/{id}/predictions", handlers.Predictions.Submit)

	// Resolution endpoints.
	mux.Handle("POST /api/polls/{id}/resolve", auth(http.HandlerFunc(handlers.Resolutions.Resolve)))
	mux.HandleFunc("GET /api/polls/{id}/settlement", handlers.Resolutions.GetSettlement)

	// Leaderboard.
	mux.HandleFunc("GET /api/leaderboard", handlers.Leaderboard.GetLeaderboard)

	// Audit log.
	if handlers.Audit != nil {
		mux.Handle("GET /api/audit", auth(http.HandlerFunc(handlers.Audit.List)))
	}

	// Prometheus metrics.
	if handlers.Metrics != nil {
		mux.Handle("GET /metrics", handlers.Metrics)
	}

	// WebSocket endpoint.
	if deps.Hub != nil {
		mux.HandleFunc("GET /ws", deps.Hub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux

	if deps.Limiter != nil && cfg.RateLimit > 0 && cfg.RateWindow > 0 {
		h = middleware.RateLimit(deps.Limiter, cfg.RateLimit, cfg.RateWindow)(h)
	}
	h = middleware.Metrics(deps.Observer)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		handler:    h,
		logger:     logger,
	}
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
