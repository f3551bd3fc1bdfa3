package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	s3blob "github.com/alanyoungcy/pollmarket/internal/blob/s3"
	"github.com/alanyoungcy/pollmarket/internal/cache/local"
	"github.com/alanyoungcy/pollmarket/internal/cache/redis"
	"github.com/alanyoungcy/pollmarket/internal/config"
	"github.com/alanyoungcy/pollmarket/internal/domain"
	"github.com/alanyoungcy/pollmarket/internal/metrics"
	"github.com/alanyoungcy/pollmarket/internal/notify"
	"github.com/alanyoungcy/pollmarket/internal/server/handler"
	"github.com/alanyoungcy/pollmarket/internal/store/memory"
	"github.com/alanyoungcy/pollmarket/internal/store/postgres"
	"github.com/alanyoungcy/pollmarket/internal/store/sqlite"
)

// Dependencies bundles every domain-level dependency that the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function.
type Dependencies struct {
	// Store
	Store domain.Store

	// Caches
	OddsCache   domain.OddsCache
	RateLimiter domain.RateLimiter
	SignalBus   domain.SignalBus

	// Blob storage; nil when no bucket is configured.
	Archiver *s3blob.SettlementArchiver

	// Notifications
	Notifier *notify.Notifier

	// Metrics
	Metrics *metrics.EngineMetrics

	// Health checks by dependency name.
	Health map[string]handler.Pinger
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	logger = logger.With(slog.String("component", "wire"))

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Metrics: metrics.New(),
		Health:  make(map[string]handler.Pinger),
	}
	timeout := cfg.Store.ConnectTimeout.Duration

	// --- Store ---
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		var pgClient *postgres.Client
		err := retry(ctx, logger, "postgres", timeout, func() error {
			var err error
			pgClient, err = postgres.New(ctx, postgres.ClientConfig{
				DSN:              cfg.Postgres.DSN,
				Host:             cfg.Postgres.Host,
				Port:             cfg.Postgres.Port,
				Database:         cfg.Postgres.Database,
				User:             cfg.Postgres.User,
				Password:         cfg.Postgres.Password,
				SSLMode:          cfg.Postgres.SSLMode,
				MaxConns:         cfg.Postgres.PoolMaxConns,
				MinConns:         cfg.Postgres.PoolMinConns,
				StatementTimeout: cfg.Postgres.StatementTimeout.Duration,
			})
			return err
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		store := postgres.NewStore(pgClient)
		closers = append(closers, func() { _ = store.Close() })

		// Run migrations if enabled.
		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}
		deps.Store = store
		deps.Health["postgres"] = pgClient

	case config.DriverSQLite:
		store, err := sqlite.New(cfg.SQLite.Path)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: sqlite: %w", err)
		}
		closers = append(closers, func() { _ = store.Close() })
		deps.Store = store
		deps.Health["sqlite"] = store

	case config.DriverMemory:
		logger.WarnContext(ctx, "using in-memory store; data is lost on exit")
		deps.Store = memory.New()

	default:
		return nil, nil, fmt.Errorf("wire: unknown store driver %q", cfg.Store.Driver)
	}

	// --- Redis, or in-process caches when no address is configured ---
	if cfg.Redis.Addr != "" {
		var redisClient *redis.Client
		err := retry(ctx, logger, "redis", timeout, func() error {
			var err error
			redisClient, err = redis.New(ctx, redis.ClientConfig{
				Addr:       cfg.Redis.Addr,
				Password:   cfg.Redis.Password,
				DB:         cfg.Redis.DB,
				PoolSize:   cfg.Redis.PoolSize,
				MaxRetries: cfg.Redis.MaxRetries,
				TLSEnabled: cfg.Redis.TLSEnabled,
				Namespace:  cfg.Redis.Namespace,
			})
			return err
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.OddsCache = redis.NewOddsCache(redisClient, cfg.Market.OddsCacheTTL.Duration)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.Health["redis"] = redisClient
	} else {
		deps.OddsCache = local.NewOddsCache(cfg.Market.OddsCacheTTL.Duration)
		deps.RateLimiter = local.NewRateLimiter()
		deps.SignalBus = local.NewSignalBus()
	}

	// --- S3 settlement archive ---
	if cfg.S3.Enabled() {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			Prefix:         cfg.S3.Prefix,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
			MaxAttempts:    cfg.S3.MaxAttempts,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.Archiver = s3blob.NewSettlementArchiver(
			s3blob.NewWriter(s3Client),
			s3blob.NewReader(s3Client),
			deps.Store,
		)
		deps.Health["s3"] = s3Client
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// retry runs connect with exponential backoff until it succeeds, ctx is done
// or timeout elapses.
func retry(ctx context.Context, logger *slog.Logger, name string, timeout time.Duration, connect func() error) error {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = timeout

	return backoff.RetryNotify(connect, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
		logger.WarnContext(ctx, "connect failed, retrying",
			slog.String("dependency", name),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()),
		)
	})
}
