// Package config defines the top-level configuration for the market engine
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/pollmarket/internal/domain"
	"github.com/alanyoungcy/pollmarket/internal/market"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by POLLMARKET_* environment variables.
type Config struct {
	Store    StoreConfig    `toml:"store"`
	Postgres PostgresConfig `toml:"postgres"`
	SQLite   SQLiteConfig   `toml:"sqlite"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Market   MarketConfig   `toml:"market"`
	Snapshot SnapshotConfig `toml:"snapshot"`
	Board    BoardConfig    `toml:"leaderboard"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver string `toml:"driver"`
	// ConnectTimeout bounds how long startup retries the database and Redis.
	ConnectTimeout duration `toml:"connect_timeout"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN              string   `toml:"dsn"`
	Host             string   `toml:"host"`
	Port             int      `toml:"port"`
	Database         string   `toml:"database"`
	User             string   `toml:"user"`
	Password         string   `toml:"password"`
	SSLMode          string   `toml:"ssl_mode"`
	PoolMaxConns     int      `toml:"pool_max_conns"`
	PoolMinConns     int      `toml:"pool_min_conns"`
	StatementTimeout duration `toml:"statement_timeout"`
	RunMigrations    bool     `toml:"run_migrations"`
}

// SQLiteConfig holds the single-node SQLite store parameters.
type SQLiteConfig struct {
	Path string `toml:"path"`
}

// RedisConfig holds Redis connection parameters. An empty Addr keeps the odds
// cache, rate limiter and signal bus in process.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	Namespace  string `toml:"namespace"`
}

// S3Config holds S3-compatible object storage parameters. An empty Bucket
// disables the settlement archive.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	MaxAttempts    int    `toml:"max_attempts"`
}

// Enabled reports whether the settlement archive is configured.
func (c S3Config) Enabled() bool {
	return strings.TrimSpace(c.Bucket) != ""
}

// MarketConfig holds the market constants.
type MarketConfig struct {
	HouseEdge            float64  `toml:"house_edge"`
	VolumeWeight         float64  `toml:"volume_weight"`
	ConfidenceWeight     float64  `toml:"confidence_weight"`
	MinStake             int64    `toml:"min_stake"`
	MaxStake             int64    `toml:"max_stake"`
	ConfidenceBonus      float64  `toml:"confidence_bonus"`
	WinnerReputationRate float64  `toml:"winner_reputation_rate"`
	LoserReputationRate  float64  `toml:"loser_reputation_rate"`
	NoWinnerPolicy       string   `toml:"no_winner_policy"`
	TrendWindow          duration `toml:"trend_window"`
	TrendThreshold       float64  `toml:"trend_threshold"`
	OddsCacheTTL         duration `toml:"odds_cache_ttl"`
}

// Params converts the market section into market.Params.
func (c MarketConfig) Params() market.Params {
	return market.Params{
		HouseEdge:            c.HouseEdge,
		VolumeWeight:         c.VolumeWeight,
		ConfidenceWeight:     c.ConfidenceWeight,
		MinStake:             c.MinStake,
		MaxStake:             c.MaxStake,
		ConfidenceBonus:      c.ConfidenceBonus,
		WinnerReputationRate: c.WinnerReputationRate,
		LoserReputationRate:  c.LoserReputationRate,
		NoWinnerPolicy:       domain.NoWinnerPolicy(strings.ToLower(c.NoWinnerPolicy)),
		TrendWindow:          c.TrendWindow.Duration,
		TrendThreshold:       c.TrendThreshold,
	}
}

// SnapshotConfig holds the snapshot job parameters.
type SnapshotConfig struct {
	Interval duration `toml:"interval"`
}

// BoardConfig scopes the leaderboard printed by the leaderboard mode.
type BoardConfig struct {
	Timeframe string `toml:"timeframe"`
	Limit     int    `toml:"limit"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	params := market.DefaultParams()
	return Config{
		Store: StoreConfig{
			Driver:         DriverMemory,
			ConnectTimeout: duration{30 * time.Second},
		},
		Postgres: PostgresConfig{
			Host:             "localhost",
			Port:             5432,
			Database:         "pollmarket",
			User:             "postgres",
			SSLMode:          "disable",
			PoolMaxConns:     10,
			PoolMinConns:     2,
			StatementTimeout: duration{15 * time.Second},
			RunMigrations:    true,
		},
		SQLite: SQLiteConfig{
			Path: "pollmarket.db",
		},
		Redis: RedisConfig{
			PoolSize:   20,
			MaxRetries: 3,
			Namespace:  "pollmarket",
		},
		S3: S3Config{
			Region:         "us-east-1",
			UseSSL:         true,
			ForcePathStyle: true,
			MaxAttempts:    3,
		},
		Market: MarketConfig{
			HouseEdge:            params.HouseEdge,
			VolumeWeight:         params.VolumeWeight,
			ConfidenceWeight:     params.ConfidenceWeight,
			MinStake:             params.MinStake,
			MaxStake:             params.MaxStake,
			ConfidenceBonus:      params.ConfidenceBonus,
			WinnerReputationRate: params.WinnerReputationRate,
			LoserReputationRate:  params.LoserReputationRate,
			NoWinnerPolicy:       string(params.NoWinnerPolicy),
			TrendWindow:          duration{params.TrendWindow},
			TrendThreshold:       params.TrendThreshold,
			OddsCacheTTL:         duration{5 * time.Minute},
		},
		Snapshot: SnapshotConfig{
			Interval: duration{24 * time.Hour},
		},
		Board: BoardConfig{
			Timeframe: string(domain.TimeframeWeekly),
			Limit:     market.DefaultLeaderboardLimit,
		},
		Server: ServerConfig{
			Port:       8080,
			RateLimit:  120,
			RateWindow: duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"market_resolved", "pool_retained", "pool_refunded"},
		},
		Mode:     ModeServe,
		LogLevel: "info",
	}
}

// Operating modes.
const (
	ModeServe       = "serve"
	ModeSnapshot    = "snapshot"
	ModeLeaderboard = "leaderboard"
	ModeFull        = "full"
)

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	ModeServe:       true,
	ModeSnapshot:    true,
	ModeLeaderboard: true,
	ModeFull:        true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, snapshot, leaderboard, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Store
	switch strings.ToLower(c.Store.Driver) {
	case DriverPostgres:
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
		if c.Postgres.StatementTimeout.Duration < 0 {
			errs = append(errs, "postgres: statement_timeout must not be negative")
		}
	case DriverSQLite:
		if strings.TrimSpace(c.SQLite.Path) == "" {
			errs = append(errs, "sqlite: path must not be empty")
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Sprintf("store: unknown driver %q (valid: postgres, sqlite, memory)", c.Store.Driver))
	}
	if c.Store.ConnectTimeout.Duration <= 0 {
		errs = append(errs, "store: connect_timeout must be > 0")
	}

	// Redis
	if c.Redis.Addr != "" && c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.S3.Enabled() && c.S3.Endpoint == "" && c.S3.Region == "" {
		errs = append(errs, "s3: endpoint or region must be set when bucket is set")
	}
	if c.S3.Enabled() && (c.S3.AccessKey == "") != (c.S3.SecretKey == "") {
		errs = append(errs, "s3: access_key and secret_key must be set together")
	}

	// Market
	if err := c.Market.Params().Validate(); err != nil {
		errs = append(errs, "market: "+err.Error())
	}
	if c.Market.OddsCacheTTL.Duration <= 0 {
		errs = append(errs, "market: odds_cache_ttl must be > 0")
	}

	// Snapshot
	if c.Snapshot.Interval.Duration <= 0 {
		errs = append(errs, "snapshot: interval must be > 0")
	}

	// Leaderboard
	if _, err := domain.ParseTimeframe(c.Board.Timeframe); err != nil {
		errs = append(errs, "leaderboard: "+err.Error())
	}
	if c.Board.Limit < 0 || c.Board.Limit > market.MaxLeaderboardLimit {
		errs = append(errs, fmt.Sprintf("leaderboard: limit must be 0-%d, got %d", market.MaxLeaderboardLimit, c.Board.Limit))
	}

	// Server
	mode := strings.ToLower(c.Mode)
	if mode == ModeServe || mode == ModeFull {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, "server: rate_limit must be >= 0")
	}
	if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
		errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
