package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies POLLMARKET_* environment variable overrides, and
// returns the final Config. An empty path skips the file and uses defaults
// plus environment. The returned Config has NOT been validated; the caller
// should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	cfg.Store.Driver = strings.ToLower(strings.TrimSpace(cfg.Store.Driver))
	cfg.Mode = strings.ToLower(strings.TrimSpace(cfg.Mode))
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))

	return &cfg, nil
}

// applyEnvOverrides reads well-known POLLMARKET_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Store ──
	setStr(&cfg.Store.Driver, "POLLMARKET_STORE_DRIVER")
	setDuration(&cfg.Store.ConnectTimeout, "POLLMARKET_STORE_CONNECT_TIMEOUT")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "POLLMARKET_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "POLLMARKET_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "POLLMARKET_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "POLLMARKET_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "POLLMARKET_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "POLLMARKET_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "POLLMARKET_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "POLLMARKET_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "POLLMARKET_POSTGRES_POOL_MIN_CONNS")
	setDuration(&cfg.Postgres.StatementTimeout, "POLLMARKET_POSTGRES_STATEMENT_TIMEOUT")
	setBool(&cfg.Postgres.RunMigrations, "POLLMARKET_POSTGRES_RUN_MIGRATIONS")

	// ── SQLite ──
	setStr(&cfg.SQLite.Path, "POLLMARKET_SQLITE_PATH")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "POLLMARKET_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "POLLMARKET_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "POLLMARKET_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "POLLMARKET_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "POLLMARKET_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "POLLMARKET_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.Namespace, "POLLMARKET_REDIS_NAMESPACE")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "POLLMARKET_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "POLLMARKET_S3_REGION")
	setStr(&cfg.S3.Bucket, "POLLMARKET_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "POLLMARKET_S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "POLLMARKET_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "POLLMARKET_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "POLLMARKET_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "POLLMARKET_S3_FORCE_PATH_STYLE")
	setInt(&cfg.S3.MaxAttempts, "POLLMARKET_S3_MAX_ATTEMPTS")

	// ── Market ──
	setFloat64(&cfg.Market.HouseEdge, "POLLMARKET_MARKET_HOUSE_EDGE")
	setFloat64(&cfg.Market.VolumeWeight, "POLLMARKET_MARKET_VOLUME_WEIGHT")
	setFloat64(&cfg.Market.ConfidenceWeight, "POLLMARKET_MARKET_CONFIDENCE_WEIGHT")
	setInt64(&cfg.Market.MinStake, "POLLMARKET_MARKET_MIN_STAKE")
	setInt64(&cfg.Market.MaxStake, "POLLMARKET_MARKET_MAX_STAKE")
	setFloat64(&cfg.Market.ConfidenceBonus, "POLLMARKET_MARKET_CONFIDENCE_BONUS")
	setStr(&cfg.Market.NoWinnerPolicy, "POLLMARKET_MARKET_NO_WINNER_POLICY")
	setDuration(&cfg.Market.TrendWindow, "POLLMARKET_MARKET_TREND_WINDOW")
	setDuration(&cfg.Market.OddsCacheTTL, "POLLMARKET_MARKET_ODDS_CACHE_TTL")

	// ── Snapshot ──
	setDuration(&cfg.Snapshot.Interval, "POLLMARKET_SNAPSHOT_INTERVAL")

	// ── Leaderboard ──
	setStr(&cfg.Board.Timeframe, "POLLMARKET_LEADERBOARD_TIMEFRAME")
	setInt(&cfg.Board.Limit, "POLLMARKET_LEADERBOARD_LIMIT")

	// ── Server ──
	setInt(&cfg.Server.Port, "POLLMARKET_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "POLLMARKET_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "POLLMARKET_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "POLLMARKET_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "POLLMARKET_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "POLLMARKET_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "POLLMARKET_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "POLLMARKET_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "POLLMARKET_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "POLLMARKET_MODE")
	setStr(&cfg.LogLevel, "POLLMARKET_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
