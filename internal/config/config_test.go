package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/pollmarket/internal/config"
	"github.com/alanyoungcy/pollmarket/internal/domain"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := config.Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, config.DriverMemory, cfg.Store.Driver)

	params := cfg.Market.Params()
	assert.Equal(t, 0.05, params.HouseEdge)
	assert.Equal(t, domain.NoWinnerRetain, params.NoWinnerPolicy)
	assert.Equal(t, 24*time.Hour, params.TrendWindow)
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "SERVE"

[store]
driver = "sqlite"

[sqlite]
path = "/tmp/markets.db"

[market]
house_edge       = 0.1
no_winner_policy = "refund"
odds_cache_ttl   = "30s"

[snapshot]
interval = "1h"
`), 0o600))

	t.Setenv("POLLMARKET_SERVER_PORT", "9090")
	t.Setenv("POLLMARKET_SERVER_API_KEY", "k")
	t.Setenv("POLLMARKET_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "serve", cfg.Mode)
	assert.Equal(t, config.DriverSQLite, cfg.Store.Driver)
	assert.Equal(t, "/tmp/markets.db", cfg.SQLite.Path)
	assert.Equal(t, 0.1, cfg.Market.HouseEdge)
	assert.Equal(t, 30*time.Second, cfg.Market.OddsCacheTTL.Duration)
	assert.Equal(t, time.Hour, cfg.Snapshot.Interval.Duration)
	assert.Equal(t, domain.NoWinnerRefund, cfg.Market.Params().NoWinnerPolicy)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "k", cfg.Server.APIKey)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)

	// Untouched sections keep their defaults.
	assert.Equal(t, int64(10), cfg.Market.MinStake)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	cfg := config.Defaults()
	cfg.Mode = "trade"
	cfg.Store.Driver = "mongo"
	cfg.Market.HouseEdge = 1.5
	cfg.Market.NoWinnerPolicy = "burn"
	cfg.Snapshot.Interval.Duration = 0
	cfg.Notify.TelegramToken = "t"

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	for _, want := range []string{
		`unknown mode "trade"`,
		`unknown driver "mongo"`,
		"house_edge",
		"no_winner_policy",
		"snapshot: interval",
		"telegram_chat_id",
	} {
		assert.True(t, strings.Contains(msg, want), "missing %q in %s", want, msg)
	}
}

func TestValidate_Postgres(t *testing.T) {
	cfg := config.Defaults()
	cfg.Store.Driver = config.DriverPostgres
	require.NoError(t, cfg.Validate())

	cfg.Postgres.Host = ""
	cfg.Postgres.PoolMinConns = 20
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: host")
	assert.Contains(t, err.Error(), "pool_min_conns must not exceed")

	cfg = config.Defaults()
	cfg.Store.Driver = config.DriverPostgres
	cfg.Postgres.DSN = "postgres://u:p@db/pollmarket"
	cfg.Postgres.Host = ""
	assert.NoError(t, cfg.Validate())
}

func TestRedactedConfig(t *testing.T) {
	cfg := config.Defaults()
	cfg.Postgres.Password = "pw"
	cfg.Server.APIKey = "key"
	cfg.S3.SecretKey = "s3"
	cfg.Notify.DiscordWebhookURL = "https://discord/hook"

	out := config.RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Postgres.Password)
	assert.Equal(t, "***", out.Server.APIKey)
	assert.Equal(t, "***", out.S3.SecretKey)
	assert.Equal(t, "***", out.Notify.DiscordWebhookURL)
	assert.Empty(t, out.Postgres.DSN)

	assert.Equal(t, "pw", cfg.Postgres.Password)
	out.Notify.Events[0] = "changed"
	assert.Equal(t, "market_resolved", cfg.Notify.Events[0])
}

func TestRedactedConfig_DSN(t *testing.T) {
	tests := []struct {
		dsn  string
		want string
	}{
		{"postgres://app:secret@db:5432/pollmarket?sslmode=disable", "postgres://app:%2A%2A%2A@db:5432/pollmarket?sslmode=disable"},
		{"postgres://app@db/pollmarket", "postgres://app@db/pollmarket"},
		{"host=db user=app password=secret", "***"},
	}
	for _, tt := range tests {
		cfg := config.Defaults()
		cfg.Postgres.DSN = tt.dsn
		assert.Equal(t, tt.want, config.RedactedConfig(&cfg).Postgres.DSN, tt.dsn)
	}
}
