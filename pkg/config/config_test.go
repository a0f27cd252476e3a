package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 8081, cfg.CatalogServer.Port)
	assert.Equal(t, 5, cfg.Search.DefaultLimit)
	assert.Equal(t, 50, cfg.Search.MaxResults)
	assert.True(t, cfg.Search.ExactMatchFirst)
	assert.Equal(t, "catalog-events", cfg.Kafka.Topics.CatalogEvents)
	assert.Equal(t, 60*time.Second, cfg.Redis.CacheTTL)
	assert.Equal(t, 8082, cfg.AnalyticsServer.Port)
	assert.Equal(t, time.Minute, cfg.Analytics.SnapshotInterval)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
search:
  defaultLimit: 10
  maxResults: 20
  refreshInterval: 30s
logging:
  level: debug
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 10, cfg.Search.DefaultLimit)
	assert.Equal(t, 20, cfg.Search.MaxResults)
	assert.Equal(t, 30*time.Second, cfg.Search.RefreshInterval)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// untouched sections keep defaults
	assert.Equal(t, "localhost", cfg.Postgres.Host)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("BS_SERVER_PORT", "7777")
	t.Setenv("BS_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("BS_REDIS_ENABLED", "false")
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/books?sslmode=disable")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.Server.Port)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, "postgres://u:p@db:5432/books?sslmode=disable", cfg.Postgres.DSN())
}

func TestLoad_InvalidEnvIgnored(t *testing.T) {
	t.Setenv("BS_SERVER_PORT", "not-a-number")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestLoad_Invalid(t *testing.T) {
	path := writeConfig(t, `
search:
  defaultLimit: 30
  maxResults: 10
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds")
}

func TestPostgresDSN_Fields(t *testing.T) {
	p := PostgresConfig{Host: "h", Port: 1, User: "u", Password: "p", Database: "d", SSLMode: "disable"}
	assert.Equal(t, "host=h port=1 user=u password=p dbname=d sslmode=disable", p.DSN())
}
