package config

import (
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	for _, k := range []string{"POSTGRES_DSN", "POSTGRES_PASSWORD", "REDIS_ADDR", "KAFKA_BROKERS", "LEDGER_BASE_URL", "SERVER_PORT", "LOG_LEVEL"} {
		t.Setenv(k, "")
	}
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
postgres:
  dsn: "host=db"
kafka:
  brokers: ["k1:9092"]
ledger:
  base_url: "http://ledger"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8003, cfg.Server.Port)
	assert.Equal(t, "transaction-events", cfg.Kafka.Topic)
	assert.Equal(t, 3*time.Second, cfg.Ledger.Timeout)
	assert.Equal(t, 30*time.Second, cfg.Redis.CacheTTL)
	assert.Equal(t, 100, cfg.Outbox.BatchSize)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
postgres:
  dsn: "host=db"
kafka:
  brokers: ["k1:9092"]
ledger:
  base_url: "http://ledger"
`)
	t.Setenv("POSTGRES_PASSWORD", "s3cret")
	t.Setenv("KAFKA_BROKERS", "a:1,b:2")
	t.Setenv("SERVER_PORT", "9100")
	t.Setenv("LEDGER_BASE_URL", "http://ledger.internal")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "host=db password='s3cret'", cfg.Postgres.DSN)
	assert.Equal(t, []string{"a:1", "b:2"}, cfg.Kafka.Brokers)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "http://ledger.internal", cfg.Ledger.BaseURL)
}

func TestLoad_PasswordIntoURLDSN(t *testing.T) {
	path := writeConfig(t, `
postgres:
  dsn: "postgres://app:old@db:5432/transactions?sslmode=disable"
kafka:
  brokers: ["k1:9092"]
ledger:
  base_url: "http://ledger"
`)
	t.Setenv("POSTGRES_PASSWORD", "p@ss/w rd")

	cfg, err := Load(path)
	require.NoError(t, err)

	u, err := url.Parse(cfg.Postgres.DSN)
	require.NoError(t, err)
	pw, ok := u.User.Password()
	require.True(t, ok)
	assert.Equal(t, "p@ss/w rd", pw)
	assert.Equal(t, "app", u.User.Username())
	assert.Equal(t, "db:5432", u.Host)
	assert.Equal(t, "/transactions", u.Path)
	assert.Equal(t, "disable", u.Query().Get("sslmode"))
	assert.NotContains(t, cfg.Postgres.DSN, " password=")
}

func TestWithPassword_QuotesKeywordValue(t *testing.T) {
	assert.Equal(t, `host=db password='it\'s'`, withPassword("host=db", "it's"))
}

func TestLoad_Invalid(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 1\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres.dsn is required")
	assert.Contains(t, err.Error(), "kafka.brokers is required")
	assert.Contains(t, err.Error(), "ledger.base_url is required")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
