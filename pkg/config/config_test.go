package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, 3, cfg.Ledger.MaxRetries)
	assert.Equal(t, 0.5, cfg.DBR.MaxRatio)
	assert.Empty(t, cfg.Kafka.Brokers)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
database:
  driver: postgres
  dsn: postgres://ledger@localhost/ledger?sslmode=disable
kafka:
  brokers: ["kafka-1:9092", "kafka-2:9092"]
  topic: repayments
late_fee:
  percent: 0.02
  cap: 5000
  grace_days: 3
dbr:
  max_ratio: 0.4
jobs:
  late_fees: "30 2 * * *"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "repayments", cfg.Kafka.Topic)
	assert.Equal(t, 0.02, cfg.LateFee.Percent)
	assert.Equal(t, float64(5000), cfg.LateFee.Cap)
	assert.Equal(t, 3, cfg.LateFee.GraceDays)
	assert.Equal(t, 0.4, cfg.DBR.MaxRatio)
	assert.Equal(t, "30 2 * * *", cfg.Jobs.LateFees)
	// Untouched sections keep their defaults.
	assert.Equal(t, "@every 10s", cfg.Jobs.OutboxRelay)
	assert.Equal(t, 3, cfg.Ledger.MaxRetries)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "database:\n  driver: sqlite\n  dsn: file.db\n")
	t.Setenv("DB_DRIVER", "memory")
	t.Setenv("SERVER_PORT", "7000")
	t.Setenv("KAFKA_BROKERS", "a:9092,b:9092")
	t.Setenv("LEDGER_MAX_RETRIES", "not-a-number")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, cfg.Database.Driver)
	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 3, cfg.Ledger.MaxRetries)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "server: [not, a, map]"))
	assert.Error(t, err)

	cases := map[string]string{
		"unknown driver":   "database:\n  driver: oracle\n",
		"missing dsn":      "database:\n  driver: postgres\n  dsn: \"\"\n",
		"negative retries": "ledger:\n  max_retries: -1\n",
		"zero dbr":         "dbr:\n  max_ratio: 0\n",
		"kafka no topic":   "kafka:\n  brokers: [\"k:9092\"]\n  topic: \"\"\n",
		"negative fee":     "late_fee:\n  percent: -0.1\n",
		"negative scale":   "ledger:\n  scale: -1\n",
		"redis zero ttl":   "redis:\n  addr: \"r:6379\"\n  inflight_ttl_seconds: 0\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}

	// The TTL only matters once the guard is enabled.
	cfg, err := Load(writeConfig(t, "redis:\n  inflight_ttl_seconds: 0\n"))
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Redis.InFlightTTLSec)
}
