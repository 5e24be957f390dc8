package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

var ErrInvalidConfig = errors.New("invalid config")

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port            int `yaml:"port"`
	ShutdownSeconds int `yaml:"shutdown_seconds"`
}

// DatabaseConfig selects the store driver and its DSN.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// RedisConfig enables the cross-process payment guard when Addr is set.
type RedisConfig struct {
	Addr           string `yaml:"addr"`
	Password       string `yaml:"password"`
	DB             int    `yaml:"db"`
	InFlightTTLSec int    `yaml:"inflight_ttl_seconds"`
}

// InFlightTTL is how long an in-flight payment ref stays held.
func (r RedisConfig) InFlightTTL() time.Duration {
	return time.Duration(r.InFlightTTLSec) * time.Second
}

// KafkaConfig enables event publishing when Brokers is set. Without it the
// relay writes events to the log.
type KafkaConfig struct {
	Brokers   []string `yaml:"brokers"`
	Topic     string   `yaml:"topic"`
	BatchSize int      `yaml:"batch_size"`
}

// LedgerConfig holds the retry budget and decimal scale.
type LedgerConfig struct {
	MaxRetries int   `yaml:"max_retries"`
	Scale      int32 `yaml:"scale"`
}

// LateFeeConfig controls late fee assessment.
type LateFeeConfig struct {
	Percent   float64 `yaml:"percent"`
	Cap       float64 `yaml:"cap"` // 0 means no cap
	GraceDays int     `yaml:"grace_days"`
}

// DBRConfig holds the debt burden ratio ceiling.
type DBRConfig struct {
	MaxRatio float64 `yaml:"max_ratio"`
}

// JobsConfig holds cron schedules. An empty schedule disables the job.
type JobsConfig struct {
	OutboxRelay string `yaml:"outbox_relay"`
	LateFees    string `yaml:"late_fees"`
}

// LogConfig holds the logrus level name.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Config is the full service configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	LateFee  LateFeeConfig  `yaml:"late_fee"`
	DBR      DBRConfig      `yaml:"dbr"`
	Jobs     JobsConfig     `yaml:"jobs"`
	Logging  LogConfig      `yaml:"logging"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{Port: 8080, ShutdownSeconds: 10},
		Database: DatabaseConfig{Driver: DriverSQLite, DSN: "fredledger.db"},
		Redis:    RedisConfig{InFlightTTLSec: 30},
		Kafka:    KafkaConfig{Topic: "loan-events", BatchSize: 100},
		Ledger:   LedgerConfig{MaxRetries: 3, Scale: 2},
		LateFee:  LateFeeConfig{Percent: 0.05, GraceDays: 5},
		DBR:      DBRConfig{MaxRatio: 0.5},
		Jobs:     JobsConfig{OutboxRelay: "@every 10s", LateFees: "0 1 * * *"},
		Logging:  LogConfig{Level: "info"},
	}
}

// Load reads the YAML file at path over the defaults, then applies environment
// overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Server.Port = getEnvAsInt("SERVER_PORT", cfg.Server.Port)
	cfg.Database.Driver = getEnv("DB_DRIVER", cfg.Database.Driver)
	cfg.Database.DSN = getEnv("DB_DSN", cfg.Database.DSN)
	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	if brokers := getEnv("KAFKA_BROKERS", ""); brokers != "" {
		cfg.Kafka.Brokers = strings.Split(brokers, ",")
	}
	cfg.Kafka.Topic = getEnv("KAFKA_TOPIC", cfg.Kafka.Topic)
	cfg.Ledger.MaxRetries = getEnvAsInt("LEDGER_MAX_RETRIES", cfg.Ledger.MaxRetries)
	cfg.Logging.Level = getEnv("LOG_LEVEL", cfg.Logging.Level)
}

// Validate rejects values the service cannot run with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverSQLite, DriverPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("%w: database.dsn is required for %s", ErrInvalidConfig, c.Database.Driver)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("%w: unknown database driver %q", ErrInvalidConfig, c.Database.Driver)
	}
	if c.Ledger.MaxRetries < 0 {
		return fmt.Errorf("%w: ledger.max_retries must not be negative", ErrInvalidConfig)
	}
	if c.Ledger.Scale < 0 {
		return fmt.Errorf("%w: ledger.scale must not be negative", ErrInvalidConfig)
	}
	// A zero SETNX expiry never expires, so a crashed holder would block the ref.
	if c.Redis.Addr != "" && c.Redis.InFlightTTLSec <= 0 {
		return fmt.Errorf("%w: redis.inflight_ttl_seconds must be positive", ErrInvalidConfig)
	}
	if c.LateFee.Percent < 0 || c.LateFee.Cap < 0 || c.LateFee.GraceDays < 0 {
		return fmt.Errorf("%w: late_fee values must not be negative", ErrInvalidConfig)
	}
	if c.DBR.MaxRatio <= 0 {
		return fmt.Errorf("%w: dbr.max_ratio must be positive", ErrInvalidConfig)
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return fmt.Errorf("%w: kafka.topic is required when brokers are set", ErrInvalidConfig)
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val, exists := os.LookupEnv(key); exists {
		return val
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		return defaultVal
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultVal
	}
	return value
}
