// Package config loads the service configuration from the environment, after
// reading an optional .env file.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

type Config struct {
	StoreDriver string `env:"STORE_DRIVER" envDefault:"memory"`

	DBHost     string `env:"DB_HOST" envDefault:"localhost"`
	DBPort     int    `env:"DB_PORT" envDefault:"5432"`
	DBName     string `env:"DB_NAME" envDefault:"banking"`
	DBUser     string `env:"DB_USER" envDefault:"postgres"`
	DBPassword string `env:"DB_PASSWORD" envDefault:""`
	DBSSLMode  string `env:"DB_SSLMODE" envDefault:"disable"`
	DBMigrate  bool   `env:"DB_MIGRATE" envDefault:"true"`

	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:"," envDefault:""`
	KafkaTopic   string   `env:"KAFKA_TOPIC" envDefault:"ledger.audit"`

	RedisAddr     string `env:"REDIS_ADDR" envDefault:""`
	RedisPassword string `env:"REDIS_PASSWORD" envDefault:""`
	RedisStream   string `env:"REDIS_STREAM" envDefault:"ledger:audit"`

	AuditLogFile   string `env:"AUDIT_LOG_FILE" envDefault:"logs/banking.log"`
	AuditQueueSize int    `env:"AUDIT_QUEUE_SIZE" envDefault:"1024"`
	AuditToDB      bool   `env:"AUDIT_TO_DB" envDefault:"true"`

	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	HTTPPort        int           `env:"HTTP_PORT" envDefault:"8080"`
	MetricsPort     int           `env:"METRICS_PORT" envDefault:"9090"`
	AccountCacheTTL time.Duration `env:"ACCOUNT_CACHE_TTL" envDefault:"30s"`
}

// Load reads envFile when it exists and parses the environment into a Config.
// A missing env file is not an error.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	return parse(env.Options{RequiredIfNoDef: true})
}

func parse(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the fields the selected driver depends on.
func (c *Config) Validate() error {
	var errs []error

	switch c.StoreDriver {
	case DriverMemory:
	case DriverPostgres:
		if c.DBHost == "" {
			errs = append(errs, errors.New("DB_HOST is required for the postgres driver"))
		}
		if c.DBName == "" {
			errs = append(errs, errors.New("DB_NAME is required for the postgres driver"))
		}
		if c.DBPort <= 0 || c.DBPort > 65535 {
			errs = append(errs, fmt.Errorf("DB_PORT %d is out of range", c.DBPort))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}

	if c.AuditQueueSize <= 0 {
		errs = append(errs, errors.New("AUDIT_QUEUE_SIZE must be positive"))
	}
	if c.AccountCacheTTL < 0 {
		errs = append(errs, errors.New("ACCOUNT_CACHE_TTL must not be negative"))
	}
	for name, port := range map[string]int{"HTTP_PORT": c.HTTPPort, "METRICS_PORT": c.MetricsPort} {
		if port < 0 || port > 65535 {
			errs = append(errs, fmt.Errorf("%s %d is out of range", name, port))
		}
	}
	return errors.Join(errs...)
}

// DSN builds the lib/pq connection string.
func (c *Config) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:     c.DBName,
		RawQuery: "sslmode=" + c.DBSSLMode,
	}
	return u.String()
}

// Redact returns a copy that is safe to log.
func (c Config) Redact() Config {
	if c.DBPassword != "" {
		c.DBPassword = "*****"
	}
	if c.RedisPassword != "" {
		c.RedisPassword = "*****"
	}
	return c
}

// KafkaEnabled reports whether audit events are published to Kafka.
func (c *Config) KafkaEnabled() bool {
	for _, b := range c.KafkaBrokers {
		if strings.TrimSpace(b) != "" {
			return true
		}
	}
	return false
}
