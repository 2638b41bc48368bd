// config.go
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DriverMongo  = "mongo"
	DriverMemory = "memory"
)

type Config struct {
	MongoURI        string        `yaml:"mongo_uri"`
	MongoDBName     string        `yaml:"mongo_db_name"`
	AuthURL         string        `yaml:"auth_url"`
	RabbitURL       string        `yaml:"rabbit_url"`
	RabbitEnabled   bool          `yaml:"rabbit_enabled"`
	Port            string        `yaml:"port"`
	StoreDriver     string        `yaml:"store_driver"`
	AutoRejectAfter time.Duration `yaml:"auto_reject_after"`
	AuditRetries    int           `yaml:"audit_retries"`
	AuditRetryDelay time.Duration `yaml:"audit_retry_delay"`
	LogLevel        string        `yaml:"log_level"`
}

func defaults() *Config {
	return &Config{
		MongoURI:        "mongodb://host.docker.internal:27017/?replicaSet=rs0",
		MongoDBName:     "floor_dispatch_db",
		AuthURL:         "http://host.docker.internal:3000",
		RabbitURL:       "amqp://host.docker.internal",
		RabbitEnabled:   true,
		Port:            "8080",
		StoreDriver:     DriverMongo,
		AutoRejectAfter: 2 * time.Minute,
		AuditRetries:    3,
		AuditRetryDelay: 200 * time.Millisecond,
		LogLevel:        "info",
	}
}

// Load reads an optional .env file, then the YAML file named by FLOOR_CONFIG
// if set, then the environment. Later sources win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := defaults()
	if path := os.Getenv("FLOOR_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.MongoURI = getEnv("MONGO_URI", cfg.MongoURI)
	cfg.MongoDBName = getEnv("MONGO_DB_NAME", cfg.MongoDBName)
	cfg.AuthURL = getEnv("AUTH_URL", cfg.AuthURL)
	cfg.RabbitURL = getEnv("RABBIT_URL", cfg.RabbitURL)
	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.StoreDriver = getEnv("STORE_DRIVER", cfg.StoreDriver)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)

	var err error
	if cfg.RabbitEnabled, err = getBool("RABBIT_ENABLED", cfg.RabbitEnabled); err != nil {
		return nil, err
	}
	if cfg.AutoRejectAfter, err = getDuration("AUTO_REJECT_AFTER", cfg.AutoRejectAfter); err != nil {
		return nil, err
	}
	if cfg.AuditRetryDelay, err = getDuration("AUDIT_RETRY_DELAY", cfg.AuditRetryDelay); err != nil {
		return nil, err
	}
	if cfg.AuditRetries, err = getInt("AUDIT_RETRIES", cfg.AuditRetries); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.StoreDriver {
	case DriverMongo, DriverMemory:
	default:
		return fmt.Errorf("unknown store driver %q", c.StoreDriver)
	}
	if c.AutoRejectAfter <= 0 {
		return fmt.Errorf("auto reject deadline must be positive, got %s", c.AutoRejectAfter)
	}
	if c.AuditRetries < 1 {
		return fmt.Errorf("audit retries must be at least 1, got %d", c.AuditRetries)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func getInt(key string, fallback int) (int, error) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getBool(key string, fallback bool) (bool, error) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}
