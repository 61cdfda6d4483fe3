package storage

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config describes how to connect to the Postgres backing store.
// Grounded on the teacher's pkg/database/config.go env-driven loader.
type Config struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int32
	MaxIdleConns    int32
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// LoadConfigFromEnv loads Config from INSIGHTS_DB_* environment
// variables with production-sane defaults.
func LoadConfigFromEnv() (Config, error) {
	port, err := strconv.Atoi(getEnvOrDefault("INSIGHTS_DB_PORT", "5432"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid INSIGHTS_DB_PORT: %w", err)
	}
	maxOpen, _ := strconv.Atoi(getEnvOrDefault("INSIGHTS_DB_MAX_OPEN_CONNS", "25"))
	maxIdle, _ := strconv.Atoi(getEnvOrDefault("INSIGHTS_DB_MAX_IDLE_CONNS", "10"))

	maxLifetime, err := time.ParseDuration(getEnvOrDefault("INSIGHTS_DB_CONN_MAX_LIFETIME", "1h"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid INSIGHTS_DB_CONN_MAX_LIFETIME: %w", err)
	}
	maxIdleTime, err := time.ParseDuration(getEnvOrDefault("INSIGHTS_DB_CONN_MAX_IDLE_TIME", "15m"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid INSIGHTS_DB_CONN_MAX_IDLE_TIME: %w", err)
	}

	cfg := Config{
		Host:            getEnvOrDefault("INSIGHTS_DB_HOST", "localhost"),
		Port:            port,
		User:            getEnvOrDefault("INSIGHTS_DB_USER", "insights"),
		Password:        os.Getenv("INSIGHTS_DB_PASSWORD"),
		Database:        getEnvOrDefault("INSIGHTS_DB_NAME", "insights_core"),
		SSLMode:         getEnvOrDefault("INSIGHTS_DB_SSLMODE", "disable"),
		MaxOpenConns:    int32(maxOpen),
		MaxIdleConns:    int32(maxIdle),
		ConnMaxLifetime: maxLifetime,
		ConnMaxIdleTime: maxIdleTime,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks internal consistency of the configuration.
func (c Config) Validate() error {
	if c.Password == "" {
		return fmt.Errorf("INSIGHTS_DB_PASSWORD is required")
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		return fmt.Errorf("INSIGHTS_DB_MAX_IDLE_CONNS (%d) cannot exceed INSIGHTS_DB_MAX_OPEN_CONNS (%d)", c.MaxIdleConns, c.MaxOpenConns)
	}
	if c.MaxOpenConns < 1 {
		return fmt.Errorf("INSIGHTS_DB_MAX_OPEN_CONNS must be at least 1")
	}
	return nil
}

// DSN renders the libpq connection string pgxpool expects.
func (c Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
