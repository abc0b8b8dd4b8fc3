package config

import (
	"errors"
	"fmt"
	"os"
)

// Store backends.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

type Config struct {
	Port string

	// StoreBackend selects where room state persists: sqlite (default),
	// postgres, or redis.
	StoreBackend string
	SQLitePath   string
	RedisAddr    string

	PostgresHost     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresPort     string
	PostgresSSLMode  string

	// JWTSecret verifies identity tokens; connections without a valid token
	// are accepted as anonymous.
	JWTSecret string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:             getEnvOrDefault("PORT", "8080"),
		StoreBackend:     getEnvOrDefault("STORE_BACKEND", BackendSQLite),
		SQLitePath:       getEnvOrDefault("SQLITE_PATH", "collabrelay.db"),
		RedisAddr:        getEnvOrDefault("REDIS_ADDR", "redis:6379"),
		PostgresHost:     getEnvOrDefault("POSTGRES_HOST", "localhost"),
		PostgresUser:     getEnvOrDefault("POSTGRES_USER", "postgres"),
		PostgresPassword: getEnvOrDefault("POSTGRES_PASSWORD", "postgres"),
		PostgresDB:       getEnvOrDefault("POSTGRES_DB", "postgres"),
		PostgresPort:     getEnvOrDefault("POSTGRES_PORT", "5432"),
		PostgresSSLMode:  getEnvOrDefault("POSTGRES_SSLMODE", "disable"),
		JWTSecret:        getEnvOrDefault("JWT_SECRET", "dev-secret"),
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// PostgresDSN assembles the connection string for the postgres backend.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		c.PostgresHost, c.PostgresUser, c.PostgresPassword, c.PostgresDB, c.PostgresPort, c.PostgresSSLMode)
}

func validate(cfg *Config) error {
	switch cfg.StoreBackend {
	case BackendSQLite, BackendPostgres, BackendRedis:
		return nil
	}
	return errors.New("unsupported store backend: " + cfg.StoreBackend +
		". Currently supported: sqlite, postgres, redis")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
