package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/neofi/chronicle/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Storage configuration
	Storage StorageConfig

	// Auth configuration
	Auth AuthConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string

	// CORS
	AllowedOrigins []string
}

// StorageConfig holds persistence configuration
type StorageConfig struct {
	// Driver is "sqlite3" or "postgres"
	Driver string

	// DSN is the driver-specific data source name. For sqlite3 this is a
	// file path (or ":memory:"), for postgres a connection URL.
	DSN string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	// RedisURL enables the distributed rate limiter and the Redis health
	// probe when non-empty.
	RedisURL      string
	RedisPassword string
	RedisDB       int
}

// AuthConfig holds token and account bootstrap configuration
type AuthConfig struct {
	// JWTSecret signs HS256 access and refresh tokens
	JWTSecret string

	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// Seeded owner account, created on startup when absent
	OwnerEmail    string
	OwnerPassword string

	// Cron expression for the expired refresh token purge
	TokenPurgeSchedule string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Auth:          loadAuthConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("CHRONICLE_HOST", "0.0.0.0"),
		Port:            getEnv("CHRONICLE_PORT", "8080"),
		ReadTimeout:     getEnvDuration("CHRONICLE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("CHRONICLE_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("CHRONICLE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("CHRONICLE_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("CHRONICLE_HEALTH_PORT", "9090"),
		AllowedOrigins:  getEnvList("CHRONICLE_ALLOWED_ORIGINS", []string{"*"}),
	}
}

// loadStorageConfig loads storage configuration from environment
func loadStorageConfig() StorageConfig {
	return StorageConfig{
		Driver:          getEnv("CHRONICLE_STORAGE_DRIVER", "sqlite3"),
		DSN:             getEnv("CHRONICLE_STORAGE_DSN", "chronicle.db"),
		MaxOpenConns:    getEnvInt("CHRONICLE_STORAGE_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvInt("CHRONICLE_STORAGE_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvDuration("CHRONICLE_STORAGE_CONN_MAX_LIFETIME", 5*time.Minute),
		RedisURL:        getEnv("CHRONICLE_REDIS_URL", ""),
		RedisPassword:   getEnv("CHRONICLE_REDIS_PASSWORD", ""),
		RedisDB:         getEnvInt("CHRONICLE_REDIS_DB", 0),
	}
}

// loadAuthConfig loads auth configuration from environment
func loadAuthConfig() AuthConfig {
	return AuthConfig{
		JWTSecret:          getEnv("CHRONICLE_JWT_SECRET", ""),
		AccessTokenTTL:     getEnvDuration("CHRONICLE_ACCESS_TOKEN_TTL", 30*time.Minute),
		RefreshTokenTTL:    getEnvDuration("CHRONICLE_REFRESH_TOKEN_TTL", 7*24*time.Hour),
		OwnerEmail:         getEnv("CHRONICLE_OWNER_EMAIL", "owner@chronicle.local"),
		OwnerPassword:      getEnv("CHRONICLE_OWNER_PASSWORD", ""),
		TokenPurgeSchedule: getEnv("CHRONICLE_TOKEN_PURGE_SCHEDULE", "@hourly"),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:       observability.ParseLogLevel(getEnv("CHRONICLE_LOG_LEVEL", "info")),
		MetricsEnabled: getEnvBool("CHRONICLE_METRICS_ENABLED", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	switch c.Storage.Driver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("invalid storage driver: %s (must be sqlite3 or postgres)", c.Storage.Driver)
	}
	if c.Storage.DSN == "" {
		return fmt.Errorf("storage DSN is required")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT secret is required (set CHRONICLE_JWT_SECRET)")
	}
	if c.Auth.AccessTokenTTL <= 0 {
		return fmt.Errorf("access token TTL must be positive")
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		return fmt.Errorf("refresh token TTL must exceed access token TTL")
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList returns a comma-separated environment variable or a default
func getEnvList(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}
