// Package config loads application configuration from environment
// variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tallyhq/tally/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Auth          AuthConfig
	RateLimit     RateLimitConfig
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
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// RedisConfig holds Redis settings. Redis is optional; the distributed
// rate limiter is only enabled when URL is set.
type RedisConfig struct {
	URL      string
	Password string
	DB       int
}

// AuthConfig holds token and password settings
type AuthConfig struct {
	JWTSecret       string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	BcryptCost      int
}

// RateLimitConfig holds request rate limiting settings
type RateLimitConfig struct {
	Enabled        bool
	Burst          int
	WindowRequests int
	Window         time.Duration
}

// ObservabilityConfig holds logging, metrics and tracing settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("TALLY_HOST", "0.0.0.0"),
			Port:            getEnv("TALLY_PORT", "8080"),
			ReadTimeout:     getEnvDuration("TALLY_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("TALLY_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("TALLY_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("TALLY_SHUTDOWN_TIMEOUT", 30*time.Second),
			HealthPort:      getEnv("TALLY_HEALTH_PORT", "9090"),
		},
		Database: DatabaseConfig{
			URL:             getEnv("TALLY_POSTGRES_URL", ""),
			MaxOpenConns:    getEnvInt("TALLY_POSTGRES_MAX_CONNS", 25),
			MaxIdleConns:    getEnvInt("TALLY_POSTGRES_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("TALLY_POSTGRES_CONN_LIFETIME", 5*time.Minute),
			ConnectTimeout:  getEnvDuration("TALLY_POSTGRES_TIMEOUT", 10*time.Second),
		},
		Redis: RedisConfig{
			URL:      getEnv("TALLY_REDIS_URL", ""),
			Password: getEnv("TALLY_REDIS_PASSWORD", ""),
			DB:       getEnvInt("TALLY_REDIS_DB", 0),
		},
		Auth: AuthConfig{
			JWTSecret:       getEnv("TALLY_JWT_SECRET", ""),
			AccessTokenTTL:  getEnvDuration("TALLY_ACCESS_TOKEN_TTL", 15*time.Minute),
			RefreshTokenTTL: getEnvDuration("TALLY_REFRESH_TOKEN_TTL", 30*24*time.Hour),
			BcryptCost:      getEnvInt("TALLY_BCRYPT_COST", 10),
		},
		RateLimit: RateLimitConfig{
			Enabled:        getEnvBool("TALLY_RATELIMIT_ENABLED", true),
			Burst:          getEnvInt("TALLY_RATELIMIT_BURST", 20),
			WindowRequests: getEnvInt("TALLY_RATELIMIT_WINDOW_REQUESTS", 100),
			Window:         getEnvDuration("TALLY_RATELIMIT_WINDOW", time.Minute),
		},
		Observability: ObservabilityConfig{
			LogLevel:           observability.ParseLogLevel(getEnv("TALLY_LOG_LEVEL", "info")),
			MetricsEnabled:     getEnvBool("TALLY_METRICS_ENABLED", true),
			OTelEnabled:        getEnvBool("TALLY_OTEL_ENABLED", false),
			OTelEndpoint:       getEnv("TALLY_OTEL_ENDPOINT", "localhost:4317"),
			OTelServiceName:    getEnv("TALLY_OTEL_SERVICE_NAME", "tally"),
			OTelServiceVersion: getEnv("TALLY_OTEL_SERVICE_VERSION", "1.0.0"),
			OTelInsecure:       getEnvBool("TALLY_OTEL_INSECURE", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
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

	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT secret is required")
	}
	if c.Auth.AccessTokenTTL <= 0 || c.Auth.RefreshTokenTTL <= 0 {
		return fmt.Errorf("token TTLs must be positive")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
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
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
