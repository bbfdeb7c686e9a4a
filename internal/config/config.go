// Package config loads coordinator configuration from environment
// variables, following the same flat env-var convention the rest of the
// pack uses rather than a config file format.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all coordinatord configuration.
type Config struct {
	Service   ServiceConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Trace     TraceConfig
	Gateway   GatewayConfig
	Dispatch  DispatchConfig
	Telemetry TelemetryConfig
}

// ServiceConfig holds process-level settings.
type ServiceConfig struct {
	Name        string
	Port        int
	Environment string
	LogLevel    string
	LogFormat   string
}

// DatabaseConfig holds Postgres connection settings for token store, trace
// storage, and context store snapshots.
type DatabaseConfig struct {
	Host        string
	Port        int
	Database    string
	User        string
	Password    string
	MaxConns    int
	MinConns    int
	MaxIdleTime time.Duration
	MaxLifetime time.Duration
}

// RedisConfig holds settings for the trace Hub's cross-process relay (spec
// §4.6) — the one place Redis is wired into the coordinator core.
type RedisConfig struct {
	Enabled bool
	Addr    string
	DB      int
}

// TraceConfig controls the subscriber fan-out Hub.
type TraceConfig struct {
	SubscriberBufferSize int
}

// GatewayConfig controls the Resource Gateway's HTTP client to the
// definition/task registry.
type GatewayConfig struct {
	BaseURL string
	Timeout time.Duration
}

// DispatchConfig holds the per-run dispatch concurrency limit and the
// default task timeout.
type DispatchConfig struct {
	MaxConcurrentDispatchesPerRun int
	DefaultTaskTimeout            time.Duration
}

// TelemetryConfig holds observability toggles.
type TelemetryConfig struct {
	EnablePprof   bool
	PprofPort     int
	EnableMetrics bool
	MetricsPort   int
}

// Load reads configuration from the process environment, applying defaults
// matched to local development (Redis disabled).
func Load() (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			Name:        getEnv("SERVICE_NAME", "coordinatord"),
			Port:        getEnvInt("PORT", 8080),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			LogFormat:   getEnv("LOG_FORMAT", "console"),
		},
		Database: DatabaseConfig{
			Host:        getEnv("POSTGRES_HOST", "localhost"),
			Port:        getEnvInt("POSTGRES_PORT", 5432),
			Database:    getEnv("POSTGRES_DB", "coordinator"),
			User:        getEnv("POSTGRES_USER", "coordinator"),
			Password:    getEnv("POSTGRES_PASSWORD", "coordinator"),
			MaxConns:    getEnvInt("POSTGRES_MAX_CONNS", 25),
			MinConns:    getEnvInt("POSTGRES_MIN_CONNS", 5),
			MaxIdleTime: getEnvDuration("POSTGRES_MAX_IDLE_TIME", 30*time.Minute),
			MaxLifetime: getEnvDuration("POSTGRES_MAX_LIFETIME", time.Hour),
		},
		Redis: RedisConfig{
			Enabled: getEnvBool("REDIS_ENABLED", false),
			Addr:    getEnv("REDIS_ADDR", "localhost:6379"),
			DB:      getEnvInt("REDIS_DB", 0),
		},
		Trace: TraceConfig{
			SubscriberBufferSize: getEnvInt("TRACE_SUBSCRIBER_BUFFER_SIZE", 256),
		},
		Gateway: GatewayConfig{
			BaseURL: getEnv("GATEWAY_BASE_URL", "http://localhost:8081"),
			Timeout: getEnvDuration("GATEWAY_TIMEOUT", 10*time.Second),
		},
		Dispatch: DispatchConfig{
			MaxConcurrentDispatchesPerRun: getEnvInt("MAX_CONCURRENT_DISPATCHES_PER_RUN", 16),
			DefaultTaskTimeout:            getEnvDuration("DEFAULT_TASK_TIMEOUT", 5*time.Minute),
		},
		Telemetry: TelemetryConfig{
			EnablePprof:   getEnvBool("ENABLE_PPROF", false),
			PprofPort:     getEnvInt("PPROF_PORT", 6060),
			EnableMetrics: getEnvBool("ENABLE_METRICS", true),
			MetricsPort:   getEnvInt("METRICS_PORT", 9090),
		},
	}

	return cfg, cfg.Validate()
}

// Validate rejects configuration that would fail fast and confusingly later.
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Service.Port)
	}
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns must be >= min_conns")
	}
	if c.Dispatch.MaxConcurrentDispatchesPerRun < 1 {
		return fmt.Errorf("max_concurrent_dispatches_per_run must be >= 1")
	}
	return nil
}

// DatabaseURL returns the pgx connection string.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
