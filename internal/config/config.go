// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends
const (
	BackendCSV      = "csv"
	BackendPostgres = "postgres"
)

// Config is the full service configuration
type Config struct {
	Service  ServiceConfig
	Server   ServerConfig
	Store    StoreConfig
	Database DatabaseConfig
	Auth     AuthConfig
	NATS     NATSConfig
}

// ServiceConfig identifies the running service
type ServiceConfig struct {
	Name        string
	Version     string
	Environment string
}

// ServerConfig holds HTTP and gRPC listener settings
type ServerConfig struct {
	Port            int
	GRPCPort        int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

// StoreConfig selects the claim store and its persistence discipline
type StoreConfig struct {
	Backend    string
	Discipline string
	CSVPath    string
}

// DatabaseConfig holds Postgres settings, used when Store.Backend is postgres
type DatabaseConfig struct {
	Host        string
	Port        int
	User        string
	Password    string
	Database    string
	SSLMode     string
	MaxConns    int32
	MinConns    int32
	MaxConnTime time.Duration
	MaxIdleTime time.Duration
	HealthCheck time.Duration
}

// AuthConfig holds the shared verifier secret gating write access
type AuthConfig struct {
	VerifierSecret string
}

// NATSConfig holds the event bus settings. An empty URL disables publishing.
type NATSConfig struct {
	URL string
}

// Load reads a .env file when present and then the process environment.
func Load() (*Config, error) {
	// a missing .env is normal outside local development
	_ = godotenv.Load()

	cfg := &Config{
		Service: ServiceConfig{
			Name:        getEnv("SERVICE_NAME", "be-ap-threeway"),
			Version:     getEnv("SERVICE_VERSION", "dev"),
			Environment: getEnv("ENVIRONMENT", "development"),
		},
		Store: StoreConfig{
			Backend:    strings.ToLower(getEnv("STORE_BACKEND", BackendCSV)),
			Discipline: strings.ToLower(getEnv("STORE_DISCIPLINE", "append")),
			CSVPath:    getEnv("CSV_PATH", "data/db.csv"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			User:     getEnv("DB_USER", "postgres"),
			Password: os.Getenv("DB_PASSWORD"),
			Database: getEnv("DB_NAME", "ap_threeway"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Auth: AuthConfig{
			VerifierSecret: os.Getenv("AUTH_VERIFIER_SECRET"),
		},
		NATS: NATSConfig{
			URL: os.Getenv("NATS_URL"),
		},
	}

	var err error
	if cfg.Server.Port, err = getEnvAsInt("HTTP_PORT", 8085); err != nil {
		return nil, err
	}
	if cfg.Server.GRPCPort, err = getEnvAsInt("GRPC_PORT", 9085); err != nil {
		return nil, err
	}
	if cfg.Server.ReadTimeout, err = getEnvAsDuration("HTTP_READ_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.Server.WriteTimeout, err = getEnvAsDuration("HTTP_WRITE_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.Server.IdleTimeout, err = getEnvAsDuration("HTTP_IDLE_TIMEOUT", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.Server.RequestTimeout, err = getEnvAsDuration("HTTP_REQUEST_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.Server.ShutdownTimeout, err = getEnvAsDuration("SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}

	if cfg.Database.Port, err = getEnvAsInt("DB_PORT", 5432); err != nil {
		return nil, err
	}
	maxConns, err := getEnvAsInt("DB_MAX_CONNS", 10)
	if err != nil {
		return nil, err
	}
	minConns, err := getEnvAsInt("DB_MIN_CONNS", 1)
	if err != nil {
		return nil, err
	}
	cfg.Database.MaxConns = int32(maxConns)
	cfg.Database.MinConns = int32(minConns)
	if cfg.Database.MaxConnTime, err = getEnvAsDuration("DB_MAX_CONN_TIME", time.Hour); err != nil {
		return nil, err
	}
	if cfg.Database.MaxIdleTime, err = getEnvAsDuration("DB_MAX_IDLE_TIME", 30*time.Minute); err != nil {
		return nil, err
	}
	if cfg.Database.HealthCheck, err = getEnvAsDuration("DB_HEALTH_CHECK", time.Minute); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks values that have a closed set of options
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendCSV, BackendPostgres:
	default:
		return fmt.Errorf("STORE_BACKEND must be %q or %q, got %q", BackendCSV, BackendPostgres, c.Store.Backend)
	}

	switch c.Store.Discipline {
	case "append", "upsert":
	default:
		return fmt.Errorf("STORE_DISCIPLINE must be \"append\" or \"upsert\", got %q", c.Store.Discipline)
	}

	if c.Store.Backend == BackendCSV && c.Store.CSVPath == "" {
		return fmt.Errorf("CSV_PATH is required for the csv backend")
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %w", key, err)
	}

	return value, nil
}

func getEnvAsDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %w", key, err)
	}

	return value, nil
}
