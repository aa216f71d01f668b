package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	BusBackendRedis  = "redis"
	BusBackendMemory = "memory"
)

type Config struct {
	// Service Identity
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
	Environment    string `yaml:"environment"` // Deployment environment (development, staging, production)

	// Network
	HTTPHost string `yaml:"http_host"`
	HTTPPort int    `yaml:"http_port"`
	GRPCPort int    `yaml:"grpc_port"`

	// Message bus
	BusBackend           string `yaml:"bus_backend"` // "redis" or "memory"
	RedisURL             string `yaml:"redis_url"`
	MetricsAddress       string `yaml:"metrics_address"`        // request/reply address the provider answers on
	BroadcastBaseAddress string `yaml:"broadcast_base_address"` // prefix of every stream channel

	// Gateway
	LogLevel            string        `yaml:"log_level"`
	WebRoot             string        `yaml:"web_root"`
	RequestTimeout      time.Duration `yaml:"request_timeout"`
	StreamWriteTimeout  time.Duration `yaml:"stream_write_timeout"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`

	// Embedded provider
	ProviderEnabled   bool          `yaml:"provider_enabled"`
	BroadcastInterval time.Duration `yaml:"broadcast_interval"`
}

func defaults() *Config {
	return &Config{
		ServiceName:          "metrics-gateway",
		ServiceVersion:       "1.0.0",
		Environment:          "development",
		HTTPHost:             "",
		HTTPPort:             8080,
		GRPCPort:             9090,
		BusBackend:           BusBackendRedis,
		RedisURL:             "redis://localhost:6379",
		MetricsAddress:       "metrics",
		BroadcastBaseAddress: "metrics.broadcast",
		LogLevel:             "info",
		WebRoot:              "web",
		RequestTimeout:       5 * time.Second,
		StreamWriteTimeout:   10 * time.Second,
		HealthCheckInterval:  30 * time.Second,
		ProviderEnabled:      true,
		BroadcastInterval:    time.Second,
	}
}

// Load builds the configuration from defaults, an optional YAML file named by
// CONFIG_FILE, and finally environment variables.
func Load() (*Config, error) {
	// Try to load .env file (ignore errors if not found)
	_ = godotenv.Load()

	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.ServiceName = getEnv("SERVICE_NAME", cfg.ServiceName)
	cfg.ServiceVersion = getEnv("SERVICE_VERSION", cfg.ServiceVersion)
	cfg.Environment = getEnv("ENVIRONMENT", cfg.Environment)
	cfg.HTTPHost = getEnv("HTTP_HOST", cfg.HTTPHost)
	cfg.HTTPPort = getEnvAsInt("HTTP_PORT", cfg.HTTPPort)
	cfg.GRPCPort = getEnvAsInt("GRPC_PORT", cfg.GRPCPort)
	cfg.BusBackend = strings.ToLower(getEnv("BUS_BACKEND", cfg.BusBackend))
	cfg.RedisURL = getEnv("REDIS_URL", cfg.RedisURL)
	cfg.MetricsAddress = getEnv("METRICS_ADDRESS", cfg.MetricsAddress)
	cfg.BroadcastBaseAddress = getEnv("BROADCAST_BASE_ADDRESS", cfg.BroadcastBaseAddress)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.WebRoot = getEnv("WEB_ROOT", cfg.WebRoot)
	cfg.RequestTimeout = getEnvAsDuration("REQUEST_TIMEOUT", cfg.RequestTimeout)
	cfg.StreamWriteTimeout = getEnvAsDuration("STREAM_WRITE_TIMEOUT", cfg.StreamWriteTimeout)
	cfg.HealthCheckInterval = getEnvAsDuration("HEALTH_CHECK_INTERVAL", cfg.HealthCheckInterval)
	cfg.ProviderEnabled = getEnvAsBool("PROVIDER_ENABLED", cfg.ProviderEnabled)
	cfg.BroadcastInterval = getEnvAsDuration("BROADCAST_INTERVAL", cfg.BroadcastInterval)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// loadFile overlays YAML settings onto c. ${VAR} references are expanded
// before parsing.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), c); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}
	return nil
}

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return errors.New("service_name is required")
	}
	if c.HTTPPort < 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("http_port must be between 0 and 65535, got %d", c.HTTPPort)
	}
	if c.GRPCPort < 0 || c.GRPCPort > 65535 {
		return fmt.Errorf("grpc_port must be between 0 and 65535, got %d", c.GRPCPort)
	}
	switch c.BusBackend {
	case BusBackendRedis, BusBackendMemory:
	default:
		return fmt.Errorf("bus_backend must be %q or %q, got %q", BusBackendRedis, BusBackendMemory, c.BusBackend)
	}
	if c.MetricsAddress == "" {
		return errors.New("metrics_address is required")
	}
	if c.BroadcastBaseAddress == "" {
		return errors.New("broadcast_base_address is required")
	}
	if c.RequestTimeout <= 0 {
		return errors.New("request_timeout must be positive")
	}
	if c.StreamWriteTimeout <= 0 {
		return errors.New("stream_write_timeout must be positive")
	}
	if c.HealthCheckInterval <= 0 {
		return errors.New("health_check_interval must be positive")
	}
	if c.ProviderEnabled && c.BroadcastInterval <= 0 {
		return errors.New("broadcast_interval must be positive when the provider is enabled")
	}
	return nil
}

// HTTPAddress is the listen address of the HTTP server.
func (c *Config) HTTPAddress() string {
	return fmt.Sprintf("%s:%d", c.HTTPHost, c.HTTPPort)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
