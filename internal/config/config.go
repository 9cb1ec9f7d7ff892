// Package config loads and validates the tandem gateway configuration.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config is the main configuration structure for tandem.
type Config struct {
	Version       int                 `yaml:"version"`
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	Auth          AuthConfig          `yaml:"auth"`
	Realtime      RealtimeConfig      `yaml:"realtime"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ValidationError aggregates every configuration problem found by Load.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Issues) == 0 {
		return "config invalid"
	}
	return "config invalid: " + strings.Join(e.Issues, "; ")
}

// Load reads, merges, decodes, defaults and validates the configuration file.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := ValidateVersion(cfg.Version); err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration populated only with defaults. It backs
// zero-config runs and tests.
func Default() *Config {
	cfg := &Config{Version: CurrentVersion}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = DatabaseMemory
	}
	if cfg.Database.MaxConnections == 0 {
		cfg.Database.MaxConnections = 25
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 5 * time.Minute
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Auth.TokenExpiry == 0 {
		cfg.Auth.TokenExpiry = 24 * time.Hour
	}
	applyRealtimeDefaults(&cfg.Realtime)
	applyObservabilityDefaults(cfg)
}

func validate(cfg *Config) error {
	var issues []string

	if cfg.Server.HTTPPort < 0 || cfg.Server.HTTPPort > 65535 {
		issues = append(issues, fmt.Sprintf("server.http_port %d out of range", cfg.Server.HTTPPort))
	}
	if cfg.Server.GRPCPort < 0 || cfg.Server.GRPCPort > 65535 {
		issues = append(issues, fmt.Sprintf("server.grpc_port %d out of range", cfg.Server.GRPCPort))
	}
	switch cfg.Database.Driver {
	case DatabaseMemory:
	case DatabasePostgres, DatabaseSQLite:
		if strings.TrimSpace(cfg.Database.URL) == "" {
			issues = append(issues, fmt.Sprintf("database.url is required for driver %q", cfg.Database.Driver))
		}
	default:
		issues = append(issues, fmt.Sprintf("database.driver %q must be memory, postgres or sqlite", cfg.Database.Driver))
	}
	issues = append(issues, validateRealtime(&cfg.Realtime)...)
	if cfg.Realtime.VersionBackend == VersionBackendRedis && strings.TrimSpace(cfg.Redis.Addr) == "" {
		issues = append(issues, "redis.addr is required when realtime.version_backend is redis")
	}
	issues = append(issues, validateObservability(cfg)...)

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}

// IsValidationError reports whether err carries validation issues.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
