package config

import (
	"fmt"
	"strings"
)

// LoggingConfig selects the slog handler. Level is re-applied on hot reload.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ObservabilityConfig configures tracing.
type ObservabilityConfig struct {
	Tracing TracingConfig `yaml:"tracing"`
}

// TracingConfig controls OpenTelemetry export of data-change and
// conflict-check spans. An empty endpoint keeps the no-op tracer.
type TracingConfig struct {
	Endpoint       string            `yaml:"endpoint"`
	ServiceName    string            `yaml:"service_name"`
	ServiceVersion string            `yaml:"service_version"`
	Environment    string            `yaml:"environment"`
	SamplingRate   float64           `yaml:"sampling_rate"`
	Insecure       bool              `yaml:"insecure"`
	Attributes     map[string]string `yaml:"attributes"`
}

// Enabled reports whether spans are exported.
func (c TracingConfig) Enabled() bool {
	return strings.TrimSpace(c.Endpoint) != ""
}

var logLevels = map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}

func applyObservabilityDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Observability.Tracing.ServiceName == "" {
		cfg.Observability.Tracing.ServiceName = "tandem"
	}
}

func validateObservability(cfg *Config) []string {
	var issues []string
	if !logLevels[strings.ToLower(strings.TrimSpace(cfg.Logging.Level))] {
		issues = append(issues, fmt.Sprintf("logging.level %q must be debug, info, warn or error", cfg.Logging.Level))
	}
	switch strings.ToLower(cfg.Logging.Format) {
	case "json", "text":
	default:
		issues = append(issues, fmt.Sprintf("logging.format %q must be json or text", cfg.Logging.Format))
	}
	if rate := cfg.Observability.Tracing.SamplingRate; rate < 0 || rate > 1 {
		issues = append(issues, "observability.tracing.sampling_rate must be within [0, 1]")
	}
	return issues
}
