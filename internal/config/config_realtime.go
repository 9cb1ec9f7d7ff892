package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Supported version store backends.
const (
	VersionBackendMemory = "memory"
	VersionBackendRedis  = "redis"
)

// RealtimeConfig tunes the WebSocket gateway.
type RealtimeConfig struct {
	// Path is the HTTP path the gateway is mounted at.
	Path string `yaml:"path"`

	MaxPayloadBytes int64 `yaml:"max_payload_bytes"`

	// SendBuffer is the per-connection outbound queue length. Messages beyond
	// it are dropped for that connection.
	SendBuffer int `yaml:"send_buffer"`

	PingInterval time.Duration `yaml:"ping_interval"`
	PongWait     time.Duration `yaml:"pong_wait"`
	WriteWait    time.Duration `yaml:"write_wait"`

	// EditingTTL expires editing claims of disconnected users once they go
	// unannounced this long. Unset means two minutes; 0s disables expiry.
	EditingTTL *time.Duration `yaml:"editing_ttl"`

	// SweepSchedule is a cron spec for the stale-claim sweeper.
	SweepSchedule string `yaml:"sweep_schedule"`

	// AllowedOrigins restricts browser origins. Empty allows all.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// VersionBackend selects memory or redis version tracking.
	VersionBackend string `yaml:"version_backend"`

	// EventRate caps inbound events per user per second; EventBurst is the
	// allowed burst. Zero disables the cap.
	EventRate  float64 `yaml:"event_rate"`
	EventBurst int     `yaml:"event_burst"`
}

// EditingExpiry returns the editing claim TTL, zero when expiry is off.
func (c RealtimeConfig) EditingExpiry() time.Duration {
	if c.EditingTTL == nil {
		return 0
	}
	return *c.EditingTTL
}

func applyRealtimeDefaults(cfg *RealtimeConfig) {
	if cfg.Path == "" {
		cfg.Path = "/ws"
	}
	if cfg.MaxPayloadBytes == 0 {
		cfg.MaxPayloadBytes = 1 << 20
	}
	if cfg.SendBuffer == 0 {
		cfg.SendBuffer = 64
	}
	if cfg.PingInterval == 0 {
		cfg.PingInterval = 25 * time.Second
	}
	if cfg.PongWait == 0 {
		cfg.PongWait = 60 * time.Second
	}
	if cfg.WriteWait == 0 {
		cfg.WriteWait = 10 * time.Second
	}
	if cfg.EditingTTL == nil {
		ttl := 2 * time.Minute
		cfg.EditingTTL = &ttl
	}
	if cfg.SweepSchedule == "" {
		cfg.SweepSchedule = "@every 30s"
	}
	if cfg.VersionBackend == "" {
		cfg.VersionBackend = VersionBackendMemory
	}
}

func validateRealtime(cfg *RealtimeConfig) []string {
	var issues []string
	if !strings.HasPrefix(cfg.Path, "/") {
		issues = append(issues, fmt.Sprintf("realtime.path %q must start with /", cfg.Path))
	}
	if cfg.MaxPayloadBytes < 0 {
		issues = append(issues, "realtime.max_payload_bytes must be positive")
	}
	if cfg.SendBuffer < 0 {
		issues = append(issues, "realtime.send_buffer must be positive")
	}
	if cfg.PingInterval >= cfg.PongWait {
		issues = append(issues, "realtime.ping_interval must be shorter than realtime.pong_wait")
	}
	if cfg.EventRate < 0 || cfg.EventBurst < 0 {
		issues = append(issues, "realtime.event_rate and realtime.event_burst must not be negative")
	}
	if cfg.EditingExpiry() < 0 {
		issues = append(issues, "realtime.editing_ttl must not be negative")
	}
	if _, err := cron.ParseStandard(cfg.SweepSchedule); err != nil {
		issues = append(issues, fmt.Sprintf("realtime.sweep_schedule: %v", err))
	}
	switch cfg.VersionBackend {
	case VersionBackendMemory, VersionBackendRedis:
	default:
		issues = append(issues, fmt.Sprintf("realtime.version_backend %q must be memory or redis", cfg.VersionBackend))
	}
	return issues
}
