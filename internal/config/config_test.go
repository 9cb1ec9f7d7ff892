package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "tandem.yaml", `
version: 1
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.HTTPPort != 8080 {
		t.Fatalf("http_port = %d, want 8080", cfg.Server.HTTPPort)
	}
	if cfg.Database.Driver != DatabaseMemory {
		t.Fatalf("driver = %q, want memory", cfg.Database.Driver)
	}
	if cfg.Realtime.Path != "/ws" || cfg.Realtime.SendBuffer != 64 {
		t.Fatalf("unexpected realtime defaults: %+v", cfg.Realtime)
	}
	if cfg.Realtime.VersionBackend != VersionBackendMemory {
		t.Fatalf("version_backend = %q", cfg.Realtime.VersionBackend)
	}
	if cfg.Auth.TokenExpiry != 24*time.Hour {
		t.Fatalf("token_expiry = %v", cfg.Auth.TokenExpiry)
	}
}

func TestLoadEditingTTL(t *testing.T) {
	tests := []struct {
		name string
		body string
		want time.Duration
	}{
		{name: "unset uses default", body: "version: 1\n", want: 2 * time.Minute},
		{name: "zero disables expiry", body: "version: 1\nrealtime:\n  editing_ttl: 0s\n", want: 0},
		{name: "explicit", body: "version: 1\nrealtime:\n  editing_ttl: 45s\n", want: 45 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, "tandem.yaml", tt.body))
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if got := cfg.Realtime.EditingExpiry(); got != tt.want {
				t.Fatalf("EditingExpiry() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "tandem.yaml", `
version: 1
server:
  host: 0.0.0.0
  extra: true
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unknown field")
	}
}

func TestLoadRequiresVersion(t *testing.T) {
	path := writeConfig(t, "tandem.yaml", `
server:
  http_port: 9000
`)
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "config version") {
		t.Fatalf("expected version error, got %v", err)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "database url required",
			body: "version: 1\ndatabase:\n  driver: postgres\n",
			want: "database.url",
		},
		{
			name: "unknown driver",
			body: "version: 1\ndatabase:\n  driver: mongo\n",
			want: "database.driver",
		},
		{
			name: "ping not shorter than pong",
			body: "version: 1\nrealtime:\n  ping_interval: 90s\n  pong_wait: 60s\n",
			want: "ping_interval",
		},
		{
			name: "bad cron",
			body: "version: 1\nrealtime:\n  sweep_schedule: every-now-and-then\n",
			want: "sweep_schedule",
		},
		{
			name: "bad version backend",
			body: "version: 1\nrealtime:\n  version_backend: etcd\n",
			want: "version_backend",
		},
		{
			name: "unknown log level",
			body: "version: 1\nlogging:\n  level: chatty\n",
			want: "logging.level",
		},
		{
			name: "negative event rate",
			body: "version: 1\nrealtime:\n  event_rate: -1\n",
			want: "event_rate",
		},
		{
			name: "negative editing ttl",
			body: "version: 1\nrealtime:\n  editing_ttl: -1m\n",
			want: "editing_ttl",
		},
		{
			name: "sampling rate",
			body: "version: 1\nobservability:\n  tracing:\n    sampling_rate: 2\n",
			want: "sampling_rate",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, "tandem.yaml", tt.body)
			_, err := Load(path)
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !IsValidationError(err) {
				t.Fatalf("expected ValidationError, got %T: %v", err, err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected %q in error, got %v", tt.want, err)
			}
		})
	}
}

func TestLoadAggregatesIssues(t *testing.T) {
	path := writeConfig(t, "tandem.yaml", `
version: 1
database:
  driver: sqlite
realtime:
  version_backend: etcd
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error")
	}
	ve, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if len(ve.Issues) != 2 {
		t.Fatalf("expected 2 issues, got %v", ve.Issues)
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("TANDEM_TEST_SECRET", "s3cret")
	path := writeConfig(t, "tandem.yaml", `
version: 1
auth:
  jwt_secret: ${TANDEM_TEST_SECRET}
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Auth.JWTSecret != "s3cret" {
		t.Fatalf("jwt_secret = %q", cfg.Auth.JWTSecret)
	}
}

func TestLoadMergesIncludes(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "base.json5")
	if err := os.WriteFile(base, []byte(`{
  // shared settings
  server: { http_port: 9100, host: "127.0.0.1" },
  realtime: { send_buffer: 16 },
}`), 0o600); err != nil {
		t.Fatalf("write base: %v", err)
	}
	main := filepath.Join(dir, "tandem.yaml")
	if err := os.WriteFile(main, []byte(`
$include: base.json5
version: 1
server:
  http_port: 9200
`), 0o600); err != nil {
		t.Fatalf("write main: %v", err)
	}

	cfg, err := Load(main)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.HTTPPort != 9200 {
		t.Fatalf("http_port = %d, want including file to win", cfg.Server.HTTPPort)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Fatalf("host = %q, want value from include", cfg.Server.Host)
	}
	if cfg.Realtime.SendBuffer != 16 {
		t.Fatalf("send_buffer = %d, want 16", cfg.Realtime.SendBuffer)
	}
}

func TestLoadRawDetectsIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.yaml")
	b := filepath.Join(dir, "b.yaml")
	if err := os.WriteFile(a, []byte("include: b.yaml\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(b, []byte("include: [a.yaml]\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := LoadRaw(a)
	if err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("expected cycle error, got %v", err)
	}
}

func TestLoadRawRejectsMultipleDocuments(t *testing.T) {
	path := writeConfig(t, "tandem.yaml", "version: 1\n---\nversion: 2\n")
	if _, err := LoadRaw(path); err == nil {
		t.Fatal("expected error for multi-document yaml")
	}
}

func TestMergeMaps(t *testing.T) {
	dst := map[string]any{"a": map[string]any{"x": 1, "y": 2}, "b": 1}
	src := map[string]any{"a": map[string]any{"y": 3}, "c": 4}
	got := mergeMaps(dst, src)
	inner := got["a"].(map[string]any)
	if inner["x"] != 1 || inner["y"] != 3 {
		t.Fatalf("nested merge wrong: %v", inner)
	}
	if got["b"] != 1 || got["c"] != 4 {
		t.Fatalf("top-level merge wrong: %v", got)
	}
}

func TestAuthServiceConfig(t *testing.T) {
	cfg := AuthConfig{
		JWTSecret:   "secret",
		TokenExpiry: time.Hour,
		APIKeys:     []APIKeyConfig{{Key: "k1", UserID: "u1", Email: "u1@example.com"}},
	}
	svc := cfg.ServiceConfig()
	if svc.JWTSecret != "secret" || svc.TokenExpiry != time.Hour {
		t.Fatalf("unexpected service config: %+v", svc)
	}
	if len(svc.APIKeys) != 1 || svc.APIKeys[0].UserID != "u1" {
		t.Fatalf("unexpected api keys: %+v", svc.APIKeys)
	}
}

func TestJSONSchemaUsesYAMLNames(t *testing.T) {
	data, err := JSONSchema()
	if err != nil {
		t.Fatalf("JSONSchema() error = %v", err)
	}
	if !json.Valid(data) {
		t.Fatal("schema is not valid JSON")
	}
	for _, key := range []string{"max_payload_bytes", "version_backend", "jwt_secret"} {
		if !strings.Contains(string(data), key) {
			t.Fatalf("schema missing %q", key)
		}
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := validate(cfg); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func writeConfig(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestSectionSchema(t *testing.T) {
	data, err := SectionSchema("Realtime")
	if err != nil {
		t.Fatalf("SectionSchema() error = %v", err)
	}
	if !strings.Contains(string(data), "event_rate") || strings.Contains(string(data), "jwt_secret") {
		t.Fatalf("realtime schema has wrong properties: %s", data)
	}
	if _, err := SectionSchema("plugins"); err == nil || !strings.Contains(err.Error(), "realtime") {
		t.Fatalf("expected unknown section error listing sections, got %v", err)
	}
}
