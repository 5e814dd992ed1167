// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, duration parsing, and defaults

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "0.0.0.0:8080"

database:
  path: "./test.db"

auth:
  jwt_secret: "dev-secret"
  token_ttl: "12h"

nats:
  enabled: true
  url: "nats://localhost:4222"
  subject_prefix: "hireloop"

simulator:
  enabled: true
  interval: "2s"
  ghost_ratio: 0.2
  newcomer_ratio: 0.1

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:8080" {
		t.Errorf("HTTPAddr = %q, want 0.0.0.0:8080", cfg.Server.HTTPAddr)
	}
	if cfg.Database.Path != "./test.db" {
		t.Errorf("Database.Path = %q, want ./test.db", cfg.Database.Path)
	}
	if cfg.Auth.JWTSecret != "dev-secret" {
		t.Errorf("JWTSecret = %q, want dev-secret", cfg.Auth.JWTSecret)
	}
	if cfg.Auth.TokenTTL != 12*time.Hour {
		t.Errorf("TokenTTL = %v, want 12h", cfg.Auth.TokenTTL)
	}
	if !cfg.NATS.Enabled || cfg.NATS.URL != "nats://localhost:4222" {
		t.Errorf("NATS = %+v, want enabled with url", cfg.NATS)
	}
	if cfg.Simulator.Interval != 2*time.Second {
		t.Errorf("Simulator.Interval = %v, want 2s", cfg.Simulator.Interval)
	}
	if cfg.Simulator.GhostRatio != 0.2 {
		t.Errorf("GhostRatio = %v, want 0.2", cfg.Simulator.GhostRatio)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v, want debug/json", cfg.Logging)
	}
}

func TestLoad_AppliesDefaults(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "localhost:8080"
database:
  path: "./test.db"
auth:
  jwt_secret: "dev-secret"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Auth.TokenTTL != DefaultTokenTTL {
		t.Errorf("TokenTTL = %v, want default %v", cfg.Auth.TokenTTL, DefaultTokenTTL)
	}
	if cfg.Simulator.Interval != DefaultSimulatorInterval {
		t.Errorf("Simulator.Interval = %v, want default %v", cfg.Simulator.Interval, DefaultSimulatorInterval)
	}
	if cfg.NATS.SubjectPrefix != DefaultSubjectPrefix {
		t.Errorf("SubjectPrefix = %q, want default %q", cfg.NATS.SubjectPrefix, DefaultSubjectPrefix)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_JWT_SECRET", "secret-from-env")
	t.Setenv("TEST_DB_DIR", "/var/lib/hireloop")

	configPath := writeConfig(t, `
server:
  http_addr: "localhost:8080"
database:
  path: "${TEST_DB_DIR}/portal.db"
auth:
  jwt_secret: "${TEST_JWT_SECRET}"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Auth.JWTSecret != "secret-from-env" {
		t.Errorf("JWTSecret = %q, want secret-from-env", cfg.Auth.JWTSecret)
	}
	if cfg.Database.Path != "/var/lib/hireloop/portal.db" {
		t.Errorf("Database.Path = %q, want expanded path", cfg.Database.Path)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("Load() should fail for missing file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, "server: [not: valid: yaml")

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() should fail for invalid YAML")
	}
	if !strings.Contains(err.Error(), "parsing config file") {
		t.Errorf("Load() error = %q, want parse error", err.Error())
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "localhost:8080"
database:
  path: "./test.db"
auth:
  jwt_secret: "dev-secret"
  token_ttl: "not-a-duration"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() should fail for invalid duration")
	}
	if !strings.Contains(err.Error(), "token_ttl") {
		t.Errorf("Load() error = %q, want token_ttl mention", err.Error())
	}
}

func TestLoad_MissingRequiredFields(t *testing.T) {
	tests := []struct {
		name          string
		configContent string
		wantErrSubstr string
	}{
		{
			name: "missing http_addr",
			configContent: `
server:
  http_addr: ""
database:
  path: "./test.db"
auth:
  jwt_secret: "dev-secret"
`,
			wantErrSubstr: "server.http_addr is required",
		},
		{
			name: "missing database path",
			configContent: `
server:
  http_addr: "localhost:8080"
database:
  path: ""
auth:
  jwt_secret: "dev-secret"
`,
			wantErrSubstr: "database.path is required",
		},
		{
			name: "missing jwt secret",
			configContent: `
server:
  http_addr: "localhost:8080"
database:
  path: "./test.db"
`,
			wantErrSubstr: "auth.jwt_secret is required",
		},
		{
			name: "nats enabled without url",
			configContent: `
server:
  http_addr: "localhost:8080"
database:
  path: "./test.db"
auth:
  jwt_secret: "dev-secret"
nats:
  enabled: true
`,
			wantErrSubstr: "nats.url is required",
		},
		{
			name: "ghost ratio out of range",
			configContent: `
server:
  http_addr: "localhost:8080"
database:
  path: "./test.db"
auth:
  jwt_secret: "dev-secret"
simulator:
  ghost_ratio: 1.5
`,
			wantErrSubstr: "ghost_ratio",
		},
		{
			name: "ratios exceed one",
			configContent: `
server:
  http_addr: "localhost:8080"
database:
  path: "./test.db"
auth:
  jwt_secret: "dev-secret"
simulator:
  ghost_ratio: 0.7
  newcomer_ratio: 0.6
`,
			wantErrSubstr: "must not exceed 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := writeConfig(t, tt.configContent)

			_, err := Load(configPath)
			if err == nil {
				t.Errorf("Load() expected error containing %q, got nil", tt.wantErrSubstr)
				return
			}

			if !strings.Contains(err.Error(), tt.wantErrSubstr) {
				t.Errorf("Load() error = %q, want error containing %q", err.Error(), tt.wantErrSubstr)
			}
		})
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("FOO", "bar")
	t.Setenv("BAZ", "qux")

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "single env var",
			input:    "${FOO}",
			expected: "bar",
		},
		{
			name:     "env var with surrounding text",
			input:    "prefix-${FOO}-suffix",
			expected: "prefix-bar-suffix",
		},
		{
			name:     "multiple env vars",
			input:    "${FOO}/${BAZ}",
			expected: "bar/qux",
		},
		{
			name:     "no env vars",
			input:    "no-vars-here",
			expected: "no-vars-here",
		},
		{
			name:     "unset env var",
			input:    "${UNSET_VAR}",
			expected: "",
		},
		{
			name:     "empty string",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := expandEnvVars(tt.input)
			if result != tt.expected {
				t.Errorf("expandEnvVars(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestValidate_TailscaleConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name: "tailscale enabled with hostname",
			cfg: Config{
				Tailscale: TailscaleConfig{Enabled: true, Hostname: "portal"},
				Database:  DatabaseConfig{Path: "./test.db"},
				Auth:      AuthConfig{JWTSecret: "s"},
			},
			wantErr: false,
		},
		{
			name: "tailscale enabled without hostname",
			cfg: Config{
				Tailscale: TailscaleConfig{Enabled: true},
				Database:  DatabaseConfig{Path: "./test.db"},
				Auth:      AuthConfig{JWTSecret: "s"},
			},
			wantErr: true,
		},
		{
			name: "tailscale disabled requires http_addr",
			cfg: Config{
				Database: DatabaseConfig{Path: "./test.db"},
				Auth:     AuthConfig{JWTSecret: "s"},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr = %v", err, tt.wantErr)
			}
		})
	}
}
