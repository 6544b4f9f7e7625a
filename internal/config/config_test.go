// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, and duration parsing

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testAESKey = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQ"

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
server:
  listen_addr: "0.0.0.0:8080"

wecom:
  corp_id: "wwtest"
  corp_secret: "secret"
  callback_token: "cb-token"
  encoding_aes_key: "`+testAESKey+`"
  open_kf_id: "wkTest"
  contact_scene: 7

gateway:
  auth_secret: "gw-secret"
  auth_window: "5s"
  heartbeat_interval: "30s"
  heartbeat_timeout: "10s"

database:
  path: "./relay.db"

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.ListenAddr != "0.0.0.0:8080" {
		t.Errorf("Server.ListenAddr = %q, want %q", cfg.Server.ListenAddr, "0.0.0.0:8080")
	}

	if cfg.WeCom.CorpID != "wwtest" {
		t.Errorf("WeCom.CorpID = %q, want %q", cfg.WeCom.CorpID, "wwtest")
	}
	if cfg.WeCom.CorpSecret != "secret" {
		t.Errorf("WeCom.CorpSecret = %q, want %q", cfg.WeCom.CorpSecret, "secret")
	}
	if cfg.WeCom.EncodingAESKey != testAESKey {
		t.Errorf("WeCom.EncodingAESKey = %q, want test key", cfg.WeCom.EncodingAESKey)
	}
	if cfg.WeCom.ContactScene != 7 {
		t.Errorf("WeCom.ContactScene = %d, want 7", cfg.WeCom.ContactScene)
	}

	if cfg.Gateway.AuthSecret != "gw-secret" {
		t.Errorf("Gateway.AuthSecret = %q, want %q", cfg.Gateway.AuthSecret, "gw-secret")
	}
	if cfg.Gateway.AuthWindow != 5*time.Second {
		t.Errorf("Gateway.AuthWindow = %v, want %v", cfg.Gateway.AuthWindow, 5*time.Second)
	}
	if cfg.Gateway.HeartbeatInterval != 30*time.Second {
		t.Errorf("Gateway.HeartbeatInterval = %v, want %v", cfg.Gateway.HeartbeatInterval, 30*time.Second)
	}
	if cfg.Gateway.HeartbeatTimeout != 10*time.Second {
		t.Errorf("Gateway.HeartbeatTimeout = %v, want %v", cfg.Gateway.HeartbeatTimeout, 10*time.Second)
	}

	if cfg.Database.Path != "./relay.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "./relay.db")
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want %q", cfg.Logging.Format, "json")
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_CORP_SECRET", "secret-from-env")
	t.Setenv("TEST_GW_SECRET", "gw-from-env")

	configPath := writeConfig(t, `
server:
  listen_addr: "0.0.0.0:8080"

wecom:
  corp_id: "wwtest"
  corp_secret: "${TEST_CORP_SECRET}"
  callback_token: "cb-token"
  encoding_aes_key: "`+testAESKey+`"
  open_kf_id: "wkTest"

gateway:
  auth_secret: "${TEST_GW_SECRET}"

database:
  path: "./relay.db"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.WeCom.CorpSecret != "secret-from-env" {
		t.Errorf("WeCom.CorpSecret = %q, want %q", cfg.WeCom.CorpSecret, "secret-from-env")
	}
	if cfg.Gateway.AuthSecret != "gw-from-env" {
		t.Errorf("Gateway.AuthSecret = %q, want %q", cfg.Gateway.AuthSecret, "gw-from-env")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, `
server:
  listen_addr "missing colon"
`)

	if _, err := Load(configPath); err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	configPath := writeConfig(t, `
server:
  listen_addr: "0.0.0.0:8080"

wecom:
  corp_id: "wwtest"
  corp_secret: "secret"
  callback_token: "cb-token"
  encoding_aes_key: "`+testAESKey+`"
  open_kf_id: "wkTest"

gateway:
  auth_secret: "gw-secret"
  heartbeat_interval: "not-a-duration"

database:
  path: "./relay.db"
`)

	if _, err := Load(configPath); err == nil {
		t.Error("Load() expected error for invalid duration, got nil")
	}
}

func TestLoad_MissingRequiredFields(t *testing.T) {
	base := func(drop string) string {
		lines := map[string]string{
			"listen_addr":      `  listen_addr: "0.0.0.0:8080"`,
			"corp_id":          `  corp_id: "wwtest"`,
			"corp_secret":      `  corp_secret: "secret"`,
			"callback_token":   `  callback_token: "cb-token"`,
			"encoding_aes_key": `  encoding_aes_key: "` + testAESKey + `"`,
			"open_kf_id":       `  open_kf_id: "wkTest"`,
			"auth_secret":      `  auth_secret: "gw-secret"`,
			"path":             `  path: "./relay.db"`,
		}
		lines[drop] = ""
		return strings.Join([]string{
			"server:", lines["listen_addr"],
			"wecom:", lines["corp_id"], lines["corp_secret"], lines["callback_token"], lines["encoding_aes_key"], lines["open_kf_id"],
			"gateway:", lines["auth_secret"],
			"database:", lines["path"],
		}, "\n")
	}

	tests := []struct {
		name          string
		drop          string
		wantErrSubstr string
	}{
		{"missing listen_addr", "listen_addr", "server.listen_addr is required"},
		{"missing corp_id", "corp_id", "wecom.corp_id is required"},
		{"missing corp_secret", "corp_secret", "wecom.corp_secret is required"},
		{"missing callback_token", "callback_token", "wecom.callback_token is required"},
		{"missing encoding_aes_key", "encoding_aes_key", "wecom.encoding_aes_key must be 43 characters"},
		{"missing open_kf_id", "open_kf_id", "wecom.open_kf_id is required"},
		{"missing auth_secret", "auth_secret", "gateway.auth_secret is required"},
		{"missing database path", "path", "database.path is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := writeConfig(t, base(tt.drop))

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
		{"single env var", "${FOO}", "bar"},
		{"env var with surrounding text", "prefix-${FOO}-suffix", "prefix-bar-suffix"},
		{"multiple env vars", "${FOO}/${BAZ}", "bar/qux"},
		{"no env vars", "no-vars-here", "no-vars-here"},
		{"unset env var", "${UNSET_VAR}", ""},
		{"empty string", "", ""},
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

func TestValidate_EncodingAESKeyLength(t *testing.T) {
	cfg := Config{
		Server: ServerConfig{ListenAddr: "0.0.0.0:8080"},
		WeCom: WeComConfig{
			CorpID:         "wwtest",
			CorpSecret:     "secret",
			CallbackToken:  "cb-token",
			EncodingAESKey: "too-short",
			OpenKfID:       "wkTest",
		},
		Gateway:  GatewayConfig{AuthSecret: "gw-secret"},
		Database: DatabaseConfig{Path: "./relay.db"},
	}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for short encoding_aes_key, got nil")
	}
	if !strings.Contains(err.Error(), "encoding_aes_key must be 43 characters") {
		t.Errorf("Validate() error = %q, want encoding_aes_key length error", err.Error())
	}
}
