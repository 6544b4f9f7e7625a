// ABOUTME: Configuration loading and parsing for kefu-relay
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the complete kefu-relay configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	WeCom    WeComConfig    `yaml:"wecom"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds the HTTP listen address
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// WeComConfig holds the WeCom customer-service account credentials
type WeComConfig struct {
	CorpID         string `yaml:"corp_id"`
	CorpSecret     string `yaml:"corp_secret"`
	CallbackToken  string `yaml:"callback_token"`
	EncodingAESKey string `yaml:"encoding_aes_key"`
	OpenKfID       string `yaml:"open_kf_id"`
	// APIBaseURL overrides the WeCom API host, used for testing
	APIBaseURL string `yaml:"api_base_url"`
	// ContactScene is the scene number of the shared pairing contact way
	ContactScene int `yaml:"contact_scene"`
}

// GatewayConfig holds the gateway WebSocket endpoint configuration
type GatewayConfig struct {
	AuthSecret string `yaml:"auth_secret"`

	AuthWindow        time.Duration `yaml:"-"`
	HeartbeatInterval time.Duration `yaml:"-"`
	HeartbeatTimeout  time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	AuthWindowRaw        string `yaml:"auth_window"`
	HeartbeatIntervalRaw string `yaml:"heartbeat_interval"`
	HeartbeatTimeoutRaw  string `yaml:"heartbeat_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// A .env file in the working directory is loaded first if present, then
// environment variables in the format ${VAR_NAME} are expanded in the YAML.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	// Missing .env is fine; real environments set variables directly.
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is required")
	}

	if c.WeCom.CorpID == "" {
		return fmt.Errorf("wecom.corp_id is required")
	}
	if c.WeCom.CorpSecret == "" {
		return fmt.Errorf("wecom.corp_secret is required")
	}
	if c.WeCom.CallbackToken == "" {
		return fmt.Errorf("wecom.callback_token is required")
	}
	if len(c.WeCom.EncodingAESKey) != 43 {
		return fmt.Errorf("wecom.encoding_aes_key must be 43 characters, got %d", len(c.WeCom.EncodingAESKey))
	}
	if c.WeCom.OpenKfID == "" {
		return fmt.Errorf("wecom.open_kf_id is required")
	}

	if c.Gateway.AuthSecret == "" {
		return fmt.Errorf("gateway.auth_secret is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Gateway.AuthWindowRaw != "" {
		cfg.Gateway.AuthWindow, err = time.ParseDuration(cfg.Gateway.AuthWindowRaw)
		if err != nil {
			return fmt.Errorf("parsing auth_window %q: %w", cfg.Gateway.AuthWindowRaw, err)
		}
	}

	if cfg.Gateway.HeartbeatIntervalRaw != "" {
		cfg.Gateway.HeartbeatInterval, err = time.ParseDuration(cfg.Gateway.HeartbeatIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing heartbeat_interval %q: %w", cfg.Gateway.HeartbeatIntervalRaw, err)
		}
	}

	if cfg.Gateway.HeartbeatTimeoutRaw != "" {
		cfg.Gateway.HeartbeatTimeout, err = time.ParseDuration(cfg.Gateway.HeartbeatTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing heartbeat_timeout %q: %w", cfg.Gateway.HeartbeatTimeoutRaw, err)
		}
	}

	return nil
}
