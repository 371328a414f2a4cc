// Package config loads the process configuration from layered sources:
// built-in defaults, an optional YAML file, then environment variables,
// each layer overriding the one below.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ConfigPathEnvVar overrides the config file search path.
const ConfigPathEnvVar = "GUESTLINE_CONFIG"

// DefaultConfigPaths lists where the config file is searched, first hit
// wins.
var DefaultConfigPaths = []string{
	"guestline.yaml",
	"guestline.yml",
	"/etc/guestline/config.yaml",
}

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Gateway   GatewayConfig   `koanf:"gateway"`
	Messaging MessagingConfig `koanf:"messaging"`
	Auth      AuthConfig      `koanf:"auth"`
	Logging   LoggingConfig   `koanf:"logging"`
}

type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// Addr returns the host:port the HTTP server binds to.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type DatabaseConfig struct {
	Path string `koanf:"path"`
}

type GatewayConfig struct {
	PingInterval      time.Duration `koanf:"ping_interval"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	TypingExpiry      time.Duration `koanf:"typing_expiry"`
	SendRatePerMinute int           `koanf:"send_rate_per_minute"`
	SendBurst         int           `koanf:"send_burst"`
}

type MessagingConfig struct {
	MaxMessageLength int `koanf:"max_message_length"`
}

type AuthConfig struct {
	JWTSecret string `koanf:"jwt_secret"`
}

type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Path: "./guestline.db",
		},
		Gateway: GatewayConfig{
			PingInterval:      30 * time.Second,
			ReadTimeout:       60 * time.Second,
			TypingExpiry:      3 * time.Second,
			SendRatePerMinute: 100,
			SendBurst:         20,
		},
		Messaging: MessagingConfig{
			MaxMessageLength: 1000,
		},
		Auth: AuthConfig{
			JWTSecret: "",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load assembles the configuration: defaults, then the config file if one
// exists, then GUESTLINE_* environment variables.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("GUESTLINE_", ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envTransform maps GUESTLINE_* variables onto config paths, e.g.
// GUESTLINE_JWT_SECRET -> auth.jwt_secret and GUESTLINE_PORT ->
// server.port.
func envTransform(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, "GUESTLINE_"))

	switch key {
	case "host":
		return "server.host"
	case "port":
		return "server.port"
	case "read_timeout":
		return "server.read_timeout"
	case "write_timeout":
		return "server.write_timeout"
	case "shutdown_timeout":
		return "server.shutdown_timeout"
	case "db_path", "database_path":
		return "database.path"
	case "ping_interval":
		return "gateway.ping_interval"
	case "gateway_read_timeout":
		return "gateway.read_timeout"
	case "typing_expiry":
		return "gateway.typing_expiry"
	case "send_rate_per_minute":
		return "gateway.send_rate_per_minute"
	case "send_burst":
		return "gateway.send_burst"
	case "max_message_length":
		return "messaging.max_message_length"
	case "jwt_secret":
		return "auth.jwt_secret"
	case "log_level":
		return "logging.level"
	case "log_format":
		return "logging.format"
	}

	// Everything else maps positionally: SECTION_FIELD -> section.field.
	return strings.Replace(key, "_", ".", 1)
}

// Validate rejects configurations the process cannot safely run with.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("jwt secret is required (set GUESTLINE_JWT_SECRET)")
	}
	if c.Gateway.TypingExpiry <= 0 {
		return fmt.Errorf("typing expiry must be positive, got %s", c.Gateway.TypingExpiry)
	}
	if c.Gateway.SendRatePerMinute < 1 {
		return fmt.Errorf("send rate must be at least 1 per minute, got %d", c.Gateway.SendRatePerMinute)
	}
	if c.Messaging.MaxMessageLength < 1 {
		return fmt.Errorf("max message length must be positive, got %d", c.Messaging.MaxMessageLength)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "console":
	default:
		return fmt.Errorf("unknown log format %q", c.Logging.Format)
	}

	return nil
}
