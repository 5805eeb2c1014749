// ABOUTME: Configuration loading and parsing for loom-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete loom-gateway configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Sessions SessionsConfig `yaml:"sessions"`
	Client   ClientConfig   `yaml:"client"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds server address and authentication configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`

	// AuthToken is a static bearer token checked on the websocket upgrade.
	// Empty disables static-token auth.
	AuthToken string `yaml:"auth_token"`

	// JWTSecret enables HS256 JWT verification as an alternative to the
	// static token. Empty disables JWT auth.
	JWTSecret string `yaml:"jwt_secret"`
}

// SessionsConfig holds session lifecycle timing configuration
type SessionsConfig struct {
	GracePeriod   time.Duration `yaml:"-"`
	SweepInterval time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	GracePeriodRaw   string `yaml:"grace_period"`
	SweepIntervalRaw string `yaml:"sweep_interval"`
}

// ClientConfig holds client-role reconnect and receive-loop configuration
type ClientConfig struct {
	BackoffFactor float64 `yaml:"backoff_factor"`
	MaxRetries    int     `yaml:"max_retries"`
	Jitter        *bool   `yaml:"jitter"`

	InitialDelay     time.Duration `yaml:"-"`
	MaxDelay         time.Duration `yaml:"-"`
	MessageTimeout   time.Duration `yaml:"-"`
	AggregateTimeout time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	InitialDelayRaw     string `yaml:"initial_delay"`
	MaxDelayRaw         string `yaml:"max_delay"`
	MessageTimeoutRaw   string `yaml:"message_timeout"`
	AggregateTimeoutRaw string `yaml:"aggregate_timeout"`
}

// DatabaseConfig holds the audit database configuration.
// An empty path disables the audit log entirely.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a configuration with sensible local-development defaults.
func Default() *Config {
	jitter := true
	return &Config{
		Server: ServerConfig{
			HTTPAddr: "127.0.0.1:7690",
		},
		Sessions: SessionsConfig{
			GracePeriod:   5 * time.Minute,
			SweepInterval: 15 * time.Second,
		},
		Client: ClientConfig{
			BackoffFactor:    2.0,
			MaxRetries:       5,
			Jitter:           &jitter,
			InitialDelay:     250 * time.Millisecond,
			MaxDelay:         10 * time.Second,
			MessageTimeout:   30 * time.Second,
			AggregateTimeout: 5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
// Fields absent from the file keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
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
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Sessions.GracePeriod <= 0 {
		return fmt.Errorf("sessions.grace_period must be positive")
	}
	if c.Sessions.SweepInterval <= 0 {
		return fmt.Errorf("sessions.sweep_interval must be positive")
	}
	if c.Client.BackoffFactor < 1 {
		return fmt.Errorf("client.backoff_factor must be >= 1")
	}
	if c.Client.MaxRetries < 0 {
		return fmt.Errorf("client.max_retries must be >= 0 (0 means unlimited)")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		raw  string
		name string
		dst  *time.Duration
	}{
		{cfg.Sessions.GracePeriodRaw, "sessions.grace_period", &cfg.Sessions.GracePeriod},
		{cfg.Sessions.SweepIntervalRaw, "sessions.sweep_interval", &cfg.Sessions.SweepInterval},
		{cfg.Client.InitialDelayRaw, "client.initial_delay", &cfg.Client.InitialDelay},
		{cfg.Client.MaxDelayRaw, "client.max_delay", &cfg.Client.MaxDelay},
		{cfg.Client.MessageTimeoutRaw, "client.message_timeout", &cfg.Client.MessageTimeout},
		{cfg.Client.AggregateTimeoutRaw, "client.aggregate_timeout", &cfg.Client.AggregateTimeout},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
