package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the agent's static configuration. Runtime-tunable knobs
// (sample interval, sync cadence) live in the settings store instead.
type Config struct {
	Device    DeviceConfig    `yaml:"device"`
	Storage   StorageConfig   `yaml:"storage"`
	Server    ServerConfig    `yaml:"server"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	API       APIConfig       `yaml:"api"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DeviceConfig identifies this agent to the server.
type DeviceConfig struct {
	ID string `yaml:"id"`
}

// StorageConfig locates the local database.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// ServerConfig describes the remote sync endpoint.
type ServerConfig struct {
	URL           string `yaml:"url"`
	Enabled       bool   `yaml:"enabled"`
	AuthToken     string `yaml:"auth_token"`
	AuthTokenFile string `yaml:"auth_token_file"`
	TimeoutStr    string `yaml:"timeout"` // per-request timeout (default: 30s)
}

// Timeout parses the per-request timeout.
// Returns default of 30s if not configured.
func (s *ServerConfig) Timeout() (time.Duration, error) {
	if s.TimeoutStr == "" {
		return 30 * time.Second, nil
	}
	d, err := time.ParseDuration(s.TimeoutStr)
	if err != nil {
		return 0, fmt.Errorf("invalid server.timeout '%s': %w", s.TimeoutStr, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("server.timeout must be positive, got %v", d)
	}
	return d, nil
}

// SchedulerConfig controls the trigger loop cadence.
type SchedulerConfig struct {
	WakeIntervalStr string `yaml:"wake_interval"` // how often due tasks are evaluated (default: 15m)
}

// WakeInterval parses the wake interval string.
// Returns default of 15m if not configured.
// Returns error if duration string is invalid or non-positive.
func (s *SchedulerConfig) WakeInterval() (time.Duration, error) {
	if s.WakeIntervalStr == "" {
		return 15 * time.Minute, nil
	}
	d, err := time.ParseDuration(s.WakeIntervalStr)
	if err != nil {
		return 0, fmt.Errorf("invalid scheduler.wake_interval '%s': %w", s.WakeIntervalStr, err)
	}
	// Guard against non-positive intervals to prevent panic in time.NewTicker
	if d <= 0 {
		return 0, fmt.Errorf("scheduler.wake_interval must be positive, got %v", d)
	}
	return d, nil
}

// APIConfig controls the local status/control HTTP server.
type APIConfig struct {
	Address string `yaml:"address"` // e.g. "127.0.0.1:8710"; empty disables the API
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error (default: info)
	Format string `yaml:"format"` // json, console (default: console)
}

// Load reads and parses a YAML configuration file. A .env file next to the
// process, if present, plus POLARIS_* environment variables override the
// file's device and server fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Best effort: absence of a .env file is not an error.
	_ = godotenv.Load()
	applyEnvOverrides(&cfg)

	if cfg.Server.AuthToken != "" && cfg.Server.AuthTokenFile != "" {
		return nil, fmt.Errorf("cannot specify both server.auth_token and server.auth_token_file")
	}
	if cfg.Server.AuthTokenFile != "" {
		token, err := loadAuthTokenFromFile(cfg.Server.AuthTokenFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load auth token from file: %w", err)
		}
		cfg.Server.AuthToken = token
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("POLARIS_DEVICE_ID"); v != "" {
		cfg.Device.ID = v
	}
	if v := os.Getenv("POLARIS_SERVER_URL"); v != "" {
		cfg.Server.URL = v
	}
	if v := os.Getenv("POLARIS_AUTH_TOKEN"); v != "" {
		cfg.Server.AuthToken = v
		cfg.Server.AuthTokenFile = ""
	}
}

func loadAuthTokenFromFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read token file %s: %w", path, err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", fmt.Errorf("token file %s is empty", path)
	}
	return token, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Device.ID == "" {
		return fmt.Errorf("device.id is required")
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}
	if c.Server.Enabled && c.Server.URL == "" {
		return fmt.Errorf("server.url is required when server is enabled")
	}
	// Validate timing values even when the owning feature is disabled, so a
	// later runtime toggle cannot hit an unparseable duration.
	if _, err := c.Server.Timeout(); err != nil {
		return err
	}
	if _, err := c.Scheduler.WakeInterval(); err != nil {
		return err
	}
	return nil
}
