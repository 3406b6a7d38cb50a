package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full relay configuration. Values come from an optional
// YAML file, overridden by environment variables.
type Config struct {
	Port       int    `yaml:"port"`
	InstanceID string `yaml:"instance_id"`
	RedisURL   string `yaml:"redis_url"` // empty disables cross-replica routing
	DBPath     string `yaml:"db_path"`
	AdminToken string `yaml:"admin_token"`
	JWTSecret  string `yaml:"jwt_secret"` // base64; auto-generated when empty

	PingInterval    time.Duration `yaml:"ping_interval"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	DirectoryTTL    time.Duration `yaml:"directory_ttl"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	MaxMessageBytes int64         `yaml:"max_message_bytes"`

	// TimeoutOverrides maps a request type to its own deadline.
	TimeoutOverrides map[string]time.Duration `yaml:"timeout_overrides"`

	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type RateLimitConfig struct {
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Default returns the configuration used when no file or env overrides exist.
func Default() *Config {
	return &Config{
		Port:            3010,
		DBPath:          "relay.db",
		PingInterval:    30 * time.Second,
		IdleTimeout:     10 * time.Minute,
		DirectoryTTL:    60 * time.Second,
		RequestTimeout:  10 * time.Second,
		MaxMessageBytes: 250 << 20,
		RateLimit:       RateLimitConfig{PerSecond: 20, Burst: 40},
		Logging:         LoggingConfig{Level: "info"},
	}
}

// Load reads the config file at path (if non-empty), applies env overrides,
// and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Port = n
		}
	}
	if v := os.Getenv("INSTANCE_ID"); v != "" {
		cfg.InstanceID = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("ADMIN_TOKEN"); v != "" {
		cfg.AdminToken = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks ranges that would otherwise fail at runtime.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port out of range: %d", c.Port)
	}
	if c.PingInterval <= 0 {
		return fmt.Errorf("ping_interval must be positive")
	}
	if c.DirectoryTTL <= 0 {
		return fmt.Errorf("directory_ttl must be positive")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive")
	}
	if c.MaxMessageBytes <= 0 {
		return fmt.Errorf("max_message_bytes must be positive")
	}
	return nil
}

// TimeoutFor returns the deadline for a request type, honoring overrides.
func (c *Config) TimeoutFor(requestType string) time.Duration {
	if d, ok := c.TimeoutOverrides[requestType]; ok && d > 0 {
		return d
	}
	return c.RequestTimeout
}
