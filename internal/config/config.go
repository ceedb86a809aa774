package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config represents the top-level configuration for Sentra.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Database      DatabaseConfig      `koanf:"database"`
	Rules         RulesConfig         `koanf:"rules"`
	Queue         QueueConfig         `koanf:"queue"`
	Notifications NotificationsConfig `koanf:"notifications"`
}

// ServerConfig holds the HTTP server configuration.
type ServerConfig struct {
	Port          int    `koanf:"port"`
	Host          string `koanf:"host"`
	MaxBodySizeMB int    `koanf:"max_body_size_mb"`
	Mode          string `koanf:"mode"` // "debug" or "release"
}

// DatabaseConfig holds the database connection settings.
type DatabaseConfig struct {
	DSN          string `koanf:"dsn"`
	MaxOpenConns int    `koanf:"max_open_conns"`
	MaxIdleConns int    `koanf:"max_idle_conns"`
	AutoMigrate  bool   `koanf:"auto_migrate"`
}

// RulesConfig holds settings for the rule repository and fact providers.
type RulesConfig struct {
	ConfigDir    string `koanf:"config_dir"`
	RequireRules bool   `koanf:"require_rules"` // refuse to start with zero rules
	StatsWindow  string `koanf:"stats_window"`  // parsed as time.Duration in main
}

// EffectiveStatsWindow returns the aggregate-fact lookback window.
func (c RulesConfig) EffectiveStatsWindow() time.Duration {
	if d, err := time.ParseDuration(c.StatsWindow); err == nil && d > 0 {
		return d
	}
	return 24 * time.Hour
}

// QueueConfig holds settings for the delayed delivery poller.
type QueueConfig struct {
	Enabled      bool   `koanf:"enabled"`
	PollInterval string `koanf:"poll_interval"` // parsed as time.Duration in main
	BatchSize    int    `koanf:"batch_size"`
	MaxAttempts  int    `koanf:"max_attempts"`
	RetryBackoff string `koanf:"retry_backoff"` // parsed as time.Duration in main
}

// EffectivePollInterval returns the active poll interval.
func (c QueueConfig) EffectivePollInterval() time.Duration {
	if d, err := time.ParseDuration(c.PollInterval); err == nil && d > 0 {
		return d
	}
	return 10 * time.Second
}

// EffectiveRetryBackoff returns the delay before a failed job is retried.
func (c QueueConfig) EffectiveRetryBackoff() time.Duration {
	if d, err := time.ParseDuration(c.RetryBackoff); err == nil && d > 0 {
		return d
	}
	return time.Minute
}

// NotificationsConfig holds the outbound channel gateway endpoints. An empty
// endpoint leaves that channel unconfigured; the in-app channel needs no
// gateway and is always available.
type NotificationsConfig struct {
	EmailGatewayURL    string `koanf:"email_gateway_url"`
	SMSGatewayURL      string `koanf:"sms_gateway_url"`
	TelegramGatewayURL string `koanf:"telegram_gateway_url"`
}

// Load loads the configuration from the given file path and environment variables.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	// 1. Defaults
	defaults := map[string]interface{}{
		"server.port":             8080,
		"server.host":             "0.0.0.0",
		"server.max_body_size_mb": 1,
		"server.mode":             "release",
		"database.dsn":            "postgres://localhost:5432/sentra?sslmode=disable",
		"database.max_open_conns": 25,
		"database.max_idle_conns": 25,
		"database.auto_migrate":   true,
		"rules.config_dir":        "./config/rules",
		"rules.require_rules":     false,
		"rules.stats_window":      "24h",
		"queue.enabled":           true,
		"queue.poll_interval":     "10s",
		"queue.batch_size":        50,
		"queue.max_attempts":      3,
		"queue.retry_backoff":     "1m",
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	// 2. Load from file
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// 3. Load from Environment Variables
	// SENTRA_SERVER__PORT=9090 overrides server.port
	if err := k.Load(env.Provider("SENTRA_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "SENTRA_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks invariants that would otherwise surface as confusing
// runtime failures.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", c.Server.Port)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn must not be empty")
	}
	if c.Rules.StatsWindow != "" {
		if _, err := time.ParseDuration(c.Rules.StatsWindow); err != nil {
			return fmt.Errorf("rules.stats_window: %w", err)
		}
	}
	if c.Queue.PollInterval != "" {
		if _, err := time.ParseDuration(c.Queue.PollInterval); err != nil {
			return fmt.Errorf("queue.poll_interval: %w", err)
		}
	}
	if c.Queue.RetryBackoff != "" {
		if _, err := time.ParseDuration(c.Queue.RetryBackoff); err != nil {
			return fmt.Errorf("queue.retry_backoff: %w", err)
		}
	}
	return nil
}
