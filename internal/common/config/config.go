// Package config provides configuration management for the Jules fleet toolkit.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for the toolkit.
type Config struct {
	API     APIConfig     `mapstructure:"api"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Fleet   FleetConfig   `mapstructure:"fleet"`
	NATS    NATSConfig    `mapstructure:"nats"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// APIConfig holds Jules Agent API client configuration.
type APIConfig struct {
	Key                   string      `mapstructure:"key"`
	BaseURL               string      `mapstructure:"baseUrl"`
	TimeoutMs             int         `mapstructure:"timeoutMs"`
	MaxConcurrentRequests int64       `mapstructure:"maxConcurrentRequests"`
	Retry                 RetryConfig `mapstructure:"retry"`
	PollingIntervalMs     int         `mapstructure:"pollingIntervalMs"`
	SessionInfoTTLMs      int         `mapstructure:"sessionInfoTtlMs"`
	FrozenSessionDays     int         `mapstructure:"frozenSessionDays"`
}

// RetryConfig holds the rate-limit retry policy for the HTTP client.
type RetryConfig struct {
	MaxRetryTimeMs int `mapstructure:"maxRetryTimeMs"`
	BaseDelayMs    int `mapstructure:"baseDelayMs"`
	MaxDelayMs     int `mapstructure:"maxDelayMs"`
}

// CacheConfig holds the on-disk session/activity cache configuration.
type CacheConfig struct {
	Root        string `mapstructure:"root"`        // defaults to <workdir>/.jules/cache
	ForceMemory bool   `mapstructure:"forceMemory"` // JULES_FORCE_MEMORY_STORAGE
}

// FleetConfig holds fleet orchestration configuration.
type FleetConfig struct {
	BaseBranch string       `mapstructure:"baseBranch"`
	GitHub     GitHubConfig `mapstructure:"github"`
}

// GitHubConfig holds forge credentials and repository coordinates.
// Either Token (PAT) or the App* fields must be set for forge operations.
type GitHubConfig struct {
	Token               string `mapstructure:"token"`
	Repository          string `mapstructure:"repository"` // owner/repo
	AppID               string `mapstructure:"appId"`
	AppPrivateKey       string `mapstructure:"appPrivateKey"`
	AppPrivateKeyBase64 string `mapstructure:"appPrivateKeyBase64"`
	AppInstallationID   string `mapstructure:"appInstallationId"`
}

// NATSConfig holds NATS event bus configuration. An empty URL selects the
// in-memory event bus.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// Timeout returns the per-request HTTP timeout as a duration.
func (a APIConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutMs) * time.Millisecond
}

// PollingInterval returns the activity polling interval as a duration.
func (a APIConfig) PollingInterval() time.Duration {
	return time.Duration(a.PollingIntervalMs) * time.Millisecond
}

// SessionInfoTTL returns the session info cache TTL as a duration.
func (a APIConfig) SessionInfoTTL() time.Duration {
	return time.Duration(a.SessionInfoTTLMs) * time.Millisecond
}

// FrozenSessionCutoff returns the age beyond which a cached session is
// considered frozen and no longer polled.
func (a APIConfig) FrozenSessionCutoff() time.Duration {
	return time.Duration(a.FrozenSessionDays) * 24 * time.Hour
}

// detectDefaultLogFormat returns the appropriate log format based on environment.
func detectDefaultLogFormat() string {
	if os.Getenv("CI") != "" {
		return "json"
	}
	if env := os.Getenv("JULES_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Agent API defaults
	v.SetDefault("api.key", "")
	v.SetDefault("api.baseUrl", "https://jules.googleapis.com/v1alpha")
	v.SetDefault("api.timeoutMs", 60_000)
	v.SetDefault("api.maxConcurrentRequests", 50)
	v.SetDefault("api.retry.maxRetryTimeMs", 300_000)
	v.SetDefault("api.retry.baseDelayMs", 1000)
	v.SetDefault("api.retry.maxDelayMs", 30_000)
	v.SetDefault("api.pollingIntervalMs", 5000)
	v.SetDefault("api.sessionInfoTtlMs", 10_000)
	v.SetDefault("api.frozenSessionDays", 30)

	// Cache defaults
	v.SetDefault("cache.root", "")
	v.SetDefault("cache.forceMemory", false)

	// Fleet defaults
	v.SetDefault("fleet.baseBranch", "main")
	v.SetDefault("fleet.github.token", "")
	v.SetDefault("fleet.github.repository", "")

	// NATS defaults - empty URL means use in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "julesfleet")
	v.SetDefault("nats.maxReconnects", 10)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stderr")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix JULES_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory
// or ~/.julesfleet/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("JULES")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings where the well-known env var name differs from the
	// config key naming.
	_ = v.BindEnv("api.key", "JULES_API_KEY")
	_ = v.BindEnv("cache.forceMemory", "JULES_FORCE_MEMORY_STORAGE")
	_ = v.BindEnv("fleet.baseBranch", "FLEET_BASE_BRANCH")
	_ = v.BindEnv("fleet.github.token", "GITHUB_TOKEN")
	_ = v.BindEnv("fleet.github.repository", "GITHUB_REPOSITORY")
	_ = v.BindEnv("fleet.github.appId", "GITHUB_APP_ID")
	_ = v.BindEnv("fleet.github.appPrivateKey", "GITHUB_APP_PRIVATE_KEY")
	_ = v.BindEnv("fleet.github.appPrivateKeyBase64", "GITHUB_APP_PRIVATE_KEY_BASE64")
	_ = v.BindEnv("fleet.github.appInstallationId", "GITHUB_APP_INSTALLATION_ID")

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(home + "/.julesfleet/")
	}

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate performs basic sanity checks on the loaded configuration.
func validate(cfg *Config) error {
	if cfg.API.BaseURL == "" {
		return fmt.Errorf("api.baseUrl must not be empty")
	}
	if cfg.API.MaxConcurrentRequests < 1 {
		return fmt.Errorf("api.maxConcurrentRequests must be at least 1")
	}
	if cfg.API.Retry.BaseDelayMs < 1 {
		return fmt.Errorf("api.retry.baseDelayMs must be at least 1")
	}
	if cfg.API.Retry.MaxDelayMs < cfg.API.Retry.BaseDelayMs {
		return fmt.Errorf("api.retry.maxDelayMs must be >= baseDelayMs")
	}
	return nil
}

// CacheRoot resolves the cache root, defaulting to <workdir>/.jules/cache.
func (c *Config) CacheRoot() string {
	if c.Cache.Root != "" {
		return c.Cache.Root
	}
	wd, err := os.Getwd()
	if err != nil {
		wd = "."
	}
	return wd + "/.jules/cache"
}
