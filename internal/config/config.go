// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig              `mapstructure:"server"`
	Auth     AuthConfig                `mapstructure:"auth"`
	Provider ProviderConfig            `mapstructure:"provider"`
	Browser  BrowserConfig             `mapstructure:"browser"`
	Extract  ExtractConfig             `mapstructure:"extract"`
	Monitor  MonitorConfig             `mapstructure:"monitor"`
	Tasks    TasksConfig               `mapstructure:"tasks"`
	Database DatabaseConfig            `mapstructure:"database"`
	Bus      BusConfig                 `mapstructure:"bus"`
	Blobs    BlobsConfig               `mapstructure:"blobs"`
	Logging  LoggingConfig             `mapstructure:"logging"`
	Platform map[string]PlatformConfig `mapstructure:"platforms"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// ProviderConfig points at the remote browser-automation provider.
type ProviderConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxRetries     int    `mapstructure:"max_retries"`
}

// BrowserConfig sets the session defaults applied at initialization.
type BrowserConfig struct {
	ViewportWidth  int    `mapstructure:"viewport_width"`
	ViewportHeight int    `mapstructure:"viewport_height"`
	Locale         string `mapstructure:"locale"`
	Stealth        bool   `mapstructure:"stealth"`
	SolveCaptchas  bool   `mapstructure:"solve_captchas"`
	NavTimeoutSec  int    `mapstructure:"nav_timeout_seconds"`
	PageSettleMs   int    `mapstructure:"page_settle_ms"`
}

// ExtractConfig bounds streaming extraction.
type ExtractConfig struct {
	// DefaultConcurrency is intentionally serial to respect anti-automation
	// limits on target sites.
	DefaultConcurrency int `mapstructure:"default_concurrency"`
	MaxConcurrency     int `mapstructure:"max_concurrency"`
	MaxBatchSize       int `mapstructure:"max_batch_size"`
}

// MonitorConfig bounds the change-monitoring loop.
type MonitorConfig struct {
	DefaultIntervalSec int `mapstructure:"default_interval_seconds"`
	MinIntervalSec     int `mapstructure:"min_interval_seconds"`
}

// TasksConfig governs the task execution backend.
type TasksConfig struct {
	QueueDepth        int `mapstructure:"queue_depth"`
	Workers           int `mapstructure:"workers"`
	DefaultTimeoutSec int `mapstructure:"default_timeout_seconds"`
}

// DatabaseConfig selects and configures the task store.
type DatabaseConfig struct {
	Provider string `mapstructure:"provider"` // memory | postgres
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// BusConfig selects and configures the pub/sub bus.
type BusConfig struct {
	Provider   string `mapstructure:"provider"` // memory | pubsub
	ProjectID  string `mapstructure:"project_id"`
	EventTopic string `mapstructure:"event_topic"`
}

// BlobsConfig selects and configures the archive store.
type BlobsConfig struct {
	Provider string `mapstructure:"provider"` // memory | local | gcs
	Bucket   string `mapstructure:"bucket"`
	Dir      string `mapstructure:"dir"`
	Prefix   string `mapstructure:"prefix"`
}

// LoggingConfig toggles zap development features and file output.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	File        string `mapstructure:"file"`
	MaxSizeMB   int    `mapstructure:"max_size_mb"`
	MaxBackups  int    `mapstructure:"max_backups"`
	MaxAgeDays  int    `mapstructure:"max_age_days"`
	Compress    bool   `mapstructure:"compress"`
}

// PlatformConfig overrides per-platform session behavior.
type PlatformConfig struct {
	Locale        string `mapstructure:"locale"`
	MinNavDelayMs int    `mapstructure:"min_nav_delay_ms"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("AETHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("provider.timeout_seconds", 60)
	v.SetDefault("provider.max_retries", 3)
	v.SetDefault("browser.viewport_width", 1920)
	v.SetDefault("browser.viewport_height", 1080)
	v.SetDefault("browser.locale", "zh-CN")
	v.SetDefault("browser.stealth", true)
	v.SetDefault("browser.solve_captchas", true)
	v.SetDefault("browser.nav_timeout_seconds", 60)
	v.SetDefault("browser.page_settle_ms", 2000)
	v.SetDefault("extract.default_concurrency", 1)
	v.SetDefault("extract.max_concurrency", 8)
	v.SetDefault("extract.max_batch_size", 50)
	v.SetDefault("monitor.default_interval_seconds", 300)
	v.SetDefault("monitor.min_interval_seconds", 30)
	v.SetDefault("tasks.queue_depth", 64)
	v.SetDefault("tasks.workers", 4)
	v.SetDefault("tasks.default_timeout_seconds", 600)
	v.SetDefault("database.provider", "memory")
	v.SetDefault("database.table", "tasks")
	v.SetDefault("bus.provider", "memory")
	v.SetDefault("bus.event_topic", "task-events")
	v.SetDefault("blobs.provider", "memory")
	v.SetDefault("blobs.prefix", "archives")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 14)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Extract.DefaultConcurrency <= 0 {
		return fmt.Errorf("extract.default_concurrency must be > 0")
	}
	if c.Extract.MaxConcurrency < c.Extract.DefaultConcurrency {
		return fmt.Errorf("extract.max_concurrency must be >= extract.default_concurrency")
	}
	if c.Monitor.MinIntervalSec <= 0 {
		return fmt.Errorf("monitor.min_interval_seconds must be > 0")
	}
	if c.Tasks.Workers <= 0 {
		return fmt.Errorf("tasks.workers must be > 0")
	}
	if c.Tasks.QueueDepth <= 0 {
		return fmt.Errorf("tasks.queue_depth must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Database.Provider {
	case "memory":
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres provider")
		}
	default:
		return fmt.Errorf("unknown database provider %q", c.Database.Provider)
	}
	switch c.Bus.Provider {
	case "memory":
	case "pubsub":
		if c.Bus.ProjectID == "" {
			return fmt.Errorf("bus.project_id is required for the pubsub provider")
		}
	default:
		return fmt.Errorf("unknown bus provider %q", c.Bus.Provider)
	}
	switch c.Blobs.Provider {
	case "memory":
	case "local":
		if c.Blobs.Dir == "" {
			return fmt.Errorf("blobs.dir is required for the local provider")
		}
	case "gcs":
		if c.Blobs.Bucket == "" {
			return fmt.Errorf("blobs.bucket is required for the gcs provider")
		}
	default:
		return fmt.Errorf("unknown blobs provider %q", c.Blobs.Provider)
	}
	return nil
}

// NavTimeout returns the browser navigation deadline as a duration.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Browser.NavTimeoutSec) * time.Second
}

// PageSettle returns the post-navigation settle delay as a duration.
func (c Config) PageSettle() time.Duration {
	return time.Duration(c.Browser.PageSettleMs) * time.Millisecond
}

// TaskTimeout returns the default unit-of-work deadline as a duration.
func (c Config) TaskTimeout() time.Duration {
	return time.Duration(c.Tasks.DefaultTimeoutSec) * time.Second
}

// MonitorInterval returns the default polling interval, clamped to the
// configured minimum.
func (c Config) MonitorInterval() time.Duration {
	sec := c.Monitor.DefaultIntervalSec
	if sec < c.Monitor.MinIntervalSec {
		sec = c.Monitor.MinIntervalSec
	}
	return time.Duration(sec) * time.Second
}
