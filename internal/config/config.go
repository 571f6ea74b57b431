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
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Scraper  ScraperConfig  `mapstructure:"scraper"`
	Sources  SourcesConfig  `mapstructure:"sources"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Storage  StorageConfig  `mapstructure:"storage"`
	DB       DBConfig       `mapstructure:"db"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port        int      `mapstructure:"port"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// ScraperConfig governs per-keyword result caps and queueing.
type ScraperConfig struct {
	MaxResultsPerKeyword int `mapstructure:"max_results_per_keyword"`
	MaxDocumentResults   int `mapstructure:"max_document_results"`
	OverfetchFactor      int `mapstructure:"overfetch_factor"`
	QueueDepth           int `mapstructure:"queue_depth"`
}

// SourcesConfig configures the external content sources.
type SourcesConfig struct {
	ExaAPIKey          string `mapstructure:"exa_api_key"`
	BingBaseURL        string `mapstructure:"bing_base_url"`
	UserAgent          string `mapstructure:"user_agent"`
	TimeoutSeconds     int    `mapstructure:"timeout_seconds"`
	PageDelayMs        int    `mapstructure:"page_delay_ms"`
	YtdlpBinary        string `mapstructure:"ytdlp_binary"`
	YtdlpTimeoutSec    int    `mapstructure:"ytdlp_timeout_seconds"`
	DownloadTimeoutSec int    `mapstructure:"download_timeout_seconds"`
}

// HeadlessConfig configures the headless rendering fallback.
type HeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxParallel   int  `mapstructure:"max_parallel"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
}

// StorageConfig sets the mirroring bucket and download limits.
type StorageConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	GCSBucket         string `mapstructure:"gcs_bucket"`
	PublicBaseURL     string `mapstructure:"public_base_url"`
	MaxDownloadSizeMB int64  `mapstructure:"max_download_size_mb"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// PubSubConfig holds metadata for task lifecycle notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCRAPER")
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
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("scraper.max_results_per_keyword", 2)
	v.SetDefault("scraper.max_document_results", 10)
	v.SetDefault("scraper.overfetch_factor", 3)
	v.SetDefault("scraper.queue_depth", 16)
	v.SetDefault("sources.bing_base_url", "https://www.bing.com")
	v.SetDefault("sources.timeout_seconds", 30)
	v.SetDefault("sources.page_delay_ms", 1500)
	v.SetDefault("sources.ytdlp_binary", "yt-dlp")
	v.SetDefault("sources.ytdlp_timeout_seconds", 30)
	v.SetDefault("sources.download_timeout_seconds", 300)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("storage.enabled", false)
	v.SetDefault("storage.max_download_size_mb", 500)
	v.SetDefault("db.table", "scraped_items")
	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Scraper.MaxResultsPerKeyword <= 0 {
		return fmt.Errorf("scraper.max_results_per_keyword must be > 0")
	}
	if c.Scraper.MaxDocumentResults <= 0 {
		return fmt.Errorf("scraper.max_document_results must be > 0")
	}
	if c.Scraper.OverfetchFactor <= 0 {
		return fmt.Errorf("scraper.overfetch_factor must be > 0")
	}
	if c.Sources.TimeoutSeconds <= 0 {
		return fmt.Errorf("sources.timeout_seconds must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Storage.Enabled && c.Storage.GCSBucket == "" {
		return fmt.Errorf("storage.gcs_bucket must be set when storage is enabled")
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set when pubsub is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// SourceTimeout converts the source timeout setting into a duration.
func (c Config) SourceTimeout() time.Duration {
	return time.Duration(c.Sources.TimeoutSeconds) * time.Second
}

// MaxDownloadBytes converts the size limit into bytes. Zero means unlimited.
func (c Config) MaxDownloadBytes() int64 {
	return c.Storage.MaxDownloadSizeMB * 1024 * 1024
}
