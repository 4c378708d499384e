// Package config provides configuration management for kidcrawl.
// It handles loading, validation, and access to configuration values from
// YAML files and environment variables using viper.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/vietspeech/kidcrawl/internal/logger"
)

// Config represents the application configuration.
type Config struct {
	// App holds application-level settings
	App AppConfig `mapstructure:"app" yaml:"app"`
	// Logger holds logging configuration
	Logger logger.Config `mapstructure:"logger" yaml:"logger"`
	// Storage holds the paths the pipeline persists state under
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`
	// Discovery holds search and pagination settings
	Discovery DiscoveryConfig `mapstructure:"discovery" yaml:"discovery"`
	// Filter holds candidate metadata filters
	Filter FilterConfig `mapstructure:"filter" yaml:"filter"`
	// Channels holds channel mining settings
	Channels ChannelsConfig `mapstructure:"channels" yaml:"channels"`
	// Queue holds multi-instance queue coordination settings
	Queue QueueConfig `mapstructure:"queue" yaml:"queue"`
	// Collab holds collaborator service endpoints
	Collab CollabConfig `mapstructure:"collab" yaml:"collab"`
	// Pipeline holds phase execution settings
	Pipeline PipelineConfig `mapstructure:"pipeline" yaml:"pipeline"`
	// Server holds the status HTTP server settings
	Server ServerConfig `mapstructure:"server" yaml:"server"`
}

// AppConfig holds application-level settings.
type AppConfig struct {
	Name        string `mapstructure:"name" yaml:"name"`
	Environment string `mapstructure:"environment" yaml:"environment"`
	Debug       bool   `mapstructure:"debug" yaml:"debug"`
}

// StorageConfig holds the filesystem layout of the crawl workspace.
type StorageConfig struct {
	// ManifestPath is the shared crawl manifest
	ManifestPath string `mapstructure:"manifest_path" yaml:"manifest_path"`
	// URLFilePath is the flat discovered-URL list
	URLFilePath string `mapstructure:"url_file_path" yaml:"url_file_path"`
	// QueuePath is the shared work queue file
	QueuePath string `mapstructure:"queue_path" yaml:"queue_path"`
	// ChannelsPath is the channel quality sidecar
	ChannelsPath string `mapstructure:"channels_path" yaml:"channels_path"`
	// BackupDir receives timestamped pre-write copies of state files
	BackupDir string `mapstructure:"backup_dir" yaml:"backup_dir"`
	// AudioDir receives downloaded audio files
	AudioDir string `mapstructure:"audio_dir" yaml:"audio_dir"`
	// RejectDir receives audio that failed voice analysis
	RejectDir string `mapstructure:"reject_dir" yaml:"reject_dir"`
}

// Validate checks if the storage configuration is valid.
func (c *StorageConfig) Validate() error {
	if c.ManifestPath == "" {
		return errors.New("manifest_path cannot be empty")
	}
	if c.URLFilePath == "" {
		return errors.New("url_file_path cannot be empty")
	}
	if c.AudioDir == "" {
		return errors.New("audio_dir cannot be empty")
	}
	return nil
}

// DiscoveryConfig holds search and pagination settings.
type DiscoveryConfig struct {
	// BaseURL is the search proxy endpoint
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
	// Queries are the search terms crawled each run
	Queries []string `mapstructure:"queries" yaml:"queries"`
	// MaxResults caps new candidates per query
	MaxResults int `mapstructure:"max_results" yaml:"max_results"`
	// MaxPages caps pages fetched per query
	MaxPages int `mapstructure:"max_pages" yaml:"max_pages"`
	// PageCooldown is the pause between page fetches
	PageCooldown time.Duration `mapstructure:"page_cooldown" yaml:"page_cooldown"`
	// RequestTimeout bounds a single search request
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
}

// Validate checks if the discovery configuration is valid.
func (c *DiscoveryConfig) Validate() error {
	if c.BaseURL == "" {
		return errors.New("base_url cannot be empty")
	}
	if c.MaxResults <= 0 {
		return fmt.Errorf("max_results must be positive, got %d", c.MaxResults)
	}
	if c.MaxPages <= 0 {
		return fmt.Errorf("max_pages must be positive, got %d", c.MaxPages)
	}
	return nil
}

// FilterConfig holds candidate metadata filters.
type FilterConfig struct {
	MinDurationSeconds  float64  `mapstructure:"min_duration_seconds" yaml:"min_duration_seconds"`
	MaxDurationSeconds  float64  `mapstructure:"max_duration_seconds" yaml:"max_duration_seconds"`
	MinViewCount        int64    `mapstructure:"min_view_count" yaml:"min_view_count"`
	ExcludeKeywords     []string `mapstructure:"exclude_keywords" yaml:"exclude_keywords"`
	RejectForeignTitles bool     `mapstructure:"reject_foreign_titles" yaml:"reject_foreign_titles"`
}

// Validate checks if the filter configuration is valid.
func (c *FilterConfig) Validate() error {
	if c.MinDurationSeconds < 0 {
		return errors.New("min_duration_seconds cannot be negative")
	}
	if c.MaxDurationSeconds > 0 && c.MaxDurationSeconds < c.MinDurationSeconds {
		return errors.New("max_duration_seconds cannot be below min_duration_seconds")
	}
	return nil
}

// ChannelsConfig holds channel mining settings.
type ChannelsConfig struct {
	// Enabled turns the channel feedback loop on
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// MinVideosAnalyzed is the sample size before a channel can be promising
	MinVideosAnalyzed int `mapstructure:"min_videos_analyzed" yaml:"min_videos_analyzed"`
	// MinQualityScore is the qualification rate threshold
	MinQualityScore float64 `mapstructure:"min_quality_score" yaml:"min_quality_score"`
	// MaxVideosPerChannel caps candidates pulled per channel crawl
	MaxVideosPerChannel int `mapstructure:"max_videos_per_channel" yaml:"max_videos_per_channel"`
	// ProcessedSetPath is the best-effort processed-channel sidecar
	ProcessedSetPath string `mapstructure:"processed_set_path" yaml:"processed_set_path"`
	// SkipProcessedAcrossRuns skips channels recorded in the sidecar
	SkipProcessedAcrossRuns bool `mapstructure:"skip_processed_across_runs" yaml:"skip_processed_across_runs"`
}

// Validate checks if the channels configuration is valid.
func (c *ChannelsConfig) Validate() error {
	if c.MinQualityScore < 0 || c.MinQualityScore > 1 {
		return fmt.Errorf("min_quality_score must be in [0,1], got %v", c.MinQualityScore)
	}
	return nil
}

// QueueConfig holds multi-instance queue coordination settings.
type QueueConfig struct {
	// Enabled turns multi-instance coordination on
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// StaleTimeout is how long a silent instance keeps its claims
	StaleTimeout time.Duration `mapstructure:"stale_timeout" yaml:"stale_timeout"`
	// HeartbeatInterval is how often a working instance refreshes its heartbeat
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval"`
	// BatchSize is how many records an instance claims at a time
	BatchSize int `mapstructure:"batch_size" yaml:"batch_size"`
}

// Validate checks if the queue configuration is valid.
func (c *QueueConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", c.BatchSize)
	}
	if c.StaleTimeout <= 0 {
		return errors.New("stale_timeout must be positive")
	}
	if c.HeartbeatInterval <= 0 {
		return errors.New("heartbeat_interval must be positive")
	}
	if c.HeartbeatInterval > c.StaleTimeout/2 {
		return fmt.Errorf("heartbeat_interval %v must be at most half of stale_timeout %v",
			c.HeartbeatInterval, c.StaleTimeout)
	}
	return nil
}

// CollabConfig holds collaborator service endpoints.
type CollabConfig struct {
	// ClassifierURL is the voice analysis service
	ClassifierURL string `mapstructure:"classifier_url" yaml:"classifier_url"`
	// UploaderURL is the corpus upload service
	UploaderURL string `mapstructure:"uploader_url" yaml:"uploader_url"`
	// RequestTimeout bounds a single collaborator request
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	// DownloadTimeout bounds a single audio download
	DownloadTimeout time.Duration `mapstructure:"download_timeout" yaml:"download_timeout"`
}

// Validate checks if the collaborator configuration is valid.
func (c *CollabConfig) Validate() error {
	if c.ClassifierURL == "" {
		return errors.New("classifier_url cannot be empty")
	}
	return nil
}

// PipelineConfig holds phase execution settings.
type PipelineConfig struct {
	// Phases selects which phases run, in canonical order
	Phases []string `mapstructure:"phases" yaml:"phases"`
	// DownloadConcurrency bounds parallel downloads
	DownloadConcurrency int `mapstructure:"download_concurrency" yaml:"download_concurrency"`
	// Forever keeps the pipeline cycling until interrupted
	Forever bool `mapstructure:"forever" yaml:"forever"`
	// CycleCooldown is the pause between forever-mode cycles
	CycleCooldown time.Duration `mapstructure:"cycle_cooldown" yaml:"cycle_cooldown"`
	// CycleSchedule is an optional cron expression overriding CycleCooldown
	CycleSchedule string `mapstructure:"cycle_schedule" yaml:"cycle_schedule"`
	// QuotaPause is how long to sleep after quota exhaustion before probing again
	QuotaPause time.Duration `mapstructure:"quota_pause" yaml:"quota_pause"`
	// MaxRetries bounds retry attempts for transient failures
	MaxRetries int `mapstructure:"max_retries" yaml:"max_retries"`
}

// knownPhases is the canonical phase ordering.
var knownPhases = []string{"search", "download", "analyze", "filter", "upload"}

// Validate checks if the pipeline configuration is valid.
func (c *PipelineConfig) Validate() error {
	if c.DownloadConcurrency <= 0 {
		return fmt.Errorf("download_concurrency must be positive, got %d", c.DownloadConcurrency)
	}
	for _, p := range c.Phases {
		if !isKnownPhase(p) {
			return fmt.Errorf("unknown phase %q", p)
		}
	}
	return nil
}

func isKnownPhase(name string) bool {
	for _, p := range knownPhases {
		if p == name {
			return true
		}
	}
	return false
}

// ServerConfig holds the status HTTP server settings.
type ServerConfig struct {
	Address      string        `mapstructure:"address" yaml:"address"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
}

// Validate checks if the server configuration is valid.
func (c *ServerConfig) Validate() error {
	if c.Address == "" {
		return errors.New("address cannot be empty")
	}
	return nil
}

// Validate validates the whole configuration.
func (c *Config) Validate() error {
	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if err := c.Discovery.Validate(); err != nil {
		return fmt.Errorf("discovery: %w", err)
	}
	if err := c.Filter.Validate(); err != nil {
		return fmt.Errorf("filter: %w", err)
	}
	if err := c.Channels.Validate(); err != nil {
		return fmt.Errorf("channels: %w", err)
	}
	if err := c.Queue.Validate(); err != nil {
		return fmt.Errorf("queue: %w", err)
	}
	if err := c.Collab.Validate(); err != nil {
		return fmt.Errorf("collab: %w", err)
	}
	if err := c.Pipeline.Validate(); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

// Load unmarshals the configuration viper currently holds.
// Call after viper has read the config file and env bindings.
func Load() (*Config, error) {
	cfg := &Config{}
	decodeHook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := viper.Unmarshal(cfg, viper.DecodeHook(decodeHook)); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
