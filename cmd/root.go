// Package cmd implements the command-line interface for kidcrawl.
// It provides the root command and subcommands for running the crawl
// pipeline and inspecting its shared state.
package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vietspeech/kidcrawl/cmd/analyze"
	cmdchannels "github.com/vietspeech/kidcrawl/cmd/channels"
	"github.com/vietspeech/kidcrawl/cmd/crawl"
	"github.com/vietspeech/kidcrawl/cmd/httpd"
	"github.com/vietspeech/kidcrawl/cmd/queuecmd"
	"github.com/vietspeech/kidcrawl/cmd/repair"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var (
	// cfgFile holds the path to the configuration file.
	cfgFile string

	// Debug enables debug mode for all commands
	Debug bool

	// rootCmd represents the root command for the kidcrawl CLI.
	rootCmd = &cobra.Command{
		Use:   "kidcrawl",
		Short: "A children's speech corpus crawl pipeline",
		Long: `kidcrawl discovers, downloads, classifies and collects
children's speech audio into a corpus, coordinating any number of worker
processes through shared manifest and queue files.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
)

// Execute runs the root command
func Execute() error {
	// Load .env file early so environment variables are available
	_ = godotenv.Load()

	// Parse flags early to get debug flag before creating logger
	_ = rootCmd.ParseFlags(os.Args[1:])

	// Initialize configuration
	if err := initConfig(); err != nil {
		return fmt.Errorf("failed to initialize configuration: %w", err)
	}

	// Execute the root command with a fresh context
	return rootCmd.ExecuteContext(context.Background())
}

// init initializes the root command and its subcommands.
func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(
		&cfgFile,
		"config",
		"",
		"config file (default is ./config.yaml or ./config/config.yaml)",
	)
	rootCmd.PersistentFlags().BoolVar(&Debug, "debug", false, "enable debug mode")

	// Add version command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("kidcrawl version %s\n", Version)
		},
	})

	// Add subcommands
	rootCmd.AddCommand(crawl.Command())
	rootCmd.AddCommand(analyze.Command())
	rootCmd.AddCommand(cmdchannels.Command())
	rootCmd.AddCommand(repair.Command())
	rootCmd.AddCommand(queuecmd.Command())
	rootCmd.AddCommand(httpd.Command())
}

// initConfig reads in config file and ENV variables if set.
func initConfig() error {
	// Set config file
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
	}

	// Enable automatic environment variable reading BEFORE setting defaults
	// so environment variables take precedence over defaults
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults()

	// Config file is optional: defaults plus environment variables suffice
	if err := viper.ReadInConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: config file not found: %v (using defaults and environment variables)\n", err)
	}

	if err := bindFlagsAndEnv(); err != nil {
		return err
	}

	setupDevelopmentLogging()

	return nil
}

// bindFlagsAndEnv binds command-line flags and named env vars to config keys.
func bindFlagsAndEnv() error {
	if err := viper.BindPFlag("app.debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		return fmt.Errorf("failed to bind debug flag: %w", err)
	}
	if err := viper.BindEnv("app.environment", "APP_ENV"); err != nil {
		return fmt.Errorf("failed to bind APP_ENV: %w", err)
	}
	if err := viper.BindEnv("logger.level", "LOG_LEVEL"); err != nil {
		return fmt.Errorf("failed to bind LOG_LEVEL: %w", err)
	}
	if err := viper.BindEnv("logger.encoding", "LOG_FORMAT"); err != nil {
		return fmt.Errorf("failed to bind LOG_FORMAT: %w", err)
	}
	if err := viper.BindEnv("discovery.base_url", "KIDCRAWL_SEARCH_URL"); err != nil {
		return fmt.Errorf("failed to bind KIDCRAWL_SEARCH_URL: %w", err)
	}
	if err := viper.BindEnv("collab.classifier_url", "KIDCRAWL_CLASSIFIER_URL"); err != nil {
		return fmt.Errorf("failed to bind KIDCRAWL_CLASSIFIER_URL: %w", err)
	}
	if err := viper.BindEnv("collab.uploader_url", "KIDCRAWL_UPLOADER_URL"); err != nil {
		return fmt.Errorf("failed to bind KIDCRAWL_UPLOADER_URL: %w", err)
	}
	return nil
}

// setupDevelopmentLogging configures logging based on environment and the
// debug flag.
func setupDevelopmentLogging() {
	debugFlag := Debug || viper.GetBool("app.debug")
	isDev := viper.GetString("app.environment") == "development"

	if debugFlag {
		viper.Set("logger.level", "debug")
	}
	if isDev {
		viper.Set("logger.development", true)
		viper.Set("logger.encoding", "console")
	}

	Debug = debugFlag
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("app", map[string]any{
		"name":        "kidcrawl",
		"environment": "production",
		"debug":       false,
	})

	viper.SetDefault("logger", map[string]any{
		"level":       "info",
		"development": false,
		"encoding":    "json",
		"max_size":    100,
		"max_backups": 3,
		"max_age":     28,
		"compress":    true,
	})

	viper.SetDefault("storage", map[string]any{
		"manifest_path": "data/manifest.json",
		"url_file_path": "data/collected_urls.txt",
		"queue_path":    "data/processing_queue.json",
		"channels_path": "data/channels.json",
		"backup_dir":    "data/backups",
		"audio_dir":     "data/audio",
		"reject_dir":    "data/audio/no_voice",
	})

	viper.SetDefault("discovery", map[string]any{
		"base_url":        "http://127.0.0.1:8090",
		"queries":         []string{},
		"max_results":     200,
		"max_pages":       50,
		"page_cooldown":   "2s",
		"request_timeout": "30s",
	})

	viper.SetDefault("filter", map[string]any{
		"min_duration_seconds":  float64(defaultMinDuration / time.Second),
		"max_duration_seconds":  float64(defaultMaxDuration / time.Second),
		"min_view_count":        0,
		"exclude_keywords":      []string{},
		"reject_foreign_titles": true,
	})

	viper.SetDefault("channels", map[string]any{
		"enabled":                    true,
		"min_videos_analyzed":        5,
		"min_quality_score":          0.5,
		"max_videos_per_channel":     0,
		"processed_set_path":         "data/processed_channels.json",
		"skip_processed_across_runs": false,
	})

	viper.SetDefault("queue", map[string]any{
		"enabled":            true,
		"stale_timeout":      "5m",
		"heartbeat_interval": "1m",
		"batch_size":         5,
	})

	viper.SetDefault("collab", map[string]any{
		"classifier_url":   "http://127.0.0.1:8091",
		"uploader_url":     "",
		"request_timeout":  "120s",
		"download_timeout": "600s",
	})

	viper.SetDefault("pipeline", map[string]any{
		"phases":               []string{},
		"download_concurrency": 3,
		"forever":              false,
		"cycle_cooldown":       "30m",
		"cycle_schedule":       "",
		"quota_pause":          "1h",
		"max_retries":          3,
	})

	viper.SetDefault("server", map[string]any{
		"address":       ":8080",
		"read_timeout":  "15s",
		"write_timeout": "15s",
		"idle_timeout":  "60s",
	})
}

// Duration-shaped filter defaults, expressed in seconds in the config.
const (
	defaultMinDuration = 60 * time.Second
	defaultMaxDuration = 30 * time.Minute
)
