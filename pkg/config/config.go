package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

var (
	once    sync.Once
	initErr error
)

// Ledger backends
const (
	BackendCSV    = "csv"
	BackendSQLite = "sqlite"
)

// Init initializes the configuration system
// This should be called once at application startup
func Init() error {
	once.Do(func() {
		setDefaults()

		viper.SetEnvPrefix("HARVESTER")
		viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		viper.AutomaticEnv()

		configPath := filepath.Clean("./config/settings.yaml")
		viper.SetConfigFile(configPath)

		if err := viper.ReadInConfig(); err != nil {
			// A missing file means defaults and env vars only
			if !os.IsNotExist(err) {
				initErr = fmt.Errorf("error reading config file %s: %w", configPath, err)
				return
			}
		}

		if err := validate(); err != nil {
			initErr = fmt.Errorf("invalid configuration: %w", err)
		}
	})

	return initErr
}

// GetConfig returns the current configuration as a struct
// Init() must be called before using this
func GetConfig() (*Config, error) {
	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return &config, nil
}

// GetString returns a string config value
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetDuration returns a time.Duration config value
func GetDuration(key string) time.Duration {
	return viper.GetDuration(key)
}

// validate validates the configuration using Viper values
func validate() error {
	port := viper.GetInt("server.port")
	if port <= 0 || port > 65535 {
		return fmt.Errorf("invalid server port: %d", port)
	}

	switch backend := viper.GetString("ledger.backend"); backend {
	case BackendCSV, BackendSQLite:
	default:
		return fmt.Errorf("invalid ledger backend: %q", backend)
	}

	if viper.GetString("ledger.path") == "" {
		return fmt.Errorf("ledger path is required")
	}

	// Auto-correct invalid worker count
	if viper.GetInt("pipeline.workers") <= 0 {
		slog.Warn("pipeline.workers must be positive, using 1")
		viper.Set("pipeline.workers", 1)
	}

	if viper.GetInt("pipeline.max_attempts") <= 0 {
		viper.Set("pipeline.max_attempts", 3)
	}

	if viper.GetInt("download.chunk_size") <= 0 {
		viper.Set("download.chunk_size", 8192)
	}

	return nil
}

// Validate validates a Config struct (for testing)
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Ledger.Backend != BackendCSV && c.Ledger.Backend != BackendSQLite {
		return fmt.Errorf("invalid ledger backend: %q", c.Ledger.Backend)
	}

	if c.Ledger.Path == "" {
		return fmt.Errorf("ledger path is required")
	}

	if c.Pipeline.Workers <= 0 {
		c.Pipeline.Workers = 1
	}

	if c.Pipeline.MaxAttempts <= 0 {
		c.Pipeline.MaxAttempts = 3
	}

	if c.Download.ChunkSize <= 0 {
		c.Download.ChunkSize = 8192
	}

	return nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// Pipeline defaults
	viper.SetDefault("pipeline.catalog_path", "./episodes.csv")
	viper.SetDefault("pipeline.output_dir", "./downloads")
	viper.SetDefault("pipeline.source_tag", "podcast")
	viper.SetDefault("pipeline.workers", 1)
	viper.SetDefault("pipeline.max_attempts", 3)
	viper.SetDefault("pipeline.retry_attempts", 5)
	viper.SetDefault("pipeline.max_passes", 3)
	viper.SetDefault("pipeline.pass_delay", 5*time.Second)
	viper.SetDefault("pipeline.search_candidates", 5)

	// Page fetch defaults
	viper.SetDefault("http.user_agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	viper.SetDefault("http.accept_language", "en-US,en;q=0.9")
	viper.SetDefault("http.origin", "https://podcasts.apple.com")
	viper.SetDefault("http.timeout", 30*time.Second)
	viper.SetDefault("http.requests_per_second", 0)

	// Search index defaults
	viper.SetDefault("search.base_url", "https://itunes.apple.com")
	viper.SetDefault("search.entity", "podcastEpisode")
	viper.SetDefault("search.limit", 20)
	viper.SetDefault("search.requests_per_minute", 20)
	viper.SetDefault("search.burst_size", 3)
	viper.SetDefault("search.timeout", 30*time.Second)
	viper.SetDefault("search.max_retries", 1)
	viper.SetDefault("search.cache_ttl", 1*time.Hour)

	// Download defaults
	viper.SetDefault("download.chunk_size", 8192)
	viper.SetDefault("download.max_size", 1024*1024*1024)
	viper.SetDefault("download.timeout", 10*time.Minute)
	viper.SetDefault("download.validate_audio", false)
	viper.SetDefault("download.temp_max_age", 24*time.Hour)

	// Ledger defaults
	viper.SetDefault("ledger.backend", BackendCSV)
	viper.SetDefault("ledger.path", "./episode_metadata.csv")
	viper.SetDefault("ledger.verbose", false)

	// Server defaults
	viper.SetDefault("server.host", "127.0.0.1")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 30*time.Second)
	viper.SetDefault("server.shutdown_timeout", 10*time.Second)
	viper.SetDefault("server.max_header_bytes", 1048576)

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")
}
