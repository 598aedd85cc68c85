package config

import "time"

// Config represents the complete application configuration
type Config struct {
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Search   SearchConfig   `mapstructure:"search"`
	Download DownloadConfig `mapstructure:"download"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// PipelineConfig controls a harvesting run
type PipelineConfig struct {
	CatalogPath      string        `mapstructure:"catalog_path"`
	OutputDir        string        `mapstructure:"output_dir"`
	SourceTag        string        `mapstructure:"source_tag"`
	Workers          int           `mapstructure:"workers"`
	MaxAttempts      int           `mapstructure:"max_attempts"`
	RetryAttempts    int           `mapstructure:"retry_attempts"`
	MaxPasses        int           `mapstructure:"max_passes"`
	PassDelay        time.Duration `mapstructure:"pass_delay"`
	SearchCandidates int           `mapstructure:"search_candidates"`
}

// HTTPConfig contains the browser identity used for page fetches
type HTTPConfig struct {
	UserAgent         string        `mapstructure:"user_agent"`
	AcceptLanguage    string        `mapstructure:"accept_language"`
	Origin            string        `mapstructure:"origin"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
}

// SearchConfig contains search index settings
type SearchConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	Entity            string        `mapstructure:"entity"`
	Limit             int           `mapstructure:"limit"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
	BurstSize         int           `mapstructure:"burst_size"`
	Timeout           time.Duration `mapstructure:"timeout"`
	MaxRetries        int           `mapstructure:"max_retries"`
	CacheTTL          time.Duration `mapstructure:"cache_ttl"`
}

// DownloadConfig contains audio download settings
type DownloadConfig struct {
	ChunkSize     int           `mapstructure:"chunk_size"`
	MaxSize       int64         `mapstructure:"max_size"`
	Timeout       time.Duration `mapstructure:"timeout"`
	ValidateAudio bool          `mapstructure:"validate_audio"`
	TempMaxAge    time.Duration `mapstructure:"temp_max_age"`
}

// LedgerConfig selects and locates the status ledger
type LedgerConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
	Verbose bool   `mapstructure:"verbose"`
}

// ServerConfig contains HTTP server settings for the status API
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxHeaderBytes  int           `mapstructure:"max_header_bytes"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}
