// Package config provides configuration management for reencodarr using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort       = 8649
	defaultServerTimeout    = 30 * time.Second
	defaultShutdownTimeout  = 10 * time.Second
	defaultMaxOpenConns     = 25
	defaultMaxIdleConns     = 10
	defaultConnMaxIdleTime  = 30 * time.Minute
	defaultAnalyzerLimit    = 500
	defaultAnalyzerInterval = 5 * time.Second
	defaultMediainfoBatch   = 8
	defaultSearcherLimit    = 1
	defaultSearcherInterval = 5 * time.Second
	defaultEncoderLimit     = 1
	defaultEncoderInterval  = 5 * time.Second
	defaultEncoderTimeout   = 30 * 24 * time.Hour
	defaultExistsTimeout    = 10 * time.Second
	defaultExistsWorkers    = 20
	defaultSweepPageSize    = 500
)

// Bounds for analyzer manual overrides.
const (
	MinAnalyzerRateLimit = 200
	MaxAnalyzerRateLimit = 1500
	MinMediainfoBatch    = 5
	MaxMediainfoBatch    = 25
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Analyzer  AnalyzerConfig  `mapstructure:"analyzer"`
	CrfSearch CrfSearchConfig `mapstructure:"crf_search"`
	Encoder   EncoderConfig   `mapstructure:"encoder"`
	Intake    IntakeConfig    `mapstructure:"intake"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// StorageConfig holds temp directory configuration for subprocess output.
type StorageConfig struct {
	// TempDir is where ab-av1 writes crf-search artifacts and encode
	// output. Empty means <system_tmp>/ab-av1.
	TempDir string `mapstructure:"temp_dir"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// AnalyzerConfig holds analyzer pipeline configuration.
type AnalyzerConfig struct {
	RateLimit          int           `mapstructure:"rate_limit"` // messages per interval
	Interval           time.Duration `mapstructure:"interval"`
	MediainfoBatchSize int           `mapstructure:"mediainfo_batch_size"`
}

// CrfSearchConfig holds CRF-searcher pipeline configuration.
type CrfSearchConfig struct {
	RateLimit int           `mapstructure:"rate_limit"`
	Interval  time.Duration `mapstructure:"interval"`
	// PresetFallback is appended to the retry invocation after a
	// zero-sample search (e.g. ["--preset", "6"]).
	PresetFallback []string `mapstructure:"preset_fallback"`
}

// EncoderConfig holds encoder pipeline configuration.
type EncoderConfig struct {
	RateLimit int           `mapstructure:"rate_limit"`
	Interval  time.Duration `mapstructure:"interval"`
	// Timeout bounds a single encode subprocess. The default is
	// deliberately enormous; it only guards against a silent stall.
	Timeout time.Duration `mapstructure:"timeout"`
}

// IntakeConfig holds media-library intake configuration.
type IntakeConfig struct {
	// MinSize filters out files smaller than this at intake (0 = no filter).
	MinSize ByteSize `mapstructure:"min_size"`
}

// SchedulerConfig holds maintenance scheduler configuration.
type SchedulerConfig struct {
	// MissingPathSweep is a cron expression for the missing-file sweep
	// (empty = disabled).
	MissingPathSweep string `mapstructure:"missing_path_sweep"`
	// FailureRetention prunes resolved failures older than this
	// (0 = keep forever).
	FailureRetention time.Duration `mapstructure:"failure_retention"`
	// FailureCleanup is a cron expression for the resolved-failure prune.
	FailureCleanup string `mapstructure:"failure_cleanup"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration and are
// prefixed with REENCODARR_, using underscores for nesting.
// Example: REENCODARR_SERVER_PORT=8649.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/reencodarr")
		v.AddConfigPath("$HOME/.reencodarr")
	}

	v.SetEnvPrefix("REENCODARR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// No config file is fine; defaults and env vars apply.
	}

	// The text-unmarshaller hook lets ByteSize fields accept "5MB" style
	// values from files and env vars.
	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.TextUnmarshallerHookFunc(),
	))); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// Call before reading the config file so file values override defaults.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "reencodarr.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("storage.temp_dir", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	v.SetDefault("analyzer.rate_limit", defaultAnalyzerLimit)
	v.SetDefault("analyzer.interval", defaultAnalyzerInterval)
	v.SetDefault("analyzer.mediainfo_batch_size", defaultMediainfoBatch)

	v.SetDefault("crf_search.rate_limit", defaultSearcherLimit)
	v.SetDefault("crf_search.interval", defaultSearcherInterval)
	v.SetDefault("crf_search.preset_fallback", []string{})

	v.SetDefault("encoder.rate_limit", defaultEncoderLimit)
	v.SetDefault("encoder.interval", defaultEncoderInterval)
	v.SetDefault("encoder.timeout", defaultEncoderTimeout)

	v.SetDefault("intake.min_size", 0)

	v.SetDefault("scheduler.missing_path_sweep", "")
	v.SetDefault("scheduler.failure_retention", time.Duration(0))
	v.SetDefault("scheduler.failure_cleanup", "")
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres", "mysql":
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Analyzer.MediainfoBatchSize < MinMediainfoBatch || c.Analyzer.MediainfoBatchSize > MaxMediainfoBatch {
		return fmt.Errorf("analyzer.mediainfo_batch_size must be in [%d,%d]", MinMediainfoBatch, MaxMediainfoBatch)
	}
	if c.Analyzer.RateLimit < MinAnalyzerRateLimit || c.Analyzer.RateLimit > MaxAnalyzerRateLimit {
		return fmt.Errorf("analyzer.rate_limit must be in [%d,%d]", MinAnalyzerRateLimit, MaxAnalyzerRateLimit)
	}

	if c.Encoder.Timeout <= 0 {
		return fmt.Errorf("encoder.timeout must be positive")
	}

	return nil
}

// TempDir resolves the temp directory for subprocess output.
func (c *Config) TempDir() string {
	if c.Storage.TempDir != "" {
		return c.Storage.TempDir
	}
	return filepath.Join(os.TempDir(), "ab-av1")
}
