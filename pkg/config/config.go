package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config represents the complete datasync configuration.
//
// This structure captures all configurable aspects of the engine including:
//   - Logging configuration
//   - Local cache layout (object store root)
//   - Manifest cache selection and configuration (cache-specific)
//   - Sync tuning (worker pool, multipart routing)
//   - Backend selection and configuration (backend-specific)
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (DATASYNC_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
//
// Backend Configuration Pattern:
// Each backend implementation defines its own configuration shape. The
// Config struct contains type-specific sections (backend.objectservice,
// backend.s3) and only the section matching the selected type is used. The
// manifest cache follows the same pattern (manifest.memory, manifest.badger).
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging"`

	// Cache configures the local content-addressed cache
	Cache CacheConfig `mapstructure:"cache"`

	// Manifest specifies the shared manifest cache type and its configuration
	Manifest ManifestConfig `mapstructure:"manifest"`

	// Sync contains transfer pipeline tuning
	Sync SyncConfig `mapstructure:"sync"`

	// Backend specifies the sync backend type and type-specific configuration
	Backend BackendConfig `mapstructure:"backend"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required"`
}

// CacheConfig configures the local content-addressed cache.
type CacheConfig struct {
	// Root is the directory holding per-dataset object stores and revision
	// directories
	Root string `mapstructure:"root" validate:"required"`
}

// ManifestConfig specifies the shared manifest cache.
//
// The Type field determines which cache implementation is used.
// Only the corresponding type-specific configuration section is used.
type ManifestConfig struct {
	// Type specifies which manifest cache implementation to use
	// Valid values: memory, badger
	Type string `mapstructure:"type" validate:"required,oneof=memory badger"`

	// Badger contains BadgerDB-specific configuration
	// Only used when Type = "badger"
	Badger map[string]any `mapstructure:"badger"`
}

// SyncConfig contains transfer pipeline tuning.
type SyncConfig struct {
	// Workers is the transfer worker pool size
	Workers int `mapstructure:"workers" validate:"gt=0"`

	// MultipartChunkSize routes compressed objects at or above this size
	// (bytes) through multipart upload
	MultipartChunkSize int64 `mapstructure:"multipart_chunk_size" validate:"gt=0"`

	// TmpDir holds compression staging files
	TmpDir string `mapstructure:"tmp_dir"`

	// RequestsPerSecond paces outbound service and store calls (0 = unlimited)
	RequestsPerSecond uint `mapstructure:"requests_per_second"`
}

// BackendConfig specifies sync backend configuration.
//
// The Type field determines which backend implementation is used.
// Only the corresponding type-specific configuration section is used.
type BackendConfig struct {
	// Type specifies which backend implementation to use
	// Valid values: objectservice, s3
	Type string `mapstructure:"type" validate:"required,oneof=objectservice s3"`

	// ObjectService contains presign-service configuration
	// Only used when Type = "objectservice"
	ObjectService map[string]any `mapstructure:"objectservice"`

	// S3 contains direct-S3 configuration
	// Only used when Type = "s3"
	S3 map[string]any `mapstructure:"s3"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (DATASYNC_*)
//  2. Configuration file
//  3. Default values
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use the DATASYNC_ prefix and underscores
	// Example: DATASYNC_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("DATASYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found is acceptable - use defaults
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "datasync")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "datasync")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}
