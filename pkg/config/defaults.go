package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/manjuta/datasync/pkg/sync"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and
// environment variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
//   - Backend-specific defaults are handled by backend implementations
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyCacheDefaults(&cfg.Cache)
	applyManifestDefaults(&cfg.Manifest)
	applySyncDefaults(&cfg.Sync)
	applyBackendDefaults(&cfg.Backend)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyCacheDefaults sets local cache defaults.
func applyCacheDefaults(cfg *CacheConfig) {
	if cfg.Root == "" {
		cfg.Root = defaultCacheRoot()
	}
}

// defaultCacheRoot returns ~/.datasync/cache, or a relative fallback when the
// home directory cannot be determined.
func defaultCacheRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".datasync/cache"
	}
	return filepath.Join(home, ".datasync", "cache")
}

// applyManifestDefaults sets manifest cache defaults.
func applyManifestDefaults(cfg *ManifestConfig) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}

	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}
	if _, ok := cfg.Badger["db_path"]; !ok {
		cfg.Badger["db_path"] = filepath.Join(defaultCacheRoot(), "manifest-cache")
	}
}

// applySyncDefaults sets transfer pipeline defaults.
func applySyncDefaults(cfg *SyncConfig) {
	if cfg.Workers == 0 {
		cfg.Workers = sync.DefaultWorkerCount
	}
	if cfg.MultipartChunkSize == 0 {
		cfg.MultipartChunkSize = sync.DefaultMultipartChunkSize
	}
	if cfg.TmpDir == "" {
		cfg.TmpDir = os.TempDir()
	}
}

// applyBackendDefaults sets backend defaults.
func applyBackendDefaults(cfg *BackendConfig) {
	if cfg.Type == "" {
		cfg.Type = "objectservice"
	}

	// Initialize maps if nil
	if cfg.ObjectService == nil {
		cfg.ObjectService = make(map[string]any)
	}
	if cfg.S3 == nil {
		cfg.S3 = make(map[string]any)
	}
}
