package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/manjuta/datasync/pkg/sync"
)

// writeConfigFile serializes the given document to a YAML file in a temp dir.
func writeConfigFile(t *testing.T, doc map[string]any) string {
	t.Helper()

	data, err := yaml.Marshal(doc)
	if err != nil {
		t.Fatalf("failed to marshal config fixture: %v", err)
	}

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("failed to write config fixture: %v", err)
	}
	return path
}

func TestLoadWithDefaults(t *testing.T) {
	// Isolate from any real user configuration.
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Logging.Level != "INFO" {
		t.Errorf("expected default log level INFO, got %s", cfg.Logging.Level)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("expected default log output stdout, got %s", cfg.Logging.Output)
	}
	if cfg.Cache.Root == "" {
		t.Error("expected a default cache root")
	}
	if cfg.Manifest.Type != "memory" {
		t.Errorf("expected default manifest cache memory, got %s", cfg.Manifest.Type)
	}
	if cfg.Sync.Workers != sync.DefaultWorkerCount {
		t.Errorf("expected default worker count %d, got %d", sync.DefaultWorkerCount, cfg.Sync.Workers)
	}
	if cfg.Sync.MultipartChunkSize != sync.DefaultMultipartChunkSize {
		t.Errorf("expected default multipart chunk size %d, got %d",
			int64(sync.DefaultMultipartChunkSize), cfg.Sync.MultipartChunkSize)
	}
	if cfg.Backend.Type != "objectservice" {
		t.Errorf("expected default backend objectservice, got %s", cfg.Backend.Type)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfigFile(t, map[string]any{
		"logging": map[string]any{
			"level":  "debug",
			"output": "stderr",
		},
		"cache": map[string]any{
			"root": "/var/lib/datasync/cache",
		},
		"manifest": map[string]any{
			"type": "badger",
			"badger": map[string]any{
				"db_path": "/var/lib/datasync/manifest-cache",
			},
		},
		"sync": map[string]any{
			"workers":              8,
			"multipart_chunk_size": 1048576,
		},
		"backend": map[string]any{
			"type": "s3",
			"s3": map[string]any{
				"bucket": "dataset-objects",
				"region": "eu-west-1",
			},
		},
	})

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("expected log level normalized to DEBUG, got %s", cfg.Logging.Level)
	}
	if cfg.Logging.Output != "stderr" {
		t.Errorf("expected log output stderr, got %s", cfg.Logging.Output)
	}
	if cfg.Cache.Root != "/var/lib/datasync/cache" {
		t.Errorf("unexpected cache root %s", cfg.Cache.Root)
	}
	if cfg.Manifest.Type != "badger" {
		t.Errorf("expected badger manifest cache, got %s", cfg.Manifest.Type)
	}
	if cfg.Manifest.Badger["db_path"] != "/var/lib/datasync/manifest-cache" {
		t.Errorf("unexpected badger db_path %v", cfg.Manifest.Badger["db_path"])
	}
	if cfg.Sync.Workers != 8 {
		t.Errorf("expected 8 workers, got %d", cfg.Sync.Workers)
	}
	if cfg.Sync.MultipartChunkSize != 1048576 {
		t.Errorf("expected 1 MiB chunk size, got %d", cfg.Sync.MultipartChunkSize)
	}
	if cfg.Backend.Type != "s3" {
		t.Errorf("expected s3 backend, got %s", cfg.Backend.Type)
	}
	if cfg.Backend.S3["bucket"] != "dataset-objects" {
		t.Errorf("unexpected bucket %v", cfg.Backend.S3["bucket"])
	}
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeConfigFile(t, map[string]any{
		"logging": map[string]any{
			"level":  "info",
			"output": "stdout",
		},
	})

	t.Setenv("DATASYNC_LOGGING_LEVEL", "error")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Logging.Level != "ERROR" {
		t.Errorf("expected env override to win, got %s", cfg.Logging.Level)
	}
}

func TestLoadRejectsInvalidLogLevel(t *testing.T) {
	path := writeConfigFile(t, map[string]any{
		"logging": map[string]any{
			"level": "verbose",
		},
	})

	if _, err := Load(path); err == nil {
		t.Fatal("expected invalid log level to fail validation")
	}
}

func TestLoadRejectsUnknownBackendType(t *testing.T) {
	path := writeConfigFile(t, map[string]any{
		"backend": map[string]any{
			"type": "ftp",
		},
	})

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected unknown backend type to fail validation")
	}
	if !strings.Contains(err.Error(), "oneof") {
		t.Errorf("unexpected validation error: %v", err)
	}
}

func TestLoadRejectsS3WithoutBucket(t *testing.T) {
	path := writeConfigFile(t, map[string]any{
		"backend": map[string]any{
			"type": "s3",
			"s3": map[string]any{
				"region": "eu-west-1",
			},
		},
	})

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected s3 backend without bucket to fail validation")
	}
	if !strings.Contains(err.Error(), "bucket") {
		t.Errorf("unexpected validation error: %v", err)
	}
}

func TestValidateRejectsBadgerWithoutPath(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	cfg.Manifest.Type = "badger"
	cfg.Manifest.Badger = map[string]any{"db_path": ""}

	if err := Validate(cfg); err == nil {
		t.Fatal("expected badger cache without db_path to fail validation")
	}
}

func TestGetDefaultConfigPathHonorsXDG(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	want := filepath.Join(dir, "datasync", "config.yaml")
	if got := GetDefaultConfigPath(); got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
}
