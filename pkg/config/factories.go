package config

import (
	"context"
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/manjuta/datasync/pkg/manifest"
	manifestBadger "github.com/manjuta/datasync/pkg/manifest/badger"
	"github.com/manjuta/datasync/pkg/sync"
	"github.com/manjuta/datasync/pkg/sync/s3backend"
)

// CreateManifestCache creates a shared manifest cache based on configuration.
//
// This factory function uses the Type field to determine which cache
// implementation to create, then decodes the type-specific configuration from
// the corresponding map and passes it to the cache's constructor.
//
// Supported types:
//   - "memory": process-local cache (no cross-process sharing)
//   - "badger": BadgerDB-backed cache shared by every process on the machine
//
// Parameters:
//   - ctx: Context for initialization operations
//   - cfg: Manifest cache configuration
//
// Returns:
//   - manifest.Cache: Initialized cache
//   - error: Configuration or initialization error
func CreateManifestCache(ctx context.Context, cfg *ManifestConfig) (manifest.Cache, error) {
	switch cfg.Type {
	case "memory":
		return manifest.NewMemoryCache(), nil
	case "badger":
		return createBadgerManifestCache(ctx, cfg.Badger)
	default:
		return nil, fmt.Errorf("unknown manifest cache type: %q", cfg.Type)
	}
}

// createBadgerManifestCache creates a BadgerDB-backed manifest cache.
func createBadgerManifestCache(ctx context.Context, options map[string]any) (manifest.Cache, error) {
	var cacheCfg manifestBadger.ManifestCacheConfig
	if err := mapstructure.Decode(options, &cacheCfg); err != nil {
		return nil, fmt.Errorf("failed to decode badger manifest cache config: %w", err)
	}

	cache, err := manifestBadger.NewManifestCache(ctx, cacheCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create badger manifest cache: %w", err)
	}

	return cache, nil
}

// CreateBackend creates a sync backend based on configuration.
//
// Supported types:
//   - "objectservice": presigned transfers through the object service
//   - "s3": direct transfers against an S3 (or S3-compatible) bucket
//
// Parameters:
//   - ctx: Context for initialization operations
//   - cfg: Backend configuration
//   - syncCfg: Transfer pipeline tuning shared by all backends
//
// Returns:
//   - sync.Backend: Initialized backend
//   - error: Configuration or initialization error
func CreateBackend(ctx context.Context, cfg *BackendConfig, syncCfg *SyncConfig) (sync.Backend, error) {
	switch cfg.Type {
	case "objectservice":
		return createObjectServiceBackend(cfg.ObjectService, syncCfg)
	case "s3":
		return createS3Backend(ctx, cfg.S3, syncCfg)
	default:
		return nil, fmt.Errorf("unknown backend type: %q", cfg.Type)
	}
}

// createObjectServiceBackend creates the presign-service backend.
func createObjectServiceBackend(options map[string]any, syncCfg *SyncConfig) (sync.Backend, error) {
	// Define the configuration struct for the object service backend
	type ObjectServiceConfig struct {
		ServiceRoot   string `mapstructure:"service_root"`
		Username      string `mapstructure:"username"`
		BearerToken   string `mapstructure:"bearer_token"`
		IdentityToken string `mapstructure:"identity_token"`
	}

	var serviceCfg ObjectServiceConfig
	if err := mapstructure.Decode(options, &serviceCfg); err != nil {
		return nil, fmt.Errorf("failed to decode object service backend config: %w", err)
	}

	backend, err := sync.NewServiceBackend(map[string]string{
		sync.ConfigServiceRoot:   serviceCfg.ServiceRoot,
		sync.ConfigUsername:      serviceCfg.Username,
		sync.ConfigBearerToken:   serviceCfg.BearerToken,
		sync.ConfigIdentityToken: serviceCfg.IdentityToken,
	}, sync.OrchestratorOptions{
		Workers:            syncCfg.Workers,
		MultipartChunkSize: syncCfg.MultipartChunkSize,
		TmpDir:             syncCfg.TmpDir,
		RequestsPerSecond:  syncCfg.RequestsPerSecond,
	})
	if err != nil {
		return nil, err
	}

	return backend, nil
}

// createS3Backend creates the direct S3 backend.
func createS3Backend(ctx context.Context, options map[string]any, syncCfg *SyncConfig) (sync.Backend, error) {
	var backendCfg s3backend.Config
	if err := mapstructure.Decode(options, &backendCfg); err != nil {
		return nil, fmt.Errorf("failed to decode s3 backend config: %w", err)
	}

	// Pipeline tuning flows from the shared sync section unless the backend
	// section overrides it.
	if backendCfg.Workers == 0 {
		backendCfg.Workers = syncCfg.Workers
	}
	if backendCfg.MultipartChunkSize == 0 {
		backendCfg.MultipartChunkSize = syncCfg.MultipartChunkSize
	}
	if backendCfg.TmpDir == "" {
		backendCfg.TmpDir = syncCfg.TmpDir
	}

	backend, err := s3backend.New(ctx, backendCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 backend: %w", err)
	}

	return backend, nil
}
