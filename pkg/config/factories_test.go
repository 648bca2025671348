package config

import (
	"context"
	"testing"
)

func TestCreateManifestCacheMemory(t *testing.T) {
	cache, err := CreateManifestCache(context.Background(), &ManifestConfig{Type: "memory"})
	if err != nil {
		t.Fatalf("CreateManifestCache failed: %v", err)
	}
	if cache == nil {
		t.Fatal("expected a cache instance")
	}
}

func TestCreateManifestCacheBadger(t *testing.T) {
	cache, err := CreateManifestCache(context.Background(), &ManifestConfig{
		Type:   "badger",
		Badger: map[string]any{"db_path": t.TempDir()},
	})
	if err != nil {
		t.Fatalf("CreateManifestCache failed: %v", err)
	}

	closer, ok := cache.(interface{ Close() error })
	if !ok {
		t.Fatal("expected the badger cache to be closeable")
	}
	if err := closer.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestCreateManifestCacheUnknownType(t *testing.T) {
	if _, err := CreateManifestCache(context.Background(), &ManifestConfig{Type: "redis"}); err == nil {
		t.Fatal("expected unknown manifest cache type to fail")
	}
}

func TestCreateBackendObjectService(t *testing.T) {
	syncCfg := &SyncConfig{Workers: 4, MultipartChunkSize: 1 << 20}

	backend, err := CreateBackend(context.Background(), &BackendConfig{
		Type: "objectservice",
		ObjectService: map[string]any{
			"service_root":   "https://service.example/objects/alice/ds",
			"username":       "alice",
			"bearer_token":   "bearer",
			"identity_token": "identity",
		},
	}, syncCfg)
	if err != nil {
		t.Fatalf("CreateBackend failed: %v", err)
	}
	if backend == nil {
		t.Fatal("expected a backend instance")
	}
}

func TestCreateBackendObjectServiceMissingCredentials(t *testing.T) {
	_, err := CreateBackend(context.Background(), &BackendConfig{
		Type:          "objectservice",
		ObjectService: map[string]any{"username": "alice"},
	}, &SyncConfig{})
	if err == nil {
		t.Fatal("expected missing credentials to fail")
	}
}

func TestCreateBackendUnknownType(t *testing.T) {
	if _, err := CreateBackend(context.Background(), &BackendConfig{Type: "ftp"}, &SyncConfig{}); err == nil {
		t.Fatal("expected unknown backend type to fail")
	}
}
