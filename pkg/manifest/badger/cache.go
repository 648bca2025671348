// Package badger implements the shared manifest cache on BadgerDB.
//
// The cache gives every process on a machine a fast path to a loaded
// manifest without re-scanning snapshot files, keyed by the dataset identity
// and checkout context id so concurrent working copies never collide.
package badger

import (
	"context"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/manjuta/datasync/pkg/manifest"
)

// ManifestCache implements manifest.Cache using BadgerDB for persistence.
//
// Entries are stored under "manifest/<dataset>/<context>" with an optional
// TTL; an expired or missing key is a plain cache miss, never an error. The
// durable source of truth stays in the snapshot files, so losing the cache
// database entirely only costs loaders the snapshot fallback.
//
// Thread Safety:
// BadgerDB transactions make the cache safe for concurrent use by multiple
// goroutines.
type ManifestCache struct {
	db *badger.DB

	// ttl bounds how long a cached manifest is served before loaders fall
	// back to the snapshot files. Zero disables expiry.
	ttl time.Duration
}

// ManifestCacheConfig contains configuration for creating a manifest cache.
type ManifestCacheConfig struct {
	// DBPath is the directory where BadgerDB stores its files
	DBPath string `mapstructure:"db_path"`

	// TTL bounds cache entry lifetime; 0 means entries never expire
	TTL time.Duration `mapstructure:"ttl"`

	// BlockCacheSizeMB is BadgerDB's block cache size in MB (default: 64)
	BlockCacheSizeMB int64 `mapstructure:"block_cache_size_mb"`
}

// NewManifestCache opens (creating if necessary) the cache database.
//
// Parameters:
//   - ctx: Context for cancellation during initialization
//   - config: Cache configuration
//
// Returns:
//   - *ManifestCache: Cache ready for use
//   - error: Database initialization error or context cancellation
func NewManifestCache(ctx context.Context, config ManifestCacheConfig) (*ManifestCache, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if config.DBPath == "" {
		return nil, fmt.Errorf("manifest cache db_path is required")
	}

	blockCacheMB := config.BlockCacheSizeMB
	if blockCacheMB == 0 {
		blockCacheMB = 64
	}

	opts := badger.DefaultOptions(config.DBPath)
	opts = opts.WithLoggingLevel(badger.WARNING)
	// Manifests compress well but are small; skip compression overhead.
	opts = opts.WithCompression(options.None)
	opts = opts.WithBlockCacheSize(blockCacheMB << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest cache at %s: %w", config.DBPath, err)
	}

	return &ManifestCache{db: db, ttl: config.TTL}, nil
}

// Get implements manifest.Cache.
func (c *ManifestCache) Get(dataset, contextID string) (map[string]manifest.Entry, bool, error) {
	var entries map[string]manifest.Entry
	found := false

	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(cacheKey(dataset, contextID))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			decoded, err := decodeEntries(val)
			if err != nil {
				return err
			}
			entries = decoded
			found = true
			return nil
		})
	})
	if err != nil {
		return nil, false, fmt.Errorf("manifest cache read failed: %w", err)
	}

	return entries, found, nil
}

// Put implements manifest.Cache.
func (c *ManifestCache) Put(dataset, contextID string, entries map[string]manifest.Entry) error {
	encoded, err := encodeEntries(entries)
	if err != nil {
		return err
	}

	err = c.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(cacheKey(dataset, contextID), encoded)
		if c.ttl > 0 {
			e = e.WithTTL(c.ttl)
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		return fmt.Errorf("manifest cache write failed: %w", err)
	}

	return nil
}

// Evict implements manifest.Cache.
func (c *ManifestCache) Evict(dataset, contextID string) error {
	err := c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(cacheKey(dataset, contextID))
	})
	if err != nil {
		return fmt.Errorf("manifest cache eviction failed: %w", err)
	}

	return nil
}

// Close closes the cache database. After Close the cache must not be used.
func (c *ManifestCache) Close() error {
	if err := c.db.Close(); err != nil {
		return fmt.Errorf("failed to close manifest cache: %w", err)
	}
	return nil
}

// cacheKey builds the namespaced key for one (dataset, context) pair.
func cacheKey(dataset, contextID string) []byte {
	return []byte("manifest/" + dataset + "/" + contextID)
}
