// Package gc removes orphaned objects from a dataset's local object store.
//
// Objects become orphaned when a delete or move batch drops the last manifest
// reference but the cached content stays behind, or when a crashed sweep
// stores an object no snapshot ever recorded. The collector compares the
// object store against every manifest snapshot of the dataset and removes
// objects nothing references, reclaiming disk space without touching remote
// state.
package gc

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/manjuta/datasync/internal/logger"
	"github.com/manjuta/datasync/pkg/cache"
	"github.com/manjuta/datasync/pkg/manifest"
)

// Config contains configuration for the garbage collector.
type Config struct {
	// Interval is how often the background loop collects (default: 24h)
	Interval time.Duration

	// GracePeriod protects recently stored objects: a sweep in another
	// process may have stored an object whose snapshot is not durable yet
	// (default: 1h)
	GracePeriod time.Duration

	// DryRun reports what would be removed without deleting anything
	DryRun bool
}

// Result summarizes one collection pass. In dry-run mode Removed and
// Reclaimed count the candidates that would have been deleted.
type Result struct {
	// Scanned is the number of objects examined
	Scanned int

	// Removed is the number of orphaned objects deleted
	Removed int

	// Reclaimed is the total size of removed objects in bytes
	Reclaimed int64
}

// Collector removes orphaned objects from one dataset's object store.
//
// Thread Safety: Collect is safe to call concurrently with sync passes; the
// grace period keeps in-flight sweep output out of reach.
type Collector struct {
	cacheMgr *cache.Manager
	config   Config
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewCollector creates a collector over the given dataset cache.
func NewCollector(cacheMgr *cache.Manager, config Config) *Collector {
	if config.Interval <= 0 {
		config.Interval = 24 * time.Hour
	}
	if config.GracePeriod <= 0 {
		config.GracePeriod = time.Hour
	}

	return &Collector{
		cacheMgr: cacheMgr,
		config:   config,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Collect runs one garbage collection pass.
//
// An object is orphaned when no manifest snapshot of the dataset references
// its storage filename and it is older than the grace period.
//
// Parameters:
//   - ctx: Context for cancellation
//
// Returns:
//   - Result: Counts of scanned and removed objects
//   - error: Returns error if snapshots or the object store cannot be read
func (c *Collector) Collect(ctx context.Context) (Result, error) {
	var result Result

	referenced, err := c.referencedObjects()
	if err != nil {
		return result, err
	}

	des, err := os.ReadDir(c.cacheMgr.ObjectsDir())
	if err != nil {
		return result, fmt.Errorf("failed to list object store: %w", err)
	}

	for _, de := range des {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if de.IsDir() {
			continue
		}
		result.Scanned++

		name := de.Name()
		if referenced[name] {
			continue
		}

		info, err := de.Info()
		if err != nil {
			continue
		}
		if time.Since(info.ModTime()) < c.config.GracePeriod {
			// Possibly produced by a sweep whose snapshot is not durable yet.
			continue
		}

		if c.config.DryRun {
			logger.Info("Would remove orphaned object %s (%d bytes)", name, info.Size())
			result.Removed++
			result.Reclaimed += info.Size()
			continue
		}

		if err := os.Remove(filepath.Join(c.cacheMgr.ObjectsDir(), name)); err != nil {
			logger.Warn("Failed to remove orphaned object %s: %v", name, err)
			continue
		}
		logger.Debug("Removed orphaned object %s (%d bytes)", name, info.Size())
		result.Removed++
		result.Reclaimed += info.Size()
	}

	return result, nil
}

// referencedObjects unions the storage filenames of every manifest snapshot
// in the dataset directory. Each concurrent checkout context keeps its own
// snapshot; an object is live if any of them records it.
func (c *Collector) referencedObjects() (map[string]bool, error) {
	referenced := make(map[string]bool)

	des, err := os.ReadDir(filepath.Join(c.cacheMgr.DatasetDir(), "manifest"))
	if os.IsNotExist(err) {
		return referenced, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list manifest snapshots: %w", err)
	}

	for _, de := range des {
		name := de.Name()
		if de.IsDir() || !strings.HasPrefix(name, "manifest-") || !strings.HasSuffix(name, ".json") {
			continue
		}
		contextID := strings.TrimSuffix(strings.TrimPrefix(name, "manifest-"), ".json")

		entries, err := manifest.ReadSnapshot(c.cacheMgr.DatasetDir(), contextID)
		if err != nil {
			return nil, fmt.Errorf("failed to read snapshot for context %s: %w", contextID, err)
		}
		for _, e := range entries {
			if e.StorageFilename != "" {
				referenced[e.StorageFilename] = true
			}
		}
	}

	return referenced, nil
}

// Start launches the background collection loop. Stop shuts it down.
func (c *Collector) Start() {
	go func() {
		defer close(c.doneCh)

		ticker := time.NewTicker(c.config.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-c.stopCh:
				return
			case <-ticker.C:
				result, err := c.Collect(context.Background())
				if err != nil {
					logger.Warn("Garbage collection failed: %v", err)
					continue
				}
				logger.Info("Garbage collection removed %d of %d object(s), reclaimed %d bytes",
					result.Removed, result.Scanned, result.Reclaimed)
			}
		}
	}()
}

// Stop terminates the background loop and waits for it to exit.
func (c *Collector) Stop() {
	close(c.stopCh)
	<-c.doneCh
}
