package gc

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manjuta/datasync/pkg/cache"
	"github.com/manjuta/datasync/pkg/manifest"
)

type gcEnv struct {
	cacheMgr *cache.Manager
	store    *manifest.Store
	revDir   string
}

func newGCEnv(t *testing.T) *gcEnv {
	t.Helper()

	cacheMgr, err := cache.NewManager(t.TempDir(), "alice/gc-dataset")
	require.NoError(t, err)

	store, err := manifest.NewStore(manifest.Options{
		Dataset:      "alice/gc-dataset",
		Revision:     "rev1",
		CacheManager: cacheMgr,
	})
	require.NoError(t, err)

	revDir, err := store.CurrentRevisionDir()
	require.NoError(t, err)

	return &gcEnv{cacheMgr: cacheMgr, store: store, revDir: revDir}
}

// age pushes a file's mtime past any grace period.
func age(t *testing.T, path string) {
	t.Helper()
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(path, old, old))
}

func (e *gcEnv) addOrphan(t *testing.T, name, content string) string {
	t.Helper()
	path := e.cacheMgr.ObjectPath(name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestCollectRemovesOrphans(t *testing.T) {
	env := newGCEnv(t)
	require.NoError(t, os.WriteFile(filepath.Join(env.revDir, "kept.txt"), []byte("tracked"), 0644))
	_, err := env.store.SweepAllChanges()
	require.NoError(t, err)

	orphan := env.addOrphan(t, "manifest-orphan", "unreferenced bytes")
	age(t, orphan)

	entry, err := env.store.Get("kept.txt")
	require.NoError(t, err)
	age(t, env.cacheMgr.ObjectPath(entry.StorageFilename))

	collector := NewCollector(env.cacheMgr, Config{})
	result, err := collector.Collect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, result.Scanned)
	assert.Equal(t, 1, result.Removed)
	assert.Equal(t, int64(len("unreferenced bytes")), result.Reclaimed)

	_, err = os.Stat(orphan)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(env.cacheMgr.ObjectPath(entry.StorageFilename))
	assert.NoError(t, err)
}

func TestCollectHonorsGracePeriod(t *testing.T) {
	env := newGCEnv(t)

	// Freshly written and unreferenced: could be a sweep in flight.
	orphan := env.addOrphan(t, "manifest-fresh", "just stored")

	collector := NewCollector(env.cacheMgr, Config{})
	result, err := collector.Collect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, result.Removed)
	_, err = os.Stat(orphan)
	assert.NoError(t, err)
}

func TestCollectDryRun(t *testing.T) {
	env := newGCEnv(t)
	orphan := env.addOrphan(t, "manifest-orphan", "unreferenced")
	age(t, orphan)

	collector := NewCollector(env.cacheMgr, Config{DryRun: true})
	result, err := collector.Collect(context.Background())
	require.NoError(t, err)

	// Counted but not deleted.
	assert.Equal(t, 1, result.Removed)
	_, err = os.Stat(orphan)
	assert.NoError(t, err)
}

func TestCollectWithoutSnapshotsKeepsNothingReferenced(t *testing.T) {
	env := newGCEnv(t)
	orphan := env.addOrphan(t, "manifest-lone", "no snapshot exists")
	age(t, orphan)

	collector := NewCollector(env.cacheMgr, Config{})
	result, err := collector.Collect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Removed)
}

func TestStartStop(t *testing.T) {
	env := newGCEnv(t)

	collector := NewCollector(env.cacheMgr, Config{Interval: 10 * time.Millisecond})
	collector.Start()
	time.Sleep(30 * time.Millisecond)
	collector.Stop()
}
