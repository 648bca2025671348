package manifest

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusClassifiesCreatedPaths(t *testing.T) {
	ts := newTestStore(t)
	ts.writeFile(t, "new.txt", "fresh")
	require.NoError(t, os.Mkdir(filepath.Join(ts.revDir, "untracked"), 0755))

	status, err := ts.store.Status()
	require.NoError(t, err)
	assert.Equal(t, []string{"untracked/", "new.txt"}, status.Created)
	assert.Empty(t, status.Modified)
	assert.Empty(t, status.Deleted)
}

func TestStatusSizeChangeIsModified(t *testing.T) {
	ts := newTestStore(t)
	ts.writeFile(t, "a.txt", "short")
	_, err := ts.store.SweepAllChanges()
	require.NoError(t, err)

	ts.writeFile(t, "a.txt", "much longer content")

	status, err := ts.store.Status()
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt"}, status.Modified)
}

func TestStatusHashBreaksMtimeTie(t *testing.T) {
	ts := newTestStore(t)
	ts.writeFile(t, "a.txt", "12345")
	_, err := ts.store.SweepAllChanges()
	require.NoError(t, err)

	abs := filepath.Join(ts.revDir, "a.txt")
	later := time.Now().Add(2 * time.Hour)

	// Same size, same bytes, newer mtime: hash tie-break keeps it clean.
	require.NoError(t, os.Chtimes(abs, later, later))
	status, err := ts.store.Status()
	require.NoError(t, err)
	assert.True(t, status.IsClean())

	// Same size, different bytes: only the hash can tell.
	ts.writeFile(t, "a.txt", "54321")
	require.NoError(t, os.Chtimes(abs, later, later))
	status, err = ts.store.Status()
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt"}, status.Modified)
}

func TestStatusDeletedVersusNotLocal(t *testing.T) {
	ts := newTestStore(t)
	ts.writeFile(t, "kept-object.txt", "object stays")
	ts.writeFile(t, "gone-object.txt", "object leaves")
	_, err := ts.store.SweepAllChanges()
	require.NoError(t, err)

	e, err := ts.store.Get("gone-object.txt")
	require.NoError(t, err)

	// Both revision files removed; one object also gone from the local store.
	require.NoError(t, os.Remove(filepath.Join(ts.revDir, "kept-object.txt")))
	require.NoError(t, os.Remove(filepath.Join(ts.revDir, "gone-object.txt")))
	require.NoError(t, os.Remove(ts.cacheMgr.ObjectPath(e.StorageFilename)))

	status, err := ts.store.Status()
	require.NoError(t, err)
	assert.Equal(t, []string{"kept-object.txt"}, status.Deleted)
	assert.Equal(t, []string{"gone-object.txt"}, status.NotLocal)

	// Not-local keys are informational: they never make a checkout dirty and
	// Update must not drop them.
	assert.False(t, status.IsClean())
	require.NoError(t, ts.store.Update(status))
	_, err = ts.store.Get("gone-object.txt")
	assert.NoError(t, err)
	_, err = ts.store.Get("kept-object.txt")
	assert.True(t, IsNotFound(err))
}

func TestStatusTypeChangeIsDeletePlusCreate(t *testing.T) {
	ts := newTestStore(t)
	ts.writeFile(t, "thing", "i am a file")
	_, err := ts.store.SweepAllChanges()
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(ts.revDir, "thing")))
	require.NoError(t, os.Mkdir(filepath.Join(ts.revDir, "thing"), 0755))

	status, err := ts.store.Status()
	require.NoError(t, err)
	assert.Equal(t, []string{"thing/"}, status.Created)
	assert.Equal(t, []string{"thing"}, status.Deleted)
	assert.Empty(t, status.Modified)
}

func TestStatusEmptyDirectoryDeletion(t *testing.T) {
	ts := newTestStore(t)
	require.NoError(t, os.Mkdir(filepath.Join(ts.revDir, "empty"), 0755))
	_, err := ts.store.SweepAllChanges()
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(ts.revDir, "empty")))

	status, err := ts.store.Status()
	require.NoError(t, err)
	assert.Equal(t, []string{"empty/"}, status.Deleted)
}
