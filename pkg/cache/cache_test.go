package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(t.TempDir(), "alice/test-dataset")
	require.NoError(t, err)
	return m
}

func TestNewManagerValidatesInputs(t *testing.T) {
	_, err := NewManager("", "alice/ds")
	assert.Error(t, err)

	_, err = NewManager(t.TempDir(), "")
	assert.Error(t, err)
}

func TestStoreObjectLinksBackIntoPlace(t *testing.T) {
	m := newTestManager(t)
	revDir, err := m.RevisionDir("rev1")
	require.NoError(t, err)

	src := filepath.Join(revDir, "file.txt")
	require.NoError(t, os.WriteFile(src, []byte("contents"), 0644))

	require.NoError(t, m.StoreObject(src, "manifest-abc"))

	// The object store holds the bytes and the revision file shares the inode.
	objInfo, err := os.Stat(m.ObjectPath("manifest-abc"))
	require.NoError(t, err)
	srcInfo, err := os.Stat(src)
	require.NoError(t, err)
	assert.True(t, os.SameFile(objInfo, srcInfo))

	data, err := os.ReadFile(src)
	require.NoError(t, err)
	assert.Equal(t, []byte("contents"), data)
}

func TestStoreObjectReusesExistingObject(t *testing.T) {
	m := newTestManager(t)
	revDir, err := m.RevisionDir("rev1")
	require.NoError(t, err)

	first := filepath.Join(revDir, "a.txt")
	require.NoError(t, os.WriteFile(first, []byte("same bytes"), 0644))
	require.NoError(t, m.StoreObject(first, "manifest-shared"))

	// Second file with identical content maps to the same storage filename.
	second := filepath.Join(revDir, "b.txt")
	require.NoError(t, os.WriteFile(second, []byte("same bytes"), 0644))
	require.NoError(t, m.StoreObject(second, "manifest-shared"))

	objInfo, err := os.Stat(m.ObjectPath("manifest-shared"))
	require.NoError(t, err)
	secondInfo, err := os.Stat(second)
	require.NoError(t, err)
	assert.True(t, os.SameFile(objInfo, secondInfo))

	entries, err := os.ReadDir(m.ObjectsDir())
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestLinkRevisionMaterializesTree(t *testing.T) {
	m := newTestManager(t)

	seed, err := m.RevisionDir("seed")
	require.NoError(t, err)
	obj := filepath.Join(seed, "seed.bin")
	require.NoError(t, os.WriteFile(obj, []byte("object bytes"), 0644))
	require.NoError(t, m.StoreObject(obj, "manifest-obj"))

	links := []Link{
		{RelPath: "docs/"},
		{RelPath: "docs/readme.txt", StorageFilename: "manifest-obj"},
		{RelPath: "nested/deep/file.bin", StorageFilename: "manifest-obj"},
		{RelPath: "absent.bin", StorageFilename: "manifest-missing"},
	}
	require.NoError(t, m.LinkRevision("rev2", links))

	revDir, err := m.RevisionDir("rev2")
	require.NoError(t, err)

	info, err := os.Stat(filepath.Join(revDir, "docs"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	data, err := os.ReadFile(filepath.Join(revDir, "docs", "readme.txt"))
	require.NoError(t, err)
	assert.Equal(t, []byte("object bytes"), data)

	// Parent directories come from the link path itself.
	_, err = os.Stat(filepath.Join(revDir, "nested", "deep", "file.bin"))
	assert.NoError(t, err)

	// Objects missing from the local store are skipped, not errors.
	_, err = os.Stat(filepath.Join(revDir, "absent.bin"))
	assert.True(t, os.IsNotExist(err))
}

func TestLinkRevisionLeavesExistingFilesAlone(t *testing.T) {
	m := newTestManager(t)

	seed, err := m.RevisionDir("seed")
	require.NoError(t, err)
	obj := filepath.Join(seed, "seed.bin")
	require.NoError(t, os.WriteFile(obj, []byte("stored"), 0644))
	require.NoError(t, m.StoreObject(obj, "manifest-obj"))

	revDir, err := m.RevisionDir("rev3")
	require.NoError(t, err)
	existing := filepath.Join(revDir, "kept.txt")
	require.NoError(t, os.WriteFile(existing, []byte("local edits"), 0644))

	require.NoError(t, m.LinkRevision("rev3", []Link{
		{RelPath: "kept.txt", StorageFilename: "manifest-obj"},
	}))

	data, err := os.ReadFile(existing)
	require.NoError(t, err)
	assert.Equal(t, []byte("local edits"), data)
}
