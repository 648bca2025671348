package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sweepFixtureTree(t *testing.T) *testStore {
	t.Helper()
	ts := newTestStore(t)
	ts.writeFile(t, "readme.md", "r")
	ts.writeFile(t, "data/a.csv", "a")
	ts.writeFile(t, "data/b.csv", "b")
	ts.writeFile(t, "data/nested/c.csv", "c")
	_, err := ts.store.SweepAllChanges()
	require.NoError(t, err)
	return ts
}

func listedKeys(entries []Entry) []string {
	keys := make([]string, len(entries))
	for i, e := range entries {
		keys[i] = e.Key
	}
	return keys
}

func TestListReturnsDeterministicOrder(t *testing.T) {
	ts := sweepFixtureTree(t)

	entries, indexes, err := ts.store.List(0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"data/",
		"data/nested/",
		"data/nested/c.csv",
		"data/a.csv",
		"data/b.csv",
		"readme.md",
	}, listedKeys(entries))
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, indexes)
}

func TestListPaginates(t *testing.T) {
	ts := sweepFixtureTree(t)

	page1, indexes, err := ts.store.List(2, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"data/", "data/nested/"}, listedKeys(page1))
	assert.Equal(t, []int{0, 1}, indexes)

	// Continue from the index after the last returned entry.
	page2, indexes, err := ts.store.List(2, indexes[len(indexes)-1]+1)
	require.NoError(t, err)
	assert.Equal(t, []string{"data/nested/c.csv", "data/a.csv"}, listedKeys(page2))
	assert.Equal(t, []int{2, 3}, indexes)

	// Past the end: empty page, no error.
	page3, _, err := ts.store.List(2, 100)
	require.NoError(t, err)
	assert.Empty(t, page3)
}

func TestGetUntrackedKey(t *testing.T) {
	ts := newTestStore(t)
	_, err := ts.store.Get("nope.txt")
	assert.True(t, IsNotFound(err))
}

func TestGenFileInfoWorksForUntrackedPaths(t *testing.T) {
	ts := sweepFixtureTree(t)
	ts.writeFile(t, "staged.txt", "not yet swept")

	e, err := ts.store.GenFileInfo("staged.txt")
	require.NoError(t, err)
	assert.Equal(t, "staged.txt", e.Key)
	assert.Equal(t, "13", e.Size)
	assert.Len(t, e.Hash, 128)
	assert.Empty(t, e.StorageFilename)

	// Directory keys normalize and use the placeholder size.
	d, err := ts.store.GenFileInfo("data")
	require.NoError(t, err)
	assert.Equal(t, "data/", d.Key)
	assert.Equal(t, DirectorySize, d.Size)

	_, err = ts.store.GenFileInfo("absent.bin")
	assert.True(t, IsNotFound(err))
}
