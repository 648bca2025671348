// Package manifest implements the persistent, content-addressed manifest for
// one dataset checkout: an ordered mapping from relative file keys to content
// metadata (size, hash, storage filename, modification time), together with
// the diff engine that reconciles the manifest against the live revision
// directory and the manifest-consistent move/delete/mkdir operations.
package manifest

import (
	"sort"
	"strings"
	"time"
)

// DirectorySize is the sentinel size recorded for directory entries.
// Directories have no content of their own; the value mirrors the typical
// on-disk size of an empty directory inode.
const DirectorySize = "4096"

// Entry is one row of the manifest: the tracked state of a single relative
// path within the dataset.
//
// Keys use POSIX-style separators and are relative to the revision directory
// root. Directory keys carry a trailing slash ("pics/raw/"); file keys do not.
//
// Size is string-encoded for wire compatibility with the snapshot format.
// Directories use DirectorySize and have an empty Hash.
//
// StorageFilename identifies the durable object-store location of the file's
// bytes ("manifest-<uuid>"). Entries with byte-identical content share the
// same StorageFilename (content addressing); directory entries have none.
type Entry struct {
	// Key is the relative POSIX path; directories end with "/"
	Key string

	// Size is the byte count, string-encoded; DirectorySize for directories
	Size string

	// Hash is the hex BLAKE2b-512 digest of the content; empty for directories
	Hash string

	// StorageFilename is the object-store identifier; empty for directories
	StorageFilename string

	// ModifiedAt is the last observed modification time
	ModifiedAt time.Time
}

// IsDirectory reports whether the entry tracks a directory key.
func (e Entry) IsDirectory() bool {
	return strings.HasSuffix(e.Key, "/")
}

// NormalizeDirectoryKey appends the trailing slash directory keys carry.
// File keys pass through unchanged.
func NormalizeDirectoryKey(key string, isDir bool) string {
	if isDir && !strings.HasSuffix(key, "/") {
		return key + "/"
	}
	return key
}

// SortKeys orders manifest keys deterministically: component-wise path order
// with directories sorting before files that share the same parent. This is
// the ordering contract for List pagination.
func SortKeys(keys []string) {
	sort.Slice(keys, func(i, j int) bool {
		return pathLess(keys[i], keys[j])
	})
}

// pathLess implements the deterministic key ordering.
//
// Both keys are split into components. At the first differing component a
// directory component (one with further components below it, or a directory
// key itself) sorts before a file component; otherwise the components compare
// lexically. A strict prefix (the parent directory) sorts first.
func pathLess(a, b string) bool {
	aParts := strings.Split(strings.TrimSuffix(a, "/"), "/")
	bParts := strings.Split(strings.TrimSuffix(b, "/"), "/")
	aDir := strings.HasSuffix(a, "/")
	bDir := strings.HasSuffix(b, "/")

	n := len(aParts)
	if len(bParts) < n {
		n = len(bParts)
	}

	for i := 0; i < n; i++ {
		if aParts[i] == bParts[i] {
			continue
		}
		aIsDir := i < len(aParts)-1 || aDir
		bIsDir := i < len(bParts)-1 || bDir
		if aIsDir != bIsDir {
			return aIsDir
		}
		return aParts[i] < bParts[i]
	}

	// Identical up to the shorter key: the parent (shorter) sorts first.
	return len(aParts) < len(bParts)
}

// descendantOf reports whether key lives under the directory key dir
// (dir must carry its trailing slash). A directory is not its own descendant.
func descendantOf(key, dir string) bool {
	return key != dir && strings.HasPrefix(key, dir)
}
