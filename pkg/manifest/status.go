package manifest

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// StatusResult is the three-way classification produced by diffing the live
// revision directory against the manifest. It is ephemeral: never persisted,
// consumed immediately by Update.
//
// Renames are not detected here: a rename surfaces as a deletion at the old
// path and creations at the new one. Move is the only primitive that renames
// without re-upload.
type StatusResult struct {
	// Created lists paths present on disk but not in the manifest
	Created []string

	// Modified lists tracked paths whose content changed on disk
	Modified []string

	// Deleted lists tracked paths absent from disk
	Deleted []string

	// NotLocal lists tracked paths absent from disk whose objects have not
	// been pulled into the local object store. These are not deletions: the
	// key is still correctly tracked, the bytes just aren't here.
	NotLocal []string
}

// IsClean reports whether the result carries no reconcilable change.
// NotLocal paths do not count: they are resolved by pulling, not by Update.
func (r *StatusResult) IsClean() bool {
	return len(r.Created) == 0 && len(r.Modified) == 0 && len(r.Deleted) == 0
}

// diskRecord is the candidate entry shape computed for every path found on
// disk. The hash is deferred until the size+mtime heuristics require it.
type diskRecord struct {
	size    int64
	modTime time.Time
	isDir   bool
}

// Status computes created/modified/deleted by walking the current revision
// directory and comparing against the manifest.
//
// Classification per path:
//   - on disk, not tracked: created
//   - tracked, not on disk: deleted (or NotLocal when the object was never
//     pulled locally)
//   - both: size mismatch marks it modified without hashing; a size match
//     with an mtime mismatch re-hashes the content, and only a hash mismatch
//     marks it modified (mtime alone is not trusted, checkouts touch files)
//
// Directories are first-class keys with a trailing slash, so empty-directory
// creation and deletion are observable. A path that changed type (file to
// directory or back) changes key shape and therefore surfaces as
// delete+create, never as modify.
func (s *Store) Status() (*StatusResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

// statusLocked is Status without locking, for callers already holding s.mu.
func (s *Store) statusLocked() (*StatusResult, error) {
	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}

	revDir, err := s.cacheMgr.RevisionDir(s.revision)
	if err != nil {
		return nil, err
	}

	disk, err := walkRevisionDir(revDir)
	if err != nil {
		return nil, err
	}

	result := &StatusResult{}

	for key, rec := range disk {
		entry, tracked := s.entries[key]
		if !tracked {
			result.Created = append(result.Created, key)
			continue
		}
		if rec.isDir {
			// Directory entries carry no content; presence is enough.
			continue
		}

		if strconv.FormatInt(rec.size, 10) != entry.Size {
			result.Modified = append(result.Modified, key)
			continue
		}
		if rec.modTime.Equal(entry.ModifiedAt) {
			continue
		}

		// Same size, different mtime: the hash is the authoritative
		// tie-breaker.
		hash, err := HashFile(filepath.Join(revDir, filepath.FromSlash(key)))
		if err != nil {
			return nil, err
		}
		if hash != entry.Hash {
			result.Modified = append(result.Modified, key)
		}
	}

	for key, entry := range s.entries {
		if _, onDisk := disk[key]; onDisk {
			continue
		}
		if entry.IsDirectory() {
			result.Deleted = append(result.Deleted, key)
			continue
		}
		if _, err := os.Stat(s.cacheMgr.ObjectPath(entry.StorageFilename)); os.IsNotExist(err) {
			result.NotLocal = append(result.NotLocal, key)
			continue
		}
		result.Deleted = append(result.Deleted, key)
	}

	SortKeys(result.Created)
	SortKeys(result.Modified)
	SortKeys(result.Deleted)
	SortKeys(result.NotLocal)

	return result, nil
}

// walkRevisionDir walks the live file tree and returns a candidate record
// per path, keyed the way the manifest keys paths (POSIX separators,
// trailing slash on directories).
func walkRevisionDir(revDir string) (map[string]diskRecord, error) {
	disk := make(map[string]diskRecord)

	err := filepath.WalkDir(revDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == revDir {
			return nil
		}

		rel, err := filepath.Rel(revDir, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)

		info, err := d.Info()
		if err != nil {
			// Vanished mid-walk: treat as absent and let the next status
			// call converge.
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}

		if d.IsDir() {
			disk[key+"/"] = diskRecord{isDir: true, modTime: info.ModTime()}
			return nil
		}

		disk[key] = diskRecord{size: info.Size(), modTime: info.ModTime()}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk revision directory: %w", err)
	}

	return disk, nil
}
