package manifest

import (
	"os"
	"path/filepath"
	"strconv"
)

// List paginates over the manifest in deterministic key order (see SortKeys).
//
// first bounds the page size; a non-positive value returns everything.
// afterIndex is an inclusive lower-bound index into the sorted order, not a
// content-derived cursor: pass the index after the last one returned to
// continue, and tolerate index drift under concurrent mutation. A negative
// afterIndex starts from the beginning.
//
// The returned index slice parallels the entries and carries each entry's
// position in the sorted order, for use as continuation cursors.
func (s *Store) List(first, afterIndex int) ([]Entry, []int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(); err != nil {
		return nil, nil, err
	}

	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	SortKeys(keys)

	start := 0
	if afterIndex > 0 {
		start = afterIndex
	}
	if start > len(keys) {
		start = len(keys)
	}

	end := len(keys)
	if first > 0 && start+first < end {
		end = start + first
	}

	entries := make([]Entry, 0, end-start)
	indexes := make([]int, 0, end-start)
	for i := start; i < end; i++ {
		entries = append(entries, s.entries[keys[i]])
		indexes = append(indexes, i)
	}

	return entries, indexes, nil
}

// Get returns the entry tracked under key.
func (s *Store) Get(key string) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(); err != nil {
		return Entry{}, err
	}

	entry, ok := s.entries[key]
	if !ok {
		return Entry{}, &StoreError{Code: ErrNotFound, Message: "key not tracked by manifest", Key: key}
	}
	return entry, nil
}

// GenFileInfo derives an entry-shaped record live from disk for any path in
// the revision directory, tracked or not. Used before the first Update, when
// the API needs file details for freshly staged paths.
//
// The storage filename is filled in only when the key is already tracked;
// the hash is always recomputed from disk.
func (s *Store) GenFileInfo(key string) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(); err != nil {
		return Entry{}, err
	}

	revDir, err := s.cacheMgr.RevisionDir(s.revision)
	if err != nil {
		return Entry{}, err
	}

	abs := filepath.Join(revDir, filepath.FromSlash(key))
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return Entry{}, &StoreError{Code: ErrNotFound, Message: "path not present in revision directory", Key: key}
		}
		return Entry{}, err
	}

	key = NormalizeDirectoryKey(key, info.IsDir())
	entry := Entry{Key: key, ModifiedAt: info.ModTime()}

	if info.IsDir() {
		entry.Size = DirectorySize
	} else {
		entry.Size = strconv.FormatInt(info.Size(), 10)
		hash, err := HashFile(abs)
		if err != nil {
			return Entry{}, err
		}
		entry.Hash = hash
	}

	if tracked, ok := s.entries[key]; ok {
		entry.StorageFilename = tracked.StorageFilename
	}

	return entry, nil
}
