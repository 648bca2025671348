package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Move renames a file or an entire directory subtree within the manifest and
// the revision directory, preserving content hashes and storage filenames
// (content is unchanged, so nothing is re-hashed or re-uploaded).
//
// For a directory, every descendant key is rewritten with the new prefix,
// keeping relative suffixes. The returned entries are the new and affected
// rows in sorted order, for the caller to build a UI diff.
//
// Preconditions: src must be tracked and dst must not exist, either in the
// manifest or on disk. Violations raise synchronously; partially applied
// file-system state is not rolled back (the next Status call converges).
//
// One audit record and one commit batch cover the whole operation.
func (s *Store) Move(src, dst string) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}

	if err := validateKey(src); err != nil {
		return nil, err
	}
	if err := validateKey(dst); err != nil {
		return nil, err
	}

	srcEntry, srcIsDir, err := s.resolveKey(src)
	if err != nil {
		return nil, err
	}
	src = srcEntry.Key
	dst = NormalizeDirectoryKey(dst, srcIsDir)

	if _, exists := s.entries[dst]; exists {
		return nil, &StoreError{Code: ErrAlreadyExists, Message: "destination already exists", Key: dst}
	}

	revDir, err := s.cacheMgr.RevisionDir(s.revision)
	if err != nil {
		return nil, err
	}

	srcAbs := filepath.Join(revDir, filepath.FromSlash(strings.TrimSuffix(src, "/")))
	dstAbs := filepath.Join(revDir, filepath.FromSlash(strings.TrimSuffix(dst, "/")))

	if _, err := os.Stat(dstAbs); err == nil {
		return nil, &StoreError{Code: ErrAlreadyExists, Message: "destination already exists on disk", Key: dst}
	}

	if err := os.MkdirAll(filepath.Dir(dstAbs), 0755); err != nil {
		return nil, fmt.Errorf("failed to create destination parent: %w", err)
	}
	if err := os.Rename(srcAbs, dstAbs); err != nil {
		return nil, fmt.Errorf("failed to rename %s to %s: %w", src, dst, err)
	}

	var moved []Entry

	if srcIsDir {
		for key, e := range s.entries {
			if key != src && !descendantOf(key, src) {
				continue
			}
			newKey := dst + strings.TrimPrefix(key, src)
			e.Key = newKey
			delete(s.entries, key)
			s.entries[newKey] = e
			moved = append(moved, e)
		}
	} else {
		e := srcEntry
		e.Key = dst
		delete(s.entries, src)
		s.entries[dst] = e
		moved = append(moved, e)
	}

	if err := s.persist(); err != nil {
		return nil, err
	}

	message := fmt.Sprintf("Moved %s to %s.", src, dst)
	if err := s.commits.BeginBatch("Move started for " + s.dataset); err != nil {
		return nil, err
	}
	rec := ActivityRecord{
		Message:   message,
		Modified:  len(moved),
		Timestamp: time.Now(),
	}
	if err := s.activity.Record(rec); err != nil {
		return nil, err
	}
	if err := s.commits.CommitBatch(message); err != nil {
		return nil, err
	}

	keys := make([]string, len(moved))
	byKey := make(map[string]Entry, len(moved))
	for i, e := range moved {
		keys[i] = e.Key
		byKey[e.Key] = e
	}
	SortKeys(keys)
	sorted := make([]Entry, len(keys))
	for i, k := range keys {
		sorted[i] = byKey[k]
	}

	return sorted, nil
}

// resolveKey finds the tracked entry for key, accepting either a file key or
// a directory key missing its trailing slash.
func (s *Store) resolveKey(key string) (Entry, bool, error) {
	if e, ok := s.entries[key]; ok {
		return e, e.IsDirectory(), nil
	}
	if !strings.HasSuffix(key, "/") {
		if e, ok := s.entries[key+"/"]; ok {
			return e, true, nil
		}
	}
	return Entry{}, false, &StoreError{Code: ErrNotFound, Message: "key not tracked by manifest", Key: key}
}

// validateKey rejects keys that would escape the revision directory.
func validateKey(key string) error {
	if key == "" || key == "/" {
		return &StoreError{Code: ErrInvalidArgument, Message: "key must not be empty"}
	}
	if strings.HasPrefix(key, "/") {
		return &StoreError{Code: ErrInvalidArgument, Message: "key must be relative", Key: key}
	}
	for _, part := range strings.Split(strings.TrimSuffix(key, "/"), "/") {
		if part == ".." || part == "." || part == "" {
			return &StoreError{Code: ErrInvalidArgument, Message: "key contains invalid path component", Key: key}
		}
	}
	return nil
}
