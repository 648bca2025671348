package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Delete removes manifest rows and the underlying files or directories for
// the given keys. Directory keys recursively remove every contained entry.
//
// All keys are validated up front: any untracked key raises before anything
// is touched. Application itself is best-effort per key; an error mid-batch
// leaves earlier removals in place, and the next Status call converges.
//
// One audit record and one commit batch cover the whole call, however many
// rows it removes.
func (s *Store) Delete(keys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return &StoreError{Code: ErrInvalidArgument, Message: "no keys given to delete"}
	}

	// Precondition pass: every key must resolve before any removal starts.
	resolved := make([]string, 0, len(keys))
	for _, key := range keys {
		if err := validateKey(key); err != nil {
			return err
		}
		entry, _, err := s.resolveKey(key)
		if err != nil {
			return err
		}
		resolved = append(resolved, entry.Key)
	}

	revDir, err := s.cacheMgr.RevisionDir(s.revision)
	if err != nil {
		return err
	}

	removed := 0
	for _, key := range resolved {
		abs := filepath.Join(revDir, filepath.FromSlash(strings.TrimSuffix(key, "/")))

		if strings.HasSuffix(key, "/") {
			if err := os.RemoveAll(abs); err != nil {
				return fmt.Errorf("failed to remove directory %s: %w", key, err)
			}
			for k := range s.entries {
				if k == key || descendantOf(k, key) {
					delete(s.entries, k)
					removed++
				}
			}
			continue
		}

		if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove file %s: %w", key, err)
		}
		delete(s.entries, key)
		removed++
	}

	if err := s.persist(); err != nil {
		return err
	}

	message := fmt.Sprintf("Deleted %d file(s).", removed)
	if err := s.commits.BeginBatch("Delete started for " + s.dataset); err != nil {
		return err
	}
	rec := ActivityRecord{
		Message:   message,
		Deleted:   removed,
		Timestamp: time.Now(),
	}
	if err := s.activity.Record(rec); err != nil {
		return err
	}
	return s.commits.CommitBatch(message)
}
