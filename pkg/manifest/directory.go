package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// CreateDirectory adds an empty directory placeholder entry and creates the
// directory in the revision tree.
//
// Preconditions: the key must not already be tracked, and every ancestor
// directory must already exist in the manifest. There is no implicit
// recursive creation; callers build trees top-down.
//
// One audit record and one commit batch cover the operation.
func (s *Store) CreateDirectory(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(); err != nil {
		return err
	}
	if err := validateKey(key); err != nil {
		return err
	}
	key = NormalizeDirectoryKey(key, true)

	if _, exists := s.entries[key]; exists {
		return &StoreError{Code: ErrAlreadyExists, Message: "directory already tracked", Key: key}
	}
	if _, exists := s.entries[strings.TrimSuffix(key, "/")]; exists {
		return &StoreError{Code: ErrAlreadyExists, Message: "a file already exists at this key", Key: key}
	}

	// Every ancestor must be tracked; no implicit recursive creation.
	parts := strings.Split(strings.TrimSuffix(key, "/"), "/")
	for i := 1; i < len(parts); i++ {
		ancestor := strings.Join(parts[:i], "/") + "/"
		if _, ok := s.entries[ancestor]; !ok {
			return &StoreError{
				Code:    ErrPreconditionFailed,
				Message: "ancestor directory not tracked by manifest",
				Key:     ancestor,
			}
		}
	}

	revDir, err := s.cacheMgr.RevisionDir(s.revision)
	if err != nil {
		return err
	}

	abs := filepath.Join(revDir, filepath.FromSlash(strings.TrimSuffix(key, "/")))
	if err := os.Mkdir(abs, 0755); err != nil && !os.IsExist(err) {
		return fmt.Errorf("failed to create directory %s: %w", key, err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return err
	}

	s.entries[key] = Entry{
		Key:        key,
		Size:       DirectorySize,
		ModifiedAt: info.ModTime(),
	}

	if err := s.persist(); err != nil {
		return err
	}

	message := fmt.Sprintf("Created directory %s.", key)
	if err := s.commits.BeginBatch("Create directory started for " + s.dataset); err != nil {
		return err
	}
	rec := ActivityRecord{
		Message:   message,
		Created:   1,
		Timestamp: time.Now(),
	}
	if err := s.activity.Record(rec); err != nil {
		return err
	}
	return s.commits.CommitBatch(message)
}
