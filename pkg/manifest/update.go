package manifest

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/manjuta/datasync/internal/logger"
)

// Update persists a status result into the manifest: created and modified
// files are moved into the content-addressed object store (reusing the
// storage filename of byte-identical content already tracked), directories
// become placeholder rows, and deleted paths drop their rows.
//
// Passing a nil status computes one first.
//
// Update is atomic only with respect to a single process. Partial application
// on a crash is acceptable: the next Status call re-diffs and converges.
func (s *Store) Update(status *StatusResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(); err != nil {
		return err
	}
	if status == nil {
		var err error
		status, err = s.statusLocked()
		if err != nil {
			return err
		}
	}

	return s.updateLocked(status)
}

// updateLocked applies status to the manifest and persists. Callers must
// hold s.mu with the manifest loaded.
func (s *Store) updateLocked(status *StatusResult) error {
	revDir, err := s.cacheMgr.RevisionDir(s.revision)
	if err != nil {
		return err
	}

	// Storage filenames are reused whenever the content hash is already
	// tracked anywhere in the manifest, deduplicating object storage.
	hashToFn := make(map[string]string, len(s.entries))
	for _, e := range s.entries {
		if e.Hash != "" {
			hashToFn[e.Hash] = e.StorageFilename
		}
	}

	changed := make([]string, 0, len(status.Created)+len(status.Modified))
	changed = append(changed, status.Created...)
	changed = append(changed, status.Modified...)

	for _, key := range changed {
		abs := filepath.Join(revDir, filepath.FromSlash(key))

		if strings.HasSuffix(key, "/") {
			info, err := os.Stat(abs)
			if err != nil {
				if os.IsNotExist(err) {
					logger.Warn("directory %s vanished before update, skipping", key)
					continue
				}
				return err
			}
			s.entries[key] = Entry{
				Key:        key,
				Size:       DirectorySize,
				ModifiedAt: info.ModTime(),
			}
			continue
		}

		hash, err := HashFile(abs)
		if err != nil {
			if se, ok := err.(*StoreError); ok && se.Code == ErrIntegrityError {
				logger.Warn("file %s vanished before update, skipping", key)
				continue
			}
			return err
		}

		fn, ok := hashToFn[hash]
		if !ok {
			fn = "manifest-" + uuid.New().String()
			hashToFn[hash] = fn
		}

		if err := s.cacheMgr.StoreObject(abs, fn); err != nil {
			return err
		}

		// Stat after the store: the revision file now shares the object's
		// inode, so its mtime is the one future diffs will observe.
		info, err := os.Stat(abs)
		if err != nil {
			return err
		}

		s.entries[key] = Entry{
			Key:             key,
			Size:            strconv.FormatInt(info.Size(), 10),
			Hash:            hash,
			StorageFilename: fn,
			ModifiedAt:      info.ModTime(),
		}
	}

	for _, key := range status.Deleted {
		delete(s.entries, key)
	}

	return s.persist()
}

// SweepAllChanges reconciles on-disk state into the manifest in one step:
// Status followed by Update, with exactly one audit record summarizing the
// created/modified/deleted counts and a two-entry commit batch in the
// version log.
//
// When status reports no changes the sweep is a no-op: no activity record,
// no commits. Idempotent calls must not spam the logs.
//
// The returned record is nil for a clean sweep.
func (s *Store) SweepAllChanges() (*ActivityRecord, error) {
	return s.SweepChanges(nil)
}

// SweepChanges is SweepAllChanges over a caller-supplied status, for callers
// that already diffed the checkout and must act on exactly that view instead
// of paying for (and racing against) a second walk. A nil status computes one.
func (s *Store) SweepChanges(status *StatusResult) (*ActivityRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}

	if status == nil {
		var err error
		status, err = s.statusLocked()
		if err != nil {
			return nil, err
		}
	}
	if status.IsClean() {
		return nil, nil
	}

	message := ChangeSummary(len(status.Created), len(status.Modified), len(status.Deleted))

	if err := s.commits.BeginBatch("Sweep started for " + s.dataset); err != nil {
		return nil, err
	}
	if err := s.updateLocked(status); err != nil {
		return nil, err
	}

	rec := ActivityRecord{
		Message:   message,
		Created:   len(status.Created),
		Modified:  len(status.Modified),
		Deleted:   len(status.Deleted),
		Timestamp: time.Now(),
	}
	if err := s.activity.Record(rec); err != nil {
		return nil, err
	}
	if err := s.commits.CommitBatch(message); err != nil {
		return nil, err
	}

	return &rec, nil
}
