package manifest

import (
	"fmt"
	"sync"

	"github.com/manjuta/datasync/internal/logger"
	"github.com/manjuta/datasync/pkg/cache"
)

// Store owns the manifest for one dataset checkout: the key -> Entry mapping
// for the dataset's current revision, loaded lazily from the shared cache
// with a snapshot-file fallback and persisted after every mutating operation.
//
// Lifecycle: a Store starts unloaded; the first access loads it (shared cache
// hit, or snapshot scan on a miss). Mutating operations (Update,
// SweepAllChanges, Delete, Move, CreateDirectory) persist before returning.
// ForceReload evicts the shared cache entry and re-derives state purely from
// the snapshot files, recovering from external mutation by another process.
//
// Thread Safety:
// A Store is safe for concurrent use within one process. It is NOT safe for
// uncoordinated mutation across processes: callers must hold the dataset
// lock (pkg/lock) around any Status+Update sequence or mutating operation.
type Store struct {
	dataset   string
	revision  string
	contextID string

	cacheMgr *cache.Manager
	shared   Cache
	activity ActivitySink
	commits  CommitLog

	mu      sync.Mutex
	entries map[string]Entry
	loaded  bool
}

// Options configures a Store.
type Options struct {
	// Dataset is the dataset identity, e.g. "alice/climate-data"
	Dataset string

	// Revision is the dataset revision the manifest reflects
	Revision string

	// CacheManager owns the dataset's object store and revision directories
	CacheManager *cache.Manager

	// SharedCache is the fast-path manifest cache; nil disables caching
	SharedCache Cache

	// Activity receives one audit record per logical operation; nil discards
	Activity ActivitySink

	// Commits batches version-log entries for mutating operations; nil discards
	Commits CommitLog
}

// NewStore creates a Store for the given dataset checkout. The checkout
// context id is resolved (allocating one if needed) from the marker file in
// the dataset's cache directory; the manifest itself is loaded lazily on
// first access.
func NewStore(opts Options) (*Store, error) {
	if opts.Dataset == "" {
		return nil, fmt.Errorf("dataset identity is required")
	}
	if opts.Revision == "" {
		return nil, fmt.Errorf("dataset revision is required")
	}
	if opts.CacheManager == nil {
		return nil, fmt.Errorf("cache manager is required")
	}

	contextID, err := ResolveCheckoutContext(opts.CacheManager.DatasetDir())
	if err != nil {
		return nil, err
	}

	s := &Store{
		dataset:   opts.Dataset,
		revision:  opts.Revision,
		contextID: contextID,
		cacheMgr:  opts.CacheManager,
		shared:    opts.SharedCache,
		activity:  opts.Activity,
		commits:   opts.Commits,
	}
	if s.activity == nil {
		s.activity = NopActivitySink{}
	}
	if s.commits == nil {
		s.commits = NopCommitLog{}
	}

	return s, nil
}

// Dataset returns the dataset identity the store tracks.
func (s *Store) Dataset() string { return s.dataset }

// Revision returns the dataset revision the manifest reflects.
func (s *Store) Revision() string { return s.revision }

// CheckoutContext returns the checkout context id for this working copy.
func (s *Store) CheckoutContext() string { return s.contextID }

// CacheManager returns the content-addressed cache manager.
func (s *Store) CacheManager() *cache.Manager { return s.cacheMgr }

// CurrentRevisionDir returns (creating if necessary) the live file tree for
// the manifest's current revision.
func (s *Store) CurrentRevisionDir() (string, error) {
	return s.cacheMgr.RevisionDir(s.revision)
}

// ensureLoaded loads the manifest on first access: shared cache hit first,
// snapshot scan on a miss. Callers must hold s.mu.
func (s *Store) ensureLoaded() error {
	if s.loaded {
		return nil
	}

	if s.shared != nil {
		entries, ok, err := s.shared.Get(s.dataset, s.contextID)
		if err != nil {
			logger.Warn("manifest cache read failed for %s, falling back to snapshot: %v", s.dataset, err)
		} else if ok {
			s.entries = entries
			s.loaded = true
			return nil
		}
	}

	entries, err := ReadSnapshot(s.cacheMgr.DatasetDir(), s.contextID)
	if err != nil {
		return err
	}

	s.entries = entries
	s.loaded = true

	if s.shared != nil {
		if err := s.shared.Put(s.dataset, s.contextID, s.entries); err != nil {
			logger.Warn("manifest cache write failed for %s: %v", s.dataset, err)
		}
	}

	return nil
}

// persist writes the snapshot file and refreshes the shared cache entry.
// Callers must hold s.mu.
func (s *Store) persist() error {
	if err := WriteSnapshot(s.cacheMgr.DatasetDir(), s.contextID, s.entries); err != nil {
		return err
	}

	if s.shared != nil {
		if err := s.shared.Put(s.dataset, s.contextID, s.entries); err != nil {
			// The snapshot is the source of truth; a stale cache entry only
			// costs the next loader a fallback read.
			logger.Warn("manifest cache refresh failed for %s: %v", s.dataset, err)
		}
	}

	return nil
}

// ForceReload evicts the shared cache entry for this checkout context and
// re-derives the manifest purely from the persisted snapshot files. Use after
// another process has mutated the snapshot files (e.g. completed an upload
// transaction).
func (s *Store) ForceReload() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.shared != nil {
		if err := s.shared.Evict(s.dataset, s.contextID); err != nil {
			return fmt.Errorf("failed to evict manifest cache entry: %w", err)
		}
	}

	s.entries = nil
	s.loaded = false
	return s.ensureLoaded()
}

// Len returns the number of tracked keys.
func (s *Store) Len() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(); err != nil {
		return 0, err
	}
	return len(s.entries), nil
}

// Entries returns a copy of the full key -> Entry mapping.
func (s *Store) Entries() (map[string]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}

	out := make(map[string]Entry, len(s.entries))
	for k, v := range s.entries {
		out[k] = v
	}
	return out, nil
}

// LinkRevision materializes the current revision directory from the local
// object store according to the manifest: directories are created and file
// objects hard-linked into place. Objects not present locally are skipped.
func (s *Store) LinkRevision() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(); err != nil {
		return err
	}

	links := make([]cache.Link, 0, len(s.entries))
	for _, e := range s.entries {
		links = append(links, cache.Link{
			RelPath:         e.Key,
			StorageFilename: e.StorageFilename,
		})
	}

	return s.cacheMgr.LinkRevision(s.revision, links)
}
