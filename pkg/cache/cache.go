// Package cache implements the content-addressed local cache for one dataset:
// a durable object store keyed by storage filename plus one materialized
// directory tree per dataset revision, populated by hard-linking objects into
// place (falling back to copies across filesystems).
package cache

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/manjuta/datasync/internal/logger"
)

// Manager maps a (dataset, revision) pair to a directory of live files and
// owns the dataset's content-addressed object store.
//
// Layout under the cache root:
//
//	<root>/<dataset>/objects/<storage_filename>
//	<root>/<dataset>/revisions/<revision>/...
//
// Manager performs no locking of its own. Callers coordinating multiple
// processes on the same checkout context must hold the dataset lock around
// sequences that mutate the revision directory.
type Manager struct {
	root    string
	dataset string
}

// Link describes one manifest entry to materialize into a revision directory.
type Link struct {
	// RelPath is the path relative to the revision root; directories end with "/"
	RelPath string

	// StorageFilename locates the object in the object store; empty for directories
	StorageFilename string
}

// NewManager creates a cache manager rooted at root for the given dataset
// identity (e.g. "owner/dataset-name").
func NewManager(root, dataset string) (*Manager, error) {
	if root == "" {
		return nil, fmt.Errorf("cache root is required")
	}
	if dataset == "" {
		return nil, fmt.Errorf("dataset identity is required")
	}

	m := &Manager{root: root, dataset: dataset}
	if err := os.MkdirAll(m.ObjectsDir(), 0755); err != nil {
		return nil, fmt.Errorf("failed to create object store directory: %w", err)
	}

	return m, nil
}

// DatasetDir returns the per-dataset directory under the cache root.
func (m *Manager) DatasetDir() string {
	return filepath.Join(m.root, filepath.FromSlash(m.dataset))
}

// ObjectsDir returns the object store directory for the dataset.
func (m *Manager) ObjectsDir() string {
	return filepath.Join(m.DatasetDir(), "objects")
}

// ObjectPath returns the object store location for a storage filename.
func (m *Manager) ObjectPath(storageFilename string) string {
	return filepath.Join(m.ObjectsDir(), storageFilename)
}

// RevisionDir returns (creating if necessary) the directory holding the live
// file tree for the given revision. The operation is idempotent; concurrent
// callers on the same checkout context are expected to hold the dataset lock.
func (m *Manager) RevisionDir(revision string) (string, error) {
	if revision == "" {
		return "", fmt.Errorf("revision is required")
	}

	dir := filepath.Join(m.DatasetDir(), "revisions", revision)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create revision directory %s: %w", dir, err)
	}

	return dir, nil
}

// StoreObject moves the file at srcPath into the object store under
// storageFilename and hard-links it back into place, leaving the revision
// directory and the object store sharing one inode.
//
// If the object already exists (deduplicated content), the source file is
// replaced by a link to the existing object instead.
func (m *Manager) StoreObject(srcPath, storageFilename string) error {
	objPath := m.ObjectPath(storageFilename)

	if _, err := os.Stat(objPath); err == nil {
		// Object already present: re-point the source at it.
		if err := os.Remove(srcPath); err != nil {
			return fmt.Errorf("failed to replace %s with existing object: %w", srcPath, err)
		}
		return linkOrCopy(objPath, srcPath)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to stat object %s: %w", objPath, err)
	}

	if err := rename(srcPath, objPath); err != nil {
		return err
	}

	return linkOrCopy(objPath, srcPath)
}

// LinkRevision materializes the revision directory from the object store
// according to the given links. Objects missing locally are skipped: the key
// stays tracked in the manifest and the status engine classifies the file as
// not local rather than deleted.
func (m *Manager) LinkRevision(revision string, links []Link) error {
	revDir, err := m.RevisionDir(revision)
	if err != nil {
		return err
	}

	for _, l := range links {
		target := filepath.Join(revDir, filepath.FromSlash(strings.TrimSuffix(l.RelPath, "/")))

		if strings.HasSuffix(l.RelPath, "/") {
			if err := os.MkdirAll(target, 0755); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", l.RelPath, err)
			}
			continue
		}

		if _, err := os.Stat(target); err == nil {
			continue
		}

		objPath := m.ObjectPath(l.StorageFilename)
		if _, err := os.Stat(objPath); os.IsNotExist(err) {
			logger.Debug("object %s for %s not present locally, skipping link", l.StorageFilename, l.RelPath)
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return fmt.Errorf("failed to create parent directory for %s: %w", l.RelPath, err)
		}
		if err := linkOrCopy(objPath, target); err != nil {
			return fmt.Errorf("failed to link %s: %w", l.RelPath, err)
		}
	}

	return nil
}

// rename moves src to dst, falling back to copy+remove across filesystems.
func rename(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if err := copyFile(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}

// linkOrCopy hard-links src to dst, falling back to a copy when the link
// fails (cross-device, or a filesystem without hard-link support).
func linkOrCopy(src, dst string) error {
	if err := os.Link(src, dst); err == nil {
		return nil
	}
	return copyFile(src, dst)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy %s to %s: %w", src, dst, err)
	}

	return out.Close()
}
