package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Snapshot persistence
// ====================
//
// The manifest is serialized to a JSON snapshot file named after the checkout
// context id: manifest/manifest-<context>.json. Multiple snapshot files may
// coexist under one dataset (one per concurrent working copy); readers resolve
// the context-matching file first and fall back to the newest snapshot by
// modification time, so a fresh checkout context starts from the most
// authoritative durable state.
//
// The wire schema maps each key to {b: size, h: hash, fn: storage filename,
// mt: RFC3339 timestamp}.

// snapshotDirName is the subdirectory of the dataset directory holding
// manifest snapshot files.
const snapshotDirName = "manifest"

// snapshotEntry is the persisted form of one manifest row.
type snapshotEntry struct {
	Size            string `json:"b"`
	Hash            string `json:"h,omitempty"`
	StorageFilename string `json:"fn,omitempty"`
	ModifiedAt      string `json:"mt"`
}

// snapshotPath returns the snapshot file path for a checkout context.
func snapshotPath(datasetDir, contextID string) string {
	return filepath.Join(datasetDir, snapshotDirName, "manifest-"+contextID+".json")
}

// WriteSnapshot persists the manifest entries for one checkout context.
// The write is atomic: a temporary file is renamed into place.
func WriteSnapshot(datasetDir, contextID string, entries map[string]Entry) error {
	dir := filepath.Join(datasetDir, snapshotDirName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create manifest directory: %w", err)
	}

	wire := make(map[string]snapshotEntry, len(entries))
	for key, e := range entries {
		wire[key] = snapshotEntry{
			Size:            e.Size,
			Hash:            e.Hash,
			StorageFilename: e.StorageFilename,
			ModifiedAt:      e.ModifiedAt.UTC().Format(time.RFC3339Nano),
		}
	}

	data, err := json.Marshal(wire)
	if err != nil {
		return fmt.Errorf("failed to encode manifest snapshot: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".manifest-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create snapshot temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close snapshot temp file: %w", err)
	}

	if err := os.Rename(tmpName, snapshotPath(datasetDir, contextID)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to finalize snapshot: %w", err)
	}

	return nil
}

// ReadSnapshot loads manifest entries for a checkout context.
//
// Resolution order:
//  1. the context-matching snapshot file, if present
//  2. the newest snapshot by modification time (another context's durable
//     state is the best available source of truth for a fresh context)
//  3. no snapshot at all: an empty manifest
func ReadSnapshot(datasetDir, contextID string) (map[string]Entry, error) {
	path := snapshotPath(datasetDir, contextID)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		newest, err := newestSnapshot(filepath.Join(datasetDir, snapshotDirName))
		if err != nil {
			return nil, err
		}
		if newest == "" {
			return make(map[string]Entry), nil
		}
		path = newest
	} else if err != nil {
		return nil, fmt.Errorf("failed to stat snapshot: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot %s: %w", path, err)
	}

	var wire map[string]snapshotEntry
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot %s: %w", path, err)
	}

	entries := make(map[string]Entry, len(wire))
	for key, se := range wire {
		mt, err := parseSnapshotTime(se.ModifiedAt)
		if err != nil {
			return nil, fmt.Errorf("snapshot %s, key %s: %w", path, key, err)
		}
		entries[key] = Entry{
			Key:             key,
			Size:            se.Size,
			Hash:            se.Hash,
			StorageFilename: se.StorageFilename,
			ModifiedAt:      mt,
		}
	}

	return entries, nil
}

// newestSnapshot returns the most recently modified snapshot file in dir,
// or "" if none exist.
func newestSnapshot(dir string) (string, error) {
	des, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to list manifest directory: %w", err)
	}

	var newest string
	var newestTime time.Time
	for _, de := range des {
		name := de.Name()
		if de.IsDir() || !strings.HasPrefix(name, "manifest-") || !strings.HasSuffix(name, ".json") {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		if newest == "" || info.ModTime().After(newestTime) {
			newest = filepath.Join(dir, name)
			newestTime = info.ModTime()
		}
	}

	return newest, nil
}

// parseSnapshotTime accepts RFC3339 or a raw epoch-seconds value. Older
// snapshots recorded epoch timestamps.
func parseSnapshotTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	var epoch float64
	if _, err := fmt.Sscanf(s, "%f", &epoch); err == nil {
		sec := int64(epoch)
		nsec := int64((epoch - float64(sec)) * 1e9)
		return time.Unix(sec, nsec).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unparseable modification time %q", s)
}
