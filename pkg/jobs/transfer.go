package jobs

import (
	"context"
	"fmt"
	"os"

	"github.com/manjuta/datasync/internal/logger"
	"github.com/manjuta/datasync/pkg/manifest"
	"github.com/manjuta/datasync/pkg/sync"
)

// selectEntries resolves a key selection against the manifest: an empty keys
// slice selects every file entry, otherwise each named key must resolve.
// Directory rows carry no object and are never selected.
func selectEntries(store *manifest.Store, keys []string) ([]manifest.Entry, error) {
	if len(keys) == 0 {
		all, err := store.Entries()
		if err != nil {
			return nil, err
		}

		selected := make([]manifest.Entry, 0, len(all))
		for _, e := range all {
			if e.IsDirectory() {
				continue
			}
			selected = append(selected, e)
		}
		return selected, nil
	}

	selected := make([]manifest.Entry, 0, len(keys))
	for _, key := range keys {
		e, err := store.Get(key)
		if err != nil {
			return nil, err
		}
		if e.IsDirectory() {
			continue
		}
		selected = append(selected, e)
	}
	return selected, nil
}

// PushObjects uploads the selected objects (all tracked files when keys is
// empty) through the backend. Bytes moved accumulate into meta; objects that
// exhaust their retries surface as a *sync.SyncFailure carrying the failed
// keys.
func PushObjects(ctx context.Context, store *manifest.Store, backend sync.Backend, keys []string, meta *JobMetadata) error {
	if meta == nil {
		meta = &JobMetadata{}
	}

	if _, err := backend.ConfirmConfiguration(ctx); err != nil {
		return err
	}

	entries, err := selectEntries(store, keys)
	if err != nil {
		return err
	}

	objects := make([]sync.PushObject, 0, len(entries))
	for _, e := range entries {
		objectPath := store.CacheManager().ObjectPath(e.StorageFilename)
		if _, err := os.Stat(objectPath); os.IsNotExist(err) {
			// Never pulled locally: nothing to push for this key.
			continue
		}
		objects = append(objects, sync.PushObject{
			ObjectPath:  objectPath,
			DatasetPath: e.Key,
			Revision:    store.Revision(),
		})
	}

	if len(objects) == 0 {
		meta.SetFeedback("No objects to push.")
		return nil
	}

	result, err := backend.PushObjects(ctx, objects, meta.AddBytes)
	if err != nil {
		return err
	}

	return finishTransfer(store.Dataset(), "push", result, meta)
}

// PullObjects downloads the selected objects (every tracked file whose bytes
// are not local when keys is empty) and materializes the revision directory
// from the refreshed object store.
func PullObjects(ctx context.Context, store *manifest.Store, backend sync.Backend, keys []string, meta *JobMetadata) error {
	if meta == nil {
		meta = &JobMetadata{}
	}

	if _, err := backend.ConfirmConfiguration(ctx); err != nil {
		return err
	}

	entries, err := selectEntries(store, keys)
	if err != nil {
		return err
	}

	objects := make([]sync.PullObject, 0, len(entries))
	for _, e := range entries {
		objectPath := store.CacheManager().ObjectPath(e.StorageFilename)
		if _, err := os.Stat(objectPath); err == nil {
			// Already local.
			continue
		}
		objects = append(objects, sync.PullObject{
			ObjectPath:  objectPath,
			DatasetPath: e.Key,
			Revision:    store.Revision(),
		})
	}

	if len(objects) == 0 {
		meta.SetFeedback("All objects are already local.")
		return nil
	}

	result, err := backend.PullObjects(ctx, objects, meta.AddBytes)
	if err != nil {
		return err
	}

	// Fetched objects land in the object store; linking materializes them in
	// the live file tree. Keys that failed to pull are skipped by the linker.
	if err := store.LinkRevision(); err != nil {
		return err
	}

	return finishTransfer(store.Dataset(), "pull", result, meta)
}

// DownloadFiles resolves a key selection and pulls the backing objects. It
// is the explicit-selection flavor of PullObjects for interactive "fetch
// these files" requests.
func DownloadFiles(ctx context.Context, store *manifest.Store, backend sync.Backend, keys []string, meta *JobMetadata) error {
	if len(keys) == 0 {
		return fmt.Errorf("no files selected for download")
	}
	return PullObjects(ctx, store, backend, keys, meta)
}

// finishTransfer records the pass outcome in meta and converts per-object
// failures into a typed *sync.SyncFailure.
func finishTransfer(dataset, direction string, result sync.TransferResult, meta *JobMetadata) error {
	if len(result.Failed) == 0 {
		meta.SetFeedback(fmt.Sprintf("Successfully %sed %d object(s).", direction, len(result.Succeeded)))
		return nil
	}

	failure := &sync.SyncFailure{Direction: direction, FailedKeys: result.Failed}
	meta.RecordFailure(failure.Error())
	meta.SetFeedback(failure.Error())
	logger.Warn("Sync %s for %s: %d succeeded, %d failed",
		direction, dataset, len(result.Succeeded), len(result.Failed))
	return failure
}
