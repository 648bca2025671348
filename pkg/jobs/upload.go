package jobs

import (
	"context"
	"fmt"
	"strings"

	"github.com/manjuta/datasync/internal/logger"
	"github.com/manjuta/datasync/pkg/lock"
	"github.com/manjuta/datasync/pkg/manifest"
)

// CompleteUploadTransaction reconciles files an upload placed into the
// dataset's revision directory: each new or changed file is hashed, moved
// into the object store and appended to the manifest, with one activity
// record for the whole batch.
//
// The job is resume-safe. Files already reconciled by a prior attempt are
// unchanged on the next status pass, so re-running after a partial failure
// only processes the remainder. A file deleted by a race while the job runs
// is reported as a named failure in the metadata, never a crash.
//
// Parameters:
//   - ctx: Context for cancellation
//   - store: Manifest store for the dataset checkout
//   - meta: Progress record for polling callers; may be nil
//
// Returns:
//   - error: Returns error for lock contention or a failed sweep; per-file
//     races surface through meta instead
func CompleteUploadTransaction(ctx context.Context, store *manifest.Store, meta *JobMetadata) error {
	if meta == nil {
		meta = &JobMetadata{}
	}

	held, err := lock.Acquire(ctx, store.CacheManager().DatasetDir(), "complete-upload-transaction")
	if err != nil {
		return fmt.Errorf("failed to lock dataset for upload completion: %w", err)
	}
	defer func() {
		if rerr := held.Release(); rerr != nil {
			logger.Warn("Failed to release dataset lock: %v", rerr)
		}
	}()

	// One status pass serves both the sweep and the vanished-file check below,
	// so the two bookkeeping steps see the same view of the checkout.
	status, err := store.Status()
	if err != nil {
		return err
	}

	record, err := store.SweepChanges(status)
	if err != nil {
		return fmt.Errorf("failed to sweep uploaded files: %w", err)
	}

	if record == nil {
		meta.SetFeedback("No new files to process.")
		return nil
	}

	// Any expected key missing from the manifest after the sweep was deleted
	// mid-processing by a race.
	var vanished []string
	for _, key := range append(append([]string{}, status.Created...), status.Modified...) {
		if strings.HasSuffix(key, "/") {
			continue
		}
		if _, err := store.Get(key); manifest.IsNotFound(err) {
			vanished = append(vanished, key)
		}
	}

	if len(vanished) > 0 {
		detail := fmt.Sprintf("%d file(s) disappeared during processing: %s",
			len(vanished), strings.Join(vanished, ", "))
		meta.RecordFailure(detail)
		logger.Warn("Upload transaction for %s: %s", store.Dataset(), detail)
	}

	meta.SetFeedback(record.Message)
	logger.Info("Upload transaction for %s complete: %s", store.Dataset(), record.Message)
	return nil
}
