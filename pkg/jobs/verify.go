package jobs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/manjuta/datasync/internal/logger"
	"github.com/manjuta/datasync/pkg/manifest"
)

// verifyConcurrency bounds the parallel re-hash workers.
const verifyConcurrency = 4

// VerifyContents re-hashes every locally present file in the dataset's
// revision directory and reports the manifest keys whose on-disk content no
// longer matches the recorded hash. Files whose objects were never pulled
// locally are skipped, not flagged.
//
// Modified keys land in meta (sorted), alongside a human-readable feedback
// line. Detection is read-only: reconciling a flagged key is the caller's
// decision (re-sweep or re-pull).
//
// Parameters:
//   - ctx: Context for cancellation
//   - store: Manifest store for the dataset checkout
//   - meta: Progress record for polling callers; may be nil
//
// Returns:
//   - []string: Sorted keys that failed validation
//   - error: Returns error if the manifest cannot be read or hashing hits a
//     non-race I/O failure
func VerifyContents(ctx context.Context, store *manifest.Store, meta *JobMetadata) ([]string, error) {
	if meta == nil {
		meta = &JobMetadata{}
	}

	entries, err := store.Entries()
	if err != nil {
		return nil, err
	}

	revDir, err := store.CurrentRevisionDir()
	if err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(verifyConcurrency)

	results := make(chan string, len(entries))
	for _, entry := range entries {
		if entry.IsDirectory() {
			continue
		}

		entry := entry
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			abs := filepath.Join(revDir, filepath.FromSlash(entry.Key))
			if _, err := os.Stat(abs); os.IsNotExist(err) {
				// Not local: nothing to verify.
				return nil
			}

			hash, err := manifest.HashFile(abs)
			if err != nil {
				if se, ok := err.(*manifest.StoreError); ok && se.Code == manifest.ErrIntegrityError {
					// Vanished mid-verify: the next status pass converges.
					return nil
				}
				return fmt.Errorf("failed to verify %s: %w", entry.Key, err)
			}

			if hash != entry.Hash {
				results <- entry.Key
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	close(results)

	var modified []string
	for key := range results {
		modified = append(modified, key)
	}
	manifest.SortKeys(modified)

	if len(modified) > 0 {
		meta.AddModifiedKeys(modified...)
		meta.SetFeedback(fmt.Sprintf(
			"%d file(s) failed validation. Their contents do not match the manifest.", len(modified)))
		logger.Warn("Content verification for %s flagged %d file(s)", store.Dataset(), len(modified))
	} else {
		meta.SetFeedback("All files passed validation.")
		logger.Info("Content verification for %s passed", store.Dataset())
	}

	return modified, nil
}
