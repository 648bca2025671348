package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// checkoutMarkerFile is the per-working-copy marker holding the checkout
// context id. Removing it forces a brand-new context (and a fresh manifest
// cache entry) on the next load.
const checkoutMarkerFile = ".checkout_context"

// ResolveCheckoutContext returns the checkout context id for the working copy
// rooted at datasetDir, allocating and persisting a new one if the marker
// file does not exist.
//
// The context id disambiguates concurrent local working copies of the same
// logical dataset so their shared manifest cache entries do not collide.
func ResolveCheckoutContext(datasetDir string) (string, error) {
	marker := filepath.Join(datasetDir, checkoutMarkerFile)

	data, err := os.ReadFile(marker)
	if err == nil {
		id := strings.TrimSpace(string(data))
		if id != "" {
			return id, nil
		}
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to read checkout context marker: %w", err)
	}

	id := uuid.New().String()
	if err := os.MkdirAll(datasetDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create dataset directory: %w", err)
	}
	if err := os.WriteFile(marker, []byte(id+"\n"), 0644); err != nil {
		return "", fmt.Errorf("failed to persist checkout context marker: %w", err)
	}

	return id, nil
}

// RemoveCheckoutContext deletes the marker file, forcing a new context on the
// next load. Removing a marker that does not exist is not an error.
func RemoveCheckoutContext(datasetDir string) error {
	err := os.Remove(filepath.Join(datasetDir, checkoutMarkerFile))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove checkout context marker: %w", err)
	}
	return nil
}
