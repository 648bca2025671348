package manifest

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/blake2b"
)

// Content hashing
// ===============
//
// Manifest entries are content-addressed by a BLAKE2b-512 digest (128 hex
// characters). The digest only needs to be stable for identical byte content
// so that deduplication can reuse storage filenames; a wide cryptographic
// hash comfortably satisfies that.

// HashReader streams r through BLAKE2b-512 and returns the hex digest.
func HashReader(r io.Reader) (string, error) {
	h, err := blake2b.New512(nil)
	if err != nil {
		return "", fmt.Errorf("failed to initialize hasher: %w", err)
	}

	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("failed to hash content: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashFile hashes the file at path.
//
// A vanished file is reported as an integrity error so callers can surface
// "file removed mid-hash" races as named failures rather than crashes.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", &StoreError{
				Code:    ErrIntegrityError,
				Message: "file removed before it could be hashed",
				Key:     path,
			}
		}
		return "", fmt.Errorf("failed to open %s for hashing: %w", path, err)
	}
	defer f.Close()

	return HashReader(f)
}
