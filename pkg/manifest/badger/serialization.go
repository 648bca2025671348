package badger

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/manjuta/datasync/pkg/manifest"
)

// Serialization Strategy
// ======================
//
// Cached manifests use the same {b, h, fn, mt} row schema as the snapshot
// files, so a cache value and a snapshot file describe entries identically
// and stay debuggable with plain JSON tooling. Timestamps are RFC3339 to
// survive the round trip at nanosecond precision.

// cachedEntry is the stored form of one manifest row.
type cachedEntry struct {
	Size            string    `json:"b"`
	Hash            string    `json:"h,omitempty"`
	StorageFilename string    `json:"fn,omitempty"`
	ModifiedAt      time.Time `json:"mt"`
}

// encodeEntries serializes a manifest mapping to JSON bytes.
func encodeEntries(entries map[string]manifest.Entry) ([]byte, error) {
	wire := make(map[string]cachedEntry, len(entries))
	for key, e := range entries {
		wire[key] = cachedEntry{
			Size:            e.Size,
			Hash:            e.Hash,
			StorageFilename: e.StorageFilename,
			ModifiedAt:      e.ModifiedAt,
		}
	}

	bytes, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("failed to encode cached manifest: %w", err)
	}
	return bytes, nil
}

// decodeEntries deserializes a manifest mapping from JSON bytes.
func decodeEntries(bytes []byte) (map[string]manifest.Entry, error) {
	var wire map[string]cachedEntry
	if err := json.Unmarshal(bytes, &wire); err != nil {
		return nil, fmt.Errorf("failed to decode cached manifest: %w", err)
	}

	entries := make(map[string]manifest.Entry, len(wire))
	for key, ce := range wire {
		entries[key] = manifest.Entry{
			Key:             key,
			Size:            ce.Size,
			Hash:            ce.Hash,
			StorageFilename: ce.StorageFilename,
			ModifiedAt:      ce.ModifiedAt,
		}
	}
	return entries, nil
}
