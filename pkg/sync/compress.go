package sync

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

// Object compression
// ==================
//
// Object bytes are compressed with streaming zstd into a temporary file
// before upload; the compressed size (not the original) decides standard
// versus multipart routing. Downloads decompress on the fly while writing
// the destination incrementally.

// CompressToTemp streams srcPath through zstd into a temporary file under
// tmpDir and returns the compressed file's path and size. The caller owns
// the temporary file and must remove it when the transfer reaches a
// terminal state.
func CompressToTemp(srcPath, tmpDir string) (string, int64, error) {
	src, err := os.Open(srcPath)
	if err != nil {
		return "", 0, fmt.Errorf("failed to open object %s: %w", srcPath, err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp(tmpDir, "push-*.zst")
	if err != nil {
		return "", 0, fmt.Errorf("failed to create compression temp file: %w", err)
	}
	tmpName := tmp.Name()

	enc, err := zstd.NewWriter(tmp)
	if err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", 0, fmt.Errorf("failed to initialize compressor: %w", err)
	}

	if _, err := io.Copy(enc, src); err != nil {
		enc.Close()
		tmp.Close()
		os.Remove(tmpName)
		return "", 0, fmt.Errorf("failed to compress %s: %w", srcPath, err)
	}
	if err := enc.Close(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", 0, fmt.Errorf("failed to finalize compression: %w", err)
	}

	info, err := tmp.Stat()
	if err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", 0, err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", 0, err
	}

	return tmpName, info.Size(), nil
}

// DecompressTo streams r (zstd-compressed) into dstPath, writing through a
// temporary file renamed into place on success. progress receives the number
// of decompressed bytes written. Returns the decompressed byte count.
func DecompressTo(dstPath string, r io.Reader, progress ProgressFunc) (int64, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return 0, fmt.Errorf("failed to initialize decompressor: %w", err)
	}
	defer dec.Close()

	if err := os.MkdirAll(filepath.Dir(dstPath), 0755); err != nil {
		return 0, fmt.Errorf("failed to create download directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dstPath), ".pull-*.tmp")
	if err != nil {
		return 0, fmt.Errorf("failed to create download temp file: %w", err)
	}
	tmpName := tmp.Name()

	written, err := io.Copy(tmp, dec)
	if err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return 0, fmt.Errorf("failed to decompress download: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return 0, err
	}
	if err := os.Rename(tmpName, dstPath); err != nil {
		os.Remove(tmpName)
		return 0, fmt.Errorf("failed to finalize download: %w", err)
	}

	if progress != nil && written > 0 {
		progress(written)
	}

	return written, nil
}
