package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	gosync "sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeService implements the object service wire protocol plus the presigned
// object-store endpoints the service hands out URLs for. Presigned URLs point
// back at the same server under /store/ (uploads) and /blob/ (downloads).
type fakeService struct {
	mu      gosync.Mutex
	baseURL string

	// non-zero values override the happy-path responses
	presignUploadStatus   int
	presignDownloadStatus int
	multipartStatus       int
	presignPartStatus     int

	presignAttempts int

	stored    map[string][]byte
	parts     map[string]map[int][]byte
	completed map[string][]CompletedPart
	aborted   []string
	blobs     map[string][]byte
}

func newFakeService() *fakeService {
	return &fakeService{
		stored:    make(map[string][]byte),
		parts:     make(map[string]map[int][]byte),
		completed: make(map[string][]CompletedPart),
		blobs:     make(map[string][]byte),
	}
}

func (f *fakeService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := r.URL.Path
	switch {
	case strings.HasPrefix(path, "/store/"):
		f.serveStore(w, r, strings.TrimPrefix(path, "/store/"))
	case strings.HasPrefix(path, "/blob/"):
		data, ok := f.blobs[strings.TrimPrefix(path, "/blob/")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write(data)
	case strings.HasPrefix(path, "/svc"):
		f.serveService(w, r, strings.TrimPrefix(strings.TrimPrefix(path, "/svc"), "/"))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeService) serveStore(w http.ResponseWriter, r *http.Request, rest string) {
	data, _ := io.ReadAll(r.Body)
	if segs := strings.Split(rest, "/"); len(segs) == 3 && segs[1] == "part" {
		n, _ := strconv.Atoi(segs[2])
		if f.parts[segs[0]] == nil {
			f.parts[segs[0]] = make(map[int][]byte)
		}
		f.parts[segs[0]][n] = data
		w.Header().Set("ETag", fmt.Sprintf("%q", fmt.Sprintf("etag-%d", n)))
		w.WriteHeader(http.StatusOK)
		return
	}

	f.stored[rest] = data
	w.Header().Set("ETag", `"etag-whole"`)
	w.WriteHeader(http.StatusOK)
}

func (f *fakeService) serveService(w http.ResponseWriter, r *http.Request, rest string) {
	segs := strings.Split(rest, "/")
	switch {
	case rest == "":
		// configuration check / delete contents
		if r.Method == http.MethodDelete {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, map[string]string{"message": "backend ready"})

	case len(segs) == 1:
		obj := segs[0]
		switch r.Method {
		case http.MethodPut:
			if r.URL.Query().Get("part_number") != "" {
				if f.presignPartStatus != 0 {
					w.WriteHeader(f.presignPartStatus)
					return
				}
				writeJSON(w, map[string]string{
					"presigned_url": f.baseURL + "/store/" + obj + "/part/" + r.URL.Query().Get("part_number"),
				})
				return
			}
			f.presignAttempts++
			if f.presignUploadStatus != 0 {
				w.WriteHeader(f.presignUploadStatus)
				return
			}
			writeJSON(w, map[string]string{
				"presigned_url": f.baseURL + "/store/" + obj,
				"key_id":        "key-1",
			})
		case http.MethodGet:
			if f.presignDownloadStatus != 0 {
				w.WriteHeader(f.presignDownloadStatus)
				return
			}
			writeJSON(w, map[string]string{
				"presigned_url": f.baseURL + "/blob/" + obj,
				"key_id":        "key-1",
			})
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}

	case len(segs) == 2 && segs[1] == "multipart":
		if f.multipartStatus != 0 {
			w.WriteHeader(f.multipartStatus)
			return
		}
		writeJSON(w, map[string]string{"upload_id": "session-1"})

	case len(segs) == 3 && segs[1] == "multipart":
		uploadID := segs[2]
		if r.Method == http.MethodDelete {
			f.aborted = append(f.aborted, uploadID)
			w.WriteHeader(http.StatusNoContent)
			return
		}
		var parts []CompletedPart
		if err := json.NewDecoder(r.Body).Decode(&parts); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.completed[uploadID] = parts
		w.WriteHeader(http.StatusOK)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (f *fakeService) storedObject(t *testing.T, id string) []byte {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.stored[id]
	require.True(t, ok, "object %s was never uploaded", id)
	return data
}

func (f *fakeService) storedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.stored)
}

func (f *fakeService) partsFor(id string) map[int][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.parts[id]
}

func (f *fakeService) completedFor(uploadID string) []CompletedPart {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.completed[uploadID]
}

func (f *fakeService) abortedSessions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.aborted...)
}

func (f *fakeService) attempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.presignAttempts
}

// newTestEngine starts the fake service and builds an orchestrator against it
// with backoff sleeps stubbed out.
func newTestEngine(t *testing.T, svc *fakeService, chunkSize int64) (*Orchestrator, string) {
	t.Helper()

	srv := httptest.NewServer(svc)
	t.Cleanup(srv.Close)
	svc.baseURL = srv.URL

	client, err := NewServiceClient(map[string]string{
		ConfigServiceRoot:   srv.URL + "/svc",
		ConfigUsername:      "alice",
		ConfigBearerToken:   "bearer-token",
		ConfigIdentityToken: "identity-token",
	})
	require.NoError(t, err)

	tmpDir := t.TempDir()
	orch := NewOrchestrator(client, OrchestratorOptions{
		Workers:            2,
		MultipartChunkSize: chunkSize,
		TmpDir:             tmpDir,
	})
	orch.sleep = func(time.Duration) {}
	return orch, tmpDir
}

func writeObjectFile(t *testing.T, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, content, 0644))
	return path
}

func compressBytes(t *testing.T, content []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	require.NoError(t, err)
	_, err = enc.Write(content)
	require.NoError(t, err)
	require.NoError(t, enc.Close())
	return buf.Bytes()
}

func decompressBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	dec, err := zstd.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer dec.Close()
	out, err := io.ReadAll(dec)
	require.NoError(t, err)
	return out
}

func TestPushEmptyObjectListReturns(t *testing.T) {
	svc := newFakeService()
	orch, _ := newTestEngine(t, svc, DefaultMultipartChunkSize)

	done := make(chan TransferResult, 1)
	go func() { done <- orch.Push(context.Background(), nil, nil) }()

	select {
	case result := <-done:
		assert.Empty(t, result.Succeeded)
		assert.Empty(t, result.Failed)
	case <-time.After(2 * time.Second):
		t.Fatal("Push with no objects did not return")
	}
}

func TestPullEmptyObjectListReturns(t *testing.T) {
	svc := newFakeService()
	orch, _ := newTestEngine(t, svc, DefaultMultipartChunkSize)

	done := make(chan TransferResult, 1)
	go func() { done <- orch.Pull(context.Background(), nil, nil) }()

	select {
	case result := <-done:
		assert.Empty(t, result.Succeeded)
		assert.Empty(t, result.Failed)
	case <-time.After(2 * time.Second):
		t.Fatal("Pull with no objects did not return")
	}
}

func TestPushStandardUpload(t *testing.T) {
	svc := newFakeService()
	orch, tmpDir := newTestEngine(t, svc, DefaultMultipartChunkSize)

	content := []byte("dataset object payload")
	objPath := writeObjectFile(t, "manifest-aaa", content)

	var moved int64
	result := orch.Push(context.Background(),
		[]PushObject{{ObjectPath: objPath, DatasetPath: "data/file.bin", Revision: "rev1"}},
		func(n int64) { atomic.AddInt64(&moved, n) })

	assert.Equal(t, []string{"data/file.bin"}, result.Succeeded)
	assert.Empty(t, result.Failed)

	stored := svc.storedObject(t, "manifest-aaa")
	assert.Equal(t, content, decompressBytes(t, stored))
	assert.Equal(t, int64(len(stored)), atomic.LoadInt64(&moved))

	// Staging files are removed once the task reaches a terminal state.
	entries, err := os.ReadDir(tmpDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPushSkipsObjectAlreadyOnRemote(t *testing.T) {
	svc := newFakeService()
	svc.presignUploadStatus = http.StatusForbidden
	orch, _ := newTestEngine(t, svc, DefaultMultipartChunkSize)

	objPath := writeObjectFile(t, "manifest-dup", []byte("already there"))
	result := orch.Push(context.Background(),
		[]PushObject{{ObjectPath: objPath, DatasetPath: "dup.bin", Revision: "rev1"}}, nil)

	// Deduplicated objects count as success with no bytes moved.
	assert.Equal(t, []string{"dup.bin"}, result.Succeeded)
	assert.Empty(t, result.Failed)
	assert.Equal(t, 0, svc.storedCount())
}

func TestPushExhaustsRetriesThenFails(t *testing.T) {
	svc := newFakeService()
	svc.presignUploadStatus = http.StatusInternalServerError
	orch, _ := newTestEngine(t, svc, DefaultMultipartChunkSize)

	objPath := writeObjectFile(t, "manifest-bad", []byte("doomed"))
	result := orch.Push(context.Background(),
		[]PushObject{{ObjectPath: objPath, DatasetPath: "doomed.bin", Revision: "rev1"}}, nil)

	assert.Empty(t, result.Succeeded)
	assert.Equal(t, []string{"doomed.bin"}, result.Failed)
	assert.Equal(t, maxAttempts, svc.attempts())
}

func TestPushMultipartUpload(t *testing.T) {
	svc := newFakeService()
	orch, _ := newTestEngine(t, svc, 16*1024)

	// Incompressible content keeps the compressed size above one chunk.
	content := make([]byte, 64*1024)
	rand.New(rand.NewSource(7)).Read(content)
	objPath := writeObjectFile(t, "manifest-big", content)

	var moved int64
	result := orch.Push(context.Background(),
		[]PushObject{{ObjectPath: objPath, DatasetPath: "big.bin", Revision: "rev1"}},
		func(n int64) { atomic.AddInt64(&moved, n) })

	assert.Equal(t, []string{"big.bin"}, result.Succeeded)
	assert.Empty(t, result.Failed)

	parts := svc.partsFor("manifest-big")
	require.GreaterOrEqual(t, len(parts), 2)

	// Parts reassemble, in order, into the compressed object.
	var reassembled bytes.Buffer
	for n := 1; n <= len(parts); n++ {
		data, ok := parts[n]
		require.True(t, ok, "missing part %d", n)
		reassembled.Write(data)
	}
	assert.Equal(t, content, decompressBytes(t, reassembled.Bytes()))
	assert.Equal(t, int64(reassembled.Len()), atomic.LoadInt64(&moved))

	// The completion call lists every part in ascending order with its ETag.
	completed := svc.completedFor("session-1")
	require.Len(t, completed, len(parts))
	for i, p := range completed {
		assert.Equal(t, i+1, p.PartNumber)
		assert.Equal(t, fmt.Sprintf("%q", fmt.Sprintf("etag-%d", i+1)), p.ETag)
	}
}

func TestPushMultipartSkipsExistingObject(t *testing.T) {
	svc := newFakeService()
	svc.multipartStatus = http.StatusForbidden
	orch, _ := newTestEngine(t, svc, 16)

	objPath := writeObjectFile(t, "manifest-bigdup", []byte("big enough once compressed"))
	result := orch.Push(context.Background(),
		[]PushObject{{ObjectPath: objPath, DatasetPath: "bigdup.bin", Revision: "rev1"}}, nil)

	assert.Equal(t, []string{"bigdup.bin"}, result.Succeeded)
	assert.Empty(t, svc.partsFor("manifest-bigdup"))
}

func TestPushMultipartAbortsOnPartFailure(t *testing.T) {
	svc := newFakeService()
	svc.presignPartStatus = http.StatusInternalServerError
	orch, _ := newTestEngine(t, svc, 16)

	objPath := writeObjectFile(t, "manifest-broken", []byte("multipart sized payload"))
	result := orch.Push(context.Background(),
		[]PushObject{{ObjectPath: objPath, DatasetPath: "broken.bin", Revision: "rev1"}}, nil)

	assert.Equal(t, []string{"broken.bin"}, result.Failed)
	assert.Equal(t, []string{"session-1"}, svc.abortedSessions())
}

func TestPushMixedOutcomes(t *testing.T) {
	svc := newFakeService()
	orch, _ := newTestEngine(t, svc, DefaultMultipartChunkSize)

	good := writeObjectFile(t, "manifest-good", []byte("fine"))
	result := orch.Push(context.Background(), []PushObject{
		{ObjectPath: good, DatasetPath: "good.bin", Revision: "rev1"},
		{ObjectPath: filepath.Join(t.TempDir(), "manifest-missing"), DatasetPath: "missing.bin", Revision: "rev1"},
	}, nil)

	assert.Equal(t, []string{"good.bin"}, result.Succeeded)
	assert.Equal(t, []string{"missing.bin"}, result.Failed)
}

func TestPullDownload(t *testing.T) {
	svc := newFakeService()
	orch, _ := newTestEngine(t, svc, DefaultMultipartChunkSize)

	content := []byte("pulled object contents")
	svc.blobs["manifest-dl"] = compressBytes(t, content)

	dstPath := filepath.Join(t.TempDir(), "objects", "manifest-dl")
	var moved int64
	result := orch.Pull(context.Background(),
		[]PullObject{{ObjectPath: dstPath, DatasetPath: "pulled.bin", Revision: "rev1"}},
		func(n int64) { atomic.AddInt64(&moved, n) })

	assert.Equal(t, []string{"pulled.bin"}, result.Succeeded)
	assert.Empty(t, result.Failed)

	got, err := os.ReadFile(dstPath)
	require.NoError(t, err)
	assert.Equal(t, content, got)
	assert.Equal(t, int64(len(content)), atomic.LoadInt64(&moved))
}

func TestPullPresignFailure(t *testing.T) {
	svc := newFakeService()
	svc.presignDownloadStatus = http.StatusNotFound
	orch, _ := newTestEngine(t, svc, DefaultMultipartChunkSize)

	dstPath := filepath.Join(t.TempDir(), "manifest-gone")
	result := orch.Pull(context.Background(),
		[]PullObject{{ObjectPath: dstPath, DatasetPath: "gone.bin", Revision: "rev1"}}, nil)

	assert.Equal(t, []string{"gone.bin"}, result.Failed)
	_, err := os.Stat(dstPath)
	assert.True(t, os.IsNotExist(err))
}
