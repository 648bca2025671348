package sync

import (
	"context"
	"os"
	"sort"
	gosync "sync"
	"time"

	"github.com/manjuta/datasync/internal/logger"
	"github.com/manjuta/datasync/internal/ratelimiter"
)

// ============================================================================
// Transfer orchestration
// ============================================================================
//
// One sync pass drains a LIFO work stack with a fixed pool of workers. Each
// task is a small state machine: a worker performs exactly one network call,
// advances the task's state and pushes the task back onto the stack, so no
// worker monopolizes a large multipart upload while small objects wait.
// Per-object failures are collected, never escalated mid-pass; the pass
// always runs to completion and reports success and failure lists.

const (
	// DefaultWorkerCount is the size of the transfer worker pool.
	DefaultWorkerCount = 4

	// DefaultMultipartChunkSize routes compressed objects at or above this
	// size through the multipart path, in bytes (48 MiB).
	DefaultMultipartChunkSize = 48 * 1024 * 1024

	// maxAttempts bounds retries of each network step.
	maxAttempts = 3
)

// taskState enumerates the steps of one object transfer.
type taskState int

const (
	statePending taskState = iota

	// standard upload path
	statePresignUpload
	stateUpload

	// multipart upload path
	statePresignPart
	stateUploadPart
	stateCompleteMultipart

	// download path
	statePresignDownload
	stateDownload

	// terminal states
	stateDone
	stateSkipped
	stateFailed
)

// terminal reports whether the state ends the task's life on the stack.
func (s taskState) terminal() bool {
	return s == stateDone || s == stateSkipped || s == stateFailed
}

// pushTask tracks one upload through the state machine.
type pushTask struct {
	object PushObject
	state  taskState

	// compressed staging file, removed when the task reaches a terminal state
	tmpPath string
	size    int64

	// standard path
	presigned PresignResult

	// multipart path
	uploadID  string
	parts     []partSpec
	nextPart  int
	partURL   string
	completed []CompletedPart

	err error
}

// pullTask tracks one download through the state machine.
type pullTask struct {
	object    PullObject
	state     taskState
	presigned PresignResult
	err       error
}

// workStack is a LIFO stack of transfer tasks shared by the worker pool.
// LIFO keeps in-flight multipart uploads hot: a re-pushed task is the next
// one picked up, so its staging file leaves the disk sooner.
type workStack[T any] struct {
	mu     gosync.Mutex
	cond   *gosync.Cond
	items  []T
	closed bool
}

func newWorkStack[T any]() *workStack[T] {
	s := &workStack[T]{}
	s.cond = gosync.NewCond(&s.mu)
	return s
}

// push adds a task to the top of the stack.
func (s *workStack[T]) push(item T) {
	s.mu.Lock()
	s.items = append(s.items, item)
	s.mu.Unlock()
	s.cond.Signal()
}

// pop removes the most recently pushed task, blocking until one is available
// or the stack is closed. The second return value is false once the stack is
// closed and drained.
func (s *workStack[T]) pop() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.items) == 0 && !s.closed {
		s.cond.Wait()
	}

	var zero T
	if len(s.items) == 0 {
		return zero, false
	}

	item := s.items[len(s.items)-1]
	s.items = s.items[:len(s.items)-1]
	return item, true
}

// close wakes all blocked workers; pending items are still drained.
func (s *workStack[T]) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cond.Broadcast()
}

// Orchestrator drives concurrent object transfers against a ServiceClient.
type Orchestrator struct {
	client             *ServiceClient
	workers            int
	multipartChunkSize int64
	tmpDir             string
	limiter            *ratelimiter.RateLimiter

	// sleep is swapped out in tests to avoid real backoff delays
	sleep func(time.Duration)
}

// OrchestratorOptions configures a transfer pass.
type OrchestratorOptions struct {
	// Workers is the pool size; non-positive selects DefaultWorkerCount.
	Workers int

	// MultipartChunkSize routes compressed objects at or above this size
	// through multipart upload; non-positive selects the default.
	MultipartChunkSize int64

	// TmpDir holds compression staging files; empty selects os.TempDir().
	TmpDir string

	// RequestsPerSecond paces outbound service and store calls; zero means
	// unlimited.
	RequestsPerSecond uint
}

// NewOrchestrator builds an orchestrator over the given service client.
func NewOrchestrator(client *ServiceClient, opts OrchestratorOptions) *Orchestrator {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkerCount
	}
	if opts.MultipartChunkSize <= 0 {
		opts.MultipartChunkSize = DefaultMultipartChunkSize
	}
	if opts.TmpDir == "" {
		opts.TmpDir = os.TempDir()
	}

	return &Orchestrator{
		client:             client,
		workers:            opts.Workers,
		multipartChunkSize: opts.MultipartChunkSize,
		tmpDir:             opts.TmpDir,
		limiter:            ratelimiter.New(opts.RequestsPerSecond, opts.RequestsPerSecond*2),
		sleep:              time.Sleep,
	}
}

// TransferResult reports the outcome of one sync pass. Succeeded includes
// deduplicated objects (already present on the remote); Failed lists objects
// that exhausted their retries.
type TransferResult struct {
	Succeeded []string
	Failed    []string
}

// withRetry runs fn up to maxAttempts times, sleeping attempt^2 seconds
// between tries (0s, 1s, 4s). The last error is returned on exhaustion.
func (o *Orchestrator) withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if attempt > 0 {
			o.sleep(time.Duration(attempt*attempt) * time.Second)
			logger.Debug("Retrying %s (attempt %d/%d)", op, attempt+1, maxAttempts)
		}
		if lerr := o.limiter.Wait(ctx); lerr != nil {
			return lerr
		}
		if err = fn(); err == nil {
			return nil
		}
	}
	return err
}

// Push uploads the given objects and reports per-object outcomes. The pass
// never fails as a whole: each object independently reaches done, skipped
// (already on the remote) or failed.
func (o *Orchestrator) Push(ctx context.Context, objects []PushObject, progress ProgressFunc) TransferResult {
	// An empty pass is already drained; the stack only closes when a task
	// finishes, so workers must not be started with nothing queued.
	if len(objects) == 0 {
		return TransferResult{}
	}

	stack := newWorkStack[*pushTask]()
	for _, obj := range objects {
		stack.push(&pushTask{object: obj})
	}

	var (
		mu     gosync.Mutex
		result TransferResult
		wg     gosync.WaitGroup
	)

	// remaining counts non-terminal tasks; the stack closes when it hits zero
	// so blocked workers drain out.
	remaining := len(objects)
	finish := func(t *pushTask) {
		if t.tmpPath != "" {
			if err := os.Remove(t.tmpPath); err != nil && !os.IsNotExist(err) {
				logger.Warn("Failed to remove staging file %s: %v", t.tmpPath, err)
			}
			t.tmpPath = ""
		}

		mu.Lock()
		if t.state == stateFailed {
			logger.Warn("Upload failed for %s: %v", t.object.DatasetPath, t.err)
			result.Failed = append(result.Failed, t.object.DatasetPath)
		} else {
			result.Succeeded = append(result.Succeeded, t.object.DatasetPath)
		}
		remaining--
		done := remaining == 0
		mu.Unlock()

		if done {
			stack.close()
		}
	}

	for i := 0; i < o.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				task, ok := stack.pop()
				if !ok {
					return
				}
				o.stepPush(ctx, task, progress)
				if task.state.terminal() {
					finish(task)
					continue
				}
				stack.push(task)
			}
		}()
	}

	wg.Wait()
	sort.Strings(result.Succeeded)
	sort.Strings(result.Failed)
	return result
}

// stepPush advances an upload task by one state transition, performing at
// most one network call.
func (o *Orchestrator) stepPush(ctx context.Context, t *pushTask, progress ProgressFunc) {
	switch t.state {
	case statePending:
		tmpPath, size, err := CompressToTemp(t.object.ObjectPath, o.tmpDir)
		if err != nil {
			t.err, t.state = err, stateFailed
			return
		}
		t.tmpPath, t.size = tmpPath, size

		if size >= o.multipartChunkSize {
			t.parts = splitParts(size, o.multipartChunkSize)
			err := o.withRetry(ctx, "begin multipart", func() error {
				uploadID, exists, err := o.client.BeginMultipart(ctx, t.object.ObjectID())
				if err != nil {
					return err
				}
				t.uploadID = uploadID
				if exists {
					t.state = stateSkipped
				}
				return nil
			})
			if err != nil {
				t.err, t.state = err, stateFailed
				return
			}
			if t.state != stateSkipped {
				t.state = statePresignPart
			}
			return
		}

		t.state = statePresignUpload

	case statePresignUpload:
		err := o.withRetry(ctx, "presign upload", func() error {
			res, err := o.client.PresignUpload(ctx, t.object.ObjectID())
			if err != nil {
				return err
			}
			t.presigned = res
			return nil
		})
		if err != nil {
			t.err, t.state = err, stateFailed
			return
		}
		if t.presigned.Kind == AlreadyExists {
			t.state = stateSkipped
			return
		}
		t.state = stateUpload

	case stateUpload:
		err := o.withRetry(ctx, "object upload", func() error {
			_, err := o.client.UploadTo(ctx, t.presigned.URL, t.tmpPath, 0, t.size)
			return err
		})
		if err != nil {
			t.err, t.state = err, stateFailed
			return
		}
		if progress != nil {
			progress(t.size)
		}
		t.state = stateDone

	case statePresignPart:
		part := t.parts[t.nextPart]
		err := o.withRetry(ctx, "presign part", func() error {
			partURL, err := o.client.PresignPart(ctx, t.object.ObjectID(), t.uploadID, part.number)
			if err != nil {
				return err
			}
			t.partURL = partURL
			return nil
		})
		if err != nil {
			o.abortMultipart(ctx, t)
			t.err, t.state = err, stateFailed
			return
		}
		t.state = stateUploadPart

	case stateUploadPart:
		part := t.parts[t.nextPart]
		var etag string
		err := o.withRetry(ctx, "part upload", func() error {
			var uerr error
			etag, uerr = o.client.UploadTo(ctx, t.partURL, t.tmpPath, part.offset, part.length)
			return uerr
		})
		if err != nil {
			o.abortMultipart(ctx, t)
			t.err, t.state = err, stateFailed
			return
		}
		if progress != nil {
			progress(part.length)
		}

		t.completed = append(t.completed, CompletedPart{PartNumber: part.number, ETag: etag})
		t.nextPart++
		if t.nextPart < len(t.parts) {
			t.state = statePresignPart
			return
		}
		t.state = stateCompleteMultipart

	case stateCompleteMultipart:
		err := o.withRetry(ctx, "complete multipart", func() error {
			return o.client.CompleteMultipart(ctx, t.object.ObjectID(), t.uploadID, t.completed)
		})
		if err != nil {
			o.abortMultipart(ctx, t)
			t.err, t.state = err, stateFailed
			return
		}
		t.state = stateDone
	}
}

// abortMultipart best-effort cancels a failed multipart session so the store
// does not accumulate orphaned parts.
func (o *Orchestrator) abortMultipart(ctx context.Context, t *pushTask) {
	if t.uploadID == "" {
		return
	}
	if err := o.client.AbortMultipart(ctx, t.object.ObjectID(), t.uploadID); err != nil {
		logger.Warn("Failed to abort multipart upload for %s: %v", t.object.DatasetPath, err)
	}
}

// Pull downloads the given objects and reports per-object outcomes.
func (o *Orchestrator) Pull(ctx context.Context, objects []PullObject, progress ProgressFunc) TransferResult {
	if len(objects) == 0 {
		return TransferResult{}
	}

	stack := newWorkStack[*pullTask]()
	for _, obj := range objects {
		stack.push(&pullTask{object: obj})
	}

	var (
		mu     gosync.Mutex
		result TransferResult
		wg     gosync.WaitGroup
	)

	remaining := len(objects)
	finish := func(t *pullTask) {
		mu.Lock()
		if t.state == stateFailed {
			logger.Warn("Download failed for %s: %v", t.object.DatasetPath, t.err)
			result.Failed = append(result.Failed, t.object.DatasetPath)
		} else {
			result.Succeeded = append(result.Succeeded, t.object.DatasetPath)
		}
		remaining--
		done := remaining == 0
		mu.Unlock()

		if done {
			stack.close()
		}
	}

	for i := 0; i < o.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				task, ok := stack.pop()
				if !ok {
					return
				}
				o.stepPull(ctx, task, progress)
				if task.state.terminal() {
					finish(task)
					continue
				}
				stack.push(task)
			}
		}()
	}

	wg.Wait()
	sort.Strings(result.Succeeded)
	sort.Strings(result.Failed)
	return result
}

// stepPull advances a download task by one state transition.
func (o *Orchestrator) stepPull(ctx context.Context, t *pullTask, progress ProgressFunc) {
	switch t.state {
	case statePending:
		t.state = statePresignDownload

	case statePresignDownload:
		err := o.withRetry(ctx, "presign download", func() error {
			res, err := o.client.PresignDownload(ctx, t.object.ObjectID())
			if err != nil {
				return err
			}
			t.presigned = res
			return nil
		})
		if err != nil {
			t.err, t.state = err, stateFailed
			return
		}
		t.state = stateDownload

	case stateDownload:
		err := o.withRetry(ctx, "object download", func() error {
			return o.client.DownloadFrom(ctx, t.presigned.URL, t.object.ObjectPath, progress)
		})
		if err != nil {
			t.err, t.state = err, stateFailed
			return
		}
		t.state = stateDone
	}
}
