// Package lock provides the advisory dataset lock callers must hold around
// manifest mutation: any Status+Update sequence, and every Move, Delete or
// CreateDirectory call. The lock is a file under the dataset's cache
// directory, so every process working on the same checkout contends on the
// same path. A background heartbeat refreshes the lock while it is held, so
// long operations (a sweep hashing a large dataset) are never mistaken for a
// dead holder.
package lock

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/manjuta/datasync/internal/logger"
)

// lockFileName lives in the dataset's cache directory.
const lockFileName = ".sync_lock"

// staleTimeout: a lock not refreshed within this window is considered
// abandoned by a dead process and may be taken over.
const staleTimeout = 3 * time.Minute

// refreshInterval is the heartbeat cadence; three refreshes fit inside one
// stale window, so a single missed beat never loses the lock. Variable so
// tests can shrink it.
var refreshInterval = staleTimeout / 3

// lockContent is the JSON payload written into the lock file.
type lockContent struct {
	PID        int       `json:"pid"`
	AcquiredAt time.Time `json:"acquired_at"`
	Owner      string    `json:"owner"`
}

// ErrLockHeld is returned when the lock is actively held by another process.
type ErrLockHeld struct {
	PID   int
	Owner string
	Age   time.Duration
}

// Error implements the error interface.
func (e *ErrLockHeld) Error() string {
	return fmt.Sprintf("dataset lock held by PID %d (%s), acquired %s ago",
		e.PID, e.Owner, e.Age.Truncate(time.Second))
}

// Lock is an acquired dataset lock. The holder's heartbeat goroutine keeps
// the on-disk record fresh until Release.
type Lock struct {
	path   string
	owner  string
	held   bool
	stopCh chan struct{}
	doneCh chan struct{}
}

// Acquire takes the dataset lock for the working copy rooted at datasetDir.
//
// Acquisition is atomic (O_EXCL create). A lock older than the stale timeout
// is treated as abandoned and removed before retrying, so a crashed process
// does not wedge the dataset forever. ctx bounds the whole attempt.
func Acquire(ctx context.Context, datasetDir, owner string) (*Lock, error) {
	path := filepath.Join(datasetDir, lockFileName)

	for attempt := 0; attempt < 3; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		lock, err := tryAcquire(path, owner)
		if err == nil {
			go lock.heartbeat()
			return lock, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to access dataset lock: %w", err)
		}

		content, readErr := readLock(path)
		if readErr != nil {
			// Unreadable or vanished mid-check: retry from the top.
			continue
		}

		age := time.Since(content.AcquiredAt)
		if age < staleTimeout {
			return nil, &ErrLockHeld{PID: content.PID, Owner: content.Owner, Age: age}
		}

		// Stale lock: remove and retry. A racing process may beat us to the
		// recreate, which the next attempt surfaces normally.
		_ = os.Remove(path)
	}

	return nil, fmt.Errorf("failed to acquire dataset lock after retries")
}

// Release stops the heartbeat and drops the lock. Releasing twice is a no-op.
func (l *Lock) Release() error {
	if !l.held {
		return nil
	}
	l.held = false

	close(l.stopCh)
	<-l.doneCh

	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to release dataset lock: %w", err)
	}
	return nil
}

// heartbeat rewrites the lock record on an interval so other processes see
// it as actively held. Runs until Release closes stopCh.
func (l *Lock) heartbeat() {
	defer close(l.doneCh)

	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			if err := l.refresh(); err != nil {
				logger.Warn("Failed to refresh dataset lock %s: %v", l.path, err)
			}
		}
	}
}

// refresh rewrites the lock file with a current AcquiredAt. Write-then-rename
// keeps concurrent readers from observing a partial record.
func (l *Lock) refresh() error {
	content := lockContent{
		PID:        os.Getpid(),
		AcquiredAt: time.Now(),
		Owner:      l.owner,
	}
	data, err := json.Marshal(&content)
	if err != nil {
		return err
	}

	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, l.path)
}

func tryAcquire(path, owner string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}

	content := lockContent{
		PID:        os.Getpid(),
		AcquiredAt: time.Now(),
		Owner:      owner,
	}
	if err := json.NewEncoder(f).Encode(&content); err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, err
	}

	return &Lock{
		path:   path,
		owner:  owner,
		held:   true,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}, nil
}

func readLock(path string) (*lockContent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var content lockContent
	if err := json.Unmarshal(data, &content); err != nil {
		return nil, err
	}
	return &content, nil
}
