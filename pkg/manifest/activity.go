package manifest

import (
	"fmt"
	"strings"
	"time"
)

// ActivityRecord is one audit entry summarizing a logical manifest operation.
// A single record covers the whole operation even when it touches many rows
// (moving a directory with 50 descendants is one record).
type ActivityRecord struct {
	// Message is the human-readable summary
	Message string

	// Created, Modified and Deleted count the affected manifest rows
	Created  int
	Modified int
	Deleted  int

	// Timestamp is when the operation completed
	Timestamp time.Time
}

// ActivitySink receives audit records produced by manifest operations.
// The API layer renders these into the dataset's activity feed.
type ActivitySink interface {
	Record(rec ActivityRecord) error
}

// CommitLog timestamps manifest changes in the dataset's version log.
//
// Many small file operations inside one logical call are grouped into exactly
// two log entries: a start marker (BeginBatch) and one real commit
// (CommitBatch), keeping the underlying version log free of per-file spam.
type CommitLog interface {
	BeginBatch(message string) error
	CommitBatch(message string) error
}

// NopActivitySink discards records. Used by tools that have no activity feed.
type NopActivitySink struct{}

// Record implements ActivitySink.
func (NopActivitySink) Record(ActivityRecord) error { return nil }

// NopCommitLog discards batch markers.
type NopCommitLog struct{}

// BeginBatch implements CommitLog.
func (NopCommitLog) BeginBatch(string) error { return nil }

// CommitBatch implements CommitLog.
func (NopCommitLog) CommitBatch(string) error { return nil }

// ChangeSummary builds the user-facing message for a batch of manifest
// changes, e.g. "Uploaded 2 new file(s). Modified 1 file(s)."
func ChangeSummary(created, modified, deleted int) string {
	var parts []string
	if created > 0 {
		parts = append(parts, fmt.Sprintf("Uploaded %d new file(s).", created))
	}
	if modified > 0 {
		parts = append(parts, fmt.Sprintf("Modified %d file(s).", modified))
	}
	if deleted > 0 {
		parts = append(parts, fmt.Sprintf("Deleted %d file(s).", deleted))
	}
	if len(parts) == 0 {
		return "No changes."
	}
	return strings.Join(parts, " ")
}
