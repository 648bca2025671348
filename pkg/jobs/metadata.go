// Package jobs contains the background job adapters the task dispatcher
// invokes: upload-transaction completion, content verification and the
// push/pull/download glue around the sync orchestrator. Each job reports
// progress through a shared JobMetadata record that polling callers read.
package jobs

import (
	"encoding/json"
	"sync"
)

// JobMetadata is the structured progress record of one background job.
// Workers write, polling callers read; all access goes through the methods.
type JobMetadata struct {
	mu sync.Mutex

	completedBytes int64
	hasFailures    bool
	failureDetail  string
	modifiedKeys   []string
	feedback       string
}

// metadataView is the serializable snapshot shape.
type metadataView struct {
	CompletedBytes int64    `json:"completed_bytes"`
	HasFailures    bool     `json:"has_failures"`
	FailureDetail  string   `json:"failure_detail,omitempty"`
	ModifiedKeys   []string `json:"modified_keys,omitempty"`
	Feedback       string   `json:"feedback"`
}

// AddBytes accumulates transferred bytes. Safe to use as a sync.ProgressFunc.
func (m *JobMetadata) AddBytes(n int64) {
	m.mu.Lock()
	m.completedBytes += n
	m.mu.Unlock()
}

// SetFeedback replaces the human-readable status line.
func (m *JobMetadata) SetFeedback(feedback string) {
	m.mu.Lock()
	m.feedback = feedback
	m.mu.Unlock()
}

// RecordFailure marks the job as failed with a machine-readable detail.
// Repeated calls keep the first detail; later ones are appended.
func (m *JobMetadata) RecordFailure(detail string) {
	m.mu.Lock()
	m.hasFailures = true
	if m.failureDetail == "" {
		m.failureDetail = detail
	} else {
		m.failureDetail += "; " + detail
	}
	m.mu.Unlock()
}

// AddModifiedKeys appends manifest keys whose recorded state no longer
// matches the local bytes.
func (m *JobMetadata) AddModifiedKeys(keys ...string) {
	m.mu.Lock()
	m.modifiedKeys = append(m.modifiedKeys, keys...)
	m.mu.Unlock()
}

// CompletedBytes returns the bytes moved so far.
func (m *JobMetadata) CompletedBytes() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.completedBytes
}

// HasFailures reports whether any failure was recorded.
func (m *JobMetadata) HasFailures() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hasFailures
}

// ModifiedKeys returns a copy of the recorded modified keys.
func (m *JobMetadata) ModifiedKeys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.modifiedKeys))
	copy(out, m.modifiedKeys)
	return out
}

// Feedback returns the current human-readable status line.
func (m *JobMetadata) Feedback() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.feedback
}

// MarshalJSON serializes a consistent snapshot for polling callers.
func (m *JobMetadata) MarshalJSON() ([]byte, error) {
	m.mu.Lock()
	view := metadataView{
		CompletedBytes: m.completedBytes,
		HasFailures:    m.hasFailures,
		FailureDetail:  m.failureDetail,
		ModifiedKeys:   append([]string(nil), m.modifiedKeys...),
		Feedback:       m.feedback,
	}
	m.mu.Unlock()
	return json.Marshal(view)
}
