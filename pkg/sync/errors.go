package sync

import (
	"errors"
	"fmt"
)

// ErrMissingAuth indicates the service configuration mapping lacks required
// authentication material. Raised synchronously before any network call and
// never retried.
var ErrMissingAuth = errors.New("missing authentication configuration")

// ServiceError is a non-success response from the object service or the
// underlying object store. It captures the status code and response body for
// failure reporting after retry exhaustion.
type ServiceError struct {
	// Operation names the failing call, e.g. "presign upload"
	Operation string

	// Status is the HTTP status code (0 for transport-level failures)
	Status int

	// Body is the response body, truncated for reporting
	Body string
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s failed: %s", e.Operation, e.Body)
	}
	return fmt.Sprintf("%s failed with status %d: %s", e.Operation, e.Status, e.Body)
}

// SyncFailure carries the manifest keys that could not be transferred after
// a sync pass. Background job adapters raise it so polling callers get a
// machine-readable failure list alongside the human-readable feedback.
type SyncFailure struct {
	// Direction is "push" or "pull"
	Direction string

	// FailedKeys lists the dataset paths that reached a terminal failure
	FailedKeys []string
}

// Error implements the error interface.
func (e *SyncFailure) Error() string {
	return fmt.Sprintf("%d file(s) failed to %s and will be retried on the next sync",
		len(e.FailedKeys), e.Direction)
}
