package manifest

// StoreError represents a domain error from manifest operations.
//
// These are business-logic errors (key not found, rename onto an existing
// key, missing parent directory) as opposed to infrastructure errors
// (disk failure, cache backend unavailable).
type StoreError struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// Key is the manifest key related to the error (if applicable)
	Key string
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.Key != "" {
		return e.Message + ": " + e.Key
	}
	return e.Message
}

// ErrorCode represents the category of a manifest error.
type ErrorCode int

const (
	// ErrNotFound indicates the requested key is not tracked by the manifest
	ErrNotFound ErrorCode = iota

	// ErrAlreadyExists indicates the target key is already tracked
	// (create_directory on an existing key, move onto an existing key)
	ErrAlreadyExists

	// ErrInvalidArgument indicates invalid parameters were provided
	// Examples: empty key, absolute path, key escaping the revision root
	ErrInvalidArgument

	// ErrPreconditionFailed indicates a required precondition does not hold
	// Example: create_directory with a missing ancestor directory
	ErrPreconditionFailed

	// ErrIntegrityError indicates on-disk state contradicts the manifest
	// Example: a file vanished between walking and hashing
	ErrIntegrityError

	// ErrIOError indicates an I/O error while reading or persisting state
	ErrIOError
)

// IsNotFound reports whether err is a StoreError with code ErrNotFound.
func IsNotFound(err error) bool {
	se, ok := err.(*StoreError)
	return ok && se.Code == ErrNotFound
}

// IsAlreadyExists reports whether err is a StoreError with code ErrAlreadyExists.
func IsAlreadyExists(err error) bool {
	se, ok := err.(*StoreError)
	return ok && se.Code == ErrAlreadyExists
}
