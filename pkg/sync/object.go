// Package sync implements the object-synchronization pipeline: an
// asynchronous producer/consumer engine that pushes or pulls dataset objects
// through a pluggable backend with bounded concurrency, per-call retries,
// multipart routing for large objects and partial-failure aggregation.
package sync

import "path"

// PushObject identifies one object to upload: the content-addressed local
// path, the logical manifest key and the dataset revision the transfer
// belongs to. Owned transiently by the orchestrator for one sync pass.
type PushObject struct {
	// ObjectPath is the local content-addressed object location
	ObjectPath string

	// DatasetPath is the logical manifest key the object backs
	DatasetPath string

	// Revision is the dataset revision the transfer belongs to
	Revision string
}

// PullObject identifies one object to download. Field meanings mirror
// PushObject; ObjectPath is the destination the fetched bytes land in.
type PullObject struct {
	ObjectPath  string
	DatasetPath string
	Revision    string
}

// ObjectID returns the service-side object identifier: the storage filename
// under which the bytes are addressed.
func (o PushObject) ObjectID() string { return path.Base(o.ObjectPath) }

// ObjectID returns the service-side object identifier.
func (o PullObject) ObjectID() string { return path.Base(o.ObjectPath) }

// ProgressFunc receives the number of bytes moved by one successful transfer
// step (a whole standard object, one multipart part, or one download write).
// The caller accumulates; the pipeline itself keeps no running total.
type ProgressFunc func(bytesMoved int64)

// PresignKind tags the outcome of a presign request.
type PresignKind int

const (
	// Presigned: the service granted a time-limited URL
	Presigned PresignKind = iota

	// AlreadyExists: the service already holds this object (HTTP 403
	// convention); the transfer is skipped and counted as success
	AlreadyExists
)

// PresignResult is the tagged outcome of a presign request. Service and
// transport failures are reported out-of-band as *ServiceError, so a
// PresignResult always describes a usable outcome.
type PresignResult struct {
	Kind  PresignKind
	URL   string
	KeyID string
}

// CompletedPart records one finished multipart part for the completion call.
type CompletedPart struct {
	PartNumber int    `json:"PartNumber"`
	ETag       string `json:"ETag"`
}

// partSpec describes one pending part of a multipart upload: its 1-based
// number and the byte range [offset, offset+length) of the compressed file.
type partSpec struct {
	number int
	offset int64
	length int64
}

// splitParts cuts a compressed object of the given size into ordered parts
// of chunkSize bytes; the final part takes the remainder and may be shorter.
func splitParts(size, chunkSize int64) []partSpec {
	var parts []partSpec
	number := 1
	for offset := int64(0); offset < size; offset += chunkSize {
		length := chunkSize
		if offset+length > size {
			length = size - offset
		}
		parts = append(parts, partSpec{number: number, offset: offset, length: length})
		number++
	}
	return parts
}
