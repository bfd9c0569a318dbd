package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates the requested record, page, or config entry does
	// not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates the target path already holds a record.
	ErrAlreadyExists = errors.New("already exists")

	// ErrConflict indicates the batch lost an optimistic concurrency race
	// against another batch. The batch had no effect and may be retried.
	ErrConflict = errors.New("transaction conflict")

	// ErrReadOnly indicates a write was attempted inside View.
	ErrReadOnly = errors.New("read-only transaction")

	// ErrInvalidOffset indicates a page association out of stream order.
	ErrInvalidOffset = errors.New("invalid page offset")

	// ErrUploadComplete indicates a page association on a finished upload.
	ErrUploadComplete = errors.New("upload already complete")
)

// VersionMismatchError reports an optimistic concurrency failure on a record.
type VersionMismatchError struct {
	Path     string
	Expected uint64
	Actual   uint64
}

func (e *VersionMismatchError) Error() string {
	return fmt.Sprintf("version mismatch on %s: expected %d, actual %d", e.Path, e.Expected, e.Actual)
}

// IsConflict reports whether err is a retryable transaction conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
