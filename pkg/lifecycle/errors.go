package lifecycle

import (
	"errors"
	"fmt"
)

// ErrorCode classifies lifecycle failures so the API layer can map them to
// status categories.
type ErrorCode int

const (
	// ErrConflict: version-stamp mismatch or an unresolvable storage race
	ErrConflict ErrorCode = iota

	// ErrVetoed: a registered pre-write check rejected the operation
	ErrVetoed

	// ErrNotFound: no live record at the path
	ErrNotFound

	// ErrDestinationExists: rename target holds a live record
	ErrDestinationExists

	// ErrSyncLocked: the path is held by the synchronization subsystem
	ErrSyncLocked

	// ErrSizeMismatch: ingested bytes differ from the declared length
	ErrSizeMismatch

	// ErrRetriesExhausted: a chunk kept conflicting past the retry bound
	ErrRetriesExhausted

	// ErrInvalidPath: the path cannot be canonicalized or is reserved
	ErrInvalidPath

	// ErrCancelled: the caller's context ended mid-operation
	ErrCancelled

	// ErrUploadIncomplete: the file exists but its upload has not finished
	ErrUploadIncomplete
)

func (c ErrorCode) String() string {
	switch c {
	case ErrConflict:
		return "Conflict"
	case ErrVetoed:
		return "Vetoed"
	case ErrNotFound:
		return "NotFound"
	case ErrDestinationExists:
		return "DestinationExists"
	case ErrSyncLocked:
		return "SyncLocked"
	case ErrSizeMismatch:
		return "SizeMismatch"
	case ErrRetriesExhausted:
		return "RetriesExhausted"
	case ErrInvalidPath:
		return "InvalidPath"
	case ErrCancelled:
		return "Cancelled"
	case ErrUploadIncomplete:
		return "UploadIncomplete"
	default:
		return "Unknown"
	}
}

// Error is the structured failure returned by Engine operations.
//
// Only the fields relevant to Code are set: Expected/Actual for conflicts,
// Hook/Reason for vetoes, NewPath for renames.
type Error struct {
	Code    ErrorCode
	Message string
	Path    string
	NewPath string

	Expected uint64
	Actual   uint64

	Hook   string
	Reason string

	// Err is the underlying cause, if any
	Err error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Path != "" {
		msg += fmt.Sprintf(" (path: %s)", e.Path)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsCode reports whether err is (or wraps) a lifecycle *Error with code.
func IsCode(err error, code ErrorCode) bool {
	var le *Error
	return errors.As(err, &le) && le.Code == code
}

func newError(code ErrorCode, path, format string, args ...any) *Error {
	return &Error{Code: code, Path: path, Message: fmt.Sprintf(format, args...)}
}

func conflictError(path string, expected, actual uint64) *Error {
	return &Error{
		Code:     ErrConflict,
		Path:     path,
		Message:  fmt.Sprintf("version mismatch: expected %d, actual %d", expected, actual),
		Expected: expected,
		Actual:   actual,
	}
}
