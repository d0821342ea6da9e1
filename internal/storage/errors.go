package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrStorage marks backend I/O failures.
	ErrStorage = errors.New("storage failure")
	// ErrStorageFull is returned when storing a new key would exceed MaxRecords.
	ErrStorageFull = errors.New("storage full")
	// ErrRecordNotFound is returned by lookups that require the record to exist.
	ErrRecordNotFound = errors.New("record not found")
	// ErrInvalidMaxAge is returned by Cleanup for a negative age.
	ErrInvalidMaxAge = errors.New("max age must not be negative")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("storage closed")
)

// Error records the operation and backend that failed.
type Error struct {
	Op      string
	Backend string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Backend, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(backend, op string, err error) error {
	return &Error{Op: op, Backend: backend, Err: err}
}

// ioError wraps a backend failure so it matches both ErrStorage and the cause.
func ioError(backend, op string, err error) error {
	return newError(backend, op, fmt.Errorf("%w: %w", ErrStorage, err))
}
