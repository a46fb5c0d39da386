package storage

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when a mutation with the same id is already queued.
var ErrDuplicate = errors.New("already queued")

// StorageError reports a failure of the storage medium. Callers treat it as
// non-fatal and fall back to an empty or stale view.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// wrap turns a driver error into a StorageError. Sentinel errors of this
// package pass through untouched.
func wrap(op string, err error) error {
	if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrDuplicate) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}
