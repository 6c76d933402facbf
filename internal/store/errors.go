package store

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by IDAtOffset when the store holds fewer records
// than the requested offset.
var ErrNotFound = errors.New("record not found")

// StorageError reports a failed operation against the local database.
type StorageError struct {
	// Op names the store operation, e.g. "append" or "remove up to".
	Op string

	// Err is the underlying driver error.
	Err error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsStorageError returns true if err is or wraps a *StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}
