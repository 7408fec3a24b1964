package ports

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrStorageUnavailable matches every StorageError.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrInvalidAmount is returned for negative character counts.
	ErrInvalidAmount = errors.New("character count must not be negative")
)

// StorageError wraps a failure of a storage backend.
type StorageError struct {
	Op      string // "read", "consume", "prune", ...
	Backend string // "memory", "sqlite", "postgres", "redis"
	Err     error
}

// NewStorageError wraps err as a StorageError.
func NewStorageError(backend, op string, err error) *StorageError {
	return &StorageError{Op: op, Backend: backend, Err: err}
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Backend, e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Is makes every StorageError match ErrStorageUnavailable.
func (e *StorageError) Is(target error) bool {
	return target == ErrStorageUnavailable
}
