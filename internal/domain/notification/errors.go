package notification

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNotRetryable      = errors.New("notification is not retryable")
	ErrNotFound          = errors.New("notification not found")
	ErrStorage           = errors.New("storage failure")
	ErrInvalidArgument   = errors.New("invalid argument")
)

type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s -> %s", ErrInvalidTransition, e.From, e.To)
}

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// StorageError wraps a driver error. Callers may retry operations failing with it.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrStorage, e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}
