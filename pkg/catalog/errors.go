package catalog

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound    = errors.New("book not found")
	ErrUnavailable = errors.New("catalog store unavailable: too many storage failures")
)

// ValidationError reports a book field that failed validation before any
// statement was sent to the database.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Message)
}

// StorageError wraps a failure reported by gorm or the database driver.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func IsStorage(err error) bool {
	var se *StorageError
	return errors.As(err, &se) || errors.Is(err, ErrUnavailable)
}
