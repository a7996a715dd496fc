package store

import (
	"errors"
	"fmt"
)

// ErrCodeRepository is the code of every RepositoryError
const ErrCodeRepository = "REPOSITORY_ERROR"

// ErrEmptyKey is returned when marking an empty combination covered
var ErrEmptyKey = errors.New("combination key is empty")

// RepositoryError wraps a failed database operation
type RepositoryError struct {
	Operation string
	Cause     error
}

func (e RepositoryError) Error() string {
	return fmt.Sprintf("repository operation '%s' failed: %v", e.Operation, e.Cause)
}

func (e RepositoryError) Code() string {
	return ErrCodeRepository
}

func (e RepositoryError) Message() string {
	return e.Operation + " failed"
}

func (e RepositoryError) Temporary() bool {
	return true
}

func (e RepositoryError) Unwrap() error {
	return e.Cause
}

// WrapRepositoryError wraps err as a RepositoryError
func WrapRepositoryError(err error, operation string) error {
	if err == nil {
		return nil
	}
	return RepositoryError{Operation: operation, Cause: err}
}
