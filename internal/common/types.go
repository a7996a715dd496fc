package common

import (
	"fmt"

	"github.com/google/uuid"
)

// ID is a UUID in its canonical string form.
type ID string

func NewID() ID {
	return ID(uuid.NewString())
}

// IsValid reports whether id parses as a UUID.
func (id ID) IsValid() bool {
	return uuid.Validate(string(id)) == nil
}

func (id ID) String() string {
	return string(id)
}

type (
	// RunID identifies one pipeline run; every record and event carries it.
	RunID ID
	// RecordID identifies one stored generation.
	RecordID ID
)

func NewRunID() RunID {
	return RunID(NewID())
}

func NewRecordID() RecordID {
	return RecordID(NewID())
}

// ParseRecordID validates s as a record identifier.
func ParseRecordID(s string) (RecordID, error) {
	if !ID(s).IsValid() {
		return "", ValidationError{Field: "id", Message: "must be a valid UUID"}
	}
	return RecordID(s), nil
}

// GenerationStatus is the outcome of one generation attempt
type GenerationStatus string

const (
	GenerationSucceeded GenerationStatus = "succeeded"
	GenerationFailed    GenerationStatus = "failed"
)

// String returns the string representation of GenerationStatus
func (s GenerationStatus) String() string {
	return string(s)
}

// IsValid checks if the GenerationStatus is valid
func (s GenerationStatus) IsValid() bool {
	switch s {
	case GenerationSucceeded, GenerationFailed:
		return true
	default:
		return false
	}
}

// ValidationError rejects caller input; the HTTP layer maps it to 400.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// NotFoundError maps to 404.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s with ID '%s' not found", e.Resource, e.ID)
}

// InternalError wraps a failure the caller cannot fix.
type InternalError struct {
	Message string
	Cause   error
}

func (e InternalError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("internal error: %s (caused by: %v)", e.Message, e.Cause)
	}
	return fmt.Sprintf("internal error: %s", e.Message)
}

func (e InternalError) Unwrap() error {
	return e.Cause
}
