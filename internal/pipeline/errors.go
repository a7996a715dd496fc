package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"lcmeval/internal/llm"
)

// PipelineError defines the interface for pipeline-specific errors
type PipelineError interface {
	error
	Code() string
	Message() string
	Temporary() bool
}

// pipelineError implements the PipelineError interface
type pipelineError struct {
	code      string
	message   string
	temporary bool
	cause     error
}

func (e *pipelineError) Error() string {
	return fmt.Sprintf("pipeline error [%s]: %s", e.code, e.message)
}

func (e *pipelineError) Code() string {
	return e.code
}

func (e *pipelineError) Message() string {
	return e.message
}

func (e *pipelineError) Temporary() bool {
	return e.temporary
}

func (e *pipelineError) Unwrap() error {
	return e.cause
}

// Error codes
const (
	ErrAlreadyRunning       = "pipeline_already_running"
	ErrInvalidConfiguration = "invalid_configuration"
	ErrGenerationFailed     = "generation_failed"
	ErrPersistFailed        = "persist_failed"
	ErrWorkerPanic          = "worker_panic"
	ErrShutdownTimeout      = "shutdown_timeout"
)

// GenerationError is a failed generation for one combination
type GenerationError struct {
	pipelineError
	APIs []string
}

// ConfigurationError reports an invalid runner setting
type ConfigurationError struct {
	pipelineError
	Field string
	Value interface{}
}

func NewAlreadyRunningError() error {
	return &pipelineError{code: ErrAlreadyRunning, message: "runner is already running"}
}

func NewConfigurationError(field string, value interface{}, message string) error {
	return &ConfigurationError{
		pipelineError: pipelineError{
			code:    ErrInvalidConfiguration,
			message: fmt.Sprintf("invalid configuration for field %s (value: %v): %s", field, value, message),
		},
		Field: field,
		Value: value,
	}
}

// NewGenerationError wraps a generator failure. It is temporary when the
// underlying LLM error is retryable.
func NewGenerationError(apis []string, err error) error {
	return &GenerationError{
		pipelineError: pipelineError{
			code:      ErrGenerationFailed,
			message:   fmt.Sprintf("generation failed for (%s): %v", strings.Join(apis, ", "), err),
			temporary: llm.IsRetryable(err),
			cause:     err,
		},
		APIs: apis,
	}
}

func NewPersistError(apis []string, err error) error {
	return &GenerationError{
		pipelineError: pipelineError{
			code:      ErrPersistFailed,
			message:   fmt.Sprintf("failed to persist generation for (%s): %v", strings.Join(apis, ", "), err),
			temporary: true,
			cause:     err,
		},
		APIs: apis,
	}
}

func NewWorkerPanicError(workerID int, recovered interface{}) error {
	return &pipelineError{
		code:    ErrWorkerPanic,
		message: fmt.Sprintf("worker %d panicked: %v", workerID, recovered),
	}
}

func NewShutdownError(timeoutSeconds int) error {
	return &pipelineError{
		code:    ErrShutdownTimeout,
		message: fmt.Sprintf("workers did not stop within %ds", timeoutSeconds),
	}
}

// IsRetryableError reports whether err is a temporary pipeline error
func IsRetryableError(err error) bool {
	var pipeErr PipelineError
	if errors.As(err, &pipeErr) {
		return pipeErr.Temporary()
	}
	return false
}

// HasCode reports whether err is a pipeline error with code
func HasCode(err error, code string) bool {
	var pipeErr PipelineError
	if errors.As(err, &pipeErr) {
		return pipeErr.Code() == code
	}
	return false
}
