package llm

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// LLMError is implemented by every error a Provider returns for a failed
// completion. Temporary reports whether the same request may succeed later.
type LLMError interface {
	error
	Code() string
	Message() string
	Temporary() bool
}

const (
	ErrorCodeInvalidAPIKey      = "INVALID_API_KEY"
	ErrorCodeModelNotFound      = "MODEL_NOT_FOUND"
	ErrorCodeInsufficientQuota  = "INSUFFICIENT_QUOTA"
	ErrorCodeRequestTooLarge    = "REQUEST_TOO_LARGE"
	ErrorCodeInvalidRequest     = "INVALID_REQUEST"
	ErrorCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	ErrorCodeTimeout            = "TIMEOUT"
	ErrorCodeRateLimited        = "RATE_LIMITED"
	ErrorCodeNetwork            = "NETWORK_ERROR"
	ErrorCodeConfiguration      = "CONFIGURATION_ERROR"
	ErrorCodeEmptyResponse      = "EMPTY_RESPONSE"
	ErrorCodeUnknown            = "UNKNOWN_ERROR"
)

// APIError is a non-2xx answer from the completion endpoint.
type APIError struct {
	StatusCode int    `json:"status_code"`
	ErrorCode  string `json:"error_code"`
	Msg        string `json:"message"`
	Type       string `json:"type,omitempty"`
}

// NewAPIError classifies an endpoint failure by its HTTP status.
func NewAPIError(status int, message string) APIError {
	return APIError{
		StatusCode: status,
		ErrorCode:  codeForStatus(status),
		Msg:        message,
	}
}

func (e APIError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("completion endpoint returned %d %s (%s): %s", e.StatusCode, e.ErrorCode, e.Type, e.Msg)
	}
	return fmt.Sprintf("completion endpoint returned %d %s: %s", e.StatusCode, e.ErrorCode, e.Msg)
}

func (e APIError) Code() string    { return e.ErrorCode }
func (e APIError) Message() string { return e.Msg }

func (e APIError) Temporary() bool {
	return retryableStatus(e.StatusCode)
}

// RateLimitError is a 429 answer. RetryAfter is zero when the endpoint
// gave no hint.
type RateLimitError struct {
	Msg        string        `json:"message"`
	RetryAfter time.Duration `json:"retry_after"`
}

func NewRateLimitError(message string, retryAfter time.Duration) RateLimitError {
	return RateLimitError{Msg: message, RetryAfter: retryAfter}
}

func (e RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %s: %s", e.RetryAfter, e.Msg)
	}
	return "rate limited: " + e.Msg
}

func (e RateLimitError) Code() string    { return ErrorCodeRateLimited }
func (e RateLimitError) Message() string { return e.Msg }
func (e RateLimitError) Temporary() bool { return true }

// NetworkError is a failure to reach the endpoint at all.
type NetworkError struct {
	Op  string `json:"op"`
	Err error  `json:"-"`
}

func NewNetworkError(op string, err error) NetworkError {
	return NetworkError{Op: op, Err: err}
}

func (e NetworkError) Error() string {
	if e.Err == nil {
		return e.Op + ": network error"
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e NetworkError) Code() string { return ErrorCodeNetwork }

func (e NetworkError) Message() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

func (e NetworkError) Temporary() bool { return true }
func (e NetworkError) Unwrap() error   { return e.Err }

// ConfigurationError reports a provider setting that is missing or unusable.
type ConfigurationError struct {
	Field string `json:"field"`
	Hint  string `json:"hint,omitempty"`
}

func NewConfigurationError(field, hint string) ConfigurationError {
	return ConfigurationError{Field: field, Hint: hint}
}

func (e ConfigurationError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("llm: %s is not configured (%s)", e.Field, e.Hint)
	}
	return fmt.Sprintf("llm: %s is not configured", e.Field)
}

func (e ConfigurationError) Code() string    { return ErrorCodeConfiguration }
func (e ConfigurationError) Message() string { return e.Field + " is not configured" }
func (e ConfigurationError) Temporary() bool { return false }

// EmptyResponseError is returned when the endpoint answers without choices.
type EmptyResponseError struct {
	Model string `json:"model"`
}

func (e EmptyResponseError) Error() string {
	return fmt.Sprintf("model %s returned no choices", e.Model)
}

func (e EmptyResponseError) Code() string    { return ErrorCodeEmptyResponse }
func (e EmptyResponseError) Message() string { return "no choices in response" }
func (e EmptyResponseError) Temporary() bool { return false }

// IsRetryable reports whether err, or an error it wraps, is a temporary
// LLMError.
func IsRetryable(err error) bool {
	var llmErr LLMError
	if errors.As(err, &llmErr) {
		return llmErr.Temporary()
	}
	return false
}

func retryableStatus(status int) bool {
	if status == http.StatusTooManyRequests {
		return true
	}
	return status >= 500 && status != http.StatusNotImplemented
}

func codeForStatus(status int) string {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrorCodeInvalidAPIKey
	case status == http.StatusNotFound:
		return ErrorCodeModelNotFound
	case status == http.StatusPaymentRequired:
		return ErrorCodeInsufficientQuota
	case status == http.StatusRequestEntityTooLarge:
		return ErrorCodeRequestTooLarge
	case status == http.StatusBadRequest:
		return ErrorCodeInvalidRequest
	case status == http.StatusTooManyRequests:
		return ErrorCodeRateLimited
	case status == http.StatusGatewayTimeout:
		return ErrorCodeTimeout
	case status >= 500:
		return ErrorCodeServiceUnavailable
	default:
		return ErrorCodeUnknown
	}
}
