package errors

import (
	"fmt"
	"time"
)

// ErrorType represents the type of error
type ErrorType string

const (
	ErrorTypeValidation         ErrorType = "validation"
	ErrorTypeNotFound           ErrorType = "not_found"
	ErrorTypeConflict           ErrorType = "conflict"
	ErrorTypeNoHealthyInstances ErrorType = "no_healthy_instances"
	ErrorTypeCircuitOpen        ErrorType = "circuit_open"
	ErrorTypeTimeout            ErrorType = "timeout"
	ErrorTypeNetwork            ErrorType = "network"
	ErrorTypeClient             ErrorType = "client"
	ErrorTypeRateLimit          ErrorType = "rate_limit"
	ErrorTypeAllFallbacksFailed ErrorType = "all_fallbacks_failed"
	ErrorTypeInternal           ErrorType = "internal"
)

// AppError represents an application error with context
type AppError struct {
	Type          ErrorType         `json:"type"`
	Code          string            `json:"code"`
	Message       string            `json:"message"`
	Details       map[string]string `json:"details,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
	Cause         error             `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewAppError creates a new application error
func NewAppError(errorType ErrorType, code, message string) *AppError {
	return &AppError{
		Type:      errorType,
		Code:      code,
		Message:   message,
		Details:   make(map[string]string),
		Timestamp: time.Now(),
	}
}

// WithCause adds a cause to the error
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithDetail adds a detail to the error
func (e *AppError) WithDetail(key, value string) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithCorrelationID attaches the correlation id of the logical call
func (e *AppError) WithCorrelationID(correlationID string) *AppError {
	e.CorrelationID = correlationID
	return e
}

// Common error constructors
func NewValidationError(message string) *AppError {
	return NewAppError(ErrorTypeValidation, "VALIDATION_ERROR", message)
}

func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrorTypeNotFound, "NOT_FOUND", fmt.Sprintf("%s not found", resource))
}

func NewConflictError(message string) *AppError {
	return NewAppError(ErrorTypeConflict, "CONFLICT", message)
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrorTypeInternal, "INTERNAL_ERROR", message)
}

// Mesh-client error constructors

func NewNoHealthyInstancesError(service string) *AppError {
	return NewAppError(ErrorTypeNoHealthyInstances, "NO_HEALTHY_INSTANCES",
		fmt.Sprintf("no healthy instances available for service %s", service)).
		WithDetail("service", service)
}

func NewCircuitOpenError(service string) *AppError {
	return NewAppError(ErrorTypeCircuitOpen, "CIRCUIT_OPEN",
		fmt.Sprintf("circuit breaker for service %s is open", service)).
		WithDetail("service", service)
}

func NewTimeoutError(operation string) *AppError {
	return NewAppError(ErrorTypeTimeout, "TIMEOUT", fmt.Sprintf("%s timed out", operation))
}

func NewNetworkError(service, message string) *AppError {
	return NewAppError(ErrorTypeNetwork, "NETWORK_ERROR", message).
		WithDetail("service", service)
}

// NewClientError marks a non-retryable downstream 4xx
func NewClientError(service string, statusCode int) *AppError {
	return NewAppError(ErrorTypeClient, "CLIENT_ERROR",
		fmt.Sprintf("service %s rejected the request with status %d", service, statusCode)).
		WithDetail("service", service).
		WithDetail("status_code", fmt.Sprintf("%d", statusCode))
}

func NewRateLimitError(service string) *AppError {
	return NewAppError(ErrorTypeRateLimit, "RATE_LIMITED",
		fmt.Sprintf("service %s rate limited the request", service)).
		WithDetail("service", service)
}

func NewAllFallbacksFailedError(operation string) *AppError {
	return NewAppError(ErrorTypeAllFallbacksFailed, "ALL_FALLBACKS_FAILED",
		fmt.Sprintf("all fallback strategies failed for operation %s", operation)).
		WithDetail("operation", operation)
}

// IsType checks if the error is of a specific type
func IsType(err error, errorType ErrorType) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Type == errorType
	}
	return false
}

// IsRetryable reports whether the resilient client may retry after this error.
// Transient network failures, timeouts and 429s are retryable; client errors
// and open-circuit rejections are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch GetType(err) {
	case ErrorTypeTimeout, ErrorTypeNetwork, ErrorTypeRateLimit:
		return true
	default:
		return false
	}
}

// GetCode returns the error code if it's an AppError
func GetCode(err error) string {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code
	}
	return "UNKNOWN_ERROR"
}

// GetType returns the error type if it's an AppError
func GetType(err error) ErrorType {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Type
	}
	return ErrorTypeInternal
}

// GetCorrelationID returns the correlation id carried by the error, if any
func GetCorrelationID(err error) string {
	if appErr, ok := err.(*AppError); ok {
		return appErr.CorrelationID
	}
	return ""
}
