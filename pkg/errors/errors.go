package errors

import (
	"context"
	"errors"
	"fmt"
)

// Generic error types

var (
	// ErrNotFound indicates a resource was not found
	ErrNotFound = errors.New("resource not found")

	// ErrAlreadyExists indicates a resource already exists
	ErrAlreadyExists = errors.New("resource already exists")

	// ErrInvalidInput indicates invalid input parameters
	ErrInvalidInput = errors.New("invalid input")

	// ErrInternal indicates an internal error
	ErrInternal = errors.New("internal error")

	// ErrTimeout indicates an operation timeout
	ErrTimeout = errors.New("operation timeout")

	// ErrUnavailable indicates a dependency is unavailable
	ErrUnavailable = errors.New("service unavailable")

	// ErrConfig indicates a required configuration value is missing or invalid
	ErrConfig = errors.New("configuration error")

	// ErrRateLimitExceeded indicates a caller exceeded its request budget
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
)

// Orchestration errors

var (
	// ErrAgentRunning is returned when a run is requested while one is in flight
	ErrAgentRunning = errors.New("agent is already running")

	// ErrAgentDisabled indicates the agent is configured as disabled
	ErrAgentDisabled = errors.New("agent is disabled")

	// ErrAgentNotFound indicates no agent is registered under the requested id
	ErrAgentNotFound = errors.New("agent not found")

	// ErrNotRunning indicates the orchestration manager has not been started
	ErrNotRunning = errors.New("orchestration not running")
)

// WebSocket errors

var (
	// ErrWSNotConnected indicates WebSocket is not connected
	ErrWSNotConnected = errors.New("websocket not connected")

	// ErrWSMaxReconnectAttempts indicates max reconnection attempts reached
	ErrWSMaxReconnectAttempts = errors.New("max websocket reconnection attempts reached")
)

// Error codes surfaced at the HTTP boundary
const (
	CodeConfig       = "CONFIG_ERROR"
	CodeRateLimited  = "RATE_LIMITED"
	CodeInvalidInput = "INVALID_INPUT"
	CodeNotFound     = "NOT_FOUND"
	CodeTimeout      = "TIMEOUT"
	CodeInternal     = "INTERNAL_ERROR"
)

// DomainError wraps an error with a machine readable code
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// CodeOf maps an error chain onto an HTTP-facing error code
func CodeOf(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}

	switch {
	case errors.Is(err, ErrConfig):
		return CodeConfig
	case errors.Is(err, ErrRateLimitExceeded):
		return CodeRateLimited
	case errors.Is(err, ErrInvalidInput):
		return CodeInvalidInput
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrAgentNotFound):
		return CodeNotFound
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	default:
		return CodeInternal
	}
}

// MultiError collects several independent failures
type MultiError struct {
	Errors []error
}

// Error implements the error interface
func (m *MultiError) Error() string {
	if len(m.Errors) == 0 {
		return "no errors"
	}
	if len(m.Errors) == 1 {
		return m.Errors[0].Error()
	}
	return fmt.Sprintf("multiple errors (%d): %v", len(m.Errors), m.Errors[0])
}

// Add adds an error to the list
func (m *MultiError) Add(err error) {
	if err != nil {
		m.Errors = append(m.Errors, err)
	}
}

// ToError returns the MultiError as an error, or nil if empty
func (m *MultiError) ToError() error {
	if len(m.Errors) == 0 {
		return nil
	}
	return m
}

// Is checks if err is or wraps target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target type
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Wrap wraps an error with context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

func New(message string) error {
	return errors.New(message)
}

func Newf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}
