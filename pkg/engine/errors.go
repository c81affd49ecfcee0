package engine

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an error for recovery and
// exit-code logic.
type ErrorClass string

const (
	// ErrorClassTransient indicates a temporary failure that may succeed
	// on a later run. Examples: remote target connection drops.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassConflict indicates a state conflict between plugins or
	// runs. Examples: section content conflicts, a locked target root.
	ErrorClassConflict ErrorClass = "conflict"

	// ErrorClassPermanent indicates a non-recoverable error.
	// Examples: unknown plugin, missing parameter, path escape.
	ErrorClassPermanent ErrorClass = "permanent"
)

// EngineError represents a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Plugin is the plugin ID that caused the error, if applicable.
	Plugin string `json:"plugin,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	if e.Plugin != "" && e.Operation != "" {
		return fmt.Sprintf("[%s] %s (plugin=%s, operation=%s): %s",
			e.Class, e.Message, e.Plugin, e.Operation, e.unwrapMessage())
	}
	if e.Plugin != "" {
		return fmt.Sprintf("[%s] %s (plugin=%s): %s",
			e.Class, e.Message, e.Plugin, e.unwrapMessage())
	}
	return fmt.Sprintf("[%s] %s: %s", e.Class, e.Message, e.unwrapMessage())
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// unwrapMessage returns the error message from the underlying error chain.
func (e *EngineError) unwrapMessage() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewTransientError creates a new transient error.
func NewTransientError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassTransient,
		Message: message,
		Err:     err,
	}
}

// NewConflictError creates a new conflict error.
func NewConflictError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassConflict,
		Message: message,
		Err:     err,
	}
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassPermanent,
		Message: message,
		Err:     err,
	}
}

// WithPlugin adds plugin context to an error.
func (e *EngineError) WithPlugin(pluginID string) *EngineError {
	e.Plugin = pluginID
	return e
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassTransient
	}
	return false
}

// IsConflict returns true if the error is classified as a conflict.
func IsConflict(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassConflict
	}
	return false
}

// IsPermanent returns true if the error is classified as permanent.
func IsPermanent(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassPermanent
	}
	return false
}

// HasCode returns true if the error carries the given code.
func HasCode(err error, code string) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// Common error codes. Graph-construction codes surface before any write
// reaches the target; execution codes surface in node results.
const (
	// Graph construction.
	ErrCodeUnknownPlugin    = "UNKNOWN_PLUGIN"
	ErrCodeMissingParameter = "MISSING_PARAMETER"
	ErrCodeCycleDetected    = "CYCLE_DETECTED"
	ErrCodePathEscape       = "PATH_ESCAPE"
	ErrCodeArtifactConflict = "ARTIFACT_CONFLICT"
	ErrCodeDepthExceeded    = "DEPTH_EXCEEDED"
	ErrCodeValidation       = "VALIDATION_ERROR"

	// Execution.
	ErrCodeArtifactWrite             = "ARTIFACT_WRITE_FAILED"
	ErrCodeValidationFailure         = "VALIDATION_FAILURE"
	ErrCodeMissingOptionalDependency = "MISSING_OPTIONAL_DEPENDENCY"
	ErrCodeCheckFailed               = "CHECK_FAILED"
	ErrCodeInternal                  = "INTERNAL_ERROR"
)
