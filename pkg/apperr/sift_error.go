// Package apperr defines the pipeline's typed error taxonomy.
package apperr

import (
	"errors"
	"fmt"
)

// Error codes
const (
	// Per-message errors: recorded, never abort the batch.
	CodeExtractionFailed = "EXTRACTION_FAILED"
	CodeModelTimeout     = "MODEL_TIMEOUT"
	CodeModelError       = "MODEL_ERROR"

	// Run-fatal errors: surfaced to the caller, batch stops cleanly.
	CodePersistenceError = "PERSISTENCE_ERROR"
	CodeConfigError      = "CONFIG_ERROR"

	CodeInternalError = "INTERNAL_ERROR"
)

// AppError is a structured application error.
type AppError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Err     error          `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// Fatal reports whether this error must stop the whole run rather than
// just mark the message.
func (e *AppError) Fatal() bool {
	return e.Code == CodePersistenceError || e.Code == CodeConfigError
}

// Constructor functions

func New(code, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

func Wrap(err error, code, message string) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// ExtractionFailed marks a message with no readable content.
func ExtractionFailed(messageID string) *AppError {
	return &AppError{
		Code:    CodeExtractionFailed,
		Message: "no readable content",
		Details: map[string]any{"message_id": messageID},
	}
}

// ModelTimeout marks a model call abandoned by its wall-clock budget.
func ModelTimeout(stage string) *AppError {
	return &AppError{
		Code:    CodeModelTimeout,
		Message: fmt.Sprintf("model call timed out: %s", stage),
		Details: map[string]any{"stage": stage},
	}
}

// ModelError marks an unexpected model-layer failure; handled like a
// timeout.
func ModelError(stage string, err error) *AppError {
	return &AppError{
		Code:    CodeModelError,
		Message: fmt.Sprintf("model call failed: %s", stage),
		Details: map[string]any{"stage": stage},
		Err:     err,
	}
}

// PersistenceError stops the batch; results must not be silently dropped.
func PersistenceError(operation string, err error) *AppError {
	return &AppError{
		Code:    CodePersistenceError,
		Message: fmt.Sprintf("persistence error: %s", operation),
		Err:     err,
	}
}

// ConfigError is fatal at startup.
func ConfigError(message string) *AppError {
	return &AppError{Code: CodeConfigError, Message: message}
}

func InternalWithError(err error) *AppError {
	return &AppError{Code: CodeInternalError, Message: "internal error", Err: err}
}

// Helper functions

func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

func AsAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return InternalWithError(err)
}

// IsFatal reports whether an error must stop the run.
func IsFatal(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Fatal()
	}
	return false
}

// HasCode reports whether err carries the given code anywhere in its
// chain.
func HasCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}
