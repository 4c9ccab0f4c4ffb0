package errors

import (
	stderrors "errors"
	"fmt"
)

// AmanError is the structured error type shared by every AmanRAG layer.
type AmanError struct {
	// Code is the unique error code (e.g., "ERR_304_SCORING_UNAVAILABLE").
	Code string

	// Message is the human-readable error message.
	Message string

	Category Category
	Severity Severity

	// Details holds extra context such as the recall path or endpoint.
	Details map[string]string

	// Cause is the wrapped error.
	Cause error

	// Retryable marks errors the resilience layer may retry.
	Retryable bool

	// Suggestion is an actionable hint printed by the CLI.
	Suggestion string
}

// Error implements the error interface.
func (e *AmanError) Error() string {
	if e.Cause != nil && e.Cause.Error() != e.Message {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap exposes the cause to errors.Is and errors.As.
func (e *AmanError) Unwrap() error {
	return e.Cause
}

// Is matches another AmanError by code.
func (e *AmanError) Is(target error) bool {
	if t, ok := target.(*AmanError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail and returns the error for chaining.
func (e *AmanError) WithDetail(key, value string) *AmanError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion sets the user hint and returns the error for chaining.
func (e *AmanError) WithSuggestion(suggestion string) *AmanError {
	e.Suggestion = suggestion
	return e
}

// New creates an AmanError; category, severity and retryability come from the code.
func New(code, message string, cause error) *AmanError {
	return &AmanError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap turns err into an AmanError carrying err's message. Nil stays nil.
func Wrap(code string, err error) *AmanError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration error.
func ConfigError(message string, cause error) *AmanError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// StorageError creates a chunk store error.
func StorageError(message string, cause error) *AmanError {
	return New(ErrCodeChunkStore, message, cause)
}

// NetworkError creates a retryable remote error.
func NetworkError(message string, cause error) *AmanError {
	return New(ErrCodeNetworkUnavailable, message, cause)
}

// ValidationError creates an input validation error.
func ValidationError(message string, cause error) *AmanError {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an unexpected internal error.
func InternalError(message string, cause error) *AmanError {
	return New(ErrCodeInternal, message, cause)
}

// As finds the first AmanError in err's chain.
func As(err error) (*AmanError, bool) {
	var ae *AmanError
	if stderrors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// IsRetryable reports whether any AmanError in the chain is retryable.
func IsRetryable(err error) bool {
	ae, ok := As(err)
	return ok && ae.Retryable
}

// IsFatal reports whether err carries fatal severity.
func IsFatal(err error) bool {
	ae, ok := As(err)
	return ok && ae.Severity == SeverityFatal
}

// GetCode returns the code of the first AmanError in the chain, or "".
func GetCode(err error) string {
	if ae, ok := As(err); ok {
		return ae.Code
	}
	return ""
}

// GetCategory returns the category of the first AmanError in the chain, or "".
func GetCategory(err error) Category {
	if ae, ok := As(err); ok {
		return ae.Category
	}
	return ""
}
