package errors

import (
	stderrors "errors"
	"fmt"
)

// BiblioError is the structured error type for Biblio.
// It provides rich context for error handling, logging, and user presentation.
type BiblioError struct {
	// Code is the unique error code (e.g., "ERR_303_PROVIDER_AUTH").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, IO, Provider, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *BiblioError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *BiblioError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with BiblioError.
func (e *BiblioError) Is(target error) bool {
	if t, ok := target.(*BiblioError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *BiblioError) WithDetail(key, value string) *BiblioError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
// Returns the error for method chaining.
func (e *BiblioError) WithSuggestion(suggestion string) *BiblioError {
	e.Suggestion = suggestion
	return e
}

// New creates a new BiblioError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *BiblioError {
	return &BiblioError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a BiblioError from an existing error.
// The error's message becomes the BiblioError message.
func Wrap(code string, err error) *BiblioError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *BiblioError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// ExtractError creates a text extraction error for a source file.
func ExtractError(message string, cause error) *BiblioError {
	return New(ErrCodeExtractFailed, message, cause)
}

// ProviderError creates an embedding provider error.
// Provider timeouts and outages are retryable.
func ProviderError(message string, cause error) *BiblioError {
	return New(ErrCodeProviderUnavailable, message, cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *BiblioError {
	return New(ErrCodeInvalidInput, message, cause)
}

// StoreError creates a vector store error.
func StoreError(message string, cause error) *BiblioError {
	return New(ErrCodeStoreUnavailable, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *BiblioError {
	return New(ErrCodeInternal, message, cause)
}

// IsRetryable checks if an error is retryable.
// Returns true if the error is a BiblioError with Retryable flag set.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var be *BiblioError
	if stderrors.As(err, &be) {
		return be.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
// Fatal errors should abort the current operation.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var be *BiblioError
	if stderrors.As(err, &be) {
		return be.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from a BiblioError anywhere in the
// chain. Returns empty string if none is found.
func GetCode(err error) string {
	var be *BiblioError
	if stderrors.As(err, &be) {
		return be.Code
	}
	return ""
}

// GetCategory extracts the category from a BiblioError anywhere in the
// chain. Returns empty string if none is found.
func GetCategory(err error) Category {
	var be *BiblioError
	if stderrors.As(err, &be) {
		return be.Category
	}
	return ""
}
