package errors

import (
	"errors"
	"fmt"
)

// IndexError is the structured error type for filegraph.
// It carries the classification the indexing pipeline dispatches on:
// skip-and-continue, transient (retry), or fatal for the current unit.
type IndexError struct {
	// Code is the unique error code (e.g., "ERR_211_UNSUPPORTED_FORMAT").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, IO, Network, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool
}

// Error implements the error interface.
func (e *IndexError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *IndexError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with IndexError.
func (e *IndexError) Is(target error) bool {
	if t, ok := target.(*IndexError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *IndexError) WithDetail(key, value string) *IndexError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates a new IndexError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *IndexError {
	return &IndexError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates an IndexError from an existing error.
// The error's message becomes the IndexError message.
func Wrap(code string, err error) *IndexError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// Skip creates a skip-and-continue error for content that is intentionally
// not indexed (binary, unsupported format, empty extraction).
func Skip(code string, message string) *IndexError {
	return New(code, message, nil)
}

// IsRetryable checks if an error is retryable.
// Walks the error chain so wrapped IndexErrors are still classified.
func IsRetryable(err error) bool {
	var ie *IndexError
	if errors.As(err, &ie) {
		return ie.Retryable
	}
	return false
}

// IsSkip checks if an error belongs to the skip-and-continue class.
// Skips are counted, never retried, and never abort a subscription.
func IsSkip(err error) bool {
	var ie *IndexError
	if errors.As(err, &ie) {
		return ie.Severity == SeveritySkip
	}
	return false
}

// GetCode extracts the error code from an IndexError anywhere in the
// chain. Returns empty string if none is found.
func GetCode(err error) string {
	var ie *IndexError
	if errors.As(err, &ie) {
		return ie.Code
	}
	return ""
}
