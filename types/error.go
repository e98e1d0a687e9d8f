package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the framework.
type ErrorCode string

// Retrieval error codes
const (
	ErrNotFound         ErrorCode = "NOT_FOUND"          // node/document/relationship does not exist
	ErrStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"  // a sub-store call failed or timed out
	ErrInvalidQuery     ErrorCode = "INVALID_QUERY"      // empty or malformed query text
	ErrStoreConflict    ErrorCode = "STORE_CONFLICT"     // write rejected by the backing store
	ErrEmbeddingFailed  ErrorCode = "EMBEDDING_FAILED"   // embedding capability returned an error
)

// Generation error codes
const (
	ErrAllProvidersFailed ErrorCode = "ALL_PROVIDERS_FAILED" // every provider in the fallback chain failed
	ErrProviderFailed     ErrorCode = "PROVIDER_FAILED"      // a single provider call failed
	ErrContextTooLong     ErrorCode = "CONTEXT_TOO_LONG"
	ErrUpstreamTimeout    ErrorCode = "UPSTREAM_TIMEOUT"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Store     string    `json:"store,omitempty"`    // originating sub-store, when applicable
	Provider  string    `json:"provider,omitempty"` // originating provider, when applicable
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Cause }

// Is supports errors.Is matching by code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// NewNotFound creates a NOT_FOUND error for the given kind and id.
func NewNotFound(kind, id string) *Error {
	return &Error{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s %q not found", kind, id),
	}
}

// NewStoreUnavailable wraps a failed sub-store call. Always retryable:
// the store may recover on a later request.
func NewStoreUnavailable(store string, cause error) *Error {
	return &Error{
		Code:      ErrStoreUnavailable,
		Message:   fmt.Sprintf("store %q unavailable", store),
		Retryable: true,
		Store:     store,
		Cause:     cause,
	}
}

// NewInvalidQuery reports an empty or malformed query.
func NewInvalidQuery(reason string) *Error {
	return &Error{
		Code:    ErrInvalidQuery,
		Message: "invalid query: " + reason,
	}
}

// NewAllProvidersFailed aggregates the chain's per-provider failures.
func NewAllProvidersFailed(attempts int, cause error) *Error {
	return &Error{
		Code:      ErrAllProvidersFailed,
		Message:   fmt.Sprintf("all %d generation providers failed", attempts),
		Retryable: true,
		Cause:     cause,
	}
}

// IsCode reports whether err carries the given ErrorCode.
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Code == code
}
