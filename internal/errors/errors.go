package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// NewsError is the structured error type for newsline.
// It carries enough context for the engines to decide between rejecting,
// retrying, and degrading.
type NewsError struct {
	// Code is the unique error code (e.g., "ERR_201_UPSTREAM_TIMEOUT").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is derived from the code's hundreds digit.
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
func (e *NewsError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *NewsError) Unwrap() error {
	return e.Cause
}

// Is matches by code so errors.Is works against sentinel values.
func (e *NewsError) Is(target error) bool {
	if t, ok := target.(*NewsError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *NewsError) WithDetail(key, value string) *NewsError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *NewsError) WithSuggestion(suggestion string) *NewsError {
	e.Suggestion = suggestion
	return e
}

// New creates a new NewsError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *NewsError {
	return &NewsError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a NewsError from an existing error.
func Wrap(code string, err error) *NewsError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// InvalidInput creates a validation error. The request is rejected with no partial work.
func InvalidInput(message string) *NewsError {
	return New(ErrCodeInvalidInput, message, nil)
}

// LimitExceeded reports a result limit above the configured maximum.
func LimitExceeded(requested, max int) *NewsError {
	return New(ErrCodeLimitExceeded,
		fmt.Sprintf("requested limit %d exceeds maximum %d", requested, max), nil).
		WithDetail("requested", fmt.Sprint(requested)).
		WithDetail("max", fmt.Sprint(max))
}

// InvalidFilter reports a malformed filter such as an inverted date range.
func InvalidFilter(message string) *NewsError {
	return New(ErrCodeInvalidFilter, message, nil)
}

// UpstreamTimeout wraps a collaborator call that ran past its deadline.
func UpstreamTimeout(upstream string, cause error) *NewsError {
	return New(ErrCodeUpstreamTimeout, upstream+" timed out", cause).
		WithDetail("upstream", upstream)
}

// UpstreamUnavailable wraps a collaborator call that could not be completed.
func UpstreamUnavailable(upstream string, cause error) *NewsError {
	return New(ErrCodeUpstreamUnavailable, upstream+" unavailable", cause).
		WithDetail("upstream", upstream)
}

// MalformedUpstream reports a response that could not be parsed into the expected shape.
func MalformedUpstream(upstream, message string, cause error) *NewsError {
	return New(ErrCodeMalformedUpstream, upstream+": "+message, cause).
		WithDetail("upstream", upstream)
}

// CacheCorruption reports an unreadable cache entry. Callers treat it as a miss.
func CacheCorruption(key string, cause error) *NewsError {
	return New(ErrCodeCacheCorruption, "cache entry corrupted", cause).
		WithDetail("key", key)
}

// StoreFailure wraps an article or vector store error.
func StoreFailure(message string, cause error) *NewsError {
	return New(ErrCodeStoreFailure, message, cause)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *NewsError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *NewsError {
	return New(ErrCodeInternal, message, cause)
}

// Classify maps an arbitrary upstream error onto the taxonomy.
// NewsErrors pass through; deadline and network failures become typed
// upstream errors; context cancellation is returned as-is.
func Classify(upstream string, err error) error {
	if err == nil {
		return nil
	}

	var ne *NewsError
	if errors.As(err, &ne) {
		return err
	}

	if errors.Is(err, context.Canceled) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return UpstreamTimeout(upstream, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return UpstreamTimeout(upstream, err)
	}

	return UpstreamUnavailable(upstream, err)
}

// IsRetryable checks if an error is retryable anywhere in its chain.
func IsRetryable(err error) bool {
	var ne *NewsError
	if errors.As(err, &ne) {
		return ne.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
func IsFatal(err error) bool {
	var ne *NewsError
	if errors.As(err, &ne) {
		return ne.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from the first NewsError in the chain.
// Returns empty string if there is none.
func GetCode(err error) string {
	var ne *NewsError
	if errors.As(err, &ne) {
		return ne.Code
	}
	return ""
}

// GetCategory extracts the category from the first NewsError in the chain.
func GetCategory(err error) Category {
	var ne *NewsError
	if errors.As(err, &ne) {
		return ne.Category
	}
	return ""
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code string) bool {
	return errors.Is(err, &NewsError{Code: code})
}
