// Package errors provides structured error handling for newsline.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Input validation errors (rejected before any work)
//   - 2XX: Upstream collaborator errors (embedding, oracle, vector store)
//   - 3XX: Cache errors (never surfaced to callers)
//   - 4XX: Storage errors
//   - 5XX: Configuration and internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryValidation indicates the caller sent something unusable.
	CategoryValidation Category = "VALIDATION"
	// CategoryUpstream indicates an external collaborator misbehaved.
	CategoryUpstream Category = "UPSTREAM"
	// CategoryCache indicates a cache entry could not be trusted.
	CategoryCache Category = "CACHE"
	// CategoryStorage indicates the article or vector store failed.
	CategoryStorage Category = "STORAGE"
	// CategoryInternal indicates configuration or unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
	// SeverityInfo indicates informational only.
	SeverityInfo Severity = "INFO"
)

// Error codes organized by category.
const (
	// Validation errors (100-199)
	ErrCodeInvalidInput  = "ERR_101_INVALID_INPUT"
	ErrCodeLimitExceeded = "ERR_102_LIMIT_EXCEEDED"
	ErrCodeInvalidFilter = "ERR_103_INVALID_FILTER"
	ErrCodeQueryEmpty    = "ERR_104_QUERY_EMPTY"

	// Upstream errors (200-299)
	ErrCodeUpstreamTimeout     = "ERR_201_UPSTREAM_TIMEOUT"
	ErrCodeUpstreamUnavailable = "ERR_202_UPSTREAM_UNAVAILABLE"
	ErrCodeMalformedUpstream   = "ERR_203_MALFORMED_UPSTREAM"

	// Cache errors (300-399)
	ErrCodeCacheCorruption = "ERR_301_CACHE_CORRUPTION"

	// Storage errors (400-499)
	ErrCodeStoreFailure      = "ERR_401_STORE_FAILURE"
	ErrCodeDimensionMismatch = "ERR_402_DIMENSION_MISMATCH"

	// Internal errors (500-599)
	ErrCodeConfigInvalid = "ERR_501_CONFIG_INVALID"
	ErrCodeInternal      = "ERR_502_INTERNAL"
	ErrCodeNoSignal      = "ERR_503_NO_SIGNAL"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Extract numeric portion (e.g., "201" from "ERR_201_UPSTREAM_TIMEOUT")
	numStr := code[4:7]

	switch numStr[0] {
	case '1':
		return CategoryValidation
	case '2':
		return CategoryUpstream
	case '3':
		return CategoryCache
	case '4':
		return CategoryStorage
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeNoSignal, ErrCodeConfigInvalid:
		return SeverityFatal
	case ErrCodeMalformedUpstream, ErrCodeCacheCorruption:
		return SeverityWarning
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a transient failure.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeUpstreamTimeout, ErrCodeUpstreamUnavailable:
		return true
	default:
		return false
	}
}
