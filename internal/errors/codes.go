// Package errors provides structured error handling for filegraph.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: IO and content errors (file, extraction)
//   - 3XX: Network errors (embedding, vision-language endpoints)
//   - 4XX: Validation errors
//   - 5XX: Graph store and internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIO indicates file, extraction and content errors.
	CategoryIO Category = "IO"
	// CategoryNetwork indicates network-related errors.
	CategoryNetwork Category = "NETWORK"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates graph store and internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but processing can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
	// SeveritySkip indicates content intentionally not indexed.
	SeveritySkip Severity = "SKIP"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigInvalid = "ERR_102_CONFIG_INVALID"

	// IO and content errors (200-299)
	ErrCodeFileNotFound      = "ERR_201_FILE_NOT_FOUND"
	ErrCodeFilePermission    = "ERR_202_FILE_PERMISSION"
	ErrCodeBinaryContent     = "ERR_210_BINARY_CONTENT"
	ErrCodeUnsupportedFormat = "ERR_211_UNSUPPORTED_FORMAT"
	ErrCodeEmptyExtraction   = "ERR_212_EMPTY_EXTRACTION"
	ErrCodePartialWrite      = "ERR_213_PARTIAL_WRITE"

	// Network errors (300-399)
	ErrCodeNetworkTimeout = "ERR_301_NETWORK_TIMEOUT"
	ErrCodeModelLoading   = "ERR_302_MODEL_LOADING"
	ErrCodeTruncatedBody  = "ERR_303_TRUNCATED_BODY"
	ErrCodeConnReset      = "ERR_304_CONNECTION_RESET"

	// Validation errors (400-499)
	ErrCodeInvalidInput      = "ERR_401_INVALID_INPUT"
	ErrCodeDimensionMismatch = "ERR_402_DIMENSION_MISMATCH"
	ErrCodeInvalidPath       = "ERR_406_INVALID_PATH"

	// Graph store and internal errors (500-599)
	ErrCodeInternal        = "ERR_501_INTERNAL"
	ErrCodeEmbeddingFailed = "ERR_502_EMBEDDING_FAILED"
	ErrCodeSearchFailed    = "ERR_503_SEARCH_FAILED"
	ErrCodeGraphTransient  = "ERR_510_GRAPH_TRANSIENT"
	ErrCodeGraphWrite      = "ERR_511_GRAPH_WRITE"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '3':
		return CategoryNetwork
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeBinaryContent, ErrCodeUnsupportedFormat, ErrCodeEmptyExtraction:
		// Skip-and-continue class: recorded in counters, never fatal.
		return SeveritySkip
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeNetworkTimeout, ErrCodeModelLoading, ErrCodeTruncatedBody,
		ErrCodeConnReset, ErrCodePartialWrite, ErrCodeGraphTransient:
		return true
	default:
		return false
	}
}
