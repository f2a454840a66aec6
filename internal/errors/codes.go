// Package errors provides structured error handling for recyclix.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: IO errors (directories, locks, on-disk metadata)
//   - 3XX: Engine errors (open/create, schema mismatch)
//   - 4XX: Write errors (encode, stage, buffer)
//   - 5XX: Commit errors
//   - 6XX: Recycle errors
//   - 7XX: Query errors
//   - 9XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIO indicates file, directory and lock errors.
	CategoryIO Category = "IO"
	// CategoryEngine indicates the search engine refused to open or create an index.
	CategoryEngine Category = "ENGINE"
	// CategoryWrite indicates a batch could not be staged.
	CategoryWrite Category = "WRITE"
	// CategoryCommit indicates staged writes could not be made durable.
	CategoryCommit Category = "COMMIT"
	// CategoryRecycle indicates the writer could not be replaced.
	CategoryRecycle Category = "RECYCLE"
	// CategoryQuery indicates a query could not be executed.
	CategoryQuery Category = "QUERY"
	// CategoryInternal indicates unexpected internal errors.
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
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"
	ErrCodeSchemaInvalid  = "ERR_103_SCHEMA_INVALID"

	// IO errors (200-299)
	ErrCodeDirCreate    = "ERR_201_DIR_CREATE"
	ErrCodeIndexLocked  = "ERR_202_INDEX_LOCKED"
	ErrCodeFileNotFound = "ERR_203_FILE_NOT_FOUND"
	ErrCodeCorruptIndex = "ERR_205_CORRUPT_INDEX"

	// Engine errors (300-399)
	ErrCodeEngineOpen     = "ERR_301_ENGINE_OPEN"
	ErrCodeSchemaMismatch = "ERR_302_SCHEMA_MISMATCH"

	// Write errors (400-499)
	ErrCodeInvalidInput = "ERR_401_INVALID_INPUT"
	ErrCodeEncodeFailed = "ERR_402_ENCODE_FAILED"
	ErrCodeWriteFailed  = "ERR_403_WRITE_FAILED"
	ErrCodeBufferFull   = "ERR_404_BUFFER_FULL"

	// Commit errors (500-599)
	ErrCodeCommitFailed = "ERR_501_COMMIT_FAILED"

	// Recycle errors (600-699)
	ErrCodeRecycleFailed = "ERR_601_RECYCLE_FAILED"

	// Query errors (700-799)
	ErrCodeQueryFailed = "ERR_701_QUERY_FAILED"
	ErrCodeFetchFailed = "ERR_702_FETCH_FAILED"

	// Internal errors (900-999)
	ErrCodeInternal = "ERR_901_INTERNAL"
	ErrCodeClosed   = "ERR_908_CLOSED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Extract numeric portion (e.g., "101" from "ERR_101_CONFIG_NOT_FOUND")
	numStr := code[4:7]

	switch numStr[0] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '3':
		return CategoryEngine
	case '4':
		return CategoryWrite
	case '5':
		return CategoryCommit
	case '6':
		return CategoryRecycle
	case '7':
		return CategoryQuery
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeCorruptIndex, ErrCodeSchemaMismatch, ErrCodeRecycleFailed:
		return SeverityFatal
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
// A failed commit leaves nothing durable, so the whole batch may be resent.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeCommitFailed, ErrCodeIndexLocked:
		return true
	default:
		return false
	}
}
