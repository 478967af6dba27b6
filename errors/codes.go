package errors

// ErrorCode represents a machine-readable error code.
type ErrorCode string

// Backend availability errors (retryable)
const (
	// ErrCodeServiceUnavailable indicates a backend is temporarily unavailable.
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	// ErrCodeConnectionFailed indicates a failed connection to a backend.
	ErrCodeConnectionFailed ErrorCode = "CONNECTION_FAILED"
	// ErrCodeTimeout indicates the operation timed out.
	ErrCodeTimeout ErrorCode = "TIMEOUT"
)

// Reconciliation errors
const (
	// ErrCodeInspectionFailed indicates the inspector could not list containers.
	ErrCodeInspectionFailed ErrorCode = "INSPECTION_FAILED"
	// ErrCodePublishFailed indicates a record could not be written to the store.
	ErrCodePublishFailed ErrorCode = "PUBLISH_FAILED"
	// ErrCodeKeyConflict indicates a key is owned by someone else in the store.
	ErrCodeKeyConflict ErrorCode = "KEY_CONFLICT"
	// ErrCodeQueryFailed indicates published entries could not be read back.
	ErrCodeQueryFailed ErrorCode = "QUERY_FAILED"
	// ErrCodeInvalidDeclaration indicates a domain declaration could not be parsed.
	ErrCodeInvalidDeclaration ErrorCode = "INVALID_DECLARATION"
)

// Configuration errors
const (
	// ErrCodeInvalidConfig indicates the configuration failed validation.
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"
	// ErrCodeUnknownProvider indicates no backend is registered under a name.
	ErrCodeUnknownProvider ErrorCode = "UNKNOWN_PROVIDER"
)

// Internal errors
const (
	// ErrCodeInternal indicates an unexpected internal error.
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

var retryableCodes = map[ErrorCode]bool{
	ErrCodeServiceUnavailable: true,
	ErrCodeConnectionFailed:   true,
	ErrCodeTimeout:            true,
	ErrCodeInspectionFailed:   true,
	ErrCodePublishFailed:      true,
	ErrCodeQueryFailed:        true,
	ErrCodeInternal:           false,
}

// IsRetryableCode returns true if the error code indicates a retryable error.
func IsRetryableCode(code ErrorCode) bool {
	return retryableCodes[code]
}
