package errors

// ErrorCategory classifies errors by their nature and retry semantics.
type ErrorCategory string

// Error categories define how errors should be handled.
const (
	// CategoryTransient indicates temporary failures where retry may succeed.
	// Examples: lock acquisition timeouts, busy storage.
	CategoryTransient ErrorCategory = "transient"

	// CategoryPermanent indicates failures where retry will not help.
	// Examples: invalid input, unknown task, illegal status transition.
	CategoryPermanent ErrorCategory = "permanent"

	// CategoryStorage indicates persistence-layer failures.
	// Examples: I/O errors, failed compression, corrupt archives.
	CategoryStorage ErrorCategory = "storage"

	// CategoryInternal indicates unexpected errors, bugs, or system failures.
	CategoryInternal ErrorCategory = "internal"
)

// String returns the string representation of the category.
func (c ErrorCategory) String() string {
	return string(c)
}

// IsRetryable returns true if errors in this category may succeed on retry.
func (c ErrorCategory) IsRetryable() bool {
	switch c {
	case CategoryTransient, CategoryStorage:
		return true
	default:
		return false
	}
}

// ErrorCode identifies specific error types within categories.
type ErrorCode string

// Error codes for common failure scenarios.
const (
	// Transient errors
	ErrCodeLockTimeout ErrorCode = "LOCK_TIMEOUT" // Lock wait exceeded its deadline
	ErrCodeTimeout     ErrorCode = "TIMEOUT"      // Operation timed out
	ErrCodeCanceled    ErrorCode = "CANCELED"     // Operation was canceled

	// Permanent errors
	ErrCodeValidation        ErrorCode = "VALIDATION"         // Malformed or missing input
	ErrCodeNotFound          ErrorCode = "NOT_FOUND"          // Task, checkpoint, or resource does not exist
	ErrCodeInvalidTransition ErrorCode = "INVALID_TRANSITION" // Status precondition violated
	ErrCodeAlreadyExists     ErrorCode = "ALREADY_EXISTS"     // Resource already exists
	ErrCodeClosed            ErrorCode = "CLOSED"             // Component has been shut down

	// Storage errors
	ErrCodeStorage    ErrorCode = "STORAGE"    // I/O, compression, or archive failure
	ErrCodeCorruption ErrorCode = "CORRUPTION" // Persisted data failed integrity checks

	// Internal errors
	ErrCodeHookFailed ErrorCode = "HOOK_FAILED" // A lifecycle hook returned an error
	ErrCodeInternal   ErrorCode = "INTERNAL"    // Unexpected internal error
)

// String returns the string representation of the error code.
func (c ErrorCode) String() string {
	return string(c)
}

// DefaultCategory returns the default category for an error code.
func (c ErrorCode) DefaultCategory() ErrorCategory {
	switch c {
	case ErrCodeLockTimeout, ErrCodeTimeout, ErrCodeCanceled:
		return CategoryTransient

	case ErrCodeValidation, ErrCodeNotFound, ErrCodeInvalidTransition,
		ErrCodeAlreadyExists, ErrCodeClosed:
		return CategoryPermanent

	case ErrCodeStorage, ErrCodeCorruption:
		return CategoryStorage

	case ErrCodeHookFailed, ErrCodeInternal:
		return CategoryInternal

	default:
		return CategoryInternal
	}
}

// DefaultRetryable returns whether this error code is typically retryable.
func (c ErrorCode) DefaultRetryable() bool {
	return c.DefaultCategory().IsRetryable()
}

// codeDescriptions provides human-readable descriptions for error codes.
var codeDescriptions = map[ErrorCode]string{
	ErrCodeLockTimeout:       "lock acquisition timed out",
	ErrCodeTimeout:           "operation timed out",
	ErrCodeCanceled:          "operation canceled",
	ErrCodeValidation:        "invalid input provided",
	ErrCodeNotFound:          "resource not found",
	ErrCodeInvalidTransition: "illegal status transition",
	ErrCodeAlreadyExists:     "resource already exists",
	ErrCodeClosed:            "component closed",
	ErrCodeStorage:           "storage operation failed",
	ErrCodeCorruption:        "data corruption detected",
	ErrCodeHookFailed:        "lifecycle hook failed",
	ErrCodeInternal:          "internal error",
}

// Description returns a human-readable description for the error code.
func (c ErrorCode) Description() string {
	if desc, ok := codeDescriptions[c]; ok {
		return desc
	}
	return "unknown error"
}
