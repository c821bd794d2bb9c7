// Package errors provides a structured error taxonomy for the task
// lifecycle core. It defines the error types, codes, and categories that
// enable consistent error handling across the lifecycle controller,
// persistence, and locking layers.
//
// # Error Categories
//
// Errors are classified into four categories:
//
//   - Transient: Temporary failures where retry may succeed (lock timeouts, etc.)
//   - Permanent: Failures where retry will not help (invalid input, not found, etc.)
//   - Storage: Persistence-layer failures (I/O, compression, archives)
//   - Internal: Unexpected errors indicating bugs or system failures
//
// # Error Codes
//
// Each error has a specific code that identifies the type of failure:
//
//   - VALIDATION: Malformed or missing input
//   - NOT_FOUND: Unknown task, checkpoint, or lock resource
//   - INVALID_TRANSITION: Status precondition violated
//   - LOCK_TIMEOUT: Lock wait exceeded its deadline
//   - STORAGE: I/O, compression, or archive failure
//   - HOOK_FAILED: A lifecycle hook returned an error
//   - And more...
//
// # Usage
//
// Create a new error:
//
//	err := errors.Validation("task name is required")
//
// Wrap an existing error with context:
//
//	wrapped := errors.Wrap(err, "saving task state")
//
// Check for a specific failure type:
//
//	if errors.Is(err, errors.ErrCodeInvalidTransition) {
//	    // surface to the caller, retry will not help
//	}
//
// # JSON Serialization
//
// All errors support JSON serialization so they can be recorded in task
// logs and checkpoint manifests:
//
//	data, err := json.Marshal(lcErr)
//
// Errors can be deserialized back:
//
//	var lcErr errors.Error
//	json.Unmarshal(data, &lcErr)
package errors
