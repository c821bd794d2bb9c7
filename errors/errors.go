package errors

import (
	"encoding/json"
	"fmt"
	"time"
)

// LifecycleError is the interface for all structured errors in taskvault.
// It extends the standard error interface with the context callers need to
// decide between retrying, surfacing, or aborting.
type LifecycleError interface {
	error

	// Code returns the specific error code identifying the failure type.
	Code() ErrorCode

	// Category returns the error category for retry/handling decisions.
	Category() ErrorCategory

	// Retryable returns true if the operation may succeed on retry.
	Retryable() bool

	// Metadata returns additional context as key-value pairs.
	Metadata() map[string]string

	// Unwrap returns the underlying error, if any.
	Unwrap() error
}

// Error is the concrete implementation of LifecycleError.
type Error struct {
	code         ErrorCode
	category     ErrorCategory
	message      string
	cause        error
	metadata     map[string]string
	retryable    *bool // nil means use default based on category
	timestamp    time.Time
	taskID       string // related task, if applicable
	checkpointID string // related checkpoint, if applicable
	resource     string // related lock resource or file path, if applicable
}

// Ensure Error implements LifecycleError and json.Marshaler/Unmarshaler.
var (
	_ LifecycleError   = (*Error)(nil)
	_ json.Marshaler   = (*Error)(nil)
	_ json.Unmarshaler = (*Error)(nil)
)

// Error returns the error message.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Code returns the error code.
func (e *Error) Code() ErrorCode {
	return e.code
}

// Category returns the error category.
func (e *Error) Category() ErrorCategory {
	return e.category
}

// Retryable returns whether this error is retryable.
func (e *Error) Retryable() bool {
	if e.retryable != nil {
		return *e.retryable
	}
	return e.category.IsRetryable()
}

// Metadata returns the error metadata.
func (e *Error) Metadata() map[string]string {
	if e.metadata == nil {
		return make(map[string]string)
	}
	// Return a copy to prevent modification
	result := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		result[k] = v
	}
	return result
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.cause
}

// Timestamp returns when the error occurred.
func (e *Error) Timestamp() time.Time {
	return e.timestamp
}

// TaskID returns the related task ID, if set.
func (e *Error) TaskID() string {
	return e.taskID
}

// CheckpointID returns the related checkpoint ID, if set.
func (e *Error) CheckpointID() string {
	return e.checkpointID
}

// Resource returns the related resource key or path, if set.
func (e *Error) Resource() string {
	return e.resource
}

// errorJSON is the JSON representation of an Error.
type errorJSON struct {
	Code         ErrorCode         `json:"code"`
	Category     ErrorCategory     `json:"category"`
	Message      string            `json:"message"`
	Cause        string            `json:"cause,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Retryable    bool              `json:"retryable"`
	Timestamp    string            `json:"timestamp,omitempty"`
	TaskID       string            `json:"task_id,omitempty"`
	CheckpointID string            `json:"checkpoint_id,omitempty"`
	Resource     string            `json:"resource,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (e *Error) MarshalJSON() ([]byte, error) {
	j := errorJSON{
		Code:         e.code,
		Category:     e.category,
		Message:      e.message,
		Metadata:     e.metadata,
		Retryable:    e.Retryable(),
		TaskID:       e.taskID,
		CheckpointID: e.checkpointID,
		Resource:     e.resource,
	}
	if e.cause != nil {
		j.Cause = e.cause.Error()
	}
	if !e.timestamp.IsZero() {
		j.Timestamp = e.timestamp.Format(time.RFC3339Nano)
	}
	return json.Marshal(j)
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Error) UnmarshalJSON(data []byte) error {
	var j errorJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	e.code = j.Code
	e.category = j.Category
	e.message = j.Message
	e.metadata = j.Metadata
	e.taskID = j.TaskID
	e.checkpointID = j.CheckpointID
	e.resource = j.Resource
	r := j.Retryable
	e.retryable = &r
	if j.Cause != "" {
		e.cause = fmt.Errorf("%s", j.Cause)
	}
	if j.Timestamp != "" {
		if t, err := time.Parse(time.RFC3339Nano, j.Timestamp); err == nil {
			e.timestamp = t
		}
	}
	return nil
}

// Option is a functional option for configuring an Error.
type Option func(*Error)

// WithCategory overrides the default category.
func WithCategory(cat ErrorCategory) Option {
	return func(e *Error) {
		e.category = cat
	}
}

// WithRetryable explicitly sets whether the error is retryable.
func WithRetryable(retryable bool) Option {
	return func(e *Error) {
		e.retryable = &retryable
	}
}

// WithMetadata adds a metadata key-value pair.
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// WithMetadataMap adds multiple metadata key-value pairs.
func WithMetadataMap(m map[string]string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		for k, v := range m {
			e.metadata[k] = v
		}
	}
}

// WithTaskID sets the related task ID.
func WithTaskID(id string) Option {
	return func(e *Error) {
		e.taskID = id
	}
}

// WithCheckpointID sets the related checkpoint ID.
func WithCheckpointID(id string) Option {
	return func(e *Error) {
		e.checkpointID = id
	}
}

// WithResource sets the related resource key or file path.
func WithResource(resource string) Option {
	return func(e *Error) {
		e.resource = resource
	}
}

// WithTimestamp sets a custom timestamp.
func WithTimestamp(t time.Time) Option {
	return func(e *Error) {
		e.timestamp = t
	}
}

// WithCause sets the underlying cause.
func WithCause(cause error) Option {
	return func(e *Error) {
		e.cause = cause
	}
}

// New creates a new Error with the given code and message.
func New(code ErrorCode, message string, opts ...Option) *Error {
	e := &Error{
		code:      code,
		category:  code.DefaultCategory(),
		message:   message,
		timestamp: time.Now(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Newf creates a new Error with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// FromCode creates an error with the default description for the code.
func FromCode(code ErrorCode, opts ...Option) *Error {
	return New(code, code.Description(), opts...)
}

// Validation creates a bad-input error.
func Validation(message string, opts ...Option) *Error {
	return New(ErrCodeValidation, message, opts...)
}

// NotFound creates a not found error.
func NotFound(message string, opts ...Option) *Error {
	return New(ErrCodeNotFound, message, opts...)
}

// InvalidTransition creates an illegal status transition error.
func InvalidTransition(taskID, from, to string, opts ...Option) *Error {
	opts = append([]Option{WithTaskID(taskID), WithMetadata("from", from), WithMetadata("to", to)}, opts...)
	return New(ErrCodeInvalidTransition, fmt.Sprintf("task %s: cannot transition from %s to %s", taskID, from, to), opts...)
}

// LockTimeout creates a lock timeout error for the given resource.
func LockTimeout(resource string, opts ...Option) *Error {
	opts = append([]Option{WithResource(resource)}, opts...)
	return New(ErrCodeLockTimeout, fmt.Sprintf("timed out acquiring lock on %s", resource), opts...)
}

// Storage creates a persistence-layer error.
func Storage(message string, opts ...Option) *Error {
	return New(ErrCodeStorage, message, opts...)
}

// HookFailed creates an error for a failing lifecycle hook.
func HookFailed(hookID, message string, opts ...Option) *Error {
	opts = append([]Option{WithMetadata("hook_id", hookID)}, opts...)
	return New(ErrCodeHookFailed, message, opts...)
}

// Internal creates an internal error.
func Internal(message string, opts ...Option) *Error {
	return New(ErrCodeInternal, message, opts...)
}
