package registry

import (
	"context"

	"github.com/taskvault/taskvault/errors"
	"github.com/taskvault/taskvault/task"
)

// Filter specifies criteria for listing tasks.
type Filter struct {
	// Status filters by lifecycle state. Empty means all.
	Status task.Status

	// Owner filters by task owner. Empty means all.
	Owner string

	// Limit caps the number of results. Zero means no cap.
	Limit int

	// Offset skips the first N results (applied after sorting by
	// creation time, newest first).
	Offset int
}

// Registry stores task records and enforces id uniqueness and the status
// enum at the storage layer. The lifecycle controller is the only writer
// of status values.
type Registry interface {
	// Create inserts a new task.
	// Returns ALREADY_EXISTS if the id is taken.
	Create(ctx context.Context, t *task.Task) error

	// GetByID retrieves a task by id.
	// Returns nil, NOT_FOUND if the task does not exist.
	GetByID(ctx context.Context, id string) (*task.Task, error)

	// Update applies partial changes to an existing task and returns the
	// updated record. Returns nil, NOT_FOUND if the task does not exist.
	Update(ctx context.Context, id string, partial Partial) (*task.Task, error)

	// Delete removes a task. Returns true if a record was removed.
	Delete(ctx context.Context, id string) (bool, error)

	// List returns tasks matching the filter, newest first.
	List(ctx context.Context, filter Filter) ([]*task.Task, error)

	// Close releases resources held by the registry.
	Close() error
}

// Partial describes an update to a task record. Nil fields are left
// unchanged.
type Partial struct {
	Status   *task.Status
	AgentID  *string
	Metadata map[string]any // replaces the whole map when non-nil
}

// validate checks a task before insertion.
func validate(t *task.Task) error {
	if t == nil {
		return errors.Validation("task is required")
	}
	if t.ID == "" {
		return errors.Validation("task id is required")
	}
	if t.Name == "" {
		return errors.Validation("task name is required")
	}
	if !t.Status.Valid() {
		return errors.Validation("unknown task status: " + string(t.Status))
	}
	return nil
}

// validateStatus rejects writes outside the status enum.
func validateStatus(s task.Status) error {
	if !s.Valid() {
		return errors.Validation("unknown task status: " + string(s))
	}
	return nil
}
