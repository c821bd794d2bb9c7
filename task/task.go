package task

import (
	"time"
)

// Status represents the current state of a task.
type Status string

const (
	// StatusPending indicates the task has been created but not started.
	StatusPending Status = "pending"

	// StatusRunning indicates the task is being executed by an agent.
	StatusRunning Status = "running"

	// StatusCompleted indicates the task finished successfully.
	StatusCompleted Status = "completed"

	// StatusFailed indicates the task finished with an error.
	StatusFailed Status = "failed"

	// StatusCancelled indicates the task was cancelled before finishing.
	StatusCancelled Status = "cancelled"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// IsTerminal returns true if the status is a terminal state.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Valid returns true if the status is one of the defined states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// transitions defines the legal status transitions.
var transitions = map[Status][]Status{
	StatusPending: {StatusRunning, StatusCancelled},
	StatusRunning: {StatusCompleted, StatusFailed, StatusCancelled},
}

// CanTransitionTo reports whether the status may legally move to next.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Task represents a unit of agent-driven work tracked through a fixed
// lifecycle.
type Task struct {
	// ID is the unique identifier for the task.
	// Generated automatically on creation if empty.
	ID string `json:"id"`

	// Name is a human-readable name. Required.
	Name string `json:"name"`

	// Status is the current lifecycle state.
	Status Status `json:"status"`

	// Owner identifies who the task belongs to.
	Owner string `json:"owner,omitempty"`

	// AgentID identifies the agent that started the task, if any.
	AgentID string `json:"agent_id,omitempty"`

	// Metadata contains opaque structured values attached to the task.
	Metadata map[string]any `json:"metadata,omitempty"`

	// CreatedAt is when the task was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the task was last mutated.
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone creates a deep copy of the task.
func (t *Task) Clone() *Task {
	clone := &Task{
		ID:        t.ID,
		Name:      t.Name,
		Status:    t.Status,
		Owner:     t.Owner,
		AgentID:   t.AgentID,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}

	if t.Metadata != nil {
		clone.Metadata = make(map[string]any, len(t.Metadata))
		for k, v := range t.Metadata {
			clone.Metadata[k] = v
		}
	}

	return clone
}

// Config describes a task to be created.
type Config struct {
	// Name is required.
	Name string `json:"name"`

	// Owner is optional.
	Owner string `json:"owner,omitempty"`

	// Metadata is copied onto the new task.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// StateSnapshot is the single current materialized state of a task.
// Exactly one snapshot exists per task; it is overwritten, never versioned.
// History lives only in checkpoints.
type StateSnapshot struct {
	TaskID      string         `json:"task_id"`
	Status      Status         `json:"status"`
	Data        map[string]any `json:"data,omitempty"`
	LastUpdated time.Time      `json:"last_updated"`
}

// LogLevel is the severity of a task log entry.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// LogEntry is one immutable, ordered event in a task's append-only history.
type LogEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     LogLevel       `json:"level"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
}
