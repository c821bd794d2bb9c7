package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/taskvault/taskvault/checkpoint"
	"github.com/taskvault/taskvault/errors"
	"github.com/taskvault/taskvault/hooks"
	"github.com/taskvault/taskvault/lock"
	"github.com/taskvault/taskvault/logging"
	"github.com/taskvault/taskvault/registry"
	"github.com/taskvault/taskvault/store"
	"github.com/taskvault/taskvault/task"
)

// DefaultLockTimeout bounds how long a lifecycle operation waits for a
// task's lock before failing with LOCK_TIMEOUT.
const DefaultLockTimeout = 30 * time.Second

// lockKey builds the per-task lock resource key.
func lockKey(taskID string) string {
	return "task:" + taskID
}

// Controller drives the task state machine. Every mutating operation
// follows the same shape: before-hooks run outside the lock and gate the
// operation, the per-task lock serializes the mutation, and after-hooks
// run outside the lock once the mutation stands.
type Controller struct {
	registry    registry.Registry
	store       *store.FileStore
	locks       *lock.Manager
	hooks       *hooks.Registry
	checkpoints *checkpoint.Engine
	logger      *logging.Logger
	lockTimeout time.Duration
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger attaches a logger.
func WithLogger(logger *logging.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger.WithComponent("lifecycle")
		}
	}
}

// WithLockTimeout overrides the per-operation lock wait bound.
func WithLockTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.lockTimeout = d
		}
	}
}

// WithCheckpoints wires a checkpoint engine, enabling Restore.
func WithCheckpoints(e *checkpoint.Engine) Option {
	return func(c *Controller) {
		c.checkpoints = e
	}
}

// NewController assembles a lifecycle controller from its collaborators.
func NewController(reg registry.Registry, s *store.FileStore, locks *lock.Manager, hookReg *hooks.Registry, opts ...Option) (*Controller, error) {
	if reg == nil {
		return nil, errors.Validation("registry is required")
	}
	if s == nil {
		return nil, errors.Validation("store is required")
	}
	if locks == nil {
		return nil, errors.Validation("lock manager is required")
	}
	if hookReg == nil {
		return nil, errors.Validation("hook registry is required")
	}

	c := &Controller{
		registry:    reg,
		store:       s,
		locks:       locks,
		hooks:       hookReg,
		logger:      logging.Nop(),
		lockTimeout: DefaultLockTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Create registers a new pending task, writes its initial state, and
// appends a "created" log entry. Creation takes no lock: the id is fresh
// and the registry enforces uniqueness.
func (c *Controller) Create(ctx context.Context, cfg task.Config) (*task.Task, error) {
	if cfg.Name == "" {
		return nil, errors.Validation("task name is required")
	}

	now := time.Now().UTC()
	t := &task.Task{
		ID:        uuid.New().String(),
		Name:      cfg.Name,
		Status:    task.StatusPending,
		Owner:     cfg.Owner,
		Metadata:  cfg.Metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if t.Metadata == nil {
		t.Metadata = make(map[string]any)
	}

	if err := c.registry.Create(ctx, t); err != nil {
		return nil, err
	}

	if err := c.persist(ctx, t, task.LogEntry{
		Timestamp: now,
		Level:     task.LogInfo,
		Message:   "created",
	}); err != nil {
		// Keep registry and persistence consistent when the first write fails.
		c.registry.Delete(ctx, t.ID)
		return nil, err
	}

	c.logger.TransitionStart(t.ID, "", string(task.StatusPending))
	return t.Clone(), nil
}

// Start moves a pending task to running on behalf of an agent.
func (c *Controller) Start(ctx context.Context, taskID, agentID string) (*task.Task, error) {
	if agentID == "" {
		return nil, errors.Validation("agent id is required", errors.WithTaskID(taskID))
	}

	ev := hooks.Event{TaskID: taskID, AgentID: agentID}
	return c.transition(ctx, taskID, hooks.BeforeStart, hooks.AfterStart, ev, func(t *task.Task) (registry.Partial, task.LogEntry, error) {
		if err := c.checkTransition(t, task.StatusRunning); err != nil {
			return registry.Partial{}, task.LogEntry{}, err
		}
		status := task.StatusRunning
		return registry.Partial{Status: &status, AgentID: &agentID}, task.LogEntry{
			Level:   task.LogInfo,
			Message: fmt.Sprintf("started by agent %s", agentID),
		}, nil
	})
}

// Complete moves a running task to completed, recording the result in
// the log entry.
func (c *Controller) Complete(ctx context.Context, taskID string, result map[string]any) (*task.Task, error) {
	ev := hooks.Event{TaskID: taskID, Result: result}
	return c.transition(ctx, taskID, hooks.BeforeComplete, hooks.AfterComplete, ev, func(t *task.Task) (registry.Partial, task.LogEntry, error) {
		if err := c.checkTransition(t, task.StatusCompleted); err != nil {
			return registry.Partial{}, task.LogEntry{}, err
		}
		status := task.StatusCompleted
		return registry.Partial{Status: &status}, task.LogEntry{
			Level:   task.LogInfo,
			Message: "completed",
			Data:    result,
		}, nil
	})
}

// Fail moves a running task to failed, recording the failure reason in
// the task metadata and an error-level log entry.
func (c *Controller) Fail(ctx context.Context, taskID string, cause error) (*task.Task, error) {
	if cause == nil {
		return nil, errors.Validation("failure cause is required", errors.WithTaskID(taskID))
	}

	ev := hooks.Event{TaskID: taskID, Err: cause}
	return c.transition(ctx, taskID, hooks.BeforeFail, hooks.AfterFail, ev, func(t *task.Task) (registry.Partial, task.LogEntry, error) {
		if err := c.checkTransition(t, task.StatusFailed); err != nil {
			return registry.Partial{}, task.LogEntry{}, err
		}
		status := task.StatusFailed
		meta := cloneMeta(t.Metadata)
		meta["error"] = cause.Error()
		return registry.Partial{Status: &status, Metadata: meta}, task.LogEntry{
			Level:   task.LogError,
			Message: fmt.Sprintf("failed: %s", cause.Error()),
		}, nil
	})
}

// Cancel moves a pending or running task to cancelled. Cancellation has
// no hook arc.
func (c *Controller) Cancel(ctx context.Context, taskID string) (*task.Task, error) {
	return c.transition(ctx, taskID, "", "", hooks.Event{TaskID: taskID}, func(t *task.Task) (registry.Partial, task.LogEntry, error) {
		if err := c.checkTransition(t, task.StatusCancelled); err != nil {
			return registry.Partial{}, task.LogEntry{}, err
		}
		status := task.StatusCancelled
		return registry.Partial{Status: &status}, task.LogEntry{
			Level:   task.LogWarn,
			Message: "cancelled",
		}, nil
	})
}

// Delete removes the task's registry row and purges every artifact under
// its storage directory. The lock is held across both so a concurrent
// transition cannot observe a half-deleted task.
func (c *Controller) Delete(ctx context.Context, taskID string) error {
	if taskID == "" {
		return errors.Validation("task id is required")
	}

	owner := uuid.New().String()
	return c.locks.WithLock(ctx, lockKey(taskID), owner, c.lockTimeout, func() error {
		removed, err := c.registry.Delete(ctx, taskID)
		if err != nil {
			return err
		}
		if !removed {
			return errors.NotFound("task "+taskID+" not found", errors.WithTaskID(taskID))
		}
		return c.store.Cleanup(ctx, taskID)
	})
}

// Status returns the task's current status without taking the lock.
func (c *Controller) Status(ctx context.Context, taskID string) (task.Status, error) {
	t, err := c.registry.GetByID(ctx, taskID)
	if err != nil {
		return "", err
	}
	return t.Status, nil
}

// Get returns a copy of the full task record.
func (c *Controller) Get(ctx context.Context, taskID string) (*task.Task, error) {
	return c.registry.GetByID(ctx, taskID)
}

// List returns tasks matching the filter.
func (c *Controller) List(ctx context.Context, filter registry.Filter) ([]*task.Task, error) {
	return c.registry.List(ctx, filter)
}

// Logs returns the task's log entries, optionally filtered by level.
func (c *Controller) Logs(ctx context.Context, taskID string, filter *store.LogFilter) ([]task.LogEntry, error) {
	if _, err := c.registry.GetByID(ctx, taskID); err != nil {
		return nil, err
	}
	return c.store.LoadLogs(ctx, taskID, filter)
}

// Restore rolls a task back to a checkpoint under the task's lock and
// realigns the registry record with the restored state.
func (c *Controller) Restore(ctx context.Context, taskID, checkpointID string) (*task.Task, error) {
	if c.checkpoints == nil {
		return nil, errors.Validation("checkpoint engine is not configured")
	}

	owner := uuid.New().String()
	var restored *task.Task
	err := c.locks.WithLock(ctx, lockKey(taskID), owner, c.lockTimeout, func() error {
		if _, err := c.registry.GetByID(ctx, taskID); err != nil {
			return err
		}
		if err := c.checkpoints.Restore(ctx, taskID, checkpointID); err != nil {
			return err
		}

		snap, err := c.store.LoadState(ctx, taskID)
		if err != nil {
			return err
		}
		if snap == nil {
			return errors.New(errors.ErrCodeCorruption, "restored checkpoint has no state",
				errors.WithTaskID(taskID), errors.WithCheckpointID(checkpointID))
		}

		status := snap.Status
		restored, err = c.registry.Update(ctx, taskID, registry.Partial{Status: &status})
		return err
	})
	if err != nil {
		return nil, err
	}
	return restored, nil
}

// mutation computes the registry update and log entry for a transition,
// after validating the precondition against the freshly fetched task.
type mutation func(t *task.Task) (registry.Partial, task.LogEntry, error)

// transition implements the shared shape of every status change:
// before-hooks outside the lock, mutation under the lock, after-hooks
// outside the lock. An empty hook type skips that arc.
func (c *Controller) transition(ctx context.Context, taskID string, before, after hooks.Type, ev hooks.Event, mutate mutation) (*task.Task, error) {
	if taskID == "" {
		return nil, errors.Validation("task id is required")
	}

	if before != "" {
		if err := c.hooks.Execute(ctx, before, ev); err != nil {
			return nil, err
		}
	}

	started := time.Now()
	owner := uuid.New().String()
	var updated *task.Task
	err := c.locks.WithLock(ctx, lockKey(taskID), owner, c.lockTimeout, func() error {
		// Re-fetch under the lock: the task may have transitioned while
		// we waited.
		t, err := c.registry.GetByID(ctx, taskID)
		if err != nil {
			return err
		}

		partial, entry, err := mutate(t)
		if err != nil {
			return err
		}
		from := t.Status

		updated, err = c.registry.Update(ctx, taskID, partial)
		if err != nil {
			return err
		}
		if err := c.persist(ctx, updated, entry); err != nil {
			return err
		}

		c.logger.TransitionStart(taskID, string(from), string(updated.Status))
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.logger.TransitionComplete(taskID, string(updated.Status), time.Since(started))

	if after != "" {
		// After-hook errors are logged inside Execute and never undo
		// the mutation.
		_ = c.hooks.Execute(ctx, after, ev)
	}
	return updated, nil
}

// checkTransition validates the status precondition.
func (c *Controller) checkTransition(t *task.Task, to task.Status) error {
	if !t.Status.CanTransitionTo(to) {
		return errors.InvalidTransition(t.ID, string(t.Status), string(to))
	}
	return nil
}

// persist writes the current state snapshot and appends a log entry.
func (c *Controller) persist(ctx context.Context, t *task.Task, entry task.LogEntry) error {
	snap := &task.StateSnapshot{
		TaskID:      t.ID,
		Status:      t.Status,
		Data:        stateData(t),
		LastUpdated: t.UpdatedAt,
	}
	if err := c.store.SaveState(ctx, t.ID, snap); err != nil {
		return err
	}

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	return c.store.AppendLog(ctx, t.ID, entry)
}

// stateData projects the task record into the snapshot's opaque data.
func stateData(t *task.Task) map[string]any {
	data := map[string]any{
		"name": t.Name,
	}
	if t.Owner != "" {
		data["owner"] = t.Owner
	}
	if t.AgentID != "" {
		data["agent_id"] = t.AgentID
	}
	if len(t.Metadata) > 0 {
		data["metadata"] = cloneMeta(t.Metadata)
	}
	return data
}

func cloneMeta(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	if m == nil {
		return out
	}
	// JSON round-trip gives a deep copy of arbitrarily nested values.
	raw, err := json.Marshal(m)
	if err != nil {
		for k, v := range m {
			out[k] = v
		}
		return out
	}
	json.Unmarshal(raw, &out)
	return out
}
