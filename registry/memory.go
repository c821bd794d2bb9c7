package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/taskvault/taskvault/errors"
	"github.com/taskvault/taskvault/task"
)

// Memory is an in-memory implementation of Registry.
// Suitable for testing and single-process setups where the registry does
// not need to survive restarts.
type Memory struct {
	mu     sync.RWMutex
	tasks  map[string]*task.Task
	closed bool
}

// NewMemory creates a new in-memory registry.
func NewMemory() *Memory {
	return &Memory{
		tasks: make(map[string]*task.Task),
	}
}

// Create inserts a new task.
func (r *Memory) Create(ctx context.Context, t *task.Task) error {
	if err := validate(t); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return errors.FromCode(errors.ErrCodeClosed)
	}
	if _, exists := r.tasks[t.ID]; exists {
		return errors.FromCode(errors.ErrCodeAlreadyExists, errors.WithTaskID(t.ID))
	}

	r.tasks[t.ID] = t.Clone()
	return nil
}

// GetByID retrieves a task by id.
func (r *Memory) GetByID(ctx context.Context, id string) (*task.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, errors.FromCode(errors.ErrCodeClosed)
	}

	t, ok := r.tasks[id]
	if !ok {
		return nil, errors.NotFound("task "+id+" not found", errors.WithTaskID(id))
	}
	return t.Clone(), nil
}

// Update applies partial changes to an existing task.
func (r *Memory) Update(ctx context.Context, id string, partial Partial) (*task.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, errors.FromCode(errors.ErrCodeClosed)
	}

	t, ok := r.tasks[id]
	if !ok {
		return nil, errors.NotFound("task "+id+" not found", errors.WithTaskID(id))
	}

	if partial.Status != nil {
		if err := validateStatus(*partial.Status); err != nil {
			return nil, err
		}
		t.Status = *partial.Status
	}
	if partial.AgentID != nil {
		t.AgentID = *partial.AgentID
	}
	if partial.Metadata != nil {
		md := make(map[string]any, len(partial.Metadata))
		for k, v := range partial.Metadata {
			md[k] = v
		}
		t.Metadata = md
	}
	t.UpdatedAt = time.Now()

	return t.Clone(), nil
}

// Delete removes a task.
func (r *Memory) Delete(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false, errors.FromCode(errors.ErrCodeClosed)
	}

	if _, ok := r.tasks[id]; !ok {
		return false, nil
	}
	delete(r.tasks, id)
	return true, nil
}

// List returns tasks matching the filter, newest first.
func (r *Memory) List(ctx context.Context, filter Filter) ([]*task.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, errors.FromCode(errors.ErrCodeClosed)
	}

	var out []*task.Task
	for _, t := range r.tasks {
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		if filter.Owner != "" && t.Owner != filter.Owner {
			continue
		}
		out = append(out, t.Clone())
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Close shuts down the registry.
func (r *Memory) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.tasks = nil
	return nil
}
