package hooks

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/taskvault/taskvault/errors"
	"github.com/taskvault/taskvault/logging"
)

// Type identifies one of the six lifecycle transition hook points.
type Type string

const (
	BeforeStart    Type = "before_start"
	AfterStart     Type = "after_start"
	BeforeComplete Type = "before_complete"
	AfterComplete  Type = "after_complete"
	BeforeFail     Type = "before_fail"
	AfterFail      Type = "after_fail"
)

// String returns the string representation of the hook type.
func (t Type) String() string {
	return string(t)
}

// IsBefore reports whether this hook type runs before its transition.
// Before-hooks gate the transition: an error from any of them aborts the
// enclosing operation before the lock is taken and before any mutation.
// After-hooks are fire-and-forget.
func (t Type) IsBefore() bool {
	switch t {
	case BeforeStart, BeforeComplete, BeforeFail:
		return true
	}
	return false
}

// Event carries the transition context into a hook.
type Event struct {
	// TaskID is the task being transitioned.
	TaskID string

	// AgentID is set for start transitions.
	AgentID string

	// Result is set for complete transitions.
	Result map[string]any

	// Err is set for fail transitions.
	Err error
}

// Func is a registered hook callback. Hooks may perform arbitrary external
// work (container start/stop, notifications); they signal failure by
// returning an error and must never mutate task status themselves.
type Func func(ctx context.Context, ev Event) error

// DefaultPriority is used when Register is called with priority <= 0.
const DefaultPriority = 10

// registration is one registered hook.
type registration struct {
	id       string
	hookType Type
	priority int
	seq      uint64 // registration order, breaks priority ties
	fn       Func
}

// Registry holds ordered before/after callback pipelines per lifecycle
// transition type. It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	hooks  map[Type][]registration
	byID   map[string]Type
	seq    uint64
	logger *logging.Logger
}

// NewRegistry creates an empty hook registry.
func NewRegistry(logger *logging.Logger) *Registry {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Registry{
		hooks:  make(map[Type][]registration),
		byID:   make(map[string]Type),
		logger: logger.WithComponent("hooks"),
	}
}

// Register adds a hook for the given type and returns its id.
// Hooks for a type execute in ascending priority order; ties run in
// registration order. A priority <= 0 uses DefaultPriority.
func (r *Registry) Register(hookType Type, fn Func, priority int) (string, error) {
	switch hookType {
	case BeforeStart, AfterStart, BeforeComplete, AfterComplete, BeforeFail, AfterFail:
	default:
		return "", errors.Validation("unknown hook type: " + string(hookType))
	}
	if fn == nil {
		return "", errors.Validation("hook function is required")
	}
	if priority <= 0 {
		priority = DefaultPriority
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	reg := registration{
		id:       uuid.NewString(),
		hookType: hookType,
		priority: priority,
		seq:      r.seq,
		fn:       fn,
	}

	list := append(r.hooks[hookType], reg)
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].priority != list[j].priority {
			return list[i].priority < list[j].priority
		}
		return list[i].seq < list[j].seq
	})
	r.hooks[hookType] = list
	r.byID[reg.id] = hookType

	return reg.id, nil
}

// RegisterBeforeStart registers a before-start hook.
func (r *Registry) RegisterBeforeStart(fn Func, priority int) (string, error) {
	return r.Register(BeforeStart, fn, priority)
}

// RegisterAfterStart registers an after-start hook.
func (r *Registry) RegisterAfterStart(fn Func, priority int) (string, error) {
	return r.Register(AfterStart, fn, priority)
}

// RegisterBeforeComplete registers a before-complete hook.
func (r *Registry) RegisterBeforeComplete(fn Func, priority int) (string, error) {
	return r.Register(BeforeComplete, fn, priority)
}

// RegisterAfterComplete registers an after-complete hook.
func (r *Registry) RegisterAfterComplete(fn Func, priority int) (string, error) {
	return r.Register(AfterComplete, fn, priority)
}

// RegisterBeforeFail registers a before-fail hook.
func (r *Registry) RegisterBeforeFail(fn Func, priority int) (string, error) {
	return r.Register(BeforeFail, fn, priority)
}

// RegisterAfterFail registers an after-fail hook.
func (r *Registry) RegisterAfterFail(fn Func, priority int) (string, error) {
	return r.Register(AfterFail, fn, priority)
}

// Unregister removes a hook by id. Returns NOT_FOUND if the id is unknown.
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	hookType, ok := r.byID[id]
	if !ok {
		return errors.NotFound("hook " + id + " not registered")
	}
	delete(r.byID, id)

	list := r.hooks[hookType]
	for i, reg := range list {
		if reg.id == id {
			r.hooks[hookType] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(r.hooks[hookType]) == 0 {
		delete(r.hooks, hookType)
	}
	return nil
}

// Count returns the number of hooks registered for a type.
func (r *Registry) Count(hookType Type) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.hooks[hookType])
}

// snapshot copies the pipeline for a type so execution runs without
// holding the registry lock.
func (r *Registry) snapshot(hookType Type) []registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := r.hooks[hookType]
	out := make([]registration, len(list))
	copy(out, list)
	return out
}

// Execute runs the pipeline for a hook type sequentially in priority
// order.
//
// For before-hooks the first error aborts execution and is returned
// wrapped as HOOK_FAILED: the enclosing transition must not proceed.
// For after-hooks errors are logged and execution continues; Execute
// always returns nil.
func (r *Registry) Execute(ctx context.Context, hookType Type, ev Event) error {
	for _, reg := range r.snapshot(hookType) {
		if err := reg.fn(ctx, ev); err != nil {
			if hookType.IsBefore() {
				return errors.HookFailed(reg.id, string(hookType)+" hook rejected transition",
					errors.WithTaskID(ev.TaskID), errors.WithCause(err))
			}
			r.logger.HookError(string(hookType), reg.id, err)
		}
	}
	return nil
}
