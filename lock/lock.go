package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/taskvault/taskvault/errors"
)

// Handle identifies a held lock. It must be passed back to Release.
type Handle struct {
	resource   string
	owner      string
	version    uint64
	acquiredAt time.Time
	released   atomic.Bool
}

// Resource returns the resource key for this handle.
func (h *Handle) Resource() string {
	return h.resource
}

// Owner returns the owner token that acquired the lock.
func (h *Handle) Owner() string {
	return h.owner
}

// AcquiredAt returns when the lock was granted.
func (h *Handle) AcquiredAt() time.Time {
	return h.acquiredAt
}

// Status describes the current state of one resource key.
type Status struct {
	Resource   string
	Held       bool
	Owner      string
	AcquiredAt time.Time
	Waiters    int
}

// waiter is a single queued acquisition attempt.
type waiter struct {
	owner   string
	ready   chan struct{}
	granted bool // set under Manager.mu before ready is closed
	// populated at grant time, under Manager.mu
	version    uint64
	acquiredAt time.Time
}

// lockState tracks the holder and FIFO wait queue for one resource key.
// Entries are removed from the manager's map once the queue drains so the
// map does not grow without bound under many short-lived task ids.
type lockState struct {
	owner      string
	version    uint64
	acquiredAt time.Time
	waiters    []*waiter
}

// Manager provides named mutual exclusion keyed by arbitrary resource
// strings. Waiters on a contended key are served in FIFO order.
type Manager struct {
	mu             sync.Mutex
	locks          map[string]*lockState
	version        uint64
	defaultTimeout time.Duration
	closed         atomic.Bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithDefaultTimeout sets the timeout applied when Acquire is called with
// a zero timeout. Zero means wait indefinitely (bounded only by ctx).
func WithDefaultTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.defaultTimeout = d
		}
	}
}

// NewManager creates a new lock manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		locks: make(map[string]*lockState),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Acquire blocks until the resource is free or the timeout elapses.
// A zero timeout falls back to the manager default; if that is also zero
// the wait is bounded only by ctx. Waiters are granted the lock in the
// order they called Acquire.
func (m *Manager) Acquire(ctx context.Context, resource, owner string, timeout time.Duration) (*Handle, error) {
	if resource == "" {
		return nil, errors.Validation("lock resource key is required")
	}
	if m.closed.Load() {
		return nil, errors.FromCode(errors.ErrCodeClosed, errors.WithResource(resource))
	}

	m.mu.Lock()
	st, held := m.locks[resource]
	if !held {
		m.version++
		st = &lockState{
			owner:      owner,
			version:    m.version,
			acquiredAt: time.Now(),
		}
		m.locks[resource] = st
		h := &Handle{
			resource:   resource,
			owner:      owner,
			version:    st.version,
			acquiredAt: st.acquiredAt,
		}
		m.mu.Unlock()
		return h, nil
	}

	w := &waiter{
		owner: owner,
		ready: make(chan struct{}),
	}
	st.waiters = append(st.waiters, w)
	m.mu.Unlock()

	if timeout <= 0 {
		timeout = m.defaultTimeout
	}
	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case <-w.ready:
		return grantedHandle(resource, w), nil
	case <-ctx.Done():
		if m.abandonWait(resource, w) {
			// Granted between cancellation and cleanup; hand it back.
			_ = m.Release(grantedHandle(resource, w))
		}
		return nil, errors.Wrap(ctx.Err(), "waiting for lock on "+resource, errors.WithResource(resource))
	case <-timeoutCh:
		if m.abandonWait(resource, w) {
			_ = m.Release(grantedHandle(resource, w))
		}
		return nil, errors.LockTimeout(resource)
	}
}

// grantedHandle builds the handle for a waiter that has been granted the
// lock by a releasing holder. The waiter's grant fields are stable once
// ready is closed.
func grantedHandle(resource string, w *waiter) *Handle {
	return &Handle{
		resource:   resource,
		owner:      w.owner,
		version:    w.version,
		acquiredAt: w.acquiredAt,
	}
}

// abandonWait removes w from the wait queue. It returns true when the
// waiter was already granted the lock and therefore now holds it.
func (m *Manager) abandonWait(resource string, w *waiter) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if w.granted {
		return true
	}

	st, ok := m.locks[resource]
	if !ok {
		return false
	}
	for i, cand := range st.waiters {
		if cand == w {
			st.waiters = append(st.waiters[:i], st.waiters[i+1:]...)
			break
		}
	}
	return false
}

// Release frees the lock held by h and wakes the next FIFO waiter, if any.
// Releasing a handle twice returns a NOT_FOUND error.
func (m *Manager) Release(h *Handle) error {
	if h == nil {
		return errors.Validation("nil lock handle")
	}
	if h.released.Swap(true) {
		return errors.NotFound("lock already released", errors.WithResource(h.resource))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.locks[h.resource]
	if !ok || st.version != h.version {
		return errors.NotFound("lock not held", errors.WithResource(h.resource))
	}

	m.handoffLocked(h.resource, st)
	return nil
}

// handoffLocked grants the lock to the next waiter or removes the map
// entry entirely when the queue is empty. Caller holds m.mu.
func (m *Manager) handoffLocked(resource string, st *lockState) {
	if len(st.waiters) == 0 {
		delete(m.locks, resource)
		return
	}

	next := st.waiters[0]
	st.waiters = st.waiters[1:]
	m.version++
	st.owner = next.owner
	st.version = m.version
	st.acquiredAt = time.Now()
	next.granted = true
	next.version = st.version
	next.acquiredAt = st.acquiredAt
	close(next.ready)
}

// WithLock acquires the resource, runs fn, and releases on every exit
// path including panics.
func (m *Manager) WithLock(ctx context.Context, resource, owner string, timeout time.Duration, fn func() error) error {
	h, err := m.Acquire(ctx, resource, owner, timeout)
	if err != nil {
		return err
	}
	defer m.Release(h)
	return fn()
}

// Status returns read-only state for a resource key, for diagnostics and
// tests. It never blocks on the lock itself.
func (m *Manager) Status(resource string) Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.locks[resource]
	if !ok {
		return Status{Resource: resource}
	}
	return Status{
		Resource:   resource,
		Held:       true,
		Owner:      st.owner,
		AcquiredAt: st.acquiredAt,
		Waiters:    len(st.waiters),
	}
}

// Len returns the number of resource keys currently tracked. Used by
// tests to verify drained entries are removed.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

// Close marks the manager closed. Held locks stay valid until released;
// new acquisitions fail. Locks are never persisted across restarts.
func (m *Manager) Close() error {
	m.closed.Store(true)
	return nil
}
