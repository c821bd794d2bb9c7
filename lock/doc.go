// Package lock provides named mutual exclusion for serializing lifecycle
// operations on a single task.
//
// The manager keys locks by arbitrary resource strings (the lifecycle
// controller uses "task:{id}") and guarantees at most one holder per key at
// any instant. Contended acquisitions queue and are served FIFO, so a burst
// of operations against one task executes in arrival order while operations
// on different tasks proceed fully in parallel.
//
// # Usage
//
//	mgr := lock.NewManager()
//	err := mgr.WithLock(ctx, "task:abc", owner, 5*time.Second, func() error {
//	    // exclusive section
//	    return nil
//	})
//
// WithLock releases on every exit path, including panics. Acquire/Release
// are available when the critical section cannot be expressed as a closure.
//
// # Lifetime
//
// Locks live only in process memory and are never persisted across
// restarts. The internal map entry for a key is removed once its wait
// queue drains, so churning through many short-lived task ids does not
// grow memory without bound.
package lock
