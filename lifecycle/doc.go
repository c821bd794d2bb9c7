// Package lifecycle drives the task state machine.
//
// Tasks move pending -> running -> {completed, failed}, with cancelled
// reachable from any non-terminal state and deletion a hard removal
// from any state. Every mutating operation runs its before-hooks
// outside the per-task lock, performs the mutation (registry update,
// state write, log append) under the lock, and fires after-hooks once
// the lock is released. Operations on different tasks proceed fully in
// parallel; operations on the same task serialize through its lock.
package lifecycle
