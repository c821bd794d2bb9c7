// Package taskvault assembles the task lifecycle system: a state
// machine over pending, running, completed, failed, and cancelled
// tasks, with per-task locking, lifecycle hooks, durable state and
// logs, checkpoints, and workspace snapshots.
package taskvault
