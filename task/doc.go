// Package task defines the core data model for the task lifecycle system.
//
// A Task is a unit of agent-driven work bound to an isolated execution
// environment, tracked through a fixed lifecycle:
//
//	pending → running → completed
//	    ↓         ↓
//	cancelled  failed / cancelled
//
// completed, failed, and cancelled are terminal. Deletion is not a status;
// it is a hard removal reachable from any state.
//
// # State and logs
//
// Each task carries exactly one current StateSnapshot, overwritten on every
// transition, and an append-only sequence of LogEntry values. Point-in-time
// history is the checkpoint engine's job, not the snapshot's.
//
// # Metadata
//
// Task.Metadata is a string-keyed map of JSON-like values. Everything else
// on Task is strongly typed.
package task
