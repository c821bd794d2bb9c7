// Package shutdown closes the system's components in dependency order.
//
// Handlers register at a phase; lower phases close first and handlers
// within a phase close concurrently. The coordinator runs at most once,
// collects failures without aborting later phases, and can be bound to
// SIGINT/SIGTERM.
package shutdown
