// Package hooks provides ordered before/after callback pipelines for
// lifecycle transitions.
//
// Six hook points exist: before/after x {start, complete, fail}. Hooks for
// a point execute sequentially in ascending priority order, with ties
// broken by registration order. Registration returns an id that can be
// passed to Unregister at any time.
//
// # Failure policy
//
// Before-hooks gate their transition: the first error aborts the pipeline
// and the enclosing operation, before the task lock is taken and before
// any state is mutated. After-hooks are fire-and-forget: an error is
// logged and the remaining hooks still run, and the already-committed
// transition stands.
//
// # External collaborators
//
// The container runtime integrates here. A hook receives the transition
// Event (task id plus agent id or result), may await arbitrary external
// work, and signals failure by returning an error. Hooks must never mutate
// task status directly; only the lifecycle controller does that.
package hooks
