// Package checkpoint bundles a task's state and log stream into
// immutable point-in-time checkpoints, and restores from them.
//
// Bundles are assembled in a staging directory and renamed into place,
// so a checkpoint is either fully present or absent. Compression swaps
// the whole bundle at once and never leaves it half-gzipped. Incremental
// creation dedupes by structural state equality, rotation keeps the
// last N per task, and a global storage ceiling evicts the oldest
// checkpoints across tasks while protecting each task's recent tail.
package checkpoint
