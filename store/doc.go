// Package store persists per-task state and logs on the filesystem.
//
// Each task owns a directory under the storage root:
//
//	root/<taskID>/state.json   the single current StateSnapshot
//	root/<taskID>/logs.jsonl   append-only LogEntry stream
//
// state.json is overwritten on every lifecycle transition via a temp file
// plus atomic rename, so a crash mid-write never leaves a torn snapshot.
// logs.jsonl is append-only: entries are immutable once written and keep
// strict per-task program order. Point-in-time history is the checkpoint
// engine's job; this package keeps only the current state.
//
// Cleanup removes the whole task directory, taking checkpoints, snapshots,
// and chunk artifacts with it.
//
// # Log search
//
// A Bleve-backed LogIndex can be attached with WithLogIndex. Appends then
// also index the entry, and SearchLogs answers full-text queries over a
// task's log messages. The index is best effort: an indexing failure is
// logged and the append still succeeds, because logs.jsonl is the record.
package store
