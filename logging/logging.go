// Package logging provides real-time console output for the task lifecycle
// core. The per-task logs.jsonl stream is THE forensic record. This package
// provides optional leveled output for monitoring, derived from lifecycle
// events.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level represents log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// ParseLevel converts a string to a Level, defaulting to INFO.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

// Logger provides structured logging to a writer.
// This is for real-time monitoring only - forensic analysis uses the
// per-task log stream.
type Logger struct {
	mu        sync.Mutex
	output    io.Writer
	minLevel  Level
	component string
	taskID    string
}

// levelPriority maps levels to numeric priority for filtering.
var levelPriority = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// New creates a new Logger.
func New() *Logger {
	return &Logger{
		output:   os.Stdout,
		minLevel: LevelInfo,
	}
}

// Nop creates a Logger that discards all output.
func Nop() *Logger {
	return &Logger{
		output:   io.Discard,
		minLevel: LevelError,
	}
}

// WithComponent returns a new logger with the given component name.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		output:    l.output,
		minLevel:  l.minLevel,
		component: component,
		taskID:    l.taskID,
	}
}

// WithTaskID returns a new logger with the given task ID attached to
// every line.
func (l *Logger) WithTaskID(taskID string) *Logger {
	return &Logger{
		output:    l.output,
		minLevel:  l.minLevel,
		component: l.component,
		taskID:    taskID,
	}
}

// SetLevel sets the minimum log level.
func (l *Logger) SetLevel(level Level) {
	l.minLevel = level
}

// SetOutput sets the output writer (default: stdout).
func (l *Logger) SetOutput(w io.Writer) {
	l.output = w
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.log(LevelDebug, msg, fields...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.log(LevelInfo, msg, fields...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.log(LevelWarn, msg, fields...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.log(LevelError, msg, fields...)
}

// formatFields formats a map of fields as key=value pairs.
func formatFields(fields map[string]interface{}) string {
	if len(fields) == 0 {
		return ""
	}
	var parts []string
	for k, v := range fields {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	return " " + strings.Join(parts, " ")
}

// log writes a log entry in traditional format: LEVEL TIMESTAMP [component] message key=value ...
func (l *Logger) log(level Level, msg string, fields ...map[string]interface{}) {
	if levelPriority[level] < levelPriority[l.minLevel] {
		return
	}

	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")

	var fieldStr string
	if len(fields) > 0 && fields[0] != nil {
		fieldStr = formatFields(fields[0])
	}
	if l.taskID != "" {
		fieldStr = " task=" + l.taskID + fieldStr
	}

	var line string
	if l.component != "" {
		line = fmt.Sprintf("%-5s %s [%s] %s%s\n", level, timestamp, l.component, msg, fieldStr)
	} else {
		line = fmt.Sprintf("%-5s %s %s%s\n", level, timestamp, msg, fieldStr)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.output.Write([]byte(line))
}

// --- Lifecycle event methods ---
// These are called by the controller and engines after the durable log
// entry has been appended. They provide real-time console output without
// duplicating data.

// TransitionStart logs the start of a lifecycle transition.
func (l *Logger) TransitionStart(taskID, from, to string) {
	l.Debug("transition_start", map[string]interface{}{
		"task": taskID,
		"from": from,
		"to":   to,
	})
}

// TransitionComplete logs a completed lifecycle transition.
func (l *Logger) TransitionComplete(taskID, status string, duration time.Duration) {
	l.Info("transition_complete", map[string]interface{}{
		"task":     taskID,
		"status":   status,
		"duration": duration.String(),
	})
}

// HookError logs a failing after-hook. Before-hook failures surface as
// operation errors instead.
func (l *Logger) HookError(hookType, hookID string, err error) {
	l.Error("hook_error", map[string]interface{}{
		"type": hookType,
		"hook": hookID,
		"err":  err.Error(),
	})
}

// LockWait logs a lock acquisition that had to wait.
func (l *Logger) LockWait(resource string, wait time.Duration) {
	l.Debug("lock_wait", map[string]interface{}{
		"resource": resource,
		"wait":     wait.String(),
	})
}

// CheckpointCreated logs a new checkpoint.
func (l *Logger) CheckpointCreated(taskID, checkpointID string, bytes int64) {
	l.Info("checkpoint_created", map[string]interface{}{
		"task":       taskID,
		"checkpoint": checkpointID,
		"bytes":      bytes,
	})
}

// CheckpointRotated logs checkpoint deletions from rotation or the
// storage ceiling.
func (l *Logger) CheckpointRotated(taskID string, deleted int, reason string) {
	l.Info("checkpoint_rotated", map[string]interface{}{
		"task":    taskID,
		"deleted": deleted,
		"reason":  reason,
	})
}

// SnapshotCreated logs a new workspace snapshot.
func (l *Logger) SnapshotCreated(taskID, snapshotID string, files int) {
	l.Info("snapshot_created", map[string]interface{}{
		"task":     taskID,
		"snapshot": snapshotID,
		"files":    files,
	})
}

// StorageWarning logs a storage-related warning (partial compression,
// ceiling breach, integrity mismatch).
func (l *Logger) StorageWarning(msg string, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["storage"] = true
	l.Warn(msg, fields)
}
