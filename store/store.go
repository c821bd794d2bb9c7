package store

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/taskvault/taskvault/errors"
	"github.com/taskvault/taskvault/logging"
	"github.com/taskvault/taskvault/task"
)

const (
	stateFile = "state.json"
	logsFile  = "logs.jsonl"
)

// LogFilter selects a subset of a task's log entries.
type LogFilter struct {
	// Level keeps only entries at exactly this level. Empty means all.
	Level task.LogLevel
}

// FileStore persists per-task state and logs under a storage root:
//
//	root/<taskID>/state.json   current StateSnapshot, overwritten
//	root/<taskID>/logs.jsonl   append-only LogEntry stream
//
// The checkpoint and snapshot engines share the same per-task directories.
type FileStore struct {
	root   string
	logger *logging.Logger
	index  *LogIndex

	// Serializes appends per task so concurrent writers cannot interleave
	// partial lines. Entries are removed on Cleanup.
	mu      sync.Mutex
	taskMus map[string]*sync.Mutex
}

// Option configures a FileStore.
type Option func(*FileStore)

// WithLogger attaches a logger for storage warnings.
func WithLogger(logger *logging.Logger) Option {
	return func(s *FileStore) {
		if logger != nil {
			s.logger = logger.WithComponent("store")
		}
	}
}

// WithLogIndex attaches a full-text index; every appended entry is also
// indexed and SearchLogs becomes available.
func WithLogIndex(index *LogIndex) Option {
	return func(s *FileStore) {
		s.index = index
	}
}

// NewFileStore creates a file-backed state/log store rooted at dir.
func NewFileStore(root string, opts ...Option) (*FileStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.Validation("storage root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Storage("failed to create storage root", errors.WithCause(err), errors.WithResource(root))
	}

	s := &FileStore{
		root:    root,
		logger:  logging.Nop(),
		taskMus: make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Root returns the storage root directory.
func (s *FileStore) Root() string {
	return s.root
}

// TaskDir returns the directory holding all artifacts for a task.
func (s *FileStore) TaskDir(taskID string) string {
	return filepath.Join(s.root, taskID)
}

// validTaskID rejects ids that would escape the storage root.
func validTaskID(taskID string) error {
	if taskID == "" {
		return errors.Validation("task id is required")
	}
	if strings.ContainsAny(taskID, `/\`) || taskID == "." || taskID == ".." {
		return errors.Validation("task id must not contain path separators")
	}
	return nil
}

func (s *FileStore) taskMu(taskID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	mu, ok := s.taskMus[taskID]
	if !ok {
		mu = &sync.Mutex{}
		s.taskMus[taskID] = mu
	}
	return mu
}

// SaveState overwrites the single current snapshot for the task.
// No history is kept here; history lives only in checkpoints.
func (s *FileStore) SaveState(ctx context.Context, taskID string, snap *task.StateSnapshot) error {
	if err := validTaskID(taskID); err != nil {
		return err
	}
	if snap == nil {
		return errors.Validation("state snapshot is required")
	}

	dir := s.TaskDir(taskID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Storage("failed to create task directory", errors.WithCause(err), errors.WithTaskID(taskID))
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return errors.Storage("failed to marshal state", errors.WithCause(err), errors.WithTaskID(taskID))
	}

	return writeFileAtomic(filepath.Join(dir, stateFile), data, taskID)
}

// LoadState returns the current snapshot, or nil if none has been saved.
func (s *FileStore) LoadState(ctx context.Context, taskID string) (*task.StateSnapshot, error) {
	if err := validTaskID(taskID); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(s.TaskDir(taskID), stateFile))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Storage("failed to read state", errors.WithCause(err), errors.WithTaskID(taskID))
	}

	var snap task.StateSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, errors.New(errors.ErrCodeCorruption, "state file is not valid JSON",
			errors.WithCause(err), errors.WithTaskID(taskID))
	}
	return &snap, nil
}

// AppendLog appends one entry to the task's log stream. Entries are
// immutable once written and keep strict per-task program order.
func (s *FileStore) AppendLog(ctx context.Context, taskID string, entry task.LogEntry) error {
	if err := validTaskID(taskID); err != nil {
		return err
	}

	dir := s.TaskDir(taskID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Storage("failed to create task directory", errors.WithCause(err), errors.WithTaskID(taskID))
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return errors.Storage("failed to marshal log entry", errors.WithCause(err), errors.WithTaskID(taskID))
	}

	mu := s.taskMu(taskID)
	mu.Lock()
	defer mu.Unlock()

	f, err := os.OpenFile(filepath.Join(dir, logsFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return errors.Storage("failed to open log stream", errors.WithCause(err), errors.WithTaskID(taskID))
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return errors.Storage("failed to append log entry", errors.WithCause(err), errors.WithTaskID(taskID))
	}

	if s.index != nil {
		if err := s.index.Add(taskID, entry); err != nil {
			// The jsonl stream is the record; the index is best effort.
			s.logger.StorageWarning("log index update failed", map[string]interface{}{
				"task": taskID,
				"err":  err.Error(),
			})
		}
	}
	return nil
}

// LoadLogs returns the ordered log entries for a task, optionally
// filtered by level. A task with no logs yields an empty slice.
func (s *FileStore) LoadLogs(ctx context.Context, taskID string, filter *LogFilter) ([]task.LogEntry, error) {
	if err := validTaskID(taskID); err != nil {
		return nil, err
	}

	f, err := os.Open(filepath.Join(s.TaskDir(taskID), logsFile))
	if os.IsNotExist(err) {
		return []task.LogEntry{}, nil
	}
	if err != nil {
		return nil, errors.Storage("failed to open log stream", errors.WithCause(err), errors.WithTaskID(taskID))
	}
	defer f.Close()

	var out []task.LogEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry task.LogEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			return nil, errors.New(errors.ErrCodeCorruption, "log stream contains invalid JSON",
				errors.WithCause(err), errors.WithTaskID(taskID))
		}
		if filter != nil && filter.Level != "" && entry.Level != filter.Level {
			continue
		}
		out = append(out, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Storage("failed to read log stream", errors.WithCause(err), errors.WithTaskID(taskID))
	}
	if out == nil {
		out = []task.LogEntry{}
	}
	return out, nil
}

// SearchLogs performs a full-text search over the task's log messages.
// Requires a log index (WithLogIndex); results keep log order.
func (s *FileStore) SearchLogs(ctx context.Context, taskID, query string) ([]task.LogEntry, error) {
	if err := validTaskID(taskID); err != nil {
		return nil, err
	}
	if s.index == nil {
		return nil, errors.Validation("log search requires a log index")
	}
	return s.index.Search(taskID, query)
}

// Cleanup removes the task's state, logs, and every checkpoint, snapshot,
// and chunk artifact under its directory.
func (s *FileStore) Cleanup(ctx context.Context, taskID string) error {
	if err := validTaskID(taskID); err != nil {
		return err
	}

	if err := os.RemoveAll(s.TaskDir(taskID)); err != nil {
		return errors.Storage("failed to remove task directory", errors.WithCause(err), errors.WithTaskID(taskID))
	}

	if s.index != nil {
		if err := s.index.DeleteTask(taskID); err != nil {
			s.logger.StorageWarning("log index cleanup failed", map[string]interface{}{
				"task": taskID,
				"err":  err.Error(),
			})
		}
	}

	s.mu.Lock()
	delete(s.taskMus, taskID)
	s.mu.Unlock()
	return nil
}

// Close releases the log index, if any.
func (s *FileStore) Close() error {
	if s.index != nil {
		return s.index.Close()
	}
	return nil
}

// writeFileAtomic writes data to a temp file in the target directory and
// renames it into place, so readers never observe a partial state file.
func writeFileAtomic(path string, data []byte, taskID string) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".state-*.tmp")
	if err != nil {
		return errors.Storage("failed to create temp file", errors.WithCause(err), errors.WithTaskID(taskID))
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Storage("failed to write state", errors.WithCause(err), errors.WithTaskID(taskID))
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Storage("failed to close temp file", errors.WithCause(err), errors.WithTaskID(taskID))
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return errors.Storage("failed to replace state file", errors.WithCause(err), errors.WithTaskID(taskID))
	}
	return nil
}
