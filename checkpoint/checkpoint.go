package checkpoint

import (
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/taskvault/taskvault/errors"
	"github.com/taskvault/taskvault/logging"
	"github.com/taskvault/taskvault/store"
)

const (
	checkpointsDir = "checkpoints"
	stateFile      = "state.json"
	logsFile       = "logs.jsonl"
	manifestFile   = "manifest.json"
	gzSuffix       = ".gz"

	stagingPrefix = ".staging-"
	trashPrefix   = ".trash-"
)

// Info describes one checkpoint.
type Info struct {
	ID          string    `json:"id"`
	TaskID      string    `json:"task_id"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	Compressed  bool      `json:"compressed"`
}

// fileEntry records one bundle file in the manifest. Checksum covers the
// uncompressed content so it stays stable across compress/decompress.
type fileEntry struct {
	Name       string `json:"name"`
	Size       int64  `json:"size"`
	SHA256     string `json:"sha256"`
	Compressed bool   `json:"compressed"`
}

// manifest is the persisted bundle descriptor. It is always stored as
// plaintext JSON so listing and accounting never require decompression.
type manifest struct {
	ID          string      `json:"id"`
	TaskID      string      `json:"task_id"`
	Description string      `json:"description"`
	CreatedAt   time.Time   `json:"created_at"`
	Files       []fileEntry `json:"files"`
}

func (m *manifest) compressed() bool {
	for _, f := range m.Files {
		if f.Compressed {
			return true
		}
	}
	return false
}

func (m *manifest) info() Info {
	return Info{
		ID:          m.ID,
		TaskID:      m.TaskID,
		Description: m.Description,
		CreatedAt:   m.CreatedAt,
		Compressed:  m.compressed(),
	}
}

// RotationPolicy controls how many checkpoints Rotate keeps.
type RotationPolicy struct {
	// KeepLastN is the number of most recent checkpoints to keep.
	KeepLastN int
}

// Engine builds and restores immutable point-in-time bundles from a
// task's current state and logs. Bundles live beside the state under the
// shared storage root:
//
//	root/<taskID>/checkpoints/<id>/{state.json[.gz], logs.jsonl[.gz], manifest.json}
type Engine struct {
	store  *store.FileStore
	logger *logging.Logger

	// Storage ceiling across all tasks' checkpoints, in bytes.
	// Zero disables enforcement.
	maxTotalBytes int64

	// Minimum number of recent checkpoints per task that storage-limit
	// enforcement must never delete.
	protectLastN int

	// Compress new incremental checkpoints after creation.
	compress bool

	// Guards id generation so two checkpoints in the same nanosecond
	// still get distinct, ordered ids.
	idMu   sync.Mutex
	lastID int64
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger attaches a logger.
func WithLogger(logger *logging.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger.WithComponent("checkpoint")
		}
	}
}

// WithMaxTotalBytes sets the global storage ceiling. Zero disables
// enforcement.
func WithMaxTotalBytes(n int64) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.maxTotalBytes = n
		}
	}
}

// WithProtectLastN sets how many recent checkpoints per task the storage
// ceiling may never delete.
func WithProtectLastN(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.protectLastN = n
		}
	}
}

// WithCompression toggles automatic compression of incremental
// checkpoints.
func WithCompression(enabled bool) Option {
	return func(e *Engine) {
		e.compress = enabled
	}
}

// NewEngine creates a checkpoint engine sharing the given store's root.
func NewEngine(s *store.FileStore, opts ...Option) *Engine {
	e := &Engine{
		store:        s,
		logger:       logging.Nop(),
		protectLastN: 1,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// newID allocates a time-ordered checkpoint id. Ids sort by creation
// time, newest last lexically; List reverses for newest-first.
func (e *Engine) newID() string {
	e.idMu.Lock()
	defer e.idMu.Unlock()

	now := time.Now().UnixNano()
	if now <= e.lastID {
		now = e.lastID + 1
	}
	e.lastID = now
	return fmt.Sprintf("cp-%019d", now)
}

func (e *Engine) checkpointsRoot(taskID string) string {
	return filepath.Join(e.store.TaskDir(taskID), checkpointsDir)
}

func (e *Engine) bundleDir(taskID, checkpointID string) string {
	return filepath.Join(e.checkpointsRoot(taskID), checkpointID)
}

// Create copies the task's current state and logs into a new immutable
// bundle and returns its id. The bundle is assembled in a staging
// directory and renamed into place, so a partially written checkpoint is
// never visible under its final name.
func (e *Engine) Create(ctx context.Context, taskID, description string) (string, error) {
	statePath := filepath.Join(e.store.TaskDir(taskID), stateFile)
	if _, err := os.Stat(statePath); os.IsNotExist(err) {
		return "", errors.NotFound("no state to checkpoint for task "+taskID, errors.WithTaskID(taskID))
	}

	id := e.newID()
	root := e.checkpointsRoot(taskID)
	staging := filepath.Join(root, stagingPrefix+id)
	final := e.bundleDir(taskID, id)

	if err := os.MkdirAll(staging, 0o755); err != nil {
		return "", errors.Storage("failed to create staging directory", errors.WithCause(err), errors.WithTaskID(taskID))
	}
	cleanup := func() { os.RemoveAll(staging) }

	m := manifest{
		ID:          id,
		TaskID:      taskID,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}

	entry, err := copyIntoBundle(statePath, filepath.Join(staging, stateFile))
	if err != nil {
		cleanup()
		return "", errors.Wrap(err, "copying state into checkpoint", errors.WithTaskID(taskID))
	}
	m.Files = append(m.Files, entry)

	logsPath := filepath.Join(e.store.TaskDir(taskID), logsFile)
	if _, err := os.Stat(logsPath); err == nil {
		entry, err := copyIntoBundle(logsPath, filepath.Join(staging, logsFile))
		if err != nil {
			cleanup()
			return "", errors.Wrap(err, "copying logs into checkpoint", errors.WithTaskID(taskID))
		}
		m.Files = append(m.Files, entry)
	} else {
		// Task has no logs yet; the bundle carries an empty stream.
		if err := os.WriteFile(filepath.Join(staging, logsFile), nil, 0o644); err != nil {
			cleanup()
			return "", errors.Storage("failed to write empty log stream", errors.WithCause(err), errors.WithTaskID(taskID))
		}
		m.Files = append(m.Files, fileEntry{Name: logsFile, SHA256: emptySHA256()})
	}

	if err := writeManifest(filepath.Join(staging, manifestFile), &m); err != nil {
		cleanup()
		return "", errors.Wrap(err, "writing checkpoint manifest", errors.WithTaskID(taskID))
	}

	if err := os.Rename(staging, final); err != nil {
		cleanup()
		return "", errors.Storage("failed to finalize checkpoint", errors.WithCause(err),
			errors.WithTaskID(taskID), errors.WithCheckpointID(id))
	}

	size, _ := dirSize(final)
	e.logger.CheckpointCreated(taskID, id, size)
	return id, nil
}

// List returns the task's checkpoints newest first.
func (e *Engine) List(ctx context.Context, taskID string) ([]Info, error) {
	entries, err := os.ReadDir(e.checkpointsRoot(taskID))
	if os.IsNotExist(err) {
		return []Info{}, nil
	}
	if err != nil {
		return nil, errors.Storage("failed to read checkpoints directory", errors.WithCause(err), errors.WithTaskID(taskID))
	}

	var out []Info
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		m, err := e.readManifest(taskID, entry.Name())
		if err != nil {
			e.logger.StorageWarning("skipping checkpoint with unreadable manifest", map[string]interface{}{
				"task":       taskID,
				"checkpoint": entry.Name(),
				"err":        err.Error(),
			})
			continue
		}
		out = append(out, m.info())
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if out == nil {
		out = []Info{}
	}
	return out, nil
}

// Restore copies the bundle's state and logs back as the task's current
// state and logs, decompressing as needed.
func (e *Engine) Restore(ctx context.Context, taskID, checkpointID string) error {
	m, err := e.readManifest(taskID, checkpointID)
	if err != nil {
		return err
	}

	dir := e.bundleDir(taskID, checkpointID)
	taskDir := e.store.TaskDir(taskID)

	for _, f := range m.Files {
		src := filepath.Join(dir, f.Name)
		if f.Compressed {
			src += gzSuffix
		}
		dst := filepath.Join(taskDir, f.Name)
		if err := restoreFile(src, dst, f.Compressed); err != nil {
			return errors.Wrap(err, "restoring "+f.Name,
				errors.WithTaskID(taskID), errors.WithCheckpointID(checkpointID))
		}
	}
	return nil
}

// Compress gzips the bundle's state and logs files. The compressed bundle
// is assembled in a staging directory and swapped in whole, so a crash
// mid-compression never leaves a mixed plaintext/compressed bundle under
// the checkpoint's name. The manifest stays plaintext.
func (e *Engine) Compress(ctx context.Context, taskID, checkpointID string) error {
	return e.recode(taskID, checkpointID, true)
}

// Decompress restores the bundle's files to plaintext, with the same
// all-or-nothing guarantee as Compress.
func (e *Engine) Decompress(ctx context.Context, taskID, checkpointID string) error {
	return e.recode(taskID, checkpointID, false)
}

func (e *Engine) recode(taskID, checkpointID string, toCompressed bool) error {
	m, err := e.readManifest(taskID, checkpointID)
	if err != nil {
		return err
	}
	if m.compressed() == toCompressed {
		return nil // already in the requested form
	}

	root := e.checkpointsRoot(taskID)
	dir := e.bundleDir(taskID, checkpointID)
	staging := filepath.Join(root, stagingPrefix+checkpointID)
	trash := filepath.Join(root, trashPrefix+checkpointID)

	if err := os.MkdirAll(staging, 0o755); err != nil {
		return errors.Storage("failed to create staging directory", errors.WithCause(err),
			errors.WithTaskID(taskID), errors.WithCheckpointID(checkpointID))
	}
	cleanup := func() { os.RemoveAll(staging) }

	for i, f := range m.Files {
		src := filepath.Join(dir, f.Name)
		var dst string
		var err error
		if toCompressed {
			dst = filepath.Join(staging, f.Name+gzSuffix)
			err = gzipFile(src, dst)
		} else {
			dst = filepath.Join(staging, f.Name)
			err = gunzipFile(src+gzSuffix, dst)
		}
		if err != nil {
			cleanup()
			return errors.WrapWithCode(err, errors.ErrCodeStorage, "recoding "+f.Name,
				errors.WithTaskID(taskID), errors.WithCheckpointID(checkpointID))
		}
		m.Files[i].Compressed = toCompressed
	}

	if err := writeManifest(filepath.Join(staging, manifestFile), m); err != nil {
		cleanup()
		return errors.Wrap(err, "writing manifest", errors.WithTaskID(taskID), errors.WithCheckpointID(checkpointID))
	}

	// Swap the bundle in whole. A crash between the renames leaves the
	// bundle under the trash name; it is invisible to List either way.
	if err := os.Rename(dir, trash); err != nil {
		cleanup()
		return errors.Storage("failed to stage bundle swap", errors.WithCause(err),
			errors.WithTaskID(taskID), errors.WithCheckpointID(checkpointID))
	}
	if err := os.Rename(staging, dir); err != nil {
		// Put the original back.
		_ = os.Rename(trash, dir)
		cleanup()
		return errors.Storage("failed to swap recoded bundle", errors.WithCause(err),
			errors.WithTaskID(taskID), errors.WithCheckpointID(checkpointID))
	}
	return os.RemoveAll(trash)
}

// CreateIncremental compares the task's current state against its most
// recent checkpoint; if structurally identical it returns the existing
// checkpoint id. Otherwise it creates a new checkpoint, compresses it
// when compression is enabled, and triggers storage-limit enforcement.
func (e *Engine) CreateIncremental(ctx context.Context, taskID, description string) (string, error) {
	latest, err := e.latestInfo(ctx, taskID)
	if err != nil {
		return "", err
	}
	if latest != nil {
		same, err := e.stateEquals(taskID, latest.ID)
		if err != nil {
			return "", err
		}
		if same {
			return latest.ID, nil
		}
	}

	id, err := e.Create(ctx, taskID, description)
	if err != nil {
		return "", err
	}

	if e.compress {
		if err := e.Compress(ctx, taskID, id); err != nil {
			// The checkpoint exists and is valid; compression is an
			// optimization. Record and move on.
			e.logger.StorageWarning("checkpoint compression failed", map[string]interface{}{
				"task":       taskID,
				"checkpoint": id,
				"err":        err.Error(),
			})
		}
	}
	if err := e.EnforceStorageLimit(ctx); err != nil {
		e.logger.StorageWarning("storage limit enforcement failed", map[string]interface{}{
			"err": err.Error(),
		})
	}
	return id, nil
}

func (e *Engine) latestInfo(ctx context.Context, taskID string) (*Info, error) {
	infos, err := e.List(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if len(infos) == 0 {
		return nil, nil
	}
	return &infos[0], nil
}

// stateEquals compares the task's current state with a checkpoint's
// state by structural equality, so key order and formatting differences
// do not defeat deduplication.
func (e *Engine) stateEquals(taskID, checkpointID string) (bool, error) {
	current, err := os.ReadFile(filepath.Join(e.store.TaskDir(taskID), stateFile))
	if err != nil {
		return false, errors.Storage("failed to read current state", errors.WithCause(err), errors.WithTaskID(taskID))
	}

	m, err := e.readManifest(taskID, checkpointID)
	if err != nil {
		return false, err
	}
	var entry *fileEntry
	for i := range m.Files {
		if m.Files[i].Name == stateFile {
			entry = &m.Files[i]
			break
		}
	}
	if entry == nil {
		return false, nil
	}

	path := filepath.Join(e.bundleDir(taskID, checkpointID), stateFile)
	var saved []byte
	if entry.Compressed {
		saved, err = readGzipped(path + gzSuffix)
	} else {
		saved, err = os.ReadFile(path)
	}
	if err != nil {
		return false, errors.Storage("failed to read checkpointed state", errors.WithCause(err),
			errors.WithTaskID(taskID), errors.WithCheckpointID(checkpointID))
	}

	var a, b any
	if err := json.Unmarshal(current, &a); err != nil {
		return false, nil
	}
	if err := json.Unmarshal(saved, &b); err != nil {
		return false, nil
	}
	return reflect.DeepEqual(a, b), nil
}

// Rotate deletes all but the policy's KeepLastN most recent checkpoints
// for the task.
func (e *Engine) Rotate(ctx context.Context, taskID string, policy RotationPolicy) error {
	if policy.KeepLastN < 0 {
		return errors.Validation("KeepLastN must not be negative")
	}

	infos, err := e.List(ctx, taskID)
	if err != nil {
		return err
	}
	if len(infos) <= policy.KeepLastN {
		return nil
	}

	deleted := 0
	for _, info := range infos[policy.KeepLastN:] {
		if err := os.RemoveAll(e.bundleDir(taskID, info.ID)); err != nil {
			return errors.Storage("failed to delete checkpoint", errors.WithCause(err),
				errors.WithTaskID(taskID), errors.WithCheckpointID(info.ID))
		}
		deleted++
	}
	if deleted > 0 {
		e.logger.CheckpointRotated(taskID, deleted, "keep_last_n")
	}
	return nil
}

// Delete removes one checkpoint.
func (e *Engine) Delete(ctx context.Context, taskID, checkpointID string) error {
	dir := e.bundleDir(taskID, checkpointID)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return errors.NotFound("checkpoint "+checkpointID+" not found",
			errors.WithTaskID(taskID), errors.WithCheckpointID(checkpointID))
	}
	if err := os.RemoveAll(dir); err != nil {
		return errors.Storage("failed to delete checkpoint", errors.WithCause(err),
			errors.WithTaskID(taskID), errors.WithCheckpointID(checkpointID))
	}
	return nil
}

// DeleteAll removes every checkpoint for a task.
func (e *Engine) DeleteAll(ctx context.Context, taskID string) error {
	if err := os.RemoveAll(e.checkpointsRoot(taskID)); err != nil {
		return errors.Storage("failed to delete checkpoints", errors.WithCause(err), errors.WithTaskID(taskID))
	}
	return nil
}

// candidate pairs a checkpoint with its on-disk size for accounting.
type candidate struct {
	taskID string
	info   Info
	size   int64
	rank   int // 0 = newest within its task
}

// EnforceStorageLimit sums bytes across all tasks' checkpoints and, while
// over the ceiling, deletes globally-oldest checkpoints — skipping each
// task's protected last N. This pass takes no task locks: deletions only
// target fully-written, rotation-eligible bundles, so it may interleave
// with an unrelated task's Create.
func (e *Engine) EnforceStorageLimit(ctx context.Context) error {
	if e.maxTotalBytes <= 0 {
		return nil
	}

	candidates, total, err := e.collectCandidates(ctx)
	if err != nil {
		return err
	}
	if total <= e.maxTotalBytes {
		return nil
	}

	// Oldest first across all tasks.
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].info.CreatedAt.Before(candidates[j].info.CreatedAt)
	})

	for _, c := range candidates {
		if total <= e.maxTotalBytes {
			break
		}
		if c.rank < e.protectLastN {
			continue // within the task's protected tail
		}
		if err := os.RemoveAll(e.bundleDir(c.taskID, c.info.ID)); err != nil {
			return errors.Storage("failed to delete checkpoint for storage limit", errors.WithCause(err),
				errors.WithTaskID(c.taskID), errors.WithCheckpointID(c.info.ID))
		}
		total -= c.size
		e.logger.CheckpointRotated(c.taskID, 1, "storage_limit")
	}

	if total > e.maxTotalBytes {
		e.logger.StorageWarning("storage still over ceiling after enforcement", map[string]interface{}{
			"total":   total,
			"ceiling": e.maxTotalBytes,
		})
	}
	return nil
}

func (e *Engine) collectCandidates(ctx context.Context) ([]candidate, int64, error) {
	taskDirs, err := os.ReadDir(e.store.Root())
	if os.IsNotExist(err) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, errors.Storage("failed to read storage root", errors.WithCause(err))
	}

	var out []candidate
	var total int64
	for _, td := range taskDirs {
		if !td.IsDir() {
			continue
		}
		taskID := td.Name()
		infos, err := e.List(ctx, taskID)
		if err != nil {
			return nil, 0, err
		}
		for rank, info := range infos {
			size, err := dirSize(e.bundleDir(taskID, info.ID))
			if err != nil {
				continue
			}
			out = append(out, candidate{taskID: taskID, info: info, size: size, rank: rank})
			total += size
		}
	}
	return out, total, nil
}

// Stats summarizes checkpoint storage usage.
type Stats struct {
	TotalBytes       int64            `json:"total_bytes"`
	TotalCheckpoints int              `json:"total_checkpoints"`
	PerTask          map[string]int64 `json:"per_task"`
}

// StorageStats returns read-only accounting across all tasks.
func (e *Engine) StorageStats(ctx context.Context) (*Stats, error) {
	candidates, total, err := e.collectCandidates(ctx)
	if err != nil {
		return nil, err
	}
	stats := &Stats{
		TotalBytes:       total,
		TotalCheckpoints: len(candidates),
		PerTask:          make(map[string]int64),
	}
	for _, c := range candidates {
		stats.PerTask[c.taskID] += c.size
	}
	return stats, nil
}

// Size returns the on-disk size of one checkpoint's bundle.
func (e *Engine) Size(ctx context.Context, taskID, checkpointID string) (int64, error) {
	dir := e.bundleDir(taskID, checkpointID)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return 0, errors.NotFound("checkpoint "+checkpointID+" not found",
			errors.WithTaskID(taskID), errors.WithCheckpointID(checkpointID))
	}
	return dirSize(dir)
}

// Verify recomputes each bundle file's content checksum and compares it
// against the manifest. Compressed files are hashed after decompression.
func (e *Engine) Verify(ctx context.Context, taskID, checkpointID string) error {
	m, err := e.readManifest(taskID, checkpointID)
	if err != nil {
		return err
	}

	dir := e.bundleDir(taskID, checkpointID)
	for _, f := range m.Files {
		var data []byte
		var err error
		if f.Compressed {
			data, err = readGzipped(filepath.Join(dir, f.Name+gzSuffix))
		} else {
			data, err = os.ReadFile(filepath.Join(dir, f.Name))
		}
		if err != nil {
			return errors.Storage("failed to read bundle file "+f.Name, errors.WithCause(err),
				errors.WithTaskID(taskID), errors.WithCheckpointID(checkpointID))
		}
		sum := sha256.Sum256(data)
		if hex.EncodeToString(sum[:]) != f.SHA256 {
			return errors.New(errors.ErrCodeCorruption, "checksum mismatch for "+f.Name,
				errors.WithTaskID(taskID), errors.WithCheckpointID(checkpointID))
		}
	}
	return nil
}

func (e *Engine) readManifest(taskID, checkpointID string) (*manifest, error) {
	data, err := os.ReadFile(filepath.Join(e.bundleDir(taskID, checkpointID), manifestFile))
	if os.IsNotExist(err) {
		return nil, errors.NotFound("checkpoint "+checkpointID+" not found",
			errors.WithTaskID(taskID), errors.WithCheckpointID(checkpointID))
	}
	if err != nil {
		return nil, errors.Storage("failed to read manifest", errors.WithCause(err),
			errors.WithTaskID(taskID), errors.WithCheckpointID(checkpointID))
	}

	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.New(errors.ErrCodeCorruption, "manifest is not valid JSON",
			errors.WithCause(err), errors.WithTaskID(taskID), errors.WithCheckpointID(checkpointID))
	}
	return &m, nil
}

// --- file helpers ---

func writeManifest(path string, m *manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return errors.Storage("failed to marshal manifest", errors.WithCause(err))
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Storage("failed to write manifest", errors.WithCause(err))
	}
	return nil
}

// copyIntoBundle copies src to dst while hashing the content.
func copyIntoBundle(src, dst string) (fileEntry, error) {
	in, err := os.Open(src)
	if err != nil {
		return fileEntry{}, err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fileEntry{}, err
	}
	defer out.Close()

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(out, h), in)
	if err != nil {
		return fileEntry{}, err
	}
	return fileEntry{
		Name:   filepath.Base(dst),
		Size:   n,
		SHA256: hex.EncodeToString(h.Sum(nil)),
	}, nil
}

func gzipFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	if _, err := io.Copy(gz, in); err != nil {
		return err
	}
	return gz.Close()
}

func gunzipFile(src, dst string) error {
	data, err := readGzipped(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}

func readGzipped(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer gz.Close()

	return io.ReadAll(gz)
}

func restoreFile(src, dst string, compressed bool) error {
	var data []byte
	var err error
	if compressed {
		data, err = readGzipped(src)
	} else {
		data, err = os.ReadFile(src)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}

func dirSize(dir string) (int64, error) {
	var total int64
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	return total, err
}

func emptySHA256() string {
	sum := sha256.Sum256(nil)
	return hex.EncodeToString(sum[:])
}
