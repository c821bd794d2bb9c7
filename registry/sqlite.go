package registry

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/taskvault/taskvault/errors"
	"github.com/taskvault/taskvault/task"
)

//go:embed schema.sql
var schemaSQL string

const defaultBusyTimeout = 5 * time.Second

// SQLite is a durable Registry backed by a SQLite database. The pure-Go
// driver keeps the module CGO-free.
type SQLite struct {
	db          *sql.DB
	busyTimeout time.Duration
	enableWAL   bool
	maxOpenConn int
}

// SQLiteOption configures a SQLite registry.
type SQLiteOption func(*SQLite)

// WithBusyTimeout sets the SQLite busy_timeout pragma.
func WithBusyTimeout(timeout time.Duration) SQLiteOption {
	return func(r *SQLite) {
		if timeout >= 0 {
			r.busyTimeout = timeout
		}
	}
}

// WithWAL toggles write-ahead logging (default on).
func WithWAL(enabled bool) SQLiteOption {
	return func(r *SQLite) {
		r.enableWAL = enabled
	}
}

// WithMaxOpenConns caps the connection pool.
func WithMaxOpenConns(n int) SQLiteOption {
	return func(r *SQLite) {
		if n > 0 {
			r.maxOpenConn = n
		}
	}
}

// NewSQLite opens (creating if needed) a SQLite-backed registry at path.
func NewSQLite(path string, opts ...SQLiteOption) (*SQLite, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.Validation("sqlite path is required")
	}

	r := &SQLite{
		busyTimeout: defaultBusyTimeout,
		enableWAL:   true,
		maxOpenConn: 1,
	}
	for _, opt := range opts {
		opt(r)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Storage("failed to create sqlite directory", errors.WithCause(err))
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Storage("failed to open sqlite db", errors.WithCause(err))
	}
	db.SetMaxOpenConns(r.maxOpenConn)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	r.db = db
	if err := r.initialize(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return r, nil
}

func (r *SQLite) initialize(ctx context.Context) error {
	if r.busyTimeout > 0 {
		ms := int(r.busyTimeout / time.Millisecond)
		if _, err := r.db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d;", ms)); err != nil {
			return errors.Storage("failed to set busy_timeout", errors.WithCause(err))
		}
	}
	if r.enableWAL {
		if _, err := r.db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
			return errors.Storage("failed to enable wal", errors.WithCause(err))
		}
	}
	if _, err := r.db.ExecContext(ctx, schemaSQL); err != nil {
		return errors.Storage("failed to initialize schema", errors.WithCause(err))
	}
	return nil
}

// Create inserts a new task.
func (r *SQLite) Create(ctx context.Context, t *task.Task) error {
	if err := validate(t); err != nil {
		return err
	}

	metaRaw, err := json.Marshal(metadataOrEmpty(t.Metadata))
	if err != nil {
		return errors.Storage("failed to marshal metadata", errors.WithCause(err), errors.WithTaskID(t.ID))
	}

	const q = `
INSERT INTO tasks (id, name, status, owner, agent_id, metadata, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?);
`
	_, err = r.db.ExecContext(ctx, q,
		t.ID, t.Name, string(t.Status), t.Owner, t.AgentID, string(metaRaw),
		formatTime(t.CreatedAt), formatTime(t.UpdatedAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return errors.FromCode(errors.ErrCodeAlreadyExists, errors.WithTaskID(t.ID))
		}
		return errors.Storage("failed to insert task", errors.WithCause(err), errors.WithTaskID(t.ID))
	}
	return nil
}

// GetByID retrieves a task by id.
func (r *SQLite) GetByID(ctx context.Context, id string) (*task.Task, error) {
	const q = `
SELECT id, name, status, owner, agent_id, metadata, created_at, updated_at
FROM tasks WHERE id = ?;
`
	t, err := scanTask(r.db.QueryRowContext(ctx, q, id))
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("task "+id+" not found", errors.WithTaskID(id))
	}
	if err != nil {
		return nil, errors.Storage("failed to load task", errors.WithCause(err), errors.WithTaskID(id))
	}
	return t, nil
}

// Update applies partial changes to an existing task.
func (r *SQLite) Update(ctx context.Context, id string, partial Partial) (*task.Task, error) {
	sets := []string{"updated_at = ?"}
	args := []any{formatTime(time.Now())}

	if partial.Status != nil {
		if err := validateStatus(*partial.Status); err != nil {
			return nil, err
		}
		sets = append(sets, "status = ?")
		args = append(args, string(*partial.Status))
	}
	if partial.AgentID != nil {
		sets = append(sets, "agent_id = ?")
		args = append(args, *partial.AgentID)
	}
	if partial.Metadata != nil {
		metaRaw, err := json.Marshal(partial.Metadata)
		if err != nil {
			return nil, errors.Storage("failed to marshal metadata", errors.WithCause(err), errors.WithTaskID(id))
		}
		sets = append(sets, "metadata = ?")
		args = append(args, string(metaRaw))
	}
	args = append(args, id)

	q := "UPDATE tasks SET " + strings.Join(sets, ", ") + " WHERE id = ?;"
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return nil, errors.Storage("failed to update task", errors.WithCause(err), errors.WithTaskID(id))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, errors.Storage("failed to read update result", errors.WithCause(err), errors.WithTaskID(id))
	}
	if n == 0 {
		return nil, errors.NotFound("task "+id+" not found", errors.WithTaskID(id))
	}

	return r.GetByID(ctx, id)
}

// Delete removes a task.
func (r *SQLite) Delete(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM tasks WHERE id = ?;", id)
	if err != nil {
		return false, errors.Storage("failed to delete task", errors.WithCause(err), errors.WithTaskID(id))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Storage("failed to read delete result", errors.WithCause(err), errors.WithTaskID(id))
	}
	return n > 0, nil
}

// List returns tasks matching the filter, newest first.
func (r *SQLite) List(ctx context.Context, filter Filter) ([]*task.Task, error) {
	var conds []string
	var args []any
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Owner != "" {
		conds = append(conds, "owner = ?")
		args = append(args, filter.Owner)
	}

	q := "SELECT id, name, status, owner, agent_id, metadata, created_at, updated_at FROM tasks"
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			q += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	} else if filter.Offset > 0 {
		// SQLite requires LIMIT with OFFSET; -1 means unlimited.
		q += " LIMIT -1 OFFSET ?"
		args = append(args, filter.Offset)
	}
	q += ";"

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errors.Storage("failed to list tasks", errors.WithCause(err))
	}
	defer rows.Close()

	var out []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, errors.Storage("failed to scan task row", errors.WithCause(err))
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Storage("failed to iterate task rows", errors.WithCause(err))
	}
	return out, nil
}

// Close closes the database.
func (r *SQLite) Close() error {
	return r.db.Close()
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*task.Task, error) {
	var (
		t          task.Task
		status     string
		metaRaw    string
		createdRaw string
		updatedRaw string
	)
	if err := row.Scan(&t.ID, &t.Name, &status, &t.Owner, &t.AgentID, &metaRaw, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}
	t.Status = task.Status(status)

	if metaRaw != "" && metaRaw != "{}" {
		if err := json.Unmarshal([]byte(metaRaw), &t.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	var err error
	if t.CreatedAt, err = parseTime(createdRaw); err != nil {
		return nil, err
	}
	if t.UpdatedAt, err = parseTime(updatedRaw); err != nil {
		return nil, err
	}
	return &t, nil
}

func metadataOrEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", s, err)
	}
	return t, nil
}
