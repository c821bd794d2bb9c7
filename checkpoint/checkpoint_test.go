package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/taskvault/taskvault/errors"
	"github.com/taskvault/taskvault/store"
	"github.com/taskvault/taskvault/task"
)

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *store.FileStore) {
	t.Helper()
	s, err := store.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return NewEngine(s, opts...), s
}

func seedTask(t *testing.T, s *store.FileStore, taskID string, data map[string]interface{}) {
	t.Helper()
	ctx := context.Background()
	snap := &task.StateSnapshot{
		TaskID:      taskID,
		Status:      task.StatusRunning,
		Data:        data,
		LastUpdated: time.Now().UTC(),
	}
	if err := s.SaveState(ctx, taskID, snap); err != nil {
		t.Fatalf("SaveState: %v", err)
	}
	if err := s.AppendLog(ctx, taskID, task.LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     task.LogInfo,
		Message:   "seeded",
	}); err != nil {
		t.Fatalf("AppendLog: %v", err)
	}
}

func TestCreateAndList(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()
	seedTask(t, s, "t1", map[string]interface{}{"step": float64(1)})

	id1, err := e.Create(ctx, "t1", "first")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	seedTask(t, s, "t1", map[string]interface{}{"step": float64(2)})
	id2, err := e.Create(ctx, "t1", "second")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	infos, err := e.List(ctx, "t1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("expected 2 checkpoints, got %d", len(infos))
	}
	if infos[0].ID != id2 || infos[1].ID != id1 {
		t.Errorf("expected newest first [%s %s], got [%s %s]", id2, id1, infos[0].ID, infos[1].ID)
	}
	if infos[0].Description != "second" {
		t.Errorf("expected description %q, got %q", "second", infos[0].Description)
	}
}

func TestCreateWithoutState(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.Create(context.Background(), "missing", "")
	if !errors.Is(err, errors.ErrCodeNotFound) {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}
}

func TestListEmpty(t *testing.T) {
	e, _ := newTestEngine(t)
	infos, err := e.List(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(infos) != 0 {
		t.Errorf("expected no checkpoints, got %d", len(infos))
	}
}

func TestRestore(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()
	seedTask(t, s, "t1", map[string]interface{}{"progress": float64(40)})

	id, err := e.Create(ctx, "t1", "before overwrite")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	seedTask(t, s, "t1", map[string]interface{}{"progress": float64(99)})

	if err := e.Restore(ctx, "t1", id); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	snap, err := s.LoadState(ctx, "t1")
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if snap.Data["progress"] != float64(40) {
		t.Errorf("expected restored progress 40, got %v", snap.Data["progress"])
	}
}

func TestRestoreUnknownCheckpoint(t *testing.T) {
	e, s := newTestEngine(t)
	seedTask(t, s, "t1", nil)
	err := e.Restore(context.Background(), "t1", "cp-0000000000000000000")
	if !errors.Is(err, errors.ErrCodeNotFound) {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}
}

func TestCompressDecompressRoundTrip(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()
	seedTask(t, s, "t1", map[string]interface{}{"payload": "abcabcabcabcabcabc"})

	id, err := e.Create(ctx, "t1", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := e.Compress(ctx, "t1", id); err != nil {
		t.Fatalf("Compress: %v", err)
	}
	dir := e.bundleDir("t1", id)
	if _, err := os.Stat(filepath.Join(dir, "state.json.gz")); err != nil {
		t.Fatalf("expected compressed state file: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "state.json")); !os.IsNotExist(err) {
		t.Error("plaintext state should be gone after compression")
	}
	if _, err := os.Stat(filepath.Join(dir, "manifest.json")); err != nil {
		t.Errorf("manifest must stay plaintext: %v", err)
	}

	// Compressing again is a no-op.
	if err := e.Compress(ctx, "t1", id); err != nil {
		t.Fatalf("second Compress: %v", err)
	}

	// Restore must work from a compressed bundle.
	if err := e.Restore(ctx, "t1", id); err != nil {
		t.Fatalf("Restore from compressed: %v", err)
	}
	snap, err := s.LoadState(ctx, "t1")
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if snap.Data["payload"] != "abcabcabcabcabcabc" {
		t.Errorf("unexpected restored payload %v", snap.Data["payload"])
	}

	if err := e.Decompress(ctx, "t1", id); err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "state.json")); err != nil {
		t.Fatalf("expected plaintext state after decompression: %v", err)
	}
	if err := e.Verify(ctx, "t1", id); err != nil {
		t.Errorf("Verify after round trip: %v", err)
	}
}

func TestCreateIncrementalDedup(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()
	seedTask(t, s, "t1", map[string]interface{}{"step": float64(1)})

	id1, err := e.CreateIncremental(ctx, "t1", "first")
	if err != nil {
		t.Fatalf("CreateIncremental: %v", err)
	}

	// Unchanged state: returns the existing id, creates nothing.
	id2, err := e.CreateIncremental(ctx, "t1", "same")
	if err != nil {
		t.Fatalf("CreateIncremental: %v", err)
	}
	if id2 != id1 {
		t.Errorf("expected dedup to return %s, got %s", id1, id2)
	}

	seedTask(t, s, "t1", map[string]interface{}{"step": float64(2)})
	id3, err := e.CreateIncremental(ctx, "t1", "changed")
	if err != nil {
		t.Fatalf("CreateIncremental: %v", err)
	}
	if id3 == id1 {
		t.Error("expected a new checkpoint after state change")
	}

	infos, err := e.List(ctx, "t1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(infos) != 2 {
		t.Errorf("expected 2 checkpoints, got %d", len(infos))
	}
}

func TestCreateIncrementalCompresses(t *testing.T) {
	e, s := newTestEngine(t, WithCompression(true))
	ctx := context.Background()
	seedTask(t, s, "t1", map[string]interface{}{"k": "v"})

	id, err := e.CreateIncremental(ctx, "t1", "")
	if err != nil {
		t.Fatalf("CreateIncremental: %v", err)
	}
	infos, err := e.List(ctx, "t1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(infos) != 1 || !infos[0].Compressed {
		t.Errorf("expected one compressed checkpoint, got %+v", infos)
	}

	// Dedup must still see through compression.
	id2, err := e.CreateIncremental(ctx, "t1", "")
	if err != nil {
		t.Fatalf("CreateIncremental: %v", err)
	}
	if id2 != id {
		t.Errorf("expected dedup against compressed checkpoint, got %s vs %s", id2, id)
	}
}

func TestRotate(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	var ids []string
	for i := 1; i <= 5; i++ {
		seedTask(t, s, "t1", map[string]interface{}{"step": float64(i)})
		id, err := e.Create(ctx, "t1", "")
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		ids = append(ids, id)
	}

	if err := e.Rotate(ctx, "t1", RotationPolicy{KeepLastN: 2}); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	infos, err := e.List(ctx, "t1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("expected 2 survivors, got %d", len(infos))
	}
	if infos[0].ID != ids[4] || infos[1].ID != ids[3] {
		t.Errorf("rotation kept the wrong checkpoints: %+v", infos)
	}

	// Rotating below the count is a no-op.
	if err := e.Rotate(ctx, "t1", RotationPolicy{KeepLastN: 10}); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	infos, _ = e.List(ctx, "t1")
	if len(infos) != 2 {
		t.Errorf("no-op rotation deleted checkpoints, %d left", len(infos))
	}
}

func TestEnforceStorageLimit(t *testing.T) {
	// Tiny ceiling so a handful of checkpoints overflows it.
	e, s := newTestEngine(t, WithMaxTotalBytes(1), WithProtectLastN(1))
	ctx := context.Background()

	for _, taskID := range []string{"a", "b"} {
		for i := 0; i < 3; i++ {
			seedTask(t, s, taskID, map[string]interface{}{"i": float64(i), "task": taskID})
			if _, err := e.Create(ctx, taskID, ""); err != nil {
				t.Fatalf("Create: %v", err)
			}
		}
	}

	if err := e.EnforceStorageLimit(ctx); err != nil {
		t.Fatalf("EnforceStorageLimit: %v", err)
	}

	// Everything eligible is gone, but each task keeps its newest.
	for _, taskID := range []string{"a", "b"} {
		infos, err := e.List(ctx, taskID)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(infos) != 1 {
			t.Errorf("task %s: expected 1 protected checkpoint, got %d", taskID, len(infos))
		}
	}
}

func TestEnforceStorageLimitDisabled(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()
	seedTask(t, s, "t1", map[string]interface{}{"k": "v"})
	if _, err := e.Create(ctx, "t1", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := e.EnforceStorageLimit(ctx); err != nil {
		t.Fatalf("EnforceStorageLimit: %v", err)
	}
	infos, _ := e.List(ctx, "t1")
	if len(infos) != 1 {
		t.Errorf("disabled ceiling must delete nothing, %d left", len(infos))
	}
}

func TestStorageStatsAndSize(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()
	seedTask(t, s, "t1", map[string]interface{}{"k": "v"})
	id, err := e.Create(ctx, "t1", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	size, err := e.Size(ctx, "t1", id)
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if size <= 0 {
		t.Errorf("expected positive bundle size, got %d", size)
	}

	stats, err := e.StorageStats(ctx)
	if err != nil {
		t.Fatalf("StorageStats: %v", err)
	}
	if stats.TotalCheckpoints != 1 {
		t.Errorf("expected 1 checkpoint in stats, got %d", stats.TotalCheckpoints)
	}
	if stats.TotalBytes != size || stats.PerTask["t1"] != size {
		t.Errorf("stats bytes mismatch: total=%d per-task=%d size=%d",
			stats.TotalBytes, stats.PerTask["t1"], size)
	}
}

func TestVerifyDetectsCorruption(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()
	seedTask(t, s, "t1", map[string]interface{}{"k": "v"})
	id, err := e.Create(ctx, "t1", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := e.Verify(ctx, "t1", id); err != nil {
		t.Fatalf("Verify on a fresh bundle: %v", err)
	}

	statePath := filepath.Join(e.bundleDir("t1", id), "state.json")
	if err := os.WriteFile(statePath, []byte(`{"tampered":true}`), 0o644); err != nil {
		t.Fatalf("tampering: %v", err)
	}
	err = e.Verify(ctx, "t1", id)
	if !errors.Is(err, errors.ErrCodeCorruption) {
		t.Errorf("expected CORRUPTION, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()
	seedTask(t, s, "t1", nil)
	id, err := e.Create(ctx, "t1", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := e.Delete(ctx, "t1", id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := e.Delete(ctx, "t1", id); !errors.Is(err, errors.ErrCodeNotFound) {
		t.Errorf("expected NOT_FOUND on second delete, got %v", err)
	}

	infos, _ := e.List(ctx, "t1")
	if len(infos) != 0 {
		t.Errorf("expected no checkpoints after delete, got %d", len(infos))
	}
}

func TestIDsAreTimeOrdered(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	var prev string
	for i := 0; i < 10; i++ {
		seedTask(t, s, "t1", map[string]interface{}{"i": float64(i)})
		id, err := e.Create(ctx, "t1", "")
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if prev != "" && id <= prev {
			t.Fatalf("ids not strictly increasing: %s then %s", prev, id)
		}
		prev = id
	}
}
