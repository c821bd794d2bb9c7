package snapshot

import (
	"bytes"
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/taskvault/taskvault/errors"
	"github.com/taskvault/taskvault/store"
)

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	s, err := store.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return NewEngine(s, opts...)
}

// buildWorkspace lays out a small source tree to snapshot.
func buildWorkspace(t *testing.T) string {
	t.Helper()
	base := t.TempDir()
	files := map[string]string{
		"main.go":          "package main",
		"src/app.go":       "package app",
		"src/app_test.go":  "package app // test",
		"build/output.bin": "binary",
		"debug.log":        "noise",
	}
	for rel, content := range files {
		path := filepath.Join(base, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", rel, err)
		}
	}
	return base
}

func TestCreateSelectiveCompressed(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	base := buildWorkspace(t)

	id, err := e.CreateSelective(ctx, "t1", Options{
		BaseDir:         base,
		IncludePaths:    []string{"."},
		ExcludePatterns: []string{"*.log", "build/*"},
		Compress:        true,
	})
	if err != nil {
		t.Fatalf("CreateSelective: %v", err)
	}

	manifests, err := e.List(ctx, "t1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(manifests) != 1 {
		t.Fatalf("expected 1 snapshot, got %d", len(manifests))
	}
	m := manifests[0]
	if m.ID != id || !m.Compressed {
		t.Errorf("unexpected manifest %+v", m)
	}

	got := make(map[string]bool)
	for _, f := range m.Files {
		got[f.Path] = true
		if f.SHA256 == "" {
			t.Errorf("file %s has no content checksum", f.Path)
		}
	}
	for _, want := range []string{"main.go", "src/app.go", "src/app_test.go"} {
		if !got[want] {
			t.Errorf("expected %s in snapshot", want)
		}
	}
	for _, unwanted := range []string{"debug.log", "build/output.bin"} {
		if got[unwanted] {
			t.Errorf("excluded file %s was captured", unwanted)
		}
	}
	if m.FileListSHA256 == "" {
		t.Error("expected file list checksum")
	}

	// Restore into a fresh directory and compare content.
	dest := t.TempDir()
	if err := e.Restore(ctx, "t1", id, dest); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dest, "src", "app.go"))
	if err != nil {
		t.Fatalf("reading restored file: %v", err)
	}
	if string(data) != "package app" {
		t.Errorf("restored content mismatch: %q", data)
	}
	if _, err := os.Stat(filepath.Join(dest, "debug.log")); !os.IsNotExist(err) {
		t.Error("excluded file must not be restored")
	}
}

func TestCreateSelectivePlainTree(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	base := buildWorkspace(t)

	id, err := e.CreateSelective(ctx, "t1", Options{
		BaseDir:      base,
		IncludePaths: []string{"src"},
	})
	if err != nil {
		t.Fatalf("CreateSelective: %v", err)
	}

	dest := t.TempDir()
	if err := e.Restore(ctx, "t1", id, dest); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dest, "src", "app_test.go")); err != nil {
		t.Errorf("expected restored file: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dest, "main.go")); !os.IsNotExist(err) {
		t.Error("file outside include path must not be restored")
	}
}

func TestCreateSelectiveValidation(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.CreateSelective(ctx, "t1", Options{IncludePaths: []string{"x"}}); !errors.Is(err, errors.ErrCodeValidation) {
		t.Errorf("missing base dir: expected VALIDATION, got %v", err)
	}
	if _, err := e.CreateSelective(ctx, "t1", Options{BaseDir: t.TempDir()}); !errors.Is(err, errors.ErrCodeValidation) {
		t.Errorf("no include paths: expected VALIDATION, got %v", err)
	}
	if _, err := e.CreateSelective(ctx, "t1", Options{
		BaseDir:      t.TempDir(),
		IncludePaths: []string{"does-not-exist"},
	}); !errors.Is(err, errors.ErrCodeValidation) {
		t.Errorf("bad include path: expected VALIDATION, got %v", err)
	}
}

func TestRestoreUnknownSnapshot(t *testing.T) {
	e := newTestEngine(t)
	err := e.Restore(context.Background(), "t1", "snap-0", t.TempDir())
	if !errors.Is(err, errors.ErrCodeNotFound) {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}
}

func TestCleanupOld(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	base := buildWorkspace(t)

	oldID, err := e.CreateSelective(ctx, "t1", Options{BaseDir: base, IncludePaths: []string{"main.go"}})
	if err != nil {
		t.Fatalf("CreateSelective: %v", err)
	}
	newID, err := e.CreateSelective(ctx, "t1", Options{BaseDir: base, IncludePaths: []string{"src"}})
	if err != nil {
		t.Fatalf("CreateSelective: %v", err)
	}

	// Age the first snapshot by rewriting its manifest timestamp.
	m, err := e.readManifest("t1", oldID)
	if err != nil {
		t.Fatalf("readManifest: %v", err)
	}
	m.CreatedAt = time.Now().Add(-48 * time.Hour)
	if err := writeJSON(filepath.Join(e.snapshotDir("t1", oldID), manifestFile), m); err != nil {
		t.Fatalf("rewriting manifest: %v", err)
	}

	deleted, err := e.CleanupOld(ctx, "t1", 24*time.Hour)
	if err != nil {
		t.Fatalf("CleanupOld: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 deletion, got %d", deleted)
	}

	manifests, _ := e.List(ctx, "t1")
	if len(manifests) != 1 || manifests[0].ID != newID {
		t.Errorf("expected only %s to survive, got %+v", newID, manifests)
	}

	if _, err := e.CleanupOld(ctx, "t1", 0); !errors.Is(err, errors.ErrCodeValidation) {
		t.Errorf("zero maxAge: expected VALIDATION, got %v", err)
	}
}

func TestChunkedRoundTripLargeFile(t *testing.T) {
	// Small threshold and chunk size keep the test fast.
	e := newTestEngine(t, WithChunkThreshold(1024), WithChunkSize(400))
	ctx := context.Background()

	content := make([]byte, 2000)
	rng := rand.New(rand.NewSource(7))
	rng.Read(content)
	src := filepath.Join(t.TempDir(), "model.bin")
	if err := os.WriteFile(src, content, 0o644); err != nil {
		t.Fatalf("writing source: %v", err)
	}

	name, err := e.CreateChunked(ctx, "t1", src)
	if err != nil {
		t.Fatalf("CreateChunked: %v", err)
	}
	if name != "model.bin" {
		t.Errorf("unexpected chunk name %q", name)
	}

	// ceil(2000/400) = 5 chunks.
	dir := e.chunkDir("t1", name)
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("reading chunk dir: %v", err)
	}
	chunks := 0
	for _, entry := range entries {
		if filepath.Ext(entry.Name()) == ".bin" {
			chunks++
		}
	}
	if chunks != 5 {
		t.Errorf("expected 5 chunks, got %d", chunks)
	}

	out := filepath.Join(t.TempDir(), "restored.bin")
	if err := e.Reassemble(ctx, "t1", name, out); err != nil {
		t.Fatalf("Reassemble: %v", err)
	}
	restored, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	if !bytes.Equal(restored, content) {
		t.Error("reassembled file differs from original")
	}
}

func TestChunkedSmallFileSingleChunk(t *testing.T) {
	e := newTestEngine(t, WithChunkThreshold(1024), WithChunkSize(400))
	ctx := context.Background()

	content := []byte("small payload")
	src := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(src, content, 0o644); err != nil {
		t.Fatalf("writing source: %v", err)
	}

	name, err := e.CreateChunked(ctx, "t1", src)
	if err != nil {
		t.Fatalf("CreateChunked: %v", err)
	}

	if _, err := os.Stat(filepath.Join(e.chunkDir("t1", name), "chunk_0.bin")); err != nil {
		t.Fatalf("expected single chunk: %v", err)
	}
	if _, err := os.Stat(filepath.Join(e.chunkDir("t1", name), "chunk_1.bin")); !os.IsNotExist(err) {
		t.Error("small file must produce exactly one chunk")
	}

	out := filepath.Join(t.TempDir(), "restored.txt")
	if err := e.Reassemble(ctx, "t1", name, out); err != nil {
		t.Fatalf("Reassemble: %v", err)
	}
	restored, _ := os.ReadFile(out)
	if !bytes.Equal(restored, content) {
		t.Errorf("restored %q, want %q", restored, content)
	}
}

func TestReassembleDetectsCorruptChunk(t *testing.T) {
	e := newTestEngine(t, WithChunkThreshold(10), WithChunkSize(8))
	ctx := context.Background()

	src := filepath.Join(t.TempDir(), "data.bin")
	if err := os.WriteFile(src, []byte("0123456789abcdef"), 0o644); err != nil {
		t.Fatalf("writing source: %v", err)
	}
	name, err := e.CreateChunked(ctx, "t1", src)
	if err != nil {
		t.Fatalf("CreateChunked: %v", err)
	}

	chunkPath := filepath.Join(e.chunkDir("t1", name), "chunk_1.bin")
	if err := os.WriteFile(chunkPath, []byte("XXXXXXXX"), 0o644); err != nil {
		t.Fatalf("tampering: %v", err)
	}

	err = e.Reassemble(ctx, "t1", name, filepath.Join(t.TempDir(), "out.bin"))
	if !errors.Is(err, errors.ErrCodeCorruption) {
		t.Errorf("expected CORRUPTION, got %v", err)
	}
}

func TestReassembleUnknownName(t *testing.T) {
	e := newTestEngine(t)
	err := e.Reassemble(context.Background(), "t1", "nope", filepath.Join(t.TempDir(), "out"))
	if !errors.Is(err, errors.ErrCodeNotFound) {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}
}

func TestDeleteChunked(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	src := filepath.Join(t.TempDir(), "f.txt")
	if err := os.WriteFile(src, []byte("x"), 0o644); err != nil {
		t.Fatalf("writing source: %v", err)
	}
	name, err := e.CreateChunked(ctx, "t1", src)
	if err != nil {
		t.Fatalf("CreateChunked: %v", err)
	}

	if err := e.DeleteChunked(ctx, "t1", name); err != nil {
		t.Fatalf("DeleteChunked: %v", err)
	}
	if err := e.DeleteChunked(ctx, "t1", name); !errors.Is(err, errors.ErrCodeNotFound) {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}
}
