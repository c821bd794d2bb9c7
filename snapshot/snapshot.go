package snapshot

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/taskvault/taskvault/errors"
	"github.com/taskvault/taskvault/logging"
	"github.com/taskvault/taskvault/store"
)

const (
	snapshotsDir = "snapshots"
	chunksDir    = "chunks"

	archiveFile       = "snapshot.tar.gz"
	filesDir          = "files"
	manifestFile      = "manifest.json"
	chunkManifestFile = "chunk_manifest.json"

	// DefaultChunkThreshold is the file size above which chunked
	// snapshots split the file.
	DefaultChunkThreshold int64 = 100 * 1024 * 1024

	// DefaultChunkSize is the fixed size of each chunk.
	DefaultChunkSize int64 = 50 * 1024 * 1024
)

// FileEntry records one captured file. SHA256 covers the file's bytes;
// content corruption is detectable per file, not just per file list.
type FileEntry struct {
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"`
}

// Manifest describes a selective snapshot.
type Manifest struct {
	ID         string      `json:"id"`
	TaskID     string      `json:"task_id"`
	CreatedAt  time.Time   `json:"created_at"`
	Compressed bool        `json:"compressed"`
	Files      []FileEntry `json:"files"`

	// FileListSHA256 is a checksum over the sorted file paths, kept for
	// quick membership comparison between snapshots.
	FileListSHA256 string `json:"file_list_sha256"`
}

// Options selects what a snapshot captures.
type Options struct {
	// BaseDir is the workspace directory include paths are relative to.
	BaseDir string

	// IncludePaths lists files or directories, relative to BaseDir.
	IncludePaths []string

	// ExcludePatterns are glob patterns matched against each file's
	// base name and its path relative to BaseDir.
	ExcludePatterns []string

	// Compress archives the files into a single tar+gzip instead of a
	// plain file tree.
	Compress bool
}

// chunkEntry records one slice of a chunked file.
type chunkEntry struct {
	Index  int    `json:"index"`
	File   string `json:"file"`
	Offset int64  `json:"offset"`
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"`
}

// chunkManifest describes a chunked file and how to reassemble it.
type chunkManifest struct {
	FileName  string       `json:"file_name"`
	TotalSize int64        `json:"total_size"`
	ChunkSize int64        `json:"chunk_size"`
	CreatedAt time.Time    `json:"created_at"`
	Chunks    []chunkEntry `json:"chunks"`
}

// Engine captures selected workspace files into snapshots and splits
// oversized files into fixed-size chunks. It shares the store's root:
//
//	root/<taskID>/snapshots/<id>/{snapshot.tar.gz | files/, manifest.json}
//	root/<taskID>/chunks/<name>/{chunk_N.bin, chunk_manifest.json}
type Engine struct {
	store  *store.FileStore
	logger *logging.Logger

	chunkThreshold int64
	chunkSize      int64
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger attaches a logger.
func WithLogger(logger *logging.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger.WithComponent("snapshot")
		}
	}
}

// WithChunkThreshold overrides the size above which files are split.
func WithChunkThreshold(n int64) Option {
	return func(e *Engine) {
		if n > 0 {
			e.chunkThreshold = n
		}
	}
}

// WithChunkSize overrides the fixed chunk size.
func WithChunkSize(n int64) Option {
	return func(e *Engine) {
		if n > 0 {
			e.chunkSize = n
		}
	}
}

// NewEngine creates a snapshot engine sharing the given store's root.
func NewEngine(s *store.FileStore, opts ...Option) *Engine {
	e := &Engine{
		store:          s,
		logger:         logging.Nop(),
		chunkThreshold: DefaultChunkThreshold,
		chunkSize:      DefaultChunkSize,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) snapshotDir(taskID, snapshotID string) string {
	return filepath.Join(e.store.TaskDir(taskID), snapshotsDir, snapshotID)
}

func (e *Engine) chunkDir(taskID, name string) string {
	return filepath.Join(e.store.TaskDir(taskID), chunksDir, name)
}

// CreateSelective walks the include paths under BaseDir, skips files
// matching any exclude pattern, and captures the survivors into a new
// snapshot. With Compress set the files land in a single tar+gzip
// archive; otherwise they are copied as a plain tree.
func (e *Engine) CreateSelective(ctx context.Context, taskID string, opts Options) (string, error) {
	if opts.BaseDir == "" {
		return "", errors.Validation("base directory is required")
	}
	if len(opts.IncludePaths) == 0 {
		return "", errors.Validation("at least one include path is required")
	}

	paths, err := e.selectFiles(opts)
	if err != nil {
		return "", err
	}
	if len(paths) == 0 {
		return "", errors.Validation("no files matched the selection")
	}

	id := fmt.Sprintf("snap-%019d", time.Now().UnixNano())
	dir := e.snapshotDir(taskID, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Storage("failed to create snapshot directory", errors.WithCause(err), errors.WithTaskID(taskID))
	}
	fail := func(err error) (string, error) {
		os.RemoveAll(dir)
		return "", err
	}

	m := Manifest{
		ID:         id,
		TaskID:     taskID,
		CreatedAt:  time.Now().UTC(),
		Compressed: opts.Compress,
	}

	if opts.Compress {
		m.Files, err = writeArchive(filepath.Join(dir, archiveFile), opts.BaseDir, paths)
	} else {
		m.Files, err = copyTree(filepath.Join(dir, filesDir), opts.BaseDir, paths)
	}
	if err != nil {
		return fail(errors.Wrap(err, "capturing snapshot files", errors.WithTaskID(taskID)))
	}

	m.FileListSHA256 = fileListChecksum(m.Files)
	if err := writeJSON(filepath.Join(dir, manifestFile), &m); err != nil {
		return fail(errors.Wrap(err, "writing snapshot manifest", errors.WithTaskID(taskID)))
	}

	e.logger.SnapshotCreated(taskID, id, len(m.Files))
	return id, nil
}

// selectFiles resolves the include paths to a sorted list of relative
// file paths with exclusions applied.
func (e *Engine) selectFiles(opts Options) ([]string, error) {
	seen := make(map[string]struct{})

	for _, inc := range opts.IncludePaths {
		abs := filepath.Join(opts.BaseDir, inc)
		info, err := os.Stat(abs)
		if err != nil {
			return nil, errors.Validation("include path "+inc+" is not accessible", errors.WithCause(err))
		}

		if !info.IsDir() {
			rel, _ := filepath.Rel(opts.BaseDir, abs)
			if !excluded(rel, opts.ExcludePatterns) {
				seen[rel] = struct{}{}
			}
			continue
		}

		err = filepath.WalkDir(abs, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(opts.BaseDir, path)
			if err != nil {
				return err
			}
			if !excluded(rel, opts.ExcludePatterns) {
				seen[rel] = struct{}{}
			}
			return nil
		})
		if err != nil {
			return nil, errors.Storage("failed to walk include path "+inc, errors.WithCause(err))
		}
	}

	out := make([]string, 0, len(seen))
	for rel := range seen {
		out = append(out, rel)
	}
	sort.Strings(out)
	return out, nil
}

// excluded matches patterns against both the base name and the relative
// path, so "*.log" and "build/*" both work.
func excluded(rel string, patterns []string) bool {
	base := filepath.Base(rel)
	for _, p := range patterns {
		if ok, _ := filepath.Match(p, base); ok {
			return true
		}
		if ok, _ := filepath.Match(p, filepath.ToSlash(rel)); ok {
			return true
		}
	}
	return false
}

// List returns the task's snapshots newest first.
func (e *Engine) List(ctx context.Context, taskID string) ([]Manifest, error) {
	root := filepath.Join(e.store.TaskDir(taskID), snapshotsDir)
	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return []Manifest{}, nil
	}
	if err != nil {
		return nil, errors.Storage("failed to read snapshots directory", errors.WithCause(err), errors.WithTaskID(taskID))
	}

	out := []Manifest{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		m, err := e.readManifest(taskID, entry.Name())
		if err != nil {
			continue
		}
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Restore extracts a snapshot's files into destDir, overwriting existing
// files.
func (e *Engine) Restore(ctx context.Context, taskID, snapshotID, destDir string) error {
	m, err := e.readManifest(taskID, snapshotID)
	if err != nil {
		return err
	}

	dir := e.snapshotDir(taskID, snapshotID)
	if m.Compressed {
		return extractArchive(filepath.Join(dir, archiveFile), destDir)
	}

	for _, f := range m.Files {
		src := filepath.Join(dir, filesDir, filepath.FromSlash(f.Path))
		dst := filepath.Join(destDir, filepath.FromSlash(f.Path))
		if err := copyFile(src, dst); err != nil {
			return errors.Storage("failed to restore "+f.Path, errors.WithCause(err), errors.WithTaskID(taskID))
		}
	}
	return nil
}

// CleanupOld deletes the task's snapshot directories older than maxAge.
// It returns the number deleted.
func (e *Engine) CleanupOld(ctx context.Context, taskID string, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		return 0, errors.Validation("maxAge must be positive")
	}

	manifests, err := e.List(ctx, taskID)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	deleted := 0
	for _, m := range manifests {
		if m.CreatedAt.After(cutoff) {
			continue
		}
		if err := os.RemoveAll(e.snapshotDir(taskID, m.ID)); err != nil {
			return deleted, errors.Storage("failed to delete snapshot", errors.WithCause(err), errors.WithTaskID(taskID))
		}
		deleted++
	}
	return deleted, nil
}

// CreateChunked stores a copy of filePath under the task's chunk area.
// Files at or under the threshold become a single chunk; larger files
// are split into fixed-size chunks with a manifest recording each
// chunk's byte offset.
func (e *Engine) CreateChunked(ctx context.Context, taskID, filePath string) (string, error) {
	info, err := os.Stat(filePath)
	if err != nil {
		return "", errors.Validation("source file is not accessible", errors.WithCause(err), errors.WithTaskID(taskID))
	}
	if info.IsDir() {
		return "", errors.Validation("source must be a regular file", errors.WithTaskID(taskID))
	}

	name := filepath.Base(filePath)
	dir := e.chunkDir(taskID, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Storage("failed to create chunk directory", errors.WithCause(err), errors.WithTaskID(taskID))
	}
	fail := func(err error) (string, error) {
		os.RemoveAll(dir)
		return "", err
	}

	src, err := os.Open(filePath)
	if err != nil {
		return fail(errors.Storage("failed to open source file", errors.WithCause(err), errors.WithTaskID(taskID)))
	}
	defer src.Close()

	chunkSize := e.chunkSize
	if info.Size() <= e.chunkThreshold {
		// Small file: one logical chunk holding the whole content.
		chunkSize = info.Size()
		if chunkSize == 0 {
			chunkSize = 1
		}
	}

	m := chunkManifest{
		FileName:  name,
		TotalSize: info.Size(),
		ChunkSize: chunkSize,
		CreatedAt: time.Now().UTC(),
	}

	var offset int64
	for index := 0; offset < info.Size() || (info.Size() == 0 && index == 0); index++ {
		n := chunkSize
		if remaining := info.Size() - offset; n > remaining {
			n = remaining
		}
		chunkName := fmt.Sprintf("chunk_%d.bin", index)
		sum, written, err := writeChunk(filepath.Join(dir, chunkName), src, n)
		if err != nil {
			return fail(errors.Storage("failed to write "+chunkName, errors.WithCause(err), errors.WithTaskID(taskID)))
		}
		m.Chunks = append(m.Chunks, chunkEntry{
			Index:  index,
			File:   chunkName,
			Offset: offset,
			Size:   written,
			SHA256: sum,
		})
		offset += written
		if info.Size() == 0 {
			break
		}
	}

	if err := writeJSON(filepath.Join(dir, chunkManifestFile), &m); err != nil {
		return fail(errors.Wrap(err, "writing chunk manifest", errors.WithTaskID(taskID)))
	}
	return name, nil
}

// Reassemble rebuilds a chunked file at outputPath. Each chunk is
// written at its recorded byte offset, so chunk order never matters.
func (e *Engine) Reassemble(ctx context.Context, taskID, name, outputPath string) error {
	dir := e.chunkDir(taskID, name)
	data, err := os.ReadFile(filepath.Join(dir, chunkManifestFile))
	if os.IsNotExist(err) {
		return errors.NotFound("no chunked file named "+name, errors.WithTaskID(taskID))
	}
	if err != nil {
		return errors.Storage("failed to read chunk manifest", errors.WithCause(err), errors.WithTaskID(taskID))
	}

	var m chunkManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return errors.New(errors.ErrCodeCorruption, "chunk manifest is not valid JSON",
			errors.WithCause(err), errors.WithTaskID(taskID))
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return errors.Storage("failed to create output directory", errors.WithCause(err), errors.WithTaskID(taskID))
	}
	out, err := os.Create(outputPath)
	if err != nil {
		return errors.Storage("failed to create output file", errors.WithCause(err), errors.WithTaskID(taskID))
	}
	defer out.Close()
	if err := out.Truncate(m.TotalSize); err != nil {
		return errors.Storage("failed to size output file", errors.WithCause(err), errors.WithTaskID(taskID))
	}

	for _, c := range m.Chunks {
		chunk, err := os.ReadFile(filepath.Join(dir, c.File))
		if err != nil {
			return errors.Storage("failed to read "+c.File, errors.WithCause(err), errors.WithTaskID(taskID))
		}
		sum := sha256.Sum256(chunk)
		if hex.EncodeToString(sum[:]) != c.SHA256 {
			return errors.New(errors.ErrCodeCorruption, "checksum mismatch for "+c.File, errors.WithTaskID(taskID))
		}
		if _, err := out.WriteAt(chunk, c.Offset); err != nil {
			return errors.Storage("failed to write "+c.File+" at offset", errors.WithCause(err), errors.WithTaskID(taskID))
		}
	}
	return out.Sync()
}

// DeleteChunked removes a chunked file's directory.
func (e *Engine) DeleteChunked(ctx context.Context, taskID, name string) error {
	dir := e.chunkDir(taskID, name)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return errors.NotFound("no chunked file named "+name, errors.WithTaskID(taskID))
	}
	if err := os.RemoveAll(dir); err != nil {
		return errors.Storage("failed to delete chunks", errors.WithCause(err), errors.WithTaskID(taskID))
	}
	return nil
}

func (e *Engine) readManifest(taskID, snapshotID string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(e.snapshotDir(taskID, snapshotID), manifestFile))
	if os.IsNotExist(err) {
		return nil, errors.NotFound("snapshot "+snapshotID+" not found", errors.WithTaskID(taskID))
	}
	if err != nil {
		return nil, errors.Storage("failed to read snapshot manifest", errors.WithCause(err), errors.WithTaskID(taskID))
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.New(errors.ErrCodeCorruption, "snapshot manifest is not valid JSON",
			errors.WithCause(err), errors.WithTaskID(taskID))
	}
	return &m, nil
}

// --- file helpers ---

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Storage("failed to marshal manifest", errors.WithCause(err))
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Storage("failed to write manifest", errors.WithCause(err))
	}
	return nil
}

func fileListChecksum(files []FileEntry) string {
	h := sha256.New()
	for _, f := range files {
		io.WriteString(h, f.Path)
		io.WriteString(h, "\n")
	}
	return hex.EncodeToString(h.Sum(nil))
}

// writeArchive tars the relative paths rooted at baseDir into a gzipped
// archive, hashing each file's content along the way.
func writeArchive(archivePath, baseDir string, paths []string) ([]FileEntry, error) {
	out, err := os.Create(archivePath)
	if err != nil {
		return nil, err
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)

	var entries []FileEntry
	for _, rel := range paths {
		entry, err := addToArchive(tw, baseDir, rel)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return entries, nil
}

func addToArchive(tw *tar.Writer, baseDir, rel string) (FileEntry, error) {
	abs := filepath.Join(baseDir, rel)
	info, err := os.Stat(abs)
	if err != nil {
		return FileEntry{}, err
	}

	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return FileEntry{}, err
	}
	hdr.Name = filepath.ToSlash(rel)
	if err := tw.WriteHeader(hdr); err != nil {
		return FileEntry{}, err
	}

	f, err := os.Open(abs)
	if err != nil {
		return FileEntry{}, err
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(tw, h), f)
	if err != nil {
		return FileEntry{}, err
	}
	return FileEntry{
		Path:   filepath.ToSlash(rel),
		Size:   n,
		SHA256: hex.EncodeToString(h.Sum(nil)),
	}, nil
}

// extractArchive unpacks a tar+gzip archive into destDir, rejecting
// entries that would escape it.
func extractArchive(archivePath, destDir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return errors.Storage("failed to open archive", errors.WithCause(err))
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return errors.New(errors.ErrCodeCorruption, "archive is not valid gzip", errors.WithCause(err))
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.New(errors.ErrCodeCorruption, "archive read failed", errors.WithCause(err))
		}

		name := filepath.FromSlash(hdr.Name)
		if strings.Contains(hdr.Name, "..") || filepath.IsAbs(name) {
			return errors.Validation("archive entry escapes destination: " + hdr.Name)
		}
		dst := filepath.Join(destDir, name)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(dst, 0o755); err != nil {
				return errors.Storage("failed to create directory", errors.WithCause(err))
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
				return errors.Storage("failed to create directory", errors.WithCause(err))
			}
			out, err := os.Create(dst)
			if err != nil {
				return errors.Storage("failed to create "+hdr.Name, errors.WithCause(err))
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return errors.Storage("failed to extract "+hdr.Name, errors.WithCause(err))
			}
			out.Close()
		}
	}
}

func copyTree(destRoot, baseDir string, paths []string) ([]FileEntry, error) {
	var entries []FileEntry
	for _, rel := range paths {
		src := filepath.Join(baseDir, rel)
		dst := filepath.Join(destRoot, filepath.FromSlash(rel))
		sum, n, err := copyFileHashed(src, dst)
		if err != nil {
			return nil, err
		}
		entries = append(entries, FileEntry{Path: filepath.ToSlash(rel), Size: n, SHA256: sum})
	}
	return entries, nil
}

func copyFile(src, dst string) error {
	_, _, err := copyFileHashed(src, dst)
	return err
}

func copyFileHashed(src, dst string) (string, int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", 0, err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", 0, err
	}
	out, err := os.Create(dst)
	if err != nil {
		return "", 0, err
	}
	defer out.Close()

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(out, h), in)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// writeChunk copies up to n bytes from src into a new chunk file and
// returns the content hash and bytes written.
func writeChunk(path string, src io.Reader, n int64) (string, int64, error) {
	out, err := os.Create(path)
	if err != nil {
		return "", 0, err
	}
	defer out.Close()

	h := sha256.New()
	written, err := io.Copy(io.MultiWriter(out, h), io.LimitReader(src, n))
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), written, nil
}
