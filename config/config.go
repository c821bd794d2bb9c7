package config

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/taskvault/taskvault/errors"
)

// Config holds the full runtime configuration, loaded from a TOML file
// with sensible defaults for every field.
type Config struct {
	Storage    StorageConfig    `toml:"storage"`
	Locks      LockConfig       `toml:"locks"`
	Checkpoint CheckpointConfig `toml:"checkpoint"`
	Snapshot   SnapshotConfig   `toml:"snapshot"`
	Logging    LoggingConfig    `toml:"logging"`
}

// StorageConfig locates the persistence layer.
type StorageConfig struct {
	// Root is the directory all task state, logs, checkpoints, and
	// snapshots live under.
	Root string `toml:"root"`

	// Registry selects the task registry backend: "memory" or "sqlite".
	Registry string `toml:"registry"`

	// RegistryPath is the SQLite database file when Registry is
	// "sqlite".
	RegistryPath string `toml:"registry_path"`

	// SearchIndex enables the full-text log index.
	SearchIndex bool `toml:"search_index"`

	// SearchIndexPath is the index directory when SearchIndex is set.
	SearchIndexPath string `toml:"search_index_path"`
}

// LockConfig tunes the per-task lock manager.
type LockConfig struct {
	// Timeout bounds how long a lifecycle operation waits for a task's
	// lock.
	Timeout duration `toml:"timeout"`
}

// CheckpointConfig tunes the checkpoint engine.
type CheckpointConfig struct {
	// MaxTotalBytes is the storage ceiling across all tasks'
	// checkpoints. Zero disables enforcement.
	MaxTotalBytes int64 `toml:"max_total_bytes"`

	// KeepLastN is how many recent checkpoints per task the ceiling may
	// never delete.
	KeepLastN int `toml:"keep_last_n"`

	// Compress gzips incremental checkpoints after creation.
	Compress bool `toml:"compress"`
}

// SnapshotConfig tunes the snapshot and chunk engine.
type SnapshotConfig struct {
	// ChunkThreshold is the file size above which chunked snapshots
	// split the file.
	ChunkThreshold int64 `toml:"chunk_threshold"`

	// ChunkSize is the fixed size of each chunk.
	ChunkSize int64 `toml:"chunk_size"`

	// MaxAge is the default retention for cleanupOldSnapshots.
	MaxAge duration `toml:"max_age"`
}

// LoggingConfig tunes the structured logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `toml:"level"`
}

// duration wraps time.Duration so TOML files can use "30s" strings.
type duration time.Duration

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration.
func (d duration) Duration() time.Duration {
	return time.Duration(d)
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			Root:            "taskvault-data",
			Registry:        "memory",
			RegistryPath:    "taskvault.db",
			SearchIndexPath: "logs.bleve",
		},
		Locks: LockConfig{
			Timeout: duration(30 * time.Second),
		},
		Checkpoint: CheckpointConfig{
			KeepLastN: 3,
			Compress:  true,
		},
		Snapshot: SnapshotConfig{
			ChunkThreshold: 100 * 1024 * 1024,
			ChunkSize:      50 * 1024 * 1024,
			MaxAge:         duration(7 * 24 * time.Hour),
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads a TOML file over the defaults. A missing file returns the
// defaults without error; a malformed file fails.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, errors.Storage("failed to read config file", errors.WithCause(err))
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Validation("config file is not valid TOML", errors.WithCause(err))
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Storage.Root == "" {
		return errors.Validation("storage.root must not be empty")
	}
	switch c.Storage.Registry {
	case "memory", "sqlite":
	default:
		return errors.Validation("storage.registry must be memory or sqlite")
	}
	if c.Storage.Registry == "sqlite" && c.Storage.RegistryPath == "" {
		return errors.Validation("storage.registry_path is required for the sqlite registry")
	}
	if c.Locks.Timeout <= 0 {
		return errors.Validation("locks.timeout must be positive")
	}
	if c.Checkpoint.MaxTotalBytes < 0 {
		return errors.Validation("checkpoint.max_total_bytes must not be negative")
	}
	if c.Checkpoint.KeepLastN < 0 {
		return errors.Validation("checkpoint.keep_last_n must not be negative")
	}
	if c.Snapshot.ChunkThreshold <= 0 || c.Snapshot.ChunkSize <= 0 {
		return errors.Validation("snapshot chunk sizes must be positive")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return errors.Validation("logging.level must be debug, info, warn, or error")
	}
	return nil
}
