package taskvault

import (
	"context"
	"os"
	"path/filepath"

	"github.com/taskvault/taskvault/checkpoint"
	"github.com/taskvault/taskvault/config"
	"github.com/taskvault/taskvault/errors"
	"github.com/taskvault/taskvault/hooks"
	"github.com/taskvault/taskvault/lifecycle"
	"github.com/taskvault/taskvault/lock"
	"github.com/taskvault/taskvault/logging"
	"github.com/taskvault/taskvault/registry"
	"github.com/taskvault/taskvault/shutdown"
	"github.com/taskvault/taskvault/snapshot"
	"github.com/taskvault/taskvault/store"
)

// Vault assembles the full system from a configuration: registry,
// persistence, locks, hooks, lifecycle controller, and the checkpoint
// and snapshot engines, all sharing one storage root.
type Vault struct {
	Lifecycle   *lifecycle.Controller
	Registry    registry.Registry
	Store       *store.FileStore
	Locks       *lock.Manager
	Hooks       *hooks.Registry
	Checkpoints *checkpoint.Engine
	Snapshots   *snapshot.Engine
	Logger      *logging.Logger

	closer *shutdown.Coordinator
}

// Open builds a Vault from the configuration. A nil config uses the
// defaults.
func Open(cfg *config.Config) (*Vault, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	logger := logging.New()
	logger.SetLevel(logging.ParseLevel(cfg.Logging.Level))

	// The index and registry live inside the storage root; make sure it
	// exists before either opens.
	if err := os.MkdirAll(cfg.Storage.Root, 0o755); err != nil {
		return nil, errors.Storage("failed to create storage root", errors.WithCause(err))
	}

	storeOpts := []store.Option{store.WithLogger(logger)}
	var index *store.LogIndex
	if cfg.Storage.SearchIndex {
		var err error
		index, err = store.OpenLogIndex(filepath.Join(cfg.Storage.Root, cfg.Storage.SearchIndexPath))
		if err != nil {
			return nil, err
		}
		storeOpts = append(storeOpts, store.WithLogIndex(index))
	}

	fileStore, err := store.NewFileStore(cfg.Storage.Root, storeOpts...)
	if err != nil {
		if index != nil {
			index.Close()
		}
		return nil, err
	}

	var reg registry.Registry
	switch cfg.Storage.Registry {
	case "sqlite":
		reg, err = registry.NewSQLite(filepath.Join(cfg.Storage.Root, cfg.Storage.RegistryPath))
		if err != nil {
			if index != nil {
				index.Close()
			}
			return nil, err
		}
	case "memory":
		reg = registry.NewMemory()
	default:
		return nil, errors.Validation("unknown registry backend " + cfg.Storage.Registry)
	}

	locks := lock.NewManager(lock.WithDefaultTimeout(cfg.Locks.Timeout.Duration()))
	hookReg := hooks.NewRegistry(logger)

	checkpoints := checkpoint.NewEngine(fileStore,
		checkpoint.WithLogger(logger),
		checkpoint.WithMaxTotalBytes(cfg.Checkpoint.MaxTotalBytes),
		checkpoint.WithProtectLastN(cfg.Checkpoint.KeepLastN),
		checkpoint.WithCompression(cfg.Checkpoint.Compress),
	)
	snapshots := snapshot.NewEngine(fileStore,
		snapshot.WithLogger(logger),
		snapshot.WithChunkThreshold(cfg.Snapshot.ChunkThreshold),
		snapshot.WithChunkSize(cfg.Snapshot.ChunkSize),
	)

	controller, err := lifecycle.NewController(reg, fileStore, locks, hookReg,
		lifecycle.WithLogger(logger),
		lifecycle.WithLockTimeout(cfg.Locks.Timeout.Duration()),
		lifecycle.WithCheckpoints(checkpoints),
	)
	if err != nil {
		reg.Close()
		if index != nil {
			index.Close()
		}
		return nil, err
	}

	closer := shutdown.NewCoordinator(shutdown.WithLogger(logger))
	closer.Register("locks", shutdown.PhaseFrontend, func(ctx context.Context) error {
		return locks.Close()
	})
	closer.Register("registry", shutdown.PhaseStorage, func(ctx context.Context) error {
		return reg.Close()
	})
	// FileStore.Close releases the log index as well.
	closer.Register("store", shutdown.PhaseStorage, func(ctx context.Context) error {
		return fileStore.Close()
	})

	return &Vault{
		Lifecycle:   controller,
		Registry:    reg,
		Store:       fileStore,
		Locks:       locks,
		Hooks:       hookReg,
		Checkpoints: checkpoints,
		Snapshots:   snapshots,
		Logger:      logger,
		closer:      closer,
	}, nil
}

// Close shuts the components down in order: the lock table stops
// admitting new operations first, storage backends close last.
func (v *Vault) Close(ctx context.Context) error {
	return v.closer.Shutdown(ctx)
}
