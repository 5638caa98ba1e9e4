package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"go.uber.org/multierr"

	"github.com/frobware/go-raspeval/config"
	"github.com/frobware/go-raspeval/harness"
	"github.com/frobware/go-raspeval/store"
	"github.com/frobware/go-raspeval/store/sqlite"
)

// CLIRuntime carries what CLI commands need to drive probes and read
// or write the store. The store is opened on first use.
type CLIRuntime struct {
	Config  config.Config
	Dirs    config.RuntimeDirs
	Logger  *slog.Logger
	Harness *harness.Harness

	dbPath    string
	openStore StoreOpener
	store     store.Store
}

// StoreOpener opens the attack store at path.
type StoreOpener func(ctx context.Context, path string, logger *slog.Logger) (store.Store, error)

// NewCLIRuntime loads the configuration and builds the probe harness.
// The returned runtime must be closed.
func (c *CLI) NewCLIRuntime(ctx context.Context) (*CLIRuntime, error) {
	cfg, err := c.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := c.Logger(cfg)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	dirs, err := c.RuntimeDirs(cfg)
	if err != nil {
		return nil, fmt.Errorf("runtime dirs: %w", err)
	}

	dbPath := dirs.DBPath()
	if c.DB.Path != "" {
		dbPath = c.DB.Path
	}

	h := harness.New(logger, harness.Options{
		Signatures: cfg.Probes.NormalisedSignatures(),
		Sentinel:   cfg.Probes.WriteSentinel,
	})

	openStore := c.openStore
	if openStore == nil {
		openStore = sqlite.New
	}

	return &CLIRuntime{
		Config:    cfg,
		Dirs:      dirs,
		Logger:    logger,
		Harness:   h,
		dbPath:    dbPath,
		openStore: openStore,
	}, nil
}

// Store opens the attack store, creating the runtime directories on
// first use.
func (r *CLIRuntime) Store(ctx context.Context) (store.Store, error) {
	if r.store != nil {
		return r.store, nil
	}
	if err := r.Dirs.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("create runtime directories: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(r.dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	st, err := r.openStore(ctx, r.dbPath, r.Logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	r.store = st
	return st, nil
}

// Close releases resources held by the CLI runtime.
func (r *CLIRuntime) Close() error {
	var err error
	if r.store != nil {
		err = multierr.Append(err, r.store.Close())
		r.store = nil
	}
	return err
}
