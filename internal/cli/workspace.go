package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/hyperpolymath/januskey/internal/blob"
	"github.com/hyperpolymath/januskey/internal/config"
	"github.com/hyperpolymath/januskey/internal/engine"
	"github.com/hyperpolymath/januskey/internal/fsmodel"
	"github.com/hyperpolymath/januskey/internal/obliterate"
	"github.com/hyperpolymath/januskey/internal/store"
)

// dbFileName is the store database inside the metadata subtree.
const dbFileName = "januskey.db"

// workspace bundles an opened managed root: its configuration, store,
// engine, and obliteration manager.
type workspace struct {
	Root   string
	Cfg    config.Config
	Store  *store.Store
	Engine *engine.Engine
	Obl    *obliterate.Manager
	Logger *slog.Logger
}

// initRoot initializes a managed root: creates the metadata subtree and
// the database. Idempotent over an already-initialized root.
func initRoot(opts *RootOptions) (string, error) {
	root, err := config.Root(opts.Root)
	if err != nil {
		return "", WrapExitError(ExitCommandError, "resolve root", err)
	}
	metaDir := filepath.Join(root, fsmodel.MetaDir)
	if err := os.MkdirAll(metaDir, 0o755); err != nil {
		return "", WrapExitError(ExitCommandError, "initialize managed root", err)
	}
	st, err := store.Open(filepath.Join(metaDir, dbFileName))
	if err != nil {
		return "", WrapExitError(ExitCommandError, "initialize database", err)
	}
	st.Close()
	return root, nil
}

// openWorkspace opens an initialized managed root. Fails with a command
// error when the root has not been initialized with `jk init`.
func openWorkspace(opts *RootOptions) (*workspace, error) {
	root, err := config.Root(opts.Root)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "resolve root", err)
	}

	metaDir := filepath.Join(root, fsmodel.MetaDir)
	if _, err := os.Stat(metaDir); err != nil {
		return nil, NewExitError(ExitCommandError,
			fmt.Sprintf("directory not initialized: %s (run 'jk init' first)", root))
	}

	cfg, err := config.Load(root)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "load config", err)
	}

	logger := newLogger(cfg.Verbosity, opts.Verbose)

	st, err := store.Open(filepath.Join(metaDir, dbFileName))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "open database", err)
	}

	fsys := afero.NewBasePathFs(afero.NewOsFs(), root)
	tree := fsmodel.NewTree(fsys)

	var blobOpts []blob.Option
	if cfg.StoreCapacityBytes > 0 {
		blobOpts = append(blobOpts, blob.WithCapacity(cfg.StoreCapacityBytes))
	}
	blobs := blob.New(fsys, st, blobOpts...)

	engOpts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithDeltaStorage(cfg.Delta),
		engine.WithMaxHistory(cfg.MaxHistory),
	}
	eng, err := engine.New(cmdContext(), tree, blobs, st, engOpts...)
	if err != nil {
		st.Close()
		return nil, WrapExitError(ExitCommandError, "open engine", err)
	}

	obl := obliterate.New(blobs, st,
		obliterate.WithMinPasses(cfg.MinPasses),
		obliterate.WithLogger(logger),
	)

	return &workspace{
		Root:   root,
		Cfg:    cfg,
		Store:  st,
		Engine: eng,
		Obl:    obl,
		Logger: logger,
	}, nil
}

// Close releases the workspace's database handle.
func (w *workspace) Close() {
	w.Store.Close()
}

// cmdContext is the request context for CLI invocations.
func cmdContext() context.Context {
	return context.Background()
}

// newLogger builds the CLI logger. Verbose forces debug regardless of the
// configured verbosity.
func newLogger(verbosity string, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	switch verbosity {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
