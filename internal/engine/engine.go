// Package engine implements the reversible operation engine: typed file
// mutations that each record metadata sufficient to derive their inverse,
// a generic undo, sequence undo, and transactions with rollback.
//
// The engine is a single-writer machine over one managed root. All
// preconditions are checked before any mutation; on precondition failure
// the managed state is unchanged. Partial failures inside a multi-step
// apply are compensated before the error is surfaced, so every operation
// is atomically visible.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/hyperpolymath/januskey/internal/blob"
	"github.com/hyperpolymath/januskey/internal/fsmodel"
	"github.com/hyperpolymath/januskey/internal/hash"
	"github.com/hyperpolymath/januskey/internal/model"
	"github.com/hyperpolymath/januskey/internal/store"
)

// MaxPathLen bounds canonical path length; longer paths are rejected as
// RESOURCE_EXHAUSTED.
const MaxPathLen = 4096

// Engine owns all mutable state of a managed root. A caller holds at most
// one Engine per root; methods must not be invoked concurrently.
type Engine struct {
	tree   *fsmodel.Tree
	blobs  *blob.Store
	st     *store.Store
	clock  *Clock
	wall   WallClock
	logger *slog.Logger

	deltaEnabled bool
	maxHistory   int // 0 means unbounded

	// activeTxID mirrors the persisted active-transaction pointer.
	activeTxID string

	// invalid is latched when a validity invariant fails; every further
	// mutation is refused until the state is repaired externally.
	invalid bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithWallClock overrides the record timestamp source. Used by tests and
// the harness to make traces deterministic.
func WithWallClock(w WallClock) Option {
	return func(e *Engine) { e.wall = w }
}

// WithDeltaStorage enables experimental reverse-delta staging for modify
// pre-images.
func WithDeltaStorage(enabled bool) Option {
	return func(e *Engine) { e.deltaEnabled = enabled }
}

// WithMaxHistory bounds the history length; applies beyond the bound fail
// with RESOURCE_EXHAUSTED.
func WithMaxHistory(n int) Option {
	return func(e *Engine) { e.maxHistory = n }
}

// New assembles an engine over its collaborators. The logical clock resumes
// after the highest persisted sequence number so reopened roots keep strict
// append order.
func New(ctx context.Context, tree *fsmodel.Tree, blobs *blob.Store, st *store.Store, opts ...Option) (*Engine, error) {
	e := &Engine{
		tree:   tree,
		blobs:  blobs,
		st:     st,
		wall:   NewSystemWallClock(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(e)
	}

	maxSeq, err := maxSeq(ctx, st)
	if err != nil {
		return nil, fmt.Errorf("new engine: %w", err)
	}
	e.clock = NewClockAt(maxSeq)

	active, err := st.ActiveTransactionID(ctx)
	if err != nil {
		return nil, fmt.Errorf("new engine: %w", err)
	}
	e.activeTxID = active

	return e, nil
}

// Tree exposes the managed tree for read-only inspection.
func (e *Engine) Tree() *fsmodel.Tree {
	return e.tree
}

// Blobs exposes the content store for read-only inspection.
func (e *Engine) Blobs() *blob.Store {
	return e.blobs
}

// Store exposes the persistence layer for read-only inspection.
func (e *Engine) Store() *store.Store {
	return e.st
}

// History returns up to limit most recent operation records, newest first.
func (e *Engine) History(ctx context.Context, limit int) ([]model.OperationRecord, error) {
	return e.st.ReadHistory(ctx, limit)
}

// Operation retrieves one history record by id.
func (e *Engine) Operation(ctx context.Context, id string) (model.OperationRecord, error) {
	rec, err := e.st.ReadOperation(ctx, id)
	if err != nil {
		return model.OperationRecord{}, errNotFound(id)
	}
	return rec, nil
}

// Valid re-checks the managed tree's validity invariant.
func (e *Engine) Valid() error {
	if err := e.tree.Valid(); err != nil {
		e.invalid = true
		return &OpError{Code: ErrCodeInvalidState, Message: err.Error()}
	}
	return nil
}

// guard runs the shared apply preamble: refuse mutation on latched invalid
// state, honor cancellation before any effect, and enforce the history
// bound.
func (e *Engine) guard(ctx context.Context) error {
	if e.invalid {
		return &OpError{Code: ErrCodeInvalidState, Message: "engine is in invalid state; repair required"}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.maxHistory > 0 {
		count, err := e.st.CountOperations(ctx)
		if err != nil {
			return errIo("", err)
		}
		if count >= e.maxHistory {
			return &OpError{Code: ErrCodeResourceExhausted, Message: "operation history bound exceeded"}
		}
	}
	return nil
}

// canonical validates and canonicalizes a subject path, enforcing the
// path-length bound.
func (e *Engine) canonical(p string) (string, error) {
	cp, err := fsmodel.Canonicalize(p)
	if err != nil {
		return "", &OpError{Code: ErrCodeNotFound, Message: "invalid path", Path: p, Err: err}
	}
	if len(cp) > MaxPathLen {
		return "", &OpError{Code: ErrCodeResourceExhausted, Message: "path length bound exceeded", Path: p}
	}
	return cp, nil
}

// newRecord builds the base of a history record for the active transaction.
func (e *Engine) newRecord(kind model.Kind, path string) model.OperationRecord {
	return model.OperationRecord{
		ID:        uuid.NewString(),
		Kind:      kind,
		Seq:       e.clock.Next(),
		Timestamp: e.wall.Now(),
		Path:      path,
	}
}

// appendRecord persists a record and advances the last-applied pointer.
func (e *Engine) appendRecord(ctx context.Context, rec model.OperationRecord) error {
	if err := e.st.AppendOperation(ctx, rec); err != nil {
		return errIo(rec.Path, err)
	}
	if err := e.st.SetLastApplied(ctx, rec.ID); err != nil {
		return errIo(rec.Path, err)
	}
	e.logger.Info("operation applied",
		"id", rec.ID,
		"kind", rec.Kind,
		"path", rec.Path,
		"seq", rec.Seq,
	)
	return nil
}

// stagePreImage stores content into the blob store for later undo.
//
// Staging under a tombstoned digest is not an error for the apply itself:
// the operation proceeds, and any later undo that needs the digest fails
// with CONTENT_UNAVAILABLE, which is exactly the irreversibility the
// tombstone exists to enforce.
func (e *Engine) stagePreImage(ctx context.Context, content []byte) error {
	_, err := e.blobs.Put(ctx, content)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, blob.ErrTombstoned):
		e.logger.Warn("pre-image digest is tombstoned; undo will be unavailable")
		return nil
	case errors.Is(err, blob.ErrCapacity):
		return &OpError{Code: ErrCodeResourceExhausted, Message: "content store capacity exhausted", Err: err}
	default:
		return errIo("", err)
	}
}

// fetchPreImage retrieves staged content for undo, classifying absence.
func (e *Engine) fetchPreImage(ctx context.Context, d hash.Digest) ([]byte, error) {
	content, ok, err := e.blobs.Get(ctx, d)
	if err != nil {
		if errors.Is(err, blob.ErrIntegrity) {
			e.invalid = true
			return nil, &OpError{Code: ErrCodeInvalidState, Message: "content store integrity failure", Path: d.String(), Err: err}
		}
		return nil, errIo(d.String(), err)
	}
	if !ok {
		obliterated, oerr := e.blobs.Obliterated(ctx, d)
		if oerr != nil {
			return nil, errIo(d.String(), oerr)
		}
		return nil, errContentUnavailable(d.String(), obliterated)
	}
	return content, nil
}

func maxSeq(ctx context.Context, st *store.Store) (int64, error) {
	rows, err := st.Query(ctx, `SELECT COALESCE(MAX(seq), 0) FROM operations`)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	var max int64
	if rows.Next() {
		if err := rows.Scan(&max); err != nil {
			return 0, err
		}
	}
	return max, rows.Err()
}
