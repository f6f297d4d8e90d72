package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/hyperpolymath/januskey/internal/delta"
	"github.com/hyperpolymath/januskey/internal/fsmodel"
	"github.com/hyperpolymath/januskey/internal/model"
)

// Undo reverses the operation described by rec and marks it undone.
//
// Preconditions: the record must not already be undone, its metadata must
// be sufficient for its kind, and every content digest its inverse needs
// must be retrievable from the store — otherwise the undo fails
// (CONFLICT, INSUFFICIENT_METADATA, CONTENT_UNAVAILABLE respectively) and
// the managed state is unchanged.
//
// The inverse mutation is itself recorded in history, so history remains a
// faithful account of every change made to the tree.
func (e *Engine) Undo(ctx context.Context, rec model.OperationRecord) (model.OperationRecord, error) {
	if e.invalid {
		return model.OperationRecord{}, &OpError{Code: ErrCodeInvalidState, Message: "engine is in invalid state; repair required"}
	}
	if rec.Undone {
		return model.OperationRecord{}, &OpError{Code: ErrCodeConflict, Message: "operation already undone", Path: rec.Path}
	}
	if !rec.Sufficient() {
		return model.OperationRecord{}, &OpError{Code: ErrCodeInsufficientMetadata, Message: "metadata missing fields required by kind " + string(rec.Kind), Path: rec.Path}
	}

	// Content availability is checked before any mutation so a failed undo
	// leaves the state untouched.
	for _, h := range rec.RequiredHashes() {
		exists, err := e.blobs.Exists(ctx, h)
		if err != nil {
			return model.OperationRecord{}, errIo(rec.Path, err)
		}
		if !exists {
			obliterated, oerr := e.blobs.Obliterated(ctx, h)
			if oerr != nil {
				return model.OperationRecord{}, errIo(rec.Path, oerr)
			}
			return model.OperationRecord{}, errContentUnavailable(h.String(), obliterated)
		}
	}

	var inverse model.OperationRecord
	var err error
	switch rec.Kind {
	case model.KindCreate:
		inverse, err = e.Delete(ctx, rec.Path)
	case model.KindDelete:
		inverse, err = e.undoDelete(ctx, rec)
	case model.KindModify:
		inverse, err = e.undoModify(ctx, rec)
	case model.KindMove:
		inverse, err = e.Move(ctx, rec.SecondaryPath, rec.Path)
	case model.KindCopy:
		inverse, err = e.Delete(ctx, rec.SecondaryPath)
	case model.KindChmod:
		inverse, err = e.Chmod(ctx, rec.Path, rec.PreMetadata.Mode)
	case model.KindMkdir:
		inverse, err = e.Rmdir(ctx, rec.Path, false)
	case model.KindRmdir:
		inverse, err = e.undoRmdir(ctx, rec)
	case model.KindSymlink:
		inverse, err = e.undoSymlink(ctx, rec)
	case model.KindAppend:
		inverse, err = e.Truncate(ctx, rec.Path, rec.PreSize)
	case model.KindTruncate:
		inverse, err = e.undoTruncate(ctx, rec)
	case model.KindTouch:
		inverse, err = e.undoTouch(ctx, rec)
	default:
		return model.OperationRecord{}, &OpError{Code: ErrCodeInsufficientMetadata, Message: "unknown operation kind " + string(rec.Kind), Path: rec.Path}
	}
	if err != nil {
		return model.OperationRecord{}, err
	}

	if err := e.st.MarkUndone(ctx, rec.ID, inverse.ID, e.clock.Next()); err != nil {
		return model.OperationRecord{}, errIo(rec.Path, err)
	}

	e.logger.Info("operation undone",
		"id", rec.ID,
		"kind", rec.Kind,
		"path", rec.Path,
		"inverse_id", inverse.ID,
	)
	return inverse, nil
}

// UndoByID reverses the operation with the given history id.
func (e *Engine) UndoByID(ctx context.Context, id string) (model.OperationRecord, error) {
	rec, err := e.st.ReadOperation(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.OperationRecord{}, errNotFound(id)
		}
		return model.OperationRecord{}, errIo(id, err)
	}
	return e.Undo(ctx, rec)
}

// UndoLast reverses the most recent not-yet-undone operation.
func (e *Engine) UndoLast(ctx context.Context) (model.OperationRecord, error) {
	rec, err := e.st.LastUndoable(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.OperationRecord{}, &OpError{Code: ErrCodeNotFound, Message: "nothing to undo"}
		}
		return model.OperationRecord{}, errIo("", err)
	}
	return e.Undo(ctx, rec)
}

// UndoSequence reverses a list of operations in reverse application order.
// The first failure stops the walk; operations already reversed stay
// reversed (higher layers choose partial-undo policy).
func (e *Engine) UndoSequence(ctx context.Context, recs []model.OperationRecord) ([]model.OperationRecord, error) {
	inverses := make([]model.OperationRecord, 0, len(recs))
	for i := len(recs) - 1; i >= 0; i-- {
		inv, err := e.Undo(ctx, recs[i])
		if err != nil {
			return inverses, err
		}
		inverses = append(inverses, inv)
	}
	return inverses, nil
}

// undoDelete restores the deleted file from its staged content and
// recorded metadata.
func (e *Engine) undoDelete(ctx context.Context, rec model.OperationRecord) (model.OperationRecord, error) {
	content, err := e.fetchPreImage(ctx, rec.PreHash)
	if err != nil {
		return model.OperationRecord{}, err
	}

	exists, err := e.tree.Exists(rec.Path)
	if err != nil {
		return model.OperationRecord{}, errIo(rec.Path, err)
	}
	if exists {
		return model.OperationRecord{}, errAlreadyExists(rec.Path)
	}

	meta := *rec.PreMetadata
	if err := e.tree.Set(fsmodel.Entry{Path: rec.Path, Content: content, Metadata: &meta}); err != nil {
		return model.OperationRecord{}, errIo(rec.Path, err)
	}

	inverse := e.newRecord(model.KindCreate, rec.Path)
	inverse.PostHash = rec.PreHash
	inverse.TransactionID = e.activeTxID
	if err := e.appendRecord(ctx, inverse); err != nil {
		_ = e.tree.Remove(rec.Path)
		return model.OperationRecord{}, err
	}
	return inverse, nil
}

// undoModify writes the pre-image back, reconstructing it from a reverse
// delta when the apply staged one.
func (e *Engine) undoModify(ctx context.Context, rec model.OperationRecord) (model.OperationRecord, error) {
	var preImage []byte
	if rec.IsDelta {
		current, ok, err := e.tree.GetContent(rec.Path)
		if err != nil {
			return model.OperationRecord{}, errIo(rec.Path, err)
		}
		if !ok {
			return model.OperationRecord{}, errNotFound(rec.Path)
		}
		// With IsDelta set, PreHash names the staged delta container;
		// the pre-image is reconstructed from the current content.
		payload, err := e.fetchPreImage(ctx, rec.PreHash)
		if err != nil {
			return model.OperationRecord{}, err
		}
		d, derr := delta.Unmarshal(payload)
		if derr != nil {
			return model.OperationRecord{}, &OpError{Code: ErrCodeInvalidState, Message: "stored delta is corrupt", Path: rec.Path, Err: derr}
		}
		preImage, derr = d.Apply(current)
		if derr != nil {
			return model.OperationRecord{}, &OpError{Code: ErrCodeInvalidState, Message: "delta reconstruction failed", Path: rec.Path, Err: derr}
		}
	} else {
		var err error
		preImage, err = e.fetchPreImage(ctx, rec.PreHash)
		if err != nil {
			return model.OperationRecord{}, err
		}
	}

	return e.Modify(ctx, rec.Path, preImage)
}

// undoRmdir recreates the directory; for recursive removals it restores
// every file recorded in the staged manifest.
func (e *Engine) undoRmdir(ctx context.Context, rec model.OperationRecord) (model.OperationRecord, error) {
	if rec.PreHash.IsZero() {
		return e.Mkdir(ctx, rec.Path, false)
	}

	payload, err := e.fetchPreImage(ctx, rec.PreHash)
	if err != nil {
		return model.OperationRecord{}, err
	}
	var manifest []manifestEntry
	if err := json.Unmarshal(payload, &manifest); err != nil {
		return model.OperationRecord{}, &OpError{Code: ErrCodeInvalidState, Message: "stored manifest is corrupt", Path: rec.Path, Err: err}
	}

	// Every file digest must be available before the first mutation.
	for _, m := range manifest {
		exists, err := e.blobs.Exists(ctx, m.Hash)
		if err != nil {
			return model.OperationRecord{}, errIo(rec.Path, err)
		}
		if !exists {
			obliterated, oerr := e.blobs.Obliterated(ctx, m.Hash)
			if oerr != nil {
				return model.OperationRecord{}, errIo(rec.Path, oerr)
			}
			return model.OperationRecord{}, errContentUnavailable(m.Hash.String(), obliterated)
		}
	}

	if err := e.tree.Mkdir(rec.Path, true); err != nil {
		return model.OperationRecord{}, errIo(rec.Path, err)
	}
	for _, m := range manifest {
		content, err := e.fetchPreImage(ctx, m.Hash)
		if err != nil {
			return model.OperationRecord{}, err
		}
		full := rec.Path + "/" + m.Path
		meta := model.FileMetadata{Mode: m.Mode}
		if err := e.tree.Set(fsmodel.Entry{Path: full, Content: content, Metadata: &meta}); err != nil {
			return model.OperationRecord{}, errIo(full, err)
		}
	}

	inverse := e.newRecord(model.KindMkdir, rec.Path)
	inverse.TransactionID = e.activeTxID
	if err := e.appendRecord(ctx, inverse); err != nil {
		_ = e.tree.RemoveAll(rec.Path)
		return model.OperationRecord{}, err
	}
	return inverse, nil
}

// undoSymlink removes the link without touching its target.
func (e *Engine) undoSymlink(ctx context.Context, rec model.OperationRecord) (model.OperationRecord, error) {
	exists, err := e.tree.Exists(rec.Path)
	if err != nil {
		return model.OperationRecord{}, errIo(rec.Path, err)
	}
	if !exists {
		return model.OperationRecord{}, errNotFound(rec.Path)
	}

	if err := e.tree.Remove(rec.Path); err != nil {
		return model.OperationRecord{}, errIo(rec.Path, err)
	}

	inverse := e.newRecord(model.KindDelete, rec.Path)
	inverse.TransactionID = e.activeTxID
	if err := e.appendRecord(ctx, inverse); err != nil {
		_ = e.tree.Symlink(rec.SecondaryPath, rec.Path)
		return model.OperationRecord{}, err
	}
	return inverse, nil
}

// undoTruncate writes the staged full pre-image back.
func (e *Engine) undoTruncate(ctx context.Context, rec model.OperationRecord) (model.OperationRecord, error) {
	content, err := e.fetchPreImage(ctx, rec.PreHash)
	if err != nil {
		return model.OperationRecord{}, err
	}
	return e.Modify(ctx, rec.Path, content)
}

// undoTouch restores the recorded modification time.
func (e *Engine) undoTouch(ctx context.Context, rec model.OperationRecord) (model.OperationRecord, error) {
	exists, err := e.tree.Exists(rec.Path)
	if err != nil {
		return model.OperationRecord{}, errIo(rec.Path, err)
	}
	if !exists {
		return model.OperationRecord{}, errNotFound(rec.Path)
	}

	if err := e.tree.Chtimes(rec.Path, rec.PreMetadata.ModTime); err != nil {
		return model.OperationRecord{}, errIo(rec.Path, err)
	}

	inverse := e.newRecord(model.KindTouch, rec.Path)
	inverse.PreMetadata = rec.PreMetadata
	inverse.TransactionID = e.activeTxID
	if err := e.appendRecord(ctx, inverse); err != nil {
		return model.OperationRecord{}, err
	}
	return inverse, nil
}
