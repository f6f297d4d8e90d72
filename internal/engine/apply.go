package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"

	"github.com/hyperpolymath/januskey/internal/delta"
	"github.com/hyperpolymath/januskey/internal/fsmodel"
	"github.com/hyperpolymath/januskey/internal/hash"
	"github.com/hyperpolymath/januskey/internal/model"
)

// manifestEntry is one restored file in a recursive rmdir manifest.
type manifestEntry struct {
	Path string      `json:"path"`
	Hash hash.Digest `json:"hash"`
	Mode uint32      `json:"mode"`
}

// Create inserts a new file at path with the given content.
// Fails with ALREADY_EXISTS if the path is present.
func (e *Engine) Create(ctx context.Context, path string, content []byte) (model.OperationRecord, error) {
	cp, err := e.canonical(path)
	if err != nil {
		return model.OperationRecord{}, err
	}
	if err := e.guard(ctx); err != nil {
		return model.OperationRecord{}, err
	}

	exists, err := e.tree.Exists(cp)
	if err != nil {
		return model.OperationRecord{}, errIo(cp, err)
	}
	if exists {
		return model.OperationRecord{}, errAlreadyExists(cp)
	}

	// Created content is staged eagerly: the engine always stages, so the
	// store can answer presence queries for any content it has governed.
	if err := e.stagePreImage(ctx, content); err != nil {
		return model.OperationRecord{}, err
	}

	if err := e.tree.Set(fsmodel.Entry{Path: cp, Content: content}); err != nil {
		return model.OperationRecord{}, errIo(cp, err)
	}

	rec := e.newRecord(model.KindCreate, cp)
	rec.PostHash = hash.Sum(content)
	rec.TransactionID = e.activeTxID
	if err := e.appendRecord(ctx, rec); err != nil {
		// Compensate: the file was created but not recorded.
		_ = e.tree.Remove(cp)
		return model.OperationRecord{}, err
	}
	return rec, nil
}

// Delete removes the file at path, staging its content and metadata so the
// removal can be undone. Fails with NOT_FOUND if the path is absent.
func (e *Engine) Delete(ctx context.Context, path string) (model.OperationRecord, error) {
	cp, err := e.canonical(path)
	if err != nil {
		return model.OperationRecord{}, err
	}
	if err := e.guard(ctx); err != nil {
		return model.OperationRecord{}, err
	}

	entry, err := e.tree.Find(cp)
	if err != nil {
		return model.OperationRecord{}, errIo(cp, err)
	}
	if !entry.Exists {
		return model.OperationRecord{}, errNotFound(cp)
	}
	if entry.Metadata.IsDir {
		return model.OperationRecord{}, &OpError{Code: ErrCodeConflict, Message: "path is a directory; use rmdir", Path: cp}
	}

	if err := e.stagePreImage(ctx, entry.Content); err != nil {
		return model.OperationRecord{}, err
	}

	if err := e.tree.Remove(cp); err != nil {
		return model.OperationRecord{}, errIo(cp, err)
	}

	rec := e.newRecord(model.KindDelete, cp)
	rec.PreHash = entry.Hash
	rec.PreMetadata = entry.Metadata
	rec.TransactionID = e.activeTxID
	if err := e.appendRecord(ctx, rec); err != nil {
		// Compensate: restore the just-removed file.
		_ = e.tree.Set(entry)
		return model.OperationRecord{}, err
	}
	return rec, nil
}

// Modify replaces the content at path, staging the pre-image (full or as a
// reverse delta when enabled). Fails with NOT_FOUND if the path is absent.
func (e *Engine) Modify(ctx context.Context, path string, newContent []byte) (model.OperationRecord, error) {
	cp, err := e.canonical(path)
	if err != nil {
		return model.OperationRecord{}, err
	}
	if err := e.guard(ctx); err != nil {
		return model.OperationRecord{}, err
	}

	entry, err := e.tree.Find(cp)
	if err != nil {
		return model.OperationRecord{}, errIo(cp, err)
	}
	if !entry.Exists || entry.Metadata.IsDir {
		return model.OperationRecord{}, errNotFound(cp)
	}

	// PreHash names the staged payload: the pre-image itself, or the
	// reverse-delta container reconstructing it (flagged by IsDelta).
	isDelta := false
	preHash := entry.Hash
	if e.deltaEnabled {
		if d, ok := delta.Compute(newContent, entry.Content); ok {
			payload, merr := d.Marshal()
			if merr != nil {
				return model.OperationRecord{}, errIo(cp, merr)
			}
			if err := e.stagePreImage(ctx, payload); err != nil {
				return model.OperationRecord{}, err
			}
			preHash = hash.Sum(payload)
			isDelta = true
		}
	}
	if !isDelta {
		if err := e.stagePreImage(ctx, entry.Content); err != nil {
			return model.OperationRecord{}, err
		}
	}

	preserved := *entry.Metadata
	if err := e.tree.Set(fsmodel.Entry{Path: cp, Content: newContent, Metadata: &preserved}); err != nil {
		return model.OperationRecord{}, errIo(cp, err)
	}

	rec := e.newRecord(model.KindModify, cp)
	rec.PreHash = preHash
	rec.PostHash = hash.Sum(newContent)
	rec.PreMetadata = entry.Metadata
	rec.IsDelta = isDelta
	rec.TransactionID = e.activeTxID
	if err := e.appendRecord(ctx, rec); err != nil {
		_ = e.tree.Set(entry)
		return model.OperationRecord{}, err
	}
	return rec, nil
}

// Move renames src to dst. Fails with NOT_FOUND if src is absent and
// ALREADY_EXISTS if dst is present. A failure between placing dst and
// clearing src is compensated so the move is atomically visible.
func (e *Engine) Move(ctx context.Context, src, dst string) (model.OperationRecord, error) {
	csrc, err := e.canonical(src)
	if err != nil {
		return model.OperationRecord{}, err
	}
	cdst, err := e.canonical(dst)
	if err != nil {
		return model.OperationRecord{}, err
	}
	if err := e.guard(ctx); err != nil {
		return model.OperationRecord{}, err
	}

	srcEntry, err := e.tree.Find(csrc)
	if err != nil {
		return model.OperationRecord{}, errIo(csrc, err)
	}
	if !srcEntry.Exists {
		return model.OperationRecord{}, errNotFound(csrc)
	}
	if srcEntry.Metadata.IsDir {
		return model.OperationRecord{}, &OpError{Code: ErrCodeConflict, Message: "path is a directory", Path: csrc}
	}
	dstExists, err := e.tree.Exists(cdst)
	if err != nil {
		return model.OperationRecord{}, errIo(cdst, err)
	}
	if dstExists {
		return model.OperationRecord{}, errAlreadyExists(cdst)
	}

	// Place dst, then clear src; compensate by removing dst if clearing
	// fails so no half-moved state is ever visible.
	rebound := srcEntry
	rebound.Path = cdst
	if err := e.tree.Set(rebound); err != nil {
		return model.OperationRecord{}, errIo(cdst, err)
	}
	if err := e.tree.Remove(csrc); err != nil {
		_ = e.tree.Remove(cdst)
		return model.OperationRecord{}, errIo(csrc, err)
	}

	rec := e.newRecord(model.KindMove, csrc)
	rec.SecondaryPath = cdst
	rec.PreMetadata = srcEntry.Metadata
	rec.TransactionID = e.activeTxID
	if err := e.appendRecord(ctx, rec); err != nil {
		_ = e.tree.Set(srcEntry)
		_ = e.tree.Remove(cdst)
		return model.OperationRecord{}, err
	}
	return rec, nil
}

// Copy duplicates src at dst, keeping src. Fails with NOT_FOUND if src is
// absent and ALREADY_EXISTS if dst is present.
func (e *Engine) Copy(ctx context.Context, src, dst string) (model.OperationRecord, error) {
	csrc, err := e.canonical(src)
	if err != nil {
		return model.OperationRecord{}, err
	}
	cdst, err := e.canonical(dst)
	if err != nil {
		return model.OperationRecord{}, err
	}
	if err := e.guard(ctx); err != nil {
		return model.OperationRecord{}, err
	}

	srcEntry, err := e.tree.Find(csrc)
	if err != nil {
		return model.OperationRecord{}, errIo(csrc, err)
	}
	if !srcEntry.Exists {
		return model.OperationRecord{}, errNotFound(csrc)
	}
	if srcEntry.Metadata.IsDir {
		return model.OperationRecord{}, &OpError{Code: ErrCodeConflict, Message: "path is a directory", Path: csrc}
	}
	dstExists, err := e.tree.Exists(cdst)
	if err != nil {
		return model.OperationRecord{}, errIo(cdst, err)
	}
	if dstExists {
		return model.OperationRecord{}, errAlreadyExists(cdst)
	}

	rebound := srcEntry
	rebound.Path = cdst
	if err := e.tree.Set(rebound); err != nil {
		return model.OperationRecord{}, errIo(cdst, err)
	}

	rec := e.newRecord(model.KindCopy, csrc)
	rec.SecondaryPath = cdst
	rec.TransactionID = e.activeTxID
	if err := e.appendRecord(ctx, rec); err != nil {
		_ = e.tree.Remove(cdst)
		return model.OperationRecord{}, err
	}
	return rec, nil
}

// Chmod changes the permission bits at path, recording the prior metadata.
func (e *Engine) Chmod(ctx context.Context, path string, mode uint32) (model.OperationRecord, error) {
	cp, err := e.canonical(path)
	if err != nil {
		return model.OperationRecord{}, err
	}
	if err := e.guard(ctx); err != nil {
		return model.OperationRecord{}, err
	}

	entry, err := e.tree.Find(cp)
	if err != nil {
		return model.OperationRecord{}, errIo(cp, err)
	}
	if !entry.Exists {
		return model.OperationRecord{}, errNotFound(cp)
	}

	if err := e.tree.Chmod(cp, mode); err != nil {
		return model.OperationRecord{}, errIo(cp, err)
	}

	rec := e.newRecord(model.KindChmod, cp)
	rec.PreMetadata = entry.Metadata
	rec.TransactionID = e.activeTxID
	if err := e.appendRecord(ctx, rec); err != nil {
		_ = e.tree.Chmod(cp, entry.Metadata.Mode)
		return model.OperationRecord{}, err
	}
	return rec, nil
}

// Mkdir creates a directory at path. Fails with ALREADY_EXISTS if present.
func (e *Engine) Mkdir(ctx context.Context, path string, parents bool) (model.OperationRecord, error) {
	cp, err := e.canonical(path)
	if err != nil {
		return model.OperationRecord{}, err
	}
	if err := e.guard(ctx); err != nil {
		return model.OperationRecord{}, err
	}

	exists, err := e.tree.Exists(cp)
	if err != nil {
		return model.OperationRecord{}, errIo(cp, err)
	}
	if exists {
		return model.OperationRecord{}, errAlreadyExists(cp)
	}

	if err := e.tree.Mkdir(cp, parents); err != nil {
		return model.OperationRecord{}, errIo(cp, err)
	}

	rec := e.newRecord(model.KindMkdir, cp)
	rec.TransactionID = e.activeTxID
	if err := e.appendRecord(ctx, rec); err != nil {
		_ = e.tree.Remove(cp)
		return model.OperationRecord{}, err
	}
	return rec, nil
}

// Rmdir removes the directory at path. Without recursive, the directory
// must be empty. With recursive, every contained file is staged into the
// content store and a manifest is recorded so the whole subtree can be
// restored by undo.
func (e *Engine) Rmdir(ctx context.Context, path string, recursive bool) (model.OperationRecord, error) {
	cp, err := e.canonical(path)
	if err != nil {
		return model.OperationRecord{}, err
	}
	if err := e.guard(ctx); err != nil {
		return model.OperationRecord{}, err
	}

	entry, err := e.tree.Find(cp)
	if err != nil {
		return model.OperationRecord{}, errIo(cp, err)
	}
	if !entry.Exists {
		return model.OperationRecord{}, errNotFound(cp)
	}
	if !entry.Metadata.IsDir {
		return model.OperationRecord{}, &OpError{Code: ErrCodeConflict, Message: "path is not a directory", Path: cp}
	}

	rec := e.newRecord(model.KindRmdir, cp)
	rec.PreMetadata = entry.Metadata
	rec.TransactionID = e.activeTxID

	if recursive {
		manifest, err := e.stageSubtree(ctx, cp)
		if err != nil {
			return model.OperationRecord{}, err
		}
		payload, merr := json.Marshal(manifest)
		if merr != nil {
			return model.OperationRecord{}, errIo(cp, merr)
		}
		if err := e.stagePreImage(ctx, payload); err != nil {
			return model.OperationRecord{}, err
		}
		rec.PreHash = hash.Sum(payload)

		if err := e.tree.RemoveAll(cp); err != nil {
			return model.OperationRecord{}, errIo(cp, err)
		}
	} else {
		empty, err := e.dirEmpty(cp)
		if err != nil {
			return model.OperationRecord{}, errIo(cp, err)
		}
		if !empty {
			return model.OperationRecord{}, &OpError{Code: ErrCodeConflict, Message: "directory not empty", Path: cp}
		}
		if err := e.tree.Remove(cp); err != nil {
			return model.OperationRecord{}, errIo(cp, err)
		}
	}

	if err := e.appendRecord(ctx, rec); err != nil {
		_ = e.tree.Mkdir(cp, true)
		return model.OperationRecord{}, err
	}
	return rec, nil
}

// Symlink creates a symbolic link at linkPath pointing at target. Fails
// with ALREADY_EXISTS if linkPath is present.
func (e *Engine) Symlink(ctx context.Context, target, linkPath string) (model.OperationRecord, error) {
	cp, err := e.canonical(linkPath)
	if err != nil {
		return model.OperationRecord{}, err
	}
	if err := e.guard(ctx); err != nil {
		return model.OperationRecord{}, err
	}

	exists, err := e.tree.Exists(cp)
	if err != nil {
		return model.OperationRecord{}, errIo(cp, err)
	}
	if exists {
		return model.OperationRecord{}, errAlreadyExists(cp)
	}

	if err := e.tree.Symlink(target, cp); err != nil {
		return model.OperationRecord{}, errIo(cp, err)
	}

	rec := e.newRecord(model.KindSymlink, cp)
	rec.SecondaryPath = target
	rec.TransactionID = e.activeTxID
	if err := e.appendRecord(ctx, rec); err != nil {
		_ = e.tree.Remove(cp)
		return model.OperationRecord{}, err
	}
	return rec, nil
}

// Append extends the file at path with content, recording the pre-size so
// undo can truncate back to exactly the old length.
func (e *Engine) Append(ctx context.Context, path string, content []byte) (model.OperationRecord, error) {
	cp, err := e.canonical(path)
	if err != nil {
		return model.OperationRecord{}, err
	}
	if err := e.guard(ctx); err != nil {
		return model.OperationRecord{}, err
	}

	entry, err := e.tree.Find(cp)
	if err != nil {
		return model.OperationRecord{}, errIo(cp, err)
	}
	if !entry.Exists || entry.Metadata.IsDir {
		return model.OperationRecord{}, errNotFound(cp)
	}

	// The appended bytes are staged for diagnostics; undo needs only the
	// pre-size, since append strictly extends the byte sequence.
	if err := e.stagePreImage(ctx, content); err != nil {
		return model.OperationRecord{}, err
	}

	if err := e.tree.Append(cp, content); err != nil {
		return model.OperationRecord{}, errIo(cp, err)
	}

	rec := e.newRecord(model.KindAppend, cp)
	rec.PreSize = entry.Metadata.Size
	rec.HasPreSize = true
	rec.TransactionID = e.activeTxID
	if err := e.appendRecord(ctx, rec); err != nil {
		_ = e.tree.Truncate(cp, entry.Metadata.Size)
		return model.OperationRecord{}, err
	}
	return rec, nil
}

// Truncate shortens the file at path to size bytes, staging the full
// pre-image for undo.
func (e *Engine) Truncate(ctx context.Context, path string, size int64) (model.OperationRecord, error) {
	cp, err := e.canonical(path)
	if err != nil {
		return model.OperationRecord{}, err
	}
	if err := e.guard(ctx); err != nil {
		return model.OperationRecord{}, err
	}

	entry, err := e.tree.Find(cp)
	if err != nil {
		return model.OperationRecord{}, errIo(cp, err)
	}
	if !entry.Exists || entry.Metadata.IsDir {
		return model.OperationRecord{}, errNotFound(cp)
	}

	if err := e.stagePreImage(ctx, entry.Content); err != nil {
		return model.OperationRecord{}, err
	}

	if err := e.tree.Truncate(cp, size); err != nil {
		return model.OperationRecord{}, errIo(cp, err)
	}

	rec := e.newRecord(model.KindTruncate, cp)
	rec.PreHash = entry.Hash
	rec.PreSize = entry.Metadata.Size
	rec.HasPreSize = true
	rec.TransactionID = e.activeTxID
	if err := e.appendRecord(ctx, rec); err != nil {
		_ = e.tree.Set(entry)
		return model.OperationRecord{}, err
	}
	return rec, nil
}

// Touch updates the modification time at path, recording the prior
// metadata. With create, a missing path becomes an empty file; that case
// is recorded as a CREATE, since it is one.
func (e *Engine) Touch(ctx context.Context, path string, create bool) (model.OperationRecord, error) {
	cp, err := e.canonical(path)
	if err != nil {
		return model.OperationRecord{}, err
	}
	if err := e.guard(ctx); err != nil {
		return model.OperationRecord{}, err
	}

	entry, err := e.tree.Find(cp)
	if err != nil {
		return model.OperationRecord{}, errIo(cp, err)
	}
	if !entry.Exists {
		if !create {
			return model.OperationRecord{}, errNotFound(cp)
		}
		return e.Create(ctx, cp, nil)
	}

	if err := e.tree.Chtimes(cp, e.wall.Now()); err != nil {
		return model.OperationRecord{}, errIo(cp, err)
	}

	rec := e.newRecord(model.KindTouch, cp)
	rec.PreMetadata = entry.Metadata
	rec.TransactionID = e.activeTxID
	if err := e.appendRecord(ctx, rec); err != nil {
		_ = e.tree.Chtimes(cp, entry.Metadata.ModTime)
		return model.OperationRecord{}, err
	}
	return rec, nil
}

// stageSubtree stores every file under dir and returns the manifest of
// relative paths and digests that undo restores from.
func (e *Engine) stageSubtree(ctx context.Context, dir string) ([]manifestEntry, error) {
	manifest := []manifestEntry{}
	err := e.tree.Walk(dir, func(p string, info fs.FileInfo) error {
		if info.IsDir() || info.Mode()&fs.ModeSymlink != 0 {
			return nil
		}
		content, ok, err := e.tree.GetContent(p)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := e.stagePreImage(ctx, content); err != nil {
			return err
		}
		rel := p[len(dir)+1:]
		manifest = append(manifest, manifestEntry{
			Path: rel,
			Hash: hash.Sum(content),
			Mode: uint32(info.Mode().Perm()),
		})
		return nil
	})
	if err != nil {
		if oe, ok := err.(*OpError); ok {
			return nil, oe
		}
		return nil, errIo(dir, err)
	}
	return manifest, nil
}

// dirEmpty reports whether a directory has no children.
func (e *Engine) dirEmpty(dir string) (bool, error) {
	empty := true
	err := e.tree.Walk(dir, func(p string, _ fs.FileInfo) error {
		if p != dir {
			empty = false
			return fmt.Errorf("not empty")
		}
		return nil
	})
	if err != nil && empty {
		return false, err
	}
	return empty, nil
}
