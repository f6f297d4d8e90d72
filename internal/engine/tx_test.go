package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperpolymath/januskey/internal/hash"
	"github.com/hyperpolymath/januskey/internal/model"
)

func contentHex(s string) string {
	return hash.Sum([]byte(s)).Hex()
}

func TestTransactionRollbackRestoresState(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Create(ctx, "a.txt", []byte("a-original"))
	require.NoError(t, err)
	_, err = e.Create(ctx, "b.txt", []byte("b-original"))
	require.NoError(t, err)

	before := snapshot(t, e, "a.txt", "b.txt", "c.txt")

	txn, err := e.Begin(ctx, "batch")
	require.NoError(t, err)
	assert.Equal(t, model.TxActive, txn.State)

	_, err = e.Delete(ctx, "a.txt")
	require.NoError(t, err)
	_, err = e.Modify(ctx, "b.txt", []byte("new"))
	require.NoError(t, err)
	_, err = e.Create(ctx, "c.txt", []byte("x"))
	require.NoError(t, err)

	rolled, err := e.Rollback(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.TxRolledBack, rolled.State)

	assert.Equal(t, before, snapshot(t, e, "a.txt", "b.txt", "c.txt"),
		"rollback must restore all three files to their pre-transaction state")

	_, ok, err := e.ActiveTransaction(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTransactionCommitKeepsChanges(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Create(ctx, "f.txt", []byte("v1"))
	require.NoError(t, err)

	_, err = e.Begin(ctx, "")
	require.NoError(t, err)
	rec, err := e.Modify(ctx, "f.txt", []byte("v2"))
	require.NoError(t, err)

	committed, err := e.Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.TxCommitted, committed.State)
	assert.Equal(t, []string{rec.ID}, committed.OperationIDs)

	content, _, err := e.Tree().GetContent("f.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), content)
}

func TestBeginWhileActiveConflicts(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Begin(ctx, "outer")
	require.NoError(t, err)

	_, err = e.Begin(ctx, "inner")
	assert.True(t, IsConflict(err))
}

func TestCommitWithoutActiveConflicts(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Commit(ctx)
	assert.True(t, IsConflict(err))
	_, err = e.Rollback(ctx)
	assert.True(t, IsConflict(err))
}

func TestInnerSubsequenceRollbackLeavesOuterRollable(t *testing.T) {
	// Nested groups are contiguous sub-sequences of the outer transaction:
	// undoing the inner suffix first must leave the remaining prefix
	// rollable to the original state.
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Create(ctx, "one.txt", []byte("one"))
	require.NoError(t, err)
	_, err = e.Create(ctx, "two.txt", []byte("two"))
	require.NoError(t, err)

	before := snapshot(t, e, "one.txt", "two.txt")

	_, err = e.Begin(ctx, "outer")
	require.NoError(t, err)

	outer1, err := e.Modify(ctx, "one.txt", []byte("one-changed"))
	require.NoError(t, err)
	inner1, err := e.Delete(ctx, "two.txt")
	require.NoError(t, err)
	inner2, err := e.Create(ctx, "tmp.txt", []byte("scratch"))
	require.NoError(t, err)

	// Undo the inner sub-sequence first.
	_, err = e.UndoSequence(ctx, []model.OperationRecord{inner1, inner2})
	require.NoError(t, err)

	// The outer prefix is still undoable.
	_, err = e.Undo(ctx, outer1)
	require.NoError(t, err)

	_, err = e.Commit(ctx)
	require.NoError(t, err)

	assert.Equal(t, before, snapshot(t, e, "one.txt", "two.txt"))
	exists, err := e.Tree().Exists("tmp.txt")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestPreview(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Preview(ctx)
	assert.True(t, IsConflict(err), "preview without a transaction conflicts")

	_, err = e.Create(ctx, "x", []byte("1"))
	require.NoError(t, err)

	_, err = e.Begin(ctx, "preview-me")
	require.NoError(t, err)
	_, err = e.Move(ctx, "x", "y")
	require.NoError(t, err)
	_, err = e.Create(ctx, "z", []byte("2"))
	require.NoError(t, err)

	preview, err := e.Preview(ctx)
	require.NoError(t, err)
	assert.Equal(t, "preview-me", preview.TransactionName)
	require.Len(t, preview.Operations, 2)
	assert.Equal(t, model.KindMove, preview.Operations[0].Kind)
	assert.Equal(t, 3, preview.FilesAffected, "x, y, z")
}

func TestRollbackSurvivesEngineReopen(t *testing.T) {
	// The active-transaction pointer is persisted; a fresh engine over the
	// same store can still roll back.
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Create(ctx, "f.txt", []byte("before"))
	require.NoError(t, err)
	_, err = e.Begin(ctx, "")
	require.NoError(t, err)
	_, err = e.Modify(ctx, "f.txt", []byte("during"))
	require.NoError(t, err)

	e2, err := New(ctx, e.Tree(), e.Blobs(), e.Store())
	require.NoError(t, err)

	_, err = e2.Rollback(ctx)
	require.NoError(t, err)

	content, _, err := e.Tree().GetContent("f.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("before"), content)
}
