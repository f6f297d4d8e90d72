package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperpolymath/januskey/internal/hash"
	"github.com/hyperpolymath/januskey/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleRecord(id string, seq int64) model.OperationRecord {
	return model.OperationRecord{
		ID:        id,
		Kind:      model.KindDelete,
		Seq:       seq,
		Timestamp: time.Date(2025, 3, 1, 10, 0, 0, int(seq), time.UTC),
		Path:      "a.txt",
		PreHash:   hash.Sum([]byte("hello")),
		PreMetadata: &model.FileMetadata{
			Mode: 0o644,
			Size: 5,
		},
	}
}

func TestOpenAppliesPragmas(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "januskey.db"))
	require.NoError(t, err)
	defer s.Close()

	assert.NoError(t, s.verifyPragma("journal_mode", "wal"))
	assert.NoError(t, s.verifyPragma("foreign_keys", "1"))
}

func TestAppendAndReadOperation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := sampleRecord("op-1", 1)
	require.NoError(t, s.AppendOperation(ctx, rec))

	got, err := s.ReadOperation(ctx, "op-1")
	require.NoError(t, err)
	assert.Equal(t, rec.Kind, got.Kind)
	assert.Equal(t, rec.Path, got.Path)
	assert.Equal(t, rec.PreHash, got.PreHash)
	assert.True(t, got.PostHash.IsZero())
	require.NotNil(t, got.PreMetadata)
	assert.EqualValues(t, 0o644, got.PreMetadata.Mode)
	assert.False(t, got.Undone)
	assert.False(t, got.HasPreSize)
}

func TestAppendOperationIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := sampleRecord("op-1", 1)
	require.NoError(t, s.AppendOperation(ctx, rec))
	require.NoError(t, s.AppendOperation(ctx, rec))

	count, err := s.CountOperations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestPreSizeRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := model.OperationRecord{
		ID: "op-append", Kind: model.KindAppend, Seq: 1,
		Timestamp: time.Now().UTC(), Path: "f.txt",
		PreSize: 0, HasPreSize: true,
	}
	require.NoError(t, s.AppendOperation(ctx, rec))

	got, err := s.ReadOperation(ctx, "op-append")
	require.NoError(t, err)
	assert.True(t, got.HasPreSize, "zero pre-size must survive as present, not absent")
	assert.EqualValues(t, 0, got.PreSize)
}

func TestMarkUndone(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendOperation(ctx, sampleRecord("op-1", 1)))
	require.NoError(t, s.AppendOperation(ctx, sampleRecord("op-2", 2)))

	require.NoError(t, s.MarkUndone(ctx, "op-1", "op-undo-1", 3))

	got, err := s.ReadOperation(ctx, "op-1")
	require.NoError(t, err)
	assert.True(t, got.Undone)
	assert.Equal(t, "op-undo-1", got.UndoneBy)

	// Double-marking is rejected.
	assert.Error(t, s.MarkUndone(ctx, "op-1", "op-undo-2", 4))

	// LastUndoable skips the marked record.
	last, err := s.LastUndoable(ctx)
	require.NoError(t, err)
	assert.Equal(t, "op-2", last.ID)
}

func TestLastUndoableEmpty(t *testing.T) {
	s := openTestStore(t)
	_, err := s.LastUndoable(context.Background())
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestHistoryOrderAndLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		rec := sampleRecord("op-"+string(rune('0'+i)), int64(i))
		require.NoError(t, s.AppendOperation(ctx, rec))
	}

	recent, err := s.ReadHistory(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "op-5", recent[0].ID)
	assert.Equal(t, "op-4", recent[1].ID)

	all, err := s.ReadHistory(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestHistoryByPathGlob(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a := sampleRecord("op-a", 1)
	a.Path = "logs/app.log"
	b := sampleRecord("op-b", 2)
	b.Path = "readme.md"
	require.NoError(t, s.AppendOperation(ctx, a))
	require.NoError(t, s.AppendOperation(ctx, b))

	matched, err := s.ReadHistoryByPathGlob(ctx, "logs/*.log")
	require.NoError(t, err)
	require.Len(t, matched, 1)
	assert.Equal(t, "op-a", matched[0].ID)
}

func TestTransactionLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	txn := model.Transaction{
		ID: "tx-1", Name: "batch", State: model.TxActive,
		StartedAt: time.Now().UTC(),
	}
	require.NoError(t, s.BeginTransactionRecord(ctx, txn))

	active, err := s.ActiveTransactionID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tx-1", active)

	// A second begin conflicts while tx-1 is active.
	assert.Error(t, s.BeginTransactionRecord(ctx, model.Transaction{ID: "tx-2", StartedAt: time.Now()}))

	rec := sampleRecord("op-1", 1)
	rec.TransactionID = "tx-1"
	require.NoError(t, s.AppendOperation(ctx, rec))

	require.NoError(t, s.CompleteTransaction(ctx, "tx-1", model.TxCommitted, time.Now()))

	active, err = s.ActiveTransactionID(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	got, err := s.ReadTransaction(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, model.TxCommitted, got.State)
	assert.Equal(t, []string{"op-1"}, got.OperationIDs)
	assert.False(t, got.CompletedAt.IsZero())
}

func TestObliterationLog(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	content := hash.Sum([]byte("secret"))
	ts := time.Date(2025, 4, 2, 8, 30, 0, 0, time.UTC)
	nonce := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	rec := model.ObliterationRecord{
		ID:          "obl-1",
		ContentHash: content,
		Timestamp:   ts,
		Reason:      "subject-42",
		LegalBasis:  "GDPR Article 17",
		Proof: model.ObliterationProof{
			ID:              "proof-1",
			ContentHash:     content,
			Timestamp:       ts,
			Nonce:           nonce,
			Commitment:      hash.Commitment(content, nonce, ts),
			OverwritePasses: 3,
			StorageCleared:  true,
		},
	}
	require.NoError(t, s.AppendObliteration(ctx, rec))

	records, err := s.ReadObliterations(ctx, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	got := records[0]
	assert.Equal(t, content, got.ContentHash)
	assert.Equal(t, "GDPR Article 17", got.LegalBasis)
	assert.True(t, got.Proof.Valid())
	assert.True(t, got.Proof.VerifyCommitment())

	byProof, err := s.ObliterationByProofID(ctx, "proof-1")
	require.NoError(t, err)
	assert.Equal(t, "obl-1", byProof.ID)

	forHash, err := s.ObliterationsForHash(ctx, content)
	require.NoError(t, err)
	assert.Len(t, forHash, 1)
}

func TestBlobIndexTombstone(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	h := hash.Sum([]byte("payload"))

	stored, known, err := s.BlobStored(ctx, h)
	require.NoError(t, err)
	assert.False(t, stored)
	assert.False(t, known, "never-stored hash must be unknown")

	require.NoError(t, s.UpsertBlob(ctx, h, 7))
	stored, known, err = s.BlobStored(ctx, h)
	require.NoError(t, err)
	assert.True(t, stored)
	assert.True(t, known)

	// Dedup: re-upsert does not duplicate.
	require.NoError(t, s.UpsertBlob(ctx, h, 7))
	count, err := s.CountStoredBlobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, s.MarkBlobRemoved(ctx, h))
	stored, known, err = s.BlobStored(ctx, h)
	require.NoError(t, err)
	assert.False(t, stored)
	assert.True(t, known, "tombstone must remain known after removal")

	// Upsert after removal must not resurrect the tombstone.
	require.NoError(t, s.UpsertBlob(ctx, h, 7))
	stored, _, err = s.BlobStored(ctx, h)
	require.NoError(t, err)
	assert.False(t, stored)
}

func TestPruneOperations(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		require.NoError(t, s.AppendOperation(ctx, sampleRecord("op-"+string(rune('0'+i)), int64(i))))
	}
	require.NoError(t, s.MarkUndone(ctx, "op-1", "op-x", 6))

	removed, err := s.PruneOperations(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	count, err := s.CountOperations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	recent, err := s.ReadHistory(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, "op-5", recent[0].ID)
	assert.Equal(t, "op-4", recent[1].ID)
}

func TestReopenPersistence(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "januskey.db")
	ctx := context.Background()

	s, err := Open(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.AppendOperation(ctx, sampleRecord("op-1", 1)))
	require.NoError(t, s.UpsertBlob(ctx, hash.Sum([]byte("x")), 1))
	require.NoError(t, s.SetLastApplied(ctx, "op-1"))
	require.NoError(t, s.Close())

	s2, err := Open(dbPath)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.ReadOperation(ctx, "op-1")
	require.NoError(t, err)
	assert.Equal(t, model.KindDelete, got.Kind)

	last, err := s2.LastApplied(ctx)
	require.NoError(t, err)
	assert.Equal(t, "op-1", last)

	stored, known, err := s2.BlobStored(ctx, hash.Sum([]byte("x")))
	require.NoError(t, err)
	assert.True(t, stored)
	assert.True(t, known)
}
