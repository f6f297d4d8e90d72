package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hyperpolymath/januskey/internal/hash"
	"github.com/hyperpolymath/januskey/internal/model"
)

// AppendOperation inserts an operation record into the history.
// Uses ON CONFLICT(id) DO NOTHING for idempotency - duplicate IDs are
// silently ignored. History rows are never rewritten after insertion.
func (s *Store) AppendOperation(ctx context.Context, rec model.OperationRecord) error {
	metaJSON, err := marshalFileMetadata(rec.PreMetadata)
	if err != nil {
		return fmt.Errorf("append operation: %w", err)
	}

	var preSize sql.NullInt64
	if rec.HasPreSize {
		preSize = sql.NullInt64{Int64: rec.PreSize, Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO operations
		(id, kind, seq, timestamp, path, secondary_path, pre_hash, post_hash, pre_metadata, pre_size, is_delta, transaction_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		rec.ID,
		string(rec.Kind),
		rec.Seq,
		rec.Timestamp.UTC().UnixNano(),
		rec.Path,
		rec.SecondaryPath,
		digestColumn(rec.PreHash),
		digestColumn(rec.PostHash),
		metaJSON,
		preSize,
		boolColumn(rec.IsDelta),
		rec.TransactionID,
	)
	if err != nil {
		return fmt.Errorf("append operation: %w", err)
	}

	return nil
}

// MarkUndone records that an operation was undone by appending an undo mark
// referencing the original id. The original row is untouched; reads join
// against undo_marks to compute the undone flag. A second mark for the same
// operation is rejected by the UNIQUE constraint and reported as an error.
func (s *Store) MarkUndone(ctx context.Context, operationID, undoneBy string, seq int64) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO undo_marks (operation_id, undone_by, seq)
		VALUES (?, ?, ?)
		ON CONFLICT(operation_id) DO NOTHING
	`, operationID, undoneBy, seq)
	if err != nil {
		return fmt.Errorf("mark undone: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark undone: rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("mark undone: operation %s already marked", operationID)
	}
	return nil
}

// BeginTransactionRecord persists a new active transaction and points the
// state row at it. Fails if another transaction is already active.
func (s *Store) BeginTransactionRecord(ctx context.Context, txn model.Transaction) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction record: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	var active string
	err = tx.QueryRowContext(ctx, `SELECT value FROM state WHERE key = 'active_transaction'`).Scan(&active)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("begin transaction record: read active: %w", err)
	}
	if active != "" {
		return fmt.Errorf("begin transaction record: transaction %s already active", active)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO transactions (id, name, state, started_at)
		VALUES (?, ?, ?, ?)
	`, txn.ID, txn.Name, string(model.TxActive), txn.StartedAt.UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("begin transaction record: insert: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO state (key, value) VALUES ('active_transaction', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, txn.ID)
	if err != nil {
		return fmt.Errorf("begin transaction record: set pointer: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("begin transaction record: commit: %w", err)
	}
	return nil
}

// CompleteTransaction transitions the active transaction to its terminal
// state (COMMITTED or ROLLED_BACK) and clears the active pointer.
func (s *Store) CompleteTransaction(ctx context.Context, id string, state model.TransactionState, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("complete transaction: begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		UPDATE transactions SET state = ?, completed_at = ? WHERE id = ?
	`, string(state), at.UTC().UnixNano(), id)
	if err != nil {
		return fmt.Errorf("complete transaction: update: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO state (key, value) VALUES ('active_transaction', '')
		ON CONFLICT(key) DO UPDATE SET value = ''
	`)
	if err != nil {
		return fmt.Errorf("complete transaction: clear pointer: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("complete transaction: commit: %w", err)
	}
	return nil
}

// AppendObliteration inserts a record into the obliteration audit log.
// The log is append-only: records are never updated or deleted.
func (s *Store) AppendObliteration(ctx context.Context, rec model.ObliterationRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO obliterations
		(id, content_hash, timestamp, reason, legal_basis,
		 proof_id, proof_timestamp, proof_nonce, proof_commitment, proof_passes, proof_cleared)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID,
		rec.ContentHash.String(),
		rec.Timestamp.UTC().UnixNano(),
		rec.Reason,
		rec.LegalBasis,
		rec.Proof.ID,
		rec.Proof.Timestamp.UTC().UnixNano(),
		rec.Proof.Nonce,
		rec.Proof.Commitment.String(),
		rec.Proof.OverwritePasses,
		boolColumn(rec.Proof.StorageCleared),
	)
	if err != nil {
		return fmt.Errorf("append obliteration: %w", err)
	}
	return nil
}

// UpsertBlob records a stored payload in the blob index. Re-storing a hash
// that is already present is a no-op (deduplication); re-storing a
// tombstoned hash is rejected by the caller before reaching here, and the
// ON CONFLICT clause never resurrects a tombstone.
func (s *Store) UpsertBlob(ctx context.Context, h hash.Digest, size int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO blobs (hash, size, stored) VALUES (?, ?, 1)
		ON CONFLICT(hash) DO NOTHING
	`, h.String(), size)
	if err != nil {
		return fmt.Errorf("upsert blob: %w", err)
	}
	return nil
}

// MarkBlobRemoved flips the stored flag to 0, leaving the tombstone row.
// The flip is monotonic: there is no path that sets stored back to 1.
func (s *Store) MarkBlobRemoved(ctx context.Context, h hash.Digest) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE blobs SET stored = 0 WHERE hash = ?
	`, h.String())
	if err != nil {
		return fmt.Errorf("mark blob removed: %w", err)
	}
	return nil
}

// SetLastApplied updates the last-applied operation pointer.
func (s *Store) SetLastApplied(ctx context.Context, operationID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO state (key, value) VALUES ('last_applied', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, operationID)
	if err != nil {
		return fmt.Errorf("set last applied: %w", err)
	}
	return nil
}

// PruneOperations deletes the oldest history rows beyond keep, along with
// their undo marks. Returns the number of operations removed. This is the
// one sanctioned deletion path into history (explicit gc).
func (s *Store) PruneOperations(ctx context.Context, keep int) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("prune operations: begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		DELETE FROM undo_marks WHERE operation_id IN (
			SELECT id FROM operations ORDER BY seq DESC LIMIT -1 OFFSET ?
		)
	`, keep)
	if err != nil {
		return 0, fmt.Errorf("prune operations: delete marks: %w", err)
	}
	_ = res

	res, err = tx.ExecContext(ctx, `
		DELETE FROM operations WHERE id IN (
			SELECT id FROM operations ORDER BY seq DESC LIMIT -1 OFFSET ?
		)
	`, keep)
	if err != nil {
		return 0, fmt.Errorf("prune operations: delete: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune operations: rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("prune operations: commit: %w", err)
	}
	return int(removed), nil
}

// digestColumn renders a digest for storage; the zero digest becomes the
// empty string (field absent).
func digestColumn(d hash.Digest) string {
	if d.IsZero() {
		return ""
	}
	return d.String()
}

func boolColumn(b bool) int {
	if b {
		return 1
	}
	return 0
}
