package store

import (
	"context"
	"database/sql"
	"fmt"
	"path"
	"time"

	"github.com/hyperpolymath/januskey/internal/hash"
	"github.com/hyperpolymath/januskey/internal/model"
)

// operationColumns is the select list shared by every operation query.
// The LEFT JOIN against undo_marks computes the undone flag without ever
// rewriting the original row.
const operationColumns = `
	o.id, o.kind, o.seq, o.timestamp, o.path, o.secondary_path,
	o.pre_hash, o.post_hash, o.pre_metadata, o.pre_size, o.is_delta,
	o.transaction_id, um.undone_by
`

// ReadOperation retrieves a single operation record by id.
// Returns sql.ErrNoRows if not found.
func (s *Store) ReadOperation(ctx context.Context, id string) (model.OperationRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+operationColumns+`
		FROM operations o
		LEFT JOIN undo_marks um ON um.operation_id = o.id
		WHERE o.id = ?
	`, id)
	return scanOperationRow(row)
}

// ReadHistory returns up to limit most recent operations in reverse apply
// order (newest first). A zero limit returns the full history.
func (s *Store) ReadHistory(ctx context.Context, limit int) ([]model.OperationRecord, error) {
	q := `
		SELECT ` + operationColumns + `
		FROM operations o
		LEFT JOIN undo_marks um ON um.operation_id = o.id
		ORDER BY o.seq DESC
	`
	var rows *sql.Rows
	var err error
	if limit > 0 {
		rows, err = s.db.QueryContext(ctx, q+` LIMIT ?`, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, q)
	}
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	return collectOperations(rows)
}

// ReadHistoryByKind returns operations of one kind, newest first.
func (s *Store) ReadHistoryByKind(ctx context.Context, kind model.Kind) ([]model.OperationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+operationColumns+`
		FROM operations o
		LEFT JOIN undo_marks um ON um.operation_id = o.id
		WHERE o.kind = ?
		ORDER BY o.seq DESC
	`, string(kind))
	if err != nil {
		return nil, fmt.Errorf("query history by kind: %w", err)
	}
	defer rows.Close()

	return collectOperations(rows)
}

// ReadHistoryByPathGlob returns operations whose primary path matches the
// glob pattern, newest first. Matching runs in Go since SQLite GLOB
// semantics differ from path.Match.
func (s *Store) ReadHistoryByPathGlob(ctx context.Context, pattern string) ([]model.OperationRecord, error) {
	all, err := s.ReadHistory(ctx, 0)
	if err != nil {
		return nil, err
	}
	matched := []model.OperationRecord{}
	for _, rec := range all {
		ok, err := path.Match(pattern, rec.Path)
		if err != nil {
			return nil, fmt.Errorf("history glob %q: %w", pattern, err)
		}
		if ok {
			matched = append(matched, rec)
		}
	}
	return matched, nil
}

// LastUndoable returns the most recent operation not yet marked undone.
// Returns sql.ErrNoRows when nothing is undoable.
func (s *Store) LastUndoable(ctx context.Context) (model.OperationRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT ` + operationColumns + `
		FROM operations o
		LEFT JOIN undo_marks um ON um.operation_id = o.id
		WHERE um.id IS NULL
		ORDER BY o.seq DESC
		LIMIT 1
	`)
	return scanOperationRow(row)
}

// OperationsForTransaction returns a transaction's operations in apply
// order (oldest first) — the order rollback reverses.
func (s *Store) OperationsForTransaction(ctx context.Context, transactionID string) ([]model.OperationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+operationColumns+`
		FROM operations o
		LEFT JOIN undo_marks um ON um.operation_id = o.id
		WHERE o.transaction_id = ?
		ORDER BY o.seq ASC
	`, transactionID)
	if err != nil {
		return nil, fmt.Errorf("query transaction operations: %w", err)
	}
	defer rows.Close()

	return collectOperations(rows)
}

// CountOperations returns the history length.
func (s *Store) CountOperations(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM operations`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count operations: %w", err)
	}
	return count, nil
}

// ActiveTransactionID returns the id of the active transaction, or ""
// when none is active.
func (s *Store) ActiveTransactionID(ctx context.Context) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM state WHERE key = 'active_transaction'`).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read active transaction: %w", err)
	}
	return id, nil
}

// LastApplied returns the id of the last applied operation, or "".
func (s *Store) LastApplied(ctx context.Context) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM state WHERE key = 'last_applied'`).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read last applied: %w", err)
	}
	return id, nil
}

// ReadTransaction retrieves a transaction with its operation ids.
// Returns sql.ErrNoRows if not found.
func (s *Store) ReadTransaction(ctx context.Context, id string) (model.Transaction, error) {
	var txn model.Transaction
	var state string
	var startedAt int64
	var completedAt sql.NullInt64

	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, state, started_at, completed_at
		FROM transactions
		WHERE id = ?
	`, id).Scan(&txn.ID, &txn.Name, &state, &startedAt, &completedAt)
	if err != nil {
		return model.Transaction{}, err
	}

	txn.State = model.TransactionState(state)
	txn.StartedAt = time.Unix(0, startedAt).UTC()
	if completedAt.Valid {
		txn.CompletedAt = time.Unix(0, completedAt.Int64).UTC()
	}

	ops, err := s.OperationsForTransaction(ctx, id)
	if err != nil {
		return model.Transaction{}, err
	}
	for _, op := range ops {
		txn.OperationIDs = append(txn.OperationIDs, op.ID)
	}
	return txn, nil
}

// ReadObliterations returns up to limit most recent audit records, newest
// first. A zero limit returns the full log.
func (s *Store) ReadObliterations(ctx context.Context, limit int) ([]model.ObliterationRecord, error) {
	q := `
		SELECT id, content_hash, timestamp, reason, legal_basis,
		       proof_id, proof_timestamp, proof_nonce, proof_commitment, proof_passes, proof_cleared
		FROM obliterations
		ORDER BY timestamp DESC, id DESC
	`
	var rows *sql.Rows
	var err error
	if limit > 0 {
		rows, err = s.db.QueryContext(ctx, q+` LIMIT ?`, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, q)
	}
	if err != nil {
		return nil, fmt.Errorf("query obliterations: %w", err)
	}
	defer rows.Close()

	records := []model.ObliterationRecord{}
	for rows.Next() {
		rec, err := scanObliteration(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate obliterations: %w", err)
	}
	return records, nil
}

// ObliterationsForHash returns all audit records for a content hash.
func (s *Store) ObliterationsForHash(ctx context.Context, h hash.Digest) ([]model.ObliterationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, content_hash, timestamp, reason, legal_basis,
		       proof_id, proof_timestamp, proof_nonce, proof_commitment, proof_passes, proof_cleared
		FROM obliterations
		WHERE content_hash = ?
		ORDER BY timestamp ASC, id ASC
	`, h.String())
	if err != nil {
		return nil, fmt.Errorf("query obliterations for hash: %w", err)
	}
	defer rows.Close()

	records := []model.ObliterationRecord{}
	for rows.Next() {
		rec, err := scanObliteration(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate obliterations: %w", err)
	}
	return records, nil
}

// ObliterationByProofID retrieves the audit record carrying a proof id.
// Returns sql.ErrNoRows if not found.
func (s *Store) ObliterationByProofID(ctx context.Context, proofID string) (model.ObliterationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, content_hash, timestamp, reason, legal_basis,
		       proof_id, proof_timestamp, proof_nonce, proof_commitment, proof_passes, proof_cleared
		FROM obliterations
		WHERE proof_id = ?
		LIMIT 1
	`, proofID)
	if err != nil {
		return model.ObliterationRecord{}, fmt.Errorf("query obliteration by proof: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return model.ObliterationRecord{}, err
		}
		return model.ObliterationRecord{}, sql.ErrNoRows
	}
	return scanObliteration(rows)
}

// BlobStored reports the index state for a hash: stored is true while the
// payload is present; known is true for any indexed hash, including
// tombstones. (known && !stored) means obliterated, !known means never
// stored.
func (s *Store) BlobStored(ctx context.Context, h hash.Digest) (stored, known bool, err error) {
	var flag int
	err = s.db.QueryRowContext(ctx, `SELECT stored FROM blobs WHERE hash = ?`, h.String()).Scan(&flag)
	if err == sql.ErrNoRows {
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("read blob index: %w", err)
	}
	return flag == 1, true, nil
}

// CountStoredBlobs returns the number of payloads currently stored
// (tombstones excluded).
func (s *Store) CountStoredBlobs(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM blobs WHERE stored = 1`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count stored blobs: %w", err)
	}
	return count, nil
}

type operationScanner interface {
	Scan(dest ...any) error
}

func collectOperations(rows *sql.Rows) ([]model.OperationRecord, error) {
	records := []model.OperationRecord{}
	for rows.Next() {
		rec, err := scanOperationRow(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate operations: %w", err)
	}
	return records, nil
}

func scanOperationRow(row operationScanner) (model.OperationRecord, error) {
	var rec model.OperationRecord
	var kind, preHash, postHash, metaJSON string
	var ts int64
	var preSize sql.NullInt64
	var isDelta int
	var undoneBy sql.NullString

	if err := row.Scan(
		&rec.ID, &kind, &rec.Seq, &ts, &rec.Path, &rec.SecondaryPath,
		&preHash, &postHash, &metaJSON, &preSize, &isDelta,
		&rec.TransactionID, &undoneBy,
	); err != nil {
		return model.OperationRecord{}, err
	}

	rec.Kind = model.Kind(kind)
	rec.Timestamp = time.Unix(0, ts).UTC()
	rec.IsDelta = isDelta == 1
	if preSize.Valid {
		rec.PreSize = preSize.Int64
		rec.HasPreSize = true
	}
	if undoneBy.Valid {
		rec.Undone = true
		rec.UndoneBy = undoneBy.String
	}

	var err error
	if preHash != "" {
		if rec.PreHash, err = hash.Parse(preHash); err != nil {
			return model.OperationRecord{}, fmt.Errorf("scan operation %s: %w", rec.ID, err)
		}
	}
	if postHash != "" {
		if rec.PostHash, err = hash.Parse(postHash); err != nil {
			return model.OperationRecord{}, fmt.Errorf("scan operation %s: %w", rec.ID, err)
		}
	}
	if rec.PreMetadata, err = unmarshalFileMetadata(metaJSON); err != nil {
		return model.OperationRecord{}, fmt.Errorf("scan operation %s: %w", rec.ID, err)
	}

	return rec, nil
}

func scanObliteration(rows *sql.Rows) (model.ObliterationRecord, error) {
	var rec model.ObliterationRecord
	var contentHash, proofCommitment string
	var ts, proofTS int64
	var cleared int

	if err := rows.Scan(
		&rec.ID, &contentHash, &ts, &rec.Reason, &rec.LegalBasis,
		&rec.Proof.ID, &proofTS, &rec.Proof.Nonce, &proofCommitment,
		&rec.Proof.OverwritePasses, &cleared,
	); err != nil {
		return model.ObliterationRecord{}, fmt.Errorf("scan obliteration: %w", err)
	}

	var err error
	if rec.ContentHash, err = hash.Parse(contentHash); err != nil {
		return model.ObliterationRecord{}, fmt.Errorf("scan obliteration %s: %w", rec.ID, err)
	}
	if rec.Proof.Commitment, err = hash.Parse(proofCommitment); err != nil {
		return model.ObliterationRecord{}, fmt.Errorf("scan obliteration %s: %w", rec.ID, err)
	}
	rec.Timestamp = time.Unix(0, ts).UTC()
	rec.Proof.Timestamp = time.Unix(0, proofTS).UTC()
	rec.Proof.ContentHash = rec.ContentHash
	rec.Proof.StorageCleared = cleared == 1

	return rec, nil
}
