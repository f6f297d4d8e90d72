package engine

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/hyperpolymath/januskey/internal/model"
)

// Begin starts a transaction. Every operation applied until Commit or
// Rollback is grouped under its id. A second Begin while one is active
// fails with CONFLICT.
func (e *Engine) Begin(ctx context.Context, name string) (model.Transaction, error) {
	if e.invalid {
		return model.Transaction{}, &OpError{Code: ErrCodeInvalidState, Message: "engine is in invalid state; repair required"}
	}
	if e.activeTxID != "" {
		return model.Transaction{}, &OpError{Code: ErrCodeConflict, Message: "transaction already active: " + e.activeTxID}
	}

	txn := model.Transaction{
		ID:        uuid.NewString(),
		Name:      name,
		State:     model.TxActive,
		StartedAt: e.wall.Now(),
	}
	if err := e.st.BeginTransactionRecord(ctx, txn); err != nil {
		return model.Transaction{}, &OpError{Code: ErrCodeConflict, Message: "transaction already active", Err: err}
	}
	e.activeTxID = txn.ID

	e.logger.Info("transaction begun", "id", txn.ID, "name", name)
	return txn, nil
}

// ActiveTransaction returns the active transaction, or ok=false.
func (e *Engine) ActiveTransaction(ctx context.Context) (model.Transaction, bool, error) {
	if e.activeTxID == "" {
		return model.Transaction{}, false, nil
	}
	txn, err := e.st.ReadTransaction(ctx, e.activeTxID)
	if err != nil {
		return model.Transaction{}, false, errIo("", err)
	}
	return txn, true, nil
}

// Commit freezes the active transaction. The grouped operations stay
// applied; commit has no structural effect on the tree.
func (e *Engine) Commit(ctx context.Context) (model.Transaction, error) {
	if e.activeTxID == "" {
		return model.Transaction{}, &OpError{Code: ErrCodeConflict, Message: "no active transaction"}
	}
	id := e.activeTxID

	if err := e.st.CompleteTransaction(ctx, id, model.TxCommitted, e.wall.Now()); err != nil {
		return model.Transaction{}, errIo("", err)
	}
	e.activeTxID = ""

	txn, err := e.st.ReadTransaction(ctx, id)
	if err != nil {
		return model.Transaction{}, errIo("", err)
	}
	e.logger.Info("transaction committed", "id", id, "operations", len(txn.OperationIDs))
	return txn, nil
}

// Rollback undoes every operation of the active transaction in reverse
// application order, then closes it. Inverse operations are recorded in
// history outside any transaction.
func (e *Engine) Rollback(ctx context.Context) (model.Transaction, error) {
	if e.activeTxID == "" {
		return model.Transaction{}, &OpError{Code: ErrCodeConflict, Message: "no active transaction"}
	}
	id := e.activeTxID

	ops, err := e.st.OperationsForTransaction(ctx, id)
	if err != nil {
		return model.Transaction{}, errIo("", err)
	}

	// Inverse records must not join the transaction being rolled back.
	e.activeTxID = ""
	if _, err := e.UndoSequence(ctx, ops); err != nil {
		// Partially rolled back: the transaction stays active so the
		// caller can retry or inspect. Re-arm the pointer.
		e.activeTxID = id
		return model.Transaction{}, err
	}

	if err := e.st.CompleteTransaction(ctx, id, model.TxRolledBack, e.wall.Now()); err != nil {
		return model.Transaction{}, errIo("", err)
	}

	txn, err := e.st.ReadTransaction(ctx, id)
	if err != nil {
		return model.Transaction{}, errIo("", err)
	}
	e.logger.Info("transaction rolled back", "id", id, "operations", len(ops))
	return txn, nil
}

// Preview summarizes the active transaction: its pending operations and
// the distinct paths they touch.
func (e *Engine) Preview(ctx context.Context) (TransactionPreview, error) {
	if e.activeTxID == "" {
		return TransactionPreview{}, &OpError{Code: ErrCodeConflict, Message: "no active transaction"}
	}

	txn, err := e.st.ReadTransaction(ctx, e.activeTxID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return TransactionPreview{}, &OpError{Code: ErrCodeInvalidState, Message: "active transaction record missing"}
		}
		return TransactionPreview{}, errIo("", err)
	}

	ops, err := e.st.OperationsForTransaction(ctx, e.activeTxID)
	if err != nil {
		return TransactionPreview{}, errIo("", err)
	}

	preview := TransactionPreview{
		TransactionID:   txn.ID,
		TransactionName: txn.Name,
	}
	seen := map[string]bool{}
	for _, op := range ops {
		preview.Operations = append(preview.Operations, OperationPreview{
			Kind:          op.Kind,
			Path:          op.Path,
			SecondaryPath: op.SecondaryPath,
		})
		seen[op.Path] = true
		if op.SecondaryPath != "" {
			seen[op.SecondaryPath] = true
		}
	}
	preview.FilesAffected = len(seen)
	return preview, nil
}

// TransactionPreview summarizes pending transaction work.
type TransactionPreview struct {
	TransactionID   string             `json:"transaction_id"`
	TransactionName string             `json:"transaction_name,omitempty"`
	Operations      []OperationPreview `json:"operations"`
	FilesAffected   int                `json:"files_affected"`
}

// OperationPreview is one pending operation in a preview.
type OperationPreview struct {
	Kind          model.Kind `json:"kind"`
	Path          string     `json:"path"`
	SecondaryPath string     `json:"secondary_path,omitempty"`
}
