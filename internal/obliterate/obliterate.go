// Package obliterate implements the RMO primitive: irrecoverable content
// erasure with a cryptographic proof and an append-only audit log.
//
// Obliteration reaches past the reversible layer: it removes content from
// the blob store directly and is not an operation in the history sense.
// Once a digest is obliterated, any undo that depends on it fails with
// CONTENT_UNAVAILABLE for the rest of the process lifetime.
package obliterate

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/hyperpolymath/januskey/internal/blob"
	"github.com/hyperpolymath/januskey/internal/engine"
	"github.com/hyperpolymath/januskey/internal/hash"
	"github.com/hyperpolymath/januskey/internal/model"
	"github.com/hyperpolymath/januskey/internal/store"
)

// nonceSize is the proof nonce width in bytes.
const nonceSize = 32

// Manager performs and records obliterations. It is the exclusive writer
// of the audit log.
type Manager struct {
	blobs    *blob.Store
	st       *store.Store
	wall     engine.WallClock
	logger   *slog.Logger
	minPasses int
}

// Option configures a Manager.
type Option func(*Manager)

// WithMinPasses raises the overwrite pass floor. Values below the DoD
// 5220.22-M minimum of 3 are ignored.
func WithMinPasses(n int) Option {
	return func(m *Manager) {
		if n > m.minPasses {
			m.minPasses = n
		}
	}
}

// WithLogger sets the manager logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithWallClock overrides the proof timestamp source.
func WithWallClock(w engine.WallClock) Option {
	return func(m *Manager) { m.wall = w }
}

// New creates an obliteration manager over the blob store and audit log.
func New(blobs *blob.Store, st *store.Store, opts ...Option) *Manager {
	m := &Manager{
		blobs:     blobs,
		st:        st,
		wall:      engine.NewSystemWallClock(),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		minPasses: model.MinOverwritePasses,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Obliterate securely erases the content stored under h, emits a proof,
// and appends an audit record. Fails with NOT_FOUND if h is not currently
// stored. Non-cancellable once the overwrite begins: the context is not
// consulted after the first pass starts.
//
// Post-conditions on success: the store no longer holds h, retrieval of h
// yields nothing, and the audit log carries a record whose proof is valid
// and whose commitment verifies.
func (m *Manager) Obliterate(ctx context.Context, h hash.Digest, reason, legalBasis string) (model.ObliterationRecord, error) {
	exists, err := m.blobs.Exists(ctx, h)
	if err != nil {
		return model.ObliterationRecord{}, &engine.OpError{Code: engine.ErrCodeIoFailure, Message: "store query failed", Path: h.String(), Err: err}
	}
	if !exists {
		return model.ObliterationRecord{}, &engine.OpError{Code: engine.ErrCodeNotFound, Message: "content hash not present in store", Path: h.String()}
	}
	if err := ctx.Err(); err != nil {
		return model.ObliterationRecord{}, err
	}
	ctx = context.WithoutCancel(ctx)

	passes, err := m.blobs.RemoveSecure(ctx, h, m.minPasses)
	if err != nil {
		return model.ObliterationRecord{}, &engine.OpError{Code: engine.ErrCodeIoFailure, Message: "secure removal failed", Path: h.String(), Err: err}
	}

	proof, err := m.buildProof(h, passes)
	if err != nil {
		return model.ObliterationRecord{}, err
	}

	rec := model.ObliterationRecord{
		ID:          uuid.NewString(),
		ContentHash: h,
		Timestamp:   proof.Timestamp,
		Reason:      reason,
		LegalBasis:  legalBasis,
		Proof:       proof,
	}
	if err := m.st.AppendObliteration(ctx, rec); err != nil {
		return model.ObliterationRecord{}, &engine.OpError{Code: engine.ErrCodeIoFailure, Message: "audit append failed", Path: h.String(), Err: err}
	}

	m.logger.Info("content obliterated",
		"content_hash", h.String(),
		"passes", passes,
		"legal_basis", legalBasis,
	)
	return rec, nil
}

// buildProof constructs the obliteration proof binding (hash, nonce,
// timestamp) under the commitment.
func (m *Manager) buildProof(h hash.Digest, passes int) (model.ObliterationProof, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return model.ObliterationProof{}, &engine.OpError{Code: engine.ErrCodeIoFailure, Message: "nonce generation failed", Err: err}
	}
	ts := m.wall.Now()

	return model.ObliterationProof{
		ID:              uuid.NewString(),
		ContentHash:     h,
		Timestamp:       ts,
		Nonce:           nonce,
		Commitment:      hash.Commitment(h, nonce, ts),
		OverwritePasses: passes,
		StorageCleared:  true,
	}, nil
}

// BatchResult summarizes a best-effort batch obliteration.
type BatchResult struct {
	SuccessCount int
	AllSucceeded bool
	Records      []model.ObliterationRecord
	Skipped      []hash.Digest
	Failed       []hash.Digest
}

// ObliterateBatch processes hashes best-effort. Hashes already obliterated
// or never stored are skipped, failures are collected, and completed
// sub-obliterations are never rolled back.
func (m *Manager) ObliterateBatch(ctx context.Context, hashes []hash.Digest, reason, legalBasis string) BatchResult {
	result := BatchResult{AllSucceeded: true}
	for _, h := range hashes {
		exists, err := m.blobs.Exists(ctx, h)
		if err != nil {
			result.Failed = append(result.Failed, h)
			result.AllSucceeded = false
			continue
		}
		if !exists {
			result.Skipped = append(result.Skipped, h)
			continue
		}
		rec, err := m.Obliterate(ctx, h, reason, legalBasis)
		if err != nil {
			result.Failed = append(result.Failed, h)
			result.AllSucceeded = false
			continue
		}
		result.Records = append(result.Records, rec)
		result.SuccessCount++
	}
	return result
}

// ProcessErasureRequest handles a GDPR Article 17 erasure request by
// delegating to Obliterate with the subject id as the reason. The response
// carries the proof.
func (m *Manager) ProcessErasureRequest(ctx context.Context, req model.ErasureRequest) (model.ObliterationRecord, error) {
	rec, err := m.Obliterate(ctx, req.ContentHash, req.SubjectID, req.LegalBasis)
	if err != nil {
		return model.ObliterationRecord{}, fmt.Errorf("erasure request for subject %s: %w", req.SubjectID, err)
	}
	return rec, nil
}

// Satisfied evaluates the Article 17 satisfaction predicate for a request:
// the content is absent from the store, the audit log carries a matching
// record, and that record's proof is valid and verifies.
func (m *Manager) Satisfied(ctx context.Context, req model.ErasureRequest) (bool, error) {
	exists, err := m.blobs.Exists(ctx, req.ContentHash)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	records, err := m.st.ObliterationsForHash(ctx, req.ContentHash)
	if err != nil {
		return false, err
	}
	for _, rec := range records {
		if rec.Reason == req.SubjectID && rec.LegalBasis == req.LegalBasis &&
			rec.Proof.Valid() && rec.Proof.VerifyCommitment() {
			return true, nil
		}
	}
	return false, nil
}

// VerifyProof re-checks the proof recorded under proofID.
func (m *Manager) VerifyProof(ctx context.Context, proofID string) (bool, error) {
	rec, err := m.st.ObliterationByProofID(ctx, proofID)
	if err != nil {
		return false, &engine.OpError{Code: engine.ErrCodeNotFound, Message: "no audit record with proof id", Path: proofID}
	}
	return rec.Proof.Valid() && rec.Proof.VerifyCommitment(), nil
}

// History returns up to limit most recent audit records, newest first.
func (m *Manager) History(ctx context.Context, limit int) ([]model.ObliterationRecord, error) {
	return m.st.ReadObliterations(ctx, limit)
}
