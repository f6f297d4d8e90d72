// Package model holds the shared record types of the JanusKey core: file
// metadata, operation history records, transactions, and obliteration
// records. The store persists these, the engine produces and consumes them.
package model

import (
	"time"

	"github.com/hyperpolymath/januskey/internal/hash"
)

// Kind identifies an operation kind.
type Kind string

const (
	KindCreate   Kind = "CREATE"
	KindDelete   Kind = "DELETE"
	KindModify   Kind = "MODIFY"
	KindMove     Kind = "MOVE"
	KindCopy     Kind = "COPY"
	KindChmod    Kind = "CHMOD"
	KindMkdir    Kind = "MKDIR"
	KindRmdir    Kind = "RMDIR"
	KindSymlink  Kind = "SYMLINK"
	KindAppend   Kind = "APPEND"
	KindTruncate Kind = "TRUNCATE"
	KindTouch    Kind = "TOUCH"
)

// Kinds lists every operation kind in a stable order.
var Kinds = []Kind{
	KindCreate, KindDelete, KindModify, KindMove, KindCopy, KindChmod,
	KindMkdir, KindRmdir, KindSymlink, KindAppend, KindTruncate, KindTouch,
}

// Valid reports whether k is a known operation kind.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// FileMetadata captures the posix-level attributes of a file entry at a
// point in time. It is recorded as the pre-image for operations whose undo
// must restore attributes, not just content.
type FileMetadata struct {
	Mode          uint32    `json:"mode"`
	UID           int       `json:"uid"`
	GID           int       `json:"gid"`
	Size          int64     `json:"size"`
	ModTime       time.Time `json:"mod_time"`
	IsSymlink     bool      `json:"is_symlink"`
	SymlinkTarget string    `json:"symlink_target,omitempty"`
	IsDir         bool      `json:"is_dir,omitempty"`
}

// OperationRecord is the metadata record appended to history for every
// applied operation. Per-kind field requirements (the sufficiency table):
//
//	CREATE            PostHash
//	DELETE            PreHash, PreMetadata
//	MODIFY            PreHash, PostHash, PreMetadata
//	MOVE, COPY        SecondaryPath
//	CHMOD, TOUCH      PreMetadata
//	APPEND            PreSize
//	TRUNCATE          PreHash, PreSize
//	MKDIR, RMDIR,     none beyond the base fields
//	SYMLINK           (recursive RMDIR additionally carries PreHash: the
//	                  digest of its content manifest)
type OperationRecord struct {
	ID            string        `json:"id"`
	Kind          Kind          `json:"kind"`
	Seq           int64         `json:"seq"`
	Timestamp     time.Time     `json:"timestamp"`
	Path          string        `json:"path"`
	SecondaryPath string        `json:"secondary_path,omitempty"`
	PreHash       hash.Digest   `json:"pre_hash,omitempty"`
	PostHash      hash.Digest   `json:"post_hash,omitempty"`
	PreMetadata   *FileMetadata `json:"pre_metadata,omitempty"`
	PreSize       int64         `json:"pre_size,omitempty"`
	HasPreSize    bool          `json:"has_pre_size,omitempty"`
	IsDelta       bool          `json:"is_delta,omitempty"`
	TransactionID string        `json:"transaction_id,omitempty"`
	Undone        bool          `json:"undone"`
	UndoneBy      string        `json:"undone_by,omitempty"`
}

// Sufficient reports whether the record carries every field its kind
// requires for undo.
func (r OperationRecord) Sufficient() bool {
	switch r.Kind {
	case KindCreate:
		return !r.PostHash.IsZero()
	case KindDelete:
		return !r.PreHash.IsZero() && r.PreMetadata != nil
	case KindModify:
		return !r.PreHash.IsZero() && !r.PostHash.IsZero() && r.PreMetadata != nil
	case KindMove, KindCopy:
		return r.SecondaryPath != ""
	case KindChmod, KindTouch:
		return r.PreMetadata != nil
	case KindAppend:
		return r.HasPreSize
	case KindTruncate:
		return !r.PreHash.IsZero() && r.HasPreSize
	case KindMkdir, KindRmdir, KindSymlink:
		return true
	default:
		return false
	}
}

// RequiredHashes returns the content digests undo of this record depends
// on. An empty result means the inverse is derivable from metadata alone.
func (r OperationRecord) RequiredHashes() []hash.Digest {
	var hs []hash.Digest
	switch r.Kind {
	case KindDelete, KindModify, KindTruncate:
		if !r.PreHash.IsZero() {
			hs = append(hs, r.PreHash)
		}
	case KindRmdir:
		// Recursive rmdir stores a manifest under PreHash.
		if !r.PreHash.IsZero() {
			hs = append(hs, r.PreHash)
		}
	}
	return hs
}

// Independent reports whether two operations touch disjoint path sets.
// Independent operations commute under undo.
func Independent(a, b OperationRecord) bool {
	paths := func(r OperationRecord) []string {
		ps := []string{r.Path}
		if r.SecondaryPath != "" {
			ps = append(ps, r.SecondaryPath)
		}
		return ps
	}
	for _, pa := range paths(a) {
		for _, pb := range paths(b) {
			if pa == pb {
				return false
			}
		}
	}
	return true
}

// TransactionState is the lifecycle state of a transaction.
type TransactionState string

const (
	TxActive     TransactionState = "ACTIVE"
	TxCommitted  TransactionState = "COMMITTED"
	TxRolledBack TransactionState = "ROLLED_BACK"
)

// Transaction groups a contiguous sub-sequence of history under one id.
type Transaction struct {
	ID          string           `json:"id"`
	Name        string           `json:"name,omitempty"`
	State       TransactionState `json:"state"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt time.Time        `json:"completed_at,omitempty"`
	OperationIDs []string        `json:"operation_ids"`
}

// ObliterationProof attests that content was securely erased. A proof is
// valid iff the storage-cleared flag is set, at least three overwrite
// passes ran, and the commitment binds (content hash, nonce, timestamp).
type ObliterationProof struct {
	ID              string      `json:"id"`
	ContentHash     hash.Digest `json:"content_hash"`
	Timestamp       time.Time   `json:"timestamp"`
	Nonce           []byte      `json:"nonce"`
	Commitment      hash.Digest `json:"commitment"`
	OverwritePasses int         `json:"overwrite_passes"`
	StorageCleared  bool        `json:"storage_cleared"`
}

// MinOverwritePasses is the floor for secure overwrite, per DoD 5220.22-M.
const MinOverwritePasses = 3

// Valid reports whether the proof satisfies the validity predicate.
// Commitment binding is checked separately by VerifyCommitment since it
// needs the hash primitive.
func (p ObliterationProof) Valid() bool {
	return p.StorageCleared && p.OverwritePasses >= MinOverwritePasses
}

// VerifyCommitment recomputes the commitment from the proof's bound fields.
func (p ObliterationProof) VerifyCommitment() bool {
	return hash.Commitment(p.ContentHash, p.Nonce, p.Timestamp) == p.Commitment
}

// ObliterationRecord is one entry in the append-only obliteration audit
// log. Records are never rewritten after append.
type ObliterationRecord struct {
	ID          string            `json:"id"`
	ContentHash hash.Digest       `json:"content_hash"`
	Timestamp   time.Time         `json:"timestamp"`
	Reason      string            `json:"reason,omitempty"`
	LegalBasis  string            `json:"legal_basis,omitempty"`
	Proof       ObliterationProof `json:"proof"`
}

// ErasureRequest is a GDPR Article 17 erasure request routed through the
// obliteration subsystem.
type ErasureRequest struct {
	SubjectID   string      `json:"subject_id"`
	ContentHash hash.Digest `json:"content_hash"`
	LegalBasis  string      `json:"legal_basis"`
	RequestTime time.Time   `json:"request_time"`
}
