package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/hyperpolymath/januskey/internal/hash"
)

func TestKindValid(t *testing.T) {
	for _, k := range Kinds {
		assert.True(t, k.Valid())
	}
	assert.False(t, Kind("CHOWN").Valid())
	assert.False(t, Kind("").Valid())
}

func TestSufficiencyTable(t *testing.T) {
	h := hash.Sum([]byte("x"))
	meta := &FileMetadata{Mode: 0o644}

	tests := []struct {
		name string
		rec  OperationRecord
		want bool
	}{
		{"create with post hash", OperationRecord{Kind: KindCreate, PostHash: h}, true},
		{"create missing post hash", OperationRecord{Kind: KindCreate}, false},
		{"delete complete", OperationRecord{Kind: KindDelete, PreHash: h, PreMetadata: meta}, true},
		{"delete missing metadata", OperationRecord{Kind: KindDelete, PreHash: h}, false},
		{"modify complete", OperationRecord{Kind: KindModify, PreHash: h, PostHash: h, PreMetadata: meta}, true},
		{"modify missing pre hash", OperationRecord{Kind: KindModify, PostHash: h, PreMetadata: meta}, false},
		{"move with secondary", OperationRecord{Kind: KindMove, SecondaryPath: "dst"}, true},
		{"move missing secondary", OperationRecord{Kind: KindMove}, false},
		{"copy with secondary", OperationRecord{Kind: KindCopy, SecondaryPath: "dst"}, true},
		{"chmod with metadata", OperationRecord{Kind: KindChmod, PreMetadata: meta}, true},
		{"touch missing metadata", OperationRecord{Kind: KindTouch}, false},
		{"append with pre size", OperationRecord{Kind: KindAppend, HasPreSize: true}, true},
		{"append zero pre size still present", OperationRecord{Kind: KindAppend, PreSize: 0, HasPreSize: true}, true},
		{"append missing pre size", OperationRecord{Kind: KindAppend}, false},
		{"truncate complete", OperationRecord{Kind: KindTruncate, PreHash: h, HasPreSize: true}, true},
		{"truncate missing hash", OperationRecord{Kind: KindTruncate, HasPreSize: true}, false},
		{"mkdir base fields only", OperationRecord{Kind: KindMkdir}, true},
		{"rmdir base fields only", OperationRecord{Kind: KindRmdir}, true},
		{"symlink base fields only", OperationRecord{Kind: KindSymlink}, true},
		{"unknown kind", OperationRecord{Kind: Kind("BOGUS")}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.rec.Sufficient())
		})
	}
}

func TestRequiredHashes(t *testing.T) {
	h := hash.Sum([]byte("pre"))

	rec := OperationRecord{Kind: KindDelete, PreHash: h}
	assert.Equal(t, []hash.Digest{h}, rec.RequiredHashes())

	rec = OperationRecord{Kind: KindMove, SecondaryPath: "y"}
	assert.Empty(t, rec.RequiredHashes(), "move derives its inverse from metadata alone")

	rec = OperationRecord{Kind: KindRmdir}
	assert.Empty(t, rec.RequiredHashes(), "plain rmdir needs no content")

	rec = OperationRecord{Kind: KindRmdir, PreHash: h}
	assert.Equal(t, []hash.Digest{h}, rec.RequiredHashes(), "recursive rmdir needs its manifest")
}

func TestProofValidity(t *testing.T) {
	content := hash.Sum([]byte("c"))
	nonce := []byte{1, 2, 3}
	ts := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	proof := ObliterationProof{
		ContentHash:     content,
		Timestamp:       ts,
		Nonce:           nonce,
		Commitment:      hash.Commitment(content, nonce, ts),
		OverwritePasses: 3,
		StorageCleared:  true,
	}
	assert.True(t, proof.Valid())
	assert.True(t, proof.VerifyCommitment())

	tooFew := proof
	tooFew.OverwritePasses = 2
	assert.False(t, tooFew.Valid())

	notCleared := proof
	notCleared.StorageCleared = false
	assert.False(t, notCleared.Valid())

	tampered := proof
	tampered.ContentHash = hash.Sum([]byte("other"))
	assert.False(t, tampered.VerifyCommitment())
}
