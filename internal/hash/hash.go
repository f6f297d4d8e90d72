// Package hash provides the content-digest primitive for JanusKey.
//
// Digests are SHA-256 over raw content bytes. The engine treats the digest
// function as injective: two distinct payloads never share a digest. A
// mismatch observed at runtime is corruption, not a collision, and is
// surfaced by callers as an invalid-state error.
package hash

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Size is the digest width in bytes.
const Size = sha256.Size

// prefix is the rendering prefix for digests in logs, CLI output, and
// persistent records.
const prefix = "sha256:"

// Domain strings for commitment construction. The version suffix enables
// future algorithm migration without ambiguity against old commitments.
const (
	DomainObliteration = "januskey/obliteration/v1"
)

// Digest is a fixed-width SHA-256 content digest.
type Digest [Size]byte

// Sum computes the digest of content. Sum(nil) is the null digest.
func Sum(content []byte) Digest {
	return sha256.Sum256(content)
}

// NullDigest is the digest of the empty byte sequence.
var NullDigest = Sum(nil)

// Verify reports whether content hashes to d.
func Verify(content []byte, d Digest) bool {
	return Sum(content) == d
}

// IsNull reports whether d is the digest of the empty sequence.
func (d Digest) IsNull() bool {
	return d == NullDigest
}

// IsZero reports whether d is the zero value (no digest recorded).
// Distinct from IsNull: the null digest is a real digest.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// String renders the digest as "sha256:<hex>".
func (d Digest) String() string {
	return prefix + hex.EncodeToString(d[:])
}

// Hex returns the bare lowercase hex encoding without the algorithm prefix.
func (d Digest) Hex() string {
	return hex.EncodeToString(d[:])
}

// MarshalText renders the digest in its prefixed string form; the zero
// value renders empty so absent digests serialize as "".
func (d Digest) MarshalText() ([]byte, error) {
	if d.IsZero() {
		return []byte(""), nil
	}
	return []byte(d.String()), nil
}

// UnmarshalText parses the prefixed or bare hex form; empty input yields
// the zero value.
func (d *Digest) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*d = Digest{}
		return nil
	}
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Parse decodes a digest from its string form. Both the prefixed
// ("sha256:<hex>") and bare hex forms are accepted.
func Parse(s string) (Digest, error) {
	raw := strings.TrimPrefix(s, prefix)
	b, err := hex.DecodeString(raw)
	if err != nil {
		return Digest{}, fmt.Errorf("parse digest %q: %w", s, err)
	}
	if len(b) != Size {
		return Digest{}, fmt.Errorf("parse digest %q: got %d bytes, want %d", s, len(b), Size)
	}
	var d Digest
	copy(d[:], b)
	return d, nil
}

// MustParse is like Parse but panics on error. Use only in tests or with
// inputs known to be valid.
func MustParse(s string) Digest {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Commitment computes the obliteration commitment binding a content digest
// to a nonce and a timestamp:
//
//	SHA256(domain + 0x00 + content-digest + nonce + len(ts) + RFC3339Nano(ts))
//
// The null byte separates the domain from the payload; the length prefix on
// the timestamp prevents boundary ambiguity between nonce and timestamp.
func Commitment(content Digest, nonce []byte, ts time.Time) Digest {
	h := sha256.New()
	h.Write([]byte(DomainObliteration))
	h.Write([]byte{0x00})
	h.Write(content[:])
	h.Write(nonce)
	encoded := []byte(ts.UTC().Format(time.RFC3339Nano))
	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(encoded)))
	h.Write(lenBuf[:])
	h.Write(encoded)
	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}
