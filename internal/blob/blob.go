// Package blob implements the content-addressed store: deduplicated payload
// blobs on disk, indexed by digest, with secure removal.
//
// Payloads live under the managed root at .januskey/objects/<aa>/<rest>,
// where <aa> is the first two hex characters of the digest. The index (and
// its tombstones) lives in the store database: a removed hash stays known
// forever so presence queries answer false instead of re-admitting content
// under the same digest during an obliteration audit window.
package blob

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/afero"

	"github.com/hyperpolymath/januskey/internal/fsmodel"
	"github.com/hyperpolymath/januskey/internal/hash"
	"github.com/hyperpolymath/januskey/internal/model"
	"github.com/hyperpolymath/januskey/internal/store"
)

// ObjectsDir is the payload directory inside the metadata subtree.
const ObjectsDir = fsmodel.MetaDir + "/objects"

// Sentinel errors surfaced to the engine for classification.
var (
	// ErrTombstoned is returned by Put when the hash was securely removed
	// earlier in this store's lifetime; content is never re-admitted under
	// an obliterated digest.
	ErrTombstoned = errors.New("blob: hash is tombstoned")

	// ErrCapacity is returned by Put when the configured capacity bound
	// would be exceeded.
	ErrCapacity = errors.New("blob: store capacity exhausted")

	// ErrIntegrity is returned by Get when the payload on disk no longer
	// hashes to its digest. This indicates storage corruption.
	ErrIntegrity = errors.New("blob: payload digest mismatch")
)

// Store is the content-addressed blob store.
type Store struct {
	fsys     afero.Fs
	idx      *store.Store
	maxBytes int64 // 0 means unbounded
	used     int64
}

// Option configures a Store.
type Option func(*Store)

// WithCapacity bounds the total payload bytes the store will accept.
func WithCapacity(maxBytes int64) Option {
	return func(s *Store) { s.maxBytes = maxBytes }
}

// New creates a blob store over the managed root filesystem, indexing into
// the given database.
func New(fsys afero.Fs, idx *store.Store, opts ...Option) *Store {
	s := &Store{fsys: fsys, idx: idx}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// payloadPath returns the shard path for a digest.
func payloadPath(h hash.Digest) string {
	hex := h.Hex()
	return ObjectsDir + "/" + hex[:2] + "/" + hex[2:]
}

// Put stores content and returns its digest. Storing content whose digest
// is already present returns the existing digest without touching the
// payload (deduplication). Storing under a tombstoned digest fails with
// ErrTombstoned.
func (s *Store) Put(ctx context.Context, content []byte) (hash.Digest, error) {
	h := hash.Sum(content)

	stored, known, err := s.idx.BlobStored(ctx, h)
	if err != nil {
		return hash.Digest{}, fmt.Errorf("put %s: %w", h, err)
	}
	if known && !stored {
		return hash.Digest{}, fmt.Errorf("put %s: %w", h, ErrTombstoned)
	}
	if stored {
		return h, nil
	}

	if s.maxBytes > 0 && s.used+int64(len(content)) > s.maxBytes {
		return hash.Digest{}, fmt.Errorf("put %s: %w", h, ErrCapacity)
	}

	p := payloadPath(h)
	if err := s.fsys.MkdirAll(ObjectsDir+"/"+h.Hex()[:2], 0o755); err != nil {
		return hash.Digest{}, fmt.Errorf("put %s: %w", h, err)
	}
	if err := afero.WriteFile(s.fsys, p, content, 0o600); err != nil {
		return hash.Digest{}, fmt.Errorf("put %s: %w", h, err)
	}
	if err := s.idx.UpsertBlob(ctx, h, int64(len(content))); err != nil {
		return hash.Digest{}, fmt.Errorf("put %s: %w", h, err)
	}
	s.used += int64(len(content))

	return h, nil
}

// Get retrieves the content stored under h. Returns ok=false when the hash
// is unknown or tombstoned. Any content returned is integrity-checked
// against its digest.
func (s *Store) Get(ctx context.Context, h hash.Digest) ([]byte, bool, error) {
	stored, _, err := s.idx.BlobStored(ctx, h)
	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", h, err)
	}
	if !stored {
		return nil, false, nil
	}

	content, err := afero.ReadFile(s.fsys, payloadPath(h))
	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", h, err)
	}
	if !hash.Verify(content, h) {
		return nil, false, fmt.Errorf("get %s: %w", h, ErrIntegrity)
	}
	return content, true, nil
}

// Exists reports whether a payload is currently stored under h.
// Tombstoned hashes report false.
func (s *Store) Exists(ctx context.Context, h hash.Digest) (bool, error) {
	stored, _, err := s.idx.BlobStored(ctx, h)
	if err != nil {
		return false, fmt.Errorf("exists %s: %w", h, err)
	}
	return stored, nil
}

// Obliterated reports whether h was stored once and securely removed.
func (s *Store) Obliterated(ctx context.Context, h hash.Digest) (bool, error) {
	stored, known, err := s.idx.BlobStored(ctx, h)
	if err != nil {
		return false, fmt.Errorf("obliterated %s: %w", h, err)
	}
	return known && !stored, nil
}

// Count returns the number of payloads currently stored.
func (s *Store) Count(ctx context.Context) (int, error) {
	return s.idx.CountStoredBlobs(ctx)
}

// RemoveSecure overwrites the payload stored under h in place with the
// pattern sequence {0x00, 0xFF, random...}, syncing after each pass, then
// deletes the payload file and flips the index row to its tombstone state.
// passes below the DoD 5220.22-M floor are raised to it. On IO failure the
// entry is left in its prior state (the stored flag only flips after the
// payload is gone).
//
// Removal is monotonic: once this succeeds, Exists(h) is false for the
// rest of the store's lifetime.
func (s *Store) RemoveSecure(ctx context.Context, h hash.Digest, passes int) (int, error) {
	stored, _, err := s.idx.BlobStored(ctx, h)
	if err != nil {
		return 0, fmt.Errorf("remove %s: %w", h, err)
	}
	if !stored {
		return 0, fmt.Errorf("remove %s: not stored", h)
	}

	if passes < model.MinOverwritePasses {
		passes = model.MinOverwritePasses
	}

	p := payloadPath(h)
	info, err := s.fsys.Stat(p)
	if err != nil {
		return 0, fmt.Errorf("remove %s: %w", h, err)
	}
	size := info.Size()

	if size > 0 {
		if err := s.overwrite(p, size, passes); err != nil {
			return 0, fmt.Errorf("remove %s: %w", h, err)
		}
	}

	if err := s.fsys.Remove(p); err != nil {
		return 0, fmt.Errorf("remove %s: %w", h, err)
	}
	if err := s.idx.MarkBlobRemoved(ctx, h); err != nil {
		return 0, fmt.Errorf("remove %s: %w", h, err)
	}
	s.used -= size

	return passes, nil
}

// overwrite runs the pattern passes over the payload bytes. The first two
// passes write 0x00 and 0xFF; every further pass writes fresh random data.
// The working buffer is zeroed before release.
func (s *Store) overwrite(p string, size int64, passes int) error {
	f, err := s.fsys.OpenFile(p, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()

	const chunk = 8192
	bufLen := size
	if bufLen > chunk {
		bufLen = chunk
	}
	buf := make([]byte, bufLen)
	defer zero(buf)

	for pass := 0; pass < passes; pass++ {
		if err := fillPattern(buf, pass); err != nil {
			return err
		}
		if _, err := f.Seek(0, 0); err != nil {
			return err
		}
		var written int64
		for written < size {
			n := size - written
			if n > int64(len(buf)) {
				n = int64(len(buf))
			}
			if _, err := f.Write(buf[:n]); err != nil {
				return err
			}
			written += n
		}
		if err := f.Sync(); err != nil {
			return err
		}
	}
	return nil
}

// fillPattern loads the overwrite pattern for a pass into buf.
func fillPattern(buf []byte, pass int) error {
	switch pass {
	case 0:
		for i := range buf {
			buf[i] = 0x00
		}
	case 1:
		for i := range buf {
			buf[i] = 0xFF
		}
	default:
		if _, err := rand.Read(buf); err != nil {
			return err
		}
	}
	return nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
