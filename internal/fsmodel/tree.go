// Package fsmodel implements the managed tree: the mapping from canonical
// subject paths to file entries inside a managed root. All content reads
// and writes of the operation engine go through a Tree; entries under the
// metadata subtree are invisible to it.
package fsmodel

import (
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/hyperpolymath/januskey/internal/hash"
	"github.com/hyperpolymath/januskey/internal/model"
)

// Entry is the state of one subject path. When Exists is false the entry
// is a hole: content, digest, and metadata are absent.
type Entry struct {
	Path     string
	Content  []byte
	Hash     hash.Digest
	Metadata *model.FileMetadata
	Exists   bool
}

// Tree is the managed tree over a filesystem rooted at the managed root.
// It is not safe for concurrent mutation; the engine serializes access.
type Tree struct {
	fsys afero.Fs
}

// NewTree wraps a filesystem whose root is the managed root.
func NewTree(fsys afero.Fs) *Tree {
	return &Tree{fsys: fsys}
}

// Fs exposes the underlying filesystem for collaborators that need direct
// handle access (secure overwrite acquires handles itself).
func (t *Tree) Fs() afero.Fs {
	return t.fsys
}

// Find returns the entry at path p. A missing file yields a hole entry,
// not an error; only IO failures are errors.
func (t *Tree) Find(p string) (Entry, error) {
	cp, err := Canonicalize(p)
	if err != nil {
		return Entry{}, err
	}

	info, err := t.lstat(cp)
	if os.IsNotExist(err) {
		return Entry{Path: cp}, nil
	}
	if err != nil {
		return Entry{}, fmt.Errorf("stat %s: %w", cp, err)
	}

	meta := t.captureMetadata(cp, info)
	entry := Entry{Path: cp, Metadata: &meta, Exists: true}

	if info.IsDir() || meta.IsSymlink {
		// Directories and symlinks have no content digest.
		return entry, nil
	}

	content, err := afero.ReadFile(t.fsys, cp)
	if err != nil {
		return Entry{}, fmt.Errorf("read %s: %w", cp, err)
	}
	entry.Content = content
	entry.Hash = hash.Sum(content)
	return entry, nil
}

// Exists reports whether an entry exists at path p.
func (t *Tree) Exists(p string) (bool, error) {
	cp, err := Canonicalize(p)
	if err != nil {
		return false, err
	}
	_, err = t.lstat(cp)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", cp, err)
	}
	return true, nil
}

// GetContent returns the content at path p. Missing paths and directories
// yield (nil, false, nil).
func (t *Tree) GetContent(p string) ([]byte, bool, error) {
	entry, err := t.Find(p)
	if err != nil {
		return nil, false, err
	}
	if !entry.Exists || entry.Metadata.IsDir {
		return nil, false, nil
	}
	return entry.Content, true, nil
}

// GetHash returns the content digest at path p. Missing paths and
// directories yield (zero, false, nil).
func (t *Tree) GetHash(p string) (hash.Digest, bool, error) {
	entry, err := t.Find(p)
	if err != nil {
		return hash.Digest{}, false, err
	}
	if !entry.Exists || entry.Metadata.IsDir {
		return hash.Digest{}, false, nil
	}
	return entry.Hash, true, nil
}

// Set upserts the entry at entry.Path, replacing any prior entry there.
// Other paths are unaffected. Parent directories are created as needed.
func (t *Tree) Set(entry Entry) error {
	cp, err := Canonicalize(entry.Path)
	if err != nil {
		return err
	}

	if dir := parentDir(cp); dir != "" {
		if err := t.fsys.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("mkdir parents of %s: %w", cp, err)
		}
	}

	if entry.Metadata != nil && entry.Metadata.IsSymlink {
		return t.setSymlink(cp, entry.Metadata.SymlinkTarget)
	}
	if entry.Metadata != nil && entry.Metadata.IsDir {
		if err := t.fsys.MkdirAll(cp, fs.FileMode(entry.Metadata.Mode)); err != nil {
			return fmt.Errorf("mkdir %s: %w", cp, err)
		}
		return nil
	}

	if err := afero.WriteFile(t.fsys, cp, entry.Content, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", cp, err)
	}
	if entry.Metadata != nil {
		if err := t.applyMetadata(cp, entry.Metadata); err != nil {
			return err
		}
	}
	return nil
}

// Remove hollows the entry at path p: afterwards Exists(p) is false and
// content, digest, and metadata are absent. Other paths are untouched.
func (t *Tree) Remove(p string) error {
	cp, err := Canonicalize(p)
	if err != nil {
		return err
	}
	if err := t.fsys.Remove(cp); err != nil {
		return fmt.Errorf("remove %s: %w", cp, err)
	}
	return nil
}

// RemoveAll removes the directory at p and everything under it.
func (t *Tree) RemoveAll(p string) error {
	cp, err := Canonicalize(p)
	if err != nil {
		return err
	}
	if err := t.fsys.RemoveAll(cp); err != nil {
		return fmt.Errorf("remove all %s: %w", cp, err)
	}
	return nil
}

// Mkdir creates a directory at p. With parents, missing ancestors are
// created too.
func (t *Tree) Mkdir(p string, parents bool) error {
	cp, err := Canonicalize(p)
	if err != nil {
		return err
	}
	if parents {
		err = t.fsys.MkdirAll(cp, 0o755)
	} else {
		if dir := parentDir(cp); dir != "" {
			if _, serr := t.lstat(dir); serr != nil {
				return fmt.Errorf("mkdir %s: parent %s: %w", cp, dir, serr)
			}
		}
		err = t.fsys.Mkdir(cp, 0o755)
	}
	if err != nil {
		return fmt.Errorf("mkdir %s: %w", cp, err)
	}
	return nil
}

// Chmod sets the permission bits at p.
func (t *Tree) Chmod(p string, mode uint32) error {
	cp, err := Canonicalize(p)
	if err != nil {
		return err
	}
	if err := t.fsys.Chmod(cp, fs.FileMode(mode)); err != nil {
		return fmt.Errorf("chmod %s: %w", cp, err)
	}
	return nil
}

// Chtimes sets the modification time at p.
func (t *Tree) Chtimes(p string, mtime time.Time) error {
	cp, err := Canonicalize(p)
	if err != nil {
		return err
	}
	if err := t.fsys.Chtimes(cp, mtime, mtime); err != nil {
		return fmt.Errorf("chtimes %s: %w", cp, err)
	}
	return nil
}

// Truncate shortens (or zero-extends) the file at p to size bytes.
func (t *Tree) Truncate(p string, size int64) error {
	cp, err := Canonicalize(p)
	if err != nil {
		return err
	}
	f, err := t.fsys.OpenFile(cp, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", cp, err)
	}
	defer f.Close()
	if err := f.Truncate(size); err != nil {
		return fmt.Errorf("truncate %s: %w", cp, err)
	}
	return nil
}

// Append extends the file at p with content.
func (t *Tree) Append(p string, content []byte) error {
	cp, err := Canonicalize(p)
	if err != nil {
		return err
	}
	f, err := t.fsys.OpenFile(cp, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", cp, err)
	}
	defer f.Close()
	if _, err := f.Write(content); err != nil {
		return fmt.Errorf("append %s: %w", cp, err)
	}
	return nil
}

// Rename moves the entry at src to dst, creating dst's parents as needed.
func (t *Tree) Rename(src, dst string) error {
	csrc, err := Canonicalize(src)
	if err != nil {
		return err
	}
	cdst, err := Canonicalize(dst)
	if err != nil {
		return err
	}
	if dir := parentDir(cdst); dir != "" {
		if err := t.fsys.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("mkdir parents of %s: %w", cdst, err)
		}
	}
	if err := t.fsys.Rename(csrc, cdst); err != nil {
		return fmt.Errorf("rename %s -> %s: %w", csrc, cdst, err)
	}
	return nil
}

// Symlink creates a symbolic link at linkPath pointing at target. Fails
// when the underlying filesystem cannot represent symlinks.
func (t *Tree) Symlink(target, linkPath string) error {
	cp, err := Canonicalize(linkPath)
	if err != nil {
		return err
	}
	if dir := parentDir(cp); dir != "" {
		if err := t.fsys.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("mkdir parents of %s: %w", cp, err)
		}
	}
	return t.setSymlink(cp, target)
}

// Walk visits dir itself and every file and directory beneath it (or the
// whole tree when dir is empty), in lexical order, skipping the metadata
// subtree.
func (t *Tree) Walk(dir string, fn func(p string, info fs.FileInfo) error) error {
	root := "."
	if dir != "" {
		cp, err := Canonicalize(dir)
		if err != nil {
			return err
		}
		root = cp
	}
	return afero.Walk(t.fsys, root, func(p string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		cp := strings.TrimPrefix(strings.ReplaceAll(p, "\\", "/"), "./")
		if cp == "." || cp == "" {
			return nil
		}
		if cp == MetaDir || strings.HasPrefix(cp, MetaDir+"/") {
			if info.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		return fn(cp, info)
	})
}

// Valid checks the model invariant: every existing file entry's recorded
// digest equals the digest of its content. With the Tree computing digests
// from content on read this can only fail under concurrent external
// mutation or storage corruption.
func (t *Tree) Valid() error {
	return t.Walk("", func(p string, info fs.FileInfo) error {
		if info.IsDir() || info.Mode()&fs.ModeSymlink != 0 {
			return nil
		}
		entry, err := t.Find(p)
		if err != nil {
			return err
		}
		if entry.Exists && !entry.Metadata.IsDir && !hash.Verify(entry.Content, entry.Hash) {
			return fmt.Errorf("entry %s: digest mismatch", p)
		}
		return nil
	})
}

func (t *Tree) lstat(cp string) (fs.FileInfo, error) {
	if lstater, ok := t.fsys.(afero.Lstater); ok {
		info, _, err := lstater.LstatIfPossible(cp)
		return info, err
	}
	return t.fsys.Stat(cp)
}

func (t *Tree) setSymlink(cp, target string) error {
	linker, ok := t.fsys.(afero.Linker)
	if !ok {
		return fmt.Errorf("symlink %s: filesystem does not support symlinks", cp)
	}
	if err := linker.SymlinkIfPossible(target, cp); err != nil {
		return fmt.Errorf("symlink %s -> %s: %w", cp, target, err)
	}
	return nil
}

func (t *Tree) captureMetadata(cp string, info fs.FileInfo) model.FileMetadata {
	meta := model.FileMetadata{
		Mode:    uint32(info.Mode().Perm()),
		Size:    info.Size(),
		ModTime: info.ModTime(),
		IsDir:   info.IsDir(),
	}
	if uid, gid, ok := ownership(info); ok {
		meta.UID, meta.GID = uid, gid
	}
	if info.Mode()&fs.ModeSymlink != 0 {
		meta.IsSymlink = true
		if reader, ok := t.fsys.(afero.LinkReader); ok {
			if target, err := reader.ReadlinkIfPossible(cp); err == nil {
				// BasePathFs stores targets resolved under its base; report
				// them relative to the managed root, as Symlink was given.
				if bp, ok := t.fsys.(*afero.BasePathFs); ok {
					if base, berr := bp.RealPath("/"); berr == nil {
						target = strings.TrimPrefix(target, base+string(os.PathSeparator))
					}
				}
				meta.SymlinkTarget = target
			}
		}
	}
	return meta
}

func (t *Tree) applyMetadata(cp string, meta *model.FileMetadata) error {
	if err := t.fsys.Chmod(cp, fs.FileMode(meta.Mode)); err != nil {
		return fmt.Errorf("chmod %s: %w", cp, err)
	}
	if !meta.ModTime.IsZero() {
		if err := t.fsys.Chtimes(cp, meta.ModTime, meta.ModTime); err != nil {
			return fmt.Errorf("chtimes %s: %w", cp, err)
		}
	}
	return nil
}

func parentDir(cp string) string {
	idx := strings.LastIndexByte(cp, '/')
	if idx < 0 {
		return ""
	}
	return cp[:idx]
}
