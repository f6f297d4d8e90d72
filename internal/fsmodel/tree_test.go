package fsmodel

import (
	"io/fs"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperpolymath/januskey/internal/hash"
)

func newTestTree(t *testing.T) *Tree {
	t.Helper()
	return NewTree(afero.NewMemMapFs())
}

func TestSetAndFind(t *testing.T) {
	tree := newTestTree(t)

	require.NoError(t, tree.Set(Entry{Path: "a.txt", Content: []byte("hello")}))

	entry, err := tree.Find("a.txt")
	require.NoError(t, err)
	assert.True(t, entry.Exists)
	assert.Equal(t, []byte("hello"), entry.Content)
	assert.Equal(t, hash.Sum([]byte("hello")), entry.Hash)
	require.NotNil(t, entry.Metadata)
	assert.EqualValues(t, 5, entry.Metadata.Size)
}

func TestFindMissingIsHole(t *testing.T) {
	tree := newTestTree(t)

	entry, err := tree.Find("missing.txt")
	require.NoError(t, err)
	assert.False(t, entry.Exists)
	assert.Nil(t, entry.Content)
	assert.True(t, entry.Hash.IsZero())
	assert.Nil(t, entry.Metadata)
}

func TestSetReplacesOnlyTargetPath(t *testing.T) {
	tree := newTestTree(t)

	require.NoError(t, tree.Set(Entry{Path: "a.txt", Content: []byte("one")}))
	require.NoError(t, tree.Set(Entry{Path: "b.txt", Content: []byte("two")}))
	require.NoError(t, tree.Set(Entry{Path: "a.txt", Content: []byte("replaced")}))

	content, ok, err := tree.GetContent("a.txt")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("replaced"), content)

	content, ok, err = tree.GetContent("b.txt")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("two"), content)
}

func TestRemoveHollowsEntry(t *testing.T) {
	tree := newTestTree(t)

	require.NoError(t, tree.Set(Entry{Path: "doomed.txt", Content: []byte("x")}))
	require.NoError(t, tree.Set(Entry{Path: "kept.txt", Content: []byte("y")}))

	require.NoError(t, tree.Remove("doomed.txt"))

	exists, err := tree.Exists("doomed.txt")
	require.NoError(t, err)
	assert.False(t, exists)

	_, ok, err := tree.GetContent("doomed.txt")
	require.NoError(t, err)
	assert.False(t, ok)

	exists, err = tree.Exists("kept.txt")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestGetHash(t *testing.T) {
	tree := newTestTree(t)

	require.NoError(t, tree.Set(Entry{Path: "h.txt", Content: []byte("data")}))

	h, ok, err := tree.GetHash("h.txt")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, hash.Sum([]byte("data")), h)

	_, ok, err = tree.GetHash("absent.txt")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAppendAndTruncate(t *testing.T) {
	tree := newTestTree(t)

	require.NoError(t, tree.Set(Entry{Path: "f.txt", Content: []byte("base")}))
	require.NoError(t, tree.Append("f.txt", []byte("+more")))

	content, _, err := tree.GetContent("f.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("base+more"), content)

	require.NoError(t, tree.Truncate("f.txt", 4))
	content, _, err = tree.GetContent("f.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("base"), content)
}

func TestRenameCreatesParents(t *testing.T) {
	tree := newTestTree(t)

	require.NoError(t, tree.Set(Entry{Path: "src.txt", Content: []byte("v")}))
	require.NoError(t, tree.Rename("src.txt", "deep/nested/dst.txt"))

	exists, err := tree.Exists("src.txt")
	require.NoError(t, err)
	assert.False(t, exists)

	content, ok, err := tree.GetContent("deep/nested/dst.txt")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v"), content)
}

func TestMkdirAndDirectoryEntries(t *testing.T) {
	tree := newTestTree(t)

	require.NoError(t, tree.Mkdir("d", false))

	entry, err := tree.Find("d")
	require.NoError(t, err)
	assert.True(t, entry.Exists)
	require.NotNil(t, entry.Metadata)
	assert.True(t, entry.Metadata.IsDir)

	// Directories have no content digest.
	_, ok, err := tree.GetHash("d")
	require.NoError(t, err)
	assert.False(t, ok)

	// Non-parents mkdir under a missing ancestor fails; parents succeeds.
	assert.Error(t, tree.Mkdir("x/y/z", false))
	assert.NoError(t, tree.Mkdir("x/y/z", true))
}

func TestWalkSkipsMetadataSubtree(t *testing.T) {
	fsys := afero.NewMemMapFs()
	tree := NewTree(fsys)

	require.NoError(t, tree.Set(Entry{Path: "a.txt", Content: []byte("a")}))
	require.NoError(t, afero.WriteFile(fsys, MetaDir+"/januskey.db", []byte("private"), 0o644))

	var seen []string
	require.NoError(t, tree.Walk("", func(p string, _ fs.FileInfo) error {
		seen = append(seen, p)
		return nil
	}))
	assert.Equal(t, []string{"a.txt"}, seen)
}

func TestValid(t *testing.T) {
	tree := newTestTree(t)
	require.NoError(t, tree.Set(Entry{Path: "a.txt", Content: []byte("a")}))
	require.NoError(t, tree.Set(Entry{Path: "dir/b.txt", Content: []byte("b")}))
	assert.NoError(t, tree.Valid())
}
