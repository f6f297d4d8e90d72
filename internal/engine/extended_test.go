package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperpolymath/januskey/internal/model"
)

func TestChmodApplyAndUndo(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Create(ctx, "f.txt", []byte("x"))
	require.NoError(t, err)

	before, err := e.Tree().Find("f.txt")
	require.NoError(t, err)

	rec, err := e.Chmod(ctx, "f.txt", 0o600)
	require.NoError(t, err)
	require.NotNil(t, rec.PreMetadata)
	assert.Equal(t, before.Metadata.Mode, rec.PreMetadata.Mode)

	after, err := e.Tree().Find("f.txt")
	require.NoError(t, err)
	assert.EqualValues(t, 0o600, after.Metadata.Mode)

	_, err = e.Undo(ctx, rec)
	require.NoError(t, err)

	restored, err := e.Tree().Find("f.txt")
	require.NoError(t, err)
	assert.Equal(t, before.Metadata.Mode, restored.Metadata.Mode)
}

func TestMkdirApplyAndUndo(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	rec, err := e.Mkdir(ctx, "newdir", false)
	require.NoError(t, err)

	entry, err := e.Tree().Find("newdir")
	require.NoError(t, err)
	assert.True(t, entry.Exists)
	assert.True(t, entry.Metadata.IsDir)

	_, err = e.Undo(ctx, rec)
	require.NoError(t, err)

	exists, err := e.Tree().Exists("newdir")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRmdirEmptyApplyAndUndo(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Mkdir(ctx, "empty", false)
	require.NoError(t, err)

	rec, err := e.Rmdir(ctx, "empty", false)
	require.NoError(t, err)

	exists, err := e.Tree().Exists("empty")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = e.Undo(ctx, rec)
	require.NoError(t, err)

	entry, err := e.Tree().Find("empty")
	require.NoError(t, err)
	assert.True(t, entry.Exists)
	assert.True(t, entry.Metadata.IsDir)
}

func TestRmdirNonEmptyWithoutRecursive(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Mkdir(ctx, "full", false)
	require.NoError(t, err)
	_, err = e.Create(ctx, "full/a.txt", []byte("a"))
	require.NoError(t, err)

	_, err = e.Rmdir(ctx, "full", false)
	assert.True(t, IsConflict(err))

	exists, terr := e.Tree().Exists("full/a.txt")
	require.NoError(t, terr)
	assert.True(t, exists)
}

func TestRmdirRecursiveApplyAndUndo(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Mkdir(ctx, "tree", false)
	require.NoError(t, err)
	_, err = e.Create(ctx, "tree/file1.txt", []byte("content1"))
	require.NoError(t, err)
	_, err = e.Create(ctx, "tree/sub/nested.txt", []byte("nested"))
	require.NoError(t, err)

	rec, err := e.Rmdir(ctx, "tree", true)
	require.NoError(t, err)
	assert.False(t, rec.PreHash.IsZero(), "recursive rmdir records a manifest digest")

	exists, err := e.Tree().Exists("tree")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = e.Undo(ctx, rec)
	require.NoError(t, err)

	content, ok, err := e.Tree().GetContent("tree/file1.txt")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("content1"), content)

	content, ok, err = e.Tree().GetContent("tree/sub/nested.txt")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("nested"), content)
}

func TestAppendApplyAndUndo(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Create(ctx, "log.txt", []byte("original"))
	require.NoError(t, err)

	rec, err := e.Append(ctx, "log.txt", []byte(" appended"))
	require.NoError(t, err)
	assert.True(t, rec.HasPreSize)
	assert.EqualValues(t, 8, rec.PreSize)

	content, _, err := e.Tree().GetContent("log.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("original appended"), content)

	_, err = e.Undo(ctx, rec)
	require.NoError(t, err)

	content, _, err = e.Tree().GetContent("log.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), content, "truncation-based undo must be byte-exact")
}

func TestAppendToEmptyFileAndUndo(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Create(ctx, "empty.txt", nil)
	require.NoError(t, err)

	rec, err := e.Append(ctx, "empty.txt", []byte("tail"))
	require.NoError(t, err)
	assert.True(t, rec.HasPreSize)
	assert.EqualValues(t, 0, rec.PreSize, "zero pre-size is present, not absent")

	_, err = e.Undo(ctx, rec)
	require.NoError(t, err)

	content, ok, err := e.Tree().GetContent("empty.txt")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Empty(t, content)
}

func TestTruncateApplyAndUndo(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Create(ctx, "t.txt", []byte("this is a long string"))
	require.NoError(t, err)

	rec, err := e.Truncate(ctx, "t.txt", 4)
	require.NoError(t, err)
	assert.True(t, rec.HasPreSize)
	assert.EqualValues(t, 21, rec.PreSize)

	content, _, err := e.Tree().GetContent("t.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("this"), content)

	_, err = e.Undo(ctx, rec)
	require.NoError(t, err)

	content, _, err = e.Tree().GetContent("t.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("this is a long string"), content)
}

func TestTouchExistingApplyAndUndo(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Create(ctx, "f.txt", []byte("x"))
	require.NoError(t, err)

	before, err := e.Tree().Find("f.txt")
	require.NoError(t, err)

	rec, err := e.Touch(ctx, "f.txt", false)
	require.NoError(t, err)
	assert.Equal(t, model.KindTouch, rec.Kind)
	require.NotNil(t, rec.PreMetadata)

	after, err := e.Tree().Find("f.txt")
	require.NoError(t, err)
	assert.False(t, after.Metadata.ModTime.Equal(before.Metadata.ModTime))

	_, err = e.Undo(ctx, rec)
	require.NoError(t, err)

	restored, err := e.Tree().Find("f.txt")
	require.NoError(t, err)
	assert.True(t, restored.Metadata.ModTime.Equal(before.Metadata.ModTime))
}

func TestTouchCreateRecordsCreate(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	rec, err := e.Touch(ctx, "new.txt", true)
	require.NoError(t, err)
	assert.Equal(t, model.KindCreate, rec.Kind, "touch that creates is a creation")

	_, err = e.Undo(ctx, rec)
	require.NoError(t, err)

	exists, err := e.Tree().Exists("new.txt")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestTouchMissingWithoutCreate(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Touch(context.Background(), "missing.txt", false)
	assert.True(t, IsNotFound(err))
}

func TestModifyWithDeltaStorageUndo(t *testing.T) {
	e := newTestEngine(t, WithDeltaStorage(true))
	ctx := context.Background()

	large := make([]byte, 0, 8192)
	for i := 0; i < 400; i++ {
		large = append(large, []byte("line one\nline two\n")...)
	}
	_, err := e.Create(ctx, "big.txt", large)
	require.NoError(t, err)

	updated := append(append([]byte{}, large...), []byte("new tail line\n")...)
	rec, err := e.Modify(ctx, "big.txt", updated)
	require.NoError(t, err)
	assert.True(t, rec.IsDelta, "large file with a small change should delta-encode")

	_, err = e.Undo(ctx, rec)
	require.NoError(t, err)

	content, _, err := e.Tree().GetContent("big.txt")
	require.NoError(t, err)
	assert.Equal(t, large, content)
}

func TestModifySmallFileSkipsDelta(t *testing.T) {
	e := newTestEngine(t, WithDeltaStorage(true))
	ctx := context.Background()

	_, err := e.Create(ctx, "small.txt", []byte("small content"))
	require.NoError(t, err)

	rec, err := e.Modify(ctx, "small.txt", []byte("different small content"))
	require.NoError(t, err)
	assert.False(t, rec.IsDelta)

	_, err = e.Undo(ctx, rec)
	require.NoError(t, err)

	content, _, err := e.Tree().GetContent("small.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("small content"), content)
}
