package local_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sgfsdriver/replica/pkg/backend/local"
	"github.com/sgfsdriver/replica/pkg/errtypes"
)

func newFS(t *testing.T) *local.FS {
	t.Helper()
	root := t.TempDir()
	fs, err := local.New(local.Options{WorkRoot: root})
	require.NoError(t, err)
	return fs
}

func TestNewRejectsMissingRoot(t *testing.T) {
	_, err := local.New(local.Options{WorkRoot: filepath.Join(t.TempDir(), "missing")})
	require.Error(t, err)
}

func TestNewRejectsEmptyRoot(t *testing.T) {
	_, err := local.New(local.Options{})
	var usage errtypes.Usage
	require.ErrorAs(t, err, &usage)
}

func TestWriteReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	fs := newFS(t)

	require.NoError(t, fs.Write(ctx, "a/b/data", 0, []byte("hello")))
	exists, err := fs.Exists(ctx, "a/b/data")
	require.NoError(t, err)
	require.True(t, exists)

	got, err := fs.Read(ctx, "a/b/data", 0, 5)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), got)

	st, err := fs.Stat(ctx, "a/b/data")
	require.NoError(t, err)
	require.Equal(t, int64(5), st.Size)
}

func TestWriteAtOffsetGrowsFile(t *testing.T) {
	ctx := context.Background()
	fs := newFS(t)

	require.NoError(t, fs.Write(ctx, "f", 0, []byte("AAAA")))
	require.NoError(t, fs.Write(ctx, "f", 8, []byte("BB")))

	st, err := fs.Stat(ctx, "f")
	require.NoError(t, err)
	require.Equal(t, int64(10), st.Size)
}

func TestTruncateShrinks(t *testing.T) {
	ctx := context.Background()
	fs := newFS(t)

	require.NoError(t, fs.Write(ctx, "f", 0, []byte("AAAABBBB")))
	require.NoError(t, fs.Truncate(ctx, "f", 4))

	st, err := fs.Stat(ctx, "f")
	require.NoError(t, err)
	require.Equal(t, int64(4), st.Size)
}

func TestTruncateMissingFileIsNotFound(t *testing.T) {
	ctx := context.Background()
	fs := newFS(t)

	err := fs.Truncate(ctx, "missing", 0)
	var notFound errtypes.NotFound
	require.ErrorAs(t, err, &notFound)
}

func TestRenameMovesFile(t *testing.T) {
	ctx := context.Background()
	fs := newFS(t)

	require.NoError(t, fs.Write(ctx, "old", 0, []byte("x")))
	require.NoError(t, fs.Rename(ctx, "old", "new"))

	oldExists, err := fs.Exists(ctx, "old")
	require.NoError(t, err)
	require.False(t, oldExists)

	newExists, err := fs.Exists(ctx, "new")
	require.NoError(t, err)
	require.True(t, newExists)
}

func TestUnlinkMissingFileIsNoop(t *testing.T) {
	ctx := context.Background()
	fs := newFS(t)
	require.NoError(t, fs.Unlink(ctx, "never-existed"))
}

func TestMakeDirsIsRecursive(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	fs, err := local.New(local.Options{WorkRoot: root})
	require.NoError(t, err)

	require.NoError(t, fs.MakeDirs(ctx, "a/b/c"))
	info, err := os.Stat(filepath.Join(root, "a", "b", "c"))
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestExistsFalseForMissingPath(t *testing.T) {
	ctx := context.Background()
	fs := newFS(t)
	exists, err := fs.Exists(ctx, "nope")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestReadPastEndOfFileShortReads(t *testing.T) {
	ctx := context.Background()
	fs := newFS(t)
	require.NoError(t, fs.Write(ctx, "f", 0, []byte("AB")))

	got, err := fs.Read(ctx, "f", 0, 10)
	require.NoError(t, err)
	require.Equal(t, []byte("AB"), got)
}
