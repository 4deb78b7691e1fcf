package storage

import (
	"context"
	"testing"

	"github.com/cuemby/ideengine/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilesystemAdapter_LoadMissingReturnsEmptyNotError(t *testing.T) {
	adapter, err := NewFilesystemAdapter(t.TempDir())
	require.NoError(t, err)

	text, err := adapter.LoadText(context.Background(), types.DocumentKey{BucketID: "b1", Path: "main.py"})
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestFilesystemAdapter_SaveThenLoadRoundTrips(t *testing.T) {
	adapter, err := NewFilesystemAdapter(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	key := types.DocumentKey{BucketID: "b1", Path: "src/main.py"}

	require.NoError(t, adapter.SaveText(ctx, key, "print('hi')"))

	text, err := adapter.LoadText(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "print('hi')", text)
}

func TestFilesystemAdapter_SaveAfterTombstoneIsRejected(t *testing.T) {
	adapter, err := NewFilesystemAdapter(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	bucket := types.BucketHandle{ID: "b1"}
	key := types.DocumentKey{BucketID: "b1", Path: "main.py"}

	require.NoError(t, adapter.SaveText(ctx, key, "before"))
	require.NoError(t, adapter.Tombstone(ctx, bucket))

	err = adapter.SaveText(ctx, key, "after")
	assert.ErrorIs(t, err, types.ErrBucketClosed)

	// loads still succeed after tombstoning, for archival access
	text, err := adapter.LoadText(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "before", text)
}

func TestFilesystemAdapter_ListPathsReturnsAllFiles(t *testing.T) {
	adapter, err := NewFilesystemAdapter(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	bucket := types.BucketHandle{ID: "b1"}

	require.NoError(t, adapter.SaveText(ctx, types.DocumentKey{BucketID: "b1", Path: "a.py"}, "a"))
	require.NoError(t, adapter.SaveText(ctx, types.DocumentKey{BucketID: "b1", Path: "pkg/b.py"}, "b"))

	paths, err := adapter.ListPaths(ctx, bucket)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a.py", "pkg/b.py"}, paths)
}

func TestFilesystemAdapter_CloneCopiesAllPaths(t *testing.T) {
	adapter, err := NewFilesystemAdapter(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	src := types.BucketHandle{ID: "b1"}

	require.NoError(t, adapter.SaveText(ctx, types.DocumentKey{BucketID: "b1", Path: "a.py"}, "content-a"))

	dst, err := adapter.Clone(ctx, src, "b1-copy")
	require.NoError(t, err)
	assert.NotEqual(t, src.ID, dst.ID)

	text, err := adapter.LoadText(ctx, types.DocumentKey{BucketID: dst.ID, Path: "a.py"})
	require.NoError(t, err)
	assert.Equal(t, "content-a", text)
}
