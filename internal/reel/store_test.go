package reel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *RecordStore {
	t.Helper()

	srv, err := NewServer(context.Background(), Config{DataDir: t.TempDir()})
	require.NoError(t, err, "NewServer error")
	t.Cleanup(func() { _ = srv.Close() })

	return srv.Store()
}

func testRecord(id string) BlobRecord {
	return BlobRecord{
		ID:          id,
		Filename:    "clip.mp4",
		Title:       "A clip",
		Length:      2048,
		ContentType: DefaultContentType,
		ChunkSize:   1024,
		CreatedAt:   time.Now().UTC().Truncate(time.Second),
		Chunks: []ChunkRef{
			{Seq: 0, Key: "gen/00000000", Size: 1024},
			{Seq: 1, Key: "gen/00000001", Size: 1024},
		},
	}
}

func TestStoreCreateAndGet(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	rec := testRecord("blob-1")
	require.NoError(t, store.Create(ctx, rec), "Create error")

	got, err := store.Get(ctx, "blob-1")
	require.NoError(t, err, "Get error")
	require.Equal(t, rec.Title, got.Title, "title")
	require.Equal(t, rec.Filename, got.Filename, "filename")
	require.Equal(t, rec.Length, got.Length, "length")
	require.Equal(t, rec.ChunkSize, got.ChunkSize, "chunk size")
	require.Equal(t, rec.Chunks, got.Chunks, "chunk references in sequence order")
}

func TestStoreGetUnknown(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)

	_, err := store.Get(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound, "unknown id")
}

func TestStoreList(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	records, err := store.List(ctx)
	require.NoError(t, err, "List on empty store is not an error")
	require.Empty(t, records, "empty store")

	require.NoError(t, store.Create(ctx, testRecord("blob-1")), "Create error")
	require.NoError(t, store.Create(ctx, testRecord("blob-2")), "Create error")

	records, err = store.List(ctx)
	require.NoError(t, err, "List error")
	require.Len(t, records, 2, "two records")

	for _, rec := range records {
		require.Empty(t, rec.Chunks, "list omits chunk references")
	}
}

func TestStoreUpdateTitle(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, testRecord("blob-1")), "Create error")

	require.NoError(t, store.UpdateTitle(ctx, "blob-1", "Renamed"), "UpdateTitle error")

	got, err := store.Get(ctx, "blob-1")
	require.NoError(t, err, "Get error")
	require.Equal(t, "Renamed", got.Title, "title updated in place")
	require.Equal(t, int64(2048), got.Length, "length untouched")
	require.Len(t, got.Chunks, 2, "chunk references untouched")

	require.ErrorIs(t, store.UpdateTitle(ctx, "missing", "x"), ErrNotFound, "unknown id")
}

func TestStoreDelete(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	rec := testRecord("blob-1")
	require.NoError(t, store.Create(ctx, rec), "Create error")

	refs, err := store.Delete(ctx, "blob-1")
	require.NoError(t, err, "Delete error")
	require.Equal(t, rec.Chunks, refs, "delete returns the owned chunk references")

	_, err = store.Get(ctx, "blob-1")
	require.ErrorIs(t, err, ErrNotFound, "record gone after delete")

	_, err = store.Delete(ctx, "blob-1")
	require.ErrorIs(t, err, ErrNotFound, "second delete reports not found")
}

func TestStoreDuplicateIDRejected(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, testRecord("blob-1")), "Create error")
	require.Error(t, store.Create(ctx, testRecord("blob-1")), "id uniquely identifies at most one live record")
}
