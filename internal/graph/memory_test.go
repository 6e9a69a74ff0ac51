package graph

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *MemoryStore {
	t.Helper()
	store, err := NewMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(context.Background()) })
	require.NoError(t, store.EnsureSchema(context.Background(), 3))
	return store
}

func testFile(path string, embedding []float32) *FileRecord {
	return &FileRecord{
		ID:           "file-" + path,
		Path:         path,
		AbsolutePath: "/abs/" + path,
		Name:         path,
		Extension:    ".txt",
		Language:     "text",
		SizeBytes:    10,
		ModifiedAt:   time.Now(),
		IndexedAt:    time.Now(),
		Content:      "content of " + path,
		Embedding:    embedding,
	}
}

func TestMemoryStore_UpsertAndGetFile(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	file := testFile("a.txt", []float32{1, 0, 0})
	require.NoError(t, store.UpsertFile(ctx, file, ""))

	got, err := store.GetFile(ctx, "a.txt")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, file.ID, got.ID)
	assert.Equal(t, "content of a.txt", got.Content)

	missing, err := store.GetFile(ctx, "nope.txt")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMemoryStore_UpsertFileIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	file := testFile("a.txt", []float32{1, 0, 0})
	require.NoError(t, store.UpsertFile(ctx, file, ""))
	require.NoError(t, store.UpsertFile(ctx, file, ""))

	hits, err := store.VectorSearch(ctx, []float32{1, 0, 0}, 10, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1, "re-upsert must not multiply vector entries")
}

func TestMemoryStore_ChunkLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	file := testFile("big.txt", nil)
	file.HasChunks = true
	file.Content = ""
	require.NoError(t, store.UpsertFile(ctx, file, ""))

	for i := 0; i < 3; i++ {
		require.NoError(t, store.UpsertChunk(ctx, &ChunkRecord{
			ID:          "chunk-" + string(rune('a'+i)),
			ParentPath:  "big.txt",
			Index:       i,
			Text:        "chunk text",
			Embedding:   []float32{float32(i + 1), 0, 0},
			Dimensions:  3,
			TotalChunks: 3,
			HasPrev:     i > 0,
			HasNext:     i < 2,
		}))
	}

	n, err := store.CountChunks(ctx, "big.txt")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	deleted, err := store.DeleteChunks(ctx, "big.txt")
	require.NoError(t, err)
	assert.Equal(t, 3, deleted)

	n, err = store.CountChunks(ctx, "big.txt")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	hits, err := store.VectorSearch(ctx, []float32{1, 0, 0}, 10, nil)
	require.NoError(t, err)
	assert.Empty(t, hits, "deleted chunks must leave no vectors behind")
}

func TestMemoryStore_DeleteFileCascades(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	file := testFile("doc.txt", nil)
	file.HasChunks = true
	require.NoError(t, store.UpsertFile(ctx, file, ""))
	require.NoError(t, store.UpsertChunk(ctx, &ChunkRecord{
		ID: "chunk-1", ParentPath: "doc.txt", Index: 0,
		Text: "orphan check", Embedding: []float32{0, 1, 0},
	}))

	require.NoError(t, store.DeleteFile(ctx, "doc.txt"))

	got, err := store.GetFile(ctx, "doc.txt")
	require.NoError(t, err)
	assert.Nil(t, got)

	n, err := store.CountChunks(ctx, "doc.txt")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	hits, err := store.FullTextSearch(ctx, "orphan", 10, nil)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestMemoryStore_VectorSearchRanksByCosine(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertFile(ctx, testFile("close.txt", []float32{1, 0.1, 0}), ""))
	require.NoError(t, store.UpsertFile(ctx, testFile("far.txt", []float32{0, 0, 1}), ""))

	hits, err := store.VectorSearch(ctx, []float32{1, 0, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "close.txt", hits[0].Path)
	assert.Greater(t, hits[0].Score, hits[1].Score)
}

func TestMemoryStore_VectorSearchTypeFilter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertFile(ctx, testFile("f.txt", []float32{1, 0, 0}), ""))
	require.NoError(t, store.UpsertChunk(ctx, &ChunkRecord{
		ID: "chunk-x", ParentPath: "f.txt", Index: 0,
		Text: "text", Embedding: []float32{0.9, 0.1, 0},
	}))

	hits, err := store.VectorSearch(ctx, []float32{1, 0, 0}, 10, []string{TypeFileChunk})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, TypeFileChunk, hits[0].Type)
	assert.Equal(t, "f.txt", hits[0].Path, "chunk hits carry the parent path")
}

func TestMemoryStore_VectorSearchDimensionMismatch(t *testing.T) {
	store := newTestStore(t)
	_, err := store.VectorSearch(context.Background(), []float32{1, 0}, 5, nil)
	assert.Error(t, err)
}

func TestMemoryStore_FullTextSearch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	auth := testFile("auth.ts", nil)
	auth.Content = "completely unrelated notes about cooking"
	require.NoError(t, store.UpsertFile(ctx, auth, ""))

	login := testFile("login.md", nil)
	login.Content = "this document discusses authentication and login flows"
	require.NoError(t, store.UpsertFile(ctx, login, ""))

	hits, err := store.FullTextSearch(ctx, "authentication", 10, nil)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "login.md", hits[0].Path)

	// Filename terms are indexed too.
	hits, err = store.FullTextSearch(ctx, "auth.ts", 10, nil)
	require.NoError(t, err)
	require.NotEmpty(t, hits)

	// Empty query is an empty success.
	hits, err = store.FullTextSearch(ctx, "   ", 10, nil)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestMemoryStore_Subscriptions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sub := &SubscriptionRecord{
		ID: "sub-1", Path: "/proj", Recursive: true,
		GenerateEmbeddings: true, Status: StatusActive,
	}
	require.NoError(t, store.UpsertSubscription(ctx, sub))

	got, err := store.GetSubscription(ctx, "sub-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, StatusActive, got.Status)

	subs, err := store.ListSubscriptions(ctx)
	require.NoError(t, err)
	assert.Len(t, subs, 1)

	// Watched files are removed with the subscription.
	require.NoError(t, store.UpsertFile(ctx, testFile("watched.txt", nil), "sub-1"))
	require.NoError(t, store.DeleteSubscription(ctx, "sub-1"))

	file, err := store.GetFile(ctx, "watched.txt")
	require.NoError(t, err)
	assert.Nil(t, file)

	got, err = store.GetSubscription(ctx, "sub-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryStore_ClearRequiresToken(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertFile(ctx, testFile("a.txt", nil), ""))

	assert.Error(t, store.Clear(ctx, ""))
	assert.Error(t, store.Clear(ctx, "ALL"))

	require.NoError(t, store.Clear(ctx, ClearToken))
	got, err := store.GetFile(ctx, "a.txt")
	require.NoError(t, err)
	assert.Nil(t, got)
}
