package search

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filegraph/filegraph/internal/embed"
	"github.com/filegraph/filegraph/internal/graph"
)

// stubEmbedder maps known query strings to fixed vectors.
type stubEmbedder struct {
	vectors map[string][]float32
	fail    bool
}

func (s *stubEmbedder) EmbedText(ctx context.Context, text string) (*embed.Embedding, error) {
	if s.fail {
		return nil, errors.New("embedding backend down")
	}
	v, ok := s.vectors[text]
	if !ok {
		v = []float32{0, 0, 1}
	}
	return &embed.Embedding{Vector: v, Dimensions: len(v), Model: "stub"}, nil
}

func (s *stubEmbedder) EmbedImage(ctx context.Context, dataURL string) (*embed.Embedding, error) {
	return nil, errors.New("not multimodal")
}

func (s *stubEmbedder) Dimensions() int   { return 3 }
func (s *stubEmbedder) ModelName() string { return "stub" }
func (s *stubEmbedder) Close() error      { return nil }

func newSearchStore(t *testing.T) *graph.MemoryStore {
	t.Helper()
	store, err := graph.NewMemoryStore()
	require.NoError(t, err)
	require.NoError(t, store.EnsureSchema(context.Background(), 3))
	t.Cleanup(func() { _ = store.Close(context.Background()) })
	return store
}

func upsertDoc(t *testing.T, store *graph.MemoryStore, path, name, content string, vec []float32) {
	t.Helper()
	require.NoError(t, store.UpsertFile(context.Background(), &graph.FileRecord{
		ID:           "file-" + name,
		Path:         path,
		AbsolutePath: path,
		Name:         name,
		Language:     "text",
		Content:      content,
		Embedding:    vec,
	}, ""))
}

func TestSearch_EmptyQuery(t *testing.T) {
	svc := NewService(newSearchStore(t), &stubEmbedder{})

	resp := svc.Search(context.Background(), "   ", Options{})
	assert.Equal(t, "success", resp.Status)
	assert.Empty(t, resp.Results)
	assert.Equal(t, "empty query", resp.Message)
}

func TestSearch_FullTextOnlyWhenEmbeddingsDisabled(t *testing.T) {
	store := newSearchStore(t)
	upsertDoc(t, store, "/docs/limits.md", "limits.md", "rate limiter implementation notes", nil)

	svc := NewService(store, nil)
	resp := svc.Search(context.Background(), "rate limiter", Options{})

	assert.Equal(t, "success", resp.Status)
	assert.Equal(t, MethodFullText, resp.SearchMethod)
	assert.False(t, resp.FallbackTriggered)
	require.NotEmpty(t, resp.Results)
	top := resp.Results[0]
	assert.Equal(t, "/docs/limits.md", top.ID)
	assert.Greater(t, top.Relevance, 0.0)
	assert.Zero(t, top.Similarity)
}

func TestSearch_HybridRanksDualArmMatchFirst(t *testing.T) {
	store := newSearchStore(t)
	upsertDoc(t, store, "/x/both.md", "both.md", "caching layer design", []float32{1, 0, 0})
	upsertDoc(t, store, "/y/semantic.md", "semantic.md", "unrelated prose entirely", []float32{0.98, 0.199, 0})
	upsertDoc(t, store, "/z/keyword.md", "keyword.md", "caching layer notes", []float32{0, 1, 0})

	embedder := &stubEmbedder{vectors: map[string][]float32{
		"caching layer": {1, 0, 0},
	}}
	svc := NewService(store, embedder)

	resp := svc.Search(context.Background(), "caching layer", Options{})
	assert.Equal(t, MethodHybrid, resp.SearchMethod)
	assert.False(t, resp.FallbackTriggered)
	require.NotEmpty(t, resp.Results)

	top := resp.Results[0]
	assert.Equal(t, "/x/both.md", top.ID, "hit present in both arms ranks first")
	assert.InDelta(t, 1.0, top.Similarity, 0.01)
	assert.Greater(t, top.Relevance, 0.0)

	ids := map[string]bool{}
	for _, r := range resp.Results {
		ids[r.ID] = true
	}
	assert.True(t, ids["/y/semantic.md"], "semantic-only match survives fusion")
	assert.True(t, ids["/z/keyword.md"], "keyword-only match survives fusion")
}

func TestSearch_MinSimilarityFiltersVectorArm(t *testing.T) {
	store := newSearchStore(t)
	upsertDoc(t, store, "/near.md", "near.md", "qqq", []float32{1, 0, 0})
	upsertDoc(t, store, "/far.md", "far.md", "zzz", []float32{0, 1, 0})

	embedder := &stubEmbedder{vectors: map[string][]float32{"qqq": {1, 0, 0}}}
	svc := NewService(store, embedder)

	resp := svc.Search(context.Background(), "qqq", Options{MinSimilarity: 0.75})
	for _, r := range resp.Results {
		assert.NotEqual(t, "/far.md", r.ID, "orthogonal vector with no keyword match must not surface")
	}
}

func TestSearch_ChunkHitsGroupByParentFile(t *testing.T) {
	store := newSearchStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertFile(ctx, &graph.FileRecord{
		ID:           "file-big",
		Path:         "/src/big.go",
		AbsolutePath: "/src/big.go",
		Name:         "big.go",
		Language:     "go",
		HasChunks:    true,
	}, ""))

	chunks := []*graph.ChunkRecord{
		{ID: "chunk-a", ParentPath: "/src/big.go", Index: 0, Text: "first section body", Embedding: []float32{1, 0, 0}},
		{ID: "chunk-b", ParentPath: "/src/big.go", Index: 1, Text: "second section body", Embedding: []float32{0.98, 0.199, 0}},
		{ID: "chunk-c", ParentPath: "/src/big.go", Index: 2, Text: "third section body", Embedding: []float32{0, 1, 0}},
	}
	for _, c := range chunks {
		require.NoError(t, store.UpsertChunk(ctx, c))
	}

	embedder := &stubEmbedder{vectors: map[string][]float32{"alpha beta": {1, 0, 0}}}
	svc := NewService(store, embedder)

	resp := svc.Search(ctx, "alpha beta", Options{})
	require.Len(t, resp.Results, 1, "chunks of one file collapse into one result")

	top := resp.Results[0]
	assert.Equal(t, "/src/big.go", top.ID)
	assert.Equal(t, graph.TypeFileChunk, top.Type)
	assert.Equal(t, 2, top.ChunksMatched, "the orthogonal chunk is below min similarity")
	require.NotNil(t, top.ChunkIndex)
	assert.Equal(t, 0, *top.ChunkIndex, "best chunk is the representative")
	assert.Equal(t, "first section body", top.ChunkText)
	require.NotNil(t, top.ParentFile)
	assert.Equal(t, "/src/big.go", top.ParentFile.Path)
	assert.Equal(t, "big.go", top.ParentFile.Name)
}

// failingStore makes the query arms error while leaving writes intact.
type failingStore struct {
	graph.Store
	failVector   bool
	failFullText bool
}

func (f *failingStore) VectorSearch(ctx context.Context, vector []float32, k int, types []string) ([]*graph.SearchHit, error) {
	if f.failVector {
		return nil, errors.New("vector index offline")
	}
	return f.Store.VectorSearch(ctx, vector, k, types)
}

func (f *failingStore) FullTextSearch(ctx context.Context, query string, limit int, types []string) ([]*graph.SearchHit, error) {
	if f.failFullText {
		return nil, errors.New("fulltext index offline")
	}
	return f.Store.FullTextSearch(ctx, query, limit, types)
}

func TestSearch_VectorOnlyWhenFullTextFails(t *testing.T) {
	inner := newSearchStore(t)
	upsertDoc(t, inner, "/docs/vec.md", "vec.md", "semantic only body", []float32{1, 0, 0})
	store := &failingStore{Store: inner, failFullText: true}

	embedder := &stubEmbedder{vectors: map[string][]float32{"vector query": {1, 0, 0}}}
	svc := NewService(store, embedder)

	resp := svc.Search(context.Background(), "vector query", Options{})
	assert.Equal(t, "success", resp.Status)
	assert.Equal(t, MethodVector, resp.SearchMethod, "no fusion ran, so the method is not hybrid")
	assert.True(t, resp.FallbackTriggered)
	assert.Contains(t, resp.Message, "keyword search unavailable")
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "/docs/vec.md", resp.Results[0].ID)
}

func TestSearch_EmptySuccessWhenBothArmsFail(t *testing.T) {
	inner := newSearchStore(t)
	upsertDoc(t, inner, "/docs/a.md", "a.md", "some body", []float32{1, 0, 0})
	store := &failingStore{Store: inner, failVector: true, failFullText: true}

	svc := NewService(store, &stubEmbedder{})
	resp := svc.Search(context.Background(), "anything", Options{})

	assert.Equal(t, "success", resp.Status, "arm failures never surface as errors")
	assert.True(t, resp.FallbackTriggered)
	assert.Empty(t, resp.Results)
	assert.Zero(t, resp.TotalCandidates)
	assert.Zero(t, resp.Returned)
	assert.Contains(t, resp.Message, "search unavailable")
}

func TestSearch_FallbackToFullTextWhenEmbedderFails(t *testing.T) {
	store := newSearchStore(t)
	upsertDoc(t, store, "/docs/guide.md", "guide.md", "deployment guide for operators", nil)

	svc := NewService(store, &stubEmbedder{fail: true})
	resp := svc.Search(context.Background(), "deployment guide", Options{})

	assert.Equal(t, "success", resp.Status)
	assert.Equal(t, MethodFullText, resp.SearchMethod)
	assert.True(t, resp.FallbackTriggered)
	assert.NotEmpty(t, resp.Message)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "/docs/guide.md", resp.Results[0].ID)
}

func TestSearch_LimitTruncates(t *testing.T) {
	store := newSearchStore(t)
	upsertDoc(t, store, "/a.md", "a.md", "shared term alpha", nil)
	upsertDoc(t, store, "/b.md", "b.md", "shared term beta", nil)
	upsertDoc(t, store, "/c.md", "c.md", "shared term gamma", nil)

	svc := NewService(store, nil)
	resp := svc.Search(context.Background(), "shared term", Options{Limit: 2})

	assert.Len(t, resp.Results, 2)
	assert.Equal(t, 2, resp.Returned)
	assert.GreaterOrEqual(t, resp.TotalCandidates, 3)
}

func TestExpandTypes(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{name: "empty stays empty", in: nil, want: nil},
		{name: "file gains chunks", in: []string{"file"}, want: []string{"file", "file_chunk"}},
		{name: "explicit pair unchanged", in: []string{"file", "file_chunk"}, want: []string{"file", "file_chunk"}},
		{name: "subscription untouched", in: []string{"subscription"}, want: []string{"subscription"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, expandTypes(tt.in))
		})
	}
}

func TestPreview(t *testing.T) {
	long := make([]rune, 300)
	for i := range long {
		long[i] = 'x'
	}
	assert.Len(t, preview(string(long)), PreviewLimit)
	assert.Equal(t, "short", preview("short"))
}
