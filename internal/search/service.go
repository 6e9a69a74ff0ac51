package search

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/filegraph/filegraph/internal/embed"
	"github.com/filegraph/filegraph/internal/graph"
)

// Service runs hybrid queries against the graph store. A nil embedder
// means embeddings are globally off and only the full-text arm runs.
type Service struct {
	store    graph.Store
	embedder embed.Client
}

// NewService creates a search service.
func NewService(store graph.Store, embedder embed.Client) *Service {
	return &Service{store: store, embedder: embedder}
}

// candidate is one fusion input: a file hit, or a group of chunk hits
// collapsed onto their parent file with the best chunk as representative.
type candidate struct {
	id            string
	hit           *graph.SearchHit
	score         float64
	avgScore      float64
	chunksMatched int
}

// Search executes the pipeline and always returns a success envelope;
// arm failures degrade through the fallback ladder rather than
// surfacing as errors.
func (s *Service) Search(ctx context.Context, query string, opts Options) *Response {
	opts = opts.WithDefaults()
	resp := &Response{
		Status:       "success",
		Query:        query,
		Results:      []*Result{},
		SearchMethod: MethodHybrid,
	}
	if s.embedder == nil {
		resp.SearchMethod = MethodFullText
	}

	query = strings.TrimSpace(query)
	if query == "" {
		resp.Message = "empty query"
		return resp
	}

	types := expandTypes(opts.Types)

	if s.embedder == nil {
		cands, err := s.fullTextArm(ctx, query, types, opts)
		if err != nil {
			slog.Warn("full-text search failed", slog.String("error", err.Error()))
			resp.Message = "search unavailable: " + err.Error()
			return resp
		}
		s.fill(resp, orderedIDs(cands), nil, byID(cands), opts.Limit)
		return resp
	}

	var (
		vecCands []*candidate
		bmCands  []*candidate
		vecErr   error
		bmErr    error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		vecCands, vecErr = s.vectorArm(gctx, query, types, opts)
		return nil
	})
	g.Go(func() error {
		bmCands, bmErr = s.fullTextArm(gctx, query, types, opts)
		return nil
	})
	_ = g.Wait()

	vecByID, bmByID := byID(vecCands), byID(bmCands)

	switch {
	case vecErr == nil && bmErr == nil:
		fused := Fuse(
			[][]RankedItem{ranked(vecCands), ranked(bmCands)},
			FusionConfig{
				K:        opts.RRFK,
				Weights:  []float64{opts.VectorWeight, opts.BM25Weight},
				MinScore: opts.MinScore,
			},
		)
		ids := make([]string, len(fused))
		for i, item := range fused {
			ids[i] = item.ID
		}
		s.fill(resp, ids, vecByID, bmByID, opts.Limit)

	case vecErr != nil && bmErr == nil:
		slog.Warn("vector arm failed, falling back to full-text",
			slog.String("error", vecErr.Error()))
		resp.SearchMethod = MethodFullText
		resp.FallbackTriggered = true
		resp.Message = "semantic search unavailable, keyword results only"
		s.fill(resp, orderedIDs(bmCands), nil, bmByID, opts.Limit)

	case vecErr == nil && bmErr != nil:
		slog.Warn("full-text arm failed, vector results only",
			slog.String("error", bmErr.Error()))
		resp.SearchMethod = MethodVector
		resp.FallbackTriggered = true
		resp.Message = "keyword search unavailable, semantic results only"
		s.fill(resp, orderedIDs(vecCands), vecByID, nil, opts.Limit)

	default:
		slog.Error("both search arms failed",
			slog.String("vector_error", vecErr.Error()),
			slog.String("fulltext_error", bmErr.Error()))
		resp.FallbackTriggered = true
		resp.Message = "search unavailable: " + vecErr.Error()
	}
	return resp
}

// vectorArm embeds the query, runs KNN over a 2x candidate pool, drops
// weak matches and groups chunk hits by parent file, keeping the best
// chunk as the group representative.
func (s *Service) vectorArm(ctx context.Context, query string, types []string, opts Options) ([]*candidate, error) {
	emb, err := s.embedder.EmbedText(ctx, query)
	if err != nil {
		return nil, err
	}

	hits, err := s.store.VectorSearch(ctx, emb.Vector, opts.Limit*2, types)
	if err != nil {
		return nil, err
	}

	groups := make(map[string]*candidate)
	var order []string
	for _, hit := range hits {
		if hit.Score < opts.MinSimilarity {
			continue
		}
		id := groupID(hit)
		c, ok := groups[id]
		if !ok {
			c = &candidate{id: id, hit: hit, score: hit.Score}
			groups[id] = c
			order = append(order, id)
		}
		if hit.Score > c.score {
			c.score = hit.Score
			c.hit = hit
		}
		c.avgScore += hit.Score
		c.chunksMatched++
	}

	cands := make([]*candidate, 0, len(groups))
	for _, id := range order {
		c := groups[id]
		c.avgScore /= float64(c.chunksMatched)
		cands = append(cands, c)
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].score != cands[j].score {
			return cands[i].score > cands[j].score
		}
		return cands[i].id < cands[j].id
	})
	if len(cands) > opts.Limit {
		cands = cands[:opts.Limit]
	}
	return cands, nil
}

// fullTextArm runs the BM25 query over a 2x candidate pool and
// deduplicates chunk hits onto their parent file, keeping rank order.
func (s *Service) fullTextArm(ctx context.Context, query string, types []string, opts Options) ([]*candidate, error) {
	hits, err := s.store.FullTextSearch(ctx, query, opts.Limit*2, types)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]*candidate)
	var cands []*candidate
	for _, hit := range hits {
		id := groupID(hit)
		if c, ok := seen[id]; ok {
			c.chunksMatched++
			continue
		}
		c := &candidate{id: id, hit: hit, score: hit.Score, avgScore: hit.Score, chunksMatched: 1}
		seen[id] = c
		cands = append(cands, c)
	}
	return cands, nil
}

// fill shapes the ordered candidate ids into the response.
func (s *Service) fill(resp *Response, ids []string, vec, bm map[string]*candidate, limit int) {
	resp.TotalCandidates = len(ids)
	for _, id := range ids {
		if len(resp.Results) >= limit {
			break
		}
		if result := buildResult(vec[id], bm[id]); result != nil {
			resp.Results = append(resp.Results, result)
		}
	}
	resp.Returned = len(resp.Results)
}

// buildResult merges the vector-arm and full-text-arm views of one
// candidate into a shaped result.
func buildResult(vc, bc *candidate) *Result {
	rep := vc
	if rep == nil {
		rep = bc
	}
	if rep == nil || rep.hit == nil {
		return nil
	}
	hit := rep.hit

	result := &Result{
		ID:             rep.id,
		Type:           hit.Type,
		Title:          hit.Name,
		ContentPreview: preview(hit.Content),
	}
	if vc != nil {
		result.Similarity = vc.score
	}
	if bc != nil {
		result.Relevance = bc.score
	}

	if hit.Type == graph.TypeFileChunk {
		idx := hit.ChunkIndex
		result.ChunkText = hit.Content
		result.ChunkIndex = &idx
		result.ChunksMatched = rep.chunksMatched
		result.ParentFile = &ParentFile{
			Path:         hit.Path,
			AbsolutePath: hit.AbsolutePath,
			Name:         hit.Name,
			Language:     hit.Language,
		}
	} else {
		result.Path = hit.Path
		result.AbsolutePath = hit.AbsolutePath
	}
	return result
}

// groupID is the fusion identity: parent-file path for chunk hits, the
// node's own path (or id) otherwise.
func groupID(hit *graph.SearchHit) string {
	if hit.Path != "" {
		return hit.Path
	}
	return hit.ID
}

// expandTypes widens a "file" filter to include chunks, since the
// embeddings of large files live on their chunks.
func expandTypes(types []string) []string {
	if len(types) == 0 {
		return nil
	}
	hasFile, hasChunk := false, false
	for _, t := range types {
		switch t {
		case graph.TypeFile:
			hasFile = true
		case graph.TypeFileChunk:
			hasChunk = true
		}
	}
	if hasFile && !hasChunk {
		return append(append([]string{}, types...), graph.TypeFileChunk)
	}
	return types
}

// preview truncates content for display.
func preview(content string) string {
	runes := []rune(content)
	if len(runes) <= PreviewLimit {
		return content
	}
	return string(runes[:PreviewLimit])
}

func ranked(cands []*candidate) []RankedItem {
	items := make([]RankedItem, len(cands))
	for i, c := range cands {
		items[i] = RankedItem{ID: c.id, Score: c.score}
	}
	return items
}

func byID(cands []*candidate) map[string]*candidate {
	m := make(map[string]*candidate, len(cands))
	for _, c := range cands {
		m[c.id] = c
	}
	return m
}

func orderedIDs(cands []*candidate) []string {
	ids := make([]string, len(cands))
	for i, c := range cands {
		ids[i] = c.id
	}
	return ids
}
