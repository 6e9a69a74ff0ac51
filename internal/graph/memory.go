package graph

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/coder/hnsw"

	fgerrors "github.com/filegraph/filegraph/internal/errors"
)

// memoryDoc is the bleve document for the full-text arm. The default
// mapping folds every field into the composite index, so a match query
// without a field hits path, name, language and content together.
type memoryDoc struct {
	Path     string `json:"path"`
	Name     string `json:"name"`
	Language string `json:"language"`
	Content  string `json:"content"`
}

// MemoryStore is the embedded Store: HNSW for the vector arm, bleve for
// the BM25 arm, plain maps for records. Used by tests and by hosts that
// run without a graph server.
type MemoryStore struct {
	mu sync.RWMutex

	files      map[string]*FileRecord   // keyed by path
	fileIDPath map[string]string        // file id -> path
	chunks     map[string][]*ChunkRecord
	chunkByID  map[string]*ChunkRecord
	subs       map[string]*SubscriptionRecord
	watches    map[string]map[string]bool // subscription id -> watched paths

	vectors *hnsw.Graph[uint64]
	idMap   map[string]uint64
	keyMap  map[uint64]string
	nextKey uint64

	text       bleve.Index
	dimensions int
	closed     bool
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty embedded store.
func NewMemoryStore() (*MemoryStore, error) {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("creating text index: %w", err)
	}

	return &MemoryStore{
		files:      make(map[string]*FileRecord),
		fileIDPath: make(map[string]string),
		chunks:     make(map[string][]*ChunkRecord),
		chunkByID:  make(map[string]*ChunkRecord),
		subs:       make(map[string]*SubscriptionRecord),
		watches:    make(map[string]map[string]bool),
		vectors:    newVectorGraph(),
		idMap:      make(map[string]uint64),
		keyMap:     make(map[uint64]string),
		text:       idx,
	}, nil
}

func newVectorGraph() *hnsw.Graph[uint64] {
	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.CosineDistance
	g.M = 16
	g.EfSearch = 20
	g.Ml = 0.25
	return g
}

// EnsureSchema records the embedding dimension; the embedded indexes are
// created in the constructor.
func (s *MemoryStore) EnsureSchema(ctx context.Context, dimensions int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}
	s.dimensions = dimensions
	return nil
}

// addVector upserts one vector under a string id. Re-adds use lazy
// deletion: the old graph node is orphaned rather than removed.
// Caller holds the write lock.
func (s *MemoryStore) addVector(id string, vector []float32) error {
	if s.dimensions > 0 && len(vector) != s.dimensions {
		return fgerrors.New(fgerrors.ErrCodeDimensionMismatch,
			fmt.Sprintf("expected %d dimensions, got %d", s.dimensions, len(vector)), nil)
	}

	if oldKey, exists := s.idMap[id]; exists {
		delete(s.keyMap, oldKey)
		delete(s.idMap, id)
	}

	key := s.nextKey
	s.nextKey++
	s.vectors.Add(hnsw.MakeNode(key, vector))
	s.idMap[id] = key
	s.keyMap[key] = id
	return nil
}

// dropVector lazily removes a vector. Caller holds the write lock.
func (s *MemoryStore) dropVector(id string) {
	if key, exists := s.idMap[id]; exists {
		delete(s.keyMap, key)
		delete(s.idMap, id)
	}
}

// UpsertFile merges the File by path and refreshes both indexes.
func (s *MemoryStore) UpsertFile(ctx context.Context, file *FileRecord, subscriptionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	// One File per path: an id change for the same path replaces it.
	if old, exists := s.files[file.Path]; exists && old.ID != file.ID {
		delete(s.fileIDPath, old.ID)
		s.dropVector(old.ID)
	}

	cp := *file
	s.files[file.Path] = &cp
	s.fileIDPath[file.ID] = file.Path

	if file.Embedding != nil {
		if err := s.addVector(file.ID, file.Embedding); err != nil {
			return err
		}
	} else {
		s.dropVector(file.ID)
	}

	doc := memoryDoc{
		Path:     file.Path,
		Name:     file.Name,
		Language: file.Language,
		Content:  file.Content,
	}
	if err := s.text.Index(file.ID, doc); err != nil {
		return fgerrors.Wrap(fgerrors.ErrCodeGraphWrite, err)
	}

	if subscriptionID != "" {
		if s.watches[subscriptionID] == nil {
			s.watches[subscriptionID] = make(map[string]bool)
		}
		s.watches[subscriptionID][file.Path] = true
	}
	return nil
}

// GetFile returns a copy of the record for path, or nil when absent.
func (s *MemoryStore) GetFile(ctx context.Context, path string) (*FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	file, exists := s.files[path]
	if !exists {
		return nil, nil
	}
	cp := *file
	return &cp, nil
}

// DeleteFile removes the File and cascades over its chunks.
func (s *MemoryStore) DeleteFile(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	file, exists := s.files[path]
	if !exists {
		return nil
	}

	if err := s.deleteChunksLocked(path); err != nil {
		return err
	}

	delete(s.files, path)
	delete(s.fileIDPath, file.ID)
	s.dropVector(file.ID)
	if err := s.text.Delete(file.ID); err != nil {
		return fgerrors.Wrap(fgerrors.ErrCodeGraphWrite, err)
	}

	for _, watched := range s.watches {
		delete(watched, path)
	}
	return nil
}

// UpsertChunk merges the chunk by id under its parent path.
func (s *MemoryStore) UpsertChunk(ctx context.Context, chunk *ChunkRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	cp := *chunk
	if existing, exists := s.chunkByID[chunk.ID]; exists {
		// Content-addressed id: same id means same text. Replace in place.
		*existing = cp
	} else {
		s.chunkByID[chunk.ID] = &cp
		s.chunks[chunk.ParentPath] = append(s.chunks[chunk.ParentPath], &cp)
		sort.Slice(s.chunks[chunk.ParentPath], func(i, j int) bool {
			return s.chunks[chunk.ParentPath][i].Index < s.chunks[chunk.ParentPath][j].Index
		})
	}

	if chunk.Embedding != nil {
		if err := s.addVector(chunk.ID, chunk.Embedding); err != nil {
			return err
		}
	}

	doc := memoryDoc{Path: chunk.ParentPath, Content: chunk.Text}
	if err := s.text.Index(chunk.ID, doc); err != nil {
		return fgerrors.Wrap(fgerrors.ErrCodeGraphWrite, err)
	}
	return nil
}

// CountChunks returns the number of chunks stored for a path.
func (s *MemoryStore) CountChunks(ctx context.Context, path string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, fmt.Errorf("store is closed")
	}
	return len(s.chunks[path]), nil
}

// DeleteChunks removes every chunk of a path, returning the count.
func (s *MemoryStore) DeleteChunks(ctx context.Context, path string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, fmt.Errorf("store is closed")
	}

	n := len(s.chunks[path])
	if err := s.deleteChunksLocked(path); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *MemoryStore) deleteChunksLocked(path string) error {
	for _, chunk := range s.chunks[path] {
		delete(s.chunkByID, chunk.ID)
		s.dropVector(chunk.ID)
		if err := s.text.Delete(chunk.ID); err != nil {
			return fgerrors.Wrap(fgerrors.ErrCodeGraphWrite, err)
		}
	}
	delete(s.chunks, path)
	return nil
}

// UpsertSubscription merges the subscription record by id.
func (s *MemoryStore) UpsertSubscription(ctx context.Context, sub *SubscriptionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}
	cp := *sub
	s.subs[sub.ID] = &cp
	return nil
}

// GetSubscription returns a copy of the record for id, or nil.
func (s *MemoryStore) GetSubscription(ctx context.Context, id string) (*SubscriptionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}
	sub, exists := s.subs[id]
	if !exists {
		return nil, nil
	}
	cp := *sub
	return &cp, nil
}

// ListSubscriptions returns all records ordered by path.
func (s *MemoryStore) ListSubscriptions(ctx context.Context) ([]*SubscriptionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	subs := make([]*SubscriptionRecord, 0, len(s.subs))
	for _, sub := range s.subs {
		cp := *sub
		subs = append(subs, &cp)
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].Path < subs[j].Path })
	return subs, nil
}

// DeleteSubscription removes the subscription and its watched files.
func (s *MemoryStore) DeleteSubscription(ctx context.Context, id string) error {
	s.mu.Lock()
	watched := s.watches[id]
	delete(s.watches, id)
	delete(s.subs, id)
	paths := make([]string, 0, len(watched))
	for path := range watched {
		paths = append(paths, path)
	}
	s.mu.Unlock()

	for _, path := range paths {
		if err := s.DeleteFile(ctx, path); err != nil {
			return err
		}
	}
	return nil
}

// VectorSearch runs KNN over the embedded HNSW graph. Lazily deleted
// vectors and type-filtered hits are dropped, so the graph is probed for
// more than k candidates.
func (s *MemoryStore) VectorSearch(ctx context.Context, vector []float32, k int, types []string) ([]*SearchHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}
	if s.dimensions > 0 && len(vector) != s.dimensions {
		return nil, fgerrors.New(fgerrors.ErrCodeDimensionMismatch,
			fmt.Sprintf("expected %d dimensions, got %d", s.dimensions, len(vector)), nil)
	}
	if s.vectors.Len() == 0 {
		return nil, nil
	}

	admit := typeSet(types)
	nodes := s.vectors.Search(vector, k*2)

	hits := make([]*SearchHit, 0, k)
	for _, node := range nodes {
		id, exists := s.keyMap[node.Key]
		if !exists {
			continue
		}

		distance := s.vectors.Distance(vector, node.Value)
		score := 1 - float64(distance)

		hit := s.resolveHitLocked(id, score)
		if hit == nil {
			continue
		}
		if admit != nil && !admit[hit.Type] {
			continue
		}
		hits = append(hits, hit)
		if len(hits) >= k {
			break
		}
	}
	return hits, nil
}

// FullTextSearch runs a BM25-scored match query over the bleve index.
func (s *MemoryStore) FullTextSearch(ctx context.Context, query string, limit int, types []string) ([]*SearchHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	matchQuery := bleve.NewMatchQuery(query)
	request := bleve.NewSearchRequest(matchQuery)
	request.Size = limit * 2

	result, err := s.text.SearchInContext(ctx, request)
	if err != nil {
		return nil, fgerrors.Wrap(fgerrors.ErrCodeSearchFailed, err)
	}

	admit := typeSet(types)
	hits := make([]*SearchHit, 0, limit)
	for _, docMatch := range result.Hits {
		hit := s.resolveHitLocked(docMatch.ID, docMatch.Score)
		if hit == nil {
			continue
		}
		if admit != nil && !admit[hit.Type] {
			continue
		}
		hits = append(hits, hit)
		if len(hits) >= limit {
			break
		}
	}
	return hits, nil
}

// resolveHitLocked maps a node id back to a typed hit, joining chunks to
// their parent file. Caller holds at least the read lock.
func (s *MemoryStore) resolveHitLocked(id string, score float64) *SearchHit {
	if chunk, exists := s.chunkByID[id]; exists {
		hit := &SearchHit{
			ID:         chunk.ID,
			Type:       TypeFileChunk,
			Score:      score,
			Path:       chunk.ParentPath,
			Content:    chunk.Text,
			ChunkIndex: chunk.Index,
		}
		if parent, exists := s.files[chunk.ParentPath]; exists {
			hit.AbsolutePath = parent.AbsolutePath
			hit.Name = parent.Name
			hit.Language = parent.Language
		}
		return hit
	}

	if path, exists := s.fileIDPath[id]; exists {
		file := s.files[path]
		return &SearchHit{
			ID:           file.ID,
			Type:         TypeFile,
			Score:        score,
			Path:         file.Path,
			AbsolutePath: file.AbsolutePath,
			Name:         file.Name,
			Language:     file.Language,
			Content:      file.Content,
			ChunkIndex:   -1,
		}
	}
	return nil
}

// Clear wipes everything. The caller must pass ClearToken.
func (s *MemoryStore) Clear(ctx context.Context, token string) error {
	if token != ClearToken {
		return fgerrors.New(fgerrors.ErrCodeInvalidInput, "refusing to clear without safety token", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return fgerrors.Wrap(fgerrors.ErrCodeGraphWrite, err)
	}
	_ = s.text.Close()
	s.text = idx

	s.files = make(map[string]*FileRecord)
	s.fileIDPath = make(map[string]string)
	s.chunks = make(map[string][]*ChunkRecord)
	s.chunkByID = make(map[string]*ChunkRecord)
	s.subs = make(map[string]*SubscriptionRecord)
	s.watches = make(map[string]map[string]bool)
	s.vectors = newVectorGraph()
	s.idMap = make(map[string]uint64)
	s.keyMap = make(map[uint64]string)
	s.nextKey = 0
	return nil
}

// Close shuts the embedded text index.
func (s *MemoryStore) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.text.Close()
}
