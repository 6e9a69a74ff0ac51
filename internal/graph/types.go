// Package graph is the typed adapter over the property-graph store. It
// exposes record CRUD, vector KNN, full-text search and transient-error
// retry. Two implementations exist: a Neo4j-backed store for production
// and an embedded in-memory store for tests and single-binary use.
package graph

import (
	"context"
	"time"
)

// Node type discriminators stored on every record.
const (
	TypeFile         = "file"
	TypeFileChunk    = "file_chunk"
	TypeSubscription = "subscription"
)

// Edge types.
const (
	EdgeHasChunk  = "HAS_CHUNK"
	EdgeWatches   = "WATCHES"
	EdgeWatchedBy = "WATCHED_BY"
)

// Index names shared by both implementations.
const (
	VectorIndexName   = "node_embeddings"
	FullTextIndexName = "node_fulltext"
)

// ClearToken must be passed to Store.Clear. Requiring callers to spell
// out the token keeps a stray empty string from wiping the graph.
const ClearToken = "CLEAR-ALL-DATA"

// SubscriptionStatus is the lifecycle state of a subscription.
type SubscriptionStatus string

const (
	StatusActive    SubscriptionStatus = "active"
	StatusIndexing  SubscriptionStatus = "indexing"
	StatusCompleted SubscriptionStatus = "completed"
	StatusCancelled SubscriptionStatus = "cancelled"
	StatusError     SubscriptionStatus = "error"
)

// SubscriptionRecord is a declared directory root with indexing policy.
type SubscriptionRecord struct {
	ID                 string
	Path               string
	Recursive          bool
	IncludePatterns    []string
	IgnorePatterns     []string
	DebounceMillis     int
	GenerateEmbeddings bool
	Status             SubscriptionStatus
	FilesIndexed       int
	LastIndexedTime    time.Time
	Error              string
}

// FileRecord is one indexed file, keyed by path. Content is empty when
// the file was chunked; Embedding is set only for small unchunked files.
type FileRecord struct {
	ID           string
	Path         string
	AbsolutePath string
	Name         string
	Extension    string
	Language     string
	SizeBytes    int64
	LineCount    int
	ModifiedAt   time.Time
	IndexedAt    time.Time
	HasChunks    bool
	Content      string
	Embedding    []float32
	// Extra carries free-form caller properties, stored JSON-encoded.
	Extra map[string]string
}

// ChunkRecord is one bounded slice of a chunked file. IDs are
// content-addressed so re-indexing identical text is a merge.
type ChunkRecord struct {
	ID          string
	ParentPath  string
	Index       int
	Text        string
	StartOffset int
	EndOffset   int
	Embedding   []float32
	Dimensions  int
	Model       string
	TotalChunks int
	HasNext     bool
	HasPrev     bool
}

// SearchHit is one candidate from either retrieval arm. For chunk hits
// Path carries the parent file's path and ChunkIndex is >= 0; for file
// hits ChunkIndex is -1.
type SearchHit struct {
	ID           string
	Type         string
	Score        float64
	Path         string
	AbsolutePath string
	Name         string
	Language     string
	Content      string
	ChunkIndex   int
}

// Store is the graph-store adapter. All write operations are wrapped in
// transient retry by the implementations.
type Store interface {
	// EnsureSchema creates the id constraint, the path/type indexes, the
	// full-text index and the cosine vector index with the given dimension.
	EnsureSchema(ctx context.Context, dimensions int) error

	// UpsertFile merges a File record by path. When subscriptionID is
	// non-empty the WATCHES/WATCHED_BY edge pair is upserted too.
	UpsertFile(ctx context.Context, file *FileRecord, subscriptionID string) error

	// GetFile returns the record for path, or nil when absent.
	GetFile(ctx context.Context, path string) (*FileRecord, error)

	// DeleteFile removes the File and cascades over its HAS_CHUNK edges.
	DeleteFile(ctx context.Context, path string) error

	// UpsertChunk merges a FileChunk by its content-addressed id and
	// attaches the HAS_CHUNK edge from its parent.
	UpsertChunk(ctx context.Context, chunk *ChunkRecord) error

	// CountChunks returns how many chunks exist for a file path.
	CountChunks(ctx context.Context, path string) (int, error)

	// DeleteChunks removes all chunks of a file, returning the count.
	DeleteChunks(ctx context.Context, path string) (int, error)

	// UpsertSubscription merges a subscription record by id.
	UpsertSubscription(ctx context.Context, sub *SubscriptionRecord) error

	// GetSubscription returns the record for id, or nil when absent.
	GetSubscription(ctx context.Context, id string) (*SubscriptionRecord, error)

	// ListSubscriptions returns all subscription records.
	ListSubscriptions(ctx context.Context) ([]*SubscriptionRecord, error)

	// DeleteSubscription removes the subscription and the files it watches.
	DeleteSubscription(ctx context.Context, id string) error

	// VectorSearch runs KNN over the vector index, filtered to types.
	VectorSearch(ctx context.Context, vector []float32, k int, types []string) ([]*SearchHit, error)

	// FullTextSearch runs a BM25-style query, filtered to types.
	FullTextSearch(ctx context.Context, query string, limit int, types []string) ([]*SearchHit, error)

	// Clear wipes every record. token must equal ClearToken.
	Clear(ctx context.Context, token string) error

	// Close releases the connection pool or embedded indexes.
	Close(ctx context.Context) error
}

// typeSet builds a membership set; an empty filter admits everything.
func typeSet(types []string) map[string]bool {
	if len(types) == 0 {
		return nil
	}
	set := make(map[string]bool, len(types))
	for _, t := range types {
		set[t] = true
	}
	return set
}
