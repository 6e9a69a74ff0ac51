package search

// Search method labels reported in responses. Fallback responses carry
// the label of the arm that actually served them.
const (
	MethodHybrid   = "rrf_hybrid"
	MethodFullText = "fulltext"
	MethodVector   = "vector"
)

// PreviewLimit bounds content_preview length.
const PreviewLimit = 200

// Options tunes one query.
type Options struct {
	// Types filters candidate node types. "file" expands to include
	// "file_chunk" since embeddings live on chunks.
	Types []string
	// Limit bounds the returned result count.
	Limit int
	// MinSimilarity drops vector candidates below this cosine score.
	MinSimilarity float64
	// RRFK is the fusion smoothing constant.
	RRFK int
	// VectorWeight and BM25Weight are the per-arm fusion weights.
	VectorWeight float64
	BM25Weight   float64
	// MinScore drops fused results below this normalized score.
	MinScore float64
}

// WithDefaults returns options with defaults applied for zero values.
func (o Options) WithDefaults() Options {
	if o.Limit <= 0 {
		o.Limit = 10
	}
	if o.MinSimilarity <= 0 {
		o.MinSimilarity = 0.75
	}
	if o.RRFK <= 0 {
		o.RRFK = DefaultRRFK
	}
	if o.VectorWeight <= 0 {
		o.VectorWeight = 1.0
	}
	if o.BM25Weight <= 0 {
		o.BM25Weight = 1.0
	}
	if o.MinScore <= 0 {
		o.MinScore = 0.01
	}
	return o
}

// ParentFile identifies the file a chunk hit belongs to.
type ParentFile struct {
	Path         string `json:"path"`
	AbsolutePath string `json:"absolute_path,omitempty"`
	Name         string `json:"name,omitempty"`
	Language     string `json:"language,omitempty"`
}

// Result is one shaped search result. For chunk hits the id is the
// parent file's path and the chunk block is populated.
type Result struct {
	ID             string      `json:"id"`
	Type           string      `json:"type"`
	Title          string      `json:"title,omitempty"`
	ContentPreview string      `json:"content_preview"`
	Similarity     float64     `json:"similarity,omitempty"`
	Relevance      float64     `json:"relevance,omitempty"`
	ChunkText      string      `json:"chunk_text,omitempty"`
	ChunkIndex     *int        `json:"chunk_index,omitempty"`
	ChunksMatched  int         `json:"chunks_matched,omitempty"`
	ParentFile     *ParentFile `json:"parent_file,omitempty"`
	Path           string      `json:"path,omitempty"`
	AbsolutePath   string      `json:"absolute_path,omitempty"`
}

// Response is the search envelope. Status is always "success"; internal
// failures degrade through the fallback ladder instead of propagating.
type Response struct {
	Status            string    `json:"status"`
	Query             string    `json:"query"`
	Results           []*Result `json:"results"`
	TotalCandidates   int       `json:"total_candidates"`
	Returned          int       `json:"returned"`
	SearchMethod      string    `json:"search_method"`
	FallbackTriggered bool      `json:"fallback_triggered,omitempty"`
	Message           string    `json:"message,omitempty"`
}
