// Package chunk splits text into bounded, overlapping slices for
// embedding. Boundaries prefer paragraph breaks, then sentence ends, then
// spaces, so chunks stay semantically coherent.
package chunk

import (
	"strings"
)

// Default chunking parameters. 768 characters roughly fills the context
// window of small embedding models once the metadata preface is added.
const (
	DefaultChunkSize = 768
	DefaultOverlap   = 10
)

// Chunk is one bounded slice of a file's text.
type Chunk struct {
	// Index is the 0-based position of the chunk within its file.
	Index int
	// Text is the trimmed chunk content.
	Text string
	// Start and End are byte offsets into the original text, before trimming.
	Start int
	End   int
}

// Options configures the chunker.
type Options struct {
	// ChunkSize is the maximum chunk length in bytes.
	ChunkSize int
	// Overlap is how many bytes consecutive chunks share.
	Overlap int
}

// WithDefaults returns options with defaults applied for zero values.
func (o Options) WithDefaults() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.Overlap < 0 || o.Overlap >= o.ChunkSize {
		o.Overlap = DefaultOverlap
	}
	return o
}

// Split divides text into ordered chunks. The algorithm is deterministic:
// the same input always produces the same chunks.
//
// Each chunk ends at the nearest preceding paragraph boundary ("\n\n") no
// earlier than half the chunk size; failing that, a sentence boundary
// (". "); failing that, a space; failing that, the hard size limit.
// Consecutive chunks overlap by Overlap bytes.
func Split(text string, opts Options) []Chunk {
	opts = opts.WithDefaults()

	if strings.TrimSpace(text) == "" {
		return nil
	}

	if len(text) <= opts.ChunkSize {
		return []Chunk{{Index: 0, Text: strings.TrimSpace(text), Start: 0, End: len(text)}}
	}

	var chunks []Chunk
	start := 0
	index := 0

	for start < len(text) {
		end := start + opts.ChunkSize
		if end >= len(text) {
			end = len(text)
		} else {
			end = snapToBoundary(text, start, end, opts.ChunkSize)
		}

		if trimmed := strings.TrimSpace(text[start:end]); trimmed != "" {
			chunks = append(chunks, Chunk{
				Index: index,
				Text:  trimmed,
				Start: start,
				End:   end,
			})
			index++
		}

		if end >= len(text) {
			break
		}

		next := end - opts.Overlap
		if next < 0 {
			next = 0
		}
		// Guarantee forward progress even for degenerate boundary picks.
		if next <= start {
			next = end
		}
		start = next
	}

	return chunks
}

// snapToBoundary pulls end back to the best natural break point that keeps
// the chunk at least half its nominal size. Returns end unchanged when no
// boundary qualifies.
func snapToBoundary(text string, start, end, chunkSize int) int {
	minEnd := start + chunkSize/2

	if idx := strings.LastIndex(text[start:end], "\n\n"); idx >= 0 && start+idx >= minEnd {
		return start + idx
	}
	if idx := strings.LastIndex(text[start:end], ". "); idx >= 0 && start+idx+1 >= minEnd {
		// Keep the period with the sentence it closes.
		return start + idx + 1
	}
	if idx := strings.LastIndex(text[start:end], " "); idx >= 0 && start+idx >= minEnd {
		return start + idx
	}
	return end
}
