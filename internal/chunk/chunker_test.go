package chunk

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit_ShortTextSingleChunk(t *testing.T) {
	chunks := Split("hello world", Options{})
	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].Index)
	assert.Equal(t, "hello world", chunks[0].Text)
	assert.Equal(t, 0, chunks[0].Start)
	assert.Equal(t, 11, chunks[0].End)
}

func TestSplit_EmptyAndWhitespace(t *testing.T) {
	assert.Nil(t, Split("", Options{}))
	assert.Nil(t, Split("   \n\t  ", Options{}))
}

func TestSplit_ChunkIndicesAreContiguous(t *testing.T) {
	text := strings.Repeat("lorem ipsum dolor sit amet ", 400) // ~10.8KB
	chunks := Split(text, Options{ChunkSize: 768, Overlap: 10})

	require.Greater(t, len(chunks), 1)
	for i, c := range chunks {
		assert.Equal(t, i, c.Index, "indices must be 0..n-1 without gaps")
		assert.NotEmpty(t, c.Text)
	}
}

func TestSplit_ChunkSizeRespected(t *testing.T) {
	text := strings.Repeat("word ", 2000)
	chunks := Split(text, Options{ChunkSize: 100, Overlap: 10})

	for _, c := range chunks {
		assert.LessOrEqual(t, c.End-c.Start, 100)
	}
}

func TestSplit_OverlapBetweenChunks(t *testing.T) {
	text := strings.Repeat("a", 50) + " " + strings.Repeat("b", 100)
	chunks := Split(text, Options{ChunkSize: 80, Overlap: 10})

	require.Greater(t, len(chunks), 1)
	for i := 1; i < len(chunks); i++ {
		assert.Equal(t, chunks[i-1].End-10, chunks[i].Start,
			"next chunk starts overlap bytes before previous end")
	}
}

func TestSplit_PrefersParagraphBoundary(t *testing.T) {
	para1 := strings.Repeat("x", 500)
	para2 := strings.Repeat("y", 500)
	text := para1 + "\n\n" + para2

	chunks := Split(text, Options{ChunkSize: 768, Overlap: 10})

	require.GreaterOrEqual(t, len(chunks), 2)
	assert.Equal(t, 500, chunks[0].End, "first chunk ends at the paragraph break")
	assert.Equal(t, para1, chunks[0].Text)
}

func TestSplit_PrefersSentenceBoundaryWithoutParagraph(t *testing.T) {
	sentence := strings.Repeat("z", 600) + ". "
	text := sentence + strings.Repeat("w", 600)

	chunks := Split(text, Options{ChunkSize: 768, Overlap: 10})

	require.GreaterOrEqual(t, len(chunks), 2)
	assert.Equal(t, 601, chunks[0].End, "chunk ends just after the period")
}

func TestSplit_HardBreakWithoutAnyBoundary(t *testing.T) {
	text := strings.Repeat("q", 2000)
	chunks := Split(text, Options{ChunkSize: 768, Overlap: 10})

	require.Greater(t, len(chunks), 1)
	assert.Equal(t, 768, chunks[0].End)
	assert.Equal(t, 758, chunks[1].Start)
}

func TestSplit_Deterministic(t *testing.T) {
	text := strings.Repeat("the quick brown fox. ", 300)
	a := Split(text, Options{})
	b := Split(text, Options{})
	assert.Equal(t, a, b)
}

func TestSplit_CoversAllNonWhitespaceText(t *testing.T) {
	text := strings.Repeat("alpha beta gamma delta. ", 200)
	chunks := Split(text, Options{ChunkSize: 256, Overlap: 16})

	// The union of [Start, End) must reach the end of the text.
	require.NotEmpty(t, chunks)
	assert.Equal(t, 0, chunks[0].Start)
	assert.Equal(t, len(text), chunks[len(chunks)-1].End)
	for i := 1; i < len(chunks); i++ {
		assert.LessOrEqual(t, chunks[i].Start, chunks[i-1].End,
			"no gap between consecutive chunks")
	}
}

func TestOptions_WithDefaults(t *testing.T) {
	o := Options{}.WithDefaults()
	assert.Equal(t, DefaultChunkSize, o.ChunkSize)
	assert.Equal(t, DefaultOverlap, o.Overlap)

	// Overlap >= ChunkSize would loop forever; it falls back to default.
	o = Options{ChunkSize: 100, Overlap: 200}.WithDefaults()
	assert.Equal(t, DefaultOverlap, o.Overlap)
}
