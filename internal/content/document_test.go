package content

import (
	"archive/zip"
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fgerrors "github.com/filegraph/filegraph/internal/errors"
)

// buildDOCX assembles a minimal DOCX container around the given paragraphs.
func buildDOCX(t *testing.T, paragraphs []string) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	var body bytes.Buffer
	body.WriteString(`<?xml version="1.0"?><w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`)
	for _, p := range paragraphs {
		body.WriteString(`<w:p><w:r><w:t>` + p + `</w:t></w:r></w:p>`)
	}
	body.WriteString(`</w:body></w:document>`)

	f, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = f.Write(body.Bytes())
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	return buf.Bytes()
}

func TestExtract_DOCX(t *testing.T) {
	e := &Extractor{}
	docx := buildDOCX(t, []string{"First paragraph.", "Second paragraph."})

	text, err := e.Extract(".docx", docx)
	require.NoError(t, err)
	assert.Contains(t, text, "First paragraph.")
	assert.Contains(t, text, "Second paragraph.")
	assert.Contains(t, text, "\n", "paragraphs separated by newlines")
}

func TestExtract_DOCXEmptyIsSkip(t *testing.T) {
	e := &Extractor{}
	docx := buildDOCX(t, nil)

	_, err := e.Extract(".docx", docx)
	require.Error(t, err)
	assert.True(t, fgerrors.IsSkip(err))
	assert.True(t, errors.Is(err, fgerrors.New(fgerrors.ErrCodeEmptyExtraction, "", nil)))
}

func TestExtract_UnsupportedExtension(t *testing.T) {
	e := &Extractor{}
	_, err := e.Extract(".xls", []byte("whatever"))
	require.Error(t, err)
	assert.True(t, fgerrors.IsSkip(err))
	assert.Equal(t, fgerrors.ErrCodeUnsupportedFormat, fgerrors.GetCode(err))
}

func TestExtract_PDFDisabledReportsUnsupported(t *testing.T) {
	e := &Extractor{DisablePDF: true}
	_, err := e.Extract(".pdf", []byte("%PDF-1.4 ..."))
	require.Error(t, err)
	assert.Equal(t, fgerrors.ErrCodeUnsupportedFormat, fgerrors.GetCode(err))
}

func TestExtract_TruncatedPDFIsRetryable(t *testing.T) {
	// A file that is still being copied often has a valid header and a
	// truncated body; that must land in the retryable class.
	e := &Extractor{}
	_, err := e.Extract(".pdf", []byte("%PDF-1.4\ngarbage"))
	require.Error(t, err)
	assert.True(t, fgerrors.IsRetryable(err))
}

func TestExtract_ExtensionCaseInsensitive(t *testing.T) {
	e := &Extractor{}
	docx := buildDOCX(t, []string{"case test"})

	text, err := e.Extract(".DOCX", docx)
	require.NoError(t, err)
	assert.Contains(t, text, "case test")
}
