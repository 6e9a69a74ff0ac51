package content

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/ledongthuc/pdf"

	fgerrors "github.com/filegraph/filegraph/internal/errors"
)

// Extractor produces plain text from binary document formats.
type Extractor struct {
	// DisablePDF reports PDF as unsupported. Some hosts lack the CPU
	// instructions the PDF text layer needs; the flag lets them opt out
	// without losing the rest of the pipeline.
	DisablePDF bool
}

// SupportedDocumentExtensions lists the extensions Extract can handle.
var SupportedDocumentExtensions = map[string]bool{
	".pdf":  true,
	".docx": true,
}

// Extract dispatches on the (lowercased) extension and returns plain text.
// Unsupported extensions and empty extractions are skip-class errors.
func (e *Extractor) Extract(ext string, buf []byte) (string, error) {
	switch strings.ToLower(ext) {
	case ".pdf":
		if e.DisablePDF {
			return "", fgerrors.Skip(fgerrors.ErrCodeUnsupportedFormat, "pdf support disabled on this host")
		}
		return e.extractPDF(buf)
	case ".docx":
		return e.extractDOCX(buf)
	default:
		return "", fgerrors.Skip(fgerrors.ErrCodeUnsupportedFormat, fmt.Sprintf("no document handler for %q", ext))
	}
}

// extractPDF pulls the text layer out of a PDF buffer.
func (e *Extractor) extractPDF(buf []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(buf), int64(len(buf)))
	if err != nil {
		return "", fgerrors.Wrap(fgerrors.ErrCodePartialWrite, fmt.Errorf("open pdf: %w", err))
	}

	textReader, err := reader.GetPlainText()
	if err != nil {
		return "", fgerrors.Wrap(fgerrors.ErrCodePartialWrite, fmt.Errorf("extract pdf text: %w", err))
	}

	text, err := io.ReadAll(textReader)
	if err != nil {
		return "", fgerrors.Wrap(fgerrors.ErrCodePartialWrite, fmt.Errorf("read pdf text: %w", err))
	}

	trimmed := strings.TrimSpace(string(text))
	if trimmed == "" {
		return "", fgerrors.Skip(fgerrors.ErrCodeEmptyExtraction, "pdf contains no extractable text")
	}
	return trimmed, nil
}

// docx paragraph/text elements in the WordprocessingML main document part.
type docxText struct {
	XMLName xml.Name
	Value   string `xml:",chardata"`
}

// extractDOCX reads word/document.xml from the DOCX zip container and
// collects the text runs, one line per paragraph. Structural oddities are
// logged as warnings, not failures.
func (e *Extractor) extractDOCX(buf []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(buf), int64(len(buf)))
	if err != nil {
		return "", fgerrors.Wrap(fgerrors.ErrCodePartialWrite, fmt.Errorf("open docx container: %w", err))
	}

	var doc *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			doc = f
			break
		}
	}
	if doc == nil {
		return "", fgerrors.Skip(fgerrors.ErrCodeEmptyExtraction, "docx has no word/document.xml part")
	}

	rc, err := doc.Open()
	if err != nil {
		return "", fgerrors.Wrap(fgerrors.ErrCodePartialWrite, fmt.Errorf("open docx document part: %w", err))
	}
	defer func() { _ = rc.Close() }()

	var b strings.Builder
	decoder := xml.NewDecoder(rc)
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			slog.Warn("docx decode warning, keeping partial text",
				slog.String("error", err.Error()))
			break
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "t" {
				var run docxText
				if err := decoder.DecodeElement(&run, &t); err != nil {
					slog.Warn("docx text run decode warning",
						slog.String("error", err.Error()))
					continue
				}
				b.WriteString(run.Value)
			}
		case xml.EndElement:
			if t.Name.Local == "p" {
				b.WriteString("\n")
			}
		}
	}

	trimmed := strings.TrimSpace(b.String())
	if trimmed == "" {
		return "", fgerrors.Skip(fgerrors.ErrCodeEmptyExtraction, "docx contains no text")
	}
	return trimmed, nil
}
