// Package indexer runs the per-file pipeline: dispatch on format,
// extract or read text, classify, chunk, embed and upsert graph records.
// Every write is idempotent thanks to content-addressed ids.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/filegraph/filegraph/internal/chunk"
	"github.com/filegraph/filegraph/internal/content"
	"github.com/filegraph/filegraph/internal/embed"
	fgerrors "github.com/filegraph/filegraph/internal/errors"
	"github.com/filegraph/filegraph/internal/graph"
	"github.com/filegraph/filegraph/internal/ident"
)

// DefaultVLPrompt is sent with every image description request.
const DefaultVLPrompt = "Describe this image in detail so it can be found by text search."

// ImageDescriber produces a textual description for an image data URL.
type ImageDescriber interface {
	DescribeImage(ctx context.Context, dataURL, prompt string) (string, error)
}

// Options configures the per-file pipeline.
type Options struct {
	// ChunkSize and ChunkOverlap feed the chunker.
	ChunkSize    int
	ChunkOverlap int
	// ChunkThreshold is the text length above which a file is chunked
	// instead of stored whole. Defaults to ChunkSize.
	ChunkThreshold int
	// DisablePDF turns off PDF extraction.
	DisablePDF bool
	// ImageOptions bounds prepared image payloads.
	ImageOptions content.ImageOptions
	// VLPrompt is the image description prompt.
	VLPrompt string
	// PartialWriteRetries bounds retries for files still being written.
	PartialWriteRetries int
	// PartialWriteDelay is the first retry delay (then doubled each time).
	PartialWriteDelay time.Duration
	// Clock supplies timestamps.
	Clock ident.Clock
}

// WithDefaults returns options with defaults applied for zero values.
func (o Options) WithDefaults() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = chunk.DefaultChunkSize
	}
	if o.ChunkOverlap <= 0 {
		o.ChunkOverlap = chunk.DefaultOverlap
	}
	if o.ChunkThreshold <= 0 {
		o.ChunkThreshold = o.ChunkSize
	}
	if o.ImageOptions == (content.ImageOptions{}) {
		o.ImageOptions = content.DefaultImageOptions()
	}
	if o.VLPrompt == "" {
		o.VLPrompt = DefaultVLPrompt
	}
	if o.PartialWriteRetries <= 0 {
		o.PartialWriteRetries = 3
	}
	if o.PartialWriteDelay <= 0 {
		o.PartialWriteDelay = 2 * time.Second
	}
	if o.Clock == nil {
		o.Clock = ident.SystemClock{}
	}
	return o
}

// Request identifies one file to index.
type Request struct {
	// AbsPath is the absolute filesystem path; it keys the File record.
	AbsPath string
	// RelPath is the path relative to the subscription root, used in the
	// metadata preface.
	RelPath string
	// SubscriptionID, when set, links the File to its subscription.
	SubscriptionID string
	// GenerateEmbeddings enables the vector pipeline for this file.
	GenerateEmbeddings bool
}

// Result reports what indexing one file produced.
type Result struct {
	FileID        string
	RelativePath  string
	SizeBytes     int64
	ChunksCreated int
	// FastSkipped is set when the stored mtime proved the file unchanged.
	FastSkipped bool
	// Skipped is set for binary/unsupported/empty files.
	Skipped    bool
	SkipReason string
}

// Indexer is the per-file pipeline. Safe for concurrent use.
type Indexer struct {
	store     graph.Store
	embedder  embed.Client
	describer ImageDescriber
	extractor *content.Extractor
	opts      Options
}

// New creates an Indexer. embedder may be nil when embeddings are globally
// off; describer may be nil when no vision-language backend is configured.
func New(store graph.Store, embedder embed.Client, describer ImageDescriber, opts Options) *Indexer {
	opts = opts.WithDefaults()
	return &Indexer{
		store:     store,
		embedder:  embedder,
		describer: describer,
		extractor: &content.Extractor{DisablePDF: opts.DisablePDF},
		opts:      opts,
	}
}

// IndexFile indexes one file with partial-write retry: a file that looks
// truncated or busy (it may still be copying onto the host) is retried
// after 2s, 4s, 8s. Skip-class outcomes are reported in the Result, not
// as errors.
func (ix *Indexer) IndexFile(ctx context.Context, req Request) (*Result, error) {
	cfg := fgerrors.RetryConfig{
		MaxRetries:   ix.opts.PartialWriteRetries,
		InitialDelay: ix.opts.PartialWriteDelay,
		MaxDelay:     ix.opts.PartialWriteDelay * 4,
		Multiplier:   2.0,
		RetryIf:      isPartialWrite,
	}

	result, err := fgerrors.RetryWithResult(ctx, cfg, func() (*Result, error) {
		return ix.indexOnce(ctx, req)
	})
	if err != nil {
		if fgerrors.IsSkip(err) {
			slog.Debug("file skipped",
				slog.String("path", req.RelPath),
				slog.String("reason", err.Error()))
			return &Result{
				RelativePath: req.RelPath,
				Skipped:      true,
				SkipReason:   err.Error(),
			}, nil
		}
		return nil, err
	}
	return result, nil
}

// isPartialWrite matches the retryable patterns of a file that is still
// being written: truncated document structure, empty extraction, EBUSY
// and EAGAIN reads.
func isPartialWrite(err error) bool {
	switch fgerrors.GetCode(err) {
	case fgerrors.ErrCodePartialWrite, fgerrors.ErrCodeEmptyExtraction:
		return true
	}
	return errors.Is(err, syscall.EBUSY) || errors.Is(err, syscall.EAGAIN)
}

// indexOnce runs the pipeline a single time.
func (ix *Indexer) indexOnce(ctx context.Context, req Request) (*Result, error) {
	info, err := os.Stat(req.AbsPath)
	if err != nil {
		return nil, classifyReadError(err)
	}
	if info.IsDir() {
		return nil, fgerrors.Skip(fgerrors.ErrCodeUnsupportedFormat, "path is a directory")
	}

	// Fast skip: unchanged chunked files cost one lookup, not a re-embed.
	if req.GenerateEmbeddings {
		existing, err := ix.store.GetFile(ctx, req.AbsPath)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			count, err := ix.store.CountChunks(ctx, req.AbsPath)
			if err != nil {
				return nil, err
			}
			if count > 0 {
				if !info.ModTime().After(existing.ModifiedAt) {
					return &Result{
						FileID:       existing.ID,
						RelativePath: req.RelPath,
						SizeBytes:    existing.SizeBytes,
						FastSkipped:  true,
					}, nil
				}
				// Changed: old chunks go before new ones are written.
				if _, err := ix.store.DeleteChunks(ctx, req.AbsPath); err != nil {
					return nil, err
				}
			}
		}
	}

	ext := strings.ToLower(filepath.Ext(req.AbsPath))
	language := DetectLanguage(req.AbsPath)

	var text string
	var imageEmbedding *embed.Embedding

	switch {
	case content.SupportedDocumentExtensions[ext]:
		buf, err := os.ReadFile(req.AbsPath)
		if err != nil {
			return nil, classifyReadError(err)
		}
		text, err = ix.extractor.Extract(ext, buf)
		if err != nil {
			return nil, err
		}

	case content.SupportedImageExtensions[ext]:
		text, imageEmbedding, err = ix.indexImage(ctx, req)
		if err != nil {
			return nil, err
		}

	default:
		buf, err := os.ReadFile(req.AbsPath)
		if err != nil {
			return nil, classifyReadError(err)
		}
		if !content.IsText(buf) {
			return nil, fgerrors.Skip(fgerrors.ErrCodeBinaryContent, "binary content")
		}
		text = string(buf)
	}

	now := ix.opts.Clock.Now()
	file := &graph.FileRecord{
		ID:           ident.FileID(req.AbsPath),
		Path:         req.AbsPath,
		AbsolutePath: req.AbsPath,
		Name:         filepath.Base(req.AbsPath),
		Extension:    ext,
		Language:     language,
		SizeBytes:    info.Size(),
		LineCount:    countLines(text),
		ModifiedAt:   info.ModTime(),
		IndexedAt:    now,
	}

	if imageEmbedding != nil {
		// Multimodal path: the vector lives on the File, no text content.
		file.Embedding = imageEmbedding.Vector
		if err := ix.store.UpsertFile(ctx, file, req.SubscriptionID); err != nil {
			return nil, err
		}
		return &Result{
			FileID:       file.ID,
			RelativePath: req.RelPath,
			SizeBytes:    file.SizeBytes,
		}, nil
	}

	preface := metadataPreface(language, file.Name, req.RelPath)

	switch {
	case !req.GenerateEmbeddings:
		file.Content = text
		if err := ix.store.UpsertFile(ctx, file, req.SubscriptionID); err != nil {
			return nil, err
		}
		return &Result{FileID: file.ID, RelativePath: req.RelPath, SizeBytes: file.SizeBytes}, nil

	case len(text) <= ix.opts.ChunkThreshold:
		emb, err := ix.embedder.EmbedText(ctx, preface+"\n"+text)
		if err != nil {
			return nil, fmt.Errorf("embedding %s: %w", req.RelPath, err)
		}
		file.Content = text
		file.Embedding = emb.Vector
		if err := ix.store.UpsertFile(ctx, file, req.SubscriptionID); err != nil {
			return nil, err
		}
		return &Result{FileID: file.ID, RelativePath: req.RelPath, SizeBytes: file.SizeBytes}, nil

	default:
		return ix.indexChunked(ctx, req, file, text, preface)
	}
}

// indexChunked writes the File record first, then one FileChunk per chunk.
// A single chunk's embedding failure is warned and skipped; zero
// successful chunks fails the file.
func (ix *Indexer) indexChunked(ctx context.Context, req Request, file *graph.FileRecord, text, preface string) (*Result, error) {
	chunks := chunk.Split(text, chunk.Options{
		ChunkSize: ix.opts.ChunkSize,
		Overlap:   ix.opts.ChunkOverlap,
	})

	file.HasChunks = true
	file.Content = ""
	if err := ix.store.UpsertFile(ctx, file, req.SubscriptionID); err != nil {
		return nil, err
	}

	created := 0
	for _, c := range chunks {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		emb, err := ix.embedder.EmbedText(ctx, preface+"\n"+c.Text)
		if err != nil {
			slog.Warn("chunk embedding failed, continuing",
				slog.String("path", req.RelPath),
				slog.Int("chunk", c.Index),
				slog.String("error", err.Error()))
			continue
		}

		record := &graph.ChunkRecord{
			ID:          ident.ChunkID(req.AbsPath, c.Index, c.Text),
			ParentPath:  req.AbsPath,
			Index:       c.Index,
			Text:        c.Text,
			StartOffset: c.Start,
			EndOffset:   c.End,
			Embedding:   emb.Vector,
			Dimensions:  emb.Dimensions,
			Model:       emb.Model,
			TotalChunks: len(chunks),
			HasPrev:     c.Index > 0,
			HasNext:     c.Index < len(chunks)-1,
		}
		if err := ix.store.UpsertChunk(ctx, record); err != nil {
			return nil, err
		}
		created++
	}

	if created == 0 {
		return nil, fgerrors.New(fgerrors.ErrCodeEmbeddingFailed,
			fmt.Sprintf("all %d chunks failed for %s", len(chunks), req.RelPath), nil)
	}

	return &Result{
		FileID:        file.ID,
		RelativePath:  req.RelPath,
		SizeBytes:     file.SizeBytes,
		ChunksCreated: created,
	}, nil
}

// indexImage turns an image into either a textual description (vision
// backend available) or a direct multimodal embedding. With neither, the
// image is skipped.
func (ix *Indexer) indexImage(ctx context.Context, req Request) (string, *embed.Embedding, error) {
	useEmbedder := req.GenerateEmbeddings && ix.embedder != nil
	if ix.describer == nil && !useEmbedder {
		return "", nil, fgerrors.Skip(fgerrors.ErrCodeBinaryContent, "image indexing disabled")
	}

	buf, err := os.ReadFile(req.AbsPath)
	if err != nil {
		return "", nil, classifyReadError(err)
	}

	prepared, err := content.PrepareImage(buf, ix.opts.ImageOptions)
	if err != nil {
		return "", nil, err
	}

	if ix.describer != nil {
		desc, err := ix.describer.DescribeImage(ctx, prepared.DataURL(), ix.opts.VLPrompt)
		if err != nil {
			return "", nil, fmt.Errorf("describing %s: %w", req.RelPath, err)
		}
		return desc, nil, nil
	}

	emb, err := ix.embedder.EmbedImage(ctx, prepared.DataURL())
	if err != nil {
		return "", nil, err
	}
	return "", emb, nil
}

// RemoveFile deletes the File record and its chunks. Best-effort for
// unlink events.
func (ix *Indexer) RemoveFile(ctx context.Context, absPath string) error {
	return ix.store.DeleteFile(ctx, absPath)
}

// metadataPreface is prepended to every embedding input so the vector
// captures the file's identity, not just its body.
func metadataPreface(language, name, relPath string) string {
	dir := filepath.Dir(relPath)
	if dir == "." {
		dir = "root"
	}
	return fmt.Sprintf("This is a %s file named %s located at %s in the %s directory.",
		language, name, relPath, dir)
}

// classifyReadError maps filesystem errors to coded errors.
func classifyReadError(err error) error {
	switch {
	case os.IsNotExist(err):
		return fgerrors.Wrap(fgerrors.ErrCodeFileNotFound, err)
	case os.IsPermission(err):
		return fgerrors.Wrap(fgerrors.ErrCodeFilePermission, err)
	case errors.Is(err, syscall.EBUSY), errors.Is(err, syscall.EAGAIN):
		return fgerrors.Wrap(fgerrors.ErrCodePartialWrite, err)
	default:
		return err
	}
}

// countLines counts newline-terminated lines plus a trailing partial line.
func countLines(text string) int {
	if text == "" {
		return 0
	}
	n := strings.Count(text, "\n")
	if !strings.HasSuffix(text, "\n") {
		n++
	}
	return n
}
