package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"syscall"
	"time"

	fgerrors "github.com/filegraph/filegraph/internal/errors"
)

// Config configures the HTTP embedding client.
type Config struct {
	// BaseURL is the embedding server base URL (e.g. http://localhost:11434).
	BaseURL string
	// Path is the endpoint path, chosen per provider (e.g. /v1/embeddings).
	Path string
	// APIKey, when set, is sent as a bearer token.
	APIKey string
	// Model is the embedding model tag sent with every request.
	Model string
	// Dimensions is the expected embedding dimension.
	Dimensions int
	// Multimodal advertises image embedding support.
	Multimodal bool
	// MaxRetries is the retry budget per request (default 3).
	MaxRetries int
	// Timeout bounds a single HTTP request (default 60s).
	Timeout time.Duration
}

// WithDefaults returns the config with defaults applied for zero values.
func (c Config) WithDefaults() Config {
	if c.Path == "" {
		c.Path = "/v1/embeddings"
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// HTTPClient is the production embedding Client backed by an
// OpenAI-compatible embeddings endpoint.
type HTTPClient struct {
	client    *http.Client
	transport *http.Transport
	config    Config

	mu     sync.RWMutex
	closed bool
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates an embedding client with a pooled transport.
func NewHTTPClient(cfg Config) *HTTPClient {
	cfg = cfg.WithDefaults()

	transport := &http.Transport{
		MaxIdleConns:        8,
		MaxIdleConnsPerHost: 8,
		IdleConnTimeout:     30 * time.Second,
	}

	// No http.Client.Timeout: per-request context timeouts are applied in
	// doWithRetry so backoff and timeout stay coordinated.
	return &HTTPClient{
		client:    &http.Client{Transport: transport},
		transport: transport,
		config:    cfg,
	}
}

// imageInput is the request shape for image payloads.
type imageInput struct {
	Type     string        `json:"type"`
	ImageURL imageURLField `json:"image_url"`
}

type imageURLField struct {
	URL string `json:"url"`
}

// embedRequest is the wire request: input is a string for text or an
// []imageInput for images.
type embedRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"`
}

// embedResponse accepts both response shapes the ecosystem uses:
// {"data":[{"embedding":[...]}]} and a bare {"embedding":[...]}.
type embedResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
	Embedding []float64 `json:"embedding"`
}

// EmbedText generates an embedding for a single text.
func (c *HTTPClient) EmbedText(ctx context.Context, text string) (*Embedding, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}

	if strings.TrimSpace(text) == "" {
		return &Embedding{
			Vector:     make([]float32, c.config.Dimensions),
			Dimensions: c.config.Dimensions,
			Model:      c.config.Model,
		}, nil
	}

	return c.doWithRetry(ctx, embedRequest{Model: c.config.Model, Input: text})
}

// EmbedImage generates an embedding for an image data URL.
func (c *HTTPClient) EmbedImage(ctx context.Context, dataURL string) (*Embedding, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}

	if !c.config.Multimodal {
		return nil, fgerrors.New(fgerrors.ErrCodeUnsupportedFormat,
			fmt.Sprintf("model %s does not support image embeddings", c.config.Model), nil)
	}

	input := []imageInput{{Type: "image_url", ImageURL: imageURLField{URL: dataURL}}}
	return c.doWithRetry(ctx, embedRequest{Model: c.config.Model, Input: input})
}

// doWithRetry runs one embedding request with the transient-retry policy:
// retryable failures back off base*2^attempt capped at 20s, where base is
// 3s while the model is loading and 1s otherwise. Non-retryable errors
// surface immediately.
func (c *HTTPClient) doWithRetry(ctx context.Context, req embedRequest) (*Embedding, error) {
	var lastErr error

	for attempt := 0; attempt < c.config.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		emb, err := c.doEmbed(ctx, req)
		if err == nil {
			return emb, nil
		}
		lastErr = err

		if !fgerrors.IsRetryable(err) {
			return nil, err
		}
		if attempt == c.config.MaxRetries-1 {
			break
		}

		base := warmBackoffBase
		if fgerrors.GetCode(err) == fgerrors.ErrCodeModelLoading {
			base = coldBackoffBase
		}
		backoff := base << attempt
		if backoff > maxBackoff {
			backoff = maxBackoff
		}

		slog.Debug("embedding retry",
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", backoff),
			slog.String("error", err.Error()))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}

	return nil, fmt.Errorf("embedding failed after %d attempts: %w", c.config.MaxRetries, lastErr)
}

// doEmbed performs a single embedding request.
func (c *HTTPClient) doEmbed(ctx context.Context, reqBody embedRequest) (*Embedding, error) {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fgerrors.Wrap(fgerrors.ErrCodeInvalidInput, err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	url := strings.TrimSuffix(c.config.BaseURL, "/") + c.config.Path
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fgerrors.Wrap(fgerrors.ErrCodeTruncatedBody, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatusError(resp.StatusCode, respBody)
	}

	var result embedResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		// A cut-off JSON body usually means the server died mid-response.
		return nil, fgerrors.Wrap(fgerrors.ErrCodeTruncatedBody, err)
	}

	raw := result.Embedding
	if len(result.Data) > 0 {
		raw = result.Data[0].Embedding
	}
	if len(raw) == 0 {
		return nil, fgerrors.New(fgerrors.ErrCodeEmbeddingFailed, "empty embedding in response", nil)
	}

	vector := make([]float32, len(raw))
	for i, v := range raw {
		vector[i] = float32(v)
	}
	vector = normalizeVector(vector)

	if c.config.Dimensions > 0 && len(vector) != c.config.Dimensions {
		return nil, fgerrors.New(fgerrors.ErrCodeDimensionMismatch,
			fmt.Sprintf("expected %d dimensions, got %d", c.config.Dimensions, len(vector)), nil)
	}

	return &Embedding{
		Vector:     vector,
		Dimensions: len(vector),
		Model:      c.config.Model,
	}, nil
}

// classifyTransportError maps transport-level failures into retry classes.
// Connection resets, truncated payloads and generic fetch failures are all
// transient.
func classifyTransportError(err error) error {
	switch {
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.ECONNREFUSED):
		return fgerrors.Wrap(fgerrors.ErrCodeConnReset, err)
	case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
		return fgerrors.Wrap(fgerrors.ErrCodeTruncatedBody, err)
	case errors.Is(err, context.DeadlineExceeded):
		return fgerrors.Wrap(fgerrors.ErrCodeNetworkTimeout, err)
	case errors.Is(err, context.Canceled):
		return err
	default:
		// Generic fetch failure: DNS, broken pipe, proxy trouble. Retryable.
		return fgerrors.Wrap(fgerrors.ErrCodeNetworkTimeout, err)
	}
}

// classifyStatusError maps HTTP status failures into retry classes.
// A 503 while the model warms up is the common transient; other non-2xx
// statuses are treated as caller errors and surface immediately.
func classifyStatusError(status int, body []byte) error {
	msg := fmt.Sprintf("embedding endpoint returned %d: %s", status, strings.TrimSpace(string(body)))
	if status == http.StatusServiceUnavailable {
		return fgerrors.New(fgerrors.ErrCodeModelLoading, msg, nil)
	}
	return fgerrors.New(fgerrors.ErrCodeEmbeddingFailed, msg, nil)
}

// Dimensions returns the configured embedding dimension.
func (c *HTTPClient) Dimensions() int {
	return c.config.Dimensions
}

// ModelName returns the model identifier.
func (c *HTTPClient) ModelName() string {
	return c.config.Model
}

// checkOpen fails fast once the client is closed.
func (c *HTTPClient) checkOpen() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return fmt.Errorf("embedding client is closed")
	}
	return nil
}

// Close releases idle connections.
func (c *HTTPClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.transport.CloseIdleConnections()
	return nil
}
