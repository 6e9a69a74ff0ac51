// Package embed talks to the embedding and vision-language HTTP services.
// Both are slow, occasionally-unavailable network dependencies, so every
// call carries a timeout and transient failures are retried with backoff.
package embed

import (
	"context"
	"math"
	"time"
)

// Default client parameters.
const (
	// DefaultMaxRetries is the retry budget per embedding request.
	DefaultMaxRetries = 3

	// DefaultTimeout bounds a single embedding HTTP request.
	DefaultTimeout = 60 * time.Second

	// DefaultVLTimeout bounds a vision-language request. VL inference is
	// slow enough that two minutes is a realistic floor.
	DefaultVLTimeout = 2 * time.Minute

	// coldBackoffBase is the backoff base while the model is still loading.
	coldBackoffBase = 3 * time.Second

	// warmBackoffBase is the backoff base for other transient failures.
	warmBackoffBase = 1 * time.Second

	// maxBackoff caps any single retry delay.
	maxBackoff = 20 * time.Second
)

// Embedding is one fixed-dimension vector with its provenance.
type Embedding struct {
	Vector     []float32
	Dimensions int
	Model      string
}

// Client generates embeddings for text or image payloads.
type Client interface {
	// EmbedText generates an embedding for a single text.
	EmbedText(ctx context.Context, text string) (*Embedding, error)

	// EmbedImage generates an embedding for an image data URL.
	// Only valid for providers that advertise multimodal embeddings.
	EmbedImage(ctx context.Context, dataURL string) (*Embedding, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// Close releases resources.
	Close() error
}

// normalizeVector normalizes a vector to unit length in place-safe copy.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
