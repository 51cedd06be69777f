// Package embed provides vector embedding providers for book chunks.
//
// Two providers are supported: a local hash-based embedder (384
// dimensions, fully offline) and the remote Gemini API (768
// dimensions). Vectors from different providers live in different
// spaces and are never compared against each other.
package embed

import (
	"context"
	"math"
	"time"
)

const (
	// LocalDimensions is the embedding dimension of the local provider.
	LocalDimensions = 384

	// GeminiDimensions is the embedding dimension of text-embedding-004.
	GeminiDimensions = 768

	// DefaultBatchSize is the default batch size for embedding requests.
	DefaultBatchSize = 32

	// MaxBatchSize caps batch size to prevent oversized API payloads.
	MaxBatchSize = 100

	// DefaultRequestTimeout bounds a single remote embedding call.
	DefaultRequestTimeout = 60 * time.Second

	// DefaultMaxRetries is the default number of retry attempts for
	// transient provider failures.
	DefaultMaxRetries = 3
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts.
	// The result has one vector per input, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// ModelName returns the model identifier ("local" or "gemini").
	ModelName() string

	// Available checks if the embedder is ready.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// normalizeVector normalizes a vector to unit length.
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
