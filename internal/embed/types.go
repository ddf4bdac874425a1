package embed

import (
	"context"
	"math"
	"time"
)

// Batch size bounds for the embedding engine's batch API.
const (
	MinBatchSize     = 1
	MaxBatchSize     = 256
	DefaultBatchSize = 32
)

// DefaultCallTimeout bounds a single Embed/EmbedBatch call. The model is
// local and loaded once at startup, so there is no cold-start distinction
// to make between a first call and a later one.
const DefaultCallTimeout = 30 * time.Second

// DefaultDimensions is the embedding dimension used when a vault's
// config does not request a specific one.
const DefaultDimensions = 768

// StaticDimensions is the embedding dimension for the lightweight
// StaticEmbedder, selected when a vault's config requests a smaller
// footprint than the default 768-dimensional model.
const StaticDimensions = 256

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// ModelName returns the model identifier.
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
