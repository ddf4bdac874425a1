package embed

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Static768Dimensions matches the output width of common local
// sentence-transformer models, so a vault configured with
// cfg.EmbeddingDim=768 in anticipation of a real model backend can run
// on this hash-based fallback today without a reindex when that model
// is wired in later.
const Static768Dimensions = 768

// StaticEmbedder768 is StaticEmbedder's 256-dimension algorithm run at
// 768 dimensions, for vaults configured to match a model embedder's
// output width ahead of time.
type StaticEmbedder768 struct {
	mu     sync.RWMutex
	closed bool
}

// NewStaticEmbedder768 creates a 768-dimension static embedder.
func NewStaticEmbedder768() *StaticEmbedder768 {
	return &StaticEmbedder768{}
}

// Embed hashes a single chunk of note text into a Static768Dimensions
// vector.
func (e *StaticEmbedder768) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, fmt.Errorf("embedder is closed")
	}
	e.mu.RUnlock()

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return make([]float32, Static768Dimensions), nil
	}

	vector := e.generateVector(trimmed)
	return normalizeVector(vector), nil
}

// generateVector reuses StaticEmbedder's tokenize/n-gram pipeline,
// hashing into Static768Dimensions buckets instead of 256.
func (e *StaticEmbedder768) generateVector(text string) []float32 {
	vector := make([]float32, Static768Dimensions)

	tokens := tokenize(text)
	tokens = filterStopWords(tokens)
	for _, token := range tokens {
		index := hashToIndex(token, Static768Dimensions)
		vector[index] += tokenWeight
	}

	normalized := normalizeForNgrams(text)
	ngrams := extractNgrams(normalized, ngramSize)
	for _, ngram := range ngrams {
		index := hashToIndex(ngram, Static768Dimensions)
		vector[index] += ngramWeight
	}

	return vector
}

// EmbedBatch hashes each chunk in texts independently.
func (e *StaticEmbedder768) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, fmt.Errorf("embedder is closed")
	}
	e.mu.RUnlock()

	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("failed to embed text %d: %w", i, err)
		}
		results[i] = emb
	}

	return results, nil
}

// Dimensions returns the embedding dimension.
func (e *StaticEmbedder768) Dimensions() int {
	return Static768Dimensions
}

// ModelName returns the model identifier.
func (e *StaticEmbedder768) ModelName() string {
	return "static768"
}

// Available checks if the embedder is ready (always true for static).
func (e *StaticEmbedder768) Available(_ context.Context) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed
}

// Close releases resources.
func (e *StaticEmbedder768) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

