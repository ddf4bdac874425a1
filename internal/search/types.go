// Package search implements the Hybrid Retriever (C10): BM25 keyword
// search and vector semantic search over chunks, fused with Reciprocal
// Rank Fusion and optionally reranked, with results enriched back into
// full chunk/note context.
package search

import (
	"context"
	"time"

	"github.com/pkm-agent/vaultd/internal/store"
)

// Retriever is the Hybrid Retriever's public surface.
type Retriever interface {
	// Search executes a hybrid search query and returns ranked results.
	Search(ctx context.Context, query string, opts Options) ([]*Result, error)

	// FindSimilar returns notes semantically similar to noteID, excluding
	// the note itself.
	FindSimilar(ctx context.Context, noteID string, k int) ([]*Result, error)

	// Stats returns retriever-visible statistics about the underlying
	// indices.
	Stats() *EngineStats
}

// Options configures a search query.
type Options struct {
	// K is the maximum number of results to return. Zero uses the
	// engine's configured default.
	K int

	// Filter restricts vector candidates by note, path, tag, or section.
	// It is not applied to the lexical (BM25) candidate list, which has
	// no equivalent metadata filter.
	Filter store.VectorFilter

	// Weights overrides the engine's configured BM25/semantic weights.
	Weights *Weights

	// MinScore overrides the engine's configured score floor. Results
	// below this normalized RRF score are dropped after fusion.
	MinScore *float64

	// BM25Only forces keyword-only search, skipping the embedding call
	// and vector search entirely.
	BM25Only bool
}

// Weights configures the relative importance of BM25 vs semantic
// search in Reciprocal Rank Fusion.
type Weights struct {
	BM25     float64
	Semantic float64
}

// DefaultWeights mirrors the engine's configured retriever weights
// (semantic_weight=0.7, lexical_weight=0.3).
func DefaultWeights() Weights {
	return Weights{BM25: 0.3, Semantic: 0.7}
}

// Result is one hybrid search hit, enriched with note/chunk context for
// presentation.
type Result struct {
	ChunkID        string
	NoteID         string
	RelPath        string
	Title          string
	SectionTitle   string
	ContentSnippet string

	Score        float64 // normalized fused RRF score, 0-1
	BM25Score    float64
	VecScore     float64
	BM25Rank     int
	VecRank      int
	InBothLists  bool
	MatchedTerms []string
}

// EngineStats summarizes the indices the retriever reads from.
type EngineStats struct {
	BM25Stats   *store.IndexStats
	VectorCount int
	IsHNSW      bool
}

// Config configures the Engine.
type Config struct {
	DefaultK      int
	DefaultWeights Weights
	RRFConstant   int
	MinScore      float64
	RerankEnabled bool
	RerankTopN    int
	SearchTimeout time.Duration

	// EmbeddingModelIdentity namespaces the embedding cache so a
	// model/dimension change never serves stale vectors.
	EmbeddingModelIdentity string

	// SnippetLength bounds the ContentSnippet enrichment, in characters.
	SnippetLength int
}

// DefaultConfig mirrors the engine's configured retriever defaults.
func DefaultConfig() Config {
	return Config{
		DefaultK:       10,
		DefaultWeights: DefaultWeights(),
		RRFConstant:    DefaultRRFConstant,
		MinScore:       0.3,
		RerankEnabled:  false,
		RerankTopN:     20,
		SearchTimeout:  5 * time.Second,
		SnippetLength:  200,
	}
}
