package search

import (
	"context"
)

// RerankResult is one chunk's cross-encoder score, keyed back to its
// position in the slice Engine.applyRerank passed in.
type RerankResult struct {
	// Index is the position in the rerank_top_n chunk-text slice this
	// result was scored from.
	Index int
	// Score is the calibrated relevance score (0.0 to 1.0) that
	// replaces the RRF-fused score for this chunk.
	Score float64
	// Document is the chunk text that was scored.
	Document string
}

// Reranker is the optional second-stage, more expensive scorer: a
// cross-encoder over (query, chunk_text) pairs for the top rerank_top_n
// fused candidates, replacing their RRF score before the final top-k
// cut and re-sort.
type Reranker interface {
	// Rerank scores query against each of documents (chunk text from
	// the fused candidate set, bounded to rerank_top_n) and returns
	// results sorted by score descending, truncated to topK (0 = all).
	Rerank(ctx context.Context, query string, documents []string, topK int) ([]RerankResult, error)

	// Available reports whether the reranker is ready to serve Rerank
	// calls, so Engine can fall back to RRF-only ordering instead of
	// erroring when it isn't.
	Available(ctx context.Context) bool

	Close() error
}

// NoOpReranker is Reranker's default: it leaves the RRF fusion's
// ordering untouched, used whenever Config.RerankEnabled is false or no
// cross-encoder backend has been wired in.
type NoOpReranker struct{}

// Rerank preserves the input order, assigning each document a
// strictly-decreasing placeholder score so downstream sorting by score
// is a no-op.
func (n *NoOpReranker) Rerank(_ context.Context, _ string, documents []string, topK int) ([]RerankResult, error) {
	results := make([]RerankResult, len(documents))
	for i, doc := range documents {
		results[i] = RerankResult{
			Index:    i,
			Score:    1.0 - float64(i)*0.01,
			Document: doc,
		}
	}

	if topK > 0 && topK < len(results) {
		results = results[:topK]
	}

	return results, nil
}

// Available is always true: there's no backend to be unavailable.
func (n *NoOpReranker) Available(_ context.Context) bool {
	return true
}

// Close is a no-op: NoOpReranker owns no resources.
func (n *NoOpReranker) Close() error {
	return nil
}

var _ Reranker = (*NoOpReranker)(nil)
