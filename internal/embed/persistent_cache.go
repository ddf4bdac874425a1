package embed

import (
	"context"

	"github.com/pkm-agent/vaultd/internal/cache"
)

// PersistentCachedEmbedder wraps an Embedder with the Cache Manager's
// namespaced, two-tier (memory + disk) embedding cache, so a repeated
// text survives process restarts without a re-embed. It composes with
// CachedEmbedder rather than replacing it: the in-process LRU still
// absorbs the common case of the same query repeated within one run,
// and only a miss there reaches the Manager's disk tier.
type PersistentCachedEmbedder struct {
	inner Embedder
	mgr   *cache.Manager
}

// NewPersistentCachedEmbedder wraps inner with mgr's embedding
// namespace. mgr may be nil, in which case this behaves as a
// passthrough to inner.
func NewPersistentCachedEmbedder(inner Embedder, mgr *cache.Manager) *PersistentCachedEmbedder {
	return &PersistentCachedEmbedder{inner: inner, mgr: mgr}
}

func (p *PersistentCachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if p.mgr == nil {
		return p.inner.Embed(ctx, text)
	}

	if v, ok := p.mgr.GetVector(p.inner.ModelName(), text); ok {
		return v, nil
	}

	v, err := p.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	_ = p.mgr.SetVector(p.inner.ModelName(), text, v)
	return v, nil
}

func (p *PersistentCachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if p.mgr == nil || len(texts) == 0 {
		return p.inner.EmbedBatch(ctx, texts)
	}

	results := make([][]float32, len(texts))
	missIdx := make([]int, 0, len(texts))
	missTexts := make([]string, 0, len(texts))

	modelName := p.inner.ModelName()
	for i, text := range texts {
		if v, ok := p.mgr.GetVector(modelName, text); ok {
			results[i] = v
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}

	if len(missTexts) == 0 {
		return results, nil
	}

	fresh, err := p.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, idx := range missIdx {
		results[idx] = fresh[j]
		_ = p.mgr.SetVector(modelName, texts[idx], fresh[j])
	}
	return results, nil
}

func (p *PersistentCachedEmbedder) Dimensions() int { return p.inner.Dimensions() }

func (p *PersistentCachedEmbedder) ModelName() string { return p.inner.ModelName() }

func (p *PersistentCachedEmbedder) Available(ctx context.Context) bool { return p.inner.Available(ctx) }

func (p *PersistentCachedEmbedder) Close() error { return p.inner.Close() }

// Inner returns the wrapped embedder.
func (p *PersistentCachedEmbedder) Inner() Embedder { return p.inner }

var _ Embedder = (*PersistentCachedEmbedder)(nil)
