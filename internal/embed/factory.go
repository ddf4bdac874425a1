package embed

import (
	"context"
	"fmt"

	"github.com/pkm-agent/vaultd/internal/cache"
	"github.com/pkm-agent/vaultd/internal/retry"
)

// New builds the vault's embedding model. dims selects between the
// 256- and 768-dimensional local embedders; any other value defaults
// to DefaultDimensions. The model is local and deterministic: there is
// no download, no network call, and no external process to manage.
func New(dims int) Embedder {
	var inner Embedder
	switch dims {
	case StaticDimensions:
		inner = NewStaticEmbedder()
	default:
		inner = NewStaticEmbedder768()
	}
	return NewRetryingEmbedder(inner, retry.DefaultConfig())
}

// RetryingEmbedder wraps an Embedder so a transient per-call failure is
// retried with exponential backoff before being raised to the caller,
// per the engine's single retry policy.
type RetryingEmbedder struct {
	inner Embedder
	cfg   retry.Config
}

// NewRetryingEmbedder wraps inner with cfg's backoff policy.
func NewRetryingEmbedder(inner Embedder, cfg retry.Config) *RetryingEmbedder {
	return &RetryingEmbedder{inner: inner, cfg: cfg}
}

func (r *RetryingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return retry.DoValue(ctx, r.cfg, func() ([]float32, error) {
		return r.inner.Embed(ctx, text)
	})
}

func (r *RetryingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return retry.DoValue(ctx, r.cfg, func() ([][]float32, error) {
		return r.inner.EmbedBatch(ctx, texts)
	})
}

func (r *RetryingEmbedder) Dimensions() int { return r.inner.Dimensions() }

func (r *RetryingEmbedder) ModelName() string { return r.inner.ModelName() }

func (r *RetryingEmbedder) Available(ctx context.Context) bool { return r.inner.Available(ctx) }

func (r *RetryingEmbedder) Close() error { return r.inner.Close() }

// Inner returns the wrapped embedder.
func (r *RetryingEmbedder) Inner() Embedder { return r.inner }

// NewWithCache builds the vault's embedding model the same way New
// does, then layers the Cache Manager's persistent embedding namespace
// and the in-process LRU on top, in that order from the caller's
// perspective: the in-process cache absorbs same-run repeats, the
// Manager's disk tier absorbs repeats across restarts.
func NewWithCache(dims int, mgr *cache.Manager) Embedder {
	base := New(dims)
	persistent := NewPersistentCachedEmbedder(base, mgr)
	return NewCachedEmbedderWithDefaults(persistent)
}

// MustNew builds an embedder and panics on a nil result. New never
// actually fails (the local embedders have no load step that can
// error), so this exists only for callers that want a non-erroring
// constructor signature symmetrical with the rest of the engine.
func MustNew(dims int) Embedder {
	e := New(dims)
	if e == nil {
		panic(fmt.Sprintf("embed: no embedder constructed for dims=%d", dims))
	}
	return e
}
