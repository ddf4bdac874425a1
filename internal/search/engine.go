package search

import (
	"context"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/pkm-agent/vaultd/internal/cache"
	"github.com/pkm-agent/vaultd/internal/embed"
	"github.com/pkm-agent/vaultd/internal/store"
)

// Engine is the Hybrid Retriever (C10): it fans a query out to the BM25
// index and the vector store concurrently, fuses the two ranked lists
// with Reciprocal Rank Fusion, optionally reranks the fused top-N, and
// enriches each surviving hit with note/chunk context for presentation.
type Engine struct {
	notes   store.NoteStore
	bm25    store.BM25Index
	vectors *store.ChunkVectorStore
	embedder embed.Embedder
	cache   *cache.Manager
	fusion  *RRFFusion
	rerank  Reranker
	cfg     Config
}

// New builds an Engine over the given stores. rerank may be nil, in
// which case reranking is always skipped regardless of cfg.RerankEnabled.
func New(notes store.NoteStore, bm25 store.BM25Index, vectors *store.ChunkVectorStore, embedder embed.Embedder, cacheMgr *cache.Manager, rerank Reranker, cfg Config) *Engine {
	if rerank == nil {
		rerank = &NoOpReranker{}
	}
	return &Engine{
		notes:    notes,
		bm25:     bm25,
		vectors:  vectors,
		embedder: embedder,
		cache:    cacheMgr,
		fusion:   NewRRFFusionWithK(cfg.RRFConstant),
		rerank:   rerank,
		cfg:      cfg,
	}
}

var _ Retriever = (*Engine)(nil)

// Search executes a hybrid query per Options and returns ranked,
// enriched results.
func (e *Engine) Search(ctx context.Context, query string, opts Options) ([]*Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("search: empty query")
	}

	k := opts.K
	if k <= 0 {
		k = e.cfg.DefaultK
	}
	weights := e.cfg.DefaultWeights
	if opts.Weights != nil {
		weights = *opts.Weights
	}
	minScore := e.cfg.MinScore
	if opts.MinScore != nil {
		minScore = *opts.MinScore
	}

	cacheKey := e.cacheKey(query, k, opts, weights, minScore)
	if cached, ok := e.readCache(cacheKey); ok {
		return cached, nil
	}

	searchCtx, cancel := context.WithTimeout(ctx, e.cfg.SearchTimeout)
	defer cancel()

	results, err := e.search(searchCtx, query, k, opts, weights, minScore)
	if err != nil {
		return nil, err
	}
	e.writeCache(cacheKey, results)
	return results, nil
}

func (e *Engine) search(ctx context.Context, query string, k int, opts Options, weights Weights, minScore float64) ([]*Result, error) {
	fetchK := k * 4
	if fetchK < 20 {
		fetchK = 20
	}

	var bm25Results []*store.BM25Result
	var chunkResults []*store.ChunkResult

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		bm25Results, err = e.bm25.Search(gctx, query, fetchK)
		if err != nil {
			return fmt.Errorf("search: bm25 search: %w", err)
		}
		return nil
	})
	if !opts.BM25Only {
		g.Go(func() error {
			var err error
			chunkResults, err = e.semanticSearch(gctx, query, fetchK, opts.Filter)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	vecForFusion := make([]*store.VectorResult, len(chunkResults))
	byChunkID := make(map[string]*store.ChunkResult, len(chunkResults))
	for i, cr := range chunkResults {
		vecForFusion[i] = &store.VectorResult{ID: cr.ChunkID, Distance: cr.Distance, Score: cr.Score}
		byChunkID[cr.ChunkID] = cr
	}

	fused := e.fusion.Fuse(bm25Results, vecForFusion, weights)

	filtered := make([]*FusedResult, 0, len(fused))
	for _, f := range fused {
		if f.RRFScore < minScore {
			continue
		}
		filtered = append(filtered, f)
	}

	if len(filtered) > fetchK {
		filtered = filtered[:fetchK]
	}

	results, err := e.enrich(ctx, filtered, byChunkID)
	if err != nil {
		return nil, err
	}

	results = e.applyRerank(ctx, query, results)

	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (e *Engine) semanticSearch(ctx context.Context, query string, fetchK int, filter store.VectorFilter) ([]*store.ChunkResult, error) {
	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("search: embed query: %w", err)
	}
	results, err := e.vectors.Search(ctx, vec, fetchK, filter)
	if err != nil {
		return nil, fmt.Errorf("search: vector search: %w", err)
	}
	return results, nil
}

// enrich attaches note/chunk context to each fused hit. Vector-sourced
// hits already carry RelPath/Title/NoteID from the chunk store's own
// metadata; BM25-only hits recover NoteID from the {noteID}_{index}
// chunk ID convention and fetch the rest from the structured store.
func (e *Engine) enrich(ctx context.Context, fused []*FusedResult, byChunkID map[string]*store.ChunkResult) ([]*Result, error) {
	results := make([]*Result, 0, len(fused))
	noteCache := make(map[string]*store.Note)

	for _, f := range fused {
		res := &Result{
			ChunkID:      f.ChunkID,
			Score:        f.RRFScore,
			BM25Score:    f.BM25Score,
			VecScore:     f.VecScore,
			BM25Rank:     f.BM25Rank,
			VecRank:      f.VecRank,
			InBothLists:  f.InBothLists,
			MatchedTerms: f.MatchedTerms,
		}

		if cr, ok := byChunkID[f.ChunkID]; ok {
			res.NoteID = cr.NoteID
			res.RelPath = cr.RelPath
			res.Title = cr.Title
		} else if owner, ok := chunkOwner(f.ChunkID); ok {
			res.NoteID = owner
		}

		if res.NoteID != "" {
			n, ok := noteCache[res.NoteID]
			if !ok {
				fetched, err := e.notes.GetNote(ctx, res.NoteID)
				if err != nil {
					return nil, fmt.Errorf("search: enrich note %s: %w", res.NoteID, err)
				}
				n = fetched
				noteCache[res.NoteID] = n
			}
			if n != nil {
				res.RelPath = n.RelPath
				res.Title = n.Title
				res.ContentSnippet = snippet(n.Body, res.MatchedTerms, e.cfg.SnippetLength)
			}
		}

		results = append(results, res)
	}
	return results, nil
}

func (e *Engine) applyRerank(ctx context.Context, query string, results []*Result) []*Result {
	if !e.cfg.RerankEnabled || len(results) == 0 || !e.rerank.Available(ctx) {
		return results
	}

	topN := e.cfg.RerankTopN
	if topN <= 0 || topN > len(results) {
		topN = len(results)
	}
	head := results[:topN]
	docs := make([]string, len(head))
	for i, r := range head {
		docs[i] = r.ContentSnippet
	}

	reranked, err := e.rerank.Rerank(ctx, query, docs, topN)
	if err != nil {
		return results
	}

	reordered := make([]*Result, 0, len(results))
	for _, rr := range reranked {
		if rr.Index < 0 || rr.Index >= len(head) {
			continue
		}
		r := head[rr.Index]
		r.Score = rr.Score
		reordered = append(reordered, r)
	}
	reordered = append(reordered, results[topN:]...)
	return reordered
}

// FindSimilar returns notes semantically similar to noteID by embedding
// its current body and searching the vector store, excluding chunks
// that belong to noteID itself.
func (e *Engine) FindSimilar(ctx context.Context, noteID string, k int) ([]*Result, error) {
	if k <= 0 {
		k = e.cfg.DefaultK
	}
	n, err := e.notes.GetNote(ctx, noteID)
	if err != nil {
		return nil, fmt.Errorf("search: find_similar: look up note: %w", err)
	}
	if n == nil {
		return nil, fmt.Errorf("search: find_similar: note %s not found", noteID)
	}

	vec, err := e.embedder.Embed(ctx, n.Body)
	if err != nil {
		return nil, fmt.Errorf("search: find_similar: embed note body: %w", err)
	}

	raw, err := e.vectors.Search(ctx, vec, k+10, store.VectorFilter{})
	if err != nil {
		return nil, fmt.Errorf("search: find_similar: vector search: %w", err)
	}

	results := make([]*Result, 0, k)
	for _, cr := range raw {
		if cr.NoteID == noteID {
			continue
		}
		results = append(results, &Result{
			ChunkID: cr.ChunkID,
			NoteID:  cr.NoteID,
			RelPath: cr.RelPath,
			Title:   cr.Title,
			Score:   float64(cr.Score),
			VecScore: float64(cr.Score),
		})
		if len(results) == k {
			break
		}
	}
	return results, nil
}

// Stats reports index-visible statistics.
func (e *Engine) Stats() *EngineStats {
	bm25Stats, err := e.bm25.Stats()
	if err != nil {
		bm25Stats = nil
	}
	return &EngineStats{
		BM25Stats:   bm25Stats,
		VectorCount: e.vectors.Count(),
		IsHNSW:      e.vectors.IsHNSW(),
	}
}

func (e *Engine) cacheKey(query string, k int, opts Options, weights Weights, minScore float64) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%d|%t|%.4f|%.4f|%.4f|%s|%s|%s|%s",
		query, k, opts.BM25Only, weights.BM25, weights.Semantic, minScore,
		opts.Filter.NoteID, opts.Filter.RelPath, opts.Filter.Tag, e.cfg.EmbeddingModelIdentity)
	return hex.EncodeToString(h.Sum(nil))
}

func (e *Engine) readCache(key string) ([]*Result, bool) {
	if e.cache == nil {
		return nil, false
	}
	raw, ok := e.cache.Get(cache.NamespaceQuery, key)
	if !ok {
		return nil, false
	}
	var results []*Result
	if err := gob.NewDecoder(strings.NewReader(string(raw))).Decode(&results); err != nil {
		return nil, false
	}
	return results, true
}

func (e *Engine) writeCache(key string, results []*Result) {
	if e.cache == nil {
		return
	}
	var buf strings.Builder
	if err := gob.NewEncoder(&buf).Encode(results); err != nil {
		return
	}
	_ = e.cache.Set(cache.NamespaceQuery, key, []byte(buf.String()), cache.DefaultTTL(cache.NamespaceQuery))
}

// chunkOwner extracts the NoteID prefix from a {noteID}_{index} chunk
// ID, mirroring the convention the indexer relies on.
func chunkOwner(chunkID string) (string, bool) {
	idx := strings.LastIndex(chunkID, "_")
	if idx <= 0 || idx == len(chunkID)-1 {
		return "", false
	}
	return chunkID[:idx], true
}

// snippet extracts a window of text around the first matched term, or
// the leading characters of body when no term matched or was supplied.
func snippet(body string, matchedTerms []string, length int) string {
	if length <= 0 {
		length = 200
	}
	lower := strings.ToLower(body)
	start := 0
	for _, term := range matchedTerms {
		if term == "" {
			continue
		}
		if idx := strings.Index(lower, strings.ToLower(term)); idx >= 0 {
			start = idx - length/4
			break
		}
	}
	if start < 0 {
		start = 0
	}
	if start > len(body) {
		start = len(body)
	}
	end := start + length
	if end > len(body) {
		end = len(body)
	}
	out := strings.TrimSpace(body[start:end])
	if start > 0 {
		out = "…" + out
	}
	if end < len(body) {
		out = out + "…"
	}
	return out
}
