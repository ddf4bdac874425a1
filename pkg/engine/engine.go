// Package engine is the public API facade over the indexing and
// retrieval core: initialize, reindex, search, find_similar, stats,
// validate_links, heal_links, and rollback, each wired through the
// audit log per the programmatic API table.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkm-agent/vaultd/internal/async"
	"github.com/pkm-agent/vaultd/internal/audit"
	"github.com/pkm-agent/vaultd/internal/cache"
	"github.com/pkm-agent/vaultd/internal/chunk"
	"github.com/pkm-agent/vaultd/internal/config"
	"github.com/pkm-agent/vaultd/internal/embed"
	"github.com/pkm-agent/vaultd/internal/index"
	"github.com/pkm-agent/vaultd/internal/scanner"
	"github.com/pkm-agent/vaultd/internal/search"
	"github.com/pkm-agent/vaultd/internal/store"
	"github.com/pkm-agent/vaultd/internal/watcher"
)

const defaultBM25Backend = store.BM25BackendSQLite

// Engine is the ready handle returned by Open: every component wired
// together under one data-directory lock, plus the background watcher
// loop that keeps the indices in sync with the vault on disk.
type Engine struct {
	cfg    *config.Config
	log    *slog.Logger
	lock   *ownerLock

	notes       store.NoteStore
	vectors     *store.ChunkVectorStore
	bm25        store.BM25Index
	bm25Backend store.BM25Backend
	bm25Path    string
	auditLog    *audit.Log
	cacheMgr *cache.Manager
	embedder embed.Embedder

	reconciler *index.Reconciler
	retriever  *search.Engine
	registry   audit.HandlerRegistry

	watch  *watcher.HybridWatcher
	bgIdx  *async.BackgroundIndexer

	watchCtx    context.Context
	watchCancel context.CancelFunc
	watchDone   chan struct{}

	mu     sync.Mutex
	closed bool
}

// Open boots the engine: acquires the data-directory lock, opens the
// structured store, vector store, BM25 index, audit log, and cache
// manager, runs an initial reconciliation pass via C9, and starts the
// file watcher. The returned Engine owns every one of these resources;
// Close releases them in reverse order.
func Open(ctx context.Context, cfg *config.Config, log *slog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}

	lock := newOwnerLock(cfg.DataDir)
	if err := lock.TryLock(); err != nil {
		return nil, err
	}

	e := &Engine{cfg: cfg, log: log, lock: lock}
	if err := e.wire(); err != nil {
		_ = lock.Unlock()
		return nil, err
	}

	log.Info("engine: initial reconciliation pass starting", slog.String("vault_root", cfg.VaultRoot))
	result, err := e.reconciler.ReindexAll(ctx)
	if err != nil {
		e.closeComponents()
		_ = lock.Unlock()
		return nil, fmt.Errorf("engine: initial reindex: %w", err)
	}
	log.Info("engine: initial reconciliation pass complete",
		slog.Int("added", result.Added), slog.Int("updated", result.Updated),
		slog.Int("deleted", result.Deleted), slog.Int("errors", len(result.Errors)))

	if err := e.startWatcher(); err != nil {
		e.closeComponents()
		_ = lock.Unlock()
		return nil, err
	}

	return e, nil
}

func (e *Engine) wire() error {
	cfg := e.cfg

	notes, err := store.NewSQLiteNoteStore(filepath.Join(cfg.DataDir, "structured.db"))
	if err != nil {
		return fmt.Errorf("engine: open structured store: %w", err)
	}
	e.notes = notes

	vectors, err := store.NewChunkVectorStore(filepath.Join(cfg.DataDir, "vector"), store.DefaultVectorStoreConfig(cfg.EmbeddingDim))
	if err != nil {
		return fmt.Errorf("engine: open vector store: %w", err)
	}
	e.vectors = vectors

	bm25Path := filepath.Join(cfg.DataDir, "bm25")
	backend := defaultBM25Backend
	if detected := store.DetectBM25Backend(bm25Path); detected != "" {
		backend = detected
	}
	bm25, err := store.NewBM25IndexWithBackend(bm25Path, store.DefaultBM25Config(), string(backend))
	if err != nil {
		return fmt.Errorf("engine: open bm25 index: %w", err)
	}
	e.bm25 = bm25
	e.bm25Backend = backend
	e.bm25Path = store.GetBM25IndexPath(cfg.DataDir, string(backend))

	auditLog, err := audit.Open(filepath.Join(cfg.DataDir, "audit.db"))
	if err != nil {
		return fmt.Errorf("engine: open audit log: %w", err)
	}
	e.auditLog = auditLog

	cacheMgr, err := cache.New(cache.Config{
		DataDir:          filepath.Join(cfg.DataDir, "cache"),
		MemoryMaxBytes:   int64(cfg.CacheMemoryMaxMB * 1024 * 1024),
		DiskMaxBytes:     int64(cfg.CacheDiskMaxMB * 1024 * 1024),
	})
	if err != nil {
		return fmt.Errorf("engine: open cache manager: %w", err)
	}
	e.cacheMgr = cacheMgr

	e.embedder = embed.NewWithCache(cfg.EmbeddingDim, cacheMgr)

	e.reconciler = index.New(index.Deps{
		VaultRoot: cfg.VaultRoot,
		Notes:     notes,
		Vectors:   vectors,
		BM25:      bm25,
		Embed:     e.embedder,
		Audit:     auditLog,
		Scanner:   scanner.New(),
		Chunker:   chunk.New(chunk.Options{SizeTarget: cfg.ChunkSizeTarget, SizeMax: cfg.ChunkSizeMax, SizeMin: chunk.DefaultOptions().SizeMin}),
	})

	e.retriever = search.New(notes, bm25, vectors, e.embedder, cacheMgr, &search.NoOpReranker{}, search.Config{
		DefaultK: cfg.Retriever.KDefault,
		DefaultWeights: search.Weights{BM25: cfg.Retriever.LexicalWeight, Semantic: cfg.Retriever.SemanticWeight},
		RRFConstant:   search.DefaultRRFConstant,
		MinScore:      cfg.Retriever.MinScore,
		RerankEnabled: cfg.Retriever.RerankEnabled,
		RerankTopN:    cfg.Retriever.RerankTopN,
		SearchTimeout: 5 * time.Second,
		EmbeddingModelIdentity: e.embedder.ModelName(),
		SnippetLength: 200,
	})

	e.registry = make(audit.HandlerRegistry)
	registerRollbackHandlers(e.registry, e)

	e.bgIdx = async.NewBackgroundIndexer(async.IndexerConfig{DataDir: cfg.DataDir})

	return nil
}

func (e *Engine) startWatcher() error {
	opts := watcher.DefaultOptions()
	opts.DebounceWindow = time.Duration(e.cfg.Watcher.DebounceMs) * time.Millisecond

	w, err := watcher.NewHybridWatcher(opts)
	if err != nil {
		return fmt.Errorf("engine: create watcher: %w", err)
	}
	if err := w.Start(context.Background(), e.cfg.VaultRoot); err != nil {
		return fmt.Errorf("engine: start watcher: %w", err)
	}
	e.watch = w

	e.watchCtx, e.watchCancel = context.WithCancel(context.Background())
	e.watchDone = make(chan struct{})
	go e.watchLoop()
	return nil
}

// watchLoop drains debounced batches from the watcher and drives
// incremental reconciliation until the engine is closed.
func (e *Engine) watchLoop() {
	defer close(e.watchDone)
	for {
		select {
		case <-e.watchCtx.Done():
			return
		case batch, ok := <-e.watch.Events():
			if !ok {
				return
			}
			result := e.reconciler.ApplyEvents(e.watchCtx, batch)
			if len(result.Errors) > 0 {
				e.log.Warn("engine: incremental reconciliation had errors", slog.Int("count", len(result.Errors)))
			}
		case watchErr, ok := <-e.watch.Errors():
			if !ok {
				continue
			}
			e.log.Warn("engine: watcher error", slog.Any("error", watchErr))
		}
	}
}

// Reindex runs a full or (trivially) incremental reconciliation pass on
// demand, outside the watcher loop, through the background indexer so
// ReindexProgress can be polled concurrently while it runs.
func (e *Engine) Reindex(ctx context.Context, full bool) (*index.Result, error) {
	if e.bgIdx.IsRunning() {
		return nil, fmt.Errorf("engine: reindex: already running")
	}

	var result *index.Result
	var runErr error
	e.bgIdx.IndexFunc = func(ctx context.Context, progress *async.IndexProgress) error {
		progress.SetStage(async.StageIndexing, 0)
		result, runErr = e.reconciler.ReindexAll(ctx)
		return runErr
	}

	e.bgIdx.Start(ctx)
	if err := e.bgIdx.Wait(); err != nil {
		return nil, fmt.Errorf("engine: reindex: %w", err)
	}
	return result, nil
}

// ReindexProgress reports the state of the most recent Reindex call.
// Before the first call it reports the tracker's zero state (stage
// "scanning", 0%), since Open's initial reconciliation pass runs
// synchronously and does not go through the background indexer.
func (e *Engine) ReindexProgress() async.IndexProgressSnapshot {
	return e.bgIdx.Progress().Snapshot()
}

// Stats aggregates note/tag/link counts, vector/cache/audit stats for
// the stats() API call.
func (e *Engine) Stats(ctx context.Context) (*Stats, error) {
	noteStats, err := e.notes.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("engine: stats: notes: %w", err)
	}
	auditStats, err := e.auditLog.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("engine: stats: audit: %w", err)
	}
	return &Stats{
		Notes:       noteStats,
		VectorCount: e.vectors.Count(),
		IsHNSW:      e.vectors.IsHNSW(),
		Cache:       e.cacheMgr.Stats(),
		Audit:       auditStats,
		BM25Backend: string(e.bm25Backend),
		BM25Path:    e.bm25Path,
	}, nil
}

// Close shuts down the watcher loop and releases every owned resource,
// finally releasing the data-directory lock.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true

	if e.watchCancel != nil {
		e.watchCancel()
	}
	if e.watch != nil {
		e.watch.Stop()
	}
	if e.watchDone != nil {
		<-e.watchDone
	}

	e.closeComponents()
	return e.lock.Unlock()
}

func (e *Engine) closeComponents() {
	if e.bm25 != nil {
		if err := e.bm25.Close(); err != nil {
			e.log.Warn("engine: close bm25 index", slog.Any("error", err))
		}
	}
	if e.vectors != nil {
		if err := e.vectors.Close(); err != nil {
			e.log.Warn("engine: close vector store", slog.Any("error", err))
		}
	}
	if e.notes != nil {
		if err := e.notes.Close(); err != nil {
			e.log.Warn("engine: close structured store", slog.Any("error", err))
		}
	}
	if e.auditLog != nil {
		if err := e.auditLog.Close(); err != nil {
			e.log.Warn("engine: close audit log", slog.Any("error", err))
		}
	}
	if e.embedder != nil {
		if err := e.embedder.Close(); err != nil {
			e.log.Warn("engine: close embedder", slog.Any("error", err))
		}
	}
}

// Stats is the engine-wide view returned by the stats() API call.
type Stats struct {
	Notes       store.NoteStoreStats
	VectorCount int
	IsHNSW      bool
	Cache       []cache.NamespaceStats
	Audit       audit.Stats
	BM25Backend string
	BM25Path    string
}
