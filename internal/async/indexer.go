package async

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// IndexFunc is the reconciliation work a BackgroundIndexer runs;
// Engine.Reindex supplies one that closes over Reconciler.ReindexAll.
type IndexFunc func(ctx context.Context, progress *IndexProgress) error

// IndexerConfig configures the BackgroundIndexer.
type IndexerConfig struct {
	DataDir string
}

// BackgroundIndexer runs a reindex pass in its own goroutine so
// Engine.Reindex can return an IndexProgress that's still being updated
// while the caller polls ReindexProgress concurrently.
type BackgroundIndexer struct {
	config   IndexerConfig
	progress *IndexProgress

	// IndexFunc is the reconciliation function to run; tests inject a
	// stub here instead of wiring a real Reconciler.
	IndexFunc IndexFunc

	stopCh chan struct{}
	doneCh chan struct{}

	mu      sync.Mutex
	running bool
	err     error
}

// NewBackgroundIndexer builds a background indexer rooted at cfg.DataDir,
// where its in-flight lock file lives.
func NewBackgroundIndexer(cfg IndexerConfig) *BackgroundIndexer {
	return &BackgroundIndexer{
		config:   cfg,
		progress: NewIndexProgress(),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Progress returns the progress tracker for this indexer.
func (b *BackgroundIndexer) Progress() *IndexProgress {
	return b.progress
}

// IsRunning returns true if the indexer is currently running.
func (b *BackgroundIndexer) IsRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// Start launches the reindex pass in a background goroutine and returns
// immediately; call Wait to block for completion.
func (b *BackgroundIndexer) Start(ctx context.Context) {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return
	}
	b.running = true
	b.mu.Unlock()

	go b.run(ctx)
}

// run drives one reindex pass: it writes an in-flight lock file
// (distinct from the data-directory owner lock — this one only marks
// "a reindex is running", so HasIncompleteLock can detect a pass that
// was killed mid-scan), invokes IndexFunc, and marks progress ready or
// errored on return.
func (b *BackgroundIndexer) run(ctx context.Context) {
	defer close(b.doneCh)
	defer func() {
		b.mu.Lock()
		b.running = false
		b.mu.Unlock()
	}()

	// ctx is cancelled either by the caller or by Stop via stopCh.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-b.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	lockPath := filepath.Join(b.config.DataDir, "indexing.lock")
	if err := os.MkdirAll(b.config.DataDir, 0755); err != nil {
		b.progress.SetError(err.Error())
		b.mu.Lock()
		b.err = err
		b.mu.Unlock()
		return
	}

	if err := os.WriteFile(lockPath, []byte(time.Now().Format(time.RFC3339)), 0644); err != nil {
		b.progress.SetError(err.Error())
		b.mu.Lock()
		b.err = err
		b.mu.Unlock()
		return
	}

	defer func() { _ = os.Remove(lockPath) }()

	if b.IndexFunc != nil {
		if err := b.IndexFunc(ctx, b.progress); err != nil {
			b.progress.SetError(err.Error())
			b.mu.Lock()
			b.err = err
			b.mu.Unlock()
			return
		}
	}

	b.progress.SetReady()
}

// Stop signals the in-flight reindex pass to cancel and blocks until it
// exits.
func (b *BackgroundIndexer) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()

	close(b.stopCh)
	<-b.doneCh
}

// Wait blocks until the reindex pass completes and returns its error, if
// any.
func (b *BackgroundIndexer) Wait() error {
	<-b.doneCh
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// HasIncompleteLock reports whether dataDir has a stale indexing.lock
// left behind by a reindex pass that never reached run's deferred
// cleanup — i.e. the process was killed mid-scan.
func HasIncompleteLock(dataDir string) bool {
	lockPath := filepath.Join(dataDir, "indexing.lock")
	_, err := os.Stat(lockPath)
	return err == nil
}
