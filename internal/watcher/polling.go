package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sync"
	"time"
)

// PollingWatcher stands in for fsnotify on filesystems where kernel
// notifications are unavailable (some network mounts, certain sandboxes)
// by periodically re-walking the vault and diffing snapshots. HybridWatcher
// falls back to it only when fsnotify's own watch setup fails; the trade
// is coarser latency (bounded by interval, not sub-second) for a watch
// path that works everywhere a directory walk does.
type PollingWatcher struct {
	interval  time.Duration
	fileState map[string]fileSnapshot
	events    chan FileEvent
	errors    chan error
	stopCh    chan struct{}
	mu        sync.RWMutex
	stopped   bool
	vaultRoot string
}

type fileSnapshot struct {
	modTime time.Time
	size    int64
	isDir   bool
}

// NewPollingWatcher builds a polling watcher that re-walks the vault
// every interval.
func NewPollingWatcher(interval time.Duration) *PollingWatcher {
	return &PollingWatcher{
		interval:  interval,
		fileState: make(map[string]fileSnapshot),
		events:    make(chan FileEvent, 100),
		errors:    make(chan error, 10),
		stopCh:    make(chan struct{}),
	}
}

// Start walks path to establish a baseline snapshot, then re-walks it
// every interval, diffing against the prior snapshot to synthesize
// create/modify/delete events. Blocks until ctx is cancelled or Stop is
// called.
func (p *PollingWatcher) Start(ctx context.Context, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve absolute path: %w", err)
	}
	p.vaultRoot = absPath

	if err := p.scan(); err != nil {
		return fmt.Errorf("perform initial scan: %w", err)
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = p.Stop()
			return ctx.Err()
		case <-p.stopCh:
			return nil
		case <-ticker.C:
			if err := p.detectChanges(); err != nil {
				// Non-fatal error, send to error channel
				select {
				case p.errors <- err:
				default:
				}
			}
		}
	}
}

// Stop stops the polling watcher.
func (p *PollingWatcher) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return nil
	}

	p.stopped = true
	close(p.stopCh)
	close(p.events)
	close(p.errors)
	return nil
}

// Events returns the channel of file events.
func (p *PollingWatcher) Events() <-chan FileEvent {
	return p.events
}

// Errors returns the channel of errors.
func (p *PollingWatcher) Errors() <-chan error {
	return p.errors
}

// scan records a baseline mtime/size snapshot for every path under the
// vault, against which the next detectChanges diffs.
func (p *PollingWatcher) scan() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return filepath.WalkDir(p.vaultRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // Skip files we can't access
		}

		// Get relative path
		relPath, err := filepath.Rel(p.vaultRoot, path)
		if err != nil {
			return nil
		}
		if relPath == "." {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}

		p.fileState[relPath] = fileSnapshot{
			modTime: info.ModTime(),
			size:    info.Size(),
			isDir:   d.IsDir(),
		}

		return nil
	})
}

// detectChanges re-walks the vault, compares the fresh snapshot against
// the one from the previous tick, and emits a create/modify/delete
// event per path whose mtime, size, or presence changed. Note-extension
// filtering happens one layer up in HybridWatcher; this scan sees every
// path under the root.
func (p *PollingWatcher) detectChanges() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Track current files
	currentFiles := make(map[string]fileSnapshot)

	err := filepath.WalkDir(p.vaultRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}

		relPath, err := filepath.Rel(p.vaultRoot, path)
		if err != nil {
			return nil
		}
		if relPath == "." {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}

		snapshot := fileSnapshot{
			modTime: info.ModTime(),
			size:    info.Size(),
			isDir:   d.IsDir(),
		}
		currentFiles[relPath] = snapshot

		// Check for new or modified files
		if prev, exists := p.fileState[relPath]; !exists {
			// New file
			p.emitEvent(FileEvent{
				Path:      relPath,
				Operation: OpCreate,
				IsDir:     d.IsDir(),
				Timestamp: time.Now(),
			})
		} else if prev.modTime != snapshot.modTime || prev.size != snapshot.size {
			// Modified file
			p.emitEvent(FileEvent{
				Path:      relPath,
				Operation: OpModify,
				IsDir:     d.IsDir(),
				Timestamp: time.Now(),
			})
		}

		return nil
	})

	if err != nil {
		return fmt.Errorf("walk directory for changes: %w", err)
	}

	// Check for deleted files
	for path, snapshot := range p.fileState {
		if _, exists := currentFiles[path]; !exists {
			p.emitEvent(FileEvent{
				Path:      path,
				Operation: OpDelete,
				IsDir:     snapshot.isDir,
				Timestamp: time.Now(),
			})
		}
	}

	// Update state
	p.fileState = currentFiles
	return nil
}

// emitEvent sends an event to the events channel.
// Must be called with lock held.
func (p *PollingWatcher) emitEvent(event FileEvent) {
	if p.stopped {
		return
	}

	select {
	case p.events <- event:
	default:
		slog.Warn("polling watcher buffer full, dropping event",
			slog.String("path", event.Path),
			slog.String("op", event.Operation.String()),
		)
	}
}
