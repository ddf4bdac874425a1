// Package watcher provides real-time file system watching over a vault
// directory, with automatic debouncing and markdown-only filtering.
//
// The package implements a hybrid watching strategy:
//   - Primary: fsnotify for efficient event-based watching
//   - Fallback: Polling for environments where fsnotify fails (network mounts, Docker volumes)
//
// Events are debounced to coalesce rapid changes from editors and sync
// clients, and filtered to .md files outside the vault's ignored
// directories (.git, .obsidian, .pkm-agent, node_modules, __pycache__,
// .venv, venv).
//
// Usage:
//
//	opts := watcher.DefaultOptions()
//	w, err := watcher.NewHybridWatcher(opts)
//	if err != nil {
//	    return err
//	}
//	defer w.Stop()
//
//	if err := w.Start(ctx, "/path/to/project"); err != nil {
//	    return err
//	}
//
//	for event := range w.Events() {
//	    switch event.Operation {
//	    case watcher.OpCreate:
//	        // Handle file creation
//	    case watcher.OpModify:
//	        // Handle file modification
//	    case watcher.OpDelete:
//	        // Handle file deletion
//	    }
//	}
package watcher
