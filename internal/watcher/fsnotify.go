package watcher

import (
	"time"

	"github.com/fsnotify/fsnotify"
)

// rawEvent is the engine's operation-agnostic view of an fsnotify event.
type rawEvent struct {
	Name   string
	Create bool
	Write  bool
	Remove bool
	Rename bool
}

// fsnotifyWatcher adapts github.com/fsnotify/fsnotify to the narrow surface
// HybridWatcher needs, keeping the underlying library call sites in one place.
type fsnotifyWatcher struct {
	w *fsnotify.Watcher
}

func newFsnotifyWatcher() (*fsnotifyWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &fsnotifyWatcher{w: w}, nil
}

func (f *fsnotifyWatcher) Add(path string) error { return f.w.Add(path) }

func (f *fsnotifyWatcher) Close() error { return f.w.Close() }

func (f *fsnotifyWatcher) Events() <-chan rawEvent {
	out := make(chan rawEvent)
	go func() {
		defer close(out)
		for ev := range f.w.Events {
			out <- rawEvent{
				Name:   ev.Name,
				Create: ev.Op&fsnotify.Create != 0,
				Write:  ev.Op&fsnotify.Write != 0,
				Remove: ev.Op&fsnotify.Remove != 0,
				Rename: ev.Op&fsnotify.Rename != 0,
			}
		}
	}()
	return out
}

func (f *fsnotifyWatcher) Errors() <-chan error { return f.w.Errors }

// nowFunc is a seam so tests can stub the event timestamp; production code
// always sees the real clock.
var nowFunc = time.Now
