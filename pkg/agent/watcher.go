package agent

import (
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/ideengine/pkg/log"
	"github.com/cuemby/ideengine/pkg/metrics"
	"github.com/cuemby/ideengine/pkg/types"
	"github.com/fsnotify/fsnotify"
)

// watcher recursively watches a workspace root with fsnotify and emits one
// WatchedFileEvent on events per classified fsnotify event; repeated
// events on the same path are not coalesced. Grounded on the pack's
// fsnotify session watcher: a single fsnotify.Watcher plus a goroutine
// that owns all mutable state, so no locking is needed around the watch
// set itself.
type watcher struct {
	root   string
	fs     *fsnotify.Watcher
	events chan types.WatchedFileEvent
	errs   chan error
	done   chan struct{}
}

func newWatcher(root string) (*watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &watcher{
		root:   root,
		fs:     fw,
		events: make(chan types.WatchedFileEvent, 256),
		errs:   make(chan error, 16),
		done:   make(chan struct{}),
	}
	return w, nil
}

// addTree walks root and adds every non-ignored directory to the watch
// set. fsnotify watches are not recursive, so every directory needs its
// own Add call.
func (w *watcher) addTree() error {
	return filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// A single unreadable entry must not abort the whole walk.
			log.WithComponent("agent.watcher").Warn().Err(err).Str("path", path).Msg("walk error, skipping")
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(w.root, path)
		if relErr == nil && rel != "." && shouldIgnorePath(rel) {
			return filepath.SkipDir
		}
		if addErr := w.fs.Add(path); addErr != nil {
			log.WithComponent("agent.watcher").Warn().Err(addErr).Str("path", path).Msg("failed to watch directory")
		}
		return nil
	})
}

// run is the single goroutine that owns the fsnotify event loop. It
// classifies each raw fsnotify event and forwards it as its own
// WatchedFileEvent, skipping ignored paths entirely. Watcher errors are logged and
// forwarded on errs but never stop the loop, per spec.md §4.5's failure
// semantics.
func (w *watcher) run() {
	defer close(w.events)
	defer close(w.errs)
	defer w.fs.Close()

	compLog := log.WithComponent("agent.watcher")

	for {
		select {
		case <-w.done:
			return

		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			rel, err := filepath.Rel(w.root, ev.Name)
			if err != nil || shouldIgnorePath(rel) {
				continue
			}

			kind, ok := classify(ev)
			if !ok {
				continue
			}

			// A newly created directory must itself be watched so files
			// added under it later are observed.
			if kind == types.FileEventAdd && ev.Has(fsnotify.Create) {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := w.fs.Add(ev.Name); addErr != nil {
						compLog.Warn().Err(addErr).Str("path", ev.Name).Msg("failed to watch new directory")
					}
					continue
				}
			}

			select {
			case w.events <- types.WatchedFileEvent{Path: rel, Kind: kind, ReceivedAt: time.Now()}:
				metrics.FileEventsTotal.WithLabelValues(string(kind)).Inc()
			case <-w.done:
				return
			}

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			compLog.Warn().Err(err).Msg("watcher error, continuing")
			select {
			case w.errs <- err:
			default:
			}
		}
	}
}

func (w *watcher) stop() {
	close(w.done)
}

// classify maps an fsnotify event to the coarser FileEventKind the rest of
// the agent reasons about. Chmod-only events are not significant to a CRDT
// mirror and are dropped.
func classify(ev fsnotify.Event) (types.FileEventKind, bool) {
	switch {
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		return types.FileEventDelete, true
	case ev.Has(fsnotify.Create):
		return types.FileEventAdd, true
	case ev.Has(fsnotify.Write):
		return types.FileEventChange, true
	default:
		return "", false
	}
}
