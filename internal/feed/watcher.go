package feed

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/roach88/rosterd/internal/engine"
	"github.com/roach88/rosterd/internal/provider"
)

// Sink receives derived events. *engine.Engine implements it.
type Sink interface {
	Enqueue(ev engine.Event) bool
}

// Watcher follows a snapshot file and feeds the differences between
// successive versions to a Sink.
type Watcher struct {
	path    string
	sink    Sink
	log     *slog.Logger
	current provider.Snapshot
	loaded  bool
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.log = l
		}
	}
}

// NewWatcher creates a Watcher for the snapshot at path.
func NewWatcher(path string, sink Sink, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		path: filepath.Clean(path),
		sink: sink,
		log:  slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Reload reads the snapshot and enqueues what changed since the previous
// load. The first load enqueues a full sync. A snapshot that fails to load
// is reported and the previous version stays current.
func (w *Watcher) Reload() (int, error) {
	next, err := Load(w.path)
	if err != nil {
		return 0, err
	}
	var events []engine.Event
	if w.loaded {
		events = Changes(w.current, next)
	} else {
		events = []engine.Event{engine.Sync(next.Accounts)}
	}
	for _, ev := range events {
		if !w.sink.Enqueue(ev) {
			return 0, fmt.Errorf("enqueue %s: engine stopped", ev.Type)
		}
	}
	w.current = next
	w.loaded = true
	return len(events), nil
}

// Run loads the snapshot, then reloads it whenever the file is written,
// created or renamed into place, until ctx is cancelled. The directory is
// watched so editors that replace the file are followed.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}
	if _, err := w.Reload(); err != nil {
		return err
	}
	w.log.Info("watching snapshot", "path", w.path)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			n, err := w.Reload()
			if err != nil {
				w.log.Warn("snapshot reload failed", "path", w.path, "error", err)
				continue
			}
			w.log.Debug("snapshot reloaded", "path", w.path, "events", n)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watch error", "path", w.path, "error", err)
		}
	}
}
