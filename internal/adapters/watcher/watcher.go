// Package watcher turns file system events in scene inbox directories into
// debounced scene events.
package watcher

import (
	"context"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Event is a settled change to a scene file.
type Event struct {
	Path      string
	Operation Operation
}

// Operation represents the type of file operation.
type Operation int

// File operation types.
const (
	OpCreate Operation = iota
	OpModify
	OpDelete
)

// String returns the string representation of the operation.
func (o Operation) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Handler is called once per settled event.
type Handler func(ctx context.Context, event Event) error

type pendingEvent struct {
	lastSeen time.Time
	op       Operation
}

// Watcher watches directories for GeoTIFF scenes. A file is reported once no
// event has been seen for it during the debounce interval, so scenes that
// are still being copied are not picked up half written.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	handler   Handler
	logger    *slog.Logger
	paths     []string
	debounce  time.Duration

	mu      sync.Mutex
	pending map[string]*pendingEvent
	wg      sync.WaitGroup
}

// Config holds watcher configuration.
type Config struct {
	Paths    []string
	Debounce time.Duration
}

// New creates a new file watcher.
func New(cfg Config, handler Handler, logger *slog.Logger) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if cfg.Debounce <= 0 {
		cfg.Debounce = 2 * time.Second
	}

	return &Watcher{
		fsWatcher: fsWatcher,
		handler:   handler,
		logger:    logger,
		paths:     cfg.Paths,
		debounce:  cfg.Debounce,
		pending:   make(map[string]*pendingEvent),
	}, nil
}

// Start watches the configured paths until ctx is done. Paths that cannot
// be watched are logged and skipped.
func (w *Watcher) Start(ctx context.Context) error {
	for _, path := range w.paths {
		if err := w.AddPath(path); err != nil {
			w.logger.Warn("failed to watch path", "path", path, "error", err)
		}
	}

	go w.eventLoop(ctx)
	go w.debounceLoop(ctx)

	return nil
}

// Stop closes the watcher and waits for running handlers.
func (w *Watcher) Stop() error {
	err := w.fsWatcher.Close()
	w.wg.Wait()
	return err
}

func (w *Watcher) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.record(event.Name, fsnotifyOpToOperation(event.Op), time.Now())

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher error", "error", err)
		}
	}
}

// record adds or merges an event for path.
func (w *Watcher) record(path string, op Operation, now time.Time) {
	if !isSceneFile(path) {
		return
	}
	w.logger.Debug("file event", "path", path, "op", op.String())

	w.mu.Lock()
	defer w.mu.Unlock()

	existing, ok := w.pending[path]
	if !ok {
		w.pending[path] = &pendingEvent{lastSeen: now, op: op}
		return
	}

	existing.lastSeen = now
	switch {
	case existing.op == OpDelete && op == OpCreate:
		// Replaced file.
		existing.op = OpCreate
	case op == OpDelete:
		existing.op = OpDelete
	case existing.op == OpCreate:
		// Writes after a create are part of the same copy.
	default:
		existing.op = op
	}
}

func (w *Watcher) debounceLoop(ctx context.Context) {
	tick := min(w.debounce/4, 250*time.Millisecond)
	ticker := time.NewTicker(max(tick, 10*time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, e := range w.flush(now) {
				w.dispatch(ctx, e)
			}
		}
	}
}

// flush removes and returns the events that settled before now, ordered by
// path.
func (w *Watcher) flush(now time.Time) []Event {
	w.mu.Lock()
	defer w.mu.Unlock()

	var due []Event
	for path, p := range w.pending {
		if now.Sub(p.lastSeen) < w.debounce {
			continue
		}
		delete(w.pending, path)
		due = append(due, Event{Path: path, Operation: p.op})
	}
	sort.Slice(due, func(i, j int) bool { return due[i].Path < due[j].Path })
	return due
}

func (w *Watcher) dispatch(ctx context.Context, e Event) {
	w.logger.Info("scene file settled", "path", e.Path, "operation", e.Operation.String())

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if err := w.handler(ctx, e); err != nil {
			w.logger.Error("handler error",
				"path", e.Path,
				"operation", e.Operation.String(),
				"error", err,
			)
		}
	}()
}

// fsnotifyOpToOperation converts fsnotify.Op to our Operation type.
func fsnotifyOpToOperation(op fsnotify.Op) Operation {
	switch {
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		// A renamed file is gone from the watched location.
		return OpDelete
	case op.Has(fsnotify.Create):
		return OpCreate
	default:
		return OpModify
	}
}

// isSceneFile reports whether path is a visible GeoTIFF. Hidden files are
// temporaries of in-progress writes.
func isSceneFile(path string) bool {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") {
		return false
	}
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".tif" || ext == ".tiff"
}

// AddPath adds a directory to watch.
func (w *Watcher) AddPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := w.fsWatcher.Add(absPath); err != nil {
		return err
	}
	w.logger.Info("watching directory", "path", absPath)
	return nil
}

// RemovePath stops watching a directory.
func (w *Watcher) RemovePath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := w.fsWatcher.Remove(absPath); err != nil {
		return err
	}
	w.logger.Info("removed watch path", "path", absPath)
	return nil
}
