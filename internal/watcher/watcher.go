// Package watcher turns fsnotify notifications for a directory tree into
// debounced change events. Events are hints: consumers re-check disk and
// store state before mutating anything, so the watcher may over-report but
// must never block.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hyperjump/kagami/internal/models"
)

const defaultDebounce = 400 * time.Millisecond

// Watcher watches a directory tree recursively and emits models.Event
// values on its Events channel.
type Watcher struct {
	root        string
	extensions  []string
	excludeDirs []string
	debounce    time.Duration
	events      chan models.Event
	watcher     *fsnotify.Watcher
	logger      *zap.Logger

	mu          sync.Mutex
	debounceMap map[string]*time.Timer
	started     bool
	done        chan struct{}
	stopOnce    sync.Once
}

// Option configures a Watcher.
type Option func(*Watcher)

func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// WithDebounce overrides the write-coalescing window.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// New creates a watcher for root. extensions filters which files produce
// events (empty = all); directories whose name appears in excludeDirs are
// never descended into.
func New(root string, extensions, excludeDirs []string, opts ...Option) *Watcher {
	w := &Watcher{
		root:        root,
		extensions:  extensions,
		excludeDirs: excludeDirs,
		debounce:    defaultDebounce,
		events:      make(chan models.Event, 256),
		debounceMap: make(map[string]*time.Timer),
		done:        make(chan struct{}),
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Events returns the channel change events are delivered on. It is closed
// after Stop.
func (w *Watcher) Events() <-chan models.Event {
	return w.events
}

// Start begins watching. It runs until ctx is cancelled or Stop is called.
// The root directory is created if missing.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.watcher = fsw
	w.started = true
	w.mu.Unlock()

	w.logger.Debug("watcher starting",
		zap.String("root", w.root),
		zap.Strings("extensions", w.extensions),
		zap.Strings("exclude_dirs", w.excludeDirs))
	if err := w.addTree(w.root); err != nil {
		w.Stop()
		return err
	}
	go w.run(ctx)
	return nil
}

func (w *Watcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if err != nil {
				w.logger.Debug("watcher error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	path := ev.Name
	if w.excludedPath(path) {
		return
	}
	w.logger.Debug("watcher event",
		zap.String("op", ev.Op.String()), zap.String("path", path))

	switch {
	case ev.Op.Has(fsnotify.Create):
		info, err := os.Stat(path)
		if err == nil && info.IsDir() {
			w.handleNewDirectory(path)
			return
		}
		if w.matchExtension(path) {
			w.debounceEmit(path, models.EventCreated)
		}
	case ev.Op.Has(fsnotify.Write):
		if w.matchExtension(path) {
			w.debounceEmit(path, models.EventModified)
		}
	case ev.Op.Has(fsnotify.Remove), ev.Op.Has(fsnotify.Rename):
		// Rename delivers the old name; the new location arrives as a
		// separate Create. Both settle independently downstream.
		w.cancelDebounce(path)
		if w.matchExtension(path) {
			w.emit(models.Event{Type: models.EventDeleted, Path: path})
		}
	}
}

// handleNewDirectory watches a directory that appeared after startup and
// emits create events for the matching files already inside it, which
// happens when a whole folder is moved or copied into the tree.
func (w *Watcher) handleNewDirectory(dirPath string) {
	w.logger.Debug("watcher adding new directory", zap.String("path", dirPath))
	if err := w.addTree(dirPath); err != nil {
		w.logger.Debug("watcher failed to add directory",
			zap.String("path", dirPath), zap.Error(err))
		return
	}
	filepath.WalkDir(dirPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != dirPath && w.excludedDir(d.Name()) {
				return fs.SkipDir
			}
			return nil
		}
		if w.matchExtension(path) {
			w.debounceEmit(path, models.EventCreated)
		}
		return nil
	})
}

// addTree registers root and every non-excluded subdirectory with the
// fsnotify watcher, creating root if it does not exist.
func (w *Watcher) addTree(root string) error {
	root = filepath.Clean(root)
	if _, err := os.Stat(root); err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		if err := os.MkdirAll(root, 0755); err != nil {
			return err
		}
	}
	w.mu.Lock()
	fsw := w.watcher
	w.mu.Unlock()
	if fsw == nil {
		return nil
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && w.excludedDir(d.Name()) {
			return fs.SkipDir
		}
		return fsw.Add(path)
	})
}

func (w *Watcher) excludedDir(name string) bool {
	for _, ex := range w.excludeDirs {
		if name == ex {
			return true
		}
	}
	return false
}

// excludedPath reports whether path sits outside root or under an excluded
// directory.
func (w *Watcher) excludedPath(path string) bool {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return true
	}
	for _, seg := range strings.Split(filepath.Dir(rel), string(filepath.Separator)) {
		if w.excludedDir(seg) {
			return true
		}
	}
	return false
}

func (w *Watcher) matchExtension(path string) bool {
	if len(w.extensions) == 0 {
		return true
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, e := range w.extensions {
		if strings.TrimPrefix(strings.ToLower(e), ".") == ext {
			return true
		}
	}
	return false
}

// debounceEmit coalesces rapid writes to the same path into one event.
func (w *Watcher) debounceEmit(path string, typ models.EventType) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.debounceMap[path]; ok {
		t.Stop()
	}
	w.debounceMap[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.debounceMap, path)
		w.mu.Unlock()
		w.emit(models.Event{Type: typ, Path: path})
	})
}

func (w *Watcher) cancelDebounce(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.debounceMap[path]; ok {
		t.Stop()
		delete(w.debounceMap, path)
	}
}

// emit delivers an event without blocking. A full buffer drops the event;
// the periodic full pass picks up anything dropped here.
func (w *Watcher) emit(ev models.Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return
	}
	select {
	case w.events <- ev:
	default:
		w.logger.Warn("event buffer full, dropping event",
			zap.String("path", ev.Path))
	}
}

// Stop stops the watcher, cancels pending debounces and closes the Events
// channel.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started || w.watcher == nil {
		w.mu.Unlock()
		return
	}
	for path, t := range w.debounceMap {
		t.Stop()
		delete(w.debounceMap, path)
	}
	_ = w.watcher.Close()
	w.watcher = nil
	w.started = false
	w.stopOnce.Do(func() {
		close(w.done)
		close(w.events)
	})
	w.mu.Unlock()
}
