// Package watch runs format detection on captures as they land in a
// directory.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/qri-io/framestack"
	"github.com/qri-io/framestack/log"
)

// DefaultDebounce is how long a file must stay quiet before it is detected.
const DefaultDebounce = 200 * time.Millisecond

// Event reports the detection outcome for one file. Err wraps
// framestack.ErrNoMatch when no format recognized it.
type Event struct {
	Path   string
	Result *framestack.DetectResult
	Err    error
}

// Handler receives events on the goroutine running Watcher.Run.
type Handler func(Event)

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the quiet period after the last write to a file.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// WithLogger sets a logger. If not provided, nothing is logged.
func WithLogger(l log.Logger) Option {
	return func(w *Watcher) { w.log = l }
}

// WithExisting makes Run detect the files already in the directory before
// watching for new ones.
func WithExisting(v bool) Option {
	return func(w *Watcher) { w.existing = v }
}

// Watcher watches one directory.
type Watcher struct {
	dir      string
	store    framestack.Store
	handle   Handler
	debounce time.Duration
	existing bool
	log      log.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// New creates a watcher for dir. Detection reads through a local store
// rooted at dir, so event paths are relative to it.
func New(dir string, handle Handler, opts ...Option) (*Watcher, error) {
	if handle == nil {
		return nil, fmt.Errorf("%w: nil handler", framestack.ErrConfig)
	}
	st, err := os.Stat(dir)
	if err != nil {
		return nil, framestack.ConfigError(err)
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", framestack.ErrConfig, dir)
	}
	store, err := framestack.NewLocalStore(dir)
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		dir:      dir,
		store:    store,
		handle:   handle,
		debounce: DefaultDebounce,
		log:      log.NoopLogger{},
		timers:   map[string]*time.Timer{},
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.debounce <= 0 {
		return nil, fmt.Errorf("%w: debounce must be positive", framestack.ErrConfig)
	}
	return w, nil
}

// Store is the store event paths resolve against.
func (w *Watcher) Store() framestack.Store { return w.store }

// Run watches until ctx is done. It returns nil on cancellation.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("%w: %w", framestack.ErrResource, err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("%w: watch %s: %w", framestack.ErrResource, w.dir, err)
	}
	w.log.Info("watching for captures", log.String("dir", w.dir), log.Duration("debounce", w.debounce))

	ready := make(chan string)
	done := make(chan struct{})
	defer close(done)
	defer w.stopTimers()

	if w.existing {
		entries, err := os.ReadDir(w.dir)
		if err != nil {
			return framestack.ConfigError(err)
		}
		for _, e := range entries {
			if e.Type().IsRegular() && !hidden(e.Name()) {
				w.handle(w.detect(e.Name()))
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case name := <-ready:
			w.handle(w.detect(name))

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			name, err := filepath.Rel(w.dir, event.Name)
			if err != nil || hidden(name) {
				continue
			}
			w.schedule(filepath.ToSlash(name), ready, done)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Error("watcher error", log.Err(err))
		}
	}
}

// schedule (re)starts the quiet period of name. When it expires the name is
// handed to the Run loop.
func (w *Watcher) schedule(name string, ready chan<- string, done <-chan struct{}) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.timers[name]; ok {
		t.Stop()
	}
	w.timers[name] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, name)
		w.mu.Unlock()
		select {
		case ready <- name:
		case <-done:
		}
	})
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for name, t := range w.timers {
		t.Stop()
		delete(w.timers, name)
	}
}

func (w *Watcher) detect(name string) Event {
	info, err := os.Stat(filepath.Join(w.dir, filepath.FromSlash(name)))
	if err != nil {
		return Event{Path: name, Err: framestack.ConfigError(err)}
	}
	if !info.Mode().IsRegular() {
		return Event{Path: name, Err: fmt.Errorf("%w: %s is not a regular file", framestack.ErrNoMatch, name)}
	}
	res, err := framestack.Detect(w.store, name)
	if err != nil {
		w.log.Debug("no format detected", log.String("path", name), log.Err(err))
		return Event{Path: name, Err: err}
	}
	w.log.Debug("format detected", log.String("path", name), log.String("format", res.Format))
	return Event{Path: name, Result: res}
}

func hidden(name string) bool {
	return strings.HasPrefix(filepath.Base(name), ".")
}
