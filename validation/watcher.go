package validation

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultReloadDelay is how long the watcher waits for a burst of writes to
// settle before reloading.
const DefaultReloadDelay = 250 * time.Millisecond

// LexiconWatcher keeps a Lexicon in sync with an extra-terms file. The file's
// terms are layered on top of a fixed base list.
type LexiconWatcher struct {
	path    string
	base    []string
	lexicon *Lexicon
	delay   time.Duration
	logger  *slog.Logger
	watcher *fsnotify.Watcher

	pendingMu sync.Mutex
	pending   bool

	reloads chan struct{}
}

// WatcherOption configures a LexiconWatcher.
type WatcherOption func(*LexiconWatcher)

// WithWatcherLogger sets the logger.
func WithWatcherLogger(l *slog.Logger) WatcherOption {
	return func(w *LexiconWatcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithReloadDelay sets the debounce delay.
func WithReloadDelay(d time.Duration) WatcherOption {
	return func(w *LexiconWatcher) {
		if d > 0 {
			w.delay = d
		}
	}
}

// NewLexiconWatcher loads path into lexicon (on top of base) and prepares a
// watcher for later changes. A missing or unreadable file is an error here;
// after Start, read failures are logged and the previous terms are kept.
func NewLexiconWatcher(path string, base []string, lexicon *Lexicon, opts ...WatcherOption) (*LexiconWatcher, error) {
	w := &LexiconWatcher{
		path:    filepath.Clean(path),
		base:    append([]string(nil), base...),
		lexicon: lexicon,
		delay:   DefaultReloadDelay,
		logger:  slog.Default(),
		reloads: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(w)
	}

	if err := w.reload(); err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	w.watcher = fsw
	return w, nil
}

// Reloads receives a signal after every successful reload. Signals are
// coalesced; a slow reader sees at least the latest one.
func (w *LexiconWatcher) Reloads() <-chan struct{} {
	return w.reloads
}

// Start watches the directory holding the lexicon file until ctx is done.
// The directory is watched rather than the file so that editors which
// replace the file by rename keep being observed.
func (w *LexiconWatcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}
	go w.processEvents(ctx)

	w.logger.Info("Lexicon watcher started",
		"path", w.path,
		"terms", len(w.lexicon.Terms()))
	return nil
}

// Stop closes the underlying watcher.
func (w *LexiconWatcher) Stop() error {
	return w.watcher.Close()
}

func (w *LexiconWatcher) processEvents(ctx context.Context) {
	ticker := time.NewTicker(w.delay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				// The replacement file, if any, arrives as a Create.
				w.logger.Debug("Lexicon file removed", "path", w.path)
				continue
			}
			w.pendingMu.Lock()
			w.pending = true
			w.pendingMu.Unlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Lexicon watcher error", "error", err)

		case <-ticker.C:
			w.flushPending()
		}
	}
}

func (w *LexiconWatcher) flushPending() {
	w.pendingMu.Lock()
	due := w.pending
	w.pending = false
	w.pendingMu.Unlock()
	if !due {
		return
	}

	if err := w.reload(); err != nil {
		w.logger.Warn("Lexicon reload failed, keeping previous terms",
			"path", w.path,
			"error", err)
		return
	}
	select {
	case w.reloads <- struct{}{}:
	default:
	}
}

func (w *LexiconWatcher) reload() error {
	extra, err := LoadLexiconFile(w.path)
	if err != nil {
		return err
	}
	terms := append(append([]string(nil), w.base...), extra...)
	w.lexicon.Replace(terms)
	w.logger.Debug("Lexicon loaded",
		"path", w.path,
		"extra_terms", len(extra))
	return nil
}
