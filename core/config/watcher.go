package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/leofalp/aimux/internal/utils"
)

// DefaultDebounce coalesces the burst of events editors emit on save.
const DefaultDebounce = 150 * time.Millisecond

// ReloadFunc receives the freshly decoded provider file. err is set when the
// file could not be read or parsed as a whole.
type ReloadFunc func(entries []ProviderEntry, err error)

// Watcher reloads a provider file when it changes on disk. The parent
// directory is watched so atomic replace-by-rename saves are seen.
type Watcher struct {
	path     string
	onReload ReloadFunc
	debounce time.Duration
	logger   *slog.Logger

	fsw *fsnotify.Watcher

	mu       sync.Mutex
	timer    *time.Timer
	lastHash string
	stopped  bool
	done     chan struct{}
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce overrides DefaultDebounce.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithWatcherLogger sets the logger used for reload diagnostics.
func WithWatcherLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewWatcher prepares a watcher for path. Nothing is watched until Start.
func NewWatcher(path string, onReload ReloadFunc, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		path:     filepath.Clean(path),
		onReload: onReload,
		debounce: DefaultDebounce,
		logger:   slog.Default(),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins watching. The current file content is hashed so the first
// event that leaves it unchanged does not trigger a reload. Watching stops
// when ctx is done or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	if w.onReload == nil {
		return errors.New("config watcher: reload callback is nil")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("config watcher: watch %s: %w", filepath.Dir(w.path), err)
	}
	w.fsw = fsw

	if data, err := os.ReadFile(w.path); err == nil {
		w.lastHash = utils.ShortHash(string(data))
	}

	go w.processEvents(ctx)
	return nil
}

// Stop ends watching and cancels a pending reload. Safe to call twice.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	close(w.done)
	if w.fsw == nil {
		return nil
	}
	return w.fsw.Close()
}

func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			_ = w.Stop()
			return
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "path", w.path, "error", err.Error())
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.path {
		return
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	data, err := os.ReadFile(w.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// Atomic replace in progress; the Create that follows reschedules.
			w.logger.Debug("config file missing during reload", "path", w.path)
			return
		}
		w.onReload(nil, fmt.Errorf("read provider file: %w", err))
		return
	}

	hash := utils.ShortHash(string(data))
	w.mu.Lock()
	if w.stopped || hash == w.lastHash {
		w.mu.Unlock()
		return
	}
	w.lastHash = hash
	w.mu.Unlock()

	entries, err := Decode(data)
	w.logger.Info("provider file changed", "path", w.path, "providers", len(entries))
	w.onReload(entries, err)
}
