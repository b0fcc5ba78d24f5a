// Package watcher watches a directory tree for filesystem changes and
// drives incremental re-indexing through a HybridIndex.
package watcher

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/Arlen1017012857/code-index/internal/index"
	"github.com/Arlen1017012857/code-index/internal/language"
)

// DebounceDelay is how long the watcher waits after the last event for a
// path before re-indexing it. A timer is reset on every new event for that
// path, so it always fires on the trailing edge of a burst of writes, never
// eagerly on the leading edge.
const DebounceDelay = 1 * time.Second

// Watcher watches a directory tree for changes and keeps a HybridIndex in
// sync. A Watcher is an explicit owned value, not a process-wide singleton:
// callers construct one, call Watch, and optionally call
// InstallSignalHandlers once per process.
type Watcher struct {
	fw  *fsnotify.Watcher
	idx *index.HybridIndex

	mu      sync.Mutex
	pending map[string]*time.Timer
}

// New creates a Watcher that indexes changes into idx.
func New(idx *index.HybridIndex) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("fsnotify: %w", err)
	}
	return &Watcher{fw: fw, idx: idx, pending: make(map[string]*time.Timer)}, nil
}

// Watch adds rootDir (and all subdirectories) to the watch list and
// processes events until ctx is cancelled or the underlying fsnotify
// watcher is closed. It blocks; call it in a goroutine.
func (w *Watcher) Watch(ctx context.Context, rootDir string) error {
	if err := w.addDirRecursive(rootDir); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return w.fw.Close()

		case event, ok := <-w.fw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ctx, event)

		case err, ok := <-w.fw.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(os.Stderr, "[watch] error: %v\n", err)
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	path := event.Name

	if event.Has(fsnotify.Create) {
		if fi, err := os.Stat(path); err == nil && fi.IsDir() {
			_ = w.addDirRecursive(path)
			return
		}
	}

	if _, ok := language.ExtensionToLanguage[filepath.Ext(path)]; !ok {
		return
	}

	if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		w.cancelPending(path)
		if err := w.idx.RemoveFile(path); err != nil {
			fmt.Fprintf(os.Stderr, "[watch] remove %s: %v\n", path, err)
		}
		return
	}

	if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
		w.scheduleUpdate(ctx, path)
	}
}

// scheduleUpdate (re)starts path's debounce timer. Each call resets any
// existing timer for path, so the update runs DebounceDelay after the last
// event — the trailing edge of the burst, not the first event seen.
func (w *Watcher) scheduleUpdate(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(DebounceDelay, func() {
		w.runUpdate(ctx, path)
	})
}

func (w *Watcher) cancelPending(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
		delete(w.pending, path)
	}
}

func (w *Watcher) runUpdate(ctx context.Context, path string) {
	w.mu.Lock()
	delete(w.pending, path)
	w.mu.Unlock()

	cycle := uuid.New().String()[:8]
	fmt.Fprintf(os.Stderr, "[watch %s] re-indexing %s\n", cycle, path)
	if err := w.idx.UpdateFile(ctx, path); err != nil {
		fmt.Fprintf(os.Stderr, "[watch %s] error: %v\n", cycle, err)
	}
}

// addDirRecursive adds dir and all non-hidden subdirectories to the
// watcher.
func (w *Watcher) addDirRecursive(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	if err := w.fw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if e.IsDir() {
			if err := w.addDirRecursive(filepath.Join(dir, e.Name())); err != nil {
				fmt.Fprintf(os.Stderr, "[watch] skip dir: %v\n", err)
			}
		}
	}
	return nil
}

// InstallSignalHandlers arranges for SIGINT/SIGTERM to call cancel and stop
// the watcher's fsnotify loop. Safe to call more than once; only the first
// call installs a handler.
var installSignalHandlersOnce sync.Once

func InstallSignalHandlers(cancel context.CancelFunc) {
	installSignalHandlersOnce.Do(func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-sigCh
			cancel()
		}()
	})
}
