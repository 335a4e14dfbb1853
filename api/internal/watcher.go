package internal

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/rvnztolentino/road-defect-indexing-maps/api/config"
)

// StoreWatcher watches a local store directory and nudges the engine as
// soon as a new metadata file settles, instead of waiting out the poll
// interval. Only started in local-store mode; cloud deployments rely on
// the timer alone.
type StoreWatcher struct {
	watcher *fsnotify.Watcher
	dir     string
	engine  *Engine
	logger  *Logger

	mu   sync.Mutex
	seen map[string]time.Time
}

func NewStoreWatcher(dir string, engine *Engine, logger *Logger) (*StoreWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &StoreWatcher{
		watcher: watcher,
		dir:     dir,
		engine:  engine,
		logger:  logger,
		seen:    make(map[string]time.Time),
	}, nil
}

// Start begins monitoring the store directory and its subdirectories.
func (w *StoreWatcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(w.dir); err != nil {
		return err
	}
	err := filepath.WalkDir(w.dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if addErr := w.watcher.Add(path); addErr != nil {
				w.logger.Warn("could not watch %s: %v", path, addErr)
			}
		}
		return nil
	})
	if err != nil {
		w.logger.Warn("watch subdirectories: %v", err)
	}

	go w.processEvents(ctx)
	w.logger.Info("watching local store %s", w.dir)
	return nil
}

func (w *StoreWatcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ctx, event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error: %v", err)
		}
	}
}

func (w *StoreWatcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}
	if !strings.HasSuffix(strings.ToLower(event.Name), config.MetadataExt) {
		return
	}
	if w.recentlySeen(event.Name) {
		return
	}

	go func() {
		// Give the writer a moment, then confirm the file stopped growing.
		time.Sleep(config.FileStabilityDelay)
		if !fileStable(event.Name) {
			w.logger.Debug("file still being written, skipping: %s", event.Name)
			return
		}
		w.logger.Info("new metadata file detected: %s", event.Name)
		if ran, err := w.engine.Refresh(ctx); err != nil {
			w.logger.Warn("refresh after %s: %v", event.Name, err)
		} else if !ran {
			w.logger.Debug("refresh already in flight for %s", event.Name)
		}
	}()
}

// recentlySeen debounces duplicate events for the same path.
func (w *StoreWatcher) recentlySeen(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	if last, ok := w.seen[path]; ok && now.Sub(last) < config.WatcherDebounce {
		return true
	}
	w.seen[path] = now

	if len(w.seen)%100 == 0 {
		cutoff := now.Add(-time.Minute)
		for p, t := range w.seen {
			if t.Before(cutoff) {
				delete(w.seen, p)
			}
		}
	}
	return false
}

// fileStable reports whether size and mtime held still across a short
// window.
func fileStable(path string) bool {
	info1, err := os.Stat(path)
	if err != nil {
		return false
	}
	time.Sleep(config.FileStabilityDelay)
	info2, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info1.Size() == info2.Size() && info1.ModTime().Equal(info2.ModTime())
}

func (w *StoreWatcher) Stop() error {
	return w.watcher.Close()
}
