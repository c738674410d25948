package loader

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/codefionn/werkzeug/internal/logger"
	"github.com/codefionn/werkzeug/internal/store"
)

const reloadDebounce = 250 * time.Millisecond

// Watcher hot-reloads provider scripts from a directory. Each *.js file maps
// to a provider named after its base name; writing the file reloads the
// provider and removing it unloads the provider.
type Watcher struct {
	loader  *Loader
	store   *store.Store
	dir     string
	watcher *fsnotify.Watcher
	stopCh  chan struct{}

	pendingMu sync.Mutex
	pending   map[string]*time.Timer
}

// NewWatcher starts watching dir. The directory is created if missing, and
// every script already present is loaded once before events flow.
func NewWatcher(ctx context.Context, l *Loader, s *store.Store, dir string) (*Watcher, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{
		loader:  l,
		store:   s,
		dir:     dir,
		watcher: fsw,
		stopCh:  make(chan struct{}),
		pending: make(map[string]*time.Timer),
	}

	w.loadExisting(ctx)
	go w.run()
	return w, nil
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.stopCh)
	return w.watcher.Close()
}

func (w *Watcher) loadExisting(ctx context.Context) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		logger.Warn("watcher: failed to read %s: %v", w.dir, err)
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || !isScript(entry.Name()) {
			continue
		}
		w.reloadFile(filepath.Join(w.dir, entry.Name()))
	}
}

func (w *Watcher) run() {
	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Error("watcher: %v", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !isScript(event.Name) {
		return
	}
	name := providerName(event.Name)

	switch {
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		logger.Info("watcher: script %s removed, unloading provider %s", event.Name, name)
		if err := w.loader.Remove(name); err != nil {
			logger.Debug("watcher: unload %s: %v", name, err)
		}
	case event.Op&(fsnotify.Create|fsnotify.Write) != 0:
		// Editors fire bursts of writes; coalesce them.
		w.debounce(event.Name)
	}
}

func (w *Watcher) debounce(path string) {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(reloadDebounce, func() {
		// The callback runs off the watcher goroutine; drop the entry so the
		// map holds only timers that have not fired yet.
		w.pendingMu.Lock()
		delete(w.pending, path)
		w.pendingMu.Unlock()
		w.reloadFile(path)
	})
}

func (w *Watcher) reloadFile(path string) {
	code, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("watcher: failed to read %s: %v", path, err)
		return
	}
	name := providerName(path)

	ctx := context.Background()
	changed, err := w.store.SaveProvider(ctx, name, string(code))
	if err != nil {
		logger.Error("watcher: failed to persist %s: %v", name, err)
		return
	}
	// Same content hash and already live means there is nothing to do.
	if !changed && w.loader.manager.IsLoaded(name) {
		logger.Debug("watcher: %s unchanged, skipping reload", name)
		return
	}

	if err := w.loader.LoadAndRegister(ctx, name, string(code)); err != nil {
		logger.Error("watcher: failed to load %s: %v", name, err)
		return
	}
	if err := w.store.SetProviderEnabled(ctx, name, true); err != nil {
		logger.Warn("watcher: failed to enable %s: %v", name, err)
	}
	logger.Info("watcher: loaded provider %s from %s", name, path)
}

func isScript(path string) bool {
	return strings.HasSuffix(path, ".js")
}

func providerName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), ".js")
}
