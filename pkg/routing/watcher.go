package routing

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the rules file into an Engine when it changes on disk.
// Reloads are debounced so editors that write in several steps trigger one
// reload, and a file that fails parsing or validation leaves the previous
// table in place.
type Watcher struct {
	path     string
	engine   *Engine
	backends map[string]bool
	debounce time.Duration
	logger   *slog.Logger

	watcher *fsnotify.Watcher

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// DefaultDebounceInterval is how long the watcher waits after the last change
// event before reloading.
const DefaultDebounceInterval = 100 * time.Millisecond

// NewWatcher creates a watcher for the rules file at path. The backends set
// is the same one the initial table was validated against.
func NewWatcher(path string, engine *Engine, backends map[string]bool, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	return &Watcher{
		path:     filepath.Clean(path),
		engine:   engine,
		backends: backends,
		debounce: DefaultDebounceInterval,
		logger:   logger,
		watcher:  fw,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start begins watching. It watches the file's directory rather than the file
// itself so atomic rename-into-place saves keep being observed.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return fmt.Errorf("watcher already running")
	}
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %q: %w", filepath.Dir(w.path), err)
	}
	w.running = true
	go w.loop()
	w.logger.Info("rules watcher started", "path", w.path)
	return nil
}

// Stop stops watching and waits for the watch loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopCh)
	w.mu.Unlock()

	<-w.doneCh
	_ = w.watcher.Close()
}

func (w *Watcher) loop() {
	defer close(w.doneCh)

	var timer *time.Timer
	var timerCh <-chan time.Time

	for {
		select {
		case <-w.stopCh:
			if timer != nil {
				timer.Stop()
			}
			return

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerCh = timer.C
			} else {
				timer.Reset(w.debounce)
			}

		case <-timerCh:
			timer = nil
			timerCh = nil
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("rules watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	table, err := LoadFile(w.path, w.backends)
	if err != nil {
		w.logger.Error("rules reload rejected, keeping previous table",
			"path", w.path,
			"error", err,
		)
		return
	}
	w.engine.Load(table)
	w.logger.Info("rules reloaded",
		"path", w.path,
		"rules", table.Len(),
	)
}
