package rulebook

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches a project's guidebook file and its signals/actions
// directories for changes and invokes a callback with a freshly
// reloaded Guidebook whenever something changes, so a running daemon
// picks up edits without a restart.
type Watcher struct {
	fsWatcher   *fsnotify.Watcher
	guidebook   string
	signalsDir  string
	actionsDir  string
	callbacks   []func(Guidebook)
	mu          sync.Mutex
	done        chan struct{}
	logger      *slog.Logger
}

// NewWatcher creates a Watcher over the given guidebook file and
// signals/actions directories. Call Start to begin processing events.
func NewWatcher(guidebook, signalsDir, actionsDir string, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	w := &Watcher{
		fsWatcher:  fsw,
		guidebook:  guidebook,
		signalsDir: signalsDir,
		actionsDir: actionsDir,
		done:       make(chan struct{}),
		logger:     logger.With("component", "rulebook.Watcher"),
	}

	if err := w.fsWatcher.Add(filepath.Dir(guidebook)); err != nil {
		w.logger.Warn("could not watch guidebook directory", "dir", filepath.Dir(guidebook), "error", err)
	}
	for _, dir := range []string{signalsDir, actionsDir} {
		if err := w.addRecursive(dir); err != nil {
			w.logger.Warn("could not watch directory", "dir", dir, "error", err)
		}
	}

	return w, nil
}

// OnChange registers a callback invoked with the reloaded Guidebook
// whenever a watched path changes. Callbacks run synchronously on the
// watcher goroutine; dispatch to another goroutine if the callback is
// slow.
func (w *Watcher) OnChange(fn func(Guidebook)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, fn)
}

// Start begins watching in a background goroutine and returns
// immediately.
func (w *Watcher) Start() {
	go w.loop()
}

// Stop shuts down the watcher.
func (w *Watcher) Stop() error {
	close(w.done)
	return w.fsWatcher.Close()
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("fsnotify error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(event.Name); err != nil {
				w.logger.Warn("failed to watch new directory", "path", event.Name, "error", err)
			}
		}
	}

	if !w.isRelevant(event.Name) {
		return
	}

	w.logger.Debug("rulebook path changed", "path", event.Name, "op", event.Op.String())

	gb, err := w.reload()
	if err != nil {
		w.logger.Error("failed to reload guidebook after change", "error", err)
		return
	}

	w.mu.Lock()
	cbs := make([]func(Guidebook), len(w.callbacks))
	copy(cbs, w.callbacks)
	w.mu.Unlock()

	for _, fn := range cbs {
		fn(gb)
	}
}

// isRelevant reports whether a changed path should trigger a guidebook
// reload: the guidebook file itself, or anything under the signals or
// actions directories. The guidebook is watched by adding its whole
// parent directory (fsnotify has no single-file watch), which also
// picks up unrelated siblings like .trust or debug telemetry output;
// without this filter every such write would trigger a needless
// rescan and dispatcher rebuild on a live daemon.
func (w *Watcher) isRelevant(path string) bool {
	if filepath.Clean(path) == filepath.Clean(w.guidebook) {
		return true
	}
	for _, dir := range []string{w.signalsDir, w.actionsDir} {
		if dir == "" {
			continue
		}
		rel, err := filepath.Rel(dir, path)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func (w *Watcher) reload() (Guidebook, error) {
	gb, err := Load(w.guidebook)
	if err != nil {
		return Guidebook{}, err
	}
	gb, err = DiscoverSignals(w.signalsDir, gb)
	if err != nil {
		return Guidebook{}, err
	}
	return DiscoverActions(w.actionsDir, gb)
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			if err := w.fsWatcher.Add(path); err != nil {
				w.logger.Warn("failed to add directory to watcher", "path", path, "error", err)
			}
		}
		return nil
	})
}
