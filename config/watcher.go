package config

import (
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/flowd-sh/flowd/errors"
)

// ReloadCallback is called after the jobs file is reloaded.
type ReloadCallback func(*JobSource) error

// JobsWatcher watches the jobs file for changes and reloads the job
// source, debouncing rapid successive writes from editors.
type JobsWatcher struct {
	source  *JobSource
	watcher *fsnotify.Watcher
	logger  *zap.SugaredLogger

	mu             sync.Mutex
	callbacks      []ReloadCallback
	debounceTimer  *time.Timer
	debouncePeriod time.Duration
}

// NewJobsWatcher creates a watcher over the job source's file.
func NewJobsWatcher(source *JobSource, logger *zap.SugaredLogger) (*JobsWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create fsnotify watcher")
	}
	if err := watcher.Add(source.path); err != nil {
		watcher.Close()
		return nil, errors.Wrapf(err, "failed to watch jobs file %s", source.path)
	}

	return &JobsWatcher{
		source:         source,
		watcher:        watcher,
		logger:         logger.Named("config"),
		debouncePeriod: 500 * time.Millisecond,
	}, nil
}

// OnReload registers a callback run after each successful reload.
func (w *JobsWatcher) OnReload(callback ReloadCallback) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Start begins watching for file changes.
func (w *JobsWatcher) Start() {
	go w.watchLoop()
}

// Stop stops watching.
func (w *JobsWatcher) Stop() error {
	return w.watcher.Close()
}

func (w *JobsWatcher) watchLoop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Write == fsnotify.Write || event.Op&fsnotify.Create == fsnotify.Create {
				w.logger.Infow("Jobs file changed", "file", event.Name, "op", event.Op.String())
				w.scheduleReload()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warnw("Jobs watcher error", "error", err)
		}
	}
}

// scheduleReload debounces rapid file changes before reloading.
func (w *JobsWatcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(w.debouncePeriod, w.reload)
}

func (w *JobsWatcher) reload() {
	if err := w.source.Reload(); err != nil {
		// Keep running on the previous definitions
		w.logger.Errorw("Jobs file reload failed, keeping previous definitions", "error", err)
		return
	}

	w.mu.Lock()
	callbacks := make([]ReloadCallback, len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.Unlock()

	for _, callback := range callbacks {
		if err := callback(w.source); err != nil {
			w.logger.Warnw("Jobs reload callback error", "error", err)
		}
	}
}
