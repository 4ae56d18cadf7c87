package am

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/teranos/janus/errors"
	"github.com/teranos/janus/logger"
)

// Settle is how long the watcher waits after the last file event before
// reloading. Editors save in several steps.
const Settle = 400 * time.Millisecond

// ReloadFunc receives each valid configuration read after a change.
type ReloadFunc func(*Config) error

// Watcher reloads one am.toml when it changes on disk and hands the result
// to registered ReloadFuncs. It watches the parent directory so saves that
// replace the file by rename are seen too.
type Watcher struct {
	path   string
	fsw    *fsnotify.Watcher
	settle time.Duration
	load   func() (*Config, error)

	mu       sync.Mutex
	funcs    []ReloadFunc
	timer    *time.Timer
	quietTil time.Time

	done     chan struct{}
	stopOnce sync.Once
}

var (
	active   *Watcher
	activeMu sync.Mutex
)

// NewWatcher prepares a watcher for path. Call Start to begin.
func NewWatcher(path string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "create fsnotify watcher")
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, errors.Wrapf(err, "watch directory of %s", path)
	}
	return &Watcher{
		path:   filepath.Clean(path),
		fsw:    fsw,
		settle: Settle,
		load: func() (*Config, error) {
			Reset()
			return Load()
		},
		done: make(chan struct{}),
	}, nil
}

// OnReload adds fn to the functions run after a successful reload.
func (w *Watcher) OnReload(fn ReloadFunc) {
	w.mu.Lock()
	w.funcs = append(w.funcs, fn)
	w.mu.Unlock()
}

// Quiet ignores events on the file for d. SetValue calls it on the active
// watcher before writing so janus does not react to its own edits.
func (w *Watcher) Quiet(d time.Duration) {
	w.mu.Lock()
	w.quietTil = time.Now().Add(d)
	w.mu.Unlock()
}

func (w *Watcher) quiet() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return time.Now().Before(w.quietTil)
}

// Start runs the event loop in the background.
func (w *Watcher) Start() {
	go w.run()
}

func (w *Watcher) run() {
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !w.relevant(ev) {
				continue
			}
			if w.quiet() {
				logger.Debugw("Ignoring own config write", "path", ev.Name)
				continue
			}
			logger.Debugw("Config file changed", "path", ev.Name, "op", ev.Op.String())
			w.arm()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logger.Warnw("Config watcher error", logger.FieldError, err)
		}
	}
}

func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if filepath.Clean(ev.Name) != w.path || isBackupFile(ev.Name) {
		return false
	}
	return ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename)
}

// arm restarts the settle timer.
func (w *Watcher) arm() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.settle, func() {
		if err := w.reload(); err != nil {
			logger.Errorw("Config reload failed", "path", w.path, logger.FieldError, err)
		}
	})
}

func (w *Watcher) reload() error {
	cfg, err := w.load()
	if err != nil {
		return errors.Wrap(err, "load config")
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "reloaded config rejected")
	}
	logger.Infow("Config reloaded", "path", w.path)

	w.mu.Lock()
	funcs := append([]ReloadFunc(nil), w.funcs...)
	w.mu.Unlock()

	for _, fn := range funcs {
		if err := fn(cfg); err != nil {
			logger.Warnw("Config reload handler failed", logger.FieldError, err)
		}
	}
	return nil
}

// Stop ends watching. Safe to call more than once.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()
		err = w.fsw.Close()
	})
	return err
}

// isBackupFile matches the rotated copies createBackup leaves next to am.toml.
func isBackupFile(path string) bool {
	ext := filepath.Ext(path)
	return strings.HasPrefix(ext, ".back") && len(ext) == len(".back1")
}

// SetActiveWatcher records the watcher SetValue should quiet before writing.
func SetActiveWatcher(w *Watcher) {
	activeMu.Lock()
	active = w
	activeMu.Unlock()
}

func activeWatcher() *Watcher {
	activeMu.Lock()
	defer activeMu.Unlock()
	return active
}
