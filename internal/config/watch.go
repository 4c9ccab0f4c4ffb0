package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultWatchDebounce coalesces the burst of events editors emit on save.
const DefaultWatchDebounce = 250 * time.Millisecond

// Watcher reloads configuration when the user or project config file
// changes. Invalid files are logged and skipped; the last good config stays.
type Watcher struct {
	dir      string
	debounce time.Duration
	onChange func(*Config)

	fsw *fsnotify.Watcher

	mu    sync.Mutex
	timer *time.Timer
}

// NewWatcher watches the directories holding the user config and the
// project config for dir. onChange receives every successfully loaded config.
func NewWatcher(dir string, debounce time.Duration, onChange func(*Config)) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create config watcher: %w", err)
	}

	// Watch directories, not files: editors replace files on save.
	dirs := []string{dir}
	if userDir := filepath.Dir(GetUserConfigPath()); dirExists(userDir) && userDir != filepath.Clean(dir) {
		dirs = append(dirs, userDir)
	}
	for _, d := range dirs {
		if err := fsw.Add(d); err != nil {
			_ = fsw.Close()
			return nil, fmt.Errorf("watch %s: %w", d, err)
		}
	}

	return &Watcher{dir: dir, debounce: debounce, onChange: onChange, fsw: fsw}, nil
}

// Run delivers reloads until ctx is done, then closes the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer func() { _ = w.fsw.Close() }()
	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			if w.timer != nil {
				w.timer.Stop()
			}
			w.mu.Unlock()
			return nil
		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if w.relevant(event) {
				w.schedule()
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("config_watch_error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return false
	}
	name := filepath.Clean(event.Name)
	return name == filepath.Join(w.dir, ProjectFileName) ||
		name == filepath.Join(w.dir, ProjectFileNameAlt) ||
		name == filepath.Clean(GetUserConfigPath())
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	cfg, err := Load(w.dir)
	if err != nil {
		slog.Warn("config_reload_failed", slog.String("dir", w.dir), slog.String("error", err.Error()))
		return
	}
	slog.Info("config_reloaded", slog.String("dir", w.dir))
	w.onChange(cfg)
}

// Watch runs a Watcher for dir until ctx is done.
func Watch(ctx context.Context, dir string, onChange func(*Config)) error {
	w, err := NewWatcher(dir, DefaultWatchDebounce, onChange)
	if err != nil {
		return err
	}
	return w.Run(ctx)
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
