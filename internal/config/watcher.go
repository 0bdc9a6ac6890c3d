package config

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/atelier-dev/atelier/internal/logging"
	"github.com/atelier-dev/atelier/pkg/types"
)

// debounceWindow coalesces editor write bursts into one reload.
const debounceWindow = 200 * time.Millisecond

// Watcher reloads the merged configuration when a config file changes and
// hands the fresh config to the registered callback.
type Watcher struct {
	watcher   *fsnotify.Watcher
	directory string
	onChange  func(*types.Config)

	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
	mu      sync.Mutex
}

// NewWatcher watches the config directories relevant to a project. Missing
// directories are skipped; at least one must exist.
func NewWatcher(directory string, onChange func(*types.Config)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	dirs := []string{GetPaths().Config}
	if home := os.Getenv("HOME"); home != "" {
		dirs = append(dirs, filepath.Join(home, ".atelier"))
	}
	if directory != "" {
		dirs = append(dirs, directory, filepath.Join(directory, ".atelier"))
	}

	watching := 0
	for _, dir := range dirs {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			continue
		}
		if err := fw.Add(dir); err != nil {
			logging.Debug().Str("dir", dir).Err(err).Msg("config watch skipped")
			continue
		}
		watching++
	}
	if watching == 0 {
		fw.Close()
		return nil, os.ErrNotExist
	}

	return &Watcher{
		watcher:   fw,
		directory: directory,
		onChange:  onChange,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}, nil
}

// Start begins watching. Safe to call once.
func (w *Watcher) Start() {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()
	go w.run()
}

func (w *Watcher) run() {
	defer close(w.doneCh)

	var timer *time.Timer
	var timerCh <-chan time.Time

	for {
		select {
		case <-w.stopCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if !isConfigFile(ev.Name) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounceWindow)
				timerCh = timer.C
			} else {
				timer.Reset(debounceWindow)
			}
		case <-timerCh:
			timer = nil
			timerCh = nil
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Warn().Err(err).Msg("config watcher error")
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.directory)
	if err != nil {
		logging.Warn().Err(err).Msg("config reload failed")
		return
	}
	logging.Info().Msg("configuration reloaded")
	w.onChange(cfg)
}

// Stop terminates the watcher.
func (w *Watcher) Stop() {
	w.mu.Lock()
	started := w.started
	w.mu.Unlock()
	if !started {
		_ = w.watcher.Close()
		return
	}
	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}
	<-w.doneCh
	_ = w.watcher.Close()
}

func isConfigFile(path string) bool {
	base := filepath.Base(path)
	if !strings.HasPrefix(base, "atelier.") {
		return false
	}
	switch filepath.Ext(base) {
	case ".json", ".jsonc", ".yaml", ".yml":
		return true
	}
	return false
}
