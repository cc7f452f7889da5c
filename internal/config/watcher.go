package config

import (
	"crypto/sha256"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Watcher monitors a config file for changes and calls a callback when the
// file is modified. It uses polling (not fsnotify) to keep dependencies
// minimal; persona and library edits picked up here take effect on the next
// session activation or track change.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)

	mu       sync.Mutex
	current  *Config
	done     chan struct{}
	stopOnce sync.Once

	lastMtime time.Time
	lastHash  [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads the config at path and begins polling it. onChange is
// invoked with the previous and the freshly loaded config whenever the file
// content changes and still validates; an edit that fails validation is
// logged and skipped, keeping the previous config live.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(w)
	}

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	w.current = cfg
	w.lastMtime, w.lastHash, _ = fileState(path)

	go w.loop()
	return w, nil
}

// Current returns the most recently valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop ends polling. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

func (w *Watcher) loop() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.poll()
		}
	}
}

// poll reloads the file if mtime or content hash changed.
func (w *Watcher) poll() {
	mtime, hash, err := fileState(w.path)
	if err != nil {
		slog.Warn("config watcher cannot stat file", "path", w.path, "err", err)
		return
	}
	if mtime.Equal(w.lastMtime) && hash == w.lastHash {
		return
	}
	w.lastMtime, w.lastHash = mtime, hash

	cfg, err := Load(w.path)
	if err != nil {
		slog.Warn("config reload failed, keeping previous config", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	old := w.current
	w.current = cfg
	w.mu.Unlock()

	slog.Info("config reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
}

// fileState returns the file's mtime and content hash.
func fileState(path string) (time.Time, [sha256.Size]byte, error) {
	var hash [sha256.Size]byte

	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, hash, err
	}

	f, err := os.Open(path)
	if err != nil {
		return time.Time{}, hash, err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return time.Time{}, hash, fmt.Errorf("config: hash %q: %w", path, err)
	}
	copy(hash[:], h.Sum(nil))
	return info.ModTime(), hash, nil
}
