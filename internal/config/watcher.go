package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Watcher monitors a config file and the sentence files it references and
// calls a callback when any of them is modified. It polls modification
// times and confirms changes with a SHA-256 hash over all contents, so a
// touched but unchanged file does not trigger a reload.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)

	mu       sync.Mutex
	current  *Config
	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once

	// last known file state for change detection
	lastMtimes map[string]time.Time
	lastHash   [sha256.Size]byte
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

// NewWatcher creates a config file watcher. It loads the initial config
// immediately and starts polling in a background goroutine. onChange is
// called with the previous and the new config after every valid change,
// including changes to sentence files only (old and new are then equal in
// value).
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onChange: onChange,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	snap, err := w.load()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current = snap.cfg
	w.lastHash = snap.hash
	w.lastMtimes = snap.mtimes

	go w.poll()
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop stops the watcher and waits for the polling goroutine to exit.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
	})
	<-w.stopped
}

// poll runs in a background goroutine, checking the files periodically.
func (w *Watcher) poll() {
	defer close(w.stopped)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.check()
		}
	}
}

// check reloads the files when a modification time changed and, if their
// content changed and the config is valid, calls onChange.
func (w *Watcher) check() {
	w.mu.Lock()
	mtimes := w.lastMtimes
	w.mu.Unlock()

	if !w.anyModified(mtimes) {
		return
	}

	snap, err := w.load()
	if err != nil {
		slog.Warn("config watcher: failed to load config", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	if snap.hash == w.lastHash {
		// Files were touched but content is identical.
		w.lastMtimes = snap.mtimes
		w.mu.Unlock()
		return
	}
	old := w.current
	w.current = snap.cfg
	w.lastHash = snap.hash
	w.lastMtimes = snap.mtimes
	w.mu.Unlock()

	slog.Info("config watcher: configuration reloaded", "path", w.path)

	// Invoke the callback outside the lock so it can safely call Current().
	if w.onChange != nil {
		w.onChange(old, snap.cfg)
	}
}

// anyModified reports whether a watched file's modification time differs
// from mtimes. Files that cannot be stat'ed are skipped.
func (w *Watcher) anyModified(mtimes map[string]time.Time) bool {
	for p, last := range mtimes {
		info, err := os.Stat(p)
		if err != nil {
			slog.Warn("config watcher: cannot stat file", "path", p, "err", err)
			continue
		}
		if !info.ModTime().Equal(last) {
			return true
		}
	}
	return false
}

// snapshot is the parsed config and the state of every file it was read
// from.
type snapshot struct {
	cfg    *Config
	hash   [sha256.Size]byte
	mtimes map[string]time.Time
}

// load reads and validates the config file, then reads every sentence file
// it references. The hash covers all contents in order. If anything is
// missing or invalid it returns an error and the caller keeps the old
// config.
func (w *Watcher) load() (snapshot, error) {
	data, mtime, err := readFile(w.path)
	if err != nil {
		return snapshot{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return snapshot{}, err
	}
	cfg.resolvePaths(filepath.Dir(w.path))

	h := sha256.New()
	h.Write(data)
	mtimes := map[string]time.Time{w.path: mtime}
	for _, f := range cfg.Sentences.Files {
		content, mt, err := readFile(f)
		if err != nil {
			return snapshot{}, err
		}
		h.Write([]byte{0})
		h.Write(content)
		mtimes[f] = mt
	}

	snap := snapshot{cfg: cfg, mtimes: mtimes}
	h.Sum(snap.hash[:0])
	return snap, nil
}

// readFile returns the contents and modification time of path.
func readFile(path string) ([]byte, time.Time, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, time.Time{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, time.Time{}, err
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, time.Time{}, err
	}
	return data, info.ModTime(), nil
}
