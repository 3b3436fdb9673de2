package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultWatchInterval is how often a [Watcher] polls when no interval is
// configured.
const DefaultWatchInterval = 2 * time.Second

// ChangeFunc is called after a modified, valid config has been loaded.
type ChangeFunc func(old, new *Config, diff ConfigDiff)

// Watcher reloads a config file when its content changes. Edits that fail to
// parse or validate are logged and skipped; the last good config stays
// current until the file is fixed.
type Watcher struct {
	path     string
	interval time.Duration
	onChange ChangeFunc

	current atomic.Pointer[Config]

	// checkMu serialises Check so concurrent polls cannot report the same
	// edit twice.
	checkMu sync.Mutex
	seen    stamp
}

// stamp identifies one observed version of the file. The hash is only
// computed when the modification time moves.
type stamp struct {
	mtime time.Time
	hash  [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval used by [Watcher.Run].
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads the config at path. Polling starts with [Watcher.Run].
func NewWatcher(path string, onChange ChangeFunc, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{path: path, interval: DefaultWatchInterval, onChange: onChange}
	for _, opt := range opts {
		opt(w)
	}

	cfg, st, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current.Store(cfg)
	w.seen = st
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config { return w.current.Load() }

// Run polls the file every interval until ctx is done, then returns
// ctx.Err().
func (w *Watcher) Run(ctx context.Context) error {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			w.Check()
		}
	}
}

// Check looks at the file once and, if its content changed to a valid
// config, swaps it in and calls the change callback. It reports whether a
// change was applied.
func (w *Watcher) Check() bool {
	w.checkMu.Lock()
	defer w.checkMu.Unlock()

	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config watcher: cannot stat file", "path", w.path, "err", err)
		return false
	}
	if info.ModTime().Equal(w.seen.mtime) {
		return false
	}

	cfg, st, err := w.read()
	if err != nil {
		// Only complain once per broken edit.
		w.seen.mtime = info.ModTime()
		slog.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
		return false
	}
	unchanged := st.hash == w.seen.hash
	w.seen = st
	if unchanged {
		return false
	}

	old := w.current.Swap(cfg)
	diff := Diff(old, cfg)
	slog.Info("config watcher: configuration reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(old, cfg, diff)
	}
	return true
}

// read loads, hashes and validates the file.
func (w *Watcher) read() (*Config, stamp, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, stamp{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, stamp{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, stamp{}, err
	}
	return cfg, stamp{mtime: info.ModTime(), hash: sha256.Sum256(data)}, nil
}
