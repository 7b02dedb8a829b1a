// Package watcher observes the downloads directory for newly finished files
// and hands them to the classification pipeline. fsnotify when available,
// polling otherwise.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// FileEvent is one newly observed download.
type FileEvent struct {
	Name string    `json:"name"`
	Path string    `json:"path"`
	Size int64     `json:"size"`
	At   time.Time `json:"at"`
}

// Handler receives each new file exactly once.
type Handler func(FileEvent)

// Config tunes the watcher.
type Config struct {
	// StabilityDelay is the pause between noticing a file and reading its
	// size, letting the final write settle. Default 200ms.
	StabilityDelay time.Duration
	// PollInterval is the fallback scan cadence. Default 2s.
	PollInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.StabilityDelay <= 0 {
		c.StabilityDelay = 200 * time.Millisecond
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
}

// Watcher observes one directory.
type Watcher struct {
	dir     string
	cfg     Config
	handler Handler
	logger  *zap.Logger
}

// New creates a watcher over dir. The directory must exist.
func New(dir string, cfg Config, handler Handler, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.applyDefaults()
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, os.ErrInvalid
	}
	return &Watcher{dir: dir, cfg: cfg, handler: handler, logger: logger}, nil
}

// Run watches until the context is cancelled. It prefers fsnotify and
// degrades to pure polling when the notifier cannot be set up.
func (w *Watcher) Run(ctx context.Context) error {
	notifier, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Warn("fsnotify unavailable, falling back to polling", zap.Error(err))
		return w.runPolling(ctx)
	}
	defer notifier.Close()

	if err := notifier.Add(w.dir); err != nil {
		w.logger.Warn("cannot watch directory, falling back to polling",
			zap.String("dir", w.dir), zap.Error(err))
		return w.runPolling(ctx)
	}

	w.logger.Info("download watcher started",
		zap.String("dir", w.dir), zap.String("mode", "fsnotify"))

	// Polling safety net in case fsnotify silently drops events.
	seen := w.snapshot()
	pollTicker := time.NewTicker(w.cfg.PollInterval)
	defer pollTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-notifier.Events:
			if !ok {
				w.logger.Warn("fsnotify channel closed, switching to polling")
				return w.runPolling(ctx)
			}
			if event.Op&(fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			name := filepath.Base(event.Name)
			if isTemporary(name) {
				continue
			}
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = time.Now()
			w.dispatch(ctx, name)

		case <-pollTicker.C:
			w.pollOnce(ctx, seen)

		case err, ok := <-notifier.Errors:
			if !ok {
				w.logger.Warn("fsnotify error channel closed, switching to polling")
				return w.runPolling(ctx)
			}
			w.logger.Debug("watcher error", zap.Error(err))
		}
	}
}

// runPolling is the pure polling fallback.
func (w *Watcher) runPolling(ctx context.Context) error {
	w.logger.Info("download watcher started",
		zap.String("dir", w.dir), zap.String("mode", "polling"))

	seen := w.snapshot()
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.pollOnce(ctx, seen)
		}
	}
}

// pollOnce dispatches any directory entry not yet seen.
func (w *Watcher) pollOnce(ctx context.Context, seen map[string]time.Time) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Debug("directory scan failed", zap.Error(err))
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || isTemporary(entry.Name()) {
			continue
		}
		if _, dup := seen[entry.Name()]; dup {
			continue
		}
		seen[entry.Name()] = time.Now()
		w.dispatch(ctx, entry.Name())
	}
}

// dispatch waits for the write to settle, stats the file, and invokes the
// handler. Files that vanished in the meantime are skipped.
func (w *Watcher) dispatch(ctx context.Context, name string) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(w.cfg.StabilityDelay):
	}

	path := filepath.Join(w.dir, name)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}

	w.logger.Debug("new download observed",
		zap.String("file", name), zap.Int64("size", info.Size()))
	w.handler(FileEvent{
		Name: name,
		Path: path,
		Size: info.Size(),
		At:   time.Now(),
	})
}

// snapshot records the pre-existing directory contents so startup never
// replays old downloads.
func (w *Watcher) snapshot() map[string]time.Time {
	seen := make(map[string]time.Time)
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return seen
	}
	now := time.Now()
	for _, entry := range entries {
		seen[entry.Name()] = now
	}
	return seen
}

// isTemporary reports whether name is a hidden file or an in-progress
// download artifact.
func isTemporary(name string) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}
	for _, suffix := range []string{".part", ".partial", ".crdownload", ".download", ".tmp"} {
		if strings.HasSuffix(strings.ToLower(name), suffix) {
			return true
		}
	}
	return false
}
