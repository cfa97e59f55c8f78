package main

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// defaultDebounce is how long a file must stay unchanged before it is
// handed on. PDF downloads and editors write files in several steps.
const defaultDebounce = 2 * time.Second

// fileWatcher reports files created or rewritten under a directory tree
// once they have been quiet for the debounce period.
type fileWatcher struct {
	fsw      *fsnotify.Watcher
	debounce time.Duration
	match    func(path string) bool

	pendingMu sync.Mutex
	pending   map[string]time.Time // path -> last event
}

func newFileWatcher(debounce time.Duration, match func(string) bool) (*fileWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	return &fileWatcher{
		fsw:      fsw,
		debounce: debounce,
		match:    match,
		pending:  make(map[string]time.Time),
	}, nil
}

// AddTree watches root and every directory below it, skipping hidden
// directories.
func (w *fileWatcher) AddTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			slog.Warn("watch: cannot watch directory", "path", path, "error", err)
		}
		return nil
	})
}

// Run delivers settled files to handle until ctx is done, then closes the
// watcher. handle runs on the watcher goroutine, one file at a time.
func (w *fileWatcher) Run(ctx context.Context, handle func(ctx context.Context, path string)) error {
	defer w.fsw.Close()

	tick := w.debounce / 4
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			slog.Error("watch: watcher error", "error", err)
		case now := <-ticker.C:
			for _, path := range w.settled(now) {
				handle(ctx, path)
			}
		}
	}
}

func (w *fileWatcher) handleEvent(ev fsnotify.Event) {
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.AddTree(ev.Name); err != nil {
				slog.Warn("watch: cannot watch new directory", "path", ev.Name, "error", err)
			}
			return
		}
	}
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}
	if !w.match(ev.Name) {
		return
	}
	w.pendingMu.Lock()
	w.pending[ev.Name] = time.Now()
	w.pendingMu.Unlock()
	slog.Debug("watch: change detected", "path", ev.Name, "op", ev.Op.String())
}

// settled removes and returns the pending paths quiet since now-debounce.
func (w *fileWatcher) settled(now time.Time) []string {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()
	var out []string
	for path, last := range w.pending {
		if now.Sub(last) >= w.debounce {
			out = append(out, path)
			delete(w.pending, path)
		}
	}
	sort.Strings(out)
	return out
}
