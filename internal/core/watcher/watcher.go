// Package watcher re-runs analysis when source files change on disk.
package watcher

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"unremark/internal/shared/observability"

	"github.com/fsnotify/fsnotify"
	"github.com/gobwas/glob"
	"github.com/zeebo/xxh3"
)

// Watcher batches file events and reports paths whose content changed. Events
// that leave a file byte-identical are dropped.
type Watcher struct {
	fsWatcher   *fsnotify.Watcher
	debounce    time.Duration
	excludeDirs []glob.Glob
	accept      func(path string) bool
	onChange    func([]string)
	callbackMu  sync.Mutex

	pending   map[string]struct{}
	hashes    map[string]uint64
	pendingMu sync.Mutex
	timer     *time.Timer
}

// NewWatcher builds a watcher. accept filters file paths; nil accepts all.
func NewWatcher(debounce time.Duration, excludeDirs []string, accept func(string) bool, onChange func([]string)) (*Watcher, error) {
	if onChange == nil {
		return nil, os.ErrInvalid
	}

	compiledDirs := make([]glob.Glob, 0, len(excludeDirs))
	for _, pattern := range excludeDirs {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, err
		}
		compiledDirs = append(compiledDirs, g)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if accept == nil {
		accept = func(string) bool { return true }
	}

	return &Watcher{
		fsWatcher:   fsw,
		debounce:    debounce,
		excludeDirs: compiledDirs,
		accept:      accept,
		onChange:    onChange,
		pending:     make(map[string]struct{}),
		hashes:      make(map[string]uint64),
	}, nil
}

// Watch registers every non-excluded directory under paths, records the
// current content of accepted files and starts the event loop.
func (w *Watcher) Watch(paths []string) error {
	for _, path := range paths {
		if err := w.watchRecursive(path, false); err != nil {
			return err
		}
	}

	go w.run()
	return nil
}

// Remember records content as the known state of path, so a write of exactly
// that content does not trigger a change. Used after writing fixes.
func (w *Watcher) Remember(path string, content []byte) {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()
	w.hashes[filepath.Clean(path)] = xxh3.Hash(content)
}

func (w *Watcher) watchRecursive(root string, enqueue bool) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			if path != root && w.shouldExcludeDir(path) {
				return filepath.SkipDir
			}
			return w.fsWatcher.Add(path)
		}
		if !w.accept(path) {
			return nil
		}
		if enqueue {
			w.scheduleChange(path)
		} else if data, err := os.ReadFile(path); err == nil {
			w.Remember(path, data)
		}
		return nil
	})
}

func (w *Watcher) run() {
	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			observability.WatcherEventsTotal.Inc()

			if event.Has(fsnotify.Create) {
				info, err := os.Stat(event.Name)
				if err == nil && info.IsDir() {
					if !w.shouldExcludeDir(event.Name) {
						if err := w.watchRecursive(event.Name, true); err != nil {
							slog.Warn("failed to watch new directory", "path", event.Name, "error", err)
						}
					}
					continue
				}
			}

			if !w.accept(event.Name) || w.inExcludedDir(event.Name) {
				continue
			}

			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
				event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				w.scheduleChange(event.Name)
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			slog.Error("watcher error", "error", err)
		}
	}
}

func (w *Watcher) scheduleChange(path string) {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()

	w.pending[filepath.Clean(path)] = struct{}{}

	if w.timer != nil {
		w.timer.Stop()
	}

	w.timer = time.AfterFunc(w.debounce, func() {
		w.flushChanges()
	})
}

// flushChanges reports pending paths that still exist and whose content
// differs from the last seen state.
func (w *Watcher) flushChanges() {
	w.pendingMu.Lock()
	pending := w.pending
	w.pending = make(map[string]struct{})
	w.pendingMu.Unlock()

	paths := make([]string, 0, len(pending))
	for path := range pending {
		data, err := os.ReadFile(path)

		w.pendingMu.Lock()
		if err != nil {
			delete(w.hashes, path)
			w.pendingMu.Unlock()
			continue
		}
		sum := xxh3.Hash(data)
		prev, seen := w.hashes[path]
		w.hashes[path] = sum
		w.pendingMu.Unlock()

		if seen && prev == sum {
			continue
		}
		paths = append(paths, path)
	}
	sort.Strings(paths)

	if len(paths) > 0 {
		w.callbackMu.Lock()
		defer w.callbackMu.Unlock()
		w.onChange(paths)
	}
}

func (w *Watcher) shouldExcludeDir(path string) bool {
	base := filepath.Base(path)
	for _, g := range w.excludeDirs {
		if g.Match(base) {
			return true
		}
	}
	return false
}

func (w *Watcher) inExcludedDir(path string) bool {
	dir := filepath.Dir(path)
	for {
		if w.shouldExcludeDir(dir) {
			return true
		}
		next := filepath.Dir(dir)
		if next == dir {
			return false
		}
		dir = next
	}
}

func (w *Watcher) Close() error {
	w.pendingMu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.pendingMu.Unlock()
	return w.fsWatcher.Close()
}
