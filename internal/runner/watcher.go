package runner

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultIgnoredDirs are directories whose contents never trigger a re-score.
// The scorer itself writes into several of them.
var DefaultIgnoredDirs = []string{"node_modules", "dist", "build", "coverage", "screenshots", ".tally"}

// Watcher re-scores a workspace when its sources change.
type Watcher struct {
	dir      string
	debounce time.Duration
	ignored  map[string]bool
	onChange func()
	logger   *slog.Logger
}

// NewWatcher creates a watcher on dir. onChange runs once per burst of
// relevant events, after debounce has elapsed without further events.
func NewWatcher(dir string, debounce time.Duration, onChange func(), logger *slog.Logger, ignoredDirs ...string) *Watcher {
	if len(ignoredDirs) == 0 {
		ignoredDirs = DefaultIgnoredDirs
	}
	ignored := make(map[string]bool, len(ignoredDirs))
	for _, d := range ignoredDirs {
		ignored[d] = true
	}
	return &Watcher{
		dir:      dir,
		debounce: debounce,
		ignored:  ignored,
		onChange: onChange,
		logger:   logger,
	}
}

// Watch blocks until ctx is cancelled. onChange never runs concurrently with itself.
func (w *Watcher) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	if err := w.addTree(watcher, w.dir); err != nil {
		return err
	}

	var (
		debounceTimer *time.Timer
		runMu         sync.Mutex
	)
	fire := func() {
		runMu.Lock()
		defer runMu.Unlock()
		if ctx.Err() == nil {
			w.onChange()
		}
	}

	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !w.isRelevantEvent(event) {
				continue
			}

			// New directories must be registered explicitly.
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addTree(watcher, event.Name); err != nil {
						w.logger.Debug("failed to watch new directory", "path", event.Name, "error", err)
					}
				}
			}

			w.logger.Debug("file change detected", "file", event.Name, "op", event.Op.String())

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(w.debounce, fire)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher error", "error", err)
		}
	}
}

// isRelevantEvent reports whether an event should trigger a re-score.
func (w *Watcher) isRelevantEvent(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return false
	}
	if w.inIgnoredDir(event.Name) {
		return false
	}

	name := filepath.Base(event.Name)
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, "~") {
		return false
	}

	switch filepath.Ext(name) {
	case ".swp", ".swo", ".swn", ".tmp", ".bak", ".log":
		return false
	}
	switch name {
	case "scorecard.json", "reward.txt", "report.md":
		return false
	}
	return true
}

func (w *Watcher) inIgnoredDir(path string) bool {
	rel, err := filepath.Rel(w.dir, path)
	if err != nil {
		return false
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if w.ignored[part] {
			return true
		}
	}
	return false
}

// addTree adds root and every non-hidden, non-ignored directory below it.
func (w *Watcher) addTree(watcher *fsnotify.Watcher, root string) error {
	if err := watcher.Add(root); err != nil {
		return err
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() || path == root {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") || w.ignored[d.Name()] {
			return filepath.SkipDir
		}
		if err := watcher.Add(path); err != nil {
			w.logger.Debug("failed to watch directory", "path", path, "error", err)
		}
		return nil
	})
}
