// Package watch re-triggers matrix runs when artifact repositories or test
// class directories change on disk.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce is the quiet period used when none is configured.
const DefaultDebounce = 500 * time.Millisecond

// ErrNothingToWatch is returned when none of the requested paths exist.
var ErrNothingToWatch = errors.New("no watchable paths")

// TriggerFunc is called once per debounced burst with the changed paths,
// sorted and deduplicated.
type TriggerFunc func(ctx context.Context, changed []string)

// Watcher watches directory trees recursively and batches changes.
type Watcher struct {
	fs       *fsnotify.Watcher
	debounce time.Duration
	logger   *zap.Logger
	roots    []string
}

// New watches every existing directory under paths. File paths are watched
// through their parent directory. Paths that do not exist are skipped.
func New(paths []string, debounce time.Duration, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	w := &Watcher{fs: fw, debounce: debounce, logger: logger}

	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			logger.Warn("skipping watch path", zap.String("path", p), zap.Error(err))
			continue
		}
		dir := p
		if !info.IsDir() {
			dir = filepath.Dir(p)
		}
		if err := w.addTree(dir); err != nil {
			fw.Close()
			return nil, err
		}
		w.roots = append(w.roots, dir)
	}
	if len(w.roots) == 0 {
		fw.Close()
		return nil, ErrNothingToWatch
	}
	return w, nil
}

// Roots returns the directories being watched, excluding discovered subdirectories.
func (w *Watcher) Roots() []string {
	return slices.Clone(w.roots)
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.fs.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		w.logger.Debug("watching directory", zap.String("path", path))
		return nil
	})
}

// Run blocks until ctx is done, calling trigger after every burst of changes
// followed by a quiet period of the configured debounce. trigger runs on the
// watcher goroutine; changes made while it runs are batched into the next call.
func (w *Watcher) Run(ctx context.Context, trigger TriggerFunc) error {
	pending := make(map[string]struct{})
	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if !w.handle(event) {
				continue
			}
			pending[event.Name] = struct{}{}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", zap.Error(err))

		case <-fire:
			fire = nil
			changed := make([]string, 0, len(pending))
			for p := range pending {
				changed = append(changed, p)
			}
			clear(pending)
			slices.Sort(changed)
			w.logger.Info("change detected", zap.Int("paths", len(changed)), zap.Strings("changed", changed))
			trigger(ctx, changed)
		}
	}
}

// handle reports whether event counts as a change. New directories are
// added to the watch set.
func (w *Watcher) handle(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return false
	}
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addTree(event.Name); err != nil {
				w.logger.Warn("watch new directory", zap.String("path", event.Name), zap.Error(err))
			}
		}
	}
	w.logger.Debug("watch event", zap.String("path", event.Name), zap.String("op", event.Op.String()))
	return true
}

// Close releases the underlying watcher.
func (w *Watcher) Close() error {
	return w.fs.Close()
}
