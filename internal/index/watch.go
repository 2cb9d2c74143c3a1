package index

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/ihavespoons/ctxai/internal/traverse"
	"github.com/sirupsen/logrus"
)

// WatchDebounce is how long the watcher waits for changes to settle
var WatchDebounce = 500 * time.Millisecond

// UpdateFunc receives the outcome of every update triggered by Watch
type UpdateFunc func(*UpdateResult, error)

// Watch watches the index root and runs Update once changes have been
// quiet for WatchDebounce. It blocks until ctx is cancelled.
func (ix *Indexer) Watch(ctx context.Context, onUpdate UpdateFunc) error {
	info := ix.Info()
	t, err := traverse.New(info.TraverseConfig())
	if err != nil {
		return err
	}
	filter := t.Filter()
	root := t.Root()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := addWatchDirs(watcher, root, filter); err != nil {
		return fmt.Errorf("failed to add watch directories: %w", err)
	}
	log := logrus.WithFields(logrus.Fields{"index": info.Name, "root": root})
	log.Info("watching for changes")

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

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			rel, err := filepath.Rel(root, event.Name)
			if err != nil || filter.ShouldExclude(filepath.ToSlash(rel), false) {
				continue
			}
			if event.Op&fsnotify.Create != 0 {
				if st, err := os.Stat(event.Name); err == nil && st.IsDir() {
					if err := addWatchDirs(watcher, root, filter); err != nil {
						log.WithError(err).Warn("failed to watch new directory")
					}
				}
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			log.WithField("file", event.Name).Debug("change detected")
			if timer == nil {
				timer = time.NewTimer(WatchDebounce)
			} else {
				timer.Reset(WatchDebounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			result, err := ix.Update(ctx, nil)
			if onUpdate != nil {
				onUpdate(result, err)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.WithError(err).Warn("watcher error")
		}
	}
}

// addWatchDirs adds root and every non-excluded directory below it.
// Directories already watched are added again without effect.
func addWatchDirs(watcher *fsnotify.Watcher, root string, filter *traverse.Filter) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root {
			rel, err := filepath.Rel(root, path)
			if err != nil || filter.ShouldExclude(filepath.ToSlash(rel), true) {
				return filepath.SkipDir
			}
		}
		return watcher.Add(path)
	})
}
