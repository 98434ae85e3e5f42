package filesystem

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"media-pipeline/internal/logging"
)

// EventType describes a change seen by Watch.
type EventType string

const (
	EventAdd    EventType = "add"
	EventChange EventType = "change"
	EventUnlink EventType = "unlink"
)

// Event is a single filesystem change.
type Event struct {
	Type EventType
	Path string
}

// Watch monitors paths (recursively for directories) until ctx is done and
// calls handler for every create, write, remove or rename of a non-hidden
// file. New directories are added to the watch set as they appear.
func (s *Storage) Watch(ctx context.Context, paths []string, handler func(Event)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() {
		if err := watcher.Close(); err != nil {
			logging.Error("failed to close file watcher: %v", err)
		}
	}()

	count := 0
	for _, p := range paths {
		count += addRecursive(watcher, p)
	}
	logging.Debug("Watcher started, watching %d paths", count)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			handleEvent(watcher, event, handler)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.Error("Watcher error: %v", err)
		}
	}
}

func addRecursive(watcher *fsnotify.Watcher, root string) int {
	info, err := os.Stat(root)
	if err != nil {
		logging.Warn("cannot watch %s: %v", root, err)
		return 0
	}
	if !info.IsDir() {
		if err := watcher.Add(root); err != nil {
			logging.Warn("failed to add path to watcher %s: %v", root, err)
			return 0
		}
		return 1
	}

	count := 0
	err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			if addErr := watcher.Add(path); addErr != nil {
				logging.Warn("failed to add path to watcher %s: %v", path, addErr)
			} else {
				count++
			}
		}
		return nil
	})
	if err != nil {
		logging.Error("failed to walk %s for watcher: %v", root, err)
	}
	return count
}

func handleEvent(watcher *fsnotify.Watcher, event fsnotify.Event, handler func(Event)) {
	if strings.HasPrefix(filepath.Base(event.Name), ".") {
		return
	}

	switch {
	case event.Op&fsnotify.Create != 0:
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			addRecursive(watcher, event.Name)
			return
		}
		handler(Event{Type: EventAdd, Path: event.Name})
	case event.Op&fsnotify.Write != 0:
		handler(Event{Type: EventChange, Path: event.Name})
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		handler(Event{Type: EventUnlink, Path: event.Name})
	}
}
