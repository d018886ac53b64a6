package watch

import (
	"errors"
	"fmt"
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

// DefaultDebounce is the quiet period shared by all watchers of a Set.
const DefaultDebounce = 100 * time.Millisecond

// Route maps a root-level event to the action to run once events settle,
// or nil when the event is of no interest.
type Route func(event fsnotify.Event) func()

// Set owns the watchers of one workspace: at most one shallow watcher over
// the root and one deep watcher per project directory. All of them feed a
// single Debouncer.
type Set struct {
	debouncer *Debouncer
	logger    *slog.Logger

	mu       sync.Mutex
	closed   bool
	watchers map[string]*fsnotify.Watcher
	wg       sync.WaitGroup
}

// NewSet returns an empty Set. onFire receives the path of the last event
// of every burst.
func NewSet(debounce time.Duration, onFire func(path string), logger *slog.Logger) *Set {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Set{
		debouncer: NewDebouncer(debounce, onFire),
		logger:    logger,
		watchers:  make(map[string]*fsnotify.Watcher),
	}
}

// WatchTree watches dir recursively. Changes not excluded by the
// directory's Ignore queue action. Watching an already watched directory
// is a no-op.
func (s *Set) WatchTree(dir string, action func()) error {
	ignore, err := LoadIgnore(dir)
	if err != nil {
		return err
	}

	return s.add(dir, func(w *fsnotify.Watcher) error {
		return addRecursive(w, dir, ignore)
	}, func(w *fsnotify.Watcher, event fsnotify.Event) {
		if filepath.Join(dir, IgnoreFile) == event.Name {
			if reloaded, err := LoadIgnore(dir); err == nil {
				ignore = reloaded
			}
		}

		// The directory itself going away is the root watcher's business.
		if event.Name == dir || !isRelevant(event) {
			return
		}

		isDir := false
		if info, statErr := os.Stat(event.Name); statErr == nil && info.IsDir() {
			isDir = true
		}

		if ignore.Match(event.Name, isDir) {
			return
		}

		// New directories are watched too.
		if isDir && event.Has(fsnotify.Create) {
			_ = addRecursive(w, event.Name, ignore)
		}

		s.debouncer.Trigger(event.Name, action)
	})
}

// WatchRoot watches the immediate children of root. route decides which
// events queue an action.
func (s *Set) WatchRoot(root string, route Route) error {
	return s.add(root, func(w *fsnotify.Watcher) error {
		return w.Add(root)
	}, func(_ *fsnotify.Watcher, event fsnotify.Event) {
		if filepath.Dir(event.Name) != filepath.Clean(root) {
			return
		}

		if action := route(event); action != nil {
			s.debouncer.Trigger(event.Name, action)
		}
	})
}

// Unwatch stops the watcher of dir, if any.
func (s *Set) Unwatch(dir string) {
	s.mu.Lock()
	w, ok := s.watchers[dir]
	delete(s.watchers, dir)
	s.mu.Unlock()

	if ok {
		_ = w.Close()
		s.logger.Debug("stopped watching", slog.String("dir", dir))
	}
}

// Watching reports whether dir has a watcher.
func (s *Set) Watching(dir string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.watchers[dir]

	return ok
}

// Dirs returns the watched directories in sorted order.
func (s *Set) Dirs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	dirs := make([]string, 0, len(s.watchers))
	for d := range s.watchers {
		dirs = append(dirs, d)
	}

	sort.Strings(dirs)

	return dirs
}

// Close stops every watcher and drops pending actions.
func (s *Set) Close() {
	s.mu.Lock()
	s.closed = true
	watchers := s.watchers
	s.watchers = make(map[string]*fsnotify.Watcher)
	s.mu.Unlock()

	s.debouncer.Stop()

	for _, w := range watchers {
		_ = w.Close()
	}

	s.wg.Wait()
}

func (s *Set) add(dir string, register func(*fsnotify.Watcher) error, handle func(*fsnotify.Watcher, fsnotify.Event)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New("watcher set is closed")
	}

	if _, ok := s.watchers[dir]; ok {
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}

	if err := register(w); err != nil {
		_ = w.Close()
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	s.watchers[dir] = w
	s.wg.Add(1)

	go s.loop(dir, w, handle)

	s.logger.Debug("watching", slog.String("dir", dir))

	return nil
}

func (s *Set) loop(dir string, w *fsnotify.Watcher, handle func(*fsnotify.Watcher, fsnotify.Event)) {
	defer s.wg.Done()

	for {
		select {
		case event, ok := <-w.Events:
			if !ok {
				return
			}

			handle(w, event)

		case watchErr, ok := <-w.Errors:
			if !ok {
				return
			}

			s.logger.Error("watcher error", slog.String("dir", dir), slog.String("error", watchErr.Error()))
		}
	}
}

// addRecursive walks root and adds every directory not excluded by ignore.
func addRecursive(watcher *fsnotify.Watcher, root string, ignore *Ignore) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !d.IsDir() {
			return nil
		}

		if path != root {
			if strings.HasPrefix(d.Name(), ".") || (ignore != nil && ignore.Match(path, true)) {
				return filepath.SkipDir
			}
		}

		return watcher.Add(path)
	})
}

// isRelevant filters out metadata-only events and editor scratch files.
func isRelevant(event fsnotify.Event) bool {
	if event.Op == 0 {
		return false
	}

	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return false
	}

	name := filepath.Base(event.Name)

	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, "~") ||
		strings.HasSuffix(name, ".swp") || strings.HasPrefix(name, "#") {
		return false
	}

	return true
}
