// Package workspace coordinates the projects of a board-bound workspace:
// it keeps repositories current, builds them in order, runs the server and
// turns file changes into rebuilds.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/board-bound/workspace/internal/build"
	"github.com/board-bound/workspace/internal/config"
	"github.com/board-bound/workspace/internal/project"
	"github.com/board-bound/workspace/internal/supervisor"
	"github.com/board-bound/workspace/internal/ui"
	"github.com/board-bound/workspace/internal/watch"
)

// ShutdownTimeout bounds how long Shutdown waits for the server to exit.
const ShutdownTimeout = 5 * time.Second

// ErrMissingTool is returned when git or the package manager is not on PATH.
var ErrMissingTool = errors.New("required tool not found")

// Server is the process the workspace (re)starts after a setup.
type Server interface {
	Start() error
	Shutdown(timeout time.Duration)
}

// Options configures a Workspace.
type Options struct {
	Settings config.Workspace
	Builder  *build.Builder
	Server   Server
	// Updater refreshes repositories before the first build. Optional.
	Updater *Updater
	// LookPath resolves required tools. Defaults to exec.LookPath.
	LookPath func(file string) (string, error)
	// OnFatal receives fatal errors of watcher-triggered setups. Optional.
	OnFatal func(err error)
	Logger  *slog.Logger
	UI      *ui.Printer
}

// Workspace drives setup, watching and shutdown.
type Workspace struct {
	opts  Options
	setup supervisor.Slot

	updateOnce sync.Once

	mu       sync.Mutex
	ctx      context.Context
	watchers *watch.Set
}

// New returns a Workspace.
func New(opts Options) *Workspace {
	if opts.LookPath == nil {
		opts.LookPath = exec.LookPath
	}

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	if opts.UI == nil {
		opts.UI = ui.Discard()
	}

	w := &Workspace{opts: opts, ctx: context.Background()}
	w.setup.ReplayDelay = opts.Settings.SetupRetryDelay

	return w
}

// IsFatal reports whether a setup error must end the process: a missing
// tool or a dependency cycle.
func IsFatal(err error) bool {
	var cycle *project.CycleError
	return errors.Is(err, ErrMissingTool) || errors.As(err, &cycle)
}

// Setup builds every project in order and (re)starts the server. A Setup
// requested while one is running is folded into a single replay after it and
// returns nil at once. Build and server failures are logged, not returned.
func (w *Workspace) Setup(ctx context.Context) error {
	var err error

	w.setup.Run(func() { err = w.runSetup(ctx) })

	return err
}

func (w *Workspace) runSetup(ctx context.Context) error {
	s := w.opts.Settings

	if err := w.CheckTools(); err != nil {
		return err
	}

	if w.opts.Updater != nil {
		var updateErr error

		w.updateOnce.Do(func() { updateErr = w.opts.Updater.Update(ctx) })

		if updateErr != nil {
			return updateErr
		}
	}

	serverDir := filepath.Join(s.Root, config.ServerDir)
	if info, err := os.Stat(serverDir); err != nil || !info.IsDir() {
		return fmt.Errorf("server directory %s not found", serverDir)
	}

	projects, err := project.Scan(s.Root, s.IsSystemDir)
	if err != nil {
		return err
	}

	if _, err := project.Resolve(projects); err != nil {
		return err
	}

	dirs := project.Dirs(projects)

	w.opts.Logger.Info("setting up workspace", slog.Any("projects", dirs))
	w.opts.UI.Info("building %d project(s)", len(dirs))

	w.opts.Builder.BuildInOrder(ctx, dirs)

	if ctx.Err() != nil {
		return ctx.Err()
	}

	if err := w.opts.Server.Start(); err != nil {
		w.opts.Logger.Error("server start failed", slog.String("error", err.Error()))
		w.opts.UI.Fail("server start failed: %v", err)
	}

	return nil
}

// CheckTools verifies that git, the package manager and the server runtime
// are on PATH.
func (w *Workspace) CheckTools() error {
	s := w.opts.Settings

	for _, tool := range []string{"git", s.PackageManager, s.ServerCommand} {
		if _, err := w.opts.LookPath(tool); err != nil {
			return fmt.Errorf("%w: %s", ErrMissingTool, tool)
		}
	}

	return nil
}

// SetupWatchers installs the shallow root watcher and a deep watcher per
// top-level directory. Changes in a core directory trigger Setup, changes
// in a plugin directory rebuild that plugin only. Actions run with ctx.
func (w *Workspace) SetupWatchers(ctx context.Context) error {
	s := w.opts.Settings

	set := watch.NewSet(s.Debounce, func(path string) {
		rel, err := filepath.Rel(s.Root, path)
		if err != nil {
			rel = path
		}

		w.opts.UI.Info("change detected: %s", rel)
	}, w.opts.Logger)

	w.mu.Lock()
	if w.watchers != nil {
		w.mu.Unlock()
		set.Close()

		return errors.New("watchers already installed")
	}

	w.ctx = ctx
	w.watchers = set
	w.mu.Unlock()

	if err := set.WatchRoot(s.Root, w.route); err != nil {
		return err
	}

	entries, err := os.ReadDir(s.Root)
	if err != nil {
		return fmt.Errorf("listing %s: %w", s.Root, err)
	}

	for _, e := range entries {
		if !e.IsDir() || s.IsSystemDir(e.Name()) {
			continue
		}

		if err := w.watchDir(e.Name()); err != nil {
			w.opts.Logger.Warn("cannot watch directory", slog.String("dir", e.Name()), slog.String("error", err.Error()))
		}
	}

	w.opts.UI.Info("watching %s for changes", s.Root)

	return nil
}

// Shutdown stops the watchers and the server.
func (w *Workspace) Shutdown() {
	w.mu.Lock()
	set := w.watchers
	w.watchers = nil
	w.mu.Unlock()

	if set != nil {
		set.Close()
	}

	w.opts.Server.Shutdown(ShutdownTimeout)
}

// Watching returns the watched directories, the root included.
func (w *Workspace) Watching() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.watchers == nil {
		return nil
	}

	return w.watchers.Dirs()
}

// watchDir installs the deep watcher of the top-level directory name.
func (w *Workspace) watchDir(name string) error {
	set, ctx := w.current()
	if set == nil {
		return nil
	}

	dir := filepath.Join(w.opts.Settings.Root, name)

	if config.IsCoreDir(name) {
		return set.WatchTree(dir, func() { w.setupLogged(ctx) })
	}

	return set.WatchTree(dir, func() { w.opts.Builder.BuildDir(ctx, name) })
}

// route handles top-level events: a plugin directory appearing or going
// away changes the plugin set, so the server needs a full setup.
func (w *Workspace) route(event fsnotify.Event) func() {
	name := filepath.Base(event.Name)
	if w.opts.Settings.IsSystemDir(name) || config.IsCoreDir(name) {
		return nil
	}

	set, ctx := w.current()
	if set == nil {
		return nil
	}

	switch {
	case event.Has(fsnotify.Create):
		info, err := os.Stat(event.Name)
		if err != nil || !info.IsDir() {
			return nil
		}

		return func() {
			w.opts.UI.Info("new directory %s", name)

			if err := w.watchDir(name); err != nil {
				w.opts.Logger.Warn("cannot watch directory", slog.String("dir", name), slog.String("error", err.Error()))
			}

			w.setupLogged(ctx)
		}

	case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
		if !set.Watching(event.Name) {
			return nil
		}

		return func() {
			w.opts.UI.Info("directory %s removed", name)
			set.Unwatch(event.Name)
			w.setupLogged(ctx)
		}
	}

	return nil
}

// setupLogged runs Setup on behalf of a watcher. Errors are reported and
// the watchers stay active; fatal ones are handed to OnFatal.
func (w *Workspace) setupLogged(ctx context.Context) {
	err := w.Setup(ctx)
	if err == nil || ctx.Err() != nil {
		return
	}

	if IsFatal(err) && w.opts.OnFatal != nil {
		w.opts.OnFatal(err)
		return
	}

	w.opts.Logger.Error("setup failed", slog.String("error", err.Error()))
	w.opts.UI.Fail("setup failed: %v (waiting for changes)", err)
}

func (w *Workspace) current() (*watch.Set, context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.watchers, w.ctx
}
