// Package server launches the board-bound server with the workspace's
// plugin bundles and restarts it on demand.
package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/board-bound/workspace/internal/config"
	"github.com/board-bound/workspace/internal/ui"
)

// Options configures a Server.
type Options struct {
	// Root is the workspace root.
	Root string
	// Command and Args start the server entry point inside the server
	// directory, e.g. "node" and ["dist/index.js"].
	Command string
	Args    []string
	// PluginArtifact is each plugin's bundle, relative to its directory.
	PluginArtifact string
	// IsSystemDir excludes directories from plugin discovery.
	IsSystemDir func(name string) bool

	Port        int
	LogLevel    string
	Colorize    func() bool
	GracePeriod time.Duration

	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
	UI     *ui.Printer
}

// Server owns at most one running server process.
type Server struct {
	opts Options

	mu   sync.Mutex
	proc *process
}

type process struct {
	cmd      *exec.Cmd
	stopping bool
	done     chan struct{}
}

// New returns a Server.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	if opts.UI == nil {
		opts.UI = ui.Discard()
	}

	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}

	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}

	if opts.IsSystemDir == nil {
		opts.IsSystemDir = func(name string) bool { return strings.HasPrefix(name, ".") }
	}

	return &Server{opts: opts}
}

// Dir returns the server project directory.
func (s *Server) Dir() string {
	return filepath.Join(s.opts.Root, config.ServerDir)
}

// Start (re)launches the server. A missing server directory is logged and
// ignored. A running process is terminated first, then the grace period is
// waited so the previous process can release its port.
func (s *Server) Start() error {
	if info, err := os.Stat(s.Dir()); err != nil || !info.IsDir() {
		s.opts.Logger.Warn("server directory not found, not starting", slog.String("dir", s.Dir()))
		s.opts.UI.Warn("server directory %s not found", s.Dir())

		return nil
	}

	if s.stopCurrent() != nil && s.opts.GracePeriod > 0 {
		time.Sleep(s.opts.GracePeriod)
	}

	plugins, err := PluginPaths(s.opts.Root, s.opts.PluginArtifact, s.opts.IsSystemDir)
	if err != nil {
		return err
	}

	cmd := exec.Command(s.opts.Command, s.opts.Args...) //nolint:gosec
	cmd.Dir = s.Dir()
	cmd.Stdout = s.opts.Stdout
	cmd.Stderr = s.opts.Stderr
	cmd.Env = append(os.Environ(), s.Env(plugins)...)
	detach(cmd)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}

	p := &process{cmd: cmd, done: make(chan struct{})}

	s.mu.Lock()
	s.proc = p
	s.mu.Unlock()

	s.opts.Logger.Info("server started",
		slog.Int("pid", cmd.Process.Pid),
		slog.Int("port", s.opts.Port),
		slog.Int("plugins", len(plugins)),
	)
	s.opts.UI.Success("server started on port %d with %d plugin(s)", s.opts.Port, len(plugins))

	go s.wait(p)

	return nil
}

// Stop terminates the running server and its process group, if any,
// without waiting for it.
func (s *Server) Stop() {
	s.stopCurrent()
}

// Shutdown terminates the running server and waits up to timeout for it to
// exit before killing it.
func (s *Server) Shutdown(timeout time.Duration) {
	p := s.stopCurrent()
	if p == nil {
		return
	}

	select {
	case <-p.done:
	case <-time.After(timeout):
		s.opts.Logger.Warn("server did not exit in time, killing it", slog.Int("pid", p.cmd.Process.Pid))
		if err := signalGroup(p.cmd.Process.Pid, syscall.SIGKILL); err != nil {
			_ = p.cmd.Process.Kill()
		}

		<-p.done
	}
}

// Running reports whether a server process is tracked.
func (s *Server) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.proc != nil
}

// Env returns the variables passed to the server in addition to the
// parent environment.
func (s *Server) Env(plugins []string) []string {
	env := []string{
		"PORT=" + strconv.Itoa(s.opts.Port),
		"LOG_LEVEL=" + s.opts.LogLevel,
		"LOG_PRETTY=true",
		"PLUGIN_WATCH=true",
		"PLUGIN_LOAD_DIRECT=" + strings.Join(plugins, ","),
	}

	if s.opts.Colorize != nil && s.opts.Colorize() {
		env = append(env, "LOG_COLORIZE=true")
	}

	return env
}

// stopCurrent signals the tracked process, clears the handle and returns the
// stopped process, or nil when none was running.
func (s *Server) stopCurrent() *process {
	s.mu.Lock()
	p := s.proc
	s.proc = nil

	if p != nil {
		p.stopping = true
	}
	s.mu.Unlock()

	if p == nil {
		return nil
	}

	s.opts.Logger.Info("stopping server", slog.Int("pid", p.cmd.Process.Pid))

	if err := signalGroup(p.cmd.Process.Pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		s.opts.Logger.Warn("signalling server failed", slog.String("error", err.Error()))
	}

	return p
}

// wait reaps p and reports an unexpected exit as a crash.
func (s *Server) wait(p *process) {
	err := p.cmd.Wait()
	close(p.done)

	s.mu.Lock()
	stopping := p.stopping
	if s.proc == p {
		s.proc = nil
	}
	s.mu.Unlock()

	if stopping || err == nil {
		s.opts.Logger.Debug("server exited", slog.Int("pid", p.cmd.Process.Pid))
		return
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() && status.Signal() == syscall.SIGTERM {
			return
		}
	}

	s.opts.Logger.Error("server crashed", slog.String("error", err.Error()))
	s.opts.UI.Fail("server crashed: %v (waiting for changes)", err)
}

// PluginPaths returns the absolute bundle path of every plugin directory
// under root: every top-level directory that is neither a system nor a core
// directory, whether or not its bundle exists yet.
func PluginPaths(root, artifact string, isSystemDir func(string) bool) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("listing plugins: %w", err)
	}

	var paths []string

	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() || isSystemDir(name) || config.IsCoreDir(name) {
			continue
		}

		paths = append(paths, filepath.Join(root, name, artifact))
	}

	return paths, nil
}
