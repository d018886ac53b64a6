package workspace

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/board-bound/workspace/internal/build"
	"github.com/board-bound/workspace/internal/config"
	"github.com/board-bound/workspace/internal/supervisor"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// recordingRunner records "<dir> <cmd> <args...>" for every call, with dir
// relative to root.
type recordingRunner struct {
	root string
	fail map[string]error

	mu    sync.Mutex
	calls []string
}

func (r *recordingRunner) Run(_ context.Context, dir, name string, args ...string) error {
	rel, err := filepath.Rel(r.root, dir)
	if err != nil {
		rel = dir
	}

	call := strings.Join(append([]string{rel, name}, args...), " ")

	r.mu.Lock()
	r.calls = append(r.calls, call)
	r.mu.Unlock()

	return r.fail[call]
}

func (r *recordingRunner) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.calls...)
}

func (r *recordingRunner) Count(call string) int {
	n := 0

	for _, c := range r.Calls() {
		if c == call {
			n++
		}
	}

	return n
}

// note records an event that is not a command in the same call log.
func (r *recordingRunner) note(event string) {
	r.mu.Lock()
	r.calls = append(r.calls, event)
	r.mu.Unlock()
}

// gatedRunner blocks its first call until release is closed.
type gatedRunner struct {
	*recordingRunner

	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedRunner(root string) *gatedRunner {
	return &gatedRunner{
		recordingRunner: &recordingRunner{root: root},
		started:         make(chan struct{}),
		release:         make(chan struct{}),
	}
}

func (g *gatedRunner) Run(ctx context.Context, dir, name string, args ...string) error {
	first := false
	g.once.Do(func() { first = true })

	if first {
		close(g.started)
		<-g.release
	}

	return g.recordingRunner.Run(ctx, dir, name, args...)
}

// fakeDevMode logs its transitions into the runner's call log.
type fakeDevMode struct {
	enabled   bool
	enableErr error
	log       *recordingRunner
}

func (d *fakeDevMode) IsEnabled() bool { return d.enabled }

func (d *fakeDevMode) Enable() error {
	d.log.note("dev enable")

	if d.enableErr != nil {
		return d.enableErr
	}

	d.enabled = true

	return nil
}

func (d *fakeDevMode) Disable() error {
	d.log.note("dev disable")
	d.enabled = false

	return nil
}

type fakeServer struct {
	starts    atomic.Int32
	shutdowns atomic.Int32
}

func (f *fakeServer) Start() error {
	f.starts.Add(1)
	return nil
}

func (f *fakeServer) Shutdown(_ time.Duration) {
	f.shutdowns.Add(1)
}

func write(t *testing.T, path, content string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newRoot(t *testing.T) string {
	t.Helper()

	root := t.TempDir()
	write(t, filepath.Join(root, "sdk", "package.json"), `{"name":"@board-bound/sdk"}`)
	write(t, filepath.Join(root, "server", "package.json"), `{"name":"@board-bound/server","dependencies":{"@board-bound/sdk":"*"}}`)
	write(t, filepath.Join(root, "plugin-chess", "package.json"), `{"name":"plugin-chess","dependencies":{"@board-bound/sdk":"*"}}`)
	write(t, filepath.Join(root, "plugin-chess", "src", "index.ts"), "export {}")
	write(t, filepath.Join(root, "node_modules", "package.json"), `{}`)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "docs"), 0o755))

	return root
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}

	return false
}

type fixture struct {
	ws     *Workspace
	runner *recordingRunner
	server *fakeServer
	root   string
}

func newFixture(t *testing.T, root string) *fixture {
	t.Helper()

	settings := config.DefaultWorkspace()
	settings.Root = root
	settings.Debounce = 30 * time.Millisecond
	settings.SetupRetryDelay = 0

	runner := &recordingRunner{root: root}
	server := &fakeServer{}

	ws := New(Options{
		Settings: settings,
		Builder: build.New(build.Options{
			Root:           root,
			PackageManager: settings.PackageManager,
			Script:         settings.BuildScript,
			Artifact:       settings.PluginArtifact,
			Runner:         runner,
		}),
		Server:   server,
		LookPath: func(file string) (string, error) { return "/usr/bin/" + file, nil },
	})

	t.Cleanup(ws.Shutdown)

	return &fixture{ws: ws, runner: runner, server: server, root: root}
}

// ---------------------------------------------------------------------------
// Setup
// ---------------------------------------------------------------------------

func TestSetup_BuildsCoreFirstThenStartsServer(t *testing.T) {
	f := newFixture(t, newRoot(t))

	require.NoError(t, f.ws.Setup(context.Background()))

	assert.Equal(t, []string{
		"sdk bun run build",
		"server bun run build",
		"plugin-chess bun run build",
	}, f.runner.Calls(), "system directories and directories without a descriptor are skipped")
	assert.Equal(t, int32(1), f.server.starts.Load())
}

func TestSetup_ConcurrentCallsFoldIntoOneReplay(t *testing.T) {
	f := newFixture(t, newRoot(t))

	const delay = 80 * time.Millisecond

	runner := newGatedRunner(f.root)
	f.ws.opts.Builder = build.New(build.Options{
		Root:           f.root,
		PackageManager: "bun",
		Script:         "build",
		Artifact:       "dist/index.js",
		Runner:         runner,
	})
	f.ws.setup.ReplayDelay = delay

	first := make(chan error, 1)

	go func() { first <- f.ws.Setup(context.Background()) }()

	select {
	case <-runner.started:
	case <-time.After(2 * time.Second):
		t.Fatal("first setup never started building")
	}

	for range 2 {
		done := make(chan error, 1)

		go func() { done <- f.ws.Setup(context.Background()) }()

		select {
		case err := <-done:
			require.NoError(t, err, "an overlapping setup returns nil at once")
		case <-time.After(time.Second):
			t.Fatal("overlapping setup blocked on the running one")
		}
	}

	assert.Equal(t, supervisor.RunningWithPendingReplay, f.ws.setup.State())

	released := time.Now()
	close(runner.release)

	select {
	case err := <-first:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("setup did not finish")
	}

	assert.GreaterOrEqual(t, time.Since(released), delay, "the replay waits the retry delay")
	assert.Equal(t, 2, runner.Count("sdk bun run build"), "two overlapping requests cause one replay")
	assert.Equal(t, 2, runner.Count("plugin-chess bun run build"))
	assert.Equal(t, int32(2), f.server.starts.Load())
	assert.Equal(t, supervisor.Idle, f.ws.setup.State())
}

func TestSetup_MissingToolIsFatal(t *testing.T) {
	f := newFixture(t, newRoot(t))
	f.ws.opts.LookPath = func(file string) (string, error) {
		if file == "bun" {
			return "", errors.New("not found")
		}

		return "/usr/bin/" + file, nil
	}

	err := f.ws.Setup(context.Background())
	require.ErrorIs(t, err, ErrMissingTool)
	assert.Contains(t, err.Error(), "bun")
	assert.True(t, IsFatal(err))
	assert.Empty(t, f.runner.Calls())
}

func TestSetup_MissingServerRuntimeIsFatal(t *testing.T) {
	f := newFixture(t, newRoot(t))
	f.ws.opts.Settings.ServerCommand = "node"
	f.ws.opts.LookPath = func(file string) (string, error) {
		if file == "node" {
			return "", errors.New("not found")
		}

		return "/usr/bin/" + file, nil
	}

	err := f.ws.Setup(context.Background())
	require.ErrorIs(t, err, ErrMissingTool)
	assert.Contains(t, err.Error(), "node")
	assert.Empty(t, f.runner.Calls())
}

func TestSetup_CycleIsFatal(t *testing.T) {
	root := newRoot(t)
	write(t, filepath.Join(root, "sdk", "package.json"), `{"name":"@board-bound/sdk","dependencies":{"plugin-chess":"*"}}`)

	f := newFixture(t, root)

	err := f.ws.Setup(context.Background())
	require.Error(t, err)
	assert.True(t, IsFatal(err))
	assert.Empty(t, f.runner.Calls())
	assert.Equal(t, int32(0), f.server.starts.Load())
}

func TestSetup_MissingServerDirectoryIsRecoverable(t *testing.T) {
	root := newRoot(t)
	require.NoError(t, os.RemoveAll(filepath.Join(root, "server")))

	f := newFixture(t, root)

	err := f.ws.Setup(context.Background())
	require.Error(t, err)
	assert.False(t, IsFatal(err))
	assert.Empty(t, f.runner.Calls())
}

func TestSetup_BuildFailureDoesNotStopSetup(t *testing.T) {
	f := newFixture(t, newRoot(t))
	f.runner.fail = map[string]error{"sdk bun run build": errors.New("exit status 1")}

	require.NoError(t, f.ws.Setup(context.Background()))
	assert.Len(t, f.runner.Calls(), 3)
	assert.Equal(t, int32(1), f.server.starts.Load())
}

func TestSetup_UpdatesRepositoriesOnce(t *testing.T) {
	f := newFixture(t, newRoot(t))
	f.ws.opts.Updater = &Updater{
		Root:           f.root,
		Repos:          []string{"sdk", "server"},
		GitBase:        "https://example.com/board-bound",
		PackageManager: "bun",
		Runner:         f.runner,
	}

	require.NoError(t, f.ws.Setup(context.Background()))
	require.NoError(t, f.ws.Setup(context.Background()))

	assert.Equal(t, 1, f.runner.Count("sdk git pull --ff-only"))
	assert.Equal(t, 1, f.runner.Count("server bun install"))
	assert.Equal(t, 2, f.runner.Count("plugin-chess bun run build"))
}

// ---------------------------------------------------------------------------
// Watchers
// ---------------------------------------------------------------------------

func TestWatchers_PluginChangeRebuildsOnlyThatPlugin(t *testing.T) {
	f := newFixture(t, newRoot(t))

	require.NoError(t, f.ws.Setup(context.Background()))
	require.NoError(t, f.ws.SetupWatchers(context.Background()))

	write(t, filepath.Join(f.root, "plugin-chess", "src", "index.ts"), "export const x = 1")

	assert.Eventually(t, func() bool {
		return f.runner.Count("plugin-chess bun run build") >= 2
	}, 2*time.Second, 10*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, f.runner.Count("sdk bun run build"))
	assert.Equal(t, int32(1), f.server.starts.Load(), "server left untouched")
}

func TestWatchers_CoreChangeTriggersFullSetup(t *testing.T) {
	f := newFixture(t, newRoot(t))

	require.NoError(t, f.ws.Setup(context.Background()))
	require.NoError(t, f.ws.SetupWatchers(context.Background()))

	write(t, filepath.Join(f.root, "sdk", "src", "index.ts"), "export {}")

	assert.Eventually(t, func() bool { return f.server.starts.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, f.runner.Count("sdk bun run build"), 2)
	assert.GreaterOrEqual(t, f.runner.Count("plugin-chess bun run build"), 2)
}

func TestWatchers_FatalSetupIsReported(t *testing.T) {
	root := newRoot(t)
	write(t, filepath.Join(root, "sdk", "package.json"), `{"name":"@board-bound/sdk","dependencies":{"@board-bound/server":"*"}}`)

	f := newFixture(t, root)

	fatal := make(chan error, 1)
	f.ws.opts.OnFatal = func(err error) { fatal <- err }

	require.NoError(t, f.ws.SetupWatchers(context.Background()))

	write(t, filepath.Join(root, "sdk", "src", "index.ts"), "export {}")

	select {
	case err := <-fatal:
		assert.True(t, IsFatal(err))
	case <-time.After(2 * time.Second):
		t.Fatal("fatal setup error was not reported")
	}

	assert.Empty(t, f.runner.Calls())
}

func TestWatchers_IgnoredChangesDoNothing(t *testing.T) {
	f := newFixture(t, newRoot(t))

	require.NoError(t, f.ws.Setup(context.Background()))
	require.NoError(t, f.ws.SetupWatchers(context.Background()))

	write(t, filepath.Join(f.root, "plugin-chess", "dist", "index.js"), "built")
	write(t, filepath.Join(f.root, "plugin-chess", "package.json"), `{"name":"plugin-chess"}`)
	write(t, filepath.Join(f.root, "node_modules", "x.js"), "x")

	time.Sleep(200 * time.Millisecond)
	assert.Len(t, f.runner.Calls(), 3)
	assert.Equal(t, int32(1), f.server.starts.Load())
}

func TestWatchers_NewAndRemovedPluginDirectories(t *testing.T) {
	f := newFixture(t, newRoot(t))

	require.NoError(t, f.ws.Setup(context.Background()))
	require.NoError(t, f.ws.SetupWatchers(context.Background()))

	dir := filepath.Join(f.root, "plugin-go")
	require.NoError(t, os.Mkdir(dir, 0o755))

	assert.Eventually(t, func() bool { return f.server.starts.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return contains(f.ws.Watching(), dir) }, 2*time.Second, 10*time.Millisecond)

	started := f.server.starts.Load()

	require.NoError(t, os.RemoveAll(dir))

	assert.Eventually(t, func() bool { return f.server.starts.Load() > started }, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return !contains(f.ws.Watching(), dir) }, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, f.runner.Count("plugin-go bun run build"), "a removed directory is not built")
}

func TestWatchers_SystemDirectoriesAreNotWatched(t *testing.T) {
	f := newFixture(t, newRoot(t))

	require.NoError(t, f.ws.SetupWatchers(context.Background()))

	watching := f.ws.Watching()
	assert.Contains(t, watching, f.root)
	assert.Contains(t, watching, filepath.Join(f.root, "sdk"))
	assert.Contains(t, watching, filepath.Join(f.root, "docs"))
	assert.NotContains(t, watching, filepath.Join(f.root, "node_modules"))

	require.Error(t, f.ws.SetupWatchers(context.Background()), "installing twice is refused")
}

func TestShutdown_StopsWatchersAndServer(t *testing.T) {
	f := newFixture(t, newRoot(t))

	require.NoError(t, f.ws.SetupWatchers(context.Background()))

	f.ws.Shutdown()
	assert.Nil(t, f.ws.Watching())
	assert.Equal(t, int32(1), f.server.shutdowns.Load())
}

// ---------------------------------------------------------------------------
// Updater
// ---------------------------------------------------------------------------

func TestUpdater_ClonesMissingAndPullsExisting(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sdk"), 0o755))

	runner := &recordingRunner{root: root}
	u := &Updater{
		Root:           root,
		Repos:          []string{"sdk", "server"},
		GitBase:        "https://github.com/board-bound/",
		PackageManager: "bun",
		Runner:         runner,
	}

	require.NoError(t, u.Update(context.Background()))

	assert.ElementsMatch(t, []string{
		"sdk git pull --ff-only",
		"sdk bun install",
		". git clone https://github.com/board-bound/server.git server",
		"server bun install",
	}, runner.Calls())
}

func TestUpdater_FailuresAreNotFatal(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sdk"), 0o755))

	runner := &recordingRunner{root: root, fail: map[string]error{
		"sdk git pull --ff-only": errors.New("not possible to fast-forward"),
		". git clone https://example.com/server.git server": errors.New("repository not found"),
	}}

	u := &Updater{Root: root, Repos: []string{"sdk", "server"}, GitBase: "https://example.com", PackageManager: "bun", Runner: runner}

	require.NoError(t, u.Update(context.Background()))
	assert.Equal(t, 1, runner.Count("sdk bun install"), "a failed pull still installs")
	assert.Equal(t, 0, runner.Count("server bun install"), "a failed clone skips install")
}

func TestUpdater_UnlinksDevModeAroundPulls(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sdk"), 0o755))

	runner := &recordingRunner{root: root}
	dev := &fakeDevMode{enabled: true, log: runner}
	u := &Updater{Root: root, Repos: []string{"sdk"}, GitBase: "https://example.com", PackageManager: "bun", Runner: runner, DevMode: dev}

	require.NoError(t, u.Update(context.Background()))

	assert.Equal(t, []string{
		"dev disable",
		"sdk git pull --ff-only",
		"sdk bun install",
		"dev enable",
	}, runner.Calls())
	assert.True(t, dev.IsEnabled())
}

func TestUpdater_LeavesDisabledDevModeAlone(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sdk"), 0o755))

	runner := &recordingRunner{root: root}
	dev := &fakeDevMode{log: runner}
	u := &Updater{Root: root, Repos: []string{"sdk"}, GitBase: "https://example.com", PackageManager: "bun", Runner: runner, DevMode: dev}

	require.NoError(t, u.Update(context.Background()))

	assert.Equal(t, []string{"sdk git pull --ff-only", "sdk bun install"}, runner.Calls())
	assert.False(t, dev.IsEnabled())
}

func TestUpdater_RelinkFailureIsNotFatal(t *testing.T) {
	root := t.TempDir()
	runner := &recordingRunner{root: root}
	dev := &fakeDevMode{enabled: true, enableErr: errors.New("cycle"), log: runner}
	u := &Updater{Root: root, Runner: runner, DevMode: dev}

	require.NoError(t, u.Update(context.Background()))
	assert.Equal(t, []string{"dev disable", "dev enable"}, runner.Calls())
}

func TestUpdater_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	u := &Updater{Root: t.TempDir(), Runner: &recordingRunner{}}
	require.ErrorIs(t, u.Update(ctx), context.Canceled)
}
