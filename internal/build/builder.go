// Package build runs the package manager's build script for workspace
// projects, one subprocess at a time, with the core packages aliased to
// their freshly built siblings.
package build

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/board-bound/workspace/internal/config"
	"github.com/board-bound/workspace/internal/jsonfile"
	"github.com/board-bound/workspace/internal/project"
	"github.com/board-bound/workspace/internal/supervisor"
	"github.com/board-bound/workspace/internal/ui"
)

// AliasKey is the descriptor member mapping package names to local paths.
const AliasKey = "alias"

// Options configures a Builder.
type Options struct {
	// Root is the workspace root.
	Root string
	// PackageManager is the binary invoked as "<pm> run <script>".
	PackageManager string
	// Script is the build script name.
	Script string
	// Artifact is the build output of a core package, relative to its
	// directory.
	Artifact string
	// Runner executes the build command. Defaults to ExecRunner.
	Runner Runner
	Logger *slog.Logger
	UI     *ui.Printer
}

// Builder builds workspace directories. Requests for a directory that is
// already building are folded into one follow-up build; requests for other
// directories wait their turn, so at most one build subprocess is alive.
type Builder struct {
	opts  Options
	slots supervisor.Group

	// run serialises build subprocesses across directories.
	run sync.Mutex

	mu      sync.Mutex
	results map[string]error
}

// New returns a Builder.
func New(opts Options) *Builder {
	if opts.Runner == nil {
		opts.Runner = ExecRunner{}
	}

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	if opts.UI == nil {
		opts.UI = ui.Discard()
	}

	return &Builder{opts: opts, results: make(map[string]error)}
}

// BuildDir builds dir unless a build of dir is already running, in which
// case one rebuild is scheduled to follow it and BuildDir returns at once.
// Failures are logged, never returned; see Err.
func (b *Builder) BuildDir(ctx context.Context, dir string) {
	b.slots.Slot(dir).Run(func() { b.build(ctx, dir) })
}

// BuildInOrder builds the core directories present in dirs first (sdk, then
// server) and the remaining directories afterwards in their given order.
func (b *Builder) BuildInOrder(ctx context.Context, dirs []string) {
	for _, dir := range Order(dirs) {
		if ctx.Err() != nil {
			return
		}

		b.BuildDir(ctx, dir)
	}
}

// Order returns dirs with the core directories moved to the front in build
// order. Duplicates are dropped.
func Order(dirs []string) []string {
	present := make(map[string]bool, len(dirs))
	for _, d := range dirs {
		present[d] = true
	}

	ordered := make([]string, 0, len(dirs))
	seen := make(map[string]bool, len(dirs))

	for _, core := range config.CoreDirs() {
		if present[core] {
			ordered = append(ordered, core)
			seen[core] = true
		}
	}

	for _, d := range dirs {
		if !seen[d] {
			ordered = append(ordered, d)
			seen[d] = true
		}
	}

	return ordered
}

// Err returns the outcome of the most recent build of dir.
func (b *Builder) Err(dir string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.results[dir]
}

// Busy reports whether a build is in flight.
func (b *Builder) Busy() bool {
	return b.slots.Busy()
}

func (b *Builder) build(ctx context.Context, dir string) {
	b.run.Lock()
	defer b.run.Unlock()

	logger := b.opts.Logger.With(slog.String("dir", dir))
	start := time.Now()

	b.opts.UI.Info("building %s", dir)
	logger.Debug("build started")

	err := b.runBuild(ctx, dir)

	b.mu.Lock()
	b.results[dir] = err
	b.mu.Unlock()

	if err != nil {
		logger.Error("build failed", slog.String("error", err.Error()))
		b.opts.UI.Fail("build of %s failed: %v", dir, err)

		return
	}

	elapsed := time.Since(start).Round(time.Millisecond)
	logger.Info("build finished", slog.Duration("elapsed", elapsed))
	b.opts.UI.Success("built %s in %s", dir, elapsed)
}

func (b *Builder) runBuild(ctx context.Context, dir string) error {
	abs := filepath.Join(b.opts.Root, dir)

	run := func() error {
		return b.opts.Runner.Run(ctx, abs, b.opts.PackageManager, "run", b.opts.Script)
	}

	doc, err := b.aliasedDescriptor(dir)
	if err != nil {
		return err
	}

	if doc == nil {
		return run()
	}

	return jsonfile.WithDocument(filepath.Join(abs, project.DescriptorFile), doc, run)
}

// aliasedDescriptor returns the descriptor of dir with every core package it
// depends on aliased to that package's build output. It returns nil when
// there is nothing to alias: no descriptor, no core dependency, or no core
// artifact built yet.
func (b *Builder) aliasedDescriptor(dir string) (*jsonfile.Document, error) {
	abs := filepath.Join(b.opts.Root, dir)

	desc, err := project.ReadDescriptor(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	aliases := make(map[string]string)

	for _, core := range config.CoreDirs() {
		if core == dir {
			continue
		}

		coreDesc, err := project.ReadDescriptor(filepath.Join(b.opts.Root, core))
		if err != nil || coreDesc.Name == "" || !desc.DependsOn(coreDesc.Name) {
			continue
		}

		if _, err := os.Stat(filepath.Join(b.opts.Root, core, b.opts.Artifact)); err != nil {
			b.opts.Logger.Debug("core artifact not built yet, skipping alias",
				slog.String("dir", dir), slog.String("core", core))

			continue
		}

		aliases[coreDesc.Name] = path.Join("..", core, filepath.ToSlash(b.opts.Artifact))
	}

	if len(aliases) == 0 {
		return nil, nil
	}

	doc, err := jsonfile.Read(filepath.Join(abs, project.DescriptorFile))
	if err != nil {
		return nil, err
	}

	if err := MergeAliases(doc, aliases); err != nil {
		return nil, fmt.Errorf("aliasing %s: %w", dir, err)
	}

	return doc, nil
}

// MergeAliases adds aliases to the alias member of doc, creating it when
// absent. Existing entries for other packages are kept.
func MergeAliases(doc *jsonfile.Document, aliases map[string]string) error {
	obj, err := doc.Object(AliasKey)
	if err != nil {
		return err
	}

	if obj == nil {
		obj = jsonfile.New()
	}

	names := make([]string, 0, len(aliases))
	for name := range aliases {
		names = append(names, name)
	}

	sort.Strings(names)

	for _, name := range names {
		if err := obj.Set(name, aliases[name]); err != nil {
			return err
		}
	}

	doc.SetObject(AliasKey, obj)

	return nil
}

// RemoveAliases deletes names from the alias member of doc and drops the
// member once it is empty. It reports whether doc changed.
func RemoveAliases(doc *jsonfile.Document, names []string) (bool, error) {
	obj, err := doc.Object(AliasKey)
	if err != nil || obj == nil {
		return false, err
	}

	changed := false

	for _, name := range names {
		if obj.Delete(name) {
			changed = true
		}
	}

	if obj.Len() == 0 {
		doc.Delete(AliasKey)
		return true, nil
	}

	if changed {
		doc.SetObject(AliasKey, obj)
	}

	return changed, nil
}
