// Package devmode links workspace projects to each other's sources and
// guards the linked state against being committed.
package devmode

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path"
	"slices"

	"github.com/board-bound/workspace/internal/build"
	"github.com/board-bound/workspace/internal/jsonfile"
	"github.com/board-bound/workspace/internal/project"
)

const (
	compilerOptionsKey = "compilerOptions"
	pathsKey           = "paths"
)

// Linker enables and disables dev mode for the projects under Root.
type Linker struct {
	Root        string
	IsSystemDir func(name string) bool
	Logger      *slog.Logger
}

// New returns a Linker.
func New(root string, isSystemDir func(string) bool, logger *slog.Logger) *Linker {
	if logger == nil {
		logger = slog.Default()
	}

	return &Linker{Root: root, IsSystemDir: isSystemDir, Logger: logger}
}

// IsEnabled reports whether the workspace-root guard hook is present. A
// root that is not a repository carries no guard; there dev mode counts as
// enabled while any project still holds a link.
func (l *Linker) IsEnabled() bool {
	if !hasRepository(l.Root) {
		changes, err := l.PlanDisable()
		return err == nil && len(changes) > 0
	}

	data, err := os.ReadFile(HookPath(l.Root))

	return err == nil && IsGuard(data)
}

// Enable links every project to the sources of its local dependencies and
// installs the commit guards.
func (l *Linker) Enable() error {
	changes, err := l.PlanEnable()
	if err != nil {
		return err
	}

	if err := ApplyAll(changes); err != nil {
		return err
	}

	if !hasRepository(l.Root) {
		l.Logger.Warn("workspace root is not a git repository, no root commit guard installed", slog.String("root", l.Root))
	}

	l.Logger.Info("dev mode enabled", slog.Int("files", len(changes)))

	return nil
}

// Disable removes the links and the commit guards.
func (l *Linker) Disable() error {
	changes, err := l.PlanDisable()
	if err != nil {
		return err
	}

	if err := ApplyAll(changes); err != nil {
		return err
	}

	l.Logger.Info("dev mode disabled", slog.Int("files", len(changes)))

	return nil
}

// PlanEnable computes the edits of Enable without touching the disk. A
// dependency cycle is returned as a *project.CycleError.
func (l *Linker) PlanEnable() ([]Change, error) {
	projects, err := project.Scan(l.Root, l.IsSystemDir)
	if err != nil {
		return nil, err
	}

	chain, err := project.Resolve(projects)
	if err != nil {
		return nil, err
	}

	var changes []Change

	for _, p := range projects {
		root, ok := chain.Get(p.Dir)
		if !ok {
			continue
		}

		deps := root.Flatten()
		if len(deps) == 0 {
			continue
		}

		aliases := make(map[string]string, len(deps))
		paths := make(map[string][]string, len(deps))

		for _, d := range deps {
			aliases[d.Name] = path.Join("..", d.Dir, "src", "index")
			paths[d.Name] = []string{path.Join("..", d.Dir, "src")}
		}

		c, err := editDescriptor(p.DescriptorPath(), func(doc *jsonfile.Document) (bool, error) {
			return true, build.MergeAliases(doc, aliases)
		})
		if err != nil {
			return nil, err
		}

		changes = append(changes, c...)

		c, err = l.editTypeMapping(p.TypeMappingPath(), func(opts *jsonfile.Document) (bool, error) {
			return true, mergePaths(opts, paths)
		})
		if err != nil {
			return nil, err
		}

		changes = append(changes, c...)
	}

	guards, err := l.guards(projects, installGuard)
	if err != nil {
		return nil, err
	}

	return append(changes, guards...), nil
}

// PlanDisable computes the edits of Disable without touching the disk.
// Only entries naming workspace projects are removed.
func (l *Linker) PlanDisable() ([]Change, error) {
	projects, err := project.Scan(l.Root, l.IsSystemDir)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(projects))
	for _, p := range projects {
		if p.Descriptor.Name != "" {
			names = append(names, p.Descriptor.Name)
		}
	}

	var changes []Change

	for _, p := range projects {
		c, err := editDescriptor(p.DescriptorPath(), func(doc *jsonfile.Document) (bool, error) {
			return build.RemoveAliases(doc, names)
		})
		if err != nil {
			return nil, err
		}

		changes = append(changes, c...)

		c, err = l.editTypeMapping(p.TypeMappingPath(), func(opts *jsonfile.Document) (bool, error) {
			return removePaths(opts, names)
		})
		if err != nil {
			return nil, err
		}

		changes = append(changes, c...)
	}

	guards, err := l.guards(projects, removeGuard)
	if err != nil {
		return nil, err
	}

	return append(changes, guards...), nil
}

// guards applies op to the root hook, when the root is a repository, and to
// the hook of every project that is its own repository.
func (l *Linker) guards(projects []*project.Project, op func(string) ([]Change, error)) ([]Change, error) {
	var changes []Change

	if hasRepository(l.Root) {
		c, err := op(HookPath(l.Root))
		if err != nil {
			return nil, err
		}

		changes = c
	}

	for _, p := range projects {
		if !hasRepository(p.Path) {
			continue
		}

		c, err := op(HookPath(p.Path))
		if err != nil {
			return nil, err
		}

		changes = append(changes, c...)
	}

	return changes, nil
}

// editDescriptor loads the JSON file at file, lets edit modify it and
// returns the resulting change, if any.
func editDescriptor(file string, edit func(*jsonfile.Document) (bool, error)) ([]Change, error) {
	before, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", file, err)
	}

	doc, err := jsonfile.Parse(before)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", file, err)
	}

	changed, err := edit(doc)
	if err != nil {
		return nil, fmt.Errorf("editing %s: %w", file, err)
	}

	if !changed {
		return nil, nil
	}

	after, err := doc.Bytes()
	if err != nil {
		return nil, fmt.Errorf("rendering %s: %w", file, err)
	}

	if bytes.Equal(before, after) {
		return nil, nil
	}

	return []Change{{Path: file, Before: before, After: after, Mode: fileMode(file, 0o644)}}, nil
}

// editTypeMapping edits the compiler options of the type-mapping file at
// file. A project without the file, or with one that is not plain JSON, is
// left alone. The compiler options member is created on demand and dropped
// again once empty.
func (l *Linker) editTypeMapping(file string, edit func(opts *jsonfile.Document) (bool, error)) ([]Change, error) {
	data, err := os.ReadFile(file)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", file, err)
	}

	if !json.Valid(data) {
		l.Logger.Warn("type mapping is not plain JSON, leaving it untouched", slog.String("file", file))
		return nil, nil
	}

	return editDescriptor(file, func(doc *jsonfile.Document) (bool, error) {
		opts, err := doc.Object(compilerOptionsKey)
		if err != nil {
			return false, err
		}

		if opts == nil {
			opts = jsonfile.New()
		}

		changed, err := edit(opts)
		if err != nil || !changed {
			return false, err
		}

		if opts.Len() == 0 {
			doc.Delete(compilerOptionsKey)
		} else {
			doc.SetObject(compilerOptionsKey, opts)
		}

		return true, nil
	})
}

func mergePaths(opts *jsonfile.Document, paths map[string][]string) error {
	mapping, err := opts.Object(pathsKey)
	if err != nil {
		return err
	}

	if mapping == nil {
		mapping = jsonfile.New()
	}

	for _, name := range slices.Sorted(maps.Keys(paths)) {
		if err := mapping.Set(name, paths[name]); err != nil {
			return err
		}
	}

	opts.SetObject(pathsKey, mapping)

	return nil
}

func removePaths(opts *jsonfile.Document, names []string) (bool, error) {
	mapping, err := opts.Object(pathsKey)
	if err != nil || mapping == nil {
		return false, err
	}

	changed := false

	for _, name := range names {
		if mapping.Delete(name) {
			changed = true
		}
	}

	switch {
	case mapping.Len() == 0:
		opts.Delete(pathsKey)
		return true, nil
	case changed:
		opts.SetObject(pathsKey, mapping)
	}

	return changed, nil
}

