package project

import (
	"fmt"
	"os"
	"path/filepath"
)

// Scan lists the immediate subdirectories of root that contain a package
// descriptor, in directory-name order. Directories for which skip returns
// true are never inspected. A malformed descriptor aborts the scan.
func Scan(root string, skip func(name string) bool) ([]*Project, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", root, err)
	}

	var projects []*Project

	for _, e := range entries {
		if !e.IsDir() || (skip != nil && skip(e.Name())) {
			continue
		}

		dir := filepath.Join(root, e.Name())

		info, statErr := os.Stat(filepath.Join(dir, DescriptorFile))
		if statErr != nil || info.IsDir() {
			continue
		}

		d, err := ReadDescriptor(dir)
		if err != nil {
			return nil, err
		}

		projects = append(projects, &Project{Dir: e.Name(), Path: dir, Descriptor: d})
	}

	return projects, nil
}

// Dirs returns the directory names of projects.
func Dirs(projects []*Project) []string {
	dirs := make([]string, 0, len(projects))
	for _, p := range projects {
		dirs = append(dirs, p.Dir)
	}

	return dirs
}

// ByName indexes projects by their declared package name. Projects without
// a name are left out.
func ByName(projects []*Project) map[string]*Project {
	index := make(map[string]*Project, len(projects))

	for _, p := range projects {
		if p.Descriptor.Name != "" {
			index[p.Descriptor.Name] = p
		}
	}

	return index
}

// Find returns the project in directory dir.
func Find(projects []*Project, dir string) (*Project, bool) {
	for _, p := range projects {
		if p.Dir == dir {
			return p, true
		}
	}

	return nil, false
}
