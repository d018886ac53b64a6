package project

import (
	"fmt"
	"slices"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// CycleError reports a project that appears among its own transitive local
// dependencies. Path starts and ends with the repeated package name.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Path, " -> "))
}

// Node is one level of a project's local dependency tree.
type Node struct {
	// Name is the declared package name.
	Name string
	// Dir is the workspace directory holding the package.
	Dir  string
	Deps []*Node
}

// Chain maps every scanned project to its transitive local dependency tree.
// Roots keep scan order and children keep declaration order.
type Chain struct {
	Roots []*Node
}

// Resolve computes the dependency chain of projects. Only dependencies whose
// name matches another scanned project are followed. Diamond shapes are
// fine; a path that revisits one of its ancestors yields a *CycleError and no
// chain at all.
func Resolve(projects []*Project) (*Chain, error) {
	byName := ByName(projects)
	chain := &Chain{Roots: make([]*Node, 0, len(projects))}

	for _, p := range projects {
		root := &Node{Name: p.Descriptor.Name, Dir: p.Dir}

		// An unnamed project cannot be depended upon, so it cannot be part
		// of a cycle either; its own dependencies still resolve.
		var ancestors []string
		if root.Name != "" {
			ancestors = []string{root.Name}
		}

		deps, err := resolveDeps(p, byName, ancestors)
		if err != nil {
			return nil, err
		}

		root.Deps = deps
		chain.Roots = append(chain.Roots, root)
	}

	return chain, nil
}

// resolveDeps walks the local dependencies of p. ancestors is treated as
// immutable: each branch receives its own extended copy, so siblings never
// see each other's visits.
func resolveDeps(p *Project, byName map[string]*Project, ancestors []string) ([]*Node, error) {
	var nodes []*Node

	for _, dep := range p.Descriptor.Dependencies {
		local, ok := byName[dep.Name]
		if !ok {
			continue
		}

		path := append(slices.Clip(ancestors), dep.Name)

		if slices.Contains(ancestors, dep.Name) {
			return nil, &CycleError{Path: path}
		}

		children, err := resolveDeps(local, byName, path)
		if err != nil {
			return nil, err
		}

		nodes = append(nodes, &Node{Name: dep.Name, Dir: local.Dir, Deps: children})
	}

	return nodes, nil
}

// Get returns the tree rooted at the project in dir.
func (c *Chain) Get(dir string) (*Node, bool) {
	for _, r := range c.Roots {
		if r.Dir == dir {
			return r, true
		}
	}

	return nil, false
}

// Flatten returns every transitive dependency of n once, depth first.
func (n *Node) Flatten() []*Node {
	seen := make(map[string]bool)

	var out []*Node

	var walk func(nodes []*Node)
	walk = func(nodes []*Node) {
		for _, d := range nodes {
			if seen[d.Name] {
				continue
			}

			seen[d.Name] = true
			out = append(out, d)
			walk(d.Deps)
		}
	}

	walk(n.Deps)

	return out
}

// Map renders the chain as nested ordered maps keyed by directory at the top
// level and by package name below, ready for JSON or YAML encoding.
func (c *Chain) Map() *orderedmap.OrderedMap[string, any] {
	out := orderedmap.New[string, any]()
	for _, r := range c.Roots {
		out.Set(r.Dir, nodesMap(r.Deps))
	}

	return out
}

func nodesMap(nodes []*Node) *orderedmap.OrderedMap[string, any] {
	out := orderedmap.New[string, any]()
	for _, n := range nodes {
		out.Set(n.Name, nodesMap(n.Deps))
	}

	return out
}
