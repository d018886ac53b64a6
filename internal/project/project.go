// Package project discovers the sibling repositories of a workspace and
// resolves which of them depend on each other.
package project

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/buger/jsonparser"
)

// DescriptorFile is the package descriptor looked up in every directory.
const DescriptorFile = "package.json"

// TypeMappingFile is the type checker configuration next to the descriptor.
const TypeMappingFile = "tsconfig.json"

// Dependency is a single entry of a descriptor's dependency maps.
type Dependency struct {
	Name  string
	Range string
	Dev   bool
}

// Descriptor is the subset of package metadata the workspace relies on.
type Descriptor struct {
	Name    string
	Version string

	// Dependencies merges dependencies and devDependencies in declaration
	// order. A name declared in both keeps its first position and takes the
	// devDependencies range.
	Dependencies []Dependency
}

// Project is a workspace directory that carries a package descriptor.
type Project struct {
	// Dir is the directory name relative to the workspace root.
	Dir string
	// Path is the absolute directory path.
	Path       string
	Descriptor *Descriptor
}

// DescriptorPath returns the path of the project's package descriptor.
func (p *Project) DescriptorPath() string {
	return filepath.Join(p.Path, DescriptorFile)
}

// TypeMappingPath returns the path of the project's type mapping file.
func (p *Project) TypeMappingPath() string {
	return filepath.Join(p.Path, TypeMappingFile)
}

// ParseDescriptor decodes a package descriptor.
func ParseDescriptor(data []byte) (*Descriptor, error) {
	if !json.Valid(data) {
		return nil, errors.New("invalid JSON")
	}

	d := &Descriptor{}

	var err error

	if d.Name, err = optionalString(data, "name"); err != nil {
		return nil, err
	}

	if d.Version, err = optionalString(data, "version"); err != nil {
		return nil, err
	}

	index := make(map[string]int)

	for _, section := range []string{"dependencies", "devDependencies"} {
		dev := section == "devDependencies"

		err := jsonparser.ObjectEach(data, func(key, value []byte, _ jsonparser.ValueType, _ int) error {
			name := string(key)
			dep := Dependency{Name: name, Range: string(value), Dev: dev}

			if i, ok := index[name]; ok {
				d.Dependencies[i] = dep
				return nil
			}

			index[name] = len(d.Dependencies)
			d.Dependencies = append(d.Dependencies, dep)

			return nil
		}, section)
		if err != nil && !errors.Is(err, jsonparser.KeyPathNotFoundError) {
			return nil, fmt.Errorf("reading %s: %w", section, err)
		}
	}

	return d, nil
}

// ReadDescriptor parses the descriptor stored in dir.
func ReadDescriptor(dir string) (*Descriptor, error) {
	path := filepath.Join(dir, DescriptorFile)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	d, err := ParseDescriptor(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	return d, nil
}

// DependsOn reports whether the descriptor declares name.
func (d *Descriptor) DependsOn(name string) bool {
	for _, dep := range d.Dependencies {
		if dep.Name == name {
			return true
		}
	}

	return false
}

func optionalString(data []byte, key string) (string, error) {
	s, err := jsonparser.GetString(data, key)
	if errors.Is(err, jsonparser.KeyPathNotFoundError) {
		return "", nil
	}

	if err != nil {
		return "", fmt.Errorf("reading %q: %w", key, err)
	}

	return s, nil
}
