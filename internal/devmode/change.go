package devmode

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// Change is a pending rewrite of one file. A nil Before means the file does
// not exist yet; a nil After means it is removed.
type Change struct {
	Path   string
	Before []byte
	After  []byte
	Mode   fs.FileMode
}

// Apply writes or removes the file.
func (c Change) Apply() error {
	if c.After == nil {
		if err := os.Remove(c.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("removing %s: %w", c.Path, err)
		}

		return nil
	}

	if err := os.MkdirAll(filepath.Dir(c.Path), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(c.Path), err)
	}

	if err := os.WriteFile(c.Path, c.After, c.Mode); err != nil {
		return fmt.Errorf("writing %s: %w", c.Path, err)
	}

	// WriteFile leaves the mode of an existing file untouched.
	return os.Chmod(c.Path, c.Mode)
}

// Diff renders the change as a unified diff with paths relative to root.
func (c Change) Diff(root string) (string, error) {
	name := c.Path
	if rel, err := filepath.Rel(root, c.Path); err == nil {
		name = filepath.ToSlash(rel)
	}

	from, to := "a/"+name, "b/"+name
	if c.Before == nil {
		from = "/dev/null"
	}

	if c.After == nil {
		to = "/dev/null"
	}

	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(c.Before)),
		B:        difflib.SplitLines(string(c.After)),
		FromFile: from,
		ToFile:   to,
		Context:  3,
	})
	if err != nil {
		return "", fmt.Errorf("diffing %s: %w", name, err)
	}

	return diff, nil
}

// PrintDiffs writes the diff of every change to w.
func PrintDiffs(w io.Writer, root string, changes []Change) error {
	for _, c := range changes {
		diff, err := c.Diff(root)
		if err != nil {
			return err
		}

		if !strings.HasSuffix(diff, "\n") {
			diff += "\n"
		}

		if _, err := io.WriteString(w, diff); err != nil {
			return err
		}
	}

	return nil
}

// ApplyAll applies changes in order and stops at the first failure.
func ApplyAll(changes []Change) error {
	for _, c := range changes {
		if err := c.Apply(); err != nil {
			return err
		}
	}

	return nil
}

// fileMode returns the permission bits of path, or def when it is missing.
func fileMode(path string, def fs.FileMode) fs.FileMode {
	if info, err := os.Stat(path); err == nil {
		return info.Mode().Perm()
	}

	return def
}
