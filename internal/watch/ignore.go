package watch

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	gitignore "github.com/monochromegane/go-gitignore"
)

// IgnoreFile is the per-directory file whose patterns extend the defaults.
const IgnoreFile = ".gitignore"

// DefaultIgnores are excluded from every project watcher: dependency
// caches, version-control internals, build output and package descriptors
// (which the builder rewrites itself).
var DefaultIgnores = []string{
	"node_modules/",
	".git/",
	"dist/",
	"package.json",
	"package-lock.json",
	"bun.lock",
	"bun.lockb",
	"yarn.lock",
	"pnpm-lock.yaml",
}

// Ignore decides which paths below one project directory are not worth a
// rebuild. Patterns are anchored to that directory.
type Ignore struct {
	dir     string
	matcher gitignore.IgnoreMatcher
}

// LoadIgnore compiles DefaultIgnores plus the patterns of dir's ignore file,
// if it has one.
func LoadIgnore(dir string) (*Ignore, error) {
	var patterns bytes.Buffer

	patterns.WriteString(strings.Join(DefaultIgnores, "\n"))
	patterns.WriteByte('\n')

	data, err := os.ReadFile(filepath.Join(dir, IgnoreFile))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("reading ignore file: %w", err)
	}

	patterns.Write(data)

	return &Ignore{
		dir:     dir,
		matcher: gitignore.NewGitIgnoreFromReader(dir, &patterns),
	}, nil
}

// Match reports whether path is ignored. Every directory between the
// project directory and path is checked, so files inside an ignored
// directory are ignored too. Paths outside the directory never match.
func (i *Ignore) Match(path string, isDir bool) bool {
	rel, err := filepath.Rel(i.dir, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return false
	}

	segments := strings.Split(rel, string(filepath.Separator))
	current := i.dir

	for _, seg := range segments[:len(segments)-1] {
		current = filepath.Join(current, seg)
		if i.matcher.Match(current, true) {
			return true
		}
	}

	return i.matcher.Match(path, isDir)
}
