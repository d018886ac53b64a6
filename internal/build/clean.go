package build

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/board-bound/workspace/internal/project"
)

// Clean removes the bundler cache directories named by cacheDirs from every
// project and returns the directories of the projects that had one. A
// failure for one project does not stop the others; all failures are joined
// into the returned error.
func Clean(projects []*project.Project, cacheDirs []string, logger *slog.Logger) ([]string, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		cleaned []string
		errs    []error
	)

	for _, p := range projects {
		found := false

		for _, name := range cacheDirs {
			dir := filepath.Join(p.Path, name)

			if _, err := os.Lstat(dir); err != nil {
				if !errors.Is(err, os.ErrNotExist) {
					errs = append(errs, fmt.Errorf("%s: %w", p.Dir, err))
				}

				continue
			}

			logger.Info("deleting cache", "dir", p.Dir, "cache", name)

			if err := os.RemoveAll(dir); err != nil {
				errs = append(errs, fmt.Errorf("deleting %s cache of %s: %w", name, p.Dir, err))

				continue
			}

			found = true
		}

		if found {
			cleaned = append(cleaned, p.Dir)
		}
	}

	return cleaned, errors.Join(errs...)
}
