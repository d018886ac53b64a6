package workspace

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/board-bound/workspace/internal/build"
	"github.com/board-bound/workspace/internal/ui"
)

// maxParallelUpdates bounds concurrent git operations.
const maxParallelUpdates = 4

// DevMode switches source linking off and on around an update.
type DevMode interface {
	IsEnabled() bool
	Enable() error
	Disable() error
}

// Updater clones missing repositories and fast-forwards existing ones,
// then installs their dependencies.
type Updater struct {
	Root           string
	Repos          []string
	GitBase        string
	PackageManager string
	Runner         build.Runner
	// DevMode, when set and enabled, is disabled for the duration of the
	// update so that pulls see the descriptors as committed.
	DevMode DevMode
	Logger  *slog.Logger
	UI      *ui.Printer
}

// Update refreshes every repository in parallel. Failures are logged per
// repository and never abort the others; only cancellation is returned.
func (u *Updater) Update(ctx context.Context) error {
	logger := u.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if u.DevMode != nil && u.DevMode.IsEnabled() {
		if err := u.DevMode.Disable(); err != nil {
			logger.Warn("disabling dev mode before update failed", slog.String("error", err.Error()))
			u.UI.Warn("updating with dev mode enabled: %v", err)
		} else {
			u.UI.Info("dev mode disabled for the update")
			defer u.relink(logger)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelUpdates)

	for _, repo := range u.Repos {
		g.Go(func() error {
			if err := u.updateRepo(gctx, repo); err != nil {
				logger.Warn("repository update failed", slog.String("repo", repo), slog.String("error", err.Error()))
				u.UI.Warn("could not update %s: %v", repo, err)
			}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	return ctx.Err()
}

func (u *Updater) relink(logger *slog.Logger) {
	if err := u.DevMode.Enable(); err != nil {
		logger.Error("re-enabling dev mode failed", slog.String("error", err.Error()))
		u.UI.Fail("could not re-enable dev mode: %v", err)

		return
	}

	u.UI.Info("dev mode re-enabled")
}

func (u *Updater) updateRepo(ctx context.Context, repo string) error {
	dir := filepath.Join(u.Root, repo)

	_, err := os.Stat(dir)

	switch {
	case errors.Is(err, fs.ErrNotExist):
		u.UI.Info("cloning %s", repo)

		if err := u.Runner.Run(ctx, u.Root, "git", "clone", u.CloneURL(repo), repo); err != nil {
			return fmt.Errorf("cloning: %w", err)
		}
	case err != nil:
		return err
	default:
		u.UI.Info("pulling %s", repo)

		// A diverged or dirty checkout keeps its state; dependencies are
		// still installed.
		if err := u.Runner.Run(ctx, dir, "git", "pull", "--ff-only"); err != nil {
			u.UI.Warn("git pull in %s failed, keeping local state: %v", repo, err)
		}
	}

	if err := u.Runner.Run(ctx, dir, u.PackageManager, "install"); err != nil {
		return fmt.Errorf("installing dependencies: %w", err)
	}

	return nil
}

// CloneURL returns the remote of repo below GitBase.
func (u *Updater) CloneURL(repo string) string {
	return strings.TrimRight(u.GitBase, "/") + "/" + repo + ".git"
}
