package cli

import (
	"github.com/spf13/cobra"

	"github.com/board-bound/workspace/internal/build"
	"github.com/board-bound/workspace/internal/logging"
	"github.com/board-bound/workspace/internal/project"
)

func newCleanCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Delete the bundler cache of every project",
		Long: `Remove the cache directories listed by the cache-dirs setting
(.parcel-cache by default) from every project of the workspace.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt := newRuntime(cmd)

			projects, err := project.Scan(rt.cfg.Root, rt.cfg.IsSystemDir)
			if err != nil {
				return &ExitError{Code: 1, Err: err}
			}

			cleaned, err := build.Clean(projects, rt.cfg.CacheDirs, logging.Component(rt.logger, "clean"))
			for _, dir := range cleaned {
				rt.ui.Info("deleted cache of %s", dir)
			}

			if err != nil {
				return &ExitError{Code: 1, Err: err}
			}

			rt.ui.Success("cleaned %d project(s)", len(cleaned))

			return nil
		},
	}
}
