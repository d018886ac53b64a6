package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/board-bound/workspace/internal/build"
	"github.com/board-bound/workspace/internal/project"
)

func newBuildCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "build [dir...]",
		Short: "Build projects once in dependency order",
		Long: `Build the given project directories, or every project of the workspace,
once. Core projects are built first, the SDK before the server.`,
		ValidArgsFunction: completeProjects,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt := newRuntime(cmd)

			projects, err := project.Scan(rt.cfg.Root, rt.cfg.IsSystemDir)
			if err != nil {
				return &ExitError{Code: 1, Err: err}
			}

			dirs := args
			if len(dirs) == 0 {
				dirs = project.Dirs(projects)
			}

			for _, dir := range dirs {
				if _, ok := project.Find(projects, dir); !ok {
					return &ExitError{Code: 2, Err: fmt.Errorf("%s is not a project of %s", dir, rt.cfg.Root)}
				}
			}

			if err := requireTools(rt.cfg.PackageManager); err != nil {
				return err
			}

			b := rt.builder(cmd)
			b.BuildInOrder(cmd.Context(), dirs)

			var failed []string

			for _, dir := range build.Order(dirs) {
				if b.Err(dir) != nil {
					failed = append(failed, dir)
				}
			}

			if len(failed) > 0 {
				return &ExitError{Code: 1, Err: fmt.Errorf("build failed: %s", strings.Join(failed, ", "))}
			}

			rt.ui.Success("built %d project(s)", len(dirs))

			return nil
		},
	}
}
