package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/board-bound/workspace/internal/project"
	"github.com/board-bound/workspace/internal/version"
)

func newVersionCommand() *cobra.Command {
	var (
		jsonOutput bool
		repos      bool
	)

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long: `Display the version, git commit, build date, Go version, and platform.
With --repos, also list every project of the workspace with its descriptor
version and checked-out branch.`,
		Args:              cobra.NoArgs,
		// The build metadata needs no config; --repos loads it on demand.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.GetInfo()

			if repos {
				if err := cmd.Root().PersistentPreRunE(cmd, args); err != nil {
					return err
				}

				rt := newRuntime(cmd)

				projects, err := project.Scan(rt.cfg.Root, rt.cfg.IsSystemDir)
				if err != nil {
					return &ExitError{Code: 1, Err: err}
				}

				info.Repositories = version.Repositories(projects)
			}

			if jsonOutput {
				j, err := info.JSON()
				if err != nil {
					return err
				}

				_, err = fmt.Fprintln(cmd.OutOrStdout(), j)

				return err
			}

			_, err := fmt.Fprintln(cmd.OutOrStdout(), info.String())

			return err
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output version info as JSON")
	cmd.Flags().BoolVar(&repos, "repos", false, "include the projects of the workspace")

	return cmd
}
