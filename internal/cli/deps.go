package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/board-bound/workspace/internal/project"
)

func newDepsCommand() *cobra.Command {
	var (
		format string
		check  bool
	)

	cmd := &cobra.Command{
		Use:   "deps",
		Short: "Print the local dependency chain",
		Long: `Scan the workspace and print which projects depend on which siblings.
Only dependencies that resolve to another project of the workspace are shown.
With --check, local dependencies whose declared version range does not match
the sibling's version are reported as warnings.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			switch format {
			case project.FormatTree, project.FormatJSON, project.FormatYAML:
			default:
				return &ExitError{Code: 2, Err: fmt.Errorf("unknown format %q: must be one of tree, json, yaml", format)}
			}

			rt := newRuntime(cmd)

			projects, err := project.Scan(rt.cfg.Root, rt.cfg.IsSystemDir)
			if err != nil {
				return &ExitError{Code: 1, Err: err}
			}

			chain, err := project.Resolve(projects)
			if err != nil {
				return &ExitError{Code: 1, Err: err}
			}

			if err := project.Render(cmd.OutOrStdout(), chain, format); err != nil {
				return err
			}

			if check {
				for _, m := range project.CheckVersions(projects) {
					rt.ui.Warn("%s wants %s %s, local version is %s", m.Dir, m.Dependency, m.Range, m.Local)
				}
			}

			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "o", project.FormatTree, "output format: tree, json, yaml")
	cmd.Flags().BoolVar(&check, "check", false, "report local version range mismatches")

	return cmd
}
