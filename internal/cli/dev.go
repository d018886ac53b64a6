package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/board-bound/workspace/internal/devmode"
)

func newDevCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dev",
		Short: "Link sibling projects to each other's sources",
		Long: `Dev mode points every local dependency at the sibling's sources instead
of its published package: package aliases and compiler path mappings are
written into each project, and a pre-commit hook refuses commits until dev
mode is disabled again.`,
	}

	cmd.AddCommand(newDevEnableCommand(), newDevDisableCommand(), newDevStatusCommand())

	return cmd
}

func newDevEnableCommand() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "enable",
		Short: "Enable dev mode",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt := newRuntime(cmd)
			linker := rt.linker()

			if dryRun {
				changes, err := linker.PlanEnable()
				if err != nil {
					return &ExitError{Code: 1, Err: err}
				}

				if len(changes) == 0 {
					rt.ui.Info("dev mode is already enabled")
					return nil
				}

				return devmode.PrintDiffs(cmd.OutOrStdout(), rt.cfg.Root, changes)
			}

			if err := linker.Enable(); err != nil {
				return &ExitError{Code: 1, Err: err}
			}

			rt.ui.Success("dev mode enabled")

			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the edits as unified diffs without writing them")

	return cmd
}

func newDevDisableCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "disable",
		Short: "Disable dev mode and restore the published dependencies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt := newRuntime(cmd)

			if err := rt.linker().Disable(); err != nil {
				return &ExitError{Code: 1, Err: err}
			}

			rt.ui.Success("dev mode disabled")

			return nil
		},
	}
}

func newDevStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print whether dev mode is enabled",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), newRuntime(cmd).linker().IsEnabled())
			return err
		},
	}
}
