package cli

import (
	"github.com/spf13/cobra"
)

func newUpdateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "update",
		Short: "Clone or pull the auto-update repositories and install their dependencies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt := newRuntime(cmd)

			if err := requireTools("git", rt.cfg.PackageManager); err != nil {
				return err
			}

			if err := rt.updater(cmd).Update(cmd.Context()); err != nil {
				return &ExitError{Code: 1, Err: err}
			}

			rt.ui.Success("updated %d repositories", len(rt.cfg.AutoUpdate))

			return nil
		},
	}
}
