package cli

import (
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/board-bound/workspace/internal/config"
	"github.com/board-bound/workspace/internal/project"
)

func newCompletionCommand() *cobra.Command {
	var noDescriptions bool

	cmd := &cobra.Command{
		Use:   "completion <shell>",
		Short: "Generate shell completion scripts",
		Long: `Generate shell completion scripts for bbdev.

To load completions:

Bash:
  $ source <(bbdev completion bash)

  # To load completions for each session, execute once:
  # Linux:
  $ bbdev completion bash > /etc/bash_completion.d/bbdev

Zsh:
  # If shell completion is not already enabled in your environment,
  # you will need to enable it. Execute once:
  $ echo "autoload -U compinit; compinit" >> ~/.zshrc

  # To load completions for each session, execute once:
  $ bbdev completion zsh > "${fpath[1]}/_bbdev"

Fish:
  $ bbdev completion fish > ~/.config/fish/completions/bbdev.fish

PowerShell:
  PS> bbdev completion powershell | Out-String | Invoke-Expression

  # To load completions for every new session, run:
  PS> bbdev completion powershell > bbdev.ps1
  # and source this file from your PowerShell profile.

Arguments of "bbdev build" complete to the project directories of the
workspace selected by --root, described by their package names.
`,
		// Completion needs no config.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Args:              cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs:         []string{"bash", "zsh", "fish", "powershell"},
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()

			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletionV2(w, !noDescriptions)
			case "zsh":
				if noDescriptions {
					return cmd.Root().GenZshCompletionNoDesc(w)
				}

				return cmd.Root().GenZshCompletion(w)
			case "fish":
				return cmd.Root().GenFishCompletion(w, !noDescriptions)
			case "powershell":
				if noDescriptions {
					return cmd.Root().GenPowerShellCompletion(w)
				}

				return cmd.Root().GenPowerShellCompletionWithDesc(w)
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&noDescriptions, "no-descriptions", false, "omit package names from project completions")

	return cmd
}

// completeProjects offers the project directories not yet named in args.
func completeProjects(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	cfgFile, _ := cmd.Root().PersistentFlags().GetString("config")

	cfg, err := config.Load(cmd, cfgFile)
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}

	projects, err := project.Scan(cfg.Root, cfg.IsSystemDir)
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}

	var out []string

	for _, p := range projects {
		if slices.Contains(args, p.Dir) || !strings.HasPrefix(p.Dir, toComplete) {
			continue
		}

		out = append(out, p.Dir+"\t"+p.Descriptor.Name)
	}

	return out, cobra.ShellCompDirectiveNoFileComp
}
