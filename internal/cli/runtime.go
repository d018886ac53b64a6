package cli

import (
	"fmt"
	"log/slog"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/board-bound/workspace/internal/build"
	"github.com/board-bound/workspace/internal/config"
	"github.com/board-bound/workspace/internal/devmode"
	"github.com/board-bound/workspace/internal/logging"
	"github.com/board-bound/workspace/internal/server"
	"github.com/board-bound/workspace/internal/ui"
	"github.com/board-bound/workspace/internal/workspace"
)

// runtime wires the workspace components from the loaded configuration.
type runtime struct {
	cfg    *config.Config
	logger *slog.Logger
	ui     *ui.Printer
}

func newRuntime(cmd *cobra.Command) *runtime {
	ctx := cmd.Context()
	cfg := config.FromContext(ctx)

	printer := ui.New(cmd.ErrOrStderr(), cfg.NoColor)
	if cfg.Quiet {
		printer = ui.Discard()
	}

	return &runtime{cfg: cfg, logger: logging.FromContext(ctx), ui: printer}
}

func (r *runtime) runner(cmd *cobra.Command) build.Runner {
	return build.ExecRunner{Stdout: cmd.OutOrStdout(), Stderr: cmd.ErrOrStderr()}
}

func (r *runtime) linker() *devmode.Linker {
	return devmode.New(r.cfg.Root, r.cfg.IsSystemDir, logging.Component(r.logger, "devmode"))
}

func (r *runtime) builder(cmd *cobra.Command) *build.Builder {
	return build.New(build.Options{
		Root:           r.cfg.Root,
		PackageManager: r.cfg.PackageManager,
		Script:         r.cfg.BuildScript,
		Artifact:       r.cfg.PluginArtifact,
		Runner:         r.runner(cmd),
		Logger:         logging.Component(r.logger, "build"),
		UI:             r.ui,
	})
}

func (r *runtime) updater(cmd *cobra.Command) *workspace.Updater {
	return &workspace.Updater{
		Root:           r.cfg.Root,
		Repos:          r.cfg.AutoUpdate,
		GitBase:        r.cfg.GitBase,
		PackageManager: r.cfg.PackageManager,
		Runner:         r.runner(cmd),
		DevMode:        r.linker(),
		Logger:         logging.Component(r.logger, "update"),
		UI:             r.ui,
	}
}

func (r *runtime) server(cmd *cobra.Command) *server.Server {
	linker := r.linker()

	return server.New(server.Options{
		Root:           r.cfg.Root,
		Command:        r.cfg.ServerCommand,
		Args:           []string{r.cfg.ServerEntry},
		PluginArtifact: r.cfg.PluginArtifact,
		IsSystemDir:    r.cfg.IsSystemDir,
		Port:           r.cfg.Port,
		LogLevel:       r.cfg.ServerLogLevel,
		Colorize:       linker.IsEnabled,
		GracePeriod:    r.cfg.GracePeriod,
		Stdout:         cmd.OutOrStdout(),
		Stderr:         cmd.ErrOrStderr(),
		Logger:         logging.Component(r.logger, "server"),
		UI:             r.ui,
	})
}

func (r *runtime) workspace(cmd *cobra.Command, onFatal func(error)) *workspace.Workspace {
	return workspace.New(workspace.Options{
		Settings: r.cfg.Workspace,
		Builder:  r.builder(cmd),
		Server:   r.server(cmd),
		Updater:  r.updater(cmd),
		OnFatal:  onFatal,
		Logger:   logging.Component(r.logger, "workspace"),
		UI:       r.ui,
	})
}

// requireTools fails with exit code 1 when a binary is missing from PATH.
func requireTools(tools ...string) error {
	for _, tool := range tools {
		if _, err := exec.LookPath(tool); err != nil {
			return &ExitError{Code: 1, Err: fmt.Errorf("%w: %s", workspace.ErrMissingTool, tool)}
		}
	}

	return nil
}
