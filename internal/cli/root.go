// Package cli implements the cobra command tree for bbdev.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/board-bound/workspace/internal/config"
	"github.com/board-bound/workspace/internal/logging"
	"github.com/board-bound/workspace/internal/workspace"
)

// ExitError wraps an error with a specific process exit code.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}

	return fmt.Sprintf("exit code %d", e.Code)
}

func (e *ExitError) Unwrap() error { return e.Err }

// Execute builds the command tree, runs it, and returns the exit code.
func Execute() int {
	cmd := NewRootCommand()

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "Error:", err)

		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			return exitErr.Code
		}

		return 1
	}

	return 0
}

// NewRootCommand constructs the top-level cobra.Command with all
// subcommands attached.
func NewRootCommand() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "bbdev",
		Short: "Develop the board-bound server, SDK and plugins side by side",
		Long: `bbdev keeps a workspace of sibling board-bound repositories running.

Started without a subcommand it updates the core repositories, builds the
SDK, the server and every plugin in dependency order, starts the server with
all plugins loaded and rebuilds whatever changes on disk.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd, cfgFile)
			if err != nil {
				return &ExitError{Code: 2, Err: err}
			}

			logger := logging.Setup(cfg)

			ctx := cmd.Context()
			ctx = config.NewContext(ctx, cfg)
			ctx = logging.NewContext(ctx, logger)
			cmd.SetContext(ctx)

			logger.Debug("configuration loaded",
				slog.String("logLevel", cfg.LogLevel),
				slog.String("logFormat", cfg.LogFormat),
				slog.String("root", cfg.Root),
				slog.String("configFile", cfg.ConfigFile),
			)

			return nil
		},
		RunE: runWorkspace,
	}

	// Global persistent flags.
	pf := cmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default: .bbdev.yaml in the workspace root)")
	pf.String("root", ".", "workspace root holding the sibling repositories")
	pf.String("log-level", "info", "log level: debug, info, warn, error")
	pf.String("log-format", "text", "log format: text, json")
	pf.Bool("no-color", false, "disable colored output")
	pf.BoolP("quiet", "q", false, "suppress non-essential output")

	defaults := config.DefaultWorkspace()

	f := cmd.Flags()
	f.Int("port", defaults.Port, "port the server listens on")
	f.Duration("debounce", defaults.Debounce, "quiet period applied to file events")

	// Flag parsing errors return exit code 2.
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &ExitError{Code: 2, Err: err}
	})

	cmd.AddCommand(
		newVersionCommand(),
		newDevCommand(),
		newDepsCommand(),
		newBuildCommand(),
		newUpdateCommand(),
		newCleanCommand(),
		newCompletionCommand(),
	)

	return cmd
}

// runWorkspace is the long-running mode: setup, watch, and serve until
// interrupted or until a watcher-triggered setup fails fatally.
func runWorkspace(cmd *cobra.Command, _ []string) error {
	base, fail := context.WithCancelCause(cmd.Context())
	defer fail(nil)

	ctx, stop := signal.NotifyContext(base, os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt := newRuntime(cmd)
	ws := rt.workspace(cmd, fail)

	rt.ui.Info("starting workspace in %s", rt.cfg.Root)

	if err := ws.Setup(ctx); err != nil {
		if workspace.IsFatal(err) {
			ws.Shutdown()
			return &ExitError{Code: 1, Err: err}
		}

		if ctx.Err() == nil {
			rt.logger.Error("initial setup failed", slog.String("error", err.Error()))
			rt.ui.Fail("setup failed: %v (waiting for changes)", err)
		}
	}

	if err := ws.SetupWatchers(ctx); err != nil {
		ws.Shutdown()
		return &ExitError{Code: 1, Err: err}
	}

	<-ctx.Done()

	rt.ui.Info("shutting down")
	ws.Shutdown()

	if cause := context.Cause(base); cause != nil && !errors.Is(cause, context.Canceled) {
		return &ExitError{Code: 1, Err: cause}
	}

	return nil
}
