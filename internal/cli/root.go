package cli

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"

	"github.com/Chrono-byte/flux/internal/version"
	"github.com/Chrono-byte/flux/pkg/apply"
	"github.com/Chrono-byte/flux/pkg/logging"
	"github.com/Chrono-byte/flux/pkg/ui"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// dependencies are the seams between the command tree and the system
type dependencies struct {
	setup     func(ctx context.Context, opts apply.SetupOptions) (*apply.Environment, error)
	confirmer func() ui.Confirmer
}

func defaultDependencies() dependencies {
	return dependencies{
		setup:     apply.Setup,
		confirmer: func() ui.Confirmer { return ui.NewHuhConfirmer() },
	}
}

type globalOptions struct {
	verbosity  int
	configFile string
	format     string
}

// renderer builds a renderer for w in the requested output format
func (g *globalOptions) renderer(w io.Writer) (*ui.Renderer, error) {
	format, err := ui.ParseFormat(g.format)
	if err != nil {
		return nil, err
	}
	return ui.NewRenderer(format, w), nil
}

// exitError carries a process exit code through cobra
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// fail renders err on stderr and returns it wrapped with code
func (g *globalOptions) fail(cmd *cobra.Command, code int, err error) error {
	r, rerr := g.renderer(cmd.ErrOrStderr())
	if rerr != nil {
		r = ui.NewRenderer(ui.FormatText, cmd.ErrOrStderr())
	}
	_ = r.RenderError(err)
	return &exitError{code: code, err: err}
}

// NewRootCmd creates and returns the root command
func NewRootCmd() *cobra.Command {
	return newRootCmd(defaultDependencies())
}

func newRootCmd(deps dependencies) *cobra.Command {
	g := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "flux",
		Short: "A declarative system-state reconciler",
		Long: `flux reads the packages, services and dotfiles declared in your repository,
compares them with the live system and applies the difference as one
transaction that is rolled back if any step fails.`,
		Version: version.Version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.SetupLogger(g.verbosity)
			log.Debug().Str("command", cmd.Name()).Msg("Command started")
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		DisableAutoGenTag: true,
	}

	rootCmd.PersistentFlags().CountVarP(&g.verbosity, "verbose", "v", "Increase verbosity (-v INFO, -vv DEBUG, -vvv TRACE)")
	rootCmd.PersistentFlags().StringVar(&g.configFile, "config", "", "Settings file (default $XDG_CONFIG_HOME/flux/config.toml)")
	rootCmd.PersistentFlags().StringVarP(&g.format, "format", "f", "auto", "Output format: auto, term, text, json or yaml")

	rootCmd.AddCommand(newApplyCmd(g, deps))
	rootCmd.AddCommand(newStatusCmd(g, deps))
	rootCmd.AddCommand(newHistoryCmd(g, deps))
	rootCmd.AddCommand(newRestoreCmd(g, deps))
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newManCmd())
	rootCmd.AddCommand(newCompletionCmd())

	return rootCmd
}

// Execute runs the command line and returns the process exit code
func Execute(ctx context.Context, args []string) int {
	return run(ctx, NewRootCmd(), args)
}

func run(ctx context.Context, root *cobra.Command, args []string) int {
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return apply.ExitOK
	}

	var ee *exitError
	if stderrors.As(err, &ee) {
		return ee.code
	}
	// Flag and argument errors from cobra itself
	fmt.Fprintf(root.ErrOrStderr(), "Error: %v\n", err)
	return apply.ExitFailed
}
