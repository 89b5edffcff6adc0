package cli

import (
	"time"

	"github.com/Chrono-byte/flux/pkg/apply"
	"github.com/Chrono-byte/flux/pkg/logging"
	"github.com/Chrono-byte/flux/pkg/ui"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// selectionFlags choose what is reconciled and through which backends.
// They are applied as settings overrides only when given.
type selectionFlags struct {
	profile         string
	backend         string
	tool            string
	sudo            bool
	tolerateMissing bool
}

func (s *selectionFlags) register(fs *pflag.FlagSet) {
	fs.StringVarP(&s.profile, "profile", "p", "", "Profile whose files are included")
	fs.StringVar(&s.backend, "backend", "", "Package backend: auto, direct or broker")
	fs.StringVar(&s.tool, "tool", "", "Package tool for the direct backend: dnf or brew")
	fs.BoolVar(&s.sudo, "sudo", false, "Run package and system-scope service commands through sudo")
	fs.BoolVar(&s.tolerateMissing, "tolerate-missing", false, "Skip operations whose backend is unavailable instead of failing")
}

func (s *selectionFlags) overrides(fs *pflag.FlagSet) map[string]interface{} {
	out := map[string]interface{}{}
	if fs.Changed("profile") {
		out["profile"] = s.profile
	}
	if fs.Changed("backend") {
		out["package_backend"] = s.backend
	}
	if fs.Changed("tool") {
		out["package_tool"] = s.tool
	}
	if fs.Changed("sudo") {
		out["use_sudo"] = s.sudo
	}
	if fs.Changed("tolerate-missing") {
		out["tolerate_missing_backends"] = s.tolerateMissing
	}
	return out
}

func newApplyCmd(g *globalOptions, deps dependencies) *cobra.Command {
	var (
		sel         selectionFlags
		dryRun      bool
		yes         bool
		description string
		lockWait    time.Duration
		noJournal   bool
	)

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Converge the system to the declared state",
		Long: `Apply observes the live system, computes the operations needed to match
flux.toml and runs them as one transaction: packages first, then files, then
services. If any operation fails, everything already done is rolled back.

Exit status: 0 success or nothing to do, 1 nothing changed because of an
error, 2 a failed commit was rolled back, 3 rollback itself failed and manual
recovery is needed, 4 applied but verification found mismatches.`,
		Example: `  # Preview the plan
  flux apply --dry-run

  # Apply without prompting, recording why
  flux apply --yes -m "new laptop"

  # Use the work profile and the PackageKit broker
  flux apply --profile work --backend broker`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.GetLogger("cli.apply")
			renderer, err := g.renderer(cmd.OutOrStdout())
			if err != nil {
				return g.fail(cmd, apply.ExitFailed, err)
			}

			overrides := sel.overrides(cmd.Flags())
			if cmd.Flags().Changed("lock-wait") {
				overrides["lock_wait"] = lockWait.String()
			}
			if noJournal {
				overrides["journal"] = false
			}

			env, err := deps.setup(cmd.Context(), apply.SetupOptions{
				ConfigFile: g.configFile,
				Overrides:  overrides,
			})
			if err != nil {
				return g.fail(cmd, apply.ExitFailed, err)
			}
			defer func() {
				if err := env.Close(); err != nil {
					logger.Warn().Err(err).Msg("Failed to release resources")
				}
			}()

			var confirmer ui.Confirmer
			if !yes && !dryRun {
				confirmer = deps.confirmer()
			}

			res, err := apply.Run(cmd.Context(), env, apply.Options{
				DryRun:      dryRun,
				Description: description,
				Confirmer:   confirmer,
				Renderer:    renderer,
			})
			if err == nil && res.ExitCode == apply.ExitOK {
				return nil
			}
			code := res.ExitCode
			if code == apply.ExitOK {
				code = apply.ExitFailed
			}
			if res.Report != nil {
				// the report already shows what went wrong
				return &exitError{code: code, err: err}
			}
			return g.fail(cmd, code, err)
		},
	}

	sel.register(cmd.Flags())
	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "Print the plan without changing anything")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Apply without asking for confirmation")
	cmd.Flags().StringVarP(&description, "description", "m", "", "Note stored with the transaction")
	cmd.Flags().DurationVar(&lockWait, "lock-wait", 0, "How long to wait for another running transaction")
	cmd.Flags().BoolVar(&noJournal, "no-journal", false, "Do not record the transaction in the journal")

	return cmd
}
