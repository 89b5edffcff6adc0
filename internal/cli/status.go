package cli

import (
	"github.com/Chrono-byte/flux/pkg/apply"
	"github.com/spf13/cobra"
)

func newStatusCmd(g *globalOptions, deps dependencies) *cobra.Command {
	var (
		sel      selectionFlags
		exitCode bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show drift between the declaration and the system",
		Long: `Status computes what apply would do right now without taking the
transaction lock or changing anything.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			renderer, err := g.renderer(cmd.OutOrStdout())
			if err != nil {
				return g.fail(cmd, apply.ExitFailed, err)
			}
			env, err := deps.setup(cmd.Context(), apply.SetupOptions{
				ConfigFile:     g.configFile,
				Overrides:      sel.overrides(cmd.Flags()),
				WithoutJournal: true,
			})
			if err != nil {
				return g.fail(cmd, apply.ExitFailed, err)
			}
			defer func() { _ = env.Close() }()

			plan, err := apply.Status(cmd.Context(), env)
			if err != nil {
				return g.fail(cmd, apply.ExitFailed, err)
			}
			if err := renderer.RenderPlan(plan); err != nil {
				return g.fail(cmd, apply.ExitFailed, err)
			}
			if exitCode && !plan.Diff.IsEmpty() {
				return &exitError{code: apply.ExitFailed}
			}
			return nil
		},
	}

	sel.register(cmd.Flags())
	cmd.Flags().BoolVar(&exitCode, "exit-code", false, "Exit with status 1 when the system has drifted")
	return cmd
}

func newHistoryCmd(g *globalOptions, deps dependencies) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded transactions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			renderer, err := g.renderer(cmd.OutOrStdout())
			if err != nil {
				return g.fail(cmd, apply.ExitFailed, err)
			}
			env, err := deps.setup(cmd.Context(), apply.SetupOptions{ConfigFile: g.configFile, JournalOnly: true})
			if err != nil {
				return g.fail(cmd, apply.ExitFailed, err)
			}
			defer func() { _ = env.Close() }()

			entries, err := apply.History(cmd.Context(), env, limit)
			if err != nil {
				return g.fail(cmd, apply.ExitFailed, err)
			}
			return renderer.RenderHistory(entries)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of transactions to show (0 for all)")
	return cmd
}
