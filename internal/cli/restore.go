package cli

import (
	"github.com/Chrono-byte/flux/pkg/apply"
	"github.com/Chrono-byte/flux/pkg/ui"
	"github.com/spf13/cobra"
)

func newRestoreCmd(g *globalOptions, deps dependencies) *cobra.Command {
	var list bool

	cmd := &cobra.Command{
		Use:   "restore <transaction-id> [destination]",
		Short: "Put back originals a transaction backed up",
		Long: `Restore copies the backups a committed transaction saved before
replacing destinations back into place. Give a destination to restore only
that path. Use --list to see the backups without touching anything.`,
		Args: cobra.RangeArgs(1, 2),
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

			id := args[0]
			if list {
				backups, err := apply.Backups(cmd.Context(), env, id)
				if err != nil {
					return g.fail(cmd, apply.ExitFailed, err)
				}
				return renderer.RenderBackups(ui.Backups{TransactionID: id, Backups: backups})
			}

			var dest string
			if len(args) == 2 {
				dest = args[1]
			}
			restored, err := apply.Restore(cmd.Context(), env, id, dest)
			if err != nil {
				return g.fail(cmd, apply.ExitFailed, err)
			}
			return renderer.RenderBackups(ui.Backups{TransactionID: id, Restored: true, Backups: restored})
		},
	}

	cmd.Flags().BoolVarP(&list, "list", "l", false, "List the transaction's backups instead of restoring them")
	return cmd
}
