package apply

import (
	"context"

	"github.com/Chrono-byte/flux/pkg/errors"
	"github.com/Chrono-byte/flux/pkg/journal"
	"github.com/Chrono-byte/flux/pkg/logging"
	"github.com/Chrono-byte/flux/pkg/ui"
)

// Status reports drift between the declaration and the live system. It
// takes no lock and changes nothing.
func Status(ctx context.Context, env *Environment) (ui.Plan, error) {
	logger := logging.GetLogger("apply.status")
	plan, err := computePlan(ctx, env, "")
	if err != nil {
		return ui.Plan{}, err
	}
	// Backup paths are only meaningful once a transaction id exists
	for i := range plan.Diff.Files {
		plan.Diff.Files[i].BackupPath = ""
	}
	logger.Debug().Int("drift", plan.Diff.Len()).Msg("Status computed")
	return plan, nil
}

// History lists recorded transactions, newest first
func History(ctx context.Context, env *Environment, limit int) ([]journal.Entry, error) {
	if env.Journal == nil {
		return nil, errors.New(errors.ErrInvalidInput, "the transaction journal is disabled")
	}
	return env.Journal.List(ctx, limit)
}
