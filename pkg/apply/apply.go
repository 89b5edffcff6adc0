// Package apply drives one reconciliation: observe the live system, diff it
// against the declaration, show the plan, and run it as a transaction.
package apply

import (
	"context"
	"fmt"
	"time"

	"github.com/Chrono-byte/flux/pkg/diff"
	"github.com/Chrono-byte/flux/pkg/errors"
	"github.com/Chrono-byte/flux/pkg/journal"
	"github.com/Chrono-byte/flux/pkg/logging"
	"github.com/Chrono-byte/flux/pkg/metrics"
	"github.com/Chrono-byte/flux/pkg/transaction"
	"github.com/Chrono-byte/flux/pkg/types"
	"github.com/Chrono-byte/flux/pkg/ui"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Process exit codes
const (
	// ExitOK covers success, no-op, dry-run and a declined plan
	ExitOK = 0
	// ExitFailed is a validation, configuration, resource or lock failure; nothing changed
	ExitFailed = 1
	// ExitRolledBack means commit failed and the system was restored
	ExitRolledBack = 2
	// ExitRollbackFailed means the system may be inconsistent and needs manual recovery
	ExitRollbackFailed = 3
	// ExitVerification means the commit succeeded but live state disagrees
	ExitVerification = 4
)

// Options are the per-invocation choices of an apply run
type Options struct {
	DryRun      bool
	Description string
	// Confirmer approves the plan; nil applies without asking
	Confirmer ui.Confirmer
	Renderer  *ui.Renderer
	// TransactionID is generated when empty
	TransactionID string
}

// Result is what an apply run did
type Result struct {
	Plan ui.Plan
	// Report is nil when no transaction was started
	Report   *ui.Report
	Declined bool
	ExitCode int
}

// Run computes the plan and, unless this is a dry run or there is nothing
// to do, applies it. The returned error is the one that decided a
// non-zero exit code.
func Run(ctx context.Context, env *Environment, opts Options) (Result, error) {
	txID := opts.TransactionID
	if txID == "" {
		txID = uuid.NewString()
	}
	logger := logging.GetLogger("apply").With().Str("tx_id", txID).Logger()

	plan, err := computePlan(ctx, env, txID)
	if err != nil {
		return Result{ExitCode: ExitFailed}, err
	}
	plan.DryRun = opts.DryRun
	res := Result{Plan: plan}

	structured := opts.Renderer != nil && opts.Renderer.Format().Structured()
	if !structured || opts.DryRun || plan.Diff.IsEmpty() {
		if err := renderPlan(opts.Renderer, plan); err != nil {
			return res, err
		}
	}

	if opts.DryRun {
		logger.Info().Int("operations", plan.Diff.Len()).Msg("Dry run, nothing applied")
		return res, nil
	}
	if plan.Diff.IsEmpty() {
		logger.Info().Msg("System matches the declaration")
		env.Recorder().IncTransaction(metrics.OutcomeNoop)
		flushMetrics(env, logger)
		return res, nil
	}

	if opts.Confirmer != nil {
		ok, err := opts.Confirmer.Confirm(
			fmt.Sprintf("Apply %d %s?", plan.Diff.Len(), pluralOps(plan.Diff.Len())),
			"transaction "+txID)
		if err != nil {
			res.ExitCode = ExitFailed
			return res, err
		}
		if !ok {
			res.Declined = true
			logger.Info().Msg("Plan declined")
			if opts.Renderer != nil {
				_ = opts.Renderer.RenderMessage("Aborted, nothing was changed")
			}
			return res, nil
		}
	}

	return execute(ctx, env, opts, plan, res, logger)
}

// computePlan observes the system and diffs it against the declaration
func computePlan(ctx context.Context, env *Environment, txID string) (ui.Plan, error) {
	actual, err := diff.Observe(ctx, env.Declared, env.Backends)
	if err != nil {
		return ui.Plan{}, err
	}
	backupRoot := ""
	if env.Settings != nil {
		backupRoot = env.Settings.BackupDir
	}
	stateDiff := diff.Compute(env.Declared, actual, diff.Options{
		BackupRoot:    backupRoot,
		TransactionID: txID,
	})

	plan := ui.Plan{
		TransactionID: txID,
		Diff:          stateDiff,
		Previews:      ui.Previews(env.fs(), stateDiff.Files),
	}
	if env.Settings != nil {
		plan.Profile = env.Settings.Profile
	}
	if len(env.Declared.Packages) > 0 && !actual.PackagesAvailable {
		plan.Unavailable = append(plan.Unavailable, types.PhasePackages.String())
	}
	if len(env.Declared.Services) > 0 && !actual.ServicesAvailable {
		plan.Unavailable = append(plan.Unavailable, types.PhaseServices.String())
	}
	return plan, nil
}

func execute(ctx context.Context, env *Environment, opts Options, plan ui.Plan, res Result, logger zerolog.Logger) (Result, error) {
	s := env.Settings
	tx, err := transaction.Begin(ctx, transaction.Options{
		ID:                      plan.TransactionID,
		StagingRoot:             s.StagingDir,
		LockPath:                env.Paths.LockPath(),
		LockWait:                s.LockWait,
		Backends:                env.Backends,
		TolerateMissingBackends: s.TolerateMissingBackends,
		OperationTimeout:        s.OperationTimeout,
		Metadata:                metadata(env, opts.Description),
		Recorder:                env.Recorder(),
		FS:                      env.fs(),
	})
	if err != nil {
		res.ExitCode = ExitFailed
		env.Recorder().IncTransaction(metrics.OutcomeInvalid)
		flushMetrics(env, logger)
		return res, err
	}

	runErr := lifecycle(ctx, tx, plan.Diff.Operations())
	if err := tx.Cleanup(); err != nil {
		logger.Warn().Err(err).Msg("Transaction cleanup incomplete")
	}

	res.ExitCode = exitCode(tx, runErr)
	report := &ui.Report{
		Entry:          journal.EntryFor(tx),
		RollbackFailed: tx.RollbackFailed(),
		ExitCode:       res.ExitCode,
	}
	if tx.RollbackFailed() {
		report.StagingDir = tx.StagingDir()
		report.Backups = tx.Backups()
	}
	res.Report = report

	if env.Journal != nil {
		if err := env.Journal.Record(context.WithoutCancel(ctx), report.Entry); err != nil {
			logger.Warn().Err(err).Msg("Failed to record transaction in the journal")
		}
	}
	flushMetrics(env, logger)

	logger.Info().
		Str("state", tx.State().String()).
		Int("exit_code", res.ExitCode).
		Dur("duration", tx.FinishedAt().Sub(tx.StartedAt())).
		Msg("Apply finished")

	if opts.Renderer != nil {
		if err := opts.Renderer.RenderReport(*report); err != nil {
			logger.Warn().Err(err).Msg("Failed to render report")
		}
	}
	return res, runErr
}

// lifecycle runs a begun transaction from validation to verification
func lifecycle(ctx context.Context, tx *transaction.Transaction, ops []types.Operation) error {
	for _, op := range ops {
		if err := tx.AddOperation(op); err != nil {
			return err
		}
	}
	if err := tx.Validate(ctx); err != nil {
		return err
	}
	if err := tx.Prepare(ctx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	return tx.Verify(ctx)
}

// exitCode maps a finished transaction to the process exit status
func exitCode(tx *transaction.Transaction, err error) int {
	switch {
	case err == nil:
		return ExitOK
	case tx.RollbackFailed():
		return ExitRollbackFailed
	case tx.State() == transaction.RolledBack:
		return ExitRolledBack
	case errors.IsErrorCode(err, errors.ErrVerification):
		return ExitVerification
	default:
		return ExitFailed
	}
}

func metadata(env *Environment, description string) map[string]string {
	meta := map[string]string{
		"description": description,
		"timestamp":   env.now().UTC().Format(time.RFC3339),
		"backend":     env.BackendName,
	}
	if env.Settings != nil {
		meta["profile"] = env.Settings.Profile
	}
	if h := hostname(); h != "" {
		meta["host"] = h
	}
	return meta
}

func renderPlan(r *ui.Renderer, plan ui.Plan) error {
	if r == nil {
		return nil
	}
	return r.RenderPlan(plan)
}

func flushMetrics(env *Environment, logger zerolog.Logger) {
	if err := env.FlushMetrics(); err != nil {
		logger.Warn().Err(err).Msg("Failed to write metrics textfile")
	}
}

func pluralOps(n int) string {
	if n == 1 {
		return "operation"
	}
	return "operations"
}
