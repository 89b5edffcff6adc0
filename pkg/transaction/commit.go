package transaction

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/Chrono-byte/flux/pkg/errors"
	"github.com/Chrono-byte/flux/pkg/metrics"
	"github.com/Chrono-byte/flux/pkg/types"
)

// Commit runs the operations in order, one at a time. The first failure,
// including a timeout, stops execution; every operation that already
// succeeded is undone in reverse order and the transaction ends in
// RolledBack. The returned error wraps the failing operation's error and,
// when rollback itself failed, a rollback error carrying the staging
// directory and backup paths.
func (tx *Transaction) Commit(ctx context.Context) error {
	if err := tx.allow("commit", Committed); err != nil {
		return err
	}
	tx.logger.Info().Int("operations", len(tx.operations)).Msg("Committing transaction")

	for i, op := range tx.operations {
		result := types.OperationResult{Operation: op, StartedAt: time.Now()}

		rb, err := tx.capture(ctx, op)
		if err == nil {
			result.Rollback = rb
			err = tx.execute(ctx, i, op)
			tx.noteBackup(op, err)
		}
		result.Duration = time.Since(result.StartedAt)
		tx.rec.ObserveOperationDuration(string(op.Kind), result.Duration)

		if err != nil {
			result.Error = err
			result.Message = err.Error()
			tx.results = append(tx.results, result)
			tx.rec.IncOperation(string(op.Kind), metrics.ResultFailed)
			tx.logger.Error().Err(err).Str("operation", op.String()).Msg("Operation failed, rolling back")

			opErr := errors.Wrapf(err, errors.ErrOperation, "%s failed", op).
				WithDetail("operation", op.String()).
				WithDetail("index", i)
			if rbErr := tx.rollback(ctx); rbErr != nil {
				tx.err = stderrors.Join(opErr, rbErr)
			} else {
				tx.err = opErr
			}
			return tx.err
		}

		result.Success = true
		tx.results = append(tx.results, result)
		tx.rec.IncOperation(string(op.Kind), metrics.ResultSuccess)
		tx.logger.Info().Str("operation", op.String()).Dur("took", result.Duration).Msg("Operation applied")
	}

	return tx.transition("commit", Committed)
}

// Rollback undoes every successful operation and ends the transaction.
// Before Commit there is nothing to undo and only the state changes.
func (tx *Transaction) Rollback(ctx context.Context) error {
	if err := tx.allow("rollback", RolledBack); err != nil {
		return err
	}
	err := tx.rollback(ctx)
	if err != nil {
		tx.err = err
	}
	return err
}

// noteBackup records op's backup once it exists on disk. A failed
// BackupAndReplace may still have written it.
func (tx *Transaction) noteBackup(op types.Operation, err error) {
	if op.Kind != types.OpBackupAndReplace || op.BackupPath == "" {
		return
	}
	if err != nil {
		if _, lerr := tx.fs.Lstat(op.BackupPath); lerr != nil {
			return
		}
	}
	tx.backups = append(tx.backups, op.BackupPath)
}

// capture records what is needed to undo op before it runs
func (tx *Transaction) capture(ctx context.Context, op types.Operation) (types.RollbackData, error) {
	b := tx.opts.Backends
	var rb types.RollbackData

	cctx, cancel := tx.timeout(ctx)
	defer cancel()

	switch op.Phase() {
	case types.PhasePackages:
		installed, err := b.Packages.ListInstalled(cctx)
		if err != nil {
			return rb, errors.Wrap(err, errors.ErrBackendUnavailable, "cannot record installed packages")
		}
		rb.PriorVersion = installed[op.Name]
	case types.PhaseServices:
		status, err := b.Services.Status(cctx, op.Name, op.Scope)
		if err != nil {
			return rb, errors.Wrapf(err, errors.ErrBackendUnavailable, "cannot record state of %s", op.Name)
		}
		rb.PriorService = &status
	case types.PhaseFiles:
		entry, err := b.Files.EntryKind(op.Target)
		if err != nil {
			return rb, err
		}
		rb.PriorEntry = &entry
		rb.BackupPath = op.BackupPath
	}
	return rb, nil
}

func (tx *Transaction) execute(ctx context.Context, i int, op types.Operation) error {
	b := tx.opts.Backends
	cctx, cancel := tx.timeout(ctx)
	defer cancel()

	source := op.Source
	if staged, ok := tx.staged[i]; ok {
		source = staged
	}

	switch op.Kind {
	case types.OpInstallPackage:
		return b.Packages.Install(cctx, op.Name, op.Version)
	case types.OpRemovePackage:
		return b.Packages.Remove(cctx, op.Name)
	case types.OpCreateSymlink:
		return b.Files.CreateSymlink(source, op.Target, op.Resolution)
	case types.OpRemoveSymlink:
		return b.Files.RemoveSymlink(op.Target)
	case types.OpBackupAndReplace:
		return b.Files.BackupAndReplace(source, op.Target, op.BackupPath, op.Resolution)
	case types.OpEnableService:
		return b.Services.Enable(cctx, op.Name, op.Scope)
	case types.OpDisableService:
		return b.Services.Disable(cctx, op.Name, op.Scope)
	case types.OpStartService:
		return b.Services.Start(cctx, op.Name, op.Scope)
	case types.OpStopService:
		return b.Services.Stop(cctx, op.Name, op.Scope)
	default:
		return errors.Newf(errors.ErrInternal, "unknown operation kind %q", op.Kind)
	}
}

// rollback undoes successful results in reverse order. Each undo step is
// attempted once; a failing step does not stop the remaining ones.
func (tx *Transaction) rollback(ctx context.Context) error {
	if err := tx.allow("rollback", RolledBack); err != nil {
		return err
	}
	// undo must run even when the caller's context is already done
	ctx = context.WithoutCancel(ctx)
	tx.logger.Warn().Msg("Rolling back transaction")

	var failed []error
	for i := len(tx.results) - 1; i >= 0; i-- {
		res := &tx.results[i]
		if !res.Success || res.RolledBack {
			continue
		}
		if err := tx.undo(ctx, *res); err != nil {
			tx.logger.Error().Err(err).Str("operation", res.Operation.String()).Msg("Rollback step failed")
			failed = append(failed, fmt.Errorf("undo %s: %w", res.Operation, err))
			continue
		}
		res.RolledBack = true
		tx.rec.IncOperation(string(res.Operation.Kind), metrics.ResultRolledBack)
		tx.logger.Info().Str("operation", res.Operation.String()).Msg("Rolled back")
	}
	if err := tx.transition("rollback", RolledBack); err != nil {
		return err
	}

	if len(failed) == 0 {
		return nil
	}
	tx.rollbackFailed = true
	return errors.Wrapf(stderrors.Join(failed...), errors.ErrRollbackFailed,
		"rollback incomplete, %d step(s) failed; manual recovery required", len(failed)).
		WithDetail("staging_dir", tx.stagingDir).
		WithDetail("backups", tx.Backups())
}

func (tx *Transaction) undo(ctx context.Context, res types.OperationResult) error {
	b := tx.opts.Backends
	op := res.Operation
	rb := res.Rollback

	cctx, cancel := tx.timeout(ctx)
	defer cancel()

	switch op.Kind {
	case types.OpInstallPackage:
		if rb.PriorVersion == "" {
			return b.Packages.Remove(cctx, op.Name)
		}
		return b.Packages.Install(cctx, op.Name, rb.PriorVersion)

	case types.OpRemovePackage:
		if rb.PriorVersion == "" {
			return nil
		}
		return b.Packages.Install(cctx, op.Name, rb.PriorVersion)

	case types.OpCreateSymlink, types.OpRemoveSymlink:
		return tx.restoreEntry(op.Target, rb.PriorEntry)

	case types.OpBackupAndReplace:
		return b.Files.Restore(rb.BackupPath, op.Target)

	case types.OpEnableService, types.OpDisableService:
		if rb.PriorService == nil {
			return errors.Newf(errors.ErrInternal, "no prior state recorded for %s", op.Name)
		}
		if rb.PriorService.Enabled {
			return b.Services.Enable(cctx, op.Name, op.Scope)
		}
		return b.Services.Disable(cctx, op.Name, op.Scope)

	case types.OpStartService, types.OpStopService:
		if rb.PriorService == nil {
			return errors.Newf(errors.ErrInternal, "no prior state recorded for %s", op.Name)
		}
		if rb.PriorService.Running {
			return b.Services.Start(cctx, op.Name, op.Scope)
		}
		return b.Services.Stop(cctx, op.Name, op.Scope)

	default:
		return errors.Newf(errors.ErrInternal, "unknown operation kind %q", op.Kind)
	}
}

// restoreEntry puts back the link, or absence, observed before a link operation
func (tx *Transaction) restoreEntry(target string, prior *types.Entry) error {
	files := tx.opts.Backends.Files
	if prior == nil {
		return errors.Newf(errors.ErrInternal, "no prior entry recorded for %s", target)
	}
	switch prior.Kind {
	case types.EntryAbsent:
		return files.RemoveEntry(target)
	case types.EntrySymlink:
		return files.RestoreLink(prior.Target, target)
	default:
		return errors.Newf(errors.ErrFileAccess, "cannot restore %s %s without a backup", prior.Kind, target)
	}
}
