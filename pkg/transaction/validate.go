package transaction

import (
	"context"
	stderrors "errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/Chrono-byte/flux/pkg/errors"
	"github.com/Chrono-byte/flux/pkg/metrics"
	"github.com/Chrono-byte/flux/pkg/types"
)

// Validate checks the preconditions of every queued operation without
// mutating anything. Operations whose backend is unavailable are skipped
// when the transaction tolerates missing backends. All problems are
// collected into one validation error.
func (tx *Transaction) Validate(ctx context.Context) error {
	if tx.state != Started {
		return &StateError{Op: "validate", State: tx.state}
	}

	avail := tx.availability(ctx)
	var (
		kept     []types.Operation
		problems []error
		dests    = make(map[string]string)
		backups  = make(map[string]string)
	)

	for _, op := range tx.operations {
		if err := avail.check(op); err != nil {
			if tx.opts.TolerateMissingBackends {
				tx.logger.Warn().Str("operation", op.String()).Msg("Skipping operation, backend unavailable")
				tx.skipped = append(tx.skipped, op)
				tx.rec.IncOperation(string(op.Kind), metrics.ResultSkipped)
				continue
			}
			problems = append(problems, err)
			continue
		}
		kept = append(kept, op)

		if op.Phase() == types.PhaseFiles {
			target := filepath.Clean(op.Target)
			if prev, ok := dests[target]; ok {
				problems = append(problems, fmt.Errorf("%s and %s both manage %s", prev, op, target))
				continue
			}
			dests[target] = op.String()
		}
		if op.BackupPath != "" {
			backup := filepath.Clean(op.BackupPath)
			if prev, ok := backups[backup]; ok {
				problems = append(problems, fmt.Errorf("%s and %s both back up to %s", prev, op, backup))
				continue
			}
			backups[backup] = op.String()
		}

		if err := tx.validateOne(ctx, op); err != nil {
			problems = append(problems, err)
		}
	}
	tx.operations = kept

	if len(problems) > 0 {
		msgs := make([]string, 0, len(problems))
		for _, p := range problems {
			msgs = append(msgs, p.Error())
		}
		err := errors.Wrapf(stderrors.Join(problems...), errors.ErrValidation,
			"%d operation(s) failed validation", len(problems)).
			WithDetail("problems", msgs)
		tx.err = err
		return err
	}

	tx.validated = true
	tx.logger.Debug().Int("operations", len(kept)).Int("skipped", len(tx.skipped)).Msg("Transaction validated")
	return nil
}

type availability struct {
	packages bool
	services bool
	files    bool
}

func (tx *Transaction) availability(ctx context.Context) availability {
	b := tx.opts.Backends
	var a availability
	a.files = b.Files != nil
	if b.Packages != nil && tx.needs(types.PhasePackages) {
		a.packages = b.Packages.IsAvailable(ctx)
	}
	if b.Services != nil && tx.needs(types.PhaseServices) {
		a.services = b.Services.IsAvailable(ctx)
	}
	return a
}

func (tx *Transaction) needs(phase types.Phase) bool {
	for _, op := range tx.operations {
		if op.Phase() == phase {
			return true
		}
	}
	return false
}

func (a availability) check(op types.Operation) error {
	var ok bool
	var what string
	switch op.Phase() {
	case types.PhasePackages:
		ok, what = a.packages, "package manager"
	case types.PhaseServices:
		ok, what = a.services, "service manager"
	default:
		ok, what = a.files, "file manager"
	}
	if ok {
		return nil
	}
	return errors.Newf(errors.ErrBackendUnavailable, "%s: %s is not available", op, what)
}

func (tx *Transaction) validateOne(ctx context.Context, op types.Operation) error {
	b := tx.opts.Backends
	switch op.Kind {
	case types.OpInstallPackage:
		if strings.TrimSpace(op.Name) == "" {
			return fmt.Errorf("%s: package name is empty", op)
		}
		cctx, cancel := tx.timeout(ctx)
		defer cancel()
		conflicts, err := b.Packages.CheckConflicts(cctx, op.Name)
		if err != nil {
			return fmt.Errorf("%s: cannot check conflicts: %w", op, err)
		}
		if len(conflicts) > 0 {
			return fmt.Errorf("%s: conflicts with installed %s", op, strings.Join(conflicts, ", "))
		}
		return nil

	case types.OpRemovePackage:
		if strings.TrimSpace(op.Name) == "" {
			return fmt.Errorf("%s: package name is empty", op)
		}
		return nil

	case types.OpEnableService, types.OpDisableService, types.OpStartService, types.OpStopService:
		if strings.TrimSpace(op.Name) == "" {
			return fmt.Errorf("%s: service name is empty", op)
		}
		if _, err := types.ParseScope(string(op.Scope)); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		return nil

	case types.OpCreateSymlink:
		if err := tx.validateSource(op); err != nil {
			return err
		}
		dest, err := b.Files.EntryKind(op.Target)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if dest.Kind == types.EntryRegular || dest.Kind == types.EntryDirectory {
			return fmt.Errorf("%s: %s exists as a %s and would be overwritten", op, op.Target, dest.Kind)
		}
		return tx.validateWritable(op, op.Target)

	case types.OpBackupAndReplace:
		if err := tx.validateSource(op); err != nil {
			return err
		}
		if op.BackupPath == "" {
			return fmt.Errorf("%s: no backup path", op)
		}
		backup, err := b.Files.EntryKind(op.BackupPath)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if backup.Exists() {
			return fmt.Errorf("%s: backup path %s already exists", op, op.BackupPath)
		}
		if err := tx.validateWritable(op, op.Target); err != nil {
			return err
		}
		return tx.validateWritable(op, op.BackupPath)

	case types.OpRemoveSymlink:
		return tx.validateWritable(op, op.Target)

	default:
		return fmt.Errorf("unknown operation kind %q", op.Kind)
	}
}

func (tx *Transaction) validateSource(op types.Operation) error {
	src, err := tx.opts.Backends.Files.EntryKind(op.Source)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !src.Exists() {
		return fmt.Errorf("%s: source %s does not exist", op, op.Source)
	}
	if op.Resolution == types.ResolutionFollow {
		if _, err := tx.opts.Backends.Files.ResolvePath(op.Source); err != nil {
			return fmt.Errorf("%s: cannot resolve source: %w", op, err)
		}
	}
	return nil
}

func (tx *Transaction) validateWritable(op types.Operation, path string) error {
	if err := tx.opts.Backends.Files.Writable(path); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
