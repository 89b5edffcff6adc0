package transaction

import (
	"context"
	"fmt"

	"github.com/Chrono-byte/flux/pkg/diff"
	"github.com/Chrono-byte/flux/pkg/errors"
	"github.com/Chrono-byte/flux/pkg/filesystem"
	"github.com/Chrono-byte/flux/pkg/types"
)

// Verify re-queries the target of every applied operation. Mismatches are
// returned as a verification error but never undo the commit; the
// transaction ends in Verified either way.
func (tx *Transaction) Verify(ctx context.Context) error {
	if err := tx.allow("verify", Verified); err != nil {
		return err
	}

	var installed map[string]string
	for _, res := range tx.results {
		if !res.Success {
			continue
		}
		op := res.Operation
		var finding string

		switch op.Phase() {
		case types.PhasePackages:
			if installed == nil {
				cctx, cancel := tx.timeout(ctx)
				list, err := tx.opts.Backends.Packages.ListInstalled(cctx)
				cancel()
				if err != nil {
					tx.logger.Warn().Err(err).Msg("Could not verify packages")
					continue
				}
				installed = list
			}
			finding = verifyPackage(op, installed)
		case types.PhaseServices:
			cctx, cancel := tx.timeout(ctx)
			status, err := tx.opts.Backends.Services.Status(cctx, op.Name, op.Scope)
			cancel()
			if err != nil {
				tx.logger.Warn().Err(err).Str("service", op.Name).Msg("Could not verify service")
				continue
			}
			finding = verifyService(op, status)
		case types.PhaseFiles:
			finding = tx.verifyFile(op)
		}

		if finding != "" {
			tx.findings = append(tx.findings, finding)
			tx.logger.Warn().Str("operation", op.String()).Msg(finding)
		}
	}

	if err := tx.transition("verify", Verified); err != nil {
		return err
	}
	if len(tx.findings) == 0 {
		tx.logger.Info().Msg("Transaction verified")
		return nil
	}
	tx.err = errors.Newf(errors.ErrVerification, "%d change(s) did not take effect", len(tx.findings)).
		WithDetail("findings", tx.Findings())
	return tx.err
}

func verifyPackage(op types.Operation, installed map[string]string) string {
	version, ok := installed[op.Name]
	switch op.Kind {
	case types.OpInstallPackage:
		if !ok {
			return fmt.Sprintf("package %s is not installed", op.Name)
		}
		if op.Version != "" && op.Version != types.LatestVersion && version != op.Version {
			return fmt.Sprintf("package %s is at %s, want %s", op.Name, version, op.Version)
		}
	case types.OpRemovePackage:
		if ok {
			return fmt.Sprintf("package %s is still installed", op.Name)
		}
	}
	return ""
}

func verifyService(op types.Operation, status types.ServiceStatus) string {
	switch op.Kind {
	case types.OpEnableService:
		if !status.Enabled {
			return fmt.Sprintf("service %s is not enabled", op.Name)
		}
	case types.OpDisableService:
		if status.Enabled && !status.Fixed {
			return fmt.Sprintf("service %s is still enabled", op.Name)
		}
	case types.OpStartService:
		if !status.Running {
			return fmt.Sprintf("service %s is not running", op.Name)
		}
	case types.OpStopService:
		if status.Running {
			return fmt.Sprintf("service %s is still running", op.Name)
		}
	}
	return ""
}

func (tx *Transaction) verifyFile(op types.Operation) string {
	files := tx.opts.Backends.Files
	if op.Kind == types.OpRemoveSymlink {
		entry, err := files.EntryKind(op.Target)
		if err != nil {
			return fmt.Sprintf("cannot inspect %s: %v", op.Target, err)
		}
		if entry.Kind == types.EntrySymlink {
			return fmt.Sprintf("%s is still a symlink", op.Target)
		}
		return ""
	}

	decl := types.FileDecl{Source: op.Source, Destination: op.Target, Resolution: op.Resolution}
	obs, err := diff.ObserveFile(files, decl)
	if err != nil {
		return fmt.Sprintf("cannot inspect %s: %v", op.Target, err)
	}
	if !filesystem.Satisfies(obs, decl) {
		return fmt.Sprintf("%s does not point at %s", op.Target, op.Source)
	}
	return ""
}
