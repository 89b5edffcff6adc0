package apply

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/Chrono-byte/flux/pkg/errors"
	"github.com/Chrono-byte/flux/pkg/filesystem"
	"github.com/Chrono-byte/flux/pkg/logging"
	"github.com/Chrono-byte/flux/pkg/paths"
	"github.com/Chrono-byte/flux/pkg/transaction"
	"github.com/Chrono-byte/flux/pkg/types"
	"github.com/Chrono-byte/flux/pkg/ui"
)

// Backups lists what transaction id saved before replacing destinations,
// in commit order
func Backups(ctx context.Context, env *Environment, id string) ([]ui.Backup, error) {
	if env.Journal == nil {
		return nil, errors.New(errors.ErrInvalidInput, "the transaction journal is disabled")
	}
	entry, err := env.Journal.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	fsys := env.fs()
	var out []ui.Backup
	for _, res := range entry.Results {
		op := res.Operation
		if op.Kind != types.OpBackupAndReplace {
			continue
		}
		backup := res.Rollback.BackupPath
		if backup == "" {
			backup = op.BackupPath
		}
		if backup == "" {
			continue
		}
		_, statErr := fsys.Lstat(backup)
		out = append(out, ui.Backup{Target: op.Target, BackupPath: backup, Missing: statErr != nil})
	}
	return out, nil
}

// Restore copies the backups of transaction id back over their
// destinations, all of them or only the one at dest. It holds the
// transaction lock while doing so and restores nothing when a selected
// backup is missing.
func Restore(ctx context.Context, env *Environment, id, dest string) ([]ui.Backup, error) {
	logger := logging.GetLogger("apply.restore").With().Str("tx", id).Logger()

	backups, err := Backups(ctx, env, id)
	if err != nil {
		return nil, err
	}
	if dest != "" {
		want, err := filepath.Abs(paths.ExpandHome(dest))
		if err != nil {
			return nil, errors.Wrapf(err, errors.ErrInvalidInput, "invalid destination %s", dest)
		}
		var selected []ui.Backup
		for _, b := range backups {
			if filepath.Clean(b.Target) == want {
				selected = append(selected, b)
			}
		}
		if len(selected) == 0 {
			return nil, errors.Newf(errors.ErrInvalidInput, "transaction %s has no backup of %s", id, dest)
		}
		backups = selected
	}
	if len(backups) == 0 {
		return nil, errors.Newf(errors.ErrInvalidInput, "transaction %s saved no backups", id)
	}

	var missing []string
	for _, b := range backups {
		if b.Missing {
			missing = append(missing, b.BackupPath)
		}
	}
	if len(missing) > 0 {
		return nil, errors.Newf(errors.ErrFileAccess, "backups are missing: %s", strings.Join(missing, ", ")).
			WithDetail("missing", missing)
	}

	lock, err := transaction.AcquireLock(ctx, env.Paths.LockPath(), env.Settings.LockWait)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			logger.Warn().Err(err).Msg("Failed to release transaction lock")
		}
	}()

	files := filesystem.NewManager(env.fs())
	restored := make([]ui.Backup, 0, len(backups))
	for _, b := range backups {
		if err := files.Restore(b.BackupPath, b.Target); err != nil {
			return restored, err
		}
		logger.Info().Str("target", b.Target).Str("backup", b.BackupPath).Msg("Restored backup")
		restored = append(restored, b)
	}
	return restored, nil
}
