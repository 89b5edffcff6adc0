package apply_test

import (
	"context"
	"os"
	"testing"

	"github.com/Chrono-byte/flux/pkg/apply"
	"github.com/Chrono-byte/flux/pkg/diff"
	"github.com/Chrono-byte/flux/pkg/errors"
	"github.com/Chrono-byte/flux/pkg/journal"
	"github.com/Chrono-byte/flux/pkg/transaction"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// appliedWithJournal runs one apply that replaces the existing sway config
func appliedWithJournal(t *testing.T) *fixture {
	t.Helper()
	f := newFixture(t)
	store, err := journal.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	f.env.Journal = store

	_, err = f.run(apply.Options{})
	require.NoError(t, err)
	require.Equal(t, "bindsym $mod+Return exec foot\n", f.tree.Read(f.swayDest))
	return f
}

func TestBackupsListsReplacedDestinations(t *testing.T) {
	f := appliedWithJournal(t)

	backups, err := apply.Backups(context.Background(), f.env, "tx-apply")
	require.NoError(t, err)
	require.Len(t, backups, 1)
	assert.Equal(t, f.swayDest, backups[0].Target)
	assert.Equal(t, diff.BackupPath(f.env.Settings.BackupDir, "tx-apply", f.swayDest), backups[0].BackupPath)
	assert.False(t, backups[0].Missing)

	_, err = apply.Backups(context.Background(), f.env, "tx-unknown")
	assert.True(t, errors.IsErrorCode(err, errors.ErrInvalidInput))
}

func TestBackupsNeedsJournal(t *testing.T) {
	f := newFixture(t)

	_, err := apply.Backups(context.Background(), f.env, "tx-apply")
	assert.True(t, errors.IsErrorCode(err, errors.ErrInvalidInput))
}

func TestRestorePutsOriginalBack(t *testing.T) {
	f := appliedWithJournal(t)

	restored, err := apply.Restore(context.Background(), f.env, "tx-apply", "")
	require.NoError(t, err)
	require.Len(t, restored, 1)
	assert.Equal(t, f.swayDest, restored[0].Target)
	assert.Equal(t, "bindsym $mod+Return exec xterm\n", f.tree.Read(f.swayDest))
	assert.FileExists(t, restored[0].BackupPath)
}

func TestRestoreSingleDestination(t *testing.T) {
	f := appliedWithJournal(t)

	restored, err := apply.Restore(context.Background(), f.env, "tx-apply", f.swayDest)
	require.NoError(t, err)
	require.Len(t, restored, 1)
	assert.Equal(t, "bindsym $mod+Return exec xterm\n", f.tree.Read(f.swayDest))

	_, err = apply.Restore(context.Background(), f.env, "tx-apply", f.gitDest)
	assert.True(t, errors.IsErrorCode(err, errors.ErrInvalidInput))
}

func TestRestoreRefusesMissingBackup(t *testing.T) {
	f := appliedWithJournal(t)
	backup := diff.BackupPath(f.env.Settings.BackupDir, "tx-apply", f.swayDest)
	require.NoError(t, os.Remove(backup))

	listed, err := apply.Backups(context.Background(), f.env, "tx-apply")
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.True(t, listed[0].Missing)

	_, err = apply.Restore(context.Background(), f.env, "tx-apply", "")
	assert.True(t, errors.IsErrorCode(err, errors.ErrFileAccess))
	assert.Equal(t, "bindsym $mod+Return exec foot\n", f.tree.Read(f.swayDest))
}

func TestRestoreWaitsForTransactionLock(t *testing.T) {
	f := appliedWithJournal(t)

	held, err := transaction.AcquireLock(context.Background(), f.env.Paths.LockPath(), 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = held.Release() })

	_, err = apply.Restore(context.Background(), f.env, "tx-apply", "")
	assert.True(t, errors.IsErrorCode(err, errors.ErrLockHeld))
	assert.Equal(t, "bindsym $mod+Return exec foot\n", f.tree.Read(f.swayDest))

	require.NoError(t, held.Release())
	_, err = apply.Restore(context.Background(), f.env, "tx-apply", "")
	require.NoError(t, err)
	assert.Equal(t, "bindsym $mod+Return exec xterm\n", f.tree.Read(f.swayDest))
}
