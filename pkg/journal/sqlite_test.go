package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/Chrono-byte/flux/pkg/errors"
	"github.com/Chrono-byte/flux/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(id string, started time.Time) Entry {
	return Entry{
		ID:          id,
		State:       "verified",
		Description: "install editor",
		Metadata:    map[string]string{"description": "install editor", "profile": "laptop"},
		Results: []types.OperationResult{{
			Operation: types.InstallPackage("neovim", types.LatestVersion),
			Success:   true,
			Rollback:  types.RollbackData{PriorVersion: ""},
			StartedAt: started,
			Duration:  1500 * time.Millisecond,
		}},
		StartedAt:  started,
		FinishedAt: started.Add(2 * time.Second),
	}
}

func TestSQLiteStoreRecordAndGet(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "state", "journal.db"))
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	ctx := context.Background()

	started := time.Unix(1700000000, 0)
	require.NoError(t, store.Record(ctx, entry("tx-1", started)))

	got, err := store.Get(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, "verified", got.State)
	assert.Equal(t, "laptop", got.Metadata["profile"])
	require.Len(t, got.Results, 1)
	assert.Equal(t, types.InstallPackage("neovim", "latest"), got.Results[0].Operation)
	assert.Equal(t, 1500*time.Millisecond, got.Results[0].Duration)
	assert.True(t, got.StartedAt.Equal(started))
	assert.Empty(t, got.Findings)
}

func TestSQLiteStoreGetMissing(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	_, err = store.Get(context.Background(), "nope")
	assert.True(t, errors.IsErrorCode(err, errors.ErrInvalidInput))
}

func TestSQLiteStoreListNewestFirst(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	ctx := context.Background()

	base := time.Unix(1700000000, 0)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.Record(ctx, entry(id, base.Add(time.Duration(i)*time.Hour))))
	}

	all, err := store.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"c", "b", "a"}, []string{all[0].ID, all[1].ID, all[2].ID})

	latest, err := store.List(ctx, 1)
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, "c", latest[0].ID)
}

func TestSQLiteStoreRecordReplaces(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	ctx := context.Background()

	e := entry("tx", time.Unix(1700000000, 0))
	require.NoError(t, store.Record(ctx, e))
	e.State = "rolled_back"
	e.Error = "[OPERATION] InstallPackage(neovim, latest) failed"
	e.Findings = []string{"x"}
	require.NoError(t, store.Record(ctx, e))

	all, err := store.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "rolled_back", all[0].State)
	assert.Equal(t, e.Error, all[0].Error)
	assert.Equal(t, []string{"x"}, all[0].Findings)
}
