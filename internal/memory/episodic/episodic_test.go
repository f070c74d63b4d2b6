package episodic

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/digitalbeing/core/internal/model"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "episodic.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestAddEpisodeAndGetRecent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, ok := store.AddEpisode(ctx, "test.event", "something happened", model.OutcomeSuccess, nil)
	require.True(t, ok)
	require.Greater(t, id, int64(0))

	recent, err := store.GetRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	require.Equal(t, "test.event", recent[0].EventType)
}

func TestArchiveOldMovesRowsAndReclaimsPrimaryStore(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, ok := store.AddEpisode(ctx, "test.event", "old episode", model.OutcomeSuccess, nil)
	require.True(t, ok)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)

	// A negative retention window pushes the cutoff into the future so
	// the episode just inserted is unambiguously older than it.
	archived, err := store.ArchiveOld(ctx, -1, t.TempDir())
	require.NoError(t, err)
	require.Equal(t, 1, archived)

	count, err = store.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(0), count)
}

func TestArchiveOldIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	archiveDir := t.TempDir()

	_, ok := store.AddEpisode(ctx, "test.event", "old episode", model.OutcomeSuccess, nil)
	require.True(t, ok)

	archived, err := store.ArchiveOld(ctx, -1, archiveDir)
	require.NoError(t, err)
	require.Equal(t, 1, archived)

	archived, err = store.ArchiveOld(ctx, -1, archiveDir)
	require.NoError(t, err)
	require.Equal(t, 0, archived)
}

func TestArchiveOldNoRowsIsNoop(t *testing.T) {
	store := newTestStore(t)
	archived, err := store.ArchiveOld(context.Background(), 30, t.TempDir())
	require.NoError(t, err)
	require.Equal(t, 0, archived)
}
