package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"bannerstream/internal/entity"
)

func openTestStore(t *testing.T, path string) *Store {
	t.Helper()
	store, err := Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, store.Close()) })
	return store
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(context.Background(), " ")
	require.Error(t, err)
}

func TestSaveIsIdempotent(t *testing.T) {
	store := openTestStore(t, filepath.Join(t.TempDir(), "entities.db"))
	ctx := context.Background()

	first, err := store.Save(ctx, entity.KindCountry, "US")
	require.NoError(t, err)
	again, err := store.Save(ctx, entity.KindCountry, "US")
	require.NoError(t, err)
	require.Equal(t, first, again)

	other, err := store.Save(ctx, entity.KindProject, "US")
	require.NoError(t, err)
	require.NotEqual(t, first, other)

	n, err := store.Count(ctx, entity.KindCountry)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestLoadAllByKind(t *testing.T) {
	store := openTestStore(t, filepath.Join(t.TempDir(), "entities.db"))
	ctx := context.Background()

	enID, err := store.Save(ctx, entity.KindLanguage, "en")
	require.NoError(t, err)
	deID, err := store.Save(ctx, entity.KindLanguage, "de")
	require.NoError(t, err)
	_, err = store.Save(ctx, entity.KindProject, "enwiki")
	require.NoError(t, err)

	got, err := store.LoadAll(ctx, entity.KindLanguage)
	require.NoError(t, err)
	require.Equal(t, map[string]int64{"en": enID, "de": deID}, got)
}

func TestRegistryRoundTripAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "entities.db")
	ctx := context.Background()

	first, err := Open(ctx, path)
	require.NoError(t, err)
	reg := entity.NewRegistry(entity.DefaultRules())
	project, err := reg.Projects.GetOrNew(ctx, "enwiki")
	require.NoError(t, err)
	_, err = reg.Persist(ctx, first)
	require.NoError(t, err)
	wantID, ok := project.DBID()
	require.True(t, ok)
	require.NoError(t, first.Close())

	second := openTestStore(t, path)
	restored := entity.NewRegistry(entity.DefaultRules())
	skipped, err := restored.Preload(ctx, second)
	require.NoError(t, err)
	require.Zero(t, skipped)

	again, err := restored.Projects.GetOrNew(ctx, "enwiki")
	require.NoError(t, err)
	gotID, ok := again.DBID()
	require.True(t, ok)
	require.Equal(t, wantID, gotID)
	require.False(t, restored.HasPending())
}

func TestOpenCreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "entities.db")
	store := openTestStore(t, path)
	_, err := store.Save(context.Background(), entity.KindCountry, "DE")
	require.NoError(t, err)
}
