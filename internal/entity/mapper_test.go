package entity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"bannerstream/internal/identifier"
)

type memStore struct {
	mu      sync.Mutex
	next    int64
	rows    map[Kind]map[string]int64
	failFor string
}

func newMemStore() *memStore {
	return &memStore{rows: map[Kind]map[string]int64{}}
}

func (s *memStore) LoadAll(_ context.Context, kind Kind) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64, len(s.rows[kind]))
	for v, id := range s.rows[kind] {
		out[v] = id
	}
	return out, nil
}

func (s *memStore) Save(_ context.Context, kind Kind, value string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if value == s.failFor {
		return 0, errors.New("disk full")
	}
	if s.rows[kind] == nil {
		s.rows[kind] = map[string]int64{}
	}
	if id, ok := s.rows[kind][value]; ok {
		return id, nil
	}
	s.next++
	s.rows[kind][value] = s.next
	return s.next, nil
}

func TestGetOrNewDeduplicates(t *testing.T) {
	reg := NewRegistry(Rules{})
	ctx := context.Background()

	a, err := reg.Projects.GetOrNew(ctx, "enwiki")
	require.NoError(t, err)
	b, err := reg.Projects.GetOrNew(ctx, "enwiki")
	require.NoError(t, err)
	require.Same(t, a, b)
	require.Equal(t, 1, reg.Projects.Len())
	require.Len(t, reg.Projects.Pending(), 1)
}

func TestGetOrNewRejectsByKind(t *testing.T) {
	reg := NewRegistry(Rules{})
	ctx := context.Background()

	cases := []struct {
		mapper *Mapper
		good   []string
		bad    []string
	}{
		{reg.Countries, []string{"US", "XX", "DE"}, []string{"us", "USA", "", "U1"}},
		{reg.Languages, []string{"en", "zh-hans", "pt-br", "ast"}, []string{"EN", "en_US", "", "english-", "e"}},
		{reg.Projects, []string{"enwiki", "commons.wikimedia", "wiki-voyage_x"}, []string{"EnWiki", "en wiki", ""}},
	}
	for _, tc := range cases {
		for _, raw := range tc.good {
			_, err := tc.mapper.GetOrNew(ctx, raw)
			require.NoError(t, err, "%s %q", tc.mapper.Kind(), raw)
		}
		for _, raw := range tc.bad {
			_, err := tc.mapper.GetOrNew(ctx, raw)
			require.ErrorIs(t, err, identifier.ErrInvalidFormat, "%s %q", tc.mapper.Kind(), raw)
		}
	}
	require.Equal(t, 3, reg.Countries.Len())
}

func TestGetOrNewCanceledContext(t *testing.T) {
	reg := NewRegistry(Rules{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := reg.Countries.GetOrNew(ctx, "US")
	require.ErrorIs(t, err, context.Canceled)
}

func TestPersistAssignsIDsOnce(t *testing.T) {
	reg := NewRegistry(Rules{})
	store := newMemStore()
	ctx := context.Background()

	us, err := reg.Countries.GetOrNew(ctx, "US")
	require.NoError(t, err)
	en, err := reg.Languages.GetOrNew(ctx, "en")
	require.NoError(t, err)
	require.True(t, reg.HasPending())

	n, err := reg.Persist(ctx, store)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.False(t, reg.HasPending())

	usID, ok := us.DBID()
	require.True(t, ok)
	enID, ok := en.DBID()
	require.True(t, ok)
	require.NotEqual(t, usID, enID)

	n, err = reg.Persist(ctx, store)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestPersistKeepsFailedPending(t *testing.T) {
	reg := NewRegistry(Rules{})
	store := newMemStore()
	store.failFor = "dewiki"
	ctx := context.Background()

	_, err := reg.Projects.GetOrNew(ctx, "enwiki")
	require.NoError(t, err)
	_, err = reg.Projects.GetOrNew(ctx, "dewiki")
	require.NoError(t, err)

	n, err := reg.Projects.Persist(ctx, store)
	require.Error(t, err)
	require.Equal(t, 1, n)
	pending := reg.Projects.Pending()
	require.Len(t, pending, 1)
	require.Equal(t, "dewiki", pending[0].String())

	store.failFor = ""
	n, err = reg.Projects.Persist(ctx, store)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestPreloadRestoresIDs(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()
	_, err := store.Save(ctx, KindProject, "enwiki")
	require.NoError(t, err)
	_, err = store.Save(ctx, KindProject, "Legacy Project")
	require.NoError(t, err)

	reg := NewRegistry(Rules{})
	skipped, err := reg.Preload(ctx, store)
	require.NoError(t, err)
	require.Equal(t, 1, skipped)

	id, err := reg.Projects.GetOrNew(ctx, "enwiki")
	require.NoError(t, err)
	dbID, ok := id.DBID()
	require.True(t, ok)
	require.Equal(t, int64(1), dbID)
	require.False(t, reg.HasPending())
}

func TestGetOrNewConcurrent(t *testing.T) {
	reg := NewRegistry(Rules{})
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]*identifier.Identifier, 64)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := reg.Projects.GetOrNew(ctx, fmt.Sprintf("wiki%d", i%4))
			if err == nil {
				results[i] = id
			}
		}(i)
	}
	wg.Wait()

	require.Equal(t, 4, reg.Projects.Len())
	for i, id := range results {
		require.NotNil(t, id)
		require.Same(t, results[i%4], id)
	}
}
