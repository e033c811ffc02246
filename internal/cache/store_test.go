package cache

import (
	"fmt"
	"sync"
	"testing"

	"github.com/desertthunder/wsx/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()

	mem, err := OpenBadger("", nil)
	require.NoError(t, err)
	disk, err := OpenBadger(t.TempDir(), nil)
	require.NoError(t, err)

	all := map[string]Store{
		"memory":         NewMemoryStore(),
		"badger in-mem":  mem,
		"badger on disk": disk,
	}
	t.Cleanup(func() {
		for _, s := range all {
			s.Close()
		}
	})
	return all
}

func TestStore(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			t.Run("Miss", func(t *testing.T) {
				_, ok, err := s.Get(KindLegacy, "nothing")
				require.NoError(t, err)
				assert.False(t, ok)
			})

			t.Run("Put Get", func(t *testing.T) {
				require.NoError(t, s.Put(KindLegacy, "a", []byte("plex://movie/a")))

				v, ok, err := s.Get(KindLegacy, "a")
				require.NoError(t, err)
				assert.True(t, ok)
				assert.Equal(t, "plex://movie/a", string(v))
			})

			t.Run("Kinds Are Isolated", func(t *testing.T) {
				require.NoError(t, s.Put(KindTree, "a", []byte("tree")))

				v, _, err := s.Get(KindLegacy, "a")
				require.NoError(t, err)
				assert.Equal(t, "plex://movie/a", string(v))

				_, ok, err := s.Get("legac", "y\x00a")
				require.NoError(t, err)
				assert.False(t, ok, "kind prefix must not match across the separator")
			})

			t.Run("Clear", func(t *testing.T) {
				require.NoError(t, s.Put("tree2", "x", []byte("keep")))
				require.NoError(t, s.Clear(KindTree))

				_, ok, err := s.Get(KindTree, "a")
				require.NoError(t, err)
				assert.False(t, ok)

				_, ok, err = s.Get("tree2", "x")
				require.NoError(t, err)
				assert.True(t, ok, "clearing one kind must not touch a kind sharing its prefix")

				_, ok, err = s.Get(KindLegacy, "a")
				require.NoError(t, err)
				assert.True(t, ok)
			})

			t.Run("JSON Helpers", func(t *testing.T) {
				kind := GUIDKind("srv", models.Movie)
				require.NoError(t, PutJSON(s, kind, "plex://movie/a", []string{"1", "2"}))

				keys, ok, err := GetJSON[[]string](s, kind, "plex://movie/a")
				require.NoError(t, err)
				assert.True(t, ok)
				assert.Equal(t, []string{"1", "2"}, keys)

				require.NoError(t, s.Put(kind, "bad", []byte("{")))
				_, _, err = GetJSON[[]string](s, kind, "bad")
				assert.Error(t, err)
			})

			t.Run("Concurrent Writers", func(t *testing.T) {
				var wg sync.WaitGroup
				for i := range 16 {
					wg.Add(1)
					go func() {
						defer wg.Done()
						assert.NoError(t, s.Put(KindLegacy, fmt.Sprintf("k%d", i%4), []byte("same")))
					}()
				}
				wg.Wait()

				for i := range 4 {
					v, ok, err := s.Get(KindLegacy, fmt.Sprintf("k%d", i))
					require.NoError(t, err)
					assert.True(t, ok)
					assert.Equal(t, "same", string(v))
				}
			})
		})
	}
}

func TestResetExport(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Put(KindLegacy, "a", []byte("x")))
	require.NoError(t, s.Put(KindSeason, "1/1", []byte("x")))
	require.NoError(t, s.Put(RatingKeyKind("srv", models.Movie), "10", []byte("x")))
	require.NoError(t, s.Put(RatingKeyKind("other", models.Movie), "10", []byte("x")))
	require.NoError(t, s.Put(GUIDKind("srv", models.Movie), "plex://movie/a", []byte("x")))

	require.NoError(t, ResetExport(s, "srv"))

	assert.Zero(t, s.Len(KindLegacy))
	assert.Zero(t, s.Len(KindSeason))
	assert.Zero(t, s.Len(RatingKeyKind("srv", models.Movie)))
	assert.Equal(t, 1, s.Len(RatingKeyKind("other", models.Movie)))
	assert.Equal(t, 1, s.Len(GUIDKind("srv", models.Movie)), "guid index persists across exports")
}

func TestClearServer(t *testing.T) {
	const server, other = "http://a:32400", "http://b:32400"

	seed := func() *MemoryStore {
		s := NewMemoryStore()
		for _, kind := range []string{
			KindLegacy,
			RatingKeyKind(server, models.Movie),
			GUIDKind(server, models.Episode),
			GUIDKind(other, models.Episode),
		} {
			require.NoError(t, s.Put(kind, "k", []byte("v")))
		}
		return s
	}

	t.Run("Server Only", func(t *testing.T) {
		s := seed()
		require.NoError(t, ClearServer(s, server, false))

		assert.Zero(t, s.Len(RatingKeyKind(server, models.Movie)))
		assert.Zero(t, s.Len(GUIDKind(server, models.Episode)))
		assert.Equal(t, 1, s.Len(GUIDKind(other, models.Episode)), "other servers are untouched")
		assert.Equal(t, 1, s.Len(KindLegacy))
	})

	t.Run("Global", func(t *testing.T) {
		s := seed()
		require.NoError(t, ClearServer(s, server, true))

		assert.Zero(t, s.Len(KindLegacy))
		assert.Equal(t, 1, s.Len(GUIDKind(other, models.Episode)))
	})
}
