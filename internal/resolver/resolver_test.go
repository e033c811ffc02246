package resolver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/desertthunder/wsx/internal/cache"
	"github.com/desertthunder/wsx/internal/models"
	"github.com/desertthunder/wsx/internal/services"
	tu "github.com/desertthunder/wsx/internal/testing"
	"github.com/stretchr/testify/assert"
)

func newResolver(t *testing.T, url string) (*Resolver, *cache.MemoryStore) {
	t.Helper()
	transport := services.NewTransport(services.TransportOpts{Attempts: 2, Delay: time.Millisecond})
	store := cache.NewMemoryStore()
	return New(services.NewMetadataClient(url, "", transport, nil), store, nil), store
}

func newProvider(t *testing.T) *tu.FakeMetadata {
	t.Helper()
	fake := tu.NewFakeMetadata(t)
	fake.AddMatch("com.plexapp.agents.themoviedb://603", tu.FakeMeta{RatingKey: "m1", GUID: "plex://movie/matrix", Type: "movie"})
	fake.AddMatch("com.plexapp.agents.thetvdb://81189", tu.FakeMeta{
		RatingKey: "s1", GUID: "plex://show/bb", Type: "show",
		Children: []tu.FakeMeta{
			{RatingKey: "s1-1", GUID: "plex://season/bb1", Type: "season", Index: 1, Children: []tu.FakeMeta{
				{RatingKey: "e101", GUID: "plex://episode/bb101", Type: "episode", Index: 1},
				{RatingKey: "e102", GUID: "plex://episode/bb102", Type: "episode", Index: 2},
			}},
			{RatingKey: "s1-2", GUID: "plex://season/bb2", Type: "season", Index: 2, Children: []tu.FakeMeta{
				{RatingKey: "e201", GUID: "plex://episode/bb201", Type: "episode", Index: 1},
			}},
		},
	})
	return fake
}

func TestResolve(t *testing.T) {
	ctx := context.Background()

	t.Run("Passthrough", func(t *testing.T) {
		r, _ := newResolver(t, "http://127.0.0.1:1")

		tests := []struct {
			guid string
			kind models.MediaKind
		}{
			{"plex://movie/5d7768ba96b655001fdc0408", models.Movie},
			{"com.plexapp.agents.imdb://tt0133093?lang=en", models.Movie},
			{"local://12345", models.Episode},
		}
		for _, tt := range tests {
			id, outcome := r.Resolve(ctx, tt.guid, tt.kind)
			assert.Equal(t, models.Resolved, outcome, tt.guid)
			assert.Equal(t, models.CanonicalID(tt.guid), id)
		}
	})

	t.Run("Movie", func(t *testing.T) {
		fake := newProvider(t)
		r, store := newResolver(t, fake.URL)

		id, outcome := r.Resolve(ctx, "com.plexapp.agents.themoviedb://603?lang=en", models.Movie)
		assert.Equal(t, models.Resolved, outcome)
		assert.Equal(t, models.CanonicalID("plex://movie/matrix"), id)
		assert.Equal(t, 1, store.Len(cache.KindLegacy))

		id, _ = r.Resolve(ctx, "com.plexapp.agents.themoviedb://603?lang=en", models.Movie)
		assert.Equal(t, models.CanonicalID("plex://movie/matrix"), id)
		assert.Equal(t, 1, fake.Requests("/library/metadata/matches"), "second resolution is cached")
	})

	t.Run("Movie Without Match", func(t *testing.T) {
		fake := newProvider(t)
		r, _ := newResolver(t, fake.URL)

		id, outcome := r.Resolve(ctx, "com.plexapp.agents.themoviedb://1?lang=en", models.Movie)
		assert.Equal(t, models.NotFound, outcome)
		assert.Empty(t, id)
	})

	t.Run("Show", func(t *testing.T) {
		fake := newProvider(t)
		r, store := newResolver(t, fake.URL)

		id, outcome := r.Resolve(ctx, "com.plexapp.agents.thetvdb://81189?lang=en", models.Show)
		assert.Equal(t, models.Resolved, outcome)
		assert.Equal(t, models.CanonicalID("plex://show/bb"), id)
		assert.Equal(t, 1, store.Len(cache.KindTree))
	})

	t.Run("Episodes Share The Show Tree", func(t *testing.T) {
		fake := newProvider(t)
		r, store := newResolver(t, fake.URL)

		tests := []struct {
			guid string
			want models.CanonicalID
		}{
			{"com.plexapp.agents.thetvdb://81189/1/1?lang=en", "plex://episode/bb101"},
			{"com.plexapp.agents.thetvdb://81189/1/2?lang=en", "plex://episode/bb102"},
			{"com.plexapp.agents.thetvdb://81189/2/1?lang=en", "plex://episode/bb201"},
		}
		for _, tt := range tests {
			id, outcome := r.Resolve(ctx, tt.guid, models.Episode)
			assert.Equal(t, models.Resolved, outcome, tt.guid)
			assert.Equal(t, tt.want, id)
		}

		assert.Equal(t, 1, fake.Requests("/library/metadata/matches"))
		assert.Equal(t, 1, fake.Requests("/library/metadata/s1"))
		assert.Equal(t, 1, fake.Requests("/library/metadata/s1-1"))
		assert.Equal(t, 1, fake.Requests("/library/metadata/s1-2"))
		assert.Equal(t, 2, store.Len(cache.KindSeason))
	})

	t.Run("Episode Misses", func(t *testing.T) {
		fake := newProvider(t)
		r, _ := newResolver(t, fake.URL)

		tests := []struct {
			name string
			guid string
		}{
			{"single path segment", "com.plexapp.agents.thetvdb://12345/9"},
			{"three path segments", "com.plexapp.agents.thetvdb://81189/1/1/1"},
			{"empty episode", "com.plexapp.agents.thetvdb://81189/1/"},
			{"missing season", "com.plexapp.agents.thetvdb://81189/7/1"},
			{"missing episode", "com.plexapp.agents.thetvdb://81189/1/9"},
			{"unknown show", "com.plexapp.agents.thetvdb://1/1/1"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				id, outcome := r.Resolve(ctx, tt.guid, models.Episode)
				assert.Equal(t, models.NotFound, outcome)
				assert.Empty(t, id)
			})
		}

		assert.Equal(t, 2, fake.Requests("/library/metadata/matches"), "only well-formed paths reach the provider")
	})

	t.Run("Unmatched Show Is Looked Up Once", func(t *testing.T) {
		fake := newProvider(t)
		r, store := newResolver(t, fake.URL)

		for _, guid := range []string{
			"com.plexapp.agents.thetvdb://999/1/1?lang=en",
			"com.plexapp.agents.thetvdb://999/1/2?lang=en",
			"com.plexapp.agents.thetvdb://999/2/1?lang=en",
			"com.plexapp.agents.thetvdb://999?lang=en",
		} {
			kind := models.Episode
			if guid == "com.plexapp.agents.thetvdb://999?lang=en" {
				kind = models.Show
			}
			id, outcome := r.Resolve(ctx, guid, kind)
			assert.Equal(t, models.NotFound, outcome, guid)
			assert.Empty(t, id)
		}

		assert.Equal(t, 1, fake.Requests("/library/metadata/matches"))
		assert.Equal(t, 1, store.Len(cache.KindTree))
		assert.Zero(t, store.Len(cache.KindLegacy))

		assert.NoError(t, cache.ResetExport(store, "srv"))
		_, outcome := r.Resolve(ctx, "com.plexapp.agents.thetvdb://999/1/1?lang=en", models.Episode)
		assert.Equal(t, models.NotFound, outcome)
		assert.Equal(t, 2, fake.Requests("/library/metadata/matches"), "a new export asks again")
	})

	t.Run("Provider Down", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()
		r, store := newResolver(t, server.URL)

		id, outcome := r.Resolve(ctx, "com.plexapp.agents.themoviedb://603", models.Movie)
		assert.Equal(t, models.TransientError, outcome)
		assert.Empty(t, id)
		assert.Zero(t, store.Len(cache.KindLegacy), "failures are not cached")
	})
}
