package tasks

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/desertthunder/wsx/internal/cache"
	"github.com/desertthunder/wsx/internal/models"
	"github.com/desertthunder/wsx/internal/services"
	"github.com/desertthunder/wsx/internal/shared"
	tu "github.com/desertthunder/wsx/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func destination(t *testing.T) (*tu.FakePlex, services.CatalogServer) {
	t.Helper()
	fake, srv := library(t)
	fake.AddSection("1", "Movies", "movie")
	fake.AddSection("2", "TV", "show")
	fake.AddSection("3", "Music", "artist")
	fake.AddItem(
		tu.FakeItem{RatingKey: "m1", GUID: "plex://movie/a", Type: "movie", Title: "A", Section: "1", Duration: 7_000_000},
		tu.FakeItem{RatingKey: "m2", GUID: "plex://movie/broken", Type: "movie", Title: "Broken", Section: "1"},
		tu.FakeItem{RatingKey: "s1", GUID: "plex://show/s", Type: "show", Title: "S", Section: "2"},
		tu.FakeItem{RatingKey: "e1", GUID: "plex://episode/1", Type: "episode", Section: "2", Parent: "s1", ParentIndex: 1, Index: 1, Duration: 1000},
		tu.FakeItem{RatingKey: "e2", GUID: "plex://episode/2", Type: "episode", Section: "2", Parent: "s1", ParentIndex: 1, Index: 2, Duration: 1000},
		tu.FakeItem{RatingKey: "a1", GUID: "plex://album/a", Type: "album", Title: "Album", Section: "3"},
		tu.FakeItem{RatingKey: "t1", GUID: "plex://track/1", Type: "track", Section: "3", Parent: "a1", Index: 1, Duration: 180_000},
		tu.FakeItem{RatingKey: "t2", GUID: "plex://track/2", Type: "track", Section: "3", Parent: "a1", Index: 2, Duration: 200_000},
	)
	return fake, srv
}

func newApplier(url string, dryRun bool) *Applier {
	return NewApplier(cache.NewCatalog(cache.NewMemoryStore(), url, nil), ApplierOpts{DryRun: dryRun})
}

func movieHistory(rec *models.WatchRecord) *models.UserHistory {
	h := models.NewUserHistory("user")
	h.Movie[rec.GUID] = rec
	return h
}

func TestApplier(t *testing.T) {
	ctx := context.Background()
	captured := models.FromUnix(capturedAt)

	t.Run("Percent Survives Duration Change", func(t *testing.T) {
		fake, srv := destination(t)
		history := movieHistory(&models.WatchRecord{
			GUID: "plex://movie/a", ViewOffset: 3_600_000, ViewPercent: 0.5, LastViewedAt: captured,
		})

		res, err := newApplier(fake.URL, false).Apply(ctx, srv, history)
		require.NoError(t, err)
		assert.Equal(t, []string{"timeline m1 3500000"}, fake.Mutations())
		assert.Equal(t, models.ItemCounts{Applied: 1}, res.Counts)
		assert.Equal(t, 1, res.Mutations)
	})

	t.Run("Raw Offset Without Percent", func(t *testing.T) {
		fake, srv := destination(t)
		history := movieHistory(&models.WatchRecord{GUID: "plex://movie/a", ViewOffset: 1234, LastViewedAt: captured})

		_, err := newApplier(fake.URL, false).Apply(ctx, srv, history)
		require.NoError(t, err)
		assert.Equal(t, []string{"timeline m1 1234"}, fake.Mutations())
	})

	t.Run("View Count Replay And Rating", func(t *testing.T) {
		fake, srv := destination(t)
		fake.SetState(token, "m1", tu.PlayState{ViewCount: 1, LastViewedAt: capturedAt - 100})
		history := movieHistory(&models.WatchRecord{
			GUID: "plex://movie/a", Watched: true, ViewCount: 3, UserRating: "8.0",
			LastViewedAt: captured, LastRatedAt: captured,
		})

		_, err := newApplier(fake.URL, false).Apply(ctx, srv, history)
		require.NoError(t, err)
		assert.Equal(t, []string{"scrobble m1", "scrobble m1", "rate m1 8.0"}, fake.Mutations())

		state := fake.State(token, "m1")
		assert.Equal(t, 3, state.ViewCount)
		assert.Equal(t, 8.0, state.UserRating)
	})

	t.Run("Idempotent", func(t *testing.T) {
		fake, srv := destination(t)
		history := movieHistory(&models.WatchRecord{
			GUID: "plex://movie/a", Watched: true, ViewCount: 2, ViewPercent: 0.1, UserRating: "6.0",
			LastViewedAt: captured, LastRatedAt: captured,
		})
		applier := newApplier(fake.URL, false)

		_, err := applier.Apply(ctx, srv, history)
		require.NoError(t, err)
		first := fake.State(token, "m1")
		assert.Equal(t, 2, first.ViewCount)

		fake.ResetMutations()
		res, err := applier.Apply(ctx, srv, history)
		require.NoError(t, err)
		assert.Empty(t, fake.Mutations())
		assert.Equal(t, first, fake.State(token, "m1"))
		assert.Zero(t, res.Counts.Applied)
	})

	t.Run("Newer Destination View Wins", func(t *testing.T) {
		fake, srv := destination(t)
		fake.SetState(token, "m1", tu.PlayState{ViewOffset: 42, LastViewedAt: laterAt})
		history := movieHistory(&models.WatchRecord{
			GUID: "plex://movie/a", Watched: true, ViewCount: 4, ViewPercent: 0.75, LastViewedAt: captured,
		})

		res, err := newApplier(fake.URL, false).Apply(ctx, srv, history)
		require.NoError(t, err)
		assert.Empty(t, fake.Mutations())
		assert.Equal(t, tu.PlayState{ViewOffset: 42, LastViewedAt: laterAt}, fake.State(token, "m1"))
		assert.Equal(t, models.ItemCounts{Gated: 1}, res.Counts)
	})

	t.Run("Repeat Views Replay Past Newer Destination View", func(t *testing.T) {
		fake, srv := destination(t)
		fake.SetState(token, "m1", tu.PlayState{ViewCount: 1, ViewOffset: 42, LastViewedAt: laterAt})
		history := movieHistory(&models.WatchRecord{
			GUID: "plex://movie/a", Watched: true, ViewCount: 3, ViewPercent: 0.75, LastViewedAt: captured,
		})

		res, err := newApplier(fake.URL, false).Apply(ctx, srv, history)
		require.NoError(t, err)
		assert.Equal(t, []string{"scrobble m1", "scrobble m1"}, fake.Mutations(), "no timeline update behind the gate")
		assert.Equal(t, 3, fake.State(token, "m1").ViewCount)
		assert.Equal(t, models.ItemCounts{Applied: 1}, res.Counts)

		fake.ResetMutations()
		_, err = newApplier(fake.URL, false).Apply(ctx, srv, history)
		require.NoError(t, err)
		assert.Empty(t, fake.Mutations())
	})

	t.Run("Rating Gate Is Independent", func(t *testing.T) {
		fake, srv := destination(t)
		fake.SetState(token, "m1", tu.PlayState{UserRating: 5, LastRatedAt: laterAt})
		history := movieHistory(&models.WatchRecord{
			GUID: "plex://movie/a", Watched: true, ViewCount: 1, UserRating: "9.0",
			LastViewedAt: captured, LastRatedAt: captured,
		})

		_, err := newApplier(fake.URL, false).Apply(ctx, srv, history)
		require.NoError(t, err)
		assert.Equal(t, []string{"scrobble m1"}, fake.Mutations())
		assert.Equal(t, 5.0, fake.State(token, "m1").UserRating)
	})

	t.Run("Missing And Invalid Items", func(t *testing.T) {
		fake, srv := destination(t)
		history := models.NewUserHistory("user")
		history.Movie["plex://movie/none"] = &models.WatchRecord{GUID: "plex://movie/none", Watched: true}
		history.Movie["plex://movie/broken"] = &models.WatchRecord{GUID: "plex://movie/broken", Watched: true}

		res, err := newApplier(fake.URL, false).Apply(ctx, srv, history)
		require.NoError(t, err)
		assert.Empty(t, fake.Mutations())
		assert.Equal(t, models.ItemCounts{Missing: 2}, res.Counts)
	})

	t.Run("Show And Episodes", func(t *testing.T) {
		fake, srv := destination(t)
		history := models.NewUserHistory("user")
		history.Show["plex://show/s"] = &models.WatchRecord{
			GUID: "plex://show/s", Watched: true, LastViewedAt: captured,
			Episodes: map[models.CanonicalID]*models.WatchRecord{
				"plex://episode/1": {GUID: "plex://episode/1", Watched: true, ViewCount: 1, LastViewedAt: captured},
				"plex://episode/2": {GUID: "plex://episode/2", Watched: true, ViewCount: 1, LastViewedAt: captured},
			},
		}

		res, err := newApplier(fake.URL, false).Apply(ctx, srv, history)
		require.NoError(t, err)
		assert.Equal(t, []string{"scrobble s1", "scrobble e1", "scrobble e2"}, fake.Mutations())
		assert.Equal(t, 3, res.Counts.Applied)
	})

	t.Run("Tracks Match By Duration", func(t *testing.T) {
		fake, srv := destination(t)
		history := models.NewUserHistory("user")
		history.Album["plex://album/a"] = &models.WatchRecord{
			GUID: "plex://album/a",
			Tracks: map[models.CanonicalID]*models.WatchRecord{
				"180000": {GUID: "180000", Watched: true, ViewCount: 2},
				"999":    {GUID: "999", Watched: true, ViewCount: 1},
			},
		}

		res, err := newApplier(fake.URL, false).Apply(ctx, srv, history)
		require.NoError(t, err)
		assert.Equal(t, []string{"scrobble t1", "scrobble t1"}, fake.Mutations())
		assert.Equal(t, 1, res.Counts.Missing)
		assert.Zero(t, fake.State(token, "t2").ViewCount)
	})

	t.Run("Dry Run", func(t *testing.T) {
		fake, srv := destination(t)
		history := movieHistory(&models.WatchRecord{
			GUID: "plex://movie/a", Watched: true, ViewCount: 1, ViewPercent: 0.2, UserRating: "4.0",
		})

		res, err := newApplier(fake.URL, true).Apply(ctx, srv, history)
		require.NoError(t, err)
		assert.Empty(t, fake.Mutations())
		assert.Zero(t, res.Mutations)
		assert.Equal(t, 1, res.Counts.Applied)
	})

	t.Run("Timeline Failure Does Not Stop Rating", func(t *testing.T) {
		fake, srv := destination(t)
		fake.FailNext("/:/timeline", http.StatusInternalServerError)
		history := movieHistory(&models.WatchRecord{
			GUID: "plex://movie/a", ViewPercent: 0.5, UserRating: "7.0",
		})

		res, err := newApplier(fake.URL, false).Apply(ctx, srv, history)
		require.NoError(t, err)
		assert.Equal(t, []string{"rate m1 7.0"}, fake.Mutations())
		assert.Equal(t, models.ItemCounts{Failed: 1}, res.Counts)
	})

	t.Run("Unauthorized", func(t *testing.T) {
		fake, srv := destination(t)
		fake.Deny(token)
		history := movieHistory(&models.WatchRecord{GUID: "plex://movie/a", Watched: true})

		_, err := newApplier(fake.URL, false).Apply(ctx, srv, history)
		assert.True(t, errors.Is(err, shared.ErrUnauthorized))
	})

	t.Run("History Is Not Modified", func(t *testing.T) {
		fake, srv := destination(t)
		history := &models.UserHistory{Username: "user"}

		_, err := newApplier(fake.URL, false).Apply(ctx, srv, history)
		require.NoError(t, err)
		assert.Nil(t, history.Movie)
		assert.Nil(t, history.Show)
		assert.Nil(t, history.Album)
	})
}
