package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/desertthunder/wsx/internal/models"
	"github.com/desertthunder/wsx/internal/shared"
	tu "github.com/desertthunder/wsx/internal/testing"
)

func newFakeLibrary(t *testing.T) *tu.FakePlex {
	t.Helper()
	fake := tu.NewFakePlex(t)
	fake.AddUser("owner")
	fake.AddSection("1", "Movies", "movie")
	fake.AddSection("2", "TV Shows", "show")
	fake.AddItem(
		tu.FakeItem{RatingKey: "10", GUID: "plex://movie/aaa", Type: "movie", Title: "Heat", Section: "1", Duration: 7_000_000},
		tu.FakeItem{RatingKey: "11", GUID: "plex://movie/bbb", Type: "movie", Title: "Ronin", Section: "1", Duration: 6_000_000},
		tu.FakeItem{RatingKey: "12", GUID: "plex://movie/ccc", Type: "movie", Title: "Collateral", Section: "1", Duration: 6_500_000},
		tu.FakeItem{RatingKey: "20", GUID: "plex://show/sss", Type: "show", Title: "Lost", Section: "2"},
		tu.FakeItem{RatingKey: "21", GUID: "plex://episode/e1", Type: "episode", Title: "Pilot", Section: "2", Parent: "20", ParentIndex: 1, Index: 1, Duration: 2_600_000},
		tu.FakeItem{RatingKey: "22", GUID: "plex://episode/e2", Type: "episode", Title: "Pilot 2", Section: "2", Parent: "20", ParentIndex: 1, Index: 2, Duration: 2_600_000},
	)
	fake.SetState("owner", "10", tu.PlayState{ViewCount: 2, LastViewedAt: 1_600_000_000, UserRating: 8, LastRatedAt: 1_600_000_100})
	fake.SetState("owner", "11", tu.PlayState{ViewOffset: 3_000_000, LastViewedAt: 1_600_000_200})
	fake.SetState("owner", "21", tu.PlayState{ViewCount: 1})
	return fake
}

func TestPlexServer(t *testing.T) {
	ctx := context.Background()

	t.Run("Identity", func(t *testing.T) {
		fake := newFakeLibrary(t)
		srv := NewPlexServer(fake.URL, "owner", newTestTransport(nil), nil)

		id, err := srv.Identity(ctx)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if id.MachineIdentifier != "fake-machine" {
			t.Errorf("expected machine id 'fake-machine', got %s", id.MachineIdentifier)
		}
	})

	t.Run("Identity Unauthorized", func(t *testing.T) {
		fake := newFakeLibrary(t)
		fake.AddUser("friend")
		fake.Deny("friend")

		srv := NewPlexServer(fake.URL, "owner", newTestTransport(nil), nil).WithToken("friend")
		_, err := srv.Identity(ctx)
		if !errors.Is(err, shared.ErrUnauthorized) {
			t.Fatalf("expected ErrUnauthorized, got %v", err)
		}
		if Classify(err) != models.Unauthorized {
			t.Errorf("expected Unauthorized outcome, got %s", Classify(err))
		}
	})

	t.Run("Sections", func(t *testing.T) {
		fake := newFakeLibrary(t)
		srv := NewPlexServer(fake.URL, "owner", newTestTransport(nil), nil)

		sections, err := srv.Sections(ctx)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(sections) != 2 || sections[1].Type != "show" {
			t.Errorf("unexpected sections %+v", sections)
		}
	})

	t.Run("SectionItems", func(t *testing.T) {
		fake := newFakeLibrary(t)
		srv := NewPlexServer(fake.URL, "owner", newTestTransport(nil), nil)

		tests := []struct {
			name    string
			section string
			kind    models.MediaKind
			filter  Filter
			want    []string
		}{
			{"watched movies", "1", models.Movie, WatchedMovies, []string{"10"}},
			{"in progress movies", "1", models.Movie, InProgressMovies, []string{"11"}},
			{"all movies", "1", models.Movie, nil, []string{"10", "11", "12"}},
			{"watched shows", "2", models.Show, WatchedShows, nil},
			{"partially watched shows", "2", models.Show, PartiallyWatchedShows, []string{"20"}},
			{"in progress shows", "2", models.Show, InProgressShows, nil},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				items, err := srv.SectionItems(ctx, tt.section, tt.kind, tt.filter)
				if err != nil {
					t.Fatalf("expected no error, got %v", err)
				}

				var got []string
				for _, it := range items {
					got = append(got, it.RatingKey)
				}
				if fmt.Sprint(got) != fmt.Sprint(tt.want) {
					t.Errorf("expected %v, got %v", tt.want, got)
				}
			})
		}
	})

	t.Run("SectionItems Paginates", func(t *testing.T) {
		var starts []string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := r.URL.Query().Get("X-Plex-Container-Start")
			starts = append(starts, start)

			if !strings.Contains(r.URL.RawQuery, "viewCount!=0") {
				t.Errorf("expected raw filter in query, got %s", r.URL.RawQuery)
			}

			count := pageSize
			if start != "0" {
				count = 3
			}
			var b strings.Builder
			b.WriteString(`{"MediaContainer":{"totalSize":` + fmt.Sprint(pageSize+3) + `,"Metadata":[`)
			for i := range count {
				if i > 0 {
					b.WriteString(",")
				}
				fmt.Fprintf(&b, `{"ratingKey":"%s-%d"}`, start, i)
			}
			b.WriteString("]}}")
			w.Write([]byte(b.String()))
		}))
		defer server.Close()

		srv := NewPlexServer(server.URL, "owner", newTestTransport(nil), nil)
		items, err := srv.SectionItems(ctx, "1", models.Movie, WatchedMovies)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(items) != pageSize+3 {
			t.Errorf("expected %d items, got %d", pageSize+3, len(items))
		}
		if fmt.Sprint(starts) != fmt.Sprintf("[0 %d]", pageSize) {
			t.Errorf("unexpected page starts %v", starts)
		}
	})

	t.Run("Item And Leaves", func(t *testing.T) {
		fake := newFakeLibrary(t)
		srv := NewPlexServer(fake.URL, "owner", newTestTransport(nil), nil)

		item, err := srv.Item(ctx, "10")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if item.ViewCount != 2 || item.UserRating != 8 || item.Duration != 7_000_000 {
			t.Errorf("unexpected item %+v", item)
		}
		if !item.IsWatched() {
			t.Error("expected movie with views to be watched")
		}

		show, err := srv.Item(ctx, "20")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if show.LeafCount != 2 || show.ViewedLeafCount != 1 || show.IsWatched() {
			t.Errorf("unexpected show %+v", show)
		}

		leaves, err := srv.Leaves(ctx, "20")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(leaves) != 2 || leaves[0].RatingKey != "21" || leaves[1].Index != 2 {
			t.Errorf("unexpected leaves %+v", leaves)
		}

		if _, err := srv.Item(ctx, "999"); !errors.Is(err, shared.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("SearchGUID", func(t *testing.T) {
		fake := newFakeLibrary(t)
		srv := NewPlexServer(fake.URL, "owner", newTestTransport(nil), nil)

		items, err := srv.SearchGUID(ctx, "plex://movie/bbb", models.Movie)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(items) != 1 || items[0].RatingKey != "11" {
			t.Errorf("unexpected search result %+v", items)
		}

		items, err = srv.SearchGUID(ctx, "plex://movie/bbb", models.Show)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(items) != 0 {
			t.Errorf("expected kind filter to exclude movie, got %+v", items)
		}
	})

	t.Run("Mutations", func(t *testing.T) {
		fake := newFakeLibrary(t)
		srv := NewPlexServer(fake.URL, "owner", newTestTransport(nil), nil)

		if err := srv.Scrobble(ctx, "12"); err != nil {
			t.Fatalf("scrobble: %v", err)
		}
		if err := srv.Rate(ctx, "12", "7.0"); err != nil {
			t.Fatalf("rate: %v", err)
		}
		if err := srv.UpdateTimeline(ctx, "12", 1234, 6_500_000); err != nil {
			t.Fatalf("timeline: %v", err)
		}

		state := fake.State("owner", "12")
		if state.ViewCount != 1 || state.UserRating != 7 || state.ViewOffset != 1234 {
			t.Errorf("unexpected state %+v", state)
		}

		want := "[scrobble 12 rate 12 7.0 timeline 12 1234]"
		if got := fmt.Sprint(fake.Mutations()); got != want {
			t.Errorf("expected mutations %s, got %s", want, got)
		}
	})

	t.Run("Scrobble Is Not Retried", func(t *testing.T) {
		fake := newFakeLibrary(t)
		fake.FailNext("/:/scrobble", http.StatusServiceUnavailable)
		srv := NewPlexServer(fake.URL, "owner", newTestTransport(nil), nil)

		if err := srv.Scrobble(ctx, "12"); !errors.Is(err, shared.ErrTransient) {
			t.Errorf("expected ErrTransient, got %v", err)
		}
		if state := fake.State("owner", "12"); state.ViewCount != 0 {
			t.Errorf("expected no view recorded, got %+v", state)
		}
	})

	t.Run("Timeline Is Retried", func(t *testing.T) {
		fake := newFakeLibrary(t)
		fake.FailNext("/:/timeline", http.StatusServiceUnavailable)
		srv := NewPlexServer(fake.URL, "owner", newTestTransport(nil), nil)

		if err := srv.UpdateTimeline(ctx, "12", 10, 6_500_000); err != nil {
			t.Errorf("expected retry to succeed, got %v", err)
		}
	})
}
