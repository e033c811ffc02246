package tasks

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/wsx/internal/cache"
	"github.com/desertthunder/wsx/internal/models"
	"github.com/desertthunder/wsx/internal/services"
	"github.com/desertthunder/wsx/internal/shared"
	tu "github.com/desertthunder/wsx/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	capturedAt = 1_690_000_000 // before tu.FakePlex.Now
	laterAt    = 1_700_000_500 // after tu.FakePlex.Now
)

func newTransport() *services.Transport {
	return services.NewTransport(services.TransportOpts{Attempts: 1, Delay: time.Millisecond})
}

// passthrough resolves every GUID to itself.
type passthrough struct{}

func (passthrough) Resolve(_ context.Context, guid string, _ models.MediaKind) (models.CanonicalID, models.Outcome) {
	return models.CanonicalID(guid), models.Resolved
}

// memRepo is an in-memory models.Repository.
type memRepo[T models.Model] struct {
	mu    sync.Mutex
	rows  []T
	setID func(T, string)
}

func (r *memRepo[T]) Create(m T) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.setID(m, fmt.Sprintf("id-%d", len(r.rows)+1))
	r.rows = append(r.rows, m)
	return nil
}

func (r *memRepo[T]) Get(id string) (T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.rows {
		if m.ID() == id {
			return m, nil
		}
	}
	var zero T
	return zero, shared.ErrNotFound
}

func (r *memRepo[T]) Update(m T) error    { return m.Validate() }
func (r *memRepo[T]) Delete(string) error { return nil }

func (r *memRepo[T]) List(map[string]any) ([]T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]T(nil), r.rows...), nil
}

// account builds a plex.tv with an owner, two friends and a managed user without a server token.
func account(t *testing.T) *tu.FakePlexTV {
	t.Helper()
	tv := tu.NewFakePlexTV(t, tu.FakeAccount{ID: 1, Username: "owner", Email: "owner@example.com", Token: "owner-token"})
	tv.Friends = []tu.FakeAccount{
		{ID: 2, Username: "alice", Email: "alice@example.com"},
		{ID: 3, Username: "bob", Email: "bob@example.com"},
	}
	tv.Home = []tu.FakeAccount{{ID: 4, Title: "Kid"}}
	tv.ServerTokens[2] = "alice-token"
	tv.ServerTokens[3] = "bob-token"
	return tv
}

func sourceServer(t *testing.T) *tu.FakePlex {
	t.Helper()
	src := tu.NewFakePlex(t)
	for _, token := range []string{"owner-token", "alice-token", "bob-token"} {
		src.AddUser(token)
	}
	src.Deny("bob-token")
	src.AddSection("1", "Movies", "movie")
	src.AddItem(tu.FakeItem{RatingKey: "100", GUID: "plex://movie/a", Type: "movie", Title: "A", Section: "1", Duration: 7_200_000})
	src.SetState("alice-token", "100", tu.PlayState{ViewOffset: 3_600_000, LastViewedAt: capturedAt})
	src.SetState("owner-token", "100", tu.PlayState{ViewCount: 1, UserRating: 8, LastViewedAt: capturedAt, LastRatedAt: capturedAt})
	return src
}

func newEngine(t *testing.T, tv *tu.FakePlexTV, srv *tu.FakePlex, opts Options) *WatchEngine {
	t.Helper()
	transport := newTransport()
	directory := services.NewPlexTV(tv.URL, tv.OwnerToken, transport, nil)
	connect := func(token string) services.CatalogServer {
		return services.NewPlexServer(srv.URL, token, transport, nil)
	}
	opts.ServerURL = srv.URL
	return NewWatchEngine(directory, connect, passthrough{}, cache.NewMemoryStore(), opts)
}

func TestWatchEngine(t *testing.T) {
	ctx := context.Background()

	t.Run("Users", func(t *testing.T) {
		tv := account(t)
		e := newEngine(t, tv, sourceServer(t), Options{})

		jobs, _, err := e.Users(ctx)
		require.NoError(t, err)

		tokens := make(map[string]string)
		for _, j := range jobs {
			tokens[j.Username()] = j.Token
		}
		assert.Equal(t, map[string]string{
			"owner": "owner-token",
			"alice": "alice-token",
			"bob":   "bob-token",
			"Kid":   "",
		}, tokens)
	})

	t.Run("Users Allow-List", func(t *testing.T) {
		e := newEngine(t, account(t), sourceServer(t), Options{Users: []string{"ALICE@example.com"}})

		jobs, _, err := e.Users(ctx)
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, "alice", jobs[0].Username())
	})

	t.Run("Export", func(t *testing.T) {
		e := newEngine(t, account(t), sourceServer(t), Options{Workers: 2})
		progress := make(chan ProgressUpdate, 64)

		snapshot, report, err := e.Export(ctx, progress)
		require.NoError(t, err)

		assert.Equal(t, 2, report.Succeeded)
		assert.Equal(t, 2, report.Skipped, "bob is rejected and Kid has no token")
		assert.True(t, report.Partial())
		require.NotNil(t, e.LastRun())
		assert.Equal(t, models.RunPartial, e.LastRun().Status())
		assert.Empty(t, e.LastRun().ID(), "no ledger, nothing saved")

		require.Contains(t, snapshot, "alice")
		require.Contains(t, snapshot, "owner")
		assert.NotContains(t, snapshot, "bob")

		alice := snapshot["alice"].Movie["plex://movie/a"]
		require.NotNil(t, alice)
		assert.False(t, alice.Watched)
		assert.Equal(t, 0.5, alice.ViewPercent)

		owner := snapshot["owner"].Movie["plex://movie/a"]
		require.NotNil(t, owner)
		assert.True(t, owner.Watched)
		assert.Equal(t, "8.0", owner.UserRating)

		close(progress)
		var last ProgressUpdate
		for u := range progress {
			last = u
		}
		assert.Equal(t, Finished, last.Phase)
	})

	t.Run("Unreachable Server", func(t *testing.T) {
		src := sourceServer(t)
		e := newEngine(t, account(t), src, Options{})
		src.Close()

		_, _, err := e.Export(ctx, nil)
		assert.Error(t, err)
	})

	t.Run("Export Then Import", func(t *testing.T) {
		tv := account(t)
		snapshot, _, err := newEngine(t, tv, sourceServer(t), Options{}).Export(ctx, nil)
		require.NoError(t, err)

		dest := tu.NewFakePlex(t)
		dest.AddUser("owner-token")
		dest.AddUser("alice-token")
		dest.AddSection("1", "Films", "movie")
		dest.AddItem(tu.FakeItem{RatingKey: "900", GUID: "plex://movie/a", Type: "movie", Title: "A", Section: "1", Duration: 7_000_000})

		runs := &memRepo[*models.RunJob]{setID: (*models.RunJob).SetID}
		outcomes := &memRepo[*models.UserOutcome]{setID: (*models.UserOutcome).SetID}
		e := newEngine(t, tv, dest, Options{Workers: 1, UseCache: true}).WithLedger(&Ledger{Runs: runs, Outcomes: outcomes})

		report, err := e.Import(ctx, snapshot, nil)
		require.NoError(t, err)
		assert.Equal(t, 2, report.Succeeded)

		assert.Equal(t, tu.PlayState{ViewOffset: 3_500_000, LastViewedAt: dest.Now}, dest.State("alice-token", "900"))
		owner := dest.State("owner-token", "900")
		assert.Equal(t, 1, owner.ViewCount)
		assert.Equal(t, 8.0, owner.UserRating)

		require.Len(t, runs.rows, 1)
		assert.Equal(t, models.RunImport, runs.rows[0].Kind())
		assert.Equal(t, models.RunPartial, runs.rows[0].Status())
		assert.Equal(t, 4, runs.rows[0].UsersTotal())
		assert.Len(t, outcomes.rows, 4)

		dest.ResetMutations()
		report, err = e.Import(ctx, snapshot, nil)
		require.NoError(t, err)
		assert.Empty(t, dest.Mutations(), "a second import changes nothing")
		assert.Zero(t, report.Counts().Applied)
	})

	t.Run("Import Skips Users Missing From Snapshot", func(t *testing.T) {
		dest := tu.NewFakePlex(t)
		dest.AddUser("owner-token")
		dest.AddUser("alice-token")
		e := newEngine(t, account(t), dest, Options{Users: []string{"owner", "alice"}})

		snapshot := models.Snapshot{"alice": models.NewUserHistory("alice")}
		report, err := e.Import(ctx, snapshot, nil)
		require.NoError(t, err)

		require.Len(t, report.Results, 2)
		assert.Equal(t, "alice", report.Results[0].Username)
		assert.Equal(t, models.Resolved, report.Results[0].Outcome)
		assert.Equal(t, "owner", report.Results[1].Username)
		assert.Equal(t, models.Skipped, report.Results[1].Outcome)
		assert.Equal(t, "missing from snapshot", report.Results[1].Message)
	})
}
