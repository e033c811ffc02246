package tasks

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/wsx/internal/cache"
	"github.com/desertthunder/wsx/internal/models"
	"github.com/desertthunder/wsx/internal/services"
	"github.com/desertthunder/wsx/internal/shared"
)

// IdentityResolver converts an item's GUID into a canonical identity.
type IdentityResolver interface {
	Resolve(ctx context.Context, guid string, kind models.MediaKind) (models.CanonicalID, models.Outcome)
}

// sectionFilters lists the section queries per top-level kind, fully watched first.
var sectionFilters = map[models.MediaKind][]services.Filter{
	models.Movie: {services.WatchedMovies, services.InProgressMovies},
	models.Show:  {services.WatchedShows, services.PartiallyWatchedShows, services.InProgressShows},
	models.Album: {services.WatchedAlbums, services.PartiallyWatchedAlbums, services.InProgressAlbums},
}

// AggregatorOpts configures an [Aggregator].
type AggregatorOpts struct {
	Server   string   // namespace of the rating-key memo, usually the server URL
	Sections []string // section titles to walk; empty walks every section
	Logger   *log.Logger
}

// Aggregator builds one user's [models.UserHistory] from a source server.
type Aggregator struct {
	resolver IdentityResolver
	store    cache.Store
	server   string
	allowed  shared.AllowList
	logger   *log.Logger
}

// NewAggregator creates an aggregator resolving identities through resolver and memoizing
// rating key → identity in store.
func NewAggregator(resolver IdentityResolver, store cache.Store, opts AggregatorOpts) *Aggregator {
	logger := opts.Logger
	if logger == nil {
		logger = shared.NewLogger(io.Discard)
	}
	return &Aggregator{
		resolver: resolver,
		store:    store,
		server:   opts.Server,
		allowed:  shared.NewAllowList(opts.Sections),
		logger:   logger,
	}
}

// Export walks the movie, show and music sections visible to srv, in that order, and folds
// every watched or in-progress item into one record per canonical identity.
//
// A fully watched record is never replaced by a partially watched one; a partially watched
// record is replaced by whatever is seen later. The same rule applies to episodes and tracks.
func (a *Aggregator) Export(ctx context.Context, srv services.CatalogServer, username string) (*models.UserHistory, models.ItemCounts, error) {
	var counts models.ItemCounts

	sections, err := a.sections(ctx, srv)
	if err != nil {
		return nil, counts, err
	}

	history := models.NewUserHistory(username)
	for _, section := range sections {
		kind, _ := models.SectionKind(section.Type)
		logger := a.logger.With("user", username, "section", section.Title)
		logger.Debug("processing section", "kind", kind)

		for _, filter := range sectionFilters[kind] {
			items, err := srv.SectionItems(ctx, section.Key, kind, filter)
			if err != nil {
				return nil, counts, fmt.Errorf("failed to list section %s: %w", section.Title, err)
			}

			for _, it := range items {
				if kind.IsContainer() {
					c, err := a.container(ctx, srv, history.Records(kind), kind, it, logger)
					if err != nil {
						return nil, counts, err
					}
					counts = counts.Add(c)
					continue
				}
				counts = counts.Add(a.leaf(ctx, history.Records(kind), kind, it, logger))
			}
		}
	}
	return history, counts, nil
}

// Warm resolves the identity of every movie, show, episode and album on srv up front,
// filling the rating-key memo so Export does not resolve item by item.
func (a *Aggregator) Warm(ctx context.Context, srv services.CatalogServer) (int, error) {
	sections, err := a.sections(ctx, srv)
	if err != nil {
		return 0, err
	}

	warmed := 0
	for _, section := range sections {
		kind, _ := models.SectionKind(section.Type)
		kinds := []models.MediaKind{kind}
		if kind == models.Show {
			kinds = append(kinds, models.Episode)
		}

		for _, k := range kinds {
			items, err := srv.SectionItems(ctx, section.Key, k, nil)
			if err != nil {
				return warmed, fmt.Errorf("failed to walk section %s: %w", section.Title, err)
			}
			for _, it := range items {
				if _, outcome := a.identity(ctx, it, k, a.logger); outcome == models.Resolved {
					warmed++
				}
			}
		}
		a.logger.Debug("warmed section", "section", section.Title, "items", warmed)
	}
	return warmed, nil
}

// sections lists the sections to walk: known types only, filtered by the allow-list,
// movie sections before show sections before music sections.
func (a *Aggregator) sections(ctx context.Context, srv services.CatalogServer) ([]services.Section, error) {
	all, err := srv.Sections(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sections: %w", err)
	}

	out := make([]services.Section, 0, len(all))
	for _, s := range all {
		if _, ok := models.SectionKind(s.Type); !ok {
			a.logger.Warn("skipping unprocessable section", "section", s.Title, "type", s.Type)
			continue
		}
		if !a.allowed.Allows(s.Title) {
			continue
		}
		out = append(out, s)
	}
	slices.SortStableFunc(out, func(x, y services.Section) int {
		return cmp.Compare(models.SectionOrder(x.Type), models.SectionOrder(y.Type))
	})
	return out, nil
}

// container records a show or album and its episodes or tracks.
func (a *Aggregator) container(ctx context.Context, srv services.CatalogServer, records map[models.CanonicalID]*models.WatchRecord, kind models.MediaKind, it services.Item, logger *log.Logger) (models.ItemCounts, error) {
	var counts models.ItemCounts

	id, outcome := a.identity(ctx, it, kind, logger)
	if outcome != models.Resolved {
		return tally(outcome), nil
	}

	watched := it.IsWatched()
	rec, seen := records[id]
	if seen && rec.Watched && !watched {
		logger.Debug("keeping fully watched "+kind.String(), "title", it.Title, "guid", id)
		return counts, nil
	}
	if !seen {
		rec = &models.WatchRecord{}
		records[id] = rec
	}
	fill(rec, id, it, kind)
	counts.Applied++

	leaves, err := srv.Leaves(ctx, it.RatingKey)
	if err != nil {
		if errors.Is(err, shared.ErrUnauthorized) {
			return counts, err
		}
		logger.Warn("failed to list children", "title", it.Title, "error", err)
		counts.Failed++
		return counts, nil
	}

	child, _ := kind.Child()
	children := rec.Children(kind)
	for _, leaf := range leaves {
		if leaf.ViewCount > 0 {
			counts = counts.Add(a.leaf(ctx, children, child, leaf, logger))
		}
	}
	if !watched {
		for _, leaf := range leaves {
			if leaf.ViewOffset > 0 {
				counts = counts.Add(a.leaf(ctx, children, child, leaf, logger))
			}
		}
	}
	return counts, nil
}

// leaf records a movie, episode or track.
func (a *Aggregator) leaf(ctx context.Context, records map[models.CanonicalID]*models.WatchRecord, kind models.MediaKind, it services.Item, logger *log.Logger) models.ItemCounts {
	id, outcome := a.identity(ctx, it, kind, logger)
	if outcome != models.Resolved {
		return tally(outcome)
	}
	if it.Duration <= 0 {
		logger.Warn("invalid "+kind.String()+" duration", "title", it.Title, "duration", it.Duration)
		return models.ItemCounts{Missing: 1}
	}

	if rec, seen := records[id]; seen && rec.Watched && !it.IsWatched() {
		logger.Debug("keeping fully watched "+kind.String(), "title", it.Title, "guid", id)
		return models.ItemCounts{}
	}

	rec := &models.WatchRecord{}
	fill(rec, id, it, kind)
	records[id] = rec
	return models.ItemCounts{Applied: 1}
}

// identity returns the canonical identity of it, from the rating-key memo or the resolver.
// Tracks have no GUID of their own and are identified by their duration.
func (a *Aggregator) identity(ctx context.Context, it services.Item, kind models.MediaKind, logger *log.Logger) (models.CanonicalID, models.Outcome) {
	if kind == models.Track {
		return models.CanonicalID(strconv.FormatInt(it.Duration, 10)), models.Resolved
	}

	memo := cache.RatingKeyKind(a.server, kind)
	cached, ok, err := cache.GetJSON[string](a.store, memo, it.RatingKey)
	if err != nil {
		logger.Warn("cache read failed", "ratingKey", it.RatingKey, "error", err)
	}

	id := models.CanonicalID(cached)
	if !ok {
		var outcome models.Outcome
		id, outcome = a.resolver.Resolve(ctx, it.GUID, kind)
		switch outcome {
		case models.Resolved:
		case models.NotFound:
			// memoized so other users skip the resolver; the canonical check below drops it
			id = models.CanonicalID(it.GUID)
			if id.IsCanonical() {
				id = ""
			}
		default:
			logger.Warn("skipping unresolvable "+kind.String(), "title", it.Title, "guid", it.GUID, "outcome", outcome)
			return "", outcome
		}
		if err := cache.PutJSON(a.store, memo, it.RatingKey, id.String()); err != nil {
			logger.Warn("cache write failed", "ratingKey", it.RatingKey, "error", err)
		}
	}

	if !id.IsCanonical() {
		logger.Warn("skipping unprocessable "+kind.String(), "title", it.Title, "guid", it.GUID)
		return "", models.NotFound
	}
	return id, models.Resolved
}

// fill overwrites the play state of rec from it, keeping nested children.
func fill(rec *models.WatchRecord, id models.CanonicalID, it services.Item, kind models.MediaKind) {
	rec.GUID = id
	rec.Title = it.Title
	rec.Watched = it.IsWatched()
	rec.UserRating = models.FormatRating(it.UserRating)
	rec.LastViewedAt = models.FromUnix(it.LastViewedAt)
	rec.LastRatedAt = models.FromUnix(it.LastRatedAt)
	rec.ViewCount, rec.ViewOffset, rec.ViewPercent = 0, 0, 0
	if kind.Timed() {
		rec.ViewCount = it.ViewCount
		rec.ViewOffset = it.ViewOffset
		rec.ViewPercent = models.ViewPercent(it.ViewOffset, it.Duration)
	}
}

// tally counts an item that could not be recorded.
func tally(outcome models.Outcome) models.ItemCounts {
	if outcome == models.TransientError {
		return models.ItemCounts{Failed: 1}
	}
	return models.ItemCounts{Missing: 1}
}
