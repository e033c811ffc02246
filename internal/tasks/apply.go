package tasks

import (
	"context"
	"fmt"
	"io"
	"math"
	"slices"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/wsx/internal/cache"
	"github.com/desertthunder/wsx/internal/models"
	"github.com/desertthunder/wsx/internal/services"
	"github.com/desertthunder/wsx/internal/shared"
)

// ApplierOpts configures an [Applier].
type ApplierOpts struct {
	DryRun bool // log intended mutations without issuing them
	Logger *log.Logger
}

// Applier writes a [models.UserHistory] onto a destination server.
type Applier struct {
	catalog *cache.Catalog
	dryRun  bool
	logger  *log.Logger
}

// NewApplier creates an applier that finds destination items through catalog.
func NewApplier(catalog *cache.Catalog, opts ApplierOpts) *Applier {
	logger := opts.Logger
	if logger == nil {
		logger = shared.NewLogger(io.Discard)
	}
	return &Applier{catalog: catalog, dryRun: opts.DryRun, logger: logger}
}

// ApplyResult tallies one user's import.
type ApplyResult struct {
	Counts    models.ItemCounts
	Mutations int // remote calls issued; zero in dry-run mode
}

type itemStatus int

const (
	itemUnchanged itemStatus = iota
	itemApplied
	itemGated
	itemFailed
	itemInvalid
)

func (r *ApplyResult) add(s itemStatus) {
	switch s {
	case itemApplied:
		r.Counts.Applied++
	case itemGated:
		r.Counts.Gated++
	case itemFailed:
		r.Counts.Failed++
	case itemInvalid:
		r.Counts.Missing++
	}
}

// Apply resolves every record of history to destination items and applies its state.
//
// Watched state and position are applied only when the destination item was not viewed
// after the record was captured; the rating follows the same rule with rating timestamps.
// Missing items and failed calls are counted and logged. Only a rejected token aborts,
// with an error wrapping [shared.ErrUnauthorized]. history is never modified.
func (a *Applier) Apply(ctx context.Context, srv services.CatalogServer, history *models.UserHistory) (*ApplyResult, error) {
	res := &ApplyResult{}
	logger := a.logger.With("user", history.Username)

	top := []struct {
		kind    models.MediaKind
		records map[models.CanonicalID]*models.WatchRecord
	}{
		{models.Movie, history.Movie},
		{models.Show, history.Show},
		{models.Album, history.Album},
	}
	for _, group := range top {
		for _, id := range sortedIDs(group.records) {
			if err := a.applyRecord(ctx, srv, group.kind, group.records[id], res, logger); err != nil {
				return res, err
			}
		}
	}
	return res, nil
}

func (a *Applier) applyRecord(ctx context.Context, srv services.CatalogServer, kind models.MediaKind, rec *models.WatchRecord, res *ApplyResult, logger *log.Logger) error {
	keys, outcome := a.catalog.Lookup(ctx, srv, rec.GUID, kind)
	switch outcome {
	case models.Resolved:
	case models.Unauthorized:
		return fmt.Errorf("%w: searching %s", shared.ErrUnauthorized, rec.GUID)
	case models.NotFound:
		logger.Warn("missing "+kind.String()+" on destination", "title", rec.Title, "guid", rec.GUID)
		res.Counts.Missing++
	default:
		logger.Warn("failed to look up "+kind.String(), "title", rec.Title, "guid", rec.GUID, "outcome", outcome)
		res.Counts.Failed++
	}

	for _, rk := range keys {
		item, err := srv.Item(ctx, rk)
		if err != nil {
			logger.Warn("failed to fetch "+kind.String(), "title", rec.Title, "ratingKey", rk, "error", err)
			if services.Classify(err) == models.TransientError {
				res.add(itemFailed)
			} else {
				res.add(itemInvalid)
			}
			continue
		}
		res.add(a.applyItem(ctx, srv, kind, rec, item, res, logger))

		if kind == models.Album {
			a.applyTracks(ctx, srv, rec, rk, res, logger)
		}
	}

	if kind == models.Show {
		for _, id := range sortedIDs(rec.Episodes) {
			if err := a.applyRecord(ctx, srv, models.Episode, rec.Episodes[id], res, logger); err != nil {
				return err
			}
		}
	}
	return nil
}

// applyTracks matches track records to the album's tracks by duration.
func (a *Applier) applyTracks(ctx context.Context, srv services.CatalogServer, album *models.WatchRecord, albumKey string, res *ApplyResult, logger *log.Logger) {
	if len(album.Tracks) == 0 {
		return
	}

	leaves, err := srv.Leaves(ctx, albumKey)
	if err != nil {
		logger.Warn("failed to list tracks", "album", album.Title, "error", err)
		res.Counts.Failed += len(album.Tracks)
		return
	}

	byDuration := make(map[models.CanonicalID][]services.Item, len(leaves))
	for _, leaf := range leaves {
		id := models.CanonicalID(strconv.FormatInt(leaf.Duration, 10))
		byDuration[id] = append(byDuration[id], leaf)
	}

	for _, id := range sortedIDs(album.Tracks) {
		matches := byDuration[id]
		if len(matches) == 0 {
			logger.Warn("missing track on destination", "album", album.Title, "title", album.Tracks[id].Title, "duration", id)
			res.Counts.Missing++
			continue
		}
		for i := range matches {
			res.add(a.applyItem(ctx, srv, models.Track, album.Tracks[id], &matches[i], res, logger))
		}
	}
}

// applyItem applies rec to one destination item.
func (a *Applier) applyItem(ctx context.Context, srv services.CatalogServer, kind models.MediaKind, rec *models.WatchRecord, item *services.Item, res *ApplyResult, logger *log.Logger) itemStatus {
	logger = logger.With("kind", kind, "title", item.Title, "ratingKey", item.RatingKey)
	if kind.Timed() && item.Duration <= 0 {
		logger.Warn("invalid duration", "duration", item.Duration)
		return itemInvalid
	}

	var applied, gated, failed bool
	mutate := func(action string, call func() error, args ...any) bool {
		if a.dryRun {
			logger.Info("dry run: would "+action, args...)
			applied = true
			return true
		}
		if err := call(); err != nil {
			logger.Warn(action+" failed", append(args, "error", err)...)
			failed = true
			return false
		}
		logger.Debug(action, args...)
		res.Mutations++
		applied = true
		return true
	}
	scrobble := func() error { return srv.Scrobble(ctx, item.RatingKey) }

	viewCount := item.ViewCount
	watched := item.IsWatched()
	replay := func() {
		for kind.Timed() && viewCount < rec.ViewCount && !failed {
			if !mutate("scrobble", scrobble, "viewCount", viewCount+1) {
				return
			}
			viewCount++
			watched = true
		}
	}

	// only the first play of an unplayed item waits for the view gate
	if item.ViewCount > 0 {
		replay()
	}

	if models.FromUnix(item.LastViewedAt).NotAfter(rec.LastViewedAt) {
		replay()

		if rec.Watched && !watched && !failed {
			mutate("scrobble", scrobble)
		}

		if kind.Timed() {
			if offset := position(rec, item.Duration); offset > 0 && offset != item.ViewOffset {
				mutate("update timeline", func() error {
					return srv.UpdateTimeline(ctx, item.RatingKey, offset, item.Duration)
				}, "offset", offset)
			}
		}
	} else {
		logger.Debug("destination viewed more recently", "destination", models.FromUnix(item.LastViewedAt), "record", rec.LastViewedAt)
		gated = true
	}

	if rec.UserRating != "" && rec.UserRating != models.FormatRating(item.UserRating) {
		if models.FromUnix(item.LastRatedAt).NotAfter(rec.LastRatedAt) {
			mutate("rate", func() error { return srv.Rate(ctx, item.RatingKey, rec.UserRating) }, "rating", rec.UserRating)
		} else {
			logger.Debug("destination rated more recently", "destination", models.FromUnix(item.LastRatedAt), "record", rec.LastRatedAt)
			gated = true
		}
	}

	switch {
	case failed:
		return itemFailed
	case applied:
		return itemApplied
	case gated:
		return itemGated
	default:
		return itemUnchanged
	}
}

// position returns the playback offset to set on an item of duration ms. The percentage
// wins over the raw offset because it survives duration differences between servers.
func position(rec *models.WatchRecord, duration int64) int64 {
	if rec.ViewPercent > 0 {
		return int64(math.Round(rec.ViewPercent * float64(duration)))
	}
	return rec.ViewOffset
}

func sortedIDs(records map[models.CanonicalID]*models.WatchRecord) []models.CanonicalID {
	ids := make([]models.CanonicalID, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
