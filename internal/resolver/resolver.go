// Package resolver translates legacy metadata agent GUIDs into canonical plex:// GUIDs.
//
// Movies matched by the themoviedb agent translate with one provider call. Shows matched by
// the thetvdb agent translate through the show's provider tree, which is cached under the
// tvdb id; episodes walk that tree by season and episode index, caching each season.
// Any other scheme is returned unchanged and left to the caller to accept or drop.
package resolver

import (
	"context"
	"errors"
	"io"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/wsx/internal/cache"
	"github.com/desertthunder/wsx/internal/models"
	"github.com/desertthunder/wsx/internal/services"
	"github.com/desertthunder/wsx/internal/shared"
)

// EpisodeOrder is the ordering show trees are fetched in, so season/episode numbers
// match the ones legacy tvdb GUIDs carry.
const EpisodeOrder = "tvdbAiring"

// Resolver resolves legacy GUIDs. It is safe for concurrent use when its store is.
type Resolver struct {
	provider services.MetadataProvider
	store    cache.Store
	logger   *log.Logger
}

// New creates a Resolver backed by provider and caching into store.
func New(provider services.MetadataProvider, store cache.Store, logger *log.Logger) *Resolver {
	if logger == nil {
		logger = shared.NewLogger(io.Discard)
	}
	return &Resolver{provider: provider, store: store, logger: logger}
}

// Resolve returns the canonical GUID for guid as an item of kind.
//
// Canonical and unknown schemes come back unchanged with [models.Resolved]. A legacy GUID
// that cannot be translated comes back empty with [models.NotFound], or with
// [models.TransientError] when the provider could not be reached.
func (r *Resolver) Resolve(ctx context.Context, guid string, kind models.MediaKind) (models.CanonicalID, models.Outcome) {
	legacy, err := models.ParseLegacyID(guid)
	if err != nil {
		r.logger.Debug("unparseable guid", "guid", guid, "error", err)
		return "", models.NotFound
	}

	switch legacy.Scheme {
	case models.MovieAgentScheme, models.ShowAgentScheme:
	default:
		return models.CanonicalID(guid), models.Resolved
	}

	if cached, ok, err := cache.GetJSON[string](r.store, cache.KindLegacy, guid); err == nil && ok {
		return models.CanonicalID(cached), models.Resolved
	}

	var (
		id      models.CanonicalID
		outcome models.Outcome
	)
	switch {
	case legacy.Scheme == models.MovieAgentScheme:
		id, outcome = r.movie(ctx, legacy)
	case kind == models.Show:
		id, outcome = r.show(ctx, legacy)
	case kind == models.Episode:
		id, outcome = r.episode(ctx, legacy)
	default:
		return models.CanonicalID(guid), models.Resolved
	}

	if outcome != models.Resolved {
		r.logger.Debug("could not convert guid", "guid", guid, "kind", kind, "outcome", outcome)
		return "", outcome
	}

	r.logger.Debug("converted guid", "kind", kind, "from", guid, "to", id)
	if err := cache.PutJSON(r.store, cache.KindLegacy, guid, id.String()); err != nil {
		r.logger.Warn("cache write failed", "guid", guid, "error", err)
	}
	return id, models.Resolved
}

func (r *Resolver) movie(ctx context.Context, legacy models.LegacyID) (models.CanonicalID, models.Outcome) {
	match, err := r.provider.Match(ctx, models.Movie, models.MovieAgentScheme+"://"+legacy.AgentID)
	if err != nil {
		return "", services.Classify(err)
	}
	return nonEmpty(match.GUID)
}

func (r *Resolver) show(ctx context.Context, legacy models.LegacyID) (models.CanonicalID, models.Outcome) {
	tree, outcome := r.showTree(ctx, legacy.AgentID)
	if outcome != models.Resolved {
		return "", outcome
	}
	return nonEmpty(tree.GUID)
}

func (r *Resolver) episode(ctx context.Context, legacy models.LegacyID) (models.CanonicalID, models.Outcome) {
	seasonIndex, episodeIndex, ok := legacy.EpisodeCoords()
	if !ok {
		return "", models.NotFound
	}

	season, outcome := r.season(ctx, legacy.AgentID, seasonIndex)
	if outcome != models.Resolved {
		return "", outcome
	}

	ep, ok := season.Child(episodeIndex)
	if !ok {
		return "", models.NotFound
	}
	return nonEmpty(ep.GUID)
}

// showTree returns the show with its season list, from the cache or the provider.
func (r *Resolver) showTree(ctx context.Context, tvdbID string) (*services.MetadataItem, models.Outcome) {
	if tree, ok, err := cache.GetJSON[services.MetadataItem](r.store, cache.KindTree, tvdbID); err == nil && ok {
		if tree.RatingKey == "" {
			return nil, models.NotFound
		}
		return &tree, models.Resolved
	}

	match, err := r.provider.Match(ctx, models.Show, models.ShowAgentScheme+"://"+tvdbID)
	if err != nil {
		return nil, services.Classify(err)
	}
	if match.RatingKey == "" {
		// an empty tree marks the show as unmatched for the rest of the export
		if err := cache.PutJSON(r.store, cache.KindTree, tvdbID, services.MetadataItem{}); err != nil {
			r.logger.Warn("cache write failed", "tvdb", tvdbID, "error", err)
		}
		return nil, models.NotFound
	}

	tree, err := r.provider.Metadata(ctx, match.RatingKey, EpisodeOrder)
	if err != nil {
		return nil, services.Classify(err)
	}

	if err := cache.PutJSON(r.store, cache.KindTree, tvdbID, tree); err != nil {
		r.logger.Warn("cache write failed", "tvdb", tvdbID, "error", err)
	}
	return tree, models.Resolved
}

// season returns one season with its episodes, from the cache or the provider.
func (r *Resolver) season(ctx context.Context, tvdbID, index string) (*services.MetadataItem, models.Outcome) {
	key := tvdbID + "/" + index
	if season, ok, err := cache.GetJSON[services.MetadataItem](r.store, cache.KindSeason, key); err == nil && ok {
		return &season, models.Resolved
	}

	tree, outcome := r.showTree(ctx, tvdbID)
	if outcome != models.Resolved {
		return nil, outcome
	}

	listed, ok := tree.Child(index)
	if !ok {
		return nil, models.NotFound
	}

	season, err := r.provider.Metadata(ctx, listed.RatingKey, "")
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, models.NotFound
		}
		return nil, services.Classify(err)
	}

	if err := cache.PutJSON(r.store, cache.KindSeason, key, season); err != nil {
		r.logger.Warn("cache write failed", "season", key, "error", err)
	}
	return season, models.Resolved
}

func nonEmpty(guid string) (models.CanonicalID, models.Outcome) {
	if guid == "" {
		return "", models.NotFound
	}
	return models.CanonicalID(guid), models.Resolved
}
