package cache

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/wsx/internal/models"
	"github.com/desertthunder/wsx/internal/services"
	"github.com/desertthunder/wsx/internal/shared"
)

// Catalog maps canonical GUIDs to the rating keys of one destination server.
//
// Lookups are served from the store. A miss falls back to a live GUID search whose
// answer is written back, unless [Catalog.Warm] has already walked the whole library
// for that kind, in which case a miss is final. Empty answers are remembered for the
// life of the Catalog only, so titles added later are found by the next run.
type Catalog struct {
	store  Store
	server string
	logger *log.Logger

	mu       sync.RWMutex
	complete map[models.MediaKind]bool
	misses   map[string]struct{}
}

// NewCatalog creates a catalog for the server identified by server (its URL or machine id).
func NewCatalog(store Store, server string, logger *log.Logger) *Catalog {
	if logger == nil {
		logger = shared.NewLogger(io.Discard)
	}
	return &Catalog{store: store, server: server, logger: logger, complete: make(map[models.MediaKind]bool), misses: make(map[string]struct{})}
}

// Complete reports whether kind was fully enumerated by [Catalog.Warm].
func (c *Catalog) Complete(kind models.MediaKind) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.complete[kind]
}

// Lookup returns the rating keys carrying guid, searching srv on a miss.
func (c *Catalog) Lookup(ctx context.Context, srv services.CatalogServer, guid models.CanonicalID, kind models.MediaKind) ([]string, models.Outcome) {
	keys, ok, err := GetJSON[[]string](c.store, GUIDKind(c.server, kind), guid.String())
	if err != nil {
		c.logger.Warn("cache read failed", "guid", guid, "error", err)
	}
	if ok && len(keys) > 0 {
		return keys, models.Resolved
	}

	missKey := GUIDKind(c.server, kind) + "\x00" + guid.String()
	c.mu.RLock()
	_, missed := c.misses[missKey]
	complete := c.complete[kind]
	c.mu.RUnlock()
	if missed || complete {
		return nil, models.NotFound
	}

	items, err := srv.SearchGUID(ctx, guid.String(), kind)
	if err != nil {
		c.logger.Debug("guid search failed", "guid", guid, "kind", kind, "error", err)
		return nil, services.Classify(err)
	}

	keys = make([]string, 0, len(items))
	for _, it := range items {
		keys = append(keys, it.RatingKey)
	}
	if len(keys) == 0 {
		c.mu.Lock()
		c.misses[missKey] = struct{}{}
		c.mu.Unlock()
		return nil, models.NotFound
	}

	if err := PutJSON(c.store, GUIDKind(c.server, kind), guid.String(), keys); err != nil {
		c.logger.Warn("cache write failed", "guid", guid, "error", err)
	}
	return keys, models.Resolved
}

// Warm walks every movie, show and music section of srv once and indexes the canonical
// GUIDs of movies, shows, episodes and albums. Items without a canonical GUID are skipped.
func (c *Catalog) Warm(ctx context.Context, srv services.CatalogServer) error {
	sections, err := srv.Sections(ctx)
	if err != nil {
		return fmt.Errorf("failed to list sections: %w", err)
	}

	index := make(map[models.MediaKind]map[string][]string)
	add := func(kind models.MediaKind, it services.Item) {
		if !models.CanonicalID(it.GUID).IsCanonical() {
			return
		}
		if index[kind] == nil {
			index[kind] = make(map[string][]string)
		}
		index[kind][it.GUID] = append(index[kind][it.GUID], it.RatingKey)
	}

	warmed := make(map[models.MediaKind]bool)
	for _, section := range sections {
		kind, ok := models.SectionKind(section.Type)
		if !ok {
			continue
		}

		items, err := srv.SectionItems(ctx, section.Key, kind, nil)
		if err != nil {
			return fmt.Errorf("failed to walk section %s: %w", section.Title, err)
		}
		warmed[kind] = true

		for _, it := range items {
			add(kind, it)
			if child, ok := kind.Child(); ok && child == models.Episode {
				leaves, err := srv.Leaves(ctx, it.RatingKey)
				if err != nil {
					return fmt.Errorf("failed to walk %s: %w", it.Title, err)
				}
				for _, leaf := range leaves {
					add(models.Episode, leaf)
				}
				warmed[models.Episode] = true
			}
		}
		c.logger.Debug("warmed section", "section", section.Title, "items", len(items))
	}

	for kind := range warmed {
		if err := c.store.Clear(GUIDKind(c.server, kind)); err != nil {
			return err
		}
	}
	for kind, entries := range index {
		for guid, keys := range entries {
			if err := PutJSON(c.store, GUIDKind(c.server, kind), guid, keys); err != nil {
				return err
			}
		}
	}

	c.mu.Lock()
	for kind := range warmed {
		c.complete[kind] = true
	}
	c.mu.Unlock()
	return nil
}
