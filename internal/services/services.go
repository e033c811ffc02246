package services

import (
	"context"
	"errors"
	"strconv"

	"github.com/desertthunder/wsx/internal/models"
	"github.com/desertthunder/wsx/internal/shared"
)

// CatalogServer is one authenticated session against a Plex Media Server.
//
// Each user gets its own CatalogServer; sessions are never shared between workers.
type CatalogServer interface {
	// URL returns the server base URL.
	URL() string

	// Identity fetches the server root. It fails with [shared.ErrUnauthorized] when the token
	// has no access, which is how a user without shared libraries shows up.
	Identity(ctx context.Context) (*ServerIdentity, error)

	// Sections lists the library sections visible to the token.
	Sections(ctx context.Context) ([]Section, error)

	// SectionItems pages through every item of kind in a section matching filter.
	SectionItems(ctx context.Context, sectionKey string, kind models.MediaKind, filter Filter) ([]Item, error)

	// Item fetches one item by rating key.
	Item(ctx context.Context, ratingKey string) (*Item, error)

	// Leaves lists every episode of a show or track of an album.
	Leaves(ctx context.Context, ratingKey string) ([]Item, error)

	// SearchGUID finds every item of kind carrying guid across all sections.
	SearchGUID(ctx context.Context, guid string, kind models.MediaKind) ([]Item, error)

	// Scrobble marks an item played once, incrementing its view count.
	Scrobble(ctx context.Context, ratingKey string) error

	// Rate sets the user rating.
	Rate(ctx context.Context, ratingKey, rating string) error

	// UpdateTimeline sets the playback position in milliseconds.
	UpdateTimeline(ctx context.Context, ratingKey string, offset, duration int64) error
}

// MetadataProvider translates legacy agent ids to canonical GUIDs and exposes show trees.
type MetadataProvider interface {
	// Match looks up a legacy agent GUID and returns the first match.
	Match(ctx context.Context, kind models.MediaKind, legacyGUID string) (*MetadataItem, error)

	// Metadata fetches an item with its children (seasons of a show, episodes of a season).
	Metadata(ctx context.Context, ratingKey string, episodeOrder string) (*MetadataItem, error)
}

// AccountDirectory lists the owner and users of a Plex account.
type AccountDirectory interface {
	Owner(ctx context.Context) (*Account, error)
	Users(ctx context.Context) ([]Account, error)
	// ServerTokens maps plex.tv user id to that user's access token on the server.
	ServerTokens(ctx context.Context, machineID string) (map[int64]string, error)
}

// ServerIdentity describes a Plex Media Server.
type ServerIdentity struct {
	MachineIdentifier string `json:"machineIdentifier"`
	FriendlyName      string `json:"friendlyName"`
	Version           string `json:"version"`
}

// Section is a library section.
type Section struct {
	Key   string `json:"key"`
	Title string `json:"title"`
	Type  string `json:"type"`
}

// Item is a library item as reported for the token's user.
type Item struct {
	RatingKey        string  `json:"ratingKey"`
	Key              string  `json:"key"`
	GUID             string  `json:"guid"`
	Type             string  `json:"type"`
	Title            string  `json:"title"`
	ParentTitle      string  `json:"parentTitle"`
	GrandparentTitle string  `json:"grandparentTitle"`
	Index            int     `json:"index"`
	ParentIndex      int     `json:"parentIndex"`
	Duration         int64   `json:"duration"`
	ViewCount        int     `json:"viewCount"`
	ViewOffset       int64   `json:"viewOffset"`
	UserRating       float64 `json:"userRating"`
	LastViewedAt     int64   `json:"lastViewedAt"`
	LastRatedAt      int64   `json:"lastRatedAt"`
	LeafCount        int     `json:"leafCount"`
	ViewedLeafCount  int     `json:"viewedLeafCount"`
}

// IsWatched reports whether the item is fully watched: every leaf for shows and albums,
// at least one complete view otherwise.
func (i Item) IsWatched() bool {
	switch i.Type {
	case "show", "season", "album", "artist":
		return i.LeafCount > 0 && i.ViewedLeafCount >= i.LeafCount
	default:
		return i.ViewCount > 0
	}
}

// MetadataItem is a node of the metadata provider's tree.
type MetadataItem struct {
	RatingKey string       `json:"ratingKey"`
	GUID      string       `json:"guid"`
	Type      string       `json:"type"`
	Title     string       `json:"title"`
	Index     int          `json:"index"`
	Children  *ChildrenSet `json:"Children,omitempty"`
}

// ChildrenSet wraps nested metadata.
type ChildrenSet struct {
	Metadata []MetadataItem `json:"Metadata"`
}

// Child finds the direct child whose display index matches index. There is no keyed
// lookup for seasons or episodes, so this is a linear scan.
func (m *MetadataItem) Child(index string) (*MetadataItem, bool) {
	if m == nil || m.Children == nil {
		return nil, false
	}
	for i := range m.Children.Metadata {
		if strconv.Itoa(m.Children.Metadata[i].Index) == index {
			return &m.Children.Metadata[i], true
		}
	}
	return nil, false
}

// Account is the owner or a user of a Plex account.
type Account struct {
	ID       int64  `json:"id"`
	UUID     string `json:"uuid"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Title    string `json:"title"`
	Token    string `json:"authToken,omitempty"`
	Owner    bool   `json:"-"`
}

// Name is the snapshot key for the account.
func (a Account) Name() string {
	return shared.ResolveUsername(a.Username, a.Email, a.Title, a.ID)
}

// Classify maps an error from this package onto an [models.Outcome].
func Classify(err error) models.Outcome {
	switch {
	case err == nil:
		return models.Resolved
	case errors.Is(err, shared.ErrUnauthorized):
		return models.Unauthorized
	case errors.Is(err, shared.ErrNotFound):
		return models.NotFound
	default:
		return models.TransientError
	}
}
