package services

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/wsx/internal/models"
	"github.com/desertthunder/wsx/internal/shared"
	"github.com/goccy/go-json"
)

const (
	pageSize          = 1000
	libraryIdentifier = "com.plexapp.plugins.library"
)

// Filter is a list of raw Plex filter fragments such as "viewCount!=0" or "inProgress=1".
//
// Plex uses "!=" as an operator inside the query string, so fragments are appended verbatim
// instead of going through [url.Values] encoding.
type Filter []string

// Encode joins the fragments with "&".
func (f Filter) Encode() string { return strings.Join(f, "&") }

// Movie, show and album section filters used by the aggregator.
var (
	WatchedMovies          = Filter{"viewCount!=0"}
	InProgressMovies       = Filter{"viewCount=0", "inProgress=1"}
	WatchedShows           = Filter{"unwatchedLeaves=0"}
	PartiallyWatchedShows  = Filter{"unwatchedLeaves=1", "episode.viewCount!=0"}
	InProgressShows        = Filter{"unwatchedLeaves=1", "show.viewCount=0", "episode.inProgress=1"}
	WatchedAlbums          = Filter{"unwatchedLeaves=0"}
	PartiallyWatchedAlbums = Filter{"unwatchedLeaves=1", "track.viewCount!=0"}
	InProgressAlbums       = Filter{"unwatchedLeaves=1", "album.viewCount=0", "track.inProgress=1"}
)

// mediaContainer is the envelope of every Plex Media Server JSON response.
type mediaContainer struct {
	MediaContainer struct {
		Size              int       `json:"size"`
		TotalSize         int       `json:"totalSize"`
		MachineIdentifier string    `json:"machineIdentifier"`
		FriendlyName      string    `json:"friendlyName"`
		Version           string    `json:"version"`
		Directory         []Section `json:"Directory"`
		Metadata          []Item    `json:"Metadata"`
	} `json:"MediaContainer"`
}

// PlexServer implements [CatalogServer] for one token on one Plex Media Server.
type PlexServer struct {
	baseURL   string
	token     string
	transport *Transport
	logger    *log.Logger
}

// NewPlexServer creates a session against baseURL authenticated with token.
// Sessions for different users may share a transport.
func NewPlexServer(baseURL, token string, transport *Transport, logger *log.Logger) *PlexServer {
	if transport == nil {
		transport = NewTransport(TransportOpts{Logger: logger})
	}
	if logger == nil {
		logger = transport.logger
	}
	return &PlexServer{
		baseURL:   strings.TrimRight(baseURL, "/"),
		token:     token,
		transport: transport,
		logger:    logger,
	}
}

// WithToken returns a session on the same server for another user.
func (p *PlexServer) WithToken(token string) *PlexServer {
	return &PlexServer{baseURL: p.baseURL, token: token, transport: p.transport, logger: p.logger}
}

func (p *PlexServer) URL() string { return p.baseURL }

func (p *PlexServer) Identity(ctx context.Context) (*ServerIdentity, error) {
	var mc mediaContainer
	if err := p.get(ctx, "/", nil, nil, &mc); err != nil {
		return nil, err
	}
	return &ServerIdentity{
		MachineIdentifier: mc.MediaContainer.MachineIdentifier,
		FriendlyName:      mc.MediaContainer.FriendlyName,
		Version:           mc.MediaContainer.Version,
	}, nil
}

func (p *PlexServer) Sections(ctx context.Context) ([]Section, error) {
	var mc mediaContainer
	if err := p.get(ctx, "/library/sections", nil, nil, &mc); err != nil {
		return nil, err
	}
	return mc.MediaContainer.Directory, nil
}

// SectionItems pages through the section [pageSize] items at a time until totalSize is reached.
func (p *PlexServer) SectionItems(ctx context.Context, sectionKey string, kind models.MediaKind, filter Filter) ([]Item, error) {
	path := "/library/sections/" + url.PathEscape(sectionKey) + "/all"

	var items []Item
	for start := 0; ; start += pageSize {
		query := url.Values{}
		query.Set("type", strconv.Itoa(kind.SearchType()))
		query.Set("includeGuids", "1")
		query.Set("X-Plex-Container-Start", strconv.Itoa(start))
		query.Set("X-Plex-Container-Size", strconv.Itoa(pageSize))

		var mc mediaContainer
		if err := p.get(ctx, path, query, filter, &mc); err != nil {
			return nil, fmt.Errorf("failed to list section %s: %w", sectionKey, err)
		}

		page := mc.MediaContainer.Metadata
		items = append(items, page...)

		total := mc.MediaContainer.TotalSize
		if len(page) == 0 || len(page) < pageSize || (total > 0 && len(items) >= total) {
			break
		}
	}

	p.logger.Debug("listed section", "section", sectionKey, "kind", kind, "filter", filter.Encode(), "count", len(items))
	return items, nil
}

func (p *PlexServer) Item(ctx context.Context, ratingKey string) (*Item, error) {
	var mc mediaContainer
	if err := p.get(ctx, "/library/metadata/"+url.PathEscape(ratingKey), nil, nil, &mc); err != nil {
		return nil, err
	}
	if len(mc.MediaContainer.Metadata) == 0 {
		return nil, fmt.Errorf("%w: rating key %s", shared.ErrNotFound, ratingKey)
	}
	return &mc.MediaContainer.Metadata[0], nil
}

func (p *PlexServer) Leaves(ctx context.Context, ratingKey string) ([]Item, error) {
	var mc mediaContainer
	if err := p.get(ctx, "/library/metadata/"+url.PathEscape(ratingKey)+"/allLeaves", nil, nil, &mc); err != nil {
		return nil, err
	}
	return mc.MediaContainer.Metadata, nil
}

func (p *PlexServer) SearchGUID(ctx context.Context, guid string, kind models.MediaKind) ([]Item, error) {
	query := url.Values{}
	query.Set("guid", guid)
	query.Set("type", strconv.Itoa(kind.SearchType()))

	var mc mediaContainer
	if err := p.get(ctx, "/library/all", query, nil, &mc); err != nil {
		return nil, err
	}
	return mc.MediaContainer.Metadata, nil
}

// Scrobble is never retried: a retried scrobble that reached the server counts twice.
func (p *PlexServer) Scrobble(ctx context.Context, ratingKey string) error {
	query := url.Values{}
	query.Set("key", ratingKey)
	query.Set("identifier", libraryIdentifier)
	return p.send(ctx, http.MethodGet, "/:/scrobble", query, false)
}

func (p *PlexServer) Rate(ctx context.Context, ratingKey, rating string) error {
	query := url.Values{}
	query.Set("key", ratingKey)
	query.Set("identifier", libraryIdentifier)
	query.Set("rating", rating)
	return p.send(ctx, http.MethodPut, "/:/rate", query, true)
}

func (p *PlexServer) UpdateTimeline(ctx context.Context, ratingKey string, offset, duration int64) error {
	query := url.Values{}
	query.Set("ratingKey", ratingKey)
	query.Set("key", "/library/metadata/"+ratingKey)
	query.Set("identifier", libraryIdentifier)
	query.Set("time", strconv.FormatInt(offset, 10))
	query.Set("duration", strconv.FormatInt(duration, 10))
	query.Set("state", "stopped")
	return p.send(ctx, http.MethodGet, "/:/timeline", query, true)
}

func (p *PlexServer) endpoint(path string, query url.Values, filter Filter) string {
	u := p.baseURL + path
	parts := make([]string, 0, 2)
	if len(query) > 0 {
		parts = append(parts, query.Encode())
	}
	if len(filter) > 0 {
		parts = append(parts, filter.Encode())
	}
	if len(parts) > 0 {
		u += "?" + strings.Join(parts, "&")
	}
	return u
}

func (p *PlexServer) get(ctx context.Context, path string, query url.Values, filter Filter, result any) error {
	resp, err := p.transport.Do(ctx, Request{
		Method:     http.MethodGet,
		URL:        p.endpoint(path, query, filter),
		Token:      p.token,
		Idempotent: true,
	})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Body, result); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}

func (p *PlexServer) send(ctx context.Context, method, path string, query url.Values, idempotent bool) error {
	_, err := p.transport.Do(ctx, Request{
		Method:     method,
		URL:        p.endpoint(path, query, nil),
		Token:      p.token,
		Idempotent: idempotent,
	})
	return err
}
