package models

import (
	"fmt"
	"net/url"
	"strings"
)

// CanonicalScheme is the GUID scheme shared by every Plex server for the same content.
const CanonicalScheme = "plex"

// Legacy agent schemes that need translation before they can be matched across servers.
const (
	MovieAgentScheme = "com.plexapp.agents.themoviedb"
	ShowAgentScheme  = "com.plexapp.agents.thetvdb"
)

// CanonicalID names a piece of content across servers, e.g. plex://movie/5d7768ba96b655001fdc0408.
//
// When resolution fails the raw server GUID is carried instead, so a CanonicalID
// is not guaranteed to be canonical; check [CanonicalID.IsCanonical].
type CanonicalID string

// Scheme returns the lower-cased URL scheme, or "" when the value does not parse.
func (c CanonicalID) Scheme() string {
	u, err := url.Parse(string(c))
	if err != nil {
		return ""
	}
	return u.Scheme
}

// IsCanonical reports whether the identity can be safely merged across servers.
func (c CanonicalID) IsCanonical() bool {
	return c.Scheme() == CanonicalScheme
}

func (c CanonicalID) String() string { return string(c) }

// LegacyID is a server-native GUID tagged with an agent scheme,
// e.g. com.plexapp.agents.thetvdb://73739/2/5?lang=en.
type LegacyID struct {
	Raw     string
	Scheme  string
	AgentID string // host part: the agent's numeric id
	Path    string // "/<season>/<episode>" for episodes
}

// ParseLegacyID splits a GUID into its agent parts.
func ParseLegacyID(guid string) (LegacyID, error) {
	u, err := url.Parse(guid)
	if err != nil {
		return LegacyID{}, fmt.Errorf("invalid guid %q: %w", guid, err)
	}
	return LegacyID{Raw: guid, Scheme: u.Scheme, AgentID: u.Host, Path: u.Path}, nil
}

// EpisodeCoords returns the season and episode indexes embedded in the path.
// The path must have exactly two non-empty segments.
func (l LegacyID) EpisodeCoords() (season, episode string, ok bool) {
	parts := strings.Split(l.Path, "/")
	if len(parts) != 3 || parts[0] != "" || parts[1] == "" || parts[2] == "" {
		return "", "", false
	}
	return parts[1], parts[2], true
}
