package models

import "fmt"

// MediaKind is the closed set of item kinds the engine understands.
type MediaKind int

const (
	Movie MediaKind = iota
	Show
	Episode
	Album
	Track
)

// kindInfo is one row of the per-kind dispatch table.
type kindInfo struct {
	name       string
	searchType int       // Plex "type" query parameter
	child      MediaKind // leaf kind for containers, -1 otherwise
	timed      bool      // carries a duration and playback offset
}

var kinds = [...]kindInfo{
	Movie:   {name: "movie", searchType: 1, child: -1, timed: true},
	Show:    {name: "show", searchType: 2, child: Episode},
	Episode: {name: "episode", searchType: 4, child: -1, timed: true},
	Album:   {name: "album", searchType: 9, child: Track},
	Track:   {name: "track", searchType: 10, child: -1, timed: true},
}

// AllKinds lists every [MediaKind] in declaration order.
var AllKinds = []MediaKind{Movie, Show, Episode, Album, Track}

func (k MediaKind) valid() bool { return k >= Movie && k <= Track }

func (k MediaKind) String() string {
	if !k.valid() {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kinds[k].name
}

// SearchType returns the numeric type Plex uses in library queries.
func (k MediaKind) SearchType() int {
	if !k.valid() {
		return 0
	}
	return kinds[k].searchType
}

// Child returns the leaf kind nested under a container (Show→Episode, Album→Track).
func (k MediaKind) Child() (MediaKind, bool) {
	if !k.valid() || kinds[k].child < 0 {
		return 0, false
	}
	return kinds[k].child, true
}

// IsContainer reports whether records of this kind nest children.
func (k MediaKind) IsContainer() bool {
	_, ok := k.Child()
	return ok
}

// Timed reports whether the kind has a duration, so offsets and the duration validity rule apply.
func (k MediaKind) Timed() bool {
	return k.valid() && kinds[k].timed
}

// ParseMediaKind maps a Plex item type string to a [MediaKind].
func ParseMediaKind(s string) (MediaKind, error) {
	for _, k := range AllKinds {
		if kinds[k].name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown media kind %q", s)
}

// SectionKind maps a library section type to the top-level kind enumerated from it.
// Music sections ("artist") are walked by album.
func SectionKind(sectionType string) (MediaKind, bool) {
	switch sectionType {
	case "movie":
		return Movie, true
	case "show":
		return Show, true
	case "artist":
		return Album, true
	default:
		return 0, false
	}
}

// SectionOrder ranks section types so that movie sections are processed before
// show sections, and show sections before music sections.
func SectionOrder(sectionType string) int {
	switch sectionType {
	case "movie":
		return 0
	case "show":
		return 1
	case "artist":
		return 2
	default:
		return 3
	}
}
