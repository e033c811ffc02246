package models

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// TimestampLayout is the snapshot timestamp format (UTC, second precision).
const TimestampLayout = "2006-01-02T15:04:05Z"

// UnsetTimestamp is written in place of a missing timestamp.
const UnsetTimestamp = "1000-01-01T00:00:00Z"

// Timestamp is a second-precision UTC time whose zero value means "never".
type Timestamp struct {
	time.Time
}

// NewTimestamp truncates t to seconds in UTC.
func NewTimestamp(t time.Time) Timestamp {
	if t.IsZero() {
		return Timestamp{}
	}
	return Timestamp{t.UTC().Truncate(time.Second)}
}

// FromUnix converts a Plex epoch-seconds attribute; 0 is unset.
func FromUnix(sec int64) Timestamp {
	if sec <= 0 {
		return Timestamp{}
	}
	return Timestamp{time.Unix(sec, 0).UTC()}
}

// IsSet reports whether the timestamp carries a real value.
func (t Timestamp) IsSet() bool { return !t.IsZero() }

// NotAfter reports whether t is at or before o. Unset sorts before every set value.
func (t Timestamp) NotAfter(o Timestamp) bool {
	return !t.Time.After(o.Time)
}

func (t Timestamp) String() string {
	if !t.IsSet() {
		return UnsetTimestamp
	}
	return t.UTC().Format(TimestampLayout)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(t.String())), nil
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	s, err := strconv.Unquote(string(data))
	if err != nil {
		return fmt.Errorf("timestamp must be a string: %w", err)
	}
	if s == "" || s == UnsetTimestamp {
		*t = Timestamp{}
		return nil
	}
	parsed, err := time.Parse(TimestampLayout, s)
	if err != nil {
		return fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	*t = Timestamp{parsed}
	return nil
}

// ViewPercent returns offset/duration rounded to two decimals. duration must be positive.
func ViewPercent(offset, duration int64) float64 {
	return math.Round(float64(offset)/float64(duration)*100) / 100
}

// FormatRating renders a Plex numeric rating the way snapshots store it ("8.0"); 0 is unrated.
func FormatRating(r float64) string {
	if r == 0 {
		return ""
	}
	return strconv.FormatFloat(r, 'f', 1, 64)
}

// WatchRecord is the captured play state of one identity.
//
// Fields are declared in JSON key order so encoded snapshots have sorted keys.
// Shows carry Episodes and albums carry Tracks; leaves carry neither.
type WatchRecord struct {
	Episodes     map[CanonicalID]*WatchRecord `json:"episodes,omitempty"`
	GUID         CanonicalID                  `json:"guid"`
	LastRatedAt  Timestamp                    `json:"lastRatedAt"`
	LastViewedAt Timestamp                    `json:"lastViewedAt"`
	Title        string                       `json:"title"`
	Tracks       map[CanonicalID]*WatchRecord `json:"tracks,omitempty"`
	UserRating   string                       `json:"userRating"`
	ViewCount    int                          `json:"viewCount"`
	ViewOffset   int64                        `json:"viewOffset"`
	ViewPercent  float64                      `json:"viewPercent"`
	Watched      bool                         `json:"watched"`
}

// Children returns the nested map for the given container kind, creating it on demand.
func (r *WatchRecord) Children(kind MediaKind) map[CanonicalID]*WatchRecord {
	switch kind {
	case Show:
		if r.Episodes == nil {
			r.Episodes = make(map[CanonicalID]*WatchRecord)
		}
		return r.Episodes
	case Album:
		if r.Tracks == nil {
			r.Tracks = make(map[CanonicalID]*WatchRecord)
		}
		return r.Tracks
	default:
		return nil
	}
}

// UserHistory holds one user's records by kind.
type UserHistory struct {
	Album    map[CanonicalID]*WatchRecord `json:"album"`
	Movie    map[CanonicalID]*WatchRecord `json:"movie"`
	Show     map[CanonicalID]*WatchRecord `json:"show"`
	Username string                       `json:"username"`
}

// NewUserHistory returns an empty history for username.
func NewUserHistory(username string) *UserHistory {
	return &UserHistory{
		Album:    make(map[CanonicalID]*WatchRecord),
		Movie:    make(map[CanonicalID]*WatchRecord),
		Show:     make(map[CanonicalID]*WatchRecord),
		Username: username,
	}
}

// Records returns the top-level map for kind, or nil for leaf kinds.
func (h *UserHistory) Records(kind MediaKind) map[CanonicalID]*WatchRecord {
	switch kind {
	case Movie:
		if h.Movie == nil {
			h.Movie = make(map[CanonicalID]*WatchRecord)
		}
		return h.Movie
	case Show:
		if h.Show == nil {
			h.Show = make(map[CanonicalID]*WatchRecord)
		}
		return h.Show
	case Album:
		if h.Album == nil {
			h.Album = make(map[CanonicalID]*WatchRecord)
		}
		return h.Album
	default:
		return nil
	}
}

// Len counts top-level records and their children.
func (h *UserHistory) Len() int {
	n := 0
	for _, m := range []map[CanonicalID]*WatchRecord{h.Movie, h.Show, h.Album} {
		n += len(m)
		for _, r := range m {
			n += len(r.Episodes) + len(r.Tracks)
		}
	}
	return n
}

// Snapshot is the exported file: username → history.
type Snapshot map[string]*UserHistory
