package testing

import (
	"cmp"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/goccy/go-json"
)

// FakeItem is a catalog entry of a [FakePlex] server. Leaves name their container in Parent.
type FakeItem struct {
	RatingKey   string
	GUID        string
	Type        string // movie, show, episode, album, track
	Title       string
	Section     string
	Parent      string
	Index       int
	ParentIndex int
	Duration    int64
}

// PlayState is one user's state for one item.
type PlayState struct {
	ViewCount    int
	ViewOffset   int64
	UserRating   float64
	LastViewedAt int64
	LastRatedAt  int64
}

type fakeSection struct {
	Key   string `json:"key"`
	Title string `json:"title"`
	Type  string `json:"type"`
}

// FakePlex is an in-memory Plex Media Server. The catalog is shared; play state is kept per token.
// Tokens must be registered with [FakePlex.AddUser]; anything else gets 401.
type FakePlex struct {
	*httptest.Server

	MachineID string
	Now       int64 // unix seconds stamped on mutations

	mu        sync.Mutex
	sections  []fakeSection
	items     map[string]*FakeItem
	order     []string
	state     map[string]map[string]*PlayState
	denied    map[string]bool
	failures  map[string][]int
	mutations []string
}

// NewFakePlex starts a fake server that is closed with the test.
func NewFakePlex(t testing.TB) *FakePlex {
	t.Helper()
	f := &FakePlex{
		MachineID: "fake-machine",
		Now:       1_700_000_000,
		items:     make(map[string]*FakeItem),
		state:     make(map[string]map[string]*PlayState),
		denied:    make(map[string]bool),
		failures:  make(map[string][]int),
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.Close)
	return f
}

// AddSection registers a library section; sectionType is movie, show or artist.
func (f *FakePlex) AddSection(key, title, sectionType string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sections = append(f.sections, fakeSection{Key: key, Title: title, Type: sectionType})
}

// AddItem adds items to the catalog.
func (f *FakePlex) AddItem(items ...FakeItem) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, it := range items {
		item := it
		if _, ok := f.items[item.RatingKey]; !ok {
			f.order = append(f.order, item.RatingKey)
		}
		f.items[item.RatingKey] = &item
	}
}

// AddUser registers token with an empty play state.
func (f *FakePlex) AddUser(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.state[token]; !ok {
		f.state[token] = make(map[string]*PlayState)
	}
}

// Deny makes every request with token fail with 401, as for a user without libraries.
func (f *FakePlex) Deny(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.denied[token] = true
}

// SetState sets token's state for ratingKey, registering the user if needed.
func (f *FakePlex) SetState(token, ratingKey string, s PlayState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.state[token]; !ok {
		f.state[token] = make(map[string]*PlayState)
	}
	f.state[token][ratingKey] = &s
}

// State returns a copy of token's state for ratingKey.
func (f *FakePlex) State(token, ratingKey string) PlayState {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.state[token][ratingKey]; ok {
		return *s
	}
	return PlayState{}
}

// FailNext makes the next requests to path answer with the given statuses, in order.
func (f *FakePlex) FailNext(path string, statuses ...int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[path] = append(f.failures[path], statuses...)
}

// Mutations lists "scrobble <key>", "rate <key> <rating>" and "timeline <key> <ms>" calls in order.
func (f *FakePlex) Mutations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.mutations)
}

// ResetMutations clears the recorded mutations.
func (f *FakePlex) ResetMutations() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mutations = nil
}

func (f *FakePlex) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if queue := f.failures[r.URL.Path]; len(queue) > 0 {
		f.failures[r.URL.Path] = queue[1:]
		w.WriteHeader(queue[0])
		return
	}

	token := r.Header.Get("X-Plex-Token")
	states, ok := f.state[token]
	if !ok || f.denied[token] {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	q := r.URL.Query()
	path := r.URL.Path
	switch {
	case path == "/":
		writeJSON(w, map[string]any{"MediaContainer": map[string]any{
			"machineIdentifier": f.MachineID,
			"friendlyName":      "Fake Plex",
			"version":           "1.40.0",
		}})
	case path == "/library/sections":
		writeJSON(w, map[string]any{"MediaContainer": map[string]any{"Directory": f.sections}})
	case strings.HasPrefix(path, "/library/sections/") && strings.HasSuffix(path, "/all"):
		key := strings.TrimSuffix(strings.TrimPrefix(path, "/library/sections/"), "/all")
		f.serveSection(w, r, key, states)
	case path == "/library/all":
		var out []map[string]any
		for _, rk := range f.order {
			item := f.items[rk]
			if item.GUID == q.Get("guid") && typeMatches(item.Type, q.Get("type")) {
				out = append(out, f.render(item, states))
			}
		}
		writeContainer(w, out, len(out))
	case strings.HasPrefix(path, "/library/metadata/") && strings.HasSuffix(path, "/allLeaves"):
		rk := strings.TrimSuffix(strings.TrimPrefix(path, "/library/metadata/"), "/allLeaves")
		if _, ok := f.items[rk]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		leaves := f.leaves(rk)
		out := make([]map[string]any, 0, len(leaves))
		for _, leaf := range leaves {
			out = append(out, f.render(leaf, states))
		}
		writeContainer(w, out, len(out))
	case strings.HasPrefix(path, "/library/metadata/"):
		item, ok := f.items[strings.TrimPrefix(path, "/library/metadata/")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeContainer(w, []map[string]any{f.render(item, states)}, 1)
	case path == "/:/scrobble":
		s := f.mutable(states, q.Get("key"))
		if s == nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		s.ViewCount++
		s.ViewOffset = 0
		s.LastViewedAt = f.Now
		f.mutations = append(f.mutations, "scrobble "+q.Get("key"))
	case path == "/:/rate":
		s := f.mutable(states, q.Get("key"))
		if s == nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		rating, err := strconv.ParseFloat(q.Get("rating"), 64)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		s.UserRating = rating
		s.LastRatedAt = f.Now
		f.mutations = append(f.mutations, "rate "+q.Get("key")+" "+q.Get("rating"))
	case path == "/:/timeline":
		s := f.mutable(states, q.Get("ratingKey"))
		if s == nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		offset, err := strconv.ParseInt(q.Get("time"), 10, 64)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		s.ViewOffset = offset
		s.LastViewedAt = f.Now
		f.mutations = append(f.mutations, "timeline "+q.Get("ratingKey")+" "+q.Get("time"))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *FakePlex) serveSection(w http.ResponseWriter, r *http.Request, key string, states map[string]*PlayState) {
	q := r.URL.Query()
	conds := parseFilter(r.URL.RawQuery)

	var matched []map[string]any
	for _, rk := range f.order {
		item := f.items[rk]
		if item.Section != key || !typeMatches(item.Type, q.Get("type")) {
			continue
		}
		if f.matches(item, states, conds) {
			matched = append(matched, f.render(item, states))
		}
	}

	start, _ := strconv.Atoi(q.Get("X-Plex-Container-Start"))
	size, err := strconv.Atoi(q.Get("X-Plex-Container-Size"))
	if err != nil || size <= 0 {
		size = len(matched)
	}
	start = min(start, len(matched))
	end := min(start+size, len(matched))
	writeContainer(w, matched[start:end], len(matched))
}

func (f *FakePlex) mutable(states map[string]*PlayState, rk string) *PlayState {
	if _, ok := f.items[rk]; !ok {
		return nil
	}
	s, ok := states[rk]
	if !ok {
		s = &PlayState{}
		states[rk] = s
	}
	return s
}

func (f *FakePlex) leaves(parent string) []*FakeItem {
	var out []*FakeItem
	for _, rk := range f.order {
		if f.items[rk].Parent == parent {
			out = append(out, f.items[rk])
		}
	}
	slices.SortStableFunc(out, func(a, b *FakeItem) int {
		if c := cmp.Compare(a.ParentIndex, b.ParentIndex); c != 0 {
			return c
		}
		return cmp.Compare(a.Index, b.Index)
	})
	return out
}

// metrics exposes the values filter fragments compare against.
func (f *FakePlex) metrics(item *FakeItem, states map[string]*PlayState) map[string]int {
	s := states[item.RatingKey]
	if s == nil {
		s = &PlayState{}
	}
	m := map[string]int{"viewCount": s.ViewCount, "inProgress": boolInt(s.ViewCount == 0 && s.ViewOffset > 0)}

	if item.Type == "show" || item.Type == "album" {
		leaves := f.leaves(item.RatingKey)
		viewed, inProgress := 0, 0
		for _, leaf := range leaves {
			ls := states[leaf.RatingKey]
			if ls == nil {
				continue
			}
			if ls.ViewCount > 0 {
				viewed++
			}
			if ls.ViewOffset > 0 {
				inProgress = 1
			}
		}
		child := "episode"
		if item.Type == "album" {
			child = "track"
		}
		m["unwatchedLeaves"] = boolInt(viewed < len(leaves))
		m[item.Type+".viewCount"] = viewed
		m[child+".viewCount"] = viewed
		m[child+".inProgress"] = inProgress
	}
	return m
}

type condition struct {
	key   string
	neg   bool
	value int
}

var reservedParams = map[string]bool{"type": true, "includeGuids": true, "X-Plex-Container-Start": true, "X-Plex-Container-Size": true}

func parseFilter(rawQuery string) []condition {
	var conds []condition
	for _, part := range strings.Split(rawQuery, "&") {
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		neg := strings.HasSuffix(key, "!")
		key, _ = url.QueryUnescape(strings.TrimSuffix(key, "!"))
		if reservedParams[key] {
			continue
		}
		n, err := strconv.Atoi(value)
		if err != nil {
			continue
		}
		conds = append(conds, condition{key: key, neg: neg, value: n})
	}
	return conds
}

func (f *FakePlex) matches(item *FakeItem, states map[string]*PlayState, conds []condition) bool {
	m := f.metrics(item, states)
	for _, c := range conds {
		v, ok := m[c.key]
		if !ok {
			return false
		}
		if (v == c.value) == c.neg {
			return false
		}
	}
	return true
}

func (f *FakePlex) render(item *FakeItem, states map[string]*PlayState) map[string]any {
	out := map[string]any{
		"ratingKey": item.RatingKey,
		"key":       "/library/metadata/" + item.RatingKey,
		"guid":      item.GUID,
		"type":      item.Type,
		"title":     item.Title,
		"index":     item.Index,
	}
	if item.ParentIndex != 0 {
		out["parentIndex"] = item.ParentIndex
	}
	if item.Duration != 0 {
		out["duration"] = item.Duration
	}
	if parent, ok := f.items[item.Parent]; ok {
		out["parentTitle"] = parent.Title
		out["grandparentTitle"] = parent.Title
	}

	if s := states[item.RatingKey]; s != nil {
		if s.ViewCount > 0 {
			out["viewCount"] = s.ViewCount
		}
		if s.ViewOffset > 0 {
			out["viewOffset"] = s.ViewOffset
		}
		if s.UserRating > 0 {
			out["userRating"] = s.UserRating
		}
		if s.LastViewedAt > 0 {
			out["lastViewedAt"] = s.LastViewedAt
		}
		if s.LastRatedAt > 0 {
			out["lastRatedAt"] = s.LastRatedAt
		}
	}

	if item.Type == "show" || item.Type == "album" {
		leaves := f.leaves(item.RatingKey)
		viewed := 0
		for _, leaf := range leaves {
			if s := states[leaf.RatingKey]; s != nil && s.ViewCount > 0 {
				viewed++
			}
		}
		out["leafCount"] = len(leaves)
		out["viewedLeafCount"] = viewed
	}
	return out
}

func typeMatches(itemType, searchType string) bool {
	if searchType == "" {
		return true
	}
	types := map[string]string{"1": "movie", "2": "show", "4": "episode", "9": "album", "10": "track"}
	return types[searchType] == itemType
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func writeContainer(w http.ResponseWriter, metadata []map[string]any, total int) {
	if metadata == nil {
		metadata = []map[string]any{}
	}
	writeJSON(w, map[string]any{"MediaContainer": map[string]any{
		"size":      len(metadata),
		"totalSize": total,
		"Metadata":  metadata,
	}})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// FakeMeta is a node of a [FakeMetadata] provider tree.
type FakeMeta struct {
	RatingKey string
	GUID      string
	Type      string
	Title     string
	Index     int
	Children  []FakeMeta
}

// FakeMetadata is an in-memory metadata provider.
type FakeMetadata struct {
	*httptest.Server

	mu       sync.Mutex
	matches  map[string]FakeMeta
	nodes    map[string]FakeMeta
	requests map[string]int
}

// NewFakeMetadata starts a fake provider that is closed with the test.
func NewFakeMetadata(t testing.TB) *FakeMetadata {
	t.Helper()
	f := &FakeMetadata{
		matches:  make(map[string]FakeMeta),
		nodes:    make(map[string]FakeMeta),
		requests: make(map[string]int),
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.Close)
	return f
}

// AddMatch maps a legacy GUID (without the "?lang" suffix) to node and indexes node's subtree.
func (f *FakeMetadata) AddMatch(legacyGUID string, node FakeMeta) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.matches[legacyGUID] = node
	f.index(node)
}

func (f *FakeMetadata) index(node FakeMeta) {
	f.nodes[node.RatingKey] = node
	for _, c := range node.Children {
		f.index(c)
	}
}

// Requests reports how many times path was requested.
func (f *FakeMetadata) Requests(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[path]
}

func (f *FakeMetadata) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests[r.URL.Path]++

	switch {
	case r.URL.Path == "/library/metadata/matches" && r.Method == http.MethodPost:
		body, _ := io.ReadAll(r.Body)
		var req struct {
			GUID string `json:"guid"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		guid, _, _ := strings.Cut(req.GUID, "?")
		node, ok := f.matches[guid]
		if !ok {
			writeJSON(w, map[string]any{"MediaContainer": map[string]any{"size": 0}})
			return
		}
		writeJSON(w, map[string]any{"MediaContainer": map[string]any{"Metadata": []any{renderMeta(node, false)}}})
	case strings.HasPrefix(r.URL.Path, "/library/metadata/"):
		node, ok := f.nodes[strings.TrimPrefix(r.URL.Path, "/library/metadata/")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		withChildren := r.URL.Query().Get("includeChildren") == "1"
		writeJSON(w, map[string]any{"MediaContainer": map[string]any{"Metadata": []any{renderMeta(node, withChildren)}}})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func renderMeta(node FakeMeta, withChildren bool) map[string]any {
	out := map[string]any{
		"ratingKey": node.RatingKey,
		"guid":      node.GUID,
		"type":      node.Type,
		"title":     node.Title,
		"index":     node.Index,
	}
	if withChildren && len(node.Children) > 0 {
		children := make([]any, 0, len(node.Children))
		for _, c := range node.Children {
			children = append(children, renderMeta(c, false))
		}
		out["Children"] = map[string]any{"Metadata": children}
	}
	return out
}

// FakeAccount is a plex.tv account served by [FakePlexTV].
type FakeAccount struct {
	ID       int64  `json:"id"`
	UUID     string `json:"uuid,omitempty"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Title    string `json:"title"`
	Token    string `json:"authToken,omitempty"`
}

// FakePlexTV serves the plex.tv account endpoints for one owner.
type FakePlexTV struct {
	*httptest.Server

	OwnerToken string
	Owner      FakeAccount
	Friends    []FakeAccount
	Home       []FakeAccount
	// ServerTokens maps user id to the access token on any machine.
	ServerTokens map[int64]string
}

// NewFakePlexTV starts a fake plex.tv for owner that is closed with the test.
func NewFakePlexTV(t testing.TB, owner FakeAccount) *FakePlexTV {
	t.Helper()
	f := &FakePlexTV{OwnerToken: owner.Token, Owner: owner, ServerTokens: make(map[int64]string)}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.Close)
	return f
}

func (f *FakePlexTV) serve(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("X-Plex-Token") != f.OwnerToken {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	switch {
	case r.URL.Path == "/api/v2/user":
		writeJSON(w, f.Owner)
	case r.URL.Path == "/api/v2/friends":
		friends := f.Friends
		if friends == nil {
			friends = []FakeAccount{}
		}
		writeJSON(w, friends)
	case r.URL.Path == "/api/v2/home/users":
		home := f.Home
		if home == nil {
			home = []FakeAccount{}
		}
		writeJSON(w, map[string]any{"users": home})
	case strings.HasPrefix(r.URL.Path, "/api/servers/") && strings.HasSuffix(r.URL.Path, "/shared_servers"):
		shared := make([]map[string]any, 0, len(f.ServerTokens))
		for id, token := range f.ServerTokens {
			shared = append(shared, map[string]any{"id": id * 10, "userID": id, "accessToken": token})
		}
		writeJSON(w, map[string]any{"MediaContainer": map[string]any{"SharedServer": shared}})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}
