// Package cache holds identity mappings shared by every worker of a run.
//
// A [Store] is a namespaced key/value store. Namespaces ("kinds") separate the
// legacy-GUID translations, the metadata trees, the per-server rating key memo
// and the per-server GUID to rating keys index, so each can be cleared on its own.
//
// [BadgerStore] persists across runs; [MemoryStore] lives for one process.
// Both are safe for concurrent use and resolve concurrent writes to one key as
// last-write-wins, which is harmless because every writer computes the same value.
package cache

import (
	"fmt"
	"strings"
	"sync"

	"github.com/desertthunder/wsx/internal/models"
	"github.com/goccy/go-json"
)

// Namespaces that are not tied to one server.
const (
	KindLegacy = "legacy" // legacy agent GUID → canonical GUID
	KindTree   = "tree"   // tvdb id → show metadata with seasons, empty when unmatched
	KindSeason = "season" // "<tvdb id>/<season>" → season metadata with episodes
)

// RatingKeyKind names the rating key → canonical GUID memo of one server.
func RatingKeyKind(server string, kind models.MediaKind) string {
	return "ratingkey:" + server + ":" + kind.String()
}

// GUIDKind names the canonical GUID → rating keys index of one server.
func GUIDKind(server string, kind models.MediaKind) string {
	return "guid:" + server + ":" + kind.String()
}

// Store is a namespaced byte store.
type Store interface {
	// Get returns the value for key in kind; ok is false on a miss.
	Get(kind, key string) (value []byte, ok bool, err error)
	Put(kind, key string, value []byte) error
	// Clear removes every key of kind.
	Clear(kind string) error
	Close() error
}

// GetJSON decodes the value stored under kind/key into a T.
func GetJSON[T any](s Store, kind, key string) (T, bool, error) {
	var v T
	data, ok, err := s.Get(kind, key)
	if err != nil || !ok {
		return v, ok, err
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, false, fmt.Errorf("failed to decode cache entry %s/%s: %w", kind, key, err)
	}
	return v, true, nil
}

// PutJSON encodes v and stores it under kind/key.
func PutJSON(s Store, kind, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry %s/%s: %w", kind, key, err)
	}
	return s.Put(kind, key, data)
}

// ResetExport clears the entries a full export pass rebuilds: legacy translations,
// metadata trees and the server's rating key memo. The GUID index is kept.
func ResetExport(s Store, server string) error {
	kinds := []string{KindLegacy, KindTree, KindSeason}
	for _, k := range models.AllKinds {
		kinds = append(kinds, RatingKeyKind(server, k))
	}
	for _, k := range kinds {
		if err := s.Clear(k); err != nil {
			return fmt.Errorf("failed to clear %s: %w", k, err)
		}
	}
	return nil
}

// ClearServer drops the rating key memo and GUID index of server. global also drops
// the server-independent translations and metadata trees.
func ClearServer(s Store, server string, global bool) error {
	var kinds []string
	if global {
		kinds = append(kinds, KindLegacy, KindTree, KindSeason)
	}
	for _, k := range models.AllKinds {
		kinds = append(kinds, RatingKeyKind(server, k), GUIDKind(server, k))
	}
	for _, k := range kinds {
		if err := s.Clear(k); err != nil {
			return fmt.Errorf("failed to clear %s: %w", k, err)
		}
	}
	return nil
}

// MemoryStore is a [Store] backed by maps.
type MemoryStore struct {
	mu    sync.RWMutex
	kinds map[string]map[string][]byte
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{kinds: make(map[string]map[string][]byte)}
}

func (m *MemoryStore) Get(kind, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.kinds[kind][key]
	return v, ok, nil
}

func (m *MemoryStore) Put(kind, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries, ok := m.kinds[kind]
	if !ok {
		entries = make(map[string][]byte)
		m.kinds[kind] = entries
	}
	entries[key] = append([]byte(nil), value...)
	return nil
}

func (m *MemoryStore) Clear(kind string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.kinds, kind)
	return nil
}

func (m *MemoryStore) Close() error { return nil }

// Len counts the entries of kind.
func (m *MemoryStore) Len(kind string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.kinds[kind])
}

// storeKey joins kind and key with a NUL so no key can leak into another kind's prefix.
func storeKey(kind, key string) []byte {
	var b strings.Builder
	b.Grow(len(kind) + len(key) + 1)
	b.WriteString(kind)
	b.WriteByte(0)
	b.WriteString(key)
	return []byte(b.String())
}
