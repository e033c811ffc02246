package shared

import (
	"strconv"
	"strings"
)

// AllowList restricts processing to named users. An empty list allows everyone.
type AllowList struct {
	names map[string]struct{}
}

// NewAllowList normalizes names to trimmed lower case and drops blanks.
func NewAllowList(names []string) AllowList {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n != "" {
			set[n] = struct{}{}
		}
	}
	return AllowList{names: set}
}

// Empty reports whether the list allows everyone.
func (a AllowList) Empty() bool { return len(a.names) == 0 }

// Allows reports whether any candidate (username, email, title) is on the list, ignoring case.
func (a AllowList) Allows(candidates ...string) bool {
	if a.Empty() {
		return true
	}
	for _, c := range candidates {
		if _, ok := a.names[strings.ToLower(strings.TrimSpace(c))]; ok {
			return true
		}
	}
	return false
}

// ResolveUsername picks the snapshot key for an account: username, then email,
// then display title (managed users have neither), then the numeric id.
func ResolveUsername(username, email, title string, id int64) string {
	for _, s := range []string{username, email, title} {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	if id != 0 {
		return strconv.FormatInt(id, 10)
	}
	return ""
}
