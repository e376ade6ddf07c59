package gateway

import "strings"

// Filter drops bot users and configured display names at the adapter
// boundary so they never reach the presence tracker.
type Filter struct {
	ignored map[string]struct{}
}

func NewFilter(ignoredDisplayNames []string) *Filter {
	ignored := make(map[string]struct{}, len(ignoredDisplayNames))
	for _, name := range ignoredDisplayNames {
		ignored[strings.ToLower(strings.TrimSpace(name))] = struct{}{}
	}
	return &Filter{ignored: ignored}
}

// Drop reports whether events for this user should be discarded.
func (f *Filter) Drop(u User) bool {
	if u.IsBot {
		return true
	}
	_, ok := f.ignored[strings.ToLower(strings.TrimSpace(u.DisplayName))]
	return ok
}

// FilterMembers returns the members of a snapshot that pass the filter.
func (f *Filter) FilterMembers(members []User) []User {
	kept := make([]User, 0, len(members))
	for _, m := range members {
		if !f.Drop(m) {
			kept = append(kept, m)
		}
	}
	return kept
}
