package stream

import (
	"fmt"
	"path"
	"slices"
)

// WatchFilter selects the events a subscriber receives.
type WatchFilter struct {
	// Key matches one key exactly. It takes precedence over Pattern.
	Key string
	// Pattern is a path.Match glob over keys. Empty matches every key.
	Pattern string
	// Operations limits the operations delivered. Empty means all.
	Operations []Operation
}

// Validate checks the pattern syntax.
func (f *WatchFilter) Validate() error {
	if f.Key != "" || f.Pattern == "" {
		return nil
	}
	if _, err := path.Match(f.Pattern, ""); err != nil {
		return fmt.Errorf("%w: %q", ErrBadPattern, f.Pattern)
	}
	return nil
}

// Matches returns true if the event passes the filter.
func (f *WatchFilter) Matches(event *ChangeEvent) bool {
	if event == nil {
		return false
	}
	if len(f.Operations) > 0 && !slices.Contains(f.Operations, event.Operation) {
		return false
	}

	switch {
	case f.Key != "":
		return event.Key == f.Key
	case f.Pattern != "":
		ok, _ := path.Match(f.Pattern, event.Key)
		return ok
	default:
		return true
	}
}

// MatchAll returns a filter that matches all events.
func MatchAll() WatchFilter {
	return WatchFilter{}
}

// MatchKey returns a filter for the events of one key.
func MatchKey(key string) WatchFilter {
	return WatchFilter{Key: key}
}

// MatchPattern returns a filter for the keys matching a glob pattern.
func MatchPattern(pattern string) WatchFilter {
	return WatchFilter{Pattern: pattern}
}
