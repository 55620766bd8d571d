package core

import "time"

// =============================================================================
// VERSION RESOLUTION - "which version of this record applies on date d?"
// =============================================================================

// MatchingVersion selects, among versions, the one whose start date is the
// greatest start date less than or equal to at. startOf extracts the start
// date from a version. Returns false when at precedes every version.
//
// Versions need not be sorted; resolution is a single pass.
func MatchingVersion[T any](versions []T, at time.Time, startOf func(T) time.Time) (T, bool) {
	var (
		best  T
		found bool
	)
	for _, v := range versions {
		start := startOf(v)
		if start.After(at) {
			continue
		}
		if !found || start.After(startOf(best)) {
			best = v
			found = true
		}
	}
	return best, found
}

// LatestBy selects the element maximizing the extracted timestamp.
// Used for "latest version means maximum createdAt" tie-breaks on
// mandates and fundings.
func LatestBy[T any](items []T, at func(T) time.Time) (T, bool) {
	var (
		best  T
		found bool
	)
	for _, item := range items {
		if !found || at(item).After(at(best)) {
			best = item
			found = true
		}
	}
	return best, found
}
