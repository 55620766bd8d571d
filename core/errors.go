package core

import "errors"

// Sentinel errors shared by the engines. Match with errors.Is.
var (
	// ErrInvalidInterval is returned when an interval's end does not come
	// strictly after its start.
	ErrInvalidInterval = errors.New("invalid interval: end before start")

	// ErrNoMatchingVersion is returned when a versioned record has no version
	// effective at the reference date. Every billable event must resolve to
	// exactly one version, so callers treat this as a data-integrity fault,
	// not a valid empty state.
	ErrNoMatchingVersion = errors.New("no version effective at reference date")
)
