/*
Package core provides the shared temporal primitives used by every engine
in this repository: time intervals, versioned-record resolution, the
business-day calendar, and decimal helpers.

PURPOSE:
  Scheduling, pay, and billing all reason about the same two things -
  intervals of time and records that change over time. This package models
  both explicitly so the engines above it never re-derive interval overlap
  or "which version applies" logic inline.

DESIGN PRINCIPLES:
  1. Precision: duration arithmetic uses decimal.Decimal, never float64
  2. Explicitness: overlap, clipping, and version selection are named
     operations with tested contracts
  3. No storage knowledge: core types are plain values

SEE ALSO:
  - version.go: effective-version resolution for versioned records
  - calendar.go: public holidays and business-day counting
*/
package core

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// INTERVAL - A half-open time range [Start, End)
// =============================================================================

// Interval is a half-open time range. Start must be strictly before End.
type Interval struct {
	Start time.Time
	End   time.Time
}

// NewInterval builds an interval and validates Start < End.
func NewInterval(start, end time.Time) (Interval, error) {
	iv := Interval{Start: start, End: end}
	if !iv.IsValid() {
		return Interval{}, fmt.Errorf("%w: [%s, %s)", ErrInvalidInterval,
			start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	return iv, nil
}

// IsValid reports whether Start is strictly before End.
func (iv Interval) IsValid() bool {
	return iv.Start.Before(iv.End)
}

// Overlaps reports whether two intervals share any duration.
// The check is startA < endB && endA > startB; touching endpoints do not
// overlap because intervals are half-open.
func (iv Interval) Overlaps(other Interval) bool {
	return iv.Start.Before(other.End) && iv.End.After(other.Start)
}

// Contains reports whether t falls inside the interval.
func (iv Interval) Contains(t time.Time) bool {
	return !t.Before(iv.Start) && t.Before(iv.End)
}

// Clip returns the portion of iv inside bounds. The second return value is
// false when the two intervals do not overlap at all.
func (iv Interval) Clip(bounds Interval) (Interval, bool) {
	if !iv.Overlaps(bounds) {
		return Interval{}, false
	}
	clipped := iv
	if bounds.Start.After(clipped.Start) {
		clipped.Start = bounds.Start
	}
	if bounds.End.Before(clipped.End) {
		clipped.End = bounds.End
	}
	return clipped, true
}

// Duration returns the interval length.
func (iv Interval) Duration() time.Duration {
	return iv.End.Sub(iv.Start)
}

// Hours returns the interval length in hours as a decimal.
// Minute precision: events are scheduled on minute boundaries.
func (iv Interval) Hours() decimal.Decimal {
	minutes := int64(iv.Duration() / time.Minute)
	return decimal.NewFromInt(minutes).Div(decimal.NewFromInt(60))
}

// SameDay reports whether Start and End fall on the same calendar day
// in the given location.
func (iv Interval) SameDay(loc *time.Location) bool {
	sy, sm, sd := iv.Start.In(loc).Date()
	ey, em, ed := iv.End.In(loc).Date()
	return sy == ey && sm == em && sd == ed
}

// String implements fmt.Stringer for log and error output.
func (iv Interval) String() string {
	return "[" + iv.Start.Format(time.RFC3339) + ", " + iv.End.Format(time.RFC3339) + ")"
}

// =============================================================================
// DECIMAL HELPERS
// =============================================================================

// WeeksPerMonth is the average number of weeks in a month, used to convert
// weekly contractual hours into a monthly equivalent.
var WeeksPerMonth = decimal.NewFromFloat(4.33)

// HoursBetween returns end-start in hours as a decimal, at minute precision.
func HoursBetween(start, end time.Time) decimal.Decimal {
	return Interval{Start: start, End: end}.Hours()
}
