/*
surcharge.go - Splitting an event's duration into surcharged hours

ALGORITHM:
  1. Full-day rules are checked in strict priority order: 25 December,
     1 May, public holiday, Saturday, Sunday. The first rule with a
     configured nonzero percentage charges the ENTIRE event duration and
     short-circuits everything else, window rules included.
  2. Otherwise each configured window rule (evening, custom) contributes
     the overlap between the event and the window projected onto the
     event's date. Windows may wrap past midnight. Window contributions
     stack additively; valid configurations do not overlap each other.
  3. NotSurcharged = total - surcharged.

FIXED SERVICES:
  Fixed-nature services are never surcharged: the split is all
  non-surcharged regardless of configuration.

DETAILS:
  The details map is keyed by surcharge plan name, then by
  "<rule label> - <percentage>%", accumulating hours. Draft pay merges
  these maps across many events, so SplitEvent takes and returns the
  running map.
*/
package pricing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/care-engine/core"
)

// =============================================================================
// SPLIT RESULT
// =============================================================================

// Details accumulates surcharged hours by plan name and rule key.
type Details map[string]map[string]decimal.Decimal

// Add accumulates hours under (plan, rule key).
func (d Details) Add(plan, ruleKey string, hours decimal.Decimal) {
	if d[plan] == nil {
		d[plan] = make(map[string]decimal.Decimal)
	}
	d[plan][ruleKey] = d[plan][ruleKey].Add(hours)
}

// Clone returns a deep copy, so callers can branch detail maps safely.
func (d Details) Clone() Details {
	out := make(Details, len(d))
	for plan, rules := range d {
		out[plan] = make(map[string]decimal.Decimal, len(rules))
		for k, v := range rules {
			out[plan][k] = v
		}
	}
	return out
}

// Split is the surcharge outcome for one event.
type Split struct {
	Surcharged    decimal.Decimal
	NotSurcharged decimal.Decimal
	Details       Details
}

// RuleKey formats the detail key for a rule label and percentage.
func RuleKey(label string, percentage decimal.Decimal) string {
	return fmt.Sprintf("%s - %s%%", label, percentage.String())
}

// =============================================================================
// RESOLVER
// =============================================================================

// SplitEvent splits an event's duration according to the version's nature
// and surcharge table. details is the running accumulator from previous
// events (nil starts a fresh one); the returned Split carries the updated map.
func SplitEvent(event core.Interval, version ServiceVersion, calendar *core.Calendar, details Details) Split {
	if details == nil {
		details = make(Details)
	}
	total := event.Hours()

	if version.Nature == NatureFixed || version.Surcharge == nil {
		return Split{Surcharged: decimal.Zero, NotSurcharged: total, Details: details}
	}

	sur := version.Surcharge

	// Full-day rules: first configured match charges the whole event.
	if label, pct, ok := fullDayRule(event, sur, calendar); ok {
		details.Add(sur.Name, RuleKey(label, pct), total)
		return Split{Surcharged: total, NotSurcharged: decimal.Zero, Details: details}
	}

	// Window rules stack additively.
	surcharged := decimal.Zero
	if sur.Evening.IsPositive() {
		hours := windowOverlap(event, sur.EveningStartTime, sur.EveningEndTime)
		if hours.IsPositive() {
			surcharged = surcharged.Add(hours)
			details.Add(sur.Name, RuleKey(LabelEvening, sur.Evening), hours)
		}
	}
	if sur.Custom.IsPositive() {
		hours := windowOverlap(event, sur.CustomStartTime, sur.CustomEndTime)
		if hours.IsPositive() {
			surcharged = surcharged.Add(hours)
			details.Add(sur.Name, RuleKey(LabelCustom, sur.Custom), hours)
		}
	}

	return Split{Surcharged: surcharged, NotSurcharged: total.Sub(surcharged), Details: details}
}

// fullDayRule returns the first full-day rule applying to the event's date,
// in strict priority order.
func fullDayRule(event core.Interval, sur *Surcharge, calendar *core.Calendar) (string, decimal.Decimal, bool) {
	day := event.Start
	_, month, dom := day.Date()

	switch {
	case month == time.December && dom == 25 && sur.TwentyFifthOfDecember.IsPositive():
		return LabelTwentyFifthOfDecember, sur.TwentyFifthOfDecember, true
	case month == time.May && dom == 1 && sur.FirstOfMay.IsPositive():
		return LabelFirstOfMay, sur.FirstOfMay, true
	case calendar.IsHoliday(day) && sur.PublicHoliday.IsPositive():
		return LabelPublicHoliday, sur.PublicHoliday, true
	case day.Weekday() == time.Saturday && sur.Saturday.IsPositive():
		return LabelSaturday, sur.Saturday, true
	case day.Weekday() == time.Sunday && sur.Sunday.IsPositive():
		return LabelSunday, sur.Sunday, true
	}
	return "", decimal.Zero, false
}

// windowOverlap computes the overlap in hours between the event and the
// "HH:MM"-"HH:MM" window projected onto the event's date. A window whose end
// is not after its start wraps past midnight; the projection from the
// previous day is then also considered, since a wrapped window covers the
// event date's early-morning hours.
func windowOverlap(event core.Interval, startHM, endHM string) decimal.Decimal {
	startOffset, err1 := parseClock(startHM)
	endOffset, err2 := parseClock(endHM)
	if err1 != nil || err2 != nil {
		return decimal.Zero
	}

	day := time.Date(event.Start.Year(), event.Start.Month(), event.Start.Day(),
		0, 0, 0, 0, event.Start.Location())

	wraps := endOffset <= startOffset
	if wraps {
		endOffset += 24 * time.Hour
	}

	total := decimal.Zero
	projections := []time.Time{day}
	if wraps {
		projections = append(projections, day.AddDate(0, 0, -1))
	}
	for _, base := range projections {
		window := core.Interval{Start: base.Add(startOffset), End: base.Add(endOffset)}
		if clipped, ok := event.Clip(window); ok {
			total = total.Add(clipped.Hours())
		}
	}
	return total
}

// parseClock parses "HH:MM" into an offset from midnight.
func parseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}
