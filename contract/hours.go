package contract

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/care-engine/core"
)

// =============================================================================
// CONTRACT-HOURS CALCULATOR
// =============================================================================

// Hours computes the contractual hours owed over [period.Start, period.End].
//
// For each version whose active window intersects the query window (an open
// version is unbounded), the version's window is clipped to the query window,
// business days (Monday-Saturday excluding public holidays) are counted in
// the clipped window and divided by the business days of that window's
// calendar month, then multiplied by the version's weekly hours and by the
// average weeks per month (4.33). Contributions are summed across versions.
//
// The proration apportions the monthly-equivalent contracted hours to the
// fraction of the month actually covered by each version.
func Hours(c Contract, period core.Interval, calendar *core.Calendar) decimal.Decimal {
	total := decimal.Zero
	for _, v := range c.Versions {
		window, ok := versionWindow(v, period)
		if !ok {
			continue
		}
		businessDays := calendar.BusinessDaysBetween(window.Start, window.End.Add(-time.Nanosecond))
		monthDays := calendar.BusinessDaysInMonth(window.Start)
		if monthDays == 0 || businessDays == 0 {
			continue
		}
		ratio := decimal.NewFromInt(int64(businessDays)).Div(decimal.NewFromInt(int64(monthDays)))
		total = total.Add(v.WeeklyHours.Mul(core.WeeksPerMonth).Mul(ratio))
	}
	return total
}

// versionWindow clips a version's active window to the query window.
func versionWindow(v Version, period core.Interval) (core.Interval, bool) {
	end := period.End
	if v.EndDate != nil && v.EndDate.Before(end) {
		end = *v.EndDate
	}
	window := core.Interval{Start: v.StartDate, End: end}
	if !window.IsValid() {
		return core.Interval{}, false
	}
	return window.Clip(period)
}
