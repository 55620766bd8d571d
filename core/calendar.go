/*
calendar.go - Public holidays and business-day counting

PURPOSE:
  Surcharge resolution and contract-hours proration both depend on the
  calendar: public holidays trigger full-day surcharges, and contractual
  hours are apportioned by business days (Monday-Saturday excluding
  holidays).

HOLIDAY SET:
  French public holidays: the eight fixed dates plus the three
  Easter-derived ones (Easter Monday, Ascension, Whit Monday). Easter is
  computed with the anonymous Gregorian algorithm, so no year table is
  needed.

BUSINESS DAYS:
  A business day is Monday through Saturday that is not a public holiday.
  Sunday is never a business day. Counting is inclusive of both bounds.

SEE ALSO:
  - pricing/surcharge.go: holiday-driven surcharge rules
  - contract/hours.go: business-day proration of contractual hours
*/
package core

import "time"

// Calendar answers holiday and business-day questions.
// The zero value is not usable; construct with NewCalendar.
type Calendar struct {
	extra map[monthDay]string
}

type monthDay struct {
	Month time.Month
	Day   int
}

// NewCalendar returns a calendar preloaded with the French public holidays.
func NewCalendar() *Calendar {
	return &Calendar{extra: make(map[monthDay]string)}
}

// AddFixedHoliday registers an additional fixed-date holiday, recurring
// every year.
func (c *Calendar) AddFixedHoliday(month time.Month, day int, name string) {
	c.extra[monthDay{Month: month, Day: day}] = name
}

// IsHoliday reports whether the given date is a public holiday.
func (c *Calendar) IsHoliday(t time.Time) bool {
	_, m, d := t.Date()
	switch {
	case m == time.January && d == 1:
		return true
	case m == time.May && (d == 1 || d == 8):
		return true
	case m == time.July && d == 14:
		return true
	case m == time.August && d == 15:
		return true
	case m == time.November && (d == 1 || d == 11):
		return true
	case m == time.December && d == 25:
		return true
	}
	if _, ok := c.extra[monthDay{Month: m, Day: d}]; ok {
		return true
	}

	easter := easterSunday(t.Year())
	day := time.Date(t.Year(), m, d, 0, 0, 0, 0, time.UTC)
	for _, offset := range []int{1, 39, 50} { // Easter Monday, Ascension, Whit Monday
		if day.Equal(easter.AddDate(0, 0, offset)) {
			return true
		}
	}
	return false
}

// IsBusinessDay reports whether the date is Monday-Saturday and not a holiday.
func (c *Calendar) IsBusinessDay(t time.Time) bool {
	if t.Weekday() == time.Sunday {
		return false
	}
	return !c.IsHoliday(t)
}

// BusinessDaysBetween counts business days in [from, to] inclusive,
// comparing at day granularity in from's location.
func (c *Calendar) BusinessDaysBetween(from, to time.Time) int {
	count := 0
	day := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, from.Location())
	last := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, from.Location())
	for !day.After(last) {
		if c.IsBusinessDay(day) {
			count++
		}
		day = day.AddDate(0, 0, 1)
	}
	return count
}

// BusinessDaysInMonth counts business days in the calendar month containing t.
func (c *Calendar) BusinessDaysInMonth(t time.Time) int {
	first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	last := first.AddDate(0, 1, -1)
	return c.BusinessDaysBetween(first, last)
}

// easterSunday computes Easter Sunday for a year in the Gregorian calendar
// (anonymous Gregorian algorithm).
func easterSunday(year int) time.Time {
	a := year % 19
	b := year / 100
	cc := year % 100
	d := b / 4
	e := b % 4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i := cc / 4
	k := cc % 4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := (h + l - 7*m + 114) / 31
	day := (h+l-7*m+114)%31 + 1
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}
