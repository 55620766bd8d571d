/*
repetition.go - Recurring-event materialization

PURPOSE:
  A repeated event is stored as concrete instances sharing a parent id,
  not as a rule evaluated at read time. Materialize generates the future
  instances for a frequency over a fixed horizon; the engine persists them
  applying the same conflict rules as single creations.

OWNERSHIP:
  The repetition group is owned collectively by its member events.
  Deleting or ending a repetition affects members going forward, never
  retroactively.
*/
package schedule

import (
	"time"

	"github.com/google/uuid"

	"github.com/warp/care-engine/core"
)

// RepetitionHorizonDays bounds how far ahead instances are materialized.
const RepetitionHorizonDays = 90

// Materialize generates the future sibling instances of a repeated event,
// excluding the seed itself. Each sibling copies the seed's fields with a
// fresh id and the repetition's parent id pointing at the seed.
func Materialize(seed Event) []Event {
	if !seed.IsRepeated() {
		return nil
	}

	horizon := seed.Interval.Start.AddDate(0, 0, RepetitionHorizonDays)
	duration := seed.Interval.Duration()

	var siblings []Event
	for _, start := range occurrences(seed.Interval.Start, seed.Repetition.Frequency, horizon) {
		sibling := seed
		sibling.ID = uuid.NewString()
		sibling.Interval = core.Interval{Start: start, End: start.Add(duration)}
		sibling.Repetition = &Repetition{
			Frequency: seed.Repetition.Frequency,
			ParentID:  seed.ID,
		}
		siblings = append(siblings, sibling)
	}
	return siblings
}

// occurrences lists the start instants after the seed start, up to horizon.
func occurrences(start time.Time, freq Frequency, horizon time.Time) []time.Time {
	var out []time.Time
	switch freq {
	case FrequencyDaily:
		for t := start.AddDate(0, 0, 1); t.Before(horizon); t = t.AddDate(0, 0, 1) {
			out = append(out, t)
		}
	case FrequencyWeekdays:
		for t := start.AddDate(0, 0, 1); t.Before(horizon); t = t.AddDate(0, 0, 1) {
			if wd := t.Weekday(); wd != time.Saturday && wd != time.Sunday {
				out = append(out, t)
			}
		}
	case FrequencyWeekly:
		for t := start.AddDate(0, 0, 7); t.Before(horizon); t = t.AddDate(0, 0, 7) {
			out = append(out, t)
		}
	}
	return out
}

// shiftToDay re-anchors an interval onto another day, keeping clock times.
func shiftToDay(iv core.Interval, day time.Time) core.Interval {
	base := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, iv.Start.Location())
	midnight := time.Date(iv.Start.Year(), iv.Start.Month(), iv.Start.Day(), 0, 0, 0, 0, iv.Start.Location())
	return core.Interval{
		Start: base.Add(iv.Start.Sub(midnight)),
		End:   base.Add(iv.End.Sub(midnight)),
	}
}
