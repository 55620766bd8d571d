package schedule

// =============================================================================
// CONFLICT DETECTION
// =============================================================================

// conflictTypes is the default set of event types that can conflict with
// one another on an auxiliary's planning.
var conflictTypes = map[Type]bool{
	TypeIntervention:   true,
	TypeAbsence:        true,
	TypeInternalHour:   true,
	TypeUnavailability: true,
}

// Conflicts returns the events among candidates that overlap the event's
// interval for the same auxiliary. Cancelled events never conflict, and the
// event itself (matched by id) is excluded so edits don't conflict with the
// stored copy. If types is non-empty, only those event types are considered.
func Conflicts(event Event, candidates []Event, types ...Type) []Event {
	checked := conflictTypes
	if len(types) > 0 {
		checked = make(map[Type]bool, len(types))
		for _, t := range types {
			checked[t] = true
		}
	}

	var out []Event
	for _, c := range candidates {
		if c.ID == event.ID || c.IsCancelled || !checked[c.Type] {
			continue
		}
		if c.AuxiliaryID == "" || c.AuxiliaryID != event.AuxiliaryID {
			continue
		}
		if event.Interval.Overlaps(c.Interval) {
			out = append(out, c)
		}
	}
	return out
}

// HasConflicts reports whether any conflicting event exists.
func HasConflicts(event Event, candidates []Event, types ...Type) bool {
	return len(Conflicts(event, candidates, types...)) > 0
}
