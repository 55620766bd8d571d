/*
engine.go - Event creation, update, deletion, and the cascades between
event types

CONFLICT POLICY:
  Creation and update validate against the auxiliary's other non-cancelled
  events. Two deliberate asymmetries from the source business rules are
  preserved as-is:
    - A repeated intervention that conflicts at creation is NOT rejected:
      it is persisted unassigned with frequency forced to never (a
      repeated, unassigned event cannot itself conflict).
    - An absence actively clears its window: conflicting internal hours
      and unavailabilities are deleted, conflicting interventions are
      unassigned through the regular update path rather than deleted.

RACE NOTE:
  There is no locking around the conflict check. Two concurrent creations
  for the same auxiliary can both pass validation; only a later query
  reveals the overlap. This mirrors the source system's accepted gap.

AUDIT ORDERING:
  The contract-end cascade appends a history record BEFORE each mutation,
  so a failing audit write aborts that mutation.
*/
package schedule

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/warp/care-engine/contract"
	"github.com/warp/care-engine/core"
)

// =============================================================================
// STORE INTERFACES
// =============================================================================

// EventStore is the persistence contract the engine depends on. Single-event
// writes are atomic; there is no multi-event transaction.
type EventStore interface {
	Insert(ctx context.Context, ev Event) error
	Update(ctx context.Context, ev Event) error
	Delete(ctx context.Context, id string) error
	GetByID(ctx context.Context, id string) (Event, error)

	// ByAuxiliaryInRange returns the auxiliary's events overlapping the window.
	ByAuxiliaryInRange(ctx context.Context, auxiliaryID string, window core.Interval) ([]Event, error)

	// Siblings returns the members of a repetition group starting at or
	// after from, excluding none.
	Siblings(ctx context.Context, parentID string, from time.Time) ([]Event, error)
}

// HistoryWriter appends audit records. Append-only.
type HistoryWriter interface {
	Append(ctx context.Context, rec HistoryRecord) error
}

// =============================================================================
// PATCH - Typed partial update
// =============================================================================

// Patch names exactly the fields an event update may touch. Every schedule
// field carries its full new value: an empty AuxiliaryID explicitly
// unassigns the event (there is no merge semantics to express "unset"
// otherwise). A nil Cancellation clears a stored cancellation.
type Patch struct {
	StartDate      time.Time
	EndDate        time.Time
	AuxiliaryID    string
	SubscriptionID string
	Sector         string
	Misc           string
	Cancellation   *Cancellation

	// ShouldUpdateRepetition propagates the change to all future siblings
	// of the event's repetition group instead of detaching the event.
	ShouldUpdateRepetition bool
}

// miscOnly reports whether the patch changes nothing but the misc field.
func (p Patch) miscOnly(current Event) bool {
	if !p.StartDate.Equal(current.Interval.Start) || !p.EndDate.Equal(current.Interval.End) {
		return false
	}
	if p.AuxiliaryID != current.AuxiliaryID ||
		p.SubscriptionID != current.SubscriptionID ||
		p.Sector != current.Sector {
		return false
	}
	if (p.Cancellation == nil) != (current.Cancellation == nil) {
		return false
	}
	if p.Cancellation != nil && *p.Cancellation != *current.Cancellation {
		return false
	}
	return true
}

// =============================================================================
// ENGINE
// =============================================================================

// Engine coordinates event mutations against the store and audit history.
type Engine struct {
	Events  EventStore
	History HistoryWriter
}

func NewEngine(events EventStore, history HistoryWriter) *Engine {
	return &Engine{Events: events, History: history}
}

// Create validates and persists a new event, materializes its repetition,
// and runs the absence cascade when the event is an absence.
func (e *Engine) Create(ctx context.Context, ev Event) (Event, error) {
	if err := ev.Validate(); err != nil {
		return Event{}, err
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}

	// Absences are never rejected for conflicts: the cascade below clears
	// their window instead.
	if ev.AuxiliaryID != "" && ev.Type != TypeAbsence {
		conflicts, err := e.conflictsFor(ctx, ev)
		if err != nil {
			return Event{}, err
		}
		if len(conflicts) > 0 {
			if ev.Type == TypeIntervention && ev.IsRepeated() {
				// Preserved source behavior: proceed, silently dropping the
				// assignment and the repetition.
				ev.AuxiliaryID = ""
				ev.Repetition = &Repetition{Frequency: FrequencyNever}
			} else {
				return Event{}, ErrConflict
			}
		}
	}

	if err := e.Events.Insert(ctx, ev); err != nil {
		return Event{}, err
	}

	if ev.IsRepeated() {
		if err := e.materializeSiblings(ctx, ev); err != nil {
			return Event{}, err
		}
	}

	if ev.Type == TypeAbsence {
		if err := e.absenceCascade(ctx, ev); err != nil {
			return Event{}, err
		}
	}
	return ev, nil
}

// materializeSiblings persists the future instances of a repeated event,
// applying the per-occurrence conflict rules.
func (e *Engine) materializeSiblings(ctx context.Context, seed Event) error {
	for _, sibling := range Materialize(seed) {
		if sibling.AuxiliaryID != "" {
			conflicts, err := e.conflictsFor(ctx, sibling)
			if err != nil {
				return err
			}
			if len(conflicts) > 0 {
				if sibling.Type != TypeIntervention {
					continue // occurrence dropped, group goes on
				}
				sibling.AuxiliaryID = ""
			}
		}
		if err := e.Events.Insert(ctx, sibling); err != nil {
			return err
		}
	}
	return nil
}

// Update applies a typed patch to a stored event.
func (e *Engine) Update(ctx context.Context, id string, patch Patch) (Event, error) {
	current, err := e.Events.GetByID(ctx, id)
	if err != nil {
		return Event{}, err
	}
	if current.IsBilled {
		return Event{}, ErrBilledEvent
	}

	if patch.ShouldUpdateRepetition && current.IsRepeated() {
		return e.updateRepetition(ctx, current, patch)
	}

	updated := current
	updated.Interval = core.Interval{Start: patch.StartDate, End: patch.EndDate}
	updated.AuxiliaryID = patch.AuxiliaryID
	updated.SubscriptionID = patch.SubscriptionID
	updated.Sector = patch.Sector
	updated.Misc = patch.Misc

	if err := updated.Validate(); err != nil {
		return Event{}, err
	}

	// Any change beyond misc detaches the event from its repetition.
	if current.IsRepeated() && !patch.miscOnly(current) {
		updated.Repetition = &Repetition{Frequency: FrequencyNever, ParentID: current.Repetition.ParentID}
	}

	applyCancellation(&updated, patch.Cancellation)

	if updated.AuxiliaryID != "" && updated.Type != TypeAbsence {
		conflicts, err := e.conflictsFor(ctx, updated)
		if err != nil {
			return Event{}, err
		}
		if len(conflicts) > 0 {
			return Event{}, ErrConflict
		}
	}

	if err := e.Events.Update(ctx, updated); err != nil {
		return Event{}, err
	}

	if updated.Type == TypeAbsence {
		if err := e.absenceCascade(ctx, updated); err != nil {
			return Event{}, err
		}
	}
	return updated, nil
}

// applyCancellation sets or clears the cancellation sub-record. A payload
// omitting cancellation on a cancelled event clears it.
func applyCancellation(ev *Event, c *Cancellation) {
	if c == nil {
		if ev.IsCancelled {
			ev.IsCancelled = false
			ev.Cancellation = nil
		}
		return
	}
	ev.IsCancelled = true
	cc := *c
	ev.Cancellation = &cc
}

// updateRepetition propagates the patched clock times and assignment to all
// future siblings of the group, each re-anchored on its own day.
func (e *Engine) updateRepetition(ctx context.Context, current Event, patch Patch) (Event, error) {
	parentID := current.Repetition.ParentID
	if parentID == "" {
		parentID = current.ID
	}
	siblings, err := e.Events.Siblings(ctx, parentID, current.Interval.Start)
	if err != nil {
		return Event{}, err
	}

	newInterval := core.Interval{Start: patch.StartDate, End: patch.EndDate}
	result := current

	for _, sibling := range siblings {
		if sibling.IsBilled {
			continue
		}
		updated := sibling
		updated.Interval = shiftToDay(newInterval, sibling.Interval.Start)
		updated.AuxiliaryID = patch.AuxiliaryID
		updated.SubscriptionID = patch.SubscriptionID
		updated.Sector = patch.Sector
		updated.Misc = patch.Misc

		if updated.AuxiliaryID != "" {
			conflicts, err := e.conflictsFor(ctx, updated)
			if err != nil {
				return Event{}, err
			}
			if len(conflicts) > 0 {
				if updated.Type != TypeIntervention {
					continue
				}
				updated.AuxiliaryID = ""
			}
		}
		if err := e.Events.Update(ctx, updated); err != nil {
			return Event{}, err
		}
		if updated.ID == current.ID {
			result = updated
		}
	}
	return result, nil
}

// Delete removes an event. Billed events cannot be deleted.
func (e *Engine) Delete(ctx context.Context, id string) error {
	current, err := e.Events.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if current.IsBilled {
		return ErrBilledEvent
	}
	return e.Events.Delete(ctx, id)
}

// DeleteRepetition removes the event and its future unbilled siblings.
// Past members stay untouched: repetitions never end retroactively.
func (e *Engine) DeleteRepetition(ctx context.Context, id string) error {
	current, err := e.Events.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !current.IsRepeated() {
		return e.Delete(ctx, id)
	}
	parentID := current.Repetition.ParentID
	if parentID == "" {
		parentID = current.ID
	}
	siblings, err := e.Events.Siblings(ctx, parentID, current.Interval.Start)
	if err != nil {
		return err
	}
	for _, sibling := range siblings {
		if sibling.IsBilled {
			continue
		}
		if err := e.Events.Delete(ctx, sibling.ID); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// ABSENCE CASCADE
// =============================================================================

// absenceCascade clears the absence's window on the auxiliary's planning:
// internal hours and unavailabilities are deleted, interventions are
// unassigned and detached through the regular update path.
func (e *Engine) absenceCascade(ctx context.Context, absence Event) error {
	if absence.AuxiliaryID == "" {
		return nil
	}
	overlapping, err := e.Events.ByAuxiliaryInRange(ctx, absence.AuxiliaryID, absence.Interval)
	if err != nil {
		return err
	}

	for _, ev := range Conflicts(absence, overlapping, TypeInternalHour, TypeUnavailability) {
		if err := e.Events.Delete(ctx, ev.ID); err != nil {
			return err
		}
	}

	for _, ev := range Conflicts(absence, overlapping, TypeIntervention) {
		patch := Patch{
			StartDate:      ev.Interval.Start,
			EndDate:        ev.Interval.End,
			AuxiliaryID:    "", // unassign, never delete
			SubscriptionID: ev.SubscriptionID,
			Sector:         ev.Sector,
			Misc:           ev.Misc,
			Cancellation:   ev.Cancellation,
		}
		if _, err := e.Update(ctx, ev.ID, patch); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// CONTRACT-END CASCADE
// =============================================================================

// EndContractCascade adjusts the auxiliary's future planning after a
// contract ends: future unbilled interventions under the contract's
// subscriptions are unassigned and detached, future non-intervention events
// are deleted, and absences running past the end date are clamped to it.
// Every mutation is preceded by its audit record.
func (e *Engine) EndContractCascade(ctx context.Context, c contract.Contract) error {
	if c.EndDate == nil {
		return contract.ErrNoVersions
	}
	endDate := *c.EndDate
	window := core.Interval{Start: endDate, End: endDate.AddDate(10, 0, 0)}
	events, err := e.Events.ByAuxiliaryInRange(ctx, c.AuxiliaryID, window)
	if err != nil {
		return err
	}

	for _, ev := range events {
		switch {
		case ev.Type == TypeIntervention:
			if ev.IsBilled || ev.Interval.Start.Before(endDate) {
				continue
			}
			if c.CustomerID != "" && ev.CustomerID != c.CustomerID {
				continue
			}
			if err := e.auditContractEnd(ctx, c, ev); err != nil {
				return err
			}
			updated := ev
			updated.AuxiliaryID = ""
			if updated.IsRepeated() {
				updated.Repetition = &Repetition{Frequency: FrequencyNever, ParentID: ev.Repetition.ParentID}
			}
			if err := e.Events.Update(ctx, updated); err != nil {
				return err
			}

		case ev.Type == TypeAbsence:
			if !ev.Interval.End.After(endDate) {
				continue
			}
			if err := e.auditContractEnd(ctx, c, ev); err != nil {
				return err
			}
			updated := ev
			updated.Interval.End = endDate
			if err := e.Events.Update(ctx, updated); err != nil {
				return err
			}

		default: // internal hours, unavailabilities
			if ev.Interval.Start.Before(endDate) {
				continue
			}
			if err := e.auditContractEnd(ctx, c, ev); err != nil {
				return err
			}
			if err := e.Events.Delete(ctx, ev.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Engine) auditContractEnd(ctx context.Context, c contract.Contract, ev Event) error {
	return e.History.Append(ctx, HistoryRecord{
		ID:          uuid.NewString(),
		CompanyID:   ev.CompanyID,
		Action:      HistoryContractEnded,
		EventID:     ev.ID,
		AuxiliaryID: c.AuxiliaryID,
		CreatedAt:   time.Now().UTC(),
		Payload: map[string]string{
			"contract_id": c.ID,
			"event_type":  string(ev.Type),
		},
	})
}

// conflictsFor loads the auxiliary's overlapping events and filters them
// through the conflict rules.
func (e *Engine) conflictsFor(ctx context.Context, ev Event) ([]Event, error) {
	overlapping, err := e.Events.ByAuxiliaryInRange(ctx, ev.AuxiliaryID, ev.Interval)
	if err != nil {
		return nil, err
	}
	return Conflicts(ev, overlapping), nil
}
