/*
Package schedule implements the event scheduling engine: conflict
detection, recurring-event materialization, and the cascades that keep
absences, interventions, and contracts consistent with each other.

EVENT LIFECYCLE:
  Draft -> Persisted, then Persisted -> Edited (repeatable),
  Persisted -> Cancelled -> Persisted, or Persisted -> Deleted (terminal).
  Once billed, an event is immutable with respect to schedule fields and
  can no longer be deleted.

KEY RULES (see engine.go for the full cascade semantics):
  - An auxiliary cannot hold two overlapping non-cancelled events.
  - A repeated intervention that conflicts at creation is persisted anyway,
    unassigned and with its frequency forced to never.
  - An absence suppresses overlapping internal hours and unavailabilities
    and unassigns overlapping interventions.
  - Ending a contract unassigns future unbilled interventions, deletes
    future non-intervention events, and clamps open-ended absences.
*/
package schedule

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/care-engine/core"
	"github.com/warp/care-engine/pricing"
)

// =============================================================================
// EVENT TYPES
// =============================================================================

// Type is the kind of scheduled occurrence.
type Type string

const (
	TypeIntervention   Type = "intervention"    // billable care visit
	TypeAbsence        Type = "absence"         // auxiliary absence
	TypeInternalHour   Type = "internal_hour"   // non-billable internal work
	TypeUnavailability Type = "unavailability"  // auxiliary not schedulable
)

// Frequency describes how an event repeats.
type Frequency string

const (
	FrequencyNever    Frequency = "never"
	FrequencyDaily    Frequency = "every_day"
	FrequencyWeekdays Frequency = "every_week_day" // Monday-Friday
	FrequencyWeekly   Frequency = "every_week"
)

// Repetition groups generated event instances under a parent id.
type Repetition struct {
	Frequency Frequency
	ParentID  string
}

// IsRepeated reports whether the descriptor denotes an actual repetition.
func (r *Repetition) IsRepeated() bool {
	return r != nil && r.Frequency != "" && r.Frequency != FrequencyNever
}

// Cancellation records why a persisted event was cancelled.
type Cancellation struct {
	Condition string
	Reason    string
}

// BillingSnapshot is the per-event billing outcome frozen when the event is
// billed, split between the customer and an optional third-party payer.
type BillingSnapshot struct {
	FundingID         string
	FundingVersionID  string
	ThirdPartyPayerID string
	Nature            pricing.Nature
	Frequency         string // funding frequency, kept for credit-note reversal
	CareHours         decimal.Decimal
	InclTaxesCustomer decimal.Decimal
	ExclTaxesCustomer decimal.Decimal
	InclTaxesTpp      decimal.Decimal
	ExclTaxesTpp      decimal.Decimal
}

// =============================================================================
// EVENT
// =============================================================================

// Event is a single scheduled occurrence.
type Event struct {
	ID        string
	CompanyID string
	Type      Type
	Interval  core.Interval

	AuxiliaryID    string // optional: interventions may be unassigned
	CustomerID     string
	SubscriptionID string
	Sector         string
	Misc           string

	Repetition *Repetition

	IsCancelled  bool
	Cancellation *Cancellation

	IsBilled bool
	Billing  *BillingSnapshot
}

// Validate checks the structural invariants: a valid interval, and for
// non-absence types, start and end on the same calendar day.
func (e Event) Validate() error {
	if !e.Interval.IsValid() {
		return core.ErrInvalidInterval
	}
	if e.Type != TypeAbsence && !e.Interval.SameDay(e.Interval.Start.Location()) {
		return ErrMultiDayEvent
	}
	return nil
}

// IsRepeated reports whether the event belongs to a repetition group.
func (e Event) IsRepeated() bool {
	return e.Repetition.IsRepeated()
}

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrConflict is returned when an auxiliary already holds an overlapping
	// event. Never retried automatically.
	ErrConflict = errors.New("auxiliary has a conflicting event")

	// ErrBilledEvent is returned when editing or deleting a billed event.
	ErrBilledEvent = errors.New("event is billed and immutable")

	// ErrMultiDayEvent is returned when a non-absence event spans days.
	ErrMultiDayEvent = errors.New("event must start and end on the same day")

	// ErrEventNotFound is returned when a referenced event is absent.
	ErrEventNotFound = errors.New("event not found")
)

// =============================================================================
// AUDIT HISTORY
// =============================================================================

// HistoryAction identifies what a history record documents.
type HistoryAction string

const (
	HistoryEventUpdated  HistoryAction = "event_updated"
	HistoryEventDeleted  HistoryAction = "event_deleted"
	HistoryContractEnded HistoryAction = "contract_ended"
)

// HistoryRecord is an append-only audit entry written BEFORE the mutation it
// documents, so an audit failure aborts the mutation.
type HistoryRecord struct {
	ID          string
	CompanyID   string
	Action      HistoryAction
	EventID     string
	AuxiliaryID string
	CreatedAt   time.Time
	Payload     map[string]string
}
