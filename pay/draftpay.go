/*
Package pay computes provisional (draft) pay summaries for auxiliaries.

PURPOSE:
  Draft pay is a recomputable estimate produced before final payroll: per
  auxiliary and pay period it aggregates hours actually worked, splits
  them by surcharge outcome and employer-charge exemption, and compares
  the total against the contractual hours owed.

HOUR BUCKETS:
  Every worked hour lands in exactly one of four buckets, the cross
  product of surcharged/not-surcharged and exempt/not-exempt. Exemption
  comes from the service version the event resolves to; the surcharge
  split comes from pricing.SplitEvent. Detail maps accumulate surcharged
  hours by plan and rule across the period's events.

PRECONDITION:
  Callers filter auxiliaries to those under active contract before
  invoking the engine. An auxiliary without a contract is an error, never
  a silent zero: fabricating hours would corrupt payroll downstream.

SEE ALSO:
  - contract/hours.go: contractual hours
  - pricing/surcharge.go: the split algorithm
*/
package pay

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/care-engine/contract"
	"github.com/warp/care-engine/core"
	"github.com/warp/care-engine/pricing"
	"github.com/warp/care-engine/schedule"
)

// ErrNoContract is returned when an auxiliary reaches the engine without a
// contract covering the pay period. This is a caller precondition violation.
var ErrNoContract = errors.New("auxiliary has no contract for the period")

// =============================================================================
// INPUTS - Joined per-auxiliary data assembled by the repository
// =============================================================================

// Auxiliary is the worker identity joined with their contracts.
type Auxiliary struct {
	ID        string
	Firstname string
	Lastname  string
	Sector    string
	Contracts []contract.Contract
}

// EventWithService joins a payable event with its service reference data.
type EventWithService struct {
	Event   schedule.Event
	Service pricing.Service
}

// Input is one auxiliary's slice of the period: identity, contracts, and the
// billable/payable events grouped under them.
type Input struct {
	Auxiliary Auxiliary
	Events    []EventWithService
}

// =============================================================================
// SUMMARY - Per-auxiliary draft pay
// =============================================================================

// Summary is the draft pay for one auxiliary over one period. The counter,
// bonus, and fee fields are placeholders populated from company
// configuration, reconciled against actual final pay later.
type Summary struct {
	AuxiliaryID string
	Firstname   string
	Lastname    string
	Sector      string
	StartDate   time.Time
	EndDate     time.Time

	WorkedHours decimal.Decimal

	NotSurchargedAndNotExempt decimal.Decimal
	SurchargedAndNotExempt    decimal.Decimal
	NotSurchargedAndExempt    decimal.Decimal
	SurchargedAndExempt       decimal.Decimal

	SurchargedAndNotExemptDetails pricing.Details
	SurchargedAndExemptDetails    pricing.Details

	ContractHours decimal.Decimal
	HoursBalance  decimal.Decimal

	HoursCounter    decimal.Decimal
	Overtime        decimal.Decimal
	AdditionalHours decimal.Decimal
	Bonus           decimal.Decimal
	Mutual          bool
	Transport       decimal.Decimal
	OtherFees       decimal.Decimal
}

// CompanyConfig carries the company-level pay defaults copied onto every
// summary.
type CompanyConfig struct {
	Mutual    bool
	Transport decimal.Decimal
	OtherFees decimal.Decimal
}

// =============================================================================
// ENGINE
// =============================================================================

// Engine aggregates draft pay from joined inputs.
type Engine struct {
	Calendar *core.Calendar
	Config   CompanyConfig
}

func NewEngine(calendar *core.Calendar, config CompanyConfig) *Engine {
	return &Engine{Calendar: calendar, Config: config}
}

// DraftPay produces one summary per auxiliary for the period.
func (e *Engine) DraftPay(inputs []Input, period core.Interval) ([]Summary, error) {
	summaries := make([]Summary, 0, len(inputs))
	for _, input := range inputs {
		summary, err := e.draftPayFor(input, period)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

func (e *Engine) draftPayFor(input Input, period core.Interval) (Summary, error) {
	if len(input.Auxiliary.Contracts) == 0 {
		return Summary{}, fmt.Errorf("auxiliary %s: %w", input.Auxiliary.ID, ErrNoContract)
	}

	s := Summary{
		AuxiliaryID: input.Auxiliary.ID,
		Firstname:   input.Auxiliary.Firstname,
		Lastname:    input.Auxiliary.Lastname,
		Sector:      input.Auxiliary.Sector,
		StartDate:   period.Start,
		EndDate:     period.End,

		SurchargedAndNotExemptDetails: make(pricing.Details),
		SurchargedAndExemptDetails:    make(pricing.Details),

		Mutual:    e.Config.Mutual,
		Transport: e.Config.Transport,
		OtherFees: e.Config.OtherFees,
	}

	for _, ews := range input.Events {
		ev := ews.Event
		if ev.IsCancelled {
			continue
		}

		hours := ev.Interval.Hours()
		s.WorkedHours = s.WorkedHours.Add(hours)

		version, err := ews.Service.VersionAt(ev.Interval.Start)
		if err != nil {
			// Upstream invariants were violated; propagate, never fabricate.
			return Summary{}, err
		}

		if version.Exemption {
			split := pricing.SplitEvent(ev.Interval, version, e.Calendar, s.SurchargedAndExemptDetails)
			s.SurchargedAndExempt = s.SurchargedAndExempt.Add(split.Surcharged)
			s.NotSurchargedAndExempt = s.NotSurchargedAndExempt.Add(split.NotSurcharged)
			s.SurchargedAndExemptDetails = split.Details
		} else {
			split := pricing.SplitEvent(ev.Interval, version, e.Calendar, s.SurchargedAndNotExemptDetails)
			s.SurchargedAndNotExempt = s.SurchargedAndNotExempt.Add(split.Surcharged)
			s.NotSurchargedAndNotExempt = s.NotSurchargedAndNotExempt.Add(split.NotSurcharged)
			s.SurchargedAndNotExemptDetails = split.Details
		}
	}

	s.ContractHours = contract.Hours(input.Auxiliary.Contracts[0], period, e.Calendar)
	s.HoursBalance = s.WorkedHours.Sub(s.ContractHours)
	return s, nil
}
