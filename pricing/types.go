/*
Package pricing models billable service offerings and their surcharge rules.

PURPOSE:
  A Service is a versioned billable offering (hourly care, fixed-price
  packages). Each version carries the unit rate, VAT, the
  employer-charge-exemption flag, and an optional Surcharge rate table.
  The surcharge resolver in surcharge.go splits an event's duration into
  surcharged and non-surcharged hours.

VERSIONING:
  Service versions follow the shared resolution rule: the version effective
  at a date is the one with the greatest start date not after that date.
  An event that resolves to no version is a data-integrity fault.

SEE ALSO:
  - surcharge.go: the split algorithm
  - core/version.go: version resolution
*/
package pricing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/care-engine/core"
)

// =============================================================================
// SERVICE - Versioned billable offering
// =============================================================================

// Nature distinguishes hourly services (billed per hour, surchargeable)
// from fixed services (flat amount, never surcharged).
type Nature string

const (
	NatureHourly Nature = "hourly"
	NatureFixed  Nature = "fixed"
)

// Service is a billable offering with time-ordered versions.
type Service struct {
	ID        string
	CompanyID string
	Versions  []ServiceVersion
}

// ServiceVersion is the state of a service from StartDate onward.
type ServiceVersion struct {
	StartDate         time.Time
	Name              string
	Nature            Nature
	DefaultUnitAmount decimal.Decimal
	VAT               decimal.Decimal
	Exemption         bool // exempt from employer charges
	Surcharge         *Surcharge
}

// VersionAt resolves the version effective at the given date.
// Failure is a data-integrity error, never a valid "no version" state.
func (s Service) VersionAt(at time.Time) (ServiceVersion, error) {
	v, ok := core.MatchingVersion(s.Versions, at, func(sv ServiceVersion) time.Time { return sv.StartDate })
	if !ok {
		return ServiceVersion{}, fmt.Errorf("service %s at %s: %w", s.ID, at.Format(time.RFC3339), core.ErrNoMatchingVersion)
	}
	return v, nil
}

// =============================================================================
// SURCHARGE - Named percentage-rate table
// =============================================================================

// Surcharge is a named rate table. A zero percentage means the rule is not
// configured. Full-day rules are exclusive; window rules stack additively.
type Surcharge struct {
	ID   string
	Name string

	// Full-day rules, in strict priority order.
	TwentyFifthOfDecember decimal.Decimal
	FirstOfMay            decimal.Decimal
	PublicHoliday         decimal.Decimal
	Saturday              decimal.Decimal
	Sunday                decimal.Decimal

	// Time-window rules ("HH:MM"; a window may wrap past midnight).
	Evening            decimal.Decimal
	EveningStartTime   string
	EveningEndTime     string
	Custom             decimal.Decimal
	CustomStartTime    string
	CustomEndTime      string
}

// Rule labels used in surcharge detail keys. French, as printed on pay slips.
const (
	LabelTwentyFifthOfDecember = "25 décembre"
	LabelFirstOfMay            = "1er mai"
	LabelPublicHoliday         = "Jours fériés"
	LabelSaturday              = "Samedi"
	LabelSunday                = "Dimanche"
	LabelEvening               = "Soirée"
	LabelCustom                = "Personnalisée"
)
