/*
Package customer models the customer side of the business: subscriptions to
services, third-party-payer fundings, and the payment details that drive
direct-debit eligibility.

KEY CONCEPTS:
  Subscription:     a customer's enrolment in a service, with the agreed
                    unit rate used by billing
  Funding:          a third-party payer's commitment to cover part of a
                    subscription, versioned like contracts and services
  ThirdPartyPayer:  the external payer (public aid scheme, insurer)
  Mandate:          a signed direct-debit authorization

SEE ALSO:
  - billing/: consumes subscriptions and fundings to split bills
  - balances/: consumes payment details and fundings for balance records
*/
package customer

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/care-engine/core"
	"github.com/warp/care-engine/pricing"
)

// =============================================================================
// CUSTOMER
// =============================================================================

// Identity is the customer's civil identity.
type Identity struct {
	Title     string
	Firstname string
	Lastname  string
}

// Customer aggregates subscriptions, fundings, and payment details.
type Customer struct {
	ID            string
	CompanyID     string
	Identity      Identity
	Payment       PaymentInfo
	Subscriptions []Subscription
	Fundings      []Funding
}

// PaymentInfo carries the direct-debit bank details.
type PaymentInfo struct {
	IBAN             string
	BIC              string
	BankAccountOwner string
	Mandates         []Mandate
}

// Mandate is a direct-debit authorization. A mandate counts only once signed.
type Mandate struct {
	ID        string
	RUM       string
	SignedAt  *time.Time
	CreatedAt time.Time
}

// LatestMandate returns the mandate with the greatest CreatedAt.
func (p PaymentInfo) LatestMandate() (Mandate, bool) {
	return core.LatestBy(p.Mandates, func(m Mandate) time.Time { return m.CreatedAt })
}

// DirectDebitEligible reports whether bills for this customer can be
// collected by direct debit: bank identity complete and the latest mandate
// signed.
func (p PaymentInfo) DirectDebitEligible() bool {
	if p.IBAN == "" || p.BIC == "" || p.BankAccountOwner == "" {
		return false
	}
	m, ok := p.LatestMandate()
	return ok && m.SignedAt != nil
}

// =============================================================================
// SUBSCRIPTION
// =============================================================================

// Subscription enrols the customer in a service at an agreed unit rate
// (inclusive of taxes).
type Subscription struct {
	ID          string
	ServiceID   string
	UnitTTCRate decimal.Decimal
	WeeklyHours decimal.Decimal
	CreatedAt   time.Time
}

// SubscriptionByID looks a subscription up on the customer.
func (c Customer) SubscriptionByID(id string) (Subscription, bool) {
	for _, s := range c.Subscriptions {
		if s.ID == id {
			return s, true
		}
	}
	return Subscription{}, false
}

// =============================================================================
// FUNDING
// =============================================================================

// Frequency is how often a funding's cap renews.
type Frequency string

const (
	FrequencyMonthly Frequency = "monthly"
	FrequencyOnce    Frequency = "once"
)

// Funding binds a subscription to a third-party payer. Its nature decides
// what the funding covers: care hours (hourly) or an amount (fixed).
type Funding struct {
	ID                string
	SubscriptionID    string
	ThirdPartyPayerID string
	Nature            pricing.Nature
	Frequency         Frequency
	Versions          []FundingVersion
}

// FundingVersion is the funding's state from StartDate onward.
type FundingVersion struct {
	ID                        string
	StartDate                 time.Time
	EndDate                   *time.Time
	CreatedAt                 time.Time
	FolderNumber              string
	CareHours                 decimal.Decimal // hourly nature: covered hours per period
	Amount                    decimal.Decimal // fixed nature: covered amount (incl. taxes)
	UnitTTCRate               decimal.Decimal
	CustomerParticipationRate decimal.Decimal // percentage left to the customer
	CareDays                  []time.Weekday  // weekdays the funding applies to (empty = all)
}

// VersionAt resolves the funding version effective at the given date.
func (f Funding) VersionAt(at time.Time) (FundingVersion, error) {
	v, ok := core.MatchingVersion(f.Versions, at, func(fv FundingVersion) time.Time { return fv.StartDate })
	if !ok {
		return FundingVersion{}, fmt.Errorf("funding %s at %s: %w", f.ID, at.Format(time.RFC3339), core.ErrNoMatchingVersion)
	}
	return v, nil
}

// LatestVersion returns the version with the greatest CreatedAt.
// "Latest version" for fundings always means maximum CreatedAt.
func (f Funding) LatestVersion() (FundingVersion, bool) {
	return core.LatestBy(f.Versions, func(v FundingVersion) time.Time { return v.CreatedAt })
}

// AppliesOn reports whether the version funds events on the given weekday.
func (v FundingVersion) AppliesOn(day time.Weekday) bool {
	if len(v.CareDays) == 0 {
		return true
	}
	for _, d := range v.CareDays {
		if d == day {
			return true
		}
	}
	return false
}

// =============================================================================
// THIRD-PARTY PAYER
// =============================================================================

// ThirdPartyPayer is an external entity paying part of a customer's bills.
type ThirdPartyPayer struct {
	ID               string
	CompanyID        string
	Name             string
	IsApa            bool // APA public-aid scheme; drives participation rates
	ExternallyBilled bool // payer bills through its own system; no internal bill number
}
