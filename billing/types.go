/*
Package billing turns billable events into financial documents: draft
bills grouped per customer, persisted Bills with sequential numbers,
funding-history accounting, and credit notes.

DOCUMENT MODEL:
  A draft bill is the computed, not-yet-persisted split of a
  subscription's events for one payer (the customer or one third-party
  payer). FormatAndCreateBills turns a customer's draft group into real
  Bill documents: one aggregate customer bill plus one bill per
  third-party payer, each with a sequential number unless the payer is
  externally billed.

FUNDING HISTORY:
  Each funding version accumulates what has been consumed against it:
  care hours for hourly fundings (bucketed by month when the funding
  renews monthly), an amount for fixed fundings. Billing increments the
  accumulators; credit notes decrement them, floored at zero.

CONSISTENCY:
  Persisting a bill run is NOT atomic across documents. The write order -
  sequence counter, funding history, event billing flags, then bills -
  is chosen so a reader can never observe a Bill whose events are not
  marked billed. A partial failure leaves state recoverable by re-running
  the aggregation, which is idempotent over already-billed events.
*/
package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/care-engine/customer"
	"github.com/warp/care-engine/pricing"
	"github.com/warp/care-engine/schedule"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrUnknownSubscription is returned when an event references a
	// subscription the customer does not hold. Upstream invariants were
	// violated; this is an integrity fault, not user error.
	ErrUnknownSubscription = errors.New("event references unknown subscription")

	// ErrAlreadyBilled is returned when a draft group contains an event
	// already marked billed.
	ErrAlreadyBilled = errors.New("event already billed")
)

// =============================================================================
// BILL DOCUMENTS
// =============================================================================

// Bill is an immutable financial document. Once created it changes only by
// being linked to Payments.
type Bill struct {
	ID                string
	CompanyID         string
	Number            string // empty for externally-billed third-party payers
	CustomerID        string
	ThirdPartyPayerID string // empty = customer bill
	Date              time.Time
	NetInclTaxes      decimal.Decimal
	Subscriptions     []BillSubscription
	CreatedAt         time.Time
}

// BillSubscription is one line item of a bill.
type BillSubscription struct {
	SubscriptionID string
	ServiceName    string
	UnitInclTaxes  decimal.Decimal
	Hours          decimal.Decimal
	ExclTaxes      decimal.Decimal
	InclTaxes      decimal.Decimal
	Discount       decimal.Decimal
	CareHours      decimal.Decimal // consumed care-hours tag for hourly-funded lines
	EventIDs       []string
}

// FormatNumber renders "prefix + zero-padded sequence".
func FormatNumber(prefix string, seq int) string {
	return fmt.Sprintf("%s%05d", prefix, seq)
}

// CreditNote cancels part of a bill. Its amounts are split between customer
// and third-party payer like the bill it offsets.
type CreditNote struct {
	ID                string
	CompanyID         string
	Number            string
	CustomerID        string
	ThirdPartyPayerID string
	Date              time.Time
	InclTaxesCustomer decimal.Decimal
	InclTaxesTpp      decimal.Decimal
	EventIDs          []string
	CreatedAt         time.Time
}

// Payment records money received (or refunded) for a customer, optionally
// from a third-party payer.
type PaymentNature string

const (
	PaymentReceived PaymentNature = "payment"
	PaymentRefund   PaymentNature = "refund"
)

type Payment struct {
	ID                string
	CompanyID         string
	Number            string
	CustomerID        string
	ThirdPartyPayerID string
	Date              time.Time
	NetInclTaxes      decimal.Decimal
	Nature            PaymentNature
	Type              string // direct_debit, check, transfer...
	CreatedAt         time.Time
}

// =============================================================================
// DRAFT BILLS
// =============================================================================

// EventBill is the computed billing outcome for one event within a draft.
type EventBill struct {
	EventID   string
	StartDate time.Time
	InclTaxes decimal.Decimal
	ExclTaxes decimal.Decimal
	CareHours decimal.Decimal
	Month     string // "2006-01" funding bucket, monthly fundings only
}

// DraftBill is the computed share of one subscription's events owed by one
// payer.
type DraftBill struct {
	CustomerID        string
	ThirdPartyPayerID string // empty = customer share
	SubscriptionID    string
	ServiceName       string
	UnitInclTaxes     decimal.Decimal
	Hours             decimal.Decimal
	ExclTaxes         decimal.Decimal
	InclTaxes         decimal.Decimal
	EventBills        []EventBill

	// Funding attribution, third-party drafts only.
	FundingID        string
	FundingVersionID string
	Nature           pricing.Nature
	Frequency        customer.Frequency
	CareHours        decimal.Decimal
	ExternalBilling  bool
}

// DraftBillGroup is one customer's drafts, split by payer side.
type DraftBillGroup struct {
	Customer        customer.Customer
	CustomerBills   []DraftBill
	ThirdPartyBills []DraftBill
}

// =============================================================================
// STORE INTERFACES
// =============================================================================

// SequenceAllocator hands out per-company, per-prefix sequence numbers via
// an atomic find-and-increment. Numbers allocated by consecutive calls are
// consecutive integers.
type SequenceAllocator interface {
	Allocate(ctx context.Context, companyID, prefix string) (int, error)
}

// HistoryDelta is one funding-history increment (or decrement, for credit
// notes). Month is empty for once-frequency and fixed-nature fundings.
type HistoryDelta struct {
	FundingID        string
	FundingVersionID string
	Month            string
	CareHours        decimal.Decimal
	AmountTTC        decimal.Decimal
}

// FundingHistoryStore upserts funding-history accumulators, creating the
// record when absent. Implementations floor accumulators at zero.
type FundingHistoryStore interface {
	Increment(ctx context.Context, delta HistoryDelta) error
	Consumed(ctx context.Context, fundingVersionID, month string) (careHours, amountTTC decimal.Decimal, err error)
}

// BillStore persists financial documents.
type BillStore interface {
	InsertBills(ctx context.Context, bills []Bill) error
	InsertCreditNote(ctx context.Context, cn CreditNote) error
}

// EventBillingUpdater marks events billed with their resolved snapshot.
type EventBillingUpdater interface {
	MarkBilled(ctx context.Context, eventID string, snap schedule.BillingSnapshot) error
}
