/*
Package balances reconciles bills, credit notes, and payments into per-payer
running balances.

MODEL:
  Every balance is keyed by (customer, third-party-payer-or-none). Billed
  totals are reduced by credit-note refunds for the same key; the balance is
  what was paid minus what remains billed. A negative balance is money owed
  to the company; it becomes a to-pay amount only when the customer can be
  direct-debited.

ORPHANS:
  A credit-note or payment group with no billed counterpart still produces a
  balance record, so refunds and spontaneous payments stay visible.
*/
package balances

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/care-engine/customer"
)

var hundred = decimal.NewFromInt(100)

// Key identifies one balance: a customer alone, or a customer seen through
// one third-party payer.
type Key struct {
	CustomerID        string
	ThirdPartyPayerID string // empty = customer-side balance
}

// BilledGroup is the total billed for one key.
type BilledGroup struct {
	Key    Key
	Billed decimal.Decimal
}

// CreditGroup is the total credit-note refund for one key: the customer
// share for customer keys, the payer share for payer keys.
type CreditGroup struct {
	Key    Key
	Refund decimal.Decimal
}

// PaymentGroup is the net paid for one key, refund-nature payments deducted.
type PaymentGroup struct {
	Key  Key
	Paid decimal.Decimal
}

// Balance is the reconciled position for one key.
type Balance struct {
	Key               Key
	Billed            decimal.Decimal
	Refund            decimal.Decimal
	Paid              decimal.Decimal
	Amount            decimal.Decimal // paid - (billed - refund); negative = owed to the company
	ToPay             decimal.Decimal
	ParticipationRate decimal.Decimal
}

// Store supplies the grouped document totals up to a cutoff date.
type Store interface {
	BilledTotals(ctx context.Context, companyID string, until time.Time) ([]BilledGroup, error)
	CreditNoteTotals(ctx context.Context, companyID string, until time.Time) ([]CreditGroup, error)
	PaymentTotals(ctx context.Context, companyID string, until time.Time) ([]PaymentGroup, error)
}

// ReferenceLoader supplies the customer and payer documents the engine needs
// for eligibility and participation rates.
type ReferenceLoader interface {
	Customers(ctx context.Context, companyID string) (map[string]customer.Customer, error)
	Payers(ctx context.Context, companyID string) (map[string]customer.ThirdPartyPayer, error)
}

// Engine computes balances from grouped store totals.
type Engine struct {
	Store Store
	Refs  ReferenceLoader
}

func NewEngine(store Store, refs ReferenceLoader) *Engine {
	return &Engine{Store: store, Refs: refs}
}

// Balances reconciles all three document families for the company up to the
// cutoff date. Ordering follows the billed groups first, then orphan credit
// and payment groups in store order.
func (e *Engine) Balances(ctx context.Context, companyID string, until time.Time) ([]Balance, error) {
	billed, err := e.Store.BilledTotals(ctx, companyID, until)
	if err != nil {
		return nil, err
	}
	credits, err := e.Store.CreditNoteTotals(ctx, companyID, until)
	if err != nil {
		return nil, err
	}
	payments, err := e.Store.PaymentTotals(ctx, companyID, until)
	if err != nil {
		return nil, err
	}
	customers, err := e.Refs.Customers(ctx, companyID)
	if err != nil {
		return nil, err
	}
	payers, err := e.Refs.Payers(ctx, companyID)
	if err != nil {
		return nil, err
	}

	refundByKey := make(map[Key]decimal.Decimal, len(credits))
	for _, c := range credits {
		refundByKey[c.Key] = refundByKey[c.Key].Add(c.Refund)
	}
	paidByKey := make(map[Key]decimal.Decimal, len(payments))
	for _, p := range payments {
		paidByKey[p.Key] = paidByKey[p.Key].Add(p.Paid)
	}

	seen := make(map[Key]bool, len(billed))
	var out []Balance
	for _, b := range billed {
		seen[b.Key] = true
		out = append(out, e.balance(b.Key, b.Billed, refundByKey[b.Key], paidByKey[b.Key], customers, payers))
	}

	// Standalone records for refund/payment groups with no billed counterpart.
	for _, c := range credits {
		if seen[c.Key] {
			continue
		}
		seen[c.Key] = true
		out = append(out, e.balance(c.Key, decimal.Zero, refundByKey[c.Key], paidByKey[c.Key], customers, payers))
	}
	for _, p := range payments {
		if seen[p.Key] {
			continue
		}
		seen[p.Key] = true
		out = append(out, e.balance(p.Key, decimal.Zero, decimal.Zero, paidByKey[p.Key], customers, payers))
	}
	return out, nil
}

func (e *Engine) balance(key Key, billed, refund, paid decimal.Decimal, customers map[string]customer.Customer, payers map[string]customer.ThirdPartyPayer) Balance {
	netBilled := billed.Sub(refund)
	amount := paid.Sub(netBilled)

	b := Balance{
		Key:    key,
		Billed: billed,
		Refund: refund,
		Paid:   paid,
		Amount: amount,
	}

	cust, known := customers[key.CustomerID]
	if amount.IsNegative() && known && cust.Payment.DirectDebitEligible() {
		b.ToPay = amount.Abs()
	}
	if key.ThirdPartyPayerID == "" && known {
		b.ParticipationRate = participationRate(cust, payers)
	}
	return b
}

// participationRate is 100 unless the customer holds an APA-scheme funding,
// in which case it is the highest customer participation among those
// fundings' latest versions. Third-party balances always carry zero.
func participationRate(cust customer.Customer, payers map[string]customer.ThirdPartyPayer) decimal.Decimal {
	rate := decimal.Decimal{}
	found := false
	for _, f := range cust.Fundings {
		payer, ok := payers[f.ThirdPartyPayerID]
		if !ok || !payer.IsApa {
			continue
		}
		v, ok := f.LatestVersion()
		if !ok {
			continue
		}
		if !found || v.CustomerParticipationRate.GreaterThan(rate) {
			rate = v.CustomerParticipationRate
			found = true
		}
	}
	if !found {
		return hundred
	}
	return rate
}
