/*
draft.go - Draft-bill construction

PURPOSE:
  Computes, without persisting anything, how much of a customer's billable
  events each payer owes. Events are grouped by subscription; each event is
  priced at the subscription's unit rate, then split between the customer
  and at most one third-party funding.

FUNDING SPLIT:
  An event is funded when a funding on its subscription has a version
  effective at the event start whose care days include the event's weekday.
  - hourly funding: the payer covers up to the version's care-hours cap
    (per month for monthly fundings, lifetime for once) at the funding's
    unit rate, minus the customer participation share; the customer pays
    the remainder of the event price.
  - fixed funding: the payer covers the event price up to the version's
    remaining amount; the customer pays what exceeds it.
  Consumption already recorded in funding history counts against the caps,
  as does consumption accumulated earlier in the same draft run.
*/
package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/care-engine/customer"
	"github.com/warp/care-engine/pricing"
	"github.com/warp/care-engine/schedule"
)

var hundred = decimal.NewFromInt(100)

// BillableEvent joins a billable event with its service reference data.
type BillableEvent struct {
	Event   schedule.Event
	Service pricing.Service
}

// DraftInput is one customer's slice of the billing run.
type DraftInput struct {
	Customer customer.Customer
	Events   []BillableEvent
	Payers   map[string]customer.ThirdPartyPayer
}

// Builder computes draft bills. It reads funding history to honour funding
// caps but never writes.
type Builder struct {
	History FundingHistoryStore
}

func NewBuilder(history FundingHistoryStore) *Builder {
	return &Builder{History: history}
}

// DraftBills computes the payer split of the input's billable events. Events
// that are cancelled are skipped; an already-billed event is an error.
func (b *Builder) DraftBills(ctx context.Context, input DraftInput) (DraftBillGroup, error) {
	group := DraftBillGroup{Customer: input.Customer}

	bySubscription := make(map[string][]BillableEvent)
	var order []string
	for _, be := range input.Events {
		ev := be.Event
		if ev.Type != schedule.TypeIntervention || ev.IsCancelled {
			continue
		}
		if ev.IsBilled {
			return DraftBillGroup{}, fmt.Errorf("event %s: %w", ev.ID, ErrAlreadyBilled)
		}
		if _, seen := bySubscription[ev.SubscriptionID]; !seen {
			order = append(order, ev.SubscriptionID)
		}
		bySubscription[ev.SubscriptionID] = append(bySubscription[ev.SubscriptionID], be)
	}

	// Caps consumed within this run, keyed by funding version then month
	// bucket, so a single draft never over-allocates a funding.
	runHours := make(map[string]map[string]decimal.Decimal)
	runAmount := make(map[string]decimal.Decimal)

	for _, subID := range order {
		sub, ok := input.Customer.SubscriptionByID(subID)
		if !ok {
			return DraftBillGroup{}, fmt.Errorf("customer %s, subscription %s: %w",
				input.Customer.ID, subID, ErrUnknownSubscription)
		}

		customerDraft := DraftBill{
			CustomerID:     input.Customer.ID,
			SubscriptionID: sub.ID,
			UnitInclTaxes:  sub.UnitTTCRate,
		}
		tppDrafts := make(map[string]*DraftBill)
		var tppOrder []string

		for _, be := range bySubscription[subID] {
			ev := be.Event

			version, err := be.Service.VersionAt(ev.Interval.Start)
			if err != nil {
				return DraftBillGroup{}, err
			}
			if customerDraft.ServiceName == "" {
				customerDraft.ServiceName = version.Name
			}

			hours := ev.Interval.Hours()
			eventIncl := hours.Mul(sub.UnitTTCRate)

			share, err := b.fundingShare(ctx, input.Customer, sub.ID, ev, eventIncl, runHours, runAmount)
			if err != nil {
				return DraftBillGroup{}, err
			}

			customerIncl := eventIncl.Sub(share.inclTaxes)
			customerDraft.Hours = customerDraft.Hours.Add(hours)
			customerDraft.InclTaxes = customerDraft.InclTaxes.Add(customerIncl)
			customerDraft.ExclTaxes = customerDraft.ExclTaxes.Add(exclFromIncl(customerIncl, version.VAT))
			customerDraft.EventBills = append(customerDraft.EventBills, EventBill{
				EventID:   ev.ID,
				StartDate: ev.Interval.Start,
				InclTaxes: customerIncl,
				ExclTaxes: exclFromIncl(customerIncl, version.VAT),
			})

			if share.funding == nil {
				continue
			}

			draft, seen := tppDrafts[share.funding.ThirdPartyPayerID]
			if !seen {
				payer := input.Payers[share.funding.ThirdPartyPayerID]
				draft = &DraftBill{
					CustomerID:        input.Customer.ID,
					ThirdPartyPayerID: share.funding.ThirdPartyPayerID,
					SubscriptionID:    sub.ID,
					ServiceName:       version.Name,
					UnitInclTaxes:     sub.UnitTTCRate,
					FundingID:         share.funding.ID,
					FundingVersionID:  share.version.ID,
					Nature:            share.funding.Nature,
					Frequency:         share.funding.Frequency,
					ExternalBilling:   payer.ExternallyBilled,
				}
				tppDrafts[share.funding.ThirdPartyPayerID] = draft
				tppOrder = append(tppOrder, share.funding.ThirdPartyPayerID)
			}

			draft.Hours = draft.Hours.Add(share.careHours)
			draft.CareHours = draft.CareHours.Add(share.careHours)
			draft.InclTaxes = draft.InclTaxes.Add(share.inclTaxes)
			draft.ExclTaxes = draft.ExclTaxes.Add(exclFromIncl(share.inclTaxes, version.VAT))
			draft.EventBills = append(draft.EventBills, EventBill{
				EventID:   ev.ID,
				StartDate: ev.Interval.Start,
				InclTaxes: share.inclTaxes,
				ExclTaxes: exclFromIncl(share.inclTaxes, version.VAT),
				CareHours: share.careHours,
				Month:     share.month,
			})
		}

		if customerDraft.InclTaxes.IsPositive() || len(tppDrafts) == 0 {
			group.CustomerBills = append(group.CustomerBills, customerDraft)
		}
		for _, payerID := range tppOrder {
			group.ThirdPartyBills = append(group.ThirdPartyBills, *tppDrafts[payerID])
		}
	}

	return group, nil
}

// fundedShare is the third-party slice of one event.
type fundedShare struct {
	funding   *customer.Funding
	version   customer.FundingVersion
	inclTaxes decimal.Decimal
	careHours decimal.Decimal
	month     string
}

// fundingShare resolves the funding applicable to the event and computes the
// payer's slice of the event price, honouring the version's caps.
func (b *Builder) fundingShare(
	ctx context.Context,
	cust customer.Customer,
	subscriptionID string,
	ev schedule.Event,
	eventIncl decimal.Decimal,
	runHours map[string]map[string]decimal.Decimal,
	runAmount map[string]decimal.Decimal,
) (fundedShare, error) {
	for i := range cust.Fundings {
		f := cust.Fundings[i]
		if f.SubscriptionID != subscriptionID {
			continue
		}
		version, err := f.VersionAt(ev.Interval.Start)
		if err != nil {
			continue // funding not yet effective for this event
		}
		if version.EndDate != nil && !ev.Interval.Start.Before(*version.EndDate) {
			continue
		}
		if !version.AppliesOn(ev.Interval.Start.Weekday()) {
			continue
		}

		month := ""
		if f.Frequency == customer.FrequencyMonthly {
			month = ev.Interval.Start.Format("2006-01")
		}

		consumedHours, consumedAmount, err := b.History.Consumed(ctx, version.ID, month)
		if err != nil {
			return fundedShare{}, err
		}

		share := fundedShare{funding: &cust.Fundings[i], version: version, month: month}

		switch f.Nature {
		case pricing.NatureHourly:
			if runHours[version.ID] == nil {
				runHours[version.ID] = make(map[string]decimal.Decimal)
			}
			remaining := version.CareHours.Sub(consumedHours).Sub(runHours[version.ID][month])
			if !remaining.IsPositive() {
				return fundedShare{}, nil
			}
			funded := decimal.Min(ev.Interval.Hours(), remaining)
			payerRate := hundred.Sub(version.CustomerParticipationRate).Div(hundred)
			share.careHours = funded
			// The payer never covers more than the event is worth.
			share.inclTaxes = decimal.Min(funded.Mul(version.UnitTTCRate).Mul(payerRate), eventIncl)
			runHours[version.ID][month] = runHours[version.ID][month].Add(funded)

		case pricing.NatureFixed:
			remaining := version.Amount.Sub(consumedAmount).Sub(runAmount[version.ID])
			if !remaining.IsPositive() {
				return fundedShare{}, nil
			}
			share.inclTaxes = decimal.Min(eventIncl, remaining)
			runAmount[version.ID] = runAmount[version.ID].Add(share.inclTaxes)
		}

		return share, nil
	}
	return fundedShare{}, nil
}

// exclFromIncl removes VAT (a percentage) from a tax-inclusive amount.
func exclFromIncl(incl, vat decimal.Decimal) decimal.Decimal {
	if vat.IsZero() {
		return incl
	}
	return incl.Div(decimal.NewFromInt(1).Add(vat.Div(hundred)))
}

// MonthBucket renders the funding-history month key for a date.
func MonthBucket(t time.Time) string { return t.Format("2006-01") }
